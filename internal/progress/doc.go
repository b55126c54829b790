// Package progress carries runner milestones (job start/finish, per-item
// outcomes, breaks, browser restarts) through a non-blocking batching hub
// to pluggable sinks such as the log and the status tracker behind the
// operator API.
package progress
