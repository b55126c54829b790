// Package sinks implements progress consumers: a structured log sink and
// the in-memory status tracker served by the operator API.
package sinks
