// Package api hosts the worker's operator HTTP surface:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the current and last job as seen by the progress hub.
package api
