// Package api hosts the admin HTTP server for a running harvest. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status, /v1/stats and /v1/records to observe the run.
//   - GET /v1/events for recent progress events.
//   - POST /v1/stop to request a graceful stop.
package api
