// Package api hosts the optional status server that runs next to a harvest.
// Routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the live counters of the current run.
package api
