// Package api hosts the status HTTP server for a running crawl. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats for a JSON snapshot of frontier and pool progress.
package api
