// Package api hosts the optional status server for operators. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the latest feed cycle summary.
//   - GET /v1/ledger for the processed announcement links.
package api
