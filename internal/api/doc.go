// Package api serves the indexer's read-only operator endpoints:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the latest run and per-chain counters.
//   - GET /v1/chains, /v1/chains/{chain}/indexed, and
//     /v1/chains/{chain}/directory for the on-disk outputs.
package api
