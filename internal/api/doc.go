// Package api hosts the admin HTTP server. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/articles?date=YYYY-MM-DD and /v1/articles/{id} over the history store.
//   - GET /v1/runs and /v1/runs/{run_id} for per-run stage counts from the
//     progress recorder.
//   - POST /v1/runs to start a crawl pass in the background.
package api
