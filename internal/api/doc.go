// Package api hosts the operational HTTP server, middleware, and REST
// handlers. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/pipeline/run and /v1/jobs/{job}/run to enqueue runs.
//   - GET /v1/runs and /v1/runs/{run_id} for run history.
//   - POST /v1/tracked to register a product by URL or code.
//   - GET /v1/products/{product_id}/history for listings and price samples.
package api
