// Package api hosts the HTTP server, middleware, and REST handlers that
// trigger and observe price checks. Notable routes:
//   - GET /healthz / readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/products/{product_id}/check to queue an on-demand check.
//   - POST /v1/sweeps to queue a check for every active product.
//   - POST /v1/products/{product_id}/retrain to request a model retrain.
//   - GET /v1/products/{product_id} and /history for the tracked state.
//   - GET /v1/events for a WebSocket stream of stage transitions.
package api
