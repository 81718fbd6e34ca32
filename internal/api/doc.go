// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls to queue a harvest and GET /v1/crawls/{job_id} for its report.
//   - GET /v1/records/{title_id} for a stored title.
package api
