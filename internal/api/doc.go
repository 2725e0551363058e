// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/sessions and /v1/sessions/{id}/stop for crawl control.
//   - GET /v1/resources and /v1/snapshots/{id}/content for archive reads.
//   - GET /v1/backup/hashes for incremental backup enumeration.
package api
