// Package main hosts the archival service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and session management endpoints. Requests are
//     validated, normalized into session options, and persisted via the SessionStore before crawling begins.
//   - Frontier & workers: each session gets its own deduplicating URL frontier backed by a SQLite journal. A fixed
//     worker pool sized by config.Crawler.Concurrency drains it; context cancellation stops workers cleanly.
//   - Fetch pipeline: workers wait on per-host rate limiters, fetch pages via the Colly-based fetcher (with optional
//     robots.txt enforcement), classify failures, and retry transient errors with exponential backoff.
//   - Persistence: page bodies are content-addressed by SHA-256 and reference counted in the blob store
//     (memory/local disk). Resource and snapshot metadata lives in memory or Postgres. Progress events are batched
//     through the event hub into per-session log files and Prometheus counters.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via middleware and the /metrics handler.
//
// Operational notes:
//   - Shutdown is coordinated via context cancellation propagated from main through the dispatcher to workers.
//     In-flight sessions survive restarts: their frontier journals are replayed on startup by app.Resume.
//   - Observability: zap logs carry session IDs and URLs at key transitions; Prometheus counters/histograms track
//     API and crawl activity.
//
// Run locally: go run ./cmd/webarchive serve --config config.yaml (or rely solely on WEBARCHIVE_* env overrides).
package main
