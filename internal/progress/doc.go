// Package progress buffers and fans out session crawl events to sinks
// (per-session log files, Prometheus) without blocking the crawl path.
package progress
