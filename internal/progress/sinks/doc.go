// Package sinks provides progress.Sink implementations: append-only
// per-session log files and Prometheus collectors.
package sinks
