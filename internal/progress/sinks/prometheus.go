package sinks

import (
	"context"

	"github.com/arechgie/webarchive/internal/metrics"
	"github.com/arechgie/webarchive/internal/progress"
)

// MetricsSink forwards session events to the process-wide Prometheus
// collectors. It is stateless and safe for concurrent use.
type MetricsSink struct{}

// NewMetricsSink returns a sink backed by the metrics package.
func NewMetricsSink() *MetricsSink {
	return &MetricsSink{}
}

// Consume updates the collectors from the batch.
func (s *MetricsSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Kind {
		case progress.KindSessionStart:
			metrics.ObserveSession("active")
		case progress.KindSessionDone:
			metrics.ObserveSession("completed")
		case progress.KindSessionError:
			metrics.ObserveSession("failed")
		case progress.KindSessionCancel:
			metrics.ObserveSession("canceled")
		case progress.KindPageArchived:
			metrics.ObserveFetch(evt.Host, "archived", evt.Dur)
		case progress.KindPageDeduped:
			metrics.ObserveFetch(evt.Host, "deduped", evt.Dur)
		case progress.KindPageFailed:
			metrics.ObserveFetch(evt.Host, "failed", evt.Dur)
		case progress.KindPageRetried:
			metrics.ObserveFetch(evt.Host, "retried", evt.Dur)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *MetricsSink) Close(context.Context) error {
	return nil
}
