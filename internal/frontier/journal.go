package frontier

import (
	"context"
	"time"

	"github.com/arechgie/webarchive/internal/archive"
)

// Journal durably records frontier transitions so a crashed crawl can
// resume without re-fetching confirmed URLs. Implementations must be
// safe for concurrent use.
type Journal interface {
	// RecordEnqueued logs a newly accepted entry.
	RecordEnqueued(ctx context.Context, entry archive.FrontierEntry) error
	// RecordDispatched logs that a key was handed to a fetcher.
	RecordDispatched(ctx context.Context, key string) error
	// RecordResolved logs a terminal outcome for a key.
	RecordResolved(ctx context.Context, key string, at time.Time) error
	// RecordRetry logs a failed attempt scheduled for retry.
	RecordRetry(ctx context.Context, key string, attempts int, nextEligible time.Time) error
	// Restore returns all unresolved entries (pending or dispatched but
	// unconfirmed) plus the resolution times of confirmed keys.
	Restore(ctx context.Context) ([]archive.FrontierEntry, map[string]time.Time, error)
	// Close releases journal resources.
	Close() error
}

// NopJournal discards all records. Used when durability is not needed
// (tests, memory-only runs).
type NopJournal struct{}

// RecordEnqueued implements Journal.
func (NopJournal) RecordEnqueued(context.Context, archive.FrontierEntry) error { return nil }

// RecordDispatched implements Journal.
func (NopJournal) RecordDispatched(context.Context, string) error { return nil }

// RecordResolved implements Journal.
func (NopJournal) RecordResolved(context.Context, string, time.Time) error { return nil }

// RecordRetry implements Journal.
func (NopJournal) RecordRetry(context.Context, string, int, time.Time) error { return nil }

// Restore implements Journal.
func (NopJournal) Restore(context.Context) ([]archive.FrontierEntry, map[string]time.Time, error) {
	return nil, nil, nil
}

// Close implements Journal.
func (NopJournal) Close() error { return nil }
