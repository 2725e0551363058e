// Package frontier implements the prioritized, deduplicating queue of
// URLs awaiting a fetch attempt.
package frontier

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arechgie/webarchive/internal/archive"
	"github.com/arechgie/webarchive/internal/metrics"
)

// HostReadyFunc reports when a host next has capacity. The zero time
// means the host is ready now.
type HostReadyFunc func(host string) time.Time

// Config controls Frontier behavior.
type Config struct {
	// Freshness is the recrawl window: a resolved key may be enqueued
	// again once its resolution is older than this. Zero disables
	// recrawling.
	Freshness time.Duration
	// HostReady gates dispatch on per-host politeness. Optional.
	HostReady HostReadyFunc
	// LastArchived reports when a key was last archived by any
	// session. When set, Enqueue rejects keys archived within the
	// freshness window even if no session in this process resolved
	// them. Optional.
	LastArchived func(ctx context.Context, key string) (time.Time, bool, error)
	// Logger is optional.
	Logger *zap.Logger
}

// Frontier holds pending entries ordered breadth-first by depth, FIFO
// within a depth. A normalization key is in at most one of the pending,
// in-flight, or resolved sets, which yields the core invariant: no two
// concurrent fetches for the same key.
type Frontier struct {
	mu       sync.Mutex
	pending  entryHeap
	queued   map[string]struct{}
	inflight map[string]archive.FrontierEntry
	resolved map[string]time.Time
	seq      int64

	freshness    time.Duration
	hostReady    HostReadyFunc
	lastArchived func(ctx context.Context, key string) (time.Time, bool, error)
	journal      Journal
	logger       *zap.Logger

	// wake is closed and replaced whenever new work may be available.
	wake chan struct{}
}

// New constructs a Frontier backed by the given journal.
func New(cfg Config, journal Journal) *Frontier {
	if journal == nil {
		journal = NopJournal{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Frontier{
		queued:    make(map[string]struct{}),
		inflight:  make(map[string]archive.FrontierEntry),
		resolved:  make(map[string]time.Time),
		freshness:    cfg.Freshness,
		hostReady:    cfg.HostReady,
		lastArchived: cfg.LastArchived,
		journal:      journal,
		logger:       logger,
		wake:         make(chan struct{}),
	}
}

// Recover replays the journal after a crash: resolved keys seed the
// dedup set, and entries that were pending or dispatched-but-unconfirmed
// are re-queued.
func (f *Frontier) Recover(ctx context.Context) error {
	entries, resolved, err := f.journal.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore frontier journal: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for key, at := range resolved {
		f.resolved[key] = at
	}
	for _, entry := range entries {
		if _, dup := f.queued[entry.Key]; dup {
			continue
		}
		f.seq++
		entry.Discovered = f.seq
		f.queued[entry.Key] = struct{}{}
		heap.Push(&f.pending, entry)
	}
	if len(entries) > 0 {
		f.logger.Info("frontier recovered",
			zap.Int("requeued", len(entries)),
			zap.Int("resolved", len(resolved)),
		)
	}
	metrics.SetFrontierPending(f.pending.Len())
	return nil
}

// Enqueue adds a URL to the frontier. The entry's URL is normalized
// here; Key and Host are derived, so callers may leave them empty.
// Returns archive.ErrDuplicateURL when the key is already queued, in
// flight, or resolved within the freshness window.
func (f *Frontier) Enqueue(ctx context.Context, entry archive.FrontierEntry) error {
	key, err := archive.NormalizeURL(entry.URL)
	if err != nil {
		return fmt.Errorf("normalize %q: %w", entry.URL, err)
	}
	entry.Key = key
	entry.Host = archive.HostOf(key)
	if entry.Priority == 0 {
		entry.Priority = entry.Depth
	}

	// Consult the resource index before taking the lock: a key archived
	// by any earlier session is a duplicate until its freshness window
	// expires. Index errors only cost a redundant fetch, so log and
	// carry on.
	if f.lastArchived != nil {
		at, ok, err := f.lastArchived(ctx, key)
		if err != nil {
			f.logger.Warn("frontier recency lookup failed",
				zap.String("key", key), zap.Error(err))
		} else if ok && (f.freshness <= 0 || time.Since(at) < f.freshness) {
			return fmt.Errorf("%w: %s archived recently", archive.ErrDuplicateURL, key)
		}
	}

	f.mu.Lock()
	if err := f.checkDuplicateLocked(key); err != nil {
		f.mu.Unlock()
		return err
	}
	f.seq++
	entry.Discovered = f.seq
	f.queued[key] = struct{}{}
	heap.Push(&f.pending, entry)
	metrics.SetFrontierPending(f.pending.Len())
	f.notifyLocked()
	f.mu.Unlock()

	if err := f.journal.RecordEnqueued(ctx, entry); err != nil {
		return fmt.Errorf("journal enqueue: %w", err)
	}
	return nil
}

func (f *Frontier) checkDuplicateLocked(key string) error {
	if _, ok := f.queued[key]; ok {
		return fmt.Errorf("%w: %s already queued", archive.ErrDuplicateURL, key)
	}
	if _, ok := f.inflight[key]; ok {
		return fmt.Errorf("%w: %s in flight", archive.ErrDuplicateURL, key)
	}
	if at, ok := f.resolved[key]; ok {
		if f.freshness <= 0 || time.Since(at) < f.freshness {
			return fmt.Errorf("%w: %s already archived", archive.ErrDuplicateURL, key)
		}
		// Window expired, allow the recrawl.
		delete(f.resolved, key)
	}
	return nil
}

// DequeueNextReady blocks until an entry whose host is past its
// next-allowed-fetch-time is available, then moves it to the in-flight
// set. It returns archive.ErrFrontierEmpty when nothing is pending and
// nothing is in flight, and the context error on cancellation.
func (f *Frontier) DequeueNextReady(ctx context.Context) (archive.FrontierEntry, error) {
	for {
		f.mu.Lock()
		entry, wait, ok := f.nextReadyLocked(time.Now())
		if ok {
			delete(f.queued, entry.Key)
			f.inflight[entry.Key] = entry
			metrics.SetFrontierPending(f.pending.Len())
			f.mu.Unlock()
			if err := f.journal.RecordDispatched(ctx, entry.Key); err != nil {
				return archive.FrontierEntry{}, fmt.Errorf("journal dispatch: %w", err)
			}
			return entry, nil
		}
		if f.pending.Len() == 0 && len(f.inflight) == 0 {
			f.mu.Unlock()
			return archive.FrontierEntry{}, archive.ErrFrontierEmpty
		}
		wake := f.wake
		f.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return archive.FrontierEntry{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// nextReadyLocked pops the best entry whose own backoff has elapsed and
// whose host has capacity. Skipped entries are restored. The returned
// wait bounds how long the caller should sleep before re-checking.
func (f *Frontier) nextReadyLocked(now time.Time) (archive.FrontierEntry, time.Duration, bool) {
	const idleWait = 250 * time.Millisecond
	wait := idleWait
	var skipped []archive.FrontierEntry
	defer func() {
		for _, e := range skipped {
			heap.Push(&f.pending, e)
		}
	}()

	for f.pending.Len() > 0 {
		entry := heap.Pop(&f.pending).(archive.FrontierEntry)

		if entry.NextEligible.After(now) {
			if d := entry.NextEligible.Sub(now); d < wait {
				wait = d
			}
			skipped = append(skipped, entry)
			continue
		}
		if f.hostReady != nil {
			if ready := f.hostReady(entry.Host); ready.After(now) {
				if d := ready.Sub(now); d < wait {
					wait = d
				}
				skipped = append(skipped, entry)
				continue
			}
		}
		return entry, 0, true
	}
	return archive.FrontierEntry{}, wait, false
}

// MarkFetched confirms a terminal outcome (success or permanent
// failure) for an in-flight key. The key joins the resolved set and
// will not be dispatched again within the freshness window.
func (f *Frontier) MarkFetched(ctx context.Context, key string) error {
	now := time.Now()

	f.mu.Lock()
	if _, ok := f.inflight[key]; !ok {
		f.mu.Unlock()
		return fmt.Errorf("mark fetched: %s not in flight", key)
	}
	delete(f.inflight, key)
	f.resolved[key] = now
	f.notifyLocked()
	f.mu.Unlock()

	if err := f.journal.RecordResolved(ctx, key, now); err != nil {
		return fmt.Errorf("journal resolve: %w", err)
	}
	return nil
}

// MarkFailed returns an in-flight key to the queue with its attempt
// count bumped and a backoff before the next try.
func (f *Frontier) MarkFailed(ctx context.Context, key string, retryAfter time.Duration) error {
	f.mu.Lock()
	entry, ok := f.inflight[key]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("mark failed: %s not in flight", key)
	}
	delete(f.inflight, key)
	entry.Attempts++
	entry.NextEligible = time.Now().Add(retryAfter)
	f.queued[key] = struct{}{}
	heap.Push(&f.pending, entry)
	metrics.SetFrontierPending(f.pending.Len())
	f.notifyLocked()
	f.mu.Unlock()

	if err := f.journal.RecordRetry(ctx, key, entry.Attempts, entry.NextEligible); err != nil {
		return fmt.Errorf("journal retry: %w", err)
	}
	return nil
}

// Pending returns the number of queued entries.
func (f *Frontier) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending.Len()
}

// InFlight returns the number of dispatched, unconfirmed entries.
func (f *Frontier) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inflight)
}

func (f *Frontier) notifyLocked() {
	close(f.wake)
	f.wake = make(chan struct{})
}

// entryHeap orders entries breadth-first by depth, then by discovery
// order within a depth.
type entryHeap []archive.FrontierEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Discovered < h[j].Discovered
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(archive.FrontierEntry))
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
