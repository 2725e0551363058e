// Package worker implements the crawl pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arechgie/webarchive/internal/archive"
	"github.com/arechgie/webarchive/internal/metrics"
	"github.com/arechgie/webarchive/internal/progress"
)

// Config controls Worker behavior for one session's crawl.
type Config struct {
	// MaxDepth bounds link-following; seeds are depth 0.
	MaxDepth int
	// MaxPages bounds terminal page outcomes for the session.
	MaxPages int
	// MaxRetries bounds fetch attempts per URL.
	MaxRetries int
	// FetchTimeout bounds a single fetch attempt.
	FetchTimeout time.Duration
	// BackoffInitial is the first retry delay; it doubles per attempt.
	BackoffInitial time.Duration
	// BackoffMax caps the retry delay.
	BackoffMax time.Duration
}

// Archiver records one successful fetch in the resource catalog.
type Archiver interface {
	Archive(ctx context.Context, sessionID, rawURL string, meta archive.ResourceMeta, put archive.PutResult, statusCode int, fetchedAt time.Time) (archive.Snapshot, error)
}

// Sessions is the slice of the session coordinator the worker needs.
type Sessions interface {
	RecordEvent(evt progress.Event)
	PagesFetched(id string) int64
}

// HostWaiter blocks until the host's politeness budget allows a fetch.
type HostWaiter interface {
	Wait(ctx context.Context, host string) error
}

// Worker drains the frontier: fetch, store, index, confirm. Several
// workers share one frontier; the frontier guarantees no two of them
// hold the same URL at once.
type Worker struct {
	frontier archive.Frontier
	fetcher  archive.Fetcher
	content  archive.ContentStore
	archiver Archiver
	sessions Sessions
	limiter  HostWaiter
	clock    archive.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(
	frontier archive.Frontier,
	fetcher archive.Fetcher,
	content archive.ContentStore,
	archiver Archiver,
	sessions Sessions,
	limiter HostWaiter,
	clock archive.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	return &Worker{
		frontier: frontier,
		fetcher:  fetcher,
		content:  content,
		archiver: archiver,
		sessions: sessions,
		limiter:  limiter,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run consumes frontier entries until the frontier drains, the context
// is canceled, or storage becomes unavailable. A storage failure is
// returned so the dispatcher can fail the whole session.
func (w *Worker) Run(ctx context.Context) error {
	for {
		entry, err := w.frontier.DequeueNextReady(ctx)
		if err != nil {
			if errors.Is(err, archive.ErrFrontierEmpty) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("frontier dequeue failed", zap.Error(err))
			continue
		}
		if err := w.process(ctx, entry); err != nil {
			return err
		}
	}
}

func (w *Worker) process(ctx context.Context, entry archive.FrontierEntry) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if w.pageBudgetExhausted(entry.SessionID) {
		// Confirm without fetching so the frontier drains.
		return w.confirm(ctx, entry.Key)
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, entry.Host); err != nil {
			// Canceled mid-wait; the entry stays unconfirmed and the
			// journal re-queues it on recovery.
			return nil
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	resp, err := w.fetcher.Fetch(fetchCtx, archive.FetchRequest{
		SessionID: entry.SessionID,
		URL:       entry.URL,
		Depth:     entry.Depth,
	})
	cancel()
	if err != nil {
		return w.handleFetchError(ctx, entry, err)
	}
	return w.archivePage(ctx, entry, resp)
}

func (w *Worker) handleFetchError(ctx context.Context, entry archive.FrontierEntry, fetchErr error) error {
	if ctx.Err() != nil {
		return nil
	}
	attempt := entry.Attempts + 1
	retryable := errors.Is(fetchErr, archive.ErrFetchTimeout) || errors.Is(fetchErr, archive.ErrFetchTransient)

	if retryable && attempt < w.cfg.MaxRetries {
		delay := w.backoff(entry.Attempts)
		if err := w.frontier.MarkFailed(ctx, entry.Key, delay); err != nil {
			w.logger.Error("frontier retry mark failed", zap.String("url", entry.URL), zap.Error(err))
		}
		w.sessions.RecordEvent(progress.Event{
			SessionID: entry.SessionID,
			TS:        w.clock.Now(),
			Kind:      progress.KindPageRetried,
			Host:      entry.Host,
			URL:       entry.URL,
			Attempt:   attempt,
			Note:      fetchErr.Error(),
		})
		w.logger.Debug("fetch retry scheduled",
			zap.String("url", entry.URL),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		return nil
	}

	// Permanent failure, or retries exhausted: exactly one terminal
	// failure event for this URL.
	if err := w.confirm(ctx, entry.Key); err != nil {
		return err
	}
	w.sessions.RecordEvent(progress.Event{
		SessionID: entry.SessionID,
		TS:        w.clock.Now(),
		Kind:      progress.KindPageFailed,
		Host:      entry.Host,
		URL:       entry.URL,
		Attempt:   attempt,
		Note:      fetchErr.Error(),
	})
	w.logger.Warn("fetch failed",
		zap.String("url", entry.URL),
		zap.Int("attempt", attempt),
		zap.Error(fetchErr))
	return nil
}

func (w *Worker) archivePage(ctx context.Context, entry archive.FrontierEntry, resp archive.FetchResponse) error {
	now := w.clock.Now()
	put, err := w.content.Put(ctx, resp.Body)
	if err != nil {
		return w.failSession(entry, fmt.Errorf("store content: %w", err))
	}
	if _, err := w.archiver.Archive(ctx, entry.SessionID, entry.URL, archive.MetaFromResponse(resp), put, resp.StatusCode, now); err != nil {
		return w.failSession(entry, fmt.Errorf("index page: %w", err))
	}
	if err := w.confirm(ctx, entry.Key); err != nil {
		return err
	}
	metrics.ObserveStore(put.StoredSize, put.Deduplicated)

	kind := progress.KindPageArchived
	if put.Deduplicated {
		kind = progress.KindPageDeduped
	}
	w.sessions.RecordEvent(progress.Event{
		SessionID:  entry.SessionID,
		TS:         now,
		Kind:       kind,
		Host:       entry.Host,
		URL:        entry.URL,
		Bytes:      put.StoredSize,
		StatusCode: resp.StatusCode,
		Dur:        resp.Duration,
	})

	w.enqueueLinks(ctx, entry, resp.Links)
	return nil
}

func (w *Worker) enqueueLinks(ctx context.Context, parent archive.FrontierEntry, links []string) {
	depth := parent.Depth + 1
	if depth > w.cfg.MaxDepth {
		return
	}
	for _, link := range links {
		err := w.frontier.Enqueue(ctx, archive.FrontierEntry{
			URL:       link,
			SessionID: parent.SessionID,
			Depth:     depth,
		})
		if err != nil && !errors.Is(err, archive.ErrDuplicateURL) {
			w.logger.Debug("discovered link rejected", zap.String("url", link), zap.Error(err))
		}
	}
}

func (w *Worker) confirm(ctx context.Context, key string) error {
	if err := w.frontier.MarkFetched(ctx, key); err != nil {
		w.logger.Error("frontier confirm failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

func (w *Worker) failSession(entry archive.FrontierEntry, err error) error {
	w.logger.Error("storage failure fails session",
		zap.String("session_id", entry.SessionID),
		zap.String("url", entry.URL),
		zap.Error(err))
	return fmt.Errorf("%w: %v", archive.ErrStorageUnavailable, err)
}

func (w *Worker) pageBudgetExhausted(sessionID string) bool {
	if w.cfg.MaxPages <= 0 {
		return false
	}
	return w.sessions.PagesFetched(sessionID) >= int64(w.cfg.MaxPages)
}

func (w *Worker) backoff(priorAttempts int) time.Duration {
	delay := w.cfg.BackoffInitial
	for i := 0; i < priorAttempts; i++ {
		delay *= 2
		if delay >= w.cfg.BackoffMax {
			return w.cfg.BackoffMax
		}
	}
	return delay
}
