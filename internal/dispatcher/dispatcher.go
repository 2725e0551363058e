// Package dispatcher fans a session's crawl out over a worker pool.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arechgie/webarchive/internal/archive"
	"github.com/arechgie/webarchive/internal/worker"
)

// Dispatcher seeds the frontier and runs workers until it drains, the
// context is canceled, or a worker reports a fatal storage error.
type Dispatcher struct {
	frontier archive.Frontier
	workers  []*worker.Worker
	logger   *zap.Logger
}

// New creates a Dispatcher.
func New(frontier archive.Frontier, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		frontier: frontier,
		workers:  workers,
		logger:   logger,
	}
}

// Seed enqueues the session's starting URLs. Duplicates among the
// seeds are skipped; at least one must be accepted.
func (d *Dispatcher) Seed(ctx context.Context, sessionID string, seeds []string) error {
	accepted := 0
	for _, seed := range seeds {
		err := d.frontier.Enqueue(ctx, archive.FrontierEntry{
			URL:       seed,
			SessionID: sessionID,
		})
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, archive.ErrDuplicateURL):
			d.logger.Debug("duplicate seed skipped", zap.String("url", seed))
		default:
			return fmt.Errorf("seed %q: %w", seed, err)
		}
	}
	if accepted == 0 {
		return fmt.Errorf("no seeds accepted for session %s", sessionID)
	}
	return nil
}

// Run blocks until every worker returns. A fatal worker error cancels
// the rest of the pool and is returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, wk := range d.workers {
		wk := wk
		g.Go(func() error {
			return wk.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	return nil
}
