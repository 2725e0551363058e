// Package app wires the long-lived services together and owns the
// lifecycle of per-session crawls.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/arechgie/webarchive/internal/archive"
	"github.com/arechgie/webarchive/internal/clock/system"
	"github.com/arechgie/webarchive/internal/config"
	"github.com/arechgie/webarchive/internal/contentstore"
	"github.com/arechgie/webarchive/internal/dispatcher"
	collyfetcher "github.com/arechgie/webarchive/internal/fetcher/colly"
	"github.com/arechgie/webarchive/internal/frontier"
	"github.com/arechgie/webarchive/internal/hash/sha256"
	"github.com/arechgie/webarchive/internal/id/uuid"
	"github.com/arechgie/webarchive/internal/index"
	"github.com/arechgie/webarchive/internal/metrics"
	"github.com/arechgie/webarchive/internal/policy/ratelimit"
	"github.com/arechgie/webarchive/internal/progress"
	"github.com/arechgie/webarchive/internal/progress/sinks"
	"github.com/arechgie/webarchive/internal/session"
	"github.com/arechgie/webarchive/internal/storage/memory"
	"github.com/arechgie/webarchive/internal/storage/postgres"
	"github.com/arechgie/webarchive/internal/storage/sqlite"
	"github.com/arechgie/webarchive/internal/worker"
)

// App holds the shared services and runs session crawls.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	sessions  *session.Coordinator
	indexer   *index.Indexer
	content   archive.ContentStore
	resources archive.ResourceStore
	store     archive.SessionStore
	fetcher   archive.Fetcher
	limiter   *ratelimit.Limiter
	hub       *progress.Hub
	ids       archive.IDGenerator
	clock     archive.Clock
	freshness time.Duration

	pool *pgxpool.Pool
}

// New initializes every service from configuration. It fails fast when
// a backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	ids := uuid.New()
	clock := system.New()
	hasher := sha256.New()

	a := &App{
		cfg:    cfg,
		logger: logger,
		ids:    ids,
		clock:  clock,
	}

	freshness, err := cfg.Freshness()
	if err != nil {
		return nil, err
	}
	a.freshness = freshness

	switch cfg.Storage.Provider {
	case "memory":
		a.store = memory.NewSessionStore()
		a.resources = memory.NewResourceStore(ids)
		a.content = contentstore.NewMemory(cfg.Storage.CompressMinBytes, hasher, clock)
	case "local":
		local, err := contentstore.NewLocal(contentstore.Config{
			BaseDir:          cfg.Storage.BaseDir,
			CompressMinBytes: cfg.Storage.CompressMinBytes,
		}, hasher, clock)
		if err != nil {
			return nil, fmt.Errorf("open content store: %w", err)
		}
		a.content = local
		a.store = memory.NewSessionStore()
		a.resources = memory.NewResourceStore(ids)
	case "postgres":
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{DSN: cfg.Storage.DSN})
		if err != nil {
			return nil, err
		}
		a.pool = pool
		sessionStore, err := postgres.NewSessionStore(pool)
		if err != nil {
			return nil, err
		}
		resourceStore, err := postgres.NewResourceStore(pool, ids)
		if err != nil {
			return nil, err
		}
		a.store = sessionStore
		a.resources = resourceStore
		local, err := contentstore.NewLocal(contentstore.Config{
			BaseDir:          cfg.Storage.BaseDir,
			CompressMinBytes: cfg.Storage.CompressMinBytes,
		}, hasher, clock)
		if err != nil {
			return nil, fmt.Errorf("open content store: %w", err)
		}
		a.content = local
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}

	logSink, err := sinks.NewSessionLogSink(cfg.Sessions.LogsPath, logger)
	if err != nil {
		return nil, err
	}
	a.hub = progress.NewHub(progress.Config{Logger: logger}, logSink, sinks.NewMetricsSink())

	a.sessions = session.New(session.Config{
		LogsDir:         cfg.Sessions.LogsPath,
		DefaultMaxDepth: cfg.Crawler.MaxDepthDefault,
		DefaultMaxPages: cfg.Crawler.MaxPagesDefault,
	}, a.store, ids, clock, a.hub, logger)

	a.indexer = index.New(a.resources, a.content, ids, logger)
	a.limiter = ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Crawler.PerHostRPS,
		DefaultBurst: cfg.Crawler.PerHostBurst,
	})
	a.fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
	})

	logger.Info("application services ready",
		zap.String("storage_provider", cfg.Storage.Provider),
		zap.Int("concurrency", cfg.Crawler.Concurrency))
	return a, nil
}

// Sessions exposes the session coordinator.
func (a *App) Sessions() *session.Coordinator {
	return a.sessions
}

// Index exposes the resource indexer.
func (a *App) Index() *index.Indexer {
	return a.indexer
}

// Content exposes the content store for backup listings.
func (a *App) Content() archive.ContentStore {
	return a.content
}

// StartCrawl creates a session and launches its crawl in the
// background. The crawl outlives the request context; stopping it goes
// through StopCrawl.
func (a *App) StartCrawl(ctx context.Context, userID string, seeds []string, opts archive.SessionOptions) (archive.Session, error) {
	sess, err := a.sessions.Start(ctx, userID, seeds, opts)
	if err != nil {
		return archive.Session{}, err
	}
	if err := a.launchCrawl(sess, sess.Seeds, nil); err != nil {
		if finishErr := a.sessions.Finish(ctx, sess.ID, archive.StatusFailed, err.Error()); finishErr != nil {
			a.logger.Error("fail session after launch error", zap.String("session_id", sess.ID), zap.Error(finishErr))
		}
		return archive.Session{}, err
	}
	return sess, nil
}

// StopCrawl cancels an active session.
func (a *App) StopCrawl(ctx context.Context, id string) error {
	return a.sessions.Cancel(ctx, id)
}

// Resume restarts crawls for sessions left active by a previous run,
// re-queuing unconfirmed frontier entries from their journals.
func (a *App) Resume(ctx context.Context) error {
	active, err := a.store.ActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}
	for _, sess := range active {
		a.sessions.Adopt(sess)
		journal, err := a.openJournal(sess.ID)
		if err != nil {
			a.logger.Error("resume session journal", zap.String("session_id", sess.ID), zap.Error(err))
			continue
		}
		if err := a.launchCrawl(sess, sess.Seeds, journal); err != nil {
			a.logger.Error("resume session", zap.String("session_id", sess.ID), zap.Error(err))
			continue
		}
		a.logger.Info("session resumed", zap.String("session_id", sess.ID))
	}
	return nil
}

func (a *App) launchCrawl(sess archive.Session, seeds []string, journal frontier.Journal) error {
	if journal == nil {
		var err error
		journal, err = a.openJournal(sess.ID)
		if err != nil {
			return err
		}
	}
	// A session-level delay overrides the shared per-host politeness.
	limiter := a.limiter
	if sess.Options.DelaySeconds > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   1 / float64(sess.Options.DelaySeconds),
			DefaultBurst: 1,
		})
	}
	f := frontier.New(frontier.Config{
		Freshness:    a.freshness,
		HostReady:    limiter.NextReady,
		LastArchived: a.resources.LastFetched,
		Logger:       a.logger,
	}, journal)
	if err := f.Recover(context.Background()); err != nil {
		return fmt.Errorf("recover frontier: %w", err)
	}

	workers := make([]*worker.Worker, 0, a.cfg.Crawler.Concurrency)
	wcfg := worker.Config{
		MaxDepth:       sess.Options.MaxDepth,
		MaxPages:       sess.Options.MaxPages,
		MaxRetries:     a.cfg.Crawler.MaxRetries,
		FetchTimeout:   a.cfg.FetchTimeout(),
		BackoffInitial: a.cfg.BackoffInitial(),
		BackoffMax:     a.cfg.BackoffMax(),
	}
	concurrency := a.cfg.Crawler.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		workers = append(workers, worker.New(
			f, a.fetcher, a.content, a.indexer, a.sessions,
			limiter, a.clock, wcfg, a.logger))
	}
	d := dispatcher.New(f, workers, a.logger)

	if len(seeds) > 0 {
		if err := d.Seed(context.Background(), sess.ID, seeds); err != nil && f.Pending() == 0 {
			journal.Close()
			return err
		}
	}

	crawlCtx, cancel := context.WithCancel(context.Background())
	if err := a.sessions.BindCancel(sess.ID, cancel); err != nil {
		cancel()
		journal.Close()
		return err
	}
	go a.runCrawl(crawlCtx, cancel, sess.ID, d, journal)
	return nil
}

func (a *App) runCrawl(ctx context.Context, cancel context.CancelFunc, sessionID string, d *dispatcher.Dispatcher, journal frontier.Journal) {
	defer cancel()
	defer func() {
		if cerr := journal.Close(); cerr != nil {
			a.logger.Warn("close frontier journal", zap.String("session_id", sessionID), zap.Error(cerr))
		}
	}()

	err := d.Run(ctx)

	finishCtx, finishCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer finishCancel()
	switch {
	case err != nil && errors.Is(err, archive.ErrStorageUnavailable):
		if ferr := a.sessions.Finish(finishCtx, sessionID, archive.StatusFailed, err.Error()); ferr != nil {
			a.logger.Error("fail session", zap.String("session_id", sessionID), zap.Error(ferr))
		}
	case ctx.Err() != nil:
		// Canceled by StopCrawl, which already finished the session.
	default:
		if ferr := a.sessions.Finish(finishCtx, sessionID, archive.StatusCompleted, ""); ferr != nil {
			a.logger.Error("complete session", zap.String("session_id", sessionID), zap.Error(ferr))
		}
	}
}

func (a *App) openJournal(sessionID string) (frontier.Journal, error) {
	dir := a.cfg.Storage.FrontierPath
	if dir == "" {
		return frontier.NopJournal{}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create frontier dir: %w", err)
	}
	journal, err := sqlite.NewJournal(filepath.Join(dir, sessionID+".db"))
	if err != nil {
		return nil, fmt.Errorf("open frontier journal: %w", err)
	}
	return journal, nil
}

// Close shuts down the event hub and persistence backends.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			firstErr = err
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return firstErr
}
