// Package session coordinates crawl session lifecycles: creation,
// progress accounting, and exactly-once terminal transitions.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/arechgie/webarchive/internal/archive"
	"github.com/arechgie/webarchive/internal/clock/system"
	"github.com/arechgie/webarchive/internal/progress"
)

// Config carries coordinator settings and per-session defaults.
type Config struct {
	// LogsDir is where per-session append-only logs live.
	LogsDir string
	// DefaultMaxDepth applies when a caller passes zero.
	DefaultMaxDepth int
	// DefaultMaxPages applies when a caller passes zero.
	DefaultMaxPages int
}

// Coordinator owns the session state machine. A session is active from
// Start until exactly one Finish transition; later Finish calls are
// no-ops so concurrent completion paths cannot double-close a session.
type Coordinator struct {
	cfg     Config
	store   archive.SessionStore
	ids     archive.IDGenerator
	clock   archive.Clock
	emitter progress.Emitter
	logger  *zap.Logger

	mu     sync.Mutex
	active map[string]*running
}

type running struct {
	session archive.Session
	cancel  context.CancelFunc

	pages   atomic.Int64
	bytes   atomic.Int64
	errs    atomic.Int64
	retries atomic.Int64
}

// New constructs a Coordinator over the given session store. A nil
// clock falls back to the wall clock.
func New(cfg Config, store archive.SessionStore, ids archive.IDGenerator, clock archive.Clock, emitter progress.Emitter, logger *zap.Logger) *Coordinator {
	if clock == nil {
		clock = system.New()
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:     cfg,
		store:   store,
		ids:     ids,
		clock:   clock,
		emitter: emitter,
		logger:  logger,
		active:  make(map[string]*running),
	}
}

// Start registers a new active session for the given seeds and persists
// it. Seeds must be non-empty and normalizable.
func (c *Coordinator) Start(ctx context.Context, userID string, seeds []string, opts archive.SessionOptions) (archive.Session, error) {
	if len(seeds) == 0 {
		return archive.Session{}, errors.New("at least one seed url is required")
	}
	normalized := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		key, err := archive.NormalizeURL(seed)
		if err != nil {
			return archive.Session{}, fmt.Errorf("seed %q: %w", seed, err)
		}
		normalized = append(normalized, key)
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = c.cfg.DefaultMaxDepth
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = c.cfg.DefaultMaxPages
	}
	if opts.DelaySeconds < 0 {
		opts.DelaySeconds = 0
	}

	id, err := c.ids.NewID()
	if err != nil {
		return archive.Session{}, fmt.Errorf("allocate session id: %w", err)
	}
	now := c.clock.Now()
	session := archive.Session{
		ID:      id,
		UserID:  userID,
		Status:  archive.StatusActive,
		Started: now,
		LogPath: filepath.Join(c.cfg.LogsDir, id+".log"),
		Seeds:   normalized,
		Options: opts,
	}
	if err := c.store.CreateSession(ctx, session); err != nil {
		return archive.Session{}, fmt.Errorf("persist session: %w", err)
	}

	c.mu.Lock()
	c.active[id] = &running{session: session}
	c.mu.Unlock()

	c.emitter.Emit(progress.Event{
		SessionID: id,
		TS:        now,
		Kind:      progress.KindSessionStart,
		Note:      fmt.Sprintf("seeds=%d depth=%d", len(normalized), opts.MaxDepth),
	})
	c.logger.Info("session started",
		zap.String("session_id", id),
		zap.String("user_id", userID),
		zap.Int("seeds", len(normalized)))
	return session, nil
}

// Adopt re-registers a persisted active session after a restart so
// counters and cancellation work again. Sessions already tracked, or
// not in the active state, are left alone.
func (c *Coordinator) Adopt(sess archive.Session) {
	if sess.Status != archive.StatusActive {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[sess.ID]; ok {
		return
	}
	run := &running{session: sess}
	run.pages.Store(sess.Counters.PagesFetched)
	run.bytes.Store(sess.Counters.BytesStored)
	run.errs.Store(sess.Counters.Errors)
	run.retries.Store(sess.Counters.Retries)
	c.active[sess.ID] = run
}

// BindCancel attaches the cancel function for the session's crawl
// context so Cancel can stop in-flight work.
func (c *Coordinator) BindCancel(id string, cancel context.CancelFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	run, ok := c.active[id]
	if !ok {
		return archive.ErrSessionNotActive
	}
	run.cancel = cancel
	return nil
}

// RecordEvent accounts a crawl event against its session's counters and
// forwards it to the event hub. Events for unknown sessions are
// forwarded but not counted.
func (c *Coordinator) RecordEvent(evt progress.Event) {
	c.mu.Lock()
	run := c.active[evt.SessionID]
	c.mu.Unlock()
	if run != nil {
		switch evt.Kind {
		case progress.KindPageArchived:
			run.pages.Add(1)
			run.bytes.Add(evt.Bytes)
		case progress.KindPageDeduped:
			run.pages.Add(1)
		case progress.KindPageFailed:
			run.errs.Add(1)
		case progress.KindPageRetried:
			run.retries.Add(1)
		}
	}
	c.emitter.Emit(evt)
}

// PagesFetched returns the live page count for an active session.
func (c *Coordinator) PagesFetched(id string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if run, ok := c.active[id]; ok {
		return run.pages.Load()
	}
	return 0
}

// Snapshot returns the session with live counters when active, or the
// persisted record otherwise.
func (c *Coordinator) Snapshot(ctx context.Context, id string) (archive.Session, error) {
	c.mu.Lock()
	run, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		return c.store.GetSession(ctx, id)
	}
	session := run.session
	session.Counters = run.countersSnapshot()
	return session, nil
}

// Finish transitions the session to the given terminal status exactly
// once, setting the end time and flushing counters. Repeat calls, and
// calls racing another completion path, are no-ops.
func (c *Coordinator) Finish(ctx context.Context, id string, status archive.SessionStatus, note string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	c.mu.Lock()
	run, ok := c.active[id]
	if ok {
		delete(c.active, id)
	}
	c.mu.Unlock()

	if !ok {
		// Already finished, or unknown. Distinguish via the store.
		session, err := c.store.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if session.Status.IsTerminal() {
			return nil
		}
		// Active in the store but not tracked here (e.g. a restart).
		now := c.clock.Now()
		session.Status = status
		session.Finished = &now
		return c.store.UpdateSession(ctx, session)
	}

	now := c.clock.Now()
	session := run.session
	session.Status = status
	session.Finished = &now
	session.Counters = run.countersSnapshot()
	if err := c.store.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("persist session finish: %w", err)
	}

	c.emitter.Emit(progress.Event{
		SessionID: id,
		TS:        now,
		Kind:      terminalKind(status),
		Dur:       now.Sub(session.Started),
		Note:      note,
	})
	c.logger.Info("session finished",
		zap.String("session_id", id),
		zap.String("status", string(status)),
		zap.Int64("pages", session.Counters.PagesFetched),
		zap.Int64("bytes", session.Counters.BytesStored),
		zap.Int64("errors", session.Counters.Errors))
	return nil
}

// Cancel stops an active session's crawl and marks it canceled. It
// returns ErrSessionNotActive when the session is unknown or already
// terminal.
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	c.mu.Lock()
	run, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		return archive.ErrSessionNotActive
	}
	if run.cancel != nil {
		run.cancel()
	}
	return c.Finish(ctx, id, archive.StatusCanceled, "canceled by operator")
}

// ActiveIDs lists the sessions this coordinator currently tracks.
func (c *Coordinator) ActiveIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	return ids
}

func (r *running) countersSnapshot() archive.SessionCounters {
	return archive.SessionCounters{
		PagesFetched: r.pages.Load(),
		BytesStored:  r.bytes.Load(),
		Errors:       r.errs.Load(),
		Retries:      r.retries.Load(),
	}
}

func terminalKind(status archive.SessionStatus) progress.Kind {
	switch status {
	case archive.StatusFailed:
		return progress.KindSessionError
	case archive.StatusCanceled:
		return progress.KindSessionCancel
	default:
		return progress.KindSessionDone
	}
}
