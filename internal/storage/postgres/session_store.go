// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arechgie/webarchive/internal/archive"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PoolConfig controls the Postgres connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// NewPool builds a pgx pool from the config.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// SessionStore persists crawl sessions in Postgres.
type SessionStore struct {
	pool querier
}

// NewSessionStore constructs a SessionStore over an existing pool. The
// pool parameter is an interface so tests can substitute pgxmock.
func NewSessionStore(pool querier) (*SessionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SessionStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *SessionStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const sessionColumns = `id, user_id, status, started_at, finished_at, log_path, seeds, options,
	pages_fetched, bytes_stored, errors, retries`

// CreateSession inserts a new session row.
func (s *SessionStore) CreateSession(ctx context.Context, session archive.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session id is required")
	}
	seeds, err := json.Marshal(session.Seeds)
	if err != nil {
		return fmt.Errorf("marshal seeds: %w", err)
	}
	opts, err := json.Marshal(session.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	query := `
INSERT INTO sessions (` + sessionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err = s.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		string(session.Status),
		session.Started,
		session.Finished,
		session.LogPath,
		seeds,
		opts,
		session.Counters.PagesFetched,
		session.Counters.BytesStored,
		session.Counters.Errors,
		session.Counters.Retries,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession fetches a session by ID.
func (s *SessionStore) GetSession(ctx context.Context, id string) (archive.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	session, err := scanSession(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return archive.Session{}, archive.ErrSessionNotFound
	}
	if err != nil {
		return archive.Session{}, fmt.Errorf("select session: %w", err)
	}
	return session, nil
}

// UpdateSession replaces a session's mutable columns.
func (s *SessionStore) UpdateSession(ctx context.Context, session archive.Session) error {
	query := `
UPDATE sessions
SET status = $2, finished_at = $3,
	pages_fetched = $4, bytes_stored = $5, errors = $6, retries = $7
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		session.ID,
		string(session.Status),
		session.Finished,
		session.Counters.PagesFetched,
		session.Counters.BytesStored,
		session.Counters.Errors,
		session.Counters.Retries,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return archive.ErrSessionNotFound
	}
	return nil
}

// ActiveSessions lists sessions still marked active, oldest first.
func (s *SessionStore) ActiveSessions(ctx context.Context) ([]archive.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE status = $1 ORDER BY started_at`
	rows, err := s.pool.Query(ctx, query, string(archive.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("select active sessions: %w", err)
	}
	defer rows.Close()

	var out []archive.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func scanSession(row pgx.Row) (archive.Session, error) {
	var (
		session archive.Session
		status  string
		seeds   []byte
		opts    []byte
	)
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&status,
		&session.Started,
		&session.Finished,
		&session.LogPath,
		&seeds,
		&opts,
		&session.Counters.PagesFetched,
		&session.Counters.BytesStored,
		&session.Counters.Errors,
		&session.Counters.Retries,
	)
	if err != nil {
		return archive.Session{}, err
	}
	session.Status = archive.SessionStatus(status)
	if len(seeds) > 0 {
		if err := json.Unmarshal(seeds, &session.Seeds); err != nil {
			return archive.Session{}, fmt.Errorf("unmarshal seeds: %w", err)
		}
	}
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &session.Options); err != nil {
			return archive.Session{}, fmt.Errorf("unmarshal options: %w", err)
		}
	}
	return session, nil
}
