// Package sqlite provides the SQLite-backed frontier journal used for
// crash recovery.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// SQLite database driver (CGO-free).
	_ "modernc.org/sqlite"

	"github.com/arechgie/webarchive/internal/archive"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS frontier (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT UNIQUE NOT NULL,
    url TEXT NOT NULL,
    host TEXT NOT NULL,
    session_id TEXT NOT NULL,
    depth INTEGER NOT NULL DEFAULT 0,
    priority INTEGER NOT NULL DEFAULT 0,
    attempts INTEGER NOT NULL DEFAULT 0,
    state TEXT NOT NULL DEFAULT 'queued' CHECK (state IN ('queued', 'dispatched', 'resolved')),
    next_eligible DATETIME,
    resolved_at DATETIME,
    added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_frontier_state ON frontier(state);
CREATE INDEX IF NOT EXISTS idx_frontier_state_added ON frontier(state, added_at);
`

// Journal implements frontier.Journal on a SQLite database.
type Journal struct {
	db *sql.DB
}

// NewJournal opens (or creates) the journal database at path.
func NewJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open frontier journal: %w", err)
	}

	// A single connection prevents SQLite lock conflicts.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	j := &Journal{db: db}
	if err := j.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) initSchema() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
	}
	for _, pragma := range pragmas {
		if _, err := j.db.Exec(pragma); err != nil {
			return fmt.Errorf("execute pragma %s: %w", pragma, err)
		}
	}
	if _, err := j.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("close frontier journal: %w", err)
	}
	return nil
}

// RecordEnqueued inserts the entry in queued state. Re-enqueues after
// an expired freshness window reset a previously resolved row.
func (j *Journal) RecordEnqueued(ctx context.Context, entry archive.FrontierEntry) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO frontier (key, url, host, session_id, depth, priority, attempts, state, next_eligible)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'queued', ?)
		ON CONFLICT(key) DO UPDATE SET
			url = excluded.url,
			session_id = excluded.session_id,
			depth = excluded.depth,
			priority = excluded.priority,
			attempts = 0,
			state = 'queued',
			next_eligible = excluded.next_eligible,
			resolved_at = NULL,
			added_at = CURRENT_TIMESTAMP
	`, entry.Key, entry.URL, entry.Host, entry.SessionID, entry.Depth, entry.Priority,
		entry.Attempts, nullTime(entry.NextEligible))
	if err != nil {
		return fmt.Errorf("journal insert %s: %w", entry.Key, err)
	}
	return nil
}

// RecordDispatched marks a key as handed to a fetcher.
func (j *Journal) RecordDispatched(ctx context.Context, key string) error {
	if err := j.setState(ctx, key, "dispatched"); err != nil {
		return err
	}
	return nil
}

// RecordResolved marks a terminal outcome for a key.
func (j *Journal) RecordResolved(ctx context.Context, key string, at time.Time) error {
	_, err := j.db.ExecContext(ctx, `
		UPDATE frontier SET state = 'resolved', resolved_at = ? WHERE key = ?
	`, at.UTC(), key)
	if err != nil {
		return fmt.Errorf("journal resolve %s: %w", key, err)
	}
	return nil
}

// RecordRetry returns a dispatched key to queued state with backoff.
func (j *Journal) RecordRetry(ctx context.Context, key string, attempts int, nextEligible time.Time) error {
	_, err := j.db.ExecContext(ctx, `
		UPDATE frontier SET state = 'queued', attempts = ?, next_eligible = ? WHERE key = ?
	`, attempts, nextEligible.UTC(), key)
	if err != nil {
		return fmt.Errorf("journal retry %s: %w", key, err)
	}
	return nil
}

// Restore returns all unresolved entries in discovery order plus the
// resolution times of confirmed keys. Dispatched-but-unconfirmed rows
// are returned as pending so a crashed crawl re-fetches them.
func (j *Journal) Restore(ctx context.Context) ([]archive.FrontierEntry, map[string]time.Time, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT key, url, host, session_id, depth, priority, attempts, next_eligible
		FROM frontier
		WHERE state IN ('queued', 'dispatched')
		ORDER BY priority ASC, id ASC
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("query unresolved entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []archive.FrontierEntry
	for rows.Next() {
		var entry archive.FrontierEntry
		var nextEligible sql.NullTime
		if err := rows.Scan(&entry.Key, &entry.URL, &entry.Host, &entry.SessionID,
			&entry.Depth, &entry.Priority, &entry.Attempts, &nextEligible); err != nil {
			return nil, nil, fmt.Errorf("scan frontier row: %w", err)
		}
		if nextEligible.Valid {
			entry.NextEligible = nextEligible.Time
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate frontier rows: %w", err)
	}

	resolved := make(map[string]time.Time)
	resRows, err := j.db.QueryContext(ctx, `
		SELECT key, resolved_at FROM frontier WHERE state = 'resolved'
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("query resolved keys: %w", err)
	}
	defer func() { _ = resRows.Close() }()
	for resRows.Next() {
		var key string
		var at sql.NullTime
		if err := resRows.Scan(&key, &at); err != nil {
			return nil, nil, fmt.Errorf("scan resolved row: %w", err)
		}
		if at.Valid {
			resolved[key] = at.Time
		}
	}
	if err := resRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate resolved rows: %w", err)
	}

	return entries, resolved, nil
}

func (j *Journal) setState(ctx context.Context, key, state string) error {
	_, err := j.db.ExecContext(ctx, `UPDATE frontier SET state = ? WHERE key = ?`, state, key)
	if err != nil {
		return fmt.Errorf("journal set state %s=%s: %w", key, state, err)
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
