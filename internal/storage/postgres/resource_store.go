package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arechgie/webarchive/internal/archive"
)

// ResourceStore persists archived resources and snapshots in Postgres.
type ResourceStore struct {
	pool querier
	ids  archive.IDGenerator
}

// NewResourceStore constructs a ResourceStore over an existing pool.
func NewResourceStore(pool querier, ids archive.IDGenerator) (*ResourceStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	return &ResourceStore{pool: pool, ids: ids}, nil
}

// Close releases the underlying pool resources.
func (s *ResourceStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertResource creates the resource row on first sight and returns
// its ID. The ON CONFLICT clause makes ID allocation exactly-once even
// under concurrent upserts of the same URL; metadata merges
// last-writer-wins.
func (s *ResourceStore) UpsertResource(ctx context.Context, normalizedURL string, meta archive.ResourceMeta, now time.Time) (string, error) {
	candidate, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("allocate resource id: %w", err)
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal resource data: %w", err)
	}
	query := `
INSERT INTO resources (id, normalized_url, data, first_seen, last_fetched)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (normalized_url) DO UPDATE
SET data = resources.data || EXCLUDED.data, last_fetched = EXCLUDED.last_fetched
RETURNING id`
	var id string
	if err := s.pool.QueryRow(ctx, query, candidate, normalizedURL, data, now).Scan(&id); err != nil {
		return "", fmt.Errorf("upsert resource: %w", err)
	}
	return id, nil
}

// GetResource fetches a resource by normalized URL.
func (s *ResourceStore) GetResource(ctx context.Context, normalizedURL string) (archive.Resource, error) {
	query := `
SELECT id, normalized_url, data, first_seen, last_fetched
FROM resources WHERE normalized_url = $1`
	var (
		resource archive.Resource
		data     []byte
	)
	err := s.pool.QueryRow(ctx, query, normalizedURL).Scan(
		&resource.ID,
		&resource.NormalizedURL,
		&data,
		&resource.FirstSeen,
		&resource.LastFetched,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return archive.Resource{}, archive.ErrResourceNotFound
	}
	if err != nil {
		return archive.Resource{}, fmt.Errorf("select resource: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &resource.Data); err != nil {
			return archive.Resource{}, fmt.Errorf("unmarshal resource data: %w", err)
		}
	}
	return resource, nil
}

const snapshotColumns = `id, session_id, resource_id, content_hash, compression, bytes, status_code, fetched_at`

// LinkSnapshot appends an immutable snapshot row.
func (s *ResourceStore) LinkSnapshot(ctx context.Context, snapshot archive.Snapshot) error {
	if snapshot.ID == "" {
		return fmt.Errorf("snapshot id is required")
	}
	query := `
INSERT INTO snapshots (` + snapshotColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := s.pool.Exec(ctx, query,
		snapshot.ID,
		snapshot.SessionID,
		snapshot.ResourceID,
		snapshot.ContentHash,
		string(snapshot.Compression),
		snapshot.Bytes,
		snapshot.StatusCode,
		snapshot.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns a resource's snapshots ordered by fetch time.
func (s *ResourceStore) ListSnapshots(ctx context.Context, resourceID string) ([]archive.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshots WHERE resource_id = $1 ORDER BY fetched_at`
	rows, err := s.pool.Query(ctx, query, resourceID)
	if err != nil {
		return nil, fmt.Errorf("select snapshots: %w", err)
	}
	defer rows.Close()

	var out []archive.Snapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// GetSnapshot fetches a snapshot by ID.
func (s *ResourceStore) GetSnapshot(ctx context.Context, id string) (archive.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshots WHERE id = $1`
	snapshot, err := scanSnapshot(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return archive.Snapshot{}, archive.ErrSnapshotNotFound
	}
	if err != nil {
		return archive.Snapshot{}, fmt.Errorf("select snapshot: %w", err)
	}
	return snapshot, nil
}

// LastFetched reports when a URL was last fetched, if ever.
func (s *ResourceStore) LastFetched(ctx context.Context, normalizedURL string) (time.Time, bool, error) {
	var at time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT last_fetched FROM resources WHERE normalized_url = $1`,
		normalizedURL).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("select last fetched: %w", err)
	}
	return at, true, nil
}

// DeleteResource removes a resource and its snapshots. Snapshot rows go
// first so the resource never dangles; the removed snapshots are
// returned for content reference release.
func (s *ResourceStore) DeleteResource(ctx context.Context, resourceID string) ([]archive.Snapshot, error) {
	snapshots, err := s.ListSnapshots(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM snapshots WHERE resource_id = $1`, resourceID); err != nil {
		return nil, fmt.Errorf("delete snapshots: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM resources WHERE id = $1`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("delete resource: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, archive.ErrResourceNotFound
	}
	return snapshots, nil
}

func scanSnapshot(row pgx.Row) (archive.Snapshot, error) {
	var (
		snapshot    archive.Snapshot
		compression string
	)
	err := row.Scan(
		&snapshot.ID,
		&snapshot.SessionID,
		&snapshot.ResourceID,
		&snapshot.ContentHash,
		&compression,
		&snapshot.Bytes,
		&snapshot.StatusCode,
		&snapshot.FetchedAt,
	)
	if err != nil {
		return archive.Snapshot{}, err
	}
	snapshot.Compression = archive.Compression(compression)
	return snapshot, nil
}
