package archive

import (
	"context"
	"time"
)

// Frontier is the prioritized, deduplicating queue of URLs awaiting a
// fetch attempt. All mutations go through these methods; no other
// component touches its internal state.
type Frontier interface {
	Enqueue(ctx context.Context, entry FrontierEntry) error
	DequeueNextReady(ctx context.Context) (FrontierEntry, error)
	MarkFetched(ctx context.Context, key string) error
	MarkFailed(ctx context.Context, key string, retryAfter time.Duration) error
	Pending() int
}

// ContentStore is content-addressed, deduplicating blob storage.
type ContentStore interface {
	Put(ctx context.Context, data []byte) (PutResult, error)
	Get(ctx context.Context, hash string) ([]byte, error)
	Link(ctx context.Context, hash string) error
	Release(ctx context.Context, hash string) error
	ListHashesSince(ctx context.Context, since time.Time) ([]HashInfo, error)
}

// PutResult describes where and how a payload was stored.
type PutResult struct {
	Hash             string
	Compression      Compression
	UncompressedSize int64
	StoredSize       int64
	Deduplicated     bool
}

// SessionStore persists crawl session metadata.
type SessionStore interface {
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	UpdateSession(ctx context.Context, session Session) error
	ActiveSessions(ctx context.Context) ([]Session, error)
}

// ResourceStore persists archived resources and their snapshots.
type ResourceStore interface {
	UpsertResource(ctx context.Context, normalizedURL string, meta ResourceMeta, now time.Time) (string, error)
	GetResource(ctx context.Context, normalizedURL string) (Resource, error)
	LinkSnapshot(ctx context.Context, snapshot Snapshot) error
	ListSnapshots(ctx context.Context, resourceID string) ([]Snapshot, error)
	GetSnapshot(ctx context.Context, id string) (Snapshot, error)
	LastFetched(ctx context.Context, normalizedURL string) (time.Time, bool, error)
	DeleteResource(ctx context.Context, resourceID string) ([]Snapshot, error)
}

// Fetcher fetches a URL and returns the body plus extracted links.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session/resource/snapshot IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
