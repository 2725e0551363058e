// Package archive defines core types shared across subsystems.
package archive

import (
	"net/http"
	"time"
)

// SessionStatus represents the lifecycle state of a crawl session.
type SessionStatus string

// Session status values persisted in the session store. A session is
// terminal once its status leaves StatusActive.
const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
	StatusCanceled  SessionStatus = "canceled"
)

// IsTerminal reports whether the status allows no further transitions.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// SessionCounters tracks per-session progress totals.
type SessionCounters struct {
	PagesFetched int64 `json:"pages_fetched"`
	BytesStored  int64 `json:"bytes_stored"`
	Errors       int64 `json:"errors"`
	Retries      int64 `json:"retries"`
}

// SessionOptions captures the knobs a caller may set when starting a session.
type SessionOptions struct {
	MaxDepth     int `json:"max_depth"`
	MaxPages     int `json:"max_pages"`
	DelaySeconds int `json:"delay_seconds"`
}

// Session represents the metadata persisted for each crawl session.
type Session struct {
	ID       string          `json:"id"`
	UserID   string          `json:"user_id"`
	Status   SessionStatus   `json:"status"`
	Started  time.Time       `json:"started_at"`
	Finished *time.Time      `json:"finished_at,omitempty"`
	LogPath  string          `json:"log_path"`
	Seeds    []string        `json:"seeds"`
	Options  SessionOptions  `json:"options"`
	Counters SessionCounters `json:"counters"`
}

// Compression identifies the algorithm applied to a stored payload.
type Compression string

// Compression tags recorded alongside content hashes.
const (
	CompressionNone    Compression = "none"
	CompressionGzip    Compression = "gzip"
	CompressionDeflate Compression = "deflate"
)

// Resource is the canonical record for a normalized URL. Many snapshots
// may reference one resource over time.
type Resource struct {
	ID            string            `json:"id"`
	NormalizedURL string            `json:"normalized_url"`
	Data          map[string]string `json:"data"`
	FirstSeen     time.Time         `json:"first_seen"`
	LastFetched   time.Time         `json:"last_fetched"`
}

// Snapshot records one fetch attempt's payload. Immutable once written.
type Snapshot struct {
	ID          string      `json:"id"`
	SessionID   string      `json:"session_id"`
	ResourceID  string      `json:"resource_id"`
	ContentHash string      `json:"content_hash"`
	Compression Compression `json:"compression"`
	Bytes       int64       `json:"bytes"`
	StatusCode  int         `json:"status_code"`
	FetchedAt   time.Time   `json:"fetched_at"`
}

// FrontierEntry is a URL awaiting a fetch attempt. Entries exist only
// while pending; the frontier removes them once the fetch is confirmed.
type FrontierEntry struct {
	URL          string    `json:"url"`
	Key          string    `json:"key"`
	Host         string    `json:"host"`
	SessionID    string    `json:"session_id"`
	Depth        int       `json:"depth"`
	Priority     int       `json:"priority"`
	Attempts     int       `json:"attempts"`
	Discovered   int64     `json:"discovered"`
	NextEligible time.Time `json:"next_eligible"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	SessionID string
	URL       string
	Depth     int
	Headers   http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Links      []string
	Duration   time.Duration
}

// ResourceMeta is the header/content-type mapping stored on a resource.
// Built from a fetch response; last writer wins on upsert.
type ResourceMeta map[string]string

// MetaFromResponse extracts the resource metadata recorded per fetch.
func MetaFromResponse(resp FetchResponse) ResourceMeta {
	meta := ResourceMeta{}
	if ct := resp.Headers.Get("Content-Type"); ct != "" {
		meta["content_type"] = ct
	}
	if lm := resp.Headers.Get("Last-Modified"); lm != "" {
		meta["last_modified"] = lm
	}
	if etag := resp.Headers.Get("Etag"); etag != "" {
		meta["etag"] = etag
	}
	if srv := resp.Headers.Get("Server"); srv != "" {
		meta["server"] = srv
	}
	return meta
}

// HashInfo describes one stored blob for incremental backup enumeration.
type HashInfo struct {
	Hash        string      `json:"hash"`
	Compression Compression `json:"compression"`
	Bytes       int64       `json:"bytes"`
	StoredAt    time.Time   `json:"stored_at"`
}
