package archive

import "errors"

// Sentinel errors shared across subsystems. Worker-local failures are
// converted into session events; only ErrStorageUnavailable propagates
// far enough to fail a whole session.
var (
	// ErrDuplicateURL is returned by the frontier when a URL's
	// normalization key is already queued, in flight, or archived
	// within the freshness window. Non-fatal.
	ErrDuplicateURL = errors.New("duplicate url")

	// ErrFrontierEmpty signals that nothing is pending and nothing is
	// in flight, so the session can be completed.
	ErrFrontierEmpty = errors.New("frontier drained")

	// ErrFetchTimeout marks a fetch that exceeded its deadline. Retried.
	ErrFetchTimeout = errors.New("fetch timeout")

	// ErrFetchTransient marks a retryable fetch failure (5xx, network).
	ErrFetchTransient = errors.New("transient fetch error")

	// ErrFetchPermanent marks a non-retryable fetch failure (4xx-class).
	ErrFetchPermanent = errors.New("permanent fetch error")

	// ErrStorageUnavailable is fatal to the active session.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrContentNotFound means a content hash is absent from the store.
	// Never expected in normal operation.
	ErrContentNotFound = errors.New("content not found")

	// ErrResourceNotFound means no resource exists for a URL or id.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrSnapshotNotFound means no snapshot exists for an id.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrSessionNotFound means no session exists for an id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionNotActive rejects operations on terminal sessions.
	ErrSessionNotActive = errors.New("session not active")
)
