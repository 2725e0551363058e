// Package progress defines the event stream emitted while a session crawls.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Kind denotes the milestone an Event records.
type Kind string

// Supported event kinds.
const (
	KindSessionStart  Kind = "SESSION_START"
	KindSessionDone   Kind = "SESSION_DONE"
	KindSessionError  Kind = "SESSION_ERROR"
	KindSessionCancel Kind = "SESSION_CANCEL"
	KindPageArchived  Kind = "PAGE_ARCHIVED"
	KindPageDeduped   Kind = "PAGE_DEDUPED"
	KindPageFailed    Kind = "PAGE_FAILED"
	KindPageRetried   Kind = "PAGE_RETRIED"
)

// Event captures a single milestone in a session's crawl.
type Event struct {
	// SessionID identifies the owning session.
	SessionID string `json:"session_id"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Kind is the milestone that occurred.
	Kind Kind `json:"kind"`
	// Host scopes page events to the fetched host.
	Host string `json:"host,omitempty"`
	// URL is the normalized page URL, when applicable.
	URL string `json:"url,omitempty"`
	// Bytes is the stored size delta for archived pages.
	Bytes int64 `json:"bytes,omitempty"`
	// StatusCode is the final HTTP status for page events.
	StatusCode int `json:"status_code,omitempty"`
	// Attempt counts fetch attempts for retry/failure events.
	Attempt int `json:"attempt,omitempty"`
	// Dur is the fetch latency for page events.
	Dur time.Duration `json:"dur,omitempty"`
	// Note carries low-volume context, typically error text.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation before an event enters the hub.
func (e Event) Validate() error {
	if e.SessionID == "" {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindSessionStart, KindSessionDone, KindSessionError, KindSessionCancel:
	case KindPageArchived, KindPageDeduped, KindPageFailed, KindPageRetried:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Kind)
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event ends its session's lifecycle.
func (e Event) Terminal() bool {
	switch e.Kind {
	case KindSessionDone, KindSessionError, KindSessionCancel:
		return true
	default:
		return false
	}
}
