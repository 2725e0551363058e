package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/arechgie/webarchive/internal/archive"
)

// SessionStore provides an in-memory archive.SessionStore for
// development and testing.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]archive.Session
}

// NewSessionStore constructs an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]archive.Session)}
}

// CreateSession stores a new session. The ID must be unused.
func (s *SessionStore) CreateSession(_ context.Context, session archive.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

// GetSession fetches a session by ID.
func (s *SessionStore) GetSession(_ context.Context, id string) (archive.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return archive.Session{}, archive.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

// UpdateSession replaces a session's stored state.
func (s *SessionStore) UpdateSession(_ context.Context, session archive.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return archive.ErrSessionNotFound
	}
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

// ActiveSessions lists sessions still in the active status.
func (s *SessionStore) ActiveSessions(_ context.Context) ([]archive.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []archive.Session
	for _, session := range s.sessions {
		if session.Status == archive.StatusActive {
			out = append(out, cloneSession(session))
		}
	}
	return out, nil
}

func cloneSession(session archive.Session) archive.Session {
	out := session
	out.Seeds = append([]string(nil), session.Seeds...)
	if session.Finished != nil {
		finished := *session.Finished
		out.Finished = &finished
	}
	return out
}
