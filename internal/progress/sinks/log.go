package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/arechgie/webarchive/internal/progress"
)

// SessionLogSink appends each event as a JSON line to the owning
// session's log file under the configured directory. Files are opened
// lazily on first event and closed when a terminal event arrives.
type SessionLogSink struct {
	dir    string
	logger *zap.Logger

	mu    sync.Mutex
	files map[string]*os.File
}

// NewSessionLogSink creates the log directory if needed and returns a
// sink writing to <dir>/<sessionID>.log.
func NewSessionLogSink(dir string, logger *zap.Logger) (*SessionLogSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session log dir: %w", err)
	}
	return &SessionLogSink{
		dir:    dir,
		logger: logger,
		files:  make(map[string]*os.File),
	}, nil
}

// LogPath returns the log file path for a session ID.
func (s *SessionLogSink) LogPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".log")
}

// Consume appends the batch to the per-session log files.
func (s *SessionLogSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		if err := s.appendLocked(evt); err != nil {
			return err
		}
		if evt.Terminal() {
			s.closeLocked(evt.SessionID)
		}
	}
	return nil
}

func (s *SessionLogSink) appendLocked(evt progress.Event) error {
	file, ok := s.files[evt.SessionID]
	if !ok {
		var err error
		file, err = os.OpenFile(s.LogPath(evt.SessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open session log: %w", err)
		}
		s.files[evt.SessionID] = file
	}
	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode session event: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append session log: %w", err)
	}
	return nil
}

func (s *SessionLogSink) closeLocked(sessionID string) {
	file, ok := s.files[sessionID]
	if !ok {
		return
	}
	if err := file.Close(); err != nil {
		s.logger.Warn("close session log", zap.String("session_id", sessionID), zap.Error(err))
	}
	delete(s.files, sessionID)
}

// Close flushes and closes every open session log.
func (s *SessionLogSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.files {
		s.closeLocked(id)
	}
	return nil
}
