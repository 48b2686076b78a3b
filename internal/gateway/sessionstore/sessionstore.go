// Package sessionstore keeps per-trik session state with bounded history.
// Sessions expire after a period of inactivity; history is capped with
// oldest-first eviction. Passthrough content is never recorded here.
package sessionstore

import (
	"sync"
	"time"

	"github.com/Molefas/trikhub/internal/common/uuid"
	"github.com/Molefas/trikhub/internal/manifest"
	"github.com/Molefas/trikhub/pkg/api"
)

// Defaults applied when a manifest enables sessions without bounds.
const (
	DefaultMaxDurationMs     = int64(30 * 60 * 1000)
	DefaultMaxHistoryEntries = 20
)

// Session is the gateway-side session state.
type Session struct {
	SessionID    string
	TrikID       string
	CreatedAt    time.Time
	LastActivity time.Time
	History      []api.SessionHistoryEntry

	maxDuration time.Duration
	maxHistory  int
}

// Context returns the skill-visible view of the session.
func (s *Session) Context() *api.SessionContext {
	history := make([]api.SessionHistoryEntry, len(s.History))
	copy(history, s.History)
	return &api.SessionContext{
		SessionID: s.SessionID,
		History:   history,
	}
}

// Store is the in-memory session store. Safe for concurrent use; updates are
// atomic per session id.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	// now is replaceable for expiry tests.
	now func() time.Time
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create starts a new session for a trik with the declared bounds.
func (s *Store) Create(trikID string, caps *manifest.SessionCapabilities) *Session {
	maxDurationMs := DefaultMaxDurationMs
	maxHistory := DefaultMaxHistoryEntries
	if caps != nil {
		if caps.MaxDurationMs > 0 {
			maxDurationMs = caps.MaxDurationMs
		}
		if caps.MaxHistoryEntries > 0 {
			maxHistory = caps.MaxHistoryEntries
		}
	}

	now := s.now()
	session := &Session{
		SessionID:    uuid.NewString(),
		TrikID:       trikID,
		CreatedAt:    now,
		LastActivity: now,
		maxDuration:  time.Duration(maxDurationMs) * time.Millisecond,
		maxHistory:   maxHistory,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionID] = session
	return session
}

// Get returns a live session and refreshes its activity timestamp. Expired
// sessions are dropped and reported as missing.
func (s *Store) Get(sessionID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	now := s.now()
	if now.Sub(session.LastActivity) >= session.maxDuration {
		delete(s.sessions, sessionID)
		return nil, false
	}
	session.LastActivity = now
	return session, true
}

// AppendHistory records a completed invocation. The oldest entry is evicted
// once the history is at its cap.
func (s *Store) AppendHistory(sessionID string, entry api.SessionHistoryEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	session.History = append(session.History, entry)
	if len(session.History) > session.maxHistory {
		session.History = session.History[len(session.History)-session.maxHistory:]
	}
	session.LastActivity = s.now()
	return true
}

// Delete removes a session.
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Cleanup drops expired sessions and returns how many were removed.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, session := range s.sessions {
		if now.Sub(session.LastActivity) >= session.maxDuration {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Clear removes every session.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*Session)
}

// ActiveCount returns the number of live sessions.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
