// Package contentstore holds passthrough payloads between the moment a trik
// returns them and the moment the user-facing channel redeems them. The
// agent only ever sees the receipt reference; content leaves the store on the
// first successful take, or silently at TTL. There is no enumeration API.
package contentstore

import (
	"sync"
	"time"

	"github.com/Molefas/trikhub/internal/common/uuid"
	"github.com/Molefas/trikhub/pkg/api"
)

// DefaultTTL is how long an unredeemed payload survives.
const DefaultTTL = 10 * time.Minute

// entry is one stored payload keyed by its receipt reference.
type entry struct {
	trikID    string
	action    string
	content   api.PassthroughContent
	createdAt time.Time
	expiresAt time.Time
}

// Store is the in-memory passthrough content store. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration

	// now is replaceable for expiry tests.
	now func() time.Time
}

// NewStore creates a store with the given TTL (DefaultTTL when zero).
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		entries: make(map[string]*entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Put stores a payload and mints a fresh opaque receipt reference.
func (s *Store) Put(trikID, action string, content api.PassthroughContent) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	ref := uuid.NewString()
	now := s.now()
	s.entries[ref] = &entry{
		trikID:    trikID,
		action:    action,
		content:   content,
		createdAt: now,
		expiresAt: now.Add(s.ttl),
	}
	return ref
}

// Take removes and returns the payload for ref. Returns false when the
// reference is unknown, already redeemed, or expired.
func (s *Store) Take(ref string) (api.PassthroughContent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[ref]
	if !ok {
		return api.PassthroughContent{}, false
	}
	delete(s.entries, ref)
	if !s.now().Before(e.expiresAt) {
		return api.PassthroughContent{}, false
	}
	return e.content, true
}

// Peek returns content-free metadata for a live reference.
func (s *Store) Peek(ref string) (contentType string, metadata map[string]any, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[ref]
	if !exists || !s.now().Before(e.expiresAt) {
		return "", nil, false
	}
	return e.content.ContentType, e.content.Metadata, true
}

// Has reports whether ref is live.
func (s *Store) Has(ref string) bool {
	_, _, ok := s.Peek(ref)
	return ok
}

// Clear drops every stored payload.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
}

// sweepLocked drops expired payloads. Caller holds the lock.
func (s *Store) sweepLocked() {
	now := s.now()
	for ref, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, ref)
		}
	}
}
