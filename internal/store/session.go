package store

import (
	"sync"

	"navload/internal/entity"
)

type sessionKey struct {
	typ string
	key any
}

// Session is an identity map: while tracking is enabled every fetched record
// is resolved to one instance per (type, primary key).
type Session struct {
	mu      sync.Mutex
	entries map[sessionKey]any
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{entries: make(map[sessionKey]any)}
}

// Attach registers rec and returns the tracked instance for its key, which
// is rec itself unless the key was already tracked. added reports whether a
// new entry was created.
func (s *Session) Attach(t *entity.Type, rec any) (tracked any, added bool) {
	key, ok := t.KeyOf(rec)
	if !ok {
		return rec, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := sessionKey{typ: t.Name(), key: key}
	if existing, found := s.entries[k]; found {
		return existing, false
	}
	s.entries[k] = rec
	return rec, true
}

// Lookup returns the tracked instance for key, if any.
func (s *Session) Lookup(t *entity.Type, key any) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.entries[sessionKey{typ: t.Name(), key: key}]
	return rec, ok
}

// TrackedCount returns the number of tracked entries.
func (s *Session) TrackedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear detaches every entry and returns how many were dropped.
func (s *Session) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = make(map[sessionKey]any)
	return n
}
