package client

import "sync"

// Session is the pair the gateway holds for the logged in user
type Session struct {
	AccessToken  string
	RefreshToken string
}

// SessionStore keeps the current session between requests.
// Implementations must be safe for concurrent use.
type SessionStore interface {
	// Load current session. Second value is false if there is none
	Load() (Session, bool)

	// Store replaces the current session
	Store(s Session)

	// Clear drops the session completely
	Clear()
}

type MemorySessionStore struct {
	mu      sync.RWMutex
	session Session
	ok      bool
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

func (s *MemorySessionStore) Load() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, s.ok
}

func (s *MemorySessionStore) Store(session Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	s.ok = true
}

func (s *MemorySessionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = Session{}
	s.ok = false
}
