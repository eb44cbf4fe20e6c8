package session

import (
	"context"
	"sync"
)

// Store is the persistence abstraction for the Session.
// Implementations can be in-memory, file-based, or remote; the Manager
// does not need to know which one it is given.
type Store interface {
	// Load returns the persisted session, or ErrNoSession.
	Load(ctx context.Context) (*Session, error)
	// Save replaces the persisted session.
	Save(ctx context.Context, s *Session) error
	// Clear removes the persisted session. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	mu      sync.Mutex
	session *Session
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Load implements Store.Load.
func (s *InMemoryStore) Load(_ context.Context) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, ErrNoSession
	}
	cp := *s.session
	return &cp, nil
}

// Save implements Store.Save.
func (s *InMemoryStore) Save(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.session = &cp
	return nil
}

// Clear implements Store.Clear.
func (s *InMemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	return nil
}
