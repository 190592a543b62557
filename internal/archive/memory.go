package archive

import (
	"context"
	"sync"

	"agora/pkg/types"
)

type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*types.DebateSession
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: make(map[string]*types.DebateSession)}
}

func (s *memoryStore) Put(ctx context.Context, session *types.DebateSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		return ErrClosed
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *memoryStore) Get(ctx context.Context, id string) (*types.DebateSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return session.Clone(), nil
}

func (s *memoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = nil
	return nil
}
