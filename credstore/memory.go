package credstore

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-session/sessions"
)

type memoryStore struct {
	mu      sync.RWMutex
	session *sessions.Session
}

var _ Store = (*memoryStore)(nil)

func NewMemory() Store {
	return &memoryStore{}
}

func (s *memoryStore) Load(ctx context.Context) (*sessions.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, ErrNotFound
	}
	return s.session, nil
}

func (s *memoryStore) Save(ctx context.Context, sess *sessions.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = sess
	return nil
}

func (s *memoryStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	return nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}
