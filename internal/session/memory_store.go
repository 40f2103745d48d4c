package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session // by ID
	byToken  map[string]string   // token -> ID
}

// NewMemoryStore creates a new in-memory session store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		byToken:  make(map[string]string),
	}
}

func (s *MemoryStore) Insert(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[cp.ID] = &cp
	s.byToken[cp.Token] = cp.ID
	return nil
}

func (s *MemoryStore) FindActiveByToken(ctx context.Context, token string, now time.Time) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	sess := s.sessions[id]
	if sess == nil || !sess.Active || !sess.ExpiresAt.After(now) {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) UpdateLastActivity(ctx context.Context, id string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.LastActivity = t
	}
	return nil
}

func (s *MemoryStore) Deactivate(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byToken[token]; ok {
		if sess := s.sessions[id]; sess != nil {
			sess.Active = false
		}
	}
	return nil
}

func (s *MemoryStore) DeactivateAllForUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			sess.Active = false
		}
	}
	return nil
}

func (s *MemoryStore) ListActiveByUser(ctx context.Context, userID string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Session
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.Active {
			cp := *sess
			result = append(result, &cp)
		}
	}
	return result, nil
}
