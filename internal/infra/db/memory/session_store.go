package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/ledgerops/report-relay/internal/domain/session"
)

// SessionStore holds the session singleton in memory. Like the database
// stores it can never hold more than one record.
type SessionStore struct {
	mu      sync.Mutex
	current *domain.Session

	// ReplaceCalls counts whole-record writes, for assertions.
	ReplaceCalls int
}

func NewSessionStore() *SessionStore {
	return &SessionStore{}
}

func (s *SessionStore) Load(_ context.Context) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, domain.ErrNotFound
	}
	cp := *s.current
	return &cp, nil
}

func (s *SessionStore) Replace(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.current = &cp
	s.ReplaceCalls++
	return nil
}

func (s *SessionStore) MarkExpired(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return domain.ErrNotFound
	}
	// the epoch is before any clock this process will ever read
	s.current.ExpiresAt = time.Unix(0, 0).UTC()
	s.current.UpdatedAt = time.Now().UTC()
	return nil
}
