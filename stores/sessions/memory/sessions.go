package memory

import (
	"context"
	"fmt"
	"livecatalog-server/core"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]core.Session
	now      func() time.Time
}

func NewSessionStore() *sessionStore {
	return &sessionStore{
		sessions: make(map[string]core.Session),
		now:      time.Now,
	}
}

// SetClock replaces the time source used for expiry decisions.
func (s *sessionStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *sessionStore) Create(ctx context.Context, session *core.Session, ttl time.Duration) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)
	stored := *session
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.ExpiresAt = now.Add(ttl)
	s.sessions[stored.ID] = stored
	session.CreatedAt, session.ExpiresAt = stored.CreatedAt, stored.ExpiresAt

	logrus.WithField("session_id", stored.ID).Debug("Session created")
	return nil
}

// sweep drops sessions nobody touched before they expired. Callers hold mu.
func (s *sessionStore) sweep(now time.Time) {
	for id, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, id)
		}
	}
}

func (s *sessionStore) Touch(ctx context.Context, id string, ttl time.Duration) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrSessionInvalid
	}
	now := s.now()
	if session.Expired(now) {
		delete(s.sessions, id)
		logrus.WithField("session_id", id).Debug("Session expired")
		return nil, core.ErrSessionInvalid
	}

	session.ExpiresAt = now.Add(ttl)
	s.sessions[id] = session
	return &session, nil
}

func (s *sessionStore) Destroy(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

func (s *sessionStore) Close() error {
	return nil
}
