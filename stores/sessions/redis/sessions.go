package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"livecatalog-server/core"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "session:"

// sessionStore keeps each session as a JSON document whose Redis TTL is the
// sliding expiry window, so every process sharing the instance sees the same
// sessions.
type sessionStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewSessionStore(client *redis.Client) *sessionStore {
	return &sessionStore{client: client, now: time.Now}
}

func (s *sessionStore) key(id string) string {
	return keyPrefix + id
}

func (s *sessionStore) Create(ctx context.Context, session *core.Session, ttl time.Duration) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session id is required")
	}
	now := s.now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.ExpiresAt = now.Add(ttl)

	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(session.ID), data, ttl).Err(); err != nil {
		logrus.WithError(err).WithField("session_id", session.ID).Error("Failed to store session")
		return fmt.Errorf("%w: %v", core.ErrSessionStoreUnavailable, err)
	}
	return nil
}

func (s *sessionStore) Touch(ctx context.Context, id string, ttl time.Duration) (*core.Session, error) {
	data, err := s.client.GetEx(ctx, s.key(id), ttl).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrSessionInvalid
		}
		logrus.WithError(err).WithField("session_id", id).Error("Failed to refresh session")
		return nil, fmt.Errorf("%w: %v", core.ErrSessionStoreUnavailable, err)
	}

	var session core.Session
	if err := json.Unmarshal(data, &session); err != nil {
		logrus.WithError(err).WithField("session_id", id).Warn("Discarding unreadable session")
		return nil, core.ErrSessionInvalid
	}
	session.ExpiresAt = s.now().Add(ttl)
	return &session, nil
}

func (s *sessionStore) Destroy(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrSessionStoreUnavailable, err)
	}
	return nil
}

// Close is a no-op; the client is shared and closed by its owner.
func (s *sessionStore) Close() error {
	return nil
}
