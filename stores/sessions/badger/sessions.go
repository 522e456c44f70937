package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"livecatalog-server/core"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "session:"

type sessionStore struct {
	db  *badger.DB
	now func() time.Time
}

// Open opens (or creates) a Badger database at path with its logging routed
// to logrus. An empty path opens an in-memory database.
func Open(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(logrus.StandardLogger())
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSessionStoreUnavailable, err)
	}
	return db, nil
}

func NewSessionStore(db *badger.DB) *sessionStore {
	return &sessionStore{db: db, now: time.Now}
}

func (s *sessionStore) key(id string) []byte {
	return []byte(keyPrefix + id)
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
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(s.key(session.ID), data).WithTTL(ttl))
	})
	if err != nil {
		logrus.WithError(err).WithField("session_id", session.ID).Error("Failed to store session")
		return fmt.Errorf("%w: %v", core.ErrSessionStoreUnavailable, err)
	}
	return nil
}

// Touch rewrites the document with a fresh TTL. Badger expires entries with
// one-second granularity, so the stored ExpiresAt is checked as well.
func (s *sessionStore) Touch(ctx context.Context, id string, ttl time.Duration) (*core.Session, error) {
	var session core.Session
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(id))
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &session); err != nil {
			return core.ErrSessionInvalid
		}

		now := s.now()
		if session.Expired(now) {
			return core.ErrSessionInvalid
		}
		session.ExpiresAt = now.Add(ttl)
		data, err = json.Marshal(&session)
		if err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry(s.key(id), data).WithTTL(ttl))
	})

	switch {
	case err == nil:
		return &session, nil
	case errors.Is(err, badger.ErrKeyNotFound), errors.Is(err, core.ErrSessionInvalid):
		return nil, core.ErrSessionInvalid
	default:
		logrus.WithError(err).WithField("session_id", id).Error("Failed to refresh session")
		return nil, fmt.Errorf("%w: %v", core.ErrSessionStoreUnavailable, err)
	}
}

func (s *sessionStore) Destroy(ctx context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(id))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrSessionStoreUnavailable, err)
	}
	return nil
}

func (s *sessionStore) Close() error {
	return s.db.Close()
}
