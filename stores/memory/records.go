package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"livecatalog-server/core"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type recordStore struct {
	mu          sync.RWMutex
	records     map[core.Kind][][]byte
	users       map[string]core.User
	unavailable bool
}

func NewRecordStore() *recordStore {
	s := &recordStore{
		records: make(map[core.Kind][][]byte),
		users:   make(map[string]core.User),
	}
	return s
}

// EnsureSchema exists for parity with the sqlite store; collections are
// created lazily.
func (s *recordStore) EnsureSchema(ctx context.Context) error {
	return nil
}

// SetUnavailable makes every call fail with core.ErrStorageUnavailable until
// it is switched back.
func (s *recordStore) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	s.unavailable = unavailable
	s.mu.Unlock()
}

func (s *recordStore) GetAll(ctx context.Context, kind core.Kind) ([]core.Record, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownKind, kind)
	}
	log := logrus.WithField("kind", kind)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable {
		log.Error("Record store is unavailable")
		return nil, fmt.Errorf("%w: memory store switched off", core.ErrStorageUnavailable)
	}

	stored := s.records[kind]
	records := make([]core.Record, 0, len(stored))
	for _, data := range stored {
		var record core.Record
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
		}
		records = append(records, record)
	}
	log.WithField("count", len(records)).Debug("Records listed")
	return records, nil
}

func (s *recordStore) Save(ctx context.Context, kind core.Kind, records ...core.Record) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", core.ErrUnknownKind, kind)
	}
	if len(records) == 0 {
		return nil
	}

	// Encode everything before touching the collection so a bad record
	// leaves the batch unapplied.
	encoded := make([][]byte, 0, len(records))
	for _, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
		}
		encoded = append(encoded, data)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return fmt.Errorf("%w: memory store switched off", core.ErrStorageUnavailable)
	}
	s.records[kind] = append(s.records[kind], encoded...)

	logrus.WithFields(logrus.Fields{
		"kind":  kind,
		"count": len(encoded),
	}).Info("Records saved successfully")
	return nil
}

func (s *recordStore) CreateUser(ctx context.Context, username, passwordHash string) (*core.User, error) {
	key := strings.ToLower(username)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return nil, fmt.Errorf("%w: memory store switched off", core.ErrStorageUnavailable)
	}
	if _, exists := s.users[key]; exists {
		return nil, core.ErrUserExists
	}

	user := core.User{
		ID:           ulid.Make().String(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.users[key] = user
	logrus.WithField("user_id", user.ID).Info("User created successfully")
	return &user, nil
}

func (s *recordStore) FindUserByUsername(ctx context.Context, username string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable {
		return nil, fmt.Errorf("%w: memory store switched off", core.ErrStorageUnavailable)
	}

	user, ok := s.users[strings.ToLower(username)]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	return &user, nil
}

func (s *recordStore) Close() error {
	return nil
}
