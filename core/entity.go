package core

import (
	"context"
	"fmt"
	"time"
)

type (
	// Kind names one of the two persisted collections.
	Kind string

	// Record is an opaque JSON object. The server never looks inside it.
	Record map[string]any

	Session struct {
		ID        string    `json:"id"`
		UserID    string    `json:"userId"`
		Username  string    `json:"username"`
		CreatedAt time.Time `json:"createdAt"`
		ExpiresAt time.Time `json:"expiresAt"`
	}

	User struct {
		ID           string    `json:"id"`
		Username     string    `json:"username"`
		PasswordHash string    `json:"-"`
		CreatedAt    time.Time `json:"createdAt"`
	}

	// RecordStore is the durable, insertion-ordered storage for products and
	// messages. Every GetAll reads through to the backend.
	RecordStore interface {
		GetAll(ctx context.Context, kind Kind) ([]Record, error)
		// Save appends all records or none of them.
		Save(ctx context.Context, kind Kind, records ...Record) error
	}

	UserStore interface {
		CreateUser(ctx context.Context, username, passwordHash string) (*User, error)
		FindUserByUsername(ctx context.Context, username string) (*User, error)
	}

	// SessionStore owns session documents. Touch both validates and slides
	// the expiry window forward.
	SessionStore interface {
		Create(ctx context.Context, session *Session, ttl time.Duration) error
		Touch(ctx context.Context, id string, ttl time.Duration) (*Session, error)
		Destroy(ctx context.Context, id string) error
	}
)

const (
	KindProducts Kind = "products"
	KindMessages Kind = "messages"
)

// Kinds lists every collection in the order snapshots are sent on connect.
var Kinds = []Kind{KindMessages, KindProducts}

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindProducts, KindMessages:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) Valid() bool {
	return k == KindProducts || k == KindMessages
}

func (k Kind) String() string {
	return string(k)
}

// Expired reports whether the session is past its expiry at the given time.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
