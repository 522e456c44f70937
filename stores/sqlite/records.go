package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"livecatalog-server/core"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type recordStore struct {
	db *sql.DB
}

// NewRecordStore opens the database. Tables are not created here; call
// EnsureSchema during bootstrap.
func NewRecordStore(dataSourceName string) (*recordStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)
	return &recordStore{db}, nil
}

// EnsureSchema creates the record and user tables if they do not exist.
func (s *recordStore) EnsureSchema(ctx context.Context) error {
	for _, kind := range core.Kinds {
		sts := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`, kind)
		if _, err := s.db.ExecContext(ctx, sts); err != nil {
			return fmt.Errorf("%w: create %s table: %v", core.ErrStorageUnavailable, kind, err)
		}
	}

	usersTable := `CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE COLLATE NOCASE,
		password_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);`
	if _, err := s.db.ExecContext(ctx, usersTable); err != nil {
		return fmt.Errorf("%w: create users table: %v", core.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *recordStore) GetAll(ctx context.Context, kind core.Kind) ([]core.Record, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownKind, kind)
	}
	log := logrus.WithField("kind", kind)
	log.Debug("Listing records")

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT data FROM %s ORDER BY seq ASC", kind))
	if err != nil {
		log.WithError(err).Error("Failed to list records")
		return nil, fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.WithError(cerr).Warn("Failed to close record rows")
		}
	}()

	records := make([]core.Record, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			log.WithError(err).Error("Failed to scan record")
			return nil, fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
		}
		var record core.Record
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			log.WithError(err).Error("Failed to decode stored record")
			return nil, fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		log.WithError(err).Error("Failed to iterate records")
		return nil, fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}

	log.WithField("count", len(records)).Debug("Records listed successfully")
	return records, nil
}

func (s *recordStore) Save(ctx context.Context, kind core.Kind, records ...core.Record) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", core.ErrUnknownKind, kind)
	}
	if len(records) == 0 {
		return nil
	}
	log := logrus.WithFields(logrus.Fields{
		"kind":  kind,
		"count": len(records),
	})

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.WithError(err).Error("Failed to begin transaction")
		return fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (data, created_at) VALUES (?, ?)", kind))
	if err != nil {
		log.WithError(err).Error("Failed to prepare insert")
		return fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
		}
		if _, err := stmt.ExecContext(ctx, string(data), now); err != nil {
			log.WithError(err).Error("Failed to insert record")
			return fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		log.WithError(err).Error("Failed to commit records")
		return fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}
	log.Info("Records saved successfully")
	return nil
}

func (s *recordStore) CreateUser(ctx context.Context, username, passwordHash string) (*core.User, error) {
	user := core.User{
		ID:           ulid.Make().String(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	log := logrus.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"username": username,
	})

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)",
		user.ID, user.Username, user.PasswordHash, user.CreatedAt.UnixMilli())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			log.Warn("Username already taken")
			return nil, core.ErrUserExists
		}
		log.WithError(err).Error("Failed to create user")
		return nil, fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}

	log.Info("User created successfully")
	return &user, nil
}

func (s *recordStore) FindUserByUsername(ctx context.Context, username string) (*core.User, error) {
	log := logrus.WithField("username", username)
	log.Debug("Retrieving user by username")

	var user core.User
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = ?",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Debug("User not found")
			return nil, core.ErrUserNotFound
		}
		log.WithError(err).Error("Failed to retrieve user")
		return nil, fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}
	user.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &user, nil
}

func (s *recordStore) Close() error {
	return s.db.Close()
}
