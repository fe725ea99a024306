// Package sqlite is a reference CredentialStore backed by a local SQLite
// database. Production deployments typically bring their own user store;
// this one is enough to run the engine end to end.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/davrell/authgate"
)

const timeFormat = time.RFC3339Nano

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id             TEXT PRIMARY KEY,
	email          TEXT NOT NULL UNIQUE,
	name           TEXT NOT NULL DEFAULT '',
	password_hash  TEXT NOT NULL,
	email_verified INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
`

// Store implements authgate.CredentialStore on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (and initializes) a store at the provided path. Use ":memory:"
// for an ephemeral store.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) CreateUser(ctx context.Context, input authgate.NewUser) (authgate.User, error) {
	if err := ctx.Err(); err != nil {
		return authgate.User{}, err
	}

	id := input.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, email_verified, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		id, input.Email, input.Name, input.PasswordHash,
		now.Format(timeFormat), now.Format(timeFormat),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return authgate.User{}, authgate.ErrEmailTaken
		}
		return authgate.User{}, fmt.Errorf("insert user: %w", err)
	}

	return authgate.User{
		ID:           id,
		Email:        input.Email,
		Name:         input.Name,
		PasswordHash: input.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (authgate.User, error) {
	if err := ctx.Err(); err != nil {
		return authgate.User{}, err
	}
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, name, password_hash, email_verified, created_at, updated_at
		 FROM users WHERE email = ?`, email))
}

func (s *Store) GetUserByID(ctx context.Context, id string) (authgate.User, error) {
	if err := ctx.Err(); err != nil {
		return authgate.User{}, err
	}
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, name, password_hash, email_verified, created_at, updated_at
		 FROM users WHERE id = ?`, id))
}

func (s *Store) MarkEmailVerified(ctx context.Context, id string) (authgate.User, error) {
	if err := ctx.Err(); err != nil {
		return authgate.User{}, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET email_verified = 1, updated_at = ? WHERE id = ?`,
		now.Format(timeFormat), id,
	)
	if err != nil {
		return authgate.User{}, fmt.Errorf("mark verified: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return authgate.User{}, fmt.Errorf("mark verified: %w", err)
	}
	if affected == 0 {
		return authgate.User{}, authgate.ErrUserNotFound
	}

	return s.GetUserByID(ctx, id)
}

func (s *Store) scanUser(row *sql.Row) (authgate.User, error) {
	var (
		user      authgate.User
		verified  int
		createdAt string
		updatedAt string
	)
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &verified, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authgate.User{}, authgate.ErrUserNotFound
		}
		return authgate.User{}, fmt.Errorf("scan user: %w", err)
	}

	user.EmailVerified = verified != 0
	if user.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return authgate.User{}, fmt.Errorf("parse created_at: %w", err)
	}
	if user.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return authgate.User{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return user, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ authgate.CredentialStore = (*Store)(nil)
