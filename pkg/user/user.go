// Package user provides the minimal user record needed by the auth flows:
// credentials and TOTP secret lookup by ID or username.
package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/latticevpn/sessiond/internal/store"
)

// ErrNotFound is returned when no user matches the lookup.
var ErrNotFound = errors.New("user not found")

// User is a row of the users table.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	TOTPSecret   string
	IsActive     bool
}

// Store provides users table operations.
type Store struct{}

// NewStore creates a user Store.
func NewStore() *Store { return &Store{} }

// GetByUsername looks up a user by username. The match is case-sensitive
// and the username is compared exactly as given.
func (s *Store) GetByUsername(ctx context.Context, db store.DBTX, username string) (*User, error) {
	return s.scanOne(ctx, db, `
		SELECT id, username, password_hash, totp_secret, is_active
		FROM users WHERE username = $1
	`, username)
}

// GetByID looks up a user by ID.
func (s *Store) GetByID(ctx context.Context, db store.DBTX, id string) (*User, error) {
	return s.scanOne(ctx, db, `
		SELECT id, username, password_hash, totp_secret, is_active
		FROM users WHERE id = $1
	`, id)
}

func (s *Store) scanOne(ctx context.Context, db store.DBTX, query string, arg any) (*User, error) {
	var u User
	err := db.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.TOTPSecret, &u.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return &u, nil
}

// Create inserts a new user. Used by the seed tooling.
func (s *Store) Create(ctx context.Context, db store.DBTX, id, username, passwordHash, totpSecret string) error {
	if _, err := db.Exec(ctx, `
		INSERT INTO users (id, username, password_hash, totp_secret, is_active)
		VALUES ($1, $2, $3, $4, true)
	`, id, username, passwordHash, totpSecret); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}
