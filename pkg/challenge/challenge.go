// Package challenge implements the short-lived MFA challenge record created
// by a login-start or step-up-start call and consumed by its matching verify
// call.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/latticevpn/sessiond/internal/store"
)

// Type distinguishes what a challenge is for.
type Type string

const (
	TypeLogin  Type = "LOGIN"
	TypeStepUp Type = "STEPUP"
	// TypeRenew is reserved for a future session-renewal MFA flow; no
	// operation currently issues it.
	TypeRenew Type = "RENEW"
)

const (
	// TTL is fixed for every challenge regardless of type.
	TTL = 120 * time.Second
	// MaxTries is the number of verify attempts allowed before a challenge
	// is permanently rejected.
	MaxTries = 5
)

var (
	ErrNotFound  = errors.New("challenge not found")
	ErrConsumed  = errors.New("challenge already consumed")
	ErrExpired   = errors.New("challenge expired")
	ErrTooManyTries = errors.New("too many verification attempts")
)

// Challenge is a row of the challenges table.
type Challenge struct {
	ID        uuid.UUID
	UserID    string
	Type      Type
	Tries     int
	Consumed  bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Store provides challenge table operations.
type Store struct{}

// NewStore creates a challenge Store.
func NewStore() *Store { return &Store{} }

// Create inserts a new challenge for userID with a fixed TTL.
func (s *Store) Create(ctx context.Context, db store.DBTX, userID string, typ Type) (*Challenge, error) {
	id := uuid.New()
	now := time.Now().UTC()
	expiresAt := now.Add(TTL)

	if _, err := db.Exec(ctx, `
		INSERT INTO challenges (id, user_id, type, tries, consumed, expires_at, created_at)
		VALUES ($1, $2, $3, 0, false, $4, $5)
	`, id, userID, string(typ), expiresAt, now); err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}

	return &Challenge{ID: id, UserID: userID, Type: typ, ExpiresAt: expiresAt, CreatedAt: now}, nil
}

// GetForUpdate loads a challenge of the expected type by ID, locking its row
// so a concurrent verify for the same challenge serializes on the tries
// counter and the consumed flag.
func (s *Store) GetForUpdate(ctx context.Context, tx store.DBTX, id uuid.UUID, wantType Type) (*Challenge, error) {
	var c Challenge
	var typ string
	err := tx.QueryRow(ctx, `
		SELECT id, user_id, type, tries, consumed, expires_at, created_at
		FROM challenges WHERE id = $1 FOR UPDATE
	`, id).Scan(&c.ID, &c.UserID, &typ, &c.Tries, &c.Consumed, &c.ExpiresAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading challenge: %w", err)
	}
	c.Type = Type(typ)

	if c.Type != wantType {
		return nil, ErrNotFound
	}

	c.ExpiresAt = store.EnsureAware(c.ExpiresAt)
	c.CreatedAt = store.EnsureAware(c.CreatedAt)
	return &c, nil
}

// IncrementTries bumps the tries counter after a failed verification.
func (s *Store) IncrementTries(ctx context.Context, tx store.DBTX, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `UPDATE challenges SET tries = tries + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("incrementing challenge tries: %w", err)
	}
	return nil
}

// Consume marks a challenge as consumed after a successful verification.
func (s *Store) Consume(ctx context.Context, tx store.DBTX, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `UPDATE challenges SET consumed = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("consuming challenge: %w", err)
	}
	return nil
}

// CheckUsable applies the gone/expired/too-many-tries checks shared by every
// verify endpoint, in the order the original spec requires: consumed before
// expired before tries-exceeded.
func CheckUsable(c *Challenge, now time.Time) error {
	if c.Consumed {
		return ErrConsumed
	}
	if now.After(c.ExpiresAt) {
		return ErrExpired
	}
	if c.Tries >= MaxTries {
		return ErrTooManyTries
	}
	return nil
}
