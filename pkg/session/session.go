// Package session implements the lifecycle of a VPN session: creation
// (credential-gated IP + peer allocation), on-access expiry, renewal with a
// sliding but capped TTL, and revocation.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/latticevpn/sessiond/internal/store"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusExpired Status = "EXPIRED"
	StatusRevoked Status = "REVOKED"
)

// Session is a row of the sessions table.
type Session struct {
	ID             string
	UserID         string
	ClientPubkey   string
	Status         Status
	StartedAt      time.Time
	ExpiresAt      time.Time
	MaxExpiresAt   time.Time
	TTLMaxSeconds  int
	TTLStepSeconds int
	UpdatedAt      time.Time
}

var ErrNotFound = errors.New("session not found")

// Store provides sessions table operations.
type Store struct{}

// NewStore creates a session Store.
func NewStore() *Store { return &Store{} }

const sessionColumns = `id, user_id, client_pubkey, status, started_at, expires_at, max_expires_at,
	ttl_max_seconds, ttl_step_seconds, updated_at`

// Create inserts a new ACTIVE session row. ttlMaxSeconds and ttlStepSeconds
// are captured on the row so renewal can reuse the caller's original step
// size without accepting a new one on every renew call.
func (s *Store) Create(ctx context.Context, db store.DBTX, userID, clientPubkey string, expiresAt, maxExpiresAt time.Time, ttlMaxSeconds, ttlStepSeconds int) (*Session, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	if _, err := db.Exec(ctx, `
		INSERT INTO sessions (id, user_id, client_pubkey, status, started_at, expires_at, max_expires_at, ttl_max_seconds, ttl_step_seconds, updated_at)
		VALUES ($1, $2, $3, 'ACTIVE', $4, $5, $6, $7, $8, $4)
	`, id, userID, clientPubkey, now, expiresAt, maxExpiresAt, ttlMaxSeconds, ttlStepSeconds); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	return &Session{
		ID: id, UserID: userID, ClientPubkey: clientPubkey, Status: StatusActive,
		StartedAt: now, ExpiresAt: expiresAt, MaxExpiresAt: maxExpiresAt,
		TTLMaxSeconds: ttlMaxSeconds, TTLStepSeconds: ttlStepSeconds, UpdatedAt: now,
	}, nil
}

// GetForUpdate loads a session by ID, locking its row.
func (s *Store) GetForUpdate(ctx context.Context, tx store.DBTX, id string) (*Session, error) {
	return s.get(ctx, tx, id, true)
}

// Get loads a session by ID without locking.
func (s *Store) Get(ctx context.Context, db store.DBTX, id string) (*Session, error) {
	return s.get(ctx, db, id, false)
}

func (s *Store) get(ctx context.Context, db store.DBTX, id string, forUpdate bool) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var sess Session
	var status string
	err := db.QueryRow(ctx, query, id).Scan(
		&sess.ID, &sess.UserID, &sess.ClientPubkey, &status, &sess.StartedAt,
		&sess.ExpiresAt, &sess.MaxExpiresAt, &sess.TTLMaxSeconds, &sess.TTLStepSeconds, &sess.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	sess.Status = Status(status)
	sess.StartedAt = store.EnsureAware(sess.StartedAt)
	sess.ExpiresAt = store.EnsureAware(sess.ExpiresAt)
	sess.MaxExpiresAt = store.EnsureAware(sess.MaxExpiresAt)
	sess.UpdatedAt = store.EnsureAware(sess.UpdatedAt)
	return &sess, nil
}

// GetActiveForUser returns the caller's ACTIVE session, if any, locking its
// row so a concurrent create/expire on the same user serializes.
func (s *Store) GetActiveForUser(ctx context.Context, tx store.DBTX, userID string) (*Session, error) {
	var id string
	err := tx.QueryRow(ctx, `
		SELECT id FROM sessions WHERE user_id = $1 AND status = 'ACTIVE' FOR UPDATE
	`, userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up active session: %w", err)
	}
	return s.GetForUpdate(ctx, tx, id)
}

// SetStatus updates a session's status.
func (s *Store) SetStatus(ctx context.Context, tx store.DBTX, id string, status Status) error {
	if _, err := tx.Exec(ctx, `
		UPDATE sessions SET status = $2, updated_at = now() WHERE id = $1
	`, id, string(status)); err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}
	return nil
}

// SetExpiresAt updates a session's sliding expiry (used on renew).
func (s *Store) SetExpiresAt(ctx context.Context, tx store.DBTX, id string, expiresAt time.Time) error {
	if _, err := tx.Exec(ctx, `
		UPDATE sessions SET expires_at = $2, updated_at = now() WHERE id = $1
	`, id, expiresAt); err != nil {
		return fmt.Errorf("updating session expiry: %w", err)
	}
	return nil
}

// ListExpiredActive returns ACTIVE sessions whose expires_at has elapsed,
// for the background revoker sweep.
func (s *Store) ListExpiredActive(ctx context.Context, db store.DBTX) ([]*Session, error) {
	rows, err := db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions WHERE status = 'ACTIVE' AND expires_at <= now()
	`)
	if err != nil {
		return nil, fmt.Errorf("listing expired sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var sess Session
		var status string
		if err := rows.Scan(
			&sess.ID, &sess.UserID, &sess.ClientPubkey, &status, &sess.StartedAt,
			&sess.ExpiresAt, &sess.MaxExpiresAt, &sess.TTLMaxSeconds, &sess.TTLStepSeconds, &sess.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning expired session: %w", err)
		}
		sess.Status = Status(status)
		sess.StartedAt = store.EnsureAware(sess.StartedAt)
		sess.ExpiresAt = store.EnsureAware(sess.ExpiresAt)
		sess.MaxExpiresAt = store.EnsureAware(sess.MaxExpiresAt)
		out = append(out, &sess)
	}
	return out, nil
}

// List returns sessions optionally filtered by status, for the admin API.
// offset and limit apply simple pagination over the created-descending order;
// limit <= 0 means unbounded.
func (s *Store) List(ctx context.Context, db store.DBTX, status Status, offset, limit int) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if status != "" {
		args = append(args, string(status))
		query += fmt.Sprintf(` WHERE status = $%d`, len(args))
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
		args = append(args, offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var sess Session
		var st string
		if err := rows.Scan(
			&sess.ID, &sess.UserID, &sess.ClientPubkey, &st, &sess.StartedAt,
			&sess.ExpiresAt, &sess.MaxExpiresAt, &sess.TTLMaxSeconds, &sess.TTLStepSeconds, &sess.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sess.Status = Status(st)
		out = append(out, &sess)
	}
	return out, nil
}

// CountByStatus returns the total number of sessions matching status (or all
// sessions if status is empty), for admin pagination totals.
func (s *Store) CountByStatus(ctx context.Context, db store.DBTX, status Status) (int, error) {
	query := `SELECT count(*) FROM sessions`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	var n int
	if err := db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return n, nil
}

// ExpireIfNeeded flips an ACTIVE session whose expiry has already passed to
// EXPIRED inline, updating sess.Status in place. Every handler
// that reads or mutates a session applies this first, so a client never
// observes a stale ACTIVE status for a session that has in fact timed out.
func (s *Store) ExpireIfNeeded(ctx context.Context, tx store.DBTX, sess *Session, now time.Time) error {
	if sess.Status == StatusActive && !now.Before(sess.ExpiresAt) {
		if err := s.SetStatus(ctx, tx, sess.ID, StatusExpired); err != nil {
			return err
		}
		sess.Status = StatusExpired
	}
	return nil
}
