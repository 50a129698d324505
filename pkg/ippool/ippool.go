// Package ippool manages the pool of addresses handed out to sessions: its
// state machine (FREE / ASSIGNED / QUARANTINED), allocation under row locks,
// resynchronization against the configured CIDR at startup, and the background
// sweep that returns quarantined addresses to FREE once their hold expires.
package ippool

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/latticevpn/sessiond/internal/store"
)

// State is the lifecycle state of a pool entry.
type State string

const (
	StateFree        State = "FREE"
	StateAssigned    State = "ASSIGNED"
	StateQuarantined State = "QUARANTINED"
)

// Entry is a single row of the ip_pool table.
type Entry struct {
	IP                netip.Addr
	State             State
	SessionID         *string
	QuarantinedUntil  *time.Time
	UpdatedAt         time.Time
}

// ErrPoolExhausted is returned when no FREE address is available to allocate.
var ErrPoolExhausted = errors.New("ip pool exhausted: no free addresses available")

// Store provides the ip_pool table operations.
type Store struct {
	quarantineDuration time.Duration
}

// NewStore creates an ippool Store. quarantineDuration is how long a released
// address is held in QUARANTINED before it becomes eligible for reuse.
func NewStore(quarantineDuration time.Duration) *Store {
	return &Store{quarantineDuration: quarantineDuration}
}

// AllocateIP picks one FREE address at random, locks its row for the
// duration of the caller's transaction via FOR UPDATE SKIP LOCKED (so
// concurrent allocators never contend on the same candidate row), and flips
// it to ASSIGNED for sessionID.
func (s *Store) AllocateIP(ctx context.Context, tx store.DBTX, sessionID string) (netip.Addr, error) {
	var ipText string
	err := tx.QueryRow(ctx, `
		SELECT ip FROM ip_pool
		WHERE state = 'FREE'
		ORDER BY random()
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&ipText)
	if errors.Is(err, pgx.ErrNoRows) {
		return netip.Addr{}, ErrPoolExhausted
	}
	if err != nil {
		return netip.Addr{}, fmt.Errorf("selecting free ip: %w", err)
	}

	ip, err := netip.ParseAddr(ipText)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parsing allocated ip %q: %w", ipText, err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE ip_pool SET state = 'ASSIGNED', session_id = $1, updated_at = now()
		WHERE ip = $2
	`, sessionID, ipText); err != nil {
		return netip.Addr{}, fmt.Errorf("assigning ip: %w", err)
	}

	return ip, nil
}

// QuarantineIP moves a single address to QUARANTINED, clearing its session
// link and setting its release time quarantineDuration from now. It is a
// no-op if the address is not currently tracked.
func (s *Store) QuarantineIP(ctx context.Context, tx store.DBTX, ip netip.Addr) error {
	tag, err := tx.Exec(ctx, `
		UPDATE ip_pool
		SET state = 'QUARANTINED', session_id = NULL,
		    quarantined_until = now() + make_interval(secs => $2), updated_at = now()
		WHERE ip = $1
	`, ip.String(), s.quarantineDuration.Seconds())
	if err != nil {
		return fmt.Errorf("quarantining ip: %w", err)
	}
	_ = tag
	return nil
}

// QuarantineSession finds the address currently assigned to sessionID (if
// any) and quarantines it. A session with no allocated address is a no-op,
// matching the behavior of a session that failed before IP allocation.
func (s *Store) QuarantineSession(ctx context.Context, tx store.DBTX, sessionID string) error {
	var ipText string
	err := tx.QueryRow(ctx, `SELECT ip FROM ip_pool WHERE session_id = $1`, sessionID).Scan(&ipText)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up session ip: %w", err)
	}

	ip, err := netip.ParseAddr(ipText)
	if err != nil {
		return fmt.Errorf("parsing session ip %q: %w", ipText, err)
	}
	return s.QuarantineIP(ctx, tx, ip)
}

// GetBySession returns the address currently assigned to sessionID.
func (s *Store) GetBySession(ctx context.Context, tx store.DBTX, sessionID string) (netip.Addr, error) {
	var ipText string
	err := tx.QueryRow(ctx, `SELECT ip FROM ip_pool WHERE session_id = $1`, sessionID).Scan(&ipText)
	if errors.Is(err, pgx.ErrNoRows) {
		return netip.Addr{}, pgx.ErrNoRows
	}
	if err != nil {
		return netip.Addr{}, fmt.Errorf("looking up session ip: %w", err)
	}
	return netip.ParseAddr(ipText)
}

// ReleaseExpiredQuarantine flips every QUARANTINED row whose hold has
// elapsed back to FREE in a single statement, returning the number of rows
// affected.
func (s *Store) ReleaseExpiredQuarantine(ctx context.Context, db store.DBTX) (int64, error) {
	tag, err := db.Exec(ctx, `
		UPDATE ip_pool
		SET state = 'FREE', quarantined_until = NULL, session_id = NULL, updated_at = now()
		WHERE state = 'QUARANTINED' AND quarantined_until <= now()
	`)
	if err != nil {
		return 0, fmt.Errorf("releasing expired quarantine: %w", err)
	}
	return tag.RowsAffected(), nil
}
