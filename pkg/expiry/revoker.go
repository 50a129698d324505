// Package expiry implements the background sweep that transitions ACTIVE
// sessions whose sliding TTL has elapsed to EXPIRED, tearing down their
// WireGuard peer and quarantining their address.
package expiry

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/latticevpn/sessiond/internal/audit"
	"github.com/latticevpn/sessiond/internal/telemetry"
	"github.com/latticevpn/sessiond/pkg/ippool"
	"github.com/latticevpn/sessiond/pkg/peer"
	"github.com/latticevpn/sessiond/pkg/session"
)

// Revoker periodically sweeps ACTIVE sessions past their expires_at and
// retires them.
type Revoker struct {
	pool     *pgxpool.Pool
	rdb      *redis.Client
	peer     *peer.Client
	sessions *session.Store
	ipPool   *ippool.Store
	audit    *audit.Writer
	logger   *slog.Logger
	interval time.Duration
}

// NewRevoker creates a Revoker. interval defaults to 30 seconds when zero.
func NewRevoker(pool *pgxpool.Pool, rdb *redis.Client, peerClient *peer.Client, sessions *session.Store, ipPool *ippool.Store, auditWriter *audit.Writer, logger *slog.Logger, interval time.Duration) *Revoker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Revoker{
		pool: pool, rdb: rdb, peer: peerClient, sessions: sessions, ipPool: ipPool,
		audit: auditWriter, logger: logger, interval: interval,
	}
}

// Run blocks, ticking every interval until ctx is cancelled.
func (rv *Revoker) Run(ctx context.Context) error {
	ticker := time.NewTicker(rv.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rv.sweep(ctx)
		}
	}
}

// sweep loads every ACTIVE session past its expiry and retires each one
// independently, so one session's peer-removal failure does not block the
// rest of the batch.
func (rv *Revoker) sweep(ctx context.Context) {
	sessions, err := rv.sessions.ListExpiredActive(ctx, rv.pool)
	if err != nil {
		rv.logger.Error("listing expired sessions", "error", err)
		return
	}

	for _, sess := range sessions {
		rv.retire(ctx, sess)
	}
}

// retire removes the session's WireGuard peer first; only once that succeeds
// (or the peer was already gone) does it mark the session EXPIRED and
// quarantine its address. A peer-removal failure leaves the session ACTIVE
// so the next sweep retries it rather than stranding a live peer.
func (rv *Revoker) retire(ctx context.Context, sess *session.Session) {
	if err := rv.peer.RemovePeer(ctx, sess.ClientPubkey); err != nil {
		rv.logger.Error("removing peer for expired session", "error", err, "session_id", sess.ID)
		telemetry.PeerRPCFailuresTotal.WithLabelValues("remove").Inc()
		return
	}

	tx, err := rv.pool.Begin(ctx)
	if err != nil {
		rv.logger.Error("beginning expiry transaction", "error", err, "session_id", sess.ID)
		return
	}
	defer tx.Rollback(ctx)

	if err := rv.sessions.SetStatus(ctx, tx, sess.ID, session.StatusExpired); err != nil {
		rv.logger.Error("marking session expired", "error", err, "session_id", sess.ID)
		return
	}
	if err := rv.ipPool.QuarantineSession(ctx, tx, sess.ID); err != nil {
		rv.logger.Error("quarantining expired session address", "error", err, "session_id", sess.ID)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		rv.logger.Error("committing expiry", "error", err, "session_id", sess.ID)
		return
	}

	if rv.audit != nil {
		rv.audit.Log(audit.Entry{Action: "session_expired", Resource: "session", ResourceID: sess.ID, Detail: "Auto-expire", UserID: sess.UserID})
	}

	telemetry.SessionsExpiredTotal.Inc()

	if rv.rdb != nil {
		if err := rv.rdb.Publish(ctx, "sessiond:events", "session_expired").Err(); err != nil {
			rv.logger.Warn("publishing session_expired event", "error", err)
		}
	}
}
