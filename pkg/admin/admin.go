// Package admin implements the operator surface gated by a static admin
// token: listing sessions, force-revoking one, and reading the audit trail.
package admin

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/latticevpn/sessiond/internal/apierr"
	"github.com/latticevpn/sessiond/internal/audit"
	"github.com/latticevpn/sessiond/internal/httpserver"
	"github.com/latticevpn/sessiond/internal/telemetry"
	"github.com/latticevpn/sessiond/pkg/ippool"
	"github.com/latticevpn/sessiond/pkg/peer"
	"github.com/latticevpn/sessiond/pkg/session"
)

// Service implements the admin operations.
type Service struct {
	pool     *pgxpool.Pool
	sessions *session.Store
	ipPool   *ippool.Store
	peer     *peer.Client
	audit    *audit.Writer
	logger   *slog.Logger
}

// NewService creates an admin Service.
func NewService(pool *pgxpool.Pool, sessions *session.Store, ipPool *ippool.Store, peerClient *peer.Client, auditWriter *audit.Writer, logger *slog.Logger) *Service {
	return &Service{pool: pool, sessions: sessions, ipPool: ipPool, peer: peerClient, audit: auditWriter, logger: logger}
}

// ListSessions returns a page of sessions, optionally filtered by status.
func (s *Service) ListSessions(ctx context.Context, status string, params httpserver.OffsetParams) (httpserver.OffsetPage[*session.Session], error) {
	if status != "" {
		switch session.Status(status) {
		case session.StatusActive, session.StatusExpired, session.StatusRevoked:
		default:
			return httpserver.OffsetPage[*session.Session]{}, apierr.New(apierr.KindBadRequest, "invalid status filter")
		}
	}

	sessions, err := s.sessions.List(ctx, s.pool, session.Status(status), params.Offset, params.PageSize)
	if err != nil {
		return httpserver.OffsetPage[*session.Session]{}, apierr.Wrap(apierr.KindInternal, "listing sessions", err)
	}
	total, err := s.sessions.CountByStatus(ctx, s.pool, session.Status(status))
	if err != nil {
		return httpserver.OffsetPage[*session.Session]{}, apierr.Wrap(apierr.KindInternal, "counting sessions", err)
	}

	return httpserver.NewOffsetPage(sessions, params, total), nil
}

// Revoke force-revokes a session regardless of owner, removing its peer and
// quarantining its address. Unlike a regular user revoke, this is explicitly
// allowed to target any session in the fleet.
func (s *Service) Revoke(ctx context.Context, sessionID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "beginning transaction", err)
	}
	defer tx.Rollback(ctx)

	sess, err := s.sessions.GetForUpdate(ctx, tx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return apierr.New(apierr.KindNotFound, "session not found")
	}
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "loading session", err)
	}
	if sess.Status != session.StatusActive {
		return apierr.New(apierr.KindConflict, "session is not active")
	}

	if err := s.sessions.SetStatus(ctx, tx, sess.ID, session.StatusRevoked); err != nil {
		return apierr.Wrap(apierr.KindInternal, "revoking session", err)
	}
	if err := s.ipPool.QuarantineSession(ctx, tx, sess.ID); err != nil {
		return apierr.Wrap(apierr.KindInternal, "quarantining address", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return apierr.Wrap(apierr.KindInternal, "committing revoke", err)
	}

	if err := s.peer.RemovePeer(ctx, sess.ClientPubkey); err != nil {
		s.logger.Error("removing peer on admin revoke", "error", err, "session_id", sess.ID)
		telemetry.PeerRPCFailuresTotal.WithLabelValues("remove").Inc()
	}

	if s.audit != nil {
		s.audit.Log(audit.Entry{Action: "session_revoked", Resource: "session", ResourceID: sess.ID, Detail: "Admin force-revoke", UserID: sess.UserID})
	}

	telemetry.SessionsRevokedTotal.WithLabelValues("admin").Inc()
	return nil
}
