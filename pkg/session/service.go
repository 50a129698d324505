package session

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/latticevpn/sessiond/internal/apierr"
	"github.com/latticevpn/sessiond/internal/audit"
	"github.com/latticevpn/sessiond/internal/telemetry"
	"github.com/latticevpn/sessiond/pkg/ippool"
	"github.com/latticevpn/sessiond/pkg/peer"
)

// WgInterface describes the client-side interface block of a WireGuard config.
type WgInterface struct {
	Address string   `json:"address"`
	DNS     []string `json:"dns"`
}

// WgPeer describes the gateway-side peer block of a WireGuard config.
type WgPeer struct {
	PublicKey           string   `json:"public_key"`
	Endpoint            string   `json:"endpoint"`
	AllowedIPs          []string `json:"allowed_ips"`
	PersistentKeepalive int      `json:"persistent_keepalive"`
}

// Config is the full WireGuard client configuration returned by the config endpoint.
type Config struct {
	Interface WgInterface `json:"interface"`
	Peer      WgPeer      `json:"peer"`
}

// Service implements the session lifecycle operations.
type Service struct {
	pool    *pgxpool.Pool
	store   *Store
	ipPool  *ippool.Store
	peer    *peer.Client
	audit   *audit.Writer
	logger  *slog.Logger

	ttlMaxSeconds               int
	ttlStepDefaultSeconds       int
	allowMultipleActiveSessions bool

	gatewayPubkey string
	endpoint      string
	allowedIPs    []string
	dns           string
}

// ServiceConfig carries the policy and WireGuard network settings the
// service needs; kept separate from internal/config.Config to avoid an
// import cycle and to keep the constructor's argument list legible.
type ServiceConfig struct {
	TTLMaxSeconds               int
	TTLStepDefaultSeconds       int
	AllowMultipleActiveSessions bool
	GatewayPubkey               string
	Endpoint                    string
	AllowedIPs                  []string
	DNS                         string
}

const persistentKeepalive = 25

// NewService creates a session Service.
func NewService(pool *pgxpool.Pool, store *Store, ipPool *ippool.Store, peerClient *peer.Client, auditWriter *audit.Writer, logger *slog.Logger, cfg ServiceConfig) *Service {
	return &Service{
		pool: pool, store: store, ipPool: ipPool, peer: peerClient, audit: auditWriter, logger: logger,
		ttlMaxSeconds:               cfg.TTLMaxSeconds,
		ttlStepDefaultSeconds:       cfg.TTLStepDefaultSeconds,
		allowMultipleActiveSessions: cfg.AllowMultipleActiveSessions,
		gatewayPubkey:               cfg.GatewayPubkey,
		endpoint:                    cfg.Endpoint,
		allowedIPs:                  cfg.AllowedIPs,
		dns:                         cfg.DNS,
	}
}

// Create validates the requested TTL step, enforces the single-active-session
// policy, allocates an address, and registers the peer with wgctl.
//
// The session row is committed before the IP is allocated and the peer is
// added, exactly as in the system this was modeled on: a failure in either
// of those later steps leaves a committed ACTIVE session with no address or
// no registered peer. This repo does not introduce a PENDING state or a
// compensating transaction for that window; an admin revoke (which now also
// quarantines any allocated address) is the operator's recovery path.
func (s *Service) Create(ctx context.Context, userID, clientPubkey string, ttlStepSeconds int) (*Session, netip.Addr, error) {
	if ttlStepSeconds <= 0 {
		ttlStepSeconds = s.ttlStepDefaultSeconds
	}
	if ttlStepSeconds <= 0 || ttlStepSeconds > s.ttlMaxSeconds {
		return nil, netip.Addr{}, apierr.New(apierr.KindBadRequest, "ttl_step_seconds out of range")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, netip.Addr{}, apierr.Wrap(apierr.KindInternal, "beginning transaction", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	var staleExpired *Session
	if !s.allowMultipleActiveSessions {
		existing, err := s.store.GetActiveForUser(ctx, tx, userID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, netip.Addr{}, apierr.Wrap(apierr.KindInternal, "checking for active session", err)
		}
		if existing != nil {
			if err := s.store.ExpireIfNeeded(ctx, tx, existing, now); err != nil {
				return nil, netip.Addr{}, apierr.Wrap(apierr.KindInternal, "expiring stale session", err)
			}
			if existing.Status == StatusActive {
				return nil, netip.Addr{}, apierr.New(apierr.KindConflict, "user already has an active session")
			}
			staleExpired = existing
		}
	}

	maxExpiresAt := now.Add(time.Duration(s.ttlMaxSeconds) * time.Second)
	expiresAt := now.Add(time.Duration(ttlStepSeconds) * time.Second)
	if expiresAt.After(maxExpiresAt) {
		expiresAt = maxExpiresAt
	}

	sess, err := s.store.Create(ctx, tx, userID, clientPubkey, expiresAt, maxExpiresAt, s.ttlMaxSeconds, ttlStepSeconds)
	if err != nil {
		return nil, netip.Addr{}, apierr.Wrap(apierr.KindInternal, "creating session", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, netip.Addr{}, apierr.Wrap(apierr.KindInternal, "committing session", err)
	}
	if staleExpired != nil {
		s.finishExpiry(ctx, staleExpired)
	}

	ip, err := s.allocateForSession(ctx, sess.ID)
	if err != nil {
		return sess, netip.Addr{}, err
	}

	if _, err := s.peer.AddPeer(ctx, clientPubkey, []string{ip.String() + "/32"}); err != nil {
		s.logger.Error("adding peer after session create", "error", err, "session_id", sess.ID)
		telemetry.PeerRPCFailuresTotal.WithLabelValues("add").Inc()
		return sess, ip, apierr.Wrap(apierr.KindInternal, "registering peer with wgctl", err)
	}

	telemetry.SessionsCreatedTotal.Inc()
	return sess, ip, nil
}

func (s *Service) allocateForSession(ctx context.Context, sessionID string) (netip.Addr, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return netip.Addr{}, apierr.Wrap(apierr.KindInternal, "beginning allocation transaction", err)
	}
	defer tx.Rollback(ctx)

	ip, err := s.ipPool.AllocateIP(ctx, tx, sessionID)
	if errors.Is(err, ippool.ErrPoolExhausted) {
		telemetry.IPPoolExhaustedTotal.Inc()
		return netip.Addr{}, apierr.New(apierr.KindConflict, "no free addresses available")
	}
	if err != nil {
		return netip.Addr{}, apierr.Wrap(apierr.KindInternal, "allocating address", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return netip.Addr{}, apierr.Wrap(apierr.KindInternal, "committing allocation", err)
	}
	return ip, nil
}

// LoadAndExpire loads a session by ID and applies on-access expiry, the
// sequence shared by status, revoke, renew, and config. It reports whether
// this call is the one that flipped the session to EXPIRED, so the caller
// can run the synchronous teardown (peer removal, quarantine, audit) once
// its own transaction has committed.
func (s *Service) LoadAndExpire(ctx context.Context, tx pgx.Tx, id string) (*Session, bool, error) {
	sess, err := s.store.GetForUpdate(ctx, tx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, false, apierr.New(apierr.KindNotFound, "session not found")
	}
	if err != nil {
		return nil, false, apierr.Wrap(apierr.KindInternal, "loading session", err)
	}
	wasActive := sess.Status == StatusActive
	if err := s.store.ExpireIfNeeded(ctx, tx, sess, time.Now().UTC()); err != nil {
		return nil, false, apierr.Wrap(apierr.KindInternal, "expiring session", err)
	}
	return sess, wasActive && sess.Status == StatusExpired, nil
}

// finishExpiry runs the teardown for a session that LoadAndExpire just
// flipped to EXPIRED: best-effort peer removal, address quarantine, and an
// audit entry. This mirrors the background revoker's retire step so a
// session observed as expired on access leaves the system in the same state
// as one caught by the sweep.
func (s *Service) finishExpiry(ctx context.Context, sess *Session) {
	if err := s.peer.RemovePeer(ctx, sess.ClientPubkey); err != nil {
		s.logger.Error("removing peer for session expired on access", "error", err, "session_id", sess.ID)
		telemetry.PeerRPCFailuresTotal.WithLabelValues("remove").Inc()
	}

	if err := s.quarantine(ctx, sess.ID); err != nil {
		s.logger.Error("quarantining ip for session expired on access", "error", err, "session_id", sess.ID)
	}

	if s.audit != nil {
		s.audit.Log(audit.Entry{Action: "session_expired", Resource: "session", ResourceID: sess.ID, Detail: "Expired on access", UserID: sess.UserID})
	}

	telemetry.SessionsExpiredTotal.Inc()
}

// RequireOwner returns Forbidden if sess does not belong to userID.
func RequireOwner(sess *Session, userID string) error {
	if sess.UserID != userID {
		return apierr.New(apierr.KindForbidden, "not your session")
	}
	return nil
}

// Status returns the remaining TTL in seconds for an owned, possibly
// already-expired session.
func (s *Service) Status(ctx context.Context, sessionID, userID string) (*Session, int64, error) {
	sess, expiredNow, err := s.loadOwnedAndExpire(ctx, sessionID, userID)
	if err != nil {
		return nil, 0, err
	}
	if expiredNow {
		s.finishExpiry(ctx, sess)
	}

	remaining := int64(sess.ExpiresAt.Sub(time.Now().UTC()).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return sess, remaining, nil
}

// Revoke transitions an ACTIVE session to REVOKED, removes its peer, and
// quarantines its address. revokedAt is the time the transition was
// committed, echoed back in the HTTP response.
func (s *Service) Revoke(ctx context.Context, sessionID, userID string) (time.Time, error) {
	sess, expiredNow, err := s.loadOwnedAndExpire(ctx, sessionID, userID)
	if err != nil {
		return time.Time{}, err
	}
	if expiredNow {
		s.finishExpiry(ctx, sess)
	}
	if sess.Status != StatusActive {
		return time.Time{}, apierr.New(apierr.KindConflict, "session is not active")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return time.Time{}, apierr.Wrap(apierr.KindInternal, "beginning transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := s.store.SetStatus(ctx, tx, sess.ID, StatusRevoked); err != nil {
		return time.Time{}, apierr.Wrap(apierr.KindInternal, "revoking session", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, apierr.Wrap(apierr.KindInternal, "committing revoke", err)
	}
	revokedAt := time.Now().UTC()

	if err := s.peer.RemovePeer(ctx, sess.ClientPubkey); err != nil {
		s.logger.Error("removing peer on revoke", "error", err, "session_id", sess.ID)
		telemetry.PeerRPCFailuresTotal.WithLabelValues("remove").Inc()
	}

	if err := s.quarantine(ctx, sess.ID); err != nil {
		s.logger.Error("quarantining ip on revoke", "error", err, "session_id", sess.ID)
	}

	if s.audit != nil {
		s.audit.Log(audit.Entry{Action: "session_revoked", Resource: "session", ResourceID: sess.ID, Detail: "Revoked by owner", UserID: userID})
	}

	telemetry.SessionsRevokedTotal.WithLabelValues("user").Inc()
	return revokedAt, nil
}

// loadOwnedAndExpire loads a session, applies on-access expiry, verifies
// ownership, and commits regardless of the resulting status so the expiry
// flip is never silently rolled back by a caller that rejects the session
// for being inactive.
func (s *Service) loadOwnedAndExpire(ctx context.Context, sessionID, userID string) (*Session, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, apierr.Wrap(apierr.KindInternal, "beginning transaction", err)
	}
	defer tx.Rollback(ctx)

	sess, expiredNow, err := s.LoadAndExpire(ctx, tx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if err := RequireOwner(sess, userID); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, apierr.Wrap(apierr.KindInternal, "committing", err)
	}
	return sess, expiredNow, nil
}

func (s *Service) quarantine(ctx context.Context, sessionID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.ipPool.QuarantineSession(ctx, tx, sessionID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Renew extends an ACTIVE session's sliding expiry by its own stored
// ttl_step_seconds, capped at max_expires_at. The step size is fixed at
// creation time; renew does not accept a caller-supplied override.
func (s *Service) Renew(ctx context.Context, sessionID, userID string) (*Session, error) {
	sess, expiredNow, err := s.loadOwnedAndExpire(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if expiredNow {
		s.finishExpiry(ctx, sess)
	}
	if sess.Status != StatusActive {
		return nil, apierr.New(apierr.KindConflict, "session is not active")
	}

	now := time.Now().UTC()
	if !now.Before(sess.MaxExpiresAt) {
		return nil, apierr.New(apierr.KindConflict, "session TTL max reached")
	}

	newExpires := now.Add(time.Duration(sess.TTLStepSeconds) * time.Second)
	if newExpires.After(sess.MaxExpiresAt) {
		newExpires = sess.MaxExpiresAt
	}
	if !newExpires.After(sess.ExpiresAt) {
		return nil, apierr.New(apierr.KindConflict, "no extension possible")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "beginning transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := s.store.SetExpiresAt(ctx, tx, sess.ID, newExpires); err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "renewing session", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "committing renew", err)
	}

	sess.ExpiresAt = newExpires
	return sess, nil
}

// ClientConfig returns the WireGuard configuration for an owned ACTIVE session.
func (s *Service) ClientConfig(ctx context.Context, sessionID, userID string) (*Config, error) {
	sess, expiredNow, err := s.loadOwnedAndExpire(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if expiredNow {
		s.finishExpiry(ctx, sess)
	}
	if sess.Status != StatusActive {
		return nil, apierr.New(apierr.KindConflict, "session is not active")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "beginning transaction", err)
	}
	defer tx.Rollback(ctx)

	ip, err := s.ipPool.GetBySession(ctx, tx, sess.ID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "looking up session address", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "committing", err)
	}

	return &Config{
		Interface: WgInterface{
			Address: ip.String() + "/32",
			DNS:     []string{s.dns},
		},
		Peer: WgPeer{
			PublicKey:           s.gatewayPubkey,
			Endpoint:            s.endpoint,
			AllowedIPs:          s.allowedIPs,
			PersistentKeepalive: persistentKeepalive,
		},
	}, nil
}
