// Package auth implements the two-step password-plus-TOTP login flow and the
// step-up re-authentication flow used before sensitive session operations.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/latticevpn/sessiond/internal/apierr"
	"github.com/latticevpn/sessiond/pkg/challenge"
	"github.com/latticevpn/sessiond/pkg/credential"
	"github.com/latticevpn/sessiond/pkg/token"
	"github.com/latticevpn/sessiond/pkg/user"
)

// Service implements the login and step-up challenge flows.
type Service struct {
	pool       *pgxpool.Pool
	users      *user.Store
	challenges *challenge.Store
	tokens     *token.Manager
	logger     *slog.Logger
}

// NewService creates an auth Service.
func NewService(pool *pgxpool.Pool, users *user.Store, challenges *challenge.Store, tokens *token.Manager, logger *slog.Logger) *Service {
	return &Service{pool: pool, users: users, challenges: challenges, tokens: tokens, logger: logger}
}

// Start verifies username/password and issues a LOGIN challenge. It returns
// the same generic unauthorized error whether the username is unknown or the
// password is wrong, so a caller cannot enumerate accounts.
func (s *Service) Start(ctx context.Context, username, password string) (*challenge.Challenge, error) {
	u, err := s.users.GetByUsername(ctx, s.pool, username)
	if errors.Is(err, user.ErrNotFound) || (err == nil && !u.IsActive) {
		return nil, apierr.New(apierr.KindUnauthorized, "invalid username or password")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "looking up user", err)
	}

	if !credential.VerifyPassword(u.PasswordHash, password) {
		return nil, apierr.New(apierr.KindUnauthorized, "invalid username or password")
	}

	c, err := s.challenges.Create(ctx, s.pool, u.ID, challenge.TypeLogin)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "creating challenge", err)
	}
	return c, nil
}

// VerifyMFA consumes a LOGIN challenge by TOTP code and, on success, mints
// both an access token and a proof token (the caller just proved a complete
// second factor, so the proof token is handed out immediately rather than
// requiring a separate step-up round trip).
func (s *Service) VerifyMFA(ctx context.Context, challengeID uuid.UUID, code string) (accessToken, proofToken string, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", "", apierr.Wrap(apierr.KindInternal, "beginning transaction", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.challenges.GetForUpdate(ctx, tx, challengeID, challenge.TypeLogin)
	if errors.Is(err, challenge.ErrNotFound) {
		return "", "", apierr.New(apierr.KindNotFound, "challenge not found")
	}
	if err != nil {
		return "", "", apierr.Wrap(apierr.KindInternal, "loading challenge", err)
	}

	if err := checkUsable(c); err != nil {
		return "", "", err
	}

	u, err := s.users.GetByID(ctx, tx, c.UserID)
	if err != nil {
		return "", "", apierr.Wrap(apierr.KindInternal, "loading user", err)
	}

	if !credential.VerifyTOTP(code, u.TOTPSecret) {
		if err := s.challenges.IncrementTries(ctx, tx, c.ID); err != nil {
			return "", "", apierr.Wrap(apierr.KindInternal, "recording failed attempt", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return "", "", apierr.Wrap(apierr.KindInternal, "committing", err)
		}
		return "", "", apierr.New(apierr.KindUnauthorized, "invalid verification code")
	}

	if err := s.challenges.Consume(ctx, tx, c.ID); err != nil {
		return "", "", apierr.Wrap(apierr.KindInternal, "consuming challenge", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", "", apierr.Wrap(apierr.KindInternal, "committing", err)
	}

	access, err := s.tokens.MintAccess(u.ID)
	if err != nil {
		return "", "", apierr.Wrap(apierr.KindInternal, "minting access token", err)
	}
	proof, err := s.tokens.MintProof(u.ID)
	if err != nil {
		return "", "", apierr.Wrap(apierr.KindInternal, "minting proof token", err)
	}
	return access, proof, nil
}

// StepUpStart issues a STEPUP challenge for an already access-authenticated
// user, used before an operation that requires a fresh proof token.
func (s *Service) StepUpStart(ctx context.Context, userID string) (*challenge.Challenge, error) {
	c, err := s.challenges.Create(ctx, s.pool, userID, challenge.TypeStepUp)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "creating challenge", err)
	}
	return c, nil
}

// StepUpVerify consumes a STEPUP challenge by TOTP code and mints a proof
// token. The challenge must belong to the authenticated caller.
func (s *Service) StepUpVerify(ctx context.Context, callerUserID string, challengeID uuid.UUID, code string) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", apierr.Wrap(apierr.KindInternal, "beginning transaction", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.challenges.GetForUpdate(ctx, tx, challengeID, challenge.TypeStepUp)
	if errors.Is(err, challenge.ErrNotFound) {
		return "", apierr.New(apierr.KindNotFound, "challenge not found")
	}
	if err != nil {
		return "", apierr.Wrap(apierr.KindInternal, "loading challenge", err)
	}

	if c.UserID != callerUserID {
		return "", apierr.New(apierr.KindForbidden, "challenge does not belong to the caller")
	}

	if err := checkUsable(c); err != nil {
		return "", err
	}

	u, err := s.users.GetByID(ctx, tx, c.UserID)
	if err != nil {
		return "", apierr.Wrap(apierr.KindInternal, "loading user", err)
	}

	if !credential.VerifyTOTP(code, u.TOTPSecret) {
		if err := s.challenges.IncrementTries(ctx, tx, c.ID); err != nil {
			return "", apierr.Wrap(apierr.KindInternal, "recording failed attempt", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return "", apierr.Wrap(apierr.KindInternal, "committing", err)
		}
		return "", apierr.New(apierr.KindUnauthorized, "invalid verification code")
	}

	if err := s.challenges.Consume(ctx, tx, c.ID); err != nil {
		return "", apierr.Wrap(apierr.KindInternal, "consuming challenge", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", apierr.Wrap(apierr.KindInternal, "committing", err)
	}

	proof, err := s.tokens.MintProof(u.ID)
	if err != nil {
		return "", apierr.Wrap(apierr.KindInternal, "minting proof token", err)
	}
	return proof, nil
}

// checkUsable maps challenge.CheckUsable's sentinel errors to apierr kinds.
func checkUsable(c *challenge.Challenge) error {
	switch err := challenge.CheckUsable(c, time.Now().UTC()); {
	case errors.Is(err, challenge.ErrConsumed):
		return apierr.New(apierr.KindGone, "challenge already used")
	case errors.Is(err, challenge.ErrExpired):
		return apierr.New(apierr.KindGone, "challenge expired")
	case errors.Is(err, challenge.ErrTooManyTries):
		return apierr.New(apierr.KindTooManyAttempts, "too many verification attempts")
	case err != nil:
		return apierr.Wrap(apierr.KindInternal, "checking challenge", err)
	default:
		return nil
	}
}
