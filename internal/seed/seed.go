// Package seed provisions a default user for first-run environments where
// no account yet exists to authenticate with.
package seed

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pquerna/otp"

	"github.com/latticevpn/sessiond/pkg/credential"
	"github.com/latticevpn/sessiond/pkg/user"
)

// DefaultUsername is the username assigned to the seeded account.
const DefaultUsername = "admin"

// Run provisions the default user if seedDefaultUser is set and no user
// named DefaultUsername already exists. The generated password and TOTP
// secret are logged once, in plaintext, since this is the only time they
// are ever recoverable.
func Run(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger, seedDefaultUser bool) error {
	if !seedDefaultUser {
		logger.Info("seed: SESSIOND_SEED_DEFAULT_USER is false, skipping")
		return nil
	}

	store := user.NewStore()
	if _, err := store.GetByUsername(ctx, pool, DefaultUsername); err == nil {
		logger.Info("seed: default user already exists, skipping", "username", DefaultUsername)
		return nil
	}

	password, err := randomPassword()
	if err != nil {
		return fmt.Errorf("generating seed password: %w", err)
	}
	passwordHash, err := credential.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing seed password: %w", err)
	}

	totpSecret, err := credential.GenerateTOTPSecret()
	if err != nil {
		return fmt.Errorf("generating seed totp secret: %w", err)
	}
	key, err := otp.NewKeyFromURL(totpURL(totpSecret))
	if err != nil {
		return fmt.Errorf("building totp key: %w", err)
	}

	if err := store.Create(ctx, pool, uuid.NewString(), DefaultUsername, passwordHash, totpSecret); err != nil {
		return fmt.Errorf("creating seed user: %w", err)
	}

	logger.Info("seed: created default user, record these now, they cannot be recovered",
		"username", DefaultUsername,
		"password", password,
		"totp_secret", totpSecret,
		"totp_uri", key.URL(),
	)
	return nil
}

func randomPassword() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b), nil
}

func totpURL(secret string) string {
	return fmt.Sprintf("otpauth://totp/sessiond:%s?secret=%s&issuer=sessiond&algorithm=SHA1&digits=6&period=30",
		DefaultUsername, secret)
}
