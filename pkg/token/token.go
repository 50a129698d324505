// Package token mints and verifies short-lived, self-signed bearer tokens
// used for both ordinary API access and step-up MFA proof.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// Scope distinguishes an ordinary access token from a short-lived step-up
// proof token. A handler that requires step-up MFA must reject an access
// scope token even if it is otherwise valid.
type Scope string

const (
	ScopeAccess Scope = "access"
	ScopeProof  Scope = "proof"
)

const issuer = "sessiond"

// Claims are the claims embedded in a minted token.
type Claims struct {
	Subject string `json:"sub"`
	Scope   Scope  `json:"scope"`
}

// Manager mints and verifies HMAC-signed JWTs.
type Manager struct {
	signingKey []byte
	accessTTL  time.Duration
	proofTTL   time.Duration
}

// NewManager creates a Manager. The secret must be at least 32 bytes.
func NewManager(secret string, accessTTL, proofTTL time.Duration) (*Manager, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes, got %d", len(secret))
	}
	return &Manager{
		signingKey: []byte(secret),
		accessTTL:  accessTTL,
		proofTTL:   proofTTL,
	}, nil
}

// GenerateDevSecret generates a random 32-byte hex-encoded secret for dev mode.
func GenerateDevSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return hex.EncodeToString(b)
}

func (m *Manager) ttlFor(scope Scope) time.Duration {
	if scope == ScopeProof {
		return m.proofTTL
	}
	return m.accessTTL
}

// AccessTTLSeconds reports the access token lifetime, for embedding in
// response bodies as access_expires_in.
func (m *Manager) AccessTTLSeconds() int { return int(m.accessTTL.Seconds()) }

// ProofTTLSeconds reports the proof token lifetime, for embedding in
// response bodies as proof_expires_in.
func (m *Manager) ProofTTLSeconds() int { return int(m.proofTTL.Seconds()) }

// Mint issues a signed token for subject (the user ID) with the given scope.
func (m *Manager) Mint(subject string, scope Scope) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: m.signingKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}

	now := time.Now()
	registered := jwt.Claims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(m.ttlFor(scope))),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    issuer,
	}
	custom := Claims{Subject: subject, Scope: scope}

	raw, err := jwt.Signed(signer).Claims(registered).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return raw, nil
}

// MintAccess is a convenience wrapper for Mint(subject, ScopeAccess).
func (m *Manager) MintAccess(subject string) (string, error) { return m.Mint(subject, ScopeAccess) }

// MintProof is a convenience wrapper for Mint(subject, ScopeProof).
func (m *Manager) MintProof(subject string) (string, error) { return m.Mint(subject, ScopeProof) }

// Verify checks the signature and expiry of raw and requires its scope to
// equal wantScope. An access-scoped token never satisfies a proof check and
// vice versa.
func (m *Manager) Verify(raw string, wantScope Scope) (*Claims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	var registered jwt.Claims
	var custom Claims
	if err := tok.Claims(m.signingKey, &registered, &custom); err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{
		Issuer: issuer,
		Time:   time.Now(),
	}, 0); err != nil {
		return nil, fmt.Errorf("validating claims: %w", err)
	}

	if custom.Scope != wantScope {
		return nil, fmt.Errorf("wrong token scope: want %s, got %s", wantScope, custom.Scope)
	}

	return &custom, nil
}
