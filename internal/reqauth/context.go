// Package reqauth authenticates API requests against the bearer tokens
// minted by pkg/token and gates the admin surface behind a static token.
package reqauth

import (
	"context"

	"github.com/latticevpn/sessiond/pkg/token"
)

// Identity is the authenticated caller stored in the request context.
type Identity struct {
	UserID string
	Scope  token.Scope
}

type contextKey int

const identityKey contextKey = iota

// NewContext returns a context carrying id.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the authenticated Identity, or nil if the request
// carries none.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}
