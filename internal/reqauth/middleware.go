package reqauth

import (
	"net/http"
	"strings"

	"github.com/latticevpn/sessiond/internal/httpserver"
	"github.com/latticevpn/sessiond/pkg/token"
)

// RequireScope returns middleware that authenticates the caller's bearer
// token and rejects the request unless it carries wantScope.
//
// Session create, renew and config require a proof token minted by a prior
// MFA challenge; the step-up routes and session status and revoke require an
// access token.
func RequireScope(mgr *token.Manager, wantScope token.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

			claims, err := mgr.Verify(raw, wantScope)
			if err != nil {
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}

			ctx := NewContext(r.Context(), &Identity{UserID: claims.Subject, Scope: claims.Scope})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
