package reqauth

import (
	"crypto/subtle"
	"net/http"

	"github.com/latticevpn/sessiond/internal/httpserver"
)

// RequireAdminToken returns middleware that rejects requests whose
// X-Admin-Token header does not match the configured admin token. There is
// no admin identity or role hierarchy; the token is a single shared secret
// for the operator surface.
func RequireAdminToken(adminToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Admin-Token")
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(adminToken)) != 1 {
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
