package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/salonflow/controlplane/internal/auth"
	pkgmw "github.com/salonflow/controlplane/pkg/middleware"
)

// RequireServiceToken gates the internal task endpoints behind a valid
// X-Service-Token, unconditionally — unlike AuthMiddleware, this never
// falls back to "allow unauthenticated" regardless of
// CONTROLPLANE_REQUIRE_AUTH, since these routes are queue-to-server calls
// that should never be reachable from the public internet without one.
func RequireServiceToken(provider *auth.ServiceAccountProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := provider.Authenticate(r.Context(), r)
			if err != nil || identity == nil {
				log.Warn().Err(err).Str("path", r.URL.Path).Msg("rejected task handler call: missing or invalid service token")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{
					"error":   "service_token_required",
					"message": "this endpoint requires a valid X-Service-Token header",
				})
				return
			}

			ctx := pkgmw.SetIdentity(r.Context(), identity)
			if identity.TenantID != "" {
				ctx = pkgmw.SetTenantID(ctx, identity.TenantID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
