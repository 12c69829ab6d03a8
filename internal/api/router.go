package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/salonflow/controlplane/internal/api/handlers"
	"github.com/salonflow/controlplane/internal/api/middleware"
	"github.com/salonflow/controlplane/internal/auth"
	"github.com/salonflow/controlplane/pkg/contracts"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with every route the control plane
// exposes: the Decision Pipeline ingress, provider webhooks, the internal
// task handlers the scheduler's queue calls back into, and health/version.
func NewRouter(h *handlers.Handlers, authChain contracts.AuthProviderChain, serviceAccounts *auth.ServiceAccountProvider) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.TenantExtractor)
	r.Use(middleware.Telemetry)

	// Pluggable auth: walks registered providers (API key, service account,
	// ...) and stores the resulting Identity in context. Enforcement of
	// CONTROLPLANE_REQUIRE_AUTH happens inside the middleware itself.
	if authChain != nil {
		authMW := middleware.NewAuthMiddleware(authChain)
		r.Use(authMW.Handler)
	}

	// CORS — configurable via CONTROLPLANE_CORS_ORIGINS. Wildcard origins
	// must disable AllowCredentials per the Fetch spec, or a credentialed
	// request from any origin would be accepted.
	corsOrigins := parseCORSOrigins()
	isWildcard := len(corsOrigins) == 1 && corsOrigins[0] == "*"
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-Id", "X-Request-Id", "X-API-Key", "X-Service-Token"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: !isWildcard,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Get("/version", h.Version)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/agents", func(r chi.Router) {
			r.Post("/{agentName}/invoke", h.Invoke)
		})
	})

	// Provider webhooks — delivery status callbacks and inbound replies.
	// These skip the pluggable auth chain (see isAuthPublicPath in
	// middleware/auth.go); the handlers do not verify provider signatures.
	r.Route("/webhooks/provider", func(r chi.Router) {
		r.Post("/status", h.StatusWebhook)
		r.Post("/incoming", h.IncomingWebhook)
	})

	// Internal task handlers — called only by this service's own task
	// queue dispatcher, authenticated with a minted service token
	// regardless of the public CONTROLPLANE_REQUIRE_AUTH setting.
	r.Route("/internal/tasks", func(r chi.Router) {
		r.Use(middleware.RequireServiceToken(serviceAccounts))
		r.Post("/execute", h.ExecuteTask)
		r.Post("/send-notification", h.SendNotification)
		r.Post("/cleanup", h.Cleanup)
	})

	return r
}

// parseCORSOrigins reads allowed CORS origins from the environment.
// Default: wildcard (open access, credentials disabled).
func parseCORSOrigins() []string {
	originsEnv := os.Getenv("CONTROLPLANE_CORS_ORIGINS")
	if originsEnv == "" {
		return []string{"*"}
	}

	var origins []string
	for _, o := range strings.Split(originsEnv, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
