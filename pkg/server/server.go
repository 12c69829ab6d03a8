// Package server provides the public entry point for initializing the
// salon control plane server.
//
// This package exists in pkg/ (not internal/) so a multi-tenant host
// deployment can import it and compose the full server with its own
// overrides.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(fmt.Sprintf(":%d", srv.Port), srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/salonflow/controlplane/internal/agentruntime"
	"github.com/salonflow/controlplane/internal/agents"
	"github.com/salonflow/controlplane/internal/api"
	"github.com/salonflow/controlplane/internal/api/handlers"
	"github.com/salonflow/controlplane/internal/approval"
	"github.com/salonflow/controlplane/internal/auth"
	"github.com/salonflow/controlplane/internal/booking"
	"github.com/salonflow/controlplane/internal/cache"
	"github.com/salonflow/controlplane/internal/catalog"
	"github.com/salonflow/controlplane/internal/channels"
	"github.com/salonflow/controlplane/internal/config"
	"github.com/salonflow/controlplane/internal/embeddings"
	"github.com/salonflow/controlplane/internal/events"
	"github.com/salonflow/controlplane/internal/gapfill"
	"github.com/salonflow/controlplane/internal/llm"
	"github.com/salonflow/controlplane/internal/outreach"
	"github.com/salonflow/controlplane/internal/pipeline"
	"github.com/salonflow/controlplane/internal/queue"
	"github.com/salonflow/controlplane/internal/ratelimit"
	"github.com/salonflow/controlplane/internal/scheduler"
	"github.com/salonflow/controlplane/internal/store"
	"github.com/salonflow/controlplane/internal/store/pgstore"
	"github.com/salonflow/controlplane/internal/telemetry"
	"github.com/salonflow/controlplane/internal/vectorstore"
	"github.com/salonflow/controlplane/pkg/contracts"
	"github.com/salonflow/controlplane/pkg/models"
)

// Server holds the fully initialized control plane.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store — in-memory unless DATABASE_URL is set.
	Store store.Store

	// Port is the port the server should listen on.
	Port int

	// Scheduler is exposed so a host process can drive its periodic tick
	// loop (TickAgents) on its own cadence.
	Scheduler *scheduler.Scheduler

	// AuthChain is the pluggable authentication provider chain. A host can
	// register additional providers (OIDC, mTLS, ...) before serving.
	AuthChain *auth.ProviderChain

	// Catalog is the live model capability database.
	Catalog *catalog.Catalog

	// ShutdownFunc flushes telemetry and releases the store on shutdown.
	ShutdownFunc func(context.Context) error
}

// New initializes the control plane from environment configuration.
func New(ctx context.Context) (*Server, error) {
	cfg := config.Load()
	return build(ctx, cfg)
}

func build(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := dataStore.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	seedDefaultTenant(ctx, dataStore)

	publisher := events.New(events.Config{
		URL:    os.Getenv("EVENTS_WEBHOOK_URL"),
		APIKey: os.Getenv("EVENTS_WEBHOOK_API_KEY"),
	})

	runtime := agentruntime.New(dataStore, agentruntime.Config{
		CircuitThreshold:     cfg.Circuit.Threshold,
		CircuitWindowMinutes: cfg.Circuit.WindowMinutes,
		CircuitMaxCooldown:   cfg.Circuit.MaxCooldown,
		DefaultHourlyActions: 20,
		DefaultDailyActions:  100,
	})

	appr := approval.New(dataStore, approval.Config{ExpiryFor: cfg.Approval.ExpiryFor}, publisher)

	channelDrivers := buildChannelDrivers()
	out := outreach.New(dataStore, outreach.Config{
		DailyCap:      cfg.Outreach.DailyCap,
		HourlyCap:     cfg.Outreach.HourlyCap,
		Cooldown:      time.Duration(cfg.Outreach.CooldownMinutes) * time.Minute,
		DefaultExpiry: cfg.Outreach.DefaultExpiry,
	}, channelDrivers, publisher)

	bookingClient := booking.New(booking.Config{
		BaseURL: os.Getenv("BOOKING_BASE_URL"),
		APIKey:  os.Getenv("BOOKING_API_KEY"),
	})

	gf := gapfill.New(dataStore, runtime, appr, out, bookingClient, publisher, gapfill.Config{
		CandidateLimit:  10,
		DefaultAutonomy: models.AutonomySupervised,
	})
	appr.SetOnApproved(gf.Authorize)

	cat := catalog.New()

	embDriver := resolveEmbeddingDriver()
	vecDriver := resolveVectorStoreDriver(ctx)
	respCache := cache.New(cache.Config{
		ExactTTL:          cfg.Cache.ExactTTL,
		SemanticTTL:       cfg.Cache.SemanticTTL,
		SemanticThreshold: cfg.Cache.SemanticThreshold,
	}, embDriver, vecDriver)

	gateway := llm.New(llm.Config{
		BaseURL:       cfg.Provider.BaseURL,
		APIKey:        cfg.Provider.APIKey,
		DefaultModel:  cfg.Provider.DefaultModel,
		FallbackModel: cfg.Provider.FallbackModel,
		MaxTokens:     cfg.Provider.MaxTokens,
		Temperature:   cfg.Provider.Temperature,
		SiteURL:       os.Getenv("PROVIDER_SITE_URL"),
		SiteName:      os.Getenv("PROVIDER_SITE_NAME"),
	})

	registry := agents.NewRegistry()
	registry.Register(agents.NewGapFillAgent(gf, dataStore))

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		RequestsPerHour:   cfg.RateLimit.RequestsPerHour,
	})

	pipe := pipeline.New(respCache, cat, gateway, registry, limiter, runtime)

	taskQueue := queue.New(queue.Config{
		BaseURL:     os.Getenv("CONTROLPLANE_SELF_URL"),
		Secret:      []byte(os.Getenv("CONTROLPLANE_SA_SECRET")),
		MaxInFlight: 64,
	})
	sched := scheduler.New(taskQueue, runtime, dataStore)
	out.SetOnCreated(func(ctx context.Context, record *models.Outreach) error {
		task := contracts.Task{
			Queue:       "outreach_sends",
			Name:        fmt.Sprintf("outreach_send:%s:%s", record.TenantID, record.ID),
			HandlerPath: "/internal/tasks/send-notification",
			Payload: map[string]any{
				"tenant_id":   record.TenantID,
				"outreach_id": record.ID,
				"channel":     string(record.Channel),
			},
		}
		return gf.EnqueueSend(ctx, taskQueue, record.TenantID, task)
	})

	authChain := auth.NewProviderChain()
	apiKeyProvider := auth.NewAPIKeyProvider()
	if apiKeyProvider.Enabled() {
		authChain.RegisterProvider(apiKeyProvider)
	}
	svcAcctProvider := auth.NewServiceAccountProvider()
	if svcAcctProvider.Enabled() {
		authChain.RegisterProvider(svcAcctProvider)
	}

	h := handlers.New(dataStore, pipe, runtime, registry, appr, out, gf, sched, cfg.Version)
	router := api.NewRouter(h, authChain, svcAcctProvider)

	return &Server{
		Handler:   router,
		Store:     dataStore,
		Port:      cfg.Port,
		Scheduler: sched,
		AuthChain: authChain,
		Catalog:   cat,
		ShutdownFunc: func(ctx context.Context) error {
			if err := shutdownTelemetry(ctx); err != nil {
				return err
			}
			return dataStore.Close()
		},
	}, nil
}

// openStore picks the Postgres-backed store when DATABASE_URL is set, and
// falls back to the in-memory store otherwise — matching the "zero
// configuration to start" posture of the OSS deployment this grew from.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.URL == "" {
		log.Info().Msg("controlplane: using in-memory store")
		return store.NewMemoryStore(), nil
	}
	s, err := pgstore.New(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("controlplane: using postgres store")
	return s, nil
}

// buildChannelDrivers wires one HTTP driver per outreach channel the
// environment has a base URL configured for. Channels with no base URL are
// left unregistered; Send against an unregistered channel is a caller bug,
// not a runtime fallback.
func buildChannelDrivers() map[models.OutreachChannel]contracts.ChannelDriver {
	drivers := make(map[models.OutreachChannel]contracts.ChannelDriver)
	specs := []struct {
		channel models.OutreachChannel
		baseURL string
		apiKey  string
	}{
		{models.ChannelWhatsApp, os.Getenv("WHATSAPP_PROVIDER_URL"), os.Getenv("WHATSAPP_PROVIDER_API_KEY")},
		{models.ChannelSMS, os.Getenv("SMS_PROVIDER_URL"), os.Getenv("SMS_PROVIDER_API_KEY")},
		{models.ChannelPush, os.Getenv("PUSH_PROVIDER_URL"), os.Getenv("PUSH_PROVIDER_API_KEY")},
		{models.ChannelEmail, os.Getenv("EMAIL_PROVIDER_URL"), os.Getenv("EMAIL_PROVIDER_API_KEY")},
	}
	for _, s := range specs {
		if s.baseURL == "" {
			continue
		}
		drivers[s.channel] = channels.New(channels.Config{Kind: s.channel, BaseURL: s.baseURL, APIKey: s.apiKey})
		log.Info().Str("channel", string(s.channel)).Msg("controlplane: outreach channel driver registered")
	}
	return drivers
}

// resolveEmbeddingDriver picks the Response Cache's semantic-layer
// embedding driver from the environment: OpenAI if a key is present,
// otherwise Ollama if a host is configured, otherwise nil (exact-match
// caching only).
func resolveEmbeddingDriver() contracts.EmbeddingDriver {
	reg := embeddings.NewRegistry()
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		model := os.Getenv("EMBEDDING_MODEL")
		if model == "" {
			model = "text-embedding-3-small"
		}
		reg.Register("openai", embeddings.NewOpenAIDriver(apiKey, model))
		d, _ := reg.Get("openai")
		return d
	}
	if host := os.Getenv("OLLAMA_URL"); host != "" {
		model := os.Getenv("OLLAMA_EMBED_MODEL")
		if model == "" {
			model = "nomic-embed-text"
		}
		reg.Register("ollama", embeddings.NewOllamaDriver(host, model))
		d, _ := reg.Get("ollama")
		return d
	}
	log.Info().Msg("controlplane: no embedding driver configured, semantic cache layer disabled")
	return nil
}

// resolveVectorStoreDriver picks pgvector when PGVECTOR_URL is set,
// otherwise the embedded in-memory brute-force store.
func resolveVectorStoreDriver(ctx context.Context) contracts.VectorStoreDriver {
	if pgURL := os.Getenv("PGVECTOR_URL"); pgURL != "" {
		dims := 1536
		vs, err := vectorstore.NewPgvectorStore(ctx, pgURL, dims)
		if err == nil {
			return vs
		}
		log.Warn().Err(err).Msg("controlplane: pgvector init failed, falling back to embedded store")
	}
	return vectorstore.NewEmbeddedStore()
}

func seedDefaultTenant(ctx context.Context, s store.Store) {
	if _, err := s.GetTenant(ctx, "default"); err == nil {
		return
	}
	tenant := &models.Tenant{
		ID:        "default",
		Name:      "Default Salon",
		Plan:      "free",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateTenant(ctx, tenant); err != nil {
		log.Warn().Err(err).Msg("controlplane: failed to seed default tenant")
	}
}

// Shutdown releases all resources the server holds.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.ShutdownFunc != nil {
		return s.ShutdownFunc(ctx)
	}
	return nil
}
