// Package config loads the control plane's configuration from the
// environment with sensible defaults, following the recognized-options
// list in the external-interfaces section of the design: provider
// credentials, cache TTLs, rate limits, outreach budgets, circuit-breaker
// thresholds, and per-priority approval expiries.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the control plane.
type Config struct {
	Port      int
	Version   string
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
	Provider  ProviderConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Outreach  OutreachConfig
	Circuit   CircuitConfig
	Approval  ApprovalConfig
}

// DatabaseConfig configures the optional Postgres-backed store. When URL is
// empty, the server falls back to the in-memory store.
type DatabaseConfig struct {
	URL            string
	MaxConnections int
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// AuthConfig configures the internal-endpoint auth provider chain.
type AuthConfig struct {
	RequireAuth bool
	APIKeys     string // comma-separated, read by internal/auth
}

// ProviderConfig configures the LLM Gateway's outbound call.
type ProviderConfig struct {
	BaseURL       string
	APIKey        string
	DefaultModel  string
	FallbackModel string
	MaxTokens     int
	Temperature   float64
}

// CacheConfig configures the Response Cache's two layers.
type CacheConfig struct {
	ExactTTL          time.Duration
	SemanticTTL       time.Duration
	SemanticThreshold float64
}

// RateLimitConfig configures the Decision Pipeline's rate-limit middleware.
type RateLimitConfig struct {
	RequestsPerMinute int
	RequestsPerHour   int
}

// OutreachConfig configures the Outreach State Machine's preconditions.
type OutreachConfig struct {
	DailyCap        int
	HourlyCap       int
	CooldownMinutes int
	DefaultExpiry   time.Duration
}

// CircuitConfig configures the Agent Runtime's circuit breaker.
type CircuitConfig struct {
	Threshold     int
	WindowMinutes int
	MaxCooldown   time.Duration
}

// ApprovalConfig configures per-priority Approval expiry.
type ApprovalConfig struct {
	LowMinutes    int
	MediumMinutes int
	HighMinutes   int
	UrgentMinutes int
}

// ExpiryFor returns the configured expiry duration for a priority.
func (a ApprovalConfig) ExpiryFor(priority string) time.Duration {
	switch priority {
	case "low":
		return time.Duration(a.LowMinutes) * time.Minute
	case "high":
		return time.Duration(a.HighMinutes) * time.Minute
	case "urgent":
		return time.Duration(a.UrgentMinutes) * time.Minute
	default:
		return time.Duration(a.MediumMinutes) * time.Minute
	}
}

// Load reads configuration from environment variables with defaults
// matching the design's recognized-options list.
func Load() *Config {
	return &Config{
		Port:    envInt("CONTROLPLANE_PORT", 8080),
		Version: envStr("CONTROLPLANE_VERSION", "0.1.0"),
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 25),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", true),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "controlplane"),
		},
		Auth: AuthConfig{
			RequireAuth: envBool("CONTROLPLANE_REQUIRE_AUTH", false),
			APIKeys:     envStr("CONTROLPLANE_API_KEYS", ""),
		},
		Provider: ProviderConfig{
			BaseURL:       envStr("PROVIDER_BASE_URL", "https://openrouter.ai/api/v1"),
			APIKey:        envStr("PROVIDER_API_KEY", ""),
			DefaultModel:  envStr("DEFAULT_MODEL", "openai/gpt-4o-mini"),
			FallbackModel: envStr("FALLBACK_MODEL", "anthropic/claude-3-haiku"),
			MaxTokens:     envInt("MAX_TOKENS", 4096),
			Temperature:   envFloat("TEMPERATURE", 0.7),
		},
		Cache: CacheConfig{
			ExactTTL:          envDuration("CACHE_EXACT_TTL_S", 3600*time.Second),
			SemanticTTL:       envDuration("CACHE_SEMANTIC_TTL_S", 7200*time.Second),
			SemanticThreshold: envFloat("CACHE_SEMANTIC_THRESHOLD", 0.92),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("RATE_LIMIT_RPM", 60),
			RequestsPerHour:   envInt("RATE_LIMIT_RPH", 1000),
		},
		Outreach: OutreachConfig{
			DailyCap:        envInt("OUTREACH_DAILY_CAP", 200),
			HourlyCap:       envInt("OUTREACH_HOURLY_CAP", 50),
			CooldownMinutes: envInt("OUTREACH_COOLDOWN_MINUTES", 60),
			DefaultExpiry:   time.Duration(envInt("OUTREACH_DEFAULT_EXPIRY_MINUTES", 15)) * time.Minute,
		},
		Circuit: CircuitConfig{
			Threshold:     envInt("CIRCUIT_BREAKER_THRESHOLD", 5),
			WindowMinutes: envInt("CIRCUIT_BREAKER_WINDOW_MINUTES", 10),
			MaxCooldown:   30 * time.Minute,
		},
		Approval: ApprovalConfig{
			LowMinutes:    envInt("APPROVAL_EXPIRY_LOW_MINUTES", 30),
			MediumMinutes: envInt("APPROVAL_EXPIRY_MEDIUM_MINUTES", 15),
			HighMinutes:   envInt("APPROVAL_EXPIRY_HIGH_MINUTES", 5),
			UrgentMinutes: envInt("APPROVAL_EXPIRY_URGENT_MINUTES", 2),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
