// Package contracts defines the service interfaces that separate the
// composition root from concrete implementations: storage, the LLM
// gateway, outbound messaging channels, event publishing, and the agent
// registry. Components depend on these interfaces, never on each other's
// concrete types, so any of them can be swapped in tests or in a future
// enterprise build without touching call sites.
package contracts

import (
	"context"
	"net/http"
	"time"

	"github.com/salonflow/controlplane/internal/store"
	"github.com/salonflow/controlplane/pkg/models"
)

// Store is a type alias for the internal Store interface, exposed here so
// higher-level packages can accept a contracts.Store without importing
// internal/store directly.
type Store = store.Store

// ErrNotFound is a type alias for the internal not-found error.
type ErrNotFound = store.ErrNotFound

// ── LLM Gateway ─────────────────────────────────────────────

// ChatMessage is one turn in an LLM conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the normalized request the gateway sends to a provider.
type ChatRequest struct {
	TenantID    string
	Prompt      string
	System      string
	History     []ChatMessage
	Model       string // empty = use default, pin disables fallback
	Temperature float64
	MaxTokens   int
	Stream      bool
}

// TokenUsage reports provider-billed token counts.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatChoice is one candidate completion.
type ChatChoice struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the normalized response from an LLM provider call.
type ChatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   TokenUsage   `json:"usage"`
}

// StreamChunk is one fragment of a streamed completion. Done=true marks the
// sentinel; Delta is empty on the final chunk.
type StreamChunk struct {
	Delta string
	Done  bool
}

// LLMGateway invokes an external LLM provider with the fallback-once
// behavior and typed errors described in the gateway's component design.
type LLMGateway interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
}

// ── Channel Driver (outbound messaging) ─────────────────────

// SendRequest is what the Outreach state machine hands to a ChannelDriver
// to dispatch one customer message.
type SendRequest struct {
	TenantID string
	To       string
	Body     string
	Channel  models.OutreachChannel
}

// SendResult is the provider's synchronous ack for a send attempt.
type SendResult struct {
	ProviderMessageID string
}

// ChannelDriver sends a message over one outbound transport (WhatsApp, SMS,
// push, email). Drivers are keyed by kind in the map the Outreach machine is
// built with (see buildChannelDrivers in pkg/server).
type ChannelDriver interface {
	Kind() models.OutreachChannel
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}

// ── Event Publisher ──────────────────────────────────────────

// Event is the envelope published to the external event topic (§6).
type Event struct {
	EventType string         `json:"event_type"`
	TenantID  string         `json:"tenant_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// EventPublisher emits domain events to an external pub-sub topic.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// ── Booking Client ───────────────────────────────────────────

// CreateBookingRequest is what the Gap-Fill orchestrator sends to request a
// booking on behalf of a customer who accepted an outreach.
type CreateBookingRequest struct {
	TenantID    string
	CustomerID  string
	StaffID     string
	ServiceID   string
	SlotStart   time.Time
	TriggerID   string // correlates back to the originating Decision/Gap
}

// BookingResult is the external booking service's synchronous ack.
type BookingResult struct {
	BookingID string
	Amount    float64
}

// BookingClient requests booking creation from the external booking service.
// The control plane never owns booking state — it requests creation and
// reconciles via this interface.
type BookingClient interface {
	CreateBooking(ctx context.Context, req CreateBookingRequest) (*BookingResult, error)
}

// ── Task Queue ───────────────────────────────────────────────

// Task is one unit of deferred work handed to the external queue.
type Task struct {
	Queue       string
	Name        string // deterministic; internal/queue does not deduplicate on it
	HandlerPath string
	Payload     map[string]any
	ScheduleAt  *time.Time
}

// TaskQueue wraps the external task-queue service the Task Scheduler
// targets.
type TaskQueue interface {
	Enqueue(ctx context.Context, task Task) error
}

// ── Agent Registry ───────────────────────────────────────────

// AgentRequest is the normalized request entering the Decision Pipeline at
// the agent-execute stage.
type AgentRequest struct {
	TenantID  string
	UserID    string
	SessionID string
	Channel   string
	Language  string
	Params    map[string]any
}

// AgentResult is what an Agent implementation and the Decision Pipeline as
// a whole return to the caller.
type AgentResult struct {
	Success     bool
	Data        map[string]any
	Message     string
	Cached      bool
	Suggestions []string
	Confidence  float64
	ModelUsed   string
}

// Agent is the common capability set every registered agent implements.
// The registry is a static map from name to implementation populated at
// startup; a missing agent is a typed NotFound error, not a runtime
// attribute failure.
type Agent interface {
	Name() string
	Description() string
	SystemPrompt() string
	Handle(ctx context.Context, req AgentRequest) (*AgentResult, error)
}

// ── Embedding & Vector Store drivers (Response Cache semantic layer) ───

// EmbeddingDriver turns text into a vector for the semantic cache layer.
type EmbeddingDriver interface {
	Kind() string
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimensions() int
}

// VectorMatch is one semantic-cache hit.
type VectorMatch struct {
	ID         string
	Similarity float64
	Metadata   map[string]any
}

// VectorStoreDriver stores and searches embeddings by cosine similarity.
type VectorStoreDriver interface {
	Kind() string
	Upsert(ctx context.Context, namespace, id string, vector []float64, metadata map[string]any) error
	Search(ctx context.Context, namespace string, vector []float64, topK int) ([]VectorMatch, error)
	Delete(ctx context.Context, namespace, id string) error
}

// ── Authentication ───────────────────────────────────────────

// Identity represents an authenticated caller. Produced by an AuthProvider
// and stored in the request context by the auth and service-token
// middleware (pkg/middleware.SetIdentity); no handler reads it back.
type Identity struct {
	Subject     string            `json:"subject"`
	Provider    string            `json:"provider"`
	TenantID    string            `json:"tenant_id,omitempty"`
	Claims      map[string]string `json:"claims,omitempty"`
	ExpiresAt   time.Time         `json:"expires_at,omitempty"`
}

// AuthProvider authenticates one HTTP request.
//
// Contract:
//   - (*Identity, nil) → authenticated, stop the chain
//   - (nil, nil) → this provider doesn't apply, try the next one
//   - (nil, error) → authentication was attempted and failed, reject
type AuthProvider interface {
	Name() string
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	Enabled() bool
}

// AuthProviderChain tries providers in priority order until one matches.
type AuthProviderChain interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	RegisterProvider(provider AuthProvider)
}
