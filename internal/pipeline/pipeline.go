// Package pipeline implements the Decision Pipeline: a fixed, named chain of
// middleware wrapped around the final agent-execute step. Order is fixed at
// startup — logging, rate-limit, guardrail, cache, model-router,
// agent-execute — and the pipeline itself is the sole error boundary: no
// stage panics or unhandled errors escape to the caller.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/salonflow/controlplane/internal/cache"
	"github.com/salonflow/controlplane/internal/catalog"
	"github.com/salonflow/controlplane/internal/guardrails"
	"github.com/salonflow/controlplane/pkg/contracts"
)

// Result is the uniform shape every middleware (and the pipeline as a
// whole) returns.
type Result struct {
	Success       bool
	Data          map[string]any
	Message       string
	Cached        bool
	SkipRemaining bool
	Metadata      map[string]any
}

// State threads request-scoped bookkeeping through the chain: the request
// id, timing, and anything a later stage needs that an earlier stage
// produced (resolved model, guardrail verdict, and so on).
type State struct {
	RequestID   string
	TenantID    string
	AgentName   string
	StartedAt   time.Time
	Request     contracts.AgentRequest
	Query       string
	TenantPlan  string
	ModelTier   catalog.Tier
	ChatRequest contracts.ChatRequest
}

// Stage is one middleware in the chain.
type Stage func(ctx context.Context, state *State, result *Result) error

// AgentRegistry resolves an agent by name for the agent-execute stage.
type AgentRegistry interface {
	Get(name string) (contracts.Agent, bool)
}

// RateLimiter is consulted by the rate-limit stage.
type RateLimiter interface {
	// Allow reports whether another request for (tenantID, agentName) fits
	// within the minute and hour limits. The internal/ratelimit
	// implementation counts fixed windows, not sliding ones.
	Allow(tenantID, agentName string) bool
}

// FailureTracker lets the model-router stage see recent per-agent failures
// when picking a tier, without depending on the Agent Runtime directly.
type FailureTracker interface {
	RecentFailures(tenantID, agentName string, within time.Duration) int
}

// Pipeline wires the fixed middleware order around agent-execute.
type Pipeline struct {
	cache      *cache.ResponseCache
	catalog    *catalog.Catalog
	gateway    contracts.LLMGateway
	registry   AgentRegistry
	limiter    RateLimiter
	failures   FailureTracker
}

// Config carries the rate-limit defaults used when a tenant has no override.
type Config struct {
	RequestsPerMinute int
	RequestsPerHour   int
}

// New creates a Pipeline wired to its collaborating components.
func New(c *cache.ResponseCache, cat *catalog.Catalog, gateway contracts.LLMGateway, registry AgentRegistry, limiter RateLimiter, failures FailureTracker) *Pipeline {
	return &Pipeline{cache: c, catalog: cat, gateway: gateway, registry: registry, limiter: limiter, failures: failures}
}

// Run executes the fixed stage order for one request. It never returns a
// non-nil error: every failure mode is expressed as Result.Success = false,
// per the pipeline-is-the-error-boundary invariant.
func (p *Pipeline) Run(ctx context.Context, req contracts.AgentRequest, query string, tenantPlan string) *Result {
	state := &State{
		RequestID:  uuid.New().String(),
		TenantID:   req.TenantID,
		AgentName:  agentNameOf(req),
		StartedAt:  time.Now().UTC(),
		Request:    req,
		Query:      query,
		TenantPlan: tenantPlan,
	}
	result := &Result{Success: true}

	stages := []Stage{
		p.logging,
		p.rateLimit,
		p.guardrail,
		p.cacheLookup,
		p.modelRouter,
		p.agentExecute,
	}

	for _, stage := range stages {
		select {
		case <-ctx.Done():
			result.Success = false
			result.Message = "cancelled"
			return result
		default:
		}

		if err := p.safeRun(ctx, stage, state, result); err != nil {
			log.Error().Err(err).Str("request_id", state.RequestID).Msg("pipeline: stage panicked, treating as failure")
			result.Success = false
			result.Message = "internal error"
			return result
		}
		if result.SkipRemaining {
			break
		}
	}

	log.Info().
		Str("request_id", state.RequestID).
		Str("tenant_id", state.TenantID).
		Str("agent", state.AgentName).
		Dur("elapsed", time.Since(state.StartedAt)).
		Bool("success", result.Success).
		Bool("cached", result.Cached).
		Msg("pipeline: request complete")

	return result
}

// safeRun recovers a stage panic into an error so one misbehaving stage
// cannot take the whole request down.
func (p *Pipeline) safeRun(ctx context.Context, stage Stage, state *State, result *Result) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("pipeline: recovered stage panic")
			err = panicErr{r}
		}
	}()
	return stage(ctx, state, result)
}

type panicErr struct{ v any }

func (p panicErr) Error() string { return "pipeline stage panic" }

func agentNameOf(req contracts.AgentRequest) string {
	if name, ok := req.Params["agent_name"].(string); ok {
		return name
	}
	return ""
}

// logging assigns the request id (already done in Run) and emits an entry
// event; the exit event is emitted once in Run after the chain completes.
func (p *Pipeline) logging(_ context.Context, state *State, _ *Result) error {
	log.Debug().
		Str("request_id", state.RequestID).
		Str("tenant_id", state.TenantID).
		Str("agent", state.AgentName).
		Msg("pipeline: request entered")
	return nil
}

// rateLimit enforces the per-(tenant, agent) request limits. Hitting the
// limit is success=false but is never recorded as a circuit-breaker error —
// that distinction belongs to the caller, not this stage.
func (p *Pipeline) rateLimit(_ context.Context, state *State, result *Result) error {
	if p.limiter == nil {
		return nil
	}
	if !p.limiter.Allow(state.TenantID, state.AgentName) {
		result.Success = false
		result.Message = "rate_limited"
		result.SkipRemaining = true
	}
	return nil
}

// guardrail classifies the query and rejects off-topic requests with a
// localized message.
func (p *Pipeline) guardrail(_ context.Context, state *State, result *Result) error {
	verdict := guardrails.Classify(state.Query)
	if !verdict.Allowed {
		result.Success = false
		result.Message = guardrails.RejectionResponse(verdict.Language)
		result.SkipRemaining = true
		result.Metadata = map[string]any{"guardrail_reason": verdict.Reason}
	}
	return nil
}

// cacheLookup tries the exact then semantic layers; a hit short-circuits
// the remaining stages.
func (p *Pipeline) cacheLookup(ctx context.Context, state *State, result *Result) error {
	if p.cache == nil {
		return nil
	}
	state.ChatRequest = contracts.ChatRequest{
		TenantID: state.TenantID,
		Messages: []contracts.ChatMessage{{Role: "user", Content: state.Query}},
	}

	if resp, ok := p.cache.GetExact(ctx, state.ChatRequest); ok {
		result.Cached = true
		result.SkipRemaining = true
		result.Data = map[string]any{"response": resp}
		return nil
	}
	resp, ok, err := p.cache.GetSemantic(ctx, state.ChatRequest)
	if err != nil {
		log.Warn().Err(err).Msg("pipeline: semantic cache lookup failed, continuing uncached")
		return nil
	}
	if ok {
		result.Cached = true
		result.SkipRemaining = true
		result.Data = map[string]any{"response": resp}
	}
	return nil
}

// modelRouter picks a tier from request size, tenant plan, and recent
// per-agent failures, then resolves the tier to a concrete model via the
// catalog.
func (p *Pipeline) modelRouter(_ context.Context, state *State, result *Result) error {
	tier := catalog.TierStandard
	switch {
	case len(state.Query) > 2000:
		tier = catalog.TierPremium
	case state.TenantPlan == "free":
		tier = catalog.TierCheap
	}
	if p.failures != nil && p.failures.RecentFailures(state.TenantID, state.AgentName, 5*time.Minute) > 0 {
		tier = catalog.TierCheap
	}
	state.ModelTier = tier

	if p.catalog != nil {
		model, err := p.catalog.Resolve(tier)
		if err != nil {
			result.Success = false
			result.Message = "no model available for tier"
			result.SkipRemaining = true
			return nil
		}
		state.ChatRequest.Model = model.ModelName
	}
	return nil
}

// agentExecute resolves the agent from the registry and invokes it. A
// missing agent is a typed failure, not a panic.
func (p *Pipeline) agentExecute(ctx context.Context, state *State, result *Result) error {
	if p.registry == nil {
		result.Success = false
		result.Message = "no agent registry configured"
		return nil
	}
	agent, ok := p.registry.Get(state.AgentName)
	if !ok {
		result.Success = false
		result.Message = "agent not found: " + state.AgentName
		return nil
	}

	agentResult, err := agent.Handle(ctx, state.Request)
	if err != nil {
		result.Success = false
		result.Message = err.Error()
		return nil
	}

	result.Success = agentResult.Success
	result.Data = agentResult.Data
	result.Message = agentResult.Message
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["model_used"] = agentResult.ModelUsed
	result.Metadata["confidence"] = agentResult.Confidence
	return nil
}
