// Package catalog provides the model-tier lookup the LLM Gateway's
// model-router stage uses to pick a model by tier (cheap/standard/premium)
// instead of a hardcoded name. It keeps the teacher's thread-safe
// provider/model registry shape (RWMutex-guarded map, Register/Lookup/
// ListByTier) but drops the live LiteLLM price-feed fetch and provider
// discovery — this catalog is a small, operator-curated table, not a
// self-refreshing one, since the control plane pins to a small number of
// providers rather than routing across a tenant-configured fleet.
package catalog

import (
	"fmt"
	"sync"
)

// Tier is a coarse cost/quality bucket the model-router stage selects by.
type Tier string

const (
	TierCheap    Tier = "cheap"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// ModelCapability describes one registered model.
type ModelCapability struct {
	ModelID         string // "provider/model", e.g. "openai/gpt-4o-mini"
	ProviderKind    string
	ModelName       string
	Tier            Tier
	ContextWindow   int
	SupportsTools   bool
	SupportsVision  bool
}

// Catalog is a thread-safe in-memory table of model capabilities, seeded
// with built-in defaults and extensible via manual Register calls (e.g.
// from startup config or an admin endpoint).
type Catalog struct {
	mu     sync.RWMutex
	models map[string]*ModelCapability
}

// New creates a Catalog pre-loaded with the built-in default table.
func New() *Catalog {
	c := &Catalog{models: make(map[string]*ModelCapability)}
	c.loadBuiltinDefaults()
	return c
}

func (c *Catalog) loadBuiltinDefaults() {
	defaults := []*ModelCapability{
		{ModelID: "openai/gpt-4o-mini", ProviderKind: "openai", ModelName: "gpt-4o-mini", Tier: TierCheap, ContextWindow: 128000, SupportsTools: true},
		{ModelID: "openai/gpt-4o", ProviderKind: "openai", ModelName: "gpt-4o", Tier: TierStandard, ContextWindow: 128000, SupportsTools: true, SupportsVision: true},
		{ModelID: "openai/gpt-4.1", ProviderKind: "openai", ModelName: "gpt-4.1", Tier: TierPremium, ContextWindow: 1000000, SupportsTools: true, SupportsVision: true},
		{ModelID: "anthropic/claude-3-5-haiku", ProviderKind: "anthropic", ModelName: "claude-3-5-haiku", Tier: TierCheap, ContextWindow: 200000, SupportsTools: true},
		{ModelID: "anthropic/claude-3-5-sonnet", ProviderKind: "anthropic", ModelName: "claude-3-5-sonnet", Tier: TierStandard, ContextWindow: 200000, SupportsTools: true, SupportsVision: true},
		{ModelID: "anthropic/claude-3-opus", ProviderKind: "anthropic", ModelName: "claude-3-opus", Tier: TierPremium, ContextWindow: 200000, SupportsTools: true, SupportsVision: true},
		{ModelID: "ollama/llama3.1", ProviderKind: "ollama", ModelName: "llama3.1", Tier: TierCheap, ContextWindow: 128000},
	}
	for _, cap := range defaults {
		c.Register(cap)
	}
}

// Register adds or updates a model capability entry, indexed both by its
// canonical "provider/model" id and by its bare model name.
func (c *Catalog) Register(cap *ModelCapability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[cap.ModelID] = cap
	if cap.ModelName != "" {
		c.models[cap.ModelName] = cap
	}
}

// Lookup returns capability data for a model, trying "provider/model" then
// the bare model name.
func (c *Catalog) Lookup(providerKind, modelName string) *ModelCapability {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if cap, ok := c.models[providerKind+"/"+modelName]; ok {
		return cap
	}
	return c.models[modelName]
}

// ListByTier returns every registered model in the given tier, deduplicated
// by ModelID (entries are double-indexed by id and bare name).
func (c *Catalog) ListByTier(tier Tier) []*ModelCapability {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool)
	var result []*ModelCapability
	for _, cap := range c.models {
		if cap.Tier == tier && !seen[cap.ModelID] {
			seen[cap.ModelID] = true
			result = append(result, cap)
		}
	}
	return result
}

// Resolve picks one model registered for a tier; when several share the
// tier, which one is returned is not defined. It returns an error
// if no model is registered for that tier, since the model-router stage has
// no sensible default to fall back to.
func (c *Catalog) Resolve(tier Tier) (*ModelCapability, error) {
	candidates := c.ListByTier(tier)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("catalog: no model registered for tier %q", tier)
	}
	return candidates[0], nil
}
