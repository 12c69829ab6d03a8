// Package cache implements the Response Cache: an exact-match layer keyed by
// a canonical hash of the request, and a semantic layer keyed by a cosine
// similarity search over prompt embeddings. Both layers sit in front of the
// LLM Gateway so a repeated or near-duplicate prompt never reaches the
// provider twice.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/salonflow/controlplane/pkg/contracts"
	"golang.org/x/sync/singleflight"
)

// Config holds the two layers' TTLs and the semantic similarity floor.
type Config struct {
	ExactTTL          time.Duration
	SemanticTTL       time.Duration
	SemanticThreshold float64
}

type exactEntry struct {
	response  contracts.ChatResponse
	expiresAt time.Time
}

// ResponseCache is safe for concurrent use. The exact layer is an in-process
// map; the semantic layer delegates to a VectorStoreDriver/EmbeddingDriver
// pair so it can be swapped for pgvector without touching call sites.
type ResponseCache struct {
	cfg Config

	mu    sync.RWMutex
	exact map[string]exactEntry

	group singleflight.Group

	embeddings contracts.EmbeddingDriver
	vectors    contracts.VectorStoreDriver
}

// New creates a Response Cache. embeddings/vectors may be nil, in which case
// the semantic layer is disabled and only exact-match lookups apply.
func New(cfg Config, embeddings contracts.EmbeddingDriver, vectors contracts.VectorStoreDriver) *ResponseCache {
	return &ResponseCache{
		cfg:        cfg,
		exact:      make(map[string]exactEntry),
		embeddings: embeddings,
		vectors:    vectors,
	}
}

// temperatureBucket rounds temperature to the nearest tenth so that
// cosmetically distinct floats (0.70000001 vs 0.7) share a cache key.
func temperatureBucket(t float64) int {
	return int(t*10 + 0.5)
}

// exactKey computes the SHA-256 hash of the canonical-JSON-encoded request
// fields that determine the output: tenant, prompt, system, model, and
// temperature bucket. Map key ordering doesn't matter here since the
// encoded struct has fixed field order.
func exactKey(req contracts.ChatRequest) string {
	payload := struct {
		TenantID string `json:"tenant_id"`
		Prompt   string `json:"prompt"`
		System   string `json:"system"`
		Model    string `json:"model"`
		TempBkt  int    `json:"temp_bucket"`
	}{
		TenantID: req.TenantID,
		Prompt:   req.Prompt,
		System:   req.System,
		Model:    req.Model,
		TempBkt:  temperatureBucket(req.Temperature),
	}
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// namespace scopes the semantic vector index by (tenant, model) so a hit
// never crosses tenants or providers.
func namespace(tenantID, model string) string {
	return tenantID + ":" + model
}

// GetExact looks up the exact-match layer. A miss returns (nil, false).
func (c *ResponseCache) GetExact(_ context.Context, req contracts.ChatRequest) (*contracts.ChatResponse, bool) {
	key := exactKey(req)

	c.mu.RLock()
	entry, ok := c.exact[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	resp := entry.response
	return &resp, true
}

// GetSemantic searches the semantic layer for a near-duplicate prompt. A hit
// requires cosine similarity at or above the configured threshold and the
// same (tenant, model). Returns (nil, false, nil) on a miss or when the
// semantic layer is disabled.
func (c *ResponseCache) GetSemantic(ctx context.Context, req contracts.ChatRequest) (*contracts.ChatResponse, bool, error) {
	if c.embeddings == nil || c.vectors == nil {
		return nil, false, nil
	}

	vector, err := c.embeddings.Embed(ctx, req.Prompt)
	if err != nil {
		return nil, false, fmt.Errorf("embed prompt: %w", err)
	}

	matches, err := c.vectors.Search(ctx, namespace(req.TenantID, req.Model), vector, 1)
	if err != nil {
		return nil, false, fmt.Errorf("semantic search: %w", err)
	}
	if len(matches) == 0 || matches[0].Similarity < c.cfg.SemanticThreshold {
		return nil, false, nil
	}

	raw, ok := matches[0].Metadata["response"].(string)
	if !ok {
		return nil, false, nil
	}
	var resp contracts.ChatResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, false, nil
	}
	return &resp, true, nil
}

// GetOrCompute returns a cached response for req if one exists in either
// layer; otherwise it calls compute exactly once per exact key even under
// concurrent callers (single-flight coalescing) and populates both cache
// layers with the result before returning it.
func (c *ResponseCache) GetOrCompute(ctx context.Context, req contracts.ChatRequest, compute func(context.Context) (*contracts.ChatResponse, error)) (*contracts.ChatResponse, bool, error) {
	if resp, hit := c.GetExact(ctx, req); hit {
		return resp, true, nil
	}
	if resp, hit, err := c.GetSemantic(ctx, req); err == nil && hit {
		return resp, true, nil
	}

	key := exactKey(req)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		resp, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(ctx, req, resp)
		return resp, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*contracts.ChatResponse), false, nil
}

// Set writes resp into both cache layers. Writes are best-effort: a failure
// in either layer is logged and otherwise ignored, since a cache write
// failure must never fail the caller's already-computed response.
func (c *ResponseCache) Set(ctx context.Context, req contracts.ChatRequest, resp *contracts.ChatResponse) {
	key := exactKey(req)
	c.mu.Lock()
	c.exact[key] = exactEntry{response: *resp, expiresAt: time.Now().Add(c.cfg.ExactTTL)}
	c.mu.Unlock()

	if c.embeddings == nil || c.vectors == nil {
		return
	}

	vector, err := c.embeddings.Embed(ctx, req.Prompt)
	if err != nil {
		log.Warn().Err(err).Msg("response cache: embed for semantic write failed")
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		log.Warn().Err(err).Msg("response cache: marshal response for semantic write failed")
		return
	}
	metadata := map[string]any{"response": string(raw), "expires_at": time.Now().Add(c.cfg.SemanticTTL)}
	if err := c.vectors.Upsert(ctx, namespace(req.TenantID, req.Model), key, vector, metadata); err != nil {
		log.Warn().Err(err).Msg("response cache: semantic upsert failed")
	}
}

// InvalidatePrefix removes every exact-layer entry whose key starts with
// prefix, scanning at most 1000 keys per call so a broad invalidation can't
// stall the request path holding the write lock.
func (c *ResponseCache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.exact))
	for k := range c.exact {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	removed := 0
	scanned := 0
	for _, k := range keys {
		if scanned >= 1000 {
			break
		}
		scanned++
		if strings.HasPrefix(k, prefix) {
			delete(c.exact, k)
			removed++
		}
	}
	return removed
}
