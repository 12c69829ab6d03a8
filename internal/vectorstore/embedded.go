package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/salonflow/controlplane/pkg/contracts"
)

// DefaultMaxVectors is the default cap for the embedded store (50K) — enough
// for a single tenant's semantic cache without needing a managed vector DB.
const DefaultMaxVectors = 50_000

// entry is one stored vector plus its metadata.
type entry struct {
	vector   []float64
	metadata map[string]any
}

// EmbeddedStore is a lightweight in-memory vector store using brute-force
// cosine similarity search, namespaced by caller-provided string (the
// Response Cache uses "tenant:model"). Suitable for a single-process
// deployment; EmbeddedStore does not share state across replicas.
type EmbeddedStore struct {
	mu         sync.RWMutex
	entries    map[string]map[string]entry // namespace -> id -> entry
	maxVectors int
}

// EmbeddedOption configures the embedded store.
type EmbeddedOption func(*EmbeddedStore)

// WithMaxVectors sets the maximum number of vectors (default 50K).
func WithMaxVectors(max int) EmbeddedOption {
	return func(s *EmbeddedStore) { s.maxVectors = max }
}

// NewEmbeddedStore creates an in-memory vector store.
func NewEmbeddedStore(opts ...EmbeddedOption) *EmbeddedStore {
	s := &EmbeddedStore{
		entries:    make(map[string]map[string]entry),
		maxVectors: DefaultMaxVectors,
	}
	for _, opt := range opts {
		opt(s)
	}
	log.Info().Int("max_vectors", s.maxVectors).Msg("embedded vector store initialized")
	return s
}

func (s *EmbeddedStore) Kind() string { return "embedded" }

func (s *EmbeddedStore) total() int {
	n := 0
	for _, ns := range s.entries {
		n += len(ns)
	}
	return n
}

func (s *EmbeddedStore) Upsert(_ context.Context, namespace, id string, vector []float64, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.entries[namespace]
	if !ok {
		ns = make(map[string]entry)
		s.entries[namespace] = ns
	}

	if _, exists := ns[id]; !exists && s.total()+1 > s.maxVectors {
		return fmt.Errorf("embedded vector store capacity exceeded: max %d (switch to pgvector for larger deployments)", s.maxVectors)
	}

	ns[id] = entry{vector: vector, metadata: metadata}
	return nil
}

func (s *EmbeddedStore) Search(_ context.Context, namespace string, vector []float64, topK int) ([]contracts.VectorMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.entries[namespace]
	type scored struct {
		id    string
		e     entry
		score float64
	}
	candidates := make([]scored, 0, len(ns))
	for id, e := range ns {
		if len(e.vector) != len(vector) {
			continue
		}
		candidates = append(candidates, scored{id: id, e: e, score: cosineSimilarity(vector, e.vector)})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if topK > len(candidates) {
		topK = len(candidates)
	}
	results := make([]contracts.VectorMatch, topK)
	for i := 0; i < topK; i++ {
		results[i] = contracts.VectorMatch{
			ID:         candidates[i].id,
			Similarity: candidates[i].score,
			Metadata:   candidates[i].e.metadata,
		}
	}
	return results, nil
}

func (s *EmbeddedStore) Delete(_ context.Context, namespace, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries[namespace], id)
	return nil
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
