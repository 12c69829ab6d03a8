package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/salonflow/controlplane/pkg/contracts"
)

// PgvectorStore implements VectorStoreDriver using PostgreSQL with the
// pgvector extension. The caller supplies the connection URL (pkg/server
// reads it from PGVECTOR_URL). Used for tenants whose semantic cache outgrows the
// embedded store.
type PgvectorStore struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPgvectorStore creates a pgvector-backed vector store and ensures the
// required table and indexes exist.
func NewPgvectorStore(ctx context.Context, connURL string, dimensions int) (*PgvectorStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector ping: %w", err)
	}

	s := &PgvectorStore{pool: pool, dimensions: dimensions}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector migrate: %w", err)
	}

	log.Info().Int("dims", dimensions).Msg("pgvector store initialized")
	return s, nil
}

func (s *PgvectorStore) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS cp_vectors (
			namespace  TEXT NOT NULL,
			id         TEXT NOT NULL,
			metadata   JSONB NOT NULL DEFAULT '{}',
			vector     vector(%d) NOT NULL,
			PRIMARY KEY (namespace, id)
		);

		CREATE INDEX IF NOT EXISTS idx_cp_vectors_ns ON cp_vectors (namespace);
	`, s.dimensions)

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PgvectorStore) Kind() string { return "pgvector" }

func (s *PgvectorStore) Upsert(ctx context.Context, namespace, id string, vector []float64, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `INSERT INTO cp_vectors (namespace, id, metadata, vector)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace, id) DO UPDATE SET
			metadata = EXCLUDED.metadata,
			vector = EXCLUDED.vector`

	_, err = s.pool.Exec(ctx, query, namespace, id, metaJSON, pgvectorArray(vector))
	return err
}

func (s *PgvectorStore) Search(ctx context.Context, namespace string, vector []float64, topK int) ([]contracts.VectorMatch, error) {
	query := `SELECT id, metadata, 1 - (vector <=> $1) AS score
		FROM cp_vectors
		WHERE namespace = $2
		ORDER BY vector <=> $1
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, pgvectorArray(vector), namespace, topK)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	var results []contracts.VectorMatch
	for rows.Next() {
		var id string
		var metaJSON []byte
		var score float64
		if err := rows.Scan(&id, &metaJSON, &score); err != nil {
			return nil, fmt.Errorf("pgvector scan: %w", err)
		}
		var metadata map[string]any
		if err := json.Unmarshal(metaJSON, &metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		results = append(results, contracts.VectorMatch{ID: id, Similarity: score, Metadata: metadata})
	}
	return results, rows.Err()
}

func (s *PgvectorStore) Delete(ctx context.Context, namespace, id string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM cp_vectors WHERE namespace = $1 AND id = $2", namespace, id)
	return err
}

// Close releases the connection pool.
func (s *PgvectorStore) Close() {
	s.pool.Close()
}

// pgvectorArray converts a float64 slice to pgvector's text format: [1,2.5,3]
func pgvectorArray(v []float64) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(fmt.Sprintf("%g", f))
	}
	sb.WriteByte(']')
	return sb.String()
}
