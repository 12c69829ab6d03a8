// Package pgstore is the PostgreSQL-backed implementation of store.Store,
// used when DATABASE_URL is configured. It mirrors the teacher's own
// Postgres-backed DatabaseConfig pattern: a pgxpool.Pool, a Migrate that
// creates its tables if they don't exist, and one table per entity (§3's
// "one collection per entity"). Each table stores its entity as a JSONB
// document alongside the handful of columns every query actually filters
// or sorts on (tenant_id, status, timestamps); everything else is read back
// by unmarshaling the document, the same shape the in-memory store already
// presents to callers. This keeps the two backends interchangeable without
// hand-mapping fifty-plus struct fields onto relational columns per entity.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/salonflow/controlplane/internal/store"
	"github.com/salonflow/controlplane/pkg/models"
)

// Store implements store.Store on top of a pgxpool.Pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to url and returns a Store. Call Migrate before first use.
func New(ctx context.Context, url string, maxConns int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

var tables = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY, created_at TIMESTAMPTZ NOT NULL, doc JSONB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY, tenant_id TEXT NOT NULL, expires_at TIMESTAMPTZ NOT NULL,
		outcome_status TEXT NOT NULL, doc JSONB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS agent_states (
		tenant_id TEXT NOT NULL, agent_name TEXT NOT NULL, doc JSONB NOT NULL,
		PRIMARY KEY (tenant_id, agent_name))`,
	`CREATE TABLE IF NOT EXISTS approvals (
		id TEXT PRIMARY KEY, tenant_id TEXT NOT NULL, status TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL, doc JSONB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS outreach (
		id TEXT PRIMARY KEY, tenant_id TEXT NOT NULL, customer_id TEXT NOT NULL,
		status TEXT NOT NULL, provider_message_id TEXT, created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL, doc JSONB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS gaps (
		id TEXT PRIMARY KEY, tenant_id TEXT NOT NULL, status TEXT NOT NULL,
		doc JSONB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS customer_scores (
		tenant_id TEXT NOT NULL, customer_id TEXT NOT NULL, segment TEXT NOT NULL,
		doc JSONB NOT NULL, PRIMARY KEY (tenant_id, customer_id))`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY, tenant_id TEXT NOT NULL, event_type TEXT NOT NULL,
		severity TEXT NOT NULL, actor_id TEXT NOT NULL, timestamp TIMESTAMPTZ NOT NULL,
		doc JSONB NOT NULL)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_tenant ON decisions (tenant_id)`,
	`CREATE INDEX IF NOT EXISTS idx_approvals_tenant_status ON approvals (tenant_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_outreach_tenant_customer ON outreach (tenant_id, customer_id)`,
	`CREATE INDEX IF NOT EXISTS idx_outreach_pmid ON outreach (provider_message_id)`,
	`CREATE INDEX IF NOT EXISTS idx_gaps_tenant_status ON gaps (tenant_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_tenant ON audit_logs (tenant_id)`,
}

// Migrate creates every table and index if absent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range tables {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgstore: migrate: %w", err)
		}
	}
	return nil
}

// ── Tenant ───────────────────────────────────────────────────

func (s *Store) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Tenant
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var t models.Tenant
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM tenants WHERE id = $1`, id).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, &store.ErrNotFound{Entity: "tenant", Key: id}
	}
	if err != nil {
		return nil, err
	}
	var t models.Tenant
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	raw, err := json.Marshal(tenant)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO tenants (id, created_at, doc) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`, tenant.ID, tenant.CreatedAt, raw)
	return err
}

// ── Decision ─────────────────────────────────────────────────

func (s *Store) ListDecisions(ctx context.Context, tenantID string, filter store.DecisionFilter) ([]models.Decision, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM decisions WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []models.Decision
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var d models.Decision
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		if filter.AgentName != "" && d.AgentName != filter.AgentName {
			continue
		}
		if filter.Kind != "" && d.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && d.Outcome.Status != filter.Status {
			continue
		}
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if filter.Limit > 0 && len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, rows.Err()
}

func (s *Store) GetDecision(ctx context.Context, id string) (*models.Decision, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM decisions WHERE id = $1`, id).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, &store.ErrNotFound{Entity: "decision", Key: id}
	}
	if err != nil {
		return nil, err
	}
	var d models.Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) CreateDecision(ctx context.Context, decision *models.Decision) error {
	return s.upsertDecision(ctx, decision)
}

func (s *Store) UpdateDecision(ctx context.Context, decision *models.Decision) error {
	return s.upsertDecision(ctx, decision)
}

func (s *Store) upsertDecision(ctx context.Context, d *models.Decision) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO decisions (id, tenant_id, expires_at, outcome_status, doc)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET expires_at = EXCLUDED.expires_at,
			outcome_status = EXCLUDED.outcome_status, doc = EXCLUDED.doc`,
		d.ID, d.TenantID, d.ExpiresAt, string(d.Outcome.Status), raw)
	return err
}

func (s *Store) ListExpiringDecisions(ctx context.Context, before time.Time) ([]models.Decision, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM decisions WHERE expires_at <= $1
		AND outcome_status = $2`, before, string(models.OutcomePending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Decision
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var d models.Decision
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
