// Package store provides the storage interface and implementations for the
// control plane. Phase 1 runs on in-memory maps; internal/store/pgstore adds
// a PostgreSQL-backed implementation behind the same interface.
package store

import (
	"context"
	"time"

	"github.com/salonflow/controlplane/pkg/models"
)

// Store is the primary storage interface for the control plane. Every
// component depends on this interface, never on a concrete implementation,
// so the in-memory store and the Postgres store are interchangeable in
// tests and at startup.
type Store interface {
	TenantStore
	DecisionStore
	AgentStateStore
	ApprovalStore
	OutreachStore
	GapStore
	CustomerScoreStore
	AuditStore

	// Ping checks if the store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate runs any schema migrations the backend requires.
	Migrate(ctx context.Context) error
}

// ── Tenant Store ─────────────────────────────────────────────

type TenantStore interface {
	ListTenants(ctx context.Context) ([]models.Tenant, error)
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
}

// ── Decision Store ───────────────────────────────────────────

// DecisionFilter narrows ListDecisions.
type DecisionFilter struct {
	AgentName string
	Kind      models.DecisionKind
	Status    models.OutcomeStatus
	Limit     int
}

type DecisionStore interface {
	ListDecisions(ctx context.Context, tenantID string, filter DecisionFilter) ([]models.Decision, error)
	GetDecision(ctx context.Context, id string) (*models.Decision, error)
	CreateDecision(ctx context.Context, decision *models.Decision) error
	UpdateDecision(ctx context.Context, decision *models.Decision) error
	// ListExpiringDecisions returns non-terminal decisions whose ExpiresAt
	// is at or before the given time.
	ListExpiringDecisions(ctx context.Context, before time.Time) ([]models.Decision, error)
}

// ── Agent State Store ────────────────────────────────────────

type AgentStateStore interface {
	GetAgentState(ctx context.Context, tenantID, agentName string) (*models.AgentState, error)
	ListAgentStates(ctx context.Context, tenantID string) ([]models.AgentState, error)
	CreateAgentState(ctx context.Context, state *models.AgentState) error
	UpdateAgentState(ctx context.Context, state *models.AgentState) error
}

// ── Approval Store ───────────────────────────────────────────

type ApprovalStore interface {
	GetApproval(ctx context.Context, id string) (*models.Approval, error)
	ListApprovals(ctx context.Context, tenantID string, status models.ApprovalStatus, limit int) ([]models.Approval, error)
	CreateApproval(ctx context.Context, approval *models.Approval) error
	UpdateApproval(ctx context.Context, approval *models.Approval) error
	// ListExpiredApprovals returns pending approvals whose ExpiresAt has
	// passed, for the expiry sweeper.
	ListExpiredApprovals(ctx context.Context, before time.Time) ([]models.Approval, error)
}

// ── Outreach Store ───────────────────────────────────────────

// OutreachFilter narrows ListOutreach and the cap/cooldown checks.
type OutreachFilter struct {
	CustomerID string
	Channel    models.OutreachChannel
	Status     models.OutreachStatus
	Since      *time.Time
	Limit      int
}

type OutreachStore interface {
	GetOutreach(ctx context.Context, id string) (*models.Outreach, error)
	ListOutreach(ctx context.Context, tenantID string, filter OutreachFilter) ([]models.Outreach, error)
	CreateOutreach(ctx context.Context, outreach *models.Outreach) error
	UpdateOutreach(ctx context.Context, outreach *models.Outreach) error
	// CountOutreachSince counts outreach created for a tenant since a time,
	// used by the daily/hourly cap checks.
	CountOutreachSince(ctx context.Context, tenantID string, since time.Time) (int, error)
	// LastOutreachTo returns the most recent outreach sent to a customer, or
	// nil if none exists — used by the per-customer cooldown check.
	LastOutreachTo(ctx context.Context, tenantID, customerID string) (*models.Outreach, error)
	ListExpiringOutreach(ctx context.Context, before time.Time) ([]models.Outreach, error)
	// GetOutreachByProviderMessageID is the O(1) lookup provider delivery
	// callbacks use to find the record they apply to.
	GetOutreachByProviderMessageID(ctx context.Context, providerMessageID string) (*models.Outreach, error)
	// FindOutreachByPhone returns the most recent outreach sent to phone
	// across every tenant, created no earlier than since — webhook ingress
	// for inbound replies has no tenant context until the match resolves it.
	FindOutreachByPhone(ctx context.Context, phone string, since time.Time) (*models.Outreach, error)
}

// ── Gap Store ────────────────────────────────────────────────

type GapFilter struct {
	StaffID string
	Status  models.GapStatus
	Date    string
	Limit   int
}

type GapStore interface {
	GetGap(ctx context.Context, id string) (*models.Gap, error)
	ListGaps(ctx context.Context, tenantID string, filter GapFilter) ([]models.Gap, error)
	CreateGap(ctx context.Context, gap *models.Gap) error
	UpdateGap(ctx context.Context, gap *models.Gap) error
	ListExpiringGaps(ctx context.Context, before time.Time) ([]models.Gap, error)
}

// ── Customer Score Store ─────────────────────────────────────

type CustomerScoreStore interface {
	GetCustomerScore(ctx context.Context, tenantID, customerID string) (*models.CustomerScore, error)
	ListCustomerScores(ctx context.Context, tenantID string, segment models.CustomerSegment) ([]models.CustomerScore, error)
	UpsertCustomerScore(ctx context.Context, score *models.CustomerScore) error
}

// ── Audit Store ──────────────────────────────────────────────

// AuditFilter narrows ListAuditLogs.
type AuditFilter struct {
	EventType string
	Severity  models.AuditSeverity
	ActorID   string
	Since     *time.Time
	Limit     int
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
	ListAuditLogs(ctx context.Context, tenantID string, filter AuditFilter) ([]models.AuditLog, error)
	CountAuditLogs(ctx context.Context, tenantID string, filter AuditFilter) (int64, error)
}

// ── Errors ───────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
