package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/salonflow/controlplane/internal/store"
	"github.com/salonflow/controlplane/pkg/models"
)

// newTestStore creates a fresh in-memory store for tests with no persistence
// leaking between runs.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dir := t.TempDir()
	os.Setenv("CONTROLPLANE_DATA_DIR", dir)
	defer os.Unsetenv("CONTROLPLANE_DATA_DIR")
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetDecision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := &models.Decision{
		ID:        "dec-1",
		TenantID:  "tenant-a",
		AgentName: "gap_fill",
		Kind:      models.DecisionKind("fill_gap"),
		CreatedAt: time.Now(),
	}
	if err := s.CreateDecision(ctx, d); err != nil {
		t.Fatalf("CreateDecision() error = %v", err)
	}

	got, err := s.GetDecision(ctx, "dec-1")
	if err != nil {
		t.Fatalf("GetDecision() error = %v", err)
	}
	if got.TenantID != "tenant-a" {
		t.Errorf("GetDecision().TenantID = %q, want %q", got.TenantID, "tenant-a")
	}
}

func TestGetDecision_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetDecision(context.Background(), "missing"); err == nil {
		t.Fatal("GetDecision() want error for missing id, got nil")
	}
}

func TestListDecisions_FiltersByTenantAndStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateDecision(ctx, &models.Decision{ID: "d1", TenantID: "t1", AgentName: "a", CreatedAt: time.Now(),
		Outcome: models.DecisionOutcome{Status: models.OutcomeSuccess}})
	s.CreateDecision(ctx, &models.Decision{ID: "d2", TenantID: "t1", AgentName: "a", CreatedAt: time.Now(),
		Outcome: models.DecisionOutcome{Status: models.OutcomePending}})
	s.CreateDecision(ctx, &models.Decision{ID: "d3", TenantID: "t2", AgentName: "a", CreatedAt: time.Now(),
		Outcome: models.DecisionOutcome{Status: models.OutcomeSuccess}})

	got, err := s.ListDecisions(ctx, "t1", store.DecisionFilter{Status: models.OutcomeSuccess})
	if err != nil {
		t.Fatalf("ListDecisions() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "d1" {
		t.Errorf("ListDecisions() = %+v, want only d1", got)
	}
}

func TestListExpiringDecisions_SkipsTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	s.CreateDecision(ctx, &models.Decision{ID: "live", TenantID: "t1", ExpiresAt: past,
		Outcome: models.DecisionOutcome{Status: models.OutcomePending}})
	s.CreateDecision(ctx, &models.Decision{ID: "done", TenantID: "t1", ExpiresAt: past,
		Outcome: models.DecisionOutcome{Status: models.OutcomeSuccess}})

	expiring, err := s.ListExpiringDecisions(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListExpiringDecisions() error = %v", err)
	}
	if len(expiring) != 1 || expiring[0].ID != "live" {
		t.Errorf("ListExpiringDecisions() = %+v, want only live", expiring)
	}
}

func TestAgentStateCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state := &models.AgentState{TenantID: "t1", AgentName: "gap_fill", Status: models.AgentActive}
	if err := s.CreateAgentState(ctx, state); err != nil {
		t.Fatalf("CreateAgentState() error = %v", err)
	}

	got, err := s.GetAgentState(ctx, "t1", "gap_fill")
	if err != nil {
		t.Fatalf("GetAgentState() error = %v", err)
	}
	got.Status = models.AgentCircuitBreaker
	if err := s.UpdateAgentState(ctx, got); err != nil {
		t.Fatalf("UpdateAgentState() error = %v", err)
	}

	updated, _ := s.GetAgentState(ctx, "t1", "gap_fill")
	if updated.Status != models.AgentCircuitBreaker {
		t.Errorf("Status = %q, want %q", updated.Status, models.AgentCircuitBreaker)
	}
}

func TestUpdateAgentState_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateAgentState(context.Background(), &models.AgentState{TenantID: "t1", AgentName: "ghost"})
	if err == nil {
		t.Fatal("UpdateAgentState() want error for unknown agent state")
	}
}

func TestApprovalExpiryListing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	s.CreateApproval(ctx, &models.Approval{ID: "a1", TenantID: "t1", Status: models.ApprovalPending, ExpiresAt: past})
	s.CreateApproval(ctx, &models.Approval{ID: "a2", TenantID: "t1", Status: models.ApprovalPending, ExpiresAt: future})
	s.CreateApproval(ctx, &models.Approval{ID: "a3", TenantID: "t1", Status: models.ApprovalApproved, ExpiresAt: past})

	expired, err := s.ListExpiredApprovals(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListExpiredApprovals() error = %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "a1" {
		t.Errorf("ListExpiredApprovals() = %+v, want only a1", expired)
	}
}

func TestOutreachCooldownAndCapHelpers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	s.CreateOutreach(ctx, &models.Outreach{ID: "o1", TenantID: "t1", CustomerID: "c1", CreatedAt: now.Add(-time.Hour), Status: models.OutreachSent})
	s.CreateOutreach(ctx, &models.Outreach{ID: "o2", TenantID: "t1", CustomerID: "c1", CreatedAt: now.Add(-time.Minute), Status: models.OutreachSent})
	s.CreateOutreach(ctx, &models.Outreach{ID: "o3", TenantID: "t1", CustomerID: "c2", CreatedAt: now.Add(-time.Minute), Status: models.OutreachSent})

	last, err := s.LastOutreachTo(ctx, "t1", "c1")
	if err != nil {
		t.Fatalf("LastOutreachTo() error = %v", err)
	}
	if last == nil || last.ID != "o2" {
		t.Errorf("LastOutreachTo() = %+v, want o2", last)
	}

	count, err := s.CountOutreachSince(ctx, "t1", now.Add(-90*time.Minute))
	if err != nil {
		t.Fatalf("CountOutreachSince() error = %v", err)
	}
	if count != 3 {
		t.Errorf("CountOutreachSince() = %d, want 3", count)
	}
}

func TestGapExpiryListing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	g := &models.Gap{ID: "g1", TenantID: "t1", StaffID: "staff-1", EndTime: past, Status: models.GapOpen}
	if err := s.CreateGap(ctx, g); err != nil {
		t.Fatalf("CreateGap() error = %v", err)
	}

	expiring, err := s.ListExpiringGaps(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListExpiringGaps() error = %v", err)
	}
	if len(expiring) != 1 || expiring[0].ID != "g1" {
		t.Errorf("ListExpiringGaps() = %+v, want only g1", expiring)
	}
}

func TestCustomerScoreUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	score := &models.CustomerScore{TenantID: "t1", CustomerID: "c1", Segment: models.SegmentVIP}
	if err := s.UpsertCustomerScore(ctx, score); err != nil {
		t.Fatalf("UpsertCustomerScore() error = %v", err)
	}
	score.Segment = models.SegmentAtRisk
	if err := s.UpsertCustomerScore(ctx, score); err != nil {
		t.Fatalf("UpsertCustomerScore() second call error = %v", err)
	}

	got, err := s.GetCustomerScore(ctx, "t1", "c1")
	if err != nil {
		t.Fatalf("GetCustomerScore() error = %v", err)
	}
	if got.Segment != models.SegmentAtRisk {
		t.Errorf("Segment = %q, want %q", got.Segment, models.SegmentAtRisk)
	}
}

func TestAuditLogFilterAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	s.CreateAuditLog(ctx, &models.AuditLog{TenantID: "t1", EventType: "decision_created", Severity: models.SeverityInfo, Timestamp: now})
	s.CreateAuditLog(ctx, &models.AuditLog{TenantID: "t1", EventType: "approval_expired", Severity: models.SeverityWarning, Timestamp: now})
	s.CreateAuditLog(ctx, &models.AuditLog{TenantID: "t2", EventType: "decision_created", Severity: models.SeverityInfo, Timestamp: now})

	count, err := s.CountAuditLogs(ctx, "t1", store.AuditFilter{})
	if err != nil {
		t.Fatalf("CountAuditLogs() error = %v", err)
	}
	if count != 2 {
		t.Errorf("CountAuditLogs() = %d, want 2", count)
	}

	logs, err := s.ListAuditLogs(ctx, "t1", store.AuditFilter{Severity: models.SeverityWarning})
	if err != nil {
		t.Fatalf("ListAuditLogs() error = %v", err)
	}
	if len(logs) != 1 || logs[0].EventType != "approval_expired" {
		t.Errorf("ListAuditLogs() = %+v, want only approval_expired", logs)
	}
}

func TestSnapshotPersistsAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("CONTROLPLANE_DATA_DIR", dir)
	defer os.Unsetenv("CONTROLPLANE_DATA_DIR")

	s1 := store.NewMemoryStore()
	ctx := context.Background()
	if err := s1.CreateTenant(ctx, &models.Tenant{ID: "tenant-x", Name: "Salon X"}); err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s2 := store.NewMemoryStore()
	defer s2.Close()
	got, err := s2.GetTenant(ctx, "tenant-x")
	if err != nil {
		t.Fatalf("GetTenant() after restart error = %v", err)
	}
	if got.Name != "Salon X" {
		t.Errorf("GetTenant().Name = %q, want %q", got.Name, "Salon X")
	}
}
