package approval_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salonflow/controlplane/internal/approval"
	"github.com/salonflow/controlplane/internal/store"
	"github.com/salonflow/controlplane/pkg/models"
)

func testConfig() approval.Config {
	return approval.Config{
		ExpiryFor: func(priority string) time.Duration {
			if priority == string(models.PriorityUrgent) {
				return 15 * time.Minute
			}
			return time.Hour
		},
	}
}

func seedDecision(t *testing.T, s store.Store, tenantID string) *models.Decision {
	t.Helper()
	d := &models.Decision{
		ID:       "dec-1",
		TenantID: tenantID,
		AgentName: "retention_agent",
		Approval: models.DecisionApproval{Required: true},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateDecision(context.Background(), d))
	return d
}

func TestApprove_TransitionsPendingToApproved(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	seedDecision(t, s, "tenant-1")
	m := approval.New(s, testConfig(), nil)

	created, err := m.Create(context.Background(), "dec-1", "tenant-1", "retention_agent", "send_outreach", "offer a discount to a lapsed customer", nil, models.PriorityMedium)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, created.Status)

	approved, err := m.Approve(context.Background(), created.ID, "manager-1", "looks good")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, approved.Status)
	assert.Equal(t, "manager-1", approved.Response.ResponderID)

	decision, err := s.GetDecision(context.Background(), "dec-1")
	require.NoError(t, err)
	assert.Equal(t, string(models.ApprovalApproved), decision.Approval.Status)
	assert.Equal(t, "manager-1", decision.Approval.ApprovedBy)
}

func TestResolve_RejectsAlreadyResolvedApproval(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	seedDecision(t, s, "tenant-1")
	m := approval.New(s, testConfig(), nil)

	created, err := m.Create(context.Background(), "dec-1", "tenant-1", "retention_agent", "send_outreach", "offer a discount to a lapsed customer", nil, models.PriorityMedium)
	require.NoError(t, err)

	_, err = m.Approve(context.Background(), created.ID, "manager-1", "")
	require.NoError(t, err)

	_, err = m.Reject(context.Background(), created.ID, "manager-2", "too late")
	assert.Error(t, err)
}

func TestApprove_RechecksExpiryBeforeSweep(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	seedDecision(t, s, "tenant-1")
	m := approval.New(s, approval.Config{ExpiryFor: func(string) time.Duration { return -time.Minute }}, nil)

	created, err := m.Create(context.Background(), "dec-1", "tenant-1", "retention_agent", "send_outreach", "offer a discount to a lapsed customer", nil, models.PriorityUrgent)
	require.NoError(t, err)
	assert.True(t, created.ExpiresAt.Before(time.Now().UTC()))

	_, err = m.Approve(context.Background(), created.ID, "manager-1", "")
	assert.Error(t, err)

	reloaded, err := s.GetApproval(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalExpired, reloaded.Status)

	decision, err := s.GetDecision(context.Background(), "dec-1")
	require.NoError(t, err)
	assert.Equal(t, string(models.ApprovalExpired), decision.Approval.Status)
}

func TestExpirePending_ExpiresApprovalPastDeadline(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	seedDecision(t, s, "tenant-1")
	m := approval.New(s, approval.Config{ExpiryFor: func(string) time.Duration { return -time.Minute }}, nil)

	created, err := m.Create(context.Background(), "dec-1", "tenant-1", "retention_agent", "send_outreach", "offer a discount to a lapsed customer", nil, models.PriorityUrgent)
	require.NoError(t, err)
	assert.True(t, created.ExpiresAt.Before(time.Now().UTC()))

	count, err := m.ExpirePending(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	reloaded, err := s.GetApproval(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalExpired, reloaded.Status)
}
