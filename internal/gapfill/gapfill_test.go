package gapfill_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salonflow/controlplane/internal/agentruntime"
	"github.com/salonflow/controlplane/internal/approval"
	"github.com/salonflow/controlplane/internal/gapfill"
	"github.com/salonflow/controlplane/internal/outreach"
	"github.com/salonflow/controlplane/internal/store"
	"github.com/salonflow/controlplane/pkg/contracts"
	"github.com/salonflow/controlplane/pkg/models"
)

type fakeBooking struct {
	bookingID string
	amount    float64
}

func (f *fakeBooking) CreateBooking(_ context.Context, _ contracts.CreateBookingRequest) (*contracts.BookingResult, error) {
	return &contracts.BookingResult{BookingID: f.bookingID, Amount: f.amount}, nil
}

type fakeChannelDriver struct{ messageID string }

func (f *fakeChannelDriver) Kind() models.OutreachChannel { return models.ChannelWhatsApp }

func (f *fakeChannelDriver) Send(_ context.Context, _ contracts.SendRequest) (*contracts.SendResult, error) {
	return &contracts.SendResult{ProviderMessageID: f.messageID}, nil
}

func newTestOrchestrator(t *testing.T, autonomy models.AutonomyLevel) (*gapfill.Orchestrator, *outreach.Machine, *approval.Machine, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	rt := agentruntime.New(s, agentruntime.Config{
		CircuitThreshold:     5,
		CircuitWindowMinutes: 10,
		CircuitMaxCooldown:   30 * time.Minute,
		DefaultHourlyActions: 20,
		DefaultDailyActions:  100,
	})
	appr := approval.New(s, approval.Config{ExpiryFor: func(string) time.Duration { return 15 * time.Minute }}, nil)
	drivers := map[models.OutreachChannel]contracts.ChannelDriver{models.ChannelWhatsApp: &fakeChannelDriver{messageID: "wamid.gapfill"}}
	out := outreach.New(s, outreach.Config{DailyCap: 200, HourlyCap: 50, Cooldown: time.Hour, DefaultExpiry: 15 * time.Minute}, drivers, nil)
	booking := &fakeBooking{bookingID: "booking-1"}

	orch := gapfill.New(s, rt, appr, out, booking, nil, gapfill.Config{CandidateLimit: 10, DefaultAutonomy: autonomy})
	appr.SetOnApproved(orch.Authorize)
	return orch, out, appr, s
}

func seedGap(t *testing.T, s store.Store, tenantID string) *models.Gap {
	t.Helper()
	now := time.Now().UTC()
	gap := &models.Gap{
		ID:               "gap-1",
		TenantID:         tenantID,
		StaffID:          "staff-1",
		Date:             now.Format("2006-01-02"),
		StartTime:        now.Add(2 * time.Hour),
		EndTime:          now.Add(3 * time.Hour + 30*time.Minute),
		DurationMinutes:  90,
		Priority:         models.GapHigh,
		Status:           models.GapOpen,
		PotentialRevenue: 800,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, s.CreateGap(context.Background(), gap))
	return gap
}

// TestFullAutoGapFill_AttributesBookingOnAccept walks scenario S1 end to
// end: a full_auto Decision creates an Outreach immediately, the customer
// accepts, and the reply is attributed back to the Gap and Decision.
func TestFullAutoGapFill_AttributesBookingOnAccept(t *testing.T) {
	orch, out, _, s := newTestOrchestrator(t, models.AutonomyFullAuto)
	ctx := context.Background()
	tenantID := "tenant-1"

	gap := seedGap(t, s, tenantID)
	candidate := models.CustomerScore{CustomerID: "cust-1", Segment: models.SegmentVIP, LTV: models.LTVSnapshot{Total: 40000}}

	decision, err := orch.Execute(ctx, tenantID, gap, candidate, "your slot is open", "Asha", "+919000000001", models.ChannelWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, models.AutonomyFullAuto, decision.AutonomyLevel)

	outreaches, err := s.ListOutreach(ctx, tenantID, store.OutreachFilter{})
	require.NoError(t, err)
	require.Len(t, outreaches, 1)
	record := outreaches[0]

	require.NoError(t, out.Send(ctx, record.ID))

	responded, err := out.RecordReply(ctx, "wamid.gapfill", "accept")
	require.NoError(t, err)
	require.NoError(t, orch.AttributeReply(ctx, tenantID, responded))

	reloadedGap, err := s.GetGap(ctx, gap.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GapFilled, reloadedGap.Status)
	require.NotNil(t, reloadedGap.FilledBy)
	assert.Equal(t, "booking-1", reloadedGap.FilledBy.BookingID)

	reloadedDecision, err := s.GetDecision(ctx, decision.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, reloadedDecision.Outcome.Status)
	assert.Equal(t, "booking-1", reloadedDecision.Outcome.BookingID)
	assert.Equal(t, 800.0, reloadedDecision.Revenue.Actual)
}

// TestSupervisedGapFill_CreatesOutreachOnlyAfterApproval covers the §4.6
// invariant: a supervised decision's outreach may not be created until its
// gating Approval resolves to approved.
func TestSupervisedGapFill_CreatesOutreachOnlyAfterApproval(t *testing.T) {
	orch, _, appr, s := newTestOrchestrator(t, models.AutonomySupervised)
	ctx := context.Background()
	tenantID := "tenant-1"

	gap := seedGap(t, s, tenantID)
	candidate := models.CustomerScore{CustomerID: "cust-1", Segment: models.SegmentVIP, LTV: models.LTVSnapshot{Total: 40000}}

	decision, err := orch.Execute(ctx, tenantID, gap, candidate, "your slot is open", "Asha", "+919000000001", models.ChannelWhatsApp)
	require.NoError(t, err)
	assert.True(t, decision.Approval.Required)

	before, err := s.ListOutreach(ctx, tenantID, store.OutreachFilter{})
	require.NoError(t, err)
	assert.Empty(t, before)

	approvals, err := s.ListApprovals(ctx, tenantID, models.ApprovalPending, 0)
	require.NoError(t, err)
	require.Len(t, approvals, 1)

	_, err = appr.Approve(ctx, approvals[0].ID, "staff-42", "looks good")
	require.NoError(t, err)

	after, err := s.ListOutreach(ctx, tenantID, store.OutreachFilter{})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "cust-1", after[0].CustomerID)
}

func TestScore_CapsAtOneHundred(t *testing.T) {
	gap := &models.Gap{DurationMinutes: 150, PotentialRevenue: 5000}
	candidate := &models.CustomerScore{
		Segment: models.SegmentVIP,
		Churn:   models.ChurnRisk{Score: 150},
		LTV:     models.LTVSnapshot{Total: 50000},
	}
	// Every factor at its ceiling: 30 + 20 + 25 + 15 + 10.
	assert.Equal(t, 100.0, gapfill.Score(gap, candidate))
}

func TestScore_AddsWeightedFactors(t *testing.T) {
	gap := &models.Gap{DurationMinutes: 45, PotentialRevenue: 1000}
	candidate := &models.CustomerScore{
		Segment: models.SegmentRegular,
		Churn:   models.ChurnRisk{Score: 50},
		LTV:     models.LTVSnapshot{Total: 2000},
	}
	// 10 (30-59 duration) + 10 (min(20, 1000/100)) + 10 (regular) + 5 (min(15, 50/10)) + 0.4 (min(10, 2000/5000))
	got := gapfill.Score(gap, candidate)
	assert.InDelta(t, 35.4, got, 0.001)
}

func TestRankCandidates_OrdersByScoreThenLTVThenRecencyThenID(t *testing.T) {
	gap := &models.Gap{DurationMinutes: 90, PotentialRevenue: 0}
	now := time.Now().UTC()
	earlier := now.Add(-48 * time.Hour)

	candidates := []models.CustomerScore{
		{CustomerID: "c-tie-later", Segment: models.SegmentRegular, LTV: models.LTVSnapshot{Total: 1000}, Engagement: models.EngagementSnapshot{LastVisitAt: &now}},
		{CustomerID: "c-tie-earlier", Segment: models.SegmentRegular, LTV: models.LTVSnapshot{Total: 1000}, Engagement: models.EngagementSnapshot{LastVisitAt: &earlier}},
		{CustomerID: "c-vip", Segment: models.SegmentVIP, LTV: models.LTVSnapshot{Total: 500}},
	}

	ranked := gapfill.RankCandidates(gap, candidates)
	assert.Equal(t, "c-vip", ranked[0].Score.CustomerID)
	assert.Equal(t, "c-tie-later", ranked[1].Score.CustomerID)
	assert.Equal(t, "c-tie-earlier", ranked[2].Score.CustomerID)
}
