// Package gapfill implements the Gap-Fill Orchestrator: the four-phase
// pipeline (detect, select candidates, score, execute) that turns an open
// schedule gap into a supervised or autonomous customer outreach, and
// attributes an accepted reply back to the Gap and Decision that produced
// it.
package gapfill

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/salonflow/controlplane/internal/agentruntime"
	"github.com/salonflow/controlplane/internal/apierr"
	"github.com/salonflow/controlplane/internal/approval"
	"github.com/salonflow/controlplane/internal/outreach"
	"github.com/salonflow/controlplane/internal/store"
	"github.com/salonflow/controlplane/pkg/contracts"
	"github.com/salonflow/controlplane/pkg/models"
)

const agentName = "gap_fill"

// Config carries the orchestrator's tunables.
type Config struct {
	// CandidateLimit bounds phase-2 candidate selection; up to half comes
	// from churn risk, half from the vip segment.
	CandidateLimit int
	// DefaultAutonomy is used when an AgentState has no
	// custom["autonomy_level"] override.
	DefaultAutonomy models.AutonomyLevel
}

// Orchestrator implements the Gap-Fill Orchestrator.
type Orchestrator struct {
	store    store.Store
	runtime  *agentruntime.Runtime
	approval *approval.Machine
	outreach *outreach.Machine
	booking  contracts.BookingClient
	publish  contracts.EventPublisher
	cfg      Config
}

// New creates an Orchestrator wired to its collaborating components.
func New(s store.Store, runtime *agentruntime.Runtime, appr *approval.Machine, out *outreach.Machine, booking contracts.BookingClient, pub contracts.EventPublisher, cfg Config) *Orchestrator {
	return &Orchestrator{store: s, runtime: runtime, approval: appr, outreach: out, booking: booking, publish: pub, cfg: cfg}
}

// Candidate pairs a customer with the score that earned their place in the
// ranked fill list for one gap.
type Candidate struct {
	Score       models.CustomerScore
	GapScore    float64
	MessageBody string
}

// Detect returns today's open gaps of at least 30 minutes, tenant-local.
func (o *Orchestrator) Detect(ctx context.Context, tenantID string, today string) ([]models.Gap, error) {
	gaps, err := o.store.ListGaps(ctx, tenantID, store.GapFilter{Status: models.GapOpen, Date: today})
	if err != nil {
		return nil, err
	}
	result := make([]models.Gap, 0, len(gaps))
	for _, g := range gaps {
		if g.DurationMinutes >= 30 {
			result = append(result, g)
		}
	}
	return result, nil
}

// SelectCandidates gathers up to CandidateLimit eligible customers: half
// drawn from elevated churn risk (retention focus), half from the vip
// segment, deduplicated, and filtered by the Outreach preconditions and the
// no-duplicate-pending-outreach-per-trigger rule.
func (o *Orchestrator) SelectCandidates(ctx context.Context, tenantID, triggerID string) ([]models.CustomerScore, error) {
	half := o.cfg.CandidateLimit / 2
	if half < 1 {
		half = 1
	}

	churnCandidates, err := o.store.ListCustomerScores(ctx, tenantID, "")
	if err != nil {
		// Candidate fetch failures degrade silently — a soft skip, not a
		// breaker error.
		log.Warn().Err(err).Str("tenant", tenantID).Msg("gapfill: candidate fetch failed, skipping")
		return nil, nil
	}

	seen := make(map[string]bool)
	var selected []models.CustomerScore

	churnCount := 0
	for _, c := range churnCandidates {
		if churnCount >= half {
			break
		}
		if c.Churn.Level != models.ChurnMedium && c.Churn.Level != models.ChurnHigh && c.Churn.Level != models.ChurnCritical {
			continue
		}
		if !o.eligible(ctx, tenantID, triggerID, &c) {
			continue
		}
		seen[c.CustomerID] = true
		selected = append(selected, c)
		churnCount++
	}

	vipScores, err := o.store.ListCustomerScores(ctx, tenantID, models.SegmentVIP)
	if err != nil {
		log.Warn().Err(err).Str("tenant", tenantID).Msg("gapfill: vip candidate fetch failed, skipping")
		return selected, nil
	}
	vipCount := 0
	for _, c := range vipScores {
		if vipCount >= half {
			break
		}
		if seen[c.CustomerID] {
			continue
		}
		if !o.eligible(ctx, tenantID, triggerID, &c) {
			continue
		}
		seen[c.CustomerID] = true
		selected = append(selected, c)
		vipCount++
	}

	return selected, nil
}

func (o *Orchestrator) eligible(ctx context.Context, tenantID, triggerID string, c *models.CustomerScore) bool {
	if err := o.outreach.CheckPreconditions(ctx, tenantID, c.CustomerID); err != nil {
		return false
	}
	existing, err := o.store.ListOutreach(ctx, tenantID, store.OutreachFilter{CustomerID: c.CustomerID})
	if err != nil {
		return false
	}
	for _, e := range existing {
		if e.TriggerID == triggerID && !e.Status.Terminal() {
			return false
		}
	}

	passed, err := o.runtime.EvaluateCustomGate(ctx, tenantID, agentName, map[string]any{
		"customer_id":  c.CustomerID,
		"segment":      string(c.Segment),
		"churn_score":  c.Churn.Score,
		"churn_level":  string(c.Churn.Level),
		"ltv_total":    c.LTV.Total,
		"visit_count":  c.Engagement.VisitCount,
	})
	if err != nil {
		log.Warn().Err(err).Str("tenant", tenantID).Str("customer", c.CustomerID).Msg("gapfill: custom gate evaluation failed, excluding candidate")
		return false
	}
	return passed
}

// Score computes the (gap, candidate) priority score, capped at 100, per the
// fixed weighted formula. Ties break on higher LTV, more recent visit, then
// customer id for a deterministic total order.
func Score(gap *models.Gap, candidate *models.CustomerScore) float64 {
	score := 0.0
	switch {
	case gap.DurationMinutes >= 120:
		score += 30
	case gap.DurationMinutes >= 60:
		score += 20
	case gap.DurationMinutes >= 30:
		score += 10
	}

	score += math.Min(20, gap.PotentialRevenue/100)

	switch candidate.Segment {
	case models.SegmentVIP:
		score += 25
	case models.SegmentHighValue:
		score += 20
	case models.SegmentAtRisk:
		score += 15
	case models.SegmentRegular:
		score += 10
	case models.SegmentNew:
		score += 5
	}

	score += math.Min(15, candidate.Churn.Score/10)
	score += math.Min(10, candidate.LTV.Total/5000)

	if score > 100 {
		score = 100
	}
	return score
}

// RankCandidates scores every candidate against the gap and returns them in
// deterministic descending order.
func RankCandidates(gap *models.Gap, candidates []models.CustomerScore) []Candidate {
	ranked := make([]Candidate, len(candidates))
	for i, c := range candidates {
		ranked[i] = Candidate{Score: c, GapScore: Score(gap, &c)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.GapScore != b.GapScore {
			return a.GapScore > b.GapScore
		}
		if a.Score.LTV.Total != b.Score.LTV.Total {
			return a.Score.LTV.Total > b.Score.LTV.Total
		}
		aVisit, bVisit := lastVisit(a.Score), lastVisit(b.Score)
		if !aVisit.Equal(bVisit) {
			return aVisit.After(bVisit)
		}
		return a.Score.CustomerID < b.Score.CustomerID
	})
	return ranked
}

func lastVisit(c models.CustomerScore) time.Time {
	if c.Engagement.LastVisitAt != nil {
		return *c.Engagement.LastVisitAt
	}
	return time.Time{}
}

// Execute runs phase 4 for the top-ranked candidate of a gap: verifies the
// agent can operate, creates the Decision, and either gates behind an
// Approval (supervised) or proceeds straight to outreach (full_auto).
func (o *Orchestrator) Execute(ctx context.Context, tenantID string, gap *models.Gap, candidate models.CustomerScore, messageBody string, customerName, customerPhone string, channel models.OutreachChannel) (*models.Decision, error) {
	if err := o.runtime.RequireOperable(ctx, tenantID, agentName); err != nil {
		return nil, err
	}
	allowed, _, _, err := o.runtime.CheckRateLimit(ctx, tenantID, agentName, agentruntime.WindowHourly)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, apierr.New(apierr.RateLimited, "agent hourly action budget exhausted")
	}

	state, err := o.store.GetAgentState(ctx, tenantID, agentName)
	if err != nil {
		return nil, err
	}
	autonomy := o.cfg.DefaultAutonomy
	if custom, ok := state.Config.Custom["autonomy_level"].(string); ok && custom != "" {
		autonomy = models.AutonomyLevel(custom)
	}

	now := time.Now().UTC()
	decision := &models.Decision{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		AgentName:     agentName,
		Kind:          models.DecisionGapFill,
		AutonomyLevel: autonomy,
		Context: models.DecisionContext{
			TriggerID:   gap.ID,
			TriggerKind: "gap",
			CustomerID:  candidate.CustomerID,
			StaffID:     gap.StaffID,
		},
		ActionSummary: "offer open slot to " + candidate.CustomerID,
		ActionDetail: map[string]any{
			"message_body":   messageBody,
			"customer_name":  customerName,
			"customer_phone": customerPhone,
			"channel":        string(channel),
		},
		Revenue:  models.RevenueImpact{Potential: gap.PotentialRevenue},
		Approval: models.DecisionApproval{Required: autonomy == models.AutonomySupervised},
		Outcome:       models.DecisionOutcome{Status: models.OutcomePending},
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(15 * time.Minute),
	}
	if err := o.store.CreateDecision(ctx, decision); err != nil {
		return nil, err
	}

	gap.FillAttempts++
	gap.LastAttemptAt = &now
	gap.UpdatedAt = now
	if err := o.store.UpdateGap(ctx, gap); err != nil {
		return nil, err
	}

	if err := o.runtime.RecordAction(ctx, tenantID, agentName, string(models.DecisionGapFill), true, 0); err != nil {
		log.Warn().Err(err).Msg("gapfill: failed to record agent action")
	}

	o.emit(ctx, "DECISION_CREATED", tenantID, map[string]any{
		"decision_id": decision.ID,
		"gap_id":      gap.ID,
		"customer_id": candidate.CustomerID,
	})

	if autonomy == models.AutonomySupervised {
		if _, err := o.approval.Create(ctx, decision.ID, tenantID, agentName, string(models.DecisionGapFill), decision.ActionSummary, decision.ActionDetail, models.PriorityMedium); err != nil {
			return decision, err
		}
		return decision, nil
	}

	if _, err := o.outreach.Create(ctx, tenantID, candidate.CustomerID, customerName, customerPhone, channel, messageBody, gap.ID, "gap_fill", map[string]any{"gap_id": gap.ID}); err != nil {
		return decision, err
	}
	return decision, nil
}

// Authorize creates the outreach a supervised gap-fill Decision was gated
// behind once its Approval resolves to approved — the invariant in §4.6
// that a required approval must be granted before outreach proceeds. It is
// a no-op for anything but a pending, not-yet-acted-on gap_fill decision:
// a decision re-authorized twice (duplicate approval-resolved event) would
// otherwise double-send the same offer.
func (o *Orchestrator) Authorize(ctx context.Context, decision *models.Decision) error {
	if decision.Kind != models.DecisionGapFill || decision.Outcome.Status != models.OutcomePending {
		return nil
	}
	messageBody, _ := decision.ActionDetail["message_body"].(string)
	customerName, _ := decision.ActionDetail["customer_name"].(string)
	customerPhone, _ := decision.ActionDetail["customer_phone"].(string)
	channel := models.ChannelWhatsApp
	if ch, ok := decision.ActionDetail["channel"].(string); ok && ch != "" {
		channel = models.OutreachChannel(ch)
	}

	_, err := o.outreach.Create(ctx, decision.TenantID, decision.Context.CustomerID, customerName, customerPhone, channel,
		messageBody, decision.Context.TriggerID, "gap_fill", map[string]any{"gap_id": decision.Context.TriggerID})
	return err
}

// AttributeReply is the entry point webhook ingress calls once an inbound
// reply has been classified and recorded against an Outreach: it looks the
// originating Gap up by trigger id to recover the staff/service/slot the
// booking needs, then delegates to Attribute. Non-gap_fill triggers and
// non-accept replies are no-ops.
func (o *Orchestrator) AttributeReply(ctx context.Context, tenantID string, record *models.Outreach) error {
	if record.TriggerKind != "gap_fill" || record.Response.Action != "accept" {
		return nil
	}
	gap, err := o.store.GetGap(ctx, record.TriggerID)
	if err != nil {
		return err
	}
	serviceID := ""
	if len(gap.FittableServiceIDs) > 0 {
		serviceID = gap.FittableServiceIDs[0]
	}
	return o.Attribute(ctx, tenantID, record, gap.StaffID, serviceID, gap.StartTime)
}

// Attribute closes the loop when an Outreach tied to a gap's trigger id
// transitions to responded with an accepted reply: it creates the booking,
// marks the Gap filled, resolves the Decision to success, and records
// revenue on AgentState.
func (o *Orchestrator) Attribute(ctx context.Context, tenantID string, record *models.Outreach, staffID, serviceID string, slotStart time.Time) error {
	if record.Response.Action != "accept" {
		return nil
	}

	result, err := o.booking.CreateBooking(ctx, contracts.CreateBookingRequest{
		TenantID:   tenantID,
		CustomerID: record.CustomerID,
		StaffID:    staffID,
		ServiceID:  serviceID,
		SlotStart:  slotStart,
		TriggerID:  record.TriggerID,
	})
	if err != nil {
		return err
	}

	if err := o.outreach.AttachBooking(ctx, record.ID, result.BookingID); err != nil {
		return err
	}

	gap, err := o.store.GetGap(ctx, record.TriggerID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	gap.Status = models.GapFilled
	gap.FilledBy = &models.GapFilledBy{BookingID: result.BookingID, CustomerID: record.CustomerID, FilledAt: now}
	gap.UpdatedAt = now
	if err := o.store.UpdateGap(ctx, gap); err != nil {
		return err
	}

	decisions, err := o.store.ListDecisions(ctx, tenantID, store.DecisionFilter{AgentName: agentName})
	if err == nil {
		for _, d := range decisions {
			if d.Context.TriggerID != gap.ID || d.IsTerminal() {
				continue
			}
			decision := d
			actual := decision.Revenue.Potential
			if result.Amount > 0 {
				actual = result.Amount
			}
			decision.Revenue.Actual = actual
			decision.Outcome = models.DecisionOutcome{Status: models.OutcomeSuccess, BookingID: result.BookingID, CompletedAt: &now}
			decision.UpdatedAt = now
			if err := o.store.UpdateDecision(ctx, &decision); err != nil {
				continue
			}
			_ = o.runtime.RecordAction(ctx, tenantID, agentName, string(models.DecisionGapFill), true, actual)
		}
	}

	if err := o.outreach.ExpireByTrigger(ctx, tenantID, gap.ID); err != nil {
		log.Warn().Err(err).Str("gap_id", gap.ID).Msg("gapfill: failed to expire sibling outreach")
	}

	o.emit(ctx, "GAP_FILLED", tenantID, map[string]any{
		"gap_id":      gap.ID,
		"booking_id":  result.BookingID,
		"customer_id": record.CustomerID,
	})
	return nil
}

// ExpireGap marks a Gap expired and cascades expiry to its Decision and any
// in-flight outreach, used by the Task Scheduler's cleanup sweeper.
func (o *Orchestrator) ExpireGap(ctx context.Context, tenantID string, gap *models.Gap) error {
	now := time.Now().UTC()
	gap.Status = models.GapExpired
	gap.UpdatedAt = now
	if err := o.store.UpdateGap(ctx, gap); err != nil {
		return err
	}

	decisions, err := o.store.ListDecisions(ctx, tenantID, store.DecisionFilter{AgentName: agentName})
	if err == nil {
		for _, d := range decisions {
			if d.Context.TriggerID != gap.ID || d.IsTerminal() {
				continue
			}
			decision := d
			decision.Outcome = models.DecisionOutcome{Status: models.OutcomeExpired, CompletedAt: &now}
			decision.UpdatedAt = now
			_ = o.store.UpdateDecision(ctx, &decision)
		}
	}

	return o.outreach.ExpireByTrigger(ctx, tenantID, gap.ID)
}

func (o *Orchestrator) emit(ctx context.Context, eventType, tenantID string, data map[string]any) {
	if o.publish == nil {
		return
	}
	_ = o.publish.Publish(ctx, contracts.Event{
		EventType: eventType,
		TenantID:  tenantID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}
