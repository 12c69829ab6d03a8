// Package approval implements the Approval state machine: a human sign-off
// gate in front of a supervised Decision's action. Transitions out of
// pending are monotone and mutually exclusive — approve, reject, expire, or
// cancel — mirroring the explicit-state-machine redesign applied throughout
// this control plane in place of coroutine-style control flow.
package approval

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/salonflow/controlplane/internal/apierr"
	"github.com/salonflow/controlplane/internal/store"
	"github.com/salonflow/controlplane/pkg/contracts"
	"github.com/salonflow/controlplane/pkg/models"
)

// Config carries the per-priority expiry durations.
type Config struct {
	ExpiryFor func(priority string) time.Duration
}

// ApprovedHook runs after a Decision's gating Approval resolves to approved.
// It lets a supervised-autonomy caller (the Gap-Fill Orchestrator) create
// the outreach its decision was withheld behind, without this package
// importing anything domain-specific.
type ApprovedHook func(ctx context.Context, decision *models.Decision) error

// Machine implements the Approval state machine.
type Machine struct {
	store      store.Store
	cfg        Config
	publish    contracts.EventPublisher
	onApproved ApprovedHook
}

// New creates a Machine backed by store, publishing lifecycle events to pub.
func New(s store.Store, cfg Config, pub contracts.EventPublisher) *Machine {
	return &Machine{store: s, cfg: cfg, publish: pub}
}

// SetOnApproved wires the post-approval hook. Called once during server
// composition, after the Gap-Fill Orchestrator (which needs this Machine
// to exist first) is built.
func (m *Machine) SetOnApproved(hook ApprovedHook) {
	m.onApproved = hook
}

// Create opens a new pending Approval for a Decision awaiting human sign-off.
func (m *Machine) Create(ctx context.Context, decisionID, tenantID, agentName, actionType, actionSummary string, actionDetail map[string]any, priority models.ApprovalPriority) (*models.Approval, error) {
	now := time.Now().UTC()
	approval := &models.Approval{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		DecisionID:    decisionID,
		AgentName:     agentName,
		ActionType:    actionType,
		ActionSummary: actionSummary,
		ActionDetail:  actionDetail,
		Priority:      priority,
		Status:        models.ApprovalPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(m.cfg.ExpiryFor(string(priority))),
	}
	if err := m.store.CreateApproval(ctx, approval); err != nil {
		return nil, err
	}

	if err := m.mirrorDecision(ctx, decisionID, string(models.ApprovalPending), "", nil); err != nil {
		return approval, err
	}

	m.emit(ctx, "APPROVAL_REQUESTED", tenantID, approval)
	return approval, nil
}

// Approve transitions a pending Approval to approved.
func (m *Machine) Approve(ctx context.Context, approvalID, responderID, notes string) (*models.Approval, error) {
	return m.resolve(ctx, approvalID, models.ApprovalApproved, responderID, notes, "APPROVAL_APPROVED")
}

// Reject transitions a pending Approval to rejected.
func (m *Machine) Reject(ctx context.Context, approvalID, responderID, notes string) (*models.Approval, error) {
	return m.resolve(ctx, approvalID, models.ApprovalRejected, responderID, notes, "APPROVAL_REJECTED")
}

// Cancel transitions a pending Approval to cancelled — used when the
// underlying Decision is withdrawn before a human responds.
func (m *Machine) Cancel(ctx context.Context, approvalID, responderID, notes string) (*models.Approval, error) {
	return m.resolve(ctx, approvalID, models.ApprovalCancelled, responderID, notes, "")
}

func (m *Machine) resolve(ctx context.Context, approvalID string, to models.ApprovalStatus, responderID, notes, eventType string) (*models.Approval, error) {
	approval, err := m.store.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if approval.Status != models.ApprovalPending {
		return nil, apierr.New(apierr.StateConflict, "approval is not pending")
	}

	now := time.Now().UTC()

	// A pending approval whose deadline has already passed is expired in
	// fact even if the sweeper hasn't run yet; re-check here so a stale
	// approve/reject can't sneak through between expiry and the next sweep.
	if now.After(approval.ExpiresAt) {
		approval.Status = models.ApprovalExpired
		approval.UpdatedAt = now
		if err := m.store.UpdateApproval(ctx, approval); err != nil {
			return nil, err
		}
		_ = m.mirrorDecision(ctx, approval.DecisionID, string(models.ApprovalExpired), "", &now)
		m.emit(ctx, "APPROVAL_EXPIRED", approval.TenantID, approval)
		return nil, apierr.New(apierr.StateConflict, "approval expired")
	}

	action := "approve"
	if to == models.ApprovalRejected {
		action = "reject"
	} else if to == models.ApprovalCancelled {
		action = "cancel"
	}

	approval.Status = to
	approval.Response = models.ApprovalResponse{
		Action:      action,
		ResponderID: responderID,
		RespondedAt: &now,
		Notes:       notes,
	}
	approval.UpdatedAt = now

	if err := m.store.UpdateApproval(ctx, approval); err != nil {
		return nil, err
	}
	if err := m.mirrorDecision(ctx, approval.DecisionID, string(to), responderID, &now); err != nil {
		return approval, err
	}

	if eventType != "" {
		m.emit(ctx, eventType, approval.TenantID, approval)
	}

	if to == models.ApprovalApproved && m.onApproved != nil {
		if decision, err := m.store.GetDecision(ctx, approval.DecisionID); err == nil {
			if err := m.onApproved(ctx, decision); err != nil {
				return approval, err
			}
		}
	}
	return approval, nil
}

// ExpirePending sweeps pending approvals past their expiry into the expired
// state. Called by the Task Scheduler's cleanup sweeper.
func (m *Machine) ExpirePending(ctx context.Context, before time.Time) (int, error) {
	expired, err := m.store.ListExpiredApprovals(ctx, before)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, a := range expired {
		approval := a
		if approval.Status != models.ApprovalPending {
			continue
		}
		now := time.Now().UTC()
		approval.Status = models.ApprovalExpired
		approval.UpdatedAt = now
		if err := m.store.UpdateApproval(ctx, &approval); err != nil {
			continue
		}
		_ = m.mirrorDecision(ctx, approval.DecisionID, string(models.ApprovalExpired), "", &now)
		m.emit(ctx, "APPROVAL_EXPIRED", approval.TenantID, &approval)
		count++
	}
	return count, nil
}

// mirrorDecision writes the Approval's lifecycle into the Decision's
// embedded approval sub-record, per the same-document mirroring invariant.
// A rejected or expired Approval also cascades into the Decision's own
// outcome: neither state will ever produce an action, so the Decision is
// terminal the moment its gating Approval is.
func (m *Machine) mirrorDecision(ctx context.Context, decisionID, status, responderID string, decidedAt *time.Time) error {
	decision, err := m.store.GetDecision(ctx, decisionID)
	if err != nil {
		return err
	}
	decision.Approval.Status = status
	switch status {
	case string(models.ApprovalApproved):
		decision.Approval.ApprovedBy = responderID
	case string(models.ApprovalRejected):
		decision.Approval.RejectedBy = responderID
		decision.Outcome.Status = models.OutcomeRejected
		decision.Outcome.CompletedAt = decidedAt
	case string(models.ApprovalExpired):
		decision.Outcome.Status = models.OutcomeExpired
		decision.Outcome.CompletedAt = decidedAt
	}
	if decidedAt != nil {
		decision.Approval.DecidedAt = decidedAt
	}
	decision.UpdatedAt = time.Now().UTC()
	return m.store.UpdateDecision(ctx, decision)
}

func (m *Machine) emit(ctx context.Context, eventType, tenantID string, approval *models.Approval) {
	if m.publish == nil {
		return
	}
	_ = m.publish.Publish(ctx, contracts.Event{
		EventType: eventType,
		TenantID:  tenantID,
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"approval_id": approval.ID,
			"decision_id": approval.DecisionID,
			"agent_name":  approval.AgentName,
			"status":      string(approval.Status),
		},
	})
}
