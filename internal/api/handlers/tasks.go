package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/salonflow/controlplane/internal/apierr"
	"github.com/salonflow/controlplane/internal/scheduler"
	"github.com/salonflow/controlplane/pkg/contracts"
)

// executeTaskRequest is the payload the scheduler's ScheduleAgentRun posts
// to /internal/tasks/execute.
type executeTaskRequest struct {
	TenantID  string         `json:"tenant_id"`
	AgentName string         `json:"agent_name"`
	Action    string         `json:"action"`
	Data      map[string]any `json:"data"`
}

// ExecuteTask runs one scheduled agent tick. Rate-limiting, guardrails, and
// caching are Decision Pipeline concerns for customer-facing queries; a
// scheduler-triggered tick goes straight to the agent through the runtime's
// circuit breaker check instead.
func (h *Handlers) ExecuteTask(w http.ResponseWriter, r *http.Request) {
	var req executeTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Wrap(apierr.ValidationError, "invalid task payload", err))
		return
	}
	if req.TenantID == "" || req.AgentName == "" {
		writeError(w, apierr.New(apierr.ValidationError, "tenant_id and agent_name are required"))
		return
	}

	if err := h.Runtime.RequireOperable(r.Context(), req.TenantID, req.AgentName); err != nil {
		log.Debug().Err(err).Str("tenant", req.TenantID).Str("agent", req.AgentName).Msg("tasks: agent not operable, skipping")
		writeJSON(w, http.StatusOK, map[string]string{"status": "skipped", "reason": err.Error()})
		return
	}

	agent, ok := h.Agents.Get(req.AgentName)
	if !ok {
		writeError(w, apierr.New(apierr.NotFound, "unknown agent: "+req.AgentName))
		return
	}

	data := req.Data
	if data == nil {
		data = map[string]any{}
	}
	data["action"] = req.Action

	result, err := agent.Handle(r.Context(), contracts.AgentRequest{
		TenantID: req.TenantID,
		Params:   data,
	})
	if err != nil {
		if recErr := h.Runtime.RecordFailure(r.Context(), req.TenantID, req.AgentName, err.Error()); recErr != nil {
			log.Warn().Err(recErr).Msg("tasks: record failure failed")
		}
		writeError(w, apierr.Wrap(apierr.Internal, "agent run failed", err))
		return
	}

	if recErr := h.Runtime.RecordAction(r.Context(), req.TenantID, req.AgentName, req.Action, result.Success, 0); recErr != nil {
		log.Warn().Err(recErr).Msg("tasks: record action failed")
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "completed", "success": result.Success})
}

// sendNotificationRequest is the payload ScheduleOutreachSend posts to
// /internal/tasks/send-notification.
type sendNotificationRequest struct {
	TenantID   string `json:"tenant_id"`
	OutreachID string `json:"outreach_id"`
	Channel    string `json:"channel"`
}

// SendNotification dispatches a pending Outreach record through its
// channel driver.
func (h *Handlers) SendNotification(w http.ResponseWriter, r *http.Request) {
	var req sendNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Wrap(apierr.ValidationError, "invalid task payload", err))
		return
	}
	if req.OutreachID == "" {
		writeError(w, apierr.New(apierr.ValidationError, "outreach_id is required"))
		return
	}

	if err := h.Outreach.Send(r.Context(), req.OutreachID); err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "send failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// cleanupTaskRequest is the payload ScheduleCleanup posts to
// /internal/tasks/cleanup.
type cleanupTaskRequest struct {
	Kind     string `json:"kind"`
	TenantID string `json:"tenant_id"`
}

// Cleanup sweeps one category of expired record. Approvals and Outreach
// self-sweep in bulk; Gaps expire one at a time through the Gap-Fill
// Orchestrator so each expiry can emit its own event.
func (h *Handlers) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Wrap(apierr.ValidationError, "invalid task payload", err))
		return
	}

	now := time.Now().UTC()
	switch scheduler.CleanupKind(req.Kind) {
	case scheduler.CleanupExpiredApprovals:
		n, err := h.Approval.ExpirePending(r.Context(), now)
		if err != nil {
			writeError(w, apierr.Wrap(apierr.Internal, "approval cleanup failed", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"expired": n})

	case scheduler.CleanupExpiredOutreach:
		n, err := h.Outreach.ExpirePending(r.Context(), now)
		if err != nil {
			writeError(w, apierr.Wrap(apierr.Internal, "outreach cleanup failed", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"expired": n})

	case scheduler.CleanupExpiredGaps:
		gaps, err := h.Store.ListExpiringGaps(r.Context(), now)
		if err != nil {
			writeError(w, apierr.Wrap(apierr.Internal, "gap cleanup failed", err))
			return
		}
		count := 0
		for i := range gaps {
			gap := &gaps[i]
			if req.TenantID != "" && gap.TenantID != req.TenantID {
				continue
			}
			if err := h.Gapfill.ExpireGap(r.Context(), gap.TenantID, gap); err != nil {
				log.Warn().Err(err).Str("gap_id", gap.ID).Msg("tasks: expire gap failed")
				continue
			}
			count++
		}
		writeJSON(w, http.StatusOK, map[string]int{"expired": count})

	default:
		writeError(w, apierr.New(apierr.ValidationError, "unknown cleanup kind: "+req.Kind))
	}
}
