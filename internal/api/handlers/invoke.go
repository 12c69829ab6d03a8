package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/salonflow/controlplane/internal/apierr"
	"github.com/salonflow/controlplane/pkg/contracts"
	pkgmw "github.com/salonflow/controlplane/pkg/middleware"
)

// invokeRequest is the body of POST /api/v1/agents/{name}/invoke.
type invokeRequest struct {
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	Channel   string         `json:"channel"`
	Language  string         `json:"language"`
	Query     string         `json:"query"`
	Params    map[string]any `json:"params"`
}

// invokeResponse mirrors the shape the decision pipeline's Result carries,
// plus the fields the caller needs to render the agent's answer.
type invokeResponse struct {
	Success     bool           `json:"success"`
	Data        map[string]any `json:"data,omitempty"`
	Message     string         `json:"message,omitempty"`
	Cached      bool           `json:"cached"`
	Confidence  float64        `json:"confidence,omitempty"`
	ModelUsed   string         `json:"model_used,omitempty"`
}

// Invoke runs a named agent through the Decision Pipeline. The agent name
// comes from the route, the tenant from auth context, everything else from
// the request body.
func (h *Handlers) Invoke(w http.ResponseWriter, r *http.Request) {
	agentName := urlParam(r, "agentName")
	if agentName == "" {
		writeError(w, apierr.New(apierr.ValidationError, "agent name is required"))
		return
	}

	var body invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierr.Wrap(apierr.ValidationError, "invalid request body", err))
		return
	}

	tenantID := pkgmw.GetTenantID(r.Context())

	tenantPlan := "free"
	if tenant, err := h.Store.GetTenant(r.Context(), tenantID); err == nil && tenant.Plan != "" {
		tenantPlan = tenant.Plan
	}

	params := body.Params
	if params == nil {
		params = map[string]any{}
	}
	params["agent_name"] = agentName

	req := contracts.AgentRequest{
		TenantID:  tenantID,
		UserID:    body.UserID,
		SessionID: body.SessionID,
		Channel:   body.Channel,
		Language:  body.Language,
		Params:    params,
	}

	result := h.Pipeline.Run(r.Context(), req, body.Query, tenantPlan)

	resp := invokeResponse{
		Success: result.Success,
		Data:    result.Data,
		Message: result.Message,
		Cached:  result.Cached,
	}
	if result.Metadata != nil {
		if modelUsed, ok := result.Metadata["model_used"].(string); ok {
			resp.ModelUsed = modelUsed
		}
		if confidence, ok := result.Metadata["confidence"].(float64); ok {
			resp.Confidence = confidence
		}
	}

	status := http.StatusOK
	if !result.Success {
		switch result.Message {
		case "rate_limited":
			status = http.StatusTooManyRequests
		case "no agent registry configured", "internal error":
			status = http.StatusInternalServerError
		default:
			if strings.HasPrefix(result.Message, "agent not found") {
				status = http.StatusNotFound
			}
		}
	}
	writeJSON(w, status, resp)
}
