// Package handlers implements the HTTP surface of the control plane: the
// Decision Pipeline ingress, the provider webhook ingress, and the internal
// task endpoints the Task Scheduler's queue dispatches back into this
// process. Every handler follows the teacher's shape — decode into a small
// request struct, call one domain component, encode a small response
// struct — with apierr.Error doing the status-code mapping at the edge so
// domain packages never import net/http.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/salonflow/controlplane/internal/agentruntime"
	"github.com/salonflow/controlplane/internal/agents"
	"github.com/salonflow/controlplane/internal/apierr"
	"github.com/salonflow/controlplane/internal/approval"
	"github.com/salonflow/controlplane/internal/gapfill"
	"github.com/salonflow/controlplane/internal/outreach"
	"github.com/salonflow/controlplane/internal/pipeline"
	"github.com/salonflow/controlplane/internal/scheduler"
	"github.com/salonflow/controlplane/internal/store"
)

// Handlers holds every dependency the HTTP surface dispatches into.
type Handlers struct {
	Store     store.Store
	Pipeline  *pipeline.Pipeline
	Runtime   *agentruntime.Runtime
	Agents    *agents.Registry
	Approval  *approval.Machine
	Outreach  *outreach.Machine
	Gapfill   *gapfill.Orchestrator
	Scheduler *scheduler.Scheduler
	Version   string
}

// New creates a Handlers collection.
func New(s store.Store, p *pipeline.Pipeline, rt *agentruntime.Runtime, reg *agents.Registry, appr *approval.Machine, out *outreach.Machine, gf *gapfill.Orchestrator, sched *scheduler.Scheduler, version string) *Handlers {
	return &Handlers{
		Store:     s,
		Pipeline:  p,
		Runtime:   rt,
		Agents:    reg,
		Approval:  appr,
		Outreach:  out,
		Gapfill:   gf,
		Scheduler: sched,
		Version:   version,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.Error().Err(err).Msg("handlers: encode response failed")
		}
	}
}

func writeError(w http.ResponseWriter, err error) {
	if apiErr, ok := apierr.As(err); ok {
		status := apierr.HTTPStatus(apiErr.Kind)
		resp := map[string]any{"error": string(apiErr.Kind), "message": apiErr.Message}
		if apiErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(apiErr.RetryAfter))
			resp["retry_after"] = apiErr.RetryAfter
		}
		writeJSON(w, status, resp)
		return
	}
	log.Error().Err(err).Msg("handlers: unclassified error")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal", "message": "internal error"})
}

func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// Health reports liveness for load balancers and orchestrators.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "reason": "store unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "salonflow-controlplane"})
}

// Version reports the running build version.
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": h.Version, "service": "salonflow-controlplane"})
}
