// Package scheduler implements the Task Scheduler: a thin wrapper around an
// external task-queue service plus the per-agent periodic tick table and
// cleanup sweepers that keep Approvals, Outreach, and Gaps from lingering
// past their expiry.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/salonflow/controlplane/internal/agentruntime"
	"github.com/salonflow/controlplane/internal/store"
	"github.com/salonflow/controlplane/pkg/contracts"
	"github.com/salonflow/controlplane/pkg/models"
)

// CleanupKind enumerates the sweeper the cleanup task performs.
type CleanupKind string

const (
	CleanupExpiredApprovals CleanupKind = "expired_approvals"
	CleanupExpiredOutreach  CleanupKind = "expired_outreach"
	CleanupExpiredGaps      CleanupKind = "expired_gaps"
)

// minInterval is the per-agent minimum spacing between scheduled runs.
var minInterval = map[string]time.Duration{
	"gap_fill":           5 * time.Minute,
	"waitlist":           5 * time.Minute,
	"no_show_prevention": 10 * time.Minute,
	"retention":          60 * time.Minute,
}

// tickInterval is the fixed per-agent periodic tick table, supplemented
// from the distilled scheduler source.
var tickInterval = map[string]time.Duration{
	"gap_fill":           5 * time.Minute,
	"no_show_prevention": 10 * time.Minute,
	"waitlist":           5 * time.Minute,
	"retention":          60 * time.Minute,
	"upsell":             30 * time.Minute,
	"analytics":          24 * time.Hour,
	"cleanup":            15 * time.Minute,
}

// Scheduler implements the Task Scheduler.
type Scheduler struct {
	queue   contracts.TaskQueue
	runtime *agentruntime.Runtime
	store   store.Store
}

// New creates a Scheduler wrapping queue.
func New(queue contracts.TaskQueue, runtime *agentruntime.Runtime, s store.Store) *Scheduler {
	return &Scheduler{queue: queue, runtime: runtime, store: s}
}

// Enqueue creates a task with an optional earliest-execution time.
func (s *Scheduler) Enqueue(ctx context.Context, queue, name, handlerPath string, payload map[string]any, scheduleAt *time.Time) error {
	return s.queue.Enqueue(ctx, contracts.Task{
		Queue:       queue,
		Name:        name,
		HandlerPath: handlerPath,
		Payload:     payload,
		ScheduleAt:  scheduleAt,
	})
}

// ScheduleAgentRun enqueues a periodic agent tick, skipping it when the
// agent is paused, its circuit breaker is open, or it ran more recently than
// its minimum interval allows.
func (s *Scheduler) ScheduleAgentRun(ctx context.Context, tenantID, agentName, action string, data map[string]any, delay time.Duration) error {
	state, err := s.store.GetAgentState(ctx, tenantID, agentName)
	if err != nil {
		if _, ok := err.(*store.ErrNotFound); !ok {
			return err
		}
	}
	if state != nil {
		if state.Status == models.AgentPaused {
			log.Debug().Str("tenant", tenantID).Str("agent", agentName).Msg("scheduler: skipping run, agent paused")
			return nil
		}
		if state.CircuitBreaker.State == models.CircuitOpen {
			log.Debug().Str("tenant", tenantID).Str("agent", agentName).Msg("scheduler: skipping run, circuit open")
			return nil
		}
		if min, ok := minInterval[agentName]; ok && state.LastExecution != nil {
			if time.Since(*state.LastExecution) < min {
				log.Debug().Str("tenant", tenantID).Str("agent", agentName).Msg("scheduler: skipping run, below minimum interval")
				return nil
			}
		}
	}

	var scheduleAt *time.Time
	if delay > 0 {
		at := time.Now().UTC().Add(delay)
		scheduleAt = &at
	}

	return s.Enqueue(ctx, "agent_runs", taskName("agent_run", tenantID, agentName, action), "/internal/tasks/execute", map[string]any{
		"tenant_id":  tenantID,
		"agent_name": agentName,
		"action":     action,
		"data":       data,
	}, scheduleAt)
}

// ScheduleOutreachSend enqueues delivery of a pending Outreach.
func (s *Scheduler) ScheduleOutreachSend(ctx context.Context, tenantID, outreachID string, channel models.OutreachChannel, delay time.Duration) error {
	var scheduleAt *time.Time
	if delay > 0 {
		at := time.Now().UTC().Add(delay)
		scheduleAt = &at
	}
	return s.Enqueue(ctx, "outreach_sends", taskName("outreach_send", tenantID, outreachID), "/internal/tasks/send-notification", map[string]any{
		"tenant_id":   tenantID,
		"outreach_id": outreachID,
		"channel":     string(channel),
	}, scheduleAt)
}

// ScheduleCleanup enqueues an expiry sweep. An empty tenantID sweeps across
// all tenants.
func (s *Scheduler) ScheduleCleanup(ctx context.Context, kind CleanupKind, tenantID string) error {
	name := taskName("cleanup", string(kind), tenantID)
	return s.Enqueue(ctx, "cleanup", name, "/internal/tasks/cleanup", map[string]any{
		"kind":      string(kind),
		"tenant_id": tenantID,
	}, nil)
}

// TickAgents enqueues a periodic run for every agent in the fixed tick
// table, for every known tenant, skipping any agent whose AgentState is
// paused. This is scheduling hygiene only — the stronger pause check here
// is in addition to, not instead of, the circuit-breaker check inside
// ScheduleAgentRun.
func (s *Scheduler) TickAgents(ctx context.Context) error {
	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		return err
	}
	for _, tenant := range tenants {
		for agentName := range tickInterval {
			if agentName == "cleanup" {
				continue
			}
			state, err := s.store.GetAgentState(ctx, tenant.ID, agentName)
			if err == nil && state.Status == models.AgentPaused {
				continue
			}
			if err := s.ScheduleAgentRun(ctx, tenant.ID, agentName, "tick", nil, 0); err != nil {
				log.Warn().Err(err).Str("tenant", tenant.ID).Str("agent", agentName).Msg("scheduler: tick failed")
			}
		}
		for _, kind := range []CleanupKind{CleanupExpiredApprovals, CleanupExpiredOutreach, CleanupExpiredGaps} {
			if err := s.ScheduleCleanup(ctx, kind, tenant.ID); err != nil {
				log.Warn().Err(err).Str("tenant", tenant.ID).Str("kind", string(kind)).Msg("scheduler: cleanup enqueue failed")
			}
		}
	}
	return nil
}

// TickInterval returns the configured periodic tick interval for agentName,
// or zero if it is not in the fixed table.
func TickInterval(agentName string) time.Duration {
	return tickInterval[agentName]
}

func taskName(parts ...string) string {
	name := ""
	for i, p := range parts {
		if i > 0 {
			name += ":"
		}
		name += p
	}
	return name
}
