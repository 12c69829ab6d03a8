// Package agentruntime maintains the per-(tenant, agent) AgentState record:
// circuit breaker, hourly/daily rate limits, and action counters. It is the
// runtime the Decision Pipeline and Task Scheduler consult before letting an
// agent act.
package agentruntime

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/salonflow/controlplane/internal/apierr"
	"github.com/salonflow/controlplane/internal/store"
	"github.com/salonflow/controlplane/pkg/models"
)

// Config carries the circuit breaker's threshold/window and the default
// per-agent rate limits used when an AgentState has no explicit override.
type Config struct {
	CircuitThreshold     int
	CircuitWindowMinutes int
	CircuitMaxCooldown   time.Duration
	DefaultHourlyActions int
	DefaultDailyActions  int
}

// Runtime implements the Agent Runtime component.
type Runtime struct {
	store store.Store
	cfg   Config
}

// New creates a Runtime backed by store.
func New(s store.Store, cfg Config) *Runtime {
	return &Runtime{store: s, cfg: cfg}
}

// getOrCreate fetches the AgentState for (tenantID, agentName), creating one
// with defaults if it does not yet exist.
func (r *Runtime) getOrCreate(ctx context.Context, tenantID, agentName string) (*models.AgentState, error) {
	state, err := r.store.GetAgentState(ctx, tenantID, agentName)
	if err == nil {
		return state, nil
	}
	if _, ok := err.(*store.ErrNotFound); !ok {
		return nil, err
	}

	now := time.Now().UTC()
	state = &models.AgentState{
		ID:        fmt.Sprintf("%s:%s", tenantID, agentName),
		TenantID:  tenantID,
		AgentName: agentName,
		Status:    models.AgentActive,
		CircuitBreaker: models.CircuitBreakerInfo{
			State: models.CircuitClosed,
		},
		Config: models.AgentConfig{
			MaxHourlyActions: r.cfg.DefaultHourlyActions,
			MaxDailyActions:  r.cfg.DefaultDailyActions,
		},
		Counters: models.AgentCounters{
			DateStamp: dateStamp(now),
			ByType:    make(map[string]int),
		},
		HourlyWindow: models.RateLimitWindow{WindowStart: now},
		DailyWindow:  models.RateLimitWindow{WindowStart: now},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.store.CreateAgentState(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

func dateStamp(t time.Time) string {
	return t.Format("2006-01-02")
}

// CanOperate reports whether the agent may run for this tenant right now,
// consulting the circuit breaker and pause flag. A half_open breaker admits
// exactly one probe: the first caller after cooldown sees allowed=true and
// the breaker is optimistically marked half_open so concurrent callers are
// turned away until the probe resolves via RecordAction/RecordFailure.
func (r *Runtime) CanOperate(ctx context.Context, tenantID, agentName string) (bool, string, error) {
	state, err := r.getOrCreate(ctx, tenantID, agentName)
	if err != nil {
		return false, "", err
	}

	r.maybeResetDaily(state)

	if state.Status == models.AgentPaused {
		return false, "agent paused", nil
	}

	cb := &state.CircuitBreaker
	now := time.Now().UTC()

	switch cb.State {
	case models.CircuitClosed:
		return true, "", nil
	case models.CircuitOpen:
		if cb.CooldownUntil != nil && now.Before(*cb.CooldownUntil) {
			return false, "circuit open", nil
		}
		cb.State = models.CircuitHalfOpen
		state.UpdatedAt = now
		if err := r.store.UpdateAgentState(ctx, state); err != nil {
			return false, "", err
		}
		return true, "", nil
	case models.CircuitHalfOpen:
		// A probe is already in flight; reject concurrent callers.
		return false, "circuit half_open: probe in flight", nil
	default:
		return true, "", nil
	}
}

// RateLimitWindow identifies which budget CheckRateLimit consults.
type RateLimitWindow string

const (
	WindowHourly RateLimitWindow = "hourly"
	WindowDaily  RateLimitWindow = "daily"
)

// CheckRateLimit reports whether another action is allowed within window,
// along with the remaining budget and the time the window resets.
func (r *Runtime) CheckRateLimit(ctx context.Context, tenantID, agentName string, window RateLimitWindow) (allowed bool, remaining int, resetAt time.Time, err error) {
	state, err := r.getOrCreate(ctx, tenantID, agentName)
	if err != nil {
		return false, 0, time.Time{}, err
	}
	r.maybeResetDaily(state)

	now := time.Now().UTC()
	switch window {
	case WindowHourly:
		if now.Sub(state.HourlyWindow.WindowStart) >= time.Hour {
			state.HourlyWindow = models.RateLimitWindow{WindowStart: now}
		}
		limit := state.Config.MaxHourlyActions
		if limit <= 0 {
			limit = r.cfg.DefaultHourlyActions
		}
		resetAt = state.HourlyWindow.WindowStart.Add(time.Hour)
		remaining = limit - state.HourlyWindow.Count
		return remaining > 0, max0(remaining), resetAt, nil
	case WindowDaily:
		if now.Sub(state.DailyWindow.WindowStart) >= 24*time.Hour {
			state.DailyWindow = models.RateLimitWindow{WindowStart: now}
		}
		limit := state.Config.MaxDailyActions
		if limit <= 0 {
			limit = r.cfg.DefaultDailyActions
		}
		resetAt = state.DailyWindow.WindowStart.Add(24 * time.Hour)
		remaining = limit - state.DailyWindow.Count
		return remaining > 0, max0(remaining), resetAt, nil
	default:
		return false, 0, time.Time{}, fmt.Errorf("agentruntime: unknown rate-limit window %q", window)
	}
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// RecordAction atomically increments the action counters and rate-limit
// windows, and on success resolves a half_open breaker back to closed. On
// failure it defers to RecordFailure's circuit-breaker bookkeeping.
func (r *Runtime) RecordAction(ctx context.Context, tenantID, agentName, actionType string, success bool, revenue float64) error {
	state, err := r.getOrCreate(ctx, tenantID, agentName)
	if err != nil {
		return err
	}
	r.maybeResetDaily(state)

	now := time.Now().UTC()
	state.Counters.ActionsTaken++
	if state.Counters.ByType == nil {
		state.Counters.ByType = make(map[string]int)
	}
	state.Counters.ByType[actionType]++
	state.HourlyWindow.Count++
	state.DailyWindow.Count++
	state.LastExecution = &now

	if success {
		state.Counters.ActionsSuccessful++
		state.Counters.RevenueGenerated += revenue
		state.Health.ConsecutiveFailures = 0

		cb := &state.CircuitBreaker
		if cb.State == models.CircuitHalfOpen {
			cb.State = models.CircuitClosed
			cb.ConsecutiveErrors = 0
			cb.FirstErrorAt = nil
			cb.CooldownUntil = nil
			cb.CooldownMinutes = 0
			state.Status = models.AgentActive
		}
		state.UpdatedAt = now
		return r.store.UpdateAgentState(ctx, state)
	}

	state.Counters.ActionsFailed++
	state.UpdatedAt = now
	if err := r.store.UpdateAgentState(ctx, state); err != nil {
		return err
	}
	return r.recordFailure(ctx, state, "action reported failure")
}

// RecordFailure increments the circuit breaker's consecutive-error count and
// trips the breaker open after CircuitThreshold failures within the
// configured window. A half_open probe failure doubles the cooldown, capped
// at CircuitMaxCooldown.
func (r *Runtime) RecordFailure(ctx context.Context, tenantID, agentName, errMsg string) error {
	state, err := r.getOrCreate(ctx, tenantID, agentName)
	if err != nil {
		return err
	}
	return r.recordFailure(ctx, state, errMsg)
}

func (r *Runtime) recordFailure(ctx context.Context, state *models.AgentState, errMsg string) error {
	now := time.Now().UTC()
	cb := &state.CircuitBreaker
	window := time.Duration(r.cfg.CircuitWindowMinutes) * time.Minute

	if cb.State == models.CircuitHalfOpen {
		// Probe failed — reopen and double the cooldown.
		cooldown := time.Duration(cb.CooldownMinutes) * 2 * time.Minute
		if cooldown <= 0 || cooldown > r.cfg.CircuitMaxCooldown {
			cooldown = r.cfg.CircuitMaxCooldown
		}
		cb.State = models.CircuitOpen
		cb.CooldownMinutes = int(cooldown / time.Minute)
		until := now.Add(cooldown)
		cb.CooldownUntil = &until
		cb.LastError = errMsg
		state.Status = models.AgentCircuitBreaker
		state.Health.ConsecutiveFailures++
		state.UpdatedAt = now
		log.Warn().Str("tenant", state.TenantID).Str("agent", state.AgentName).
			Dur("cooldown", cooldown).Msg("agent runtime: circuit reopened after failed probe")
		return r.store.UpdateAgentState(ctx, state)
	}

	if cb.FirstErrorAt == nil || now.Sub(*cb.FirstErrorAt) > window {
		cb.FirstErrorAt = &now
		cb.ConsecutiveErrors = 0
	}
	cb.ConsecutiveErrors++
	cb.LastError = errMsg
	state.Health.ConsecutiveFailures++
	state.UpdatedAt = now

	if cb.ConsecutiveErrors >= r.cfg.CircuitThreshold {
		cooldownMinutes := int(math.Min(math.Pow(2, float64(cb.ConsecutiveErrors)), float64(r.cfg.CircuitMaxCooldown/time.Minute)))
		if cooldownMinutes < 1 {
			cooldownMinutes = 1
		}
		cooldown := time.Duration(cooldownMinutes) * time.Minute
		until := now.Add(cooldown)
		cb.State = models.CircuitOpen
		cb.CooldownMinutes = cooldownMinutes
		cb.CooldownUntil = &until
		state.Status = models.AgentCircuitBreaker
		log.Warn().Str("tenant", state.TenantID).Str("agent", state.AgentName).
			Int("consecutive_errors", cb.ConsecutiveErrors).Dur("cooldown", cooldown).
			Msg("agent runtime: circuit tripped open")
	}

	return r.store.UpdateAgentState(ctx, state)
}

// maybeResetDaily zeroes the daily counters when the date stamp has drifted,
// detected lazily on first access each day rather than by a dedicated timer.
func (r *Runtime) maybeResetDaily(state *models.AgentState) {
	today := dateStamp(time.Now().UTC())
	if state.Counters.DateStamp == today {
		return
	}
	state.Counters = models.AgentCounters{DateStamp: today, ByType: make(map[string]int)}
}

// ResetDaily force-resets the counters for a (tenant, agent) pair. Invoked
// by the scheduled cleanup task as a backstop for the lazy reset above.
func (r *Runtime) ResetDaily(ctx context.Context, tenantID, agentName string) error {
	state, err := r.getOrCreate(ctx, tenantID, agentName)
	if err != nil {
		return err
	}
	state.Counters = models.AgentCounters{DateStamp: dateStamp(time.Now().UTC()), ByType: make(map[string]int)}
	state.UpdatedAt = time.Now().UTC()
	return r.store.UpdateAgentState(ctx, state)
}

// RecentFailures reports the circuit breaker's current consecutive-error
// count for (tenantID, agentName) if the error window is still within
// `within` of now, satisfying the Decision Pipeline's FailureTracker
// interface so the model-router stage can downgrade tier choice after
// recent trouble without depending on this package directly.
func (r *Runtime) RecentFailures(tenantID, agentName string, within time.Duration) int {
	ctx := context.Background()
	state, err := r.getOrCreate(ctx, tenantID, agentName)
	if err != nil {
		return 0
	}
	cb := state.CircuitBreaker
	if cb.FirstErrorAt == nil || time.Since(*cb.FirstErrorAt) > within {
		return 0
	}
	return cb.ConsecutiveErrors
}

// RequireOperable is a convenience wrapper returning a typed error when the
// agent cannot currently operate, for callers that want to short-circuit
// with apierr semantics instead of branching on the bool.
func (r *Runtime) RequireOperable(ctx context.Context, tenantID, agentName string) error {
	allowed, reason, err := r.CanOperate(ctx, tenantID, agentName)
	if err != nil {
		return err
	}
	if !allowed {
		return apierr.New(apierr.CircuitOpen, reason)
	}
	return nil
}
