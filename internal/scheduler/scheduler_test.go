package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salonflow/controlplane/internal/agentruntime"
	"github.com/salonflow/controlplane/internal/scheduler"
	"github.com/salonflow/controlplane/internal/store"
	"github.com/salonflow/controlplane/pkg/contracts"
	"github.com/salonflow/controlplane/pkg/models"
)

type fakeQueue struct {
	tasks []contracts.Task
}

func (f *fakeQueue) Enqueue(_ context.Context, task contracts.Task) error {
	f.tasks = append(f.tasks, task)
	return nil
}

func runtimeConfig() agentruntime.Config {
	return agentruntime.Config{
		CircuitThreshold:     5,
		CircuitWindowMinutes: 10,
		CircuitMaxCooldown:   30 * time.Minute,
		DefaultHourlyActions: 20,
		DefaultDailyActions:  100,
	}
}

func TestScheduleAgentRun_SkipsWhenPaused(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	queue := &fakeQueue{}
	sched := scheduler.New(queue, agentruntime.New(s, runtimeConfig()), s)

	require.NoError(t, s.CreateAgentState(context.Background(), &models.AgentState{
		ID: "tenant-1:gap_fill", TenantID: "tenant-1", AgentName: "gap_fill", Status: models.AgentPaused,
	}))

	require.NoError(t, sched.ScheduleAgentRun(context.Background(), "tenant-1", "gap_fill", "tick", nil, 0))
	assert.Empty(t, queue.tasks)
}

func TestScheduleAgentRun_SkipsWhenCircuitOpen(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	queue := &fakeQueue{}
	sched := scheduler.New(queue, agentruntime.New(s, runtimeConfig()), s)

	require.NoError(t, s.CreateAgentState(context.Background(), &models.AgentState{
		ID: "tenant-1:gap_fill", TenantID: "tenant-1", AgentName: "gap_fill", Status: models.AgentActive,
		CircuitBreaker: models.CircuitBreakerInfo{State: models.CircuitOpen},
	}))

	require.NoError(t, sched.ScheduleAgentRun(context.Background(), "tenant-1", "gap_fill", "tick", nil, 0))
	assert.Empty(t, queue.tasks)
}

func TestScheduleAgentRun_EnqueuesWhenHealthy(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	queue := &fakeQueue{}
	sched := scheduler.New(queue, agentruntime.New(s, runtimeConfig()), s)

	require.NoError(t, sched.ScheduleAgentRun(context.Background(), "tenant-1", "gap_fill", "tick", nil, 0))
	require.Len(t, queue.tasks, 1)
	assert.Equal(t, "agent_run:tenant-1:gap_fill:tick", queue.tasks[0].Name)
}

func TestScheduleCleanup_BuildsDeterministicTaskName(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	queue := &fakeQueue{}
	sched := scheduler.New(queue, agentruntime.New(s, runtimeConfig()), s)

	require.NoError(t, sched.ScheduleCleanup(context.Background(), scheduler.CleanupExpiredOutreach, "tenant-1"))
	require.Len(t, queue.tasks, 1)
	assert.Equal(t, "cleanup:expired_outreach:tenant-1", queue.tasks[0].Name)
}
