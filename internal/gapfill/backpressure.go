package gapfill

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/salonflow/controlplane/pkg/contracts"
)

// ErrQueueSaturated is the sentinel a contracts.TaskQueue implementation
// returns when it is shedding load rather than accepting new work.
var ErrQueueSaturated = errors.New("gapfill: queue saturated")

// EnqueueSend hands a send-task to queue, retrying on backpressure with the
// fixed 5/10/20s schedule capped at 60s total. Every deferred attempt emits
// a BACKPRESSURE event so the scheduler's saturation is visible without the
// caller having to poll.
func (o *Orchestrator) EnqueueSend(ctx context.Context, queue contracts.TaskQueue, tenantID string, task contracts.Task) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 20 * time.Second
	b.MaxElapsedTime = 60 * time.Second
	b.RandomizationFactor = 0

	attempt := 0
	op := func() error {
		err := queue.Enqueue(ctx, task)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrQueueSaturated) {
			return backoff.Permanent(err)
		}
		attempt++
		o.emit(ctx, "BACKPRESSURE", tenantID, map[string]any{
			"task":    task.Name,
			"attempt": attempt,
		})
		return err
	}

	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
