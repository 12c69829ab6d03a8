// Package queue implements the control plane's contracts.TaskQueue: an
// HTTP dispatcher that posts enqueued tasks back to this service's own
// internal task handlers, signing each request with a service-account
// token the way the booking client attaches bearer auth to its own
// external call. A bounded in-flight semaphore stands in for a managed
// queue's backpressure signal, returning gapfill.ErrQueueSaturated when
// full so the Gap-Fill Orchestrator's backoff wrapper has something real
// to react to.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/salonflow/controlplane/internal/auth"
	"github.com/salonflow/controlplane/internal/gapfill"
	"github.com/salonflow/controlplane/pkg/contracts"
)

// Config points the queue at its own server and the secret used to mint
// service-account tokens the ServiceAccountProvider on the receiving side
// validates.
type Config struct {
	BaseURL     string
	Secret      []byte
	MaxInFlight int
}

// HTTPQueue implements contracts.TaskQueue.
type HTTPQueue struct {
	cfg    Config
	client *http.Client
	sem    chan struct{}
}

// New creates an HTTPQueue with the configured in-flight cap (default 64).
func New(cfg Config) *HTTPQueue {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 64
	}
	return &HTTPQueue{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		sem:    make(chan struct{}, cfg.MaxInFlight),
	}
}

// Enqueue dispatches task asynchronously, respecting ScheduleAt if set.
// Returns gapfill.ErrQueueSaturated immediately if the in-flight cap is
// already full rather than blocking the caller.
func (q *HTTPQueue) Enqueue(ctx context.Context, task contracts.Task) error {
	select {
	case q.sem <- struct{}{}:
	default:
		return gapfill.ErrQueueSaturated
	}

	delay := time.Duration(0)
	if task.ScheduleAt != nil {
		if d := time.Until(*task.ScheduleAt); d > 0 {
			delay = d
		}
	}

	go func() {
		defer func() { <-q.sem }()
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return
			}
		}
		q.dispatch(task)
	}()
	return nil
}

func (q *HTTPQueue) dispatch(task contracts.Task) {
	body, err := json.Marshal(task.Payload)
	if err != nil {
		log.Error().Err(err).Str("task", task.Name).Msg("queue: marshal payload failed")
		return
	}

	req, err := http.NewRequest(http.MethodPost, q.cfg.BaseURL+task.HandlerPath, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Str("task", task.Name).Msg("queue: build request failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	tenantID, _ := task.Payload["tenant_id"].(string)
	if len(q.cfg.Secret) > 0 {
		token, err := auth.GenerateToken(q.cfg.Secret, "scheduler", tenantID, 5*time.Minute)
		if err != nil {
			log.Error().Err(err).Str("task", task.Name).Msg("queue: sign token failed")
			return
		}
		req.Header.Set("X-Service-Token", token)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("task", task.Name).Msg("queue: dispatch failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		log.Warn().Int("status", resp.StatusCode).Str("task", task.Name).Msg("queue: handler rejected task")
	}
}
