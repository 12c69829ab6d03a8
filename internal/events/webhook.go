// Package events implements the control plane's EventPublisher: an HTTP
// topic-poster that forwards every domain event (DECISION_CREATED,
// GAP_FILLED, APPROVAL_REQUESTED, and the rest of §6's enumerated event
// types) to an externally configured webhook URL, following the same
// build-JSON-body-and-POST-with-bearer-auth shape as the booking client.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/salonflow/controlplane/pkg/contracts"
)

// Config points at the external event topic endpoint. An empty URL makes
// the publisher a no-op that only logs, so event publishing never blocks
// startup on infrastructure that hasn't been provisioned yet.
type Config struct {
	URL    string
	APIKey string
}

// WebhookPublisher implements contracts.EventPublisher.
type WebhookPublisher struct {
	cfg    Config
	client *http.Client
}

// New creates a WebhookPublisher with a short timeout — publishing is
// fire-and-forget relative to the request that triggered it and must never
// stall a caller waiting on the Decision Pipeline or a webhook handler.
func New(cfg Config) *WebhookPublisher {
	return &WebhookPublisher{cfg: cfg, client: &http.Client{Timeout: 5 * time.Second}}
}

// Publish posts event as JSON to the configured topic URL. A publish
// failure is logged and swallowed: losing an audit-trail event is
// preferable to failing the decision/outreach/approval action that
// produced it.
func (p *WebhookPublisher) Publish(ctx context.Context, event contracts.Event) error {
	if p.cfg.URL == "" {
		log.Debug().Str("event_type", event.EventType).Str("tenant_id", event.TenantID).Msg("events: no topic configured, logging only")
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Msg("events: build publish request failed")
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("event_type", event.EventType).Msg("events: publish failed")
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		log.Warn().Int("status", resp.StatusCode).Str("event_type", event.EventType).Msg("events: topic rejected publish")
	}
	return nil
}
