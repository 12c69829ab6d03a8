// Package outreach implements the Outreach state machine: the monotone,
// forward-only lifecycle of a single customer message from creation through
// provider delivery callbacks to a classified reply. Idempotent by
// construction — provider webhooks may be re-delivered and are accepted only
// if they advance the rank-ordered status chain.
package outreach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/salonflow/controlplane/internal/apierr"
	"github.com/salonflow/controlplane/internal/store"
	"github.com/salonflow/controlplane/pkg/contracts"
	"github.com/salonflow/controlplane/pkg/models"
)

// Config carries the preconditions' knobs.
type Config struct {
	DailyCap      int
	HourlyCap     int
	Cooldown      time.Duration
	DefaultExpiry time.Duration
}

// CreatedHook runs after a new pending Outreach is persisted. Wired to the
// Task Scheduler so a freshly created record gets a send-task enqueued
// rather than sitting pending forever; left nil in tests that drive Send
// directly.
type CreatedHook func(ctx context.Context, record *models.Outreach) error

// Machine implements the Outreach state machine.
type Machine struct {
	store     store.Store
	cfg       Config
	drivers   map[models.OutreachChannel]contracts.ChannelDriver
	publish   contracts.EventPublisher
	onCreated CreatedHook
}

// New creates a Machine backed by store, dispatching sends through drivers
// keyed by channel and publishing lifecycle events to pub.
func New(s store.Store, cfg Config, drivers map[models.OutreachChannel]contracts.ChannelDriver, pub contracts.EventPublisher) *Machine {
	return &Machine{store: s, cfg: cfg, drivers: drivers, publish: pub}
}

// SetOnCreated wires the post-create hook. Called once during server
// composition, after the Task Scheduler (which needs this Machine to exist
// first) is built.
func (m *Machine) SetOnCreated(hook CreatedHook) {
	m.onCreated = hook
}

// CheckPreconditions evaluates the three creation gates without creating a
// record: per-customer cooldown, tenant daily cap, tenant hourly cap. Returns
// a typed reason on the first failing precondition.
func (m *Machine) CheckPreconditions(ctx context.Context, tenantID, customerID string) error {
	last, err := m.store.LastOutreachTo(ctx, tenantID, customerID)
	if err != nil {
		return err
	}
	if last != nil && time.Since(last.CreatedAt) < m.cfg.Cooldown {
		return apierr.New(apierr.StateConflict, "customer outreach cooldown active")
	}

	now := time.Now().UTC()
	dayCount, err := m.store.CountOutreachSince(ctx, tenantID, now.Add(-24*time.Hour))
	if err != nil {
		return err
	}
	if dayCount >= m.cfg.DailyCap {
		return apierr.New(apierr.RateLimited, "tenant daily outreach cap exhausted")
	}

	hourCount, err := m.store.CountOutreachSince(ctx, tenantID, now.Add(-time.Hour))
	if err != nil {
		return err
	}
	if hourCount >= m.cfg.HourlyCap {
		return apierr.New(apierr.RateLimited, "tenant hourly outreach cap exhausted")
	}
	return nil
}

// Create opens a new pending Outreach after verifying preconditions. No
// record is created if a precondition fails.
func (m *Machine) Create(ctx context.Context, tenantID, customerID, customerName, customerPhone string, channel models.OutreachChannel, messageBody, triggerID, triggerKind string, offerDetail map[string]any) (*models.Outreach, error) {
	if err := m.CheckPreconditions(ctx, tenantID, customerID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := &models.Outreach{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		CustomerID:    customerID,
		CustomerName:  customerName,
		CustomerPhone: customerPhone,
		Type:          triggerKind,
		Channel:       channel,
		Status:        models.OutreachPending,
		MessageBody:   messageBody,
		TriggerID:     triggerID,
		TriggerKind:   triggerKind,
		OfferDetail:   offerDetail,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(m.cfg.DefaultExpiry),
	}
	if err := m.store.CreateOutreach(ctx, record); err != nil {
		return nil, err
	}
	m.emit(ctx, "OUTREACH_CREATED", record)

	if m.onCreated != nil {
		if err := m.onCreated(ctx, record); err != nil {
			log.Warn().Err(err).Str("outreach_id", record.ID).Msg("outreach: enqueue send failed")
		}
	}
	return record, nil
}

// Send dispatches a pending Outreach through its channel driver and advances
// it to sent on a successful provider ack.
func (m *Machine) Send(ctx context.Context, outreachID string) error {
	record, err := m.store.GetOutreach(ctx, outreachID)
	if err != nil {
		return err
	}
	if record.Status != models.OutreachPending {
		return apierr.New(apierr.StateConflict, "outreach is not pending")
	}

	driver, ok := m.drivers[record.Channel]
	if !ok {
		return apierr.New(apierr.Internal, fmt.Sprintf("no channel driver for %q", record.Channel))
	}

	now := time.Now().UTC()
	record.Attempts++
	record.LastAttemptAt = &now

	result, sendErr := driver.Send(ctx, contracts.SendRequest{
		TenantID: record.TenantID,
		To:       record.CustomerPhone,
		Body:     record.MessageBody,
		Channel:  record.Channel,
	})
	if sendErr != nil {
		record.Delivery.LastError = sendErr.Error()
		record.UpdatedAt = now
		_ = m.store.UpdateOutreach(ctx, record)
		log.Warn().Str("outreach_id", record.ID).Err(sendErr).Msg("outreach: send failed")
		return sendErr
	}

	record.Status = models.OutreachSent
	record.Delivery.ProviderMessageID = result.ProviderMessageID
	record.Delivery.SentAt = &now
	record.UpdatedAt = now
	if err := m.store.UpdateOutreach(ctx, record); err != nil {
		return err
	}
	m.emit(ctx, "OUTREACH_SENT", record)
	return nil
}

// AdvanceStatus applies a provider delivery callback (delivered or read),
// looked up by provider message id. Only forward transitions are accepted;
// a stale or out-of-order callback is ignored and logged, never erroring —
// callbacks are safe to replay.
func (m *Machine) AdvanceStatus(ctx context.Context, providerMessageID string, to models.OutreachStatus) error {
	record, err := m.store.GetOutreachByProviderMessageID(ctx, providerMessageID)
	if err != nil {
		return err
	}
	return m.advance(ctx, record, to)
}

func (m *Machine) advance(ctx context.Context, record *models.Outreach, to models.OutreachStatus) error {
	if to.Rank() <= record.Status.Rank() || record.Status.Terminal() {
		log.Debug().Str("outreach_id", record.ID).Str("from", string(record.Status)).
			Str("to", string(to)).Msg("outreach: ignoring non-forward transition")
		return nil
	}

	now := time.Now().UTC()
	record.Status = to
	switch to {
	case models.OutreachDelivered:
		record.Delivery.DeliveredAt = &now
	case models.OutreachRead:
		record.Delivery.ReadAt = &now
	}
	record.UpdatedAt = now
	if err := m.store.UpdateOutreach(ctx, record); err != nil {
		return err
	}
	m.emit(ctx, "OUTREACH_"+string(to), record)
	return nil
}

// RecordReply records an inbound reply and transitions the Outreach to
// responded, whatever the action. It does no classification: the caller
// (webhook ingress) supplies the already-classified action.
func (m *Machine) RecordReply(ctx context.Context, providerMessageID, action string) (*models.Outreach, error) {
	record, err := m.store.GetOutreachByProviderMessageID(ctx, providerMessageID)
	if err != nil {
		return nil, err
	}
	if record.Status.Terminal() {
		return record, nil
	}

	now := time.Now().UTC()
	record.Response.Received = true
	record.Response.Action = action
	record.Response.At = &now
	record.Status = models.OutreachResponded
	record.UpdatedAt = now
	if err := m.store.UpdateOutreach(ctx, record); err != nil {
		return nil, err
	}
	m.emit(ctx, "OUTREACH_RESPONDED", record)
	return record, nil
}

// AttachBooking backfills response.booking_id once the Gap-Fill
// orchestrator's attribution step creates a booking for an accepted reply.
func (m *Machine) AttachBooking(ctx context.Context, outreachID, bookingID string) error {
	record, err := m.store.GetOutreach(ctx, outreachID)
	if err != nil {
		return err
	}
	record.Response.BookingID = bookingID
	record.UpdatedAt = time.Now().UTC()
	return m.store.UpdateOutreach(ctx, record)
}

// MarkFailed transitions a non-terminal Outreach to failed, reachable from
// any non-terminal state per the lifecycle's failure escape hatch.
func (m *Machine) MarkFailed(ctx context.Context, outreachID, reason string) error {
	record, err := m.store.GetOutreach(ctx, outreachID)
	if err != nil {
		return err
	}
	if record.Status.Terminal() {
		return nil
	}
	record.Status = models.OutreachFailed
	record.Delivery.LastError = reason
	record.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateOutreach(ctx, record); err != nil {
		return err
	}
	m.emit(ctx, "OUTREACH_FAILED", record)
	return nil
}

// ExpirePending sweeps non-terminal, non-responded outreach past expiry.
// Called by the Task Scheduler's cleanup sweeper.
func (m *Machine) ExpirePending(ctx context.Context, before time.Time) (int, error) {
	expiring, err := m.store.ListExpiringOutreach(ctx, before)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, o := range expiring {
		record := o
		if record.Status.Terminal() {
			continue
		}
		record.Status = models.OutreachExpired
		record.UpdatedAt = time.Now().UTC()
		if err := m.store.UpdateOutreach(ctx, &record); err != nil {
			continue
		}
		m.emit(ctx, "OUTREACH_EXPIRED", &record)
		count++
	}
	return count, nil
}

// ExpireByTrigger marks every in-flight outreach sharing triggerID as
// expired, used when a Gap is filled through a different channel or expires
// outright.
func (m *Machine) ExpireByTrigger(ctx context.Context, tenantID, triggerID string) error {
	records, err := m.store.ListOutreach(ctx, tenantID, store.OutreachFilter{Limit: 0})
	if err != nil {
		return err
	}
	for _, o := range records {
		if o.TriggerID != triggerID || o.Status.Terminal() {
			continue
		}
		record := o
		record.Status = models.OutreachExpired
		record.UpdatedAt = time.Now().UTC()
		if err := m.store.UpdateOutreach(ctx, &record); err != nil {
			continue
		}
		m.emit(ctx, "OUTREACH_EXPIRED", &record)
	}
	return nil
}

func (m *Machine) emit(ctx context.Context, eventType string, record *models.Outreach) {
	if m.publish == nil {
		return
	}
	_ = m.publish.Publish(ctx, contracts.Event{
		EventType: eventType,
		TenantID:  record.TenantID,
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"outreach_id": record.ID,
			"customer_id": record.CustomerID,
			"trigger_id":  record.TriggerID,
			"status":      string(record.Status),
		},
	})
}
