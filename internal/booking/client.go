// Package booking implements a contracts.BookingClient that calls the
// external booking service over HTTP. The request-building and auth-header
// application follow the teacher's external-tool-invocation style (build a
// JSON body, apply bearer/api-key auth, POST, decode the response) trimmed
// down from a generic multi-auth-scheme JSON-RPC tool caller to a single
// fixed endpoint with bearer auth, since the control plane only ever talks
// to one booking service.
package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/salonflow/controlplane/internal/apierr"
	"github.com/salonflow/controlplane/pkg/contracts"
)

// Config points at the external booking service.
type Config struct {
	BaseURL string
	APIKey  string
}

// Client requests booking creation from the external booking service.
type Client struct {
	cfg    Config
	client *http.Client
}

// New creates a Client with a 10s request timeout — booking creation is a
// synchronous call on the attribution path and must not stall a webhook
// handler's response budget.
func New(cfg Config) *Client {
	return &Client{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

type createBookingBody struct {
	CustomerID string    `json:"customer_id"`
	StaffID    string    `json:"staff_id"`
	ServiceID  string    `json:"service_id"`
	SlotStart  time.Time `json:"slot_start"`
	TriggerID  string    `json:"trigger_id"`
}

type createBookingResponse struct {
	BookingID string  `json:"booking_id"`
	Amount    float64 `json:"amount"`
	Error     string  `json:"error"`
}

// CreateBooking POSTs a booking request to the external service and returns
// its synchronous ack.
func (c *Client) CreateBooking(ctx context.Context, req contracts.CreateBookingRequest) (*contracts.BookingResult, error) {
	body, err := json.Marshal(createBookingBody{
		CustomerID: req.CustomerID,
		StaffID:    req.StaffID,
		ServiceID:  req.ServiceID,
		SlotStart:  req.SlotStart,
		TriggerID:  req.TriggerID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal booking request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/bookings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build booking request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("X-Tenant-Id", req.TenantID)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, apierr.Wrap(apierr.ProviderUnavailable, "booking service request failed", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, apierr.Wrap(apierr.ProviderUnavailable, "read booking service response", err)
	}

	var parsed createBookingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apierr.Wrap(apierr.ProviderUnavailable, "decode booking service response", err)
	}
	if httpResp.StatusCode >= 400 || parsed.Error != "" {
		msg := parsed.Error
		if msg == "" {
			msg = fmt.Sprintf("booking service returned status %d", httpResp.StatusCode)
		}
		return nil, apierr.New(apierr.ProviderUnavailable, msg)
	}

	return &contracts.BookingResult{BookingID: parsed.BookingID, Amount: parsed.Amount}, nil
}
