// Package channels implements contracts.ChannelDriver for the four
// outbound transports the Outreach state machine sends over. Each driver
// is a thin HTTP client against one provider endpoint, following the same
// build-body/apply-auth/POST/decode shape as internal/booking's client —
// the control plane pins to one provider per channel rather than routing
// across a tenant-configured fleet.
package channels

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
	"github.com/salonflow/controlplane/pkg/models"
)

// Config points one channel driver at its provider endpoint.
type Config struct {
	Kind    models.OutreachChannel
	BaseURL string
	APIKey  string
}

// HTTPDriver implements contracts.ChannelDriver against a single provider
// endpoint that accepts {to, body} and returns {message_id}.
type HTTPDriver struct {
	cfg    Config
	client *http.Client
}

// New creates an HTTPDriver for one channel.
func New(cfg Config) *HTTPDriver {
	return &HTTPDriver{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

func (d *HTTPDriver) Kind() models.OutreachChannel { return d.cfg.Kind }

type sendBody struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// Send POSTs the message to the provider and returns its message id.
func (d *HTTPDriver) Send(ctx context.Context, req contracts.SendRequest) (*contracts.SendResult, error) {
	if d.cfg.BaseURL == "" {
		return nil, apierr.New(apierr.ProviderUnavailable, fmt.Sprintf("no provider configured for channel %q", d.cfg.Kind))
	}

	body, err := json.Marshal(sendBody{To: req.To, Body: req.Body})
	if err != nil {
		return nil, fmt.Errorf("marshal send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build send request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, apierr.Wrap(apierr.ProviderUnavailable, fmt.Sprintf("%s provider request failed", d.cfg.Kind), err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, apierr.Wrap(apierr.ProviderUnavailable, "read provider response", err)
	}

	var parsed sendResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apierr.Wrap(apierr.ProviderUnavailable, "decode provider response", err)
	}
	if httpResp.StatusCode >= 400 || parsed.Error != "" {
		msg := parsed.Error
		if msg == "" {
			msg = fmt.Sprintf("%s provider returned status %d", d.cfg.Kind, httpResp.StatusCode)
		}
		return nil, apierr.New(apierr.ProviderUnavailable, msg)
	}

	return &contracts.SendResult{ProviderMessageID: parsed.MessageID}, nil
}
