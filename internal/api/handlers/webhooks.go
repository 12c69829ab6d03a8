package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/salonflow/controlplane/pkg/models"
)

// providerStatusToOutreach maps the delivery-provider's status vocabulary
// onto our OutreachStatus. "queued" has no forward-progress meaning for us
// (Send marks the record Sent once the provider acknowledges the send), so
// it's dropped.
var providerStatusToOutreach = map[string]models.OutreachStatus{
	"sent":        models.OutreachSent,
	"delivered":   models.OutreachDelivered,
	"read":        models.OutreachRead,
	"failed":      models.OutreachFailed,
	"undelivered": models.OutreachFailed,
}

// StatusWebhook handles POST /webhooks/provider/status — a delivery-receipt
// callback. The provider expects a 200 within a few seconds regardless of
// outcome, so every branch below still responds 200; failures are logged,
// not surfaced to the caller.
func (h *Handlers) StatusWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		log.Warn().Err(err).Msg("webhooks: status callback form decode failed")
		w.WriteHeader(http.StatusOK)
		return
	}

	messageSid := r.FormValue("MessageSid")
	messageStatus := strings.ToLower(r.FormValue("MessageStatus"))
	if messageSid == "" || messageStatus == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	to, ok := providerStatusToOutreach[messageStatus]
	if !ok {
		log.Debug().Str("sid", messageSid).Str("status", messageStatus).Msg("webhooks: ignoring unrecognized status")
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.Outreach.AdvanceStatus(r.Context(), messageSid, to); err != nil {
		log.Warn().Err(err).Str("sid", messageSid).Str("status", messageStatus).Msg("webhooks: advance status failed")
	}
	w.WriteHeader(http.StatusOK)
}

// classifyReply maps a free-text customer reply to a reply action. Numeric
// replies select a numbered candidate slot offered in the outreach message;
// everything else is matched against small yes/no vocabularies covering the
// languages the outreach templates are sent in.
func classifyReply(body string) string {
	body = strings.ToLower(strings.TrimSpace(body))
	switch body {
	case "yes", "y", "confirm", "book", "sure", "ok", "haan", "ha", "ji":
		return "accept"
	case "no", "n", "cancel", "decline", "nahi", "na", "nope":
		return "decline"
	}
	if len(body) == 1 && body[0] >= '1' && body[0] <= '5' {
		return "select_" + body
	}
	return ""
}

// IncomingWebhook handles POST /webhooks/provider/incoming — an inbound
// customer reply. It resolves the sender's phone to the most recent
// outreach sent to it, classifies the reply body, and records it. Unmatched
// senders and unclassifiable bodies are no-ops, not errors: a customer
// texting in about something unrelated shouldn't produce a 4xx the provider
// will retry forever.
func (h *Handlers) IncomingWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		log.Warn().Err(err).Msg("webhooks: incoming message form decode failed")
		w.WriteHeader(http.StatusOK)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	action := classifyReply(body)
	if action == "" {
		log.Debug().Str("from", from).Msg("webhooks: incoming reply did not classify")
		w.WriteHeader(http.StatusOK)
		return
	}

	record, err := h.Store.FindOutreachByPhone(r.Context(), from, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		log.Debug().Err(err).Str("from", from).Msg("webhooks: no recent outreach matches incoming reply")
		w.WriteHeader(http.StatusOK)
		return
	}
	if record.Delivery.ProviderMessageID == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	updated, err := h.Outreach.RecordReply(r.Context(), record.Delivery.ProviderMessageID, action)
	if err != nil {
		log.Warn().Err(err).Str("outreach_id", record.ID).Msg("webhooks: record reply failed")
		w.WriteHeader(http.StatusOK)
		return
	}

	if action == "accept" {
		if err := h.Gapfill.AttributeReply(r.Context(), updated.TenantID, updated); err != nil {
			log.Warn().Err(err).Str("outreach_id", updated.ID).Msg("webhooks: gap-fill attribution failed")
		}
	}
	w.WriteHeader(http.StatusOK)
}
