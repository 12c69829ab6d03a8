package outreach_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salonflow/controlplane/internal/outreach"
	"github.com/salonflow/controlplane/internal/store"
	"github.com/salonflow/controlplane/pkg/contracts"
	"github.com/salonflow/controlplane/pkg/models"
)

type fakeDriver struct {
	messageID string
	err       error
	sent      []contracts.SendRequest
}

func (f *fakeDriver) Kind() models.OutreachChannel { return models.ChannelWhatsApp }

func (f *fakeDriver) Send(_ context.Context, req contracts.SendRequest) (*contracts.SendResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, req)
	return &contracts.SendResult{ProviderMessageID: f.messageID}, nil
}

func testConfig() outreach.Config {
	return outreach.Config{
		DailyCap:      200,
		HourlyCap:     50,
		Cooldown:      time.Hour,
		DefaultExpiry: 15 * time.Minute,
	}
}

func TestCreate_RejectsWhenCooldownActive(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	m := outreach.New(s, testConfig(), nil, nil)

	_, err := m.Create(context.Background(), "tenant-1", "cust-1", "Asha", "+919000000001", models.ChannelWhatsApp, "your slot is open", "trigger-1", "gap_fill", nil)
	require.NoError(t, err)

	_, err = m.Create(context.Background(), "tenant-1", "cust-1", "Asha", "+919000000001", models.ChannelWhatsApp, "another slot", "trigger-2", "gap_fill", nil)
	assert.Error(t, err)
}

func TestCreate_RejectsWhenDailyCapExhausted(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	cfg := testConfig()
	cfg.DailyCap = 1
	m := outreach.New(s, cfg, nil, nil)

	_, err := m.Create(context.Background(), "tenant-1", "cust-1", "Asha", "+919000000001", models.ChannelWhatsApp, "slot A", "trigger-1", "gap_fill", nil)
	require.NoError(t, err)

	_, err = m.Create(context.Background(), "tenant-1", "cust-2", "Bina", "+919000000002", models.ChannelWhatsApp, "slot B", "trigger-2", "gap_fill", nil)
	assert.Error(t, err)
}

func TestSend_AdvancesPendingToSent(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	driver := &fakeDriver{messageID: "wamid.123"}
	drivers := map[models.OutreachChannel]contracts.ChannelDriver{models.ChannelWhatsApp: driver}
	m := outreach.New(s, testConfig(), drivers, nil)

	created, err := m.Create(context.Background(), "tenant-1", "cust-1", "Asha", "+919000000001", models.ChannelWhatsApp, "your slot is open", "trigger-1", "gap_fill", nil)
	require.NoError(t, err)

	require.NoError(t, m.Send(context.Background(), created.ID))

	reloaded, err := s.GetOutreach(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutreachSent, reloaded.Status)
	assert.Equal(t, "wamid.123", reloaded.Delivery.ProviderMessageID)
	assert.Len(t, driver.sent, 1)
}

func TestAdvanceStatus_IgnoresBackwardTransition(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	driver := &fakeDriver{messageID: "wamid.456"}
	drivers := map[models.OutreachChannel]contracts.ChannelDriver{models.ChannelWhatsApp: driver}
	m := outreach.New(s, testConfig(), drivers, nil)

	created, err := m.Create(context.Background(), "tenant-1", "cust-1", "Asha", "+919000000001", models.ChannelWhatsApp, "your slot is open", "trigger-1", "gap_fill", nil)
	require.NoError(t, err)
	require.NoError(t, m.Send(context.Background(), created.ID))

	require.NoError(t, m.AdvanceStatus(context.Background(), "wamid.456", models.OutreachDelivered))
	require.NoError(t, m.AdvanceStatus(context.Background(), "wamid.456", models.OutreachRead))
	// Replaying delivered after read must not regress the status.
	require.NoError(t, m.AdvanceStatus(context.Background(), "wamid.456", models.OutreachDelivered))

	reloaded, err := s.GetOutreach(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutreachRead, reloaded.Status)
}

func TestRecordReply_TransitionsToResponded(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	driver := &fakeDriver{messageID: "wamid.789"}
	drivers := map[models.OutreachChannel]contracts.ChannelDriver{models.ChannelWhatsApp: driver}
	m := outreach.New(s, testConfig(), drivers, nil)

	created, err := m.Create(context.Background(), "tenant-1", "cust-1", "Asha", "+919000000001", models.ChannelWhatsApp, "your slot is open", "trigger-1", "gap_fill", nil)
	require.NoError(t, err)
	require.NoError(t, m.Send(context.Background(), created.ID))

	responded, err := m.RecordReply(context.Background(), "wamid.789", "accept")
	require.NoError(t, err)
	assert.Equal(t, models.OutreachResponded, responded.Status)
	assert.Equal(t, "accept", responded.Response.Action)

	require.NoError(t, m.AttachBooking(context.Background(), created.ID, "booking-1"))
	reloaded, err := s.GetOutreach(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "booking-1", reloaded.Response.BookingID)
}

func TestExpirePending_ExpiresNonTerminalPastDeadline(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	cfg := testConfig()
	cfg.DefaultExpiry = -time.Minute
	m := outreach.New(s, cfg, nil, nil)

	created, err := m.Create(context.Background(), "tenant-1", "cust-1", "Asha", "+919000000001", models.ChannelWhatsApp, "your slot is open", "trigger-1", "gap_fill", nil)
	require.NoError(t, err)

	count, err := m.ExpirePending(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	reloaded, err := s.GetOutreach(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutreachExpired, reloaded.Status)
}
