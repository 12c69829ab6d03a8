// Package store — in-memory Store implementation.
// Used as a fallback when PostgreSQL is not available (local dev, tests).
// Supports file-based snapshot persistence so data survives restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/salonflow/controlplane/pkg/models"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Tenants        map[string]*models.Tenant        `json:"tenants"`
	Decisions      map[string]*models.Decision      `json:"decisions"`
	AgentStates    map[string]*models.AgentState    `json:"agent_states"` // key: tenant:agent
	Approvals      map[string]*models.Approval      `json:"approvals"`
	Outreach       map[string]*models.Outreach      `json:"outreach"`
	Gaps           map[string]*models.Gap           `json:"gaps"`
	CustomerScores map[string]*models.CustomerScore `json:"customer_scores"` // key: tenant:customer
	AuditLogs      []*models.AuditLog               `json:"audit_logs"`
}

// MemoryStore implements Store with in-memory maps guarded by a single
// RWMutex. Reads take the read lock; every mutation takes the write lock and
// schedules a debounced snapshot write.
type MemoryStore struct {
	mu             sync.RWMutex
	tenants        map[string]*models.Tenant
	decisions      map[string]*models.Decision
	agentStates    map[string]*models.AgentState // key: tenant:agent
	approvals      map[string]*models.Approval
	outreach       map[string]*models.Outreach
	outreachByMsg  map[string]string // provider message id -> outreach id
	gaps           map[string]*models.Gap
	customerScores map[string]*models.CustomerScore // key: tenant:customer
	auditLogs      []*models.AuditLog               // append-only log

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop

	// Audit log retention — entries older than this are evicted. Defaults
	// to 90 days. Set via CONTROLPLANE_AUDIT_TTL (Go duration string).
	auditTTL time.Duration
}

// NewMemoryStore creates a new in-memory store. If CONTROLPLANE_DATA_DIR is
// set, data is persisted to a JSON file in that directory. Otherwise defaults
// to ~/.controlplane/data.json.
func NewMemoryStore() *MemoryStore {
	auditTTL := 90 * 24 * time.Hour
	if ttlStr := os.Getenv("CONTROLPLANE_AUDIT_TTL"); ttlStr != "" {
		if parsed, err := time.ParseDuration(ttlStr); err == nil {
			auditTTL = parsed
		} else {
			log.Warn().Str("value", ttlStr).Msg("invalid CONTROLPLANE_AUDIT_TTL, using default 90d")
		}
	}

	m := &MemoryStore{
		tenants:        make(map[string]*models.Tenant),
		decisions:      make(map[string]*models.Decision),
		agentStates:    make(map[string]*models.AgentState),
		approvals:      make(map[string]*models.Approval),
		outreach:       make(map[string]*models.Outreach),
		outreachByMsg:  make(map[string]string),
		gaps:           make(map[string]*models.Gap),
		customerScores: make(map[string]*models.CustomerScore),
		auditLogs:      make([]*models.AuditLog, 0),
		saveCh:         make(chan struct{}, 1),
		doneCh:         make(chan struct{}),
		auditTTL:       auditTTL,
	}

	dataDir := os.Getenv("CONTROLPLANE_DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			dataDir = filepath.Join(home, ".controlplane")
		}
	}
	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "data.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	go m.auditEvictionLoop()

	log.Info().
		Str("audit_ttl", auditTTL.String()).
		Str("snapshot", m.snapshotPath).
		Msg("memory store configured")

	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// saveLoop debounces save requests to at most one write per 500ms.
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond)
			m.saveSnapshot()
		}
	}
}

// auditEvictionLoop periodically removes audit log entries older than
// auditTTL.
func (m *MemoryStore) auditEvictionLoop() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-m.doneCh:
			return
		case <-ticker.C:
			m.evictExpiredAuditLogs()
		}
	}
}

func (m *MemoryStore) evictExpiredAuditLogs() {
	cutoff := time.Now().Add(-m.auditTTL)

	m.mu.Lock()
	kept := m.auditLogs[:0]
	evicted := 0
	for _, a := range m.auditLogs {
		if a.Timestamp.Before(cutoff) {
			evicted++
			continue
		}
		kept = append(kept, a)
	}
	m.auditLogs = kept
	m.mu.Unlock()

	if evicted > 0 {
		log.Info().Int("evicted", evicted).Str("ttl", m.auditTTL.String()).Msg("evicted expired audit logs")
		m.requestSave()
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Tenants:        m.tenants,
		Decisions:      m.decisions,
		AgentStates:    m.agentStates,
		Approvals:      m.approvals,
		Outreach:       m.outreach,
		Gaps:           m.gaps,
		CustomerScores: m.customerScores,
		AuditLogs:      m.auditLogs,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("failed to rename snapshot")
		return
	}

	log.Debug().Str("path", m.snapshotPath).Msg("snapshot saved")
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("no snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Tenants != nil {
		m.tenants = snap.Tenants
	}
	if snap.Decisions != nil {
		m.decisions = snap.Decisions
	}
	if snap.AgentStates != nil {
		m.agentStates = snap.AgentStates
	}
	if snap.Approvals != nil {
		m.approvals = snap.Approvals
	}
	if snap.Outreach != nil {
		m.outreach = snap.Outreach
		for id, o := range m.outreach {
			if o.Delivery.ProviderMessageID != "" {
				m.outreachByMsg[o.Delivery.ProviderMessageID] = id
			}
		}
	}
	if snap.Gaps != nil {
		m.gaps = snap.Gaps
	}
	if snap.CustomerScores != nil {
		m.customerScores = snap.CustomerScores
	}
	if snap.AuditLogs != nil {
		m.auditLogs = snap.AuditLogs
	}

	log.Info().
		Int("tenants", len(m.tenants)).
		Int("decisions", len(m.decisions)).
		Int("approvals", len(m.approvals)).
		Int("outreach", len(m.outreach)).
		Int("gaps", len(m.gaps)).
		Msg("snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times (second call is a no-op).
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		return nil
	default:
		close(m.doneCh)
	}

	if m.snapshotPath != "" {
		log.Info().Msg("flushing final snapshot before shutdown")
		m.saveSnapshot()
	}

	log.Info().Msg("memory store closed")
	return nil
}

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

func key(parts ...string) string {
	k := ""
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

// ── Tenant Store ─────────────────────────────────────────────

func (m *MemoryStore) ListTenants(_ context.Context) ([]models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) GetTenant(_ context.Context, id string) (*models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "tenant", Key: id}
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) CreateTenant(_ context.Context, tenant *models.Tenant) error {
	m.mu.Lock()
	cp := *tenant
	m.tenants[tenant.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Decision Store ───────────────────────────────────────────

func (m *MemoryStore) ListDecisions(_ context.Context, tenantID string, filter DecisionFilter) ([]models.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.Decision
	for _, d := range m.decisions {
		if d.TenantID != tenantID {
			continue
		}
		if filter.AgentName != "" && d.AgentName != filter.AgentName {
			continue
		}
		if filter.Kind != "" && d.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && d.Outcome.Status != filter.Status {
			continue
		}
		result = append(result, *d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *MemoryStore) GetDecision(_ context.Context, id string) (*models.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.decisions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "decision", Key: id}
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) CreateDecision(_ context.Context, decision *models.Decision) error {
	m.mu.Lock()
	cp := *decision
	m.decisions[decision.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateDecision(_ context.Context, decision *models.Decision) error {
	m.mu.Lock()
	if _, ok := m.decisions[decision.ID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "decision", Key: decision.ID}
	}
	cp := *decision
	m.decisions[decision.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListExpiringDecisions(_ context.Context, before time.Time) ([]models.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.Decision
	for _, d := range m.decisions {
		if d.IsTerminal() {
			continue
		}
		if d.ExpiresAt.IsZero() || d.ExpiresAt.After(before) {
			continue
		}
		result = append(result, *d)
	}
	return result, nil
}

// ── Agent State Store ────────────────────────────────────────

func (m *MemoryStore) GetAgentState(_ context.Context, tenantID, agentName string) (*models.AgentState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.agentStates[key(tenantID, agentName)]
	if !ok {
		return nil, &ErrNotFound{Entity: "agent_state", Key: agentName}
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListAgentStates(_ context.Context, tenantID string) ([]models.AgentState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.AgentState
	for _, s := range m.agentStates {
		if s.TenantID == tenantID {
			result = append(result, *s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AgentName < result[j].AgentName })
	return result, nil
}

func (m *MemoryStore) CreateAgentState(_ context.Context, state *models.AgentState) error {
	m.mu.Lock()
	cp := *state
	m.agentStates[key(state.TenantID, state.AgentName)] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateAgentState(_ context.Context, state *models.AgentState) error {
	m.mu.Lock()
	k := key(state.TenantID, state.AgentName)
	if _, ok := m.agentStates[k]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "agent_state", Key: state.AgentName}
	}
	cp := *state
	m.agentStates[k] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Approval Store ───────────────────────────────────────────

func (m *MemoryStore) GetApproval(_ context.Context, id string) (*models.Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.approvals[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "approval", Key: id}
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) ListApprovals(_ context.Context, tenantID string, status models.ApprovalStatus, limit int) ([]models.Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.Approval
	for _, a := range m.approvals {
		if a.TenantID != tenantID {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		result = append(result, *a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) CreateApproval(_ context.Context, approval *models.Approval) error {
	m.mu.Lock()
	cp := *approval
	m.approvals[approval.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateApproval(_ context.Context, approval *models.Approval) error {
	m.mu.Lock()
	if _, ok := m.approvals[approval.ID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "approval", Key: approval.ID}
	}
	cp := *approval
	m.approvals[approval.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListExpiredApprovals(_ context.Context, before time.Time) ([]models.Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.Approval
	for _, a := range m.approvals {
		if a.Status != models.ApprovalPending {
			continue
		}
		if a.ExpiresAt.IsZero() || a.ExpiresAt.After(before) {
			continue
		}
		result = append(result, *a)
	}
	return result, nil
}

// ── Outreach Store ───────────────────────────────────────────

func (m *MemoryStore) GetOutreach(_ context.Context, id string) (*models.Outreach, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.outreach[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "outreach", Key: id}
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) ListOutreach(_ context.Context, tenantID string, filter OutreachFilter) ([]models.Outreach, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.Outreach
	for _, o := range m.outreach {
		if o.TenantID != tenantID {
			continue
		}
		if filter.CustomerID != "" && o.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Channel != "" && o.Channel != filter.Channel {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.Since != nil && o.CreatedAt.Before(*filter.Since) {
			continue
		}
		result = append(result, *o)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *MemoryStore) CreateOutreach(_ context.Context, outreach *models.Outreach) error {
	m.mu.Lock()
	cp := *outreach
	m.outreach[outreach.ID] = &cp
	if cp.Delivery.ProviderMessageID != "" {
		m.outreachByMsg[cp.Delivery.ProviderMessageID] = cp.ID
	}
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateOutreach(_ context.Context, outreach *models.Outreach) error {
	m.mu.Lock()
	if _, ok := m.outreach[outreach.ID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "outreach", Key: outreach.ID}
	}
	cp := *outreach
	m.outreach[outreach.ID] = &cp
	if cp.Delivery.ProviderMessageID != "" {
		m.outreachByMsg[cp.Delivery.ProviderMessageID] = cp.ID
	}
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetOutreachByProviderMessageID(_ context.Context, providerMessageID string) (*models.Outreach, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.outreachByMsg[providerMessageID]
	if !ok {
		return nil, &ErrNotFound{Entity: "outreach", Key: providerMessageID}
	}
	o, ok := m.outreach[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "outreach", Key: providerMessageID}
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) FindOutreachByPhone(_ context.Context, phone string, since time.Time) (*models.Outreach, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *models.Outreach
	for _, o := range m.outreach {
		if o.CustomerPhone != phone || o.CreatedAt.Before(since) {
			continue
		}
		if best == nil || o.CreatedAt.After(best.CreatedAt) {
			best = o
		}
	}
	if best == nil {
		return nil, &ErrNotFound{Entity: "outreach", Key: phone}
	}
	cp := *best
	return &cp, nil
}

func (m *MemoryStore) CountOutreachSince(_ context.Context, tenantID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, o := range m.outreach {
		if o.TenantID == tenantID && o.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) LastOutreachTo(_ context.Context, tenantID, customerID string) (*models.Outreach, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *models.Outreach
	for _, o := range m.outreach {
		if o.TenantID != tenantID || o.CustomerID != customerID {
			continue
		}
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
			latest = o
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) ListExpiringOutreach(_ context.Context, before time.Time) ([]models.Outreach, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.Outreach
	for _, o := range m.outreach {
		if o.Status.Terminal() {
			continue
		}
		if o.ExpiresAt.IsZero() || o.ExpiresAt.After(before) {
			continue
		}
		result = append(result, *o)
	}
	return result, nil
}

// ── Gap Store ────────────────────────────────────────────────

func (m *MemoryStore) GetGap(_ context.Context, id string) (*models.Gap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.gaps[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "gap", Key: id}
	}
	cp := *g
	return &cp, nil
}

func (m *MemoryStore) ListGaps(_ context.Context, tenantID string, filter GapFilter) ([]models.Gap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.Gap
	for _, g := range m.gaps {
		if g.TenantID != tenantID {
			continue
		}
		if filter.StaffID != "" && g.StaffID != filter.StaffID {
			continue
		}
		if filter.Status != "" && g.Status != filter.Status {
			continue
		}
		if filter.Date != "" && g.Date != filter.Date {
			continue
		}
		result = append(result, *g)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartTime.Before(result[j].StartTime) })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *MemoryStore) CreateGap(_ context.Context, gap *models.Gap) error {
	m.mu.Lock()
	cp := *gap
	m.gaps[gap.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateGap(_ context.Context, gap *models.Gap) error {
	m.mu.Lock()
	if _, ok := m.gaps[gap.ID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "gap", Key: gap.ID}
	}
	cp := *gap
	m.gaps[gap.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListExpiringGaps(_ context.Context, before time.Time) ([]models.Gap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.Gap
	for _, g := range m.gaps {
		if g.Terminal() {
			continue
		}
		if g.EndTime.After(before) {
			continue
		}
		result = append(result, *g)
	}
	return result, nil
}

// ── Customer Score Store ─────────────────────────────────────

func (m *MemoryStore) GetCustomerScore(_ context.Context, tenantID, customerID string) (*models.CustomerScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.customerScores[key(tenantID, customerID)]
	if !ok {
		return nil, &ErrNotFound{Entity: "customer_score", Key: customerID}
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListCustomerScores(_ context.Context, tenantID string, segment models.CustomerSegment) ([]models.CustomerScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.CustomerScore
	for _, s := range m.customerScores {
		if s.TenantID != tenantID {
			continue
		}
		if segment != "" && s.Segment != segment {
			continue
		}
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LTV.Projected > result[j].LTV.Projected })
	return result, nil
}

func (m *MemoryStore) UpsertCustomerScore(_ context.Context, score *models.CustomerScore) error {
	m.mu.Lock()
	cp := *score
	m.customerScores[key(score.TenantID, score.CustomerID)] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Audit Store ──────────────────────────────────────────────

func (m *MemoryStore) CreateAuditLog(_ context.Context, entry *models.AuditLog) error {
	m.mu.Lock()
	cp := *entry
	m.auditLogs = append(m.auditLogs, &cp)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func matchesAuditFilter(a *models.AuditLog, tenantID string, filter AuditFilter) bool {
	if a.TenantID != tenantID {
		return false
	}
	if filter.EventType != "" && a.EventType != filter.EventType {
		return false
	}
	if filter.Severity != "" && a.Severity != filter.Severity {
		return false
	}
	if filter.ActorID != "" && a.ActorID != filter.ActorID {
		return false
	}
	if filter.Since != nil && a.Timestamp.Before(*filter.Since) {
		return false
	}
	return true
}

func (m *MemoryStore) ListAuditLogs(_ context.Context, tenantID string, filter AuditFilter) ([]models.AuditLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.AuditLog
	for _, a := range m.auditLogs {
		if matchesAuditFilter(a, tenantID, filter) {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.After(result[j].Timestamp) })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *MemoryStore) CountAuditLogs(_ context.Context, tenantID string, filter AuditFilter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, a := range m.auditLogs {
		if matchesAuditFilter(a, tenantID, filter) {
			count++
		}
	}
	return count, nil
}
