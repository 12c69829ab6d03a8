// Package models defines the tenant-scoped domain entities persisted by the
// control plane: Decision, AgentState, Approval, Outreach, Gap, CustomerScore,
// and AuditLog. Every entity carries an opaque string id and a TenantID field;
// entities refer to each other only by id, never by pointer, so any of them
// can be stored in a document store, a relational table, or an in-memory map
// without cascade semantics.
package models

import "time"

// DecisionKind enumerates the autonomous choices an agent can make.
type DecisionKind string

const (
	DecisionGapFill           DecisionKind = "gap_fill"
	DecisionNoShowPrevention  DecisionKind = "no_show_prevention"
	DecisionWaitlistPromotion DecisionKind = "waitlist_promotion"
	DecisionDiscountOffer     DecisionKind = "discount_offer"
	DecisionDynamicPricing    DecisionKind = "dynamic_pricing"
)

// AutonomyLevel controls whether a Decision requires human sign-off before
// its action executes.
type AutonomyLevel string

const (
	AutonomyFullAuto   AutonomyLevel = "full_auto"
	AutonomySupervised AutonomyLevel = "supervised"
	AutonomyManualOnly AutonomyLevel = "manual_only"
)

// OutcomeStatus is the terminal-or-not status of a Decision's real-world
// effect.
type OutcomeStatus string

const (
	OutcomePending  OutcomeStatus = "pending"
	OutcomeSuccess  OutcomeStatus = "success"
	OutcomeFailed   OutcomeStatus = "failed"
	OutcomeExpired  OutcomeStatus = "expired"
	OutcomeRejected OutcomeStatus = "rejected"
)

// DecisionContext carries the trigger that caused a Decision plus whatever
// optional entity refs are relevant to that trigger. All refs are opaque ids.
type DecisionContext struct {
	TriggerID   string `json:"trigger_id"`
	TriggerKind string `json:"trigger_kind"`
	CustomerID  string `json:"customer_id,omitempty"`
	StaffID     string `json:"staff_id,omitempty"`
	ServiceID   string `json:"service_id,omitempty"`
	SlotID      string `json:"slot_id,omitempty"`
}

// RevenueImpact tracks the money a Decision was expected, and actually came,
// to generate.
type RevenueImpact struct {
	Potential float64 `json:"potential"`
	Actual    float64 `json:"actual"`
}

// DecisionApproval mirrors the lifecycle of the Approval record (if any)
// associated with a Decision, kept in sync by the approval state machine.
type DecisionApproval struct {
	Required   bool       `json:"required"`
	Status     string     `json:"status,omitempty"`
	ApprovedBy string     `json:"approved_by,omitempty"`
	RejectedBy string     `json:"rejected_by,omitempty"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
}

// DecisionOutcome records how the Decision resolved.
type DecisionOutcome struct {
	Status      OutcomeStatus `json:"status"`
	Result      string        `json:"result,omitempty"`
	BookingID   string        `json:"booking_id,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Decision is one record per autonomous choice made by an agent.
//
// Invariant: Outcome.Status == success implies Outcome.BookingID != "" and
// Revenue.Actual >= 0. A Decision expires at CreatedAt+15m unless it reaches
// a terminal outcome first.
type Decision struct {
	ID            string           `json:"id"`
	TenantID      string           `json:"tenant_id"`
	AgentName     string           `json:"agent_name"`
	Kind          DecisionKind     `json:"kind"`
	AutonomyLevel AutonomyLevel    `json:"autonomy_level"`
	Context       DecisionContext  `json:"context"`
	ActionSummary string           `json:"action_summary"`
	ActionDetail  map[string]any   `json:"action_detail,omitempty"`
	Revenue       RevenueImpact    `json:"revenue"`
	Approval      DecisionApproval `json:"approval"`
	Outcome       DecisionOutcome  `json:"outcome"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	ExpiresAt     time.Time        `json:"expires_at"`
}

// IsTerminal reports whether the Decision's outcome can no longer change.
func (d *Decision) IsTerminal() bool {
	switch d.Outcome.Status {
	case OutcomeSuccess, OutcomeFailed, OutcomeExpired, OutcomeRejected:
		return true
	default:
		return false
	}
}

// CircuitState is the state of an AgentState's per-agent circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// AgentStatus is the coarse operational status of a (tenant, agent) pair.
type AgentStatus string

const (
	AgentActive         AgentStatus = "active"
	AgentPaused         AgentStatus = "paused"
	AgentError          AgentStatus = "error"
	AgentCircuitBreaker AgentStatus = "circuit_breaker"
)

// CircuitBreakerInfo is the sub-record the Agent Runtime mutates on every
// success/failure.
type CircuitBreakerInfo struct {
	State             CircuitState `json:"state"`
	ConsecutiveErrors int          `json:"consecutive_errors"`
	FirstErrorAt      *time.Time   `json:"first_error_at,omitempty"`
	LastError         string       `json:"last_error,omitempty"`
	CooldownUntil     *time.Time   `json:"cooldown_until,omitempty"`
	CooldownMinutes   int          `json:"cooldown_minutes,omitempty"`
}

// AgentConfig is the tenant-adjustable knob set for one agent.
type AgentConfig struct {
	MaxHourlyActions int            `json:"max_hourly_actions"`
	MaxDailyActions  int            `json:"max_daily_actions"`
	CooldownMinutes  int            `json:"cooldown_minutes"`
	Custom           map[string]any `json:"custom,omitempty"`
}

// AgentCounters is the rolling, date-stamped action tally for one
// (tenant, agent) pair. DateStamp is the UTC date (YYYY-MM-DD) and is reset
// on first action of a new UTC day (see agentruntime's reset-daily
// operation); tenant-local days are not used.
type AgentCounters struct {
	DateStamp         string         `json:"date_stamp"`
	ActionsTaken      int            `json:"actions_taken"`
	ActionsSuccessful int            `json:"actions_successful"`
	ActionsFailed     int            `json:"actions_failed"`
	RevenueGenerated  float64        `json:"revenue_generated"`
	ByType            map[string]int `json:"by_type,omitempty"`
}

// RateLimitWindow is a fixed-window counter for the hourly/daily action
// budgets: Count actions since WindowStart, restarted once the window's
// length has elapsed.
type RateLimitWindow struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
}

// AgentHealth is a coarse health snapshot surfaced on dashboards and health
// checks.
type AgentHealth struct {
	LastHeartbeat       time.Time `json:"last_heartbeat"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	RollingSuccessRate  float64   `json:"rolling_success_rate"`
	AvgLatencyMs        float64   `json:"avg_latency_ms"`
}

// AgentState is one record per (tenant, agent) pair: status, circuit
// breaker, rolling counters, and config.
//
// Invariants: Counters.DateStamp always equals today's UTC date (not a
// tenant-local date);
// a counter bump and a status read on the same record are linearizable.
type AgentState struct {
	ID             string             `json:"id"`
	TenantID       string             `json:"tenant_id"`
	AgentName      string             `json:"agent_name"`
	Status         AgentStatus        `json:"status"`
	LastExecution  *time.Time         `json:"last_execution,omitempty"`
	NextScheduled  *time.Time         `json:"next_scheduled,omitempty"`
	CircuitBreaker CircuitBreakerInfo `json:"circuit_breaker"`
	Config         AgentConfig        `json:"config"`
	Counters       AgentCounters      `json:"counters"`
	HourlyWindow   RateLimitWindow    `json:"hourly_window"`
	DailyWindow    RateLimitWindow    `json:"daily_window"`
	Health         AgentHealth        `json:"health"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// ApprovalPriority determines expiry timing absent an explicit override.
type ApprovalPriority string

const (
	PriorityLow    ApprovalPriority = "low"
	PriorityMedium ApprovalPriority = "medium"
	PriorityHigh   ApprovalPriority = "high"
	PriorityUrgent ApprovalPriority = "urgent"
)

// ApprovalStatus is the lifecycle state of an Approval. Transitions out of
// Pending happen exactly once, by approve, reject, expire, or cancel.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalRejected  ApprovalStatus = "rejected"
	ApprovalExpired   ApprovalStatus = "expired"
	ApprovalCancelled ApprovalStatus = "cancelled"
)

// ApprovalResponse records who resolved an Approval and how.
type ApprovalResponse struct {
	Action      string     `json:"action,omitempty"` // "approve" | "reject"
	ResponderID string     `json:"responder_id,omitempty"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

// Approval gates a supervised Decision's action behind a human sign-off.
type Approval struct {
	ID                string           `json:"id"`
	TenantID          string           `json:"tenant_id"`
	DecisionID        string           `json:"decision_id"`
	AgentName         string           `json:"agent_name"`
	ActionType        string           `json:"action_type"`
	ActionSummary     string           `json:"action_summary"` // 10-500 chars
	ActionDetail      map[string]any   `json:"action_detail,omitempty"`
	Priority          ApprovalPriority `json:"priority"`
	Status            ApprovalStatus   `json:"status"`
	NotificationsSent []string         `json:"notifications_sent,omitempty"`
	Response          ApprovalResponse `json:"response"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	ExpiresAt         time.Time        `json:"expires_at"`
}

// OutreachChannel enumerates the external messaging transports an Outreach
// can be sent over.
type OutreachChannel string

const (
	ChannelWhatsApp OutreachChannel = "whatsapp"
	ChannelSMS      OutreachChannel = "sms"
	ChannelPush     OutreachChannel = "push"
	ChannelEmail    OutreachChannel = "email"
)

// OutreachStatus is the monotone lifecycle state of a single customer
// message. responded and failed are terminal; expired is reachable from any
// non-terminal, non-responded state.
type OutreachStatus string

const (
	OutreachPending   OutreachStatus = "pending"
	OutreachSent      OutreachStatus = "sent"
	OutreachDelivered OutreachStatus = "delivered"
	OutreachRead      OutreachStatus = "read"
	OutreachResponded OutreachStatus = "responded"
	OutreachFailed    OutreachStatus = "failed"
	OutreachExpired   OutreachStatus = "expired"
)

// outreachRank orders statuses so forward-only transitions can be checked
// with a simple integer comparison.
var outreachRank = map[OutreachStatus]int{
	OutreachPending:   0,
	OutreachSent:      1,
	OutreachDelivered: 2,
	OutreachRead:      3,
	OutreachResponded: 4,
}

// Rank returns the outreach status's position in the forward chain, or -1
// if the status is not part of the linear chain (failed/expired).
func (s OutreachStatus) Rank() int {
	if r, ok := outreachRank[s]; ok {
		return r
	}
	return -1
}

// Terminal reports whether no further transition is permitted.
func (s OutreachStatus) Terminal() bool {
	return s == OutreachResponded || s == OutreachFailed || s == OutreachExpired
}

// OutreachDelivery tracks the provider-side delivery lifecycle.
type OutreachDelivery struct {
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	ReadAt            *time.Time `json:"read_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
}

// OutreachResponse records the customer's reply, once classified.
type OutreachResponse struct {
	Received  bool       `json:"received"`
	Action    string     `json:"action,omitempty"` // accept | decline | select_N
	At        *time.Time `json:"at,omitempty"`
	BookingID string     `json:"booking_id,omitempty"`
}

// Outreach is a single outbound customer message and its delivery/response
// lifecycle.
type Outreach struct {
	ID            string           `json:"id"`
	TenantID      string           `json:"tenant_id"`
	CustomerID    string           `json:"customer_id"`
	CustomerName  string           `json:"customer_name,omitempty"`
	CustomerPhone string           `json:"customer_phone"`
	Type          string           `json:"type"`
	Channel       OutreachChannel  `json:"channel"`
	Status        OutreachStatus   `json:"status"`
	MessageBody   string           `json:"message_body"`
	TriggerID     string           `json:"trigger_id"`
	TriggerKind   string           `json:"trigger_kind"`
	OfferDetail   map[string]any   `json:"offer_detail,omitempty"`
	Attempts      int              `json:"attempts"`
	LastAttemptAt *time.Time       `json:"last_attempt_at,omitempty"`
	Delivery      OutreachDelivery `json:"delivery"`
	Response      OutreachResponse `json:"response"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	ExpiresAt     time.Time        `json:"expires_at"`
}

// GapPriority is derived from Gap.DurationMinutes.
type GapPriority string

const (
	GapLow      GapPriority = "low"      // < 30
	GapMedium   GapPriority = "medium"   // 30-59
	GapHigh     GapPriority = "high"     // 60-119
	GapCritical GapPriority = "critical" // >= 120
)

// DerivePriority computes a Gap's priority from its duration, per §3.
func DerivePriority(durationMinutes int) GapPriority {
	switch {
	case durationMinutes >= 120:
		return GapCritical
	case durationMinutes >= 60:
		return GapHigh
	case durationMinutes >= 30:
		return GapMedium
	default:
		return GapLow
	}
}

// GapStatus is the lifecycle state of a schedule gap.
type GapStatus string

const (
	GapOpen    GapStatus = "open"
	GapFilled  GapStatus = "filled"
	GapExpired GapStatus = "expired"
	GapIgnored GapStatus = "ignored"
)

// GapFilledBy records the booking that closed a Gap.
type GapFilledBy struct {
	BookingID  string    `json:"booking_id"`
	CustomerID string    `json:"customer_id"`
	FilledAt   time.Time `json:"filled_at"`
}

// Gap is an unscheduled interval in a staff member's day.
//
// Invariants: DurationMinutes == end-start in minutes; Status == filled
// implies FilledBy != nil; filled/expired/ignored are terminal.
type Gap struct {
	ID                 string       `json:"id"`
	TenantID           string       `json:"tenant_id"`
	StaffID            string       `json:"staff_id"`
	StaffName          string       `json:"staff_name,omitempty"`
	Date               string       `json:"date"` // YYYY-MM-DD, tenant-local
	StartTime          time.Time    `json:"start_time"`
	EndTime            time.Time    `json:"end_time"`
	DurationMinutes    int          `json:"duration_minutes"`
	Priority           GapPriority  `json:"priority"`
	Status             GapStatus    `json:"status"`
	PotentialRevenue   float64      `json:"potential_revenue"`
	FittableServiceIDs []string     `json:"fittable_service_ids,omitempty"`
	FillAttempts       int          `json:"fill_attempts"`
	LastAttemptAt      *time.Time   `json:"last_attempt_at,omitempty"`
	FilledBy           *GapFilledBy `json:"filled_by,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// Terminal reports whether the Gap can still be operated on.
func (g *Gap) Terminal() bool {
	return g.Status == GapFilled || g.Status == GapExpired || g.Status == GapIgnored
}

// CustomerSegment buckets a customer for candidate selection and scoring.
type CustomerSegment string

const (
	SegmentVIP       CustomerSegment = "vip"
	SegmentHighValue CustomerSegment = "high_value"
	SegmentRegular   CustomerSegment = "regular"
	SegmentAtRisk    CustomerSegment = "at_risk"
	SegmentNew       CustomerSegment = "new"
	SegmentDormant   CustomerSegment = "dormant"
)

// ChurnLevel buckets CustomerScore.Churn.Score into a coarse risk tier.
type ChurnLevel string

const (
	ChurnLow      ChurnLevel = "low"
	ChurnMedium   ChurnLevel = "medium"
	ChurnHigh     ChurnLevel = "high"
	ChurnCritical ChurnLevel = "critical"
)

// LTVSnapshot is the lifetime-value facet of a CustomerScore.
type LTVSnapshot struct {
	Total                 float64 `json:"total"`
	Projected             float64 `json:"projected"`
	AvgVisitValue         float64 `json:"avg_visit_value"`
	VisitFrequencyMonthly float64 `json:"visit_frequency_monthly"`
	EstLifespanMonths     float64 `json:"est_lifespan_months"`
	MembershipBonus       bool    `json:"membership_bonus"`
}

// EngagementSnapshot is a lightweight activity facet of a CustomerScore.
type EngagementSnapshot struct {
	LastVisitAt   *time.Time `json:"last_visit_at,omitempty"`
	VisitCount    int        `json:"visit_count"`
	DaysSinceLast int        `json:"days_since_last"`
}

// ChurnRisk is the churn facet of a CustomerScore.
type ChurnRisk struct {
	Score               float64    `json:"score"` // 0-100
	Level               ChurnLevel `json:"level"`
	ContributingFactors []string   `json:"contributing_factors,omitempty"`
}

// CustomerScore is a precomputed, per-(tenant,customer) projection used by
// the Gap-Fill Orchestrator's candidate selection and scoring. It is shared
// across components; none of them owns it exclusively.
type CustomerScore struct {
	ID         string             `json:"id"`
	TenantID   string             `json:"tenant_id"`
	CustomerID string             `json:"customer_id"`
	LTV        LTVSnapshot        `json:"ltv"`
	Engagement EngagementSnapshot `json:"engagement"`
	Churn      ChurnRisk          `json:"churn"`
	Segment    CustomerSegment    `json:"segment"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// AuditSeverity buckets AuditLog entries for filtering/alerting.
type AuditSeverity string

const (
	SeverityInfo     AuditSeverity = "info"
	SeverityWarning  AuditSeverity = "warning"
	SeverityError    AuditSeverity = "error"
	SeverityCritical AuditSeverity = "critical"
)

// AuditLog is an append-only record of every decision, approval, outreach,
// error, and config change.
type AuditLog struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	EventType   string         `json:"event_type"`
	Severity    AuditSeverity  `json:"severity"`
	ActorID     string         `json:"actor_id"` // agent id or user id
	ResourceRef string         `json:"resource_ref,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	TraceID     string         `json:"trace_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Tenant is an isolated customer of the platform.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Plan      string    `json:"plan"` // e.g. "free", "pro", "enterprise" — drives model tiering
	CreatedAt time.Time `json:"created_at"`
}
