// Package agents holds the concrete contracts.Agent implementations
// registered into the Decision Pipeline's agent-execute stage. Only the
// gap-fill agent's decision algorithm is specified in depth; the remaining
// salon-assistant agents (waitlist, no-show prevention, retention, upsell,
// analytics) are scheduling targets without a specified algorithm and are
// intentionally out of scope here (see the Task Scheduler's tick table).
package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/salonflow/controlplane/internal/gapfill"
	"github.com/salonflow/controlplane/internal/store"
	"github.com/salonflow/controlplane/pkg/contracts"
	"github.com/salonflow/controlplane/pkg/models"
)

// GapFillAgent adapts the Gap-Fill Orchestrator to the contracts.Agent
// interface so it can run through the Decision Pipeline's fixed stage
// chain like any other agent, in addition to being driven directly by the
// Task Scheduler's periodic tick.
type GapFillAgent struct {
	orchestrator *gapfill.Orchestrator
	store        store.Store
}

// NewGapFillAgent creates a GapFillAgent wrapping orchestrator.
func NewGapFillAgent(orchestrator *gapfill.Orchestrator, s store.Store) *GapFillAgent {
	return &GapFillAgent{orchestrator: orchestrator, store: s}
}

func (a *GapFillAgent) Name() string        { return "gap_fill" }
func (a *GapFillAgent) Description() string { return "fills open schedule gaps with ranked, eligible customer outreach" }

func (a *GapFillAgent) SystemPrompt() string {
	return "You identify open slots in a salon's schedule and offer them to the best-fit customer." + guardrailSuffix
}

// Handle runs one full detect -> select -> rank -> execute pass for the
// tenant's open gaps on the requested date (default: today). Params:
// {"date": "YYYY-MM-DD"?}.
func (a *GapFillAgent) Handle(ctx context.Context, req contracts.AgentRequest) (*contracts.AgentResult, error) {
	date, _ := req.Params["date"].(string)
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}

	gaps, err := a.orchestrator.Detect(ctx, req.TenantID, date)
	if err != nil {
		return nil, err
	}
	if len(gaps) == 0 {
		return &contracts.AgentResult{Success: true, Message: "no open gaps", Data: map[string]any{"filled": 0}}, nil
	}

	filled := 0
	var decisions []string
	for i := range gaps {
		gap := &gaps[i]
		triggerID := gap.ID

		candidates, err := a.orchestrator.SelectCandidates(ctx, req.TenantID, triggerID)
		if err != nil {
			log.Warn().Err(err).Str("gap", gap.ID).Msg("gap_fill agent: candidate selection failed")
			continue
		}
		if len(candidates) == 0 {
			continue
		}

		ranked := gapfill.RankCandidates(gap, candidates)
		if len(ranked) == 0 {
			continue
		}
		best := ranked[0]

		message := fmt.Sprintf(
			"Hi %s, a %d-minute slot just opened up — want us to hold it for you?",
			best.Score.CustomerID, gap.DurationMinutes,
		)

		decision, err := a.orchestrator.Execute(ctx, req.TenantID, gap, best.Score, message, best.Score.CustomerID, "", models.ChannelWhatsApp)
		if err != nil {
			log.Warn().Err(err).Str("gap", gap.ID).Msg("gap_fill agent: execute failed")
			continue
		}
		filled++
		decisions = append(decisions, decision.ID)
	}

	return &contracts.AgentResult{
		Success: true,
		Message: fmt.Sprintf("processed %d gaps, %d decisions created", len(gaps), filled),
		Data: map[string]any{
			"gaps_detected":    len(gaps),
			"decisions_opened": filled,
			"decision_ids":     decisions,
		},
	}, nil
}

const guardrailSuffix = "\nStay within salon services, bookings, and customer outreach."
