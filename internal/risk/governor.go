// Package risk filters strategy intents through per-bot guardrails.
package risk

import (
	"bot-orchestrator/internal/models"
	"math"
	"time"
)

const (
	ReasonMarkOracleDivergence = "mark_oracle_divergence"
	ReasonFundingGuardrail     = "funding_guardrail"

	ActionPause      = "pause"
	ActionReduceOnly = "reduce_only"

	// MaxBreaches bounds the breach history kept on a bot's risk state.
	MaxBreaches = 64
)

// Decision is the outcome of one evaluation.
type Decision struct {
	State   models.RiskState
	Allowed []models.Intent
	// Event is set when a guardrail fired; the caller must not execute this cycle.
	Event *models.RiskEvent
}

// Governor evaluates a candidate intent list against a bot's risk state.
type Governor interface {
	Evaluate(state models.RiskState, intents []models.Intent, botID string, market models.MarketState, now time.Time) Decision
}

// SpotGovernor stamps the check time and lets every intent through. Spot guardrails
// (max notional, inventory, staleness) hook in here.
type SpotGovernor struct{}

func (SpotGovernor) Evaluate(state models.RiskState, intents []models.Intent, _ string, _ models.MarketState, now time.Time) Decision {
	next := state.Clone()
	next.LastCheckedAt = now
	return Decision{State: next, Allowed: intents}
}

// PerpsGovernor applies the mark/oracle divergence and funding guardrails.
type PerpsGovernor struct {
	Config models.RiskConfig
	Source string
}

// NewPerpsGovernor returns a governor for the given limits.
func NewPerpsGovernor(cfg models.RiskConfig, source string) *PerpsGovernor {
	return &PerpsGovernor{Config: cfg, Source: source}
}

func (g *PerpsGovernor) Evaluate(state models.RiskState, intents []models.Intent, botID string, market models.MarketState, now time.Time) Decision {
	next := state.Clone()
	next.LastCheckedAt = now

	// divergence short-circuits every other check
	if div := market.MarkOracleDivergenceBps; div != nil && isFinite(*div) && *div >= g.Config.MarkOracleDivergenceBps {
		breach := models.Breach{
			Reason:      ReasonMarkOracleDivergence,
			TriggeredAt: now,
			Context:     map[string]float64{"divergence_bps": *div},
		}
		if !heldBy(state, models.RiskPaused, ReasonMarkOracleDivergence) {
			next.Breaches = appendBreach(next.Breaches, breach)
			next.HardStop = &breach
		}
		next.Status = models.RiskPaused
		return Decision{
			State:   next,
			Allowed: []models.Intent{},
			Event:   g.event(botID, breach, ActionPause, next.Status, now),
		}
	}

	if fr := market.FundingRate; fr != nil && isFinite(*fr) {
		fundingBps := *fr * 10000
		if math.Abs(fundingBps) >= g.Config.FundingGuardrailBps {
			breach := models.Breach{
				Reason:      ReasonFundingGuardrail,
				TriggeredAt: now,
				Context:     map[string]float64{"funding_bps": fundingBps},
			}
			if !heldBy(state, models.RiskReduceOnly, ReasonFundingGuardrail) {
				next.Breaches = appendBreach(next.Breaches, breach)
			}
			next.Status = models.RiskReduceOnly
			return Decision{
				State:   next,
				Allowed: reduceOnly(intents),
				Event:   g.event(botID, breach, ActionReduceOnly, next.Status, now),
			}
		}
	}

	return Decision{State: next, Allowed: intents}
}

// heldBy reports whether the state is already held in status by the guardrail named
// reason. A sustained trip records one breach, not one per cycle.
func heldBy(state models.RiskState, status models.RiskStatus, reason string) bool {
	if state.Status != status || len(state.Breaches) == 0 {
		return false
	}
	return state.Breaches[len(state.Breaches)-1].Reason == reason
}

// appendBreach keeps at most MaxBreaches entries, dropping the oldest.
func appendBreach(history []models.Breach, b models.Breach) []models.Breach {
	history = append(history, b)
	if n := len(history) - MaxBreaches; n > 0 {
		history = append([]models.Breach(nil), history[n:]...)
	}
	return history
}

func (g *PerpsGovernor) event(botID string, b models.Breach, action string, status models.RiskStatus, now time.Time) *models.RiskEvent {
	return &models.RiskEvent{
		EventMeta: models.NewMeta(g.Source, now),
		BotID:     botID,
		Reason:    b.Reason,
		Action:    action,
		Status:    status,
		Context:   b.Context,
	}
}

// reduceOnly keeps cancels and replaces, and only those placements flagged reduce-only.
func reduceOnly(intents []models.Intent) []models.Intent {
	out := make([]models.Intent, 0, len(intents))
	for _, it := range intents {
		if it.Kind != models.IntentPlaceLimit || it.ReduceOnly {
			out = append(out, it)
		}
	}
	return out
}

// For returns the governor matching a bot kind.
func For(kind models.BotKind, perps Governor) Governor {
	if kind == models.KindPerps {
		return perps
	}
	return SpotGovernor{}
}

// Resume clears an operator-acknowledged risk state back to ok. Breach history is kept.
func Resume(state models.RiskState) models.RiskState {
	next := state.Clone()
	next.Status = models.RiskOK
	next.HardStop = nil
	return next
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
