// Package strategy turns bot config, bot state, market state and open orders into intents.
// Strategies do no I/O; the market maker keeps an in-memory anchor per bot.
package strategy

import (
	"bot-orchestrator/internal/models"
	"time"
)

// Strategy keys resolved through the registry.
const (
	KeyStaticGrid     = "static_grid"
	KeyDynamicGrid    = "dynamic_grid"
	KeyPerpsGrid      = "perps_grid"
	KeyPerpsCurveGrid = "perps_curve_grid"
	KeySlowMM         = "slow_mm"
)

// Context is everything a strategy may look at for one decision.
type Context struct {
	Config     *models.BotConfig
	State      models.BotState
	Market     models.MarketState
	OpenOrders []models.OpenOrder
	Now        time.Time
}

// Strategy produces the intents for one decision cycle.
type Strategy interface {
	Key() string
	Run(ctx Context) []models.Intent
}

// Resetter is implemented by strategies that keep per-bot memory.
type Resetter interface {
	Reset(botID string)
}

// Registry maps strategy keys to instances. It is built once at startup.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry returns a registry holding every built-in strategy.
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	for _, s := range []Strategy{
		NewStaticGrid(),
		NewDynamicGrid(),
		PerpsGrid{},
		CurveGrid{},
		NewSlowMarketMaker(),
	} {
		r.strategies[s.Key()] = s
	}
	return r
}

// Lookup resolves a configured strategy key.
func (r *Registry) Lookup(key string) (Strategy, bool) {
	s, ok := r.strategies[key]
	return s, ok
}

// Reset drops any per-bot memory held by strategies.
func (r *Registry) Reset(botID string) {
	for _, s := range r.strategies {
		if rs, ok := s.(Resetter); ok {
			rs.Reset(botID)
		}
	}
}

// symbolFor prefers the strategy section's own symbol, then the symbol of the market
// snapshot the cycle runs on.
func symbolFor(c Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if c.Market.Symbol != "" {
		return c.Market.Symbol
	}
	return models.ResolveSymbol(c.Config)
}

// liveOrders drops orders that no longer rest on the book. A blank status counts as live.
func liveOrders(orders []models.OpenOrder) []models.OpenOrder {
	out := make([]models.OpenOrder, 0, len(orders))
	for _, o := range orders {
		if o.Status == "" || o.Status.Live() {
			out = append(out, o)
		}
	}
	return out
}
