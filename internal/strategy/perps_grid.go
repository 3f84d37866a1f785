package strategy

import (
	"bot-orchestrator/internal/models"
	"math"
)

// PerpsGrid is a fixed-band grid around the mark price. It only adds missing levels.
type PerpsGrid struct{}

func (PerpsGrid) Key() string { return KeyPerpsGrid }

func (PerpsGrid) Run(c Context) []models.Intent {
	if c.Config == nil || c.Config.Perps == nil || c.Config.Perps.Grid == nil {
		return nil
	}
	cfg := c.Config.Perps.Grid
	if cfg.Levels < 1 || cfg.OrderSize <= 0 || cfg.UpperPrice < cfg.LowerPrice || cfg.LowerPrice <= 0 {
		return nil
	}
	mid := referencePrice(c)
	if mid <= 0 {
		return nil
	}

	levels, step := buildLevels(cfg.LowerPrice, cfg.UpperPrice, cfg.Levels)
	classifyLevels(levels, step, mid, nil)

	symbol := symbolFor(c, cfg.Symbol)
	open := liveOrders(c.OpenOrders)
	var intents []models.Intent
	for _, l := range levels {
		if l.side == "" || hasMatchingOrder(open, l.side, l.price, cfg.OrderSize) {
			continue
		}
		intents = append(intents, models.NewPlaceIntent(c.State.BotID, symbol, l.side, formatFixed(l.price), formatFixed(cfg.OrderSize), false, c.Now))
	}
	return intents
}

// CurveGrid spreads levels geometrically around the mark price, weighted by bias.
type CurveGrid struct{}

func (CurveGrid) Key() string { return KeyPerpsCurveGrid }

func (CurveGrid) Run(c Context) []models.Intent {
	if c.Config == nil || c.Config.Perps == nil || c.Config.Perps.CurveGrid == nil {
		return nil
	}
	cfg := c.Config.Perps.CurveGrid
	if cfg.Levels < 1 || cfg.OrderSize <= 0 || cfg.StepPercent <= 0 {
		return nil
	}
	mid := referencePrice(c)
	if mid <= 0 {
		return nil
	}

	buyCount, sellCount := splitByBias(cfg.Levels, cfg.Bias)
	step := cfg.StepPercent / 100
	symbol := symbolFor(c, cfg.Symbol)
	open := liveOrders(c.OpenOrders)
	size := formatFixed(cfg.OrderSize)

	var intents []models.Intent
	add := func(side models.Side, price float64) {
		if price <= 0 || hasMatchingOrder(open, side, price, cfg.OrderSize) {
			return
		}
		intents = append(intents, models.NewPlaceIntent(c.State.BotID, symbol, side, formatFixed(price), size, false, c.Now))
	}
	for i := 1; i <= buyCount; i++ {
		add(models.Buy, mid*(1-step*float64(i)))
	}
	for i := 1; i <= sellCount; i++ {
		add(models.Sell, mid*(1+step*float64(i)))
	}
	return intents
}

// splitByBias rounds the buy share first; the sell side takes the remainder. Each side
// gets at least one level.
func splitByBias(levels int, bias models.Bias) (int, int) {
	weight := 0.5
	switch bias {
	case models.BiasBullish:
		weight = 0.6
	case models.BiasBearish:
		weight = 0.4
	}
	buys := int(math.Round(float64(levels) * weight))
	if buys < 1 {
		buys = 1
	}
	sells := levels - buys
	if sells < 1 {
		sells = 1
	}
	return buys, sells
}

func referencePrice(c Context) float64 {
	if p := c.Market.ReferencePrice(); p > 0 {
		return p
	}
	return c.State.LastPrice
}

func hasMatchingOrder(open []models.OpenOrder, side models.Side, price, size float64) bool {
	for _, o := range open {
		if o.Side == side && sameLevel(o.Price, price) && sameLevel(o.Size, size) {
			return true
		}
	}
	return false
}
