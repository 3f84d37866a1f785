package strategy

import (
	"bot-orchestrator/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func perpsContext(perps *models.PerpsConfig, market models.MarketState, open []models.OpenOrder) Context {
	return Context{
		Config:     &models.BotConfig{ID: "perp-bot", Kind: models.KindPerps, Market: "SOL-PERP", Perps: perps},
		State:      models.BotState{BotID: "perp-bot"},
		Market:     market,
		OpenOrders: open,
		Now:        testNow,
	}
}

func TestPerpsGridUsesMarkPrice(t *testing.T) {
	perps := &models.PerpsConfig{Grid: &models.PerpsGridConfig{LowerPrice: 90, UpperPrice: 110, Levels: 5, OrderSize: 2}}
	market := models.MarketState{Symbol: "SOL", LastPrice: 92, MarkPrice: f(104)}

	intents := PerpsGrid{}.Run(perpsContext(perps, market, nil))
	assert.Equal(t, 3, countSide(intents, models.Buy))
	assert.Equal(t, 2, countSide(intents, models.Sell))
	assert.Equal(t, "SOL", intents[0].Symbol, "symbol falls back to the market prefix")
}

func TestPerpsGridFallsBackToLastPrice(t *testing.T) {
	perps := &models.PerpsConfig{Grid: &models.PerpsGridConfig{Symbol: "SOL", LowerPrice: 90, UpperPrice: 110, Levels: 5, OrderSize: 2}}
	intents := PerpsGrid{}.Run(perpsContext(perps, models.MarketState{LastPrice: 100}, nil))
	assert.Len(t, intents, 4)

	assert.Empty(t, PerpsGrid{}.Run(perpsContext(perps, models.MarketState{}, nil)))
}

func TestPerpsGridSkipsMatchedLevels(t *testing.T) {
	perps := &models.PerpsConfig{Grid: &models.PerpsGridConfig{Symbol: "SOL", LowerPrice: 90, UpperPrice: 110, Levels: 5, OrderSize: 2}}
	open := []models.OpenOrder{
		{OrderID: "a", Side: models.Buy, Price: 90.0000004, Size: 2, Status: models.OrderOpen},
		{OrderID: "b", Side: models.Sell, Price: 110, Size: 1.9, Status: models.OrderOpen},
		{OrderID: "c", Side: models.Sell, Price: 95, Size: 2, Status: models.OrderOpen},
	}

	intents := PerpsGrid{}.Run(perpsContext(perps, models.MarketState{LastPrice: 100}, open))
	require.Len(t, intents, 3, "only the 90 buy matches; perps grid never cancels")
	assert.Zero(t, countKind(intents, models.IntentCancelLimit))
}

func TestSplitByBias(t *testing.T) {
	for _, tc := range []struct {
		levels      int
		bias        models.Bias
		buys, sells int
	}{
		{10, models.BiasBullish, 6, 4},
		{10, models.BiasNeutral, 5, 5},
		{10, models.BiasBearish, 4, 6},
		{5, models.BiasNeutral, 3, 2},
		{1, models.BiasBullish, 1, 1},
		{1, models.BiasBearish, 1, 1},
		{2, models.BiasBearish, 1, 1},
		{4, "", 2, 2},
	} {
		b, s := splitByBias(tc.levels, tc.bias)
		assert.Equal(t, tc.buys, b, "%+v", tc)
		assert.Equal(t, tc.sells, s, "%+v", tc)
	}
}

func TestCurveGridGeometry(t *testing.T) {
	perps := &models.PerpsConfig{CurveGrid: &models.CurveGridConfig{Symbol: "SOL", Levels: 5, StepPercent: 1, OrderSize: 0.5, Bias: models.BiasBullish}}
	intents := CurveGrid{}.Run(perpsContext(perps, models.MarketState{MarkPrice: f(200)}, nil))

	var prices []string
	for _, it := range intents {
		prices = append(prices, string(it.Side)+"@"+it.Price)
	}
	assert.Equal(t, []string{
		"buy@198.000000", "buy@196.000000", "buy@194.000000",
		"sell@202.000000", "sell@204.000000",
	}, prices)
}

func TestCurveGridIsIdempotent(t *testing.T) {
	perps := &models.PerpsConfig{CurveGrid: &models.CurveGridConfig{Symbol: "SOL", Levels: 7, StepPercent: 0.35, OrderSize: 0.123, Bias: models.BiasBearish}}
	market := models.MarketState{MarkPrice: f(143.77)}

	first := CurveGrid{}.Run(perpsContext(perps, market, nil))
	require.Len(t, first, 7)
	second := CurveGrid{}.Run(perpsContext(perps, market, asOpenOrders(t, first)))
	assert.Empty(t, second)
}

func TestSlowMarketMakerHysteresis(t *testing.T) {
	mm := NewSlowMarketMaker()
	cfg := &models.BotConfig{ID: "mm", MarketMaker: &models.MarketMakerConfig{
		Symbol: "ETH", Levels: 3, OrderSize: 1, HalfSpreadBps: 10, LevelSpacingBps: 10, RefreshSeconds: 60, RepriceBps: 35,
	}}
	ctx := func(price float64, now time.Time, open []models.OpenOrder) Context {
		return Context{Config: cfg, State: models.BotState{BotID: "mm"}, Market: models.MarketState{LastPrice: price}, OpenOrders: open, Now: now}
	}

	first := mm.Run(ctx(1000, testNow, nil))
	require.Len(t, first, 6)
	assert.Equal(t, 6, countKind(first, models.IntentPlaceLimit))
	open := asOpenOrders(t, first)

	// 10 bps inside the refresh interval: no-op
	assert.Empty(t, mm.Run(ctx(1001, testNow.Add(30*time.Second), open)))

	// 40 bps: every level moves beyond the 1 bp tolerance
	moved := mm.Run(ctx(1004, testNow.Add(31*time.Second), open))
	assert.Equal(t, 6, countKind(moved, models.IntentCancelLimit))
	assert.Equal(t, 6, countKind(moved, models.IntentPlaceLimit))
}

func TestSlowMarketMakerRefreshKeepsMatchedOrders(t *testing.T) {
	mm := NewSlowMarketMaker()
	cfg := &models.BotConfig{ID: "mm", MarketMaker: &models.MarketMakerConfig{
		Symbol: "ETH", Levels: 2, OrderSize: 1, HalfSpreadBps: 10, LevelSpacingBps: 20, RefreshSeconds: 60, RepriceBps: 35,
	}}
	base := Context{Config: cfg, State: models.BotState{BotID: "mm"}, Market: models.MarketState{LastPrice: 1000}, Now: testNow}

	first := mm.Run(base)
	require.Len(t, first, 4)

	// interval elapsed, price moved 1 bp which is inside the 2 bp tolerance
	next := base
	next.Now = testNow.Add(61 * time.Second)
	next.Market.LastPrice = 1000.1
	next.OpenOrders = append(asOpenOrders(t, first), models.OpenOrder{OrderID: "stray", Side: models.Sell, Price: 1100, Size: 1, Status: models.OrderOpen})

	intents := mm.Run(next)
	require.Len(t, intents, 1)
	assert.Equal(t, models.IntentCancelLimit, intents[0].Kind)
	assert.Equal(t, "stray", intents[0].OrderID)
}

func TestSlowMarketMakerReset(t *testing.T) {
	mm := NewSlowMarketMaker()
	cfg := &models.BotConfig{ID: "mm", MarketMaker: &models.MarketMakerConfig{Symbol: "ETH", Levels: 1, OrderSize: 1, HalfSpreadBps: 5, RefreshSeconds: 600, RepriceBps: 100}}
	c := Context{Config: cfg, State: models.BotState{BotID: "mm"}, Market: models.MarketState{LastPrice: 50}, Now: testNow}

	require.Len(t, mm.Run(c), 2)
	assert.Empty(t, mm.Run(c))

	mm.Reset("mm")
	assert.Len(t, mm.Run(c), 2)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	for _, key := range []string{KeyStaticGrid, KeyDynamicGrid, KeyPerpsGrid, KeyPerpsCurveGrid, KeySlowMM} {
		s, ok := r.Lookup(key)
		require.True(t, ok, key)
		assert.Equal(t, key, s.Key())
	}
	_, ok := r.Lookup("martingale")
	assert.False(t, ok)
}
