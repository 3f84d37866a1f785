package orchestrator

import (
	"bot-orchestrator/internal/bus"
	"bot-orchestrator/internal/exchange"
	"bot-orchestrator/internal/models"
	"bot-orchestrator/internal/persistence"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type harness struct {
	svc  *Service
	bus  *bus.MemoryBus
	repo *persistence.BadgerRepository
	sim  *exchange.Simulator
}

func gridBot() models.BotConfig {
	return models.BotConfig{
		ID:       "grid-sol",
		Strategy: "static_grid",
		Venue:    "sim",
		Market:   "SOL-USDC",
		Kind:     models.KindSpot,
		Version:  "1.0.0",
		Grid:     &models.GridConfig{Symbol: "SOL", LowerPrice: 90, UpperPrice: 110, Levels: 5, OrderSize: 1},
	}
}

func perpsBot() models.BotConfig {
	return models.BotConfig{
		ID:       "perp-sol",
		Strategy: "perps_grid",
		Venue:    "sim",
		Market:   "SOL-PERP",
		Kind:     models.KindPerps,
		Perps: &models.PerpsConfig{
			Grid: &models.PerpsGridConfig{Symbol: "SOL", LowerPrice: 90, UpperPrice: 110, Levels: 5, OrderSize: 1},
		},
	}
}

func newHarness(t *testing.T, mutate func(cfg *models.Config), bots ...models.BotConfig) *harness {
	t.Helper()
	cfg := &models.Config{
		ServiceName:      "orchestrator-test",
		ExecutionEnabled: true,
		DefaultVenue:     "sim",
		Risk:             models.DefaultRiskConfig(),
		Timers:           models.TimerConfig{MarketStaleSec: 30},
		Bots:             bots,
	}
	if mutate != nil {
		mutate(cfg)
	}

	repo, err := persistence.NewBadgerRepository("")
	require.NoError(t, err)
	sim := exchange.NewSimulator("sim")
	executors := exchange.NewRegistry(exchange.Disabled{})
	executors.Register("sim", sim)
	b := bus.NewMemoryBus(bus.DefaultQueueSize, zap.NewNop())

	svc := New(Deps{Config: cfg, Bus: b, Repo: repo, Executors: executors, Logger: zap.NewNop()})
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Stop() })
	return &harness{svc: svc, bus: b, repo: repo, sim: sim}
}

func (h *harness) command(t *testing.T, botID string, action models.CommandAction) {
	t.Helper()
	raw, err := json.Marshal(models.Command{
		Version: models.ProtocolVersion,
		ID:      models.NewID(),
		BotID:   botID,
		Action:  action,
		TS:      time.Now().UnixMilli(),
	})
	require.NoError(t, err)
	require.NoError(t, h.bus.Publish(context.Background(), models.CommandChannel(botID), raw))
}

func (h *harness) market(t *testing.T, p models.Payload) {
	t.Helper()
	env, err := models.NewEnvelope(p, time.Now())
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, h.bus.Publish(context.Background(), models.MarketChannel(p.EventKind(), p.Key()), raw))
}

func (h *harness) price(t *testing.T, symbol string, price float64) {
	h.market(t, models.PriceEvent{EventMeta: models.NewMeta("test", time.Now()), Symbol: symbol, Price: price})
}

func (h *harness) status(botID string) models.BotStatus {
	return h.svc.states.Get(botID).Status
}

func (h *harness) openOrders(t *testing.T, botID string) []models.OpenOrder {
	orders, err := h.sim.GetOpenOrders(context.Background(), botID, "SOL")
	require.NoError(t, err)
	return orders
}

func (h *harness) events(t *testing.T, kind models.EventKind) []models.Envelope {
	all, err := h.repo.ListEvents()
	require.NoError(t, err)
	var out []models.Envelope
	for _, env := range all {
		if env.Kind == kind {
			out = append(out, env)
		}
	}
	return out
}

func (h *harness) start(t *testing.T, botID string) {
	t.Helper()
	h.command(t, botID, models.ActionStart)
	require.Eventually(t, func() bool {
		st := h.svc.states.Get(botID)
		return st.Status == models.StatusRunning && st.RunID != ""
	}, waitFor, tick)
	require.Eventually(t, func() bool { return len(h.events(t, models.KindBot)) > 0 }, waitFor, tick)
}

func TestStartThenPricePlacesGrid(t *testing.T) {
	h := newHarness(t, nil, gridBot())
	h.start(t, "grid-sol")

	state := h.svc.states.Get("grid-sol")
	require.NotEmpty(t, state.RunID, "start opens a run")
	run, err := h.repo.GetRun(state.RunID)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", run.StrategyVersion)

	h.price(t, "SOL", 100)
	require.Eventually(t, func() bool { return len(h.openOrders(t, "grid-sol")) == 4 }, waitFor, tick)

	require.Eventually(t, func() bool { return len(h.events(t, models.KindOrder)) == 4 }, waitFor, tick)
	assert.Len(t, h.events(t, models.KindIntent), 4)

	bots := h.events(t, models.KindBot)
	require.Len(t, bots, 1)
	var ev models.BotEvent
	require.NoError(t, json.Unmarshal(bots[0].Data, &ev))
	assert.Equal(t, models.StatusRunning, ev.Status)
	assert.Equal(t, state.RunID, ev.RunID)

	_, cached := h.bus.Cache(models.CacheKey("bot_state", "grid-sol"))
	assert.True(t, cached)

	// 同一价格再次到达时不重复挂单
	h.price(t, "SOL", 100)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.openOrders(t, "grid-sol"), 4)
}

func TestMarketPrefixBotTradesMatchedSymbol(t *testing.T) {
	cfg := gridBot()
	cfg.Market = "SOLUSDT"
	cfg.Grid.Symbol = ""
	h := newHarness(t, nil, cfg)
	h.start(t, "grid-sol")

	h.price(t, "SOL", 100)
	require.Eventually(t, func() bool { return len(h.openOrders(t, "grid-sol")) == 4 }, waitFor, tick)

	state := h.svc.states.Get("grid-sol")
	assert.Equal(t, 100.0, state.LastPrice)
	assert.Equal(t, "SOL", state.Symbol)
	for _, o := range h.openOrders(t, "grid-sol") {
		assert.Equal(t, "SOL", o.Symbol)
	}
}

func TestMalformedCommandIgnored(t *testing.T) {
	h := newHarness(t, nil, gridBot())
	require.NoError(t, h.bus.Publish(context.Background(), models.CommandChannel("grid-sol"), []byte(`{"action":"start"`)))
	require.NoError(t, h.bus.Publish(context.Background(), models.CommandChannel("grid-sol"),
		[]byte(`{"version":"v0","id":"c1","botId":"grid-sol","action":"start","ts":1}`)))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, models.StatusStopped, h.status("grid-sol"))
	assert.Empty(t, h.events(t, models.KindBot))
}

func TestStopEndsRun(t *testing.T) {
	h := newHarness(t, nil, gridBot())
	h.start(t, "grid-sol")
	runID := h.svc.states.Get("grid-sol").RunID
	require.NotEmpty(t, runID)

	h.command(t, "grid-sol", models.ActionStop)
	require.Eventually(t, func() bool {
		st := h.svc.states.Get("grid-sol")
		return st.Status == models.StatusStopped && st.RunID == ""
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		run, err := h.repo.GetRun(runID)
		return err == nil && run.EndedAt != nil
	}, waitFor, tick)

	run, err := h.repo.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStopped, run.Status)

	h.price(t, "SOL", 100)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.openOrders(t, "grid-sol"), "stopped bots do not trade")
}

func TestPerpsDivergenceHardStop(t *testing.T) {
	h := newHarness(t, nil, perpsBot())
	h.start(t, "perp-sol")

	mark, oracle := 100.0, 101.0
	h.market(t, models.PerpsMarketEvent{
		EventMeta:   models.NewMeta("test", time.Now()),
		Symbol:      "SOL",
		MarkPrice:   &mark,
		OraclePrice: &oracle,
	})

	require.Eventually(t, func() bool { return len(h.events(t, models.KindRisk)) > 0 }, waitFor, tick)
	var ev models.RiskEvent
	require.NoError(t, json.Unmarshal(h.events(t, models.KindRisk)[0].Data, &ev))
	assert.Equal(t, "mark_oracle_divergence", ev.Reason)
	assert.Equal(t, models.RiskPaused, ev.Status)

	state := h.svc.states.Get("perp-sol")
	require.NotNil(t, state.Risk.HardStop)
	assert.Equal(t, models.RiskPaused, state.Risk.Status)
	assert.Empty(t, h.openOrders(t, "perp-sol"))

	h.command(t, "perp-sol", models.ActionResume)
	require.Eventually(t, func() bool { return h.svc.states.Get("perp-sol").Risk.HardStop == nil }, waitFor, tick)
	state = h.svc.states.Get("perp-sol")
	assert.Equal(t, models.RiskOK, state.Risk.Status)
	assert.NotEmpty(t, state.Risk.Breaches, "breach history survives resume")
}

func TestInactiveScheduleSkipsCycle(t *testing.T) {
	cfg := gridBot()
	now := time.Now().UTC()
	start := now.Add(2 * time.Hour).Format("15:04")
	end := now.Add(3 * time.Hour).Format("15:04")
	cfg.Schedule = &models.ScheduleConfig{Timezone: "UTC", Windows: []models.ScheduleWindow{{Start: start, End: end}}}

	h := newHarness(t, nil, cfg)
	h.start(t, "grid-sol")
	require.Eventually(t, func() bool { return !h.svc.states.Get("grid-sol").ScheduleActive }, waitFor, tick)

	h.price(t, "SOL", 100)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.openOrders(t, "grid-sol"))
	assert.Empty(t, h.events(t, models.KindIntent))
}

func TestExecutionDisabledPlacesNothing(t *testing.T) {
	h := newHarness(t, func(cfg *models.Config) { cfg.ExecutionEnabled = false }, gridBot())
	h.start(t, "grid-sol")

	h.price(t, "SOL", 100)
	require.Eventually(t, func() bool { return h.svc.states.Get("grid-sol").LastPrice == 100 }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.openOrders(t, "grid-sol"))
	assert.Empty(t, h.events(t, models.KindOrder))
}

func TestSimulatedFillsAreLogged(t *testing.T) {
	h := newHarness(t, func(cfg *models.Config) { cfg.SimulateFills = true }, gridBot())
	h.start(t, "grid-sol")

	h.price(t, "SOL", 100)
	require.Eventually(t, func() bool { return len(h.openOrders(t, "grid-sol")) == 4 }, waitFor, tick)

	// 价格跌到 94, 95 的买单成交
	h.price(t, "SOL", 94)
	require.Eventually(t, func() bool { return len(h.events(t, models.KindFill)) > 0 }, waitFor, tick)

	var fill models.FillEvent
	require.NoError(t, json.Unmarshal(h.events(t, models.KindFill)[0].Data, &fill))
	assert.Equal(t, "grid-sol", fill.BotID)
	assert.Equal(t, models.Buy, fill.Side)
}

func TestHeartbeatHealth(t *testing.T) {
	h := newHarness(t, nil, gridBot())
	base := time.Now()

	h.svc.now = func() time.Time { return base.Add(time.Minute) }
	h.svc.heartbeat(context.Background())
	require.Eventually(t, func() bool { return len(h.events(t, models.KindHealth)) == 1 }, waitFor, tick)
	var ev models.HealthEvent
	require.NoError(t, json.Unmarshal(h.events(t, models.KindHealth)[0].Data, &ev))
	assert.Equal(t, models.HealthDegraded, ev.Status)
	assert.Equal(t, "orchestrator-test", ev.Service)

	h.svc.lastMarketAt.Store(base.Add(50 * time.Second).UnixNano())
	h.svc.now = func() time.Time { return base.Add(time.Minute + time.Second) }
	h.svc.heartbeat(context.Background())
	require.Eventually(t, func() bool { return len(h.events(t, models.KindHealth)) == 2 }, waitFor, tick)
	require.NoError(t, json.Unmarshal(h.events(t, models.KindHealth)[1].Data, &ev))
	assert.Equal(t, models.HealthOK, ev.Status)
}

func TestLifecycle(t *testing.T) {
	h := newHarness(t, nil, gridBot())
	assert.Equal(t, LifecycleRunning, h.svc.Lifecycle())
	assert.ErrorIs(t, h.svc.Start(context.Background()), ErrNotStopped)

	require.NoError(t, h.svc.Stop())
	assert.Equal(t, LifecycleStopped, h.svc.Lifecycle())
	assert.False(t, h.svc.post("grid-sol", func(context.Context) {}), "no work after stop")
	assert.NoError(t, h.svc.Stop())
}

func TestBootstrapLoadsConfiguredBots(t *testing.T) {
	h := newHarness(t, nil, gridBot(), perpsBot())
	bots := h.svc.Bots()
	require.Len(t, bots, 2)
	assert.Equal(t, "grid-sol", bots[0].BotID)
	assert.Equal(t, models.StatusStopped, bots[0].Status)

	records, err := h.repo.ListBots()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
