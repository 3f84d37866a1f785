package statemanager

import (
	"bot-orchestrator/internal/models"
	"bot-orchestrator/internal/persistence"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockRepository is a mock implementation of the Repository interface for testing.
type mockRepository struct {
	sync.Mutex
	saved        []models.BotState
	saveError    error
	saveDoneChan chan bool // signals when SaveBotSnapshot is done
}

func newMockRepository() *mockRepository {
	return &mockRepository{saveDoneChan: make(chan bool, 16)}
}

func (m *mockRepository) SaveBotSnapshot(state models.BotState) error {
	m.Lock()
	m.saved = append(m.saved, state)
	m.Unlock()
	m.saveDoneChan <- true
	return m.saveError
}

func (m *mockRepository) LogEvent(models.Envelope) error { return nil }
func (m *mockRepository) SaveBotConfig(models.BotConfig) error { return nil }
func (m *mockRepository) LoadBotSnapshot(string) (*models.BotState, error) { return nil, nil }
func (m *mockRepository) ListBots() ([]persistence.BotRecord, error) { return nil, nil }
func (m *mockRepository) StartBotRun(string, models.BotConfig, string) (string, error) {
	return "run", nil
}
func (m *mockRepository) EndBotRun(string, models.BotStatus) error { return nil }
func (m *mockRepository) ListOpenOrders(string) ([]persistence.OrderRow, error) { return nil, nil }
func (m *mockRepository) Close() error { return nil }

func (m *mockRepository) getSaved() []models.BotState {
	m.Lock()
	defer m.Unlock()
	return append([]models.BotState(nil), m.saved...)
}

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func cmd(botID string, action models.CommandAction) models.Command {
	return models.Command{Version: models.ProtocolVersion, ID: "c-" + string(action), BotID: botID, Action: action, TS: testNow.UnixMilli()}
}

func TestLazyInitialState(t *testing.T) {
	sm := NewStateManager("test", nil, zap.NewNop())
	s := sm.Get("fresh")
	assert.Equal(t, models.StatusStopped, s.Status)
	assert.Equal(t, models.ModeStatic, s.Mode)
	assert.True(t, s.ScheduleActive)
	assert.Equal(t, models.RiskOK, s.Risk.Status)
	assert.NotNil(t, s.Risk.Breaches)
	assert.Empty(t, s.Risk.Breaches)

	sm.SetConfig(models.BotConfig{ID: "dyn", Mode: models.ModeDynamic, Market: "SOL-USDC", Venue: "sim"})
	d := sm.Get("dyn")
	assert.Equal(t, models.ModeDynamic, d.Mode)
	assert.Equal(t, "sim", d.Venue)
	assert.Len(t, sm.All(), 2)
}

func TestHandleCommandTransitions(t *testing.T) {
	sm := NewStateManager("test", nil, zap.NewNop())
	sm.SetConfig(models.BotConfig{ID: "b1", Market: "SOL-USDC", Venue: "sim"})

	for _, tc := range []struct {
		action models.CommandAction
		want   models.BotStatus
	}{
		{models.ActionStart, models.StatusRunning},
		{models.ActionPause, models.StatusPaused},
		{models.ActionResume, models.StatusRunning},
		{models.ActionUpdateConfig, models.StatusRunning},
		{"explode", models.StatusRunning},
		{models.ActionStop, models.StatusStopped},
	} {
		state, ev := sm.HandleCommand(cmd("b1", tc.action), testNow)
		assert.Equal(t, tc.want, state.Status, tc.action)
		assert.Equal(t, tc.want, ev.Status, tc.action)
		assert.Equal(t, "b1", ev.BotID)
		assert.Equal(t, testNow, state.LastEventAt)
		assert.Equal(t, "SOL-USDC", state.Market)
	}

	state, ev := sm.HandleCommand(cmd("b1", "explode"), testNow)
	assert.Equal(t, "unknown command", state.Message)
	assert.Equal(t, "unknown command", ev.Message)
}

func TestUpdateConfigReplacesConfigFirst(t *testing.T) {
	sm := NewStateManager("test", nil, zap.NewNop())
	sm.SetConfig(models.BotConfig{ID: "b1", Market: "SOL-USDC", Venue: "sim"})

	c := cmd("b1", models.ActionUpdateConfig)
	c.Payload = &models.CommandPayload{Config: &models.BotConfig{Market: "ETH-USDC", Venue: "binance", Mode: models.ModeDynamic}}
	state, _ := sm.HandleCommand(c, testNow)

	assert.Equal(t, "ETH-USDC", state.Market)
	assert.Equal(t, "binance", state.Venue)
	assert.Equal(t, models.ModeDynamic, state.Mode)
	cfg, ok := sm.Config("b1")
	require.True(t, ok)
	assert.Equal(t, "b1", cfg.ID)
}

func TestUpdateConfigWhilePausedKeepsPaused(t *testing.T) {
	sm := NewStateManager("test", nil, zap.NewNop())
	sm.SetConfig(models.BotConfig{ID: "b1", Market: "SOL-USDC", Venue: "sim"})
	sm.HandleCommand(cmd("b1", models.ActionStart), testNow)
	sm.HandleCommand(cmd("b1", models.ActionPause), testNow)

	c := cmd("b1", models.ActionUpdateConfig)
	c.Payload = &models.CommandPayload{Config: &models.BotConfig{
		Market: "SOL-USDC",
		Venue:  "sim",
		Grid:   &models.GridConfig{Symbol: "SOL", LowerPrice: 80, UpperPrice: 120, Levels: 9, OrderSize: 2},
	}}
	state, ev := sm.HandleCommand(c, testNow)

	assert.Equal(t, models.StatusPaused, state.Status)
	assert.Equal(t, models.StatusPaused, ev.Status)
	assert.Equal(t, "config updated", state.Message)
	cfg, ok := sm.Config("b1")
	require.True(t, ok)
	require.NotNil(t, cfg.Grid)
	assert.Equal(t, 9, cfg.Grid.Levels)
	assert.Equal(t, 120.0, cfg.Grid.UpperPrice)
}

func TestPerpsSectionImpliesPerpsKind(t *testing.T) {
	sm := NewStateManager("test", nil, zap.NewNop())
	perps := &models.PerpsConfig{Grid: &models.PerpsGridConfig{Symbol: "SOL", LowerPrice: 90, UpperPrice: 110, Levels: 5, OrderSize: 1}}

	c := cmd("p1", models.ActionUpdateConfig)
	c.Payload = &models.CommandPayload{Config: &models.BotConfig{Strategy: "perps_grid", Perps: perps}}
	sm.HandleCommand(c, testNow)
	cfg, ok := sm.Config("p1")
	require.True(t, ok)
	assert.Equal(t, models.KindPerps, cfg.Kind)

	sm.SetConfig(models.BotConfig{ID: "p2", Kind: models.KindSpot, Perps: perps})
	cfg, ok = sm.Config("p2")
	require.True(t, ok)
	assert.Equal(t, models.KindPerps, cfg.Kind, "a perps section overrides a spot kind")
}

func TestUpdatePriceForSymbol(t *testing.T) {
	sm := NewStateManager("test", nil, zap.NewNop())
	sm.SetConfig(models.BotConfig{ID: "grid", Grid: &models.GridConfig{Symbol: "SOL"}})
	sm.SetConfig(models.BotConfig{ID: "mm", MarketMaker: &models.MarketMakerConfig{Symbol: "ETH"}})
	sm.SetConfig(models.BotConfig{ID: "perp", Market: "SOL-PERP"})

	updated := sm.UpdatePriceForSymbol("SOL", 101.5, testNow)
	require.Len(t, updated, 2)
	assert.Equal(t, "grid", updated[0].BotID)
	assert.Equal(t, "perp", updated[1].BotID)
	assert.Equal(t, 101.5, sm.Get("grid").LastPrice)
	assert.Equal(t, "SOL", sm.Get("perp").Symbol)
	assert.Zero(t, sm.Get("mm").LastPrice)
}

func TestTargetedMutators(t *testing.T) {
	sm := NewStateManager("test", nil, zap.NewNop())

	later := testNow.Add(time.Minute)
	s := sm.UpdateScheduleActive("b1", false, later)
	assert.False(t, s.ScheduleActive)
	assert.Equal(t, later, s.LastEventAt)

	s = sm.SetRunID("b1", "run-1", testNow)
	assert.Equal(t, "run-1", s.RunID)

	risk := models.RiskState{Status: models.RiskPaused, Breaches: []models.Breach{{Reason: "x"}}}
	s = sm.UpdateRisk("b1", risk)
	assert.Equal(t, models.RiskPaused, s.Risk.Status)
	assert.Equal(t, testNow, s.LastEventAt, "risk update does not restamp")

	// mutating the returned copy must not leak into the store
	s.Risk.Breaches[0].Reason = "mutated"
	assert.Equal(t, "x", sm.Get("b1").Risk.Breaches[0].Reason)
}

func TestRestore(t *testing.T) {
	sm := NewStateManager("test", nil, zap.NewNop())
	s := sm.Restore(models.BotState{BotID: "b1", Status: models.StatusRunning, RunID: "r1"})
	assert.Equal(t, models.RiskOK, s.Risk.Status)
	assert.NotNil(t, s.Risk.Breaches)
	assert.Equal(t, "r1", sm.Get("b1").RunID)

	assert.Equal(t, models.StatusPaused, sm.SetStatus("b1", models.StatusPaused).Status)
}

func TestPersistenceLoop(t *testing.T) {
	repo := newMockRepository()
	sm := NewStateManager("test", repo, zap.NewNop())
	sm.Start()

	state, _ := sm.HandleCommand(cmd("b1", models.ActionStart), testNow)
	sm.Persist(state)

	select {
	case <-repo.saveDoneChan:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SaveBotSnapshot to be called")
	}
	sm.Stop()
	sm.Stop()

	saved := repo.getSaved()
	require.Len(t, saved, 1)
	assert.Equal(t, models.StatusRunning, saved[0].Status)
}
