package persistence

import (
	"bot-orchestrator/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *BadgerRepository {
	t.Helper()
	repo, err := NewBadgerRepository("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func envelope(t *testing.T, p models.Payload, ts time.Time) models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(p, ts)
	require.NoError(t, err)
	return env
}

func TestSnapshotRoundTrip(t *testing.T) {
	repo := newTestRepo(t)

	state, err := repo.LoadBotSnapshot("b1")
	require.NoError(t, err)
	assert.Nil(t, state, "no snapshot yet")

	gap := 2
	in := models.BotState{
		BotID:    "b1",
		Status:   models.StatusRunning,
		GapIndex: &gap,
		Risk: models.RiskState{
			Status:   models.RiskReduceOnly,
			Breaches: []models.Breach{{Reason: "funding_guardrail", Context: map[string]float64{"funding_bps": 100}}},
		},
	}
	require.NoError(t, repo.SaveBotSnapshot(in))

	out, err := repo.LoadBotSnapshot("b1")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, models.StatusRunning, out.Status)
	assert.Equal(t, 2, *out.GapIndex)
	assert.Equal(t, 100.0, out.Risk.Breaches[0].Context["funding_bps"])
}

func TestListBots(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.SaveBotConfig(models.BotConfig{ID: "b2", Strategy: "slow_mm"}))
	require.NoError(t, repo.SaveBotConfig(models.BotConfig{ID: "b1", Strategy: "static_grid"}))
	require.NoError(t, repo.SaveBotSnapshot(models.BotState{BotID: "b1", Status: models.StatusPaused}))
	assert.Error(t, repo.SaveBotConfig(models.BotConfig{}))

	bots, err := repo.ListBots()
	require.NoError(t, err)
	require.Len(t, bots, 2)
	assert.Equal(t, "b1", bots[0].ID)
	assert.Equal(t, models.StatusPaused, bots[0].Status)
	assert.Equal(t, "static_grid", bots[0].Config.Strategy)
	assert.Equal(t, models.StatusStopped, bots[1].Status)
}

func TestBotRunLifecycle(t *testing.T) {
	repo := newTestRepo(t)

	runID, err := repo.StartBotRun("b1", models.BotConfig{ID: "b1", Version: "3"}, "3")
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	other, err := repo.StartBotRun("b1", models.BotConfig{ID: "b1"}, "")
	require.NoError(t, err)
	assert.NotEqual(t, runID, other)

	require.NoError(t, repo.EndBotRun(runID, models.StatusStopped))
	run, err := repo.GetRun(runID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.StatusStopped, run.Status)
	assert.Equal(t, "3", run.StrategyVersion)
	assert.NotNil(t, run.EndedAt)

	assert.ErrorIs(t, repo.EndBotRun("missing", models.StatusStopped), ErrRunNotFound)
}

func TestOrderRowsFollowEvents(t *testing.T) {
	repo := newTestRepo(t)
	now := time.UnixMilli(1700000000000)

	placed := models.OrderEvent{EventMeta: models.NewMeta("test", now), BotID: "b1", Venue: "sim", Symbol: "SOL",
		OrderID: "sim-1", ExternalID: "i-1", Side: models.Buy, Price: "95.000000", Size: "1.000000", Status: models.OrderNew}
	require.NoError(t, repo.LogEvent(envelope(t, placed, now)))

	second := placed
	second.OrderID, second.ExternalID, second.Price = "sim-2", "i-2", "90.000000"
	require.NoError(t, repo.LogEvent(envelope(t, second, now)))

	rows, err := repo.ListOpenOrders("b1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "sim", rows[0].Venue)

	canceled := models.OrderEvent{EventMeta: models.NewMeta("test", now), BotID: "b1", OrderID: "sim-2", Status: models.OrderCanceled}
	require.NoError(t, repo.LogEvent(envelope(t, canceled, now.Add(time.Second))))

	fill := models.FillEvent{EventMeta: models.NewMeta("test", now), BotID: "b1", OrderID: "sim-1", Symbol: "SOL", Price: "95", Size: "1"}
	require.NoError(t, repo.LogEvent(envelope(t, fill, now.Add(2*time.Second))))

	rows, err = repo.ListOpenOrders("b1")
	require.NoError(t, err)
	assert.Empty(t, rows)

	other, err := repo.ListOpenOrders("b10")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestListEventsInOrder(t *testing.T) {
	repo := newTestRepo(t)
	t0 := time.UnixMilli(1700000000000)

	late := models.BotEvent{EventMeta: models.NewMeta("test", t0), BotID: "b1", Status: models.StatusStopped}
	early := models.HealthEvent{EventMeta: models.NewMeta("test", t0), Service: "svc", Status: models.HealthOK}
	require.NoError(t, repo.LogEvent(envelope(t, late, t0.Add(time.Minute))))
	require.NoError(t, repo.LogEvent(envelope(t, early, t0)))

	events, err := repo.ListEvents()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.KindHealth, events[0].Kind)
	assert.Equal(t, "svc", events[0].Key)
	assert.Equal(t, models.KindBot, events[1].Kind)
}
