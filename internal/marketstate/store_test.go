package marketstate

import (
	"bot-orchestrator/internal/models"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestApplyPrice(t *testing.T) {
	s := NewStore()
	_, ok := s.Get("SOL")
	assert.False(t, ok)

	s.ApplyPrice(models.PriceEvent{EventMeta: models.NewMeta("feed", testNow), Symbol: "SOL", Price: 100, Bid: f(99.9)})
	s.ApplyPrice(models.PriceEvent{EventMeta: models.NewMeta("feed", testNow.Add(time.Second)), Symbol: "SOL", Price: 101})

	m, ok := s.Get("SOL")
	require.True(t, ok)
	assert.Equal(t, 101.0, m.LastPrice)
	assert.Equal(t, 99.9, *m.Bid, "absent bid keeps the previous value")
	assert.Equal(t, testNow.Add(time.Second).UnixMilli(), m.Timestamp.UnixMilli())
}

func TestApplyPerpsMerges(t *testing.T) {
	s := NewStore()
	s.ApplyPrice(models.PriceEvent{EventMeta: models.NewMeta("feed", testNow), Symbol: "SOL", Price: 100})
	m := s.ApplyPerps(models.PerpsMarketEvent{
		EventMeta:       models.NewMeta("feed", testNow),
		Symbol:          "SOL",
		MarkPrice:       f(100.5),
		OraclePrice:     f(100),
		FundingRate:     f(0.0001),
		NextFundingTime: testNow.Add(time.Hour).UnixMilli(),
	})
	assert.Equal(t, 100.0, m.LastPrice)
	assert.Equal(t, 100.5, m.ReferencePrice())
	require.NotNil(t, m.MarkOracleDivergenceBps)
	assert.InDelta(t, 50, *m.MarkOracleDivergenceBps, 1e-9, "derived from mark and oracle")

	m = s.ApplyPerps(models.PerpsMarketEvent{EventMeta: models.NewMeta("feed", testNow), Symbol: "SOL", MarkOracleDivergenceBps: f(12)})
	assert.Equal(t, 12.0, *m.MarkOracleDivergenceBps)
	assert.Equal(t, 0.0001, *m.FundingRate)
}

func TestConcurrentSymbols(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sym := fmt.Sprintf("S%d", i)
			for j := 1; j <= 100; j++ {
				s.ApplyPrice(models.PriceEvent{EventMeta: models.NewMeta("feed", testNow), Symbol: sym, Price: float64(j)})
			}
		}(i)
	}
	wg.Wait()
	for i := 0; i < 32; i++ {
		m, ok := s.Get(fmt.Sprintf("S%d", i))
		require.True(t, ok)
		assert.Equal(t, 100.0, m.LastPrice)
	}
}
