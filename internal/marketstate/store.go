package marketstate

import (
	"bot-orchestrator/internal/models"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

type shard struct {
	mu      sync.RWMutex
	symbols map[string]models.MarketState
}

// Store holds the latest market snapshot per symbol. Symbols are spread over shards so
// updates for different symbols never contend on one lock.
type Store struct {
	shards [shardCount]*shard
}

func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &shard{symbols: make(map[string]models.MarketState)}
	}
	return s
}

func (s *Store) shardFor(symbol string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return s.shards[h.Sum32()%shardCount]
}

// ApplyPrice records a spot price tick.
func (s *Store) ApplyPrice(ev models.PriceEvent) models.MarketState {
	ts := time.UnixMilli(ev.TS)
	sh := s.shardFor(ev.Symbol)
	sh.mu.Lock()
	m := sh.symbols[ev.Symbol]
	m.Symbol = ev.Symbol
	m.LastPrice = ev.Price
	if ev.Bid != nil {
		m.Bid = ev.Bid
	}
	if ev.Ask != nil {
		m.Ask = ev.Ask
	}
	m.Timestamp = ts
	sh.symbols[ev.Symbol] = m
	sh.mu.Unlock()
	return m
}

// ApplyPerps merges a perps-market event; absent fields keep their previous value.
func (s *Store) ApplyPerps(ev models.PerpsMarketEvent) models.MarketState {
	ts := time.UnixMilli(ev.TS)
	sh := s.shardFor(ev.Symbol)
	sh.mu.Lock()
	m := sh.symbols[ev.Symbol]
	m.Symbol = ev.Symbol
	if ev.LastPrice != nil {
		m.LastPrice = *ev.LastPrice
	}
	if ev.MarkPrice != nil {
		m.MarkPrice = ev.MarkPrice
	}
	if ev.OraclePrice != nil {
		m.OraclePrice = ev.OraclePrice
	}
	if ev.FundingRate != nil {
		m.FundingRate = ev.FundingRate
	}
	if ev.NextFundingTime > 0 {
		m.NextFundingTime = time.UnixMilli(ev.NextFundingTime)
	}
	if ev.MarkOracleDivergenceBps != nil {
		m.MarkOracleDivergenceBps = ev.MarkOracleDivergenceBps
	} else if m.MarkPrice != nil && m.OraclePrice != nil && *m.OraclePrice > 0 {
		div := (*m.MarkPrice - *m.OraclePrice) / *m.OraclePrice * 10000
		if div < 0 {
			div = -div
		}
		m.MarkOracleDivergenceBps = &div
	}
	if ev.Volatility != nil {
		m.Volatility = ev.Volatility
	}
	m.Timestamp = ts
	sh.symbols[ev.Symbol] = m
	sh.mu.Unlock()
	return m
}

// Get returns the latest snapshot for a symbol.
func (s *Store) Get(symbol string) (models.MarketState, bool) {
	sh := s.shardFor(symbol)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	m, ok := sh.symbols[symbol]
	return m, ok
}
