package strategy

import (
	"bot-orchestrator/internal/models"
	"math"
	"sync"
	"time"
)

const mmSizeTolerance = 0.001

// anchor 做市报价的基准价格和刷新时间
type anchor struct {
	price float64
	at    time.Time
}

// SlowMarketMaker quotes symmetric ladders around an anchor price that only moves when
// the refresh interval elapses or the price drifts past the reprice threshold.
type SlowMarketMaker struct {
	mu      sync.Mutex
	anchors map[string]anchor
}

func NewSlowMarketMaker() *SlowMarketMaker {
	return &SlowMarketMaker{anchors: make(map[string]anchor)}
}

func (m *SlowMarketMaker) Key() string { return KeySlowMM }

// Reset forgets a bot's anchor so the next cycle quotes from scratch.
func (m *SlowMarketMaker) Reset(botID string) {
	m.mu.Lock()
	delete(m.anchors, botID)
	m.mu.Unlock()
}

type quote struct {
	side    models.Side
	price   float64
	matched bool
}

func (m *SlowMarketMaker) Run(c Context) []models.Intent {
	if c.Config == nil || c.Config.MarketMaker == nil {
		return nil
	}
	cfg := c.Config.MarketMaker
	if cfg.Levels < 1 || cfg.OrderSize <= 0 {
		return nil
	}
	mid := c.Market.LastPrice
	if mid <= 0 {
		mid = referencePrice(c)
	}
	if mid <= 0 {
		return nil
	}

	if !m.shouldRefresh(c.State.BotID, cfg, mid, c.Now) {
		return nil
	}

	var quotes []quote
	for i := 0; i < cfg.Levels; i++ {
		offset := (cfg.HalfSpreadBps + cfg.LevelSpacingBps*float64(i)) / 10000
		quotes = append(quotes,
			quote{side: models.Buy, price: mid * (1 - offset)},
			quote{side: models.Sell, price: mid * (1 + offset)},
		)
	}

	tolBps := math.Max(1, cfg.LevelSpacingBps/10)
	symbol := symbolFor(c, cfg.Symbol)
	botID := c.State.BotID

	var intents []models.Intent
	for _, o := range liveOrders(c.OpenOrders) {
		if matchQuote(quotes, o, cfg.OrderSize, tolBps) {
			continue
		}
		intents = append(intents, models.NewCancelIntent(botID, symbol, o, formatFixed(o.Price), formatFixed(o.Size), c.Now))
	}
	size := formatFixed(cfg.OrderSize)
	for _, q := range quotes {
		if q.matched || q.price <= 0 {
			continue
		}
		intents = append(intents, models.NewPlaceIntent(botID, symbol, q.side, formatFixed(q.price), size, false, c.Now))
	}
	return intents
}

// shouldRefresh moves the anchor when due and reports whether this cycle quotes.
func (m *SlowMarketMaker) shouldRefresh(botID string, cfg *models.MarketMakerConfig, mid float64, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.anchors[botID]
	refresh := !ok || a.price <= 0
	if !refresh && cfg.RefreshSeconds > 0 && now.Sub(a.at) >= time.Duration(cfg.RefreshSeconds)*time.Second {
		refresh = true
	}
	if !refresh && cfg.RepriceBps > 0 && math.Abs(mid-a.price)/a.price*10000 >= cfg.RepriceBps {
		refresh = true
	}
	if refresh {
		m.anchors[botID] = anchor{price: mid, at: now}
	}
	return refresh
}

// matchQuote pairs an existing order with the first unmatched quote on its side within
// the price and size tolerances.
func matchQuote(quotes []quote, o models.OpenOrder, size, tolBps float64) bool {
	if math.Abs(o.Size-size)/size > mmSizeTolerance {
		return false
	}
	for i := range quotes {
		q := &quotes[i]
		if q.matched || q.side != o.Side || q.price <= 0 {
			continue
		}
		if math.Abs(o.Price-q.price)/q.price*10000 <= tolBps {
			q.matched = true
			return true
		}
	}
	return false
}
