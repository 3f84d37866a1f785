package exchange

import (
	"bot-orchestrator/internal/models"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// simOrder 模拟器内部的挂单
type simOrder struct {
	models.OpenOrder
	botID string
	seq   int64
}

// Simulator 是一个确定性的内存交易场所, 用于模拟成交模式和测试。
// 订单ID按顺序分配为 sim-<n>。
type Simulator struct {
	Venue string

	mu     sync.Mutex
	nextID int64
	orders map[string]*simOrder
	// Calls counts executor calls by method name.
	Calls map[string]int
}

// NewSimulator creates an empty simulated venue.
func NewSimulator(venue string) *Simulator {
	return &Simulator{
		Venue:  venue,
		nextID: 1,
		orders: make(map[string]*simOrder),
		Calls:  make(map[string]int),
	}
}

func (s *Simulator) PlaceLimitOrder(_ context.Context, intent models.Intent) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["place"]++

	price, err := decimal.NewFromString(intent.Price)
	if err != nil || !price.IsPositive() {
		return Result{OK: false, Error: fmt.Sprintf("invalid price %q", intent.Price)}, nil
	}
	size, err := decimal.NewFromString(intent.Size)
	if err != nil || !size.IsPositive() {
		return Result{OK: false, Error: fmt.Sprintf("invalid size %q", intent.Size)}, nil
	}
	if intent.Side != models.Buy && intent.Side != models.Sell {
		return Result{OK: false, Error: fmt.Sprintf("invalid side %q", intent.Side)}, nil
	}

	id := fmt.Sprintf("sim-%d", s.nextID)
	s.orders[id] = &simOrder{
		OpenOrder: models.OpenOrder{
			OrderID:    id,
			ExternalID: intent.ID,
			Symbol:     intent.Symbol,
			Side:       intent.Side,
			Price:      price.InexactFloat64(),
			Size:       size.InexactFloat64(),
			Status:     models.OrderOpen,
		},
		botID: intent.BotID,
		seq:   s.nextID,
	}
	s.nextID++
	return Result{OK: true, ExternalID: id}, nil
}

func (s *Simulator) CancelLimitOrder(_ context.Context, intent models.Intent) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["cancel"]++

	id, ok := s.find(intent)
	if !ok {
		return Failed(ErrOrderNotFound), nil
	}
	delete(s.orders, id)
	return Result{OK: true, ExternalID: id}, nil
}

func (s *Simulator) CancelAll(_ context.Context, intent models.Intent) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["cancel_all"]++

	n := 0
	for id, o := range s.orders {
		if o.Symbol == intent.Symbol && o.botID == intent.BotID {
			delete(s.orders, id)
			n++
		}
	}
	return Result{OK: true, Message: fmt.Sprintf("canceled %d orders", n)}, nil
}

func (s *Simulator) ReplaceLimitOrder(_ context.Context, intent models.Intent) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["replace"]++

	id, ok := s.find(intent)
	if !ok {
		return Failed(ErrOrderNotFound), nil
	}
	price, err := decimal.NewFromString(intent.NewPrice)
	if err != nil || !price.IsPositive() {
		return Result{OK: false, Error: fmt.Sprintf("invalid price %q", intent.NewPrice)}, nil
	}
	size, err := decimal.NewFromString(intent.NewSize)
	if err != nil || !size.IsPositive() {
		return Result{OK: false, Error: fmt.Sprintf("invalid size %q", intent.NewSize)}, nil
	}
	o := s.orders[id]
	o.Price = price.InexactFloat64()
	o.Size = size.InexactFloat64()
	return Result{OK: true, ExternalID: id}, nil
}

func (s *Simulator) GetOpenOrders(_ context.Context, botID, symbol string) ([]models.OpenOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.OpenOrder
	for _, o := range s.sorted() {
		if o.Symbol == symbol && o.botID == botID {
			out = append(out, o.OpenOrder)
		}
	}
	return out, nil
}

func (s *Simulator) Reconcile(_ context.Context, botID, symbol string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls["reconcile"]++

	n := 0
	for _, o := range s.orders {
		if o.Symbol == symbol && o.botID == botID {
			n++
		}
	}
	return Result{OK: true, Message: fmt.Sprintf("%d open orders", n)}, nil
}

// SimulateFills fills every resting order the price has crossed: buys at or above the
// price, sells at or below it. Orders fill in placement order at their limit price.
func (s *Simulator) SimulateFills(symbol string, price float64, ts time.Time) []models.FillEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fills []models.FillEvent
	for _, o := range s.sorted() {
		if o.Symbol != symbol {
			continue
		}
		crossed := (o.Side == models.Buy && price <= o.Price) || (o.Side == models.Sell && price >= o.Price)
		if !crossed {
			continue
		}
		delete(s.orders, o.OrderID)
		fills = append(fills, models.FillEvent{
			EventMeta: models.NewMeta("simulator", ts),
			BotID:     o.botID,
			Venue:     s.Venue,
			Symbol:    o.Symbol,
			OrderID:   o.OrderID,
			Side:      o.Side,
			Price:     decimal.NewFromFloat(o.Price).StringFixed(6),
			Size:      decimal.NewFromFloat(o.Size).StringFixed(6),
		})
	}
	return fills
}

// find resolves an intent's order id or client id. Caller holds the lock.
func (s *Simulator) find(intent models.Intent) (string, bool) {
	if _, ok := s.orders[intent.OrderID]; ok && intent.OrderID != "" {
		return intent.OrderID, true
	}
	if intent.ExternalID == "" {
		return "", false
	}
	for id, o := range s.orders {
		if o.ExternalID == intent.ExternalID || id == intent.ExternalID {
			return id, true
		}
	}
	return "", false
}

// sorted returns orders by placement sequence. Caller holds the lock.
func (s *Simulator) sorted() []*simOrder {
	out := make([]*simOrder, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
