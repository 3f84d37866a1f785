package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ProtocolVersion is the only envelope version the service accepts.
const ProtocolVersion = "v1"

// EventKind 定义了标准化事件的类型
type EventKind string

const (
	KindPrice       EventKind = "price"
	KindPerpsMarket EventKind = "perps_market"
	KindBalance     EventKind = "balance"
	KindWalletTx    EventKind = "wallet_tx"
	KindIntent      EventKind = "intent"
	KindOrder       EventKind = "order"
	KindFill        EventKind = "fill"
	KindBot         EventKind = "bot"
	KindRisk        EventKind = "risk"
	KindHealth      EventKind = "health"
)

// HealthStatus 服务健康状态
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// Payload is implemented by every member of the normalized event family.
type Payload interface {
	EventKind() EventKind
	// Key is the bot id, symbol or service the event belongs to.
	Key() string
}

// EventMeta 所有事件共有的字段
type EventMeta struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	TS      int64  `json:"ts"`
	Source  string `json:"source"`
}

// NewMeta stamps a fresh event id.
func NewMeta(source string, ts time.Time) EventMeta {
	return EventMeta{ID: NewID(), Version: ProtocolVersion, TS: ts.UnixMilli(), Source: source}
}

type PriceEvent struct {
	EventMeta
	Symbol string   `json:"symbol"`
	Price  float64  `json:"price"`
	Bid    *float64 `json:"bid,omitempty"`
	Ask    *float64 `json:"ask,omitempty"`
}

type PerpsMarketEvent struct {
	EventMeta
	Symbol                  string   `json:"symbol"`
	LastPrice               *float64 `json:"last_price,omitempty"`
	MarkPrice               *float64 `json:"mark_price,omitempty"`
	OraclePrice             *float64 `json:"oracle_price,omitempty"`
	FundingRate             *float64 `json:"funding_rate,omitempty"`
	NextFundingTime         int64    `json:"next_funding_time,omitempty"`
	MarkOracleDivergenceBps *float64 `json:"mark_oracle_divergence_bps,omitempty"`
	Volatility              *float64 `json:"volatility,omitempty"`
}

type BalanceEvent struct {
	EventMeta
	BotID  string `json:"bot_id"`
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked,omitempty"`
}

type WalletTxEvent struct {
	EventMeta
	BotID  string `json:"bot_id"`
	TxHash string `json:"tx_hash"`
	Status string `json:"status"`
}

type IntentEvent struct {
	EventMeta
	BotID  string `json:"bot_id"`
	Intent Intent `json:"intent"`
}

type OrderEvent struct {
	EventMeta
	BotID      string      `json:"bot_id"`
	Venue      string      `json:"venue"`
	Symbol     string      `json:"symbol,omitempty"`
	OrderID    string      `json:"order_id,omitempty"`
	ExternalID string      `json:"external_id,omitempty"`
	Side       Side        `json:"side"`
	Price      string      `json:"price,omitempty"`
	Size       string      `json:"size,omitempty"`
	Status     OrderStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
}

type FillEvent struct {
	EventMeta
	BotID   string `json:"bot_id"`
	Venue   string `json:"venue"`
	Symbol  string `json:"symbol"`
	OrderID string `json:"order_id"`
	Side    Side   `json:"side"`
	Price   string `json:"price"`
	Size    string `json:"size"`
}

type BotEvent struct {
	EventMeta
	BotID   string    `json:"bot_id"`
	Status  BotStatus `json:"status"`
	Message string    `json:"message,omitempty"`
	RunID   string    `json:"run_id,omitempty"`
}

type RiskEvent struct {
	EventMeta
	BotID   string             `json:"bot_id"`
	Reason  string             `json:"reason"`
	Action  string             `json:"action"`
	Status  RiskStatus         `json:"status"`
	Context map[string]float64 `json:"context,omitempty"`
}

type HealthEvent struct {
	EventMeta
	Service string       `json:"service"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

func (e PriceEvent) EventKind() EventKind       { return KindPrice }
func (e PerpsMarketEvent) EventKind() EventKind { return KindPerpsMarket }
func (e BalanceEvent) EventKind() EventKind     { return KindBalance }
func (e WalletTxEvent) EventKind() EventKind    { return KindWalletTx }
func (e IntentEvent) EventKind() EventKind      { return KindIntent }
func (e OrderEvent) EventKind() EventKind       { return KindOrder }
func (e FillEvent) EventKind() EventKind        { return KindFill }
func (e BotEvent) EventKind() EventKind         { return KindBot }
func (e RiskEvent) EventKind() EventKind        { return KindRisk }
func (e HealthEvent) EventKind() EventKind      { return KindHealth }

func (e PriceEvent) Key() string       { return e.Symbol }
func (e PerpsMarketEvent) Key() string { return e.Symbol }
func (e BalanceEvent) Key() string     { return e.BotID }
func (e WalletTxEvent) Key() string    { return e.BotID }
func (e IntentEvent) Key() string      { return e.BotID }
func (e OrderEvent) Key() string       { return e.BotID }
func (e FillEvent) Key() string        { return e.BotID }
func (e BotEvent) Key() string         { return e.BotID }
func (e RiskEvent) Key() string        { return e.BotID }
func (e HealthEvent) Key() string      { return e.Service }

// Envelope 是发布到总线和持久化的外层结构
type Envelope struct {
	Version string          `json:"version"`
	TS      int64           `json:"ts"`
	Kind    EventKind       `json:"kind"`
	Data    json.RawMessage `json:"data"`

	// Key is the channel suffix; it is not part of the wire format.
	Key string `json:"-"`
}

// NewEnvelope wraps a payload for publication.
func NewEnvelope(p Payload, ts time.Time) (Envelope, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s event: %w", p.EventKind(), err)
	}
	return Envelope{
		Version: ProtocolVersion,
		TS:      ts.UnixMilli(),
		Kind:    p.EventKind(),
		Data:    data,
		Key:     p.Key(),
	}, nil
}

// EventChannel is the pub/sub channel for an event kind and key.
func EventChannel(kind EventKind, key string) string {
	return "events:" + string(kind) + ":" + key
}

// CacheKey is where the latest value of a kind/key pair is cached.
func CacheKey(kind string, key string) string {
	return "state:" + kind + ":" + key
}

// MarketChannel is the inbound channel for market events of one symbol.
func MarketChannel(kind EventKind, symbol string) string {
	return "market:" + string(kind) + ":" + symbol
}

// CommandChannel is the inbound command channel for one bot.
func CommandChannel(botID string) string {
	return "bot:command:" + botID
}

const (
	CommandPattern = "bot:command:*"
	MarketPattern  = "market:*"
)

// ParseEnvelope decodes an inbound event. Malformed input reports false.
func ParseEnvelope(raw []byte) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, false
	}
	if env.Version != ProtocolVersion || env.Kind == "" || env.TS <= 0 || len(env.Data) == 0 {
		return Envelope{}, false
	}
	return env, true
}

// DecodePrice extracts a price event from an envelope.
func DecodePrice(env Envelope) (PriceEvent, bool) {
	if env.Kind != KindPrice {
		return PriceEvent{}, false
	}
	var ev PriceEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return PriceEvent{}, false
	}
	if ev.Symbol == "" || !finitePositive(ev.Price) {
		return PriceEvent{}, false
	}
	return ev, true
}

// DecodePerpsMarket extracts a perps-market event from an envelope.
func DecodePerpsMarket(env Envelope) (PerpsMarketEvent, bool) {
	if env.Kind != KindPerpsMarket {
		return PerpsMarketEvent{}, false
	}
	var ev PerpsMarketEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return PerpsMarketEvent{}, false
	}
	if ev.Symbol == "" {
		return PerpsMarketEvent{}, false
	}
	return ev, true
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
