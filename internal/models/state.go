package models

import "time"

// BotStatus 定义了机器人的运行状态
type BotStatus string

const (
	StatusStopped BotStatus = "stopped"
	StatusRunning BotStatus = "running"
	StatusPaused  BotStatus = "paused"
	StatusError   BotStatus = "error"
)

// RiskStatus is driven only by the risk governors.
type RiskStatus string

const (
	RiskOK         RiskStatus = "ok"
	RiskReduceOnly RiskStatus = "reduce_only"
	RiskShrink     RiskStatus = "shrink"
	RiskClamp      RiskStatus = "clamp"
	RiskPaused     RiskStatus = "paused"
)

// BotState 定义了每个机器人的运行时状态, 每个 bot id 只有一份
type BotState struct {
	BotID          string        `json:"bot_id"`
	RunID          string        `json:"run_id,omitempty"` // 当前运行记录ID
	Status         BotStatus     `json:"status"`
	Mode           ExecutionMode `json:"mode"`
	Market         string        `json:"market,omitempty"`
	Venue          string        `json:"venue,omitempty"`
	ScheduleActive bool          `json:"schedule_active"`
	Message        string        `json:"message,omitempty"`

	LastPrice   float64   `json:"last_price,omitempty"`
	LastPriceAt time.Time `json:"last_price_at,omitempty"`
	Symbol      string    `json:"symbol,omitempty"` // 最近一次价格事件的交易符号

	// 以下字段由外部协作方更新 (十进制字符串)
	BaseInventory  string `json:"base_inventory,omitempty"`
	QuoteInventory string `json:"quote_inventory,omitempty"`
	RealizedPnL    string `json:"realized_pnl,omitempty"`
	UnrealizedPnL  string `json:"unrealized_pnl,omitempty"`
	Equity         string `json:"equity,omitempty"`

	// GapIndex, when set, overrides the midpoint split of a spot grid: lower levels buy,
	// higher levels sell, and the gap level itself stays empty.
	GapIndex *int `json:"gap_index,omitempty"`

	LastEventAt time.Time `json:"last_event_at"`
	Risk        RiskState `json:"risk"`
}

// RiskState 记录风控状态和触发历史
type RiskState struct {
	Status        RiskStatus `json:"status"`
	LastCheckedAt time.Time  `json:"last_checked_at,omitempty"`
	Breaches      []Breach   `json:"breaches"`
	HardStop      *Breach    `json:"hard_stop,omitempty"`
}

// Breach is one guardrail trigger.
type Breach struct {
	Reason      string             `json:"reason"`
	TriggeredAt time.Time          `json:"triggered_at"`
	Context     map[string]float64 `json:"context,omitempty"`
}

// Clone returns a deep copy so readers never share slices with the store.
func (s BotState) Clone() BotState {
	out := s
	out.Risk = s.Risk.Clone()
	if s.GapIndex != nil {
		gap := *s.GapIndex
		out.GapIndex = &gap
	}
	return out
}

// Clone 深拷贝风控状态
func (r RiskState) Clone() RiskState {
	out := r
	out.Breaches = make([]Breach, len(r.Breaches))
	copy(out.Breaches, r.Breaches)
	if r.HardStop != nil {
		hs := *r.HardStop
		out.HardStop = &hs
	}
	return out
}

// MarketState is the latest snapshot for one symbol; fields are optional since price and
// perps-market events each fill only part of it.
type MarketState struct {
	Symbol                  string    `json:"symbol"`
	LastPrice               float64   `json:"last_price,omitempty"`
	MarkPrice               *float64  `json:"mark_price,omitempty"`
	Bid                     *float64  `json:"bid,omitempty"`
	Ask                     *float64  `json:"ask,omitempty"`
	OraclePrice             *float64  `json:"oracle_price,omitempty"`
	FundingRate             *float64  `json:"funding_rate,omitempty"`
	NextFundingTime         time.Time `json:"next_funding_time,omitempty"`
	MarkOracleDivergenceBps *float64  `json:"mark_oracle_divergence_bps,omitempty"`
	Volatility              *float64  `json:"volatility,omitempty"`
	Timestamp               time.Time `json:"timestamp"`
}

// ReferencePrice is the mark price when present, else the last trade price.
func (m MarketState) ReferencePrice() float64 {
	if m.MarkPrice != nil && *m.MarkPrice > 0 {
		return *m.MarkPrice
	}
	return m.LastPrice
}
