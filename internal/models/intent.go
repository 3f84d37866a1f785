package models

import (
	"time"

	"github.com/google/uuid"
)

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// IntentKind tags the decision an Intent carries.
type IntentKind string

const (
	IntentPlaceLimit   IntentKind = "place_limit_order"
	IntentCancelLimit  IntentKind = "cancel_limit_order"
	IntentCancelAll    IntentKind = "cancel_all"
	IntentReplaceLimit IntentKind = "replace_limit_order"
)

// Intent 是策略产生的、尚未发送到交易所的订单动作。不会被持久化。
// 价格和数量使用定点十进制字符串。
type Intent struct {
	ID        string     `json:"id"`
	BotID     string     `json:"bot_id"`
	Kind      IntentKind `json:"kind"`
	CreatedAt time.Time  `json:"created_at"`

	Symbol     string `json:"symbol,omitempty"`
	Side       Side   `json:"side,omitempty"`
	Price      string `json:"price,omitempty"`
	Size       string `json:"size,omitempty"`
	ReduceOnly bool   `json:"reduce_only,omitempty"`

	OrderID    string `json:"order_id,omitempty"`
	ExternalID string `json:"external_id,omitempty"`

	NewPrice string `json:"new_price,omitempty"`
	NewSize  string `json:"new_size,omitempty"`
}

// NewID returns a random identifier for intents and events.
func NewID() string {
	return uuid.NewString()
}

// NewPlaceIntent builds a place_limit_order intent.
func NewPlaceIntent(botID, symbol string, side Side, price, size string, reduceOnly bool, now time.Time) Intent {
	return Intent{
		ID:         NewID(),
		BotID:      botID,
		Kind:       IntentPlaceLimit,
		CreatedAt:  now,
		Symbol:     symbol,
		Side:       side,
		Price:      price,
		Size:       size,
		ReduceOnly: reduceOnly,
	}
}

// NewCancelIntent builds a cancel_limit_order intent for an existing order.
func NewCancelIntent(botID, symbol string, order OpenOrder, price, size string, now time.Time) Intent {
	return Intent{
		ID:         NewID(),
		BotID:      botID,
		Kind:       IntentCancelLimit,
		CreatedAt:  now,
		Symbol:     symbol,
		Side:       order.Side,
		Price:      price,
		Size:       size,
		OrderID:    order.OrderID,
		ExternalID: order.ExternalID,
	}
}

// NewCancelAllIntent builds a cancel_all intent.
func NewCancelAllIntent(botID, symbol string, now time.Time) Intent {
	return Intent{
		ID:        NewID(),
		BotID:     botID,
		Kind:      IntentCancelAll,
		CreatedAt: now,
		Symbol:    symbol,
	}
}

// NewReplaceIntent builds a replace_limit_order intent.
func NewReplaceIntent(botID, symbol, orderID, newPrice, newSize string, now time.Time) Intent {
	return Intent{
		ID:        NewID(),
		BotID:     botID,
		Kind:      IntentReplaceLimit,
		CreatedAt: now,
		Symbol:    symbol,
		OrderID:   orderID,
		NewPrice:  newPrice,
		NewSize:   newSize,
	}
}

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderNew      OrderStatus = "new"
	OrderOpen     OrderStatus = "open"
	OrderPartial  OrderStatus = "partial"
	OrderFilled   OrderStatus = "filled"
	OrderCanceled OrderStatus = "canceled"
	OrderRejected OrderStatus = "rejected"
)

// Live reports whether an order still rests on the book.
func (s OrderStatus) Live() bool {
	return s == OrderNew || s == OrderOpen || s == OrderPartial
}

// OpenOrder is read from the execution collaborator; the core never owns it.
type OpenOrder struct {
	OrderID    string      `json:"order_id"`
	ExternalID string      `json:"external_id,omitempty"`
	Symbol     string      `json:"symbol,omitempty"`
	Side       Side        `json:"side"`
	Price      float64     `json:"price"`
	Size       float64     `json:"size"`
	Status     OrderStatus `json:"status"`
}
