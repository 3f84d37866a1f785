package persistence

import (
	"bot-orchestrator/internal/models"
	"errors"
	"time"
)

// ErrRunNotFound is returned when ending a run that was never started.
var ErrRunNotFound = errors.New("bot run not found")

// BotRecord is one stored bot as returned by ListBots.
type BotRecord struct {
	ID     string           `json:"id"`
	Config models.BotConfig `json:"config"`
	Status models.BotStatus `json:"status"`
}

// RunRecord 记录一次机器人运行 (start 到 stop) 的生命周期
type RunRecord struct {
	RunID           string           `json:"run_id"`
	BotID           string           `json:"bot_id"`
	Config          models.BotConfig `json:"config"`
	StrategyVersion string           `json:"strategy_version"`
	Status          models.BotStatus `json:"status"`
	StartedAt       time.Time        `json:"started_at"`
	EndedAt         *time.Time       `json:"ended_at,omitempty"`
}

// OrderRow 是由订单事件和成交事件维护的订单记录
type OrderRow struct {
	BotID      string             `json:"bot_id"`
	OrderID    string             `json:"order_id"`
	ExternalID string             `json:"external_id,omitempty"`
	Venue      string             `json:"venue"`
	Symbol     string             `json:"symbol"`
	Side       models.Side        `json:"side"`
	Price      string             `json:"price"`
	Size       string             `json:"size"`
	Status     models.OrderStatus `json:"status"`
	UpdatedAt  int64              `json:"updated_at"`
}

// Repository defines the interface for durable storage of events, bot snapshots and run
// lifecycle records. It abstracts the underlying storage mechanism from the orchestrator.
type Repository interface {
	// LogEvent appends an event envelope to the event log.
	LogEvent(env models.Envelope) error

	// SaveBotSnapshot stores the latest runtime state of a bot.
	SaveBotSnapshot(state models.BotState) error

	// SaveBotConfig stores a bot's configuration so it is restored on restart.
	SaveBotConfig(cfg models.BotConfig) error

	// LoadBotSnapshot loads a bot's state. If none is stored it returns (nil, nil).
	LoadBotSnapshot(botID string) (*models.BotState, error)

	ListBots() ([]BotRecord, error)

	// StartBotRun opens a run record and returns its id.
	StartBotRun(botID string, cfg models.BotConfig, strategyVersion string) (string, error)

	EndBotRun(runID string, status models.BotStatus) error

	// ListOpenOrders returns the bot's order rows that still rest on the book.
	ListOpenOrders(botID string) ([]OrderRow, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
