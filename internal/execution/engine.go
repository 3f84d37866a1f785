package execution

import (
	"bot-orchestrator/internal/exchange"
	"bot-orchestrator/internal/models"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Resolver finds the executor serving a venue.
type Resolver interface {
	Resolve(venue string) exchange.Executor
}

// Engine 把策略产生的意图派发给执行器, 并把每一步记录为事件。
// 执行失败只记录警告, 不会中断后续意图。
type Engine struct {
	resolver Resolver
	source   string
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine creates an engine whose events carry source as their origin.
func NewEngine(resolver Resolver, source string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{resolver: resolver, source: source, logger: logger, now: time.Now}
}

// Execute dispatches intents in order and returns every event produced. Each intent
// yields an intent event first; placements and side-bearing successful cancels also
// yield an order event.
func (e *Engine) Execute(ctx context.Context, botID, venue string, intents []models.Intent) []models.Payload {
	ex := e.resolver.Resolve(venue)
	var events []models.Payload
	for _, intent := range intents {
		now := e.now()
		events = append(events, models.IntentEvent{
			EventMeta: models.NewMeta(e.source, now),
			BotID:     botID,
			Intent:    intent,
		})

		res := e.dispatch(ctx, ex, intent)
		if !res.OK {
			e.logger.Warn("执行意图失败",
				zap.String("bot", botID),
				zap.String("venue", venue),
				zap.String("kind", string(intent.Kind)),
				zap.String("intent", intent.ID),
				zap.String("error", res.Error))
		}

		switch intent.Kind {
		case models.IntentPlaceLimit:
			status := models.OrderNew
			if !res.OK {
				status = models.OrderRejected
			}
			events = append(events, models.OrderEvent{
				EventMeta:  models.NewMeta(e.source, now),
				BotID:      botID,
				Venue:      venue,
				Symbol:     intent.Symbol,
				OrderID:    res.ExternalID,
				ExternalID: intent.ID,
				Side:       intent.Side,
				Price:      intent.Price,
				Size:       intent.Size,
				Status:     status,
				Error:      res.Error,
			})
		case models.IntentCancelLimit:
			if !res.OK || intent.Side == "" {
				continue
			}
			events = append(events, models.OrderEvent{
				EventMeta:  models.NewMeta(e.source, now),
				BotID:      botID,
				Venue:      venue,
				Symbol:     intent.Symbol,
				OrderID:    intent.OrderID,
				ExternalID: intent.ExternalID,
				Side:       intent.Side,
				Price:      intent.Price,
				Size:       intent.Size,
				Status:     models.OrderCanceled,
			})
		}
	}
	return events
}

// dispatch calls the executor; returned errors and panics both become failed results.
func (e *Engine) dispatch(ctx context.Context, ex exchange.Executor, intent models.Intent) (res exchange.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = exchange.Failed(fmt.Errorf("executor panic: %v", r))
		}
	}()
	if ex == nil {
		return exchange.Failed(exchange.ErrExecutionDisabled)
	}

	var err error
	switch intent.Kind {
	case models.IntentPlaceLimit:
		res, err = ex.PlaceLimitOrder(ctx, intent)
	case models.IntentCancelLimit:
		res, err = ex.CancelLimitOrder(ctx, intent)
	case models.IntentCancelAll:
		res, err = ex.CancelAll(ctx, intent)
	case models.IntentReplaceLimit:
		res, err = ex.ReplaceLimitOrder(ctx, intent)
	default:
		return exchange.Failed(fmt.Errorf("unknown intent kind %q", intent.Kind))
	}
	if err != nil {
		return exchange.Failed(err)
	}
	return res
}
