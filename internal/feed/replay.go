package feed

import (
	"bot-orchestrator/internal/bus"
	"bot-orchestrator/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

// klinePage 币安单次请求最多1000条
const klinePage = 1000

// Kline 是一根K线的收盘信息
type Kline struct {
	OpenTime  int64
	CloseTime int64
	Close     float64
}

// KlineSource pages through historical klines starting at a given time.
type KlineSource interface {
	Klines(ctx context.Context, venueSymbol string, start time.Time, limit int) ([]Kline, error)
}

// BinanceKlines reads 1m klines from the public Binance spot API.
type BinanceKlines struct {
	client   *binance.Client
	interval string
}

// NewBinanceKlines 创建一个新的K线数据源, 公共接口不需要 API Key
func NewBinanceKlines() *BinanceKlines {
	return &BinanceKlines{client: binance.NewClient("", ""), interval: "1m"}
}

func (b *BinanceKlines) Klines(ctx context.Context, venueSymbol string, start time.Time, limit int) ([]Kline, error) {
	raw, err := b.client.NewKlinesService().
		Symbol(venueSymbol).
		Interval(b.interval).
		StartTime(start.UnixMilli()).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("下载K线数据失败: %w", err)
	}
	out := make([]Kline, 0, len(raw))
	for _, k := range raw {
		closePrice, err := strconv.ParseFloat(k.Close, 64)
		if err != nil {
			return nil, fmt.Errorf("parse close %q: %w", k.Close, err)
		}
		out = append(out, Kline{OpenTime: k.OpenTime, CloseTime: k.CloseTime, Close: closePrice})
	}
	return out, nil
}

// Replayer 把历史K线的收盘价作为价格事件发布到总线, 用于模拟模式下回放行情。
type Replayer struct {
	source KlineSource
	bus    bus.Bus
	logger *zap.Logger
	// Pace is the wait between published prices; zero replays as fast as the bus accepts.
	Pace time.Duration
}

func NewReplayer(source KlineSource, b bus.Bus, logger *zap.Logger) *Replayer {
	return &Replayer{source: source, bus: b, logger: logger}
}

// Replay publishes every kline close in [start, end) as a price event for symbol and
// returns the number published.
func (r *Replayer) Replay(ctx context.Context, symbol, venueSymbol string, start, end time.Time) (int, error) {
	published := 0
	for t := start; t.Before(end); {
		klines, err := r.source.Klines(ctx, venueSymbol, t, klinePage)
		if err != nil {
			return published, err
		}
		if len(klines) == 0 {
			break
		}
		for _, k := range klines {
			if k.OpenTime >= end.UnixMilli() {
				return published, nil
			}
			if err := r.publish(ctx, symbol, k); err != nil {
				return published, err
			}
			published++
			if r.Pace > 0 {
				select {
				case <-ctx.Done():
					return published, ctx.Err()
				case <-time.After(r.Pace):
				}
			}
		}
		// 更新下一次请求的开始时间
		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		r.logger.Debug("已回放数据", zap.String("symbol", symbol), zap.Time("until", t))
	}
	r.logger.Info("K线回放完成", zap.String("symbol", symbol), zap.Int("prices", published))
	return published, nil
}

func (r *Replayer) publish(ctx context.Context, symbol string, k Kline) error {
	ts := time.UnixMilli(k.CloseTime)
	env, err := models.NewEnvelope(models.PriceEvent{
		EventMeta: models.NewMeta("replay", ts),
		Symbol:    symbol,
		Price:     k.Close,
	}, ts)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.bus.Publish(ctx, models.MarketChannel(models.KindPrice, symbol), raw)
}
