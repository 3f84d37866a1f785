package feed

import (
	"bot-orchestrator/internal/bus"
	"bot-orchestrator/internal/models"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Relay 连接外部行情 WebSocket, 把收到的事件信封转发到总线的 market:<kind>:<symbol> 频道。
// 连接断开后按配置的间隔重连。
type Relay struct {
	url            string
	bus            bus.Bus
	logger         *zap.Logger
	dialer         *websocket.Dialer
	pongWait       time.Duration
	pingPeriod     time.Duration
	reconnectDelay time.Duration
}

// NewRelay creates a relay for cfg.URL. It returns nil when no URL is configured.
func NewRelay(cfg models.FeedConfig, b bus.Bus, logger *zap.Logger) *Relay {
	if cfg.URL == "" {
		return nil
	}
	pongWait := seconds(cfg.PongTimeoutSec, 60)
	pingPeriod := seconds(cfg.PingIntervalSec, 0)
	if pingPeriod <= 0 || pingPeriod >= pongWait {
		pingPeriod = (pongWait * 9) / 10 // Must be less than pongWait
	}
	return &Relay{
		url:            cfg.URL,
		bus:            b,
		logger:         logger,
		dialer:         websocket.DefaultDialer,
		pongWait:       pongWait,
		pingPeriod:     pingPeriod,
		reconnectDelay: seconds(cfg.ReconnectDelaySec, 5),
	}
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

// Run 是一个守护循环, 负责维持连接和重连, 直到 ctx 结束。
func (r *Relay) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			r.logger.Info("行情转发已停止")
			return
		}

		conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
		if err != nil {
			r.logger.Warn("WebSocket连接失败, 稍后重试", zap.String("url", r.url), zap.Duration("delay", r.reconnectDelay), zap.Error(err))
		} else {
			r.logger.Info("WebSocket连接成功", zap.String("url", r.url))
			if err := r.handle(ctx, conn); err != nil {
				r.logger.Warn("WebSocket处理时发生错误", zap.Error(err))
			}
			conn.Close()
			r.logger.Info("WebSocket连接已断开，准备重连...")
		}

		select {
		case <-ctx.Done():
			r.logger.Info("行情转发已停止")
			return
		case <-time.After(r.reconnectDelay):
		}
	}
}

// handle reads one connection until it breaks or ctx ends, keeping it alive with pings.
func (r *Relay) handle(ctx context.Context, conn *websocket.Conn) error {
	// 设置Pong处理器来延长读取超时
	_ = conn.SetReadDeadline(time.Now().Add(r.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(r.pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(r.pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					r.logger.Warn("发送Ping失败", zap.Error(err))
					return
				}
			case <-ctx.Done():
				// 优雅关闭, 同时解除 ReadMessage 的阻塞
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// 任何读取错误都意味着连接已损坏
			return fmt.Errorf("读取消息失败: %w", err)
		}
		if err := r.forward(ctx, message); err != nil && !errors.Is(err, errDropped) {
			r.logger.Warn("转发行情失败", zap.Error(err))
		}
	}
}

var errDropped = errors.New("malformed market message")

// forward republishes a valid envelope on its market channel; malformed input is dropped.
func (r *Relay) forward(ctx context.Context, raw []byte) error {
	env, ok := models.ParseEnvelope(raw)
	if !ok {
		return errDropped
	}
	var keyed struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(env.Data, &keyed); err != nil || keyed.Symbol == "" {
		return errDropped
	}
	return r.bus.Publish(ctx, models.MarketChannel(env.Kind, keyed.Symbol), raw)
}
