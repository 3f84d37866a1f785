package orchestrator

import (
	"bot-orchestrator/internal/models"
	"bot-orchestrator/internal/reporter"
	"bot-orchestrator/internal/schedule"
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

const reconcileWorkers = 8

// armTimers 启动所有周期任务, 间隔为 0 的任务不启动。
func (s *Service) armTimers() {
	s.repeat(s.every.heartbeat, s.heartbeat)
	s.repeat(s.every.scheduleRefresh, s.refreshSchedules)
	s.repeat(s.every.reconcile, s.reconcile)
	s.repeat(s.every.statusReport, s.reportStatus)
}

func (s *Service) repeat(d time.Duration, tick func(context.Context)) {
	if d <= 0 {
		return
	}
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick(ctx)
			}
		}
	}()
}

// health reports degraded when no market event arrived within the stale window.
func (s *Service) health(now time.Time) (models.HealthStatus, string) {
	last := s.startedAt
	if n := s.lastMarketAt.Load(); n > 0 {
		last = time.Unix(0, n)
	}
	age := now.Sub(last)
	if s.every.marketStale > 0 && age > s.every.marketStale {
		return models.HealthDegraded, fmt.Sprintf("no market data for %s", age.Truncate(time.Second))
	}
	return models.HealthOK, ""
}

func (s *Service) heartbeat(ctx context.Context) {
	now := s.now()
	status, msg := s.health(now)
	s.emit(ctx, models.HealthEvent{
		EventMeta: models.NewMeta(s.cfg.ServiceName, now),
		Service:   s.cfg.ServiceName,
		Status:    status,
		Message:   msg,
	})
}

// refreshSchedules queues a schedule check on every bot's actor.
func (s *Service) refreshSchedules(context.Context) {
	for _, st := range s.states.All() {
		botID := st.BotID
		s.post(botID, func(ctx context.Context) { s.refreshSchedule(ctx, botID) })
	}
}

// reconcile asks each running, in-window bot's venue to reconcile its open orders.
func (s *Service) reconcile(ctx context.Context) {
	now := s.now()
	p := pool.New().WithMaxGoroutines(reconcileWorkers).WithContext(ctx)
	for _, st := range s.states.All() {
		if st.Status != models.StatusRunning {
			continue
		}
		cfg, ok := s.states.Config(st.BotID)
		if !ok || !schedule.IsActive(cfg.Schedule, now) {
			continue
		}
		botID, venue, symbol := st.BotID, cfg.Venue, tradingSymbol(st, cfg)
		p.Go(func(ctx context.Context) error {
			res, err := s.executors.Resolve(venue).Reconcile(ctx, botID, symbol)
			if err != nil {
				return fmt.Errorf("reconcile %s on %s: %w", botID, venue, err)
			}
			if !res.OK {
				s.logger.Warn("对账失败", zap.String("bot", botID), zap.String("venue", venue), zap.String("error", res.Error))
				return nil
			}
			s.logger.Debug("对账完成", zap.String("bot", botID), zap.String("message", res.Message))
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		s.logger.Warn("对账出错", zap.Error(err))
	}
}

func (s *Service) reportStatus(context.Context) {
	s.logger.Info("机器人状态\n" + reporter.RenderBots(s.states.All()))
}
