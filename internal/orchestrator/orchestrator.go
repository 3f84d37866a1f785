// Package orchestrator wires commands, market data, strategies, risk and execution into
// the running service.
package orchestrator

import (
	"bot-orchestrator/internal/bus"
	"bot-orchestrator/internal/exchange"
	"bot-orchestrator/internal/execution"
	"bot-orchestrator/internal/marketstate"
	"bot-orchestrator/internal/models"
	"bot-orchestrator/internal/persistence"
	"bot-orchestrator/internal/risk"
	"bot-orchestrator/internal/statemanager"
	"bot-orchestrator/internal/strategy"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Lifecycle is the service state machine: stopped -> starting -> running -> stopping -> stopped.
type Lifecycle string

const (
	LifecycleStopped  Lifecycle = "stopped"
	LifecycleStarting Lifecycle = "starting"
	LifecycleRunning  Lifecycle = "running"
	LifecycleStopping Lifecycle = "stopping"
)

var ErrNotStopped = errors.New("orchestrator is not stopped")

// Deps are the collaborators the service consumes. The service closes them on Stop.
type Deps struct {
	Config    *models.Config
	Bus       bus.Bus
	Repo      persistence.Repository
	Executors *exchange.Registry
	Logger    *zap.Logger
}

type intervals struct {
	heartbeat, scheduleRefresh, reconcile, statusReport, marketStale time.Duration
}

// Service 是编排服务: 订阅命令和行情, 驱动每个机器人的决策循环, 并运行周期任务。
type Service struct {
	cfg        *models.Config
	bus        bus.Bus
	repo       persistence.Repository
	executors  *exchange.Registry
	engine     *execution.Engine
	states     *statemanager.StateManager
	markets    *marketstate.Store
	strategies *strategy.Registry
	perps      risk.Governor
	logger     *zap.Logger
	now        func() time.Time
	every      intervals

	mu        sync.Mutex
	lifecycle Lifecycle
	ctx       context.Context
	cancel    context.CancelFunc
	unsubs    []func()
	actors    map[string]*botActor
	wg        sync.WaitGroup

	startedAt    time.Time
	lastMarketAt atomic.Int64 // unix nano of the last processed market event
}

// New builds a service from its collaborators.
func New(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := d.Config
	return &Service{
		cfg:        cfg,
		bus:        d.Bus,
		repo:       d.Repo,
		executors:  d.Executors,
		engine:     execution.NewEngine(d.Executors, cfg.ServiceName, logger.Named("execution")),
		states:     statemanager.NewStateManager(cfg.ServiceName, d.Repo, logger.Named("state")),
		markets:    marketstate.NewStore(),
		strategies: strategy.NewRegistry(),
		perps:      risk.NewPerpsGovernor(cfg.Risk, cfg.ServiceName),
		logger:     logger,
		now:        time.Now,
		every: intervals{
			heartbeat:       secs(cfg.Timers.HeartbeatSec),
			scheduleRefresh: secs(cfg.Timers.ScheduleRefreshSec),
			reconcile:       secs(cfg.Timers.ReconcileSec),
			statusReport:    secs(cfg.Timers.StatusReportSec),
			marketStale:     secs(cfg.Timers.MarketStaleSec),
		},
		lifecycle: LifecycleStopped,
		actors:    make(map[string]*botActor),
	}
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// Lifecycle reports the current service state.
func (s *Service) Lifecycle() Lifecycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle
}

// Bots returns a copy of every bot's state.
func (s *Service) Bots() []models.BotState {
	return s.states.All()
}

// Start loads bots, subscribes to the command and market streams and arms the timers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.lifecycle != LifecycleStopped {
		s.mu.Unlock()
		return ErrNotStopped
	}
	s.lifecycle = LifecycleStarting
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.startedAt = s.now()
	s.mu.Unlock()

	s.states.Start()
	s.bootstrap()

	for pattern, handler := range map[string]bus.Handler{
		models.CommandPattern: s.onCommand,
		models.MarketPattern:  s.onMarket,
	} {
		unsub, err := s.bus.Subscribe(pattern, handler)
		if err != nil {
			s.mu.Lock()
			s.lifecycle = LifecycleStopping
			s.mu.Unlock()
			_ = s.teardown()
			return fmt.Errorf("subscribe %s: %w", pattern, err)
		}
		s.mu.Lock()
		s.unsubs = append(s.unsubs, unsub)
		s.mu.Unlock()
	}

	s.armTimers()

	s.mu.Lock()
	s.lifecycle = LifecycleRunning
	s.mu.Unlock()
	s.logger.Info("orchestrator started", zap.String("service", s.cfg.ServiceName), zap.Int("bots", len(s.states.All())))
	return nil
}

// Stop clears the timers, drops pending bot work and closes the collaborators.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.lifecycle != LifecycleRunning {
		s.mu.Unlock()
		return nil
	}
	s.lifecycle = LifecycleStopping
	s.mu.Unlock()

	err := s.teardown()
	s.logger.Info("orchestrator stopped")
	return err
}

func (s *Service) teardown() error {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, u := range unsubs {
		u()
	}

	s.cancel()
	s.wg.Wait()
	s.states.Stop()

	var errs []error
	if s.bus != nil {
		errs = append(errs, s.bus.Close())
	}
	if s.executors != nil {
		errs = append(errs, s.executors.Close())
	}
	if s.repo != nil {
		errs = append(errs, s.repo.Close())
	}

	s.mu.Lock()
	s.lifecycle = LifecycleStopped
	s.actors = make(map[string]*botActor)
	s.mu.Unlock()
	return errors.Join(errs...)
}

// bootstrap restores stored bots, then applies and persists the bots from config.
func (s *Service) bootstrap() {
	if s.repo != nil {
		records, err := s.repo.ListBots()
		if err != nil {
			s.logger.Warn("加载已保存的机器人失败", zap.Error(err))
		}
		for _, rec := range records {
			s.states.SetConfig(rec.Config)
			snapshot, err := s.repo.LoadBotSnapshot(rec.ID)
			if err != nil {
				s.logger.Warn("加载机器人快照失败", zap.String("bot", rec.ID), zap.Error(err))
			}
			if snapshot != nil {
				s.states.Restore(*snapshot)
			} else {
				s.states.SetStatus(rec.ID, rec.Status)
			}
		}
	}

	for _, cfg := range s.cfg.Bots {
		s.states.SetConfig(cfg)
		if s.repo == nil {
			continue
		}
		if err := s.repo.SaveBotConfig(cfg); err != nil {
			s.logger.Warn("保存机器人配置失败", zap.String("bot", cfg.ID), zap.Error(err))
		}
	}
}
