package orchestrator

import (
	"bot-orchestrator/internal/bus"
	"bot-orchestrator/internal/models"
	"bot-orchestrator/internal/risk"
	"bot-orchestrator/internal/schedule"
	"bot-orchestrator/internal/strategy"
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// onCommand parses an inbound command and hands it to the bot's actor. Malformed
// commands are dropped.
func (s *Service) onCommand(_ context.Context, channel string, payload []byte) {
	cmd, ok := models.ParseCommand(payload)
	if !ok {
		s.logger.Debug("丢弃无效命令", zap.String("channel", channel))
		return
	}
	s.post(cmd.BotID, func(ctx context.Context) { s.applyCommand(ctx, cmd) })
}

// onMarket updates market state, stamps prices on matching bots and queues their cycles.
func (s *Service) onMarket(ctx context.Context, channel string, payload []byte) {
	env, ok := models.ParseEnvelope(payload)
	if !ok {
		s.logger.Debug("丢弃无效行情", zap.String("channel", channel))
		return
	}

	var symbol string
	var price float64
	switch env.Kind {
	case models.KindPrice:
		ev, ok := models.DecodePrice(env)
		if !ok {
			return
		}
		m := s.markets.ApplyPrice(ev)
		symbol, price = m.Symbol, ev.Price
	case models.KindPerpsMarket:
		ev, ok := models.DecodePerpsMarket(env)
		if !ok {
			return
		}
		m := s.markets.ApplyPerps(ev)
		symbol, price = m.Symbol, m.ReferencePrice()
	default:
		return
	}
	now := s.now()
	s.lastMarketAt.Store(now.UnixNano())
	if price <= 0 {
		return
	}

	for _, st := range s.states.UpdatePriceForSymbol(symbol, price, now) {
		botID := st.BotID
		s.post(botID, func(ctx context.Context) { s.runCycle(ctx, botID, symbol) })
	}

	if s.cfg.SimulateFills && s.executors != nil {
		for _, sim := range s.executors.Simulators() {
			for _, fill := range sim.SimulateFills(symbol, price, now) {
				s.emit(ctx, fill)
			}
		}
	}
}

// applyCommand runs on the bot's actor.
func (s *Service) applyCommand(ctx context.Context, cmd models.Command) {
	now := s.now()
	prev := s.states.Get(cmd.BotID)

	state, ev := s.states.HandleCommand(cmd, now)
	cfg, hasConfig := s.states.Config(cmd.BotID)

	switch cmd.Action {
	case models.ActionUpdateConfig:
		if cmd.Payload != nil && cmd.Payload.Config != nil && s.repo != nil {
			if err := s.repo.SaveBotConfig(cfg); err != nil {
				s.logger.Warn("保存机器人配置失败", zap.String("bot", cmd.BotID), zap.Error(err))
			}
		}
	case models.ActionResume:
		state = s.states.UpdateRisk(cmd.BotID, risk.Resume(state.Risk))
	case models.ActionStop:
		s.strategies.Reset(cmd.BotID)
	}

	switch {
	case (cmd.Action == models.ActionStart || cmd.Action == models.ActionResume) && hasConfig && s.repo != nil:
		if prev.RunID != "" {
			s.endRun(prev.RunID, prev.Status)
		}
		runID, err := s.repo.StartBotRun(cmd.BotID, cfg, cfg.Version)
		if err != nil {
			s.logger.Warn("创建运行记录失败", zap.String("bot", cmd.BotID), zap.Error(err))
			break
		}
		state = s.states.SetRunID(cmd.BotID, runID, now)
	case cmd.Action == models.ActionStop && state.RunID != "":
		s.endRun(state.RunID, models.StatusStopped)
		state = s.states.SetRunID(cmd.BotID, "", now)
	}

	ev.RunID = state.RunID
	s.emit(ctx, ev)
	s.saveState(ctx, state)
	s.refreshSchedule(ctx, cmd.BotID)

	s.logger.Info("命令已处理",
		zap.String("bot", cmd.BotID),
		zap.String("action", string(cmd.Action)),
		zap.String("status", string(state.Status)),
		zap.String("run", state.RunID))
}

func (s *Service) endRun(runID string, status models.BotStatus) {
	if s.repo == nil {
		return
	}
	if err := s.repo.EndBotRun(runID, status); err != nil {
		s.logger.Warn("关闭运行记录失败", zap.String("run", runID), zap.Error(err))
	}
}

// refreshSchedule recomputes the bot's schedule flag and returns it.
func (s *Service) refreshSchedule(ctx context.Context, botID string) bool {
	cfg, ok := s.states.Config(botID)
	var sched *models.ScheduleConfig
	if ok {
		sched = cfg.Schedule
	}
	active := schedule.IsActive(sched, s.now())
	if s.states.Get(botID).ScheduleActive != active {
		state := s.states.UpdateScheduleActive(botID, active, s.now())
		s.saveState(ctx, state)
		s.logger.Info("交易时间窗口变化", zap.String("bot", botID), zap.Bool("active", active))
	}
	return active
}

// runCycle is one decision cycle for a bot on the symbol whose price event matched it.
// Every skip condition returns silently.
func (s *Service) runCycle(ctx context.Context, botID, symbol string) {
	state := s.states.Get(botID)
	if state.Status != models.StatusRunning {
		return
	}
	cfg, ok := s.states.Config(botID)
	if !ok {
		return
	}
	if !s.refreshSchedule(ctx, botID) {
		return
	}
	if symbol == "" {
		symbol = tradingSymbol(state, cfg)
	}
	market, ok := s.markets.Get(symbol)
	if !ok {
		return
	}
	strat, ok := s.strategies.Lookup(cfg.Strategy)
	if !ok {
		return
	}

	ex := s.executors.Resolve(cfg.Venue)
	open, err := ex.GetOpenOrders(ctx, botID, symbol)
	if err != nil {
		s.logger.Warn("获取挂单失败, 跳过本轮", zap.String("bot", botID), zap.String("symbol", symbol), zap.Error(err))
		return
	}

	now := s.now()
	state = s.states.Get(botID)
	intents := strat.Run(strategy.Context{Config: &cfg, State: state, Market: market, OpenOrders: open, Now: now})

	decision := risk.For(cfg.Kind, s.perps).Evaluate(state.Risk, intents, botID, market, now)
	state = s.states.UpdateRisk(botID, decision.State)
	s.saveState(ctx, state)

	if decision.Event != nil {
		s.emit(ctx, *decision.Event)
		return
	}
	// 价差暂停留下的 HardStop 一直有效到 resume 命令: 价差回落后的周期不会产生风控事件,
	// 但在操作员确认之前仍然不下单。
	if state.Risk.HardStop != nil {
		return
	}
	if !s.cfg.ExecutionEnabled || len(decision.Allowed) == 0 {
		return
	}
	for _, ev := range s.engine.Execute(ctx, botID, cfg.Venue, decision.Allowed) {
		s.emit(ctx, ev)
	}
}

// tradingSymbol is the symbol the bot last received a price on, else the configured one.
func tradingSymbol(state models.BotState, cfg models.BotConfig) string {
	if state.Symbol != "" {
		return state.Symbol
	}
	return models.ResolveSymbol(&cfg)
}

// emit publishes and persists one event. Failures are logged and skipped.
func (s *Service) emit(ctx context.Context, p models.Payload) {
	env, err := models.NewEnvelope(p, s.now())
	if err != nil {
		s.logger.Warn("事件编码失败", zap.String("kind", string(p.EventKind())), zap.Error(err))
		return
	}
	if err := bus.PublishEnvelope(ctx, s.bus, env); err != nil {
		s.logger.Warn("发布事件失败", zap.String("kind", string(env.Kind)), zap.String("key", env.Key), zap.Error(err))
	}
	if s.repo != nil {
		if err := s.repo.LogEvent(env); err != nil {
			s.logger.Warn("持久化事件失败", zap.String("kind", string(env.Kind)), zap.String("key", env.Key), zap.Error(err))
		}
	}
}

// saveState queues the snapshot for persistence and caches it for synchronous readers.
func (s *Service) saveState(ctx context.Context, state models.BotState) {
	s.states.Persist(state)
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	if err := s.bus.SetCache(ctx, models.CacheKey("bot_state", state.BotID), data); err != nil {
		s.logger.Debug("缓存机器人状态失败", zap.String("bot", state.BotID), zap.Error(err))
	}
}
