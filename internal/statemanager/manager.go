package statemanager

import (
	"bot-orchestrator/internal/models"
	"bot-orchestrator/internal/persistence"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StateManager owns every bot's configuration and runtime state. Each bot id has exactly
// one state, created lazily. Readers always receive copies.
type StateManager struct {
	mu      sync.RWMutex
	configs map[string]models.BotConfig
	states  map[string]*models.BotState

	source          string
	repo            persistence.Repository
	persistenceChan chan models.BotState
	stopChan        chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
	logger          *zap.Logger
}

// NewStateManager creates a new StateManager. repo may be nil, in which case Persist is a no-op.
func NewStateManager(source string, repo persistence.Repository, logger *zap.Logger) *StateManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateManager{
		configs:         make(map[string]models.BotConfig),
		states:          make(map[string]*models.BotState),
		source:          source,
		repo:            repo,
		persistenceChan: make(chan models.BotState, 128), // 待持久化的状态快照
		stopChan:        make(chan struct{}),
		logger:          logger,
	}
}

// Start begins the asynchronous persistence loop.
func (sm *StateManager) Start() {
	sm.wg.Add(1)
	go sm.persistenceLoop()
	sm.logger.Sugar().Info("StateManager started.")
}

// Stop shuts down the persistence loop after flushing queued snapshots.
func (sm *StateManager) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.stopChan)
		sm.wg.Wait()
		sm.logger.Sugar().Info("StateManager stopped.")
	})
}

// Persist queues a snapshot for saving. It never blocks; a full queue drops the snapshot
// since a newer one will follow.
func (sm *StateManager) Persist(state models.BotState) {
	if sm.repo == nil {
		return
	}
	select {
	case sm.persistenceChan <- state.Clone():
	default:
		sm.logger.Warn("snapshot queue full, dropping", zap.String("bot", state.BotID))
	}
}

// persistenceLoop handles the asynchronous saving of state snapshots.
func (sm *StateManager) persistenceLoop() {
	defer sm.wg.Done()
	save := func(s models.BotState) {
		if err := sm.repo.SaveBotSnapshot(s); err != nil {
			sm.logger.Sugar().Errorf("保存机器人状态快照失败 (bot=%s): %v", s.BotID, err)
		}
	}
	for {
		select {
		case s := <-sm.persistenceChan:
			save(s)
		case <-sm.stopChan:
			for {
				select {
				case s := <-sm.persistenceChan:
					save(s)
				default:
					return
				}
			}
		}
	}
}

// ensure returns the bot's state, creating it on first use. Caller holds the write lock.
func (sm *StateManager) ensure(botID string) *models.BotState {
	if s, ok := sm.states[botID]; ok {
		return s
	}
	s := &models.BotState{
		BotID:          botID,
		Status:         models.StatusStopped,
		Mode:           models.ModeStatic,
		ScheduleActive: true,
		Risk:           models.RiskState{Status: models.RiskOK, Breaches: []models.Breach{}},
	}
	if cfg, ok := sm.configs[botID]; ok {
		applyConfig(s, cfg)
	}
	sm.states[botID] = s
	return s
}

func applyConfig(s *models.BotState, cfg models.BotConfig) {
	if cfg.Mode != "" {
		s.Mode = cfg.Mode
	}
	s.Market = cfg.Market
	s.Venue = cfg.Venue
}

var commandTransitions = map[models.CommandAction]struct {
	status  models.BotStatus
	message string
}{
	models.ActionStart:  {models.StatusRunning, "bot started"},
	models.ActionStop:   {models.StatusStopped, "bot stopped"},
	models.ActionPause:  {models.StatusPaused, "bot paused"},
	models.ActionResume: {models.StatusRunning, "bot resumed"},
}

// HandleCommand applies a command and returns the updated state plus the bot event to publish.
func (sm *StateManager) HandleCommand(cmd models.Command, now time.Time) (models.BotState, models.BotEvent) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if cmd.Action == models.ActionUpdateConfig && cmd.Payload != nil && cmd.Payload.Config != nil {
		cfg := *cmd.Payload.Config
		if cfg.ID == "" {
			cfg.ID = cmd.BotID
		}
		sm.configs[cmd.BotID] = cfg.WithDefaults()
	}

	s := sm.ensure(cmd.BotID)
	switch t, ok := commandTransitions[cmd.Action]; {
	case ok:
		s.Status = t.status
		s.Message = t.message
	case cmd.Action == models.ActionUpdateConfig:
		s.Message = "config updated"
	default:
		s.Message = "unknown command"
	}
	s.LastEventAt = now
	if cfg, ok := sm.configs[cmd.BotID]; ok {
		applyConfig(s, cfg)
	}

	ev := models.BotEvent{
		EventMeta: models.NewMeta(sm.source, now),
		BotID:     s.BotID,
		Status:    s.Status,
		Message:   s.Message,
		RunID:     s.RunID,
	}
	return s.Clone(), ev
}

// UpdatePriceForSymbol stamps the price on every bot trading symbol and returns those bots.
func (sm *StateManager) UpdatePriceForSymbol(symbol string, price float64, ts time.Time) []models.BotState {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var updated []models.BotState
	for _, id := range sortedKeys(sm.configs) {
		cfg := sm.configs[id]
		if !models.MatchesSymbol(&cfg, symbol) {
			continue
		}
		s := sm.ensure(id)
		s.LastPrice = price
		s.LastPriceAt = ts
		s.Symbol = symbol
		updated = append(updated, s.Clone())
	}
	return updated
}

// SetConfig replaces a bot's configuration.
func (sm *StateManager) SetConfig(cfg models.BotConfig) {
	cfg = cfg.WithDefaults()
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.configs[cfg.ID] = cfg
	if s, ok := sm.states[cfg.ID]; ok {
		applyConfig(s, cfg)
	}
}

// Config returns a bot's configuration.
func (sm *StateManager) Config(botID string) (models.BotConfig, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	cfg, ok := sm.configs[botID]
	return cfg, ok
}

// Get returns a copy of the bot's state, creating it if needed.
func (sm *StateManager) Get(botID string) models.BotState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.ensure(botID).Clone()
}

// All returns every known bot state ordered by id.
func (sm *StateManager) All() []models.BotState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ids := make(map[string]struct{}, len(sm.states)+len(sm.configs))
	for id := range sm.states {
		ids[id] = struct{}{}
	}
	for id := range sm.configs {
		ids[id] = struct{}{}
	}
	out := make([]models.BotState, 0, len(ids))
	for _, id := range sortedKeys(ids) {
		out = append(out, sm.ensure(id).Clone())
	}
	return out
}

// Restore loads a persisted snapshot, keeping the one-state-per-bot invariant.
func (sm *StateManager) Restore(snapshot models.BotState) models.BotState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s := sm.ensure(snapshot.BotID)
	*s = snapshot.Clone()
	if s.Risk.Status == "" {
		s.Risk.Status = models.RiskOK
	}
	if s.Risk.Breaches == nil {
		s.Risk.Breaches = []models.Breach{}
	}
	if cfg, ok := sm.configs[s.BotID]; ok {
		applyConfig(s, cfg)
	}
	return s.Clone()
}

// SetStatus overrides the status, used when restoring bots at startup.
func (sm *StateManager) SetStatus(botID string, status models.BotStatus) models.BotState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s := sm.ensure(botID)
	s.Status = status
	return s.Clone()
}

// UpdateRisk stores the risk state computed by a governor. lastEventAt is left to the caller.
func (sm *StateManager) UpdateRisk(botID string, risk models.RiskState) models.BotState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s := sm.ensure(botID)
	s.Risk = risk.Clone()
	return s.Clone()
}

func (sm *StateManager) UpdateScheduleActive(botID string, active bool, now time.Time) models.BotState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s := sm.ensure(botID)
	s.ScheduleActive = active
	s.LastEventAt = now
	return s.Clone()
}

func (sm *StateManager) SetRunID(botID, runID string, now time.Time) models.BotState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s := sm.ensure(botID)
	s.RunID = runID
	s.LastEventAt = now
	return s.Clone()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
