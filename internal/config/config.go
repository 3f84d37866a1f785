package config

import (
	"bot-orchestrator/internal/models"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig 从指定路径加载配置文件 (JSON 或 YAML) 并填充默认值
func LoadConfig(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := &models.Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse json config %s: %w", path, err)
		}
	}

	ApplyDefaults(config)
	return config, nil
}

// ApplyDefaults fills every zero-valued field that has a deployment default.
func ApplyDefaults(cfg *models.Config) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "bot-orchestrator"
	}
	if cfg.DefaultVenue == "" {
		cfg.DefaultVenue = "sim"
	}

	t := &cfg.Timers
	if t.HeartbeatSec <= 0 {
		t.HeartbeatSec = 15
	}
	if t.ScheduleRefreshSec <= 0 {
		t.ScheduleRefreshSec = 30
	}
	if t.ReconcileSec <= 0 {
		t.ReconcileSec = 60
	}
	if t.StatusReportSec <= 0 {
		t.StatusReportSec = 300
	}
	if t.MarketStaleSec <= 0 {
		t.MarketStaleSec = 60
	}

	// 风控参数逐项填充, 允许部署只覆盖其中一部分
	def := models.DefaultRiskConfig()
	r := &cfg.Risk
	if r.LiquidationBufferPct <= 0 {
		r.LiquidationBufferPct = def.LiquidationBufferPct
	}
	if r.MinHealthRatio <= 0 {
		r.MinHealthRatio = def.MinHealthRatio
	}
	if r.LeverageCap <= 0 {
		r.LeverageCap = def.LeverageCap
	}
	if r.MaxDailyLoss <= 0 {
		r.MaxDailyLoss = def.MaxDailyLoss
	}
	if r.MaxNotional <= 0 {
		r.MaxNotional = def.MaxNotional
	}
	if r.FundingGuardrailBps <= 0 {
		r.FundingGuardrailBps = def.FundingGuardrailBps
	}
	if r.MarkOracleDivergenceBps <= 0 {
		r.MarkOracleDivergenceBps = def.MarkOracleDivergenceBps
	}
	if r.ReduceOnlyTriggerBps <= 0 {
		r.ReduceOnlyTriggerBps = def.ReduceOnlyTriggerBps
	}

	if cfg.Binance.Venue == "" {
		cfg.Binance.Venue = "binance"
	}
	if cfg.Binance.RatePerSecond <= 0 {
		cfg.Binance.RatePerSecond = 5
	}

	if cfg.Feed.PingIntervalSec <= 0 {
		cfg.Feed.PingIntervalSec = 54
	}
	if cfg.Feed.PongTimeoutSec <= 0 {
		cfg.Feed.PongTimeoutSec = 60
	}
	if cfg.Feed.ReconnectDelaySec <= 0 {
		cfg.Feed.ReconnectDelaySec = 5
	}

	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.LogConfig.Output == "" {
		cfg.LogConfig.Output = "console"
	}

	for i := range cfg.Bots {
		cfg.Bots[i] = cfg.Bots[i].WithDefaults()
	}
}
