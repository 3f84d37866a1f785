package models

import "strings"

// ExecutionMode 定义了网格中点是固定还是随行情重算
type ExecutionMode string

const (
	ModeStatic  ExecutionMode = "static"
	ModeDynamic ExecutionMode = "dynamic"
)

// BotKind distinguishes spot bots from leveraged perpetual bots.
type BotKind string

const (
	KindSpot  BotKind = "spot"
	KindPerps BotKind = "perps"
)

// Bias weights how many curve-grid levels go to each side.
type Bias string

const (
	BiasBullish Bias = "bullish"
	BiasNeutral Bias = "neutral"
	BiasBearish Bias = "bearish"
)

// BotConfig is replaced wholesale on every update.
type BotConfig struct {
	ID          string             `json:"id" yaml:"id"`
	Name        string             `json:"name" yaml:"name"`
	Strategy    string             `json:"strategy" yaml:"strategy"` // 策略注册表中的 key
	Venue       string             `json:"venue" yaml:"venue"`
	Market      string             `json:"market" yaml:"market"`
	Mode        ExecutionMode      `json:"mode" yaml:"mode"`
	Kind        BotKind            `json:"kind" yaml:"kind"`
	Version     string             `json:"version,omitempty" yaml:"version,omitempty"` // 策略版本, 写入运行记录
	Grid        *GridConfig        `json:"grid,omitempty" yaml:"grid,omitempty"`
	MarketMaker *MarketMakerConfig `json:"market_maker,omitempty" yaml:"market_maker,omitempty"`
	Perps       *PerpsConfig       `json:"perps,omitempty" yaml:"perps,omitempty"`
	Schedule    *ScheduleConfig    `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

// GridConfig 定义了现货网格参数
type GridConfig struct {
	Symbol         string   `json:"symbol" yaml:"symbol"`
	LowerPrice     float64  `json:"lower_price" yaml:"lower_price"`
	UpperPrice     float64  `json:"upper_price" yaml:"upper_price"`
	Levels         int      `json:"levels" yaml:"levels"`
	OrderSize      float64  `json:"order_size" yaml:"order_size"`
	MaxQuoteBudget *float64 `json:"max_quote_budget,omitempty" yaml:"max_quote_budget,omitempty"` // 买单名义价值上限
	MaxBaseBudget  *float64 `json:"max_base_budget,omitempty" yaml:"max_base_budget,omitempty"`   // 卖单数量上限
}

// MarketMakerConfig 定义了慢速做市参数
type MarketMakerConfig struct {
	Symbol          string  `json:"symbol" yaml:"symbol"`
	Levels          int     `json:"levels" yaml:"levels"`
	OrderSize       float64 `json:"order_size" yaml:"order_size"`
	HalfSpreadBps   float64 `json:"half_spread_bps" yaml:"half_spread_bps"`
	LevelSpacingBps float64 `json:"level_spacing_bps" yaml:"level_spacing_bps"`
	RefreshSeconds  int     `json:"refresh_seconds" yaml:"refresh_seconds"`
	RepriceBps      float64 `json:"reprice_bps" yaml:"reprice_bps"`
}

// PerpsConfig holds either a simple grid or a curve grid, plus optional exposure targets.
type PerpsConfig struct {
	Grid           *PerpsGridConfig `json:"grid,omitempty" yaml:"grid,omitempty"`
	CurveGrid      *CurveGridConfig `json:"curve_grid,omitempty" yaml:"curve_grid,omitempty"`
	TargetExposure *float64         `json:"target_exposure,omitempty" yaml:"target_exposure,omitempty"`
	ExposureBand   *float64         `json:"exposure_band,omitempty" yaml:"exposure_band,omitempty"`
}

// PerpsGridConfig 定义了合约简单网格参数
type PerpsGridConfig struct {
	Symbol     string  `json:"symbol" yaml:"symbol"`
	LowerPrice float64 `json:"lower_price" yaml:"lower_price"`
	UpperPrice float64 `json:"upper_price" yaml:"upper_price"`
	Levels     int     `json:"levels" yaml:"levels"`
	OrderSize  float64 `json:"order_size" yaml:"order_size"`
}

// CurveGridConfig 定义了合约曲线网格参数
type CurveGridConfig struct {
	Symbol      string  `json:"symbol" yaml:"symbol"`
	Levels      int     `json:"levels" yaml:"levels"`
	StepPercent float64 `json:"step_percent" yaml:"step_percent"`
	OrderSize   float64 `json:"order_size" yaml:"order_size"`
	Bias        Bias    `json:"bias" yaml:"bias"`
}

// ScheduleConfig restricts trading to local time-of-day windows.
type ScheduleConfig struct {
	Timezone string           `json:"timezone" yaml:"timezone"`
	Windows  []ScheduleWindow `json:"windows" yaml:"windows"`
}

// ScheduleWindow uses HH:MM strings; start > end wraps midnight.
type ScheduleWindow struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// WithDefaults fills the id, mode and kind of a bot config. A config carrying a perps
// section is always a perps bot, so it runs under the perpetual guardrails.
func (c BotConfig) WithDefaults() BotConfig {
	if c.ID == "" {
		c.ID = c.Name
	}
	if c.Mode == "" {
		c.Mode = ModeStatic
	}
	switch {
	case c.Perps != nil:
		c.Kind = KindPerps
	case c.Kind == "":
		c.Kind = KindSpot
	}
	return c
}

// SymbolExtractor pulls the trading symbol out of one part of a bot config.
type SymbolExtractor func(cfg *BotConfig) string

// SymbolExtractors are tried in order; the first non-empty result wins.
var SymbolExtractors = []SymbolExtractor{
	func(cfg *BotConfig) string {
		if cfg.Grid != nil {
			return cfg.Grid.Symbol
		}
		return ""
	},
	func(cfg *BotConfig) string {
		if cfg.Perps != nil && cfg.Perps.Grid != nil {
			return cfg.Perps.Grid.Symbol
		}
		return ""
	},
	func(cfg *BotConfig) string {
		if cfg.Perps != nil && cfg.Perps.CurveGrid != nil {
			return cfg.Perps.CurveGrid.Symbol
		}
		return ""
	},
	func(cfg *BotConfig) string {
		if cfg.MarketMaker != nil {
			return cfg.MarketMaker.Symbol
		}
		return ""
	},
}

// ResolveSymbol returns the symbol a bot trades. Without an explicit symbol the market
// string is cut at its first separator, so "SOL-PERP" resolves to "SOL".
func ResolveSymbol(cfg *BotConfig) string {
	if cfg == nil {
		return ""
	}
	for _, extract := range SymbolExtractors {
		if s := extract(cfg); s != "" {
			return s
		}
	}
	if i := strings.IndexAny(cfg.Market, "-/_:"); i > 0 {
		return cfg.Market[:i]
	}
	return cfg.Market
}

// MatchesSymbol reports whether price updates for symbol concern this bot.
func MatchesSymbol(cfg *BotConfig, symbol string) bool {
	if cfg == nil || symbol == "" {
		return false
	}
	for _, extract := range SymbolExtractors {
		if s := extract(cfg); s != "" {
			return s == symbol
		}
	}
	return strings.HasPrefix(cfg.Market, symbol)
}
