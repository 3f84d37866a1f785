package models

// Config 结构体定义了编排服务的所有配置参数
type Config struct {
	ServiceName      string        `json:"service_name" yaml:"service_name"`           // 服务标识, 用于健康事件
	DBPath           string        `json:"db_path" yaml:"db_path"`                     // Badger 数据目录, 为空时使用内存模式
	ExecutionEnabled bool          `json:"execution_enabled" yaml:"execution_enabled"` // 全局执行开关
	SimulateFills    bool          `json:"simulate_fills" yaml:"simulate_fills"`       // 模拟成交模式
	DefaultVenue     string        `json:"default_venue" yaml:"default_venue"`         // 未匹配 venue 时使用的执行器
	Timers           TimerConfig   `json:"timers" yaml:"timers"`
	Risk             RiskConfig    `json:"risk" yaml:"risk"`
	Binance          BinanceConfig `json:"binance" yaml:"binance"`
	Feed             FeedConfig    `json:"feed" yaml:"feed"`
	LogConfig        LogConfig     `json:"log" yaml:"log"`
	Bots             []BotConfig   `json:"bots" yaml:"bots"` // 启动时加载的机器人配置
}

// TimerConfig 定义了周期任务的间隔 (秒)
type TimerConfig struct {
	HeartbeatSec       int `json:"heartbeat_sec" yaml:"heartbeat_sec"`
	ScheduleRefreshSec int `json:"schedule_refresh_sec" yaml:"schedule_refresh_sec"`
	ReconcileSec       int `json:"reconcile_sec" yaml:"reconcile_sec"`
	StatusReportSec    int `json:"status_report_sec" yaml:"status_report_sec"`
	MarketStaleSec     int `json:"market_stale_sec" yaml:"market_stale_sec"` // 超过该时间无行情事件则健康状态为 degraded
}

// RiskConfig holds the perpetual guardrail limits.
type RiskConfig struct {
	LiquidationBufferPct    float64 `json:"liquidation_buffer_pct" yaml:"liquidation_buffer_pct"`
	MinHealthRatio          float64 `json:"min_health_ratio" yaml:"min_health_ratio"`
	LeverageCap             float64 `json:"leverage_cap" yaml:"leverage_cap"`
	MaxDailyLoss            float64 `json:"max_daily_loss" yaml:"max_daily_loss"`
	MaxNotional             float64 `json:"max_notional" yaml:"max_notional"`
	FundingGuardrailBps     float64 `json:"funding_guardrail_bps" yaml:"funding_guardrail_bps"`
	MarkOracleDivergenceBps float64 `json:"mark_oracle_divergence_bps" yaml:"mark_oracle_divergence_bps"`
	ReduceOnlyTriggerBps    float64 `json:"reduce_only_trigger_bps" yaml:"reduce_only_trigger_bps"`
}

// DefaultRiskConfig returns the deployment defaults for the perpetual guardrails.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		LiquidationBufferPct:    5,
		MinHealthRatio:          1.2,
		LeverageCap:             3,
		MaxDailyLoss:            150,
		MaxNotional:             2000,
		FundingGuardrailBps:     50,
		MarkOracleDivergenceBps: 50,
		ReduceOnlyTriggerBps:    200,
	}
}

// BinanceConfig 定义了币安合约执行器的连接参数
type BinanceConfig struct {
	IsTestnet     bool    `json:"is_testnet" yaml:"is_testnet"`
	Venue         string  `json:"venue" yaml:"venue"` // 路由到该执行器的 venue 名称
	RatePerSecond float64 `json:"rate_per_second" yaml:"rate_per_second"`
	RecvWindowMs  int64   `json:"recv_window_ms" yaml:"recv_window_ms"`
	SymbolSuffix  string  `json:"symbol_suffix" yaml:"symbol_suffix"` // 例如 "USDT", SOL -> SOLUSDT
}

// FeedConfig 定义了行情转发 WebSocket 的参数
type FeedConfig struct {
	URL               string `json:"url" yaml:"url"`
	PingIntervalSec   int    `json:"ping_interval_sec" yaml:"ping_interval_sec"`
	PongTimeoutSec    int    `json:"pong_timeout_sec" yaml:"pong_timeout_sec"`
	ReconnectDelaySec int    `json:"reconnect_delay_sec" yaml:"reconnect_delay_sec"`
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`             // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output" yaml:"output"`           // 输出模式: "console", "file", "both"
	File       string `json:"file" yaml:"file"`               // 日志文件路径
	MaxSize    int    `json:"max_size" yaml:"max_size"`       // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups" yaml:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age" yaml:"max_age"`         // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress" yaml:"compress"`       // 是否压缩旧日志文件
}
