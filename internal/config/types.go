package config

import "strings"

// Config 是 ictbt 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app" yaml:"app"`
	Market   MarketConfig   `toml:"market" yaml:"market"`
	Storage  StorageConfig  `toml:"storage" yaml:"storage"`
	AI       AIConfig       `toml:"ai" yaml:"ai"`
	Backtest BacktestConfig `toml:"backtest" yaml:"backtest"`
	Sync     SyncConfig     `toml:"sync" yaml:"sync"`
	Notify   NotifyConfig   `toml:"notify" yaml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env" yaml:"env"`
	LogLevel string `toml:"log_level" yaml:"log_level"`
	HTTPAddr string `toml:"http_addr" yaml:"http_addr"`
	LogPath  string `toml:"log_path" yaml:"log_path"`
	LLMLog   string `toml:"llm_log_path" yaml:"llm_log_path"`
	LLMDump  bool   `toml:"llm_dump_payload" yaml:"llm_dump_payload"`
}

// MarketConfig 控制 K 线拉取：数据源地址、限速与分页。
type MarketConfig struct {
	DefaultExchange string `toml:"default_exchange" yaml:"default_exchange"`
	BinanceREST     string `toml:"binance_rest" yaml:"binance_rest"`
	MEXCREST        string `toml:"mexc_rest" yaml:"mexc_rest"`
	RateLimitPerMin int    `toml:"rate_limit_per_min" yaml:"rate_limit_per_min"`
	MaxBatch        int    `toml:"max_batch" yaml:"max_batch"`
	MaxConcurrent   int    `toml:"max_concurrent" yaml:"max_concurrent"`
	TimeoutSeconds  int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
}

type StorageConfig struct {
	CandleDir string `toml:"candle_dir" yaml:"candle_dir"`
	ResultsDB string `toml:"results_db" yaml:"results_db"`
}

// AIConfig 描述外部 LLM 评估器；Enabled=false 时只用规则决策。
type AIConfig struct {
	Enabled                bool   `toml:"enabled" yaml:"enabled"`
	Provider               string `toml:"provider" yaml:"provider"` // openai | anthropic
	Model                  string `toml:"model" yaml:"model"`
	APIURL                 string `toml:"api_url" yaml:"api_url"`
	APIKey                 string `toml:"api_key" yaml:"-"`
	TimeoutSeconds         int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries             int    `toml:"max_retries" yaml:"max_retries"`
	TwoStage               bool   `toml:"two_stage" yaml:"two_stage"`
	BreakerThreshold       int    `toml:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerCooldownSeconds int    `toml:"breaker_cooldown_seconds" yaml:"breaker_cooldown_seconds"`
}

// BacktestConfig 为引擎默认参数，profile 在此基础上覆盖。
type BacktestConfig struct {
	InitialCapital       float64           `toml:"initial_capital" yaml:"initial_capital"`
	MinConfluence        int               `toml:"min_confluence" yaml:"min_confluence"`
	Sizing               string            `toml:"sizing" yaml:"sizing"`
	ExitMode             string            `toml:"exit_mode" yaml:"exit_mode"`
	TradeSize            float64           `toml:"trade_size" yaml:"trade_size"`
	Leverage             float64           `toml:"leverage" yaml:"leverage"`
	RiskPercent          RiskPercentConfig `toml:"risk_percent" yaml:"risk_percent"`
	SlippageBps          float64           `toml:"slippage_bps" yaml:"slippage_bps"`
	DefaultStopPct       float64           `toml:"default_stop_pct" yaml:"default_stop_pct"`
	DefaultTargetPct     float64           `toml:"default_target_pct" yaml:"default_target_pct"`
	RewardMultiple       float64           `toml:"reward_multiple" yaml:"reward_multiple"`
	WarmupCandles        int               `toml:"warmup_candles" yaml:"warmup_candles"`
	ExecLookback         int               `toml:"exec_lookback" yaml:"exec_lookback"`
	StructureLookback    int               `toml:"structure_lookback" yaml:"structure_lookback"`
	MinStructureCandles  int               `toml:"min_structure_candles" yaml:"min_structure_candles"`
	SwingLookback        int               `toml:"swing_lookback" yaml:"swing_lookback"`
	ConfluenceKinds      []string          `toml:"confluence_kinds" yaml:"confluence_kinds"`
	RiskFreeRate         float64           `toml:"risk_free_rate" yaml:"risk_free_rate"`
	SignalTimeoutSeconds int               `toml:"signal_timeout_seconds" yaml:"signal_timeout_seconds"`
	DefaultTimeframe     string            `toml:"default_timeframe" yaml:"default_timeframe"`
	MaxConcurrent        int               `toml:"max_concurrent" yaml:"max_concurrent"`
	ProfilesPath         string            `toml:"profiles_path" yaml:"profiles_path"`
	DefaultProfile       string            `toml:"default_profile" yaml:"default_profile"`
}

type RiskPercentConfig struct {
	APlus float64 `toml:"a_plus" yaml:"a_plus"`
	A     float64 `toml:"a" yaml:"a"`
	B     float64 `toml:"b" yaml:"b"`
}

// SyncConfig 控制定时补齐本地 K 线缓存。
type SyncConfig struct {
	Enabled         bool     `toml:"enabled" yaml:"enabled"`
	Interval        string   `toml:"interval" yaml:"interval"`
	OffsetSeconds   int      `toml:"offset_seconds" yaml:"offset_seconds"`
	RunImmediately  bool     `toml:"run_immediately" yaml:"run_immediately"`
	Symbols         []string `toml:"symbols" yaml:"symbols"`
	Timeframes      []string `toml:"timeframes" yaml:"timeframes"`
	LookbackCandles int      `toml:"lookback_candles" yaml:"lookback_candles"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram" yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
	BotToken string `toml:"bot_token" yaml:"-"`
	ChatID   string `toml:"chat_id" yaml:"chat_id"`
	APIURL   string `toml:"api_url" yaml:"api_url,omitempty"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

// newKeySet 记录每个叶子键及其所有父路径，risk_percent 这类整段默认值据此判断。
func newKeySet(keys []string) keySet {
	k := make(keySet, len(keys))
	for _, key := range keys {
		parts := strings.Split(key, ".")
		for i := range parts {
			k.mark(strings.Join(parts[:i+1], "."))
		}
	}
	return k
}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
