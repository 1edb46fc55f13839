package config

import "strings"

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9991"
	defaultMarketExchange    = "binance"
	defaultBinanceREST       = "https://api.binance.com"
	defaultMEXCREST          = "https://api.mexc.com"
	defaultRateLimitPerMin   = 600
	defaultMaxBatch          = 1000
	defaultMarketConcurrent  = 2
	defaultMarketTimeout     = 15
	defaultCandleDir         = "data/candles"
	defaultResultsDB         = "data/backtest_results.db"
	defaultAIProvider        = "openai"
	defaultAITimeout         = 30
	defaultAIRetries         = 3
	defaultAIBreaker         = 5
	defaultAIBreakerCooldown = 60
	defaultInitialCapital    = 10000
	defaultMinConfluence     = 2
	defaultSizing            = "fixed_notional"
	defaultExitMode          = "signal_flip"
	defaultTradeSize         = 100
	defaultLeverage          = 1
	defaultStopPct           = 0.02
	defaultTargetPct         = 0.05
	defaultWarmupCandles     = 100
	defaultExecLookback      = 100
	defaultStructureLookback = 100
	defaultMinStructure      = 20
	defaultSwingLookback     = 20
	defaultRiskFreeRate      = 0.02
	defaultSignalTimeout     = 30
	defaultTimeframe         = "15m"
	defaultBacktestWorkers   = 2
	defaultProfilesPath      = "configs/profiles.yaml"
	defaultSyncInterval      = "15m"
	defaultSyncOffset        = 10
	defaultSyncLookback      = 500
)

var (
	defaultRiskPercent     = RiskPercentConfig{APlus: 0.03, A: 0.02, B: 0.005}
	defaultSyncTimeframes  = []string{"15m", "1h", "1d"}
	defaultConfluenceKinds = []string{"order_block", "fvg", "mss", "zone", "breaker"}
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Storage.applyDefaults(keys)
	c.AI.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Sync.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.default_exchange", &m.DefaultExchange, defaultMarketExchange),
		stringFieldDefault("market.binance_rest", &m.BinanceREST, defaultBinanceREST),
		stringFieldDefault("market.mexc_rest", &m.MEXCREST, defaultMEXCREST),
		intFieldDefault("market.rate_limit_per_min", &m.RateLimitPerMin, defaultRateLimitPerMin),
		intFieldDefault("market.max_batch", &m.MaxBatch, defaultMaxBatch),
		intFieldDefault("market.max_concurrent", &m.MaxConcurrent, defaultMarketConcurrent),
		intFieldDefault("market.timeout_seconds", &m.TimeoutSeconds, defaultMarketTimeout),
	)
	m.DefaultExchange = strings.ToLower(strings.TrimSpace(m.DefaultExchange))
}

func (s *StorageConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("storage.candle_dir", &s.CandleDir, defaultCandleDir),
		stringFieldDefault("storage.results_db", &s.ResultsDB, defaultResultsDB),
	)
}

func (a *AIConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("ai.provider", &a.Provider, defaultAIProvider),
		intFieldDefault("ai.timeout_seconds", &a.TimeoutSeconds, defaultAITimeout),
		intFieldDefault("ai.max_retries", &a.MaxRetries, defaultAIRetries),
		intFieldDefault("ai.breaker_threshold", &a.BreakerThreshold, defaultAIBreaker),
		intFieldDefault("ai.breaker_cooldown_seconds", &a.BreakerCooldownSeconds, defaultAIBreakerCooldown),
	)
	a.Provider = strings.ToLower(strings.TrimSpace(a.Provider))
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("backtest.initial_capital", &b.InitialCapital, defaultInitialCapital),
		intFieldDefault("backtest.min_confluence", &b.MinConfluence, defaultMinConfluence),
		stringFieldDefault("backtest.sizing", &b.Sizing, defaultSizing),
		stringFieldDefault("backtest.exit_mode", &b.ExitMode, defaultExitMode),
		floatFieldDefault("backtest.trade_size", &b.TradeSize, defaultTradeSize),
		floatFieldDefault("backtest.leverage", &b.Leverage, defaultLeverage),
		floatFieldDefault("backtest.default_stop_pct", &b.DefaultStopPct, defaultStopPct),
		floatFieldDefault("backtest.default_target_pct", &b.DefaultTargetPct, defaultTargetPct),
		intFieldDefault("backtest.warmup_candles", &b.WarmupCandles, defaultWarmupCandles),
		intFieldDefault("backtest.exec_lookback", &b.ExecLookback, defaultExecLookback),
		intFieldDefault("backtest.structure_lookback", &b.StructureLookback, defaultStructureLookback),
		intFieldDefault("backtest.min_structure_candles", &b.MinStructureCandles, defaultMinStructure),
		intFieldDefault("backtest.swing_lookback", &b.SwingLookback, defaultSwingLookback),
		floatFieldDefault("backtest.risk_free_rate", &b.RiskFreeRate, defaultRiskFreeRate),
		intFieldDefault("backtest.signal_timeout_seconds", &b.SignalTimeoutSeconds, defaultSignalTimeout),
		stringFieldDefault("backtest.default_timeframe", &b.DefaultTimeframe, defaultTimeframe),
		intFieldDefault("backtest.max_concurrent", &b.MaxConcurrent, defaultBacktestWorkers),
		stringFieldDefault("backtest.profiles_path", &b.ProfilesPath, defaultProfilesPath),
		fieldDefault{
			key:   "backtest.risk_percent",
			need:  func() bool { return b.RiskPercent == (RiskPercentConfig{}) },
			apply: func() { b.RiskPercent = defaultRiskPercent },
		},
		fieldDefault{
			key:   "backtest.confluence_kinds",
			need:  func() bool { return len(b.ConfluenceKinds) == 0 },
			apply: func() { b.ConfluenceKinds = append([]string(nil), defaultConfluenceKinds...) },
		},
	)
	b.Sizing = strings.ToLower(strings.TrimSpace(b.Sizing))
	b.ExitMode = strings.ToLower(strings.TrimSpace(b.ExitMode))
	b.ConfluenceKinds = normalizeList(b.ConfluenceKinds, strings.ToLower)
}

func (s *SyncConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("sync.interval", &s.Interval, defaultSyncInterval),
		intFieldDefault("sync.offset_seconds", &s.OffsetSeconds, defaultSyncOffset),
		intFieldDefault("sync.lookback_candles", &s.LookbackCandles, defaultSyncLookback),
		boolFieldDefault("sync.run_immediately", &s.RunImmediately, true),
		fieldDefault{
			key:   "sync.timeframes",
			need:  func() bool { return len(s.Timeframes) == 0 },
			apply: func() { s.Timeframes = append([]string(nil), defaultSyncTimeframes...) },
		},
	)
	s.Symbols = normalizeList(s.Symbols, strings.ToUpper)
	s.Timeframes = normalizeList(s.Timeframes, strings.ToLower)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

// normalizeList 去空白、去重并统一大小写，保持原有顺序。
func normalizeList(in []string, fold func(string) string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, item := range in {
		item = fold(strings.TrimSpace(item))
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
