package config

import (
	"fmt"
	"strings"
	"time"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.AI.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Sync.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (m *MarketConfig) validate() error {
	switch m.DefaultExchange {
	case "binance", "mexc":
	default:
		return fmt.Errorf("market.default_exchange only supports binance|mexc, got %q", m.DefaultExchange)
	}
	if strings.TrimSpace(m.BinanceREST) == "" && strings.TrimSpace(m.MEXCREST) == "" {
		return fmt.Errorf("market requires binance_rest or mexc_rest")
	}
	if m.MaxBatch <= 0 || m.MaxBatch > 1000 {
		return fmt.Errorf("market.max_batch must be in [1,1000]")
	}
	if m.RateLimitPerMin <= 0 {
		return fmt.Errorf("market.rate_limit_per_min must be > 0")
	}
	return nil
}

func (a *AIConfig) validate() error {
	if !a.Enabled {
		return nil
	}
	switch a.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("ai.provider only supports openai|anthropic, got %q", a.Provider)
	}
	if strings.TrimSpace(a.Model) == "" {
		return fmt.Errorf("ai.model cannot be empty when ai.enabled")
	}
	if strings.TrimSpace(a.APIURL) == "" {
		return fmt.Errorf("ai.api_url cannot be empty when ai.enabled")
	}
	if strings.TrimSpace(a.APIKey) == "" {
		return fmt.Errorf("ai.api_key missing (set ai.api_key or ICTBT_AI_API_KEY)")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	switch b.Sizing {
	case "fixed_notional", "risk_based":
	default:
		return fmt.Errorf("backtest.sizing only supports fixed_notional|risk_based, got %q", b.Sizing)
	}
	switch b.ExitMode {
	case "signal_flip", "stop_take_profit":
	default:
		return fmt.Errorf("backtest.exit_mode only supports signal_flip|stop_take_profit, got %q", b.ExitMode)
	}
	if b.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital must be > 0")
	}
	if b.DefaultStopPct <= 0 || b.DefaultStopPct >= 1 {
		return fmt.Errorf("backtest.default_stop_pct must be in (0,1)")
	}
	if b.SlippageBps < 0 || b.RewardMultiple < 0 {
		return fmt.Errorf("backtest.slippage_bps and reward_multiple must be >= 0")
	}
	if !IsValidInterval(b.DefaultTimeframe) {
		return fmt.Errorf("backtest.default_timeframe %q is invalid", b.DefaultTimeframe)
	}
	return nil
}

func (s *SyncConfig) validate() error {
	if !s.Enabled {
		return nil
	}
	if _, err := time.ParseDuration(s.Interval); err != nil {
		return fmt.Errorf("sync.interval %q is not a duration: %w", s.Interval, err)
	}
	if len(s.Symbols) == 0 {
		return fmt.Errorf("sync.symbols requires at least one symbol when sync.enabled")
	}
	for _, tf := range s.Timeframes {
		if !IsValidInterval(tf) {
			return fmt.Errorf("sync.timeframes contains invalid interval %q", tf)
		}
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

// IsValidInterval 简易校验：以数字开头，以 m/h/d/w 结尾
func IsValidInterval(s string) bool {
	if len(s) < 2 {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
