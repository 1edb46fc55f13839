package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
app:
  log_level: debug
backtest:
  min_confluence: 1
  sizing: RISK_BASED
  warmup_candles: 0
  confluence_kinds: [FVG, fvg, mss]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)
	assert.Equal(t, "binance", cfg.Market.DefaultExchange)
	assert.Equal(t, 1000, cfg.Market.MaxBatch)
	assert.Equal(t, "data/candles", cfg.Storage.CandleDir)
	assert.Equal(t, 5, cfg.AI.BreakerThreshold)
	assert.Equal(t, 60, cfg.AI.BreakerCooldownSeconds)

	b := cfg.Backtest
	assert.Equal(t, 1, b.MinConfluence)
	assert.Equal(t, "risk_based", b.Sizing)
	assert.Equal(t, "signal_flip", b.ExitMode)
	// 显式写 0 的字段不再套默认值
	assert.Equal(t, 0, b.WarmupCandles)
	assert.Equal(t, 100, b.StructureLookback)
	assert.Equal(t, []string{"fvg", "mss"}, b.ConfluenceKinds)
	assert.Equal(t, defaultRiskPercent, b.RiskPercent)
	assert.Equal(t, "15m", b.DefaultTimeframe)

	assert.Equal(t, []string{"15m", "1h", "1d"}, cfg.Sync.Timeframes)
	assert.True(t, cfg.Sync.RunImmediately)
}

func TestLoadIncludesAndEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
market:
  default_exchange: MEXC
  max_batch: 500
ai:
  enabled: true
  provider: anthropic
  model: claude-test
  api_url: http://localhost:1
`)
	path := writeFile(t, dir, "config.yaml", `
include: [base.yaml]
market:
  max_batch: 200
notify:
  telegram:
    enabled: true
    chat_id: "-100"
sync:
  enabled: true
  interval: 30m
  symbols: [btcusdt, BTCUSDT, ethusdt]
`)
	t.Setenv(EnvAIAPIKey, "sk-test")
	t.Setenv(EnvTelegramToken, "bot-token")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mexc", cfg.Market.DefaultExchange)
	assert.Equal(t, 200, cfg.Market.MaxBatch)
	assert.Equal(t, "sk-test", cfg.AI.APIKey)
	assert.Equal(t, "bot-token", cfg.Notify.Telegram.BotToken)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Sync.Symbols)

	var buf bytes.Buffer
	require.NoError(t, cfg.Dump(&buf))
	assert.Contains(t, buf.String(), "default_exchange: mexc")
	assert.NotContains(t, buf.String(), "sk-test")
	assert.NotContains(t, buf.String(), "bot-token")
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"exchange":  "market:\n  default_exchange: kraken\n",
		"sizing":    "backtest:\n  sizing: martingale\n",
		"ai key":    "ai:\n  enabled: true\n  model: m\n  api_url: http://x\n",
		"sync":      "sync:\n  enabled: true\n  interval: 15m\n",
		"telegram":  "notify:\n  telegram:\n    enabled: true\n",
		"timeframe": "backtest:\n  default_timeframe: hourly\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(EnvAIAPIKey, "")
			t.Setenv(EnvTelegramToken, "")
			t.Setenv(EnvTelegramChatID, "")
			path := writeFile(t, t.TempDir(), "config.yaml", body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	path := writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "include cycle")
}

func TestIsValidInterval(t *testing.T) {
	assert.True(t, IsValidInterval("15m"))
	assert.True(t, IsValidInterval("1d"))
	assert.False(t, IsValidInterval("m"))
	assert.False(t, IsValidInterval("1y"))
	assert.False(t, IsValidInterval("a1h"))
}

func TestNewKeySetMarksParents(t *testing.T) {
	keys := newKeySet([]string{"backtest.risk_percent.a_plus", "App.Env"})
	assert.True(t, keys.isSet("backtest"))
	assert.True(t, keys.isSet("backtest.risk_percent"))
	assert.True(t, keys.isSet("backtest.risk_percent.a_plus"))
	assert.True(t, keys.isSet("app.env"))
	assert.False(t, keys.isSet("backtest.risk_percent.a"))
}

func TestLoadIncludeSingleString(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "app:\n  http_addr: \":7000\"\n")
	path := writeFile(t, dir, "config.yaml", "include: base.yaml\napp:\n  env: prod\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.App.HTTPAddr)
	assert.Equal(t, "prod", cfg.App.Env)
}
