package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ictbt/internal/backtest"
)

const profilesYAML = `
profiles:
  confluence_flip:
    min_confluence: 2
    trade_size: 100
  leverage_10x:
    initial_capital: 1000
    trade_size: 100
    leverage: 10
  ict_risk:
    sizing: risk_based
    exit_mode: stop_take_profit
    min_confluence: 1
    leverage: 5
    confluence_kinds: [order_block, fvg]
    signal_timeout: 5s
    risk_free_rate: 0
    risk_percent:
      a_plus: 0.02
`

func writeProfiles(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func baseConfig() backtest.EngineConfig {
	cfg := backtest.DefaultEngineConfig()
	cfg.InitialCapital = 5000
	cfg.SlippageBps = 2
	cfg.ConfluenceKinds = []string{"order_block", "fvg", "mss", "zone", "breaker"}
	return cfg
}

func TestProfileLoaderOverlaysBase(t *testing.T) {
	l, err := NewProfileLoader(writeProfiles(t, profilesYAML), baseConfig())
	require.NoError(t, err)

	assert.Equal(t, []string{"confluence_flip", "ict_risk", "leverage_10x"}, l.Names())

	flip, ok := l.Profile("confluence_flip")
	require.True(t, ok)
	assert.Equal(t, 5000.0, flip.InitialCapital)
	assert.Equal(t, 2.0, flip.SlippageBps)
	assert.Equal(t, backtest.SizingFixedNotional, flip.Sizing)
	assert.Len(t, flip.ConfluenceKinds, 5)
	assert.Equal(t, 0.02, flip.AnnualRiskFree())

	lev, ok := l.Profile("LEVERAGE_10X")
	require.True(t, ok)
	assert.Equal(t, 1000.0, lev.InitialCapital)
	assert.Equal(t, 10.0, lev.Leverage)

	risk, ok := l.Profile("ict_risk")
	require.True(t, ok)
	assert.Equal(t, backtest.SizingRiskBased, risk.Sizing)
	assert.Equal(t, backtest.ExitStopTakeProfit, risk.ExitMode)
	assert.Equal(t, []string{"order_block", "fvg"}, risk.ConfluenceKinds)
	assert.Equal(t, 5*time.Second, risk.SignalTimeout)
	assert.Equal(t, 0.02, risk.RiskPercent.APlus)
	assert.Equal(t, 0.02, risk.RiskPercent.A)
	require.NotNil(t, risk.RiskFreeRate)
	assert.Zero(t, risk.AnnualRiskFree())

	_, ok = l.Profile("missing")
	assert.False(t, ok)
}

func TestProfileLoaderRejectsBadProfiles(t *testing.T) {
	_, err := NewProfileLoader(writeProfiles(t, "profiles:\n  bad:\n    sizing: yolo\n"), baseConfig())
	assert.ErrorIs(t, err, backtest.ErrInvalidInput)

	_, err = NewProfileLoader(writeProfiles(t, "profiles:\n  typo:\n    min_confluense: 2\n"), baseConfig())
	assert.Error(t, err)

	_, err = NewProfileLoader("", baseConfig())
	assert.Error(t, err)
}

func TestProfileLoaderHotReload(t *testing.T) {
	path := writeProfiles(t, profilesYAML)
	l, err := NewProfileLoader(path, baseConfig())
	require.NoError(t, err)

	updates := make(chan ProfileSnapshot, 16)
	l.Subscribe(func(s ProfileSnapshot) { updates <- s })
	first := <-updates
	assert.EqualValues(t, 1, first.Version)

	require.NoError(t, os.WriteFile(path, []byte("profiles:\n  fast:\n    min_confluence: 3\n"), 0o644))
	deadline := time.After(5 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case snap := <-updates:
			_, reloaded = snap.Profiles["fast"]
		case <-deadline:
			t.Fatal("no reload notification")
		}
	}
	cfg, ok := l.Profile("fast")
	require.True(t, ok)
	assert.Equal(t, 3, cfg.MinConfluence)
	_, ok = l.Profile("confluence_flip")
	assert.False(t, ok)
}
