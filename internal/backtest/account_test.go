package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ictbt/internal/session"
	"ictbt/internal/signal"
)

func TestAccountFixedNotionalProfit(t *testing.T) {
	cfg := DefaultEngineConfig()
	qty, notional, err := cfg.size(signal.QualityA, 50000, 49000, 10000)
	require.NoError(t, err)
	assert.Equal(t, 100.0, notional)

	a := NewAccount(10000)
	require.NoError(t, a.Open(Position{Side: session.Long, EntryPrice: 50000, Quantity: qty, Notional: notional, EntryTime: 1}))
	tr, err := a.Close(51000, 2, ExitSignalReversal, "")
	require.NoError(t, err)
	assert.InDelta(t, 2.00, tr.Profit, 1e-9)
	assert.InDelta(t, 2.0, tr.ProfitPercent, 1e-9)
	assert.InDelta(t, 10002.0, a.Balance(), 1e-9)
	assert.Equal(t, StateFlat, a.State())
}

func TestAccountShortProfit(t *testing.T) {
	a := NewAccount(1000)
	require.NoError(t, a.Open(Position{Side: session.Short, EntryPrice: 200, Quantity: 2, Notional: 400}))
	tr, err := a.Close(190, 5, ExitTakeProfit, "")
	require.NoError(t, err)
	assert.Equal(t, 20.0, tr.Profit)
	assert.Equal(t, 5.0, tr.ProfitPercent)
}

func TestAccountRejectsSecondPosition(t *testing.T) {
	a := NewAccount(1000)
	require.NoError(t, a.Open(Position{Side: session.Long, EntryPrice: 10, Quantity: 1, Notional: 10}))
	err := a.Open(Position{Side: session.Short, EntryPrice: 11, Quantity: 1, Notional: 11})
	require.ErrorIs(t, err, ErrInvariantViolation)
	pos, ok := a.Position()
	require.True(t, ok)
	assert.Equal(t, session.Long, pos.Side, "existing position must not be overwritten")
	assert.Equal(t, 1, a.Entries())

	_, err = NewAccount(1).Close(1, 1, ExitPeriodEnd, "")
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.ErrorIs(t, NewAccount(1).Open(Position{Side: session.Long, EntryPrice: 10}), ErrInvariantViolation)
}

func TestAccountDrawdown(t *testing.T) {
	a := NewAccount(1000)
	require.NoError(t, a.Open(Position{Side: session.Long, EntryPrice: 500, Quantity: 2, Notional: 1000}))

	equities := []float64{}
	for i, price := range []float64{500, 600, 450, 550} {
		pt := a.Mark(int64(i), price)
		equities = append(equities, pt.Equity)
		if i == 2 {
			assert.Equal(t, 1200.0, pt.PeakEquity)
			assert.Equal(t, 25.0, pt.DrawdownPct)
		}
	}
	assert.Equal(t, []float64{1000, 1200, 900, 1100}, equities)
	assert.Equal(t, 25.0, a.MaxDrawdownPct())
	assert.Equal(t, 1200.0, a.PeakEquity())
	assert.Len(t, a.Curve(), 4)
	assert.Equal(t, 1000.0, a.Balance(), "unrealized pnl never touches balance")
}

func TestExitTriggerStopFirst(t *testing.T) {
	long := Position{Side: session.Long, StopLoss: 95, TakeProfit: 110}
	r, hit := exitTrigger(long, 94)
	assert.True(t, hit)
	assert.Equal(t, ExitStopLoss, r)
	r, _ = exitTrigger(long, 111)
	assert.Equal(t, ExitTakeProfit, r)
	_, hit = exitTrigger(long, 100)
	assert.False(t, hit)

	short := Position{Side: session.Short, StopLoss: 105, TakeProfit: 90}
	r, _ = exitTrigger(short, 106)
	assert.Equal(t, ExitStopLoss, r)
	r, _ = exitTrigger(short, 89)
	assert.Equal(t, ExitTakeProfit, r)

	// 退化情形：止损止盈同时满足时止损优先
	both := Position{Side: session.Long, StopLoss: 100, TakeProfit: 100}
	r, _ = exitTrigger(both, 100)
	assert.Equal(t, ExitStopLoss, r)
}

func TestProtectiveLevelsAndSizing(t *testing.T) {
	cfg := DefaultEngineConfig()

	stop, target := cfg.protectiveLevels(session.Long, 100, nil)
	assert.InDelta(t, 98, stop, 1e-9)
	assert.InDelta(t, 105, target, 1e-9)

	stop, target = cfg.protectiveLevels(session.Short, 100, &signal.Signal{StopLoss: 95, TakeProfit: 90})
	assert.InDelta(t, 102, stop, 1e-9, "stop on the wrong side falls back to default")
	assert.Equal(t, 90.0, target)

	cfg.RewardMultiple = 3
	stop, target = cfg.protectiveLevels(session.Long, 100, &signal.Signal{StopLoss: 99})
	assert.Equal(t, 99.0, stop)
	assert.Equal(t, 103.0, target)

	cfg = DefaultEngineConfig()
	cfg.Sizing = SizingRiskBased
	cfg.Leverage = 10
	qty, notional, err := cfg.size(signal.QualityAPlus, 100, 98, 10000)
	require.NoError(t, err)
	assert.InDelta(t, 150, qty, 1e-9)
	assert.InDelta(t, 15000, notional, 1e-6)

	cfg.Leverage = 1
	_, notional, err = cfg.size(signal.QualityAPlus, 100, 98, 10000)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, notional, "capped at balance x leverage")

	_, _, err = cfg.size(signal.QualityC, 100, 98, 10000)
	assert.Error(t, err)
	_, _, err = cfg.size(signal.QualityB, 100, 98, -5)
	assert.Error(t, err)
}

func TestFillPrice(t *testing.T) {
	assert.Equal(t, 100.0, fillPrice(100, session.Long, true, 0))
	assert.InDelta(t, 100.1, fillPrice(100, session.Long, true, 10), 1e-9)
	assert.InDelta(t, 99.9, fillPrice(100, session.Long, false, 10), 1e-9)
	assert.InDelta(t, 99.9, fillPrice(100, session.Short, true, 10), 1e-9)
	assert.InDelta(t, 100.1, fillPrice(100, session.Short, false, 10), 1e-9)
}
