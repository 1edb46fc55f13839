package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ictbt/internal/market"
	"ictbt/internal/session"
	"ictbt/internal/signal"
)

// memLoader 按周期返回固定序列中落在请求区间内的 K 线。
type memLoader struct {
	series map[string][]market.Candle
	calls  []FetchParams
	fail   map[string]error
}

func (m *memLoader) Ensure(_ context.Context, p FetchParams) ([]market.Candle, error) {
	m.calls = append(m.calls, p)
	if err := m.fail[p.Timeframe]; err != nil {
		return nil, err
	}
	var out []market.Candle
	for _, c := range m.series[p.Timeframe] {
		if c.OpenTime >= p.Start && c.OpenTime <= p.End {
			out = append(out, c)
		}
	}
	return out, nil
}

type profileMap map[string]EngineConfig

func (p profileMap) Profile(name string) (EngineConfig, bool) {
	cfg, ok := p[name]
	return cfg, ok
}

func testLoader() *memLoader {
	return &memLoader{series: map[string][]market.Candle{
		"1h": staircase(96),
		"1d": greenDays(),
	}}
}

func TestRunnerExecute(t *testing.T) {
	loader := testLoader()
	strict := testConfig()
	strict.MinConfluence = 50
	runner, err := NewRunner(RunnerConfig{
		Online:   loader,
		Base:     testConfig(),
		Profiles: profileMap{"strict": strict},
	})
	require.NoError(t, err)

	start := t0.Add(24 * time.Hour).UnixMilli()
	end := t0.Add(72 * time.Hour).UnixMilli()
	rep, err := runner.Execute(context.Background(), RunRequest{Symbol: "btc/usdt", Timeframe: "1h", StartTS: start, EndTS: end}, nil)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", rep.Symbol)
	assert.Equal(t, 48, rep.Processed)
	assert.Equal(t, start, rep.Period.Start)
	assert.NotEmpty(t, rep.Trades)

	// 执行周期向前预留预热窗口，结构周期与执行周期相同时不再单独拉取
	require.Len(t, loader.calls, 2)
	assert.Equal(t, start-20*time.Hour.Milliseconds(), loader.calls[0].Start)
	assert.Equal(t, end-1, loader.calls[0].End)
	assert.Equal(t, "1d", loader.calls[1].Timeframe)

	rep, err = runner.Execute(context.Background(), RunRequest{Symbol: "BTCUSDT", Timeframe: "1h", Profile: "strict", StartTS: start, EndTS: end}, nil)
	require.NoError(t, err)
	assert.Empty(t, rep.Trades)
	assert.Equal(t, "strict", rep.Profile)
	assert.Equal(t, 50, rep.Config.MinConfluence)
}

func TestRunnerErrors(t *testing.T) {
	loader := testLoader()
	runner, err := NewRunner(RunnerConfig{Online: loader, Base: testConfig()})
	require.NoError(t, err)
	ctx := context.Background()
	start := t0.Add(24 * time.Hour).UnixMilli()
	end := t0.Add(48 * time.Hour).UnixMilli()

	var pe *PhaseError
	_, err = runner.Execute(ctx, RunRequest{Symbol: "BTCUSDT", Timeframe: "1h", StartTS: end, EndTS: start}, nil)
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, PhaseFetch, pe.Phase)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = runner.Execute(ctx, RunRequest{Symbol: "BTCUSDT", Timeframe: "1h", Profile: "nope", StartTS: start, EndTS: end}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = runner.Execute(ctx, RunRequest{Symbol: "BTCUSDT", Timeframe: "1h", UseLLM: true, StartTS: start, EndTS: end}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = runner.Execute(ctx, RunRequest{Symbol: "BTCUSDT", Timeframe: "1h", StartTS: t0.AddDate(1, 0, 0).UnixMilli(), EndTS: t0.AddDate(1, 0, 1).UnixMilli()}, nil)
	assert.ErrorIs(t, err, ErrInsufficientData)

	loader.fail = map[string]error{"1d": errors.New("daily down")}
	rep, err := runner.Execute(ctx, RunRequest{Symbol: "BTCUSDT", Timeframe: "1h", StartTS: start, EndTS: end}, nil)
	require.NoError(t, err, "daily candles are optional context")
	assert.Empty(t, rep.Trades)
	assert.Equal(t, rep.Processed, rep.Skips["no_bias"]+rep.Skips["no_session"])

	_, err = NewRunner(RunnerConfig{})
	assert.Error(t, err)
}

func TestRunnerOfflineAndBatch(t *testing.T) {
	online := &memLoader{fail: map[string]error{"1h": errors.New("network disabled")}}
	offline := testLoader()
	runner, err := NewRunner(RunnerConfig{Online: online, Offline: offline, Base: testConfig()})
	require.NoError(t, err)

	start := t0.Add(24 * time.Hour).UnixMilli()
	end := t0.Add(48 * time.Hour).UnixMilli()
	reqs := []RunRequest{
		{Symbol: "BTCUSDT", Timeframe: "1h", StartTS: start, EndTS: end, Offline: true},
		{Symbol: "ETHUSDT", Timeframe: "1h", StartTS: start, EndTS: end},
		{Symbol: "SOLUSDT", Timeframe: "7m", StartTS: start, EndTS: end, Offline: true},
	}
	results, err := runner.RunBatch(context.Background(), reqs, 1)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.NotNil(t, results[0].Report)
	assert.Empty(t, results[0].Err)
	assert.Nil(t, results[1].Report)
	assert.Contains(t, results[1].Err, "network disabled")
	assert.Contains(t, results[2].Err, "unsupported timeframe")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = runner.RunBatch(ctx, reqs[:1], 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunnerAnalyze(t *testing.T) {
	runner, err := NewRunner(RunnerConfig{Online: testLoader(), Base: testConfig()})
	require.NoError(t, err)

	// 13:30 UTC：最后一根已收盘 K 线开盘于 12:00，处于 NY 时段
	asOf := t0.Add(24*time.Hour + 13*time.Hour + 30*time.Minute).UnixMilli()
	a, err := runner.Analyze(context.Background(), AnalyzeRequest{Symbol: "BTCUSDT", Timeframe: "1h", AsOf: asOf})
	require.NoError(t, err)
	assert.Equal(t, t0.Add(36*time.Hour).UnixMilli(), a.Time)
	assert.Equal(t, session.NY, a.Killzone)
	assert.Equal(t, session.Long, a.DailyBias)
	require.NotNil(t, a.Signal)
	assert.Equal(t, session.Long, a.Signal.Bias)
	assert.Equal(t, signal.QualityAPlus, a.Quality)
	assert.NotEmpty(t, a.Features.FVGs)
	assert.Equal(t, len(a.Features.FVGs), a.Summary.FVGs)

	asOf = t0.Add(24*time.Hour + 20*time.Hour).UnixMilli()
	a, err = runner.Analyze(context.Background(), AnalyzeRequest{Symbol: "BTCUSDT", Timeframe: "1h", AsOf: asOf})
	require.NoError(t, err)
	assert.Nil(t, a.Signal)
	assert.Equal(t, signal.SkipNoSession, a.Skip)
	assert.Empty(t, a.Killzone)

	_, err = runner.Analyze(context.Background(), AnalyzeRequest{Symbol: "BTCUSDT", Timeframe: "7m", AsOf: asOf})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRunnerFallsBackToCachedCandles(t *testing.T) {
	src := &gridSource{}
	src.On("Fetch", mock.Anything).Return(errors.New("network down"))
	svc := newTestService(t, src)
	ctx := context.Background()

	hole := t0.Add(30 * time.Hour).UnixMilli()
	var hourly []market.Candle
	for _, c := range staircase(96) {
		if c.OpenTime != hole {
			hourly = append(hourly, c)
		}
	}
	_, err := svc.Store().Upsert(ctx, "BTCUSDT", "1h", hourly)
	require.NoError(t, err)
	_, err = svc.Store().Upsert(ctx, "BTCUSDT", "1d", greenDays())
	require.NoError(t, err)

	runner, err := NewRunner(RunnerConfig{Online: svc, Base: testConfig()})
	require.NoError(t, err)

	start := t0.Add(24 * time.Hour).UnixMilli()
	end := t0.Add(72 * time.Hour).UnixMilli()
	rep, err := runner.Execute(ctx, RunRequest{Symbol: "BTCUSDT", Timeframe: "1h", StartTS: start, EndTS: end}, nil)
	require.NoError(t, err, "cached candles should carry the run when the exchange is down")
	require.NotNil(t, rep)
	assert.Positive(t, rep.Processed)
	assert.Less(t, rep.Processed, 48)
	src.AssertCalled(t, "Fetch", "1h")

	// 缓存为空且交易所失败时才报数据不足
	_, err = runner.Execute(ctx, RunRequest{Symbol: "ETHUSDT", Timeframe: "1h", StartTS: start, EndTS: end}, nil)
	assert.ErrorIs(t, err, ErrInsufficientData)
}
