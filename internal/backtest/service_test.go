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
)

// gridSource 在请求区间内按周期生成上涨 K 线，可选择跳过部分开盘时间。
type gridSource struct {
	mock.Mock
	skip map[int64]bool
}

func (g *gridSource) Name() string { return "grid" }

func (g *gridSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	args := g.Called(req.Interval)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	tf, _ := ParseTimeframe(req.Interval)
	var out []market.Candle
	for ts := req.Start; ts <= req.End && len(out) < req.Limit; ts += tf.Millis() {
		if g.skip[ts] {
			continue
		}
		p := 100 + float64(ts%1_000_000)/1000
		out = append(out, market.Candle{OpenTime: ts, CloseTime: ts + tf.Millis() - 1, Open: p, High: p + 1, Low: p - 1, Close: p + 0.5, Volume: 1})
	}
	return out, nil
}

func newTestService(t *testing.T, src CandleSource) *FetchService {
	t.Helper()
	svc, err := NewFetchService(FetchServiceConfig{
		Store:           newTestStore(t),
		Sources:         map[string]CandleSource{"Grid": src},
		RateLimitPerMin: 60_000,
		MaxBatch:        5,
		MaxConcurrent:   2,
	})
	require.NoError(t, err)
	return svc
}

func TestFetchServiceEnsurePagesThroughGaps(t *testing.T) {
	src := &gridSource{}
	src.On("Fetch", "1h").Return(nil)
	svc := newTestService(t, src)
	ctx := context.Background()

	start := t0.UnixMilli()
	end := t0.Add(23 * time.Hour).UnixMilli()
	candles, err := svc.Ensure(ctx, FetchParams{Symbol: "btc/usdt", Timeframe: "1h", Start: start, End: end})
	require.NoError(t, err)
	assert.Len(t, candles, 24)
	src.AssertNumberOfCalls(t, "Fetch", 5)

	// 已完整时不再请求
	_, err = svc.Ensure(ctx, FetchParams{Symbol: "BTCUSDT", Timeframe: "1h", Start: start, End: end})
	require.NoError(t, err)
	src.AssertNumberOfCalls(t, "Fetch", 5)
}

func TestFetchServiceSubmitJob(t *testing.T) {
	start := t0.UnixMilli()
	hole := t0.Add(3 * time.Hour).UnixMilli()
	src := &gridSource{skip: map[int64]bool{hole: true}}
	src.On("Fetch", "1h").Return(nil)
	svc := newTestService(t, src)

	job, err := svc.Submit(FetchParams{Symbol: "ETHUSDT", Timeframe: "1h", Start: start, End: t0.Add(9 * time.Hour).UnixMilli()})
	require.NoError(t, err)
	assert.Equal(t, int64(10), job.Total)
	assert.Equal(t, "grid", job.Params.Exchange)

	require.Eventually(t, func() bool {
		j, ok := svc.Job(job.ID)
		return ok && j.Status != JobStatusPending && j.Status != JobStatusRunning
	}, 2*time.Second, 10*time.Millisecond)
	j, _ := svc.Job(job.ID)
	assert.Equal(t, JobStatusPartial, j.Status)
	assert.Equal(t, []Gap{{From: hole, To: hole}}, j.Missing)
	assert.Equal(t, int64(9), j.Completed)
	assert.Len(t, svc.Jobs(), 1)
}

func TestFetchServiceErrors(t *testing.T) {
	src := &gridSource{}
	src.On("Fetch", "1h").Return(errors.New("boom"))
	svc := newTestService(t, src)

	_, err := svc.Submit(FetchParams{Symbol: "BTCUSDT", Timeframe: "2h", Start: 1, End: 2})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Submit(FetchParams{Exchange: "kraken", Symbol: "BTCUSDT", Timeframe: "1h", Start: 1, End: 2})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Ensure(context.Background(), FetchParams{Symbol: "BTCUSDT", Timeframe: "1h", Start: t0.UnixMilli(), End: t0.Add(time.Hour).UnixMilli()})
	assert.ErrorIs(t, err, ErrInsufficientData)
	assert.ErrorContains(t, err, "boom")
}
