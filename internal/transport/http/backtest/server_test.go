package backtesthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ictbt/internal/backtest"
	"ictbt/internal/market"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// trendSource 生成持续上涨的小时线与阳线日线。
type trendSource struct{}

func (trendSource) Name() string { return "trend" }

func (trendSource) Fetch(_ context.Context, req backtest.FetchRequest) ([]market.Candle, error) {
	tf, err := backtest.ParseTimeframe(req.Interval)
	if err != nil {
		return nil, err
	}
	step := tf.Millis()
	var out []market.Candle
	for ts := req.Start; ts <= req.End && len(out) < req.Limit; ts += step {
		if tf.Key == "1d" {
			out = append(out, market.Candle{OpenTime: ts, CloseTime: ts + step - 1, Open: 90, High: 120, Low: 85, Close: 110, Volume: 1})
			continue
		}
		p := 100 + 1.5*float64(ts-base.UnixMilli())/float64(step)
		out = append(out, market.Candle{OpenTime: ts, CloseTime: ts + step - 1, Open: p, High: p + 1, Low: p - 0.2, Close: p + 0.9, Volume: 10})
	}
	return out, nil
}

type staticProfiles map[string]backtest.EngineConfig

func (p staticProfiles) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (p staticProfiles) Profile(name string) (backtest.EngineConfig, bool) {
	cfg, ok := p[name]
	return cfg, ok
}

type fixture struct {
	server *Server
	sim    *backtest.Simulator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := backtest.NewStore(filepath.Join(dir, "candles"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	svc, err := backtest.NewFetchService(backtest.FetchServiceConfig{
		Store:           store,
		Sources:         map[string]backtest.CandleSource{"trend": trendSource{}},
		RateLimitPerMin: 60_000,
		MaxBatch:        500,
		MaxConcurrent:   2,
	})
	require.NoError(t, err)

	cfg := backtest.DefaultEngineConfig()
	cfg.WarmupCandles = 20
	cfg.StructureLookback = 20
	strict := cfg
	strict.MinConfluence = 50
	profiles := staticProfiles{"default": cfg, "strict": strict}
	runner, err := backtest.NewRunner(backtest.RunnerConfig{
		Online:   svc,
		Offline:  backtest.OfflineLoader{Store: store},
		Profiles: profiles,
		Base:     cfg,
	})
	require.NoError(t, err)
	results, err := backtest.NewResultStore(filepath.Join(dir, "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = results.Close() })
	sim, err := backtest.NewSimulator(backtest.SimulatorConfig{Runner: runner, Results: results, MaxConcurrent: 1})
	require.NoError(t, err)

	srv, err := NewServer(Config{Svc: svc, Runner: runner, Simulator: sim, Results: results, Profiles: profiles})
	require.NoError(t, err)
	return fixture{server: srv, sim: sim}
}

func (f fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder, key string) T {
	t.Helper()
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw), w.Body.String())
	var out T
	require.NoError(t, json.Unmarshal(raw[key], &out))
	return out
}

func TestKillzoneEndpoint(t *testing.T) {
	f := newFixture(t)
	ts := base.Add(13 * time.Hour).UnixMilli()
	w := f.do(t, http.MethodGet, fmt.Sprintf("/api/backtest/killzone?ts=%d", ts), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "NY", decode[string](t, w, "killzone"))
	assert.True(t, decode[bool](t, w, "active"))

	w = f.do(t, http.MethodGet, "/api/backtest/killzone?ts=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFetchAndDataEndpoints(t *testing.T) {
	f := newFixture(t)
	start := base.UnixMilli()
	end := base.Add(47 * time.Hour).UnixMilli()

	w := f.do(t, http.MethodPost, "/api/backtest/fetch", map[string]any{"symbol": "BTCUSDT", "timeframe": "7m", "start_ts": start, "end_ts": end})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/backtest/fetch", map[string]any{"symbol": "btc/usdt", "timeframe": "1h", "start_ts": start, "end_ts": end})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	job := decode[backtest.FetchJob](t, w, "job")
	assert.Equal(t, "BTCUSDT", job.Params.Symbol)
	assert.EqualValues(t, 48, job.Total)

	require.Eventually(t, func() bool {
		w := f.do(t, http.MethodGet, "/api/backtest/fetch/"+job.ID, nil)
		return decode[backtest.FetchJob](t, w, "job").Status == backtest.JobStatusDone
	}, 5*time.Second, 20*time.Millisecond)

	w = f.do(t, http.MethodGet, "/api/backtest/jobs", nil)
	assert.Len(t, decode[[]backtest.FetchJob](t, w, "jobs"), 1)

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/backtest/data?symbol=BTCUSDT&timeframe=1h&start_ts=%d&end_ts=%d", start, end), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	manifest := decode[backtest.Manifest](t, w, "manifest")
	assert.EqualValues(t, 48, manifest.Rows)
	integrity := decode[backtest.IntegrityReport](t, w, "integrity")
	assert.True(t, integrity.Complete())

	w = f.do(t, http.MethodGet, "/api/backtest/data", nil)
	assert.Len(t, decode[[]backtest.Manifest](t, w, "manifests"), 1)

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/backtest/candles?symbol=BTCUSDT&timeframe=1h&end_ts=%d&limit=10", end), nil)
	candles := decode[[]market.Candle](t, w, "candles")
	require.Len(t, candles, 10)
	assert.Equal(t, end, candles[9].OpenTime)

	w = f.do(t, http.MethodGet, "/api/backtest/candles?symbol=BTCUSDT", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/backtest/fetch/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunLifecycleEndpoints(t *testing.T) {
	f := newFixture(t)
	start := base.Add(24 * time.Hour).UnixMilli()
	end := base.Add(72 * time.Hour).UnixMilli()

	w := f.do(t, http.MethodPost, "/api/backtest/runs", map[string]any{"symbol": "BTCUSDT", "timeframe": "1h", "start_ts": end, "end_ts": start})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/backtest/runs", map[string]any{"symbol": "BTCUSDT", "timeframe": "1h", "profile": "nope", "start_ts": start, "end_ts": end})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/backtest/runs", map[string]any{"symbol": "BTCUSDT", "timeframe": "1h", "profile": "default", "start_ts": start, "end_ts": end})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	run := decode[backtest.Run](t, w, "run")
	f.sim.Wait()

	w = f.do(t, http.MethodGet, "/api/backtest/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[backtest.Run](t, w, "run")
	assert.Equal(t, backtest.RunStatusDone, got.Status)
	require.NotNil(t, got.Summary)
	assert.Positive(t, got.Summary.TotalTrades)

	w = f.do(t, http.MethodGet, "/api/backtest/runs", nil)
	assert.Len(t, decode[[]backtest.Run](t, w, "runs"), 1)

	w = f.do(t, http.MethodGet, "/api/backtest/runs/"+run.ID+"/trades", nil)
	trades := decode[[]backtest.Trade](t, w, "trades")
	assert.Len(t, trades, got.Summary.TotalTrades)

	w = f.do(t, http.MethodGet, "/api/backtest/runs/"+run.ID+"/equity", nil)
	assert.Len(t, decode[[]backtest.EquityPoint](t, w, "equity"), 48)

	w = f.do(t, http.MethodGet, "/api/backtest/runs/"+run.ID+"/report", nil)
	rep := decode[backtest.Report](t, w, "report")
	assert.Equal(t, got.Summary.TotalTrades, len(rep.Trades))
	assert.Equal(t, "default", rep.Profile)

	w = f.do(t, http.MethodGet, "/api/backtest/runs/"+run.ID+"/report?format=csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/csv"))
	assert.Contains(t, w.Body.String(), "=== DETAILED TRADE LIST ===")

	w = f.do(t, http.MethodGet, "/api/backtest/runs/"+run.ID+"/report?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/backtest/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(t, http.MethodGet, "/api/backtest/runs/missing/report", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnalysisAndProfilesEndpoints(t *testing.T) {
	f := newFixture(t)
	asOf := base.Add(36*time.Hour + 30*time.Minute).UnixMilli()
	w := f.do(t, http.MethodGet, fmt.Sprintf("/api/backtest/analysis?symbol=BTCUSDT&timeframe=1h&as_of=%d", asOf), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	a := decode[backtest.Analysis](t, w, "analysis")
	assert.Equal(t, base.Add(35*time.Hour).UnixMilli(), a.Time)
	assert.NotEmpty(t, a.Features.FVGs)

	w = f.do(t, http.MethodGet, "/api/backtest/analysis", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/backtest/profiles", nil)
	profiles := decode[map[string]backtest.EngineConfig](t, w, "profiles")
	require.Contains(t, profiles, "strict")
	assert.Equal(t, 50, profiles["strict"].MinConfluence)
}
