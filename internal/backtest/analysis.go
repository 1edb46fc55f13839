package backtest

import (
	"context"
	"fmt"
	"time"

	"ictbt/internal/ict"
	"ictbt/internal/session"
	"ictbt/internal/signal"
)

// AnalyzeRequest 描述一次即时形态分析；AsOf 为 0 时取当前时间。
type AnalyzeRequest struct {
	Symbol    string `form:"symbol" json:"symbol"`
	Timeframe string `form:"timeframe" json:"timeframe"`
	Exchange  string `form:"exchange" json:"exchange"`
	Profile   string `form:"profile" json:"profile"`
	AsOf      int64  `form:"as_of" json:"as_of"`
	Offline   bool   `form:"offline" json:"offline"`
}

// Analysis 为最近一根已收盘 K 线上的形态、偏好与规则决策。
type Analysis struct {
	Symbol     string           `json:"symbol"`
	Timeframe  string           `json:"timeframe"`
	Time       int64            `json:"time"`
	Price      float64          `json:"price"`
	DailyBias  session.Bias     `json:"dailyBias"`
	Killzone   session.Killzone `json:"killzone"`
	Summary    ict.Summary      `json:"summary"`
	Features   ict.FeatureSet   `json:"features"`
	Quality    signal.Quality   `json:"quality"`
	Confluence int              `json:"confluence"`
	Signal     *signal.Signal   `json:"signal,omitempty"`
	Skip       string           `json:"skip,omitempty"`
}

// Analyze 使用与回测相同的窗口规则，对 AsOf 之前最后一根已收盘 K 线做一次决策。
func (r *Runner) Analyze(ctx context.Context, req AnalyzeRequest) (*Analysis, error) {
	if req.AsOf <= 0 {
		req.AsOf = time.Now().UnixMilli()
	}
	tf := req.Timeframe
	if tf == "" {
		tf = "15m"
	}
	exec, err := ParseTimeframe(tf)
	if err != nil {
		return nil, err
	}
	// 以 AsOf 所在 K 线为开区间上界，只看已收盘部分
	end := alignDown(req.AsOf, exec.Millis())
	cfg, profile, err := r.Resolve(RunRequest{Profile: req.Profile})
	if err != nil {
		return nil, err
	}
	run := RunRequest{
		Symbol:    req.Symbol,
		Timeframe: exec.Key,
		Exchange:  req.Exchange,
		Profile:   profile,
		StartTS:   exec.Before(end, 1),
		EndTS:     end,
		Offline:   req.Offline,
	}
	run, err = run.normalized()
	if err != nil {
		return nil, err
	}
	cfg.WarmupCandles = max(cfg.WarmupCandles, cfg.StructureLookback)
	in, err := r.load(ctx, run, cfg)
	if err != nil {
		return nil, err
	}
	last := in.Exec[len(in.Exec)-1]
	if err := last.Validate(); err != nil {
		return nil, fmt.Errorf("%w: last candle: %v", ErrInvalidInput, err)
	}
	sim := &simulation{
		cfg:       cfg,
		policy:    cfg.policy(),
		in:        in,
		exec:      in.Exec,
		daily:     cleanContext(in.Symbol, "daily", in.Daily),
		structure: cleanContext(in.Symbol, "structure", in.Structure),
		acct:      NewAccount(cfg.InitialCapital),
		skips:     make(map[string]int),
	}
	i := len(in.Exec) - 1
	window := sim.structureWindow(i)
	features := ict.Extract(window, ict.Options{SwingLookback: cfg.SwingLookback})
	at := last.OpenAt()
	out := &Analysis{
		Symbol:    run.Symbol,
		Timeframe: exec.Key,
		Time:      last.OpenTime,
		Price:     last.Close,
		DailyBias: session.DailyBias(sim.daily, at),
		Killzone:  session.ClassifyKillzone(at),
		Summary:   features.Summarize(last.Close),
		Features:  features,
	}
	dec := sim.decide(ctx, i)
	out.Quality, out.Confluence, out.Signal, out.Skip = dec.Quality, dec.Confluence, dec.Signal, dec.Skip
	return out, nil
}
