package backtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ictbt/internal/logger"
	"ictbt/internal/market"
	"ictbt/internal/signal"

	"golang.org/x/sync/errgroup"
)

// CandleLoader 返回 [start,end] 内按开盘时间升序的 K 线。
type CandleLoader interface {
	Ensure(ctx context.Context, p FetchParams) ([]market.Candle, error)
}

// ProfileSource 按名称返回完整的策略配置。
type ProfileSource interface {
	Profile(name string) (EngineConfig, bool)
}

// OfflineLoader 只读本地缓存，不访问网络。
type OfflineLoader struct {
	Store *Store
}

func (o OfflineLoader) Ensure(ctx context.Context, p FetchParams) ([]market.Candle, error) {
	return o.Store.Range(ctx, p.Symbol, p.Timeframe, p.Start, p.End)
}

type RunnerConfig struct {
	Online    CandleLoader
	Offline   CandleLoader
	Profiles  ProfileSource
	Base      EngineConfig
	Evaluator signal.Evaluator
	// DefaultProfile 在请求未指定 profile 时使用，为空则直接用 Base。
	DefaultProfile string
}

// Runner 负责准备三组行情（执行周期、1h 结构、日线）并驱动 Engine。
type Runner struct {
	cfg RunnerConfig
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Online == nil && cfg.Offline == nil {
		return nil, fmt.Errorf("runner needs at least one candle loader")
	}
	cfg.Base = cfg.Base.WithDefaults()
	if err := cfg.Base.Validate(); err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg}, nil
}

// Resolve 返回最终配置与 profile 名：请求带 override 时整体替换 profile 配置。
func (r *Runner) Resolve(req RunRequest) (EngineConfig, string, error) {
	name := strings.TrimSpace(req.Profile)
	if name == "" {
		name = r.cfg.DefaultProfile
	}
	cfg := r.cfg.Base
	if name != "" {
		if r.cfg.Profiles == nil {
			return EngineConfig{}, "", fmt.Errorf("%w: profiles not configured", ErrInvalidInput)
		}
		p, ok := r.cfg.Profiles.Profile(name)
		if !ok {
			return EngineConfig{}, "", fmt.Errorf("%w: unknown profile %q", ErrInvalidInput, name)
		}
		cfg = p
	}
	if req.Override != nil {
		cfg = *req.Override
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, "", err
	}
	return cfg, name, nil
}

// Execute 同步执行一次回测。拉取失败返回 PhaseFetch 的 *PhaseError。
func (r *Runner) Execute(ctx context.Context, req RunRequest, progress func(done, total int)) (*Report, error) {
	req, err := req.normalized()
	if err != nil {
		return nil, phaseErr(PhaseFetch, err)
	}
	cfg, profile, err := r.Resolve(req)
	if err != nil {
		return nil, phaseErr(PhaseFetch, err)
	}
	var evaluator signal.Evaluator
	if req.UseLLM {
		if r.cfg.Evaluator == nil {
			return nil, phaseErr(PhaseFetch, fmt.Errorf("%w: llm evaluator is not configured", ErrInvalidInput))
		}
		evaluator = r.cfg.Evaluator
	}
	in, err := r.load(ctx, req, cfg)
	if err != nil {
		return nil, phaseErr(PhaseFetch, err)
	}
	in.Progress = progress
	eng, err := NewEngine(cfg, evaluator)
	if err != nil {
		return nil, phaseErr(PhaseSimulate, err)
	}
	started := time.Now()
	rep, err := eng.Run(ctx, in)
	if err != nil {
		return nil, err
	}
	rep.Profile = profile
	logger.Infof("[backtest] %s@%s 完成：%d 根 K 线，%d 笔交易，收益 %.2f%%，耗时 %s",
		req.Symbol, req.Timeframe, rep.Processed, rep.Summary.TotalTrades, rep.Summary.TotalReturnPct, time.Since(started).Truncate(time.Millisecond))
	return rep, nil
}

// load 为执行周期预留预热窗口，结构周期与日线同样向前多取，保证首根 K 线就有完整上下文。
func (r *Runner) load(ctx context.Context, req RunRequest, cfg EngineConfig) (Input, error) {
	loader := r.cfg.Online
	if req.Offline || loader == nil {
		loader = r.cfg.Offline
	}
	if loader == nil {
		return Input{}, fmt.Errorf("%w: no candle loader for offline=%v", ErrInvalidInput, req.Offline)
	}
	exec, _ := ParseTimeframe(req.Timeframe)
	structure, _ := ParseTimeframe(StructureTimeframe)
	daily, _ := ParseTimeframe(DailyTimeframe)
	last := req.EndTS - 1

	get := func(tf Timeframe, start int64, optional bool) ([]market.Candle, error) {
		candles, err := loader.Ensure(ctx, FetchParams{Exchange: req.Exchange, Symbol: req.Symbol, Timeframe: tf.Key, Start: start, End: last})
		if err != nil {
			if optional && !errors.Is(err, context.Canceled) {
				logger.Warnf("[backtest] %s %s 上下文行情不可用，继续回测: %v", req.Symbol, tf.Key, err)
				return nil, nil
			}
			return nil, err
		}
		return candles, nil
	}
	execCandles, err := get(exec, exec.Before(req.StartTS, cfg.WarmupCandles), false)
	if err != nil {
		return Input{}, err
	}
	if len(execCandles) == 0 {
		return Input{}, fmt.Errorf("%w: no %s candles for %s", ErrInsufficientData, exec.Key, req.Symbol)
	}
	in := Input{Symbol: req.Symbol, Timeframe: exec.Key, Exec: execCandles, From: req.StartTS}
	if exec.Duration < structure.Duration {
		if in.Structure, err = get(structure, structure.Before(req.StartTS, cfg.StructureLookback+1), true); err != nil {
			return Input{}, err
		}
	}
	if in.Daily, err = get(daily, daily.Before(req.StartTS, 3), true); err != nil {
		return Input{}, err
	}
	return in, nil
}

// BatchResult 为批量回测中单个请求的结果，Err 非空时 Report 为 nil。
type BatchResult struct {
	Request RunRequest `json:"request"`
	Report  *Report    `json:"report,omitempty"`
	Err     string     `json:"error,omitempty"`
}

// RunBatch 并发执行多个请求，单个失败不影响其他请求；只有 ctx 取消才整体返回错误。
func (r *Runner) RunBatch(ctx context.Context, reqs []RunRequest, limit int) ([]BatchResult, error) {
	out := make([]BatchResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, limit))
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			out[i].Request = req
			rep, err := r.Execute(gctx, req, nil)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				logger.Warnf("[backtest] 批量回测 %s 失败: %v", req.Symbol, err)
				out[i].Err = err.Error()
				return nil
			}
			out[i].Report = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
