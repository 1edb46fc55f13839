package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ictbt/internal/gateway/notifier"
	"ictbt/internal/logger"

	"github.com/google/uuid"
)

// Notifier 用于运行完成后的推送（Telegram 等）。
type Notifier interface {
	SendText(text string) error
}

// RunRepository 持久化 run 元数据与结果；Save 失败只记日志，不影响回测本身。
type RunRepository interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateStatus(ctx context.Context, id, status, message string) error
	Save(ctx context.Context, run Run, rep *Report) error
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

type SimulatorConfig struct {
	Runner        *Runner
	Results       RunRepository
	Notifier      Notifier
	MaxConcurrent int
}

// Simulator 异步执行回测任务，并发度由信号量限制。
type Simulator struct {
	runner   *Runner
	results  RunRepository
	notifier Notifier

	sem     chan struct{}
	baseCtx context.Context
	wg      sync.WaitGroup

	mu     sync.RWMutex
	active map[string]*Run
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("result store is required")
	}
	return &Simulator{
		runner:   cfg.Runner,
		results:  cfg.Results,
		notifier: cfg.Notifier,
		sem:      make(chan struct{}, max(1, cfg.MaxConcurrent)),
		baseCtx:  context.Background(),
		active:   make(map[string]*Run),
	}, nil
}

func (s *Simulator) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

// Wait 阻塞直到所有已提交任务结束。
func (s *Simulator) Wait() { s.wg.Wait() }

// Submit 创建回测任务并立即返回，模拟在后台进行。
func (s *Simulator) Submit(ctx context.Context, req RunRequest) (Run, error) {
	req, err := req.normalized()
	if err != nil {
		return Run{}, err
	}
	cfg, profile, err := s.runner.Resolve(req)
	if err != nil {
		return Run{}, err
	}
	now := time.Now().UTC()
	run := Run{
		ID:        uuid.NewString(),
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Profile:   profile,
		Status:    RunStatusPending,
		StartTS:   req.StartTS,
		EndTS:     req.EndTS,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.results.CreateRun(ctx, run); err != nil {
		return Run{}, fmt.Errorf("create run: %w", err)
	}
	s.mu.Lock()
	s.active[run.ID] = &run
	s.mu.Unlock()
	logger.Infof("[backtest] run %s 提交：%s@%s profile=%s", run.ID, run.Symbol, run.Timeframe, profile)

	s.wg.Add(1)
	go s.execute(run, req)
	return run, nil
}

func (s *Simulator) execute(run Run, req RunRequest) {
	defer s.wg.Done()
	ctx := s.baseCtx
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.fail(run, ctx.Err())
		return
	}
	defer func() { <-s.sem }()

	s.update(run.ID, func(r *Run) { r.Status = RunStatusRunning })
	if err := s.results.UpdateStatus(ctx, run.ID, RunStatusRunning, ""); err != nil {
		logger.Warnf("[backtest] run %s 更新状态失败: %v", run.ID, err)
	}
	rep, err := s.runner.Execute(ctx, req, func(done, total int) {
		s.update(run.ID, func(r *Run) { r.Progress = float64(done) / float64(max(total, 1)) })
	})
	if err != nil {
		s.fail(run, err)
		return
	}
	finished := time.Now().UTC()
	run.Status = RunStatusDone
	run.Progress = 1
	run.Summary = &rep.Summary
	run.CompletedAt = &finished
	run.UpdatedAt = finished
	// 用独立 ctx 写库，宿主关闭时已完成的结果仍能落盘
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.results.Save(saveCtx, run, rep); err != nil {
		logger.Errorf("[backtest] run %s 保存结果失败: %v", run.ID, err)
	}
	s.forget(run.ID)
	s.notify(formatRunSummary(run, rep))
}

func (s *Simulator) fail(run Run, err error) {
	logger.Warnf("[backtest] run %s 失败: %v", run.ID, err)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.baseCtx), 10*time.Second)
	defer cancel()
	if uerr := s.results.UpdateStatus(ctx, run.ID, RunStatusFailed, err.Error()); uerr != nil {
		logger.Errorf("[backtest] run %s 写入失败状态出错: %v", run.ID, uerr)
	}
	s.forget(run.ID)
	if !errors.Is(err, context.Canceled) {
		s.notify(formatRunFailure(run, err))
	}
}

func (s *Simulator) notify(text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SendText(text); err != nil {
		logger.Warnf("[backtest] 推送失败: %v", err)
	}
}

func (s *Simulator) update(id string, fn func(*Run)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.active[id]; ok {
		fn(r)
		r.UpdatedAt = time.Now().UTC()
	}
}

func (s *Simulator) forget(id string) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

// Get 优先返回内存中的进行中状态（含进度），否则读库。
func (s *Simulator) Get(ctx context.Context, id string) (Run, error) {
	s.mu.RLock()
	r, ok := s.active[id]
	var snap Run
	if ok {
		snap = *r
	}
	s.mu.RUnlock()
	if ok {
		return snap, nil
	}
	return s.results.GetRun(ctx, id)
}

func (s *Simulator) List(ctx context.Context, limit int) ([]Run, error) {
	runs, err := s.results.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range runs {
		if r, ok := s.active[runs[i].ID]; ok {
			runs[i] = *r
		}
	}
	return runs, nil
}

func formatRunSummary(run Run, rep *Report) string {
	sum := rep.Summary
	title := fmt.Sprintf("回测完成 %s@%s", run.Symbol, run.Timeframe)
	if run.Profile != "" {
		title += " [" + run.Profile + "]"
	}
	return notifier.Message{
		Icon:  "✅",
		Title: title,
		Sections: []notifier.Section{
			{Title: "区间", Lines: []string{time.UnixMilli(run.StartTS).UTC().Format("2006-01-02") + " ~ " + time.UnixMilli(run.EndTS).UTC().Format("2006-01-02")}},
			{Title: "绩效", Lines: []string{
				fmt.Sprintf("收益: %.2f (%.2f%%)", sum.TotalProfit, sum.TotalReturnPct),
				fmt.Sprintf("最大回撤: %.2f%%", sum.MaxDrawdownPct),
				fmt.Sprintf("交易: %d  胜率: %.1f%%", sum.TotalTrades, sum.WinRatePct),
				fmt.Sprintf("PF: %.2f  Sharpe: %.2f", sum.ProfitFactor, sum.SharpeRatio),
			}},
			{Title: "质量 A+/A/B", Lines: []string{fmt.Sprintf("%d/%d/%d", rep.QualityBreakdown.APlus, rep.QualityBreakdown.A, rep.QualityBreakdown.B)}},
		},
		Footer: "run " + run.ID,
	}.Render()
}

func formatRunFailure(run Run, err error) string {
	return notifier.Message{
		Icon:     "❌",
		Title:    fmt.Sprintf("回测失败 %s@%s", run.Symbol, run.Timeframe),
		Sections: []notifier.Section{{Title: "错误", Lines: []string{err.Error()}}},
		Footer:   "run " + run.ID,
	}.Render()
}
