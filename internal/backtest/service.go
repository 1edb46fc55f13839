package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"ictbt/internal/logger"
	"ictbt/internal/market"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusPartial = "partial"
	JobStatusFailed  = "failed"
)

// FetchParams 为一次补数请求，时间为 Unix 毫秒。
type FetchParams struct {
	Exchange  string `json:"exchange"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
}

// FetchJob 为异步补数任务的状态快照。
type FetchJob struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	Params    FetchParams `json:"params"`
	Total     int64       `json:"total"`
	Completed int64       `json:"completed"`
	Missing   []Gap       `json:"missing"`
	Message   string      `json:"message,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (j *FetchJob) copy() FetchJob {
	out := *j
	out.Missing = append([]Gap{}, j.Missing...)
	out.Warnings = append([]string(nil), j.Warnings...)
	return out
}

type FetchServiceConfig struct {
	Store           *Store
	Sources         map[string]CandleSource
	DefaultExchange string
	RateLimitPerMin int
	MaxBatch        int
	MaxConcurrent   int
}

// FetchService 按缺口从数据源补齐本地缓存，所有请求共享一个限速器。
type FetchService struct {
	store           *Store
	sources         map[string]CandleSource
	defaultExchange string
	maxBatch        int

	limiter *rate.Limiter
	sem     chan struct{}

	mu   sync.RWMutex
	jobs map[string]*FetchJob

	baseCtx context.Context
}

func NewFetchService(cfg FetchServiceConfig) (*FetchService, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("candle store is required")
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("at least one candle source is required")
	}
	perSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		perSec = 8
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	svc := &FetchService{
		store:           cfg.Store,
		sources:         make(map[string]CandleSource, len(cfg.Sources)),
		defaultExchange: strings.ToLower(strings.TrimSpace(cfg.DefaultExchange)),
		maxBatch:        maxBatch,
		limiter:         rate.NewLimiter(perSec, 1),
		sem:             make(chan struct{}, max(1, cfg.MaxConcurrent)),
		jobs:            make(map[string]*FetchJob),
		baseCtx:         context.Background(),
	}
	for k, v := range cfg.Sources {
		svc.sources[strings.ToLower(k)] = v
	}
	if _, ok := svc.sources[svc.defaultExchange]; !ok {
		names := svc.Exchanges()
		svc.defaultExchange = names[0]
	}
	return svc, nil
}

// SetContext 注入宿主 ctx，关闭时后台任务随之取消。
func (s *FetchService) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *FetchService) Store() *Store { return s.store }

// Exchanges 返回已注册的数据源名称（排序）。
func (s *FetchService) Exchanges() []string {
	out := make([]string, 0, len(s.sources))
	for k := range s.sources {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *FetchService) source(exchange string) (CandleSource, error) {
	if exchange = strings.ToLower(strings.TrimSpace(exchange)); exchange == "" {
		exchange = s.defaultExchange
	}
	src := s.sources[exchange]
	if src == nil {
		return nil, fmt.Errorf("%w: unknown exchange %q", ErrInvalidInput, exchange)
	}
	return src, nil
}

func (s *FetchService) normalize(p FetchParams) (FetchParams, Timeframe, CandleSource, error) {
	p.Symbol = market.NormalizeSymbol(p.Symbol)
	if p.Symbol == "" {
		return p, Timeframe{}, nil, fmt.Errorf("%w: symbol required", ErrInvalidInput)
	}
	tf, err := ParseTimeframe(p.Timeframe)
	if err != nil {
		return p, Timeframe{}, nil, err
	}
	src, err := s.source(p.Exchange)
	if err != nil {
		return p, Timeframe{}, nil, err
	}
	p.Timeframe = tf.Key
	p.Exchange = src.Name()
	p.Start, p.End = tf.AlignRange(p.Start, p.End)
	return p, tf, src, nil
}

// Ensure 同步补齐区间缺口后返回缓存中的 K 线，供回测直接使用。
// 补数失败时返回已缓存的部分；缓存为空时返回 ErrInsufficientData。
func (s *FetchService) Ensure(ctx context.Context, p FetchParams) ([]market.Candle, error) {
	p, tf, src, err := s.normalize(p)
	if err != nil {
		return nil, err
	}
	rep, err := s.store.CheckIntegrity(ctx, p.Symbol, tf, p.Start, p.End)
	if err != nil {
		return nil, err
	}
	if !rep.Complete() {
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		_, _, fillErr := s.fill(ctx, src, p, tf, rep.Gaps, nil)
		<-s.sem
		if fillErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// 拉取失败时退回已缓存的数据，一根都没有才算失败
			candles, err := s.store.Range(ctx, p.Symbol, tf.Key, p.Start, p.End)
			if err != nil {
				return nil, err
			}
			if len(candles) == 0 {
				return nil, fmt.Errorf("%w: %s %s@%s: %w", ErrInsufficientData, src.Name(), p.Symbol, tf.Key, fillErr)
			}
			logger.Warnf("[fetch] %s %s@%s 补数失败，使用已缓存的 %d 根继续: %v", src.Name(), p.Symbol, tf.Key, len(candles), fillErr)
			return candles, nil
		}
	}
	return s.store.Range(ctx, p.Symbol, tf.Key, p.Start, p.End)
}

// Submit 提交异步补数任务；区间已完整时直接返回 done。
func (s *FetchService) Submit(p FetchParams) (FetchJob, error) {
	p, tf, src, err := s.normalize(p)
	if err != nil {
		return FetchJob{}, err
	}
	if p.Start == p.End {
		return FetchJob{}, fmt.Errorf("%w: start and end must form a range", ErrInvalidInput)
	}
	rep, err := s.store.CheckIntegrity(s.baseCtx, p.Symbol, tf, p.Start, p.End)
	if err != nil {
		return FetchJob{}, err
	}
	now := time.Now()
	job := &FetchJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Params:    p,
		Total:     rep.Expected,
		Completed: min(rep.Present, rep.Expected),
		Missing:   append([]Gap{}, rep.Gaps...),
		StartedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	logger.Infof("[fetch] 任务 %s 提交：%s %s@%s [%d,%d] 预计=%d 缺口=%d", job.ID, p.Exchange, p.Symbol, p.Timeframe, p.Start, p.End, rep.Expected, len(rep.Gaps))
	if rep.Complete() {
		s.finishJob(job.ID, JobStatusDone, "数据已完整，无需重新拉取", nil, nil)
		return s.mustSnapshot(job.ID), nil
	}
	go s.runJob(job.ID, src, tf, rep.Gaps)
	return s.mustSnapshot(job.ID), nil
}

func (s *FetchService) runJob(id string, src CandleSource, tf Timeframe, gaps []Gap) {
	ctx := s.baseCtx
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.finishJob(id, JobStatusFailed, "服务已关闭", gaps, nil)
		return
	}
	defer func() { <-s.sem }()

	job, _ := s.Job(id)
	s.update(id, func(j *FetchJob) { j.Status = JobStatusRunning })
	_, warnings, err := s.fill(ctx, src, job.Params, tf, gaps, func(n int) {
		s.update(id, func(j *FetchJob) { j.Completed += int64(n) })
	})
	if err != nil {
		s.finishJob(id, JobStatusFailed, err.Error(), gaps, warnings)
		return
	}
	final, err := s.store.CheckIntegrity(ctx, job.Params.Symbol, tf, job.Params.Start, job.Params.End)
	switch {
	case err != nil:
		s.finishJob(id, JobStatusFailed, "完整性检查失败: "+err.Error(), gaps, warnings)
	case !final.Complete():
		s.finishJob(id, JobStatusPartial, "已完成，但仍存在缺口", final.Gaps, warnings)
	default:
		s.finishJob(id, JobStatusDone, "拉取完成", nil, warnings)
	}
}

// fill 按 maxBatch 分页补齐每个缺口；数据源返回空页时记录告警并跳到下一个缺口。
func (s *FetchService) fill(ctx context.Context, src CandleSource, p FetchParams, tf Timeframe, gaps []Gap, progress func(int)) (int, []string, error) {
	step := tf.Millis()
	total := 0
	var warnings []string
	for _, gap := range gaps {
		for cursor := gap.From; cursor <= gap.To; {
			if err := s.limiter.Wait(ctx); err != nil {
				return total, warnings, err
			}
			limit := int(min(int64(s.maxBatch), (gap.To-cursor)/step+1))
			data, err := src.Fetch(ctx, FetchRequest{Symbol: p.Symbol, Interval: tf.Interval, Start: cursor, End: gap.To + step - 1, Limit: limit})
			if err != nil {
				return total, warnings, err
			}
			if len(data) == 0 {
				warnings = append(warnings, fmt.Sprintf("区间 [%d,%d] 拉取为空", cursor, gap.To))
				break
			}
			n, err := s.store.Upsert(ctx, p.Symbol, tf.Key, data)
			if err != nil {
				return total, warnings, fmt.Errorf("write candles: %w", err)
			}
			total += n
			if progress != nil {
				progress(n)
			}
			next := data[len(data)-1].OpenTime + step
			if next <= cursor {
				break
			}
			cursor = next
		}
	}
	logger.Debugf("[fetch] %s %s@%s 写入 %d 根", src.Name(), p.Symbol, tf.Key, total)
	return total, warnings, nil
}

func (s *FetchService) finishJob(id, status, message string, gaps []Gap, warnings []string) {
	s.update(id, func(j *FetchJob) {
		j.Status = status
		j.Message = message
		j.Missing = append([]Gap{}, gaps...)
		if len(warnings) > 0 {
			j.Warnings = append([]string(nil), warnings...)
		}
	})
	logger.Infof("[fetch] 任务 %s 结束，状态=%s，缺口=%d", id, status, len(gaps))
}

func (s *FetchService) update(id string, fn func(*FetchJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		fn(job)
		job.UpdatedAt = time.Now()
	}
}

// Job 返回任务副本。
func (s *FetchService) Job(id string) (FetchJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return FetchJob{}, false
	}
	return job.copy(), true
}

func (s *FetchService) mustSnapshot(id string) FetchJob {
	job, _ := s.Job(id)
	return job
}

// Jobs 按提交时间倒序返回所有任务。
func (s *FetchService) Jobs() []FetchJob {
	s.mu.RLock()
	out := make([]FetchJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.copy())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Candles 读取 end 之前最近 limit 根缓存 K 线。
func (s *FetchService) Candles(ctx context.Context, symbol, timeframe string, end int64, limit int) ([]market.Candle, error) {
	if symbol == "" || timeframe == "" {
		return nil, errors.New("symbol/timeframe required")
	}
	return s.store.Latest(ctx, symbol, timeframe, end, limit)
}
