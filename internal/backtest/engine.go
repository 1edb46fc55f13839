package backtest

import (
	"context"
	"fmt"

	"ictbt/internal/ict"
	"ictbt/internal/logger"
	"ictbt/internal/market"
	"ictbt/internal/session"
	"ictbt/internal/signal"
)

const (
	skipInsufficientStructure = "insufficient_structure"
	skipEvaluatorError        = "evaluator_error"
	skipSizing                = "sizing"
)

// Input 为一次回测的全部行情：执行周期、结构周期（可选）与日线。
type Input struct {
	Symbol    string
	Timeframe string
	Exec      []market.Candle
	Structure []market.Candle
	Daily     []market.Candle
	// From 之前的执行 K 线只作为历史窗口；为 0 时跳过前 WarmupCandles 根。
	From int64
	// Progress 可选，每处理一批 K 线回调一次。
	Progress func(done, total int)
}

// Engine 逐根推进执行周期 K 线，严格串行：上一根的出场、入场、权益更新完成后才处理下一根。
type Engine struct {
	cfg       EngineConfig
	evaluator signal.Evaluator
}

// NewEngine 校验配置；evaluator 为空时只使用规则决策。
func NewEngine(cfg EngineConfig, evaluator signal.Evaluator) (*Engine, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, evaluator: evaluator}, nil
}

func (e *Engine) Config() EngineConfig { return e.cfg }

// Run 执行一次完整回测。任何失败都以 *PhaseError 返回，不会返回半成品报告。
func (e *Engine) Run(ctx context.Context, in Input) (*Report, error) {
	if err := market.Candles(in.Exec).Validate(); err != nil {
		return nil, phaseErr(PhaseSimulate, fmt.Errorf("%w: exec series: %v", ErrInvalidInput, err))
	}
	sim := &simulation{
		cfg:       e.cfg,
		policy:    e.cfg.policy(),
		evaluator: e.evaluator,
		in:        in,
		exec:      in.Exec,
		daily:     cleanContext(in.Symbol, "daily", in.Daily),
		structure: cleanContext(in.Symbol, "structure", in.Structure),
		acct:      NewAccount(e.cfg.InitialCapital),
		skips:     make(map[string]int),
	}
	start := e.startIndex(in)
	total := len(in.Exec) - start
	step := max(1, total/20)
	for i := start; i < len(in.Exec); i++ {
		if err := ctx.Err(); err != nil {
			return nil, phaseErr(PhaseSimulate, err)
		}
		if err := sim.step(ctx, i); err != nil {
			return nil, phaseErr(PhaseSimulate, err)
		}
		if done := i - start + 1; in.Progress != nil && (done%step == 0 || done == total) {
			in.Progress(done, total)
		}
	}
	if err := sim.finish(); err != nil {
		return nil, phaseErr(PhaseSimulate, err)
	}
	report, err := sim.report(start)
	if err != nil {
		return nil, phaseErr(PhaseAggregate, err)
	}
	return report, nil
}

func (e *Engine) startIndex(in Input) int {
	if in.From > 0 {
		for i, c := range in.Exec {
			if c.OpenTime >= in.From {
				return i
			}
		}
		return len(in.Exec)
	}
	return min(e.cfg.WarmupCandles, len(in.Exec))
}

// cleanContext 丢弃上下文序列中的坏 K 线，只告警不失败。
func cleanContext(symbol, name string, candles []market.Candle) []market.Candle {
	if len(candles) == 0 {
		return nil
	}
	out, dropped := market.Candles(candles).Clean()
	if dropped > 0 {
		logger.Warnf("[backtest] %s %s 序列丢弃 %d 根非法 K 线", symbol, name, dropped)
	}
	return out
}

type simulation struct {
	cfg       EngineConfig
	policy    signal.Policy
	evaluator signal.Evaluator
	in        Input
	exec      []market.Candle
	daily     []market.Candle
	structure []market.Candle
	cursor    int
	acct      *Account

	processed  int
	generated  int
	violations int
	skips      map[string]int
}

func (s *simulation) step(ctx context.Context, i int) error {
	c := s.exec[i]
	dec := s.decide(ctx, i)

	if pos, ok := s.acct.Position(); ok {
		var reason ExitReason
		var note string
		switch s.cfg.ExitMode {
		case ExitStopTakeProfit:
			if r, hit := exitTrigger(pos, c.Close); hit {
				reason = r
				note = fmt.Sprintf("close %.8g crossed %s", c.Close, r)
			}
		default:
			if dec.Signal != nil {
				reason = ExitSignalReversal
				note = fmt.Sprintf("new %s signal Q:%s", dec.Signal.Bias, dec.Signal.Quality)
			}
		}
		if reason != "" {
			if _, err := s.acct.Close(fillPrice(c.Close, pos.Side, false, s.cfg.SlippageBps), c.OpenTime, reason, note); err != nil {
				return err
			}
		}
	}

	if s.acct.State() == StateFlat && dec.Signal != nil {
		if err := s.open(c, dec); err != nil {
			return err
		}
	}

	s.acct.Mark(c.OpenTime, c.Close)
	s.processed++
	return nil
}

func (s *simulation) open(c market.Candle, dec signal.Decision) error {
	sig := dec.Signal
	entry := fillPrice(c.Close, sig.Bias, true, s.cfg.SlippageBps)
	stop, target := s.cfg.protectiveLevels(sig.Bias, entry, sig)
	qty, notional, err := s.cfg.size(dec.Quality, entry, stop, s.acct.Balance())
	if err != nil {
		s.skips[skipSizing]++
		logger.Debugf("[backtest] %s %s 跳过开仓: %v", s.in.Symbol, c.TimeString(), err)
		return nil
	}
	return s.acct.Open(Position{
		Side:        sig.Bias,
		EntryPrice:  entry,
		EntryTime:   c.OpenTime,
		StopLoss:    stop,
		TakeProfit:  target,
		Quantity:    qty,
		Notional:    notional,
		Quality:     dec.Quality,
		Session:     session.ClassifyKillzone(c.OpenAt()),
		EntryReason: sig.Reason,
	})
}

// decide 先做廉价的时段/偏好判断，通过后才提取形态与调用外部评估器。
func (s *simulation) decide(ctx context.Context, i int) signal.Decision {
	c := s.exec[i]
	at := c.OpenAt()
	kz := session.ClassifyKillzone(at)
	bias := session.DailyBias(s.daily, at)
	window := s.structureWindow(i)
	if kz == "" || bias == "" {
		return s.skip(signal.Decide(bias, ict.FeatureSet{}, kz, s.policy))
	}
	if len(window) < s.cfg.MinStructureCandles {
		return s.skip(signal.Decision{Skip: skipInsufficientStructure})
	}
	features := ict.Extract(window, ict.Options{SwingLookback: s.cfg.SwingLookback})
	dec := signal.Decide(bias, features, kz, s.policy)
	if dec.Signal == nil {
		return s.skip(dec)
	}
	if s.evaluator == nil {
		s.generated++
		return dec
	}
	mc := signal.MarketContext{
		Symbol:     s.in.Symbol,
		Timeframe:  s.in.Timeframe,
		Time:       at,
		Price:      c.Close,
		Bias:       bias,
		Killzone:   kz,
		Quality:    dec.Quality,
		Confluence: dec.Confluence,
		Recent:     s.exec[max(0, i+1-s.cfg.ExecLookback) : i+1],
	}
	evalCtx, cancel := context.WithTimeout(ctx, s.cfg.SignalTimeout)
	ext, err := s.evaluator.Evaluate(evalCtx, mc, features)
	cancel()
	if err != nil {
		logger.Warnf("[backtest] %s %s 信号评估失败，按无信号处理: %v", s.in.Symbol, c.TimeString(), err)
		return s.skip(signal.Decision{Skip: skipEvaluatorError})
	}
	if ext != nil {
		s.generated++
	}
	dec = signal.Confirm(dec, ext)
	if dec.Skip == signal.SkipBiasMismatch {
		s.violations++
	}
	if dec.Signal == nil {
		return s.skip(dec)
	}
	return dec
}

func (s *simulation) skip(d signal.Decision) signal.Decision {
	if d.Skip != "" {
		s.skips[d.Skip]++
	}
	d.Signal = nil
	return d
}

// structureWindow 返回当前 K 线收盘时已收盘的结构周期窗口；没有结构序列时使用执行周期历史（不含当前根）。
func (s *simulation) structureWindow(i int) []market.Candle {
	lookback := s.cfg.StructureLookback
	if len(s.structure) == 0 {
		return s.exec[max(0, i-lookback):i]
	}
	now := closeMillis(s.exec[i])
	for s.cursor < len(s.structure) && closeMillis(s.structure[s.cursor]) <= now {
		s.cursor++
	}
	return s.structure[max(0, s.cursor-lookback):s.cursor]
}

func closeMillis(c market.Candle) int64 {
	if c.CloseTime > 0 {
		return c.CloseTime
	}
	return c.OpenTime
}

// finish 在序列末尾以最后收盘价强制平仓。
func (s *simulation) finish() error {
	pos, ok := s.acct.Position()
	if !ok {
		return nil
	}
	last := s.exec[len(s.exec)-1]
	_, err := s.acct.Close(fillPrice(last.Close, pos.Side, false, s.cfg.SlippageBps), last.OpenTime, ExitPeriodEnd, "end of backtest period")
	return err
}

func (s *simulation) report(start int) (*Report, error) {
	trades := s.acct.Trades()
	if s.acct.State() == StateInPosition {
		return nil, fmt.Errorf("%w: position left open after finish", ErrInvariantViolation)
	}
	if len(trades) != s.acct.Entries() {
		return nil, fmt.Errorf("%w: %d trades for %d entries", ErrInvariantViolation, len(trades), s.acct.Entries())
	}
	curve := s.acct.Curve()
	q, sess := breakdowns(trades)
	r := &Report{
		Symbol:           s.in.Symbol,
		Timeframe:        s.in.Timeframe,
		Config:           s.cfg,
		Summary:          Summarize(s.acct.Initial(), trades, curve, s.acct.MaxDrawdownPct(), s.cfg.AnnualRiskFree()),
		Trades:           nonNil(trades),
		EquityCurve:      nonNil(curve),
		QualityBreakdown: q,
		SessionBreakdown: sess,
		RuleCompliance:   compliance(s.generated, s.violations),
		Processed:        s.processed,
		Skips:            s.skips,
	}
	if s.processed > 0 {
		r.Period = Period{Start: s.exec[start].OpenTime, End: s.exec[len(s.exec)-1].OpenTime}
	}
	return r, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
