package backtest

import (
	"fmt"
	"strings"
	"time"

	"ictbt/internal/ict"
	"ictbt/internal/signal"
)

type SizingMode string

const (
	SizingFixedNotional SizingMode = "fixed_notional"
	SizingRiskBased     SizingMode = "risk_based"
)

type ExitMode string

const (
	ExitSignalFlip     ExitMode = "signal_flip"
	ExitStopTakeProfit ExitMode = "stop_take_profit"
)

// RiskPercent 为风险仓位模式下各评级的单笔风险比例，C 级不交易。
type RiskPercent struct {
	APlus float64 `toml:"a_plus" json:"aPlus" yaml:"a_plus"`
	A     float64 `toml:"a" json:"a" yaml:"a"`
	B     float64 `toml:"b" json:"b" yaml:"b"`
}

func (r RiskPercent) For(q signal.Quality) float64 {
	switch q {
	case signal.QualityAPlus:
		return r.APlus
	case signal.QualityA:
		return r.A
	case signal.QualityB:
		return r.B
	default:
		return 0
	}
}

// EngineConfig 汇总所有策略变体的开关，零值字段由 WithDefaults 补齐。
type EngineConfig struct {
	InitialCapital      float64       `toml:"initial_capital" json:"initialCapital" yaml:"initial_capital"`
	MinConfluence       int           `toml:"min_confluence" json:"minConfluence" yaml:"min_confluence"`
	Sizing              SizingMode    `toml:"sizing" json:"sizing" yaml:"sizing"`
	ExitMode            ExitMode      `toml:"exit_mode" json:"exitMode" yaml:"exit_mode"`
	TradeSize           float64       `toml:"trade_size" json:"tradeSize" yaml:"trade_size"`
	Leverage            float64       `toml:"leverage" json:"leverage" yaml:"leverage"`
	RiskPercent         RiskPercent   `toml:"risk_percent" json:"riskPercent" yaml:"risk_percent"`
	SlippageBps         float64       `toml:"slippage_bps" json:"slippageBps" yaml:"slippage_bps"`
	DefaultStopPct      float64       `toml:"default_stop_pct" json:"defaultStopPct" yaml:"default_stop_pct"`
	DefaultTargetPct    float64       `toml:"default_target_pct" json:"defaultTargetPct" yaml:"default_target_pct"`
	RewardMultiple      float64       `toml:"reward_multiple" json:"rewardMultiple" yaml:"reward_multiple"`
	WarmupCandles       int           `toml:"warmup_candles" json:"warmupCandles" yaml:"warmup_candles"`
	ExecLookback        int           `toml:"exec_lookback" json:"execLookback" yaml:"exec_lookback"`
	StructureLookback   int           `toml:"structure_lookback" json:"structureLookback" yaml:"structure_lookback"`
	MinStructureCandles int           `toml:"min_structure_candles" json:"minStructureCandles" yaml:"min_structure_candles"`
	SwingLookback       int           `toml:"swing_lookback" json:"swingLookback" yaml:"swing_lookback"`
	ConfluenceKinds     []string      `toml:"confluence_kinds" json:"confluenceKinds" yaml:"confluence_kinds"`
	RiskFreeRate        *float64      `toml:"risk_free_rate" json:"riskFreeRate" yaml:"risk_free_rate"`
	SignalTimeout       time.Duration `toml:"signal_timeout" json:"signalTimeout" yaml:"signal_timeout"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		InitialCapital:      10000,
		MinConfluence:       signal.DefaultMinConfluence,
		Sizing:              SizingFixedNotional,
		ExitMode:            ExitSignalFlip,
		TradeSize:           100,
		Leverage:            1,
		RiskPercent:         RiskPercent{APlus: 0.03, A: 0.02, B: 0.005},
		DefaultStopPct:      0.02,
		DefaultTargetPct:    0.05,
		WarmupCandles:       100,
		ExecLookback:        100,
		StructureLookback:   100,
		MinStructureCandles: 20,
		SwingLookback:       ict.DefaultSwingLookback,
		RiskFreeRate:        RiskFree(0.02),
		SignalTimeout:       30 * time.Second,
	}
}

// RiskFree 返回年化无风险利率指针；显式的 0 不会被默认值覆盖。
func RiskFree(v float64) *float64 { return &v }

// AnnualRiskFree 返回生效的无风险利率，未设置时为 0。
func (c EngineConfig) AnnualRiskFree() float64 {
	if c.RiskFreeRate == nil {
		return 0
	}
	return *c.RiskFreeRate
}

// WithDefaults 用默认值补齐零值字段，RiskFreeRate 只在未设置时补齐；SlippageBps 与 RewardMultiple 的零值即“关闭”。
func (c EngineConfig) WithDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.InitialCapital <= 0 {
		c.InitialCapital = d.InitialCapital
	}
	if c.MinConfluence <= 0 {
		c.MinConfluence = d.MinConfluence
	}
	if c.Sizing == "" {
		c.Sizing = d.Sizing
	}
	if c.ExitMode == "" {
		c.ExitMode = d.ExitMode
	}
	if c.TradeSize <= 0 {
		c.TradeSize = d.TradeSize
	}
	if c.Leverage <= 0 {
		c.Leverage = d.Leverage
	}
	if c.RiskPercent == (RiskPercent{}) {
		c.RiskPercent = d.RiskPercent
	}
	if c.DefaultStopPct <= 0 {
		c.DefaultStopPct = d.DefaultStopPct
	}
	if c.DefaultTargetPct <= 0 {
		c.DefaultTargetPct = d.DefaultTargetPct
	}
	if c.WarmupCandles < 0 {
		c.WarmupCandles = 0
	} else if c.WarmupCandles == 0 {
		c.WarmupCandles = d.WarmupCandles
	}
	if c.ExecLookback <= 0 {
		c.ExecLookback = d.ExecLookback
	}
	if c.StructureLookback <= 0 {
		c.StructureLookback = d.StructureLookback
	}
	if c.MinStructureCandles <= 0 {
		c.MinStructureCandles = d.MinStructureCandles
	}
	if c.SwingLookback <= 0 {
		c.SwingLookback = d.SwingLookback
	}
	switch {
	case c.RiskFreeRate == nil:
		c.RiskFreeRate = d.RiskFreeRate
	case *c.RiskFreeRate < 0:
		c.RiskFreeRate = RiskFree(0)
	}
	if c.SignalTimeout <= 0 {
		c.SignalTimeout = d.SignalTimeout
	}
	return c
}

func (c EngineConfig) Validate() error {
	switch c.Sizing {
	case SizingFixedNotional, SizingRiskBased:
	default:
		return fmt.Errorf("%w: unknown sizing %q", ErrInvalidInput, c.Sizing)
	}
	switch c.ExitMode {
	case ExitSignalFlip, ExitStopTakeProfit:
	default:
		return fmt.Errorf("%w: unknown exit_mode %q", ErrInvalidInput, c.ExitMode)
	}
	if c.SlippageBps < 0 || c.RewardMultiple < 0 {
		return fmt.Errorf("%w: slippage_bps and reward_multiple must be >= 0", ErrInvalidInput)
	}
	if c.DefaultStopPct >= 1 {
		return fmt.Errorf("%w: default_stop_pct must be < 1", ErrInvalidInput)
	}
	for _, k := range c.ConfluenceKinds {
		if !validKind(k) {
			return fmt.Errorf("%w: unknown confluence kind %q", ErrInvalidInput, k)
		}
	}
	return nil
}

func validKind(k string) bool {
	for _, known := range ict.AllKinds {
		if strings.EqualFold(k, string(known)) {
			return true
		}
	}
	return false
}

func (c EngineConfig) policy() signal.Policy {
	kinds := make([]ict.Kind, 0, len(c.ConfluenceKinds))
	for _, k := range c.ConfluenceKinds {
		kinds = append(kinds, ict.Kind(strings.ToLower(k)))
	}
	return signal.Policy{MinConfluence: c.MinConfluence, Kinds: kinds}
}
