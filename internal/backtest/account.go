package backtest

import (
	"fmt"
	"math"

	"ictbt/internal/session"
	"ictbt/internal/signal"
)

type State string

const (
	StateFlat       State = "FLAT"
	StateInPosition State = "IN_POSITION"
)

type ExitReason string

const (
	ExitStopLoss       ExitReason = "STOP_LOSS"
	ExitTakeProfit     ExitReason = "TAKE_PROFIT"
	ExitSignalReversal ExitReason = "SIGNAL_REVERSAL"
	ExitPeriodEnd      ExitReason = "PERIOD_END"
)

// Position 为当前唯一的持仓。
type Position struct {
	Side        session.Bias     `json:"side"`
	EntryPrice  float64          `json:"entryPrice"`
	EntryTime   int64            `json:"entryTime"`
	StopLoss    float64          `json:"stopLoss"`
	TakeProfit  float64          `json:"takeProfit"`
	Quantity    float64          `json:"quantity"`
	Notional    float64          `json:"notional"`
	Quality     signal.Quality   `json:"quality"`
	Session     session.Killzone `json:"session"`
	EntryReason string           `json:"entryReason"`
}

// PnL 按多空方向计算在 price 平仓的盈亏。
func (p Position) PnL(price float64) float64 {
	diff := price - p.EntryPrice
	if p.Side == session.Short {
		diff = -diff
	}
	return diff * p.Quantity
}

// Trade 为已平仓记录，写入后不再修改。
type Trade struct {
	ID            int              `json:"id"`
	Side          session.Bias     `json:"side"`
	EntryPrice    float64          `json:"entryPrice"`
	EntryTime     int64            `json:"entryTime"`
	ExitPrice     float64          `json:"exitPrice"`
	ExitTime      int64            `json:"exitTime"`
	StopLoss      float64          `json:"stopLoss"`
	TakeProfit    float64          `json:"takeProfit"`
	Quantity      float64          `json:"quantity"`
	Notional      float64          `json:"notional"`
	Profit        float64          `json:"profit"`
	ProfitPercent float64          `json:"profitPercent"`
	Quality       signal.Quality   `json:"quality"`
	Session       session.Killzone `json:"session"`
	ExitReason    ExitReason       `json:"exitReason"`
	EntryReason   string           `json:"entryReason"`
	ExitNote      string           `json:"exitNote,omitempty"`
}

// EquityPoint 为资金曲线上的一点，每根处理过的 K 线一条。
type EquityPoint struct {
	Timestamp   int64   `json:"timestamp"`
	Equity      float64 `json:"equity"`
	Balance     float64 `json:"balance"`
	PeakEquity  float64 `json:"peakEquity"`
	DrawdownPct float64 `json:"drawdownPct"`
}

// Account 是 FLAT ⇄ IN_POSITION 状态机，余额只随已实现盈亏变化（不冻结保证金）。
// 每次回测独占一个 Account，不可跨 goroutine 共享。
type Account struct {
	initial  float64
	balance  float64
	equity   float64
	peak     float64
	maxDD    float64
	position *Position
	trades   []Trade
	curve    []EquityPoint
	entries  int
}

func NewAccount(initial float64) *Account {
	return &Account{initial: initial, balance: initial, equity: initial, peak: initial}
}

func (a *Account) State() State {
	if a.position != nil {
		return StateInPosition
	}
	return StateFlat
}

// Open 开仓；已有持仓时返回 ErrInvariantViolation，不覆盖原状态。
func (a *Account) Open(p Position) error {
	if a.position != nil {
		return fmt.Errorf("%w: open %s while %s position from %d is active", ErrInvariantViolation, p.Side, a.position.Side, a.position.EntryTime)
	}
	if p.Quantity <= 0 || p.EntryPrice <= 0 || math.IsNaN(p.Quantity) || math.IsInf(p.Quantity, 0) {
		return fmt.Errorf("%w: non-positive quantity %.8f or price %.8f", ErrInvariantViolation, p.Quantity, p.EntryPrice)
	}
	pos := p
	a.position = &pos
	a.entries++
	return nil
}

// Close 以 price 平掉当前持仓，盈亏计入余额并追加 Trade。
func (a *Account) Close(price float64, ts int64, reason ExitReason, note string) (Trade, error) {
	if a.position == nil {
		return Trade{}, fmt.Errorf("%w: close while flat", ErrInvariantViolation)
	}
	pos := *a.position
	profit := pos.PnL(price)
	pct := 0.0
	if pos.Notional > 0 {
		pct = profit / pos.Notional * 100
	}
	t := Trade{
		ID:            len(a.trades) + 1,
		Side:          pos.Side,
		EntryPrice:    pos.EntryPrice,
		EntryTime:     pos.EntryTime,
		ExitPrice:     price,
		ExitTime:      ts,
		StopLoss:      pos.StopLoss,
		TakeProfit:    pos.TakeProfit,
		Quantity:      pos.Quantity,
		Notional:      pos.Notional,
		Profit:        profit,
		ProfitPercent: pct,
		Quality:       pos.Quality,
		Session:       pos.Session,
		ExitReason:    reason,
		EntryReason:   pos.EntryReason,
		ExitNote:      note,
	}
	a.balance += profit
	a.trades = append(a.trades, t)
	a.position = nil
	return t, nil
}

// Mark 以收盘价重估权益并更新峰值与最大回撤，每根 K 线调用一次。
func (a *Account) Mark(ts int64, price float64) EquityPoint {
	a.equity = a.balance
	if a.position != nil {
		a.equity += a.position.PnL(price)
	}
	if a.equity > a.peak {
		a.peak = a.equity
	}
	dd := 0.0
	if a.peak > 0 {
		dd = (a.peak - a.equity) / a.peak * 100
	}
	if dd > a.maxDD {
		a.maxDD = dd
	}
	pt := EquityPoint{Timestamp: ts, Equity: a.equity, Balance: a.balance, PeakEquity: a.peak, DrawdownPct: dd}
	a.curve = append(a.curve, pt)
	return pt
}

func (a *Account) Initial() float64        { return a.initial }
func (a *Account) Balance() float64        { return a.balance }
func (a *Account) Equity() float64         { return a.equity }
func (a *Account) PeakEquity() float64     { return a.peak }
func (a *Account) MaxDrawdownPct() float64 { return a.maxDD }
func (a *Account) Entries() int            { return a.entries }
func (a *Account) Trades() []Trade         { return a.trades }
func (a *Account) Curve() []EquityPoint    { return a.curve }

// Position 返回当前持仓副本，空仓时 ok=false。
func (a *Account) Position() (Position, bool) {
	if a.position == nil {
		return Position{}, false
	}
	return *a.position, true
}
