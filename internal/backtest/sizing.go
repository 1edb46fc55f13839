package backtest

import (
	"fmt"
	"math"

	"ictbt/internal/session"
	"ictbt/internal/signal"
)

// fillPrice 在收盘价基础上加入不利滑点：买入上浮、卖出下调。
func fillPrice(close float64, side session.Bias, opening bool, bps float64) float64 {
	if bps <= 0 {
		return close
	}
	adj := close * bps / 10000
	buy := (side == session.Long) == opening
	if buy {
		return close + adj
	}
	return close - adj
}

// protectiveLevels 优先使用信号给出的止损/止盈（需位于入场价正确一侧），否则按默认比例；
// RewardMultiple > 0 时止盈改为止损距离的倍数。
func (c EngineConfig) protectiveLevels(side session.Bias, entry float64, sig *signal.Signal) (stop, target float64) {
	long := side == session.Long
	stop = entry * (1 - c.DefaultStopPct)
	if !long {
		stop = entry * (1 + c.DefaultStopPct)
	}
	if sig != nil && sig.StopLoss > 0 && ((long && sig.StopLoss < entry) || (!long && sig.StopLoss > entry)) {
		stop = sig.StopLoss
	}
	if c.RewardMultiple > 0 {
		dist := math.Abs(entry - stop)
		if long {
			return stop, entry + dist*c.RewardMultiple
		}
		return stop, entry - dist*c.RewardMultiple
	}
	target = entry * (1 + c.DefaultTargetPct)
	if !long {
		target = entry * (1 - c.DefaultTargetPct)
	}
	if sig != nil && sig.TakeProfit > 0 && ((long && sig.TakeProfit > entry) || (!long && sig.TakeProfit < entry)) {
		target = sig.TakeProfit
	}
	return stop, target
}

// size 计算下单数量与名义价值。
// fixed_notional：名义 = TradeSize × Leverage；risk_based：数量 = 余额 × 评级风险比例 / |入场-止损|，
// 名义价值不超过余额 × Leverage。
func (c EngineConfig) size(q signal.Quality, entry, stop, balance float64) (qty, notional float64, err error) {
	if entry <= 0 {
		return 0, 0, fmt.Errorf("entry price %.8f", entry)
	}
	switch c.Sizing {
	case SizingRiskBased:
		pct := c.RiskPercent.For(q)
		if pct <= 0 {
			return 0, 0, fmt.Errorf("quality %s is not tradable", q)
		}
		if balance <= 0 {
			return 0, 0, fmt.Errorf("balance %.2f", balance)
		}
		perUnit := math.Abs(entry - stop)
		if perUnit <= 0 {
			perUnit = entry * 0.01
		}
		qty = balance * pct / perUnit
		notional = qty * entry
		if limit := balance * c.Leverage; notional > limit {
			notional = limit
			qty = notional / entry
		}
		return qty, notional, nil
	default:
		notional = c.TradeSize * c.Leverage
		return notional / entry, notional, nil
	}
}

// exitTrigger 检查止损/止盈，止损优先。
func exitTrigger(pos Position, price float64) (ExitReason, bool) {
	if pos.Side == session.Long {
		if pos.StopLoss > 0 && price <= pos.StopLoss {
			return ExitStopLoss, true
		}
		if pos.TakeProfit > 0 && price >= pos.TakeProfit {
			return ExitTakeProfit, true
		}
		return "", false
	}
	if pos.StopLoss > 0 && price >= pos.StopLoss {
		return ExitStopLoss, true
	}
	if pos.TakeProfit > 0 && price <= pos.TakeProfit {
		return ExitTakeProfit, true
	}
	return "", false
}
