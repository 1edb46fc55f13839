package backtest

import (
	"math"

	"ictbt/internal/session"
	"ictbt/internal/signal"
)

// ProfitFactorNoLoss 为“有盈利无亏损”时的利润因子哨兵值。
const ProfitFactorNoLoss = 999.0

const tradingDays = 252

type Summary struct {
	InitialCapital float64 `json:"initialCapital"`
	FinalBalance   float64 `json:"finalBalance"`
	TotalProfit    float64 `json:"totalProfit"`
	TotalReturnPct float64 `json:"totalReturnPct"`
	MaxDrawdownPct float64 `json:"maxDrawdownPct"`
	WinRatePct     float64 `json:"winRatePct"`
	ProfitFactor   float64 `json:"profitFactor"`
	SharpeRatio    float64 `json:"sharpeRatio"`
	TotalTrades    int     `json:"totalTrades"`
	WinningTrades  int     `json:"winningTrades"`
	LosingTrades   int     `json:"losingTrades"`
	AvgWin         float64 `json:"avgWin"`
	AvgLoss        float64 `json:"avgLoss"`
	LargestWin     float64 `json:"largestWin"`
	LargestLoss    float64 `json:"largestLoss"`
	PeakEquity     float64 `json:"peakEquity"`
}

type QualityBreakdown struct {
	APlus int `json:"aPlus"`
	A     int `json:"a"`
	B     int `json:"b"`
}

type SessionBreakdown struct {
	Asia   int `json:"asia"`
	London int `json:"london"`
	NY     int `json:"ny"`
}

type RuleCompliance struct {
	TotalSignalsGenerated int     `json:"totalSignalsGenerated"`
	RuleViolations        int     `json:"ruleViolations"`
	ComplianceRate        float64 `json:"complianceRate"`
}

// Summarize 将成交记录与资金曲线归约为汇总指标。盈利 > 0 计为胜，< 0 计为负，持平两边都不计。
func Summarize(initial float64, trades []Trade, curve []EquityPoint, maxDD, riskFreeRate float64) Summary {
	s := Summary{
		InitialCapital: initial,
		FinalBalance:   initial,
		MaxDrawdownPct: maxDD,
		PeakEquity:     initial,
		TotalTrades:    len(trades),
	}
	var grossWin, grossLoss float64
	for _, t := range trades {
		s.FinalBalance += t.Profit
		switch {
		case t.Profit > 0:
			s.WinningTrades++
			grossWin += t.Profit
			s.LargestWin = math.Max(s.LargestWin, t.Profit)
		case t.Profit < 0:
			s.LosingTrades++
			grossLoss += t.Profit
			s.LargestLoss = math.Min(s.LargestLoss, t.Profit)
		}
	}
	s.TotalProfit = s.FinalBalance - initial
	if initial > 0 {
		s.TotalReturnPct = s.TotalProfit / initial * 100
	}
	if s.TotalTrades > 0 {
		s.WinRatePct = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
	}
	if s.WinningTrades > 0 {
		s.AvgWin = grossWin / float64(s.WinningTrades)
	}
	if s.LosingTrades > 0 {
		s.AvgLoss = grossLoss / float64(s.LosingTrades)
	}
	s.ProfitFactor = profitFactor(grossWin, grossLoss)
	s.SharpeRatio = Sharpe(curve, riskFreeRate)
	for _, p := range curve {
		s.PeakEquity = math.Max(s.PeakEquity, p.PeakEquity)
	}
	return s.sanitized()
}

func profitFactor(grossWin, grossLoss float64) float64 {
	switch {
	case grossWin <= 0:
		return 0
	case grossLoss == 0:
		return ProfitFactorNoLoss
	default:
		return grossWin / math.Abs(grossLoss)
	}
}

// Sharpe 基于逐点收益率（总体标准差）年化：(mean - rf/252) / sd × √252。
// 少于 2 个点或标准差为 0 时返回 0；前一点权益 <= 0 的步长跳过。
func Sharpe(curve []EquityPoint, annualRiskFree float64) float64 {
	if len(curve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	sd := math.Sqrt(variance / float64(len(returns)))
	if sd == 0 || math.IsNaN(sd) {
		return 0
	}
	return finite((mean - annualRiskFree/tradingDays) / sd * math.Sqrt(tradingDays))
}

func breakdowns(trades []Trade) (QualityBreakdown, SessionBreakdown) {
	var q QualityBreakdown
	var s SessionBreakdown
	for _, t := range trades {
		switch t.Quality {
		case signal.QualityAPlus:
			q.APlus++
		case signal.QualityA:
			q.A++
		case signal.QualityB:
			q.B++
		}
		switch t.Session {
		case session.Asia:
			s.Asia++
		case session.London:
			s.London++
		case session.NY:
			s.NY++
		}
	}
	return q, s
}

func compliance(generated, violations int) RuleCompliance {
	return RuleCompliance{
		TotalSignalsGenerated: generated,
		RuleViolations:        violations,
		ComplianceRate:        float64(generated-violations) / float64(max(generated, 1)) * 100,
	}
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func (s Summary) sanitized() Summary {
	for _, p := range []*float64{
		&s.FinalBalance, &s.TotalProfit, &s.TotalReturnPct, &s.MaxDrawdownPct, &s.WinRatePct,
		&s.ProfitFactor, &s.SharpeRatio, &s.AvgWin, &s.AvgLoss, &s.LargestWin, &s.LargestLoss, &s.PeakEquity,
	} {
		*p = finite(*p)
	}
	return s
}
