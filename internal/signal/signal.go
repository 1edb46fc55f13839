// Package signal 将日线偏好、形态共振与交易时段合成为交易决策。
package signal

import (
	"context"
	"fmt"
	"time"

	"ictbt/internal/ict"
	"ictbt/internal/market"
	"ictbt/internal/session"
)

type Quality string

const (
	QualityAPlus Quality = "A+"
	QualityA     Quality = "A"
	QualityB     Quality = "B"
	QualityC     Quality = "C"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Signal 为单根 K 线上的可执行交易建议；价格为 0 表示由引擎按默认规则补全。
type Signal struct {
	Bias       session.Bias `json:"bias"`
	EntryPrice float64      `json:"entryPrice"`
	StopLoss   float64      `json:"stopLoss"`
	TakeProfit float64      `json:"takeProfit"`
	Confidence Confidence   `json:"confidence"`
	Quality    Quality      `json:"quality"`
	Confluence int          `json:"confluence"`
	Reason     string       `json:"reason"`
}

// GradeQuality 按共振数量评级：>=3 A+，2 A，1 B，其余 C。
func GradeQuality(count int) Quality {
	switch {
	case count >= 3:
		return QualityAPlus
	case count == 2:
		return QualityA
	case count == 1:
		return QualityB
	default:
		return QualityC
	}
}

// MarketContext 为外部评估器提供的行情上下文。
type MarketContext struct {
	Symbol     string
	Timeframe  string
	Time       time.Time
	Price      float64
	Bias       session.Bias
	Killzone   session.Killzone
	Quality    Quality
	Confluence int
	// Recent 为执行周期的历史窗口（不含当前 K 线之后的数据）。
	Recent []market.Candle
}

// Evaluator 为可替换的外部信号源（LLM 或确定性桩）。返回 nil 表示无信号。
type Evaluator interface {
	Evaluate(ctx context.Context, mc MarketContext, features ict.FeatureSet) (*Signal, error)
}

// EvaluatorFunc 让普通函数满足 Evaluator。
type EvaluatorFunc func(ctx context.Context, mc MarketContext, features ict.FeatureSet) (*Signal, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, mc MarketContext, features ict.FeatureSet) (*Signal, error) {
	return f(ctx, mc, features)
}

// EvaluationError 包装评估器失败，引擎将其视为“本根无信号”。
type EvaluationError struct {
	Stage string
	Err   error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate %s: %v", e.Stage, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
