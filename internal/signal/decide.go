package signal

import (
	"fmt"

	"ictbt/internal/ict"
	"ictbt/internal/session"
)

const DefaultMinConfluence = 2

// Policy 控制决策门槛。
type Policy struct {
	MinConfluence int
	Kinds         []ict.Kind
}

// 未下单原因。
const (
	SkipNoSession     = "no_session"
	SkipNoBias        = "no_bias"
	SkipNoConfluence  = "no_confluence"
	SkipBelowMinimum  = "below_min_confluence"
	SkipBiasMismatch  = "bias_mismatch"
	SkipEvaluatorNone = "evaluator_no_signal"
)

// Decision 为 Decide 的结果：Signal 为 nil 时 Skip 给出原因。
type Decision struct {
	Signal     *Signal
	Quality    Quality
	Confluence int
	Skip       string
}

// Decide 按固定顺序判断：时段、偏好、同向共振数量、最小共振门槛。方向始终跟随 bias。
func Decide(bias session.Bias, features ict.FeatureSet, kz session.Killzone, p Policy) Decision {
	if kz == "" {
		return Decision{Quality: QualityC, Skip: SkipNoSession}
	}
	if bias == "" {
		return Decision{Quality: QualityC, Skip: SkipNoBias}
	}
	polarity := ict.Bullish
	if bias == session.Short {
		polarity = ict.Bearish
	}
	count := features.Aligned(polarity, p.Kinds)
	if count == 0 {
		return Decision{Quality: QualityC, Skip: SkipNoConfluence}
	}
	q := GradeQuality(count)
	if count < p.minConfluence() {
		return Decision{Quality: q, Confluence: count, Skip: SkipBelowMinimum}
	}
	return Decision{
		Quality:    q,
		Confluence: count,
		Signal: &Signal{
			Bias:       bias,
			Confidence: confidenceFor(q),
			Quality:    q,
			Confluence: count,
			Reason:     fmt.Sprintf("D1:%s | PD:%d | %s | Q:%s", bias, count, kz, q),
		},
	}
}

func (p Policy) minConfluence() int {
	if p.MinConfluence <= 0 {
		return DefaultMinConfluence
	}
	return p.MinConfluence
}

func confidenceFor(q Quality) Confidence {
	switch q {
	case QualityAPlus:
		return ConfidenceHigh
	case QualityA:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Confirm 用外部信号确认规则决策：方向不一致时返回 SkipBiasMismatch，
// 一致时沿用规则给出的评级与共振，并采用外部给出的价格与理由。
func Confirm(rule Decision, external *Signal) Decision {
	if rule.Signal == nil {
		return rule
	}
	if external == nil {
		return Decision{Quality: rule.Quality, Confluence: rule.Confluence, Skip: SkipEvaluatorNone}
	}
	if external.Bias != rule.Signal.Bias {
		return Decision{Quality: rule.Quality, Confluence: rule.Confluence, Skip: SkipBiasMismatch}
	}
	merged := *external
	merged.Quality = rule.Quality
	merged.Confluence = rule.Confluence
	if merged.Confidence == "" {
		merged.Confidence = rule.Signal.Confidence
	}
	if merged.Reason == "" {
		merged.Reason = rule.Signal.Reason
	} else {
		merged.Reason = rule.Signal.Reason + " | " + merged.Reason
	}
	return Decision{Signal: &merged, Quality: rule.Quality, Confluence: rule.Confluence}
}
