package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ictbt/internal/ict"
	"ictbt/internal/session"
)

func bullishFeatures(n int) ict.FeatureSet {
	var fs ict.FeatureSet
	for i := 0; i < n; i++ {
		fs.OrderBlocks = append(fs.OrderBlocks, ict.OrderBlock{Type: ict.Bullish, Timestamp: int64(i)})
	}
	fs.FVGs = []ict.FairValueGap{{Type: ict.Bearish}}
	return fs
}

func TestGradeQuality(t *testing.T) {
	assert.Equal(t, QualityC, GradeQuality(0))
	assert.Equal(t, QualityB, GradeQuality(1))
	assert.Equal(t, QualityA, GradeQuality(2))
	assert.Equal(t, QualityAPlus, GradeQuality(3))
	assert.Equal(t, QualityAPlus, GradeQuality(12))
}

func TestDecideGates(t *testing.T) {
	fs := bullishFeatures(3)

	t.Run("session is mandatory", func(t *testing.T) {
		d := Decide(session.Long, fs, "", Policy{})
		assert.Nil(t, d.Signal)
		assert.Equal(t, SkipNoSession, d.Skip)
	})
	t.Run("bias is mandatory", func(t *testing.T) {
		d := Decide("", fs, session.London, Policy{})
		assert.Nil(t, d.Signal)
		assert.Equal(t, SkipNoBias, d.Skip)
	})
	t.Run("only aligned polarity counts", func(t *testing.T) {
		d := Decide(session.Short, fs, session.London, Policy{MinConfluence: 1})
		require.NotNil(t, d.Signal)
		assert.Equal(t, 1, d.Confluence)
		assert.Equal(t, QualityB, d.Quality)
		assert.Equal(t, session.Short, d.Signal.Bias)
	})
	t.Run("no aligned features", func(t *testing.T) {
		d := Decide(session.Short, bullishFeatures(2), session.NY, Policy{Kinds: []ict.Kind{ict.KindOrderBlock}})
		assert.Equal(t, SkipNoConfluence, d.Skip)
	})
	t.Run("default minimum is two", func(t *testing.T) {
		d := Decide(session.Long, bullishFeatures(1), session.NY, Policy{})
		assert.Nil(t, d.Signal)
		assert.Equal(t, SkipBelowMinimum, d.Skip)
		assert.Equal(t, QualityB, d.Quality)
	})
	t.Run("grade A plus", func(t *testing.T) {
		d := Decide(session.Long, fs, session.Asia, Policy{})
		require.NotNil(t, d.Signal)
		assert.Equal(t, QualityAPlus, d.Signal.Quality)
		assert.Equal(t, ConfidenceHigh, d.Signal.Confidence)
		assert.Equal(t, "D1:LONG | PD:3 | ASIA | Q:A+", d.Signal.Reason)
	})
}

func TestConfirm(t *testing.T) {
	rule := Decide(session.Long, bullishFeatures(2), session.NY, Policy{})
	require.NotNil(t, rule.Signal)

	d := Confirm(rule, &Signal{Bias: session.Short})
	assert.Nil(t, d.Signal)
	assert.Equal(t, SkipBiasMismatch, d.Skip)

	d = Confirm(rule, nil)
	assert.Equal(t, SkipEvaluatorNone, d.Skip)

	d = Confirm(rule, &Signal{Bias: session.Long, StopLoss: 90, TakeProfit: 120, Reason: "sweep"})
	require.NotNil(t, d.Signal)
	assert.Equal(t, QualityA, d.Signal.Quality)
	assert.Equal(t, 90.0, d.Signal.StopLoss)
	assert.Equal(t, ConfidenceMedium, d.Signal.Confidence)
	assert.Contains(t, d.Signal.Reason, "sweep")

	skipped := Decision{Skip: SkipNoSession}
	assert.Equal(t, skipped, Confirm(skipped, &Signal{Bias: session.Long}))
}
