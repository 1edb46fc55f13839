package ict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ictbt/internal/market"
)

const minute = int64(60_000)

func mk(i int, o, h, l, c float64) market.Candle {
	ts := int64(i+1) * minute
	return market.Candle{OpenTime: ts, CloseTime: ts + minute - 1, Open: o, High: h, Low: l, Close: c, Volume: 1}
}

func flatSeries(n int) []market.Candle {
	out := make([]market.Candle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, mk(i, 100, 101, 100, 100.5))
	}
	return out
}

func TestOrderBlocksAndBreakers(t *testing.T) {
	cs := flatSeries(22)
	cs = append(cs,
		mk(22, 100.5, 101, 100, 100),
		mk(23, 100, 105, 100, 104.5),
		mk(24, 100, 101, 100, 100.5),
	)

	blocks := OrderBlocks(cs)
	require.Len(t, blocks, 1)
	ob := blocks[0]
	assert.Equal(t, Bullish, ob.Type)
	assert.Equal(t, cs[22].OpenTime, ob.Timestamp)
	assert.Equal(t, 101.0, ob.High)
	assert.Equal(t, 100.0, ob.Low)
	assert.Equal(t, 100.0, ob.Strength)

	assert.Empty(t, Breakers(cs, blocks))

	cs = append(cs, mk(25, 100, 100.2, 98.8, 99))
	brk := Breakers(cs, OrderBlocks(cs))
	require.Len(t, brk, 1)
	assert.Equal(t, Bearish, brk[0].Type)
	assert.Equal(t, cs[25].OpenTime, brk[0].Timestamp)
	assert.Equal(t, cs[22].OpenTime, brk[0].OriginTime)
}

func TestBlockStrengthClamped(t *testing.T) {
	cur := mk(0, 10, 12, 10, 11)
	next := mk(1, 11, 11.5, 11, 11.2)
	s := blockStrength(cur, next, Bearish)
	assert.InDelta(t, 0.5*50+0.25*50, s, 1e-9)
	assert.Equal(t, 0.0, blockStrength(mk(0, 10, 10, 10, 10), next, Bullish))
}

func TestFairValueGaps(t *testing.T) {
	cs := []market.Candle{
		mk(0, 9, 10, 8, 9.5),
		mk(1, 9.5, 12, 9.4, 11.8),
		mk(2, 11.8, 13, 11, 12.5),
		mk(3, 12.5, 12.6, 7, 7.2),
		mk(4, 7.2, 7.5, 6, 6.2),
	}
	gaps := FairValueGaps(cs)
	require.Len(t, gaps, 2)
	assert.Equal(t, FairValueGap{Type: Bullish, Top: 11, Bottom: 10, Timestamp: cs[1].OpenTime, Size: 1}, gaps[0])
	assert.Equal(t, Bearish, gaps[1].Type)
	assert.Equal(t, cs[3].OpenTime, gaps[1].Timestamp)
	assert.InDelta(t, 3.5, gaps[1].Size, 1e-9)
}

func TestSwingsRequireBothSides(t *testing.T) {
	cs := []market.Candle{
		mk(0, 10, 11, 9, 10),
		mk(1, 10, 12, 9.5, 10),
		mk(2, 10, 15, 9.8, 10),
		mk(3, 10, 12, 9.5, 10),
		mk(4, 10, 11, 8, 10),
	}
	highs, lows := Swings(cs, 2)
	require.Len(t, highs, 1)
	assert.Equal(t, 15.0, highs[0].Price)
	assert.Empty(t, lows, "edge candles never qualify")

	highs, _ = Swings(cs[:4], 2)
	assert.Empty(t, highs)
}

func TestStructureShifts(t *testing.T) {
	highs := []SwingPoint{{Type: SwingHigh, Price: 110, Timestamp: 2}, {Type: SwingHigh, Price: 108, Timestamp: 4}}
	lows := []SwingPoint{{Type: SwingLow, Price: 100, Timestamp: 1}, {Type: SwingLow, Price: 105, Timestamp: 3}}

	shifts := StructureShifts(highs, lows)
	require.Len(t, shifts, 2)
	assert.Equal(t, StructureShift{Type: Bullish, BreakLevel: 100, Price: 105, Timestamp: 3}, shifts[0])
	assert.Equal(t, StructureShift{Type: Bearish, BreakLevel: 110, Price: 108, Timestamp: 4}, shifts[1])
}

func TestSupplyDemandZones(t *testing.T) {
	var cs []market.Candle
	for i := 0; i < 20; i++ {
		cs = append(cs, mk(i, 100, 101.5, 99.5, 101))
	}
	cs = append(cs,
		mk(20, 100, 100.3, 99.9, 100.1),
		mk(21, 100, 100.3, 99.9, 100.1),
		mk(22, 100, 104.5, 99.8, 104),
	)
	zones := SupplyDemandZones(cs)
	require.Len(t, zones, 1)
	z := zones[0]
	assert.Equal(t, Demand, z.Type)
	assert.Equal(t, 100.3, z.Top)
	assert.Equal(t, 99.9, z.Bottom)
	assert.Equal(t, 2, z.BaseSize)
	assert.Equal(t, cs[20].OpenTime, z.Timestamp)

	assert.Nil(t, SupplyDemandZones(cs[:15]))
}

func TestExtractCapsAndAligned(t *testing.T) {
	var cs []market.Candle
	price := 100.0
	for i := 0; i < 60; i++ {
		// 阶梯上涨，每根都留下看多 FVG
		cs = append(cs, mk(i, price, price+1, price-0.2, price+0.9))
		price += 1.5
	}
	fs := Extract(cs, Options{})
	assert.Len(t, fs.FVGs, maxFVGs)
	assert.Equal(t, cs[58].OpenTime, fs.FVGs[len(fs.FVGs)-1].Timestamp)
	assert.Equal(t, maxFVGs, fs.Aligned(Bullish, []Kind{KindFVG}))
	assert.Equal(t, 0, fs.Aligned(Bearish, nil))

	sum := fs.Summarize(cs[len(cs)-1].Close)
	assert.Equal(t, maxFVGs, sum.FVGs)
	assert.NotEmpty(t, sum.Bias)
}

func TestAlignedCountsEveryKind(t *testing.T) {
	fs := FeatureSet{
		OrderBlocks: []OrderBlock{{Type: Bullish}, {Type: Bearish}},
		FVGs:        []FairValueGap{{Type: Bullish}},
		Shifts:      []StructureShift{{Type: Bearish}},
		Zones:       []Zone{{Type: Demand}, {Type: Supply}},
		Breakers:    []BreakerBlock{{Type: Bullish}},
		SwingHighs:  []SwingPoint{{Type: SwingHigh}},
	}
	assert.Equal(t, 4, fs.Aligned(Bullish, nil))
	assert.Equal(t, 3, fs.Aligned(Bearish, nil))
	assert.Equal(t, 2, fs.Aligned(Bullish, []Kind{KindOrderBlock, KindFVG}))
}
