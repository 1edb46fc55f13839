package ict

import (
	"sort"

	"ictbt/internal/market"
)

// Swings 识别摆动高低点：前后各 lookback 根内严格最高/最低，只有内部 K 线有资格。
func Swings(candles []market.Candle, lookback int) (highs, lows []SwingPoint) {
	if lookback <= 0 {
		lookback = DefaultSwingLookback
	}
	for i := lookback; i < len(candles)-lookback; i++ {
		cur := candles[i]
		isHigh, isLow := true, true
		for j := i - lookback; j <= i+lookback && (isHigh || isLow); j++ {
			if j == i {
				continue
			}
			if candles[j].High >= cur.High {
				isHigh = false
			}
			if candles[j].Low <= cur.Low {
				isLow = false
			}
		}
		if isHigh {
			highs = append(highs, SwingPoint{Type: SwingHigh, Price: cur.High, Timestamp: cur.OpenTime})
		}
		if isLow {
			lows = append(lows, SwingPoint{Type: SwingLow, Price: cur.Low, Timestamp: cur.OpenTime})
		}
	}
	return highs, lows
}

// StructureShifts 在按时间合并的摆动点序列上识别结构转换：
// 低-高-低 且新低高于前低为看多，高-低-高 且新高低于前高为看空。
func StructureShifts(highs, lows []SwingPoint) []StructureShift {
	points := make([]SwingPoint, 0, len(highs)+len(lows))
	points = append(points, highs...)
	points = append(points, lows...)
	sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp < points[j].Timestamp })
	var out []StructureShift
	for i := 2; i < len(points); i++ {
		cur, prev, older := points[i], points[i-1], points[i-2]
		switch {
		case cur.Type == SwingLow && prev.Type == SwingHigh && older.Type == SwingLow && cur.Price > older.Price:
			out = append(out, StructureShift{Type: Bullish, BreakLevel: older.Price, Price: cur.Price, Timestamp: cur.Timestamp})
		case cur.Type == SwingHigh && prev.Type == SwingLow && older.Type == SwingHigh && cur.Price < older.Price:
			out = append(out, StructureShift{Type: Bearish, BreakLevel: older.Price, Price: cur.Price, Timestamp: cur.Timestamp})
		}
	}
	return out
}
