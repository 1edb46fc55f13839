package ict

import "ictbt/internal/market"

// FairValueGaps 识别三根 K 线的失衡缺口，时间戳取中间那根。
func FairValueGaps(candles []market.Candle) []FairValueGap {
	var out []FairValueGap
	for i := 1; i < len(candles)-1; i++ {
		prev, next := candles[i-1], candles[i+1]
		if prev.High < next.Low {
			out = append(out, FairValueGap{
				Type: Bullish, Top: next.Low, Bottom: prev.High,
				Timestamp: candles[i].OpenTime, Size: next.Low - prev.High,
			})
		}
		if prev.Low > next.High {
			out = append(out, FairValueGap{
				Type: Bearish, Top: prev.Low, Bottom: next.High,
				Timestamp: candles[i].OpenTime, Size: prev.Low - next.High,
			})
		}
	}
	return out
}
