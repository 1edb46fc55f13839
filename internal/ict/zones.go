package ict

import (
	"math"

	"github.com/markcheno/go-talib"

	"ictbt/internal/market"
)

const baseBodyRatio = 0.6

// SupplyDemandZones 识别“整理基座 + 冲击 K 线”形成的供需区。
// 基座为连续的小实体 K 线（实体 < 0.6 倍前 20 根平均实体），
// 紧随其后振幅超过 1.5 倍前 20 根平均振幅的 K 线决定方向。
func SupplyDemandZones(candles []market.Candle) []Zone {
	if len(candles) <= avgWindow+1 {
		return nil
	}
	bodies := make([]float64, len(candles))
	ranges := make([]float64, len(candles))
	for i, c := range candles {
		bodies[i] = c.Body()
		ranges[i] = c.Range()
	}
	// sma[i] 覆盖 [i-19, i]，第 i 根的“前 20 根均值”取 sma[i-1]
	avgBody := talib.Sma(bodies, avgWindow)
	avgRange := talib.Sma(ranges, avgWindow)

	var out []Zone
	start := -1
	for i := avgWindow; i < len(candles); i++ {
		trailingBody, trailingRange := avgBody[i-1], avgRange[i-1]
		if trailingBody > 0 && bodies[i] < baseBodyRatio*trailingBody {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 && ranges[i] > impulseMultiple*trailingRange {
			out = append(out, buildZone(candles[start:i], candles[i]))
		}
		start = -1
	}
	return out
}

func buildZone(base []market.Candle, impulse market.Candle) Zone {
	top, bottom := -math.MaxFloat64, math.MaxFloat64
	for _, c := range base {
		top = math.Max(top, c.High)
		bottom = math.Min(bottom, c.Low)
	}
	typ := Supply
	if impulse.Bullish() {
		typ = Demand
	}
	return Zone{Type: typ, Top: top, Bottom: bottom, Timestamp: base[0].OpenTime, BaseSize: len(base)}
}
