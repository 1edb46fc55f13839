package ict

import (
	"math"

	"ictbt/internal/market"
)

const (
	avgWindow       = 20
	impulseMultiple = 1.5
)

// OrderBlocks 识别订单块：反向 K 线后紧跟一根振幅超过均值 1.5 倍的突破 K 线。
// 均值取切片末尾 20 根的平均振幅。
func OrderBlocks(candles []market.Candle) []OrderBlock {
	if len(candles) < 4 {
		return nil
	}
	avg := meanRange(candles[max(0, len(candles)-avgWindow):])
	threshold := avg * impulseMultiple
	var out []OrderBlock
	for i := 2; i < len(candles)-1; i++ {
		cur, next := candles[i], candles[i+1]
		if next.Range() <= threshold {
			continue
		}
		switch {
		case cur.Bearish() && next.Bullish():
			out = append(out, OrderBlock{
				Type: Bullish, High: cur.High, Low: cur.Low,
				Timestamp: cur.OpenTime, Strength: blockStrength(cur, next, Bullish),
			})
		case cur.Bullish() && next.Bearish():
			out = append(out, OrderBlock{
				Type: Bearish, High: cur.High, Low: cur.Low,
				Timestamp: cur.OpenTime, Strength: blockStrength(cur, next, Bearish),
			})
		}
	}
	return out
}

// blockStrength 综合收盘位置与突破 K 线的相对尺寸，限定在 [0,100]。
func blockStrength(cur, next market.Candle, p Polarity) float64 {
	size := cur.Range()
	if size <= 0 {
		return 0
	}
	proximity := (cur.Close - cur.Low) / size
	if p == Bullish {
		proximity = 1 - proximity
	}
	score := proximity*50 + next.Range()/size*50
	return math.Max(0, math.Min(100, score))
}

func meanRange(candles []market.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range candles {
		sum += c.Range()
	}
	return sum / float64(len(candles))
}

// Breakers 对每个订单块向后扫描，第一根收盘击穿其边界的 K 线使其翻转为反向 breaker。
func Breakers(candles []market.Candle, blocks []OrderBlock) []BreakerBlock {
	var out []BreakerBlock
	for _, ob := range blocks {
		for _, c := range candles {
			if c.OpenTime <= ob.Timestamp {
				continue
			}
			breached := (ob.Type == Bullish && c.Close < ob.Low) || (ob.Type == Bearish && c.Close > ob.High)
			if !breached {
				continue
			}
			out = append(out, BreakerBlock{
				Type:       ob.Type.Opposite(),
				High:       ob.High,
				Low:        ob.Low,
				Timestamp:  c.OpenTime,
				OriginTime: ob.Timestamp,
			})
			break
		}
	}
	return out
}
