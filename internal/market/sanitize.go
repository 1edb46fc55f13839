package market

import "time"

// UnclosedGrace 为交易所收盘后仍可能回写最后一根 K 线的宽限时间。
const UnclosedGrace = 10 * time.Second

// DropUnclosed 在最后一根 K 线尚未收盘（含宽限）时将其丢弃。
func DropUnclosed(candles []Candle, interval time.Duration, now time.Time) []Candle {
	if len(candles) == 0 || interval <= 0 {
		return candles
	}
	last := candles[len(candles)-1]
	if last.OpenTime <= 0 {
		return candles
	}
	cutoff := last.OpenTime + interval.Milliseconds() + UnclosedGrace.Milliseconds()
	if now.UnixMilli() < cutoff {
		return candles[:len(candles)-1]
	}
	return candles
}
