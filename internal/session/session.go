// Package session 给出日线方向偏好与交易时段（killzone）标签，统一按 UTC 计算。
package session

import (
	"time"

	"ictbt/internal/market"
)

type Bias string

const (
	Long  Bias = "LONG"
	Short Bias = "SHORT"
)

type Killzone string

const (
	Asia   Killzone = "ASIA"
	London Killzone = "LONDON"
	NY     Killzone = "NY"
)

// nyOffsetHours 为固定纽约偏移，不处理夏令时。
const nyOffsetHours = 5

// ClassifyKillzone 将 UTC 小时减 5 映射到交易时段，不回绕：
// [20,24) 或负数为 ASIA，[2,5) 为 LONDON，[7,10) 为 NY，其余返回空。
func ClassifyKillzone(ts time.Time) Killzone {
	ny := ts.UTC().Hour() - nyOffsetHours
	switch {
	case ny >= 20 || ny < 0:
		return Asia
	case ny >= 2 && ny < 5:
		return London
	case ny >= 7 && ny < 10:
		return NY
	default:
		return ""
	}
}

// DailyBias 取 asOf 所在 UTC 日之前最近一根日线：收阳为 LONG，否则 SHORT。
// daily 需按时间升序；没有更早的日线时返回空。
func DailyBias(daily []market.Candle, asOf time.Time) Bias {
	today := utcDay(asOf)
	for i := len(daily) - 1; i >= 0; i-- {
		d := daily[i]
		if !utcDay(d.OpenAt()).Before(today) {
			continue
		}
		if d.Close > d.Open {
			return Long
		}
		return Short
	}
	return ""
}

func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
