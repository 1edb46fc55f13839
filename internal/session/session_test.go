package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ictbt/internal/market"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return ts
}

func TestClassifyKillzone(t *testing.T) {
	cases := map[string]Killzone{
		"2024-01-01T02:30:00Z": Asia,
		"2024-01-01T00:00:00Z": Asia,
		"2024-01-01T04:59:00Z": Asia,
		"2024-01-01T05:00:00Z": "",
		"2024-01-01T06:59:00Z": "",
		"2024-01-01T07:00:00Z": London,
		"2024-01-01T09:59:00Z": London,
		"2024-01-01T10:00:00Z": "",
		"2024-01-01T12:00:00Z": NY,
		"2024-01-01T14:59:00Z": NY,
		"2024-01-01T15:00:00Z": "",
		"2024-01-01T23:30:00Z": "",
	}
	for in, want := range cases {
		assert.Equal(t, want, ClassifyKillzone(mustTime(t, in)), in)
	}
	// 非 UTC 时区输入按 UTC 处理
	loc := time.FixedZone("UTC+8", 8*3600)
	assert.Equal(t, NY, ClassifyKillzone(time.Date(2024, 1, 1, 20, 0, 0, 0, loc)))
}

func TestDailyBias(t *testing.T) {
	day1 := mustTime(t, "2024-01-01T00:00:00Z").UnixMilli()
	day2 := mustTime(t, "2024-01-02T00:00:00Z").UnixMilli()
	daily := []market.Candle{
		{OpenTime: day1, Open: 100, High: 101, Low: 89, Close: 90},
		{OpenTime: day2, Open: 90, High: 96, Low: 89, Close: 95},
	}

	t.Run("current day excluded", func(t *testing.T) {
		assert.Equal(t, Short, DailyBias(daily, mustTime(t, "2024-01-02T12:00:00Z")))
	})
	t.Run("next day uses green candle", func(t *testing.T) {
		assert.Equal(t, Long, DailyBias(daily, mustTime(t, "2024-01-03T00:00:00Z")))
	})
	t.Run("no prior day", func(t *testing.T) {
		assert.Equal(t, Bias(""), DailyBias(daily, mustTime(t, "2024-01-01T23:59:00Z")))
		assert.Equal(t, Bias(""), DailyBias(nil, mustTime(t, "2024-01-01T23:59:00Z")))
	})
	t.Run("doji counts as short", func(t *testing.T) {
		flat := []market.Candle{{OpenTime: day1, Open: 100, High: 101, Low: 99, Close: 100}}
		assert.Equal(t, Short, DailyBias(flat, mustTime(t, "2024-01-02T01:00:00Z")))
	})
}
