package backtest

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe 为 K 线周期：Key 是本地存储使用的名称，Interval 是交易所参数。
type Timeframe struct {
	Key      string
	Duration time.Duration
	Interval string
}

var timeframes = map[string]Timeframe{
	"1m":  {Key: "1m", Duration: time.Minute, Interval: "1m"},
	"5m":  {Key: "5m", Duration: 5 * time.Minute, Interval: "5m"},
	"15m": {Key: "15m", Duration: 15 * time.Minute, Interval: "15m"},
	"30m": {Key: "30m", Duration: 30 * time.Minute, Interval: "30m"},
	"1h":  {Key: "1h", Duration: time.Hour, Interval: "1h"},
	"4h":  {Key: "4h", Duration: 4 * time.Hour, Interval: "4h"},
	"1d":  {Key: "1d", Duration: 24 * time.Hour, Interval: "1d"},
	"1w":  {Key: "1w", Duration: 7 * 24 * time.Hour, Interval: "1w"},
}

// 结构周期与日线固定使用的周期。
const (
	StructureTimeframe = "1h"
	DailyTimeframe     = "1d"
)

// ParseTimeframe 返回标准化周期定义，大小写与空白不敏感。
func ParseTimeframe(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	tf, ok := timeframes[key]
	if !ok {
		return Timeframe{}, fmt.Errorf("%w: unsupported timeframe %q", ErrInvalidInput, input)
	}
	return tf, nil
}

// SupportedTimeframes 按周期长度升序返回所有 key。
func SupportedTimeframes() []string {
	keys := make([]string, 0, len(timeframes))
	for k := range timeframes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return timeframes[keys[i]].Duration < timeframes[keys[j]].Duration })
	return keys
}

func (tf Timeframe) Millis() int64 { return tf.Duration.Milliseconds() }

func alignDown(ts, step int64) int64 {
	if step <= 0 {
		return ts
	}
	rem := ts % step
	if rem < 0 {
		rem += step
	}
	return ts - rem
}

// AlignRange 把毫秒区间对齐到周期网格，保证 start<=end。
func (tf Timeframe) AlignRange(start, end int64) (int64, int64) {
	if end < start {
		start, end = end, start
	}
	step := tf.Millis()
	return alignDown(start, step), max(alignDown(end, step), alignDown(start, step))
}

// ExpectedCandles 计算对齐后 [start,end] 内应有的 K 线根数。
func (tf Timeframe) ExpectedCandles(start, end int64) int64 {
	step := tf.Millis()
	if end < start || step == 0 {
		return 0
	}
	return (end-start)/step + 1
}

// Before 返回 ts 之前 n 根 K 线的开盘时间，用于预留预热窗口。
func (tf Timeframe) Before(ts int64, n int) int64 {
	return alignDown(ts, tf.Millis()) - int64(n)*tf.Millis()
}
