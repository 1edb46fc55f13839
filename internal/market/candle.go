package market

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Candle 为一根 OHLCV K 线，时间戳为 UTC Unix 毫秒。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// ErrMalformedCandle 表示价格字段缺失或不合法。
var ErrMalformedCandle = errors.New("malformed candle")

// Validate 检查单根 K 线的价格是否有限且自洽。
func (c Candle) Validate() error {
	for _, v := range [...]float64{c.Open, c.High, c.Low, c.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("%w: non-positive or non-finite price at %d", ErrMalformedCandle, c.OpenTime)
		}
	}
	if math.IsNaN(c.Volume) || c.Volume < 0 {
		return fmt.Errorf("%w: bad volume at %d", ErrMalformedCandle, c.OpenTime)
	}
	if c.High < c.Low {
		return fmt.Errorf("%w: high %.8f < low %.8f at %d", ErrMalformedCandle, c.High, c.Low, c.OpenTime)
	}
	if c.OpenTime <= 0 {
		return fmt.Errorf("%w: missing open_time", ErrMalformedCandle)
	}
	return nil
}

// Range 返回 high-low。
func (c Candle) Range() float64 { return c.High - c.Low }

// Body 返回实体绝对值。
func (c Candle) Body() float64 { return math.Abs(c.Close - c.Open) }

func (c Candle) Bullish() bool { return c.Close > c.Open }

func (c Candle) Bearish() bool { return c.Close < c.Open }

// OpenAt / CloseAt 返回 UTC 时间。
func (c Candle) OpenAt() time.Time { return time.UnixMilli(c.OpenTime).UTC() }

func (c Candle) CloseAt() time.Time {
	if c.CloseTime <= 0 {
		return c.OpenAt()
	}
	return time.UnixMilli(c.CloseTime).UTC()
}

func (c Candle) TimeString() string {
	if c.OpenTime <= 0 {
		return "-"
	}
	return c.OpenAt().Format("2006-01-02 15:04") + "Z"
}

type Candles []Candle

// Validate 校验整段序列：逐根合法且 open_time 严格递增。
func (cs Candles) Validate() error {
	if len(cs) == 0 {
		return fmt.Errorf("%w: empty series", ErrMalformedCandle)
	}
	for i, c := range cs {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("candle #%d: %w", i, err)
		}
		if i > 0 && c.OpenTime <= cs[i-1].OpenTime {
			return fmt.Errorf("%w: non-monotonic open_time at #%d (%d <= %d)", ErrMalformedCandle, i, c.OpenTime, cs[i-1].OpenTime)
		}
	}
	return nil
}

// Clean 丢弃不合法与重复/逆序的 K 线，返回保留序列与丢弃数量。
func (cs Candles) Clean() (Candles, int) {
	out := make(Candles, 0, len(cs))
	dropped := 0
	var last int64
	for _, c := range cs {
		if c.Validate() != nil || (len(out) > 0 && c.OpenTime <= last) {
			dropped++
			continue
		}
		out = append(out, c)
		last = c.OpenTime
	}
	return out, dropped
}

// Closes 提取收盘价序列。
func (cs Candles) Closes() []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

// Snapshot 用一行概括窗口：末根收盘、相对首根的涨跌幅与区间高低点。
func (cs Candles) Snapshot(label string) string {
	if len(cs) == 0 {
		return ""
	}
	first, last := cs[0], cs[len(cs)-1]
	base := first.Close
	if base == 0 {
		base = first.Open
	}
	low, high := math.MaxFloat64, -math.MaxFloat64
	for _, c := range cs {
		low = math.Min(low, c.Low)
		high = math.Max(high, c.High)
	}
	if strings.TrimSpace(label) == "" {
		label = "window"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "close=%.8g", last.Close)
	if base != 0 {
		fmt.Fprintf(&sb, " (%+.2f%% over %d %s candles)", (last.Close-base)/base*100, len(cs), label)
	}
	fmt.Fprintf(&sb, ", range %.8g-%.8g", low, high)
	return sb.String()
}
