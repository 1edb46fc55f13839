// Package ict 从一段 K 线中识别 ICT 形态：订单块、FVG、流动性摆动点、结构转换、供需区与 breaker。
// 所有函数只读取传入切片，不做任何前视。
package ict

type Polarity string

const (
	Bullish Polarity = "bullish"
	Bearish Polarity = "bearish"
)

// Opposite 返回反向极性。
func (p Polarity) Opposite() Polarity {
	if p == Bullish {
		return Bearish
	}
	return Bullish
}

type ZoneType string

const (
	Supply ZoneType = "supply"
	Demand ZoneType = "demand"
)

// Polarity 将供需区映射为多空：demand 看多，supply 看空。
func (z ZoneType) Polarity() Polarity {
	if z == Demand {
		return Bullish
	}
	return Bearish
}

type SwingType string

const (
	SwingHigh SwingType = "swing_high"
	SwingLow  SwingType = "swing_low"
)

// Kind 标识可参与共振计数的形态类别。
type Kind string

const (
	KindOrderBlock Kind = "order_block"
	KindFVG        Kind = "fvg"
	KindMSS        Kind = "mss"
	KindZone       Kind = "zone"
	KindBreaker    Kind = "breaker"
)

// AllKinds 为默认参与共振计数的全部类别（流动性摆动点无方向，不计入）。
var AllKinds = []Kind{KindOrderBlock, KindFVG, KindMSS, KindZone, KindBreaker}

type OrderBlock struct {
	Type      Polarity `json:"type"`
	High      float64  `json:"high"`
	Low       float64  `json:"low"`
	Timestamp int64    `json:"timestamp"`
	Strength  float64  `json:"strength"`
}

type FairValueGap struct {
	Type      Polarity `json:"type"`
	Top       float64  `json:"top"`
	Bottom    float64  `json:"bottom"`
	Timestamp int64    `json:"timestamp"`
	Size      float64  `json:"size"`
}

type SwingPoint struct {
	Type      SwingType `json:"type"`
	Price     float64   `json:"price"`
	Timestamp int64     `json:"timestamp"`
}

type StructureShift struct {
	Type       Polarity `json:"type"`
	BreakLevel float64  `json:"break_level"`
	Price      float64  `json:"price"`
	Timestamp  int64    `json:"timestamp"`
}

type Zone struct {
	Type      ZoneType `json:"type"`
	Top       float64  `json:"top"`
	Bottom    float64  `json:"bottom"`
	Timestamp int64    `json:"timestamp"`
	BaseSize  int      `json:"base_size"`
}

// BreakerBlock 为被收盘价击穿后翻转极性的订单块。
type BreakerBlock struct {
	Type       Polarity `json:"type"`
	High       float64  `json:"high"`
	Low        float64  `json:"low"`
	Timestamp  int64    `json:"timestamp"`
	OriginTime int64    `json:"origin_time"`
}
