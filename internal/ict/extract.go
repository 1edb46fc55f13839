package ict

import "ictbt/internal/market"

const DefaultSwingLookback = 20

// 各检测器仅保留最近 N 个结果。
const (
	maxOrderBlocks = 10
	maxFVGs        = 10
	maxSwings      = 10
	maxShifts      = 5
	maxZones       = 5
	maxBreakers    = 5
)

type Options struct {
	SwingLookback int
}

// FeatureSet 为一次窗口分析的全部形态结果，只在单次调用内有效。
type FeatureSet struct {
	OrderBlocks []OrderBlock     `json:"order_blocks"`
	FVGs        []FairValueGap   `json:"fvgs"`
	SwingHighs  []SwingPoint     `json:"swing_highs"`
	SwingLows   []SwingPoint     `json:"swing_lows"`
	Shifts      []StructureShift `json:"mss"`
	Zones       []Zone           `json:"zones"`
	Breakers    []BreakerBlock   `json:"breakers"`
}

// Extract 对传入窗口做一次完整扫描。
func Extract(candles []market.Candle, opts Options) FeatureSet {
	if len(candles) == 0 {
		return FeatureSet{}
	}
	blocks := OrderBlocks(candles)
	highs, lows := Swings(candles, opts.SwingLookback)
	return FeatureSet{
		OrderBlocks: lastN(blocks, maxOrderBlocks),
		FVGs:        lastN(FairValueGaps(candles), maxFVGs),
		SwingHighs:  lastN(highs, maxSwings),
		SwingLows:   lastN(lows, maxSwings),
		Shifts:      lastN(StructureShifts(highs, lows), maxShifts),
		Zones:       lastN(SupplyDemandZones(candles), maxZones),
		Breakers:    lastN(Breakers(candles, blocks), maxBreakers),
	}
}

func lastN[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

// Aligned 统计与给定极性一致的形态数量，kinds 为空时使用 AllKinds。
func (fs FeatureSet) Aligned(p Polarity, kinds []Kind) int {
	if len(kinds) == 0 {
		kinds = AllKinds
	}
	count := 0
	for _, k := range kinds {
		count += fs.countKind(k, p)
	}
	return count
}

func (fs FeatureSet) countKind(k Kind, p Polarity) int {
	n := 0
	switch k {
	case KindOrderBlock:
		for _, v := range fs.OrderBlocks {
			if v.Type == p {
				n++
			}
		}
	case KindFVG:
		for _, v := range fs.FVGs {
			if v.Type == p {
				n++
			}
		}
	case KindMSS:
		for _, v := range fs.Shifts {
			if v.Type == p {
				n++
			}
		}
	case KindZone:
		for _, v := range fs.Zones {
			if v.Type.Polarity() == p {
				n++
			}
		}
	case KindBreaker:
		for _, v := range fs.Breakers {
			if v.Type == p {
				n++
			}
		}
	}
	return n
}

// Summary 为 /analysis 与提示词使用的概要。
type Summary struct {
	CurrentPrice       float64 `json:"current_price"`
	BullishOrderBlocks int     `json:"bullish_order_blocks"`
	BearishOrderBlocks int     `json:"bearish_order_blocks"`
	LiquidityLevels    int     `json:"liquidity_levels"`
	FVGs               int     `json:"fvgs"`
	Shifts             int     `json:"mss"`
	Zones              int     `json:"zones"`
	Breakers           int     `json:"breakers"`
	Bias               string  `json:"bias"`
}

// Summarize 汇总计数并给出启发式方向：近期订单块计 2 分，近期结构转换计 3 分，
// 价格贴近最近摆动高/低点各加 1 分。
func (fs FeatureSet) Summarize(price float64) Summary {
	s := Summary{
		CurrentPrice:    price,
		LiquidityLevels: len(fs.SwingHighs) + len(fs.SwingLows),
		FVGs:            len(fs.FVGs),
		Shifts:          len(fs.Shifts),
		Zones:           len(fs.Zones),
		Breakers:        len(fs.Breakers),
	}
	bull, bear := 0, 0
	for _, ob := range fs.OrderBlocks {
		if ob.Type == Bullish {
			s.BullishOrderBlocks++
		} else {
			s.BearishOrderBlocks++
		}
	}
	for _, ob := range lastN(fs.OrderBlocks, 5) {
		if ob.Type == Bullish {
			bull += 2
		} else {
			bear += 2
		}
	}
	for _, m := range lastN(fs.Shifts, 3) {
		if m.Type == Bullish {
			bull += 3
		} else {
			bear += 3
		}
	}
	if n := len(fs.SwingHighs); n > 0 && price > fs.SwingHighs[n-1].Price*0.99 {
		bull++
	}
	if n := len(fs.SwingLows); n > 0 && price < fs.SwingLows[n-1].Price*1.01 {
		bear++
	}
	switch {
	case bull > bear:
		s.Bias = "BULLISH"
	case bear > bull:
		s.Bias = "BEARISH"
	default:
		s.Bias = "NEUTRAL"
	}
	return s
}
