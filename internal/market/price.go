package market

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParsePrice 将交易所返回的字符串价格解析为 float64，只在入库时做一次。
func ParsePrice(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty price")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", raw, err)
	}
	f, _ := d.Float64()
	return f, nil
}

// Round 按小数位四舍五入，用于报告输出。
func Round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
