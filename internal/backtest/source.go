package backtest

import (
	"context"

	"ictbt/internal/market"
)

// FetchRequest 描述一次远端 K 线请求，时间为 Unix 毫秒。
type FetchRequest struct {
	Symbol   string
	Interval string
	Start    int64
	End      int64 // 0 表示不限制
	Limit    int
}

// CandleSource 统一不同交易所的拉取行为：返回按开盘时间升序的 K 线。
type CandleSource interface {
	Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error)
	Name() string
}
