package scheduler

import (
	"context"
	"errors"
	"time"

	"ictbt/internal/backtest"
	"ictbt/internal/logger"
)

// CandleSync 定期把配置的 symbol×timeframe 最近若干根 K 线补进本地缓存。
type CandleSync struct {
	Loader     backtest.CandleLoader
	Exchange   string
	Symbols    []string
	Timeframes []string
	Lookback   int

	nowFn func() time.Time
}

// SyncResult 为单个序列的一次同步结果。
type SyncResult struct {
	Symbol    string
	Timeframe string
	Candles   int
	Err       error
}

// Once 依次同步所有序列，单个失败只记日志。ctx 取消时提前返回。
func (c *CandleSync) Once(ctx context.Context) []SyncResult {
	now := time.Now
	if c.nowFn != nil {
		now = c.nowFn
	}
	lookback := c.Lookback
	if lookback <= 0 {
		lookback = 500
	}
	var out []SyncResult
	for _, sym := range c.Symbols {
		for _, key := range c.Timeframes {
			if ctx.Err() != nil {
				return out
			}
			res := SyncResult{Symbol: sym, Timeframe: key}
			tf, err := backtest.ParseTimeframe(key)
			if err != nil {
				res.Err = err
				out = append(out, res)
				continue
			}
			// 只同步已收盘的 K 线
			end := tf.Before(now().UnixMilli(), 1)
			candles, err := c.Loader.Ensure(ctx, backtest.FetchParams{
				Exchange:  c.Exchange,
				Symbol:    sym,
				Timeframe: tf.Key,
				Start:     tf.Before(end, lookback-1),
				End:       end,
			})
			res.Candles, res.Err = len(candles), err
			switch {
			case err == nil:
				logger.Debugf("[sync] %s@%s 已缓存 %d 根", sym, tf.Key, len(candles))
			case errors.Is(err, context.Canceled):
			default:
				logger.Warnf("[sync] %s@%s 同步失败: %v", sym, tf.Key, err)
			}
			out = append(out, res)
		}
	}
	return out
}

// Task 适配 AlignedScheduler。
func (c *CandleSync) Task() func(context.Context) {
	return func(ctx context.Context) {
		started := time.Now()
		results := c.Once(ctx)
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		logger.Infof("[sync] 本轮同步 %d 个序列，失败 %d，耗时 %s", len(results), failed, time.Since(started).Truncate(time.Millisecond))
	}
}
