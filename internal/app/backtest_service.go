package app

import (
	"context"
	"sync"

	"ictbt/internal/backtest"
	cfgloader "ictbt/internal/config/loader"
	backtesthttp "ictbt/internal/transport/http/backtest"
)

// BacktestService 管理回测数据、服务与 HTTP 暴露。
type BacktestService struct {
	store    *backtest.Store
	results  *backtest.ResultStore
	svc      *backtest.FetchService
	runner   *backtest.Runner
	sim      *backtest.Simulator
	profiles *cfgloader.ProfileLoader
	server   *backtesthttp.Server

	closeOnce sync.Once
}

// Bind 把宿主 ctx 注入后台任务，关闭时拉取与模拟随之取消。
func (b *BacktestService) Bind(ctx context.Context) {
	if b == nil {
		return
	}
	if b.svc != nil {
		b.svc.SetContext(ctx)
	}
	if b.sim != nil {
		b.sim.SetContext(ctx)
	}
}

// Wait 等待已提交的回测落盘。
func (b *BacktestService) Wait() {
	if b != nil && b.sim != nil {
		b.sim.Wait()
	}
}

// Close 释放回测相关资源。
func (b *BacktestService) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() {
		if b.results != nil {
			_ = b.results.Close()
		}
		if b.store != nil {
			_ = b.store.Close()
		}
	})
}
