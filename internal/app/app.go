package app

import (
	"context"
	"fmt"

	"ictbt/internal/backtest"
	"ictbt/internal/config"
	"ictbt/internal/logger"
	"ictbt/internal/scheduler"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动回测 HTTP 与定时同步。
type App struct {
	cfg      *config.Config
	backtest *BacktestService
	sync     *scheduler.AlignedScheduler
	syncTask func(context.Context)
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg, opts)
}

// Run 启动 HTTP 服务与 K 线同步，直到 ctx 取消或任一组件出错。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil || a.backtest == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	defer a.Close()

	group, ctx := errgroup.WithContext(ctx)
	a.backtest.Bind(ctx)

	if a.backtest.server != nil {
		group.Go(func() error {
			if err := a.backtest.server.Start(ctx); err != nil {
				return fmt.Errorf("backtest http server error: %w", err)
			}
			return nil
		})
	}
	if a.sync != nil && a.syncTask != nil {
		group.Go(func() error {
			err := a.sync.Run(ctx, a.syncTask)
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("candle sync stopped: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		<-ctx.Done()
		a.backtest.Wait()
		return nil
	})
	return group.Wait()
}

// Runner 供 CLI 直接同步执行回测。
func (a *App) Runner() *backtest.Runner {
	if a == nil || a.backtest == nil {
		return nil
	}
	return a.backtest.runner
}

// Fetch 供 CLI 预拉取数据。
func (a *App) Fetch() *backtest.FetchService {
	if a == nil || a.backtest == nil {
		return nil
	}
	return a.backtest.svc
}

// Close 释放存储等资源，可重复调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	a.backtest.Close()
}
