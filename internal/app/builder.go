package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"ictbt/internal/backtest"
	"ictbt/internal/config"
	cfgloader "ictbt/internal/config/loader"
	"ictbt/internal/gateway/notifier"
	"ictbt/internal/logger"
	"ictbt/internal/scheduler"
	"ictbt/internal/signal"
	backtesthttp "ictbt/internal/transport/http/backtest"
)

// AppBuilder 按配置装配各组件；各 *Fn 字段可在测试中替换。
type AppBuilder struct {
	cfg *config.Config

	sourcesFn   func(config.MarketConfig) (map[string]backtest.CandleSource, error)
	evaluatorFn func(config.AIConfig) (signal.Evaluator, error)
	notifierFn  func(config.NotifyConfig) (notifier.TextNotifier, error)
}

type AppBuilderOption func(*AppBuilder)

// WithSources 替换行情源构造（测试用离线源）。
func WithSources(fn func(config.MarketConfig) (map[string]backtest.CandleSource, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.sourcesFn = fn }
}

// WithNotifier 替换推送构造。
func WithNotifier(fn func(config.NotifyConfig) (notifier.TextNotifier, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.notifierFn = fn }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		sourcesFn:   buildSources,
		evaluatorFn: buildEvaluator,
		notifierFn:  buildNotifier,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	bt, err := b.buildBacktest(cfg)
	if err != nil {
		return nil, err
	}
	app := &App{cfg: cfg, backtest: bt}

	if cfg.Sync.Enabled {
		interval, err := time.ParseDuration(cfg.Sync.Interval)
		if err != nil {
			bt.Close()
			return nil, fmt.Errorf("sync.interval: %w", err)
		}
		sched := scheduler.NewAlignedScheduler("candle-sync", interval, time.Duration(cfg.Sync.OffsetSeconds)*time.Second)
		sched.RunImmediately = cfg.Sync.RunImmediately
		job := &scheduler.CandleSync{
			Loader:     bt.svc,
			Exchange:   cfg.Market.DefaultExchange,
			Symbols:    cfg.Sync.Symbols,
			Timeframes: cfg.Sync.Timeframes,
			Lookback:   cfg.Sync.LookbackCandles,
		}
		app.sync = sched
		app.syncTask = job.Task()
		logger.Infof("✓ K 线定时同步已启用：%v × %v，每 %s", cfg.Sync.Symbols, cfg.Sync.Timeframes, interval)
	}

	var profileNames []string
	if bt.profiles != nil {
		profileNames = bt.profiles.Names()
	}
	app.Summary = &StartupSummary{
		Env:            cfg.App.Env,
		HTTPAddr:       cfg.App.HTTPAddr,
		Exchanges:      bt.svc.Exchanges(),
		CandleDir:      cfg.Storage.CandleDir,
		ResultsDB:      cfg.Storage.ResultsDB,
		Profiles:       profileNames,
		DefaultProfile: cfg.Backtest.DefaultProfile,
		AI:             aiSummary(cfg.AI),
		SyncSymbols:    syncSymbols(cfg.Sync),
		SyncTimeframes: cfg.Sync.Timeframes,
		Telegram:       cfg.Notify.Telegram.Enabled,
	}
	return app, nil
}

func (b *AppBuilder) buildBacktest(cfg *config.Config) (_ *BacktestService, err error) {
	out := &BacktestService{}
	defer func() {
		if err != nil {
			out.Close()
		}
	}()

	sources, err := b.sourcesFn(cfg.Market)
	if err != nil {
		return nil, fmt.Errorf("初始化行情源失败: %w", err)
	}
	if out.store, err = backtest.NewStore(cfg.Storage.CandleDir); err != nil {
		return nil, fmt.Errorf("初始化 K 线缓存失败: %w", err)
	}
	out.svc, err = backtest.NewFetchService(backtest.FetchServiceConfig{
		Store:           out.store,
		Sources:         sources,
		DefaultExchange: cfg.Market.DefaultExchange,
		RateLimitPerMin: cfg.Market.RateLimitPerMin,
		MaxBatch:        cfg.Market.MaxBatch,
		MaxConcurrent:   cfg.Market.MaxConcurrent,
	})
	if err != nil {
		return nil, err
	}
	if out.results, err = backtest.NewResultStore(cfg.Storage.ResultsDB); err != nil {
		return nil, fmt.Errorf("初始化结果库失败: %w", err)
	}
	logger.Infof("✓ K 线缓存目录 %s，结果库 %s", cfg.Storage.CandleDir, cfg.Storage.ResultsDB)

	base := engineConfig(cfg.Backtest)
	if out.profiles, err = loadProfiles(cfg.Backtest.ProfilesPath, base); err != nil {
		return nil, err
	}
	evaluator, err := b.evaluatorFn(cfg.AI)
	if err != nil {
		return nil, err
	}
	rc := backtest.RunnerConfig{
		Online:         out.svc,
		Offline:        backtest.OfflineLoader{Store: out.store},
		Base:           base,
		Evaluator:      evaluator,
		DefaultProfile: strings.ToLower(strings.TrimSpace(cfg.Backtest.DefaultProfile)),
	}
	var catalog backtesthttp.ProfileCatalog
	if out.profiles != nil {
		rc.Profiles = out.profiles
		catalog = out.profiles
	} else if rc.DefaultProfile != "" {
		return nil, fmt.Errorf("backtest.default_profile=%s 但 profile 文件不存在", rc.DefaultProfile)
	}
	if out.runner, err = backtest.NewRunner(rc); err != nil {
		return nil, err
	}

	tn, err := b.notifierFn(cfg.Notify)
	if err != nil {
		return nil, err
	}
	out.sim, err = backtest.NewSimulator(backtest.SimulatorConfig{
		Runner:        out.runner,
		Results:       out.results,
		Notifier:      tn,
		MaxConcurrent: cfg.Backtest.MaxConcurrent,
	})
	if err != nil {
		return nil, err
	}
	out.server, err = backtesthttp.NewServer(backtesthttp.Config{
		Addr:      cfg.App.HTTPAddr,
		Svc:       out.svc,
		Runner:    out.runner,
		Simulator: out.sim,
		Results:   out.results,
		Profiles:  catalog,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化回测 HTTP 失败: %w", err)
	}
	return out, nil
}

// loadProfiles 文件不存在时返回 nil，只使用 backtest 段的默认参数。
func loadProfiles(path string, base backtest.EngineConfig) (*cfgloader.ProfileLoader, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Warnf("profile 文件 %s 不存在，仅使用默认参数", path)
		return nil, nil
	}
	l, err := cfgloader.NewProfileLoader(path, base)
	if err != nil {
		return nil, fmt.Errorf("加载 profile 配置失败: %w", err)
	}
	logger.Infof("✓ 已加载 %d 个 profile: %v", len(l.Names()), l.Names())
	l.Subscribe(func(s cfgloader.ProfileSnapshot) {
		if s.Version > 1 {
			logger.Infof("[profile] 热更新 v%d 生效，共 %d 个 profile", s.Version, len(s.Profiles))
		}
	})
	return l, nil
}

// engineConfig 把配置文件的 backtest 段转换为引擎参数。
func engineConfig(c config.BacktestConfig) backtest.EngineConfig {
	return backtest.EngineConfig{
		InitialCapital: c.InitialCapital,
		MinConfluence:  c.MinConfluence,
		Sizing:         backtest.SizingMode(c.Sizing),
		ExitMode:       backtest.ExitMode(c.ExitMode),
		TradeSize:      c.TradeSize,
		Leverage:       c.Leverage,
		RiskPercent: backtest.RiskPercent{
			APlus: c.RiskPercent.APlus,
			A:     c.RiskPercent.A,
			B:     c.RiskPercent.B,
		},
		SlippageBps:         c.SlippageBps,
		DefaultStopPct:      c.DefaultStopPct,
		DefaultTargetPct:    c.DefaultTargetPct,
		RewardMultiple:      c.RewardMultiple,
		WarmupCandles:       c.WarmupCandles,
		ExecLookback:        c.ExecLookback,
		StructureLookback:   c.StructureLookback,
		MinStructureCandles: c.MinStructureCandles,
		SwingLookback:       c.SwingLookback,
		ConfluenceKinds:     append([]string(nil), c.ConfluenceKinds...),
		RiskFreeRate:        backtest.RiskFree(c.RiskFreeRate),
		SignalTimeout:       time.Duration(c.SignalTimeoutSeconds) * time.Second,
	}
}

func aiSummary(c config.AIConfig) string {
	if !c.Enabled {
		return "关闭（仅规则决策）"
	}
	mode := "单阶段"
	if c.TwoStage {
		mode = "两阶段"
	}
	return fmt.Sprintf("%s/%s（%s）", c.Provider, c.Model, mode)
}

func syncSymbols(c config.SyncConfig) []string {
	if !c.Enabled {
		return nil
	}
	return c.Symbols
}
