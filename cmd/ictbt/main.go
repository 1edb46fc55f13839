package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"ictbt/internal/app"
	"ictbt/internal/backtest"
	"ictbt/internal/config"
	"ictbt/internal/logger"

	"github.com/joho/godotenv"
)

const defaultConfigPath = "configs/config.yaml"

func usage() {
	fmt.Fprintf(os.Stderr, `用法: ictbt <command> [flags]

命令:
  serve    启动回测 HTTP API 与定时同步
  run      单次回测并输出报告
  batch    多个 symbol/profile 并发回测
  fetch    预拉取 K 线到本地缓存
  config   打印生效配置（不含密钥）

每个命令均支持 -config，默认读取 $%s 或 %s
`, config.EnvConfigPath, defaultConfigPath)
}

func main() {
	// .env 不存在时忽略
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "serve":
		err = serveCmd(ctx, args)
	case "run":
		err = runCmd(ctx, args)
	case "batch":
		err = batchCmd(ctx, args)
	case "fetch":
		err = fetchCmd(ctx, args)
	case "config":
		err = configCmd(args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("%s 失败: %v", cmd, err)
	}
}

func configFlag(fs *flag.FlagSet) *string {
	def := os.Getenv(config.EnvConfigPath)
	if def == "" {
		def = defaultConfigPath
	}
	return fs.String("config", def, "配置文件路径")
}

// bootstrap 加载配置、初始化日志并装配应用。
func bootstrap(cfgPath string) (*app.App, *config.Config, func(), error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("读取配置失败: %w", err)
	}
	closers, err := setupLogs(cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	logger.Infof("✓ 配置加载成功（环境=%s，profiles=%s）", cfg.App.Env, cfg.Backtest.ProfilesPath)
	a, err := app.NewApp(cfg)
	if err != nil {
		closers()
		return nil, nil, nil, fmt.Errorf("初始化应用失败: %w", err)
	}
	return a, cfg, func() {
		a.Close()
		closers()
	}, nil
}

func setupLogs(cfg config.AppConfig) (func(), error) {
	logFile, err := logger.Setup(cfg.LogLevel, cfg.LogPath)
	if err != nil {
		return nil, err
	}
	logger.SetLLMWriter(nil)
	logger.EnableLLMPayloadDump(cfg.LLMDump)
	var llmFile *os.File
	if cfg.LLMDump && strings.TrimSpace(cfg.LLMLog) != "" {
		if llmFile, err = logger.OpenFile(cfg.LLMLog); err != nil {
			_ = logFile.Close()
			return nil, err
		}
		logger.SetLLMWriter(llmFile)
	}
	return func() {
		if llmFile != nil {
			_ = llmFile.Close()
		}
		_ = logFile.Close()
	}, nil
}

func serveCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := configFlag(fs)
	_ = fs.Parse(args)

	a, _, closeAll, err := bootstrap(*cfgPath)
	if err != nil {
		return err
	}
	defer closeAll()
	return a.Run(ctx)
}

type runFlags struct {
	symbol, timeframe, exchange, profile string
	start, end                           string
	offline, llm                         bool
	out, csv, html, trades               string
}

func (f *runFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.timeframe, "tf", "", "执行周期，默认 backtest.default_timeframe")
	fs.StringVar(&f.exchange, "exchange", "", "数据源 binance|mexc")
	fs.StringVar(&f.start, "start", "", "开始时间（2006-01-02 / RFC3339 / 毫秒）")
	fs.StringVar(&f.end, "end", "", "结束时间，默认当前")
	fs.BoolVar(&f.offline, "offline", false, "只使用本地缓存")
	fs.BoolVar(&f.llm, "llm", false, "使用 LLM 评估器")
}

func (f *runFlags) request(cfg *config.Config, symbol, profile string) (backtest.RunRequest, error) {
	start, err := parseTime(f.start)
	if err != nil {
		return backtest.RunRequest{}, fmt.Errorf("-start: %w", err)
	}
	end := time.Now().UnixMilli()
	if strings.TrimSpace(f.end) != "" {
		if end, err = parseTime(f.end); err != nil {
			return backtest.RunRequest{}, fmt.Errorf("-end: %w", err)
		}
	}
	tf := f.timeframe
	if tf == "" {
		tf = cfg.Backtest.DefaultTimeframe
	}
	return backtest.RunRequest{
		Symbol:    symbol,
		Timeframe: tf,
		Exchange:  f.exchange,
		Profile:   profile,
		StartTS:   start,
		EndTS:     end,
		Offline:   f.offline,
		UseLLM:    f.llm,
	}, nil
}

func runCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := configFlag(fs)
	var f runFlags
	f.register(fs)
	fs.StringVar(&f.symbol, "symbol", "BTCUSDT", "交易对")
	fs.StringVar(&f.profile, "profile", "", "策略 profile，默认 backtest.default_profile")
	fs.StringVar(&f.out, "out", "", "报告输出（.json / .yaml）")
	fs.StringVar(&f.csv, "csv", "", "CSV 报告输出")
	fs.StringVar(&f.html, "html", "", "HTML 图表输出")
	fs.StringVar(&f.trades, "trades", "", "dashboard 交易 JSON 输出")
	_ = fs.Parse(args)

	a, cfg, closeAll, err := bootstrap(*cfgPath)
	if err != nil {
		return err
	}
	defer closeAll()

	req, err := f.request(cfg, f.symbol, f.profile)
	if err != nil {
		return err
	}
	rep, err := a.Runner().Execute(ctx, req, nil)
	if err != nil {
		return err
	}
	printReport(rep)
	return writeOutputs(rep, f)
}

func batchCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	cfgPath := configFlag(fs)
	var f runFlags
	f.register(fs)
	symbols := fs.String("symbols", "BTCUSDT,ETHUSDT", "逗号分隔的交易对")
	profiles := fs.String("profiles", "", "逗号分隔的 profile，为空则用默认")
	workers := fs.Int("workers", 0, "并发数，默认 backtest.max_concurrent")
	outDir := fs.String("out-dir", "", "每个结果写入 <dir>/<symbol>_<tf>_<profile>.json")
	_ = fs.Parse(args)

	a, cfg, closeAll, err := bootstrap(*cfgPath)
	if err != nil {
		return err
	}
	defer closeAll()

	profileList := splitList(*profiles)
	if len(profileList) == 0 {
		profileList = []string{""}
	}
	var reqs []backtest.RunRequest
	for _, sym := range splitList(*symbols) {
		for _, p := range profileList {
			req, err := f.request(cfg, sym, p)
			if err != nil {
				return err
			}
			reqs = append(reqs, req)
		}
	}
	if len(reqs) == 0 {
		return fmt.Errorf("-symbols 不能为空")
	}
	limit := *workers
	if limit <= 0 {
		limit = cfg.Backtest.MaxConcurrent
	}
	results, err := a.Runner().RunBatch(ctx, reqs, limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tTF\tPROFILE\tTRADES\tWIN%\tRETURN%\tMAXDD%\tPF\tERROR")
	for _, r := range results {
		if r.Report == nil {
			fmt.Fprintf(tw, "%s\t%s\t%s\t-\t-\t-\t-\t-\t%s\n", r.Request.Symbol, r.Request.Timeframe, r.Request.Profile, r.Err)
			continue
		}
		s := r.Report.Summary
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.1f\t%.2f\t%.2f\t%.2f\t\n", r.Report.Symbol, r.Report.Timeframe, r.Report.Profile,
			s.TotalTrades, s.WinRatePct, s.TotalReturnPct, s.MaxDrawdownPct, s.ProfitFactor)
		if *outDir != "" {
			name := fmt.Sprintf("%s_%s_%s.json", r.Report.Symbol, r.Report.Timeframe, orDefault(r.Report.Profile, "base"))
			if err := writeFile(filepath.Join(*outDir, name), r.Report, backtest.WriteJSON); err != nil {
				return err
			}
		}
	}
	return tw.Flush()
}

func fetchCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	cfgPath := configFlag(fs)
	symbol := fs.String("symbol", "BTCUSDT", "交易对")
	tf := fs.String("tf", "1h", "周期")
	exchange := fs.String("exchange", "", "数据源 binance|mexc")
	startFlag := fs.String("start", "", "开始时间")
	endFlag := fs.String("end", "", "结束时间，默认当前")
	_ = fs.Parse(args)

	a, _, closeAll, err := bootstrap(*cfgPath)
	if err != nil {
		return err
	}
	defer closeAll()

	start, err := parseTime(*startFlag)
	if err != nil {
		return fmt.Errorf("-start: %w", err)
	}
	end := time.Now().UnixMilli()
	if *endFlag != "" {
		if end, err = parseTime(*endFlag); err != nil {
			return fmt.Errorf("-end: %w", err)
		}
	}
	candles, err := a.Fetch().Ensure(ctx, backtest.FetchParams{
		Exchange: *exchange, Symbol: *symbol, Timeframe: *tf, Start: start, End: end,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s@%s 本地缓存 %d 根 K 线\n", strings.ToUpper(*symbol), *tf, len(candles))
	if len(candles) > 0 {
		fmt.Printf("  首根: %s\n  末根: %s\n",
			time.UnixMilli(candles[0].OpenTime).UTC().Format(time.RFC3339),
			time.UnixMilli(candles[len(candles)-1].OpenTime).UTC().Format(time.RFC3339))
	}
	return nil
}

func configCmd(args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	cfgPath := configFlag(fs)
	_ = fs.Parse(args)
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	return cfg.Dump(os.Stdout)
}

func printReport(rep *backtest.Report) {
	s := rep.Summary
	fmt.Printf("%s@%s [%s] %s ~ %s\n", rep.Symbol, rep.Timeframe, orDefault(rep.Profile, "base"),
		time.UnixMilli(rep.Period.Start).UTC().Format("2006-01-02"), time.UnixMilli(rep.Period.End).UTC().Format("2006-01-02"))
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "  初始资金\t%.2f\n", s.InitialCapital)
	fmt.Fprintf(tw, "  最终余额\t%.2f\n", s.FinalBalance)
	fmt.Fprintf(tw, "  收益\t%.2f (%.2f%%)\n", s.TotalProfit, s.TotalReturnPct)
	fmt.Fprintf(tw, "  最大回撤\t%.2f%%\n", s.MaxDrawdownPct)
	fmt.Fprintf(tw, "  交易/胜/负\t%d/%d/%d (%.1f%%)\n", s.TotalTrades, s.WinningTrades, s.LosingTrades, s.WinRatePct)
	fmt.Fprintf(tw, "  PF / Sharpe\t%.2f / %.2f\n", s.ProfitFactor, s.SharpeRatio)
	fmt.Fprintf(tw, "  质量 A+/A/B\t%d/%d/%d\n", rep.QualityBreakdown.APlus, rep.QualityBreakdown.A, rep.QualityBreakdown.B)
	fmt.Fprintf(tw, "  合规率\t%.1f%%\n", rep.RuleCompliance.ComplianceRate)
	_ = tw.Flush()
}

func writeOutputs(rep *backtest.Report, f runFlags) error {
	reportWriter := backtest.WriteJSON
	switch strings.ToLower(filepath.Ext(f.out)) {
	case ".yaml", ".yml":
		reportWriter = backtest.WriteYAML
	}
	outputs := []struct {
		path  string
		write func(io.Writer, *backtest.Report) error
	}{
		{f.out, reportWriter},
		{f.csv, backtest.WriteCSV},
		{f.html, backtest.WriteHTML},
		{f.trades, backtest.WriteTradesJSON},
	}
	for _, o := range outputs {
		if o.path == "" {
			continue
		}
		if err := writeFile(o.path, rep, o.write); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, rep *backtest.Report, write func(io.Writer, *backtest.Report) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f, rep); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	logger.Infof("✓ 已写入 %s", path)
	return f.Close()
}

// parseTime 支持日期、RFC3339 与 Unix 毫秒。
func parseTime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("time is required")
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04", time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized time %q", s)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
