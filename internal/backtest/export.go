package backtest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04"
)

func fixed(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

func msDate(ms int64, layout string) string {
	return time.UnixMilli(ms).UTC().Format(layout)
}

// WriteJSON 输出完整报告 JSON。
func WriteJSON(w io.Writer, rep *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// WriteYAML 以与 JSON 相同的字段名输出 YAML。
func WriteYAML(w io.Writer, rep *Report) error {
	raw, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

// DashboardTrade 为看板使用的精简成交格式。
type DashboardTrade struct {
	ID            int     `json:"id"`
	Side          string  `json:"side"`
	Quality       string  `json:"quality"`
	Killzone      string  `json:"killzone"`
	EntryTime     int64   `json:"entryTime"`
	EntryPrice    float64 `json:"entryPrice"`
	EntryDate     string  `json:"entryDate"`
	ExitTime      int64   `json:"exitTime"`
	ExitPrice     float64 `json:"exitPrice"`
	ExitDate      string  `json:"exitDate"`
	Profit        float64 `json:"profit"`
	ProfitPercent float64 `json:"profitPercent"`
	EntryReason   string  `json:"entryReason"`
	ExitReason    string  `json:"exitReason"`
}

type dashboardFile struct {
	Symbol      string           `json:"symbol"`
	Period      map[string]string `json:"period"`
	TotalTrades int              `json:"totalTrades"`
	Trades      []DashboardTrade `json:"trades"`
}

// WriteTradesJSON 输出看板读取的 trades 文件。
func WriteTradesJSON(w io.Writer, rep *Report) error {
	out := dashboardFile{
		Symbol:      rep.Symbol,
		Period:      map[string]string{"start": msDate(rep.Period.Start, dateLayout), "end": msDate(rep.Period.End, dateLayout)},
		TotalTrades: len(rep.Trades),
		Trades:      make([]DashboardTrade, 0, len(rep.Trades)),
	}
	for _, t := range rep.Trades {
		out.Trades = append(out.Trades, DashboardTrade{
			ID: t.ID, Side: string(t.Side), Quality: string(t.Quality), Killzone: string(t.Session),
			EntryTime: t.EntryTime, EntryPrice: t.EntryPrice, EntryDate: msDate(t.EntryTime, dateTimeLayout),
			ExitTime: t.ExitTime, ExitPrice: t.ExitPrice, ExitDate: msDate(t.ExitTime, dateTimeLayout),
			Profit: t.Profit, ProfitPercent: t.ProfitPercent, EntryReason: t.EntryReason, ExitReason: string(t.ExitReason),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// WriteCSV 输出可直接用表格软件打开的分节报告：汇总、统计、质量、时段、成交明细。
func WriteCSV(w io.Writer, rep *Report) error {
	cw := csv.NewWriter(w)
	s := rep.Summary
	section := func(title string, rows ...[]string) {
		_ = cw.Write([]string{"=== " + title + " ==="})
		for _, r := range rows {
			_ = cw.Write(r)
		}
		_ = cw.Write(nil)
	}
	_ = cw.Write([]string{"ICT STRATEGY BACKTEST RESULTS"})
	_ = cw.Write([]string{"Symbol", rep.Symbol, "Timeframe", rep.Timeframe, "Profile", rep.Profile})
	_ = cw.Write([]string{"Period", msDate(rep.Period.Start, dateLayout), msDate(rep.Period.End, dateLayout)})
	_ = cw.Write(nil)
	section("ACCOUNT SUMMARY",
		[]string{"Starting Capital", fixed(s.InitialCapital, 2)},
		[]string{"Leverage", fixed(rep.Config.Leverage, 0) + "x"},
		[]string{"Final Balance", fixed(s.FinalBalance, 2)},
		[]string{"Total Profit/Loss", fixed(s.TotalProfit, 2)},
		[]string{"Return %", fixed(s.TotalReturnPct, 2)},
		[]string{"Max Drawdown %", fixed(s.MaxDrawdownPct, 2)},
		[]string{"Win Rate %", fixed(s.WinRatePct, 2)},
		[]string{"Sharpe Ratio", fixed(s.SharpeRatio, 2)},
	)
	section("TRADE STATISTICS",
		[]string{"Total Trades", fmt.Sprint(s.TotalTrades)},
		[]string{"Winning Trades", fmt.Sprint(s.WinningTrades)},
		[]string{"Losing Trades", fmt.Sprint(s.LosingTrades)},
		[]string{"Average Win", fixed(s.AvgWin, 2)},
		[]string{"Average Loss", fixed(s.AvgLoss, 2)},
		[]string{"Largest Win", fixed(s.LargestWin, 2)},
		[]string{"Largest Loss", fixed(s.LargestLoss, 2)},
		[]string{"Profit Factor", fixed(s.ProfitFactor, 2)},
	)
	section("QUALITY DISTRIBUTION",
		[]string{"A+ Trades", fmt.Sprint(rep.QualityBreakdown.APlus)},
		[]string{"A Trades", fmt.Sprint(rep.QualityBreakdown.A)},
		[]string{"B Trades", fmt.Sprint(rep.QualityBreakdown.B)},
	)
	section("SESSION ANALYSIS",
		[]string{"Asia Trades", fmt.Sprint(rep.SessionBreakdown.Asia)},
		[]string{"London Trades", fmt.Sprint(rep.SessionBreakdown.London)},
		[]string{"New York Trades", fmt.Sprint(rep.SessionBreakdown.NY)},
	)
	section("RULE COMPLIANCE",
		[]string{"Signals Generated", fmt.Sprint(rep.RuleCompliance.TotalSignalsGenerated)},
		[]string{"Rule Violations", fmt.Sprint(rep.RuleCompliance.RuleViolations)},
		[]string{"Compliance Rate %", fixed(rep.RuleCompliance.ComplianceRate, 2)},
	)
	_ = cw.Write([]string{"=== DETAILED TRADE LIST ==="})
	_ = cw.Write([]string{"Trade #", "Date", "Side", "Quality", "Killzone", "Entry Price", "Exit Price", "Profit $", "Profit %", "Duration Hours", "Entry Reason", "Exit Reason"})
	for _, t := range rep.Trades {
		hours := time.Duration(t.ExitTime-t.EntryTime) * time.Millisecond
		_ = cw.Write([]string{
			fmt.Sprint(t.ID), msDate(t.EntryTime, dateTimeLayout), string(t.Side), string(t.Quality), string(t.Session),
			fixed(t.EntryPrice, 8), fixed(t.ExitPrice, 8), fixed(t.Profit, 2), fixed(t.ProfitPercent, 2),
			fixed(hours.Hours(), 1), t.EntryReason, string(t.ExitReason),
		})
	}
	cw.Flush()
	return cw.Error()
}

const (
	chartBackground = "#060c1b"
	chartText       = "#eceff4"
	chartEquity     = "#3b82f6"
	chartPeak       = "#fbbf24"
	chartDrawdown   = "#f87171"
	chartWin        = "#34d399"
	chartLoss       = "#f87171"
)

// WriteHTML 渲染资金曲线、回撤与逐笔盈亏的 echarts 页面。
func WriteHTML(w io.Writer, rep *Report) error {
	initOpts := opts.Initialization{Theme: types.ThemeWesteros, Width: "1400px", Height: "480px", BackgroundColor: chartBackground}
	axisLabel := &opts.AxisLabel{Color: chartText}
	title := func(t, sub string) charts.GlobalOpts {
		return charts.WithTitleOpts(opts.Title{Title: t, Subtitle: sub, TitleStyle: &opts.TextStyle{Color: chartText}})
	}

	xs := make([]string, 0, len(rep.EquityCurve))
	equity := make([]opts.LineData, 0, len(rep.EquityCurve))
	peak := make([]opts.LineData, 0, len(rep.EquityCurve))
	dd := make([]opts.LineData, 0, len(rep.EquityCurve))
	for _, p := range rep.EquityCurve {
		xs = append(xs, msDate(p.Timestamp, dateTimeLayout))
		equity = append(equity, opts.LineData{Value: fixed(p.Equity, 2)})
		peak = append(peak, opts.LineData{Value: fixed(p.PeakEquity, 2)})
		dd = append(dd, opts.LineData{Value: fixed(-p.DrawdownPct, 2)})
	}

	s := rep.Summary
	eqChart := charts.NewLine()
	eqChart.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts),
		title(fmt.Sprintf("%s %s 资金曲线", rep.Symbol, rep.Timeframe),
			fmt.Sprintf("收益 %s%% | 回撤 %s%% | 胜率 %s%% | PF %s", fixed(s.TotalReturnPct, 2), fixed(s.MaxDrawdownPct, 2), fixed(s.WinRatePct, 1), fixed(s.ProfitFactor, 2))),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: chartText}, Right: "10"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: axisLabel}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true), AxisLabel: axisLabel}),
	)
	eqChart.SetXAxis(xs).
		AddSeries("equity", equity, charts.WithLineStyleOpts(opts.LineStyle{Color: chartEquity})).
		AddSeries("peak", peak, charts.WithLineStyleOpts(opts.LineStyle{Color: chartPeak, Type: "dashed"}))

	ddChart := charts.NewLine()
	ddChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: initOpts.Theme, Width: initOpts.Width, Height: "260px", BackgroundColor: chartBackground}),
		title("回撤 %", ""),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: axisLabel}),
		charts.WithYAxisOpts(opts.YAxis{AxisLabel: axisLabel}),
	)
	ddChart.SetXAxis(xs).AddSeries("drawdown", dd,
		charts.WithLineStyleOpts(opts.LineStyle{Color: chartDrawdown}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.3)}))

	ids := make([]string, 0, len(rep.Trades))
	bars := make([]opts.BarData, 0, len(rep.Trades))
	for _, t := range rep.Trades {
		color := chartWin
		if t.Profit < 0 {
			color = chartLoss
		}
		ids = append(ids, fmt.Sprintf("#%d %s", t.ID, t.Quality))
		bars = append(bars, opts.BarData{Value: fixed(t.Profit, 2), ItemStyle: &opts.ItemStyle{Color: color}})
	}
	tradeChart := charts.NewBar()
	tradeChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: initOpts.Theme, Width: initOpts.Width, Height: "320px", BackgroundColor: chartBackground}),
		title("逐笔盈亏", fmt.Sprintf("%d 笔", len(rep.Trades))),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: axisLabel}),
		charts.WithYAxisOpts(opts.YAxis{AxisLabel: axisLabel}),
	)
	tradeChart.SetXAxis(ids).AddSeries("profit", bars)

	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("%s backtest", rep.Symbol)
	page.AddCharts(eqChart, ddChart, tradeChart)
	return page.Render(w)
}
