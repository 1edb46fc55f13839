package app

import (
	"fmt"
	"strings"
)

// StartupSummary 启动时打印一次的配置摘要。
type StartupSummary struct {
	Env            string
	HTTPAddr       string
	Exchanges      []string
	CandleDir      string
	ResultsDB      string
	Profiles       []string
	DefaultProfile string
	AI             string
	SyncSymbols    []string
	SyncTimeframes []string
	Telegram       bool
}

func (s *StartupSummary) Print() {
	fmt.Print(s.String())
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	line := strings.Repeat("=", 80)
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(&b, line)

	fmt.Fprintln(&b, "[服务 (SERVICE)]")
	fmt.Fprintf(&b, "  环境: %s\n", s.Env)
	fmt.Fprintf(&b, "  HTTP: %s\n", s.HTTPAddr)
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "[行情数据 (MARKET DATA)]")
	fmt.Fprintf(&b, "  数据源: %s\n", formatList(s.Exchanges))
	fmt.Fprintf(&b, "  K 线缓存: %s\n", s.CandleDir)
	fmt.Fprintf(&b, "  结果库: %s\n", s.ResultsDB)
	if len(s.SyncSymbols) == 0 {
		fmt.Fprintln(&b, "  定时同步: 关闭")
	} else {
		fmt.Fprintf(&b, "  定时同步: %s × %s\n", formatList(s.SyncSymbols), formatList(s.SyncTimeframes))
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "[策略 (STRATEGY)]")
	fmt.Fprintf(&b, "  Profiles: %s\n", formatList(s.Profiles))
	def := s.DefaultProfile
	if def == "" {
		def = "(backtest 段默认参数)"
	}
	fmt.Fprintf(&b, "  默认 profile: %s\n", def)
	fmt.Fprintf(&b, "  LLM: %s\n", s.AI)
	tg := "关闭"
	if s.Telegram {
		tg = "开启"
	}
	fmt.Fprintf(&b, "  Telegram 推送: %s\n", tg)
	fmt.Fprintln(&b, line)
	return b.String()
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
