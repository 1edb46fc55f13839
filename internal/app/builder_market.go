package app

import (
	"fmt"
	"strings"
	"time"

	"ictbt/internal/backtest"
	"ictbt/internal/config"
)

// buildSources 为配置了 REST 地址的交易所创建行情源。
func buildSources(cfg config.MarketConfig) (map[string]backtest.CandleSource, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	out := make(map[string]backtest.CandleSource, 2)
	if url := strings.TrimSpace(cfg.BinanceREST); url != "" {
		out["binance"] = backtest.NewBinanceSource(url, timeout)
	}
	if url := strings.TrimSpace(cfg.MEXCREST); url != "" {
		out["mexc"] = backtest.NewMEXCSource(url, timeout)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no exchange configured")
	}
	return out, nil
}
