package backtest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ictbt/internal/logger"
	"ictbt/internal/market"

	"github.com/adshao/go-binance/v2"
)

const (
	binanceMaxLimit   = 1000
	defaultBinanceURL = "https://api.binance.com"
)

// BinanceSource 通过 go-binance 拉取现货 /api/v3/klines。
type BinanceSource struct {
	client *binance.Client
	now    func() time.Time
}

func NewBinanceSource(baseURL string, timeout time.Duration) *BinanceSource {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBinanceURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := binance.NewClient("", "")
	client.BaseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &BinanceSource{client: client, now: time.Now}
}

func (b *BinanceSource) Name() string { return "binance" }

func (b *BinanceSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if req.Symbol == "" || req.Interval == "" {
		return nil, fmt.Errorf("%w: symbol/interval required", ErrInvalidInput)
	}
	limit := req.Limit
	if limit <= 0 || limit > binanceMaxLimit {
		limit = binanceMaxLimit
	}
	symbol := market.NormalizeSymbol(req.Symbol)
	svc := b.client.NewKlinesService().Symbol(symbol).Interval(req.Interval).Limit(limit)
	if req.Start > 0 {
		svc = svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc = svc.EndTime(req.End)
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, &FetchError{Source: b.Name(), Symbol: symbol, Interval: req.Interval, Err: err}
	}
	out := make([]market.Candle, 0, len(kls))
	dropped := 0
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		c, err := binanceCandle(kl)
		if err != nil {
			dropped++
			continue
		}
		out = append(out, c)
	}
	if dropped > 0 {
		logger.Warnf("[fetch] binance %s@%s 丢弃 %d 根无法解析的 K 线", symbol, req.Interval, dropped)
	}
	if tf, err := ParseTimeframe(req.Interval); err == nil {
		out = market.DropUnclosed(out, tf.Duration, b.now())
	}
	return out, nil
}

func binanceCandle(kl *binance.Kline) (market.Candle, error) {
	c := market.Candle{OpenTime: kl.OpenTime, CloseTime: kl.CloseTime, Trades: kl.TradeNum}
	fields := []struct {
		raw string
		dst *float64
	}{
		{kl.Open, &c.Open}, {kl.High, &c.High}, {kl.Low, &c.Low}, {kl.Close, &c.Close}, {kl.Volume, &c.Volume},
	}
	for _, f := range fields {
		v, err := market.ParsePrice(f.raw)
		if err != nil {
			return market.Candle{}, err
		}
		*f.dst = v
	}
	return c, c.Validate()
}
