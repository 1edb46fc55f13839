package backtest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ictbt/internal/logger"
	"ictbt/internal/market"

	"github.com/tidwall/gjson"
)

const (
	mexcMaxLimit   = 1000
	defaultMEXCURL = "https://api.mexc.com"
)

// mexcIntervals 将本地周期映射为 MEXC 的 interval 写法。
var mexcIntervals = map[string]string{
	"1m": "1m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "60m", "4h": "4h", "1d": "1d", "1w": "1W",
}

// MEXCSource 拉取 MEXC 现货 /api/v3/klines，行格式与 Binance 相同但数值可能是数字或字符串。
type MEXCSource struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

func NewMEXCSource(baseURL string, timeout time.Duration) *MEXCSource {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultMEXCURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MEXCSource{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

func (m *MEXCSource) Name() string { return "mexc" }

func (m *MEXCSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if req.Symbol == "" || req.Interval == "" {
		return nil, fmt.Errorf("%w: symbol/interval required", ErrInvalidInput)
	}
	interval, ok := mexcIntervals[strings.ToLower(req.Interval)]
	if !ok {
		return nil, fmt.Errorf("%w: mexc does not support interval %q", ErrInvalidInput, req.Interval)
	}
	symbol := market.NormalizeSymbol(req.Symbol)
	limit := req.Limit
	if limit <= 0 || limit > mexcMaxLimit {
		limit = mexcMaxLimit
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	if req.Start > 0 {
		q.Set("startTime", strconv.FormatInt(req.Start, 10))
	}
	if req.End > 0 {
		q.Set("endTime", strconv.FormatInt(req.End, 10))
	}
	fetchErr := func(err error) error {
		return &FetchError{Source: m.Name(), Symbol: symbol, Interval: req.Interval, Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/api/v3/klines?"+q.Encode(), nil)
	if err != nil {
		return nil, fetchErr(err)
	}
	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fetchErr(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fetchErr(err)
	}
	if resp.StatusCode >= 300 {
		return nil, fetchErr(fmt.Errorf("status %d: %s", resp.StatusCode, gjson.GetBytes(body, "msg").String()))
	}
	rows := gjson.ParseBytes(body)
	if !rows.IsArray() {
		return nil, fetchErr(fmt.Errorf("unexpected payload: %.120s", body))
	}
	tfDur := time.Duration(0)
	if tf, err := ParseTimeframe(req.Interval); err == nil {
		tfDur = tf.Duration
	}
	var out []market.Candle
	dropped := 0
	rows.ForEach(func(_, row gjson.Result) bool {
		c, err := mexcCandle(row, tfDur)
		if err != nil {
			dropped++
			return true
		}
		out = append(out, c)
		return true
	})
	if dropped > 0 {
		logger.Warnf("[fetch] mexc %s@%s 丢弃 %d 根无法解析的 K 线", symbol, req.Interval, dropped)
	}
	return market.DropUnclosed(out, tfDur, m.now()), nil
}

func mexcCandle(row gjson.Result, step time.Duration) (market.Candle, error) {
	cols := row.Array()
	if len(cols) < 6 {
		return market.Candle{}, fmt.Errorf("%w: short row", market.ErrMalformedCandle)
	}
	c := market.Candle{OpenTime: cols[0].Int()}
	if len(cols) > 6 {
		c.CloseTime = cols[6].Int()
	}
	if c.CloseTime == 0 && step > 0 {
		c.CloseTime = c.OpenTime + step.Milliseconds() - 1
	}
	dst := []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
	for i, p := range dst {
		v, err := market.ParsePrice(cols[i+1].String())
		if err != nil {
			return market.Candle{}, err
		}
		*p = v
	}
	return c, c.Validate()
}
