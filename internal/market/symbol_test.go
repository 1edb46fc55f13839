package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSymbol(t *testing.T) {
	cases := map[string]string{
		"BTC/USDT":      "BTCUSDT",
		" btcusdt ":     "BTCUSDT",
		"ETH/USDT:USDT": "ETHUSDT",
		"solusdc":       "SOLUSDC",
		"weird":         "WEIRD",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeSymbol(in), in)
	}
	assert.Equal(t, Symbol{Base: "BTC", Quote: "USDT"}, ParseSymbol("btc/usdt"))
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, NormalizeSymbols([]string{"BTC/USDT", "btcusdt", "", "ETHUSDT"}))
}

func TestDropUnclosed(t *testing.T) {
	open := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cs := []Candle{
		bar(open.Add(-time.Hour).UnixMilli(), 1, 2, 0.5, 1.5),
		bar(open.UnixMilli(), 1, 2, 0.5, 1.5),
	}
	assert.Len(t, DropUnclosed(cs, time.Hour, open.Add(30*time.Minute)), 1)
	assert.Len(t, DropUnclosed(cs, time.Hour, open.Add(time.Hour+5*time.Second)), 1)
	assert.Len(t, DropUnclosed(cs, time.Hour, open.Add(time.Hour+UnclosedGrace)), 2)
	assert.Len(t, DropUnclosed(cs, 0, open), 2)
}
