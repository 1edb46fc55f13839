package market

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(ts int64, o, h, l, c float64) Candle {
	return Candle{OpenTime: ts, CloseTime: ts + 59_999, Open: o, High: h, Low: l, Close: c, Volume: 1}
}

func TestCandlesValidate(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		cs := Candles{bar(1000, 1, 2, 0.5, 1.5), bar(2000, 1.5, 2, 1, 1.2)}
		require.NoError(t, cs.Validate())
	})
	t.Run("empty", func(t *testing.T) {
		assert.ErrorIs(t, Candles{}.Validate(), ErrMalformedCandle)
	})
	t.Run("nan price", func(t *testing.T) {
		cs := Candles{bar(1000, math.NaN(), 2, 0.5, 1.5)}
		assert.ErrorIs(t, cs.Validate(), ErrMalformedCandle)
	})
	t.Run("high below low", func(t *testing.T) {
		cs := Candles{bar(1000, 1, 0.4, 0.5, 1)}
		assert.ErrorIs(t, cs.Validate(), ErrMalformedCandle)
	})
	t.Run("non monotonic", func(t *testing.T) {
		cs := Candles{bar(2000, 1, 2, 0.5, 1.5), bar(1000, 1, 2, 0.5, 1.5)}
		assert.ErrorIs(t, cs.Validate(), ErrMalformedCandle)
	})
}

func TestCandlesClean(t *testing.T) {
	cs := Candles{
		bar(1000, 1, 2, 0.5, 1.5),
		bar(1000, 1, 2, 0.5, 1.5),
		bar(2000, 0, 2, 0.5, 1.5),
		bar(3000, 1, 2, 0.5, 1.5),
	}
	out, dropped := cs.Clean()
	assert.Len(t, out, 2)
	assert.Equal(t, 2, dropped)
	assert.Equal(t, int64(3000), out[1].OpenTime)
}

func TestParsePrice(t *testing.T) {
	v, err := ParsePrice(" 50123.45000000 ")
	require.NoError(t, err)
	assert.InDelta(t, 50123.45, v, 1e-9)

	_, err = ParsePrice("abc")
	assert.Error(t, err)
	assert.Equal(t, 1.23, Round(1.2345, 2))
}

func TestCandlesSnapshot(t *testing.T) {
	assert.Empty(t, Candles{}.Snapshot("1h"))
	cs := Candles{bar(1000, 100, 101, 95, 100), bar(2000, 100, 120, 99, 95)}
	assert.Equal(t, "close=95 (-5.00% over 2 1h candles), range 95-120", cs.Snapshot("1h"))
	assert.Contains(t, cs.Snapshot(""), "window candles")
}
