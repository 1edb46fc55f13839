package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	want := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC).UnixMilli()
	for _, in := range []string{"2025-01-02", "2025-01-02T00:00:00Z", "1735776000000"} {
		got, err := parseTime(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseTime("")
	assert.Error(t, err)
	_, err = parseTime("yesterday")
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, splitList(" BTCUSDT, ,ETHUSDT "))
	assert.Nil(t, splitList(""))
}
