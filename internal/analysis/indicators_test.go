package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/tvscrape/internal/tradingview"
)

func flatCandles(n int) []tradingview.Candle {
	out := make([]tradingview.Candle, n)
	for i := range out {
		out[i] = tradingview.Candle{Time: int64(i * 60), Open: 10, High: 11, Low: 9, Close: 10, Volume: 1}
	}
	return out
}

func risingCandles(n int) []tradingview.Candle {
	out := make([]tradingview.Candle, n)
	for i := range out {
		c := float64(i + 1)
		out[i] = tradingview.Candle{Time: int64(i * 60), Open: c, High: c + 0.5, Low: c - 0.5, Close: c}
	}
	return out
}

func TestParseSpec(t *testing.T) {
	s, err := ParseSpec("rsi:14")
	require.NoError(t, err)
	assert.Equal(t, Spec{Name: "rsi", Period: 14}, s)
	assert.Equal(t, "rsi:14", s.String())

	s, err = ParseSpec(" SMA:20 ")
	require.NoError(t, err)
	assert.Equal(t, "sma", s.Name)

	s, err = ParseSpec("macd")
	require.NoError(t, err)
	assert.Equal(t, "macd:12,26,9", s.String())

	s, err = ParseSpec("macd:5,10,3")
	require.NoError(t, err)
	assert.Equal(t, Spec{Name: "macd", Fast: 5, Slow: 10, Signal: 3}, s)
}

func TestParseSpec_Invalid(t *testing.T) {
	for _, raw := range []string{"", "foo:3", "rsi", "rsi:x", "rsi:1", "ema:5000", "macd:1,2", "macd:26,12,9"} {
		_, err := ParseSpec(raw)
		assert.Error(t, err, raw)
	}
}

func TestParseSpecs_ReportsEveryFailure(t *testing.T) {
	_, err := ParseSpecs([]string{"rsi:14", "bogus", "sma"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
	assert.Contains(t, err.Error(), "period required")

	specs, err := ParseSpecs([]string{"ema:3", "atr:5"})
	require.NoError(t, err)
	assert.Len(t, specs, 2)
}

func TestCompute_MovingAverages(t *testing.T) {
	specs, err := ParseSpecs([]string{"sma:3", "ema:5", "wma:4"})
	require.NoError(t, err)

	vals := Compute(risingCandles(10), specs)
	require.Len(t, vals, 3)

	require.NotNil(t, vals[0].Value)
	assert.InDelta(t, 9.0, *vals[0].Value, 1e-9, "mean of 8,9,10")
	assert.Equal(t, 10, vals[0].Bars)

	flat := Compute(flatCandles(20), specs)
	for _, v := range flat {
		require.NotNil(t, v.Value, v.Indicator)
		assert.InDelta(t, 10.0, *v.Value, 1e-9, v.Indicator)
	}
}

func TestCompute_Oscillators(t *testing.T) {
	specs, err := ParseSpecs([]string{"rsi:14", "atr:5", "macd:3,6,2"})
	require.NoError(t, err)

	rising := Compute(risingCandles(40), specs)
	require.NotNil(t, rising[0].Value)
	assert.Greater(t, *rising[0].Value, 99.0)

	flat := Compute(flatCandles(40), specs)
	require.NotNil(t, flat[1].Value)
	assert.InDelta(t, 2.0, *flat[1].Value, 1e-9)

	macd := flat[2]
	require.NotNil(t, macd.Value)
	require.NotNil(t, macd.Signal)
	require.NotNil(t, macd.Histogram)
	assert.InDelta(t, 0.0, *macd.Value, 1e-9)
	assert.InDelta(t, 0.0, *macd.Histogram, 1e-9)
}

func TestCompute_InsufficientData(t *testing.T) {
	specs, err := ParseSpecs([]string{"sma:20", "rsi:14"})
	require.NoError(t, err)

	vals := Compute(risingCandles(5), specs)
	require.Len(t, vals, 2)
	for _, v := range vals {
		assert.Nil(t, v.Value)
		assert.Contains(t, v.Note, "insufficient data")
		assert.Equal(t, 5, v.Bars)
	}

	assert.Contains(t, Compute(nil, specs)[0].Note, "0 bars")
}
