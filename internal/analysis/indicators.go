package analysis

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/markcheno/go-talib"

	"github.com/kjannette/tvscrape/internal/tradingview"
)

const maxPeriod = 1000

// Spec is one locally computed indicator, written as "name:period".
// MACD takes "macd" or "macd:fast,slow,signal".
type Spec struct {
	Name   string `json:"name"`
	Period int    `json:"period,omitempty"`
	Fast   int    `json:"fast,omitempty"`
	Slow   int    `json:"slow,omitempty"`
	Signal int    `json:"signal,omitempty"`
}

func (s Spec) String() string {
	if s.Name == "macd" {
		return fmt.Sprintf("macd:%d,%d,%d", s.Fast, s.Slow, s.Signal)
	}
	return fmt.Sprintf("%s:%d", s.Name, s.Period)
}

// minBars is the number of candles needed before the indicator yields a value.
func (s Spec) minBars() int {
	switch s.Name {
	case "rsi", "atr":
		return s.Period + 1
	case "macd":
		return s.Slow + s.Signal - 1
	default:
		return s.Period
	}
}

func ParseSpec(raw string) (Spec, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	name, arg, hasArg := strings.Cut(raw, ":")

	switch name {
	case "macd":
		spec := Spec{Name: "macd", Fast: 12, Slow: 26, Signal: 9}
		if !hasArg {
			return spec, nil
		}
		parts := strings.Split(arg, ",")
		if len(parts) != 3 {
			return Spec{}, fmt.Errorf("indicator %q: macd takes fast,slow,signal", raw)
		}
		vals := make([]int, 3)
		for i, p := range parts {
			n, err := parsePeriod(p)
			if err != nil {
				return Spec{}, fmt.Errorf("indicator %q: %w", raw, err)
			}
			vals[i] = n
		}
		if vals[0] >= vals[1] {
			return Spec{}, fmt.Errorf("indicator %q: fast period must be below slow period", raw)
		}
		spec.Fast, spec.Slow, spec.Signal = vals[0], vals[1], vals[2]
		return spec, nil

	case "sma", "ema", "wma", "rsi", "atr":
		if !hasArg {
			return Spec{}, fmt.Errorf("indicator %q: period required, e.g. %s:14", raw, name)
		}
		n, err := parsePeriod(arg)
		if err != nil {
			return Spec{}, fmt.Errorf("indicator %q: %w", raw, err)
		}
		return Spec{Name: name, Period: n}, nil
	}
	return Spec{}, fmt.Errorf("unknown indicator %q (sma, ema, wma, rsi, atr, macd)", raw)
}

// ParseSpecs parses every entry and reports all failures at once.
func ParseSpecs(raw []string) ([]Spec, error) {
	specs := make([]Spec, 0, len(raw))
	var errs []string
	for _, r := range raw {
		s, err := ParseSpec(r)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		specs = append(specs, s)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return specs, nil
}

func parsePeriod(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid period %q", s)
	}
	if n < 2 || n > maxPeriod {
		return 0, fmt.Errorf("period %d out of range 2..%d", n, maxPeriod)
	}
	return n, nil
}

// Value is the latest reading of one indicator over a candle series.
type Value struct {
	Indicator string   `json:"indicator"`
	Value     *float64 `json:"value,omitempty"`
	Signal    *float64 `json:"signal,omitempty"`
	Histogram *float64 `json:"histogram,omitempty"`
	Bars      int      `json:"bars"`
	Note      string   `json:"note,omitempty"`
}

// Compute evaluates each spec against the candles, oldest first.
func Compute(candles []tradingview.Candle, specs []Spec) []Value {
	n := len(candles)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	out := make([]Value, 0, len(specs))
	for _, spec := range specs {
		v := Value{Indicator: spec.String(), Bars: n}
		if need := spec.minBars(); n < need {
			v.Note = fmt.Sprintf("insufficient data: %d bars, need %d", n, need)
			out = append(out, v)
			continue
		}

		switch spec.Name {
		case "sma":
			v.Value = last(talib.Sma(closes, spec.Period))
		case "ema":
			v.Value = last(talib.Ema(closes, spec.Period))
		case "wma":
			v.Value = last(talib.Wma(closes, spec.Period))
		case "rsi":
			v.Value = last(talib.Rsi(closes, spec.Period))
		case "atr":
			v.Value = last(talib.Atr(highs, lows, closes, spec.Period))
		case "macd":
			macd, signal, hist := talib.Macd(closes, spec.Fast, spec.Slow, spec.Signal)
			v.Value, v.Signal, v.Histogram = last(macd), last(signal), last(hist)
		}
		if v.Value == nil {
			v.Note = "no finite value"
		}
		out = append(out, v)
	}
	return out
}

func last(series []float64) *float64 {
	if len(series) == 0 {
		return nil
	}
	x := series[len(series)-1]
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil
	}
	return &x
}
