package tradingview

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	ModeSnapshot  = "snapshot"
	ModeStreaming = "streaming"

	DefaultAuthToken = "unauthorized_user_token"
	DefaultTimeframe = "1D"
	DefaultRange     = 300
	MaxRange         = 20000

	studyScriptID = "Script@tv-scripting-101!"
)

var (
	ErrInvalidConfig = errors.New("invalid scrape config")
	ErrTimeout       = errors.New("scrape timed out")
	ErrUpstream      = errors.New("upstream error")
	ErrConnection    = errors.New("upstream connection failed")
)

var DefaultQuoteFields = []string{
	"lp", "ch", "chp", "volume", "bid", "ask", "open_price", "high_price",
	"low_price", "prev_close_price", "description", "exchange", "currency_code",
	"short_name", "type", "lp_time", "update_mode",
}

var timeframeRegexp = regexp.MustCompile(`^(\d+)([SDWM]?)$|^[DWM]$`)

// ClientConfig is the body of a scrape request.
type ClientConfig struct {
	Name         string   `json:"name" yaml:"name"`
	AuthToken    string   `json:"auth_token" yaml:"auth_token"`
	ChartSymbols []string `json:"chart_symbols" yaml:"chart_symbols"`
	QuoteSymbols []string `json:"quote_symbols" yaml:"quote_symbols"`
	Indicators   []string `json:"indicators" yaml:"indicators"`
	Timeframe    string   `json:"timeframe" yaml:"timeframe"`
	Range        int      `json:"range" yaml:"range"`
	Mode         string   `json:"mode" yaml:"mode"`
	QuoteFields  []string `json:"quote_fields,omitempty" yaml:"quote_fields,omitempty"`
}

// WithDefaults returns a copy with empty fields filled in.
func (c ClientConfig) WithDefaults() ClientConfig {
	if c.AuthToken == "" {
		c.AuthToken = DefaultAuthToken
	}
	if c.Timeframe == "" {
		c.Timeframe = DefaultTimeframe
	}
	if c.Range == 0 {
		c.Range = DefaultRange
	}
	if c.Mode == "" {
		c.Mode = ModeSnapshot
	}
	if len(c.QuoteFields) == 0 {
		c.QuoteFields = DefaultQuoteFields
	}
	return c
}

// Validate checks a defaulted config. Every problem is reported.
func (c ClientConfig) Validate() error {
	var errs []string

	if len(c.ChartSymbols) == 0 && len(c.QuoteSymbols) == 0 {
		errs = append(errs, "at least one of chart_symbols or quote_symbols is required")
	}
	for i, s := range c.ChartSymbols {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, fmt.Sprintf("chart_symbols[%d] is empty", i))
		}
	}
	for i, s := range c.QuoteSymbols {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, fmt.Sprintf("quote_symbols[%d] is empty", i))
		}
	}
	for i, s := range c.Indicators {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, fmt.Sprintf("indicators[%d] is empty", i))
		}
	}
	if len(c.Indicators) > 0 && len(c.ChartSymbols) == 0 {
		errs = append(errs, "indicators require at least one chart symbol")
	}
	if len(c.ChartSymbols) > 0 {
		if c.Range < 1 || c.Range > MaxRange {
			errs = append(errs, fmt.Sprintf("range must be between 1 and %d", MaxRange))
		}
		if !ValidTimeframe(c.Timeframe) {
			errs = append(errs, fmt.Sprintf("invalid timeframe %q", c.Timeframe))
		}
	}
	switch c.Mode {
	case ModeSnapshot, ModeStreaming:
	default:
		errs = append(errs, fmt.Sprintf("invalid mode %q, expected snapshot|streaming", c.Mode))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// ValidTimeframe reports whether tf is a resolution the feed understands:
// minutes (1..1440), or a count with an S/D/W/M suffix, or bare D/W/M.
func ValidTimeframe(tf string) bool {
	m := timeframeRegexp.FindStringSubmatch(tf)
	if m == nil {
		return false
	}
	if m[1] == "" {
		return true
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return false
	}
	if m[2] == "" {
		return n <= 1440
	}
	return true
}

// SymbolQuery turns a chart symbol into the resolve_symbol argument.
// Strings starting with "=" are already encoded and pass through.
func SymbolQuery(symbol string) string {
	symbol = strings.TrimSpace(symbol)
	if strings.HasPrefix(symbol, "=") {
		return symbol
	}
	b, _ := json.Marshal(struct {
		Symbol     string `json:"symbol"`
		Adjustment string `json:"adjustment"`
	}{symbol, "splits"})
	return "=" + string(b)
}

// SymbolName extracts the ticker from a chart symbol or encoded query.
func SymbolName(symbol string) string {
	symbol = strings.TrimSpace(symbol)
	if !strings.HasPrefix(symbol, "=") {
		return symbol
	}
	var q struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal([]byte(symbol[1:]), &q); err != nil || q.Symbol == "" {
		return symbol
	}
	return q.Symbol
}

// StudyInputs builds the create_study input object for an indicator payload.
// JSON objects pass through; anything else is treated as encoded script text.
func StudyInputs(payload string) any {
	trimmed := strings.TrimSpace(payload)
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			return obj
		}
	}
	return map[string]any{"text": payload}
}
