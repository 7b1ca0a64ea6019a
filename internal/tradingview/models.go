package tradingview

import (
	"sort"
	"time"
)

type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// StudyPoint values are nil where the study plotted nothing.
type StudyPoint struct {
	Time   int64      `json:"time"`
	Values []*float64 `json:"values"`
}

type StudyResult struct {
	ID        string       `json:"id"`
	Indicator int          `json:"indicator"`
	Points    []StudyPoint `json:"points"`
	Completed bool         `json:"completed"`
	Error     string       `json:"error,omitempty"`
}

type SymbolInfo struct {
	Name         string  `json:"name" mapstructure:"name"`
	FullName     string  `json:"full_name,omitempty" mapstructure:"full_name"`
	Description  string  `json:"description,omitempty" mapstructure:"description"`
	Exchange     string  `json:"exchange,omitempty" mapstructure:"exchange"`
	Type         string  `json:"type,omitempty" mapstructure:"type"`
	CurrencyCode string  `json:"currency_code,omitempty" mapstructure:"currency_code"`
	Timezone     string  `json:"timezone,omitempty" mapstructure:"timezone"`
	PriceScale   float64 `json:"pricescale,omitempty" mapstructure:"pricescale"`
	MinMov       float64 `json:"minmov,omitempty" mapstructure:"minmov"`
}

type ChartResult struct {
	Symbol    string         `json:"symbol"`
	Query     string         `json:"query"`
	Timeframe string         `json:"timeframe"`
	Info      *SymbolInfo    `json:"info,omitempty"`
	Candles   []Candle       `json:"candles"`
	Studies   []*StudyResult `json:"studies"`
	Completed bool           `json:"completed"`
	Error     string         `json:"error,omitempty"`
}

// QuoteValues holds the typed subset of quote fields. Fields the feed did
// not send stay nil.
type QuoteValues struct {
	LastPrice     *float64 `json:"lp,omitempty" mapstructure:"lp"`
	Change        *float64 `json:"ch,omitempty" mapstructure:"ch"`
	ChangePercent *float64 `json:"chp,omitempty" mapstructure:"chp"`
	Volume        *float64 `json:"volume,omitempty" mapstructure:"volume"`
	Bid           *float64 `json:"bid,omitempty" mapstructure:"bid"`
	Ask           *float64 `json:"ask,omitempty" mapstructure:"ask"`
	Open          *float64 `json:"open_price,omitempty" mapstructure:"open_price"`
	High          *float64 `json:"high_price,omitempty" mapstructure:"high_price"`
	Low           *float64 `json:"low_price,omitempty" mapstructure:"low_price"`
	PrevClose     *float64 `json:"prev_close_price,omitempty" mapstructure:"prev_close_price"`
	LastPriceTime *int64   `json:"lp_time,omitempty" mapstructure:"lp_time"`
	Description   string   `json:"description,omitempty" mapstructure:"description"`
	Exchange      string   `json:"exchange,omitempty" mapstructure:"exchange"`
	CurrencyCode  string   `json:"currency_code,omitempty" mapstructure:"currency_code"`
	ShortName     string   `json:"short_name,omitempty" mapstructure:"short_name"`
	Type          string   `json:"type,omitempty" mapstructure:"type"`
	UpdateMode    string   `json:"update_mode,omitempty" mapstructure:"update_mode"`
}

type QuoteResult struct {
	Symbol    string         `json:"symbol"`
	Status    string         `json:"status"`
	Values    QuoteValues    `json:"values"`
	Raw       map[string]any `json:"raw"`
	Completed bool           `json:"completed"`
}

type ScrapeResult struct {
	Name        string         `json:"name"`
	Mode        string         `json:"mode"`
	Session     *SessionInfo   `json:"session,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Charts      []*ChartResult `json:"charts"`
	Quotes      []*QuoteResult `json:"quotes"`
	Messages    int            `json:"messages"`
}

// upsertCandle keeps candles ordered by time; an existing bar at the same
// time is replaced.
func upsertCandle(candles []Candle, c Candle) []Candle {
	n := len(candles)
	if n == 0 || candles[n-1].Time < c.Time {
		return append(candles, c)
	}
	i := sort.Search(n, func(i int) bool { return candles[i].Time >= c.Time })
	if i < n && candles[i].Time == c.Time {
		candles[i] = c
		return candles
	}
	candles = append(candles, Candle{})
	copy(candles[i+1:], candles[i:])
	candles[i] = c
	return candles
}

func upsertStudyPoint(points []StudyPoint, p StudyPoint) []StudyPoint {
	n := len(points)
	if n == 0 || points[n-1].Time < p.Time {
		return append(points, p)
	}
	i := sort.Search(n, func(i int) bool { return points[i].Time >= p.Time })
	if i < n && points[i].Time == p.Time {
		points[i] = p
		return points
	}
	points = append(points, StudyPoint{})
	copy(points[i+1:], points[i:])
	points[i] = p
	return points
}
