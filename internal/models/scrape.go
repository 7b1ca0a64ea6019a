package models

import (
	"encoding/json"
	"time"
)

const (
	ScrapeStatusOK    = "ok"
	ScrapeStatusError = "error"
)

// ScrapeRecord is one row of scrape_history.
type ScrapeRecord struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Mode         string          `json:"mode"`
	ChartSymbols []string        `json:"chart_symbols"`
	QuoteSymbols []string        `json:"quote_symbols"`
	Status       string          `json:"status"`
	Error        string          `json:"error,omitempty"`
	DurationMS   int64           `json:"duration_ms"`
	Result       json.RawMessage `json:"result,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (r *ScrapeRecord) Failed() bool {
	return r.Status == ScrapeStatusError
}
