package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/olekukonko/tablewriter"

	"github.com/kjannette/tvscrape/internal/scrape"
)

type candleRow struct {
	Symbol string  `csv:"symbol"`
	Time   string  `csv:"time"`
	Open   float64 `csv:"open"`
	High   float64 `csv:"high"`
	Low    float64 `csv:"low"`
	Close  float64 `csv:"close"`
	Volume float64 `csv:"volume"`
}

func validFormat(format string) bool {
	switch format {
	case "json", "csv", "table":
		return true
	}
	return false
}

func writeResult(w io.Writer, format string, res *scrape.Result) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "csv":
		return writeCandlesCSV(w, res)
	case "table":
		writeTables(w, res)
		return nil
	}
	return fmt.Errorf("unknown format %q", format)
}

func writeCandlesCSV(w io.Writer, res *scrape.Result) error {
	rows := []*candleRow{}
	for _, ch := range res.Charts {
		for _, c := range ch.Candles {
			rows = append(rows, &candleRow{
				Symbol: ch.Symbol,
				Time:   time.Unix(c.Time, 0).UTC().Format(time.RFC3339),
				Open:   c.Open,
				High:   c.High,
				Low:    c.Low,
				Close:  c.Close,
				Volume: c.Volume,
			})
		}
	}
	return gocsv.Marshal(&rows, w)
}

func writeTables(w io.Writer, res *scrape.Result) {
	if len(res.Charts) > 0 {
		fmt.Fprintln(w, "Charts:")
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Symbol", "Bars", "Last Close", "Studies", "Status"})
		for _, ch := range res.Charts {
			last := "-"
			if n := len(ch.Candles); n > 0 {
				last = formatFloat(ch.Candles[n-1].Close)
			}
			table.Append([]string{
				ch.Symbol,
				strconv.Itoa(len(ch.Candles)),
				last,
				strconv.Itoa(len(ch.Studies)),
				status(ch.Completed, ch.Error),
			})
		}
		table.Render()
	}

	if len(res.Quotes) > 0 {
		fmt.Fprintln(w, "Quotes:")
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Symbol", "Last", "Change %", "Volume", "Status"})
		for _, q := range res.Quotes {
			table.Append([]string{
				q.Symbol,
				formatPtr(q.Values.LastPrice),
				formatPtr(q.Values.ChangePercent),
				formatPtr(q.Values.Volume),
				q.Status,
			})
		}
		table.Render()
	}

	if len(res.Analysis) > 0 {
		fmt.Fprintln(w, "Indicators:")
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Symbol", "Indicator", "Value", "Signal", "Note"})
		for _, a := range res.Analysis {
			for _, v := range a.Values {
				table.Append([]string{a.Symbol, v.Indicator, formatPtr(v.Value), formatPtr(v.Signal), v.Note})
			}
		}
		table.Render()
	}
}

func status(completed bool, errMsg string) string {
	switch {
	case errMsg != "":
		return "error: " + errMsg
	case completed:
		return "complete"
	default:
		return "partial"
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatPtr(f *float64) string {
	if f == nil {
		return "-"
	}
	return formatFloat(*f)
}
