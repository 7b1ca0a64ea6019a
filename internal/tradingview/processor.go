package tradingview

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/mitchellh/mapstructure"
	log "github.com/sirupsen/logrus"
)

// Plan describes the subscriptions a client has requested, so a processor
// knows which completions to wait for.
type Plan struct {
	Name         string
	Mode         string
	Timeframe    string
	Charts       []PlannedChart
	QuoteSession string
	Quotes       []string
}

type PlannedChart struct {
	Session string
	Symbol  string
	Query   string
	Studies []string
}

// MessageProcessor consumes decoded feed messages for one scrape.
type MessageProcessor interface {
	Begin(plan Plan)
	Session(info *SessionInfo)
	Process(msg *Message) error
	Complete() bool
	Result() *ScrapeResult
}

type chartState struct {
	result       *ChartResult
	seriesDone   bool
	studiesByID  map[string]*StudyResult
	pendingStudy int
}

// DefaultProcessor accumulates series, studies and quotes into a ScrapeResult.
type DefaultProcessor struct {
	result  *ScrapeResult
	charts  map[string]*chartState
	quotes  map[string]*QuoteResult
	pending int
}

func NewDefaultProcessor() MessageProcessor {
	return &DefaultProcessor{}
}

func (p *DefaultProcessor) Begin(plan Plan) {
	p.result = &ScrapeResult{
		Name:   plan.Name,
		Mode:   plan.Mode,
		Charts: make([]*ChartResult, 0, len(plan.Charts)),
		Quotes: make([]*QuoteResult, 0, len(plan.Quotes)),
	}
	p.charts = make(map[string]*chartState, len(plan.Charts))
	p.quotes = make(map[string]*QuoteResult, len(plan.Quotes))

	for _, c := range plan.Charts {
		cr := &ChartResult{
			Symbol:    c.Symbol,
			Query:     c.Query,
			Timeframe: plan.Timeframe,
			Candles:   []Candle{},
			Studies:   make([]*StudyResult, 0, len(c.Studies)),
		}
		st := &chartState{result: cr, studiesByID: make(map[string]*StudyResult, len(c.Studies))}
		for i, id := range c.Studies {
			sr := &StudyResult{ID: id, Indicator: i, Points: []StudyPoint{}}
			cr.Studies = append(cr.Studies, sr)
			st.studiesByID[id] = sr
		}
		st.pendingStudy = len(c.Studies)
		p.charts[c.Session] = st
		p.result.Charts = append(p.result.Charts, cr)
		p.pending++
	}

	for _, sym := range plan.Quotes {
		if _, dup := p.quotes[sym]; dup {
			continue
		}
		q := &QuoteResult{Symbol: sym, Raw: map[string]any{}}
		p.quotes[sym] = q
		p.result.Quotes = append(p.result.Quotes, q)
		p.pending++
	}
}

func (p *DefaultProcessor) Session(info *SessionInfo) {
	p.result.Session = info
}

func (p *DefaultProcessor) Complete() bool {
	return p.pending == 0
}

func (p *DefaultProcessor) Result() *ScrapeResult {
	return p.result
}

func (p *DefaultProcessor) Process(msg *Message) error {
	p.result.Messages++

	switch msg.Method {
	case "symbol_resolved":
		return upstream(p.onSymbolResolved(msg))
	case "timescale_update", "du":
		return upstream(p.onData(msg))
	case "series_completed":
		if st := p.chart(msg); st != nil && !st.seriesDone {
			st.seriesDone = true
			p.checkChart(st)
		}
	case "study_completed":
		if st := p.chart(msg); st != nil {
			if sr, ok := st.studiesByID[msg.stringParam(1)]; ok && !sr.Completed {
				sr.Completed = true
				st.pendingStudy--
				p.checkChart(st)
			}
		}
	case "study_error":
		if st := p.chart(msg); st != nil {
			if sr, ok := st.studiesByID[msg.stringParam(1)]; ok && !sr.Completed {
				sr.Completed = true
				sr.Error = errorText(msg, 2)
				st.pendingStudy--
				p.checkChart(st)
			}
		}
	case "series_error", "symbol_error":
		if st := p.chart(msg); st != nil {
			p.failChart(st, errorText(msg, 2))
		}
	case "qsd":
		return upstream(p.onQuote(msg))
	case "quote_completed":
		if q, ok := p.quotes[msg.stringParam(1)]; ok {
			p.completeQuote(q)
		}
	case "critical_error", "protocol_error":
		return fmt.Errorf("%w: %s: %s", ErrUpstream, msg.Method, errorText(msg, 0))
	default:
		log.WithField("method", msg.Method).Debug("tradingview: ignoring message")
	}
	return nil
}

// upstream marks a malformed feed message as an upstream fault.
func upstream(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

func (p *DefaultProcessor) chart(msg *Message) *chartState {
	return p.charts[msg.stringParam(0)]
}

func (p *DefaultProcessor) checkChart(st *chartState) {
	if st.result.Completed || !st.seriesDone || st.pendingStudy > 0 {
		return
	}
	st.result.Completed = true
	p.pending--
}

func (p *DefaultProcessor) failChart(st *chartState, reason string) {
	if st.result.Completed {
		return
	}
	st.result.Error = reason
	st.seriesDone = true
	for _, sr := range st.result.Studies {
		if !sr.Completed {
			sr.Completed = true
			sr.Error = "series unavailable"
		}
	}
	st.pendingStudy = 0
	p.checkChart(st)
}

func (p *DefaultProcessor) completeQuote(q *QuoteResult) {
	if q.Completed {
		return
	}
	q.Completed = true
	p.pending--
}

func (p *DefaultProcessor) onSymbolResolved(msg *Message) error {
	st := p.chart(msg)
	if st == nil {
		return nil
	}
	var raw map[string]any
	if err := msg.param(2, &raw); err != nil {
		return err
	}
	var info SymbolInfo
	if err := weakDecode(raw, &info); err != nil {
		return fmt.Errorf("symbol_resolved: %w", err)
	}
	st.result.Info = &info
	return nil
}

type dataPoint struct {
	Index  int               `json:"i"`
	Values []json.RawMessage `json:"v"`
}

type dataEntry struct {
	Series []dataPoint `json:"s"`
	Study  []dataPoint `json:"st"`
}

func (p *DefaultProcessor) onData(msg *Message) error {
	st := p.chart(msg)
	if st == nil {
		return nil
	}
	var entries map[string]json.RawMessage
	if err := msg.param(1, &entries); err != nil {
		return err
	}

	for key, raw := range entries {
		var entry dataEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			// Non-object entries (e.g. index maps) carry no bars.
			continue
		}
		for _, dp := range entry.Series {
			vals := floats(dp.Values)
			if len(vals) < 5 || vals[0] == nil {
				continue
			}
			c := Candle{Time: int64(*vals[0])}
			c.Open, c.High, c.Low, c.Close = deref(vals[1]), deref(vals[2]), deref(vals[3]), deref(vals[4])
			if len(vals) > 5 {
				c.Volume = deref(vals[5])
			}
			st.result.Candles = upsertCandle(st.result.Candles, c)
		}
		if sr, ok := st.studiesByID[key]; ok {
			for _, dp := range entry.Study {
				vals := floats(dp.Values)
				if len(vals) == 0 || vals[0] == nil {
					continue
				}
				sr.Points = upsertStudyPoint(sr.Points, StudyPoint{Time: int64(*vals[0]), Values: vals[1:]})
			}
		}
	}
	return nil
}

type quotePayload struct {
	Name   string         `json:"n"`
	Status string         `json:"s"`
	Values map[string]any `json:"v"`
}

func (p *DefaultProcessor) onQuote(msg *Message) error {
	var qp quotePayload
	if err := msg.param(1, &qp); err != nil {
		return err
	}
	q, ok := p.quotes[qp.Name]
	if !ok {
		log.WithField("symbol", qp.Name).Debug("tradingview: quote for unrequested symbol")
		return nil
	}
	if qp.Status != "" {
		q.Status = qp.Status
	}
	for k, v := range qp.Values {
		q.Raw[k] = v
	}

	var values QuoteValues
	if err := weakDecode(q.Raw, &values); err != nil {
		return fmt.Errorf("qsd %s: %w", qp.Name, err)
	}
	q.Values = values

	if q.Status == "error" {
		p.completeQuote(q)
	}
	return nil
}

func weakDecode(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// Values at or above this magnitude are the feed's "no value" marker.
const emptyValue = 1e100

func floats(raw []json.RawMessage) []*float64 {
	out := make([]*float64, len(raw))
	for i, r := range raw {
		var f float64
		if err := json.Unmarshal(r, &f); err != nil {
			continue
		}
		if math.Abs(f) >= emptyValue {
			continue
		}
		out[i] = &f
	}
	return out
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// errorText joins the string params from index from onward.
func errorText(msg *Message, from int) string {
	var parts []string
	for i := from; i < len(msg.Params); i++ {
		var s string
		if err := json.Unmarshal(msg.Params[i], &s); err == nil && s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return msg.Method
	}
	return strings.Join(parts, ": ")
}
