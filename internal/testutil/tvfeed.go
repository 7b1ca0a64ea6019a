package testutil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// FeedOptions controls how a FakeFeed answers subscriptions.
type FeedOptions struct {
	// Bars are [time, open, high, low, close, volume] rows sent for every series.
	Bars [][]float64
	// StudyValues are [time, v1, v2...] rows sent for every study.
	StudyValues [][]float64
	// Quotes maps a quote symbol to the values sent in its qsd message.
	Quotes map[string]map[string]any
	// InvalidSymbols answer resolve_symbol with symbol_error.
	InvalidSymbols []string
	// CriticalError, when set, is sent instead of any data.
	CriticalError string
	// Hang suppresses every completion message.
	Hang bool
	// RejectHandshake answers the upgrade with 403.
	RejectHandshake bool
	// CloseAfterData closes the connection once the first series data is sent.
	CloseAfterData bool
}

// Call is one message the client sent.
type Call struct {
	Method string
	Params []any
}

// FakeFeed is an in-process stand-in for the TradingView websocket feed.
type FakeFeed struct {
	Server *httptest.Server
	URL    string

	opts FeedOptions

	mu          sync.Mutex
	calls       []Call
	heartbeats  int
	connections int
	closeCode   int
}

func NewFakeFeed(t *testing.T, opts FeedOptions) *FakeFeed {
	t.Helper()
	f := &FakeFeed{opts: opts}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	f.URL = "ws" + strings.TrimPrefix(f.Server.URL, "http")
	t.Cleanup(f.Server.Close)
	return f
}

// Methods returns the method names the client sent, in order.
func (f *FakeFeed) Methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Method
	}
	return out
}

// Calls returns every message the client sent with its decoded params.
func (f *FakeFeed) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Find returns the calls with the given method.
func (f *FakeFeed) Find(method string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// CloseCode is the close code the client sent, or 0 if none arrived.
func (f *FakeFeed) CloseCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}

func (f *FakeFeed) HeartbeatReplies() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heartbeats
}

func (f *FakeFeed) Connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connections
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func (f *FakeFeed) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.connections++
	f.mu.Unlock()

	if f.opts.RejectHandshake {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	send := func(payloads ...string) error {
		var sb strings.Builder
		for _, p := range payloads {
			sb.WriteString("~m~" + strconv.Itoa(len(p)) + "~m~" + p)
		}
		return conn.WriteMessage(websocket.TextMessage, []byte(sb.String()))
	}
	msg := func(method string, params ...any) string {
		b, _ := json.Marshal(map[string]any{"m": method, "p": params})
		return string(b)
	}

	if err := send(`{"session_id":"<0.1.2>_fake","timestamp":1700000000,"release":"test","protocol":"json"}`, "~h~1"); err != nil {
		return
	}

	invalid := map[string]bool{}
	for _, s := range f.opts.InvalidSymbols {
		invalid[s] = true
	}
	broken := map[string]bool{}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				f.mu.Lock()
				f.closeCode = ce.Code
				f.mu.Unlock()
			}
			return
		}
		for _, payload := range splitFrames(string(data)) {
			if strings.HasPrefix(payload, "~h~") {
				f.mu.Lock()
				f.heartbeats++
				f.mu.Unlock()
				continue
			}
			var in struct {
				M string            `json:"m"`
				P []json.RawMessage `json:"p"`
			}
			if err := json.Unmarshal([]byte(payload), &in); err != nil {
				continue
			}
			call := Call{Method: in.M}
			for _, raw := range in.P {
				var v any
				_ = json.Unmarshal(raw, &v)
				call.Params = append(call.Params, v)
			}
			f.mu.Lock()
			f.calls = append(f.calls, call)
			f.mu.Unlock()

			str := func(i int) string {
				var s string
				if i < len(in.P) {
					_ = json.Unmarshal(in.P[i], &s)
				}
				return s
			}

			if f.opts.CriticalError != "" && in.M == "set_locale" {
				_ = send(msg("critical_error", f.opts.CriticalError))
				continue
			}

			var out []string
			switch in.M {
			case "resolve_symbol":
				cs, query := str(0), str(2)
				if isInvalid(invalid, query) {
					broken[cs] = true
					out = append(out, msg("symbol_error", cs, "sds_sym_1", "invalid symbol"))
					break
				}
				out = append(out, msg("symbol_resolved", cs, "sds_sym_1", map[string]any{
					"name": symbolOf(query), "exchange": "FAKE", "type": "crypto",
					"currency_code": "USD", "pricescale": 100, "minmov": 1, "timezone": "Etc/UTC",
				}))
			case "create_series":
				cs := str(0)
				if broken[cs] {
					break
				}
				rows := make([]map[string]any, len(f.opts.Bars))
				for i, b := range f.opts.Bars {
					rows[i] = map[string]any{"i": i, "v": b}
				}
				out = append(out, msg("timescale_update", cs, map[string]any{
					"sds_1": map[string]any{"s": rows, "t": "s1"},
				}))
				if !f.opts.Hang {
					out = append(out, msg("series_completed", cs, "sds_1", "streaming", "s1"))
				}
			case "create_study":
				cs, id := str(0), str(1)
				if broken[cs] {
					break
				}
				rows := make([]map[string]any, len(f.opts.StudyValues))
				for i, v := range f.opts.StudyValues {
					rows[i] = map[string]any{"i": i, "v": v}
				}
				out = append(out, msg("du", cs, map[string]any{id: map[string]any{"st": rows}}))
				if !f.opts.Hang {
					out = append(out, msg("study_completed", cs, id, id+"_1"))
				}
			case "quote_add_symbols":
				qs := str(0)
				for i := 1; i < len(in.P); i++ {
					sym := str(i)
					vals, ok := f.opts.Quotes[sym]
					status := "ok"
					if !ok {
						status = "error"
						vals = map[string]any{}
					}
					out = append(out, msg("qsd", qs, map[string]any{"n": sym, "s": status, "v": vals}))
					if ok && !f.opts.Hang {
						out = append(out, msg("quote_completed", qs, sym))
					}
				}
			}
			if len(out) > 0 {
				if err := send(out...); err != nil {
					return
				}
			}
			if f.opts.CloseAfterData && in.M == "create_series" {
				drainAndClose(conn)
				return
			}
		}
	}
}

// drainAndClose reads what the client already sent, so the socket closes
// cleanly instead of with a reset, then sends a going-away close frame.
func drainAndClose(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func isInvalid(invalid map[string]bool, query string) bool {
	return invalid[symbolOf(query)] || invalid[query]
}

func symbolOf(query string) string {
	if !strings.HasPrefix(query, "=") {
		return query
	}
	var q struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal([]byte(query[1:]), &q); err != nil {
		return query
	}
	return q.Symbol
}

func splitFrames(data string) []string {
	var out []string
	for strings.HasPrefix(data, "~m~") {
		data = data[3:]
		end := strings.Index(data, "~m~")
		if end < 0 {
			return out
		}
		n, err := strconv.Atoi(data[:end])
		if err != nil {
			return out
		}
		data = data[end+3:]
		if n > len(data) {
			return out
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}
