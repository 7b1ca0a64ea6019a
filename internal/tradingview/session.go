package tradingview

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const sessionIDLength = 12

// newSessionID returns prefix + "_" + 12 lowercase hex characters.
func newSessionID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + id[:sessionIDLength]
}

// BuildPlan assigns session and subscription ids for a defaulted config.
func BuildPlan(cfg ClientConfig) Plan {
	plan := Plan{
		Name:      cfg.Name,
		Mode:      cfg.Mode,
		Timeframe: cfg.Timeframe,
		Quotes:    cfg.QuoteSymbols,
	}
	for _, sym := range cfg.ChartSymbols {
		pc := PlannedChart{
			Session: newSessionID("cs"),
			Symbol:  SymbolName(sym),
			Query:   SymbolQuery(sym),
		}
		for j := range cfg.Indicators {
			pc.Studies = append(pc.Studies, fmt.Sprintf("st%d", j+1))
		}
		plan.Charts = append(plan.Charts, pc)
	}
	if len(cfg.QuoteSymbols) > 0 {
		plan.QuoteSession = newSessionID("qs")
	}
	return plan
}

// setupMessages returns the framed messages that open every subscription in
// the plan, in send order.
func setupMessages(cfg ClientConfig, plan Plan) ([]string, error) {
	type call struct {
		method string
		params []any
	}
	calls := []call{
		{"set_auth_token", []any{cfg.AuthToken}},
		{"set_locale", []any{"en", "US"}},
	}

	for _, c := range plan.Charts {
		calls = append(calls,
			call{"chart_create_session", []any{c.Session, ""}},
			call{"resolve_symbol", []any{c.Session, "sds_sym_1", c.Query}},
			call{"create_series", []any{c.Session, "sds_1", "s1", "sds_sym_1", cfg.Timeframe, cfg.Range, ""}},
		)
		for j, id := range c.Studies {
			calls = append(calls, call{"create_study", []any{
				c.Session, id, "st1", "sds_1", studyScriptID, StudyInputs(cfg.Indicators[j]),
			}})
		}
	}

	if plan.QuoteSession != "" {
		fields := append([]any{plan.QuoteSession}, toAny(cfg.QuoteFields)...)
		symbols := append([]any{plan.QuoteSession}, toAny(plan.Quotes)...)
		calls = append(calls,
			call{"quote_create_session", []any{plan.QuoteSession}},
			call{"quote_set_fields", fields},
			call{"quote_add_symbols", symbols},
			call{"quote_fast_symbols", symbols},
		)
	}

	out := make([]string, 0, len(calls))
	for _, c := range calls {
		frame, err := EncodeMessage(c.method, c.params...)
		if err != nil {
			return nil, err
		}
		out = append(out, frame)
	}
	return out, nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
