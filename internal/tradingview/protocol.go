package tradingview

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
)

const (
	frameMarker     = "~m~"
	heartbeatPrefix = "~h~"
)

// Message is a decoded JSON frame: {"m": method, "p": [params...]}.
type Message struct {
	Method string            `json:"m"`
	Params []json.RawMessage `json:"p"`
}

// SessionInfo is the first frame the feed sends after the handshake.
type SessionInfo struct {
	SessionID string `json:"session_id"`
	Timestamp int64  `json:"timestamp"`
	Release   string `json:"release"`
	Protocol  string `json:"protocol"`
}

// EncodeFrame wraps a payload as ~m~<len>~m~<payload>.
func EncodeFrame(payload string) string {
	return frameMarker + strconv.Itoa(len(payload)) + frameMarker + payload
}

// DecodeFrames splits one websocket message into its frame payloads.
// Lengths are byte counts, as EncodeFrame writes them. A length that only
// lines up with the next frame when read as UTF-16 code units is accepted
// too, since the browser client counts JS string length.
func DecodeFrames(data string) ([]string, error) {
	var out []string
	rest := data
	for len(rest) > 0 {
		if !strings.HasPrefix(rest, frameMarker) {
			return nil, fmt.Errorf("frame: missing marker at %q", truncate(rest, 16))
		}
		rest = rest[len(frameMarker):]

		end := strings.Index(rest, frameMarker)
		if end < 0 {
			return nil, fmt.Errorf("frame: missing length terminator")
		}
		n, err := strconv.Atoi(rest[:end])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("frame: invalid length %q", rest[:end])
		}
		rest = rest[end+len(frameMarker):]

		size, ok := payloadSize(rest, n)
		if !ok {
			if n > len(rest) {
				return nil, fmt.Errorf("frame: truncated payload, want %d bytes have %d", n, len(rest))
			}
			return nil, fmt.Errorf("frame: length %d does not end at a frame boundary", n)
		}
		out = append(out, rest[:size])
		rest = rest[size:]
	}
	return out, nil
}

// payloadSize returns the byte size of a payload declared as n long.
func payloadSize(rest string, n int) (int, bool) {
	if n <= len(rest) && atBoundary(rest[n:]) {
		return n, true
	}
	units := 0
	for i, r := range rest {
		if units == n {
			return i, atBoundary(rest[i:])
		}
		units += len(utf16.Encode([]rune{r}))
		if units > n {
			return 0, false
		}
	}
	return len(rest), units == n
}

func atBoundary(s string) bool {
	return s == "" || strings.HasPrefix(s, frameMarker)
}

func IsHeartbeat(payload string) bool {
	return strings.HasPrefix(payload, heartbeatPrefix)
}

// EncodeMessage builds a framed {"m","p"} message.
func EncodeMessage(method string, params ...any) (string, error) {
	if params == nil {
		params = []any{}
	}
	b, err := json.Marshal(struct {
		M string `json:"m"`
		P []any  `json:"p"`
	}{method, params})
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", method, err)
	}
	return EncodeFrame(string(b)), nil
}

// ParsePayload classifies a frame payload. Exactly one of msg or info is
// non-nil for JSON payloads.
func ParsePayload(payload string) (*Message, *SessionInfo, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &probe); err != nil {
		return nil, nil, fmt.Errorf("decode payload: %w", err)
	}

	if _, ok := probe["m"]; ok {
		var msg Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, nil, fmt.Errorf("decode message: %w", err)
		}
		return &msg, nil, nil
	}

	if _, ok := probe["session_id"]; ok {
		var info SessionInfo
		if err := json.Unmarshal([]byte(payload), &info); err != nil {
			return nil, nil, fmt.Errorf("decode session info: %w", err)
		}
		return nil, &info, nil
	}

	return nil, nil, fmt.Errorf("unrecognized payload %q", truncate(payload, 64))
}

// param decodes p[i] into dst.
func (m *Message) param(i int, dst any) error {
	if i >= len(m.Params) {
		return fmt.Errorf("%s: missing param %d", m.Method, i)
	}
	if err := json.Unmarshal(m.Params[i], dst); err != nil {
		return fmt.Errorf("%s: param %d: %w", m.Method, i, err)
	}
	return nil
}

// stringParam returns p[i] as a string, or "" if absent or not a string.
func (m *Message) stringParam(i int) string {
	var s string
	if err := m.param(i, &s); err != nil {
		return ""
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
