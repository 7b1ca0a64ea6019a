package scrape

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kjannette/tvscrape/internal/tradingview"
)

// Request is a scrape request: the feed subscription plus optional
// indicators computed locally over the returned candles.
type Request struct {
	tradingview.ClientConfig `yaml:",inline"`
	LocalIndicators          []string `json:"local_indicators,omitempty" yaml:"local_indicators,omitempty"`
}

// DecodeRequest parses a JSON request body. Unknown keys are ignored.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if len(bytes.TrimSpace(data)) == 0 {
		return req, fmt.Errorf("%w: empty request body", tradingview.ErrInvalidConfig)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("%w: decode json: %v", tradingview.ErrInvalidConfig, err)
	}
	return req, nil
}

// LoadRequestFile reads a request from a .json, .yaml or .yml file.
func LoadRequestFile(path string) (Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Request{}, fmt.Errorf("read request file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var req Request
		if err := yaml.Unmarshal(data, &req); err != nil {
			return Request{}, fmt.Errorf("%w: decode yaml: %v", tradingview.ErrInvalidConfig, err)
		}
		return req, nil
	case ".json", "":
		return DecodeRequest(data)
	default:
		return Request{}, fmt.Errorf("unsupported request file extension %q", filepath.Ext(path))
	}
}
