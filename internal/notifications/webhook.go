package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kjannette/tvscrape/internal/httputil"
)

const DefaultServiceName = "tvscrape"

// Sender posts one-line scrape summaries to a Slack or Discord webhook.
type Sender struct {
	webhookURL  string
	serviceName string
	httpClient  *http.Client
	retry       httputil.RetryConfig
	timeout     time.Duration
}

func NewSender(webhookURL, serviceName string) *Sender {
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	return &Sender{
		webhookURL:  webhookURL,
		serviceName: serviceName,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
		},
		timeout: 30 * time.Second,
	}
}

// Send logs msg and, when a webhook is configured, delivers it. Delivery
// failures are logged, never returned.
func (s *Sender) Send(msg string) {
	logger := log.WithField("component", "notifications")
	logger.Info(msg)

	if s.webhookURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.post(ctx, fmt.Sprintf("[%s] %s", s.serviceName, msg)); err != nil {
		logger.WithError(err).Warn("webhook delivery failed")
	}
}

func (s *Sender) post(ctx context.Context, text string) error {
	body, err := json.Marshal(s.formatPayload(text))
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

func (s *Sender) formatPayload(msg string) map[string]string {
	if strings.Contains(s.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": s.serviceName,
		}
	}
	return map[string]string{
		"text":     fmt.Sprintf("`%s`", msg),
		"username": s.serviceName,
	}
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}
