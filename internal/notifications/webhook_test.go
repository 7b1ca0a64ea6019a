package notifications

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjannette/tvscrape/internal/httputil"
)

func fastRetry(s *Sender) {
	s.retry = httputil.RetryConfig{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond}
}

func TestSend_NoWebhook(t *testing.T) {
	s := NewSender("", "tvscrape-test")
	if s.Enabled() {
		t.Fatal("should not be enabled with empty URL")
	}
	s.Send("scrape btc ok")
}

func TestSend_SlackFormat(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "tvscrape-test")
	if !s.Enabled() {
		t.Fatal("should be enabled")
	}

	s.Send("scrape btc (snapshot) ok: 1 charts, 300 candles, 0 quotes in 812ms")

	if received["username"] != "tvscrape-test" {
		t.Fatalf("username: got %s", received["username"])
	}
	if received["text"] != "`[tvscrape-test] scrape btc (snapshot) ok: 1 charts, 300 candles, 0 quotes in 812ms`" {
		t.Fatalf("text: got %s", received["text"])
	}
}

func TestSend_DiscordFormat(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	// URL containing "discord" triggers Discord format
	s := NewSender(srv.URL+"/discord/webhook", "")
	s.Send("scrape eth failed after 30s: scrape timed out")

	if received["content"] == "" {
		t.Fatal("content should not be empty for Discord")
	}
	if received["username"] != DefaultServiceName {
		t.Fatalf("username: got %s", received["username"])
	}
	if _, hasText := received["text"]; hasText {
		t.Fatal("Discord payload should not have 'text' field")
	}
}

func TestPost_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "")
	fastRetry(s)

	if err := s.post(context.Background(), "hello"); err != nil {
		t.Fatalf("post: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestPost_ClientErrorReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "")
	fastRetry(s)

	if err := s.post(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for 404 webhook")
	}
}

func TestSend_WebhookError(t *testing.T) {
	s := NewSender("http://localhost:1/bogus", "tvscrape-test")
	fastRetry(s)
	// Should not panic, just log the error
	s.Send("this will fail gracefully")
}
