package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	// Server
	Host            string
	Port            int
	TLSCertFile     string
	TLSKeyFile      string
	TLSSelfSigned   bool
	APIKey          string
	CORSAllowOrigin string
	MaxBodyBytes    int64

	// Logging
	LogLevel  string
	LogFormat string

	// Upstream feed
	TVWebsocketURL       string
	TVOrigin             string
	ScrapeTimeoutSeconds int
	StreamWindowSeconds  int
	DialAttempts         int

	// Cache and rate limiting
	CacheTTLSeconds int
	RateLimitRPS    float64
	RateLimitBurst  int

	// History (Postgres)
	HistoryEnabled        bool
	HistoryRetentionHours int
	DBHost                string
	DBPort                int
	DBName                string
	DBUser                string
	DBPassword            string
	DBMaxConns            int
	DBMinConns            int

	// Notifications and telemetry
	WebhookURL   string
	ServiceName  string
	OTLPEndpoint string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		// Server
		Host:            envStr("HOST", "127.0.0.1"),
		Port:            envInt("PORT", 3000),
		TLSCertFile:     envStr("TLS_CERT_FILE", ""),
		TLSKeyFile:      envStr("TLS_KEY_FILE", ""),
		TLSSelfSigned:   envBool("TLS_SELF_SIGNED", false),
		APIKey:          envStr("API_KEY", ""),
		CORSAllowOrigin: envStr("CORS_ALLOW_ORIGIN", "*"),
		MaxBodyBytes:    int64(envInt("MAX_BODY_BYTES", 1<<20)),

		// Logging
		LogLevel:  envStr("LOG_LEVEL", "debug"),
		LogFormat: envStr("LOG_FORMAT", "text"),

		// Upstream feed
		TVWebsocketURL:       envStr("TV_WS_URL", "wss://data.tradingview.com/socket.io/websocket"),
		TVOrigin:             envStr("TV_ORIGIN", "https://www.tradingview.com"),
		ScrapeTimeoutSeconds: envInt("SCRAPE_TIMEOUT_SECONDS", 30),
		StreamWindowSeconds:  envInt("STREAM_WINDOW_SECONDS", 10),
		DialAttempts:         envInt("DIAL_ATTEMPTS", 3),

		// Cache and rate limiting
		CacheTTLSeconds: envInt("CACHE_TTL_SECONDS", 0),
		RateLimitRPS:    envFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:  envInt("RATE_LIMIT_BURST", 15),

		// History
		HistoryEnabled:        envBool("HISTORY_ENABLED", false),
		HistoryRetentionHours: envInt("HISTORY_RETENTION_HOURS", 168),
		DBHost:                envStr("DB_HOST", "localhost"),
		DBPort:                envInt("DB_PORT", 5432),
		DBName:                envStr("DB_NAME", "tvscrape"),
		DBUser:                envStr("DB_USER", ""),
		DBPassword:            envStr("DB_PASSWORD", ""),
		DBMaxConns:            envInt("DB_MAX_CONNS", 10),
		DBMinConns:            envInt("DB_MIN_CONNS", 1),

		// Notifications and telemetry
		WebhookURL:   envStr("WEBHOOK_URL", ""),
		ServiceName:  envStr("SERVICE_NAME", "tvscrape"),
		OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT %d out of range", c.Port))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, "TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if c.TLSSelfSigned && c.TLSCertFile != "" {
		errs = append(errs, "TLS_SELF_SIGNED cannot be combined with TLS_CERT_FILE")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL: %v", err))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT %q must be text or json", c.LogFormat))
	}
	if c.ScrapeTimeoutSeconds <= 0 {
		errs = append(errs, "SCRAPE_TIMEOUT_SECONDS must be positive")
	}
	if c.StreamWindowSeconds <= 0 {
		errs = append(errs, "STREAM_WINDOW_SECONDS must be positive")
	}
	if c.StreamWindowSeconds >= c.ScrapeTimeoutSeconds && c.ScrapeTimeoutSeconds > 0 {
		errs = append(errs, "STREAM_WINDOW_SECONDS must be below SCRAPE_TIMEOUT_SECONDS")
	}
	if c.DialAttempts < 1 {
		errs = append(errs, "DIAL_ATTEMPTS must be at least 1")
	}
	if c.CacheTTLSeconds < 0 {
		errs = append(errs, "CACHE_TTL_SECONDS cannot be negative")
	}
	if c.RateLimitRPS < 0 || (c.RateLimitRPS > 0 && c.RateLimitBurst < 1) {
		errs = append(errs, "RATE_LIMIT_RPS must be >= 0 with RATE_LIMIT_BURST >= 1")
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, "MAX_BODY_BYTES must be positive")
	}
	if c.HistoryRetentionHours < 0 {
		errs = append(errs, "HISTORY_RETENTION_HOURS cannot be negative")
	}
	if c.HistoryEnabled && (c.DBMaxConns < 1 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns) {
		errs = append(errs, "DB_MAX_CONNS must be >= 1 and DB_MIN_CONNS within 0..DB_MAX_CONNS")
	}
	if c.HistoryEnabled && c.DBUser == "" {
		errs = append(errs, "DB_USER is required when HISTORY_ENABLED")
	}

	if c.APIKey == "" {
		log.Warn("API_KEY not set, REST API has no authentication")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func (c *Config) Print() {
	fmt.Println("=== TradingView Scrape Service Configuration ===")
	fmt.Printf("Listen: %s (%s)\n", c.Addr(), c.scheme())
	fmt.Printf("Auth: %s\n", boolLabel(c.APIKey != "", "Bearer token", "disabled"))
	fmt.Printf("CORS origin: %s\n", c.CORSAllowOrigin)
	fmt.Println("------------------------------------------------")
	fmt.Printf("Feed: %s\n", c.TVWebsocketURL)
	fmt.Printf("Scrape timeout: %ds, stream window: %ds, dial attempts: %d\n",
		c.ScrapeTimeoutSeconds, c.StreamWindowSeconds, c.DialAttempts)
	fmt.Printf("Result cache: %s\n", boolLabel(c.CacheTTLSeconds > 0, fmt.Sprintf("%ds", c.CacheTTLSeconds), "disabled"))
	fmt.Printf("Rate limit: %s\n", boolLabel(c.RateLimitRPS > 0,
		fmt.Sprintf("%.1f req/s, burst %d", c.RateLimitRPS, c.RateLimitBurst), "disabled"))
	fmt.Println("------------------------------------------------")
	fmt.Printf("History: %s\n", boolLabel(c.HistoryEnabled, fmt.Sprintf("postgres %s:%d/%s", c.DBHost, c.DBPort, c.DBName), "disabled"))
	if c.HistoryEnabled {
		fmt.Printf("History retention: %s\n", boolLabel(c.HistoryRetentionHours > 0, fmt.Sprintf("%dh", c.HistoryRetentionHours), "forever"))
	}
	fmt.Printf("Webhook: %s\n", boolLabel(c.WebhookURL != "", "configured", "not set"))
	fmt.Printf("Tracing: %s\n", boolLabel(c.OTLPEndpoint != "", c.OTLPEndpoint, "disabled"))
	fmt.Println("================================================")
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) TLSEnabled() bool {
	return c.TLSSelfSigned || c.TLSCertFile != ""
}

func (c *Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.ScrapeTimeoutSeconds) * time.Second
}

func (c *Config) StreamWindow() time.Duration {
	return time.Duration(c.StreamWindowSeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.HistoryRetentionHours) * time.Hour
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func (c *Config) scheme() string {
	return boolLabel(c.TLSEnabled(), "https", "http")
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

func boolLabel(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}
