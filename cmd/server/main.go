package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kjannette/tvscrape/internal/api"
	"github.com/kjannette/tvscrape/internal/config"
	"github.com/kjannette/tvscrape/internal/db"
	"github.com/kjannette/tvscrape/internal/httputil"
	"github.com/kjannette/tvscrape/internal/logging"
	"github.com/kjannette/tvscrape/internal/notifications"
	"github.com/kjannette/tvscrape/internal/repository"
	"github.com/kjannette/tvscrape/internal/scheduler"
	"github.com/kjannette/tvscrape/internal/scrape"
	"github.com/kjannette/tvscrape/internal/telemetry"
	"github.com/kjannette/tvscrape/internal/tlsutil"
	"github.com/kjannette/tvscrape/internal/tradingview"
)

const banner = `
╔══════════════════════════════════════╗
║    TradingView Scrape Service v0.1   ║
║                                      ║
╚══════════════════════════════════════╝
`

func main() {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "logging setup: %v\n", err)
		os.Exit(1)
	}

	cfg.Print()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		log.WithError(err).Fatal("telemetry setup failed")
	}

	svcOpts := scrape.Options{
		Timeout:  cfg.ScrapeTimeout(),
		CacheTTL: cfg.CacheTTL(),
	}
	apiOpts := api.Options{
		Addr:            cfg.Addr(),
		APIKey:          cfg.APIKey,
		CORSAllowOrigin: cfg.CORSAllowOrigin,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		RateLimitRPS:    cfg.RateLimitRPS,
		RateLimitBurst:  cfg.RateLimitBurst,
		WriteTimeout:    cfg.ScrapeTimeout() + 15*time.Second,
	}

	// History (optional)
	var retention *scheduler.RetentionScheduler
	if cfg.HistoryEnabled {
		log.Infof("[DB] Connecting to %s:%d/%s ...", cfg.DBHost, cfg.DBPort, cfg.DBName)
		pool, err := db.Connect(ctx, cfg.DSN(), db.PoolOptions{
			MaxConns: int32(cfg.DBMaxConns),
			MinConns: int32(cfg.DBMinConns),
		})
		if err != nil {
			log.WithError(err).Fatal("[DB] connection failed")
		}
		defer func() {
			pool.Close()
			log.Info("[DB] connection pool closed")
		}()

		if err := db.TestConnection(ctx, pool); err != nil {
			log.WithError(err).Fatal("[DB] test query failed")
		}
		if err := db.EnsureSchema(ctx, pool); err != nil {
			log.WithError(err).Fatal("[DB] schema setup failed")
		}

		repo := repository.NewScrapeRepo(pool)
		svcOpts.History = repo
		apiOpts.DB = pool

		if cfg.HistoryRetentionHours > 0 {
			retention = scheduler.NewRetentionScheduler(repo, scheduler.RetentionConfig{
				Interval:  1 * time.Hour,
				Retention: cfg.HistoryRetention(),
			})
		}
	}

	// Notifications
	if cfg.WebhookURL != "" {
		svcOpts.Notifier = notifications.NewSender(cfg.WebhookURL, cfg.ServiceName)
	}

	// TLS
	if cfg.TLSEnabled() {
		apiOpts.TLSConfig, err = serverTLS(cfg)
		if err != nil {
			log.WithError(err).Fatal("[TLS] setup failed")
		}
	}

	runner := scrape.ClientRunner(tradingview.Options{
		URL:    cfg.TVWebsocketURL,
		Origin: cfg.TVOrigin,
		Retry: httputil.RetryConfig{
			MaxAttempts: cfg.DialAttempts,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    4 * time.Second,
		},
		StreamWindow: cfg.StreamWindow(),
	})
	svc := scrape.NewService(runner, svcOpts)

	// 1. API server
	srv := api.NewServer(svc, apiOpts)
	go func() {
		if err := srv.Start(); err != nil {
			log.WithError(err).Fatal("[API] server error")
		}
	}()

	// 2. History retention
	if retention != nil {
		retention.Start()
	}

	log.Info("all services started successfully")

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info("shutting down gracefully...")

	if retention != nil {
		retention.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("[API] shutdown error")
	}
	log.Info("[API] server closed")

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.WithError(err).Warn("telemetry shutdown error")
	}
	log.Info("shutdown complete")
}

func serverTLS(cfg *config.Config) (*tls.Config, error) {
	if cfg.TLSSelfSigned {
		log.Warn("[TLS] using a generated self-signed certificate")
		return tlsutil.SelfSignedConfig(tlsutil.DefaultHosts)
	}
	return tlsutil.LoadServerConfig(cfg.TLSCertFile, cfg.TLSKeyFile)
}
