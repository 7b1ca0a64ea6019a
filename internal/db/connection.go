package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// PoolOptions sizes the history pool. Zero values take the defaults below.
type PoolOptions struct {
	MaxConns     int32
	MinConns     int32
	IdleTimeout  time.Duration
	ConnLifetime time.Duration
	PingTimeout  time.Duration
}

func (o PoolOptions) withDefaults() PoolOptions {
	if o.MaxConns <= 0 {
		o.MaxConns = 10
	}
	if o.MinConns < 0 || o.MinConns > o.MaxConns {
		o.MinConns = 1
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 30 * time.Second
	}
	if o.ConnLifetime <= 0 {
		o.ConnLifetime = 5 * time.Minute
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 5 * time.Second
	}
	return o
}

// PoolConfig parses dsn and applies opts.
func PoolConfig(dsn string, opts PoolOptions) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	opts = opts.withDefaults()
	cfg.MaxConns = opts.MaxConns
	cfg.MinConns = opts.MinConns
	cfg.MaxConnIdleTime = opts.IdleTimeout
	cfg.MaxConnLifetime = opts.ConnLifetime
	return cfg, nil
}

// Connect opens the history pool and fails fast when the server is down.
func Connect(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := PoolConfig(dsn, opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.withDefaults().PingTimeout)
	defer cancel()

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping %s:%d: %w", cfg.ConnConfig.Host, cfg.ConnConfig.Port, err)
	}

	log.WithFields(log.Fields{
		"component": "db",
		"max_conns": cfg.MaxConns,
		"min_conns": cfg.MinConns,
	}).Debug("history pool ready")
	return p, nil
}

// TestConnection runs a trivial query and logs the server clock.
func TestConnection(ctx context.Context, p *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var now time.Time
	var version string
	if err := p.QueryRow(ctx, "SELECT NOW(), current_setting('server_version')").Scan(&now, &version); err != nil {
		return fmt.Errorf("test query: %w", err)
	}
	log.WithFields(log.Fields{
		"component":   "db",
		"server_time": now.Format(time.RFC3339),
		"version":     version,
	}).Info("database connection successful")
	return nil
}
