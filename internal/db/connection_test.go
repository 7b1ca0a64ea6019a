package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/tvscrape/internal/testutil"
)

const testDSN = "postgres://u:p@db.internal:5433/tvscrape?sslmode=disable"

func TestPoolConfig_Defaults(t *testing.T) {
	cfg, err := PoolConfig(testDSN, PoolOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 10, cfg.MaxConns)
	assert.EqualValues(t, 1, cfg.MinConns)
	assert.Equal(t, 30*time.Second, cfg.MaxConnIdleTime)
	assert.Equal(t, 5*time.Minute, cfg.MaxConnLifetime)
	assert.Equal(t, "db.internal", cfg.ConnConfig.Host)
	assert.EqualValues(t, 5433, cfg.ConnConfig.Port)
}

func TestPoolConfig_FromOptions(t *testing.T) {
	cfg, err := PoolConfig(testDSN, PoolOptions{MaxConns: 4, MinConns: 2, IdleTimeout: time.Minute})
	require.NoError(t, err)
	assert.EqualValues(t, 4, cfg.MaxConns)
	assert.EqualValues(t, 2, cfg.MinConns)
	assert.Equal(t, time.Minute, cfg.MaxConnIdleTime)

	// MinConns above MaxConns falls back
	cfg, err = PoolConfig(testDSN, PoolOptions{MaxConns: 2, MinConns: 5})
	require.NoError(t, err)
	assert.EqualValues(t, 1, cfg.MinConns)
}

func TestPoolConfig_BadDSN(t *testing.T) {
	_, err := PoolConfig("postgres://u:p@host:notaport/db", PoolOptions{})
	assert.Error(t, err)
}

func TestSchema(t *testing.T) {
	pool := testutil.SetupPool(t)
	ctx := context.Background()

	if err := TestConnection(ctx, pool); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	// Twice: the schema must be idempotent.
	for i := 0; i < 2; i++ {
		if err := EnsureSchema(ctx, pool); err != nil {
			t.Fatalf("EnsureSchema #%d: %v", i+1, err)
		}
	}
}
