package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS scrape_history (
	id            UUID PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	mode          TEXT NOT NULL,
	chart_symbols TEXT[] NOT NULL DEFAULT '{}',
	quote_symbols TEXT[] NOT NULL DEFAULT '{}',
	status        TEXT NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	duration_ms   BIGINT NOT NULL DEFAULT 0,
	result        JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS scrape_history_created_at_idx ON scrape_history (created_at DESC);
`

// EnsureSchema creates the history table if it does not exist.
func EnsureSchema(ctx context.Context, p *pgxpool.Pool) error {
	if _, err := p.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
