package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/tvscrape/internal/models"
)

const scrapeColumns = `id::text, name, mode, chart_symbols, quote_symbols, status, error, duration_ms, result, created_at`

// listColumns leaves the result payload out.
const listColumns = `id::text, name, mode, chart_symbols, quote_symbols, status, error, duration_ms, NULL::jsonb, created_at`

type ScrapeRepo struct {
	pool *pgxpool.Pool
}

func NewScrapeRepo(pool *pgxpool.Pool) *ScrapeRepo {
	return &ScrapeRepo{pool: pool}
}

func (r *ScrapeRepo) Record(ctx context.Context, rec *models.ScrapeRecord) (*models.ScrapeRecord, error) {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	chart, quote := rec.ChartSymbols, rec.QuoteSymbols
	if chart == nil {
		chart = []string{}
	}
	if quote == nil {
		quote = []string{}
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO scrape_history
		 (id, name, mode, chart_symbols, quote_symbols, status, error, duration_ms, result)
		 VALUES ($1::text::uuid, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+scrapeColumns,
		id, rec.Name, rec.Mode, chart, quote, rec.Status, rec.Error, rec.DurationMS, rec.Result,
	)
	return scanScrape(row)
}

// List returns the most recent runs, newest first, without result payloads.
func (r *ScrapeRepo) List(ctx context.Context, limit int) ([]models.ScrapeRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+listColumns+` FROM scrape_history ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectScrapes(rows)
}

// Get returns one run, or nil when the id is unknown or malformed.
func (r *ScrapeRepo) Get(ctx context.Context, id string) (*models.ScrapeRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	row := r.pool.QueryRow(ctx,
		`SELECT `+scrapeColumns+` FROM scrape_history WHERE id = $1::text::uuid`,
		id,
	)
	rec, err := scanScrape(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// Prune deletes runs created before the cutoff.
func (r *ScrapeRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM scrape_history WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanScrape(row scannable) (*models.ScrapeRecord, error) {
	var rec models.ScrapeRecord
	err := row.Scan(&rec.ID, &rec.Name, &rec.Mode, &rec.ChartSymbols, &rec.QuoteSymbols,
		&rec.Status, &rec.Error, &rec.DurationMS, &rec.Result, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func collectScrapes(rows rowsIter) ([]models.ScrapeRecord, error) {
	out := []models.ScrapeRecord{}
	for rows.Next() {
		rec, err := scanScrape(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
