package repository_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kjannette/tvscrape/internal/db"
	"github.com/kjannette/tvscrape/internal/models"
	"github.com/kjannette/tvscrape/internal/repository"
	"github.com/kjannette/tvscrape/internal/testutil"
)

// ---------- ScrapeRepo ----------

func TestScrapeRepo(t *testing.T) {
	pool := testutil.SetupPool(t)
	ctx := context.Background()
	if err := db.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	repo := repository.NewScrapeRepo(pool)

	// Record
	id := uuid.NewString()
	in := &models.ScrapeRecord{
		ID:           id,
		Name:         "repo-test",
		Mode:         "snapshot",
		ChartSymbols: []string{"BINANCE:BTCUSDT"},
		Status:       models.ScrapeStatusOK,
		DurationMS:   1234,
		Result:       json.RawMessage(`{"charts":[]}`),
	}
	rec, err := repo.Record(ctx, in)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.ID != id {
		t.Fatalf("id mismatch: got %s want %s", rec.ID, id)
	}
	if rec.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}
	if len(rec.QuoteSymbols) != 0 {
		t.Fatalf("expected no quote symbols, got %v", rec.QuoteSymbols)
	}
	t.Logf("Recorded scrape: id=%s name=%s", rec.ID, rec.Name)

	// Record without an id assigns one
	failed, err := repo.Record(ctx, &models.ScrapeRecord{
		Mode: "streaming", QuoteSymbols: []string{"NASDAQ:AAPL"},
		Status: models.ScrapeStatusError, Error: "scrape timed out",
	})
	if err != nil {
		t.Fatalf("Record failed run: %v", err)
	}
	if _, err := uuid.Parse(failed.ID); err != nil {
		t.Fatalf("expected generated uuid, got %q", failed.ID)
	}
	if !failed.Failed() {
		t.Fatal("expected failed record")
	}

	// Get
	got, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected record")
	}
	var body map[string]any
	if err := json.Unmarshal(got.Result, &body); err != nil {
		t.Fatalf("result json: %v", err)
	}
	if _, ok := body["charts"]; !ok {
		t.Fatalf("unexpected result payload: %s", got.Result)
	}

	// Get unknown / malformed
	if missing, err := repo.Get(ctx, uuid.NewString()); err != nil || missing != nil {
		t.Fatalf("expected nil for unknown id, got %v, %v", missing, err)
	}
	if missing, err := repo.Get(ctx, "not-a-uuid"); err != nil || missing != nil {
		t.Fatalf("expected nil for malformed id, got %v, %v", missing, err)
	}

	// List
	list, err := repo.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) < 2 {
		t.Fatalf("expected at least 2 records, got %d", len(list))
	}
	for _, r := range list {
		if len(r.Result) != 0 {
			t.Fatalf("list should omit result payloads, got %s", r.Result)
		}
	}
	if list[0].CreatedAt.Before(list[len(list)-1].CreatedAt) {
		t.Fatal("expected newest first")
	}
	t.Logf("List: %d rows", len(list))

	// Prune
	deleted, err := repo.Prune(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted < 2 {
		t.Fatalf("expected at least 2 rows pruned, got %d", deleted)
	}
	if gone, _ := repo.Get(ctx, id); gone != nil {
		t.Fatal("expected record to be pruned")
	}
}
