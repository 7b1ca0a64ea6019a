package scrape

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/kjannette/tvscrape/internal/analysis"
	"github.com/kjannette/tvscrape/internal/models"
	"github.com/kjannette/tvscrape/internal/tradingview"
)

const DefaultTimeout = 30 * time.Second

// Runner executes one feed scrape.
type Runner func(ctx context.Context, cfg tradingview.ClientConfig) (*tradingview.ScrapeResult, error)

// ClientRunner runs scrapes with the websocket client.
func ClientRunner(opts tradingview.Options) Runner {
	return func(ctx context.Context, cfg tradingview.ClientConfig) (*tradingview.ScrapeResult, error) {
		return tradingview.NewClient(cfg, opts, nil).Run(ctx)
	}
}

type HistoryStore interface {
	Record(ctx context.Context, rec *models.ScrapeRecord) (*models.ScrapeRecord, error)
	List(ctx context.Context, limit int) ([]models.ScrapeRecord, error)
	Get(ctx context.Context, id string) (*models.ScrapeRecord, error)
}

type Notifier interface {
	Send(msg string)
}

type Options struct {
	Timeout  time.Duration
	CacheTTL time.Duration
	History  HistoryStore
	Notifier Notifier
}

type ChartAnalysis struct {
	Symbol string           `json:"symbol"`
	Values []analysis.Value `json:"values"`
}

// Result is what a scrape request returns.
type Result struct {
	ID string `json:"id"`
	*tradingview.ScrapeResult
	Analysis   []ChartAnalysis `json:"analysis,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	Cached     bool            `json:"cached"`
}

type Service struct {
	run   Runner
	opts  Options
	cache *cache.Cache
	group singleflight.Group
}

func NewService(run Runner, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	s := &Service{run: run, opts: opts}
	if opts.CacheTTL > 0 {
		s.cache = cache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}
	return s
}

func (s *Service) History() HistoryStore {
	return s.opts.History
}

// CacheStatus reports "disabled" or the number of cached results.
func (s *Service) CacheStatus() string {
	if s.cache == nil {
		return "disabled"
	}
	return fmt.Sprintf("%d entries", s.cache.ItemCount())
}

// Scrape validates req, serves it from cache when possible, and otherwise
// runs it. Identical requests in flight share one feed session.
func (s *Service) Scrape(ctx context.Context, req Request) (*Result, error) {
	cfg := req.ClientConfig.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	specs, err := analysis.ParseSpecs(req.LocalIndicators)
	if err != nil {
		return nil, fmt.Errorf("%w: local_indicators: %v", tradingview.ErrInvalidConfig, err)
	}
	if len(specs) > 0 && len(cfg.ChartSymbols) == 0 {
		return nil, fmt.Errorf("%w: local_indicators require at least one chart symbol", tradingview.ErrInvalidConfig)
	}

	key, err := requestKey(cfg, req.LocalIndicators)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			cp := *v.(*Result)
			cp.Cached = true
			log.WithFields(log.Fields{"component": "scrape", "scrape": cfg.Name, "id": cp.ID}).Debug("served from cache")
			return &cp, nil
		}
	}

	v, err, shared := s.group.Do(key, func() (any, error) {
		return s.execute(context.WithoutCancel(ctx), key, cfg, specs)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.WithFields(log.Fields{"component": "scrape", "scrape": cfg.Name}).Debug("joined in-flight scrape")
	}
	return v.(*Result), nil
}

func (s *Service) execute(ctx context.Context, key string, cfg tradingview.ClientConfig, specs []analysis.Spec) (*Result, error) {
	logger := log.WithFields(log.Fields{"component": "scrape", "scrape": cfg.Name})

	runCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	start := time.Now()
	res, err := s.run(runCtx, cfg)
	elapsed := time.Since(start)
	id := uuid.NewString()
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("scrape.id", id))

	if err != nil {
		logger.WithError(err).WithField("duration", elapsed).Warn("scrape failed")
		s.record(ctx, &models.ScrapeRecord{
			ID: id, Name: cfg.Name, Mode: cfg.Mode,
			ChartSymbols: cfg.ChartSymbols, QuoteSymbols: cfg.QuoteSymbols,
			Status: models.ScrapeStatusError, Error: err.Error(), DurationMS: elapsed.Milliseconds(),
		})
		s.notify(fmt.Sprintf("scrape %s failed after %s: %v", displayName(cfg), elapsed.Round(time.Millisecond), err))
		return nil, err
	}

	out := &Result{ID: id, ScrapeResult: res, DurationMS: elapsed.Milliseconds()}
	if len(specs) > 0 {
		for _, chart := range res.Charts {
			out.Analysis = append(out.Analysis, ChartAnalysis{
				Symbol: chart.Symbol,
				Values: analysis.Compute(chart.Candles, specs),
			})
		}
	}

	if s.cache != nil {
		s.cache.SetDefault(key, out)
	}

	body, err := json.Marshal(out)
	if err != nil {
		logger.WithError(err).Warn("marshal result for history")
	}
	s.record(ctx, &models.ScrapeRecord{
		ID: id, Name: cfg.Name, Mode: cfg.Mode,
		ChartSymbols: cfg.ChartSymbols, QuoteSymbols: cfg.QuoteSymbols,
		Status: models.ScrapeStatusOK, DurationMS: out.DurationMS, Result: body,
	})

	logger.WithFields(log.Fields{
		"id":       id,
		"charts":   len(res.Charts),
		"quotes":   len(res.Quotes),
		"messages": res.Messages,
		"duration": elapsed,
	}).Info("scrape complete")
	s.notify(summary(cfg, out))
	return out, nil
}

func (s *Service) record(ctx context.Context, rec *models.ScrapeRecord) {
	if s.opts.History == nil {
		return
	}
	if _, err := s.opts.History.Record(ctx, rec); err != nil {
		log.WithError(err).WithField("id", rec.ID).Warn("failed to record scrape history")
	}
}

func (s *Service) notify(msg string) {
	if s.opts.Notifier == nil {
		return
	}
	go s.opts.Notifier.Send(msg)
}

// requestKey identifies a request for caching and coalescing. The auth
// token is hashed so it never sits in memory as part of the key.
func requestKey(cfg tradingview.ClientConfig, local []string) (string, error) {
	tok := sha256.Sum256([]byte(cfg.AuthToken))
	cfg.AuthToken = hex.EncodeToString(tok[:])

	canon := make([]string, len(local))
	for i, l := range local {
		if sp, err := analysis.ParseSpec(l); err == nil {
			canon[i] = sp.String()
		} else {
			canon[i] = l
		}
	}

	b, err := json.Marshal(struct {
		Config tradingview.ClientConfig `json:"config"`
		Local  []string                 `json:"local"`
	}{cfg, canon})
	if err != nil {
		return "", fmt.Errorf("request key: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func displayName(cfg tradingview.ClientConfig) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	syms := append(append([]string{}, cfg.ChartSymbols...), cfg.QuoteSymbols...)
	for i, sym := range syms {
		syms[i] = tradingview.SymbolName(sym)
	}
	return strings.Join(syms, ",")
}

func summary(cfg tradingview.ClientConfig, r *Result) string {
	candles := 0
	for _, c := range r.Charts {
		candles += len(c.Candles)
	}
	return fmt.Sprintf("scrape %s (%s) ok: %d charts, %d candles, %d quotes in %dms",
		displayName(cfg), cfg.Mode, len(r.Charts), candles, len(r.Quotes), r.DurationMS)
}
