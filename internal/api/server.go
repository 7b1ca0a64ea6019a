package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kjannette/tvscrape/internal/scrape"
)

const (
	maxQueryLimit     = 1000
	defaultQueryLimit = 50
	defaultMaxBody    = 1 << 20
)

// Pinger reports database reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Addr            string
	APIKey          string
	CORSAllowOrigin string
	MaxBodyBytes    int64
	RateLimitRPS    float64
	RateLimitBurst  int
	WriteTimeout    time.Duration
	TLSConfig       *tls.Config
	// DB is optional; nil reports the database as disabled.
	DB Pinger
}

type Server struct {
	svc        *scrape.Service
	db         Pinger
	apiKey     string
	maxBody    int64
	limiter    *ipLimiter
	handler    http.Handler
	httpServer *http.Server
}

func NewServer(svc *scrape.Service, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 45 * time.Second
	}

	s := &Server{
		svc:     svc,
		db:      opts.DB,
		apiKey:  opts.APIKey,
		maxBody: opts.MaxBodyBytes,
		limiter: newIPLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
	}

	r := mux.NewRouter()

	// Scrape routes
	r.HandleFunc("/scrape", s.handleScrape).Methods(http.MethodPost)
	r.HandleFunc("/v1/scrapes", s.handleListScrapes).Methods(http.MethodGet)
	r.HandleFunc("/v1/scrapes/{id}", s.handleGetScrape).Methods(http.MethodGet)

	// Health check (no auth required)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(notFound)

	var handler http.Handler = r
	handler = s.limiter.middleware(handler)
	handler = s.authMiddleware(handler)
	handler = corsMiddleware(handler, opts.CORSAllowOrigin)
	handler = requestLogMiddleware(handler)
	handler = recoveryMiddleware(handler)
	s.handler = otelhttp.NewHandler(handler, "tvscrape.http")

	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.handler,
		TLSConfig:    opts.TLSConfig,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: opts.WriteTimeout,
	}

	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start() error {
	scheme := "http"
	if s.httpServer.TLSConfig != nil {
		scheme = "https"
	}
	logger := log.WithField("component", "api")
	logger.Infof("REST API server started on %s://%s", scheme, s.httpServer.Addr)
	logger.Infof("Health check: %s://%s/health", scheme, s.httpServer.Addr)
	if s.apiKey != "" {
		logger.Info("Authentication: enabled (Bearer token)")
	} else {
		logger.Info("Authentication: disabled (no API_KEY configured)")
	}

	var err error
	if s.httpServer.TLSConfig != nil {
		err = s.httpServer.ListenAndServeTLS("", "")
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- validation helpers ---

func parseLimit(r *http.Request, defaultLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte("Not Found"))
}
