package tradingview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kjannette/tvscrape/internal/httputil"
)

const (
	DefaultURL    = "wss://data.tradingview.com/socket.io/websocket"
	DefaultOrigin = "https://www.tradingview.com"

	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

var tracer = otel.Tracer("github.com/kjannette/tvscrape/internal/tradingview")

type Options struct {
	URL          string
	Origin       string
	Dialer       *websocket.Dialer
	Retry        httputil.RetryConfig
	StreamWindow time.Duration
	WriteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.URL == "" {
		o.URL = DefaultURL
	}
	if o.Origin == "" {
		o.Origin = DefaultOrigin
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = httputil.RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 4 * time.Second}
	}
	if o.StreamWindow <= 0 {
		o.StreamWindow = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

// Client runs one scrape against the TradingView websocket feed.
type Client struct {
	cfg          ClientConfig
	opts         Options
	newProcessor func() MessageProcessor
}

func NewClient(cfg ClientConfig, opts Options, newProcessor func() MessageProcessor) *Client {
	if newProcessor == nil {
		newProcessor = NewDefaultProcessor
	}
	return &Client{
		cfg:          cfg.WithDefaults(),
		opts:         opts.withDefaults(),
		newProcessor: newProcessor,
	}
}

type readResult struct {
	data string
	err  error
}

// Run connects, subscribes and collects until the subscriptions complete
// (snapshot) or the stream window closes (streaming).
func (c *Client) Run(ctx context.Context) (*ScrapeResult, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "tradingview.scrape")
	defer span.End()
	span.SetAttributes(
		attribute.String("scrape.name", c.cfg.Name),
		attribute.String("scrape.mode", c.cfg.Mode),
		attribute.Int("scrape.charts", len(c.cfg.ChartSymbols)),
		attribute.Int("scrape.quotes", len(c.cfg.QuoteSymbols)),
	)

	result, err := c.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("scrape.messages", result.Messages))
	return result, nil
}

func (c *Client) run(ctx context.Context) (*ScrapeResult, error) {
	logger := log.WithFields(log.Fields{"component": "tradingview", "scrape": c.cfg.Name})

	conn, err := c.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: connecting: %v", ErrTimeout, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer closeConn(conn)

	plan := BuildPlan(c.cfg)
	proc := c.newProcessor()
	proc.Begin(plan)
	started := time.Now().UTC()

	finish := func() *ScrapeResult {
		res := proc.Result()
		res.StartedAt = started
		res.CompletedAt = time.Now().UTC()
		return res
	}

	done := make(chan struct{})
	defer close(done)
	frames := make(chan readResult, 64)
	go readLoop(conn, frames, done)

	setup, err := setupMessages(c.cfg, plan)
	if err != nil {
		return nil, err
	}
	for _, frame := range setup {
		if err := c.write(conn, frame); err != nil {
			return nil, fmt.Errorf("%w: send setup: %v", ErrConnection, err)
		}
	}
	logger.WithFields(log.Fields{
		"charts":  len(plan.Charts),
		"studies": len(c.cfg.Indicators),
		"quotes":  len(plan.Quotes),
		"mode":    c.cfg.Mode,
	}).Debug("subscriptions sent")

	streaming := c.cfg.Mode == ModeStreaming
	var window <-chan time.Time
	if streaming {
		timer := time.NewTimer(c.opts.StreamWindow)
		defer timer.Stop()
		window = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			if streaming && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return finish(), nil
			}
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())

		case <-window:
			logger.Debug("stream window closed")
			return finish(), nil

		case rr := <-frames:
			if rr.err != nil {
				if streaming && proc.Result().Messages > 0 {
					logger.WithError(rr.err).Warn("feed closed during stream window")
					return finish(), nil
				}
				return nil, fmt.Errorf("%w: read: %v", ErrConnection, rr.err)
			}

			if err := c.handle(conn, proc, rr.data); err != nil {
				return nil, err
			}
			if !streaming && proc.Complete() {
				return finish(), nil
			}
		}
	}
}

func (c *Client) handle(conn *websocket.Conn, proc MessageProcessor, data string) error {
	payloads, err := DecodeFrames(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	for _, payload := range payloads {
		if IsHeartbeat(payload) {
			if err := c.write(conn, EncodeFrame(payload)); err != nil {
				return fmt.Errorf("%w: heartbeat: %v", ErrConnection, err)
			}
			continue
		}

		msg, info, err := ParsePayload(payload)
		if err != nil {
			log.WithError(err).Debug("tradingview: skipping payload")
			continue
		}
		if info != nil {
			proc.Session(info)
			continue
		}
		if err := proc.Process(msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Origin", c.opts.Origin)
	header.Set("User-Agent", userAgent)

	var conn *websocket.Conn
	err := httputil.Retry(ctx, c.opts.Retry, "tradingview.dial", func(attempt int) error {
		cn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return &httputil.Permanent{Err: fmt.Errorf("handshake rejected: %s", resp.Status)}
			}
			return err
		}
		conn = cn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) write(conn *websocket.Conn, frame string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

func readLoop(conn *websocket.Conn, out chan<- readResult, done <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		select {
		case out <- readResult{data: string(data), err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

func closeConn(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}
