package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Pruner deletes history older than a cutoff and reports how many rows went.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type RetentionConfig struct {
	Interval  time.Duration // e.g. 1*time.Hour
	Retention time.Duration // rows older than this are deleted
	// OnPrune is called after every successful pass.
	OnPrune func(deleted int64)
}

// RetentionScheduler periodically trims scrape history.
type RetentionScheduler struct {
	pruner Pruner
	cfg    RetentionConfig
	now    func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewRetentionScheduler(pruner Pruner, cfg RetentionConfig) *RetentionScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 1 * time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	return &RetentionScheduler{
		pruner: pruner,
		cfg:    cfg,
		now:    time.Now,
	}
}

func (s *RetentionScheduler) Start() {
	logger := log.WithField("component", "retention")

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		logger.Warn("already running")
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// Initial pass on startup
		s.runOnce(logger)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				s.runOnce(logger)
			}
		}
	}()

	logger.Infof("started (every %s, keeping %s)", s.cfg.Interval, s.cfg.Retention)
}

func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	log.WithField("component", "retention").Info("stopped")
}

func (s *RetentionScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// PruneNow runs one pass outside the normal schedule.
func (s *RetentionScheduler) PruneNow(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.Retention)
	n, err := s.pruner.Prune(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	if s.cfg.OnPrune != nil {
		s.cfg.OnPrune(n)
	}
	return n, nil
}

func (s *RetentionScheduler) runOnce(logger *log.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.PruneNow(ctx)
	if err != nil {
		logger.WithError(err).Warn("history prune failed")
		return
	}
	if n > 0 {
		logger.WithField("deleted", n).Info("pruned scrape history")
	}
}
