package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	deleted int64
	err     error
}

func (f *fakePruner) Prune(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, before)
	return f.deleted, f.err
}

func (f *fakePruner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestRetentionScheduler_PruneNowUsesCutoff(t *testing.T) {
	p := &fakePruner{deleted: 4}
	var reported int64
	s := NewRetentionScheduler(p, RetentionConfig{
		Retention: 48 * time.Hour,
		OnPrune:   func(n int64) { reported = n },
	})
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	n, err := s.PruneNow(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	assert.EqualValues(t, 4, reported)
	require.Len(t, p.cutoffs, 1)
	assert.Equal(t, fixed.Add(-48*time.Hour), p.cutoffs[0])
}

func TestRetentionScheduler_PruneError(t *testing.T) {
	p := &fakePruner{err: errors.New("db down")}
	var called atomic.Bool
	s := NewRetentionScheduler(p, RetentionConfig{OnPrune: func(int64) { called.Store(true) }})

	_, err := s.PruneNow(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.False(t, called.Load())
}

func TestRetentionScheduler_StartStop(t *testing.T) {
	p := &fakePruner{}
	s := NewRetentionScheduler(p, RetentionConfig{Interval: 20 * time.Millisecond})

	s.Start()
	s.Start()
	assert.True(t, s.Running())

	assert.Eventually(t, func() bool { return p.calls() >= 3 }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.Running())
	after := p.calls()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, p.calls())

	s.Stop()
}

func TestNewRetentionScheduler_Defaults(t *testing.T) {
	s := NewRetentionScheduler(&fakePruner{}, RetentionConfig{})
	assert.Equal(t, time.Hour, s.cfg.Interval)
	assert.Equal(t, 7*24*time.Hour, s.cfg.Retention)
}
