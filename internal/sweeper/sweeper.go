// Package sweeper removes artifacts once they outlive the retention window.
package sweeper

import (
	"context"
	"iter"
	"sync"
	"time"

	"audiocache/internal/files"
	"audiocache/internal/logging"
	"audiocache/internal/metrics"
	"audiocache/internal/store"
)

// DefaultInterval is the pause between sweep passes.
const DefaultInterval = 5 * time.Minute

// Store is the part of the retention store the sweeper needs.
type Store interface {
	List(ctx context.Context) iter.Seq2[*files.Artifact, error]
	RemoveExpired(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error)
	CleanupStaging(maxAge time.Duration) (int, error)
}

// Mirror is a remote copy whose objects are removed with their artifact.
type Mirror interface {
	Remove(ctx context.Context, key string) error
}

// Result summarizes one sweep pass.
type Result struct {
	Scanned int
	Removed int
	Failed  int
	Staging int // Abandoned staging entries removed
}

// Sweeper periodically removes expired artifacts. It holds no lock shared
// with readers; a file removed mid-read is the reader's concern.
type Sweeper struct {
	store      Store
	window     time.Duration
	interval   time.Duration
	stagingAge time.Duration

	mirror  Mirror
	history store.Store
	metrics metrics.Metrics
	now     func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures optional Sweeper collaborators.
type Option func(*Sweeper)

// WithMirror also removes each expired artifact from m.
func WithMirror(m Mirror) Option {
	return func(s *Sweeper) {
		s.mirror = m
	}
}

// WithHistory records each eviction in h.
func WithHistory(h store.Store) Option {
	return func(s *Sweeper) {
		s.history = h
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// WithStagingMaxAge sets how old a staging entry must be before it counts
// as abandoned. It must exceed the longest extraction, or a running job's
// workspace can be removed under it. Defaults to the retention window.
func WithStagingMaxAge(d time.Duration) Option {
	return func(s *Sweeper) {
		s.stagingAge = d
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

// New creates a sweeper that removes artifacts older than window every
// interval. A non-positive interval uses DefaultInterval.
func New(st Store, window, interval time.Duration, opts ...Option) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Sweeper{
		store:      st,
		window:     window,
		interval:   interval,
		stagingAge: window,
		metrics:    metrics.Noop{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepOnce runs a single pass. now is captured once, so every artifact is
// judged against the same cutoff. Per-item failures are logged and counted;
// they never stop the pass.
func (s *Sweeper) SweepOnce(ctx context.Context) Result {
	var res Result
	now := s.now()

	for a, err := range s.store.List(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			res.Failed++
			logging.Sweeper.Printf("failed to list artifact: %v", err)
			continue
		}
		res.Scanned++
		if !a.Expired(now, s.window) {
			continue
		}

		removed, err := s.store.RemoveExpired(ctx, a.Key, now, s.window)
		if err != nil {
			res.Failed++
			logging.Sweeper.Printf("failed to remove %s: %v", a.Key, err)
			continue
		}
		if !removed {
			logging.Sweeper.Printf("kept %s: republished or gone since listing", a.Key)
			continue
		}
		res.Removed++
		s.evicted(ctx, a, now)
	}

	if n, err := s.store.CleanupStaging(s.stagingAge); err != nil {
		logging.Sweeper.Printf("failed to clean staging: %v", err)
	} else {
		res.Staging = n
	}

	s.metrics.IncEvicted(res.Removed)
	s.metrics.IncSweepFailures(res.Failed)

	if res.Removed > 0 || res.Failed > 0 || res.Staging > 0 {
		logging.Sweeper.Printf("sweep: scanned=%d removed=%d failed=%d staging=%d",
			res.Scanned, res.Removed, res.Failed, res.Staging)
	}
	return res
}

// evicted propagates a local removal to the mirror and history. Failures
// there do not count against the pass.
func (s *Sweeper) evicted(ctx context.Context, a *files.Artifact, now time.Time) {
	if s.mirror != nil {
		if err := s.mirror.Remove(ctx, a.Key); err != nil {
			logging.Sweeper.Printf("failed to remove %s from mirror: %v", a.Key, err)
		}
	}
	if s.history != nil {
		ev := &store.Eviction{Key: a.Key, Size: a.Size, EvictedAt: now}
		if err := s.history.RecordEviction(ctx, ev); err != nil {
			logging.Sweeper.Printf("failed to record eviction of %s: %v", a.Key, err)
		}
	}
}

// Start runs a pass immediately and then every interval until Stop is
// called or ctx is done. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logging.Sweeper.Printf("started (window=%s, interval=%s)", s.window, s.interval)
	for {
		s.safeSweep(ctx)
		select {
		case <-ctx.Done():
			logging.Sweeper.Println("stopped")
			return
		case <-ticker.C:
		}
	}
}

// safeSweep keeps the loop alive if a pass panics.
func (s *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logging.Sweeper.Printf("sweep panicked: %v", r)
		}
	}()
	s.SweepOnce(ctx)
}

// Stop ends the loop and waits for an in-progress pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
