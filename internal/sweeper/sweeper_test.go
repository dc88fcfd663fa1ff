package sweeper

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audiocache/internal/files"
	"audiocache/internal/metrics"
	"audiocache/internal/store"
)

func newTestStore(t *testing.T) *files.FSStore {
	t.Helper()
	st, err := files.NewFSStore(t.TempDir(), "mp3")
	require.NoError(t, err)
	return st
}

// putAged stores an artifact and backdates its modification time.
func putAged(t *testing.T, st *files.FSStore, key string, age time.Duration) {
	t.Helper()
	a, err := st.Put(context.Background(), key, bytes.NewReader([]byte("audio-"+key)))
	require.NoError(t, err)
	mt := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(a.Path, mt, mt))
}

func exists(st *files.FSStore, key string) bool {
	_, err := st.Get(context.Background(), key)
	return err == nil
}

// failingStore fails removal for selected keys.
type failingStore struct {
	*files.FSStore
	failKeys map[string]bool
}

func (f *failingStore) RemoveExpired(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	if f.failKeys[key] {
		return false, errors.New("permission denied")
	}
	return f.FSStore.RemoveExpired(ctx, key, now, window)
}

// republishingStore publishes a fresh copy of each artifact right after
// listing it, as a repeat extraction finishing mid-pass would.
type republishingStore struct {
	*files.FSStore
	t *testing.T
}

func (r *republishingStore) List(ctx context.Context) iter.Seq2[*files.Artifact, error] {
	return func(yield func(*files.Artifact, error) bool) {
		for a, err := range r.FSStore.List(ctx) {
			if err == nil {
				_, perr := r.Put(ctx, a.Key, bytes.NewReader([]byte("fresh")))
				require.NoError(r.t, perr)
			}
			if !yield(a, err) {
				return
			}
		}
	}
}

type fakeMirror struct {
	mu      sync.Mutex
	removed []string
	err     error
}

func (m *fakeMirror) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, key)
	return m.err
}

type fakeHistory struct {
	mu        sync.Mutex
	evictions []store.Eviction
}

func (h *fakeHistory) RecordExtraction(ctx context.Context, e *store.Extraction) error { return nil }
func (h *fakeHistory) RecordEviction(ctx context.Context, e *store.Eviction) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evictions = append(h.evictions, *e)
	return nil
}
func (h *fakeHistory) GetStats(ctx context.Context) (*store.Stats, error) { return &store.Stats{}, nil }
func (h *fakeHistory) Close() error                                       { return nil }

type countingMetrics struct {
	metrics.Noop
	evicted  atomic.Int64
	failures atomic.Int64
}

func (m *countingMetrics) IncEvicted(n int)       { m.evicted.Add(int64(n)) }
func (m *countingMetrics) IncSweepFailures(n int) { m.failures.Add(int64(n)) }

func TestSweepOnce_RemovesOnlyExpired(t *testing.T) {
	st := newTestStore(t)
	putAged(t, st, "oldoldoldol", 2*time.Hour)
	putAged(t, st, "newnewnewne", 10*time.Minute)

	s := New(st, time.Hour, time.Minute)
	res := s.SweepOnce(context.Background())

	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 1, res.Removed)
	assert.Zero(t, res.Failed)
	assert.False(t, exists(st, "oldoldoldol"))
	assert.True(t, exists(st, "newnewnewne"))
}

func TestSweepOnce_UsesOneCutoff(t *testing.T) {
	st := newTestStore(t)
	putAged(t, st, "a", 0)

	a, err := st.Get(context.Background(), "a")
	require.NoError(t, err)

	// Exactly at the window boundary the artifact is kept.
	s := New(st, time.Hour, time.Minute, WithClock(func() time.Time { return a.ModTime.Add(time.Hour) }))
	assert.Zero(t, s.SweepOnce(context.Background()).Removed)

	s = New(st, time.Hour, time.Minute, WithClock(func() time.Time { return a.ModTime.Add(time.Hour + time.Second) }))
	assert.Equal(t, 1, s.SweepOnce(context.Background()).Removed)
}

func TestSweepOnce_FailureDoesNotStopPass(t *testing.T) {
	fs := newTestStore(t)
	for _, k := range []string{"a", "b", "c"} {
		putAged(t, fs, k, 2*time.Hour)
	}
	st := &failingStore{FSStore: fs, failKeys: map[string]bool{"b": true}}
	m := &countingMetrics{}

	s := New(st, time.Hour, time.Minute, WithMetrics(m))
	res := s.SweepOnce(context.Background())

	assert.Equal(t, 3, res.Scanned)
	assert.Equal(t, 2, res.Removed)
	assert.Equal(t, 1, res.Failed)
	assert.False(t, exists(fs, "a"))
	assert.True(t, exists(fs, "b"))
	assert.False(t, exists(fs, "c"))
	assert.Equal(t, int64(2), m.evicted.Load())
	assert.Equal(t, int64(1), m.failures.Load())

	// The next pass retries the failed key.
	delete(st.failKeys, "b")
	assert.Equal(t, 1, s.SweepOnce(context.Background()).Removed)
}

func TestSweepOnce_MirrorAndHistory(t *testing.T) {
	st := newTestStore(t)
	putAged(t, st, "expired", 2*time.Hour)
	putAged(t, st, "fresh", time.Minute)

	mirror := &fakeMirror{err: errors.New("bucket unreachable")}
	hist := &fakeHistory{}
	fixed := time.Now()
	s := New(st, time.Hour, time.Minute, WithMirror(mirror), WithHistory(hist), WithClock(func() time.Time { return fixed }))

	res := s.SweepOnce(context.Background())
	assert.Equal(t, 1, res.Removed)
	assert.Zero(t, res.Failed, "mirror failures do not count against the pass")

	assert.Equal(t, []string{"expired"}, mirror.removed)
	require.Len(t, hist.evictions, 1)
	assert.Equal(t, "expired", hist.evictions[0].Key)
	assert.Equal(t, int64(len("audio-expired")), hist.evictions[0].Size)
	assert.Equal(t, fixed, hist.evictions[0].EvictedAt)
}

func TestSweepOnce_CleansAbandonedStaging(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	oldDir, _, err := st.StagingDir(ctx)
	require.NoError(t, err)
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldDir, past, past))

	activeDir, cleanup, err := st.StagingDir(ctx)
	require.NoError(t, err)
	defer cleanup()

	res := New(st, time.Hour, time.Minute).SweepOnce(ctx)
	assert.Equal(t, 1, res.Staging)

	_, err = os.Stat(oldDir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(activeDir)
	assert.NoError(t, err, "in-progress staging must survive")
	assert.Equal(t, filepath.Dir(oldDir), filepath.Dir(activeDir))
}

func TestSweepOnce_KeepsArtifactRepublishedMidPass(t *testing.T) {
	fs := newTestStore(t)
	putAged(t, fs, "dQw4w9WgXcQ", 2*time.Hour)
	hist := &fakeHistory{}

	st := &republishingStore{FSStore: fs, t: t}
	res := New(st, time.Hour, time.Minute, WithHistory(hist)).SweepOnce(context.Background())

	assert.Equal(t, 1, res.Scanned)
	assert.Zero(t, res.Removed)
	assert.Zero(t, res.Failed)
	assert.Empty(t, hist.evictions)

	a, err := fs.Get(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	data, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

func TestSweepOnce_SparesRunningExtractionWorkspace(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Retention shorter than the extraction timeout: a job that has been
	// transcoding for two minutes must keep its workspace.
	dir, cleanup, err := st.StagingDir(ctx)
	require.NoError(t, err)
	defer cleanup()
	out := filepath.Join(dir, "output.mp3")
	require.NoError(t, os.WriteFile(out, []byte("ID3 partial"), 0644))
	started := time.Now().Add(-2 * time.Minute)
	require.NoError(t, os.Chtimes(dir, started, started))

	s := New(st, time.Minute, time.Minute, WithStagingMaxAge(11*time.Minute))
	res := s.SweepOnce(ctx)
	assert.Zero(t, res.Staging)

	_, err = st.Publish(ctx, "dQw4w9WgXcQ", out)
	require.NoError(t, err, "publish after a sweep must still find its output")

	// Once older than the staging age the workspace is abandoned.
	stale, _, err := st.StagingDir(ctx)
	require.NoError(t, err)
	old := time.Now().Add(-12 * time.Minute)
	require.NoError(t, os.Chtimes(stale, old, old))
	assert.Equal(t, 1, s.SweepOnce(ctx).Staging)
}

func TestSweepOnce_EmptyStore(t *testing.T) {
	res := New(newTestStore(t), time.Hour, time.Minute).SweepOnce(context.Background())
	assert.Equal(t, Result{}, res)
}

func TestStartStop(t *testing.T) {
	st := newTestStore(t)
	putAged(t, st, "expired", 2*time.Hour)

	s := New(st, time.Hour, 10*time.Millisecond)
	s.Start(context.Background())
	s.Start(context.Background()) // no-op while running

	assert.Eventually(t, func() bool { return !exists(st, "expired") }, 2*time.Second, 5*time.Millisecond)

	// Artifacts that expire later are picked up by a later pass.
	putAged(t, st, "later", 2*time.Hour)
	assert.Eventually(t, func() bool { return !exists(st, "later") }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop() // idempotent
}

func TestStop_WithoutStart(t *testing.T) {
	s := New(newTestStore(t), time.Hour, time.Minute)
	s.Stop()
}

func TestStart_StopsWithContext(t *testing.T) {
	s := New(newTestStore(t), time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	cancel()
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

// panickyStore panics on its first List call.
type panickyStore struct {
	*files.FSStore
	calls atomic.Int32
}

func (p *panickyStore) List(ctx context.Context) iter.Seq2[*files.Artifact, error] {
	if p.calls.Add(1) == 1 {
		panic("disk on fire")
	}
	return p.FSStore.List(ctx)
}

func TestLoop_SurvivesPanic(t *testing.T) {
	st := &panickyStore{FSStore: newTestStore(t)}
	s := New(st, time.Hour, 5*time.Millisecond)
	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool { return st.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}
