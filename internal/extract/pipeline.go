// Package extract turns a source URL into a published audio artifact.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"golang.org/x/sync/singleflight"

	"audiocache/internal/files"
	"audiocache/internal/ident"
	"audiocache/internal/logging"
	"audiocache/internal/metrics"
	"audiocache/internal/store"
)

const (
	// DefaultMaxDuration is the longest source accepted for extraction.
	DefaultMaxDuration = 300 * time.Second
	// DefaultBitrate is the target bitrate of transcoded audio.
	DefaultBitrate = "256k"
	// DefaultTimeout bounds one extraction end to end.
	DefaultTimeout = 10 * time.Minute
)

// Result describes a completed extraction.
type Result struct {
	Key       string
	Title     string
	Size      int64
	CreatedAt time.Time
	// AudioURL is set by extractors whose artifact lives elsewhere; empty
	// means the artifact is served from the local store under Key.
	AudioURL string
	// DirectURL is a presigned mirror URL, when a mirror is configured.
	DirectURL string
}

// Extractor produces audio for a source URL. All failures are *Error values.
type Extractor interface {
	Extract(ctx context.Context, sourceURL string) (*Result, error)
}

// Prober reads source metadata without downloading media.
type Prober interface {
	Probe(ctx context.Context, sourceURL string) (*Metadata, error)
}

// Fetcher downloads the best available audio stream into dir.
type Fetcher interface {
	FetchBestAudio(ctx context.Context, sourceURL, dir string) (string, error)
}

// Transcoder re-encodes a downloaded stream to the target format and bitrate.
type Transcoder interface {
	Transcode(ctx context.Context, src, dst, format, bitrate string) error
}

// Store is the part of the retention store the pipeline writes to.
type Store interface {
	StagingDir(ctx context.Context) (string, func(), error)
	Publish(ctx context.Context, key string, srcPath string) (*files.Artifact, error)
	Format() string
}

// Mirror receives a copy of every published artifact.
type Mirror interface {
	Upload(ctx context.Context, a *files.Artifact) error
	DirectURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Config holds the extraction policy.
type Config struct {
	MaxDuration time.Duration
	Bitrate     string
	Timeout     time.Duration
}

// Pipeline is the local Extractor: probe, download, transcode, publish.
type Pipeline struct {
	store      Store
	prober     Prober
	fetcher    Fetcher
	transcoder Transcoder
	cfg        Config

	mirror    Mirror
	mirrorTTL time.Duration
	history   store.Store
	metrics   metrics.Metrics

	inflight singleflight.Group
}

// Option configures optional Pipeline collaborators.
type Option func(*Pipeline)

// WithMirror uploads each published artifact to m and returns presigned URLs valid for ttl.
func WithMirror(m Mirror, ttl time.Duration) Option {
	return func(p *Pipeline) {
		p.mirror = m
		p.mirrorTTL = ttl
	}
}

// WithHistory records every extraction attempt in h.
func WithHistory(h store.Store) Option {
	return func(p *Pipeline) {
		p.history = h
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// NewPipeline creates a pipeline writing into st. Zero config values take the defaults.
func NewPipeline(st Store, prober Prober, fetcher Fetcher, transcoder Transcoder, cfg Config, opts ...Option) *Pipeline {
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.Bitrate == "" {
		cfg.Bitrate = DefaultBitrate
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	p := &Pipeline{
		store:      st,
		prober:     prober,
		fetcher:    fetcher,
		transcoder: transcoder,
		cfg:        cfg,
		metrics:    metrics.Noop{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Extract runs the pipeline for sourceURL. Concurrent calls for the same key
// share one in-flight run. The run is detached from the caller's cancellation
// so a departing client does not abort work another caller is waiting on; it
// is bounded by the configured timeout instead.
func (p *Pipeline) Extract(ctx context.Context, sourceURL string) (*Result, error) {
	key, err := ident.ExtractID(sourceURL)
	if err != nil {
		e := newError(ErrInvalidURL, "invalid video URL", err)
		p.record(ctx, &store.Extraction{SourceURL: sourceURL}, time.Now(), e)
		return nil, e
	}

	ch := p.inflight.DoChan(key, func() (res any, err error) {
		// DoChan rethrows panics on a goroutine nobody can recover.
		defer func() {
			if r := recover(); r != nil {
				logging.Extract.Printf("key=%s panicked: %v\n%s", key, r, debug.Stack())
				res, err = nil, newError(ErrDownloadFailed, "extraction failed", fmt.Errorf("panic: %v", r))
			}
		}()
		return p.run(context.WithoutCancel(ctx), key, sourceURL)
	})

	select {
	case <-ctx.Done():
		return nil, newError(ErrDownloadFailed, "request canceled", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		out := *res.Val.(*Result)
		if res.Shared {
			logging.Extract.Printf("key=%s served from shared in-flight extraction", key)
		}
		return &out, nil
	}
}

func (p *Pipeline) run(ctx context.Context, key, sourceURL string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	rec := &store.Extraction{Key: key, SourceURL: sourceURL}
	res, err := p.extract(ctx, key, sourceURL, rec)
	if err != nil {
		logging.Extract.Printf("key=%s failed after %s: %v", key, time.Since(start).Round(time.Millisecond), err)
	} else {
		logging.Extract.Printf("key=%s published %d bytes in %s", key, res.Size, time.Since(start).Round(time.Millisecond))
	}
	p.record(ctx, rec, start, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) extract(ctx context.Context, key, sourceURL string, rec *store.Extraction) (*Result, error) {
	meta, err := p.prober.Probe(ctx, sourceURL)
	if err != nil {
		return nil, newError(ErrDownloadFailed, "failed to read video metadata", err)
	}
	rec.Title = meta.Title
	rec.DurationSeconds = meta.DurationSeconds

	// Checked before anything is downloaded.
	maxSeconds := p.cfg.MaxDuration.Seconds()
	if meta.IsLive || meta.DurationSeconds <= 0 {
		return nil, newError(ErrTooLong, "video duration is unknown (live streams are not supported)", nil)
	}
	if meta.DurationSeconds > maxSeconds {
		return nil, newError(ErrTooLong,
			fmt.Sprintf("video is %.0f seconds long; the limit is %.0f seconds", meta.DurationSeconds, maxSeconds), nil)
	}

	dir, cleanup, err := p.store.StagingDir(ctx)
	if err != nil {
		return nil, newError(ErrDownloadFailed, "failed to prepare workspace", err)
	}
	defer cleanup()

	raw, err := p.fetcher.FetchBestAudio(ctx, sourceURL, dir)
	if err != nil {
		return nil, newError(ErrDownloadFailed, "failed to download audio", err)
	}

	format := p.store.Format()
	out := filepath.Join(dir, "output."+format)
	if err := p.transcoder.Transcode(ctx, raw, out, format, p.cfg.Bitrate); err != nil {
		return nil, newError(ErrTranscodeFailed, "failed to convert audio", err)
	}

	a, err := p.store.Publish(ctx, key, out)
	if err != nil {
		return nil, newError(ErrTranscodeFailed, "failed to store audio", err)
	}
	rec.Size = a.Size

	res := &Result{
		Key:       key,
		Title:     meta.Title,
		Size:      a.Size,
		CreatedAt: a.ModTime,
	}

	if p.mirror != nil {
		if err := p.mirror.Upload(ctx, a); err != nil {
			logging.Extract.Printf("key=%s mirror upload failed: %v", key, err)
		} else if u, err := p.mirror.DirectURL(ctx, key, p.mirrorTTL); err != nil {
			logging.Extract.Printf("key=%s presign failed: %v", key, err)
		} else {
			res.DirectURL = u
		}
	}

	return res, nil
}

func (p *Pipeline) record(ctx context.Context, rec *store.Extraction, start time.Time, err error) {
	status := Status(err)
	p.metrics.IncExtraction(status)
	if p.history == nil {
		return
	}
	rec.Status = status
	rec.Elapsed = time.Since(start)
	rec.CreatedAt = time.Now()
	if herr := p.history.RecordExtraction(context.WithoutCancel(ctx), rec); herr != nil {
		logging.Extract.Printf("failed to record history for key=%s: %v", rec.Key, herr)
	}
}
