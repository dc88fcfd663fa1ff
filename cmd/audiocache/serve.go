package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"audiocache/internal/api"
	"audiocache/internal/config"
	"audiocache/internal/extract"
	"audiocache/internal/files"
	"audiocache/internal/logging"
	"audiocache/internal/metrics"
	"audiocache/internal/search"
	"audiocache/internal/store"
	"audiocache/internal/sweeper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the expiry sweeper",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := files.NewFSStore(cfg.AudioDir, cfg.Extract.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	logging.Internal.Printf("using local filesystem storage (%s, format=%s)", cfg.AudioDir, st.Format())

	// Nothing is extracting yet, so every staging entry is a leftover
	if n, err := st.CleanupStaging(0); err != nil {
		logging.Internal.Printf("warning: failed to clean staging directory: %v", err)
	} else if n > 0 {
		logging.Internal.Printf("cleaned up %d abandoned staging entries from previous run", n)
	}

	m := metrics.NewProm("audiocache")

	history, err := openHistory(cfg)
	if err != nil {
		return err
	}
	if history != nil {
		defer history.Close()
		logging.Internal.Printf("recording history in %s", cfg.HistoryDB)
	}

	var mirror *files.S3Mirror
	if cfg.S3.Bucket != "" {
		mirror, err = files.NewS3Mirror(ctx, files.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			UseSSL:    cfg.S3.UseSSL,
		}, st.Format())
		if err != nil {
			return fmt.Errorf("failed to initialize s3 mirror: %w", err)
		}
		logging.Internal.Printf("mirroring artifacts to s3 bucket %s (direct downloads enabled)", cfg.S3.Bucket)
	}

	extractor, err := newExtractor(ctx, cfg, st, m, history, mirror)
	if err != nil {
		return err
	}

	handler := api.NewHandler(extractor, st, api.NewInflightLimiter(cfg.Extract.MaxInflightPerClient), api.Config{
		PublicBaseURL:    cfg.PublicBaseURL,
		Retention:        cfg.RetentionWindow,
		SearchMaxResults: cfg.Search.MaxResults,
	})
	handler.SetMetricsHandler(m.Handler())

	if cfg.Search.APIKey != "" {
		searcher, err := search.NewYouTubeSearcher(ctx, search.YouTubeConfig{
			APIKey:   cfg.Search.APIKey,
			Requests: cfg.Search.Rate.Requests,
			Window:   cfg.Search.Rate.Window,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize search: %w", err)
		}
		handler.SetSearcher(searcher)
		logging.Internal.Println("search enabled via YouTube Data API")
	} else {
		logging.Internal.Println("search disabled (set YOUTUBE_API_KEY to enable)")
	}

	sweepOpts := []sweeper.Option{sweeper.WithMetrics(m), sweeper.WithStagingMaxAge(cfg.StagingMaxAge())}
	if history != nil {
		sweepOpts = append(sweepOpts, sweeper.WithHistory(history))
	}
	if mirror != nil {
		sweepOpts = append(sweepOpts, sweeper.WithMirror(mirror))
	}
	sw := sweeper.New(st, cfg.RetentionWindow, cfg.SweepInterval, sweepOpts...)
	sw.Start(ctx)

	// Apply middleware (order: Recover -> Logger -> Metrics -> CORS -> RateLimit -> handler)
	var finalHandler http.Handler = handler
	if cfg.RateLimit.Disabled {
		logging.Internal.Println("rate limiting disabled")
	} else {
		gate := newGate(cfg.RateLimit)
		go gate.Run(ctx, time.Minute)
		finalHandler = api.RateLimit(gate, m)(finalHandler)
		logging.Internal.Printf("rate limiting enabled (extract=%s, serve=%s, default=%s)",
			cfg.RateLimit.Extract, cfg.RateLimit.Serve, cfg.RateLimit.Default)
	}
	if len(cfg.CORSOrigins) > 0 {
		logging.Internal.Printf("CORS restricted to origins: %v", cfg.CORSOrigins)
	}
	finalHandler = api.CORS(api.CORSConfig{AllowedOrigins: cfg.CORSOrigins})(finalHandler)
	finalHandler = api.Metrics(m)(finalHandler)
	finalHandler = api.Logger(finalHandler)
	finalHandler = api.Recover(finalHandler)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           finalHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logging.Internal.Println("shutting down...")
		sw.Stop()
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Internal.Printf("shutdown error: %v", err)
		}
	}()

	logging.Internal.Printf("starting server on %s", cfg.Addr())
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// newExtractor builds the upstream proxy when one is configured and the
// local pipeline otherwise.
func newExtractor(ctx context.Context, cfg *config.Config, st *files.FSStore, m metrics.Metrics, history *store.SQLiteStore, mirror *files.S3Mirror) (extract.Extractor, error) {
	if cfg.Upstream.URL != "" {
		proxy, err := extract.NewProxyExtractor(extract.ProxyConfig{
			BaseURL: cfg.Upstream.URL,
			Token:   cfg.Upstream.Token,
			Timeout: cfg.Extract.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize upstream extractor: %w", err)
		}
		logging.Internal.Printf("delegating extraction to upstream %s", cfg.Upstream.URL)
		return proxy, nil
	}

	ytdlp := extract.NewYTDLP(extract.WithYTDLPPath(cfg.Extract.YTDLPPath))
	ffmpeg := extract.NewFFmpeg(extract.WithFFmpegPath(cfg.Extract.FFmpegPath))
	if err := ytdlp.VerifyInstalled(ctx); err != nil {
		logging.Internal.Printf("warning: %v", err)
	}
	if err := ffmpeg.VerifyInstalled(ctx); err != nil {
		logging.Internal.Printf("warning: %v", err)
	}

	opts := []extract.Option{extract.WithMetrics(m)}
	if history != nil {
		opts = append(opts, extract.WithHistory(history))
	}
	if mirror != nil {
		opts = append(opts, extract.WithMirror(mirror, cfg.S3.URLExpiry))
	}

	logging.Internal.Printf("extracting locally (max duration %s, %s at %s)",
		cfg.Extract.MaxDuration, st.Format(), cfg.Extract.Bitrate)
	return extract.NewPipeline(st, ytdlp, ytdlp, ffmpeg, extract.Config{
		MaxDuration: cfg.Extract.MaxDuration,
		Bitrate:     cfg.Extract.Bitrate,
		Timeout:     cfg.Extract.Timeout,
	}, opts...), nil
}

func newGate(rl config.RateLimitConfig) *api.Gate {
	budget := func(r config.Rate) api.Budget {
		return api.Budget{Requests: r.Requests, Window: r.Window}
	}
	return api.NewGate(map[api.Route]api.Budget{
		api.RouteExtract: budget(rl.Extract),
		api.RouteServe:   budget(rl.Serve),
	}, budget(rl.Default))
}
