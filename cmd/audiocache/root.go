package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"audiocache/internal/config"
	"audiocache/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "audiocache",
	Short: "Extract, cache and stream audio from video links",
	Long: `audiocache turns a video link into a short-lived audio file:

  - Probe the source and reject anything longer than the duration limit
  - Download the best audio stream and transcode it
  - Serve the result with HTTP range support until it expires
  - Sweep expired files in the background

Configuration comes from environment variables (a .env file is loaded
automatically) and an optional YAML file given with --config.

Example:
  audiocache serve
  audiocache --config audiocache.yaml sweep`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional YAML config file; environment variables override it")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openHistory opens the history database, or returns nil when it is disabled.
func openHistory(cfg *config.Config) (*store.SQLiteStore, error) {
	if cfg.HistoryDB == "" {
		return nil, nil
	}
	st, err := store.NewSQLiteStore(cfg.HistoryDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return st, nil
}
