package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"audiocache/internal/files"
	"audiocache/internal/sweeper"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one expiry pass over the audio directory and exit",
	Long: `Run one expiry pass over the audio directory and exit.

Artifacts older than the retention window are removed, along with their
mirrored copies and abandoned staging files. Useful from cron when the
server runs with a long sweep interval.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	st, err := files.NewFSStore(cfg.AudioDir, cfg.Extract.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	opts := []sweeper.Option{sweeper.WithStagingMaxAge(cfg.StagingMaxAge())}
	history, err := openHistory(cfg)
	if err != nil {
		return err
	}
	if history != nil {
		defer history.Close()
		opts = append(opts, sweeper.WithHistory(history))
	}
	if cfg.S3.Bucket != "" {
		mirror, err := files.NewS3Mirror(ctx, files.S3Config{
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
		opts = append(opts, sweeper.WithMirror(mirror))
	}

	res := sweeper.New(st, cfg.RetentionWindow, cfg.SweepInterval, opts...).SweepOnce(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, removed %d, failed %d, staging entries removed %d\n",
		res.Scanned, res.Removed, res.Failed, res.Staging)
	if res.Failed > 0 {
		return fmt.Errorf("%d artifacts could not be removed", res.Failed)
	}
	return nil
}
