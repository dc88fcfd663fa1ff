package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"audiocache/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show extraction history statistics and exit",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	history, err := openHistory(cfg)
	if err != nil {
		return err
	}
	if history == nil {
		return errors.New("history is disabled (HISTORY_DB is empty)")
	}
	defer history.Close()

	stats, err := history.GetStats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}
	printStats(cmd.OutOrStdout(), stats)
	return nil
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func printStats(w io.Writer, stats *store.Stats) {
	fmt.Fprintln(w, "╔══════════════════════════════════════════╗")
	fmt.Fprintln(w, "║          audiocache Statistics           ║")
	fmt.Fprintln(w, "╠══════════════════════════════════════════╣")
	fmt.Fprintf(w, "║  Extractions:     %-22d║\n", stats.TotalExtractions)
	fmt.Fprintf(w, "║  ├─ Succeeded:    %-22d║\n", stats.Succeeded)
	fmt.Fprintf(w, "║  └─ Unique keys:  %-22d║\n", stats.UniqueKeys)
	if len(stats.Failures) > 0 {
		kinds := make([]string, 0, len(stats.Failures))
		for k := range stats.Failures {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		fmt.Fprintln(w, "║  Failures:                               ║")
		for _, k := range kinds {
			fmt.Fprintf(w, "║  ├─ %-16s %-21d║\n", k+":", stats.Failures[k])
		}
	}
	fmt.Fprintln(w, "╠══════════════════════════════════════════╣")
	fmt.Fprintf(w, "║  Audio produced:  %-22s║\n", formatBytes(stats.TotalBytes))
	fmt.Fprintf(w, "║  Evictions:       %-22d║\n", stats.Evictions)
	fmt.Fprintf(w, "║  └─ Reclaimed:    %-22s║\n", formatBytes(stats.EvictedBytes))
	fmt.Fprintln(w, "╠══════════════════════════════════════════╣")
	if !stats.OldestExtraction.IsZero() {
		fmt.Fprintf(w, "║  Oldest:          %-22s║\n", stats.OldestExtraction.Local().Format(time.DateTime[:16]))
		fmt.Fprintf(w, "║  Newest:          %-22s║\n", stats.NewestExtraction.Local().Format(time.DateTime[:16]))
	} else {
		fmt.Fprintln(w, "║  No extractions recorded                 ║")
	}
	if len(stats.DailyStats) > 0 {
		fmt.Fprintln(w, "╠══════════════════════════════════════════╣")
		fmt.Fprintln(w, "║  Extractions (last 14 days)              ║")
		fmt.Fprintln(w, "║  ──────────────────────────────────────  ║")
		for _, ds := range stats.DailyStats {
			fmt.Fprintf(w, "║  %s:    %3d files  %12s  ║\n", ds.Date, ds.Extractions, formatBytes(ds.Bytes))
		}
	}
	fmt.Fprintln(w, "╚══════════════════════════════════════════╝")
}
