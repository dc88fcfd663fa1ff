package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Metadata is what a probe learns about a source without downloading it.
type Metadata struct {
	ID              string
	Title           string
	DurationSeconds float64
	IsLive          bool
}

// YTDLP implements Prober and Fetcher using the yt-dlp executable.
type YTDLP struct {
	binary string
	runner CommandRunner
}

// YTDLPOption is a functional option for configuring YTDLP
type YTDLPOption func(*YTDLP)

// WithYTDLPPath sets a custom yt-dlp executable path
func WithYTDLPPath(path string) YTDLPOption {
	return func(y *YTDLP) {
		if path != "" {
			y.binary = path
		}
	}
}

// WithYTDLPCommandRunner sets a custom command runner (for testing)
func WithYTDLPCommandRunner(runner CommandRunner) YTDLPOption {
	return func(y *YTDLP) {
		y.runner = runner
	}
}

// NewYTDLP creates a new yt-dlp backed prober and fetcher
func NewYTDLP(opts ...YTDLPOption) *YTDLP {
	y := &YTDLP{
		binary: "yt-dlp",
		runner: &ExecCommandRunner{},
	}
	for _, opt := range opts {
		opt(y)
	}
	return y
}

type probeInfo struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Duration *float64 `json:"duration"`
	IsLive   bool     `json:"is_live"`
}

// Probe reads source metadata without downloading any media.
func (y *YTDLP) Probe(ctx context.Context, sourceURL string) (*Metadata, error) {
	out, err := y.runner.Output(ctx, y.binary,
		"--dump-single-json",
		"--skip-download",
		"--no-playlist",
		"--no-warnings",
		sourceURL,
	)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp probe failed: %w", err)
	}

	var info probeInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("yt-dlp probe returned invalid json: %w", err)
	}

	meta := &Metadata{ID: info.ID, Title: info.Title, IsLive: info.IsLive}
	if info.Duration != nil {
		meta.DurationSeconds = *info.Duration
	}
	return meta, nil
}

// FetchBestAudio downloads the best available audio stream into dir and
// returns the path of the downloaded file.
func (y *YTDLP) FetchBestAudio(ctx context.Context, sourceURL, dir string) (string, error) {
	out, err := y.runner.Output(ctx, y.binary,
		"-f", "bestaudio/best",
		"--no-playlist",
		"--no-progress",
		"--no-warnings",
		"-o", filepath.Join(dir, "source.%(ext)s"),
		"--no-simulate",
		"--print", "after_move:filepath",
		sourceURL,
	)
	if err != nil {
		return "", fmt.Errorf("yt-dlp download failed: %w", err)
	}

	path := lastLine(string(out))
	if path == "" {
		matches, _ := filepath.Glob(filepath.Join(dir, "source.*"))
		if len(matches) == 0 {
			return "", errors.New("yt-dlp reported no output file")
		}
		path = matches[0]
	}

	if filepath.Dir(filepath.Clean(path)) != filepath.Clean(dir) {
		return "", fmt.Errorf("yt-dlp wrote outside the work directory: %s", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("downloaded file missing: %w", err)
	}
	if info.Size() == 0 {
		return "", errors.New("downloaded file is empty")
	}
	return path, nil
}

// VerifyInstalled checks that yt-dlp is available
func (y *YTDLP) VerifyInstalled(ctx context.Context) error {
	out, err := y.runner.Output(ctx, y.binary, "--version")
	if err != nil {
		return fmt.Errorf("yt-dlp not found or not executable: %w", err)
	}
	if strings.TrimSpace(string(out)) == "" {
		return errors.New("yt-dlp returned no version")
	}
	return nil
}
