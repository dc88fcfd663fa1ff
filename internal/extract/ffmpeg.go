package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// codecs maps an output format to the ffmpeg encoder and muxer used for it.
var codecs = map[string]struct {
	encoder  string
	muxer    string
	lossless bool
}{
	"mp3":  {"libmp3lame", "mp3", false},
	"m4a":  {"aac", "ipod", false},
	"aac":  {"aac", "adts", false},
	"opus": {"libopus", "ogg", false},
	"ogg":  {"libvorbis", "ogg", false},
	"flac": {"flac", "flac", true},
	"wav":  {"pcm_s16le", "wav", true},
}

// SupportedFormat reports whether Transcode can produce format.
func SupportedFormat(format string) bool {
	_, ok := codecs[format]
	return ok
}

// FFmpeg implements Transcoder using ffmpeg
type FFmpeg struct {
	binary string
	runner CommandRunner
}

// FFmpegOption is a functional option for configuring FFmpeg
type FFmpegOption func(*FFmpeg)

// WithFFmpegPath sets a custom ffmpeg executable path
func WithFFmpegPath(path string) FFmpegOption {
	return func(f *FFmpeg) {
		if path != "" {
			f.binary = path
		}
	}
}

// WithFFmpegCommandRunner sets a custom command runner (for testing)
func WithFFmpegCommandRunner(runner CommandRunner) FFmpegOption {
	return func(f *FFmpeg) {
		f.runner = runner
	}
}

// NewFFmpeg creates a new FFmpeg-based transcoder
func NewFFmpeg(opts ...FFmpegOption) *FFmpeg {
	f := &FFmpeg{
		binary: "ffmpeg",
		runner: &ExecCommandRunner{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Transcode re-encodes src into dst at the given format and bitrate. The
// bitrate is always passed explicitly for lossy formats.
func (f *FFmpeg) Transcode(ctx context.Context, src, dst, format, bitrate string) error {
	c, ok := codecs[format]
	if !ok {
		return fmt.Errorf("unsupported output format %q", format)
	}
	if !c.lossless && bitrate == "" {
		return errors.New("bitrate is required for lossy formats")
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", src,
		"-vn", // No video
		"-c:a", c.encoder,
	}
	if !c.lossless {
		args = append(args, "-b:a", bitrate)
	}
	args = append(args,
		"-f", c.muxer,
		"-y", // Overwrite output file if it exists
		dst,
	)

	if err := f.runner.Run(ctx, f.binary, args...); err != nil {
		return fmt.Errorf("ffmpeg transcode failed: %w", err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return fmt.Errorf("ffmpeg produced no output: %w", err)
	}
	if info.Size() == 0 {
		return errors.New("ffmpeg produced an empty file")
	}
	return nil
}

// VerifyInstalled checks that ffmpeg is available
func (f *FFmpeg) VerifyInstalled(ctx context.Context) error {
	_, err := f.runner.Output(ctx, f.binary, "-version")
	if err != nil {
		return fmt.Errorf("ffmpeg not found or not executable: %w", err)
	}
	return nil
}
