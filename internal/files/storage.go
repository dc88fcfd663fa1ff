package files

import (
	"context"
	"io"
	"iter"
	"os"
	"strings"
	"time"
)

// DefaultFormat is the audio container used when none is configured.
const DefaultFormat = "mp3"

// Artifact describes a complete audio file held by the store.
// Only published files are ever returned as artifacts.
type Artifact struct {
	Key     string
	Path    string
	Size    int64
	ModTime time.Time
}

// ExpiresAt returns the time after which the artifact is eligible for removal.
// It is always derived from the file modification time, never stored.
func (a *Artifact) ExpiresAt(window time.Duration) time.Time {
	return a.ModTime.Add(window)
}

// Expired reports whether the artifact is older than window at now.
func (a *Artifact) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(a.ModTime) > window
}

// Storage defines the retention store operations.
type Storage interface {
	Put(ctx context.Context, key string, data io.Reader) (*Artifact, error)
	Publish(ctx context.Context, key string, srcPath string) (*Artifact, error)
	Get(ctx context.Context, key string) (*Artifact, error)
	Open(ctx context.Context, key string) (*os.File, *Artifact, error)
	List(ctx context.Context) iter.Seq2[*Artifact, error]
	Remove(ctx context.Context, key string) error
}

var contentTypes = map[string]string{
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"aac":  "audio/aac",
	"opus": "audio/ogg",
	"ogg":  "audio/ogg",
	"wav":  "audio/wav",
	"flac": "audio/flac",
}

// ContentTypeFor returns the media type served for files of the given format.
func ContentTypeFor(format string) string {
	if ct, ok := contentTypes[strings.ToLower(strings.TrimPrefix(format, "."))]; ok {
		return ct
	}
	return "application/octet-stream"
}
