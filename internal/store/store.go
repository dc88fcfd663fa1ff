package store

import (
	"context"
	"time"
)

// Extraction records one extraction attempt, successful or not.
type Extraction struct {
	Key             string
	SourceURL       string
	Title           string
	Status          string // "ok" or a failure label such as "too_long"
	Size            int64
	DurationSeconds float64 // Source duration reported by the probe
	Elapsed         time.Duration
	CreatedAt       time.Time
}

// Eviction records an artifact removed by the expiry sweeper.
type Eviction struct {
	Key       string
	Size      int64
	EvictedAt time.Time
}

// DailyStat aggregates successful extractions for one day (UTC).
type DailyStat struct {
	Date        string
	Extractions int
	Bytes       int64
}

// Stats contains aggregate statistics about extraction history.
type Stats struct {
	TotalExtractions int
	Succeeded        int
	Failures         map[string]int
	UniqueKeys       int
	TotalBytes       int64
	Evictions        int
	EvictedBytes     int64
	OldestExtraction time.Time
	NewestExtraction time.Time
	DailyStats       []DailyStat
}

// Store defines the interface for extraction history persistence. History is
// write-only from the request path: it is never consulted to locate or serve
// an artifact.
type Store interface {
	RecordExtraction(ctx context.Context, e *Extraction) error
	RecordEviction(ctx context.Context, e *Eviction) error
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}
