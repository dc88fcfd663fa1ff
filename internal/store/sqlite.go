package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// dailyStatsDays is how many days GetStats reports per-day totals for.
const dailyStatsDays = 14

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Extraction goroutines record concurrently; a single connection
	// serializes writers instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS extractions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL,
			source_url TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			duration_seconds REAL NOT NULL DEFAULT 0,
			elapsed_ms INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS evictions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			evicted_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_extractions_created_at ON extractions (created_at)`)
	return err
}

func (s *SQLiteStore) RecordExtraction(ctx context.Context, e *Extraction) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extractions (key, source_url, title, status, size, duration_seconds, elapsed_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Key, e.SourceURL, e.Title, e.Status, e.Size, e.DurationSeconds, e.Elapsed.Milliseconds(), createdAt.Unix())
	return err
}

func (s *SQLiteStore) RecordEviction(ctx context.Context, e *Eviction) error {
	evictedAt := e.EvictedAt
	if evictedAt.IsZero() {
		evictedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evictions (key, size, evicted_at) VALUES (?, ?, ?)
	`, e.Key, e.Size, evictedAt.Unix())
	return err
}

func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Failures: make(map[string]int)}

	var oldest, newest sql.NullInt64
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'ok' THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT CASE WHEN status = 'ok' THEN key END),
			COALESCE(SUM(CASE WHEN status = 'ok' THEN size ELSE 0 END), 0),
			MIN(created_at),
			MAX(created_at)
		FROM extractions
	`)
	err := row.Scan(
		&stats.TotalExtractions,
		&stats.Succeeded,
		&stats.UniqueKeys,
		&stats.TotalBytes,
		&oldest,
		&newest,
	)
	if err != nil {
		return nil, err
	}
	if oldest.Valid {
		stats.OldestExtraction = time.Unix(oldest.Int64, 0)
	}
	if newest.Valid {
		stats.NewestExtraction = time.Unix(newest.Int64, 0)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM extractions WHERE status != 'ok' GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.Failures[status] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM evictions`)
	if err := row.Scan(&stats.Evictions, &stats.EvictedBytes); err != nil {
		return nil, err
	}

	since := time.Now().AddDate(0, 0, -dailyStatsDays).Unix()
	rows, err = s.db.QueryContext(ctx, `
		SELECT date(created_at, 'unixepoch') AS day, COUNT(*), COALESCE(SUM(size), 0)
		FROM extractions
		WHERE status = 'ok' AND created_at >= ?
		GROUP BY day
		ORDER BY day DESC
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ds DailyStat
		if err := rows.Scan(&ds.Date, &ds.Extractions, &ds.Bytes); err != nil {
			return nil, err
		}
		stats.DailyStats = append(stats.DailyStats, ds)
	}
	return stats, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
