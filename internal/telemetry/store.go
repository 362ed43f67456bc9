package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	agenterrors "github.com/Aman-CERP/agentmem/internal/errors"
	"github.com/Aman-CERP/agentmem/internal/search"
	"github.com/Aman-CERP/agentmem/internal/store"
)

const dateLayout = "2006-01-02"

// SourceCount is the per-source part of DailyCounts.
type SourceCount struct {
	Queries  int64 `json:"queries"`
	Degraded int64 `json:"degraded"`
}

// DailyCounts are additive counters for one day.
type DailyCounts struct {
	QueryTypes map[search.QueryType]int64 `json:"query_types"`
	Latency    map[LatencyBucket]int64    `json:"latency"`
	Sources    map[string]SourceCount     `json:"sources"`
}

func newDailyCounts() DailyCounts {
	return DailyCounts{
		QueryTypes: make(map[search.QueryType]int64),
		Latency:    make(map[LatencyBucket]int64),
		Sources:    make(map[string]SourceCount),
	}
}

func (d DailyCounts) empty() bool {
	return len(d.QueryTypes) == 0 && len(d.Latency) == 0 && len(d.Sources) == 0
}

func (d DailyCounts) merge(other DailyCounts) {
	for k, v := range other.QueryTypes {
		d.QueryTypes[k] += v
	}
	for k, v := range other.Latency {
		d.Latency[k] += v
	}
	for k, v := range other.Sources {
		sc := d.Sources[k]
		sc.Queries += v.Queries
		sc.Degraded += v.Degraded
		d.Sources[k] = sc
	}
}

// MetricsStore persists daily metric counts.
type MetricsStore interface {
	// Save adds counts to the totals stored for date (YYYY-MM-DD).
	Save(ctx context.Context, date string, counts DailyCounts) error

	// Close releases resources.
	Close() error
}

// SQLiteMetricsStore implements MetricsStore using SQLite.
type SQLiteMetricsStore struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

var _ MetricsStore = (*SQLiteMetricsStore)(nil)

// NewSQLiteMetricsStore opens or creates a metrics database at path
// ("" for in-memory).
func NewSQLiteMetricsStore(path string) (*SQLiteMetricsStore, error) {
	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := initTelemetrySchema(db); err != nil {
		_ = db.Close()
		return nil, agenterrors.New(agenterrors.ErrCodeStorageOpen, "failed to initialize metrics schema", err)
	}
	return &SQLiteMetricsStore{db: db}, nil
}

func initTelemetrySchema(db *sql.DB) error {
	schema := `
	-- Query type frequency (aggregated daily)
	CREATE TABLE IF NOT EXISTS query_type_stats (
		date TEXT NOT NULL,
		query_type TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, query_type)
	);

	-- Latency histogram (buckets: <10ms, 10-50ms, 50-100ms, 100-500ms, >500ms)
	CREATE TABLE IF NOT EXISTS query_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);

	-- Per-source usage and degradation
	CREATE TABLE IF NOT EXISTS source_stats (
		date TEXT NOT NULL,
		source TEXT NOT NULL,
		queries INTEGER NOT NULL DEFAULT 0,
		degraded INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, source)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// Save upserts counts for date, adding to existing totals.
func (s *SQLiteMetricsStore) Save(ctx context.Context, date string, counts DailyCounts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("metrics store is closed")
	}

	return store.WithRetry(ctx, "save metrics", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for qt, n := range counts.QueryTypes {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO query_type_stats (date, query_type, count)
				VALUES (?, ?, ?)
				ON CONFLICT(date, query_type) DO UPDATE SET count = count + excluded.count`,
				date, string(qt), n); err != nil {
				return fmt.Errorf("insert query type count: %w", err)
			}
		}
		for bucket, n := range counts.Latency {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO query_latency_stats (date, bucket, count)
				VALUES (?, ?, ?)
				ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count`,
				date, string(bucket), n); err != nil {
				return fmt.Errorf("insert latency count: %w", err)
			}
		}
		for source, sc := range counts.Sources {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO source_stats (date, source, queries, degraded)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(date, source) DO UPDATE SET
					queries = queries + excluded.queries,
					degraded = degraded + excluded.degraded`,
				date, source, sc.Queries, sc.Degraded); err != nil {
				return fmt.Errorf("insert source count: %w", err)
			}
		}
		return tx.Commit()
	})
}

// Load returns the summed counts for dates in [from, to].
func (s *SQLiteMetricsStore) Load(ctx context.Context, from, to string) (DailyCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := newDailyCounts()
	if s.closed {
		return out, fmt.Errorf("metrics store is closed")
	}

	if err := s.sumRows(ctx, `
		SELECT query_type, SUM(count) FROM query_type_stats
		WHERE date >= ? AND date <= ? GROUP BY query_type`, from, to,
		func(key string, n int64) { out.QueryTypes[search.QueryType(key)] = n }); err != nil {
		return out, fmt.Errorf("query type counts: %w", err)
	}
	if err := s.sumRows(ctx, `
		SELECT bucket, SUM(count) FROM query_latency_stats
		WHERE date >= ? AND date <= ? GROUP BY bucket`, from, to,
		func(key string, n int64) { out.Latency[LatencyBucket(key)] = n }); err != nil {
		return out, fmt.Errorf("latency counts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, SUM(queries), SUM(degraded) FROM source_stats
		WHERE date >= ? AND date <= ? GROUP BY source`, from, to)
	if err != nil {
		return out, fmt.Errorf("source counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			source string
			sc     SourceCount
		)
		if err := rows.Scan(&source, &sc.Queries, &sc.Degraded); err != nil {
			return out, fmt.Errorf("scan row: %w", err)
		}
		out.Sources[source] = sc
	}
	return out, rows.Err()
}

func (s *SQLiteMetricsStore) sumRows(ctx context.Context, query, from, to string, put func(string, int64)) error {
	rows, err := s.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		put(key, n)
	}
	return rows.Err()
}

// Close closes the database.
func (s *SQLiteMetricsStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
