package telemetry

import (
	"database/sql"
	"fmt"
	"time"
)

// zeroResultRowCap bounds the zero_result_queries table (FIFO).
const zeroResultRowCap = 100

// telemetrySchema defines the aggregate tables. They live in the story
// database so one file carries both content and usage stats.
const telemetrySchema = `
-- Per-mode query frequency (aggregated daily)
CREATE TABLE IF NOT EXISTS query_mode_stats (
	date TEXT NOT NULL,
	mode TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, mode)
);

-- Top query terms (with frequency count)
CREATE TABLE IF NOT EXISTS query_terms (
	term TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 1,
	last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

-- Zero-result queries (ring, newest kept)
CREATE TABLE IF NOT EXISTS zero_result_queries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT NOT NULL,
	timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Latency histogram (buckets: <10ms, 10-50ms, 50-100ms, 100-500ms, >500ms)
CREATE TABLE IF NOT EXISTS query_latency_stats (
	date TEXT NOT NULL,
	bucket TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, bucket)
);
`

// InitTelemetrySchema creates the telemetry tables if they don't exist.
// Idempotent.
func InitTelemetrySchema(db *sql.DB) error {
	if _, err := db.Exec(telemetrySchema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// SQLiteMetricsStore implements QueryMetricsStore on top of SQLite. It
// piggybacks on the story store's handle rather than opening a second
// database file.
type SQLiteMetricsStore struct {
	db *sql.DB
}

// NewSQLiteMetricsStore wraps db as a metrics store, creating the
// telemetry tables when they are missing.
func NewSQLiteMetricsStore(db *sql.DB) (*SQLiteMetricsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := InitTelemetrySchema(db); err != nil {
		return nil, err
	}
	return &SQLiteMetricsStore{db: db}, nil
}

// execBatch runs bind against a prepared statement inside one transaction.
func (s *SQLiteMetricsStore) execBatch(stmtSQL string, bind func(*sql.Stmt) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(stmtSQL)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	if err := bind(stmt); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// sumByKey runs a (key, SUM(count)) aggregate over a date range.
func (s *SQLiteMetricsStore) sumByKey(query, from, to string) (map[string]int64, error) {
	rows, err := s.db.Query(query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		totals[key] = count
	}
	return totals, rows.Err()
}

// SaveModeCounts adds counts into the daily per-mode totals.
func (s *SQLiteMetricsStore) SaveModeCounts(date string, counts map[QueryMode]int64) error {
	if len(counts) == 0 {
		return nil
	}
	return s.execBatch(`
		INSERT INTO query_mode_stats (date, mode, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, mode) DO UPDATE SET count = count + excluded.count
	`, func(stmt *sql.Stmt) error {
		for mode, count := range counts {
			if _, err := stmt.Exec(date, string(mode), count); err != nil {
				return fmt.Errorf("insert mode count: %w", err)
			}
		}
		return nil
	})
}

// GetModeCounts sums per-mode counts over the date range [from, to].
func (s *SQLiteMetricsStore) GetModeCounts(from, to string) (map[QueryMode]int64, error) {
	totals, err := s.sumByKey(`
		SELECT mode, SUM(count)
		FROM query_mode_stats
		WHERE date >= ? AND date <= ?
		GROUP BY mode
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query mode counts: %w", err)
	}

	counts := make(map[QueryMode]int64, len(totals))
	for mode, count := range totals {
		counts[QueryMode(mode)] = count
	}
	return counts, nil
}

// UpsertTermCounts adds counts into the term frequency table.
func (s *SQLiteMetricsStore) UpsertTermCounts(terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}
	return s.execBatch(`
		INSERT INTO query_terms (term, count, last_seen)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(term) DO UPDATE SET
			count = count + excluded.count,
			last_seen = CURRENT_TIMESTAMP
	`, func(stmt *sql.Stmt) error {
		for term, count := range terms {
			if _, err := stmt.Exec(term, count); err != nil {
				return fmt.Errorf("upsert term count: %w", err)
			}
		}
		return nil
	})
}

// GetTopTerms retrieves the top N terms by frequency. Ties break
// alphabetically so the report is stable.
func (s *SQLiteMetricsStore) GetTopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`
		SELECT term, count
		FROM query_terms
		ORDER BY count DESC, term ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// AddZeroResultQuery appends a query to the zero-result ring, trimming
// the table to its row cap (oldest deleted).
func (s *SQLiteMetricsStore) AddZeroResultQuery(query string, timestamp time.Time) error {
	if _, err := s.db.Exec(`
		INSERT INTO zero_result_queries (query, timestamp)
		VALUES (?, ?)
	`, query, timestamp); err != nil {
		return fmt.Errorf("insert zero-result query: %w", err)
	}

	if _, err := s.db.Exec(`
		DELETE FROM zero_result_queries
		WHERE id NOT IN (
			SELECT id FROM zero_result_queries
			ORDER BY id DESC
			LIMIT ?
		)
	`, zeroResultRowCap); err != nil {
		return fmt.Errorf("trim zero-result queries: %w", err)
	}
	return nil
}

// GetZeroResultQueries retrieves recent zero-result queries, newest first.
func (s *SQLiteMetricsStore) GetZeroResultQueries(limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT query
		FROM zero_result_queries
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// SaveLatencyCounts adds counts into the daily latency histogram.
func (s *SQLiteMetricsStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	if len(counts) == 0 {
		return nil
	}
	return s.execBatch(`
		INSERT INTO query_latency_stats (date, bucket, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count
	`, func(stmt *sql.Stmt) error {
		for bucket, count := range counts {
			if _, err := stmt.Exec(date, string(bucket), count); err != nil {
				return fmt.Errorf("insert latency count: %w", err)
			}
		}
		return nil
	})
}

// GetLatencyCounts sums the latency histogram over the date range [from, to].
func (s *SQLiteMetricsStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	totals, err := s.sumByKey(`
		SELECT bucket, SUM(count)
		FROM query_latency_stats
		WHERE date >= ? AND date <= ?
		GROUP BY bucket
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}

	counts := make(map[LatencyBucket]int64, len(totals))
	for bucket, count := range totals {
		counts[LatencyBucket(bucket)] = count
	}
	return counts, nil
}

// Close releases resources. The handle is not closed; it is shared
// with the story store.
func (s *SQLiteMetricsStore) Close() error {
	return nil
}
