package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteStore is the SQLite-backed story store.
// It is the source of truth the search indexes are derived from: results
// carry content and metadata fetched from here, not from the indexes.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Verify interface implementation at compile time
var _ StoryStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a story store at dbPath with default configuration.
// If dbPath is empty, creates an in-memory store for testing.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(dbPath, DefaultStoreConfig())
}

// NewSQLiteStoreWithConfig creates a story store with explicit configuration.
func NewSQLiteStoreWithConfig(dbPath string, config StoreConfig) (*SQLiteStore, error) {
	var dsn string
	if dbPath == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		dsn = dbPath + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	cacheMB := config.CacheSizeMB
	if cacheMB <= 0 {
		cacheMB = DefaultStoreConfig().CacheSizeMB
	}

	// WAL mode must be set via PRAGMA for modernc.org/sqlite
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cacheMB*1024), // negative = KB
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{
		db:   db,
		path: dbPath,
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the stories and state tables.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Schema version tracking
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- Story records. labels and metadata are JSON, timestamps RFC3339.
	CREATE TABLE IF NOT EXISTS stories (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL DEFAULT '',
		content    TEXT NOT NULL,
		project    TEXT NOT NULL DEFAULT '',
		priority   TEXT NOT NULL DEFAULT '',
		risk       TEXT NOT NULL DEFAULT '',
		labels     TEXT NOT NULL DEFAULT '[]',
		metadata   TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stories_project ON stories(project);

	-- Key-value state (index model, dimensions, last index time)
	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Put inserts or updates stories.
// On update the original created_at is preserved; updated_at is refreshed.
func (s *SQLiteStore) Put(ctx context.Context, stories []*Story) error {
	if len(stories) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stories (id, title, content, project, priority, risk, labels, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title      = excluded.title,
			content    = excluded.content,
			project    = excluded.project,
			priority   = excluded.priority,
			risk       = excluded.risk,
			labels     = excluded.labels,
			metadata   = excluded.metadata,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, story := range stories {
		if story.ID == "" {
			return fmt.Errorf("story with empty ID")
		}

		labels, err := json.Marshal(NormalizeLabels(story.Labels))
		if err != nil {
			return fmt.Errorf("failed to marshal labels for %s: %w", story.ID, err)
		}
		metadata := []byte("{}")
		if len(story.Metadata) > 0 {
			metadata, err = json.Marshal(story.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata for %s: %w", story.ID, err)
			}
		}

		createdAt := story.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		updatedAt := story.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = now
		}

		_, err = stmt.ExecContext(ctx,
			story.ID, story.Title, story.Content, story.Project,
			story.Priority, story.Risk, string(labels), string(metadata),
			createdAt.Format(time.RFC3339Nano), updatedAt.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to upsert story %s: %w", story.ID, err)
		}
	}

	return tx.Commit()
}

// Get returns one story by ID. Wraps ErrNotFound for unknown IDs.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, project, priority, risk, labels, metadata, created_at, updated_at
		FROM stories WHERE id = ?
	`, id)

	story, err := scanStory(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("story %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get story %s: %w", id, err)
	}

	return story, nil
}

// GetBatch returns stories in the order of ids. Unknown IDs are skipped.
func (s *SQLiteStore) GetBatch(ctx context.Context, ids []string) ([]*Story, error) {
	if len(ids) == 0 {
		return []*Story{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT id, title, content, project, priority, risk, labels, metadata, created_at, updated_at
		FROM stories WHERE id IN (%s)
	`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stories: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Story, len(ids))
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan story: %w", err)
		}
		byID[story.ID] = story
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve request order
	result := make([]*Story, 0, len(byID))
	for _, id := range ids {
		if story, ok := byID[id]; ok {
			result = append(result, story)
		}
	}

	return result, nil
}

// Delete removes stories by ID. Unknown IDs are ignored.
func (s *SQLiteStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf("DELETE FROM stories WHERE id IN (%s)", strings.Join(placeholders, ","))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete stories: %w", err)
	}

	return nil
}

// AllIDs returns every story ID, sorted.
// Used for consistency checking against the search indexes.
func (s *SQLiteStore) AllIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM stories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ID: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Count returns the number of stored stories.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stories`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count stories: %w", err)
	}

	return count, nil
}

// GetState returns the stored value for key, or "" when unset.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", fmt.Errorf("store is closed")
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state %s: %w", key, err)
	}

	return value, nil
}

// SetState stores a key-value pair, replacing any existing value.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO state (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}

	return nil
}

// DB exposes the underlying handle so auxiliary schemas, such as the
// telemetry tables, can share the database file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the store.
// Forces a WAL checkpoint before closing.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil // Idempotent
	}

	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanStory reads one story row.
func scanStory(row rowScanner) (*Story, error) {
	var (
		story              Story
		labelsJSON         string
		metadataJSON       string
		createdAt, updated string
	)

	err := row.Scan(&story.ID, &story.Title, &story.Content, &story.Project,
		&story.Priority, &story.Risk, &labelsJSON, &metadataJSON, &createdAt, &updated)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(labelsJSON), &story.Labels); err != nil {
		return nil, fmt.Errorf("invalid labels JSON for %s: %w", story.ID, err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &story.Metadata); err != nil {
		return nil, fmt.Errorf("invalid metadata JSON for %s: %w", story.ID, err)
	}

	story.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at for %s: %w", story.ID, err)
	}
	story.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return nil, fmt.Errorf("invalid updated_at for %s: %w", story.ID, err)
	}

	return &story, nil
}
