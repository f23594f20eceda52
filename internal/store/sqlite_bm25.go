package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure Go driver, no CGO
)

// sqliteBM25Schema is schema version 1. fts_stories holds pre-tokenized
// story text (identifiers split, template words removed) so FTS5 matches
// the same terms the Bleve backend does. doc_ids mirrors the indexed IDs
// because FTS5 virtual tables have no reliable way to enumerate them.
const sqliteBM25Schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE VIRTUAL TABLE IF NOT EXISTS fts_stories USING fts5(
	doc_id UNINDEXED,
	content,
	tokenize='unicode61'
);

CREATE TABLE IF NOT EXISTS doc_ids (
	doc_id TEXT PRIMARY KEY
);

INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`

// SQLiteBM25Index is the FTS5-backed BM25 index. WAL mode lets a serve
// process and an indexing run share the database file.
type SQLiteBM25Index struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	config    BM25Config
	closed    bool
	stopWords map[string]struct{}
}

var _ BM25Index = (*SQLiteBM25Index)(nil)

// NewSQLiteBM25Index opens the FTS5 index at path, creating it when absent.
// Like the Bleve backend, a corrupted database is cleared and recreated so
// startup never wedges on a half-written index. An empty path opens an
// in-memory database.
func NewSQLiteBM25Index(path string, config BM25Config) (*SQLiteBM25Index, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
		}
		if healthErr := checkSQLiteHealth(path); healthErr != nil {
			if err := clearSQLiteIndex(path, healthErr); err != nil {
				return nil, err
			}
		}
	}

	cacheMB := config.CacheSizeMB
	if cacheMB <= 0 {
		cacheMB = DefaultBM25Config().CacheSizeMB
	}

	db, err := openSQLiteDB(path, cacheMB)
	if err != nil {
		return nil, err
	}

	idx := &SQLiteBM25Index{
		db:        db,
		path:      path,
		config:    config,
		stopWords: BuildStopWordMap(config.StopWords),
	}
	if err := idx.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return idx, nil
}

// openSQLiteDB opens the database and applies the connection settings both
// NewSQLiteBM25Index and Load need. modernc.org/sqlite ignores journal
// parameters in the DSN, so everything goes through PRAGMA statements. The
// pool is pinned to one connection: SQLite allows a single writer anyway,
// and for ":memory:" each new connection would see a different database.
func openSQLiteDB(path string, cacheMB int) (*sql.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cacheMB*1024), // negative means KB
		"PRAGMA temp_store = MEMORY",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	return db, nil
}

// checkSQLiteHealth inspects the database before it is opened for real.
// Returns nil when the file is absent (it will be created) or passes both
// the integrity check and the schema probe.
func checkSQLiteHealth(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var verdict string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&verdict); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if verdict != "ok" {
		return fmt.Errorf("database corrupted: %s", verdict)
	}

	var tables int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
	                   WHERE type='table' AND name='fts_stories'`).Scan(&tables)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if tables == 0 {
		return fmt.Errorf("FTS5 table 'fts_stories' missing")
	}
	return nil
}

// clearSQLiteIndex removes a corrupted database plus its WAL sidecars so a
// fresh one can be created in its place.
func clearSQLiteIndex(path string, cause error) error {
	slog.Warn("sqlite_bm25_index_corrupted",
		slog.String("path", path),
		slog.String("error", cause.Error()))

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("BM25 index corrupted at %s and cannot remove: %w (original error: %v)", path, err, cause)
	}
	_ = os.Remove(path + "-wal")
	_ = os.Remove(path + "-shm")

	slog.Info("sqlite_bm25_index_cleared",
		slog.String("path", path),
		slog.String("reason", "corruption detected, reindex required"))
	return nil
}

func (s *SQLiteBM25Index) ensureSchema() error {
	_, err := s.db.Exec(sqliteBM25Schema)
	return err
}

// prepText runs story text through the same tokenize/stop-word chain the
// Bleve analyzer uses, then joins the tokens for FTS5 storage.
func (s *SQLiteBM25Index) prepText(text string) string {
	return strings.Join(FilterStopWords(TokenizeText(text), s.stopWords), " ")
}

// Index upserts documents in one transaction. FTS5 virtual tables have no
// REPLACE, so an upsert is a delete followed by an insert.
func (s *SQLiteBM25Index) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errBM25Closed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	del, err := tx.PrepareContext(ctx, `DELETE FROM fts_stories WHERE doc_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	defer del.Close()

	put, err := tx.PrepareContext(ctx, `INSERT INTO fts_stories(doc_id, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare FTS statement: %w", err)
	}
	defer put.Close()

	track, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO doc_ids(doc_id) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare ID statement: %w", err)
	}
	defer track.Close()

	for _, doc := range docs {
		if _, err := del.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to delete existing document %s: %w", doc.ID, err)
		}
		if _, err := put.ExecContext(ctx, doc.ID, s.prepText(doc.Content)); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
		if _, err := track.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to track document ID %s: %w", doc.ID, err)
		}
	}
	return tx.Commit()
}

// Search scores matching stories with FTS5's bm25() function. The query is
// tokenized with the indexing chain and terms are ORed so partial overlap
// still ranks, matching the Bleve match query.
func (s *SQLiteBM25Index) Search(ctx context.Context, queryStr string, limit int) ([]*BM25Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errBM25Closed
	}
	if strings.TrimSpace(queryStr) == "" {
		return []*BM25Result{}, nil
	}

	tokens := FilterStopWords(TokenizeText(queryStr), s.stopWords)
	if len(tokens) == 0 {
		return []*BM25Result{}, nil
	}

	// bm25() returns negative values, more negative = better, so ORDER BY
	// ascending puts the best hit first and the score is negated below.
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, bm25(fts_stories) AS score
		FROM fts_stories
		WHERE content MATCH ?
		ORDER BY score
		LIMIT ?`, ftsMatchExpr(tokens), limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*BM25Result{}, nil // unparseable match expr means no hits
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var results []*BM25Result
	for rows.Next() {
		var docID string
		var score float64
		if err := rows.Scan(&docID, &score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, &BM25Result{
			DocID:        docID,
			Score:        -score,
			MatchedTerms: tokens,
		})
	}
	return results, rows.Err()
}

// ftsMatchExpr quotes each token and joins with OR. Quoting keeps tokens
// containing digits or underscores from being parsed as FTS5 syntax.
func ftsMatchExpr(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = `"` + tok + `"`
	}
	return strings.Join(quoted, " OR ")
}

// Delete removes documents from both tables in one transaction. Unknown IDs
// are no-ops.
func (s *SQLiteBM25Index) Delete(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errBM25Closed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	in := sqlPlaceholders(len(docIDs))
	args := make([]any, len(docIDs))
	for i, id := range docIDs {
		args[i] = id
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM fts_stories WHERE doc_id IN ("+in+")", args...); err != nil {
		return fmt.Errorf("failed to delete from FTS: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM doc_ids WHERE doc_id IN ("+in+")", args...); err != nil {
		return fmt.Errorf("failed to delete from doc_ids: %w", err)
	}
	return tx.Commit()
}

func sqlPlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// AllIDs lists every indexed document ID, sorted, for consistency checks.
func (s *SQLiteBM25Index) AllIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errBM25Closed
	}

	rows, err := s.db.Query(`SELECT doc_id FROM doc_ids ORDER BY doc_id`)
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

// Stats reports the document count. FTS5 does not expose term count or
// average document length cheaply, so those stay zero for this backend.
func (s *SQLiteBM25Index) Stats() *IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return &IndexStats{}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM doc_ids`).Scan(&count); err != nil {
		return &IndexStats{}
	}
	return &IndexStats{DocumentCount: count}
}

// Save forces a WAL checkpoint so everything is in the main database file.
func (s *SQLiteBM25Index) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errBM25Closed
	}
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Load swaps in the database at path, closing the current connection first.
func (s *SQLiteBM25Index) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil && !s.closed {
		_ = s.db.Close()
	}

	cacheMB := s.config.CacheSizeMB
	if cacheMB <= 0 {
		cacheMB = DefaultBM25Config().CacheSizeMB
	}
	db, err := openSQLiteDB(path, cacheMB)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}

	s.db = db
	s.path = path
	s.closed = false
	return nil
}

// Close checkpoints the WAL and closes the database. Idempotent.
func (s *SQLiteBM25Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
