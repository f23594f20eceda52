package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
)

// Bleve registry names for the story text analysis chain.
const (
	StoryTokenizerName  = "story_tokenizer"
	StoryStopFilterName = "story_stop"
	StoryAnalyzerName   = "story_analyzer"
)

var errBM25Closed = errors.New("bm25 index is closed")

func init() {
	_ = registry.RegisterTokenizer(StoryTokenizerName, newBleveStoryTokenizer)
	_ = registry.RegisterTokenFilter(StoryStopFilterName, newBleveStoryStopFilter)
}

// BleveBM25Index is the Bleve-backed BM25 index over story text.
type BleveBM25Index struct {
	mu        sync.RWMutex
	index     bleve.Index
	path      string
	config    BM25Config
	closed    bool
	stopWords map[string]struct{}
}

// bleveStoryFields is what gets handed to Bleve per story.
type bleveStoryFields struct {
	Content string `json:"content"`
}

// NewBleveBM25Index opens the index at path, creating it when absent. A
// corrupted index (typically from a killed indexing run) is cleared and
// recreated so the process can start; the caller sees an empty index and
// the next reindex repopulates it. An empty path builds an in-memory index.
func NewBleveBM25Index(path string, config BM25Config) (*BleveBM25Index, error) {
	m, err := storyIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		idx, err = openBleve(path, m)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &BleveBM25Index{
		index:     idx,
		path:      path,
		config:    config,
		stopWords: BuildStopWordMap(config.StopWords),
	}, nil
}

// openBleve opens a disk index, clearing and recreating it when either the
// pre-open integrity check or bleve.Open itself reports corruption.
func openBleve(path string, m *mapping.IndexMappingImpl) (bleve.Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	if checkErr := checkBleveMeta(path); checkErr != nil {
		slog.Warn("bm25_index_corrupted",
			slog.String("path", path),
			slog.String("error", checkErr.Error()))
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("BM25 index corrupted at %s and cannot remove: %w (original error: %v)", path, err, checkErr)
		}
		slog.Info("bm25_index_cleared",
			slog.String("path", path),
			slog.String("reason", "corruption detected, reindex required"))
	}

	idx, err := bleve.Open(path)
	switch {
	case err == nil:
		return idx, nil
	case err == bleve.ErrorIndexPathDoesNotExist:
		return bleve.New(path, m)
	case bleveCorruption(err):
		slog.Warn("bm25_index_open_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return nil, fmt.Errorf("BM25 index corrupted, cannot clear: %w (original: %v)", rmErr, err)
		}
		slog.Info("bm25_index_cleared",
			slog.String("path", path),
			slog.String("reason", "open failed with corruption, reindex required"))
		return bleve.New(path, m)
	default:
		return nil, err
	}
}

// checkBleveMeta inspects the index directory before opening it. A half
// written index (missing, empty or unparseable index_meta.json) would
// otherwise make every start fail.
func checkBleveMeta(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // nothing there yet, bleve.New will build it
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// bleveCorruption reports whether an open error means the index on disk is
// damaged rather than, say, locked or permission-denied.
func bleveCorruption(err error) bool {
	if err == nil {
		return false
	}
	if err == bleve.ErrorIndexMetaCorrupt {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{
		"unexpected end of JSON",
		"error parsing mapping JSON",
		"failed to load segment",
		"error opening bolt",
		"no such file or directory",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// storyIndexMapping wires the story analyzer (tokenizer, lowercase, stop
// filter) as the index default.
func storyIndexMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()
	err := m.AddCustomAnalyzer(StoryAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": StoryTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			StoryStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	m.DefaultAnalyzer = StoryAnalyzerName
	return m, nil
}

// Index upserts documents in one Bleve batch.
func (b *BleveBM25Index) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errBM25Closed
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, bleveStoryFields{Content: doc.Content}); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search runs a match query through the story analyzer and returns BM25
// scored hits with their matched terms.
func (b *BleveBM25Index) Search(ctx context.Context, queryStr string, limit int) ([]*BM25Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, errBM25Closed
	}
	if strings.TrimSpace(queryStr) == "" {
		return []*BM25Result{}, nil
	}

	match := bleve.NewMatchQuery(queryStr)
	match.SetField("content")

	req := bleve.NewSearchRequest(match)
	req.Size = limit
	req.IncludeLocations = true // term locations feed MatchedTerms

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*BM25Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, &BM25Result{
			DocID:        hit.ID,
			Score:        hit.Score,
			MatchedTerms: hitTerms(hit),
		})
	}
	return results, nil
}

// Delete removes documents in one batch. Unknown IDs are no-ops.
func (b *BleveBM25Index) Delete(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errBM25Closed
	}

	batch := b.index.NewBatch()
	for _, id := range docIDs {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// AllIDs lists every indexed document ID, for consistency checks.
func (b *BleveBM25Index) AllIDs() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, errBM25Closed
	}

	count, _ := b.index.DocCount()
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(count)
	req.Fields = []string{} // IDs only

	res, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search for all IDs: %w", err)
	}

	ids := make([]string, len(res.Hits))
	for i, hit := range res.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Stats reports the document count. Bleve does not expose term count or
// average document length, so those stay zero for this backend.
func (b *BleveBM25Index) Stats() *IndexStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return &IndexStats{}
	}
	count, _ := b.index.DocCount()
	return &IndexStats{DocumentCount: int(count)}
}

// Save is a no-op: a disk-backed Bleve index persists as it goes.
func (b *BleveBM25Index) Save(path string) error {
	return nil
}

// Load swaps in the index at path, closing the current one first.
func (b *BleveBM25Index) Load(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.index != nil && !b.closed {
		_ = b.index.Close()
	}

	idx, err := bleve.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	b.index = idx
	b.path = path
	b.closed = false
	return nil
}

// Close closes the underlying Bleve index.
func (b *BleveBM25Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

// hitTerms collects the distinct query terms that matched in the content
// field of a hit.
func hitTerms(hit *search.DocumentMatch) []string {
	seen := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field != "content" {
			continue
		}
		for term := range locations {
			seen[term] = struct{}{}
		}
	}

	terms := make([]string, 0, len(seen))
	for term := range seen {
		terms = append(terms, term)
	}
	return terms
}

var _ BM25Index = (*BleveBM25Index)(nil)

// bleveStoryTokenizer adapts TokenizeText to the Bleve analysis chain.
type bleveStoryTokenizer struct{}

func newBleveStoryTokenizer(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveStoryTokenizer{}, nil
}

// Tokenize emits the story tokens with byte offsets located by scanning the
// lowercased input left to right. TokenizeText already lowercases tokens,
// so the scan matches case-insensitively.
func (t *bleveStoryTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lower := strings.ToLower(text)
	tokens := TokenizeText(text)

	stream := make(analysis.TokenStream, 0, len(tokens))
	cursor := 0
	for i, tok := range tokens {
		start := strings.Index(lower[cursor:], tok)
		if start < 0 {
			start = cursor
		} else {
			start += cursor
		}
		end := start + len(tok)

		stream = append(stream, &analysis.Token{
			Term:     []byte(tok),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
		if end <= len(text) {
			cursor = end
		}
	}
	return stream
}

// bleveStoryStopFilter drops user-story template words from the stream.
type bleveStoryStopFilter struct {
	stopWords map[string]struct{}
}

func newBleveStoryStopFilter(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveStoryStopFilter{stopWords: BuildStopWordMap(DefaultStoryStopWords)}, nil
}

func (f *bleveStoryStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	kept := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, stop := f.stopWords[strings.ToLower(string(token.Term))]; !stop {
			kept = append(kept, token)
		}
	}
	return kept
}
