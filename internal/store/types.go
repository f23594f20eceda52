// Package store provides story persistence (SQLite), BM25 keyword indexes
// (Bleve or SQLite FTS5), and vector storage (HNSW).
// This is the persistence layer for all indexed data.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// State keys for the story store (dimension mismatch handling).
const (
	// StateKeyIndexDimension stores the embedding dimension used for the index
	StateKeyIndexDimension = "index_embedding_dimension"
	// StateKeyIndexModel stores the embedding model name used for the index
	StateKeyIndexModel = "index_embedding_model"
	// StateKeyIndexedAt stores when the index was last rebuilt
	StateKeyIndexedAt = "index_updated_at"
)

// ErrNotFound indicates a story ID that is not in the store.
var ErrNotFound = errors.New("not found")

// Story is a product-backlog user story, the retrievable unit of this system.
type Story struct {
	ID        string            // Stable story identifier (e.g. "STORY-1042")
	Title     string            // One-line summary
	Content   string            // Narrative plus acceptance criteria
	Project   string            // Owning project or board
	Priority  string            // e.g. "high", "medium", "low"
	Risk      string            // Delivery risk annotation
	Labels    []string          // Free-form tags
	Metadata  map[string]string // Extra fields carried through to results
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SearchText returns the text that gets indexed and embedded for a story.
// Title is included so short queries match stories whose body never repeats
// the summary wording.
func (s *Story) SearchText() string {
	if s.Title == "" {
		return s.Content
	}
	return s.Title + "\n" + s.Content
}

// StoryStore persists stories in SQLite.
type StoryStore interface {
	// Put inserts or updates stories. CreatedAt is preserved on update.
	Put(ctx context.Context, stories []*Story) error

	// Get returns one story. Wraps ErrNotFound for unknown IDs.
	Get(ctx context.Context, id string) (*Story, error)

	// GetBatch returns stories in the order of ids, skipping unknown IDs.
	GetBatch(ctx context.Context, ids []string) ([]*Story, error)

	// Delete removes stories by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// AllIDs returns every story ID (for consistency checks).
	AllIDs(ctx context.Context) ([]string, error)

	// Count returns the number of stored stories.
	Count(ctx context.Context) (int, error)

	// State operations (key-value store for index metadata)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
}

// StoreConfig configures the SQLite story store.
type StoreConfig struct {
	// CacheSizeMB is the SQLite page cache size in megabytes (default: 64)
	CacheSizeMB int
}

// DefaultStoreConfig returns default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{CacheSizeMB: 64}
}

// Document represents a document to be indexed in BM25.
type Document struct {
	ID      string // Story ID
	Content string // Text content
}

// BM25Result represents a single BM25 search result.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats provides statistics about the BM25 index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Index provides keyword search using BM25 algorithm.
type BM25Index interface {
	// Index adds documents to the index
	Index(ctx context.Context, docs []*Document) error

	// Search returns documents matching query, scored by BM25
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)

	// Delete removes documents from index
	Delete(ctx context.Context, docIDs []string) error

	// AllIDs returns all document IDs in the index (for consistency checks)
	AllIDs() ([]string, error)

	// Stats returns index statistics
	Stats() *IndexStats

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// BM25Config configures the BM25 index.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.2)
	K1 float64

	// B is the length normalization parameter (default: 0.75)
	B float64

	// StopWords is a list of words to filter out during tokenization
	StopWords []string

	// MinTokenLength is minimum token length to index (default: 2)
	MinTokenLength int

	// CacheSizeMB is the page cache size for the SQLite backend (default: 64).
	// Ignored by the Bleve backend.
	CacheSizeMB int
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultStoryStopWords,
		MinTokenLength: 2,
		CacheSizeMB:    64,
	}
}

// DefaultStoryStopWords contains user-story template words to filter out.
// Every backlog item repeats the "As a ... I want ... so that ..." frame and
// Gherkin markers, so these terms carry no ranking signal.
var DefaultStoryStopWords = []string{
	"a", "an", "the", "and", "or", "to", "of", "in", "on", "for", "with",
	"is", "are", "be", "it", "this", "that", "as", "i", "my", "we",
	"want", "so", "can", "able", "should",
	"given", "when", "then",
	"story", "user",
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string  // Story ID
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension (768 for nomic-embed-text, 256 for static)
	Dimensions int

	// Metric is the distance metric: "cos" (cosine), "l2" (euclidean) (default: "cos")
	Metric string

	// M is HNSW max connections per layer (default: 16)
	M int

	// EfSearch is HNSW query-time search width (default: 64)
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// VectorStore provides semantic search using HNSW algorithm.
type VectorStore interface {
	// Add inserts vectors with their IDs. If an ID exists, it is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds k nearest neighbors to query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	// AllIDs returns all vector IDs in the store (for consistency checks)
	AllIDs() []string

	// Contains checks if ID exists.
	Contains(id string) bool

	// Count returns number of vectors.
	Count() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'storysearch index --force')", e.Expected, e.Got)
}

// NormalizeLabels lowercases, trims, and de-duplicates story labels,
// preserving first-seen order.
func NormalizeLabels(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
