// Package search provides hybrid retrieval over product backlog stories,
// combining BM25 lexical search and vector similarity search. The two
// candidate sets are normalized, merged, deduplicated, and optionally
// reranked by an LLM judge before results are enriched from the story store.
package search

import (
	"context"
	"time"

	"github.com/backlogic/storysearch/internal/store"
)

// SearchEngine answers search queries over the indexed story corpus.
type SearchEngine interface {
	// HybridSearch executes the full BM25 + vector pipeline and returns
	// ranked, enriched results.
	HybridSearch(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error)

	// Search executes a vector-only query with the same validation and
	// enrichment as HybridSearch.
	Search(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error)

	// Stats returns engine statistics.
	Stats(ctx context.Context) (*EngineStats, error)

	// Close releases all resources.
	Close() error
}

// SearchOptions configures a search query.
type SearchOptions struct {
	// Limit is the maximum number of results to return.
	// Zero means the engine default; values above the configured
	// maximum are rejected.
	Limit int

	// BM25Ratio overrides the configured BM25/vector blend for this
	// request. Nil means use the engine default.
	BM25Ratio *float64
}

// SearchResult is a single ranked result joined with its story.
type SearchResult struct {
	// Story is the full record from the story store, with metadata
	// sanitized for transport.
	Story *store.Story

	// Source records which retrieval side produced the result:
	// "bm25", "vector", or "both".
	Source string

	// BM25Score is the normalized lexical score (0 when absent).
	BM25Score float64

	// VectorScore is the normalized similarity score (0 when absent).
	VectorScore float64

	// FinalScore is the score results are ordered by. It is the judge
	// score when reranking ran, otherwise the blended retrieval score.
	FinalScore float64
}

// Timings records per-stage durations for a single request.
type Timings struct {
	Normalize time.Duration
	Embed     time.Duration
	BM25      time.Duration
	Vector    time.Duration
	Merge     time.Duration
	Dedup     time.Duration
	Rerank    time.Duration
	Total     time.Duration
}

// ResponseParams echoes the effective parameters of a request so callers
// can see what the engine actually ran after defaulting and clamping.
type ResponseParams struct {
	Query       string
	Limit       int
	BM25Ratio   float64
	VectorRatio float64
	FetchBM25   int
	FetchVector int
	BM25Count   int
	VectorCount int
	RerankModel string
}

// SearchResponse is the full answer to a search request.
type SearchResponse struct {
	// Results are ordered by FinalScore descending, truncated to the
	// requested limit.
	Results []*SearchResult

	// TotalCount is the number of distinct matches before truncation.
	TotalCount int

	// Removed is the number of duplicates dropped during merge.
	Removed int

	// Degraded is true when reranking was attempted but failed, so
	// results carry retrieval-order scores instead of judge scores.
	Degraded bool

	// RequestID correlates this response with its stage logs.
	RequestID string

	Params  ResponseParams
	Timings Timings
}

// EngineStats summarizes the engine's index state.
type EngineStats struct {
	// StoryCount is the number of stories in the store.
	StoryCount int

	// VectorCount is the number of vectors in the vector store.
	VectorCount int

	// BM25Stats contains BM25 index statistics.
	BM25Stats *store.IndexStats
}

// EngineConfig configures the search engine.
type EngineConfig struct {
	// DefaultLimit is the result count used when a request passes zero.
	DefaultLimit int

	// MaxLimit is the largest limit a request may ask for.
	MaxLimit int

	// BM25Ratio is the default BM25/vector blend (0 = vector only,
	// 1 = BM25 only).
	BM25Ratio float64

	// FetchMultiplier over-fetches each retrieval side by this factor
	// so dedup and rerank have headroom.
	FetchMultiplier int

	// DedupThreshold is the cosine similarity above which two results
	// are considered duplicates. 1.0 disables near-duplicate collapse
	// (exact id matches are always collapsed).
	DedupThreshold float64

	// RerankTopK bounds how many head results are sent to the judge.
	RerankTopK int

	// RerankModel is echoed in response params when reranking is
	// available.
	RerankModel string
}

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultLimit:    10,
		MaxLimit:        100,
		BM25Ratio:       0.5,
		FetchMultiplier: 2,
		DedupThreshold:  1.0,
		RerankTopK:      10,
	}
}
