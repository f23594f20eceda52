// Package hybrid implements the fusion pipeline that turns BM25 and vector
// retrieval results into a single ranked list.
// Stages: normalize → merge → dedup → rerank → truncate.
package hybrid

import (
	"errors"
	"fmt"
	"math"
)

// Source identifies which retrieval method produced a result.
type Source string

const (
	SourceBM25   Source = "bm25"
	SourceVector Source = "vector"
	SourceBoth   Source = "both"
)

// Candidate is a single scored hit from one retrieval method.
type Candidate struct {
	ID       string            // Document identifier
	Content  string            // Document text (used for dedup and rerank)
	Score    float64           // Raw method score (BM25 weight or cosine similarity)
	Metadata map[string]string // Optional document metadata
}

// Result is a merged candidate carrying normalized and final scores.
type Result struct {
	ID          string
	Content     string
	Source      Source  // Which method(s) contributed
	BM25Score   float64 // Min-max normalized BM25 score (0 when absent)
	VectorScore float64 // Min-max normalized vector score (0 when absent)
	FinalScore  float64 // Weighted sum of the normalized scores
	Metadata    map[string]string
}

// Params tunes a single pipeline run.
type Params struct {
	BM25Ratio      float64 // Lexical weight in [0,1]; the vector weight is 1-ratio
	Limit          int     // Maximum results returned (> 0)
	DedupThreshold float64 // Content similarity threshold in (0,1]; 1.0 = exact match only
	RerankTopK     int     // Head size submitted to the reranker; 0 disables reranking
}

// DefaultParams returns the standard pipeline parameters.
func DefaultParams() Params {
	return Params{
		BM25Ratio:      0.5,
		Limit:          10,
		DedupThreshold: 1.0,
		RerankTopK:     10,
	}
}

// Validation errors. All are fatal: the pipeline rejects the run before any
// stage executes.
var (
	ErrInvalidRatio     = errors.New("bm25 ratio must be within [0, 1]")
	ErrInvalidLimit     = errors.New("limit must be positive")
	ErrInvalidThreshold = errors.New("dedup threshold must be within (0, 1]")
	ErrInvalidTopK      = errors.New("rerank top-k must not be negative")
)

// ErrRerankUnavailable marks a reranker that cannot serve requests. It is
// soft: the pipeline passes results through unreranked and tags the outcome
// RerankDegraded.
var ErrRerankUnavailable = errors.New("reranker unavailable")

// Validate checks all parameter ranges.
func (p Params) Validate() error {
	if math.IsNaN(p.BM25Ratio) || p.BM25Ratio < 0 || p.BM25Ratio > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidRatio, p.BM25Ratio)
	}
	if p.Limit <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidLimit, p.Limit)
	}
	if math.IsNaN(p.DedupThreshold) || p.DedupThreshold <= 0 || p.DedupThreshold > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, p.DedupThreshold)
	}
	if p.RerankTopK < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidTopK, p.RerankTopK)
	}
	return nil
}
