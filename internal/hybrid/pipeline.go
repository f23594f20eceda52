package hybrid

import (
	"context"
	"log/slog"
	"time"
)

// Input carries the two scored candidate sets for one request.
type Input struct {
	Query  string
	BM25   []Candidate
	Vector []Candidate
}

// Timings records per-stage wall time for one run.
type Timings struct {
	Normalize time.Duration
	Merge     time.Duration
	Dedup     time.Duration
	Rerank    time.Duration
	Total     time.Duration
}

// Output is the pipeline response.
type Output struct {
	Results    []*Result
	TotalCount int           // Result count after dedup, before truncation
	Removed    int           // Duplicates removed by dedup
	Dropped    int           // Malformed candidates dropped before normalization
	Rerank     RerankOutcome // How the rerank stage concluded
	RerankErr  error         // Cause when Rerank is RerankDegraded
	Timings    Timings
}

// Pipeline runs the full fusion flow:
// validate → normalize → merge → dedup → rerank → truncate.
//
// A Pipeline holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	merger   *Merger
	reranker Reranker
	logger   *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithReranker sets the reranker invoked on the result head.
func WithReranker(r Reranker) Option {
	return func(p *Pipeline) { p.reranker = r }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a Pipeline. Without WithReranker the rerank stage is
// always skipped.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		merger: NewMerger(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes all stages for one request.
//
// The context is checked at every stage boundary; cancellation aborts the
// run with the context's error. Empty inputs produce an empty output
// without error. A failing reranker never fails the run — see
// RerankDegraded.
func (p *Pipeline) Run(ctx context.Context, in Input, params Params) (*Output, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	out := &Output{Rerank: RerankSkipped}

	stage := time.Now()
	bm25, droppedBM25 := FilterMalformed(in.BM25)
	vector, droppedVec := FilterMalformed(in.Vector)
	out.Dropped = droppedBM25 + droppedVec
	if out.Dropped > 0 {
		p.logger.Warn("dropped malformed candidates",
			slog.Int("bm25", droppedBM25),
			slog.Int("vector", droppedVec))
	}
	bm25 = NormalizeScores(bm25)
	vector = NormalizeScores(vector)
	out.Timings.Normalize = time.Since(stage)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stage = time.Now()
	results := p.merger.Merge(bm25, vector, params.BM25Ratio)
	out.Timings.Merge = time.Since(stage)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stage = time.Now()
	deduper := NewDeduplicator(params.DedupThreshold)
	results, out.Removed = deduper.Dedup(results)
	out.TotalCount = len(results)
	out.Timings.Dedup = time.Since(stage)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stage = time.Now()
	results, out.Rerank, out.RerankErr = rerankHead(ctx, p.reranker, in.Query, results, params.RerankTopK)
	out.Timings.Rerank = time.Since(stage)

	// A dead parent context aborts the run even when the rerank stage
	// swallowed the cancellation as a degradation.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if out.Rerank == RerankDegraded {
		p.logger.Warn("rerank degraded, keeping merged order",
			slog.String("error", out.RerankErr.Error()))
	}

	// Truncate last so TotalCount reflects the full post-dedup set.
	if len(results) > params.Limit {
		results = results[:params.Limit]
	}
	out.Results = results
	out.Timings.Total = time.Since(start)

	return out, nil
}
