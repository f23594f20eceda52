package hybrid

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Pipeline Tests
// =============================================================================
// Full flow: validate → normalize → merge → dedup → rerank → truncate,
// with stage timings, soft rerank failure, and context cancellation.
// =============================================================================

func quietPipeline(opts ...Option) *Pipeline {
	opts = append(opts, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return NewPipeline(opts...)
}

// --- Worked Scenario ---

func TestPipeline_WorkedScenario(t *testing.T) {
	// Given: raw BM25 hits {1:10, 2:5} and vector hits {2:0.9, 3:0.1}
	in := Input{
		Query:  "user login",
		BM25:   createCandidates([]string{"1", "2"}, []float64{10.0, 5.0}),
		Vector: createCandidates([]string{"2", "3"}, []float64{0.9, 0.1}),
	}
	params := Params{BM25Ratio: 0.5, Limit: 10, DedupThreshold: 1.0}

	// When: running the pipeline
	out, err := quietPipeline().Run(context.Background(), in, params)

	// Then: normalization gives 1=1.0/2=0.0 and 2=1.0/3=0.0, the weighted
	// merge gives 1=0.5, 2=0.5, 3=0.0, and the 1/2 tie breaks by first
	// appearance in the BM25 list.
	require.NoError(t, err)
	require.Len(t, out.Results, 3)
	assert.Equal(t, []string{"1", "2", "3"}, idsOf(out.Results))
	assert.InDelta(t, 0.5, out.Results[0].FinalScore, 1e-9)
	assert.InDelta(t, 0.5, out.Results[1].FinalScore, 1e-9)
	assert.InDelta(t, 0.0, out.Results[2].FinalScore, 1e-9)
	assert.Equal(t, SourceBM25, out.Results[0].Source)
	assert.Equal(t, SourceBoth, out.Results[1].Source)
	assert.Equal(t, SourceVector, out.Results[2].Source)
	assert.Equal(t, 3, out.TotalCount)
}

func TestPipeline_RatioExtremes(t *testing.T) {
	bm25 := createCandidates([]string{"a", "b", "c"}, []float64{9.0, 6.0, 3.0})
	vector := createCandidates([]string{"c", "b", "a"}, []float64{0.9, 0.6, 0.3})
	p := quietPipeline()

	t.Run("ratio 1.0 reproduces the BM25 ordering", func(t *testing.T) {
		out, err := p.Run(context.Background(), Input{BM25: bm25, Vector: vector},
			Params{BM25Ratio: 1.0, Limit: 10, DedupThreshold: 1.0})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, idsOf(out.Results))
	})

	t.Run("ratio 0.0 reproduces the vector ordering", func(t *testing.T) {
		out, err := p.Run(context.Background(), Input{BM25: bm25, Vector: vector},
			Params{BM25Ratio: 0.0, Limit: 10, DedupThreshold: 1.0})
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "b", "a"}, idsOf(out.Results))
	})
}

// --- Validation ---

func TestPipeline_InvalidParams(t *testing.T) {
	in := Input{BM25: createCandidates([]string{"a"}, []float64{1.0})}
	p := quietPipeline()

	tests := []struct {
		name    string
		params  Params
		wantErr error
	}{
		{"ratio above one", Params{BM25Ratio: 1.5, Limit: 10, DedupThreshold: 1.0}, ErrInvalidRatio},
		{"ratio below zero", Params{BM25Ratio: -0.1, Limit: 10, DedupThreshold: 1.0}, ErrInvalidRatio},
		{"ratio NaN", Params{BM25Ratio: math.NaN(), Limit: 10, DedupThreshold: 1.0}, ErrInvalidRatio},
		{"zero limit", Params{BM25Ratio: 0.5, Limit: 0, DedupThreshold: 1.0}, ErrInvalidLimit},
		{"negative limit", Params{BM25Ratio: 0.5, Limit: -3, DedupThreshold: 1.0}, ErrInvalidLimit},
		{"zero threshold", Params{BM25Ratio: 0.5, Limit: 10, DedupThreshold: 0.0}, ErrInvalidThreshold},
		{"threshold above one", Params{BM25Ratio: 0.5, Limit: 10, DedupThreshold: 1.1}, ErrInvalidThreshold},
		{"negative top-k", Params{BM25Ratio: 0.5, Limit: 10, DedupThreshold: 1.0, RerankTopK: -1}, ErrInvalidTopK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := p.Run(context.Background(), in, tt.params)

			assert.Nil(t, out)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPipeline_DefaultParamsValid(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())
}

// --- Empty and Malformed Input ---

func TestPipeline_EmptyInputs(t *testing.T) {
	out, err := quietPipeline().Run(context.Background(), Input{}, DefaultParams())

	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.Zero(t, out.TotalCount)
	assert.Zero(t, out.Removed)
	assert.Zero(t, out.Dropped)
}

func TestPipeline_MalformedCandidatesDropped(t *testing.T) {
	in := Input{
		BM25: []Candidate{
			{ID: "good", Content: "story good", Score: 2.0},
			{ID: "", Content: "no id", Score: 1.0},
		},
		Vector: []Candidate{
			{ID: "bad", Content: "story bad", Score: math.NaN()},
			{ID: "fine", Content: "story fine", Score: 0.7},
		},
	}

	out, err := quietPipeline().Run(context.Background(), in, DefaultParams())

	require.NoError(t, err)
	assert.Equal(t, 2, out.Dropped)
	assert.Equal(t, []string{"good", "fine"}, idsOf(out.Results))
}

// --- Dedup Integration ---

func TestPipeline_DedupReportsRemoved(t *testing.T) {
	// Given: two IDs sharing identical content
	in := Input{
		BM25:   []Candidate{{ID: "a", Content: "same story", Score: 10.0}},
		Vector: []Candidate{{ID: "b", Content: "same story", Score: 0.9}},
	}

	out, err := quietPipeline().Run(context.Background(), in, DefaultParams())

	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, 1, out.Removed)
	assert.Equal(t, 1, out.TotalCount)
	assert.Equal(t, SourceBoth, out.Results[0].Source)
}

// --- Truncation ---

func TestPipeline_TruncationAndTotalCount(t *testing.T) {
	ids := make([]string, 20)
	scores := make([]float64, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("doc-%d", i)
		scores[i] = float64(20 - i)
	}
	in := Input{BM25: createCandidates(ids, scores)}

	out, err := quietPipeline().Run(context.Background(), in,
		Params{BM25Ratio: 0.5, Limit: 3, DedupThreshold: 1.0})

	require.NoError(t, err)
	assert.Len(t, out.Results, 3)
	assert.Equal(t, 20, out.TotalCount, "total reflects the post-dedup set, not the page")
}

// --- Rerank Integration ---

func TestPipeline_RerankReordersHead(t *testing.T) {
	judge := &scriptedReranker{scores: []RerankResult{
		{Index: 0, Score: 0.1},
		{Index: 1, Score: 0.9},
	}}
	in := Input{BM25: createCandidates([]string{"a", "b", "c"}, []float64{3.0, 2.0, 1.0})}

	out, err := quietPipeline(WithReranker(judge)).Run(context.Background(), in,
		Params{BM25Ratio: 1.0, Limit: 10, DedupThreshold: 1.0, RerankTopK: 2})

	require.NoError(t, err)
	assert.Equal(t, RerankOK, out.Rerank)
	assert.Equal(t, []string{"b", "a", "c"}, idsOf(out.Results))
}

func TestPipeline_RerankFailureIsSoft(t *testing.T) {
	// Given: a judge that always errors
	judge := &scriptedReranker{err: fmt.Errorf("judge down")}
	in := Input{BM25: createCandidates([]string{"a", "b", "c"}, []float64{3.0, 2.0, 1.0})}

	// When: running with reranking enabled
	out, err := quietPipeline(WithReranker(judge)).Run(context.Background(), in,
		Params{BM25Ratio: 1.0, Limit: 10, DedupThreshold: 1.0, RerankTopK: 3})

	// Then: the run succeeds with the merged order and a degraded tag
	require.NoError(t, err)
	assert.Equal(t, RerankDegraded, out.Rerank)
	assert.Error(t, out.RerankErr)
	assert.Equal(t, []string{"a", "b", "c"}, idsOf(out.Results))
}

func TestPipeline_NoRerankerSkips(t *testing.T) {
	in := Input{BM25: createCandidates([]string{"a", "b"}, []float64{2.0, 1.0})}

	out, err := quietPipeline().Run(context.Background(), in, DefaultParams())

	require.NoError(t, err)
	assert.Equal(t, RerankSkipped, out.Rerank)
	assert.NoError(t, out.RerankErr)
}

// --- Cancellation and Timings ---

func TestPipeline_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in := Input{BM25: createCandidates([]string{"a"}, []float64{1.0})}

	out, err := quietPipeline().Run(ctx, in, DefaultParams())

	assert.Nil(t, out)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_CancellationDuringRerankAborts(t *testing.T) {
	// Given: a judge that cancels the request context mid-call
	ctx, cancel := context.WithCancel(context.Background())
	judge := &cancellingReranker{cancel: cancel}
	in := Input{BM25: createCandidates([]string{"a", "b", "c"}, []float64{3.0, 2.0, 1.0})}

	out, err := quietPipeline(WithReranker(judge)).Run(ctx, in,
		Params{BM25Ratio: 1.0, Limit: 10, DedupThreshold: 1.0, RerankTopK: 3})

	// Then: the dead parent context aborts the run instead of degrading
	assert.Nil(t, out)
	assert.ErrorIs(t, err, context.Canceled)
}

// cancellingReranker cancels its context and then fails.
type cancellingReranker struct {
	cancel context.CancelFunc
}

func (c *cancellingReranker) Rerank(ctx context.Context, _ string, _ []string) ([]RerankResult, error) {
	c.cancel()
	return nil, ctx.Err()
}

func (c *cancellingReranker) Available(context.Context) bool { return true }

func (c *cancellingReranker) Close() error { return nil }

func TestPipeline_TimingsPopulated(t *testing.T) {
	in := Input{
		BM25:   createCandidates([]string{"a", "b"}, []float64{2.0, 1.0}),
		Vector: createCandidates([]string{"b", "c"}, []float64{0.9, 0.2}),
	}

	out, err := quietPipeline().Run(context.Background(), in, DefaultParams())

	require.NoError(t, err)
	assert.Greater(t, out.Timings.Total, out.Timings.Normalize)
	stages := out.Timings.Normalize + out.Timings.Merge + out.Timings.Dedup + out.Timings.Rerank
	assert.LessOrEqual(t, stages, out.Timings.Total)
}

// --- Determinism ---

func TestPipeline_Deterministic(t *testing.T) {
	in := Input{
		BM25:   createCandidates([]string{"a", "b", "c", "d"}, []float64{4.0, 4.0, 2.0, 1.0}),
		Vector: createCandidates([]string{"d", "c", "e"}, []float64{0.8, 0.8, 0.1}),
	}
	p := quietPipeline()

	first, err := p.Run(context.Background(), in, DefaultParams())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := p.Run(context.Background(), in, DefaultParams())
		require.NoError(t, err)
		assert.Equal(t, idsOf(first.Results), idsOf(again.Results), "run %d diverged", i)
	}
}

// --- Benchmarks ---

func BenchmarkPipeline_Run(b *testing.B) {
	ids := make([]string, 100)
	bm25Scores := make([]float64, 100)
	vecScores := make([]float64, 100)
	for i := range ids {
		ids[i] = fmt.Sprintf("doc-%d", i)
		bm25Scores[i] = float64(100 - i)
		vecScores[i] = float64(i) / 100
	}
	in := Input{
		BM25:   createCandidates(ids, bm25Scores),
		Vector: createCandidates(ids, vecScores),
	}
	p := quietPipeline()
	params := DefaultParams()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Run(context.Background(), in, params); err != nil {
			b.Fatal(err)
		}
	}
}
