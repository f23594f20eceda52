package hybrid

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Rerank Stage Tests
// =============================================================================
// Head-only reranking with tail splice, soft failure on judge errors, and
// identity-set preservation.
// =============================================================================

// scriptedReranker returns canned scores or a canned error.
type scriptedReranker struct {
	scores      []RerankResult
	err         error
	unavailable bool
	calls       int
	gotDocs     []string
}

var _ Reranker = (*scriptedReranker)(nil)

func (s *scriptedReranker) Rerank(_ context.Context, _ string, documents []string) ([]RerankResult, error) {
	s.calls++
	s.gotDocs = documents
	if s.err != nil {
		return nil, s.err
	}
	return s.scores, nil
}

func (s *scriptedReranker) Available(context.Context) bool { return !s.unavailable }

func (s *scriptedReranker) Close() error { return nil }

func fourResults() []*Result {
	return []*Result{
		makeResult("a", "doc a", 0.9, SourceBoth),
		makeResult("b", "doc b", 0.7, SourceBM25),
		makeResult("c", "doc c", 0.5, SourceVector),
		makeResult("d", "doc d", 0.3, SourceBM25),
	}
}

// --- Successful Rerank ---

func TestRerankHead_AppliesJudgeOrder(t *testing.T) {
	// Given: a judge that inverts the top-3 head
	judge := &scriptedReranker{scores: []RerankResult{
		{Index: 0, Score: 0.1},
		{Index: 1, Score: 0.5},
		{Index: 2, Score: 0.9},
	}}
	results := fourResults()

	// When: reranking with top-k 3
	out, outcome, err := rerankHead(context.Background(), judge, "q", results, 3)

	// Then: head reversed, tail untouched behind it
	require.NoError(t, err)
	assert.Equal(t, RerankOK, outcome)
	assert.Equal(t, []string{"c", "b", "a", "d"}, idsOf(out))
	assert.Equal(t, 1, judge.calls)
	assert.Equal(t, []string{"doc a", "doc b", "doc c"}, judge.gotDocs)
}

func TestRerankHead_HeadScoresReplaced(t *testing.T) {
	judge := &scriptedReranker{scores: []RerankResult{
		{Index: 0, Score: 0.2},
		{Index: 1, Score: 0.8},
	}}
	results := fourResults()

	out, outcome, err := rerankHead(context.Background(), judge, "q", results, 2)

	require.NoError(t, err)
	require.Equal(t, RerankOK, outcome)
	// Head carries judge scores, tail keeps merged scores.
	assert.Equal(t, 0.8, out[0].FinalScore)
	assert.Equal(t, 0.2, out[1].FinalScore)
	assert.Equal(t, 0.5, out[2].FinalScore)
	assert.Equal(t, 0.3, out[3].FinalScore)
}

func TestRerankHead_IdentitySetPreserved(t *testing.T) {
	judge := &scriptedReranker{scores: []RerankResult{
		{Index: 0, Score: 0.3},
		{Index: 1, Score: 0.9},
		{Index: 2, Score: 0.6},
	}}
	results := fourResults()
	before := map[string]bool{}
	for _, r := range results {
		before[r.ID] = true
	}

	out, _, err := rerankHead(context.Background(), judge, "q", results, 3)

	require.NoError(t, err)
	require.Len(t, out, len(before))
	for _, r := range out {
		assert.True(t, before[r.ID], "unexpected id %s", r.ID)
	}
}

func TestRerankHead_TopKLargerThanResults(t *testing.T) {
	judge := &scriptedReranker{scores: []RerankResult{
		{Index: 0, Score: 0.1},
		{Index: 1, Score: 0.2},
		{Index: 2, Score: 0.3},
		{Index: 3, Score: 0.4},
	}}
	results := fourResults()

	out, outcome, err := rerankHead(context.Background(), judge, "q", results, 50)

	require.NoError(t, err)
	assert.Equal(t, RerankOK, outcome)
	assert.Equal(t, []string{"d", "c", "b", "a"}, idsOf(out))
	assert.Len(t, judge.gotDocs, 4)
}

// --- Sparse and Malformed Judge Output ---

func TestRerankHead_MissingIndexesSink(t *testing.T) {
	// Given: the judge scored only one of three head documents
	judge := &scriptedReranker{scores: []RerankResult{
		{Index: 2, Score: 0.9},
	}}
	results := fourResults()

	out, outcome, err := rerankHead(context.Background(), judge, "q", results, 3)

	// Then: the scored document leads; unscored keep relative order at 0
	require.NoError(t, err)
	assert.Equal(t, RerankOK, outcome)
	assert.Equal(t, []string{"c", "a", "b", "d"}, idsOf(out))
}

func TestRerankHead_OutOfRangeIndexesIgnored(t *testing.T) {
	judge := &scriptedReranker{scores: []RerankResult{
		{Index: -1, Score: 0.9},
		{Index: 99, Score: 0.9},
		{Index: 1, Score: 0.9},
	}}
	results := fourResults()

	out, outcome, err := rerankHead(context.Background(), judge, "q", results, 3)

	require.NoError(t, err)
	assert.Equal(t, RerankOK, outcome)
	assert.Equal(t, "b", out[0].ID)
}

func TestRerankHead_NoUsableScores_Degraded(t *testing.T) {
	judge := &scriptedReranker{scores: []RerankResult{
		{Index: 42, Score: 0.9},
	}}
	results := fourResults()

	out, outcome, err := rerankHead(context.Background(), judge, "q", results, 3)

	assert.Equal(t, RerankDegraded, outcome)
	assert.Error(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, idsOf(out))
}

// --- Degradation ---

func TestRerankHead_JudgeError_Degraded(t *testing.T) {
	// Given: a judge that fails outright
	judgeErr := errors.New("connection refused")
	judge := &scriptedReranker{err: judgeErr}
	results := fourResults()

	out, outcome, err := rerankHead(context.Background(), judge, "q", results, 3)

	// Then: original order passes through, cause reported
	assert.Equal(t, RerankDegraded, outcome)
	assert.ErrorIs(t, err, judgeErr)
	assert.Equal(t, []string{"a", "b", "c", "d"}, idsOf(out))
}

func TestRerankHead_Unavailable_Degraded(t *testing.T) {
	judge := &scriptedReranker{unavailable: true}
	results := fourResults()

	out, outcome, err := rerankHead(context.Background(), judge, "q", results, 3)

	assert.Equal(t, RerankDegraded, outcome)
	assert.ErrorIs(t, err, ErrRerankUnavailable)
	assert.Equal(t, []string{"a", "b", "c", "d"}, idsOf(out))
	assert.Zero(t, judge.calls, "unavailable judge must not be called")
}

// --- Skip Conditions ---

func TestRerankHead_Skips(t *testing.T) {
	tests := []struct {
		name    string
		judge   Reranker
		results []*Result
		topK    int
	}{
		{"nil reranker", nil, fourResults(), 3},
		{"zero top-k", &scriptedReranker{}, fourResults(), 0},
		{"empty results", &scriptedReranker{}, []*Result{}, 3},
		{"single result head", &scriptedReranker{}, fourResults()[:1], 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, outcome, err := rerankHead(context.Background(), tt.judge, "q", tt.results, tt.topK)

			require.NoError(t, err)
			assert.Equal(t, RerankSkipped, outcome)
			assert.Equal(t, idsOf(tt.results), idsOf(out))
		})
	}
}

// --- NoopReranker ---

func TestNoopReranker_PreservesOrder(t *testing.T) {
	noop := &NoopReranker{}

	scores, err := noop.Rerank(context.Background(), "q", []string{"x", "y", "z"})

	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.Greater(t, scores[0].Score, scores[1].Score)
	assert.Greater(t, scores[1].Score, scores[2].Score)
	assert.True(t, noop.Available(context.Background()))
	assert.NoError(t, noop.Close())
}

func TestRerankHead_WithNoop_KeepsOrder(t *testing.T) {
	results := fourResults()

	out, outcome, err := rerankHead(context.Background(), &NoopReranker{}, "q", results, 4)

	require.NoError(t, err)
	assert.Equal(t, RerankOK, outcome)
	assert.Equal(t, []string{"a", "b", "c", "d"}, idsOf(out))
}
