package hybrid

import (
	"context"
	"errors"
	"sort"
)

// RerankResult is a judge score for one submitted document.
type RerankResult struct {
	Index int     // Position in the submitted document list
	Score float64 // Judge relevance score, typically 0-1
}

// Reranker rescores documents against a query. Implementations usually call
// an external judge model; NoopReranker provides offline parity.
type Reranker interface {
	// Rerank scores the documents. The returned slice may be sparse or
	// unordered: indexes absent from it keep score 0.
	Rerank(ctx context.Context, query string, documents []string) ([]RerankResult, error)

	// Available reports whether the reranker can currently serve requests.
	Available(ctx context.Context) bool

	// Close releases any held resources.
	Close() error
}

// RerankOutcome tags how the rerank stage concluded.
type RerankOutcome string

const (
	RerankOK       RerankOutcome = "ok"       // Judge scores applied to the head
	RerankSkipped  RerankOutcome = "skipped"  // No reranker, top-k 0, or nothing to reorder
	RerankDegraded RerankOutcome = "degraded" // Judge unavailable or failed; order kept
)

var errNoJudgeScores = errors.New("judge returned no usable scores")

// rerankHead submits the top-k head to the reranker and splices the
// reordered head ahead of the untouched tail.
//
// The identity set never changes. Every failure mode — unavailable judge,
// transport error, malformed scores — passes the original order through and
// reports RerankDegraded with the cause. Judge scores replace FinalScore in
// the head; the tail keeps its merged scores.
func rerankHead(ctx context.Context, r Reranker, query string, results []*Result, topK int) ([]*Result, RerankOutcome, error) {
	if r == nil || topK <= 0 || len(results) == 0 {
		return results, RerankSkipped, nil
	}

	head := topK
	if head > len(results) {
		head = len(results)
	}
	if head < 2 {
		// A single document cannot be reordered; skip the judge call.
		return results, RerankSkipped, nil
	}

	if !r.Available(ctx) {
		return results, RerankDegraded, ErrRerankUnavailable
	}

	docs := make([]string, head)
	for i, res := range results[:head] {
		docs[i] = res.Content
	}

	scores, err := r.Rerank(ctx, query, docs)
	if err != nil {
		return results, RerankDegraded, err
	}

	judged := make(map[int]float64, len(scores))
	for _, s := range scores {
		if s.Index < 0 || s.Index >= head {
			continue // out-of-range index from the judge; ignore it
		}
		judged[s.Index] = s.Score
	}
	if len(judged) == 0 {
		return results, RerankDegraded, errNoJudgeScores
	}

	idx := make([]int, head)
	for i := range idx {
		idx[i] = i
	}
	// Stable: unjudged documents (score 0) keep their relative order.
	sort.SliceStable(idx, func(a, b int) bool {
		return judged[idx[a]] > judged[idx[b]]
	})

	reordered := make([]*Result, 0, len(results))
	for _, i := range idx {
		res := results[i]
		res.FinalScore = judged[i]
		reordered = append(reordered, res)
	}
	reordered = append(reordered, results[head:]...)

	return reordered, RerankOK, nil
}

// NoopReranker returns order-preserving scores without calling any external
// service. Used when reranking is disabled and in tests.
type NoopReranker struct{}

// Verify interface implementation at compile time
var _ Reranker = (*NoopReranker)(nil)

// Rerank returns descending scores that preserve the input order.
func (n *NoopReranker) Rerank(_ context.Context, _ string, documents []string) ([]RerankResult, error) {
	out := make([]RerankResult, len(documents))
	for i := range documents {
		out[i] = RerankResult{Index: i, Score: 1.0 - float64(i)*0.01}
	}
	return out, nil
}

// Available always reports true.
func (n *NoopReranker) Available(context.Context) bool { return true }

// Close is a no-op.
func (n *NoopReranker) Close() error { return nil }
