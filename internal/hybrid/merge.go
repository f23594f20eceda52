package hybrid

import (
	"maps"
	"sort"
)

// Merger combines two normalized candidate lists into one ranked list using
// a weighted sum: final = ratio*bm25 + (1-ratio)*vector.
//
// A candidate absent from one method contributes 0 for that method, so
// ratio=1.0 reproduces the pure BM25 ordering and ratio=0.0 the pure vector
// ordering.
type Merger struct{}

// NewMerger creates a Merger.
func NewMerger() *Merger {
	return &Merger{}
}

// merged tracks score accumulation and first appearance during the union.
type merged struct {
	result    *Result
	firstSeen int // position across bm25-then-vector input, for tie-breaking
}

// Merge unions the candidate lists by ID and sorts by final score descending.
//
// Ties are broken by first appearance: the BM25 list in order, then the
// vector list in order. Identical inputs always produce identical output.
// A repeated ID within a single list is ignored after its first occurrence.
func (m *Merger) Merge(bm25, vector []Candidate, ratio float64) []*Result {
	if len(bm25) == 0 && len(vector) == 0 {
		return []*Result{}
	}

	acc := make(map[string]*merged, len(bm25)+len(vector))
	seq := 0

	for _, c := range bm25 {
		e := m.getOrCreate(acc, c, &seq)
		if e.result.Source == SourceBM25 {
			continue // repeated ID within the BM25 list
		}
		e.result.Source = SourceBM25
		e.result.BM25Score = c.Score
		e.result.FinalScore += ratio * c.Score
	}

	for _, c := range vector {
		e := m.getOrCreate(acc, c, &seq)
		switch e.result.Source {
		case SourceVector, SourceBoth:
			continue // repeated ID within the vector list
		case SourceBM25:
			e.result.Source = SourceBoth
		default:
			e.result.Source = SourceVector
		}
		e.result.VectorScore = c.Score
		e.result.FinalScore += (1 - ratio) * c.Score
		if e.result.Content == "" {
			e.result.Content = c.Content
		}
		fillMetadata(e.result, c.Metadata)
	}

	return m.toSortedSlice(acc)
}

// getOrCreate returns the existing entry or creates a new one.
func (m *Merger) getOrCreate(acc map[string]*merged, c Candidate, seq *int) *merged {
	if e, ok := acc[c.ID]; ok {
		return e
	}
	e := &merged{
		result: &Result{
			ID:       c.ID,
			Content:  c.Content,
			Metadata: maps.Clone(c.Metadata),
		},
		firstSeen: *seq,
	}
	*seq++
	acc[c.ID] = e
	return e
}

// toSortedSlice converts the accumulator map to a deterministically sorted
// slice.
func (m *Merger) toSortedSlice(acc map[string]*merged) []*Result {
	entries := make([]*merged, 0, len(acc))
	for _, e := range acc {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return m.compare(entries[i], entries[j])
	})

	results := make([]*Result, len(entries))
	for i, e := range entries {
		results[i] = e.result
	}
	return results
}

// compare returns true if a should rank before b.
//
// Priority:
//  1. Higher final score
//  2. Earlier first appearance (BM25 list before vector list)
func (m *Merger) compare(a, b *merged) bool {
	if a.result.FinalScore != b.result.FinalScore {
		return a.result.FinalScore > b.result.FinalScore
	}
	return a.firstSeen < b.firstSeen
}

// fillMetadata copies keys from src that dst does not carry yet.
func fillMetadata(dst *Result, src map[string]string) {
	if len(src) == 0 {
		return
	}
	if dst.Metadata == nil {
		dst.Metadata = make(map[string]string, len(src))
	}
	for k, v := range src {
		if _, ok := dst.Metadata[k]; !ok {
			dst.Metadata[k] = v
		}
	}
}
