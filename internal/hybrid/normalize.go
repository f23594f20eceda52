package hybrid

import "math"

// FilterMalformed drops candidates that cannot be scored: empty IDs and
// non-finite scores. Returns the surviving candidates and the dropped count.
// The input slice is not modified.
func FilterMalformed(cands []Candidate) ([]Candidate, int) {
	valid := make([]Candidate, 0, len(cands))
	dropped := 0
	for _, c := range cands {
		if c.ID == "" || math.IsNaN(c.Score) || math.IsInf(c.Score, 0) {
			dropped++
			continue
		}
		valid = append(valid, c)
	}
	return valid, dropped
}

// NormalizeScores rescales one method's scores to [0,1] using min-max
// normalization: (score - min) / (max - min).
//
// When every score is equal (max == min), all candidates normalize to 1.0 —
// a single strong hit must not be zeroed out. An empty input returns an
// empty slice. Each retrieval method is normalized independently; BM25 and
// vector scores never share a window.
func NormalizeScores(cands []Candidate) []Candidate {
	if len(cands) == 0 {
		return []Candidate{}
	}

	minScore, maxScore := cands[0].Score, cands[0].Score
	for _, c := range cands[1:] {
		if c.Score < minScore {
			minScore = c.Score
		}
		if c.Score > maxScore {
			maxScore = c.Score
		}
	}

	out := make([]Candidate, len(cands))
	copy(out, cands)

	span := maxScore - minScore
	if span == 0 {
		for i := range out {
			out[i].Score = 1.0
		}
		return out
	}

	for i := range out {
		out[i].Score = (out[i].Score - minScore) / span
	}
	return out
}
