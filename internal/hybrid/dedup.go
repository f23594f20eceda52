package hybrid

import (
	"crypto/sha256"
	"strings"
	"unicode"
)

// Deduplicator removes duplicate results by document ID and by content.
// ID matching always applies. Content matching compares token-set Jaccard
// similarity against Threshold; a threshold of 1.0 matches on content hash
// equality only.
type Deduplicator struct {
	Threshold float64
}

// NewDeduplicator creates a Deduplicator with the given content similarity
// threshold.
func NewDeduplicator(threshold float64) *Deduplicator {
	return &Deduplicator{Threshold: threshold}
}

// Dedup filters duplicates from a score-descending result list.
//
// The first occurrence of each duplicate group survives — on sorted input
// that is the member with the highest final score. The survivor's source
// widens to SourceBoth when the group spans retrieval methods. Relative
// order of survivors is preserved. Returns the survivors and the number of
// results removed.
func (d *Deduplicator) Dedup(results []*Result) ([]*Result, int) {
	if len(results) <= 1 {
		return results, 0
	}

	exact := d.Threshold >= 1.0

	kept := make([]*Result, 0, len(results))
	byID := make(map[string]*Result, len(results))
	byHash := make(map[[sha256.Size]byte]*Result, len(results))
	var keptTokens []map[string]struct{} // parallel to kept, similarity mode only

	removed := 0
	for _, r := range results {
		// ID matching is mandatory regardless of threshold.
		if survivor, ok := byID[r.ID]; ok {
			absorb(survivor, r)
			removed++
			continue
		}

		var survivor *Result
		var toks map[string]struct{}
		if exact {
			h := sha256.Sum256([]byte(r.Content))
			if s, ok := byHash[h]; ok {
				survivor = s
			} else {
				byHash[h] = r
			}
		} else {
			toks = tokenSet(r.Content)
			for i, k := range kept {
				if jaccard(toks, keptTokens[i]) >= d.Threshold {
					survivor = k
					break
				}
			}
		}

		if survivor != nil {
			absorb(survivor, r)
			removed++
			continue
		}

		byID[r.ID] = r
		kept = append(kept, r)
		if !exact {
			keptTokens = append(keptTokens, toks)
		}
	}

	return kept, removed
}

// absorb folds a removed duplicate into its survivor. The survivor keeps its
// score and position; the source widens when the duplicate came from a
// different method, and missing metadata keys are filled in.
func absorb(survivor, dup *Result) {
	if survivor.Source != dup.Source {
		survivor.Source = SourceBoth
	}
	fillMetadata(survivor, dup.Metadata)
}

// tokenSet lowercases content and splits it on non-alphanumeric runes.
func tokenSet(content string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, tok := range fields {
		set[tok] = struct{}{}
	}
	return set
}

// jaccard computes |a∩b| / |a∪b|. Two empty sets count as identical.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}

	inter := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			inter++
		}
	}

	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
