// Package validation checks search request parameters before they reach
// the engine. Every failure is a coded validation error so the HTTP layer
// can map it to a 4xx response without inspecting message text.
package validation

import (
	"fmt"
	"strings"

	apperrors "github.com/backlogic/storysearch/internal/errors"
)

// MaxQueryLength bounds query text. Longer inputs are almost always a
// pasted document rather than a query, and they blow the embedding
// token budget.
const MaxQueryLength = 2000

// ValidateLimit resolves a requested result count against the engine
// defaults. Zero means unset and resolves to def; negative values and
// values above max are rejected.
func ValidateLimit(limit, def, max int) (int, error) {
	if limit == 0 {
		return def, nil
	}
	if limit < 0 {
		return 0, apperrors.New(apperrors.ErrCodeInvalidLimit, "limit must be > 0", nil)
	}
	if limit > max {
		return 0, apperrors.New(apperrors.ErrCodeInvalidLimit, fmt.Sprintf("limit must be <= %d", max), nil)
	}
	return limit, nil
}

// ValidateRatio rejects BM25/vector blends outside [0, 1].
func ValidateRatio(ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return apperrors.ValidationError(
			fmt.Sprintf("bm25_ratio must be between 0 and 1, got %g", ratio), nil)
	}
	return nil
}

// ValidateQuery rejects empty and oversized query text. Whitespace-only
// queries count as empty.
func ValidateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return apperrors.New(apperrors.ErrCodeQueryEmpty, "query must not be empty", nil)
	}
	if len(query) > MaxQueryLength {
		return apperrors.New(apperrors.ErrCodeQueryTooLong,
			fmt.Sprintf("query exceeds %d characters", MaxQueryLength), nil)
	}
	return nil
}
