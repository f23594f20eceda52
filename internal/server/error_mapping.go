package server

import (
	"net/http"

	apperrors "github.com/backlogic/storysearch/internal/errors"
)

// statusForError maps structured error codes to HTTP statuses.
// Validation failures use 422 Unprocessable Entity; dependency outages
// map to 503 so callers know to retry.
func statusForError(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeStoryNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case apperrors.ErrCodeIndexLocked, apperrors.ErrCodeCorruptIndex:
		return http.StatusServiceUnavailable
	}

	switch apperrors.GetCategory(err) {
	case apperrors.CategoryValidation:
		return http.StatusUnprocessableEntity
	case apperrors.CategoryNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
