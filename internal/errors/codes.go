// Package errors provides structured error handling for storysearch.
//
// Every failure surfaced by the engine carries an ERR_XXX_DESCRIPTION
// code. The hundreds digit names the subsystem: 1XX configuration, 2XX
// storage and indexes, 3XX external services, 4XX request validation,
// 5XX internal faults. Category, severity, and retryability all derive
// from the code, so callers pick a code and get consistent handling.
package errors

// Category classifies an error by the subsystem that produced it.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryStorage    Category = "STORAGE"
	CategoryNetwork    Category = "NETWORK"
	CategoryValidation Category = "VALIDATION"
	CategoryInternal   Category = "INTERNAL"
)

// Severity ranks how the caller should react to an error.
type Severity string

const (
	// SeverityFatal means the process cannot continue safely.
	SeverityFatal Severity = "FATAL"
	// SeverityError means the operation failed but the process is healthy.
	SeverityError Severity = "ERROR"
	// SeverityWarning means the operation degraded and may be retried.
	SeverityWarning Severity = "WARNING"
)

// Error codes, grouped by subsystem.
const (
	// Configuration (1XX)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage and indexes (2XX)
	ErrCodeStoryNotFound = "ERR_201_STORY_NOT_FOUND"
	ErrCodeStoreIO       = "ERR_202_STORE_IO"
	ErrCodeCorruptIndex  = "ERR_203_CORRUPT_INDEX"
	ErrCodeIndexLocked   = "ERR_204_INDEX_LOCKED"

	// External services (3XX)
	ErrCodeNetworkTimeout    = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeRerankUnavailable = "ERR_302_RERANK_UNAVAILABLE"
	ErrCodeEmbeddingAPI      = "ERR_303_EMBEDDING_API"
	ErrCodeRateLimited       = "ERR_304_RATE_LIMITED"

	// Request validation (4XX)
	ErrCodeInvalidParam = "ERR_401_INVALID_PARAM"
	ErrCodeInvalidLimit = "ERR_402_INVALID_LIMIT"
	ErrCodeQueryEmpty   = "ERR_403_QUERY_EMPTY"
	ErrCodeQueryTooLong = "ERR_404_QUERY_TOO_LONG"

	// Internal faults (5XX)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeIndexFailed     = "ERR_504_INDEX_FAILED"
)

// categoryByDigit maps the hundreds digit of a code to its category.
var categoryByDigit = map[byte]Category{
	'1': CategoryConfig,
	'2': CategoryStorage,
	'3': CategoryNetwork,
	'4': CategoryValidation,
	'5': CategoryInternal,
}

// fatalCodes are unrecoverable: the index must be rebuilt or unlocked
// before further writes.
var fatalCodes = map[string]bool{
	ErrCodeCorruptIndex: true,
	ErrCodeIndexLocked:  true,
}

// retryableCodes mark transient service failures worth another attempt.
var retryableCodes = map[string]bool{
	ErrCodeNetworkTimeout:    true,
	ErrCodeRateLimited:       true,
	ErrCodeEmbeddingAPI:      true,
	ErrCodeRerankUnavailable: true,
}

// categoryFromCode reads the subsystem out of a code's hundreds digit,
// e.g. "ERR_301_NETWORK_TIMEOUT" is network. Codes too short to carry
// one count as internal.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	if cat, ok := categoryByDigit[code[4]]; ok {
		return cat
	}
	return CategoryInternal
}

// severityFromCode derives severity: fatal codes abort, retryable codes
// degrade to warnings, everything else is a plain error.
func severityFromCode(code string) Severity {
	switch {
	case fatalCodes[code]:
		return SeverityFatal
	case retryableCodes[code]:
		return SeverityWarning
	default:
		return SeverityError
	}
}

func isRetryableCode(code string) bool {
	return retryableCodes[code]
}
