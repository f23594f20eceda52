package errors

import stderrors "errors"

// SearchError is the error type used throughout storysearch. The code
// selects category, severity, and retryability (see codes.go); the
// remaining fields are optional context layered on top.
type SearchError struct {
	Code     string
	Message  string
	Category Category
	Severity Severity

	// Details holds extra key-value context for logs and API payloads.
	Details map[string]string

	// Cause is the wrapped underlying error, if any.
	Cause error

	// Retryable reports whether repeating the operation may succeed.
	Retryable bool

	// Suggestion tells the user what to do about the error.
	Suggestion string
}

func (e *SearchError) Error() string {
	return "[" + e.Code + "] " + e.Message
}

// Unwrap exposes the cause to the errors.Is/As machinery.
func (e *SearchError) Unwrap() error { return e.Cause }

// Is matches SearchErrors by code, so errors.Is works regardless of
// message or details.
func (e *SearchError) Is(target error) bool {
	t, ok := target.(*SearchError)
	return ok && e.Code == t.Code
}

// WithDetail attaches a key-value pair and returns the error for chaining.
func (e *SearchError) WithDetail(key, value string) *SearchError {
	if e.Details == nil {
		e.Details = map[string]string{}
	}
	e.Details[key] = value
	return e
}

// WithSuggestion attaches an actionable hint and returns the error for
// chaining.
func (e *SearchError) WithSuggestion(s string) *SearchError {
	e.Suggestion = s
	return e
}

// New builds a SearchError. Category, severity, and the retryable flag
// all derive from the code.
func New(code, msg string, cause error) *SearchError {
	return &SearchError{
		Code:      code,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Retryable: isRetryableCode(code),
		Message:   msg,
		Cause:     cause,
	}
}

// Wrap lifts an existing error into a SearchError, reusing its message.
// A nil err wraps to nil.
func Wrap(code string, err error) *SearchError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Constructors for the common cases. Each pins the default code of its
// category; use New directly when a more specific code applies.

func ConfigError(msg string, cause error) *SearchError {
	return New(ErrCodeConfigInvalid, msg, cause)
}

func StorageError(msg string, cause error) *SearchError {
	return New(ErrCodeStoreIO, msg, cause)
}

// NetworkError is retryable by code.
func NetworkError(msg string, cause error) *SearchError {
	return New(ErrCodeNetworkTimeout, msg, cause)
}

func ValidationError(msg string, cause error) *SearchError {
	return New(ErrCodeInvalidParam, msg, cause)
}

func EmbeddingError(msg string, cause error) *SearchError {
	return New(ErrCodeEmbeddingAPI, msg, cause)
}

// RerankError degrades the search rather than failing it.
func RerankError(msg string, cause error) *SearchError {
	return New(ErrCodeRerankUnavailable, msg, cause)
}

func InternalError(msg string, cause error) *SearchError {
	return New(ErrCodeInternal, msg, cause)
}

// asSearch finds the first SearchError in err's wrap chain.
func asSearch(err error) (*SearchError, bool) {
	var se *SearchError
	ok := stderrors.As(err, &se)
	return se, ok
}

// IsRetryable reports whether err carries a retryable SearchError
// anywhere in its chain. Plain errors are not retryable.
func IsRetryable(err error) bool {
	se, ok := asSearch(err)
	return ok && se.Retryable
}

// IsFatal reports whether err carries a fatal SearchError. Fatal errors
// abort the current operation.
func IsFatal(err error) bool {
	se, ok := asSearch(err)
	return ok && se.Severity == SeverityFatal
}

// GetCode returns the code of the first SearchError in the chain, or ""
// for plain errors.
func GetCode(err error) string {
	if se, ok := asSearch(err); ok {
		return se.Code
	}
	return ""
}

// GetCategory returns the category of the first SearchError in the
// chain, or "" for plain errors.
func GetCategory(err error) Category {
	if se, ok := asSearch(err); ok {
		return se.Category
	}
	return ""
}
