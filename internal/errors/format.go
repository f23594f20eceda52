package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// coerce returns the SearchError in err's chain, or wraps a foreign
// error as internal so every formatter has a code to print.
func coerce(err error) *SearchError {
	if se, ok := asSearch(err); ok {
		return se
	}
	return Wrap(ErrCodeInternal, err)
}

// FormatForCLI renders an error for terminal display: the message, an
// optional hint, and the code for bug reports.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	se := coerce(err)

	lines := []string{fmt.Sprintf("Error: %s", se.Message)}
	if se.Suggestion != "" {
		lines = append(lines, fmt.Sprintf("  Hint: %s", se.Suggestion))
	}
	lines = append(lines, fmt.Sprintf("  Code: %s", se.Code))
	return strings.Join(lines, "\n") + "\n"
}

// jsonError is the wire shape for API error responses.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON renders an error as a JSON object for API responses.
// A nil error marshals to JSON null.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}
	se := coerce(err)

	je := jsonError{
		Code:       se.Code,
		Message:    se.Message,
		Category:   string(se.Category),
		Severity:   string(se.Severity),
		Details:    se.Details,
		Suggestion: se.Suggestion,
		Retryable:  se.Retryable,
	}
	if se.Cause != nil {
		je.Cause = se.Cause.Error()
	}
	return json.Marshal(je)
}

// FormatForLog flattens an error into slog attributes. Plain errors log
// as a single "error" key; SearchErrors expand code, category, severity,
// and details (prefixed detail_) into separate keys.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}
	se, ok := asSearch(err)
	if !ok {
		return map[string]any{"error": err.Error()}
	}

	fields := map[string]any{
		"error_code": se.Code,
		"message":    se.Message,
		"category":   string(se.Category),
		"severity":   string(se.Severity),
		"retryable":  se.Retryable,
	}
	if se.Cause != nil {
		fields["cause"] = se.Cause.Error()
	}
	if se.Suggestion != "" {
		fields["suggestion"] = se.Suggestion
	}
	for k, v := range se.Details {
		fields["detail_"+k] = v
	}
	return fields
}
