package logging

import "regexp"

// Story text and queries can carry user data (emails, account numbers).
// Log lines must never reproduce them verbatim.
var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	digitPattern = regexp.MustCompile(`\d{6,}`)
)

const maxLoggedQueryLen = 120

// RedactQuery masks emails and long digit runs in a query before logging,
// and truncates the result to a bounded length.
func RedactQuery(query string) string {
	redacted := emailPattern.ReplaceAllString(query, "[email]")
	redacted = digitPattern.ReplaceAllString(redacted, "[number]")

	if len(redacted) > maxLoggedQueryLen {
		redacted = redacted[:maxLoggedQueryLen] + "..."
	}
	return redacted
}
