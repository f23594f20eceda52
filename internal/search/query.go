package search

import (
	"regexp"
	"strings"
)

// Compiled once at package init; NormalizeQuery runs on every request.
var (
	// Smart and straight double quotes confuse both the tokenizer and
	// the embedding model, so they become whitespace.
	quoteRunsPattern = regexp.MustCompile(`["\x{201C}\x{201D}]+`)

	// Stories paste "Acceptance Criteria" headers in several spellings.
	// Canonicalizing them lets queries hit the indexed wording.
	acceptanceApostrophePattern = regexp.MustCompile(`(?i)Acceptance\s+Criteria['\x{2019}]s?`)
	acceptanceColonPattern      = regexp.MustCompile(`(?i)Acceptance\s+Criteria:+`)

	whitespaceRunsPattern = regexp.MustCompile(`\s+`)
)

// acceptanceMetadataKeys are the spellings under which imported stories
// carry acceptance criteria text.
var acceptanceMetadataKeys = []string{
	"acceptanceCriteria",
	"acceptance_criteria",
	"acceptance criteria",
}

// NormalizeQuery flattens free-text queries into a single clean line.
// Tabs, bullets, and line breaks become spaces, quote runs are stripped,
// and acceptance-criteria phrasing is canonicalized.
func NormalizeQuery(text string) string {
	if text == "" {
		return ""
	}

	replacer := strings.NewReplacer(
		"\t", " ",
		"•", " ",
		"\n", " ",
		"\r", " ",
	)
	cleaned := replacer.Replace(text)

	cleaned = quoteRunsPattern.ReplaceAllString(cleaned, " ")
	cleaned = acceptanceApostrophePattern.ReplaceAllString(cleaned, "Acceptance Criteria")
	cleaned = acceptanceColonPattern.ReplaceAllString(cleaned, "Acceptance Criteria")
	cleaned = whitespaceRunsPattern.ReplaceAllString(cleaned, " ")

	return strings.TrimSpace(cleaned)
}

// SanitizeMetadata prepares story metadata for transport, in place.
// Embedding payloads never leave the service, and acceptance criteria
// fields get the same flattening as queries so both sides of a match
// read identically.
func SanitizeMetadata(meta map[string]string) {
	if meta == nil {
		return
	}
	delete(meta, "embedding")
	for _, key := range acceptanceMetadataKeys {
		if v, ok := meta[key]; ok {
			meta[key] = NormalizeQuery(v)
		}
	}
}
