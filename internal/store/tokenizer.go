package store

import (
	"regexp"
	"strings"
	"unicode"
)

// wordPattern carves story text into alphanumeric words. Underscores stay in
// so snake_case identifiers reach SplitIdentifier intact.
var wordPattern = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// TokenizeText splits story text into lowercase search tokens. Backlog prose
// regularly embeds identifiers ("OAuth2Login", "checkout_flow"), so tokens
// are split at snake_case and camelCase boundaries the way a code tokenizer
// would. Single-character tokens are dropped.
func TokenizeText(text string) []string {
	var tokens []string
	for _, word := range wordPattern.FindAllString(text, -1) {
		for _, part := range SplitIdentifier(word) {
			part = strings.ToLower(part)
			if len(part) >= 2 {
				tokens = append(tokens, part)
			}
		}
	}
	return tokens
}

// SplitIdentifier splits a word at underscores and camelCase humps in one
// pass. An uppercase rune starts a new part when the rune before it is
// lowercase ("resetPassword") or the rune after it is lowercase, which keeps
// acronyms together ("parseHTTPRequest" -> parse, HTTP, Request).
func SplitIdentifier(token string) []string {
	if token == "" {
		return []string{}
	}

	runes := []rune(token)
	parts := []string{}
	var cur []rune

	flush := func() {
		if len(cur) > 0 {
			parts = append(parts, string(cur))
			cur = cur[:0]
		}
	}

	for i, r := range runes {
		if r == '_' {
			flush()
			continue
		}
		if len(cur) > 0 && unicode.IsUpper(r) {
			// cur is non-empty, so runes[i-1] belongs to it.
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || nextLower {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()

	return parts
}

// FilterStopWords drops tokens present in the stop word set. Matching is
// case-insensitive; surviving tokens keep their original form.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, stop := stopWords[strings.ToLower(token)]; !stop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap lowercases a stop word list into a lookup set.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
