package judge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/backlogic/storysearch/internal/hybrid"
)

// systemPrompt pins the judge to a strict JSON reply. Models mostly comply;
// parseScores cleans up the ones that do not.
const systemPrompt = "You score search results for relevance on a scale from 0 to 1. " +
	`Respond with JSON:{"scores":[{"idx":int,"score":float}]}.`

// contentTruncateLimit caps each candidate's contribution to the prompt.
// Story bodies run long and the judge only needs enough text to rank them.
const contentTruncateLimit = 500

// buildUserPrompt numbers the candidates so the judge can reference them by
// index in its reply.
func buildUserPrompt(query string, documents []string) string {
	var b strings.Builder
	b.WriteString("Query: ")
	b.WriteString(query)
	b.WriteString("\nCandidates:\n")
	for i, doc := range documents {
		fmt.Fprintf(&b, "%d: %s\n", i, truncateContent(doc, contentTruncateLimit))
	}
	b.WriteString("Return JSON with an entry for each candidate.")
	return b.String()
}

// truncateContent shortens text to at most limit runes. Rune-based so
// multi-byte story content is never cut mid-character.
func truncateContent(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}

// scorePayload mirrors the JSON the judge is instructed to emit.
type scorePayload struct {
	Scores []scoreEntry `json:"scores"`
}

type scoreEntry struct {
	Idx   int     `json:"idx"`
	Score float64 `json:"score"`
}

// parseScores extracts per-candidate scores from the judge's reply. Parsing
// is deliberately tolerant: code fences and surrounding prose are stripped,
// a bare array is accepted in place of the wrapper object, and out-of-range
// indexes are dropped. An empty usable set is an error so the caller can
// fall back to the original order.
func parseScores(content string, docCount int) ([]hybrid.RerankResult, error) {
	raw := extractJSON(stripCodeFence(content))

	entries, err := decodeScoreEntries(raw)
	if err != nil {
		return nil, err
	}

	results := make([]hybrid.RerankResult, 0, len(entries))
	for _, entry := range entries {
		if entry.Idx < 0 || entry.Idx >= docCount {
			continue // hallucinated index
		}
		results = append(results, hybrid.RerankResult{Index: entry.Idx, Score: entry.Score})
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("judge returned no usable scores")
	}
	return results, nil
}

func decodeScoreEntries(raw string) ([]scoreEntry, error) {
	var payload scorePayload
	if err := json.Unmarshal([]byte(raw), &payload); err == nil && payload.Scores != nil {
		return payload.Scores, nil
	}

	// Some models emit the array without the wrapper object.
	var entries []scoreEntry
	if err := json.Unmarshal([]byte(raw), &entries); err == nil {
		return entries, nil
	}

	return nil, fmt.Errorf("judge reply is not score JSON: %q", truncateContent(raw, 120))
}

// stripCodeFence removes a Markdown fence around the reply. Models wrap JSON
// in ```json fences no matter how firmly the prompt forbids it.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:] // drop the language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractJSON cuts the first JSON object or array out of surrounding prose.
// Whichever opener appears first wins, so a bare score array is not mistaken
// for the objects inside it.
func extractJSON(s string) string {
	objStart := strings.Index(s, "{")
	arrStart := strings.Index(s, "[")

	switch {
	case arrStart >= 0 && (objStart < 0 || arrStart < objStart):
		if end := strings.LastIndex(s, "]"); end > arrStart {
			return s[arrStart : end+1]
		}
	case objStart >= 0:
		if end := strings.LastIndex(s, "}"); end > objStart {
			return s[objStart : end+1]
		}
	}
	return s
}
