package judge

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backlogic/storysearch/internal/hybrid"
)

// =============================================================================
// Prompt Construction
// =============================================================================

func TestBuildUserPrompt_NumbersCandidates(t *testing.T) {
	// Given: a query and two candidates
	docs := []string{
		"Reset forgotten password via email link",
		"Refund duplicate payment on an invoice",
	}

	// When: building the prompt
	prompt := buildUserPrompt("checkout refunds", docs)

	// Then: query, numbered candidates, and the reply instruction are all
	// present
	assert.Contains(t, prompt, "Query: checkout refunds")
	assert.Contains(t, prompt, "Candidates:\n")
	assert.Contains(t, prompt, "0: Reset forgotten password via email link")
	assert.Contains(t, prompt, "1: Refund duplicate payment on an invoice")
	assert.Contains(t, prompt, "Return JSON with an entry for each candidate.")
}

func TestBuildUserPrompt_TruncatesLongContent(t *testing.T) {
	// Given: a candidate far above the truncation limit
	long := strings.Repeat("checkout ", 100) // 900 chars
	short := "Configure billing alerts threshold"

	// When: building the prompt
	prompt := buildUserPrompt("billing", []string{long, short})

	// Then: the long candidate is cut with an ellipsis, the short one kept
	// whole
	assert.NotContains(t, prompt, long)
	assert.Contains(t, prompt, long[:contentTruncateLimit]+"…")
	assert.Contains(t, prompt, "1: "+short)
}

func TestTruncateContent(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  string
	}{
		{"short text unchanged", "Refund duplicate payment", 500, "Refund duplicate payment"},
		{"exactly at limit unchanged", strings.Repeat("x", 500), 500, strings.Repeat("x", 500)},
		{"over limit cut with ellipsis", strings.Repeat("x", 501), 500, strings.Repeat("x", 500) + "…"},
		{"empty text", "", 500, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncateContent(tt.text, tt.limit))
		})
	}
}

func TestTruncateContent_MultiByteSafe(t *testing.T) {
	// Given: text whose byte length far exceeds its rune length
	text := strings.Repeat("日", 600)

	// When: truncating
	got := truncateContent(text, 500)

	// Then: cut at a rune boundary, never mid-character
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 501, utf8.RuneCountInString(got)) // 500 runes + ellipsis
}

// =============================================================================
// Score Parsing
// =============================================================================

func TestParseScores_WrapperObject(t *testing.T) {
	// Given: the instructed reply shape
	content := `{"scores":[{"idx":0,"score":0.85},{"idx":1,"score":0.3}]}`

	// When: parsing against two candidates
	results, err := parseScores(content, 2)

	// Then: both entries parsed in order
	require.NoError(t, err)
	assert.Equal(t, []hybrid.RerankResult{
		{Index: 0, Score: 0.85},
		{Index: 1, Score: 0.3},
	}, results)
}

func TestParseScores_BareArray(t *testing.T) {
	// Given: a judge that skipped the wrapper object
	content := `[{"idx":0,"score":0.5},{"idx":1,"score":0.8}]`

	results, err := parseScores(content, 2)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, hybrid.RerankResult{Index: 1, Score: 0.8}, results[1])
}

func TestParseScores_CodeFenceWithLanguageTag(t *testing.T) {
	content := "```json\n{\"scores\":[{\"idx\":0,\"score\":0.7}]}\n```"

	results, err := parseScores(content, 1)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, hybrid.RerankResult{Index: 0, Score: 0.7}, results[0])
}

func TestParseScores_CodeFenceWithoutLanguageTag(t *testing.T) {
	content := "```\n{\"scores\":[{\"idx\":0,\"score\":0.4}]}\n```"

	results, err := parseScores(content, 1)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.4, results[0].Score)
}

func TestParseScores_SingleLineFence(t *testing.T) {
	content := "```{\"scores\":[{\"idx\":0,\"score\":0.6}]}```"

	results, err := parseScores(content, 1)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.6, results[0].Score)
}

func TestParseScores_SurroundingProse(t *testing.T) {
	// Given: a chatty judge wrapping the JSON in commentary
	content := `Here are the relevance scores: {"scores":[{"idx":0,"score":0.9}]} Hope that helps!`

	results, err := parseScores(content, 1)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.9, results[0].Score)
}

func TestParseScores_ProseAroundBareArray(t *testing.T) {
	content := `Scores: [{"idx":0,"score":0.2},{"idx":1,"score":0.7}] as requested.`

	results, err := parseScores(content, 2)

	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestParseScores_OutOfRangeIndexesDropped(t *testing.T) {
	// Given: negative and beyond-range indexes mixed with a valid one
	content := `{"scores":[{"idx":-1,"score":0.9},{"idx":1,"score":0.6},{"idx":9,"score":0.8}]}`

	// When: parsing against three candidates
	results, err := parseScores(content, 3)

	// Then: only the in-range entry survives
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, hybrid.RerankResult{Index: 1, Score: 0.6}, results[0])
}

func TestParseScores_EmptyScores_Errors(t *testing.T) {
	_, err := parseScores(`{"scores":[]}`, 3)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable scores")
}

func TestParseScores_NotJSON_Errors(t *testing.T) {
	_, err := parseScores("I refuse to rank these.", 3)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not score JSON")
}

func TestParseScores_FractionalScoresPreserved(t *testing.T) {
	content := `{"scores":[{"idx":0,"score":0.125}]}`

	results, err := parseScores(content, 1)

	require.NoError(t, err)
	assert.Equal(t, 0.125, results[0].Score)
}
