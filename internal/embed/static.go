package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// Vector composition: word tokens carry most of the signal, character
// n-grams backstop typos and morphology.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// templateWords is the "As a user, I want ... so that ..." boilerplate.
// It appears in nearly every story and would otherwise dominate the hash
// buckets.
var templateWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "as": {},
	"i": {}, "we": {}, "my": {}, "our": {},
	"user": {}, "users": {}, "want": {}, "wants": {},
	"need": {}, "needs": {}, "can": {}, "able": {},
	"should": {}, "so": {}, "that": {}, "to": {},
	"be": {}, "is": {}, "story": {},
	"given": {}, "when": {}, "then": {},
}

var alnumRE = regexp.MustCompile(`[a-zA-Z0-9]+`)

// StaticEmbedder hashes story text into a fixed-width vector. No network,
// no API key, fully deterministic; semantic quality is accordingly modest.
type StaticEmbedder struct {
	mu     sync.RWMutex
	dims   int
	closed bool
}

// NewStaticEmbedder uses the native 256 dimensions.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{dims: StaticDimensions}
}

// NewStaticEmbedderWithDimensions produces vectors of the given width.
// Matching the remote model's width (768) lets the fallback search an index
// built by the remote embedder without re-indexing.
func NewStaticEmbedderWithDimensions(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed hashes the text into a unit vector. Blank input maps to the zero
// vector rather than an error so empty stories stay indexable.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, errEmbedderClosed
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.dims), nil
	}
	return normalizeVector(e.vectorFor(trimmed)), nil
}

// EmbedBatch embeds each text independently.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, errEmbedderClosed
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// vectorFor buckets word tokens and character n-grams into the vector.
func (e *StaticEmbedder) vectorFor(text string) []float32 {
	vec := make([]float32, e.dims)

	for _, tok := range dropTemplateWords(storyTokens(text)) {
		vec[bucketFor(tok, e.dims)] += tokenWeight
	}
	for _, gram := range charNgrams(foldForNgrams(text), ngramSize) {
		vec[bucketFor(gram, e.dims)] += ngramWeight
	}
	return vec
}

// storyTokens splits text into lowercased tokens. Stories frequently cite
// code symbols (resetPasswordFlow, checkout_funnel_dropoff), so camelCase
// and snake_case identifiers are broken into their parts.
func storyTokens(text string) []string {
	var tokens []string
	for _, word := range alnumRE.FindAllString(text, -1) {
		for _, part := range splitIdentifierParts(word) {
			tokens = append(tokens, strings.ToLower(part))
		}
	}
	return tokens
}

// splitIdentifierParts breaks an identifier at underscores and case
// boundaries in one pass. An uppercase rune starts a new part when the
// previous rune was lowercase, or when the next one is (which keeps
// acronyms like HTTP together).
func splitIdentifierParts(s string) []string {
	parts := []string{}
	runes := []rune(s)
	start := 0

	flush := func(end int) {
		if end > start {
			parts = append(parts, string(runes[start:end]))
		}
	}

	for i, r := range runes {
		switch {
		case r == '_':
			flush(i)
			start = i + 1
		case i > start && unicode.IsUpper(r):
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || nextLower {
				flush(i)
				start = i
			}
		}
	}
	flush(len(runes))
	return parts
}

func dropTemplateWords(tokens []string) []string {
	kept := tokens[:0]
	for _, t := range tokens {
		if _, stop := templateWords[t]; !stop {
			kept = append(kept, t)
		}
	}
	return kept
}

// foldForNgrams lowercases and strips everything but letters and digits so
// n-grams do not straddle punctuation.
func foldForNgrams(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// charNgrams returns every n-byte sliding window of text.
func charNgrams(text string, n int) []string {
	if len(text) < n {
		return []string{}
	}
	grams := make([]string, 0, len(text)-n+1)
	for i := 0; i+n <= len(text); i++ {
		grams = append(grams, text[i:i+n])
	}
	return grams
}

// bucketFor maps a string to a vector index via FNV-64.
func bucketFor(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

func (e *StaticEmbedder) Dimensions() int {
	return e.dims
}

// ModelName is "static" at the native width, "static<dims>" otherwise.
func (e *StaticEmbedder) ModelName() string {
	if e.dims == StaticDimensions {
		return "static"
	}
	return fmt.Sprintf("static%d", e.dims)
}

// Available is true until Close; there is nothing remote to probe.
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
