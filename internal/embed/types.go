// Package embed turns story text into dense vectors for semantic retrieval.
// It ships a remote OpenAI-compatible client and a deterministic hash-based
// fallback so search degrades instead of failing when no endpoint is
// reachable.
package embed

import (
	"context"
	"errors"
	"math"
	"time"
)

const (
	// MinBatchSize and MaxBatchSize bound EmbedBatch request sizes; the cap
	// keeps a runaway caller from exhausting memory on the remote side.
	MinBatchSize = 1
	MaxBatchSize = 256

	// DefaultBatchSize is how many texts go into one embedding request.
	DefaultBatchSize = 32

	// DefaultTimeout applies to a single embedding request.
	DefaultTimeout = 60 * time.Second
)

const (
	// DefaultModel is served over an OpenAI-compatible API.
	DefaultModel = "nomic-embed-text"

	// DefaultDimensions is the vector width of DefaultModel.
	DefaultDimensions = 768
)

// StaticDimensions is the native vector width of the hash-based embedder.
const StaticDimensions = 256

var errEmbedderClosed = errors.New("embedder is closed")

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed embeds a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds several texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the width of the vectors this embedder produces.
	Dimensions() int

	// ModelName identifies the model, recorded in the index so dimension
	// mismatches can be diagnosed later.
	ModelName() string

	// Available reports whether the embedder can serve requests right now.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector returns a unit-length copy of v. The zero vector comes
// back unchanged since it has no direction to preserve.
func normalizeVector(v []float32) []float32 {
	var sq float64
	for _, x := range v {
		sq += float64(x) * float64(x)
	}
	if sq == 0 {
		return v
	}

	inv := 1 / math.Sqrt(sq)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
