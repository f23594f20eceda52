package embed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOpenAI uses an OpenAI-compatible embeddings API (default when configured)
	ProviderOpenAI ProviderType = "openai"

	// ProviderStatic uses hash-based embeddings (offline fallback, no network)
	ProviderStatic ProviderType = "static"
)

// Config selects and configures the embedder built by NewEmbedder.
type Config struct {
	// Provider is "openai", "static", or empty for auto-detection.
	Provider string

	// APIBase is the OpenAI-compatible endpoint (openai provider).
	APIBase string

	// APIKey is the bearer token for the embeddings endpoint.
	APIKey string

	// Model is the embedding model name.
	Model string

	// Dimensions is the embedding vector width.
	Dimensions int

	// CacheSize is the query-embedding LRU capacity.
	CacheSize int

	// BatchSize is texts per request during indexing.
	BatchSize int

	// Timeout is the per-request timeout for remote providers.
	Timeout time.Duration
}

// NewEmbedder creates an embedder from the given configuration.
//
// Provider selection:
//   - "openai": remote embeddings; errors when no endpoint is configured
//     rather than silently falling back.
//   - "static": hash-based offline embeddings, always available.
//   - empty: auto-detection. Remote embeddings are used only when both
//     endpoint and API key are configured; otherwise the static fallback
//     keeps indexing and search working offline.
//
// Query embedding caching is enabled by default.
// Set STORYSEARCH_EMBED_CACHE=false to disable caching.
func NewEmbedder(ctx context.Context, cfg Config) (Embedder, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))

	var embedder Embedder
	switch provider {
	case "":
		// Auto-detection never errors: a partially configured remote
		// endpoint degrades to offline embeddings instead of failing.
		if cfg.APIBase != "" && cfg.APIKey != "" {
			remote, err := newOpenAIFromConfig(cfg)
			if err != nil {
				return nil, err
			}
			embedder = remote
		} else {
			embedder = newStaticFromConfig(cfg)
		}

	case string(ProviderOpenAI):
		// Explicit selection fails loudly when misconfigured.
		remote, err := newOpenAIFromConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("openai embedder unavailable: %w\n\nTo fix:\n  1. Set embedding.api_base in config.yaml\n  2. Export EMBEDDING_AUTH_TOKEN if the service requires auth\n  3. Or use offline embeddings: embedding.provider: static", err)
		}
		embedder = remote

	case string(ProviderStatic):
		embedder = newStaticFromConfig(cfg)

	default:
		return nil, fmt.Errorf("unknown embedding provider %q (valid options: %s)",
			cfg.Provider, strings.Join(ValidProviders(), ", "))
	}

	slog.DebugContext(ctx, "embedder_selected",
		slog.String("model", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()))

	// Wrap with cache unless disabled (saves a round trip per repeated query)
	if !isCacheDisabled() {
		embedder = NewCachedEmbedder(embedder, cfg.CacheSize)
	}

	return embedder, nil
}

// newOpenAIFromConfig builds the remote embedder from factory config.
func newOpenAIFromConfig(cfg Config) (*OpenAIEmbedder, error) {
	oc := DefaultOpenAIConfig()
	oc.APIBase = cfg.APIBase
	oc.APIKey = cfg.APIKey
	if cfg.Model != "" {
		oc.Model = cfg.Model
	}
	if cfg.Dimensions > 0 {
		oc.Dimensions = cfg.Dimensions
	}
	if cfg.BatchSize > 0 {
		oc.BatchSize = cfg.BatchSize
	}
	if cfg.Timeout > 0 {
		oc.Timeout = cfg.Timeout
	}
	return NewOpenAIEmbedder(oc)
}

// newStaticFromConfig builds the offline embedder from factory config.
// It matches the configured dimensions so an index built by the remote
// embedder stays searchable after a fallback.
func newStaticFromConfig(cfg Config) *StaticEmbedder {
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return NewStaticEmbedderWithDimensions(dims)
}

// isCacheDisabled checks if embedding cache is disabled via environment.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("STORYSEARCH_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// ParseProvider converts a string to ProviderType
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(s) {
	case "static":
		return ProviderStatic
	default:
		return ProviderOpenAI
	}
}

// String returns the string representation of ProviderType
func (p ProviderType) String() string {
	return string(p)
}

// ValidProviders returns all valid provider names
func ValidProviders() []string {
	return []string{
		string(ProviderOpenAI),
		string(ProviderStatic),
	}
}

// IsValidProvider checks if a provider name is valid
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// EmbedderInfo contains information about an embedder
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo returns information about an embedder
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	// Unwrap cached embedder to get underlying type
	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.inner
	}

	switch inner.(type) {
	case *OpenAIEmbedder:
		info.Provider = ProviderOpenAI
	case *StaticEmbedder:
		info.Provider = ProviderStatic
	default:
		if strings.HasPrefix(embedder.ModelName(), "static") {
			info.Provider = ProviderStatic
		} else {
			info.Provider = ProviderOpenAI
		}
	}

	return info
}

// MustNewEmbedder creates an embedder and panics on failure
// Use only in tests or initialization code where failure is fatal
func MustNewEmbedder(ctx context.Context, cfg Config) Embedder {
	embedder, err := NewEmbedder(ctx, cfg)
	if err != nil {
		panic(fmt.Sprintf("failed to create embedder: %v", err))
	}
	return embedder
}
