// Package config loads and validates storysearch configuration.
//
// Configuration is layered in order of increasing precedence: hardcoded
// defaults, user config (~/.config/storysearch/config.yaml), project config
// (storysearch.yaml), then STORYSEARCH_* environment variables. API keys are
// read from the environment only and never written to YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/backlogic/storysearch/internal/errors"
)

// Config represents the complete storysearch configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	Dedup     DedupConfig     `yaml:"dedup" json:"dedup"`
	Rerank    RerankConfig    `yaml:"rerank" json:"rerank"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Index     IndexConfig     `yaml:"index" json:"index"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Addr is the listen address (default ":8080").
	Addr string `yaml:"addr" json:"addr"`
	// ReadTimeout bounds request reads (default "10s").
	ReadTimeout string `yaml:"read_timeout" json:"read_timeout"`
	// WriteTimeout bounds response writes. Must exceed the rerank timeout
	// or reranked responses get cut off mid-flight (default "60s").
	WriteTimeout string `yaml:"write_timeout" json:"write_timeout"`
	// ShutdownTimeout is the drain window on SIGTERM (default "15s").
	ShutdownTimeout string `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// SearchConfig configures hybrid search parameters.
// Ratio and limits are overridable per request; these are the defaults.
type SearchConfig struct {
	// DefaultLimit is used when a request omits limit (default 10).
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`

	// MaxLimit caps the per-request limit (default 100).
	MaxLimit int `yaml:"max_limit" json:"max_limit"`

	// BM25Ratio is the lexical weight in the fused score (0.0-1.0).
	// final = ratio*bm25 + (1-ratio)*vector. Default 0.5.
	BM25Ratio float64 `yaml:"bm25_ratio" json:"bm25_ratio"`

	// FetchMultiplier over-fetches each method by limit*multiplier so
	// dedup and fusion have enough candidates (default 2).
	FetchMultiplier int `yaml:"fetch_multiplier" json:"fetch_multiplier"`

	// Timeout bounds a single retrieval pass per method (default "5s").
	Timeout string `yaml:"timeout" json:"timeout"`
}

// DedupConfig configures result deduplication.
type DedupConfig struct {
	// Threshold is the content-similarity cutoff in (0,1].
	// 1.0 means exact content match only (default 1.0).
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// RerankConfig configures the LLM judge reranker.
type RerankConfig struct {
	// Enabled turns head reranking on (default true). Even when enabled,
	// reranking silently degrades if no API key is configured.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// TopK is the head size submitted to the judge (default 10).
	TopK int `yaml:"top_k" json:"top_k"`

	// Timeout bounds a judge call (default "20s").
	Timeout string `yaml:"timeout" json:"timeout"`

	// Model is the judge chat model (default "llama-3.3-70b-versatile").
	Model string `yaml:"model" json:"model"`

	// APIBase is the OpenAI-compatible endpoint
	// (default "https://api.groq.com/openai/v1").
	APIBase string `yaml:"api_base" json:"api_base"`

	// APIKey comes from GROQ_API_KEY / STORYSEARCH_RERANK_API_KEY only.
	APIKey string `yaml:"-" json:"-"`

	// explicit records that a YAML file carried a rerank section, so an
	// explicit "enabled: false" survives the non-zero merge below.
	explicit bool
}

// UnmarshalYAML decodes a rerank section with Enabled defaulting to true,
// marking the section as explicitly present.
func (r *RerankConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain RerankConfig
	tmp := plain{Enabled: true}
	if err := value.Decode(&tmp); err != nil {
		return err
	}
	*r = RerankConfig(tmp)
	r.explicit = true
	return nil
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider selects the embedder: "openai", "static", or empty for
	// auto-detection (openai when an endpoint+key is configured, else static).
	Provider string `yaml:"provider" json:"provider"`

	// APIBase is the OpenAI-compatible embeddings endpoint.
	APIBase string `yaml:"api_base" json:"api_base"`

	// APIKey comes from EMBEDDING_AUTH_TOKEN / STORYSEARCH_EMBEDDING_API_KEY only.
	APIKey string `yaml:"-" json:"-"`

	// Model is the embedding model name (default "nomic-embed-text").
	Model string `yaml:"model" json:"model"`

	// Dimensions is the embedding vector width (default 768).
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// CacheSize is the query-embedding LRU capacity (default 256).
	CacheSize int `yaml:"cache_size" json:"cache_size"`

	// BatchSize is texts per embedding request during indexing (default 32).
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// StorageConfig configures on-disk stores and indexes.
type StorageConfig struct {
	// DataDir holds stories.db, the BM25 index, and vectors.hnsw.
	// Default ~/.storysearch.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// BM25Backend selects the lexical index backend.
	// Options: "bleve" (default) or "sqlite" (FTS5, concurrent access).
	BM25Backend string `yaml:"bm25_backend" json:"bm25_backend"`

	// SQLiteCacheMB is the SQLite page cache size in MB (default 64).
	SQLiteCacheMB int `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
}

// IndexConfig configures story ingestion.
type IndexConfig struct {
	// Workers is the embedding/indexing worker count (default NumCPU).
	Workers int `yaml:"workers" json:"workers"`

	// WatchDebounce coalesces file events in --watch mode (default "500ms").
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level (default "info").
	Level string `yaml:"level" json:"level"`
	// File is the log file path; empty uses ~/.storysearch/logs/storysearch.log.
	File string `yaml:"file" json:"file"`
	// MaxSizeMB is the rotation threshold (default 10).
	MaxSizeMB int `yaml:"max_size_mb" json:"max_size_mb"`
	// MaxFiles is the number of rotated files kept (default 5).
	MaxFiles int `yaml:"max_files" json:"max_files"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     "10s",
			WriteTimeout:    "60s", // Must outlast rerank.timeout
			ShutdownTimeout: "15s",
		},
		Search: SearchConfig{
			DefaultLimit:    10,
			MaxLimit:        100,
			BM25Ratio:       0.5,
			FetchMultiplier: 2,
			Timeout:         "5s",
		},
		Dedup: DedupConfig{
			Threshold: 1.0, // Exact content match only
		},
		Rerank: RerankConfig{
			Enabled: true,
			TopK:    10,
			Timeout: "20s",
			Model:   "llama-3.3-70b-versatile",
			APIBase: "https://api.groq.com/openai/v1",
		},
		Embedding: EmbeddingConfig{
			Provider:   "", // Auto-detect: openai when configured, else static
			Model:      "nomic-embed-text",
			Dimensions: 768,
			CacheSize:  256,
			BatchSize:  32,
		},
		Storage: StorageConfig{
			DataDir:       DefaultDataDir(),
			BM25Backend:   "bleve",
			SQLiteCacheMB: 64,
		},
		Index: IndexConfig{
			Workers:       runtime.NumCPU(),
			WatchDebounce: "500ms",
		},
		Logging: LoggingConfig{
			Level:     "info",
			File:      "",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// DefaultDataDir returns the default data directory (~/.storysearch).
// Falls back to temp directory if home directory is unavailable.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".storysearch")
	}
	return filepath.Join(home, ".storysearch")
}

// StoriesDBPath returns the story store path inside the data dir.
func (s StorageConfig) StoriesDBPath() string {
	return filepath.Join(s.DataDir, "stories.db")
}

// BM25BasePath returns the lexical index path without a backend extension.
// The store layer appends .bleve or .db depending on the backend.
func (s StorageConfig) BM25BasePath() string {
	return filepath.Join(s.DataDir, "bm25")
}

// VectorPath returns the HNSW vector index path.
func (s StorageConfig) VectorPath() string {
	return filepath.Join(s.DataDir, "vectors.hnsw")
}

// LockPath returns the index-writer lock file path.
func (s StorageConfig) LockPath() string {
	return filepath.Join(s.DataDir, "index.lock")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/storysearch/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/storysearch/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "storysearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback - should rarely happen
		return filepath.Join(os.TempDir(), ".config", "storysearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "storysearch", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/storysearch/config.yaml)
//  3. Project config (storysearch.yaml in dir)
//  4. Environment variables (STORYSEARCH_* plus GROQ_*/EMBEDDING_* keys)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	// Step 1: Load user/global config (if exists)
	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	// Step 2: Load project config (overrides user config)
	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	// Step 3: Apply environment variable overrides (highest precedence)
	cfg.applyEnvOverrides()

	// Step 4: Validate the final configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from storysearch.yaml or .storysearch.yaml.
func (c *Config) loadFromFile(dir string) error {
	// Plain name first (takes precedence)
	for _, name := range []string{"storysearch.yaml", "storysearch.yml", ".storysearch.yaml", ".storysearch.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.loadYAML(path)
		}
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeConfigNotFound,
			fmt.Sprintf("failed to read config file %s", path), err)
	}

	// Use a temporary struct for parsing to detect type errors
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return apperrors.New(apperrors.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to parse config file %s", path), err)
	}

	// Merge parsed values with defaults (only non-zero values)
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Server
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.ReadTimeout != "" {
		c.Server.ReadTimeout = other.Server.ReadTimeout
	}
	if other.Server.WriteTimeout != "" {
		c.Server.WriteTimeout = other.Server.WriteTimeout
	}
	if other.Server.ShutdownTimeout != "" {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}

	// Search
	// Note: 0 is not a practical value for limits, so we only merge non-zero values.
	// BM25Ratio 0.0 (pure semantic) must come through env override instead.
	if other.Search.DefaultLimit != 0 {
		c.Search.DefaultLimit = other.Search.DefaultLimit
	}
	if other.Search.MaxLimit != 0 {
		c.Search.MaxLimit = other.Search.MaxLimit
	}
	if other.Search.BM25Ratio != 0 {
		c.Search.BM25Ratio = other.Search.BM25Ratio
	}
	if other.Search.FetchMultiplier != 0 {
		c.Search.FetchMultiplier = other.Search.FetchMultiplier
	}
	if other.Search.Timeout != "" {
		c.Search.Timeout = other.Search.Timeout
	}

	// Dedup
	if other.Dedup.Threshold != 0 {
		c.Dedup.Threshold = other.Dedup.Threshold
	}

	// Rerank
	// Enabled merges only from files that actually carried a rerank section,
	// so a file without one doesn't silently disable reranking.
	if other.Rerank.explicit {
		c.Rerank.Enabled = other.Rerank.Enabled
		c.Rerank.explicit = true
	}
	if other.Rerank.TopK != 0 {
		c.Rerank.TopK = other.Rerank.TopK
	}
	if other.Rerank.Timeout != "" {
		c.Rerank.Timeout = other.Rerank.Timeout
	}
	if other.Rerank.Model != "" {
		c.Rerank.Model = other.Rerank.Model
	}
	if other.Rerank.APIBase != "" {
		c.Rerank.APIBase = other.Rerank.APIBase
	}

	// Embedding
	if other.Embedding.Provider != "" {
		c.Embedding.Provider = other.Embedding.Provider
	}
	if other.Embedding.APIBase != "" {
		c.Embedding.APIBase = other.Embedding.APIBase
	}
	if other.Embedding.Model != "" {
		c.Embedding.Model = other.Embedding.Model
	}
	if other.Embedding.Dimensions != 0 {
		c.Embedding.Dimensions = other.Embedding.Dimensions
	}
	if other.Embedding.CacheSize != 0 {
		c.Embedding.CacheSize = other.Embedding.CacheSize
	}
	if other.Embedding.BatchSize != 0 {
		c.Embedding.BatchSize = other.Embedding.BatchSize
	}

	// Storage
	if other.Storage.DataDir != "" {
		c.Storage.DataDir = other.Storage.DataDir
	}
	if other.Storage.BM25Backend != "" {
		c.Storage.BM25Backend = other.Storage.BM25Backend
	}
	if other.Storage.SQLiteCacheMB != 0 {
		c.Storage.SQLiteCacheMB = other.Storage.SQLiteCacheMB
	}

	// Index
	if other.Index.Workers != 0 {
		c.Index.Workers = other.Index.Workers
	}
	if other.Index.WatchDebounce != "" {
		c.Index.WatchDebounce = other.Index.WatchDebounce
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// applyEnvOverrides applies STORYSEARCH_* environment variable overrides,
// plus the GROQ_*/EMBEDDING_* names the original deployment used.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STORYSEARCH_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("STORYSEARCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("STORYSEARCH_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("STORYSEARCH_BM25_BACKEND"); v != "" {
		c.Storage.BM25Backend = v
	}

	// Search tuning (explicit zero values are meaningful here)
	if v := os.Getenv("STORYSEARCH_BM25_RATIO"); v != "" {
		if r, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && r >= 0 && r <= 1 {
			c.Search.BM25Ratio = r
		}
	}
	if v := os.Getenv("STORYSEARCH_DEFAULT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.DefaultLimit = n
		}
	}
	if v := os.Getenv("STORYSEARCH_MAX_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.MaxLimit = n
		}
	}
	if v := os.Getenv("STORYSEARCH_DEDUP_THRESHOLD"); v != "" {
		if t, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && t > 0 && t <= 1 {
			c.Dedup.Threshold = t
		}
	}

	// Rerank - STORYSEARCH_* first, then the original deployment's names
	if v := os.Getenv("STORYSEARCH_RERANK_ENABLED"); v != "" {
		c.Rerank.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("GROQ_API_BASE"); v != "" {
		c.Rerank.APIBase = v
	}
	if v := os.Getenv("GROQ_MODEL"); v != "" {
		c.Rerank.Model = v
	}
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		c.Rerank.APIKey = v
	}
	if v := os.Getenv("STORYSEARCH_RERANK_API_KEY"); v != "" {
		c.Rerank.APIKey = v
	}

	// Embedding
	if v := os.Getenv("STORYSEARCH_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("EMBEDDING_API_BASE"); v != "" {
		c.Embedding.APIBase = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("EMBEDDING_AUTH_TOKEN"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("STORYSEARCH_EMBEDDING_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
}

// Validate validates the configuration and returns a coded error if invalid.
func (c *Config) Validate() error {
	if c.Search.BM25Ratio < 0 || c.Search.BM25Ratio > 1 {
		return apperrors.ConfigError(
			fmt.Sprintf("search.bm25_ratio must be between 0 and 1, got %g", c.Search.BM25Ratio), nil)
	}
	if c.Search.DefaultLimit <= 0 {
		return apperrors.ConfigError(
			fmt.Sprintf("search.default_limit must be positive, got %d", c.Search.DefaultLimit), nil)
	}
	if c.Search.MaxLimit <= 0 {
		return apperrors.ConfigError(
			fmt.Sprintf("search.max_limit must be positive, got %d", c.Search.MaxLimit), nil)
	}
	if c.Search.DefaultLimit > c.Search.MaxLimit {
		return apperrors.ConfigError(
			fmt.Sprintf("search.default_limit (%d) must not exceed search.max_limit (%d)",
				c.Search.DefaultLimit, c.Search.MaxLimit), nil)
	}
	if c.Search.FetchMultiplier < 1 {
		return apperrors.ConfigError(
			fmt.Sprintf("search.fetch_multiplier must be at least 1, got %d", c.Search.FetchMultiplier), nil)
	}

	if c.Dedup.Threshold <= 0 || c.Dedup.Threshold > 1 {
		return apperrors.ConfigError(
			fmt.Sprintf("dedup.threshold must be in (0,1], got %g", c.Dedup.Threshold), nil)
	}

	if c.Rerank.TopK < 0 {
		return apperrors.ConfigError(
			fmt.Sprintf("rerank.top_k must be non-negative, got %d", c.Rerank.TopK), nil)
	}

	if c.Embedding.Dimensions <= 0 {
		return apperrors.ConfigError(
			fmt.Sprintf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions), nil)
	}
	if c.Embedding.CacheSize <= 0 {
		return apperrors.ConfigError(
			fmt.Sprintf("embedding.cache_size must be positive, got %d", c.Embedding.CacheSize), nil)
	}
	if c.Embedding.Provider != "" { // Empty string triggers auto-detection
		validProviders := map[string]bool{"openai": true, "static": true}
		if !validProviders[strings.ToLower(c.Embedding.Provider)] {
			return apperrors.ConfigError(
				fmt.Sprintf("embedding.provider must be 'openai', 'static', or empty (auto-detect), got %s",
					c.Embedding.Provider), nil)
		}
	}

	validBackends := map[string]bool{"bleve": true, "sqlite": true}
	if !validBackends[strings.ToLower(c.Storage.BM25Backend)] {
		return apperrors.ConfigError(
			fmt.Sprintf("storage.bm25_backend must be 'bleve' or 'sqlite', got %s", c.Storage.BM25Backend), nil)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return apperrors.ConfigError(
			fmt.Sprintf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level), nil)
	}

	return nil
}

// parseDuration parses a duration string, falling back to def on error or empty.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// SearchTimeout returns the parsed per-method retrieval timeout.
func (c *Config) SearchTimeout() time.Duration {
	return parseDuration(c.Search.Timeout, 5*time.Second)
}

// RerankTimeout returns the parsed judge call timeout.
func (c *Config) RerankTimeout() time.Duration {
	return parseDuration(c.Rerank.Timeout, 20*time.Second)
}

// ReadTimeout returns the parsed HTTP read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 10*time.Second)
}

// WriteTimeout returns the parsed HTTP write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 60*time.Second)
}

// ShutdownTimeout returns the parsed graceful shutdown window.
func (c *Config) ShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 15*time.Second)
}

// WatchDebounce returns the parsed watch-mode debounce interval.
func (c *Config) WatchDebounce() time.Duration {
	return parseDuration(c.Index.WatchDebounce, 500*time.Millisecond)
}

// WriteYAML writes the configuration to a YAML file.
// API keys carry `yaml:"-"` tags and are never serialized.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
