package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/backlogic/storysearch/internal/config"
	"github.com/backlogic/storysearch/internal/embed"
	"github.com/backlogic/storysearch/internal/judge"
	"github.com/backlogic/storysearch/internal/logging"
	"github.com/backlogic/storysearch/internal/output"
	"github.com/backlogic/storysearch/internal/search"
	"github.com/backlogic/storysearch/internal/server"
	"github.com/backlogic/storysearch/internal/store"
	"github.com/backlogic/storysearch/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP search service",
		Long: `Start the HTTP service exposing hybrid search over the indexed stories.

Endpoints:
  POST /hybrid_search   BM25 + vector search with fusion, dedup, reranking
  POST /search          Vector-only search
  GET  /health          Collaborator health probes
  GET  /embedding_test  Embeds a fixed phrase, reports dimensions and latency
  GET  /metrics         Prometheus metrics

The service loads the indexes built by 'storysearch index' and serves
until SIGINT/SIGTERM, then drains in-flight requests.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cmd, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config, e.g. :8080)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, addr string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	// Server logging goes to both stderr and the log file.
	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.File,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: true,
	}
	if logCfg.FilePath == "" {
		logCfg.FilePath = logging.DefaultLogPath()
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	dataDir := cfg.Storage.DataDir
	if !fileExists(cfg.Storage.StoriesDBPath()) {
		return fmt.Errorf("no index found in %s\nRun 'storysearch index <stories.jsonl>' first", dataDir)
	}

	// Story store
	stories, err := store.NewSQLiteStoreWithConfig(cfg.Storage.StoriesDBPath(),
		store.StoreConfig{CacheSizeMB: cfg.Storage.SQLiteCacheMB})
	if err != nil {
		return fmt.Errorf("failed to open story store: %w", err)
	}
	defer func() { _ = stories.Close() }()

	// BM25 index: prefer whatever backend is on disk over the configured one,
	// so a backend config change doesn't orphan an existing index
	backend := string(store.DetectBM25Backend(cfg.Storage.BM25BasePath()))
	if backend == "" {
		backend = cfg.Storage.BM25Backend
	}
	bm25, err := store.NewBM25IndexWithBackend(cfg.Storage.BM25BasePath(), store.DefaultBM25Config(), backend)
	if err != nil {
		return fmt.Errorf("failed to open BM25 index: %w", err)
	}
	defer func() { _ = bm25.Close() }()

	// Vector store sized to the on-disk index, falling back to config
	vectorPath := cfg.Storage.VectorPath()
	dimensions, err := store.ReadHNSWStoreDimensions(vectorPath)
	if err != nil || dimensions <= 0 {
		dimensions = cfg.Embedding.Dimensions
	}
	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dimensions))
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	defer func() { _ = vector.Close() }()
	if fileExists(vectorPath) {
		if err := vector.Load(vectorPath); err != nil {
			return fmt.Errorf("failed to load vector store: %w", err)
		}
	}

	// Embedder
	embedder, err := embed.NewEmbedder(ctx, embed.Config{
		Provider:   cfg.Embedding.Provider,
		APIBase:    cfg.Embedding.APIBase,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		CacheSize:  cfg.Embedding.CacheSize,
		BatchSize:  cfg.Embedding.BatchSize,
		Timeout:    cfg.SearchTimeout(),
	})
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	if embedder.Dimensions() != dimensions && vector.Count() > 0 {
		slog.Warn("embedder dimensions do not match the vector index; semantic search will degrade until reindex",
			slog.Int("index_dimensions", dimensions),
			slog.Int("embedder_dimensions", embedder.Dimensions()))
	}

	// Telemetry. The metrics store shares the story store's DB handle, so
	// the query collector must be closed before the story store (defer
	// order below takes care of that).
	metricsStore, err := telemetry.NewSQLiteMetricsStore(stories.DB())
	if err != nil {
		return fmt.Errorf("failed to open metrics store: %w", err)
	}
	queryMetrics := telemetry.NewQueryMetrics(metricsStore)
	defer func() { _ = queryMetrics.Close() }()
	searchMetrics := telemetry.NewSearchMetrics()

	engineOpts := []search.EngineOption{
		search.WithBM25Index(bm25),
		search.WithVectorStore(vector),
		search.WithStoryStore(stories),
		search.WithEmbedder(embedder),
		search.WithLogger(logger),
		search.WithMetrics(queryMetrics),
		search.WithConfig(search.EngineConfig{
			DefaultLimit:    cfg.Search.DefaultLimit,
			MaxLimit:        cfg.Search.MaxLimit,
			BM25Ratio:       cfg.Search.BM25Ratio,
			FetchMultiplier: cfg.Search.FetchMultiplier,
			DedupThreshold:  cfg.Dedup.Threshold,
			RerankTopK:      cfg.Rerank.TopK,
			RerankModel:     cfg.Rerank.Model,
		}),
	}

	// Judge reranker. A missing API key leaves it unavailable, which the
	// pipeline reports as a degraded (unreranked) search rather than an error.
	if cfg.Rerank.Enabled {
		reranker := judge.New(judge.Config{
			APIBase: cfg.Rerank.APIBase,
			APIKey:  cfg.Rerank.APIKey,
			Model:   cfg.Rerank.Model,
			Timeout: cfg.RerankTimeout(),
		})
		defer func() { _ = reranker.Close() }()
		engineOpts = append(engineOpts, search.WithReranker(reranker))

		if cfg.Rerank.APIKey == "" {
			slog.Warn("reranking enabled but no API key configured; searches run unreranked",
				slog.String("hint", "set GROQ_API_KEY or STORYSEARCH_RERANK_API_KEY"))
		}
	}

	engine, err := search.NewEngine(engineOpts...)
	if err != nil {
		return fmt.Errorf("failed to create search engine: %w", err)
	}

	srv, err := server.NewServer(engine,
		server.WithEmbedder(embedder),
		server.WithMetrics(searchMetrics),
		server.WithLogger(logger),
		server.WithConfig(server.Config{
			Addr:            cfg.Server.Addr,
			ReadTimeout:     cfg.ReadTimeout(),
			WriteTimeout:    cfg.WriteTimeout(),
			ShutdownTimeout: cfg.ShutdownTimeout(),
		}))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	storyCount, _ := stories.Count(ctx)
	out := output.New(cmd.OutOrStdout())
	out.Statusf("🔎", "Serving %d stories on %s", storyCount, cfg.Server.Addr)
	out.Statusf("", "  embedder: %s (%dd)", embedder.ModelName(), embedder.Dimensions())
	out.Statusf("", "  bm25:     %s", backend)
	if cfg.Rerank.Enabled && cfg.Rerank.APIKey != "" {
		out.Statusf("", "  reranker: %s", cfg.Rerank.Model)
	} else {
		out.Statusf("", "  reranker: off")
	}
	out.Newline()

	return srv.Run(ctx)
}
