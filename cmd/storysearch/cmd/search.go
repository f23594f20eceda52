package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/backlogic/storysearch/internal/config"
	"github.com/backlogic/storysearch/internal/embed"
	"github.com/backlogic/storysearch/internal/judge"
	"github.com/backlogic/storysearch/internal/logging"
	"github.com/backlogic/storysearch/internal/output"
	"github.com/backlogic/storysearch/internal/search"
	"github.com/backlogic/storysearch/internal/store"
	"github.com/backlogic/storysearch/internal/telemetry"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit    int
	ratio    float64 // BM25 weight; negative means config default
	format   string  // "text", "json"
	noRerank bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed stories",
		Long: `Search the indexed stories using hybrid retrieval.

Combines BM25 (keyword) and vector (semantic) search with weighted
score fusion, deduplication, and optional LLM reranking.

Examples:
  storysearch search "password reset flow"
  storysearch search "checkout abandons cart" --limit 5
  storysearch search "mobile onboarding" --ratio 0.8
  storysearch search "payment retries" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().Float64Var(&opts.ratio, "ratio", -1, "BM25 weight in the fused score, 0.0-1.0 (default from config)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.noRerank, "no-rerank", false, "Skip LLM reranking")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	// File-only logging so results stay pipeable
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}

	slog.Info("search_started",
		slog.String("query", logging.RedactQuery(query)),
		slog.Int("limit", opts.limit))
	out := output.New(cmd.OutOrStdout())

	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if !fileExists(cfg.Storage.StoriesDBPath()) {
		return fmt.Errorf("no index found in %s\nRun 'storysearch index <stories.jsonl>' first", cfg.Storage.DataDir)
	}

	// Story store
	stories, err := store.NewSQLiteStoreWithConfig(cfg.Storage.StoriesDBPath(),
		store.StoreConfig{CacheSizeMB: cfg.Storage.SQLiteCacheMB})
	if err != nil {
		return fmt.Errorf("failed to open story store: %w", err)
	}
	defer func() { _ = stories.Close() }()

	// BM25 index
	backend := string(store.DetectBM25Backend(cfg.Storage.BM25BasePath()))
	if backend == "" {
		backend = cfg.Storage.BM25Backend
	}
	bm25, err := store.NewBM25IndexWithBackend(cfg.Storage.BM25BasePath(), store.DefaultBM25Config(), backend)
	if err != nil {
		return fmt.Errorf("failed to open BM25 index: %w", err)
	}
	defer func() { _ = bm25.Close() }()

	// Vector store sized to the on-disk index
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
		if loadErr := vector.Load(vectorPath); loadErr != nil {
			slog.Warn("vector_load_failed", slog.String("error", loadErr.Error()))
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
		Timeout:    cfg.SearchTimeout(),
	})
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	// Query telemetry shares the story store's DB; closed before it (LIFO)
	var queryMetrics *telemetry.QueryMetrics
	if metricsStore, err := telemetry.NewSQLiteMetricsStore(stories.DB()); err == nil {
		queryMetrics = telemetry.NewQueryMetrics(metricsStore)
		defer func() { _ = queryMetrics.Close() }()
	}

	engineOpts := []search.EngineOption{
		search.WithBM25Index(bm25),
		search.WithVectorStore(vector),
		search.WithStoryStore(stories),
		search.WithEmbedder(embedder),
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
	if queryMetrics != nil {
		engineOpts = append(engineOpts, search.WithMetrics(queryMetrics))
	}
	if cfg.Rerank.Enabled && !opts.noRerank {
		reranker := judge.New(judge.Config{
			APIBase: cfg.Rerank.APIBase,
			APIKey:  cfg.Rerank.APIKey,
			Model:   cfg.Rerank.Model,
			Timeout: cfg.RerankTimeout(),
		})
		defer func() { _ = reranker.Close() }()
		engineOpts = append(engineOpts, search.WithReranker(reranker))
	}

	engine, err := search.NewEngine(engineOpts...)
	if err != nil {
		return fmt.Errorf("failed to create search engine: %w", err)
	}

	searchOpts := search.SearchOptions{Limit: opts.limit}
	if opts.ratio >= 0 {
		if opts.ratio > 1 {
			return fmt.Errorf("--ratio must be between 0.0 and 1.0, got %g", opts.ratio)
		}
		ratio := opts.ratio
		searchOpts.BM25Ratio = &ratio
	}

	resp, err := engine.HybridSearch(ctx, query, searchOpts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	slog.Info("search_complete",
		slog.Int("results", len(resp.Results)),
		slog.Int64("total_ms", resp.Timings.Total.Milliseconds()))

	switch opts.format {
	case "json":
		return formatSearchJSON(cmd, resp)
	default:
		return formatSearchText(out, query, resp)
	}
}

// formatSearchText renders results for humans.
func formatSearchText(out *output.Writer, query string, resp *search.SearchResponse) error {
	if len(resp.Results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	out.Statusf("🔍", "Found %d results for %q:", resp.TotalCount, query)
	out.Newline()

	for i, r := range resp.Results {
		if r.Story == nil {
			continue
		}

		title := r.Story.Title
		if title == "" {
			title = firstLine(r.Story.Content)
		}
		out.Statusf("", "%d. [%s] %s (score: %.3f, %s)", i+1, r.Story.ID, title, r.FinalScore, r.Source)

		for _, line := range getSnippet(r.Story.Content, 2) {
			out.Status("", "   "+line)
		}
		out.Newline()
	}

	if resp.Degraded {
		out.Warning("Reranking unavailable; results carry retrieval-order scores")
	}

	out.Statusf("", "%d of %d matches in %s (bm25 %dms, vector %dms, rerank %dms)",
		len(resp.Results), resp.TotalCount,
		resp.Timings.Total.Round(time.Millisecond),
		resp.Timings.BM25.Milliseconds(),
		resp.Timings.Vector.Milliseconds(),
		resp.Timings.Rerank.Milliseconds())

	return nil
}

// formatSearchJSON renders results for scripts.
func formatSearchJSON(cmd *cobra.Command, resp *search.SearchResponse) error {
	type jsonResult struct {
		ID          string   `json:"id"`
		Title       string   `json:"title"`
		Content     string   `json:"content"`
		Project     string   `json:"project,omitempty"`
		Priority    string   `json:"priority,omitempty"`
		Labels      []string `json:"labels,omitempty"`
		Source      string   `json:"source"`
		BM25Score   float64  `json:"bm25_score"`
		VectorScore float64  `json:"vector_score"`
		FinalScore  float64  `json:"final_score"`
	}
	type jsonOutput struct {
		Results    []jsonResult `json:"results"`
		TotalCount int          `json:"total_count"`
		Degraded   bool         `json:"degraded,omitempty"`
		TookMS     int64        `json:"took_ms"`
	}

	payload := jsonOutput{
		Results:    make([]jsonResult, 0, len(resp.Results)),
		TotalCount: resp.TotalCount,
		Degraded:   resp.Degraded,
		TookMS:     resp.Timings.Total.Milliseconds(),
	}
	for _, r := range resp.Results {
		if r.Story == nil {
			continue
		}
		payload.Results = append(payload.Results, jsonResult{
			ID:          r.Story.ID,
			Title:       r.Story.Title,
			Content:     r.Story.Content,
			Project:     r.Story.Project,
			Priority:    r.Story.Priority,
			Labels:      r.Story.Labels,
			Source:      r.Source,
			BM25Score:   r.BM25Score,
			VectorScore: r.VectorScore,
			FinalScore:  r.FinalScore,
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

// getSnippet returns the first n non-empty display lines of content.
func getSnippet(content string, n int) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	// Trim trailing empty lines
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// firstLine returns the first line of s.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
