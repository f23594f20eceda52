package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/backlogic/storysearch/internal/config"
	"github.com/backlogic/storysearch/internal/store"
	"github.com/backlogic/storysearch/internal/telemetry"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics and telemetry",
		Long: `Display statistics about the story index: counts, backends,
embedding identity, and on-disk sizes.

Use 'stats queries' for query pattern telemetry.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	cmd.AddCommand(newStatsQueriesCmd())
	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	dataDir := cfg.Storage.DataDir
	if !fileExists(cfg.Storage.StoriesDBPath()) {
		return fmt.Errorf("no index found in %s\nRun 'storysearch index <stories.jsonl>' first", dataDir)
	}

	stories, err := store.NewSQLiteStore(cfg.Storage.StoriesDBPath())
	if err != nil {
		return fmt.Errorf("failed to open story store: %w", err)
	}
	defer func() { _ = stories.Close() }()

	// BM25 and vector counts come from the files rather than opening the
	// indexes: stats must work while serve holds the Bleve lock
	info, err := store.CollectIndexInfo(ctx, dataDir, stories, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to collect index info: %w", err)
	}

	if jsonOutput {
		return printIndexStatsJSON(cmd, info)
	}
	return printIndexStats(cmd, info)
}

func printIndexStatsJSON(cmd *cobra.Command, info *store.IndexInfo) error {
	output := map[string]any{
		"data_dir": info.DataDir,
		"stories":  info.StoryCount,
		"embedding": map[string]any{
			"model":      info.EmbeddingModel,
			"provider":   info.EmbeddingProvider,
			"dimensions": info.EmbeddingDimensions,
		},
		"bm25_backend": info.BM25Backend,
		"sizes": map[string]any{
			"store_bytes":  info.StoreSizeBytes,
			"bm25_bytes":   info.BM25SizeBytes,
			"vector_bytes": info.VectorSizeBytes,
			"total_bytes":  info.TotalSizeBytes,
		},
		"indexed_at": info.IndexedAt,
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

func printIndexStats(cmd *cobra.Command, info *store.IndexInfo) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "Index Statistics")
	fmt.Fprintln(w, "================")
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Data Dir:    %s\n", info.DataDir)
	fmt.Fprintf(w, "Stories:     %d\n", info.StoryCount)
	fmt.Fprintf(w, "Indexed At:  %s\n", store.FormatTime(info.IndexedAt))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Embedding:")
	if info.EmbeddingModel != "" {
		fmt.Fprintf(w, "  Model:       %s\n", info.EmbeddingModel)
		fmt.Fprintf(w, "  Provider:    %s\n", info.EmbeddingProvider)
		fmt.Fprintf(w, "  Dimensions:  %d\n", info.EmbeddingDimensions)
	} else {
		fmt.Fprintln(w, "  (not recorded - index never built)")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Storage:")
	fmt.Fprintf(w, "  BM25 Backend: %s\n", orUnknown(info.BM25Backend))
	fmt.Fprintf(w, "  Story Store:  %s\n", store.FormatBytes(info.StoreSizeBytes))
	fmt.Fprintf(w, "  BM25 Index:   %s\n", store.FormatBytes(info.BM25SizeBytes))
	fmt.Fprintf(w, "  Vectors:      %s\n", store.FormatBytes(info.VectorSizeBytes))
	fmt.Fprintf(w, "  Total:        %s\n", store.FormatBytes(info.TotalSizeBytes))

	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func newStatsQueriesCmd() *cobra.Command {
	var jsonOutput bool
	var days int

	cmd := &cobra.Command{
		Use:   "queries",
		Short: "Show query pattern statistics",
		Long: `Display query pattern telemetry including:
  - Query mode distribution (hybrid/vector)
  - Top query terms
  - Zero-result queries
  - Latency distribution`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatsQueries(cmd.Context(), cmd, jsonOutput, days)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")

	return cmd
}

// StatsQueriesOutput is the JSON output format for query stats.
type StatsQueriesOutput struct {
	Summary             StatsQueriesSummary `json:"summary"`
	QueryModeCounts     map[string]int64    `json:"query_mode_counts"`
	TopTerms            []StatsTermCount    `json:"top_terms"`
	ZeroResultQueries   []string            `json:"zero_result_queries"`
	LatencyDistribution map[string]int64    `json:"latency_distribution"`
}

// StatsQueriesSummary provides overview statistics.
type StatsQueriesSummary struct {
	TotalQueries  int64   `json:"total_queries"`
	ZeroResultPct float64 `json:"zero_result_pct"`
}

// StatsTermCount represents a term and its frequency.
type StatsTermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

func runStatsQueries(ctx context.Context, cmd *cobra.Command, jsonOutput bool, days int) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if !fileExists(cfg.Storage.StoriesDBPath()) {
		return fmt.Errorf("no index found in %s\nRun 'storysearch index <stories.jsonl>' first", cfg.Storage.DataDir)
	}

	stories, err := store.NewSQLiteStore(cfg.Storage.StoriesDBPath())
	if err != nil {
		return fmt.Errorf("failed to open story store: %w", err)
	}
	defer func() { _ = stories.Close() }()

	// Telemetry tables live in the same database as the stories
	metricsStore, err := telemetry.NewSQLiteMetricsStore(stories.DB())
	if err != nil {
		return fmt.Errorf("failed to open metrics store: %w", err)
	}

	output, err := getQueryStats(metricsStore, days)
	if err != nil {
		return fmt.Errorf("failed to get query stats: %w", err)
	}

	if jsonOutput {
		return printStatsJSON(cmd, output)
	}

	return printStatsFormatted(cmd, output)
}

func getQueryStats(metricsStore *telemetry.SQLiteMetricsStore, days int) (*StatsQueriesOutput, error) {
	now := time.Now()
	from := now.AddDate(0, 0, -days).Format("2006-01-02")
	to := now.Format("2006-01-02")

	modeCounts, err := metricsStore.GetModeCounts(from, to)
	if err != nil {
		return nil, fmt.Errorf("get mode counts: %w", err)
	}

	topTerms, err := metricsStore.GetTopTerms(10)
	if err != nil {
		return nil, fmt.Errorf("get top terms: %w", err)
	}

	zeroResults, err := metricsStore.GetZeroResultQueries(10)
	if err != nil {
		return nil, fmt.Errorf("get zero-result queries: %w", err)
	}

	latencyCounts, err := metricsStore.GetLatencyCounts(from, to)
	if err != nil {
		return nil, fmt.Errorf("get latency counts: %w", err)
	}

	output := &StatsQueriesOutput{
		QueryModeCounts:     make(map[string]int64, len(modeCounts)),
		TopTerms:            make([]StatsTermCount, 0, len(topTerms)),
		ZeroResultQueries:   zeroResults,
		LatencyDistribution: make(map[string]int64, len(latencyCounts)),
	}

	for mode, count := range modeCounts {
		output.QueryModeCounts[string(mode)] = count
		output.Summary.TotalQueries += count
	}
	for bucket, count := range latencyCounts {
		output.LatencyDistribution[string(bucket)] = count
	}
	for _, tc := range topTerms {
		output.TopTerms = append(output.TopTerms, StatsTermCount{
			Term:  tc.Term,
			Count: tc.Count,
		})
	}
	if output.Summary.TotalQueries > 0 {
		output.Summary.ZeroResultPct = float64(len(zeroResults)) / float64(output.Summary.TotalQueries) * 100
	}

	return output, nil
}

func printStatsJSON(cmd *cobra.Command, output *StatsQueriesOutput) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

func printStatsFormatted(cmd *cobra.Command, output *StatsQueriesOutput) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "Query Statistics")
	fmt.Fprintln(w, "================")
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Total Queries: %d\n", output.Summary.TotalQueries)
	fmt.Fprintf(w, "Zero Results:  %.1f%%\n", output.Summary.ZeroResultPct)
	fmt.Fprintln(w)

	// Query Mode Distribution
	if len(output.QueryModeCounts) > 0 {
		fmt.Fprintln(w, "Query Mode Distribution:")
		for _, mode := range []string{string(telemetry.ModeHybrid), string(telemetry.ModeVector)} {
			if count, ok := output.QueryModeCounts[mode]; ok {
				fmt.Fprintf(w, "  %s: %d\n", mode, count)
			}
		}
		fmt.Fprintln(w)
	}

	// Top Query Terms
	if len(output.TopTerms) > 0 {
		fmt.Fprintln(w, "Top Query Terms:")
		for i, tc := range output.TopTerms {
			fmt.Fprintf(w, "  %d. %s (%d)\n", i+1, tc.Term, tc.Count)
		}
		fmt.Fprintln(w)
	} else {
		fmt.Fprintln(w, "Top Query Terms: (none recorded yet)")
		fmt.Fprintln(w)
	}

	// Zero-Result Queries
	if len(output.ZeroResultQueries) > 0 {
		fmt.Fprintln(w, "Recent Zero-Result Queries:")
		for _, q := range output.ZeroResultQueries {
			fmt.Fprintf(w, "  - \"%s\"\n", q)
		}
		fmt.Fprintln(w)
	} else {
		fmt.Fprintln(w, "Recent Zero-Result Queries: (none)")
		fmt.Fprintln(w)
	}

	// Latency Distribution
	if len(output.LatencyDistribution) > 0 {
		fmt.Fprintln(w, "Latency Distribution:")
		buckets := []string{"p10", "p50", "p100", "p500", "p1000"}
		labels := map[string]string{
			"p10":   "<10ms",
			"p50":   "10-50ms",
			"p100":  "50-100ms",
			"p500":  "100-500ms",
			"p1000": ">500ms",
		}
		for _, b := range buckets {
			if count, ok := output.LatencyDistribution[b]; ok {
				fmt.Fprintf(w, "  %s: %d\n", labels[b], count)
			}
		}
	}

	return nil
}
