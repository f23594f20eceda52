package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/backlogic/storysearch/internal/config"
	"github.com/backlogic/storysearch/internal/embed"
	"github.com/backlogic/storysearch/internal/index"
	"github.com/backlogic/storysearch/internal/logging"
	"github.com/backlogic/storysearch/internal/output"
	"github.com/backlogic/storysearch/internal/store"
	"github.com/backlogic/storysearch/internal/watcher"
)

func newIndexCmd() *cobra.Command {
	var (
		force     bool
		watch     bool
		verify    bool
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "index <stories.jsonl>",
		Short: "Index a story corpus for searching",
		Long: `Index a JSONL file of user stories to enable hybrid search.

Each line is one story object (id, title, content, project, priority,
risk, labels). Indexing embeds every story and builds both the BM25
keyword index and the HNSW vector index. Re-running only processes
stories whose content changed; stories missing from the file are
removed from the index.

Use --force to discard the existing index and rebuild from scratch
(required after switching embedding models).
Use --watch to keep running and reindex whenever the file changes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Signal handling so Ctrl+C stops embedding mid-run and leaves
			// the stores consistent
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runIndex(ctx, cmd, args[0], force, watch, verify, batchSize)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Clear existing index and rebuild from scratch")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep running and reindex when the source file changes")
	cmd.Flags().BoolVar(&verify, "verify", false, "Cross-check stores after indexing and delete orphaned entries")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Stories per embedding request (default from config)")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, sourcePath string, force, watch, verify bool, batchSize int) error {
	// File-only logging so user-facing output stays clean
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}
	// Continue even if logging setup fails - not critical for CLI

	out := output.New(cmd.OutOrStdout())

	info, err := os.Stat(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to access source file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("source must be a JSONL file, got a directory: %s", sourcePath)
	}

	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if batchSize <= 0 {
		batchSize = cfg.Embedding.BatchSize
	}

	dataDir := cfg.Storage.DataDir
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// Story store
	stories, err := store.NewSQLiteStoreWithConfig(cfg.Storage.StoriesDBPath(),
		store.StoreConfig{CacheSizeMB: cfg.Storage.SQLiteCacheMB})
	if err != nil {
		return fmt.Errorf("failed to open story store: %w", err)
	}
	defer func() { _ = stories.Close() }()

	// BM25 index: keep the on-disk backend unless this is a forced rebuild
	backend := string(store.DetectBM25Backend(cfg.Storage.BM25BasePath()))
	if backend == "" || force {
		backend = cfg.Storage.BM25Backend
	}
	bm25, err := store.NewBM25IndexWithBackend(cfg.Storage.BM25BasePath(), store.DefaultBM25Config(), backend)
	if err != nil {
		return fmt.Errorf("failed to open BM25 index: %w", err)
	}
	defer func() { _ = bm25.Close() }()

	// Check context before potentially blocking embedder init
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// Embedder first, so the vector store gets the right dimensions
	embedder, err := embed.NewEmbedder(ctx, embed.Config{
		Provider:   cfg.Embedding.Provider,
		APIBase:    cfg.Embedding.APIBase,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		CacheSize:  cfg.Embedding.CacheSize,
		BatchSize:  batchSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	defer func() { _ = vector.Close() }()

	vectorPath := cfg.Storage.VectorPath()
	if !force && fileExists(vectorPath) {
		if loadErr := vector.Load(vectorPath); loadErr != nil {
			slog.Warn("vector_load_failed", slog.String("error", loadErr.Error()))
		}
	}

	runner, err := index.NewRunner(index.RunnerDependencies{
		Stories:  stories,
		BM25:     bm25,
		Vector:   vector,
		Embedder: embedder,
	})
	if err != nil {
		return fmt.Errorf("failed to create index runner: %w", err)
	}

	runnerCfg := index.RunnerConfig{
		SourcePath: sourcePath,
		DataDir:    dataDir,
		Force:      force,
		BatchSize:  batchSize,
	}

	if err := runIndexOnce(ctx, out, runner, runnerCfg); err != nil {
		return err
	}

	if verify {
		if err := verifyStores(ctx, out, stories, bm25, vector); err != nil {
			return err
		}
	}

	if !watch {
		return nil
	}

	// Later passes are always incremental; --force only applies to the first
	runnerCfg.Force = false
	return watchAndReindex(ctx, cmd, cfg, runner, runnerCfg)
}

// runIndexOnce executes a single indexing pass and reports the outcome.
func runIndexOnce(ctx context.Context, out *output.Writer, runner *index.Runner, cfg index.RunnerConfig) error {
	result, err := runner.Run(ctx, cfg)
	if err != nil {
		return err
	}

	if result.Added == 0 && result.Updated == 0 && result.Removed == 0 && !result.Forced {
		out.Statusf("✨", "Index up to date (%d stories)", result.Stories)
	} else {
		out.Successf("Indexed %d stories in %s", result.Stories, result.Duration.Round(time.Millisecond))
		out.Statusf("", "added %d, updated %d, removed %d, unchanged %d",
			result.Added, result.Updated, result.Removed, result.Unchanged)
	}
	if result.Skipped > 0 {
		out.Warningf("Skipped %d malformed records", result.Skipped)
	}

	return nil
}

// verifyStores cross-checks the three stores after an indexing pass,
// deleting orphaned index entries on the spot. Missing entries are only
// reported; they need a forced reindex.
func verifyStores(ctx context.Context, out *output.Writer, stories store.StoryStore, bm25 store.BM25Index, vector store.VectorStore) error {
	checker := index.NewConsistencyChecker(stories, bm25, vector)

	result, err := checker.Check(ctx)
	if err != nil {
		return fmt.Errorf("consistency check failed: %w", err)
	}

	if len(result.Inconsistencies) == 0 {
		out.Statusf("🔍", "Verified %d stories across stores (%s)", result.Checked, result.Duration.Round(time.Millisecond))
		return nil
	}

	out.Warningf("Found %d inconsistencies across stores", len(result.Inconsistencies))
	if err := checker.Repair(ctx, result.Inconsistencies); err != nil {
		return fmt.Errorf("repair failed: %w", err)
	}
	out.Statusf("🔧", "Deleted orphaned entries; run with --force if stories are missing from an index")
	return nil
}

// watchAndReindex blocks watching the source file, rerunning the indexer
// whenever a debounced change batch arrives. Returns when ctx is cancelled.
func watchAndReindex(ctx context.Context, cmd *cobra.Command, cfg *config.Config, runner *index.Runner, runnerCfg index.RunnerConfig) error {
	out := output.New(cmd.OutOrStdout())

	w, err := watcher.NewCorpusWatcher(watcher.Options{
		DebounceWindow: cfg.WatchDebounce(),
	})
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = w.Stop() }()

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- w.Start(ctx, runnerCfg.SourcePath)
	}()

	out.Statusf("👀", "Watching %s (%s); Ctrl+C to stop", runnerCfg.SourcePath, w.Mode())

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-watchErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("watcher stopped: %w", err)
			}
			return nil

		case events, ok := <-w.Events():
			if !ok {
				return nil
			}
			if watcher.AllDeletes(events) {
				// An editor save usually replaces the file; a lone delete
				// means it is actually gone. Keep watching for recreation.
				out.Warningf("Source file removed; waiting for it to reappear")
				continue
			}

			slog.Info("source_changed", slog.Int("events", len(events)))
			if err := runIndexOnce(ctx, out, runner, runnerCfg); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				// Transient failures (file mid-write, embedder hiccup) should
				// not kill watch mode
				out.Errorf("Reindex failed: %v", err)
				slog.Error("watch_reindex_failed", slog.String("error", err.Error()))
			}

		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			slog.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}
}
