// Package index provides indexing operations: corpus ingestion with
// incremental updates, and cross-store consistency checking.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/backlogic/storysearch/internal/embed"
	"github.com/backlogic/storysearch/internal/store"
)

// defaultEmbedBatchSize is texts per embedding request when the config
// does not say otherwise.
const defaultEmbedBatchSize = 32

// RunnerConfig configures an indexing run.
type RunnerConfig struct {
	// SourcePath is the stories JSONL file to ingest.
	SourcePath string

	// DataDir is the directory holding the persisted indexes and lock file.
	DataDir string

	// Force discards the existing index and rebuilds from scratch.
	Force bool

	// BatchSize is texts per embedding request (default 32).
	BatchSize int

	// InterBatchDelay is the cooling delay between embedding batches.
	InterBatchDelay time.Duration
}

// RunnerResult contains the outcome of an indexing run.
type RunnerResult struct {
	// Stories is the corpus size after the run.
	Stories int

	// Added, Updated, Removed, Unchanged partition the corpus against
	// what was already indexed.
	Added     int
	Updated   int
	Removed   int
	Unchanged int

	// Skipped counts malformed source records.
	Skipped int

	// Duration is the total indexing time.
	Duration time.Duration

	// Forced indicates a from-scratch rebuild.
	Forced bool
}

// RunnerDependencies contains the injected dependencies for Runner.
type RunnerDependencies struct {
	// Stories is the story store (required).
	Stories store.StoryStore

	// BM25 index for keyword search (required).
	BM25 store.BM25Index

	// Vector store for semantic search (required).
	Vector store.VectorStore

	// Embedder for generating embeddings (required).
	Embedder embed.Embedder
}

// Runner executes indexing runs against injected stores.
type Runner struct {
	stories  store.StoryStore
	bm25     store.BM25Index
	vector   store.VectorStore
	embedder embed.Embedder
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Stories == nil {
		return nil, fmt.Errorf("story store is required")
	}
	if deps.BM25 == nil {
		return nil, fmt.Errorf("BM25 index is required")
	}
	if deps.Vector == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	return &Runner{
		stories:  deps.Stories,
		bm25:     deps.BM25,
		vector:   deps.Vector,
		embedder: deps.Embedder,
	}, nil
}

// stageTiming tracks duration for each indexing stage.
type stageTiming struct {
	load  time.Duration
	diff  time.Duration
	embed time.Duration
	index time.Duration
	save  time.Duration
}

// Run executes the full ingestion pipeline: load the corpus, diff it
// against the stored one, embed and index what changed, persist.
// Concurrent writers are excluded via the data-directory lock.
func (r *Runner) Run(ctx context.Context, cfg RunnerConfig) (*RunnerResult, error) {
	startTime := time.Now()
	var timing stageTiming

	if cfg.SourcePath == "" {
		return nil, fmt.Errorf("source path is required")
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultEmbedBatchSize
	}

	lock := store.NewIndexLock(cfg.DataDir)
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire index lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("another storysearch process holds the index lock (%s)", lock.Path())
	}
	defer func() { _ = lock.Unlock() }()

	if err := r.checkEmbedderCompatibility(ctx, cfg.Force); err != nil {
		return nil, err
	}

	if cfg.Force {
		if err := r.clearIndex(ctx); err != nil {
			return nil, fmt.Errorf("clear index for rebuild: %w", err)
		}
	}

	// Stage 1: load the corpus
	loadStart := time.Now()
	loaded, err := LoadStories(cfg.SourcePath)
	if err != nil {
		return nil, err
	}
	timing.load = time.Since(loadStart)

	// Stage 2: diff against the stored corpus
	diffStart := time.Now()
	changes, err := r.detectChanges(ctx, loaded.Stories)
	if err != nil {
		return nil, err
	}
	timing.diff = time.Since(diffStart)

	if changes.empty() {
		slog.Info("index up to date",
			slog.Int("stories", len(loaded.Stories)),
			slog.Int("skipped", loaded.Skipped))
		return &RunnerResult{
			Stories:   len(loaded.Stories),
			Unchanged: changes.unchanged,
			Skipped:   loaded.Skipped,
			Duration:  time.Since(startTime),
			Forced:    cfg.Force,
		}, nil
	}

	// Stage 3: apply removals everywhere before upserts, so a story
	// renamed to an existing ID never races its own deletion
	if len(changes.removed) > 0 {
		if err := r.stories.Delete(ctx, changes.removed); err != nil {
			return nil, fmt.Errorf("delete removed stories: %w", err)
		}
		if err := r.bm25.Delete(ctx, changes.removed); err != nil {
			return nil, fmt.Errorf("delete removed stories from BM25: %w", err)
		}
		if err := r.vector.Delete(ctx, changes.removed); err != nil {
			return nil, fmt.Errorf("delete removed story vectors: %w", err)
		}
	}

	upserts := changes.upserts()
	if len(upserts) > 0 {
		if err := r.stories.Put(ctx, upserts); err != nil {
			return nil, fmt.Errorf("save stories: %w", err)
		}

		// Stage 4: embed changed stories
		embedStart := time.Now()
		vectors, err := r.embedStories(ctx, upserts, batchSize, cfg.InterBatchDelay)
		if err != nil {
			return nil, err
		}
		timing.embed = time.Since(embedStart)

		// Stage 5: index changed stories
		indexStart := time.Now()
		ids := make([]string, len(upserts))
		docs := make([]*store.Document, len(upserts))
		for i, s := range upserts {
			ids[i] = s.ID
			docs[i] = &store.Document{ID: s.ID, Content: s.SearchText()}
		}
		if err := r.bm25.Index(ctx, docs); err != nil {
			return nil, fmt.Errorf("index stories in BM25: %w", err)
		}
		if err := r.vector.Add(ctx, ids, vectors); err != nil {
			return nil, fmt.Errorf("add story vectors: %w", err)
		}
		timing.index = time.Since(indexStart)
	}

	// Stage 6: persist indexes and index state
	saveStart := time.Now()
	if err := r.saveIndexes(cfg.DataDir); err != nil {
		return nil, err
	}
	if err := r.storeIndexState(ctx); err != nil {
		slog.Warn("failed to store index state", slog.String("error", err.Error()))
	}
	timing.save = time.Since(saveStart)

	duration := time.Since(startTime)

	storiesPerSec := 0.0
	if timing.embed.Seconds() > 0 {
		storiesPerSec = float64(len(upserts)) / timing.embed.Seconds()
	}

	slog.Info("index_complete",
		slog.Int("stories", len(loaded.Stories)),
		slog.Int("added", len(changes.added)),
		slog.Int("updated", len(changes.updated)),
		slog.Int("removed", len(changes.removed)),
		slog.Int("unchanged", changes.unchanged),
		slog.Int("skipped", loaded.Skipped),
		slog.Int64("duration_total_ms", duration.Milliseconds()),
		slog.Int64("duration_load_ms", timing.load.Milliseconds()),
		slog.Int64("duration_diff_ms", timing.diff.Milliseconds()),
		slog.Int64("duration_embed_ms", timing.embed.Milliseconds()),
		slog.Int64("duration_index_ms", timing.index.Milliseconds()),
		slog.Int64("duration_save_ms", timing.save.Milliseconds()),
		slog.String("embedder_model", r.embedder.ModelName()),
		slog.Int("embedder_dimensions", r.embedder.Dimensions()),
		slog.Float64("stories_per_sec", storiesPerSec),
		slog.String("source", cfg.SourcePath))

	return &RunnerResult{
		Stories:   len(loaded.Stories),
		Added:     len(changes.added),
		Updated:   len(changes.updated),
		Removed:   len(changes.removed),
		Unchanged: changes.unchanged,
		Skipped:   loaded.Skipped,
		Duration:  duration,
		Forced:    cfg.Force,
	}, nil
}

// changeSet partitions an incoming corpus against the stored one.
type changeSet struct {
	added     []*store.Story
	updated   []*store.Story
	removed   []string
	unchanged int
}

func (cs *changeSet) empty() bool {
	return len(cs.added) == 0 && len(cs.updated) == 0 && len(cs.removed) == 0
}

// upserts returns the stories that need embedding and indexing.
func (cs *changeSet) upserts() []*store.Story {
	out := make([]*store.Story, 0, len(cs.added)+len(cs.updated))
	out = append(out, cs.added...)
	out = append(out, cs.updated...)
	return out
}

// detectChanges compares the incoming corpus with the stored one by
// content fingerprint. Stories absent from the source are removals; the
// source file is the corpus, not a partial feed.
func (r *Runner) detectChanges(ctx context.Context, incoming []*store.Story) (*changeSet, error) {
	storedIDs, err := r.stories.AllIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored stories: %w", err)
	}

	stored, err := r.stories.GetBatch(ctx, storedIDs)
	if err != nil {
		return nil, fmt.Errorf("load stored stories: %w", err)
	}

	fingerprints := make(map[string]string, len(stored))
	for _, s := range stored {
		fingerprints[s.ID] = storyFingerprint(s)
	}

	cs := &changeSet{}
	incomingIDs := make(map[string]bool, len(incoming))
	for _, s := range incoming {
		incomingIDs[s.ID] = true
		prev, exists := fingerprints[s.ID]
		switch {
		case !exists:
			cs.added = append(cs.added, s)
		case prev != storyFingerprint(s):
			cs.updated = append(cs.updated, s)
		default:
			cs.unchanged++
		}
	}

	for _, id := range storedIDs {
		if !incomingIDs[id] {
			cs.removed = append(cs.removed, id)
		}
	}
	sort.Strings(cs.removed)

	return cs, nil
}

// storyFingerprint hashes every field that feeds the indexes or the
// response payload. Any change re-embeds the story; one story is one
// embedding call, so per-field precision is not worth tracking.
func storyFingerprint(s *store.Story) string {
	parts := []string{s.Title, s.Content, s.Project, s.Priority, s.Risk, strings.Join(s.Labels, ",")}
	if len(s.Metadata) > 0 {
		keys := make([]string, 0, len(s.Metadata))
		for k := range s.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, k+"="+s.Metadata[k])
		}
	}
	return hashString(strings.Join(parts, "\x1f"))
}

// embedStories generates embeddings in batches, checking cancellation
// between batches so an interrupt leaves the store consistent.
func (r *Runner) embedStories(ctx context.Context, stories []*store.Story, batchSize int, interBatchDelay time.Duration) ([][]float32, error) {
	vectors := make([][]float32, 0, len(stories))

	for batchStart := 0; batchStart < len(stories); batchStart += batchSize {
		select {
		case <-ctx.Done():
			slog.Info("index_interrupted",
				slog.Int("embedded", len(vectors)),
				slog.Int("total", len(stories)))
			return nil, fmt.Errorf("indexing interrupted at %d/%d stories: %w", len(vectors), len(stories), ctx.Err())
		default:
		}

		batchEnd := batchStart + batchSize
		if batchEnd > len(stories) {
			batchEnd = len(stories)
		}
		batch := stories[batchStart:batchEnd]

		texts := make([]string, len(batch))
		for i, s := range batch {
			texts[i] = s.SearchText()
		}

		batchVectors, err := r.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed stories %d-%d: %w", batchStart, batchEnd, err)
		}
		if len(batchVectors) != len(batch) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d stories", len(batchVectors), len(batch))
		}
		vectors = append(vectors, batchVectors...)

		slog.Debug("embedding_progress",
			slog.Int("embedded", len(vectors)),
			slog.Int("total", len(stories)))

		// Inter-batch cooling delay (thermal management)
		if interBatchDelay > 0 && batchEnd < len(stories) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(interBatchDelay):
			}
		}
	}

	return vectors, nil
}

// checkEmbedderCompatibility refuses to mix embedding spaces. Vectors
// from different models or dimensions do not compare, so a changed
// embedder requires a full rebuild.
func (r *Runner) checkEmbedderCompatibility(ctx context.Context, force bool) error {
	if force {
		return nil
	}

	indexModel, err := r.stories.GetState(ctx, store.StateKeyIndexModel)
	if err != nil {
		return fmt.Errorf("read index model state: %w", err)
	}
	indexDim, err := r.stories.GetState(ctx, store.StateKeyIndexDimension)
	if err != nil {
		return fmt.Errorf("read index dimension state: %w", err)
	}

	currentModel := r.embedder.ModelName()
	currentDim := strconv.Itoa(r.embedder.Dimensions())

	if indexModel != "" && indexModel != currentModel {
		return fmt.Errorf("index was built with embedder '%s' but current embedder is '%s': "+
			"run 'storysearch index --force' to rebuild, or restore the original embedder",
			indexModel, currentModel)
	}
	if indexDim != "" && indexDim != currentDim {
		return fmt.Errorf("index holds %s-dimensional vectors but current embedder produces %s: "+
			"run 'storysearch index --force' to rebuild", indexDim, currentDim)
	}

	return nil
}

// clearIndex drops every stored story and index entry ahead of a
// forced rebuild.
func (r *Runner) clearIndex(ctx context.Context) error {
	ids, err := r.stories.AllIDs(ctx)
	if err != nil {
		return fmt.Errorf("list stories: %w", err)
	}
	if len(ids) > 0 {
		if err := r.stories.Delete(ctx, ids); err != nil {
			return fmt.Errorf("delete stories: %w", err)
		}
	}

	bm25IDs, err := r.bm25.AllIDs()
	if err != nil {
		return fmt.Errorf("list BM25 entries: %w", err)
	}
	if len(bm25IDs) > 0 {
		if err := r.bm25.Delete(ctx, bm25IDs); err != nil {
			return fmt.Errorf("clear BM25 index: %w", err)
		}
	}

	if vectorIDs := r.vector.AllIDs(); len(vectorIDs) > 0 {
		if err := r.vector.Delete(ctx, vectorIDs); err != nil {
			return fmt.Errorf("clear vector store: %w", err)
		}
	}

	slog.Info("index cleared for rebuild", slog.Int("stories", len(ids)))
	return nil
}

// saveIndexes persists both indexes under the data directory, using the
// same layout the serve and search commands open on startup.
func (r *Runner) saveIndexes(dataDir string) error {
	if err := r.bm25.Save(filepath.Join(dataDir, "bm25")); err != nil {
		return fmt.Errorf("save BM25 index: %w", err)
	}
	if err := r.vector.Save(filepath.Join(dataDir, "vectors.hnsw")); err != nil {
		return fmt.Errorf("save vector store: %w", err)
	}
	return nil
}

// storeIndexState records the embedding space and rebuild time so later
// runs and searches can detect an embedder change.
func (r *Runner) storeIndexState(ctx context.Context) error {
	dim := strconv.Itoa(r.embedder.Dimensions())
	model := r.embedder.ModelName()

	if err := r.stories.SetState(ctx, store.StateKeyIndexDimension, dim); err != nil {
		return fmt.Errorf("store index dimension: %w", err)
	}
	if err := r.stories.SetState(ctx, store.StateKeyIndexModel, model); err != nil {
		return fmt.Errorf("store index model: %w", err)
	}
	if err := r.stories.SetState(ctx, store.StateKeyIndexedAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("store index timestamp: %w", err)
	}

	return nil
}

// hashString returns SHA256 hash of a string (first 16 chars).
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}
