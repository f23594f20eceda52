package integration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/backlogic/storysearch/internal/embed"
	"github.com/backlogic/storysearch/internal/index"
	"github.com/backlogic/storysearch/internal/search"
	"github.com/backlogic/storysearch/internal/store"
)

// These tests run the real pipeline end to end: JSONL corpus -> runner
// (embed + BM25 + vector) -> engine search, using on-disk stores.

const (
	storyPassword = `{"id":"US-101","title":"Password reset","content":"As a user I want to reset my forgotten password via an emailed link so that I can regain access without support.","project":"auth","priority":"high","labels":["security"]}`
	storyExport   = `{"id":"US-102","title":"Export usage report","content":"As an analyst I want to export usage reports as CSV so that I can build quarterly dashboards.","project":"reporting","priority":"medium","labels":["analytics"]}`
	storyTwoFA    = `{"id":"US-103","title":"Two-factor login","content":"As a user I want a one-time code on login so that my account stays safe on shared machines.","project":"auth","priority":"high","labels":["security"]}`
	storyCheckout = `{"id":"US-104","title":"Abandoned checkout reminder","content":"As a shopper I want a reminder email when I leave items in my cart so that I can finish the purchase later.","project":"growth","priority":"low","labels":["email"]}`
)

func writeCorpus(t *testing.T, path string, lines ...string) {
	t.Helper()
	content := strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// searchRig wires real stores, a runner and an engine over one data dir.
type searchRig struct {
	dataDir string
	source  string
	runner  *index.Runner
	engine  *search.Engine

	closeOnce sync.Once
	closeErr  error
}

// close shuts the engine down (which closes the underlying stores).
func (r *searchRig) close() error {
	r.closeOnce.Do(func() { r.closeErr = r.engine.Close() })
	return r.closeErr
}

func newSearchRig(t *testing.T) *searchRig {
	t.Helper()

	tmpDir := t.TempDir()
	dataDir := filepath.Join(tmpDir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0755))

	stories, err := store.NewSQLiteStore(filepath.Join(dataDir, "stories.db"))
	require.NoError(t, err)

	bm25, err := store.NewBM25IndexWithBackend(filepath.Join(dataDir, "bm25"), store.DefaultBM25Config(), "bleve")
	require.NoError(t, err)

	embedder := embed.NewStaticEmbedderWithDimensions(768)

	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	require.NoError(t, err)

	runner, err := index.NewRunner(index.RunnerDependencies{
		Stories:  stories,
		BM25:     bm25,
		Vector:   vector,
		Embedder: embedder,
	})
	require.NoError(t, err)

	engine, err := search.NewEngine(
		search.WithBM25Index(bm25),
		search.WithVectorStore(vector),
		search.WithStoryStore(stories),
		search.WithEmbedder(embedder),
		search.WithConfig(search.EngineConfig{
			DefaultLimit:    10,
			MaxLimit:        100,
			BM25Ratio:       0.5,
			FetchMultiplier: 2,
			DedupThreshold:  1.0,
			RerankTopK:      10,
		}),
	)
	require.NoError(t, err)

	rig := &searchRig{
		dataDir: dataDir,
		source:  filepath.Join(tmpDir, "stories.jsonl"),
		runner:  runner,
		engine:  engine,
	}
	t.Cleanup(func() { _ = rig.close() })
	return rig
}

// reindex runs an incremental indexing pass over the rig's source file.
func (r *searchRig) reindex(t *testing.T) *index.RunnerResult {
	t.Helper()
	result, err := r.runner.Run(context.Background(), index.RunnerConfig{
		SourcePath: r.source,
		DataDir:    r.dataDir,
	})
	require.NoError(t, err)
	return result
}

func resultIDs(resp *search.SearchResponse) []string {
	ids := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Story != nil {
			ids = append(ids, r.Story.ID)
		}
	}
	return ids
}

func TestIndexThenSearch_FindsMatchingStory(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a freshly indexed corpus
	rig := newSearchRig(t)
	writeCorpus(t, rig.source, storyPassword, storyExport, storyTwoFA, storyCheckout)
	result := rig.reindex(t)
	require.Equal(t, 4, result.Added)

	// When: searching for a phrase from one story
	resp, err := rig.engine.HybridSearch(context.Background(), "reset forgotten password email", search.SearchOptions{Limit: 10})

	// Then: that story ranks first with a populated source and score
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	top := resp.Results[0]
	require.NotNil(t, top.Story)
	assert.Equal(t, "US-101", top.Story.ID)
	assert.Equal(t, "Password reset", top.Story.Title)
	assert.NotEmpty(t, top.Source)
	assert.Greater(t, top.FinalScore, 0.0)
	assert.GreaterOrEqual(t, resp.TotalCount, 1)
}

func TestReindexAfterRemoval_ExcludesRemovedStory(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an indexed corpus of four stories
	rig := newSearchRig(t)
	writeCorpus(t, rig.source, storyPassword, storyExport, storyTwoFA, storyCheckout)
	rig.reindex(t)

	// When: one story disappears from the corpus and it is reindexed
	writeCorpus(t, rig.source, storyPassword, storyTwoFA, storyCheckout)
	result := rig.reindex(t)
	require.Equal(t, 1, result.Removed)

	// Then: searching its exact vocabulary no longer surfaces it
	resp, err := rig.engine.HybridSearch(context.Background(), "export usage report CSV", search.SearchOptions{Limit: 10})
	require.NoError(t, err)
	assert.NotContains(t, resultIDs(resp), "US-102")
}

func TestEmptyCorpus_SearchReturnsNoResults(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an index built from an empty corpus
	rig := newSearchRig(t)
	writeCorpus(t, rig.source)
	result := rig.reindex(t)
	require.Equal(t, 0, result.Stories)

	// When: searching it
	resp, err := rig.engine.HybridSearch(context.Background(), "anything at all", search.SearchOptions{Limit: 10})

	// Then: the empty result set comes back without error
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 0, resp.TotalCount)
}

func TestPerRequestRatio_PureBM25RanksKeywordMatchFirst(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an indexed corpus
	rig := newSearchRig(t)
	writeCorpus(t, rig.source, storyPassword, storyExport, storyTwoFA, storyCheckout)
	rig.reindex(t)

	// When: searching with the lexical weight pinned to 1.0
	ratio := 1.0
	resp, err := rig.engine.HybridSearch(context.Background(), "export usage report", search.SearchOptions{
		Limit:     10,
		BM25Ratio: &ratio,
	})

	// Then: the keyword match wins
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	require.NotNil(t, resp.Results[0].Story)
	assert.Equal(t, "US-102", resp.Results[0].Story.ID)
}

func TestConcurrentSearches_NoRace(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an indexed corpus
	rig := newSearchRig(t)
	writeCorpus(t, rig.source, storyPassword, storyExport, storyTwoFA, storyCheckout)
	rig.reindex(t)

	queries := []string{
		"password reset",
		"usage report",
		"two factor code",
		"cart reminder email",
	}

	// When: running many searches in parallel
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		query := queries[i%len(queries)]
		g.Go(func() error {
			_, err := rig.engine.HybridSearch(context.Background(), query, search.SearchOptions{Limit: 5})
			return err
		})
	}

	// Then: all of them complete cleanly
	require.NoError(t, g.Wait())
}

func TestPersistedIndex_ReopenAndSearch(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an indexed corpus whose stores have been closed
	rig := newSearchRig(t)
	writeCorpus(t, rig.source, storyPassword, storyExport)
	rig.reindex(t)
	require.NoError(t, rig.close())

	// When: reopening everything from disk the way the serve command does
	stories, err := store.NewSQLiteStore(filepath.Join(rig.dataDir, "stories.db"))
	require.NoError(t, err)

	bm25Base := filepath.Join(rig.dataDir, "bm25")
	backend := string(store.DetectBM25Backend(bm25Base))
	require.NotEmpty(t, backend, "the BM25 index should be detectable on disk")
	bm25, err := store.NewBM25IndexWithBackend(bm25Base, store.DefaultBM25Config(), backend)
	require.NoError(t, err)

	vectorPath := filepath.Join(rig.dataDir, "vectors.hnsw")
	dims, err := store.ReadHNSWStoreDimensions(vectorPath)
	require.NoError(t, err)
	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	require.NoError(t, err)
	require.NoError(t, vector.Load(vectorPath))

	embedder := embed.NewStaticEmbedderWithDimensions(dims)

	engine, err := search.NewEngine(
		search.WithBM25Index(bm25),
		search.WithVectorStore(vector),
		search.WithStoryStore(stories),
		search.WithEmbedder(embedder),
		search.WithConfig(search.EngineConfig{
			DefaultLimit:    10,
			MaxLimit:        100,
			BM25Ratio:       0.5,
			FetchMultiplier: 2,
			DedupThreshold:  1.0,
			RerankTopK:      10,
		}),
	)
	require.NoError(t, err)
	defer func() { _ = engine.Close() }()

	// Then: the reloaded index serves the same stories
	resp, err := engine.HybridSearch(context.Background(), "forgotten password", search.SearchOptions{Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	require.NotNil(t, resp.Results[0].Story)
	assert.Equal(t, "US-101", resp.Results[0].Story.ID)
}
