package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/backlogic/storysearch/internal/store"
)

// InconsistencyType categorizes cross-store drift.
type InconsistencyType int

const (
	// InconsistencyOrphanBM25 is a BM25 entry without a stored story.
	InconsistencyOrphanBM25 InconsistencyType = iota
	// InconsistencyOrphanVector is a vector entry without a stored story.
	InconsistencyOrphanVector
	// InconsistencyMissingBM25 is a stored story absent from BM25.
	InconsistencyMissingBM25
	// InconsistencyMissingVector is a stored story absent from the vector store.
	InconsistencyMissingVector
)

var inconsistencyNames = [...]string{
	InconsistencyOrphanBM25:    "orphan_bm25",
	InconsistencyOrphanVector:  "orphan_vector",
	InconsistencyMissingBM25:   "missing_bm25",
	InconsistencyMissingVector: "missing_vector",
}

func (t InconsistencyType) String() string {
	if t < 0 || int(t) >= len(inconsistencyNames) {
		return "unknown"
	}
	return inconsistencyNames[t]
}

// Inconsistency is one detected drift between stores.
type Inconsistency struct {
	Type    InconsistencyType
	StoryID string
	Details string
}

// CheckResult is the outcome of a full consistency check.
type CheckResult struct {
	// Checked is the number of stories verified.
	Checked int
	// Inconsistencies lists every detected drift.
	Inconsistencies []Inconsistency
	// Duration is how long the check took.
	Duration time.Duration
}

// ConsistencyChecker cross-checks the story store against the BM25 and
// vector indexes. The story store is the source of truth: index entries
// without a backing story are orphans, stored stories the indexes lack
// are missing.
type ConsistencyChecker struct {
	stories store.StoryStore
	bm25    store.BM25Index
	vector  store.VectorStore
}

func NewConsistencyChecker(stories store.StoryStore, bm25 store.BM25Index, vector store.VectorStore) *ConsistencyChecker {
	return &ConsistencyChecker{stories: stories, bm25: bm25, vector: vector}
}

// idSet builds a membership set from a slice of story IDs.
func idSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// orphansIn flags every id not backed by a stored story.
func orphansIn(ids []string, stored map[string]bool, typ InconsistencyType, details string) []Inconsistency {
	var found []Inconsistency
	for _, id := range ids {
		if !stored[id] {
			found = append(found, Inconsistency{Type: typ, StoryID: id, Details: details})
		}
	}
	return found
}

// Check scans all three stores. O(n) in the total entry count.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()

	storedIDs, err := c.stories.AllIDs(ctx)
	if err != nil {
		return nil, err
	}
	stored := idSet(storedIDs)

	bm25IDs, err := c.bm25.AllIDs()
	if err != nil {
		// Scan what we can; the missing pass below flags the gap.
		slog.Warn("failed to get BM25 IDs for consistency check", slog.String("error", err.Error()))
	}
	vectorIDs := c.vector.AllIDs()

	issues := orphansIn(bm25IDs, stored, InconsistencyOrphanBM25, "BM25 entry without a stored story")
	issues = append(issues, orphansIn(vectorIDs, stored, InconsistencyOrphanVector, "vector entry without a stored story")...)

	inBM25, inVector := idSet(bm25IDs), idSet(vectorIDs)
	for _, id := range storedIDs {
		if !inBM25[id] {
			issues = append(issues, Inconsistency{Type: InconsistencyMissingBM25, StoryID: id, Details: "story missing from BM25 index"})
		}
		if !inVector[id] {
			issues = append(issues, Inconsistency{Type: InconsistencyMissingVector, StoryID: id, Details: "story missing from vector store"})
		}
	}

	return &CheckResult{
		Checked:         len(storedIDs),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// Repair deletes orphaned index entries, best-effort. Missing entries
// cannot be fabricated in place; they need a reindex and are only
// reported.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) error {
	byType := make(map[InconsistencyType][]string)
	for _, issue := range issues {
		byType[issue.Type] = append(byType[issue.Type], issue.StoryID)
	}

	c.deleteOrphans(ctx, "bm25", c.bm25.Delete, byType[InconsistencyOrphanBM25])
	c.deleteOrphans(ctx, "vector", c.vector.Delete, byType[InconsistencyOrphanVector])

	if missing := len(byType[InconsistencyMissingBM25]) + len(byType[InconsistencyMissingVector]); missing > 0 {
		slog.Warn("index has missing entries, run 'storysearch index --force' to rebuild",
			slog.Int("missing_count", missing))
	}
	return nil
}

func (c *ConsistencyChecker) deleteOrphans(ctx context.Context, name string, del func(context.Context, []string) error, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := del(ctx, ids); err != nil {
		slog.Warn("failed to delete orphan entries",
			slog.String("index", name),
			slog.Int("count", len(ids)),
			slog.String("error", err.Error()))
		return
	}
	slog.Info("deleted orphan entries", slog.String("index", name), slog.Int("count", len(ids)))
}

// QuickCheck compares entry counts only. Cheap enough to run at startup;
// a false return means the full Check should run.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context) (bool, error) {
	storyCount, err := c.stories.Count(ctx)
	if err != nil {
		return false, err
	}

	bm25Count := 0
	if stats := c.bm25.Stats(); stats != nil {
		bm25Count = stats.DocumentCount
	}
	vectorCount := c.vector.Count()

	if storyCount != bm25Count || storyCount != vectorCount {
		slog.Debug("index counts mismatch",
			slog.Int("stories", storyCount),
			slog.Int("bm25", bm25Count),
			slog.Int("vector", vectorCount))
		return false, nil
	}
	return true, nil
}
