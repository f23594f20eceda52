package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

var errVectorStoreClosed = errors.New("vector store is closed")

// HNSWStore keeps story embeddings in a coder/hnsw graph in memory and
// persists the graph plus an ID sidecar to disk. Story IDs are strings;
// the graph keys are uint64, so the store maintains the mapping both ways.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	keyByID map[string]uint64
	idByKey map[uint64]string
	keySeq  uint64

	closed bool
}

// hnswSidecar is the gob-encoded companion file holding the ID mapping and
// the config the graph was built with.
type hnswSidecar struct {
	KeyByID map[string]uint64
	KeySeq  uint64
	Config  VectorStoreConfig
}

// NewHNSWStore builds an empty vector store. Zero-valued config fields get
// the defaults from DefaultVectorStoreConfig.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	graph := hnsw.NewGraph[uint64]()
	if cfg.Metric == "l2" {
		graph.Distance = hnsw.EuclideanDistance
	} else {
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25 // level generation factor, roughly 1/ln(M)

	return &HNSWStore{
		graph:   graph,
		config:  cfg,
		keyByID: make(map[string]uint64),
		idByKey: make(map[uint64]string),
	}, nil
}

// Add inserts vectors under their story IDs. An existing ID is replaced:
// its old graph node is orphaned rather than removed, because deleting the
// last node corrupts a coder/hnsw graph. Orphans never surface in results
// and a forced reindex reclaims them.
func (s *HNSWStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errVectorStoreClosed
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		if oldKey, exists := s.keyByID[id]; exists {
			delete(s.idByKey, oldKey)
			delete(s.keyByID, id)
		}

		key := s.keySeq
		s.keySeq++

		s.graph.Add(hnsw.MakeNode(key, s.prepared(vectors[i])))
		s.keyByID[id] = key
		s.idByKey[key] = id
	}

	return nil
}

// Search returns up to k nearest stories to the query vector, best first.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errVectorStoreClosed
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	q := s.prepared(query)
	nodes := s.graph.Search(q, k)

	results := make([]*VectorResult, 0, len(nodes))
	for _, node := range nodes {
		id, live := s.idByKey[node.Key]
		if !live {
			// Orphaned node from a replacement or delete.
			continue
		}
		dist := s.graph.Distance(q, node.Value)
		results = append(results, &VectorResult{
			ID:       id,
			Distance: dist,
			Score:    similarityScore(dist, s.config.Metric),
		})
	}
	return results, nil
}

// Delete unmaps the given story IDs. Their graph nodes stay behind as
// orphans, invisible to Search.
func (s *HNSWStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errVectorStoreClosed
	}

	for _, id := range ids {
		if key, exists := s.keyByID[id]; exists {
			delete(s.idByKey, key)
			delete(s.keyByID, id)
		}
	}
	return nil
}

// AllIDs returns the live story IDs, for consistency checks.
func (s *HNSWStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}
	ids := make([]string, 0, len(s.keyByID))
	for id := range s.keyByID {
		ids = append(ids, id)
	}
	return ids
}

// Contains reports whether a story ID has a live vector.
func (s *HNSWStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	_, ok := s.keyByID[id]
	return ok
}

// Count returns the number of live vectors.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	return len(s.keyByID)
}

// HNSWStats describes live vectors versus graph nodes. The difference is
// the orphan count left behind by replacements and deletes.
type HNSWStats struct {
	ValidIDs   int
	GraphNodes int
	Orphans    int
}

// Stats reports graph occupancy. A growing orphan count is the signal to
// run a forced reindex.
func (s *HNSWStore) Stats() HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return HNSWStats{}
	}
	live := len(s.keyByID)
	nodes := s.graph.Len()
	return HNSWStats{ValidIDs: live, GraphNodes: nodes, Orphans: nodes - live}
}

// Save writes the graph to path and the ID sidecar to path+".meta". Both
// writes go through a temp file and rename so a crash never leaves a
// half-written index.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return errVectorStoreClosed
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := writeAtomic(path, func(w io.Writer) error {
		return s.graph.Export(w)
	}); err != nil {
		return fmt.Errorf("failed to export graph: %w", err)
	}

	sidecar := hnswSidecar{KeyByID: s.keyByID, KeySeq: s.keySeq, Config: s.config}
	if err := writeAtomic(path+".meta", func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(sidecar)
	}); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

// Load restores a store previously written by Save. The sidecar is read
// first so the config (and with it the expected dimensions) comes from the
// on-disk index, not from whatever the caller constructed the store with.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errVectorStoreClosed
	}

	sidecar, err := readSidecar(path + ".meta")
	if err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}
	s.keyByID = sidecar.KeyByID
	s.keySeq = sidecar.KeySeq
	s.config = sidecar.Config
	s.idByKey = make(map[uint64]string, len(s.keyByID))
	for id, key := range s.keyByID {
		s.idByKey[key] = id
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	// Import needs an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}
	return nil
}

// Close marks the store closed. The graph is garbage once dropped; there is
// no file handle to release.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

// prepared copies v, unit-normalizing the copy when the metric is cosine.
func (s *HNSWStore) prepared(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(out)
	}
	return out
}

// ReadHNSWStoreDimensions reads the embedding dimension recorded in the
// sidecar of a saved vector store, or 0 when no index exists yet. Indexing
// uses this to detect an embedding model change before touching the graph.
func ReadHNSWStoreDimensions(vectorPath string) (int, error) {
	sidecar, err := readSidecar(vectorPath + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read hnsw metadata: %w", err)
	}
	return sidecar.Config.Dimensions, nil
}

func readSidecar(path string) (*hnswSidecar, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var sidecar hnswSidecar
	if err := gob.NewDecoder(file).Decode(&sidecar); err != nil {
		return nil, fmt.Errorf("decode hnsw metadata: %w", err)
	}
	return &sidecar, nil
}

// writeAtomic writes via fn into path+".tmp" and renames over path.
func writeAtomic(path string, fn func(io.Writer) error) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := fn(file); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

var _ VectorStore = (*HNSWStore)(nil)

// normalizeVectorInPlace scales v to unit length. The zero vector is left
// alone.
func normalizeVectorInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// similarityScore maps a distance to a 0-1 similarity. Cosine distance
// spans 0-2, so score = 1 - d/2; for L2 the score decays as 1/(1+d).
func similarityScore(distance float32, metric string) float32 {
	if metric == "l2" {
		return 1.0 / (1.0 + distance)
	}
	return 1.0 - distance/2.0
}
