// Package vectorindex is a fixed-dimension L2 index with a gob-encoded
// sidecar file, backing the indexer's batch inserts and the similarity
// service's coarse preselection. It assigns faiss ids sequentially
// starting at ntotal and persists after every add, implemented as a flat
// L2 scan rather than an HNSW/faiss binding.
package vectorindex

import (
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
)

// Match is one search result: a tune id and its L2 distance to the query.
type Match struct {
	TuneID   int64
	Distance float64
}

// Index is a flat, in-memory L2 vector index with faiss-id-keyed
// sidecar persistence. Safe for concurrent use.
type Index struct {
	mu        sync.RWMutex
	dimension int
	path      string

	// vectors[i] corresponds to faissID i; tuneIDs[i] is the owning tune.
	vectors []([]float32)
	tuneIDs []int64
}

type snapshot struct {
	Dimension int
	Vectors   [][]float32
	TuneIDs   []int64
}

// Open loads path if it exists, or starts a new empty index of the given
// dimension.
func Open(path string, dimension int) (*Index, error) {
	idx := &Index{dimension: dimension, path: path}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open vector index %s: %w", path, err)
	}
	defer f.Close()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode vector index %s: %w", path, err)
	}
	idx.dimension = snap.Dimension
	idx.vectors = snap.Vectors
	idx.tuneIDs = snap.TuneIDs
	return idx, nil
}

// Count returns the number of vectors currently held (== ntotal in the
// original's FAISS terminology).
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

// Add appends vectors in order, assigning contiguous faiss ids starting
// at the pre-insert count, and persists the index to its sidecar file
// before returning. Callers must write the faiss_id<->tune_id mapping to
// the transactional store themselves: the index add and the mapping
// write must not diverge, so the caller writes the mapping after Add and
// rolls the add back with TruncateTo if the mapping write fails.
func (idx *Index) Add(tuneIDs []int64, vectors [][]float32) (startFaissID int64, err error) {
	if len(tuneIDs) != len(vectors) {
		return 0, fmt.Errorf("tune id count %d does not match vector count %d", len(tuneIDs), len(vectors))
	}
	if len(tuneIDs) == 0 {
		return 0, nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	start := int64(len(idx.vectors))
	idx.vectors = append(idx.vectors, vectors...)
	idx.tuneIDs = append(idx.tuneIDs, tuneIDs...)

	if err := idx.saveLocked(); err != nil {
		// Roll back the in-memory append so a failed persist never leaves
		// the index diverged from its sidecar file.
		idx.vectors = idx.vectors[:start]
		idx.tuneIDs = idx.tuneIDs[:start]
		return 0, err
	}
	return start, nil
}

// TruncateTo drops every vector with faiss id >= faissID and persists
// the result. Callers use this to roll back a batch whose faiss_id<->
// tune_id mapping failed to commit, and a startup reconciliation pass
// uses it to trim vectors left over from a crash between the index add
// and the mapping write.
func (idx *Index) TruncateTo(faissID int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if faissID < 0 || faissID > int64(len(idx.vectors)) {
		return fmt.Errorf("truncate id %d out of range for index of size %d", faissID, len(idx.vectors))
	}
	if faissID == int64(len(idx.vectors)) {
		return nil
	}

	prevVectors, prevTuneIDs := idx.vectors, idx.tuneIDs
	idx.vectors = idx.vectors[:faissID]
	idx.tuneIDs = idx.tuneIDs[:faissID]
	if err := idx.saveLocked(); err != nil {
		idx.vectors, idx.tuneIDs = prevVectors, prevTuneIDs
		return err
	}
	return nil
}

func (idx *Index) saveLocked() error {
	tmp := idx.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create vector index sidecar: %w", err)
	}
	snap := snapshot{Dimension: idx.dimension, Vectors: idx.vectors, TuneIDs: idx.tuneIDs}
	if err := gob.NewEncoder(f).Encode(snap); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode vector index sidecar: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close vector index sidecar: %w", err)
	}
	if err := os.Rename(tmp, idx.path); err != nil {
		return fmt.Errorf("failed to commit vector index sidecar: %w", err)
	}
	return nil
}

// Search returns the k nearest vectors to query by L2 distance,
// deduplicated by minimum distance per tune_id.
func (idx *Index) Search(query []float32, k int) []Match {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	best := make(map[int64]float64)
	for i, v := range idx.vectors {
		d := l2(query, v)
		tuneID := idx.tuneIDs[i]
		if prev, ok := best[tuneID]; !ok || d < prev {
			best[tuneID] = d
		}
	}
	return topK(best, k)
}

// GetCandidates windows the query intervals with the same stride/
// dimension convention the indexer uses, searches per window, and
// aggregates by minimum distance across windows. excludeTuneID, if
// non-zero, is dropped from the result.
func (idx *Index) GetCandidates(intervals []float64, stride int, k int, excludeTuneID int64) []Match {
	windows := Windows(intervals, idx.dimension, stride)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	best := make(map[int64]float64)
	for _, w := range windows {
		for i, v := range idx.vectors {
			d := l2(w, v)
			tuneID := idx.tuneIDs[i]
			if tuneID == excludeTuneID {
				continue
			}
			if prev, ok := best[tuneID]; !ok || d < prev {
				best[tuneID] = d
			}
		}
	}
	return topK(best, k)
}

func topK(best map[int64]float64, k int) []Match {
	out := make([]Match, 0, len(best))
	for id, d := range best {
		out = append(out, Match{TuneID: id, Distance: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func l2(a, b []float32) float64 {
	var sum float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Windows generates fixed-dimension sliding windows over intervals with
// the given stride: shorter-than-dimension sequences yield one
// zero-padded window; otherwise windows start at offsets 0, stride,
// 2*stride, ... and are all fully populated.
func Windows(intervals []float64, dimension, stride int) [][]float32 {
	if len(intervals) == 0 {
		return nil
	}
	if len(intervals) < dimension {
		w := make([]float32, dimension)
		for i, v := range intervals {
			w[i] = float32(v)
		}
		return [][]float32{w}
	}

	var windows [][]float32
	for offset := 0; offset+dimension <= len(intervals); offset += stride {
		w := make([]float32, dimension)
		for i := 0; i < dimension; i++ {
			w[i] = float32(intervals[offset+i])
		}
		windows = append(windows, w)
	}
	return windows
}
