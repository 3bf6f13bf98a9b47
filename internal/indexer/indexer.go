// Package indexer is the Indexer worker: a per-tunebook loop turning
// tune.pitches into intervals, sliding windows, and VectorIndex vectors,
// persisting the faiss_id<->tune_id mapping right after the index write
// and truncating the index again if that mapping write fails.
package indexer

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mark-vandenbroeck/abc-pipeline/internal/dispatcherclient"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/metrics"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/store"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/vectorindex"
)

// Config holds the indexer's windowing tunables.
type Config struct {
	MaxInterval  int64
	VectorDim    int
	WindowStride int
	Idle         time.Duration
	LockKey      string
	LockTTL      time.Duration
}

// Worker runs the indexer's claim loop.
type Worker struct {
	client  *dispatcherclient.Client
	store   *store.Store
	index   *vectorindex.Index
	lock    *leaderLock
	metrics *metrics.Registry
	cfg     Config
}

// New constructs a Worker. reg may be nil, in which case indexing goes
// unmeasured.
func New(client *dispatcherclient.Client, st *store.Store, idx *vectorindex.Index, rdb *redis.Client, reg *metrics.Registry, cfg Config) *Worker {
	return &Worker{
		client:  client,
		store:   st,
		index:   idx,
		lock:    newLeaderLock(rdb, cfg.LockKey, cfg.LockTTL),
		metrics: reg,
		cfg:     cfg,
	}
}

// Reconcile trims vectors left in idx with no corresponding faiss_mapping
// row. This can only happen if a process crashes between Index.Add
// durably committing its sidecar file and the subsequent
// InsertFaissMappingsBatch call: the index ends up ahead of the store,
// never behind, so reconciliation only ever truncates. Run this once at
// worker startup before claiming any tunebooks.
func Reconcile(ctx context.Context, st *store.Store, idx *vectorindex.Index) error {
	mapped, err := st.CountFaissMappings(ctx)
	if err != nil {
		return err
	}
	if have := int64(idx.Count()); have > mapped {
		log.Warn().Int64("indexed", have).Int64("mapped", mapped).Msg("trimming orphaned vectors with no faiss mapping")
		return idx.TruncateTo(mapped)
	}
	return nil
}

// Run claims and indexes tunebooks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		did, err := w.runOnce(ctx)
		if err != nil {
			log.Error().Err(err).Msg("indexer cycle failed")
		}
		if !did {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.Idle):
			}
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) (bool, error) {
	tunebookID, ok, err := w.client.GetTunebook()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	success := w.processTunebook(ctx, tunebookID)
	if err := w.client.SubmitIndexedResult(tunebookID, success); err != nil {
		log.Error().Err(err).Int64("tunebook_id", tunebookID).Msg("failed to submit indexed result")
	}
	return true, nil
}

func (w *Worker) processTunebook(ctx context.Context, tunebookID int64) bool {
	tunes, err := w.store.ListParsedTunesByTunebook(ctx, tunebookID)
	if err != nil {
		log.Error().Err(err).Int64("tunebook_id", tunebookID).Msg("failed to list tunes")
		return false
	}

	var allVectors [][]float32
	var allTuneIDs []int64

	for _, t := range tunes {
		intervals := ComputeIntervals(t.Pitches, w.cfg.MaxInterval)

		if err := w.store.UpdateTuneIntervals(ctx, t.ID, t.Pitches, store.Float64Array(intervals)); err != nil {
			log.Error().Err(err).Int64("tune_id", t.ID).Msg("failed to persist intervals")
			return false
		}

		if len(intervals) == 0 {
			continue
		}

		windows := vectorindex.Windows(intervals, w.cfg.VectorDim, w.cfg.WindowStride)
		for _, win := range windows {
			allVectors = append(allVectors, win)
			allTuneIDs = append(allTuneIDs, t.ID)
		}
	}

	if len(allVectors) == 0 {
		return true
	}

	release, err := w.lock.Acquire(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to acquire index lock")
		return false
	}
	defer release()

	startFaissID, err := w.index.Add(allTuneIDs, allVectors)
	if err != nil {
		log.Error().Err(err).Msg("failed to add vectors to index")
		return false
	}

	mappings := make([]store.FaissMapping, len(allTuneIDs))
	for i, tuneID := range allTuneIDs {
		mappings[i] = store.FaissMapping{FaissID: startFaissID + int64(i), TuneID: tuneID}
	}
	if err := w.store.InsertFaissMappingsBatch(ctx, mappings); err != nil {
		log.Error().Err(err).Msg("failed to persist faiss mappings")
		if rerr := w.index.TruncateTo(startFaissID); rerr != nil {
			log.Error().Err(rerr).Int64("start_faiss_id", startFaissID).Msg("failed to roll back vector index after mapping failure")
		}
		return false
	}

	if w.metrics != nil {
		w.metrics.VectorsIndexed.Add(float64(len(allVectors)))
		w.metrics.IndexSize.Set(float64(w.index.Count()))
	}

	log.Info().Int64("tunebook_id", tunebookID).Int("vectors", len(allVectors)).Int("tunes", len(tunes)).Msg("indexed tunebook")
	return true
}

// ComputeIntervals collapses runs of identical consecutive pitches, takes
// consecutive differences, and clips them to [-maxInterval, +maxInterval].
func ComputeIntervals(pitches store.IntArray, maxInterval int64) []float64 {
	if len(pitches) < 2 {
		return nil
	}

	filtered := make([]int64, 0, len(pitches))
	filtered = append(filtered, pitches[0])
	for i := 1; i < len(pitches); i++ {
		if pitches[i] != pitches[i-1] {
			filtered = append(filtered, pitches[i])
		}
	}
	if len(filtered) < 2 {
		return nil
	}

	intervals := make([]float64, 0, len(filtered)-1)
	for i := 1; i < len(filtered); i++ {
		d := filtered[i] - filtered[i-1]
		if d > maxInterval {
			d = maxInterval
		} else if d < -maxInterval {
			d = -maxInterval
		}
		intervals = append(intervals, float64(d))
	}
	return intervals
}
