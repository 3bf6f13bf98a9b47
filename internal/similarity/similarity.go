// Package similarity is the SimilarityService: coarse ANN preselection
// via VectorIndex followed by fine DTW reranking.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mark-vandenbroeck/abc-pipeline/internal/store"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/vectorindex"
)

// ErrNoIntervals is returned when the query tune has not been indexed
// yet; callers (the CLI, a future HTTP surface) may want to match on it.
var ErrNoIntervals = errors.New("Query tune has no intervals indexed")

// Config holds the similarity service's ranking tunables.
type Config struct {
	PreselectK   int
	DTWBand      int
	VectorDim    int
	WindowStride int
}

// Result is one ranked match with its attached tune metadata.
type Result struct {
	TuneID     int64
	Title      string
	Key        string
	Rhythm     string
	Composer   string
	Score      float64
}

// Service answers similarity queries.
type Service struct {
	store *store.Store
	index *vectorindex.Index
	cfg   Config
}

// New constructs a Service.
func New(st *store.Store, idx *vectorindex.Index, cfg Config) *Service {
	return &Service{store: st, index: idx, cfg: cfg}
}

// Similar runs ANN preselection (k≈500-1000) then a DTW rerank,
// returning the top 10 ascending by normalized distance.
func (s *Service) Similar(ctx context.Context, tuneID int64) ([]Result, error) {
	query, err := s.store.GetTune(ctx, tuneID)
	if err != nil {
		return nil, fmt.Errorf("failed to load query tune %d: %w", tuneID, err)
	}
	if query == nil || len(query.Intervals) == 0 {
		return nil, ErrNoIntervals
	}
	queryIntervals := []float64(query.Intervals)

	candidates := s.index.GetCandidates(queryIntervals, s.cfg.WindowStride, s.cfg.PreselectK, tuneID)
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.TuneID
	}
	rows, err := s.store.ListTunesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate tunes: %w", err)
	}

	byID := make(map[int64]store.Tune, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}

	qLen := float64(len(queryIntervals))
	var scored []Result
	for _, c := range candidates {
		t, ok := byID[c.TuneID]
		if !ok || len(t.Intervals) == 0 {
			continue
		}
		d := BandedDTW(queryIntervals, []float64(t.Intervals), s.cfg.DTWBand)
		scored = append(scored, Result{
			TuneID:   t.ID,
			Title:    t.Title.String,
			Key:      t.Key.String,
			Rhythm:   t.Rhythm.String,
			Composer: t.Composer.String,
			Score:    d / qLen,
		})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score < scored[j].Score })
	if len(scored) > 10 {
		scored = scored[:10]
	}
	return scored, nil
}
