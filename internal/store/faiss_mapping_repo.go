package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// InsertFaissMappingsBatch records the faiss_id -> tune_id assignments for
// one indexing batch. The vector-index add durably commits first, since
// only the mapping rows are transactional; if this call then fails the
// caller must roll the index add back (see vectorindex.Index.TruncateTo)
// so the two never diverge for longer than a single crash window, which
// startup reconciliation (indexer.Reconcile) also repairs.
func (s *Store) InsertFaissMappingsBatch(parent context.Context, mappings []FaissMapping) error {
	if len(mappings) == 0 {
		return nil
	}
	ctx, cancel := s.ctx(parent)
	defer cancel()

	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO faiss_mapping (faiss_id, tune_id) VALUES (:faiss_id, :tune_id)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare faiss mapping insert: %w", err)
	}
	defer stmt.Close()

	for i := range mappings {
		if _, err := stmt.ExecContext(ctx, mappings[i]); err != nil {
			return fmt.Errorf("failed to insert faiss mapping %d of batch: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit faiss mapping batch: %w", err)
	}
	return nil
}

// LookupTuneIDs resolves a set of faiss ids to their tune ids.
func (s *Store) LookupTuneIDs(parent context.Context, faissIDs []int64) (map[int64]int64, error) {
	if len(faissIDs) == 0 {
		return map[int64]int64{}, nil
	}
	ctx, cancel := s.ctx(parent)
	defer cancel()

	query, args, err := sqlx.In(`SELECT faiss_id, tune_id FROM faiss_mapping WHERE faiss_id IN (?)`, faissIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build faiss mapping lookup query: %w", err)
	}
	query = s.DB.Rebind(query)

	rows, err := s.DB.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to look up faiss mappings: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]int64, len(faissIDs))
	for rows.Next() {
		var m FaissMapping
		if err := rows.StructScan(&m); err != nil {
			return nil, fmt.Errorf("failed to scan faiss mapping: %w", err)
		}
		out[m.FaissID] = m.TuneID
	}
	return out, rows.Err()
}

// CountFaissMappings returns the current mapping count, used by the
// indexer's startup reconciliation to find vectors with no mapping row.
func (s *Store) CountFaissMappings(parent context.Context) (int64, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	var n int64
	if err := s.DB.GetContext(ctx, &n, `SELECT COUNT(*) FROM faiss_mapping`); err != nil {
		return 0, fmt.Errorf("failed to count faiss mappings: %w", err)
	}
	return n, nil
}
