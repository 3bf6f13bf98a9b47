package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// InsertTunesBatch inserts every decomposed tune from one tunebook in a
// single transaction, returning the assigned ids in the same order as
// tunes.
func (s *Store) InsertTunesBatch(parent context.Context, tunes []Tune) ([]int64, error) {
	if len(tunes) == 0 {
		return nil, nil
	}
	ctx, cancel := s.ctx(parent)
	defer cancel()

	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO tunes (
			tunebook_id, reference_number, title, composer, origin, area, meter,
			unit_note_length, tempo, parts, transcription, notes, tune_group,
			history, key, rhythm, book, discography, source, instruction,
			tune_body, pitches, intervals, status, skip_reason
		) VALUES (
			:tunebook_id, :reference_number, :title, :composer, :origin, :area, :meter,
			:unit_note_length, :tempo, :parts, :transcription, :notes, :tune_group,
			:history, :key, :rhythm, :book, :discography, :source, :instruction,
			:tune_body, :pitches, :intervals, :status, :skip_reason
		) RETURNING id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare tune insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(tunes))
	for i := range tunes {
		var id int64
		if err := stmt.GetContext(ctx, &id, tunes[i]); err != nil {
			return nil, fmt.Errorf("failed to insert tune %d of batch: %w", i, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit tune batch insert: %w", err)
	}
	return ids, nil
}

// ListParsedTunesByTunebook returns every parsed (non-skipped) tune
// belonging to tunebookID, the indexer's input set.
func (s *Store) ListParsedTunesByTunebook(parent context.Context, tunebookID int64) ([]Tune, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	var out []Tune
	err := s.DB.SelectContext(ctx, &out, `
		SELECT * FROM tunes WHERE tunebook_id = $1 AND status = $2 ORDER BY id ASC
	`, tunebookID, TuneStatusParsed)
	if err != nil {
		return nil, fmt.Errorf("failed to list parsed tunes for tunebook %d: %w", tunebookID, err)
	}
	return out, nil
}

// UpdateTuneIntervals persists the interval vector computed by the
// indexer.
func (s *Store) UpdateTuneIntervals(parent context.Context, id int64, pitches IntArray, intervals Float64Array) error {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	_, err := s.DB.ExecContext(ctx, `
		UPDATE tunes SET pitches = $1, intervals = $2 WHERE id = $3
	`, pitches, intervals, id)
	if err != nil {
		return fmt.Errorf("failed to update intervals for tune %d: %w", id, err)
	}
	return nil
}

// GetTune fetches one tunes row by id.
func (s *Store) GetTune(parent context.Context, id int64) (*Tune, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	var t Tune
	err := s.DB.GetContext(ctx, &t, `SELECT * FROM tunes WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tune %d: %w", id, err)
	}
	return &t, nil
}

// ListTunesByIDs fetches tunes in bulk for similarity-result hydration.
func (s *Store) ListTunesByIDs(parent context.Context, ids []int64) ([]Tune, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := s.ctx(parent)
	defer cancel()

	query, args, err := sqlx.In(`SELECT * FROM tunes WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build tune lookup query: %w", err)
	}
	query = s.DB.Rebind(query)

	var out []Tune
	if err := s.DB.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list tunes by id: %w", err)
	}
	return out, nil
}
