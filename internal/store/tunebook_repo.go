package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertTunebook records a parsed tunebook document awaiting indexing,
// idempotent on url.
func (s *Store) InsertTunebook(parent context.Context, url string) (int64, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	var id int64
	err := s.DB.QueryRowxContext(ctx, `
		INSERT INTO tunebooks (url) VALUES ($1)
		ON CONFLICT (url) DO UPDATE SET url = EXCLUDED.url
		RETURNING id
	`, url).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert tunebook %s: %w", url, err)
	}
	return id, nil
}

// ClaimNextTunebook implements get_next_tunebook: claims one tunebook in
// '' or stale 'indexing' state for the indexer.
func (s *Store) ClaimNextTunebook(parent context.Context, dispatchTimeout time.Duration) (*Tunebook, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var tb Tunebook
	err = tx.GetContext(ctx, &tb, `
		SELECT * FROM tunebooks
		WHERE status = '' OR (status = 'indexing' AND dispatched_at <= now() - $1 * interval '1 second')
		ORDER BY created_at ASC
		LIMIT 1
	`, dispatchTimeout.Seconds())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select next tunebook: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE tunebooks SET status = 'indexing', dispatched_at = now()
		WHERE id = $1 AND status IN ('', 'indexing')
	`, tb.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim tunebook %d: %w", tb.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected claiming tunebook %d: %w", tb.ID, err)
	}
	if n != 1 {
		// Lost the race; caller retries on its own schedule.
		return nil, tx.Commit()
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit tunebook claim: %w", err)
	}
	tb.Status = TunebookStatusIndexing
	return &tb, nil
}

// MarkTunebookIndexed implements submit_indexed_result.
func (s *Store) MarkTunebookIndexed(parent context.Context, id int64, success bool) error {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	status := TunebookStatusIndexed
	if !success {
		status = TunebookStatusError
	}
	_, err := s.DB.ExecContext(ctx, `
		UPDATE tunebooks SET status = $1, dispatched_at = NULL WHERE id = $2
	`, status, id)
	if err != nil {
		return fmt.Errorf("failed to mark tunebook %d indexed: %w", id, err)
	}
	return nil
}

// ResetStaleTunebooks is the startup crash-healing sweep for tunebooks.
func (s *Store) ResetStaleTunebooks(parent context.Context, horizon time.Duration) (int64, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	res, err := s.DB.ExecContext(ctx, `
		UPDATE tunebooks SET status = '', dispatched_at = NULL
		WHERE status = 'indexing'
		  AND (dispatched_at IS NULL OR dispatched_at <= now() - $1 * interval '1 second')
	`, horizon.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale tunebooks: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GetTunebook fetches one tunebooks row by id.
func (s *Store) GetTunebook(parent context.Context, id int64) (*Tunebook, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	var tb Tunebook
	err := s.DB.GetContext(ctx, &tb, `SELECT * FROM tunebooks WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tunebook %d: %w", id, err)
	}
	return &tb, nil
}
