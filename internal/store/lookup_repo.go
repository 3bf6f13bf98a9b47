package store

import (
	"context"
	"fmt"
)

// ListEnabledMimeTypes returns the mime-type patterns the fetcher
// accepts, backed by a configuration table rather than a hardcoded list
// so operators can adjust accepted types without redeploying.
func (s *Store) ListEnabledMimeTypes(parent context.Context) ([]MimeTypePattern, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	var out []MimeTypePattern
	err := s.DB.SelectContext(ctx, &out, `SELECT * FROM mime_types WHERE enabled = true`)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled mime types: %w", err)
	}
	return out, nil
}

// ListRefusedExtensions returns the extensions the fetcher should skip
// outright.
func (s *Store) ListRefusedExtensions(parent context.Context) ([]RefusedExtension, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	var out []RefusedExtension
	if err := s.DB.SelectContext(ctx, &out, `SELECT * FROM refused_extensions`); err != nil {
		return nil, fmt.Errorf("failed to list refused extensions: %w", err)
	}
	return out, nil
}

// RecordRefusedExtension upserts a refused extension and its reason.
func (s *Store) RecordRefusedExtension(parent context.Context, extension, reason string) error {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO refused_extensions (extension, reason) VALUES ($1, $2)
		ON CONFLICT (extension) DO UPDATE SET reason = $2
	`, extension, reason)
	if err != nil {
		return fmt.Errorf("failed to record refused extension %s: %w", extension, err)
	}
	return nil
}

// AddFavorite records a user's favorite tune.
func (s *Store) AddFavorite(parent context.Context, userID string, tuneID int64) error {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO user_favorites (user_id, tune_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, userID, tuneID)
	if err != nil {
		return fmt.Errorf("failed to add favorite for user %s: %w", userID, err)
	}
	return nil
}

// RemoveFavorite deletes a user's favorite tune.
func (s *Store) RemoveFavorite(parent context.Context, userID string, tuneID int64) error {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	_, err := s.DB.ExecContext(ctx, `
		DELETE FROM user_favorites WHERE user_id = $1 AND tune_id = $2
	`, userID, tuneID)
	if err != nil {
		return fmt.Errorf("failed to remove favorite for user %s: %w", userID, err)
	}
	return nil
}

// ListFavorites returns every tune a user has favorited.
func (s *Store) ListFavorites(parent context.Context, userID string) ([]Tune, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	var out []Tune
	err := s.DB.SelectContext(ctx, &out, `
		SELECT t.* FROM tunes t
		JOIN user_favorites f ON f.tune_id = t.id
		WHERE f.user_id = $1
		ORDER BY t.id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list favorites for user %s: %w", userID, err)
	}
	return out, nil
}
