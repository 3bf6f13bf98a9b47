package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// abcExtension is the tunebook-extension hint used to prioritize
// candidates in the claim algorithm.
const abcExtension = "abc"

// HostFromURL extracts the lowercase hostname.
func HostFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse url %q: %w", raw, err)
	}
	return strings.ToLower(u.Hostname()), nil
}

// ExtensionFromURL returns the lowercased path suffix with no leading dot.
func ExtensionFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// InsertURL inserts a new url row (seed or link extraction). Returns the
// new id, or (0, nil) if it already exists (Store dedupes by uniqueness).
func (s *Store) InsertURL(parent context.Context, rawURL string, linkDistance int) (int64, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	host, err := HostFromURL(rawURL)
	if err != nil {
		return 0, err
	}
	ext := ExtensionFromURL(rawURL)

	var id int64
	err = s.DB.QueryRowxContext(ctx, `
		INSERT INTO urls (url, host, link_distance, url_extension)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (url) DO NOTHING
		RETURNING id
	`, rawURL, host, linkDistance, ext).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert url: %w", err)
	}
	return id, nil
}

// URLCandidate is a row returned by the dispatcher's candidate query.
type URLCandidate struct {
	ID           int64
	URL          string
	Host         string
	LinkDistance int
}

// CandidateURLs returns URLs eligible for claim, ordered by the
// ABC-extension hint then created_at ascending, limited to a candidate
// window.
func (s *Store) CandidateURLs(parent context.Context, dispatchTimeout, hostCooldown time.Duration, maxRetries, limit int) ([]URLCandidate, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	rows, err := s.DB.QueryxContext(ctx, `
		SELECT u.id, u.url, u.host, u.link_distance
		FROM urls u
		LEFT JOIN hosts h ON u.host = h.host
		WHERE (u.status = '' OR (u.status = 'dispatched' AND u.dispatched_at <= now() - $1 * interval '1 second'))
		  AND u.retries < $2
		  AND (h.disabled IS NULL OR h.disabled = false)
		  AND (h.last_access IS NULL OR h.last_access <= now() - $3 * interval '1 second')
		ORDER BY (u.url_extension = $4) DESC, u.created_at ASC
		LIMIT $5
	`, dispatchTimeout.Seconds(), maxRetries, hostCooldown.Seconds(), abcExtension, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate urls: %w", err)
	}
	defer rows.Close()

	var out []URLCandidate
	for rows.Next() {
		var c URLCandidate
		if err := rows.Scan(&c.ID, &c.URL, &c.Host, &c.LinkDistance); err != nil {
			return nil, fmt.Errorf("failed to scan candidate url: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ClaimURL attempts the conditional claim update. Returns true iff this
// call won the race.
func (s *Store) ClaimURL(parent context.Context, id int64) (bool, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	res, err := s.DB.ExecContext(ctx, `
		UPDATE urls SET status = 'dispatched', dispatched_at = now()
		WHERE id = $1 AND status IN ('', 'dispatched')
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim url %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected claiming url %d: %w", id, err)
	}
	return n == 1, nil
}

// MarkFetched commits a successful fetch outcome.
func (s *Store) MarkFetched(parent context.Context, id int64, sizeBytes int64, mimeType string, document []byte, httpStatus int) error {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	_, err := s.DB.ExecContext(ctx, `
		UPDATE urls
		SET status = 'fetched', dispatched_at = NULL, downloaded_at = now(),
		    size_bytes = $1, mime_type = $2, document = $3, http_status = $4, retries = 0
		WHERE id = $5
	`, sizeBytes, mimeType, document, httpStatus, id)
	if err != nil {
		return fmt.Errorf("failed to mark url %d fetched: %w", id, err)
	}
	return nil
}

// FetchFailureOutcome reports what MarkFetchFailed decided, so callers can
// drive host-disabling policy without a second round trip.
type FetchFailureOutcome struct {
	Retries  int
	Terminal bool // true if status moved to 'error'
}

// MarkFetchFailed increments retries; terminal 'error' if retries >=
// maxRetries, else reset to '' (retry-eligible) and clear dispatched_at.
func (s *Store) MarkFetchFailed(parent context.Context, id int64, httpStatus *int, maxRetries int) (FetchFailureOutcome, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return FetchFailureOutcome{}, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var retries int
	err = tx.QueryRowxContext(ctx, `
		UPDATE urls SET retries = retries + 1 WHERE id = $1 RETURNING retries
	`, id).Scan(&retries)
	if err != nil {
		return FetchFailureOutcome{}, fmt.Errorf("failed to increment retries for url %d: %w", id, err)
	}

	outcome := FetchFailureOutcome{Retries: retries}
	if retries >= maxRetries {
		outcome.Terminal = true
		_, err = tx.ExecContext(ctx, `
			UPDATE urls SET status = 'error', http_status = $1, dispatched_at = NULL, downloaded_at = now()
			WHERE id = $2
		`, httpStatus, id)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE urls SET status = '', http_status = $1, dispatched_at = NULL
			WHERE id = $2
		`, httpStatus, id)
	}
	if err != nil {
		return FetchFailureOutcome{}, fmt.Errorf("failed to settle fetch failure for url %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return FetchFailureOutcome{}, fmt.Errorf("failed to commit fetch failure for url %d: %w", id, err)
	}
	return outcome, nil
}

// FetchedBatch claims up to limit rows in 'fetched' state (plus aged-out
// 'parsing' rows) into 'parsing' and returns them together.
func (s *Store) FetchedBatch(parent context.Context, limit int, parsingTimeout time.Duration) ([]Url, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryxContext(ctx, `
		SELECT id FROM urls
		WHERE status = 'fetched'
		   OR (status = 'parsing' AND (dispatched_at IS NULL OR dispatched_at <= now() - $1 * interval '1 second'))
		LIMIT $2
	`, parsingTimeout.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fetched batch: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan fetched batch id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	query, args, err := sqlxIn(`
		UPDATE urls SET status = 'parsing', dispatched_at = now() WHERE id IN (?)
	`, ids)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to claim fetched batch: %w", err)
	}

	query, args, err = sqlxIn(`
		SELECT id, url, host, created_at, downloaded_at, dispatched_at, size_bytes,
		       status, mime_type, document, http_status, retries, has_abc,
		       link_distance, url_extension
		FROM urls WHERE id IN (?)
	`, ids)
	if err != nil {
		return nil, err
	}
	var out []Url
	if err := tx.SelectContext(ctx, &out, tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load claimed batch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit fetched batch claim: %w", err)
	}
	return out, nil
}

// MarkParsed implements submit_parsed_result: status -> 'parsed', has_abc
// recorded, dispatched_at cleared.
func (s *Store) MarkParsed(parent context.Context, id int64, hasABC bool) error {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	_, err := s.DB.ExecContext(ctx, `
		UPDATE urls SET status = 'parsed', has_abc = $1, dispatched_at = NULL WHERE id = $2
	`, hasABC, id)
	if err != nil {
		return fmt.Errorf("failed to mark url %d parsed: %w", id, err)
	}
	return nil
}

// MarkURLIndexedByTunebookURL implements the url-side of
// submit_indexed_result success: the url row sharing the tunebook's URL
// transitions to 'indexed' too.
func (s *Store) MarkURLIndexedByTunebookURL(parent context.Context, tunebookURL string) error {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	_, err := s.DB.ExecContext(ctx, `
		UPDATE urls SET status = 'indexed' WHERE url = $1
	`, tunebookURL)
	if err != nil {
		return fmt.Errorf("failed to mark url indexed for tunebook %s: %w", tunebookURL, err)
	}
	return nil
}

// ResetStaleURLs is the startup crash-healing sweep: 'dispatched'/
// 'parsing' rows older than horizon reset to their predecessor state.
func (s *Store) ResetStaleURLs(parent context.Context, horizon time.Duration) (int64, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	res, err := s.DB.ExecContext(ctx, `
		UPDATE urls SET status = '', dispatched_at = NULL
		WHERE status = 'dispatched'
		  AND (dispatched_at IS NULL OR dispatched_at <= now() - $1 * interval '1 second')
	`, horizon.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale dispatched urls: %w", err)
	}
	n1, _ := res.RowsAffected()

	res, err = s.DB.ExecContext(ctx, `
		UPDATE urls SET status = 'fetched', dispatched_at = NULL
		WHERE status = 'parsing'
		  AND (dispatched_at IS NULL OR dispatched_at <= now() - $1 * interval '1 second')
	`, horizon.Seconds())
	if err != nil {
		return n1, fmt.Errorf("failed to reset stale parsing urls: %w", err)
	}
	n2, _ := res.RowsAffected()

	return n1 + n2, nil
}

// PurgeNonABC deletes 'parsed' rows with has_abc=false older than
// retention, erasing their document blob via the delete itself.
func (s *Store) PurgeNonABC(parent context.Context, olderThan time.Duration) (int64, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM urls
		WHERE status = 'parsed' AND has_abc = false
		  AND downloaded_at IS NOT NULL AND downloaded_at <= now() - $1 * interval '1 second'
	`, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to purge non-abc urls: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GetURL fetches one url row by id, used by the dispatcher and by the
// parser to read a claimed url's stored document.
func (s *Store) GetURL(parent context.Context, id int64) (*Url, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	var u Url
	err := s.DB.GetContext(ctx, &u, `
		SELECT id, url, host, created_at, downloaded_at, dispatched_at, size_bytes,
		       status, mime_type, document, http_status, retries, has_abc,
		       link_distance, url_extension
		FROM urls WHERE id = $1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get url %d: %w", id, err)
	}
	return &u, nil
}
