package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TouchHost records a fetch attempt against host, upserting the row and
// bumping last_access/downloads/last_http_status.
func (s *Store) TouchHost(parent context.Context, host string, httpStatus int) error {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO hosts (host, last_access, last_http_status, downloads)
		VALUES ($1, now(), $2, 1)
		ON CONFLICT (host) DO UPDATE SET
			last_access = now(),
			last_http_status = $2,
			downloads = hosts.downloads + 1
	`, host, httpStatus)
	if err != nil {
		return fmt.Errorf("failed to touch host %s: %w", host, err)
	}
	return nil
}

// IsHostEligible reports whether host may be claimed from right now: not
// disabled, and either never accessed or past the politeness cooldown.
// Backs hostregistry.Registry.IsEligible; the dispatcher's candidate
// query applies the same conditions in SQL.
func (s *Store) IsHostEligible(parent context.Context, host string, cooldown time.Duration) (bool, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	var eligible bool
	err := s.DB.QueryRowxContext(ctx, `
		SELECT NOT COALESCE(h.disabled, false)
		   AND (h.last_access IS NULL OR h.last_access <= now() - $2 * interval '1 second')
		FROM (SELECT $1::text AS host) seed
		LEFT JOIN hosts h ON h.host = seed.host
	`, host, cooldown.Seconds()).Scan(&eligible)
	if err != nil {
		return false, fmt.Errorf("failed to check host eligibility for %s: %w", host, err)
	}
	return eligible, nil
}

// DisableHost marks host disabled for reason (DisableReasonDNS /
// DisableReasonTimeout), upserting if the host has never been touched.
func (s *Store) DisableHost(parent context.Context, host, reason string) error {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO hosts (host, disabled, disabled_reason, disabled_at)
		VALUES ($1, true, $2, now())
		ON CONFLICT (host) DO UPDATE SET
			disabled = true, disabled_reason = $2, disabled_at = now()
	`, host, reason)
	if err != nil {
		return fmt.Errorf("failed to disable host %s: %w", host, err)
	}
	return nil
}

// EnableHost clears a disable, used by the operator-facing `abcctl host
// enable` subcommand.
func (s *Store) EnableHost(parent context.Context, host string) error {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	_, err := s.DB.ExecContext(ctx, `
		UPDATE hosts SET disabled = false, disabled_reason = NULL, disabled_at = NULL
		WHERE host = $1
	`, host)
	if err != nil {
		return fmt.Errorf("failed to enable host %s: %w", host, err)
	}
	return nil
}

// AutoReenableTimedOutHosts clears DisableReasonTimeout disables whose
// disabled_at has passed the grace period. DNS disables are never
// auto-cleared: a DNS failure is a standing condition, not a transient one.
func (s *Store) AutoReenableTimedOutHosts(parent context.Context, grace time.Duration) (int64, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	res, err := s.DB.ExecContext(ctx, `
		UPDATE hosts SET disabled = false, disabled_reason = NULL, disabled_at = NULL
		WHERE disabled = true AND disabled_reason = $1
		  AND disabled_at <= now() - $2 * interval '1 second'
	`, DisableReasonTimeout, grace.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to auto-reenable hosts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GetHost fetches one hosts row, or nil if host has never been touched.
func (s *Store) GetHost(parent context.Context, host string) (*Host, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	var h Host
	err := s.DB.GetContext(ctx, &h, `SELECT * FROM hosts WHERE host = $1`, host)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get host %s: %w", host, err)
	}
	return &h, nil
}

// CountDisabledHosts returns the current count of disabled hosts, used to
// keep the dispatcher's disabled-hosts gauge in sync with the durable
// record rather than an in-process running total.
func (s *Store) CountDisabledHosts(parent context.Context) (int64, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	var n int64
	if err := s.DB.GetContext(ctx, &n, `SELECT COUNT(*) FROM hosts WHERE disabled = true`); err != nil {
		return 0, fmt.Errorf("failed to count disabled hosts: %w", err)
	}
	return n, nil
}

// ListHosts returns every known host, used by `abcctl host list`.
func (s *Store) ListHosts(parent context.Context) ([]Host, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	var out []Host
	if err := s.DB.SelectContext(ctx, &out, `SELECT * FROM hosts ORDER BY host`); err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	return out, nil
}
