// Package store is the transactional Store: urls, hosts, tunebooks,
// tunes, faiss_mapping, mime_types, refused_extensions, user_favorites.
// One sqlx.DB handle, context.WithTimeout per call.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Url status values.
const (
	URLStatusNone      = ""
	URLStatusDispatched = "dispatched"
	URLStatusFetched    = "fetched"
	URLStatusParsing    = "parsing"
	URLStatusParsed     = "parsed"
	URLStatusIndexed    = "indexed"
	URLStatusError      = "error"
)

// Tunebook status values.
const (
	TunebookStatusNone     = ""
	TunebookStatusIndexing = "indexing"
	TunebookStatusIndexed  = "indexed"
	TunebookStatusError    = "error"
)

// Tune status values.
const (
	TuneStatusParsed  = "parsed"
	TuneStatusSkipped = "skipped"
)

// Host disable reasons.
const (
	DisableReasonDNS     = "dns"
	DisableReasonTimeout = "timeout"
)

// HasABC tri-state.
type HasABC int

const (
	HasABCUnknown HasABC = iota
	HasABCFalse
	HasABCTrue
)

// Url is the persisted urls row.
type Url struct {
	ID            int64          `db:"id"`
	URL           string         `db:"url"`
	Host          string         `db:"host"`
	CreatedAt     time.Time      `db:"created_at"`
	DispatchedAt  sql.NullTime   `db:"dispatched_at"`
	DownloadedAt  sql.NullTime   `db:"downloaded_at"`
	Status        string         `db:"status"`
	HTTPStatus    sql.NullInt64  `db:"http_status"`
	Retries       int            `db:"retries"`
	SizeBytes     sql.NullInt64  `db:"size_bytes"`
	MimeType      sql.NullString `db:"mime_type"`
	Document      []byte         `db:"document"`
	HasABC        sql.NullBool   `db:"has_abc"`
	LinkDistance  int            `db:"link_distance"`
	URLExtension  string         `db:"url_extension"`
}

// Host is the persisted hosts row.
type Host struct {
	Host           string         `db:"host"`
	LastAccess     sql.NullTime   `db:"last_access"`
	LastHTTPStatus sql.NullInt64  `db:"last_http_status"`
	Downloads      int64          `db:"downloads"`
	Disabled       bool           `db:"disabled"`
	DisabledReason sql.NullString `db:"disabled_reason"`
	DisabledAt     sql.NullTime   `db:"disabled_at"`
}

// Tunebook is the persisted tunebooks row.
type Tunebook struct {
	ID           int64        `db:"id"`
	URL          string       `db:"url"`
	CreatedAt    time.Time    `db:"created_at"`
	Status       string       `db:"status"`
	DispatchedAt sql.NullTime `db:"dispatched_at"`
}

// Tune is the persisted tunes row, carrying the ABC header fields
// flattened into columns.
type Tune struct {
	ID             int64           `db:"id"`
	TunebookID     int64           `db:"tunebook_id"`
	ReferenceNum   sql.NullString  `db:"reference_number"`
	Title          sql.NullString  `db:"title"`
	Composer       sql.NullString  `db:"composer"`
	Origin         sql.NullString  `db:"origin"`
	Area           sql.NullString  `db:"area"`
	Meter          sql.NullString  `db:"meter"`
	UnitNoteLength sql.NullString  `db:"unit_note_length"`
	Tempo          sql.NullString  `db:"tempo"`
	Parts          sql.NullString  `db:"parts"`
	Transcription  sql.NullString  `db:"transcription"`
	Notes          sql.NullString  `db:"notes"`
	Group          sql.NullString  `db:"tune_group"`
	History        sql.NullString  `db:"history"`
	Key            sql.NullString  `db:"key"`
	Rhythm         sql.NullString  `db:"rhythm"`
	Book           sql.NullString  `db:"book"`
	Discography    sql.NullString  `db:"discography"`
	Source         sql.NullString  `db:"source"`
	Instruction    sql.NullString  `db:"instruction"`
	TuneBody       string          `db:"tune_body"`
	Pitches        IntArray        `db:"pitches"`
	Intervals      Float64Array    `db:"intervals"`
	Status         string          `db:"status"`
	SkipReason     sql.NullString  `db:"skip_reason"`
}

// FaissMapping is the persisted faiss_mapping row.
type FaissMapping struct {
	FaissID int64 `db:"faiss_id"`
	TuneID  int64 `db:"tune_id"`
}

// MimeTypePattern is the persisted mime_types row.
type MimeTypePattern struct {
	ID      int64  `db:"id"`
	Pattern string `db:"pattern"`
	Enabled bool   `db:"enabled"`
}

// RefusedExtension is the persisted refused_extensions row.
type RefusedExtension struct {
	Extension string    `db:"extension"`
	Reason    string    `db:"reason"`
	CreatedAt time.Time `db:"created_at"`
}

// UserFavorite is the persisted user_favorites row, metadata-only
// (no auth beyond a user-id string).
type UserFavorite struct {
	UserID string `db:"user_id"`
	TuneID int64  `db:"tune_id"`
}

// Store wraps a sqlx.DB with the query timeout applied to every operation.
type Store struct {
	DB      *sqlx.DB
	Timeout time.Duration
}

// Open connects to Postgres and applies pool settings.
func Open(dsn string, timeout time.Duration, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connMaxLifetime)

	return &Store{DB: db, Timeout: timeout}, nil
}

func (s *Store) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.Timeout)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}
