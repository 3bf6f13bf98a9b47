package store

import "fmt"

// schemaDDL is the idempotent bootstrap DDL for the persisted schema,
// plus its supporting indexes.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS urls (
	id BIGSERIAL PRIMARY KEY,
	url TEXT UNIQUE NOT NULL,
	host TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	downloaded_at TIMESTAMPTZ,
	dispatched_at TIMESTAMPTZ,
	size_bytes BIGINT,
	status TEXT NOT NULL DEFAULT '',
	mime_type TEXT,
	document BYTEA,
	http_status INTEGER,
	retries INTEGER NOT NULL DEFAULT 0,
	has_abc BOOLEAN,
	link_distance INTEGER NOT NULL DEFAULT 0,
	url_extension TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_urls_status ON urls (status);
CREATE INDEX IF NOT EXISTS idx_urls_status_created_at ON urls (status, created_at);
CREATE INDEX IF NOT EXISTS idx_urls_dispatched_at ON urls (dispatched_at);
CREATE INDEX IF NOT EXISTS idx_urls_host ON urls (host);
CREATE INDEX IF NOT EXISTS idx_urls_url_extension ON urls (url_extension);
CREATE INDEX IF NOT EXISTS idx_urls_parsed_not_abc ON urls (status, has_abc) WHERE status = 'parsed' AND has_abc = false;

CREATE TABLE IF NOT EXISTS hosts (
	host TEXT PRIMARY KEY,
	last_access TIMESTAMPTZ,
	last_http_status INTEGER,
	downloads BIGINT NOT NULL DEFAULT 0,
	disabled BOOLEAN NOT NULL DEFAULT false,
	disabled_reason TEXT,
	disabled_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS tunebooks (
	id BIGSERIAL PRIMARY KEY,
	url TEXT UNIQUE NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	status TEXT NOT NULL DEFAULT '',
	dispatched_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS tunes (
	id BIGSERIAL PRIMARY KEY,
	tunebook_id BIGINT NOT NULL REFERENCES tunebooks(id),
	reference_number TEXT,
	title TEXT,
	composer TEXT,
	origin TEXT,
	area TEXT,
	meter TEXT,
	unit_note_length TEXT,
	tempo TEXT,
	parts TEXT,
	transcription TEXT,
	notes TEXT,
	tune_group TEXT,
	history TEXT,
	key TEXT,
	rhythm TEXT,
	book TEXT,
	discography TEXT,
	source TEXT,
	instruction TEXT,
	tune_body TEXT NOT NULL DEFAULT '',
	pitches INTEGER[],
	intervals DOUBLE PRECISION[],
	status TEXT NOT NULL,
	skip_reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_tunes_tunebook_id ON tunes (tunebook_id);
CREATE INDEX IF NOT EXISTS idx_tunes_status ON tunes (status);

CREATE TABLE IF NOT EXISTS faiss_mapping (
	faiss_id BIGINT PRIMARY KEY,
	tune_id BIGINT NOT NULL REFERENCES tunes(id)
);
CREATE INDEX IF NOT EXISTS idx_faiss_mapping_tune_id ON faiss_mapping (tune_id);

CREATE TABLE IF NOT EXISTS mime_types (
	id BIGSERIAL PRIMARY KEY,
	pattern TEXT UNIQUE NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS refused_extensions (
	extension TEXT PRIMARY KEY,
	reason TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS user_favorites (
	user_id TEXT NOT NULL,
	tune_id BIGINT NOT NULL REFERENCES tunes(id),
	PRIMARY KEY (user_id, tune_id)
);
`

// Migrate applies the bootstrap schema. Idempotent; safe to call on
// every daemon startup. The schema is Go-owned DDL rather than an
// external script runner.
func (s *Store) Migrate() error {
	if _, err := s.DB.Exec(schemaDDL); err != nil {
		return fmt.Errorf("failed to apply schema migrations: %w", err)
	}
	return nil
}
