package persistence

import (
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion tracks the schema for migration support.
const CurrentSchemaVersion = 2

const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS documents (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	filename         TEXT NOT NULL,
	title            TEXT NOT NULL DEFAULT '',
	authors          TEXT NOT NULL DEFAULT '[]',
	publication_date TEXT NOT NULL DEFAULT '',
	source_url       TEXT NOT NULL DEFAULT '',
	content_hash     TEXT NOT NULL UNIQUE,
	content_type     TEXT NOT NULL DEFAULT '',
	content          TEXT NOT NULL,
	size_bytes       INTEGER NOT NULL,
	uploaded_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS analyses (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id   INTEGER NOT NULL REFERENCES documents(id),
	status        TEXT NOT NULL DEFAULT 'QUEUED',
	summary       TEXT NOT NULL DEFAULT '',
	topics        TEXT NOT NULL DEFAULT '[]',
	failed_phase  TEXT NOT NULL DEFAULT '',
	error_log     TEXT NOT NULL DEFAULT '[]',
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	completed_at  TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_analyses_document ON analyses(document_id);
CREATE INDEX IF NOT EXISTS idx_analyses_status ON analyses(status);

CREATE TABLE IF NOT EXISTS claims (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id  INTEGER NOT NULL REFERENCES analyses(id),
	text         TEXT NOT NULL,
	type         TEXT NOT NULL,
	location     TEXT NOT NULL DEFAULT '',
	excerpt      TEXT NOT NULL DEFAULT '',
	confidence   REAL NOT NULL DEFAULT 0,
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_claims_analysis ON claims(analysis_id);

CREATE TABLE IF NOT EXISTS verifications (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	claim_id              INTEGER NOT NULL UNIQUE REFERENCES claims(id),
	status                TEXT NOT NULL,
	confidence            REAL NOT NULL DEFAULT 0,
	supporting_sources    TEXT NOT NULL DEFAULT '[]',
	contradicting_sources TEXT NOT NULL DEFAULT '[]',
	notes                 TEXT NOT NULL DEFAULT '',
	created_at            TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS reports (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id  INTEGER NOT NULL UNIQUE REFERENCES analyses(id),
	content      TEXT NOT NULL,
	quality      TEXT NOT NULL DEFAULT '',
	approved     BOOLEAN,
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// initializeSchema creates the schema if the database is empty and records
// the schema version. Safe to call on an already-initialized database.
func initializeSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	version, err := schemaVersion(db)
	if err != nil {
		return err
	}
	if version == 0 {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", CurrentSchemaVersion); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
		return nil
	}
	if version != CurrentSchemaVersion {
		return fmt.Errorf("unsupported schema version %d (want %d)", version, CurrentSchemaVersion)
	}
	return nil
}

func schemaVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
