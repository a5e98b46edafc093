// Package persistence provides SQLite-backed storage for the five durable
// record kinds of the pipeline: documents, analyses, claims, verifications,
// and reports. All statements are parameterized; the connection pool is
// bounded and pool exhaustion fails within a bounded wait instead of
// blocking indefinitely.
package persistence

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"veracity/pkg/logx"
)

// Pool bounds. SQLite permits a single writer, so the write path serializes
// through the driver; the pool bounds concurrent readers.
const (
	minPoolConns = 2
	maxPoolConns = 10
)

// Open opens (creating if needed) the database at dbPath, applies the
// schema, and configures the pool. Idempotent and safe to call on an
// existing database.
func Open(dbPath string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initializeSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.SetMaxOpenConns(maxPoolConns)
	db.SetMaxIdleConns(minPoolConns)

	logx.NewLogger("persistence").Info("database ready: %s", dbPath)
	return db, nil
}
