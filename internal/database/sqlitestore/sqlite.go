// Package sqlitestore provides SQLite-backed store implementations.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/XSAM/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS moderation_content (
	content_type       TEXT NOT NULL,
	content_id         TEXT NOT NULL,
	title              TEXT NOT NULL DEFAULT '',
	excerpt            TEXT NOT NULL DEFAULT '',
	author_id          TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL,
	status             TEXT NOT NULL,
	report_count       INTEGER NOT NULL DEFAULT 0,
	spam_score         INTEGER,
	last_report_reason TEXT NOT NULL DEFAULT '',
	updated_at         TEXT NOT NULL,
	PRIMARY KEY (content_type, content_id)
);

CREATE TABLE IF NOT EXISTS moderation_reports (
	id              TEXT PRIMARY KEY,
	content_type    TEXT NOT NULL,
	content_id      TEXT NOT NULL,
	reporter_id     TEXT NOT NULL,
	reason          TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	outcome         TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	resolved_by     TEXT NOT NULL DEFAULT '',
	resolution_note TEXT NOT NULL DEFAULT '',
	resolved_at     TEXT
);
CREATE INDEX IF NOT EXISTS idx_reports_content ON moderation_reports(content_type, content_id);
CREATE INDEX IF NOT EXISTS idx_reports_reporter ON moderation_reports(reporter_id, created_at);

CREATE TABLE IF NOT EXISTS moderation_audit_log (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	content_type TEXT NOT NULL,
	content_id   TEXT NOT NULL,
	action       TEXT NOT NULL,
	actor_id     TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	from_status  TEXT NOT NULL DEFAULT '',
	to_status    TEXT NOT NULL DEFAULT '',
	report_id    TEXT NOT NULL DEFAULT '',
	timestamp    TEXT NOT NULL,
	auto_mod     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_audit_content ON moderation_audit_log(content_type, content_id, seq);
`

// Open opens (or creates) the SQLite database at path through an otelsql
// wrapped driver and applies the moderation schema.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := otelsql.Open("sqlite", dsn, otelsql.WithAttributes(semconv.DBSystemSqlite))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer; one connection keeps writers queued in Go
	// instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
