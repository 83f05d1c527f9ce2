package db

import (
	"context"
	"fmt"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS research_runs (
        id          TEXT PRIMARY KEY,
        topic       TEXT NOT NULL,
        status      TEXT NOT NULL,
        style       TEXT NOT NULL DEFAULT '',
        tone        TEXT NOT NULL DEFAULT '',
        mode        TEXT NOT NULL DEFAULT '',
        analysis    TEXT NOT NULL DEFAULT '',
        progress    DOUBLE PRECISION NOT NULL DEFAULT 0,
        message     TEXT NOT NULL DEFAULT '',
        report      JSONB,
        error       TEXT NOT NULL DEFAULT '',
        created_at  TIMESTAMPTZ NOT NULL,
        updated_at  TIMESTAMPTZ NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_research_runs_created_at ON research_runs (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS research_events (
        run_id      TEXT NOT NULL,
        seq         BIGINT NOT NULL,
        type        TEXT NOT NULL,
        progress    DOUBLE PRECISION NOT NULL DEFAULT 0,
        message     TEXT NOT NULL DEFAULT '',
        created_at  TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (run_id, seq)
    )`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS research_runs (
        id          TEXT PRIMARY KEY,
        topic       TEXT NOT NULL,
        status      TEXT NOT NULL,
        style       TEXT NOT NULL DEFAULT '',
        tone        TEXT NOT NULL DEFAULT '',
        mode        TEXT NOT NULL DEFAULT '',
        analysis    TEXT NOT NULL DEFAULT '',
        progress    REAL NOT NULL DEFAULT 0,
        message     TEXT NOT NULL DEFAULT '',
        report      TEXT,
        error       TEXT NOT NULL DEFAULT '',
        created_at  TIMESTAMP NOT NULL,
        updated_at  TIMESTAMP NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_research_runs_created_at ON research_runs (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS research_events (
        run_id      TEXT NOT NULL,
        seq         INTEGER NOT NULL,
        type        TEXT NOT NULL,
        progress    REAL NOT NULL DEFAULT 0,
        message     TEXT NOT NULL DEFAULT '',
        created_at  TIMESTAMP NOT NULL,
        PRIMARY KEY (run_id, seq)
    )`,
}

// EnsureSchema creates the tables for the store's dialect.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := postgresSchema
	if s.db.DriverName() == DriverSQLite {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
