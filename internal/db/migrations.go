package db

import (
	"database/sql"
	"fmt"
)

// migrations is an ordered list of SQL migration statements.
// Each entry is applied once in order. New migrations are appended at the end.
var migrations = []string{
	// Migration 0: initial schema
	`CREATE TABLE IF NOT EXISTS profiles (
		user_id            TEXT PRIMARY KEY,
		name               TEXT NOT NULL DEFAULT '',
		contact_channel    TEXT NOT NULL DEFAULT '',
		is_pro             INTEGER NOT NULL DEFAULT 0,
		usage_minutes      REAL NOT NULL DEFAULT 0,
		total_interactions INTEGER NOT NULL DEFAULT 0,
		setup_step         TEXT NOT NULL DEFAULT 'NEW',
		created_at         DATETIME,
		last_active        DATETIME
	)`,

	`CREATE TABLE IF NOT EXISTS turns (
		id         TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
		user_id    TEXT NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		image      TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS facts (
		id         TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
		user_id    TEXT NOT NULL,
		summary    TEXT NOT NULL,
		fact_type  TEXT NOT NULL DEFAULT 'fact',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS emotional_state (
		user_id      TEXT PRIMARY KEY,
		mood         TEXT NOT NULL DEFAULT '',
		energy       TEXT NOT NULL DEFAULT '',
		last_updated DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS summaries (
		user_id    TEXT PRIMARY KEY,
		summary    TEXT NOT NULL DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS settings (
		id                  INTEGER PRIMARY KEY CHECK (id = 1),
		trial_limit_minutes REAL NOT NULL DEFAULT 5,
		maintenance_mode    INTEGER NOT NULL DEFAULT 0,
		global_prompt       TEXT NOT NULL DEFAULT '',
		updated_at          DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE INDEX IF NOT EXISTS idx_turns_user_created ON turns(user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_facts_user_created ON facts(user_id, created_at DESC)`,
}

// applyMigrations runs any migrations that have not yet been applied.
func applyMigrations(conn *sql.DB) error {
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for i, stmt := range migrations {
		var count int
		row := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, i)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", i, err)
		}
		if count > 0 {
			continue
		}

		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i, err)
		}

		if _, err := conn.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, i); err != nil {
			return fmt.Errorf("record migration %d: %w", i, err)
		}
	}

	return nil
}

// applyVectorTables creates the sqlite-vec virtual table for fact embeddings.
// Called separately after the vec extension is confirmed loaded.
func applyVectorTables(conn *sql.DB, dimension int) error {
	stmt := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_facts USING vec0(
		id TEXT PRIMARY KEY,
		embedding float[%d]
	)`, dimension)

	if _, err := conn.Exec(stmt); err != nil {
		return fmt.Errorf("create vector table: %w", err)
	}
	return nil
}
