// Package db opens the NIRA SQLite database and applies schema migrations.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// vec0 virtual tables must exist on whichever connection the pool hands
	// out, so sqlite-vec is registered as an auto-extension process-wide.
	vec.Auto()
}

// EmbeddingDimension matches Gemini text-embedding-004 output.
const EmbeddingDimension = 768

// DB owns the single SQLite handle shared by the store layer.
type DB struct {
	conn *sql.DB
}

// Open creates the database file (and any missing parent directories),
// applies pending migrations, and returns a ready handle.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", absPath)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection: SQLite serializes writers anyway, and a pool of one
	// keeps concurrent exchanges from tripping over SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	if err := applyMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	if err := applyVectorTables(conn, EmbeddingDimension); err != nil {
		// Builds without the sqlite-vec extension still serve chat; fact
		// search falls back to recency ordering.
		_ = err
	}

	return &DB{conn: conn}, nil
}

// Conn exposes the raw handle to the store layer.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

func (d *DB) Close() error {
	return d.conn.Close()
}

// Ping checks the connection is live.
func (d *DB) Ping() error {
	return d.conn.Ping()
}
