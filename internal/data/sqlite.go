package data

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	// SQLite driver - imported for side effects (registers the driver).
	// Using modernc.org/sqlite which is a pure-Go implementation that
	// doesn't require CGO, making cross-compilation and testing easier.
	"database/sql"

	_ "modernc.org/sqlite"
)

// ErrItemNotFound is returned when a shopping item lookup fails.
var ErrItemNotFound = errors.New("shopping item not found")

// currentSchemaVersion is the current database schema version.
// Increment this when making schema changes and add migration logic.
const currentSchemaVersion = 1

// SQLiteStore implements Service using SQLite for persistence.
// It creates the database and tables on first use and supports
// concurrent access through internal locking.
type SQLiteStore struct {
	db *sql.DB      // Database connection handle.
	mu sync.RWMutex // Guards all database operations for thread safety.
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
// It initializes the schema if the tables don't exist.
// Use ":memory:" for an in-memory database (useful for testing).
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	log.Printf("data: opening database at %s", path)

	// Open database with foreign keys enabled for referential integrity.
	// The modernc.org/sqlite driver uses _pragma=foreign_keys(1) syntax.
	// busy_timeout handles concurrent access from the CLI and the host.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Verify the connection is working.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Printf("data: database ready (schema version %d)", currentSchemaVersion)
	return store, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	log.Printf("data: closing database")
	return s.db.Close()
}

// initSchema creates the required tables if they don't exist.
// Uses IF NOT EXISTS to make the operation idempotent.
func (s *SQLiteStore) initSchema() error {
	// Schema version table tracks database migrations.
	const schemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}

	if version < 1 {
		if err := s.migrateToV1(); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	return nil
}

// migrateToV1 creates the initial schema.
func (s *SQLiteStore) migrateToV1() error {
	log.Printf("data: applying migration to schema version 1")

	// Timestamps are stored as RFC3339 strings for readability and
	// portability. Shopping items are soft-deleted so devices syncing a
	// deletion after the fact still find the row.
	const schema = `
		CREATE TABLE IF NOT EXISTS recipes (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			servings INTEGER NOT NULL DEFAULT 0,
			prep_minutes INTEGER NOT NULL DEFAULT 0,
			steps TEXT NOT NULL DEFAULT '[]'
		);

		CREATE TABLE IF NOT EXISTS recipe_ingredients (
			recipe_id TEXT NOT NULL REFERENCES recipes(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			qty REAL NOT NULL DEFAULT 0,
			unit TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (recipe_id, position)
		);

		CREATE TABLE IF NOT EXISTS shopping_items (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			quantity TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			is_purchased INTEGER NOT NULL DEFAULT 0,
			is_manually_added INTEGER NOT NULL DEFAULT 0,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		);

		-- Single-row table holding the shopping list version counter.
		CREATE TABLE IF NOT EXISTS shopping_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL
		);
		INSERT OR IGNORE INTO shopping_meta (id, version) VALUES (1, 0);

		CREATE TABLE IF NOT EXISTS meal_plan (
			date TEXT NOT NULL,
			meal TEXT NOT NULL,
			recipe_id TEXT NOT NULL,
			servings INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (date, meal)
		);

		CREATE TABLE IF NOT EXISTS pantry_items (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			qty_text TEXT NOT NULL DEFAULT '',
			qty_num REAL NOT NULL DEFAULT 0,
			unit TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			store TEXT NOT NULL DEFAULT '',
			barcode TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		);

		-- Pantry adjustments match on name, so lookups by name must be fast.
		CREATE INDEX IF NOT EXISTS idx_pantry_name ON pantry_items(name);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	const record = `INSERT INTO schema_version (version, applied_at) VALUES (1, ?)`
	if _, err := s.db.Exec(record, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return nil
}

// bumpListVersion increments and returns the shopping list version inside
// the given transaction. Every mutation of the list goes through this so a
// device can order snapshots.
func bumpListVersion(tx *sql.Tx) (int64, error) {
	if _, err := tx.Exec("UPDATE shopping_meta SET version = version + 1 WHERE id = 1"); err != nil {
		return 0, fmt.Errorf("bump list version: %w", err)
	}

	var version int64
	if err := tx.QueryRow("SELECT version FROM shopping_meta WHERE id = 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("read list version: %w", err)
	}
	return version, nil
}
