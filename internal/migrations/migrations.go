package migrations

import (
	"database/sql"
	"fmt"
)

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: 1,
		Name:    "Add test_title index on traffic",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_traffic_test_title ON traffic(test_title);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_traffic_test_title;
		`,
	},
	{
		Version: 2,
		Name:    "Add file index on traffic",
		Up: `
			-- Reports group failures per catalog file
			CREATE INDEX IF NOT EXISTS idx_traffic_file ON traffic(file);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_traffic_file;
		`,
	},
	{
		Version: 3,
		Name:    "Add started_at index on runs",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_runs_started_at;
		`,
	},
}

// InitSchema creates all tables required across all modules
// This must be called before running migrations to ensure all tables exist
func InitSchema(db *sql.DB) error {
	schema := `
	-- Catalog rows, one per test stage, and the artifacts captured for them
	CREATE TABLE IF NOT EXISTS traffic (
		traffic_id TEXT PRIMARY KEY,
		test_title TEXT NOT NULL,
		meta TEXT,
		file TEXT,
		input TEXT,
		output TEXT,
		request BLOB,
		raw_request BLOB,
		raw_response BLOB,
		raw_log TEXT,
		duration_time REAL
	);

	-- Harness runs and the magic their markers were rendered with
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		magic TEXT NOT NULL,
		packet_file TEXT,
		started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		finished_at DATETIME,
		status TEXT NOT NULL,
		exit_code INTEGER NOT NULL DEFAULT 0
	);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Run executes all pending migrations on the database
func Run(db *sql.DB) error {
	// Initialize schema first to ensure all tables exist
	if err := InitSchema(db); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Create migrations tracking table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := GetCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for _, migration := range AllMigrations {
		if migration.Version <= currentVersion {
			continue
		}

		if _, err := db.Exec(migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Name, err)
		}

		_, err = db.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			migration.Version,
			migration.Name,
		)
		if err != nil {
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// GetCurrentVersion returns the current database schema version
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_migrations
	`).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	return version, nil
}
