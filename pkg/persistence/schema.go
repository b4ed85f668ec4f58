// Package persistence provides SQLite-based durable storage for missions
// and their audit records.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver
)

// CurrentSchemaVersion defines the current schema version for migration
// support. Opening a store with a newer version fails with
// ErrIncompatibleSchema; an older version is migrated linearly before use.
const CurrentSchemaVersion = 3

// InitializeDatabase opens the SQLite database at dbPath and brings the
// schema to the current version. This function is idempotent and safe to
// call multiple times.
//
// Pragmas are connection-scoped in SQLite, so they ride in the DSN: every
// connection, fresh store or reopened, gets foreign-key enforcement (the
// cascade-delete contract depends on it) and fully synchronous commits
// (audit writes must be durable the moment the call returns).
func InitializeDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite supports a single writer; serialize all access through one
	// connection so per-mission write ordering holds.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return db, nil
}

// initializeSchemaWithMigrations ensures the database schema is at the
// current version, refusing to operate on a future-versioned store.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	// Never open a store written by a newer binary.
	if currentVersion > CurrentSchemaVersion {
		return fmt.Errorf("%w: store is at version %d, this binary supports up to %d",
			ErrIncompatibleSchema, currentVersion, CurrentSchemaVersion)
	}

	// Empty database: create fresh schema at the current version.
	if currentVersion == 0 {
		return createSchema(db)
	}

	if currentVersion == CurrentSchemaVersion {
		return nil
	}

	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

// runMigrations applies migrations from the current version up to target.
func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

// runMigration applies a specific version migration.
func runMigration(db *sql.DB, version int) error {
	switch version {
	case 1:
		return migrateToVersion1(db)
	case 2:
		return migrateToVersion2(db)
	case 3:
		return migrateToVersion3(db)
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// migrateToVersion1 is the baseline; version-1 stores were created whole.
func migrateToVersion1(_ *sql.DB) error { return nil }

// migrateToVersion2 adds the sub_phase column for finer-grained position
// tracking within a phase.
func migrateToVersion2(db *sql.DB) error {
	migrations := []string{
		"ALTER TABLE missions ADD COLUMN sub_phase TEXT",
	}
	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %s: %w", migration, err)
		}
	}
	return nil
}

// migrateToVersion3 adds remediation guidance to gate results.
func migrateToVersion3(db *sql.DB) error {
	migrations := []string{
		"ALTER TABLE quality_gate_results ADD COLUMN remediation TEXT",
	}
	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %s: %w", migration, err)
		}
	}
	return nil
}

// createSchema creates all required tables and indices. Pragmas are not
// set here: they are connection-scoped and carried in the DSN by
// InitializeDatabase.
func createSchema(db *sql.DB) error {
	tables := []string{
		// Schema version tracking
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Missions table: one row per mission
		`CREATE TABLE IF NOT EXISTS missions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			phase TEXT NOT NULL,
			sub_phase TEXT,
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','in_progress','completed','failed')),
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			completed_at DATETIME,
			max_cost DECIMAL(10,4) DEFAULT 0.0,
			current_cost DECIMAL(10,4) DEFAULT 0.0,
			alert_threshold DECIMAL(10,4) DEFAULT 0.0,
			metadata TEXT
		)`,

		// Artifacts cascade-delete with their owning mission
		`CREATE TABLE IF NOT EXISTS artifacts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mission_id INTEGER NOT NULL REFERENCES missions(id) ON DELETE CASCADE,
			artifact_type TEXT NOT NULL,
			artifact_name TEXT NOT NULL,
			ref TEXT,
			path TEXT,
			url TEXT,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Tool call audit log (append-only)
		`CREATE TABLE IF NOT EXISTS tool_calls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mission_id INTEGER NOT NULL REFERENCES missions(id) ON DELETE CASCADE,
			tool_name TEXT NOT NULL,
			args TEXT,
			result TEXT,
			success INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			timestamp DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			duration_ms INTEGER DEFAULT 0
		)`,

		// Decision audit log (append-only)
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mission_id INTEGER NOT NULL REFERENCES missions(id) ON DELETE CASCADE,
			decision_type TEXT NOT NULL,
			rationale TEXT NOT NULL,
			actor TEXT NOT NULL,
			timestamp DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Quality gate results (append-only, retries allowed)
		`CREATE TABLE IF NOT EXISTS quality_gate_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mission_id INTEGER NOT NULL REFERENCES missions(id) ON DELETE CASCADE,
			transition_name TEXT NOT NULL,
			check_name TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('PASS','FAIL','ERROR')),
			severity TEXT,
			blocking INTEGER NOT NULL DEFAULT 0,
			findings INTEGER,
			message TEXT,
			remediation TEXT,
			duration_ms INTEGER DEFAULT 0,
			timestamp DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_missions_status ON missions(status)",
		"CREATE INDEX IF NOT EXISTS idx_missions_phase ON missions(phase)",
		"CREATE INDEX IF NOT EXISTS idx_artifacts_mission ON artifacts(mission_id)",
		"CREATE INDEX IF NOT EXISTS idx_artifacts_type ON artifacts(artifact_type)",
		"CREATE INDEX IF NOT EXISTS idx_tool_calls_mission ON tool_calls(mission_id)",
		"CREATE INDEX IF NOT EXISTS idx_decisions_mission ON decisions(mission_id)",
		"CREATE INDEX IF NOT EXISTS idx_gate_results_mission ON quality_gate_results(mission_id)",
		"CREATE INDEX IF NOT EXISTS idx_gate_results_transition ON quality_gate_results(mission_id, transition_name)",
	}

	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, ddl := range indices {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := setSchemaVersion(db, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}

	return nil
}

// setSchemaVersion records the current schema version.
func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO schema_version (version) VALUES (?)
	`, version)
	if err != nil {
		return fmt.Errorf("database exec error: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the current schema version from the database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil // No version set yet
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}
