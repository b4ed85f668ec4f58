package persistence

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestInitializeDatabase(t *testing.T) {
	t.Run("FreshDatabase", func(t *testing.T) {
		tempDir, err := os.MkdirTemp("", "schema_test")
		if err != nil {
			t.Fatalf("Failed to create temp dir: %v", err)
		}
		defer func() { _ = os.RemoveAll(tempDir) }()

		db, err := InitializeDatabase(filepath.Join(tempDir, "fresh.db"))
		if err != nil {
			t.Fatalf("Failed to initialize database: %v", err)
		}
		defer func() { _ = db.Close() }()

		version, err := GetSchemaVersion(db)
		if err != nil {
			t.Fatalf("Failed to get schema version: %v", err)
		}
		if version != CurrentSchemaVersion {
			t.Errorf("Expected schema version %d, got %d", CurrentSchemaVersion, version)
		}

		// All tables must exist.
		tables := []string{"missions", "artifacts", "tool_calls", "decisions", "quality_gate_results"}
		for _, table := range tables {
			var name string
			err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
			if err != nil {
				t.Errorf("Expected table %s to exist: %v", table, err)
			}
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		tempDir, err := os.MkdirTemp("", "schema_test")
		if err != nil {
			t.Fatalf("Failed to create temp dir: %v", err)
		}
		defer func() { _ = os.RemoveAll(tempDir) }()

		dbPath := filepath.Join(tempDir, "reopen.db")

		db, err := InitializeDatabase(dbPath)
		if err != nil {
			t.Fatalf("Failed to initialize database: %v", err)
		}

		store := NewStore(db)
		uuid, err := store.CreateMission("PLANNING", 5.0, 0, nil)
		if err != nil {
			t.Fatalf("Failed to create mission: %v", err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("Failed to close store: %v", err)
		}

		// Reopening an up-to-date store must not touch existing data.
		db2, err := InitializeDatabase(dbPath)
		if err != nil {
			t.Fatalf("Failed to reopen database: %v", err)
		}
		store2 := NewStore(db2)
		defer func() { _ = store2.Close() }()

		mission, err := store2.GetMission(uuid)
		if err != nil {
			t.Fatalf("Failed to get mission after reopen: %v", err)
		}
		if mission.MaxCost != 5.0 {
			t.Errorf("Mission data lost across reopen: %+v", mission)
		}
	})

	t.Run("RefusesFutureSchemaVersion", func(t *testing.T) {
		tempDir, err := os.MkdirTemp("", "schema_test")
		if err != nil {
			t.Fatalf("Failed to create temp dir: %v", err)
		}
		defer func() { _ = os.RemoveAll(tempDir) }()

		dbPath := filepath.Join(tempDir, "future.db")

		db, err := InitializeDatabase(dbPath)
		if err != nil {
			t.Fatalf("Failed to initialize database: %v", err)
		}
		if _, err := db.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", CurrentSchemaVersion+5); err != nil {
			t.Fatalf("Failed to bump schema version: %v", err)
		}
		if err := db.Close(); err != nil {
			t.Fatalf("Failed to close database: %v", err)
		}

		if _, err := InitializeDatabase(dbPath); !errors.Is(err, ErrIncompatibleSchema) {
			t.Errorf("Expected ErrIncompatibleSchema, got %v", err)
		}
	})

	t.Run("MigratesOlderVersion", func(t *testing.T) {
		tempDir, err := os.MkdirTemp("", "schema_test")
		if err != nil {
			t.Fatalf("Failed to create temp dir: %v", err)
		}
		defer func() { _ = os.RemoveAll(tempDir) }()

		dbPath := filepath.Join(tempDir, "old.db")

		// Build a version-1 store: current schema minus the columns added
		// by later migrations.
		db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)")
		if err != nil {
			t.Fatalf("Failed to open raw database: %v", err)
		}
		stmts := []string{
			`CREATE TABLE schema_version (version INTEGER PRIMARY KEY, applied_at DATETIME)`,
			`CREATE TABLE missions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				uuid TEXT NOT NULL UNIQUE,
				phase TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
				updated_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
				completed_at DATETIME,
				max_cost DECIMAL(10,4) DEFAULT 0.0,
				current_cost DECIMAL(10,4) DEFAULT 0.0,
				alert_threshold DECIMAL(10,4) DEFAULT 0.0,
				metadata TEXT
			)`,
			`CREATE TABLE artifacts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				mission_id INTEGER NOT NULL REFERENCES missions(id) ON DELETE CASCADE,
				artifact_type TEXT NOT NULL,
				artifact_name TEXT NOT NULL,
				ref TEXT, path TEXT, url TEXT,
				created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
			)`,
			`CREATE TABLE tool_calls (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				mission_id INTEGER NOT NULL REFERENCES missions(id) ON DELETE CASCADE,
				tool_name TEXT NOT NULL,
				args TEXT, result TEXT,
				success INTEGER NOT NULL DEFAULT 0,
				error_message TEXT,
				timestamp DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
				duration_ms INTEGER DEFAULT 0
			)`,
			`CREATE TABLE decisions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				mission_id INTEGER NOT NULL REFERENCES missions(id) ON DELETE CASCADE,
				decision_type TEXT NOT NULL,
				rationale TEXT NOT NULL,
				actor TEXT NOT NULL,
				timestamp DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
			)`,
			`CREATE TABLE quality_gate_results (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				mission_id INTEGER NOT NULL REFERENCES missions(id) ON DELETE CASCADE,
				transition_name TEXT NOT NULL,
				check_name TEXT NOT NULL,
				status TEXT NOT NULL,
				severity TEXT,
				blocking INTEGER NOT NULL DEFAULT 0,
				findings INTEGER,
				message TEXT,
				duration_ms INTEGER DEFAULT 0,
				timestamp DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
			)`,
			`INSERT INTO schema_version (version) VALUES (1)`,
		}
		for _, stmt := range stmts {
			if _, err := db.Exec(stmt); err != nil {
				t.Fatalf("Failed to build version-1 store: %v", err)
			}
		}
		if err := db.Close(); err != nil {
			t.Fatalf("Failed to close raw database: %v", err)
		}

		migrated, err := InitializeDatabase(dbPath)
		if err != nil {
			t.Fatalf("Failed to migrate database: %v", err)
		}
		defer func() { _ = migrated.Close() }()

		version, err := GetSchemaVersion(migrated)
		if err != nil {
			t.Fatalf("Failed to get schema version: %v", err)
		}
		if version != CurrentSchemaVersion {
			t.Errorf("Expected schema version %d after migration, got %d", CurrentSchemaVersion, version)
		}

		// Columns added by migrations must be usable.
		if _, err := migrated.Exec("SELECT sub_phase FROM missions LIMIT 1"); err != nil {
			t.Errorf("sub_phase column missing after migration: %v", err)
		}
		if _, err := migrated.Exec("SELECT remediation FROM quality_gate_results LIMIT 1"); err != nil {
			t.Errorf("remediation column missing after migration: %v", err)
		}
	})
}
