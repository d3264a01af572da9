package migrations

import (
	"database/sql"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	tables := []string{
		"folders", "remote_files", "change_cursor",
		"analysis_results", "criteria_evaluations", "evaluation_criteria",
		"critical_evaluations", "analysis_details", "mentor_report_details",
		"schema_migrations",
	}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestCheckDBMigrationStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	err := CheckDBMigrationStatus(db, SQLite)
	if err == nil {
		t.Fatal("CheckDBMigrationStatus() expected error for fresh database, got nil")
	}
	if err.Error() != "database has no schema version (needs migration)" {
		t.Errorf("CheckDBMigrationStatus() error = %q, want error about needing migration", err.Error())
	}
}

func TestCheckDBMigrationStatus_AfterMigration(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	if err := CheckDBMigrationStatus(db, SQLite); err != nil {
		t.Errorf("CheckDBMigrationStatus() after migration returned error: %v", err)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}
	if err := MigrateUp(db, SQLite); err != nil {
		t.Errorf("Second MigrateUp() failed: %v (should be idempotent)", err)
	}
	if err := CheckDBMigrationStatus(db, SQLite); err != nil {
		t.Errorf("CheckDBMigrationStatus() after double migration returned error: %v", err)
	}
}

func TestMigrateUp_UnknownDialect(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	err := MigrateUp(db, "oracle")
	if err == nil {
		t.Fatal("MigrateUp() expected error for unknown dialect, got nil")
	}
	if !strings.Contains(err.Error(), "unknown migration dialect") {
		t.Errorf("MigrateUp() error = %q, want unknown dialect", err.Error())
	}
}

func TestMigrationFiles_DialectsInStep(t *testing.T) {
	sqliteFiles, err := migrationFiles.ReadDir("files/sqlite")
	if err != nil {
		t.Fatalf("ReadDir(sqlite) error = %v", err)
	}
	postgresFiles, err := migrationFiles.ReadDir("files/postgres")
	if err != nil {
		t.Fatalf("ReadDir(postgres) error = %v", err)
	}
	if len(sqliteFiles) != len(postgresFiles) {
		t.Fatalf("sqlite has %d migration files, postgres has %d", len(sqliteFiles), len(postgresFiles))
	}
	for i := range sqliteFiles {
		if sqliteFiles[i].Name() != postgresFiles[i].Name() {
			t.Errorf("migration %d: sqlite %q, postgres %q", i, sqliteFiles[i].Name(), postgresFiles[i].Name())
		}
	}
}

func TestForeignKeyConstraints(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	// File attached to a folder that does not exist.
	_, err := db.Exec(`
		INSERT INTO remote_files (remote_id, name, mime_type, modified_time, detected_at, folder_id, created_at)
		VALUES ('f-1', 'a.pdf', 'application/pdf', datetime('now'), datetime('now'), 999, datetime('now'))
	`)
	if err == nil {
		t.Error("Expected foreign key constraint violation, but insert succeeded")
	}

	// Analysis for a file that does not exist.
	_, err = db.Exec("INSERT INTO analysis_results (file_id, created_at) VALUES (999, datetime('now'))")
	if err == nil {
		t.Error("Expected foreign key constraint violation for analysis, but insert succeeded")
	}
}

func TestSchema_RemoteIDUnique(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	insert := `INSERT INTO remote_files (remote_id, name, mime_type, modified_time, detected_at, created_at)
		VALUES ('f-1', 'a.pdf', 'application/pdf', datetime('now'), datetime('now'), datetime('now'))`
	if _, err := db.Exec(insert); err != nil {
		t.Fatalf("Failed to insert first file: %v", err)
	}
	if _, err := db.Exec(insert); err == nil {
		t.Error("Expected unique constraint violation for duplicate remote_id, but insert succeeded")
	}
}

func TestSchema_OneAnalysisPerFile(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	_, err := db.Exec(`INSERT INTO remote_files (id, remote_id, name, mime_type, modified_time, detected_at, created_at)
		VALUES (1, 'f-1', 'a.pdf', 'application/pdf', datetime('now'), datetime('now'), datetime('now'))`)
	if err != nil {
		t.Fatalf("Failed to insert file: %v", err)
	}
	if _, err := db.Exec("INSERT INTO analysis_results (file_id, created_at) VALUES (1, datetime('now'))"); err != nil {
		t.Fatalf("Failed to insert first analysis: %v", err)
	}
	if _, err := db.Exec("INSERT INTO analysis_results (file_id, created_at) VALUES (1, datetime('now'))"); err == nil {
		t.Error("Expected unique constraint violation for second analysis, but insert succeeded")
	}
}

func TestSchema_SingleCursorRow(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	if _, err := db.Exec("INSERT INTO change_cursor (id, token, updated_at) VALUES (2, 'x', datetime('now'))"); err == nil {
		t.Error("Expected check constraint violation for cursor id 2, but insert succeeded")
	}
}

// openTestDB opens an in-memory SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	return db
}
