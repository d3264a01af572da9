package database

import (
	"os"
	"path/filepath"
	"testing"

	"driveingest/internal/config"
)

func TestNewDatabaseFromConfig(t *testing.T) {
	t.Run("memory database is migrated", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "memory"}, "inst")
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() error = %v", err)
		}
		defer got.Close()

		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	t.Run("sqlite database uses instance file", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "db")
		got, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "sqlite", DataDir: dir}, "inst")
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() error = %v", err)
		}
		defer got.Close()

		if err := got.Migrate(); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "inst.db")); err != nil {
			t.Errorf("database file not created: %v", err)
		}
	})

	t.Run("sqlite without data dir", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "sqlite"}, "inst")
		if err == nil {
			t.Error("NewDatabaseFromConfig() expected error")
		}
		if got != nil {
			t.Errorf("NewDatabaseFromConfig() = %v, want nil", got)
		}
	})

	t.Run("postgres without dsn", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "postgres"}, "inst")
		if err == nil {
			t.Error("NewDatabaseFromConfig() expected error")
		}
		if got != nil {
			t.Errorf("NewDatabaseFromConfig() = %v, want nil", got)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "oracle"}, "inst")
		if err == nil {
			t.Error("NewDatabaseFromConfig() expected error")
		}
		if got != nil {
			t.Errorf("NewDatabaseFromConfig() = %v, want nil", got)
		}
	})
}
