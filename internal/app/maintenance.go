package app

import (
	"fmt"
	"path/filepath"

	"driveingest/internal/config"
	"driveingest/internal/database"
	"driveingest/internal/encryption"
	"driveingest/internal/ingest"
	"driveingest/internal/vault"
)

// Migrate applies pending schema migrations to the configured database.
func Migrate(cfg *config.Config) error {
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.InstanceID)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

// InitKeys creates the snapshot key pair, protecting the private key with passphrase.
func InitKeys(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if err := enc.Setup(passphrase); err != nil {
		return fmt.Errorf("creating keys: %w", err)
	}
	return nil
}

// StorePath returns the file backing the sqlite store, the default target
// of a snapshot pull.
func StorePath(cfg *config.Config) (string, error) {
	if cfg.Database.Type != "sqlite" {
		return "", fmt.Errorf("snapshots need a sqlite database, have %q", cfg.Database.Type)
	}
	return filepath.Join(cfg.Database.DataDir, cfg.InstanceID+".db"), nil
}

// PushSnapshot encrypts a copy of the store into the vault and returns the
// version written.
func PushSnapshot(cfg *config.Config) (int64, error) {
	l, logFile, err := newLogger(cfg.LogDir, cfg.Log, cfg.InstanceID)
	if err != nil {
		return 0, fmt.Errorf("creating logger: %w", err)
	}
	defer logFile.Close()

	v, err := vault.NewVaultFromConfig(cfg.Snapshot)
	if err != nil {
		return 0, fmt.Errorf("creating vault: %w", err)
	}
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return 0, fmt.Errorf("creating encryptor: %w", err)
	}
	if !enc.IsConfigured() {
		return 0, fmt.Errorf("no snapshot keys (run keys init)")
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.InstanceID)
	if err != nil {
		return 0, fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()

	return ingest.NewSnapshotter(db, v, enc, cfg.InstanceID, &slogAdapter{l: l}).Push()
}

// PullSnapshot restores the latest snapshot to destPath, which must not exist.
func PullSnapshot(cfg *config.Config, passphrase, destPath string) error {
	l, logFile, err := newLogger(cfg.LogDir, cfg.Log, cfg.InstanceID)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logFile.Close()

	v, err := vault.NewVaultFromConfig(cfg.Snapshot)
	if err != nil {
		return fmt.Errorf("creating vault: %w", err)
	}
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	dc, err := enc.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}

	return ingest.NewSnapshotter(nil, v, enc, cfg.InstanceID, &slogAdapter{l: l}).Pull(dc, destPath)
}
