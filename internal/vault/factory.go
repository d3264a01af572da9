package vault

import (
	"fmt"

	"driveingest/internal/config"
	"driveingest/internal/ingest"
)

// NewVaultFromConfig creates a Vault implementation based on the snapshot config type.
func NewVaultFromConfig(cfg config.SnapshotConfig) (ingest.Vault, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryVault("memory"), nil
	case "s3":
		v, err := NewS3Vault("s3", cfg)
		if err != nil {
			return nil, err
		}
		return v, nil
	case "filesystem":
		if cfg.FSVaultRoot == "" {
			return nil, fmt.Errorf("filesystem vault requires fs_vault_root to be set")
		}
		v, err := NewFileSystemVault("filesystem", cfg.FSVaultRoot)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}
}
