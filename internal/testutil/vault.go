package testutil

import (
	"driveingest/internal/ingest"
	"driveingest/internal/vault"
)

// NewTestVault creates a new in-memory vault for testing.
func NewTestVault() ingest.Vault {
	return vault.NewMemoryVault("test-vault")
}
