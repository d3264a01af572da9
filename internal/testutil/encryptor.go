package testutil

import (
	"driveingest/internal/encryption"
	"driveingest/internal/ingest"
)

// NewTestEncryptor returns an encryptor that frames data instead of encrypting it.
func NewTestEncryptor() ingest.Encryptor {
	return encryption.NewPlainEncryptor()
}
