package ingest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Vault stores encrypted snapshots of the local store, one series per instance.
type Vault interface {
	// PutSnapshot stores a snapshot for instanceID. size is the number of
	// bytes that will be read from r.
	PutSnapshot(instanceID string, r io.Reader, size int64, version int64) error

	// GetSnapshot writes the latest snapshot for instanceID to w.
	GetSnapshot(instanceID string, w io.Writer) error

	// SnapshotVersion returns the version of the latest snapshot, or 0 if none.
	SnapshotVersion(instanceID string) (int64, error)

	// ValidateSetup verifies that the vault is reachable.
	ValidateSetup() error
}

// Encryptor encrypts with a public key and unlocks a private key for decryption.
type Encryptor interface {
	// Setup generates a key pair, protecting the private key with passphrase.
	Setup(passphrase string) error

	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key for the rest of the session.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}

// Snapshotter copies the local store into a Vault and back.
type Snapshotter struct {
	db         Database
	vault      Vault
	encryptor  Encryptor
	instanceID string
	logger     Logger
}

func NewSnapshotter(db Database, vault Vault, encryptor Encryptor, instanceID string, logger Logger) *Snapshotter {
	return &Snapshotter{
		db:         db,
		vault:      vault,
		encryptor:  encryptor,
		instanceID: instanceID,
		logger:     logger,
	}
}

// Push encrypts a consistent copy of the store and uploads it with the next
// version number. Returns the version written.
func (s *Snapshotter) Push() (int64, error) {
	dir, err := os.MkdirTemp("", "driveingest-snapshot-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	plainPath := filepath.Join(dir, "store.db")
	if err := s.db.BackupTo(plainPath); err != nil {
		return 0, fmt.Errorf("copying store: %w", err)
	}

	plain, err := os.Open(plainPath)
	if err != nil {
		return 0, fmt.Errorf("opening store copy: %w", err)
	}
	defer plain.Close()

	sealed, err := os.Create(filepath.Join(dir, "store.db.age"))
	if err != nil {
		return 0, fmt.Errorf("creating encrypted copy: %w", err)
	}
	defer sealed.Close()

	if err := s.encryptor.Encrypt(plain, sealed); err != nil {
		return 0, fmt.Errorf("encrypting store copy: %w", err)
	}
	size, err := sealed.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("sizing encrypted copy: %w", err)
	}
	if _, err := sealed.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewinding encrypted copy: %w", err)
	}

	current, err := s.vault.SnapshotVersion(s.instanceID)
	if err != nil {
		return 0, fmt.Errorf("reading snapshot version: %w", err)
	}
	version := current + 1
	if err := s.vault.PutSnapshot(s.instanceID, sealed, size, version); err != nil {
		return 0, fmt.Errorf("uploading snapshot: %w", err)
	}

	s.logger.Info("snapshot pushed", "instance", s.instanceID, "version", version, "bytes", size)
	return version, nil
}

// Pull downloads the latest snapshot, decrypts it with dc and writes the
// plain store to destPath.
func (s *Snapshotter) Pull(dc DecryptionContext, destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("refusing to overwrite existing store at %s", destPath)
	}

	tmp, err := os.CreateTemp("", "driveingest-pull-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := s.vault.GetSnapshot(s.instanceID, tmp); err != nil {
		return fmt.Errorf("downloading snapshot: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding snapshot: %w", err)
	}

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}
	if err := dc.Decrypt(tmp, out); err != nil {
		out.Close()
		os.Remove(destPath)
		return fmt.Errorf("decrypting snapshot: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", destPath, err)
	}

	s.logger.Info("snapshot restored", "instance", s.instanceID, "path", destPath)
	return nil
}
