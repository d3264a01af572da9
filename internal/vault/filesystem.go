package vault

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"driveingest/internal/ingest"
)

// FileSystemVault stores snapshots as files:
//
//	<root>/
//	  snapshots/
//	    <instanceID>.db.age    (latest encrypted snapshot)
//	    <instanceID>.version   (its version number)
type FileSystemVault struct {
	name        string
	root        string
	snapshotDir string
}

var _ ingest.Vault = (*FileSystemVault)(nil)

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	snapshotDir := filepath.Join(root, "snapshots")
	if err := os.MkdirAll(snapshotDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	return &FileSystemVault{
		name:        name,
		root:        root,
		snapshotDir: snapshotDir,
	}, nil
}

// PutSnapshot replaces the stored snapshot. The data file is renamed into
// place before the version file is written, so a reader never sees a version
// whose data is missing.
func (v *FileSystemVault) PutSnapshot(instanceID string, r io.Reader, size int64, version int64) error {
	current, err := v.SnapshotVersion(instanceID)
	if err != nil {
		return err
	}
	if version <= current {
		return fmt.Errorf("snapshot version %d is not newer than stored version %d", version, current)
	}

	if err := v.writeFile(v.snapshotPath(instanceID), r, size); err != nil {
		return err
	}
	versionData := strconv.FormatInt(version, 10)
	if err := v.writeFile(v.versionPath(instanceID), strings.NewReader(versionData), int64(len(versionData))); err != nil {
		return fmt.Errorf("writing version: %w", err)
	}
	return nil
}

func (v *FileSystemVault) GetSnapshot(instanceID string, w io.Writer) error {
	f, err := os.Open(v.snapshotPath(instanceID))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no snapshot for instance: %s", instanceID)
		}
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	return nil
}

// SnapshotVersion returns 0 if no version file exists.
func (v *FileSystemVault) SnapshotVersion(instanceID string) (int64, error) {
	data, err := os.ReadFile(v.versionPath(instanceID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup verifies that the vault directories are accessible.
func (v *FileSystemVault) ValidateSetup() error {
	for _, dir := range []string{v.root, v.snapshotDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

func (v *FileSystemVault) snapshotPath(instanceID string) string {
	return filepath.Join(v.snapshotDir, instanceID+".db.age")
}

func (v *FileSystemVault) versionPath(instanceID string) string {
	return filepath.Join(v.snapshotDir, instanceID+".version")
}

// writeFile writes r to destPath via a temp file in the same directory and a rename.
func (v *FileSystemVault) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}
