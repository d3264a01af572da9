package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"driveingest/internal/ingest"
)

// MemoryVault keeps snapshots in memory. Safe for concurrent use.
type MemoryVault struct {
	name      string
	mu        sync.RWMutex
	snapshots map[string][]byte // instanceID -> latest snapshot
	versions  map[string]int64  // instanceID -> version
}

var _ ingest.Vault = (*MemoryVault)(nil)

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:      name,
		snapshots: make(map[string][]byte),
		versions:  make(map[string]int64),
	}
}

func (m *MemoryVault) PutSnapshot(instanceID string, r io.Reader, size int64, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if version <= m.versions[instanceID] {
		return fmt.Errorf("snapshot version %d is not newer than stored version %d", version, m.versions[instanceID])
	}
	m.snapshots[instanceID] = data
	m.versions[instanceID] = version
	return nil
}

func (m *MemoryVault) GetSnapshot(instanceID string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.snapshots[instanceID]
	if !ok {
		return fmt.Errorf("no snapshot for instance: %s", instanceID)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// SnapshotVersion returns 0 if nothing has been stored for instanceID.
func (m *MemoryVault) SnapshotVersion(instanceID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[instanceID], nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}
