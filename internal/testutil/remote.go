package testutil

import (
	"driveingest/internal/remote"
)

// WatchedFolderID is the root folder id used by NewTestRemote.
const WatchedFolderID = "watched"

// NewTestRemote creates an in-memory remote directory watching WatchedFolderID,
// stamped by clock.
func NewTestRemote(clock *StubClock) *remote.MemoryDirectory {
	return remote.NewMemoryDirectory(WatchedFolderID, clock)
}
