package remote

import (
	"context"
	"fmt"

	"driveingest/internal/config"
	"driveingest/internal/ingest"
)

// NewRemoteFromConfig creates a RemoteDirectory based on the remote config type.
func NewRemoteFromConfig(ctx context.Context, cfg config.RemoteConfig, clock ingest.Clock) (ingest.RemoteDirectory, error) {
	switch cfg.Type {
	case "drive":
		d, err := NewDriveDirectory(ctx, cfg.CredentialsFile, cfg.FolderID)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "memory":
		folderID := cfg.FolderID
		if folderID == "" {
			folderID = "root"
		}
		return NewMemoryDirectory(folderID, clock), nil
	default:
		return nil, fmt.Errorf("unknown remote type: %s", cfg.Type)
	}
}
