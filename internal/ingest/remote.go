package ingest

import (
	"context"
	"io"

	"driveingest/internal/model"
)

// FolderMimeType is the content type the remote directory uses for folders.
const FolderMimeType = "application/vnd.google-apps.folder"

// RemoteDirectory is the client for the external file store being mirrored.
// Implementations wrap transport failures with ErrRemoteUnavailable and
// return (nil, nil) from lookups that find nothing.
type RemoteDirectory interface {
	// RootFolderID returns the id of the watched folder.
	RootFolderID() string

	// ListFiles returns the non-trashed files directly under folderID.
	ListFiles(ctx context.Context, folderID string) ([]*model.RemoteEntry, error)

	// GetFile returns metadata for one file or folder.
	GetFile(ctx context.Context, id string) (*model.RemoteEntry, error)

	// CreateFolder creates a folder under parentID.
	CreateFolder(ctx context.Context, name, parentID string) (*model.RemoteEntry, error)

	// FindFolderByName returns the folder named name directly under parentID.
	FindFolderByName(ctx context.Context, name, parentID string) (*model.RemoteEntry, error)

	// UploadFile stores content as a new file under parentID.
	UploadFile(ctx context.Context, name, mimeType string, content io.Reader, parentID string) (*model.RemoteEntry, error)

	// GetStartToken returns a cursor positioned at "now" in the change feed.
	GetStartToken(ctx context.Context) (string, error)

	// ListChanges returns one page of changes after token.
	ListChanges(ctx context.Context, token string) (*model.ChangePage, error)

	// WatchChanges registers a push-notification channel for the change feed.
	WatchChanges(ctx context.Context, token, channelID, address string) (*model.Channel, error)
}
