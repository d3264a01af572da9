package ingest

import (
	"context"

	"driveingest/internal/model"
)

// CursorStore persists the change-feed position. An empty token means
// "no cursor yet".
type CursorStore interface {
	LoadCursor(ctx context.Context) (string, error)
	SaveCursor(ctx context.Context, token string) error
}

// Database provides the local relational store.
// Lookups return (nil, nil) when the row does not exist.
type Database interface {
	CursorStore

	// File operations

	// FindFileByRemoteID returns the file mirrored from the given external id.
	FindFileByRemoteID(ctx context.Context, remoteID string) (*model.RemoteFile, error)

	// ApplyFileChanges inserts and updates a batch of files in one transaction.
	// Inserted rows get their ID assigned. An insert whose remote id was
	// written concurrently by someone else is skipped and not returned.
	// Returns the rows actually inserted and updated.
	ApplyFileChanges(ctx context.Context, inserts, updates []*model.RemoteFile) (inserted, updated []*model.RemoteFile, err error)

	// ListFiles returns every mirrored file, newest detection first.
	ListFiles(ctx context.Context) ([]*model.RemoteFile, error)

	// CountFilesInFolder returns how many files are attached to a folder.
	CountFilesInFolder(ctx context.Context, folderID int64) (int, error)

	// Folder operations

	FindFolderByID(ctx context.Context, id int64) (*model.Folder, error)
	FindFolderByRemoteID(ctx context.Context, remoteID string) (*model.Folder, error)

	// CreateFolder inserts a folder and assigns its ID.
	CreateFolder(ctx context.Context, folder *model.Folder) error

	// ListFolders returns every folder ordered by ID.
	ListFolders(ctx context.Context) ([]*model.Folder, error)

	// Analysis operations

	// SaveAnalysis writes the full analysis graph for a file and marks the
	// file processed, all in one transaction. Returns false without writing
	// anything if the file already has a stored result.
	SaveAnalysis(ctx context.Context, result *model.AnalysisResult) (bool, error)

	// FindAnalysisByFileID loads the analysis graph for a local file id.
	FindAnalysisByFileID(ctx context.Context, fileID int64) (*model.AnalysisResult, error)

	// BackupTo writes a consistent copy of the store to destPath.
	BackupTo(destPath string) error

	// CheckMigrations verifies the schema is up to date.
	CheckMigrations() error

	// Migrate applies any pending schema migrations.
	Migrate() error

	Close() error
}
