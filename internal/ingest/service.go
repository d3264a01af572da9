package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"driveingest/internal/model"
)

// Service wires the tracker, reconciler, sync engine and ingester together
// and exposes the operations used by the CLI and the HTTP API.
type Service struct {
	db       Database
	remote   RemoteDirectory
	Tracker  *ChangeTracker
	Folders  *FolderReconciler
	Files    *FileSyncEngine
	Analysis *AnalysisIngester
	logger   Logger

	// hints holds at most one pending poll request; extra pushes coalesce.
	hints chan struct{}
}

// NewService creates a Service with the provided dependencies.
func NewService(db Database, remote RemoteDirectory, seen SeenStore, publisher EventPublisher, logger Logger, clock Clock, idgen IDGenerator) *Service {
	return &Service{
		db:       db,
		remote:   remote,
		Tracker:  NewChangeTracker(remote, seen, db, logger, clock, idgen),
		Folders:  NewFolderReconciler(db, remote, logger, clock),
		Files:    NewFileSyncEngine(db, publisher, logger, clock),
		Analysis: NewAnalysisIngester(db, logger, clock),
		logger:   logger,
		hints:    make(chan struct{}, 1),
	}
}

// PollAndSync observes new files and syncs them. Ids that were not written,
// either because the batch failed or because their lookup failed, are
// forgotten so the next poll picks them up again.
func (s *Service) PollAndSync(ctx context.Context) ([]*model.RemoteFile, error) {
	observed, err := s.Tracker.ObserveNewFiles(ctx)
	if err != nil {
		return nil, err
	}
	if len(observed) == 0 {
		return nil, nil
	}

	synced, skipped, err := s.Files.SyncObserved(ctx, observed)
	if err != nil {
		ids := make([]string, len(observed))
		for i, o := range observed {
			ids[i] = o.ID
		}
		s.forget(ids)
		return nil, err
	}
	if len(skipped) > 0 {
		s.forget(skipped)
	}
	return synced, nil
}

func (s *Service) forget(ids []string) {
	if err := s.Tracker.Forget(ids...); err != nil {
		s.logger.Error("forgetting unsynced files", "count", len(ids), "error", err)
	}
}

// SyncAll lists the whole watched folder and syncs it, bypassing the seen set.
func (s *Service) SyncAll(ctx context.Context) ([]*model.RemoteFile, error) {
	entries, err := s.remote.ListFiles(ctx, s.remote.RootFolderID())
	if err != nil {
		return nil, fmt.Errorf("listing watched folder: %w", err)
	}
	return s.Files.SyncFiles(ctx, entries)
}

// Notify asks the poll loop to run soon. It never blocks; a push arriving
// while a poll is already pending is absorbed.
func (s *Service) Notify() {
	select {
	case s.hints <- struct{}{}:
	default:
	}
}

// Run polls every interval and whenever Notify is called, until ctx is
// cancelled. A poll already under way finishes before Run returns.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("poller started", "interval", interval, "folder", s.remote.RootFolderID())
	s.pollOnce(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("poller stopped")
			return nil
		case <-ticker.C:
			s.pollOnce(ctx, "timer")
		case <-s.hints:
			s.pollOnce(ctx, "push")
		}
	}
}

func (s *Service) pollOnce(ctx context.Context, trigger string) {
	synced, err := s.PollAndSync(context.WithoutCancel(ctx))
	if err != nil {
		s.logger.Error("poll failed", "trigger", trigger, "error", err)
		return
	}
	if len(synced) > 0 {
		s.logger.Info("poll synced files", "trigger", trigger, "count", len(synced))
	}
}

// UploadToFolder uploads content into the remote folder bound to local
// folder folderID and records the new file as attached to it.
func (s *Service) UploadToFolder(ctx context.Context, folderID int64, name, mimeType string, content io.Reader) (*model.RemoteFile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("file name is empty: %w", ErrValidation)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	folder, err := s.Folders.Folder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if !folder.RemoteID.Valid {
		return nil, fmt.Errorf("folder %d is not bound to a remote folder: %w", folderID, ErrValidation)
	}

	entry, err := s.remote.UploadFile(ctx, name, mimeType, content, folder.RemoteID.String)
	if err != nil {
		return nil, fmt.Errorf("uploading %q: %w", name, err)
	}

	rows, err := s.Files.SyncFilesInFolder(ctx, folderID, []*model.RemoteEntry{entry})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		// Already mirrored with the same timestamp.
		return s.db.FindFileByRemoteID(ctx, entry.ID)
	}
	s.logger.Info("file uploaded", "file", entry.ID, "folder", folderID, "name", name)
	return rows[0], nil
}

// ListRemoteFiles returns the current contents of the watched folder.
func (s *Service) ListRemoteFiles(ctx context.Context) ([]*model.RemoteEntry, error) {
	entries, err := s.remote.ListFiles(ctx, s.remote.RootFolderID())
	if err != nil {
		return nil, fmt.Errorf("listing watched folder: %w", err)
	}
	return entries, nil
}

// RemoteFile returns metadata for one remote file or ErrNotFound.
func (s *Service) RemoteFile(ctx context.Context, id string) (*model.RemoteEntry, error) {
	e, err := s.remote.GetFile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching file %s: %w", id, err)
	}
	if e == nil {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	return e, nil
}

// LocalFiles returns every mirrored file.
func (s *Service) LocalFiles(ctx context.Context) ([]*model.RemoteFile, error) {
	files, err := s.db.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing local files: %w", err)
	}
	return files, nil
}

// RootFolderID returns the id of the watched remote folder.
func (s *Service) RootFolderID() string {
	return s.remote.RootFolderID()
}
