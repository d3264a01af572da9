package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"driveingest/internal/model"
)

// FilesSyncedEventType is the envelope type of the outbound sync event.
const FilesSyncedEventType = "drive-files-synced"

// EventSource identifies this service in outbound event metadata.
const EventSource = "driveingest"

// FilesSyncedEvent summarizes the files inserted by one sync batch.
// The slices are parallel: index i of each describes the same file.
type FilesSyncedEvent struct {
	FileIDs       []string `json:"file_ids"`
	FileNames     []string `json:"file_names"`
	MimeTypes     []string `json:"mime_types"`
	ModifiedTimes []string `json:"modified_times"`
	WebViewLinks  []string `json:"web_view_links"`
	DetectedAt    string   `json:"detected_at"`
}

// EventEnvelope wraps every outbound event.
type EventEnvelope struct {
	Type     string        `json:"type"`
	Data     any           `json:"data"`
	Metadata EventMetadata `json:"metadata"`
}

type EventMetadata struct {
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

// FileSyncEngine upserts RemoteFile rows from observations and announces
// newly inserted files on the sync topic.
type FileSyncEngine struct {
	db        Database
	publisher EventPublisher
	logger    Logger
	clock     Clock
}

func NewFileSyncEngine(db Database, publisher EventPublisher, logger Logger, clock Clock) *FileSyncEngine {
	return &FileSyncEngine{
		db:        db,
		publisher: publisher,
		logger:    logger,
		clock:     clock,
	}
}

// SyncFiles upserts the observed files and returns the rows that were
// inserted or updated. Unchanged files are left alone.
func (e *FileSyncEngine) SyncFiles(ctx context.Context, observed []*model.RemoteEntry) ([]*model.RemoteFile, error) {
	rows, _, err := e.sync(ctx, observed, sql.NullInt64{})
	return rows, err
}

// SyncObserved is SyncFiles that also returns the ids of files skipped
// because their lookup failed. Those files were not written and should be
// offered again.
func (e *FileSyncEngine) SyncObserved(ctx context.Context, observed []*model.RemoteEntry) ([]*model.RemoteFile, []string, error) {
	return e.sync(ctx, observed, sql.NullInt64{})
}

// SyncFilesInFolder is SyncFiles with the written rows attached to a local folder.
func (e *FileSyncEngine) SyncFilesInFolder(ctx context.Context, folderID int64, observed []*model.RemoteEntry) ([]*model.RemoteFile, error) {
	rows, _, err := e.sync(ctx, observed, sql.NullInt64{Int64: folderID, Valid: true})
	return rows, err
}

// sync stages every observation, skipping only the ones that fail, then
// commits all staged rows in one transaction. Exactly one event is published
// after a commit that inserted at least one file. Observations without an
// id are dropped; ids whose lookup failed are returned as skipped.
func (e *FileSyncEngine) sync(ctx context.Context, observed []*model.RemoteEntry, folderID sql.NullInt64) ([]*model.RemoteFile, []string, error) {
	now := e.clock.Now()

	var inserts, updates []*model.RemoteFile
	var skipped []string
	staged := make(map[string]bool, len(observed))
	for _, o := range observed {
		if o == nil {
			continue
		}
		row, err := e.normalize(o, now)
		if err != nil {
			e.logger.Warn("skipping observation", "error", err)
			continue
		}
		if staged[row.RemoteID] {
			continue
		}

		existing, err := e.db.FindFileByRemoteID(ctx, row.RemoteID)
		if err != nil {
			e.logger.Error("looking up file, skipping", "file", row.RemoteID, "error", err)
			skipped = append(skipped, row.RemoteID)
			continue
		}
		staged[row.RemoteID] = true

		if existing == nil {
			row.DetectedAt = now
			row.CreatedAt = now
			row.FolderID = folderID
			inserts = append(inserts, row)
			continue
		}

		if existing.ModifiedTime.Equal(row.ModifiedTime) {
			continue
		}
		existing.Name = row.Name
		existing.MimeType = row.MimeType
		existing.ModifiedTime = row.ModifiedTime
		existing.WebViewLink = row.WebViewLink
		if folderID.Valid {
			existing.FolderID = folderID
		}
		updates = append(updates, existing)
	}

	if len(inserts) == 0 && len(updates) == 0 {
		return nil, skipped, nil
	}

	inserted, updated, err := e.db.ApplyFileChanges(ctx, inserts, updates)
	if err != nil {
		return nil, skipped, fmt.Errorf("committing file batch: %w: %w", ErrPersistenceConflict, err)
	}
	e.logger.Info("files synced", "inserted", len(inserted), "updated", len(updated))

	if len(inserted) > 0 {
		// Rows are committed; a publish failure must not undo the batch.
		if err := e.publish(context.WithoutCancel(ctx), inserted, now); err != nil {
			e.logger.Error("publishing sync event", "files", len(inserted), "error", err)
		}
	}

	return append(inserted, updated...), skipped, nil
}

func (e *FileSyncEngine) normalize(o *model.RemoteEntry, now time.Time) (*model.RemoteFile, error) {
	id := cleanText(o.ID)
	if id == "" {
		return nil, fmt.Errorf("observation has no file id")
	}

	modified, err := time.Parse(time.RFC3339, cleanText(o.ModifiedTime))
	if err != nil {
		e.logger.Warn("unparsable modified time, using now", "file", id, "value", o.ModifiedTime)
		modified = now
	}

	row := &model.RemoteFile{
		RemoteID:     id,
		Name:         cleanText(o.Name),
		MimeType:     cleanText(o.MimeType),
		ModifiedTime: modified.UTC(),
	}
	if link := cleanText(o.WebViewLink); link != "" && link != "None" {
		row.WebViewLink = sql.NullString{String: link, Valid: true}
	}
	return row, nil
}

func (e *FileSyncEngine) publish(ctx context.Context, files []*model.RemoteFile, detectedAt time.Time) error {
	ev := FilesSyncedEvent{DetectedAt: detectedAt.UTC().Format(time.RFC3339)}
	for _, f := range files {
		ev.FileIDs = append(ev.FileIDs, f.RemoteID)
		ev.FileNames = append(ev.FileNames, f.Name)
		ev.MimeTypes = append(ev.MimeTypes, f.MimeType)
		ev.ModifiedTimes = append(ev.ModifiedTimes, f.ModifiedTime.UTC().Format(time.RFC3339))
		ev.WebViewLinks = append(ev.WebViewLinks, f.WebViewLink.String)
	}

	payload, err := json.Marshal(EventEnvelope{
		Type: FilesSyncedEventType,
		Data: ev,
		Metadata: EventMetadata{
			Source:    EventSource,
			Timestamp: e.clock.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("encoding sync event: %w", err)
	}

	if err := e.publisher.Publish(ctx, FilesSyncedEventType, payload); err != nil {
		return fmt.Errorf("publishing sync event: %w", err)
	}
	return nil
}

// cleanText re-encodes s as valid UTF-8 and trims surrounding space.
func cleanText(s string) string {
	return strings.TrimSpace(strings.ToValidUTF8(s, "\uFFFD"))
}
