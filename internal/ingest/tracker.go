package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"driveingest/internal/model"
)

// ChangeTracker turns listings of the watched folder into a deduplicated
// stream of newly observed files, and pages through the remote change feed.
// Push notifications and the poll timer both end up in ObserveNewFiles;
// a push is only a hint to look sooner.
type ChangeTracker struct {
	remote   RemoteDirectory
	seen     SeenStore
	cursors  CursorStore
	folderID string
	logger   Logger
	clock    Clock
	idgen    IDGenerator

	// mu serializes access to seen so two triggers cannot emit the same id.
	mu        sync.Mutex
	lastCheck time.Time
	channel   *model.Channel
}

// NewChangeTracker creates a tracker for the folder reported by remote.RootFolderID.
func NewChangeTracker(remote RemoteDirectory, seen SeenStore, cursors CursorStore, logger Logger, clock Clock, idgen IDGenerator) *ChangeTracker {
	return &ChangeTracker{
		remote:   remote,
		seen:     seen,
		cursors:  cursors,
		folderID: remote.RootFolderID(),
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
	}
}

// ObserveNewFiles lists the watched folder and returns the files whose ids
// have not been reported before. Returned ids are recorded as seen before
// the call returns, so concurrent or repeated calls never return them again
// until Reset or Forget.
func (t *ChangeTracker) ObserveNewFiles(ctx context.Context) ([]*model.RemoteEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries, err := t.remote.ListFiles(ctx, t.folderID)
	if err != nil {
		return nil, fmt.Errorf("listing watched folder: %w", err)
	}
	t.lastCheck = t.clock.Now()

	var fresh []*model.RemoteEntry
	var ids []string
	batch := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e == nil || e.ID == "" {
			continue
		}
		if _, dup := batch[e.ID]; dup {
			continue
		}
		batch[e.ID] = struct{}{}

		seen, err := t.seen.Has(e.ID)
		if err != nil {
			return nil, fmt.Errorf("checking seen store: %w", err)
		}
		if seen {
			continue
		}
		fresh = append(fresh, e)
		ids = append(ids, e.ID)
	}

	if len(ids) > 0 {
		if err := t.seen.Add(ids...); err != nil {
			return nil, fmt.Errorf("recording seen files: %w", err)
		}
		t.logger.Info("new files observed", "count", len(ids), "folder", t.folderID)
	}
	return fresh, nil
}

// Forget removes ids from the seen set so the next observation reports them
// again. Used when the downstream sync of an observed batch failed.
func (t *ChangeTracker) Forget(ids ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.seen.Remove(ids...); err != nil {
		return fmt.Errorf("forgetting seen files: %w", err)
	}
	return nil
}

// Reset clears the seen set so every current file is reported as new again.
func (t *ChangeTracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.seen.Reset(); err != nil {
		return fmt.Errorf("resetting seen store: %w", err)
	}
	t.logger.Info("seen files reset", "folder", t.folderID)
	return nil
}

// GetIncrementalChanges returns the changes after cursor and the cursor to
// use next time. With an empty cursor it only fetches a fresh start cursor.
// Any remote error aborts the whole paging loop; nothing is persisted here.
func (t *ChangeTracker) GetIncrementalChanges(ctx context.Context, cursor string) ([]*model.Change, string, error) {
	if cursor == "" {
		token, err := t.remote.GetStartToken(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("getting start token: %w", err)
		}
		return nil, token, nil
	}

	var changes []*model.Change
	pageToken := cursor
	next := cursor
	for pageToken != "" {
		page, err := t.remote.ListChanges(ctx, pageToken)
		if err != nil {
			return nil, "", fmt.Errorf("listing changes: %w", err)
		}
		changes = append(changes, page.Changes...)

		if page.NextPageToken != "" {
			pageToken = page.NextPageToken
			next = pageToken
			continue
		}
		if page.NewStartPageToken != "" {
			next = page.NewStartPageToken
		} else {
			next = pageToken
		}
		break
	}
	return changes, next, nil
}

// AdvanceCursor reads changes after the stored cursor and stores the new
// cursor once the whole paging loop succeeded. A missing cursor starts fresh.
func (t *ChangeTracker) AdvanceCursor(ctx context.Context) ([]*model.Change, error) {
	cursor, err := t.cursors.LoadCursor(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading cursor: %w", err)
	}

	changes, next, err := t.GetIncrementalChanges(ctx, cursor)
	if err != nil {
		return nil, err
	}

	if next != cursor {
		if err := t.cursors.SaveCursor(ctx, next); err != nil {
			return nil, fmt.Errorf("saving cursor: %w", err)
		}
	}
	t.logger.Debug("change cursor advanced", "changes", len(changes), "fresh", cursor == "")
	return changes, nil
}

// RegisterWatch registers a push channel delivering to address. An empty
// address disables push and returns (nil, nil).
func (t *ChangeTracker) RegisterWatch(ctx context.Context, address string) (*model.Channel, error) {
	if address == "" {
		t.logger.Warn("no notification address configured, push disabled")
		return nil, nil
	}

	token, err := t.remote.GetStartToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting start token: %w", err)
	}

	ch, err := t.remote.WatchChanges(ctx, token, t.idgen.New(), address)
	if err != nil {
		return nil, fmt.Errorf("registering watch channel: %w", err)
	}

	t.mu.Lock()
	t.channel = ch
	t.mu.Unlock()

	t.logger.Info("watch channel registered", "channel", ch.ID, "address", address)
	return ch, nil
}

// VerifyConnection fetches the watched folder to confirm the remote is reachable.
func (t *ChangeTracker) VerifyConnection(ctx context.Context) error {
	folder, err := t.remote.GetFile(ctx, t.folderID)
	if err != nil {
		return fmt.Errorf("fetching watched folder: %w", err)
	}
	if folder == nil {
		return fmt.Errorf("watched folder %s: %w", t.folderID, ErrNotFound)
	}
	return nil
}

// TrackerStatus is a point-in-time view of the tracker.
type TrackerStatus struct {
	Connected     bool
	FolderID      string
	LastCheck     time.Time // zero if never checked
	SeenFiles     int
	WatchChannel  string
	WatchExpireAt int64
}

// Status reports connectivity and dedup state.
func (t *ChangeTracker) Status(ctx context.Context) (*TrackerStatus, error) {
	connected := t.VerifyConnection(ctx) == nil

	t.mu.Lock()
	defer t.mu.Unlock()

	n, err := t.seen.Len()
	if err != nil {
		return nil, fmt.Errorf("counting seen files: %w", err)
	}

	st := &TrackerStatus{
		Connected: connected,
		FolderID:  t.folderID,
		LastCheck: t.lastCheck,
		SeenFiles: n,
	}
	if t.channel != nil {
		st.WatchChannel = t.channel.ID
		st.WatchExpireAt = t.channel.Expiration
	}
	return st, nil
}
