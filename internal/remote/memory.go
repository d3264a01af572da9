package remote

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"driveingest/internal/ingest"
	"driveingest/internal/model"
)

// MemoryDirectory is an in-process RemoteDirectory. It keeps a change log so
// the change feed can be paged like the real one; tokens are log positions.
type MemoryDirectory struct {
	mu       sync.Mutex
	rootID   string
	clock    ingest.Clock
	nextID   int
	seq      int
	entries  map[string]*memEntry
	log      []*model.Change
	pageSize int
	latency  time.Duration
	failures map[string]error
	calls    map[string]int
	channels []*model.Channel
}

type memEntry struct {
	entry   model.RemoteEntry
	content []byte
	trashed bool
	seq     int
}

var _ ingest.RemoteDirectory = (*MemoryDirectory)(nil)

// NewMemoryDirectory creates a directory holding only the watched root folder.
func NewMemoryDirectory(rootID string, clock ingest.Clock) *MemoryDirectory {
	d := &MemoryDirectory{
		rootID:   rootID,
		clock:    clock,
		entries:  make(map[string]*memEntry),
		pageSize: listPageSize,
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
	d.entries[rootID] = &memEntry{entry: model.RemoteEntry{
		ID:           rootID,
		Name:         "root",
		MimeType:     ingest.FolderMimeType,
		ModifiedTime: d.now(),
	}}
	return d
}

// SetPageSize limits how many changes one ListChanges call returns.
func (d *MemoryDirectory) SetPageSize(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pageSize = n
}

// SetLatency makes every call wait d first (or until ctx is done).
func (d *MemoryDirectory) SetLatency(latency time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latency = latency
}

// FailNext makes the next call of op ("ListFiles", "CreateFolder", ...) return err.
func (d *MemoryDirectory) FailNext(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = err
}

// Calls returns how many times op has been invoked.
func (d *MemoryDirectory) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// Channels returns the registered watch channels.
func (d *MemoryDirectory) Channels() []*model.Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*model.Channel(nil), d.channels...)
}

// AddFile puts a file under parentID with the given modified time (RFC 3339
// string, passed through verbatim) and records the change.
func (d *MemoryDirectory) AddFile(parentID, name, mimeType, modifiedTime string) *model.RemoteEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.insert(parentID, name, mimeType, modifiedTime)
	return &e.entry
}

// Touch changes a file's modified time and records the change.
func (d *MemoryDirectory) Touch(id, modifiedTime string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[id]; ok {
		e.entry.ModifiedTime = modifiedTime
		d.record(e, false)
	}
}

// Trash hides a file from listings and records a removal.
func (d *MemoryDirectory) Trash(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[id]; ok {
		e.trashed = true
		d.record(e, true)
	}
}

// Content returns the bytes uploaded for id.
func (d *MemoryDirectory) Content(id string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[id]; ok {
		return append([]byte(nil), e.content...)
	}
	return nil
}

func (d *MemoryDirectory) RootFolderID() string {
	return d.rootID
}

func (d *MemoryDirectory) ListFiles(ctx context.Context, folderID string) ([]*model.RemoteEntry, error) {
	if err := d.enter(ctx, "ListFiles"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var found []*memEntry
	for _, e := range d.entries {
		if !e.trashed && hasParent(e, folderID) {
			found = append(found, e)
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].entry.ModifiedTime != found[j].entry.ModifiedTime {
			return found[i].entry.ModifiedTime > found[j].entry.ModifiedTime
		}
		return found[i].seq > found[j].seq
	})

	out := make([]*model.RemoteEntry, len(found))
	for i, e := range found {
		out[i] = copyEntry(&e.entry)
	}
	return out, nil
}

func (d *MemoryDirectory) GetFile(ctx context.Context, id string) (*model.RemoteEntry, error) {
	if err := d.enter(ctx, "GetFile"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[id]
	if !ok || e.trashed {
		return nil, nil
	}
	return copyEntry(&e.entry), nil
}

func (d *MemoryDirectory) CreateFolder(ctx context.Context, name, parentID string) (*model.RemoteEntry, error) {
	if err := d.enter(ctx, "CreateFolder"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[parentID]; !ok {
		return nil, fmt.Errorf("parent %s: %w", parentID, ingest.ErrNotFound)
	}
	e := d.insert(parentID, name, ingest.FolderMimeType, d.now())
	return copyEntry(&e.entry), nil
}

func (d *MemoryDirectory) FindFolderByName(ctx context.Context, name, parentID string) (*model.RemoteEntry, error) {
	if err := d.enter(ctx, "FindFolderByName"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var best *memEntry
	for _, e := range d.entries {
		if e.trashed || e.entry.MimeType != ingest.FolderMimeType || e.entry.Name != name || !hasParent(e, parentID) {
			continue
		}
		if best == nil || e.seq < best.seq {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}
	return copyEntry(&best.entry), nil
}

func (d *MemoryDirectory) UploadFile(ctx context.Context, name, mimeType string, content io.Reader, parentID string) (*model.RemoteEntry, error) {
	if err := d.enter(ctx, "UploadFile"); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[parentID]; !ok {
		return nil, fmt.Errorf("parent %s: %w", parentID, ingest.ErrNotFound)
	}
	e := d.insert(parentID, name, mimeType, d.now())
	e.content = data
	return copyEntry(&e.entry), nil
}

func (d *MemoryDirectory) GetStartToken(ctx context.Context) (string, error) {
	if err := d.enter(ctx, "GetStartToken"); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return strconv.Itoa(len(d.log)), nil
}

func (d *MemoryDirectory) ListChanges(ctx context.Context, token string) (*model.ChangePage, error) {
	if err := d.enter(ctx, "ListChanges"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	pos, err := strconv.Atoi(token)
	if err != nil || pos < 0 || pos > len(d.log) {
		return nil, fmt.Errorf("change token %q expired: %w", token, ingest.ErrNotFound)
	}

	end := min(pos+d.pageSize, len(d.log))
	page := &model.ChangePage{}
	for _, c := range d.log[pos:end] {
		cp := *c
		if c.File != nil {
			cp.File = copyEntry(c.File)
		}
		page.Changes = append(page.Changes, &cp)
	}
	if end < len(d.log) {
		page.NextPageToken = strconv.Itoa(end)
	} else {
		page.NewStartPageToken = strconv.Itoa(len(d.log))
	}
	return page, nil
}

func (d *MemoryDirectory) WatchChanges(ctx context.Context, token, channelID, address string) (*model.Channel, error) {
	if err := d.enter(ctx, "WatchChanges"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := &model.Channel{
		ID:         channelID,
		ResourceID: "memory-" + token,
		Address:    address,
		Expiration: d.clock.Now().Add(7 * 24 * time.Hour).UnixMilli(),
	}
	d.channels = append(d.channels, ch)
	return ch, nil
}

// enter counts the call, applies latency and returns any injected failure.
func (d *MemoryDirectory) enter(ctx context.Context, op string) error {
	d.mu.Lock()
	d.calls[op]++
	latency := d.latency
	err := d.failures[op]
	delete(d.failures, op)
	d.mu.Unlock()

	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if err != nil {
		return fmt.Errorf("memory %s: %w", op, err)
	}
	return ctx.Err()
}

// insert must be called with d.mu held.
func (d *MemoryDirectory) insert(parentID, name, mimeType, modifiedTime string) *memEntry {
	d.nextID++
	d.seq++
	id := fmt.Sprintf("m-%d", d.nextID)
	e := &memEntry{
		entry: model.RemoteEntry{
			ID:           id,
			Name:         name,
			MimeType:     mimeType,
			ModifiedTime: modifiedTime,
			WebViewLink:  "https://drive.example/file/" + id,
			Parents:      []string{parentID},
		},
		seq: d.seq,
	}
	d.entries[id] = e
	d.record(e, false)
	return e
}

// record must be called with d.mu held.
func (d *MemoryDirectory) record(e *memEntry, removed bool) {
	c := &model.Change{
		FileID:  e.entry.ID,
		Removed: removed,
		Time:    d.now(),
	}
	if !removed {
		c.File = copyEntry(&e.entry)
	}
	d.log = append(d.log, c)
}

func (d *MemoryDirectory) now() string {
	return d.clock.Now().UTC().Format(time.RFC3339)
}

func hasParent(e *memEntry, parentID string) bool {
	for _, p := range e.entry.Parents {
		if p == parentID {
			return true
		}
	}
	return false
}

func copyEntry(e *model.RemoteEntry) *model.RemoteEntry {
	cp := *e
	cp.Parents = append([]string(nil), e.Parents...)
	return &cp
}
