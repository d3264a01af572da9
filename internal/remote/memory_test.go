package remote

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"driveingest/internal/ingest"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newMemory() *MemoryDirectory {
	return NewMemoryDirectory("root", fixedClock{time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)})
}

func TestMemoryDirectory_ListFiles(t *testing.T) {
	t.Run("newest first, trashed hidden", func(t *testing.T) {
		d := newMemory()
		old := d.AddFile("root", "old.pdf", "application/pdf", "2024-01-01T00:00:00Z")
		d.AddFile("root", "new.pdf", "application/pdf", "2024-01-10T00:00:00Z")
		gone := d.AddFile("root", "gone.pdf", "application/pdf", "2024-01-05T00:00:00Z")
		d.AddFile("elsewhere", "other.pdf", "application/pdf", "2024-01-05T00:00:00Z")
		d.Trash(gone.ID)

		entries, err := d.ListFiles(context.Background(), "root")
		if err != nil {
			t.Fatalf("ListFiles() error = %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("len(entries) = %d, want 2", len(entries))
		}
		if entries[0].Name != "new.pdf" || entries[1].ID != old.ID {
			t.Errorf("entries = [%s %s], want [new.pdf old.pdf]", entries[0].Name, entries[1].Name)
		}
	})

	t.Run("injected failure fires once", func(t *testing.T) {
		d := newMemory()
		boom := errors.New("boom")
		d.FailNext("ListFiles", boom)

		if _, err := d.ListFiles(context.Background(), "root"); !errors.Is(err, boom) {
			t.Fatalf("ListFiles() error = %v, want boom", err)
		}
		if _, err := d.ListFiles(context.Background(), "root"); err != nil {
			t.Fatalf("second ListFiles() error = %v", err)
		}
		if got := d.Calls("ListFiles"); got != 2 {
			t.Errorf("Calls(ListFiles) = %d, want 2", got)
		}
	})
}

func TestMemoryDirectory_Folders(t *testing.T) {
	d := newMemory()
	ctx := context.Background()

	created, err := d.CreateFolder(ctx, "Team A", "root")
	if err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	if created.MimeType != ingest.FolderMimeType {
		t.Errorf("MimeType = %q, want folder", created.MimeType)
	}

	found, err := d.FindFolderByName(ctx, "Team A", "root")
	if err != nil {
		t.Fatalf("FindFolderByName() error = %v", err)
	}
	if found == nil || found.ID != created.ID {
		t.Fatalf("FindFolderByName() = %v, want %s", found, created.ID)
	}

	other, err := d.FindFolderByName(ctx, "Team A", created.ID)
	if err != nil {
		t.Fatalf("FindFolderByName() error = %v", err)
	}
	if other != nil {
		t.Errorf("FindFolderByName() under different parent = %v, want nil", other)
	}

	if _, err := d.CreateFolder(ctx, "x", "missing"); !errors.Is(err, ingest.ErrNotFound) {
		t.Errorf("CreateFolder() under missing parent error = %v, want ErrNotFound", err)
	}
}

func TestMemoryDirectory_UploadFile(t *testing.T) {
	d := newMemory()
	e, err := d.UploadFile(context.Background(), "notes.txt", "text/plain", strings.NewReader("hello"), "root")
	if err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}
	if string(d.Content(e.ID)) != "hello" {
		t.Errorf("Content() = %q, want %q", d.Content(e.ID), "hello")
	}
	if e.ModifiedTime != "2024-01-15T10:30:00Z" {
		t.Errorf("ModifiedTime = %q, want clock time", e.ModifiedTime)
	}
}

func TestMemoryDirectory_ChangeFeed(t *testing.T) {
	ctx := context.Background()

	t.Run("pages until new start token", func(t *testing.T) {
		d := newMemory()
		d.SetPageSize(2)
		start, err := d.GetStartToken(ctx)
		if err != nil {
			t.Fatalf("GetStartToken() error = %v", err)
		}
		a := d.AddFile("root", "a", "text/plain", "2024-01-01T00:00:00Z")
		d.AddFile("root", "b", "text/plain", "2024-01-01T00:00:00Z")
		d.Trash(a.ID)

		page, err := d.ListChanges(ctx, start)
		if err != nil {
			t.Fatalf("ListChanges() error = %v", err)
		}
		if len(page.Changes) != 2 || page.NextPageToken == "" || page.NewStartPageToken != "" {
			t.Fatalf("first page = %d changes, next %q, new %q", len(page.Changes), page.NextPageToken, page.NewStartPageToken)
		}

		page, err = d.ListChanges(ctx, page.NextPageToken)
		if err != nil {
			t.Fatalf("ListChanges() error = %v", err)
		}
		if len(page.Changes) != 1 || !page.Changes[0].Removed {
			t.Fatalf("second page = %+v, want one removal", page.Changes)
		}
		if page.NewStartPageToken != "3" {
			t.Errorf("NewStartPageToken = %q, want %q", page.NewStartPageToken, "3")
		}
	})

	t.Run("invalid token is not found", func(t *testing.T) {
		d := newMemory()
		if _, err := d.ListChanges(ctx, "99"); !errors.Is(err, ingest.ErrNotFound) {
			t.Errorf("ListChanges() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("watch registers channel", func(t *testing.T) {
		d := newMemory()
		ch, err := d.WatchChanges(ctx, "0", "chan-1", "https://hook")
		if err != nil {
			t.Fatalf("WatchChanges() error = %v", err)
		}
		if ch.ID != "chan-1" || len(d.Channels()) != 1 {
			t.Errorf("channel = %+v, registered %d", ch, len(d.Channels()))
		}
	})
}

func TestMemoryDirectory_LatencyHonoursContext(t *testing.T) {
	d := newMemory()
	d.SetLatency(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.GetStartToken(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("GetStartToken() error = %v, want context.Canceled", err)
	}
}
