package inbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"driveingest/internal/ingest"
	"driveingest/internal/model"
)

// RejectedDir holds files that can never be uploaded (unknown folder,
// hierarchy violation). It lives under each folder directory.
const RejectedDir = ".rejected"

const defaultSettle = 500 * time.Millisecond

// Uploader uploads a file into a local folder.
type Uploader interface {
	UploadToFolder(ctx context.Context, folderID int64, name, mimeType string, content io.Reader) (*model.RemoteFile, error)
}

// Watcher uploads files dropped into <root>/<folderID>/ and removes them
// once the upload succeeded.
type Watcher struct {
	root     string
	uploader Uploader
	logger   ingest.Logger
	settle   time.Duration
	ignore   *IgnoreMatcher

	// Per-file timer that resets on every write; the file is uploaded only
	// after settle of quiet.
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewWatcher(root string, uploader Uploader, logger ingest.Logger) *Watcher {
	return &Watcher{
		root:     root,
		uploader: uploader,
		logger:   logger,
		settle:   defaultSettle,
		ignore:   NewIgnoreMatcher(DefaultIgnore),
		timers:   make(map[string]*time.Timer),
	}
}

// SetSettle changes how long a file must stay unchanged before upload.
func (w *Watcher) SetSettle(d time.Duration) {
	w.settle = d
}

// SetIgnore replaces the patterns of files the watcher leaves alone.
func (w *Watcher) SetIgnore(patterns []string) {
	w.ignore = NewIgnoreMatcher(patterns)
}

// Run watches the inbox until ctx is cancelled. Files already present are
// uploaded first.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return fmt.Errorf("creating inbox: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fs watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.root); err != nil {
		return fmt.Errorf("watching %s: %w", w.root, err)
	}
	dirs, err := w.folderDirs()
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if err := fsw.Add(d); err != nil {
			w.logger.Warn("cannot watch inbox folder", "dir", d, "error", err)
		}
	}

	ready := make(chan string, 16)
	done := make(chan struct{})
	defer close(done)
	defer w.stopTimers()

	if err := w.Scan(ctx); err != nil {
		w.logger.Error("initial inbox scan failed", "error", err)
	}
	w.logger.Info("inbox watcher started", "dir", w.root)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("inbox watcher stopped")
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fsw, ev, ready, done)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("inbox watch error", "error", err)

		case path := <-ready:
			w.uploadLogged(context.WithoutCancel(ctx), path)
		}
	}
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, ev fsnotify.Event, ready chan<- string, done <-chan struct{}) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}

	if info.IsDir() {
		if filepath.Dir(ev.Name) != filepath.Clean(w.root) {
			return
		}
		if err := fsw.Add(ev.Name); err != nil {
			w.logger.Warn("cannot watch inbox folder", "dir", ev.Name, "error", err)
			return
		}
		// Files may have landed before the watch was added.
		entries, _ := os.ReadDir(ev.Name)
		for _, e := range entries {
			if !e.IsDir() && !w.ignore.Match(e.Name()) {
				w.debounce(filepath.Join(ev.Name, e.Name()), ready, done)
			}
		}
		return
	}
	if filepath.Dir(filepath.Dir(ev.Name)) != filepath.Clean(w.root) || w.ignore.Match(ev.Name) {
		return
	}
	w.debounce(ev.Name, ready, done)
}

func (w *Watcher) debounce(path string, ready chan<- string, done <-chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case ready <- path:
		case <-done:
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
}

// Scan uploads every file currently waiting in the inbox.
func (w *Watcher) Scan(ctx context.Context) error {
	dirs, err := w.folderDirs()
	if err != nil {
		return err
	}
	for _, d := range dirs {
		entries, err := os.ReadDir(d)
		if err != nil {
			return fmt.Errorf("reading %s: %w", d, err)
		}
		for _, e := range entries {
			if e.IsDir() || w.ignore.Match(e.Name()) {
				continue
			}
			w.uploadLogged(ctx, filepath.Join(d, e.Name()))
		}
	}
	return nil
}

func (w *Watcher) uploadLogged(ctx context.Context, path string) {
	err := w.Upload(ctx, path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		// Removed before it settled.
	case errors.Is(err, ingest.ErrValidation), errors.Is(err, ingest.ErrNotFound):
		w.logger.Error("inbox file rejected", "path", path, "error", err)
		if rerr := w.reject(path); rerr != nil {
			w.logger.Error("moving rejected inbox file", "path", path, "error", rerr)
		}
	default:
		// Left in place; the next scan retries it.
		w.logger.Error("inbox upload failed", "path", path, "error", err)
	}
}

// Upload sends one inbox file to the folder named by its parent directory
// and removes it locally on success.
func (w *Watcher) Upload(ctx context.Context, path string) error {
	folderID, err := strconv.ParseInt(filepath.Base(filepath.Dir(path)), 10, 64)
	if err != nil || folderID <= 0 {
		return fmt.Errorf("inbox directory for %s is not a folder id: %w", path, ingest.ErrValidation)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	name := filepath.Base(path)
	row, err := w.uploader.UploadToFolder(ctx, folderID, name, MimeType(name), f)
	f.Close()
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing uploaded file: %w", err)
	}
	w.logger.Info("inbox file uploaded", "path", path, "folder", folderID, "file", row.RemoteID)
	return nil
}

func (w *Watcher) reject(path string) error {
	dir := filepath.Join(filepath.Dir(path), RejectedDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.Rename(path, filepath.Join(dir, filepath.Base(path)))
}

// folderDirs returns the non-hidden directories directly under root.
func (w *Watcher) folderDirs() ([]string, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return nil, fmt.Errorf("reading inbox: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, filepath.Join(w.root, e.Name()))
		}
	}
	return dirs, nil
}

// MimeType guesses a media type from the file extension, without parameters.
func MimeType(name string) string {
	t := mime.TypeByExtension(filepath.Ext(name))
	if t == "" {
		return "application/octet-stream"
	}
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}
