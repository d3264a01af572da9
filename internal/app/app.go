package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"driveingest/internal/broker"
	"driveingest/internal/config"
	"driveingest/internal/database"
	"driveingest/internal/inbox"
	"driveingest/internal/ingest"
	"driveingest/internal/model"
	"driveingest/internal/remote"
	"driveingest/internal/seen"
)

// App is the application layer between the CLI and ingest.Service.
// It constructs all dependencies from config, exposes the operations the
// commands need, and releases every resource on Close.
type App struct {
	cfg       *config.Config
	db        ingest.Database
	remote    ingest.RemoteDirectory
	seen      ingest.SeenStore
	broker    *broker.MemoryBroker
	publisher ingest.EventPublisher
	service   *ingest.Service
	logger    ingest.Logger
	logFile   io.Closer
}

// NewApp creates a fully wired App from the given config.
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	l, logFile, err := newLogger(cfg.LogDir, cfg.Log, cfg.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a := &App{
		cfg:     cfg,
		broker:  broker.NewMemoryBroker(),
		logger:  &slogAdapter{l: l},
		logFile: logFile,
	}

	if err := a.open(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	db, err := database.NewDatabaseFromConfig(a.cfg.Database, a.cfg.InstanceID)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.db = db
	if err := db.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date (run migrate): %w", err)
	}

	clock := ingest.RealClock{}
	a.remote, err = remote.NewRemoteFromConfig(ctx, a.cfg.Remote, clock)
	if err != nil {
		return fmt.Errorf("creating remote directory: %w", err)
	}

	a.seen, err = seen.NewSeenStoreFromConfig(a.cfg.Tracker)
	if err != nil {
		return fmt.Errorf("creating seen store: %w", err)
	}

	a.publisher, err = broker.NewPublisherFromConfig(a.cfg.Broker, a.broker)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}

	a.service = ingest.NewService(a.db, a.remote, a.seen, a.publisher, a.logger, clock, ingest.UUIDGenerator{})
	return nil
}

// Service returns the wired ingest service.
func (a *App) Service() *ingest.Service {
	return a.service
}

// UploadFile resolves a local path and uploads it into folder folderID.
func (a *App) UploadFile(ctx context.Context, folderID int64, rawPath string) (*model.RemoteFile, error) {
	p, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", p, err)
	}
	defer f.Close()

	name := filepath.Base(p)
	return a.service.UploadToFolder(ctx, folderID, name, inbox.MimeType(name), f)
}

// RegisterWatch registers a push channel at the configured notification URL.
// Returns nil without error when no URL is configured.
func (a *App) RegisterWatch(ctx context.Context) (*model.Channel, error) {
	return a.service.Tracker.RegisterWatch(ctx, a.cfg.Remote.NotificationURL)
}

// Close releases all resources. The first error encountered is returned.
func (a *App) Close() error {
	var firstErr error
	keep := func(err error, what string) {
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing %s: %w", what, err)
		}
	}

	if a.publisher != nil {
		keep(a.publisher.Close(), "publisher")
	}
	if a.seen != nil {
		keep(a.seen.Close(), "seen store")
	}
	if a.db != nil {
		keep(a.db.Close(), "database")
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
