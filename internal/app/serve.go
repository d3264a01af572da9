package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"driveingest/internal/broker"
	"driveingest/internal/httpapi"
	"driveingest/internal/inbox"
	"driveingest/internal/ingest"
)

const shutdownTimeout = 10 * time.Second

// Serve runs the poll loop, the analysis consumer and, when configured, the
// HTTP API and the inbox watcher until ctx is cancelled or one of them fails.
// Each component finishes the unit of work in hand before returning.
func (a *App) Serve(ctx context.Context) error {
	source, err := broker.NewSourceFromConfig(a.cfg.Broker, a.broker)
	if err != nil {
		return fmt.Errorf("creating analysis source: %w", err)
	}
	defer source.Close()

	var ln net.Listener
	if a.cfg.HTTP.Addr != "" {
		ln, err = net.Listen("tcp", a.cfg.HTTP.Addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", a.cfg.HTTP.Addr, err)
		}
	}

	if _, err := a.RegisterWatch(ctx); err != nil {
		// Polling still works without push.
		a.logger.Error("registering watch channel", "error", err)
	}

	interval := a.cfg.Tracker.PollInterval.Duration
	if interval <= 0 {
		interval = time.Minute
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.service.Run(gctx, interval)
	})

	consumer := ingest.NewConsumer(source, a.service.Analysis, a.logger, ingest.ConsumerOptions{})
	g.Go(func() error {
		return consumer.Run(gctx)
	})

	if ln != nil {
		srv := &http.Server{
			Handler:           httpapi.NewServer(a.service, a.logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("http api listening", "addr", ln.Addr().String())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if a.cfg.Inbox.Dir != "" {
		w := inbox.NewWatcher(a.cfg.Inbox.Dir, a.service, a.logger)
		if a.cfg.Inbox.Ignore != nil {
			w.SetIgnore(a.cfg.Inbox.Ignore)
		}
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	return g.Wait()
}
