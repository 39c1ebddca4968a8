package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Run starts the selected roles and blocks until ctx is cancelled or one of
// them fails. The HTTP server is shut down first, then the scheduler and
// workers are drained.
func (app *application) Run(ctx context.Context, r roles) error {
	g, gctx := errgroup.WithContext(ctx)

	if r.workers {
		if err := app.startWorkers(); err != nil {
			return err
		}
	}

	if r.scheduler {
		if app.config.Sync.SchedulerEnabled {
			app.scheduler.Start()
		} else {
			app.logger.Info("sync scheduler disabled by configuration")
		}
	}

	if r.api {
		app.sessions.StartSweeper(gctx)
		router := app.setupRouter()
		g.Go(func() error {
			return app.startHTTPServer(gctx, router)
		})
	}

	// Hold the group open until shutdown is requested.
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	app.logger.Info("shutting down", "reason", context.Cause(gctx))

	if r.scheduler && app.config.Sync.SchedulerEnabled {
		stopCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
		app.scheduler.Stop(stopCtx)
		cancel()
	}
	app.stopWorkers()

	return err
}

// startHTTPServer serves router on the configured port until ctx is
// cancelled.
func (app *application) startHTTPServer(ctx context.Context, router http.Handler) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", app.config.Server.Port))
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	app.logger.Info("starting server", "port", app.config.Server.Port)
	return app.serveHTTP(ctx, ln, router)
}

// serveHTTP serves router on ln until ctx is cancelled, then shuts down
// gracefully within the configured timeout. Request contexts are cancelled
// as soon as shutdown begins, which ends open event streams.
func (app *application) serveHTTP(ctx context.Context, ln net.Listener, router http.Handler) error {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	server.RegisterOnShutdown(cancelBase)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	app.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Warn("graceful shutdown timed out; closing open connections", "error", err)
		if err := server.Close(); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
	}

	app.logger.Info("server shutdown completed")
	return nil
}
