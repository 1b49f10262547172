// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/tape/internal/api"
	"github.com/starford/tape/internal/collection"
	"github.com/starford/tape/internal/hotlist"
	"github.com/starford/tape/internal/index"
	"github.com/starford/tape/internal/mcpserver"
	"github.com/starford/tape/internal/snapshot"
	"github.com/starford/tape/internal/sse"
	"github.com/starford/tape/internal/storage"
)

// services holds the components shared by the HTTP and MCP modes.
type services struct {
	cfg    *Config
	logger *slog.Logger
	store  storage.Provider
	db     *index.DB
	svc    *collection.Service
}

func (rt *services) Close() {
	if err := rt.db.Close(); err != nil {
		rt.logger.Warn("close index", slog.String("error", err.Error()))
	}
}

// start applies opts, opens storage, the index and the collection service.
func start(ctx context.Context, opts []Option) (*services, error) {
	app := &application{logOutput: os.Stdout}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_path", cfg.Store.Path),
		slog.String("collection", cfg.Store.Collection),
		slog.String("snapshots_path", cfg.Store.Snapshots.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure the data directory exists.
	if err := storage.EnsureDir(cfg.Store.Path); err != nil {
		return nil, err
	}

	// Initialize storage.
	store, err := storage.NewFS(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	// Initialize SQLite index.
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}
	rt := &services{cfg: cfg, logger: logger, store: store, db: db}

	// Run initial sync.
	if err := index.Sync(db, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	svcOpts := []collection.Option{
		collection.WithLogger(logger),
		collection.WithInlineTags(cfg.Store.InlineTags),
	}
	if cfg.Store.Snapshots.Path != "" {
		snaps := snapshot.Open(cfg.Store.Snapshots.Path)
		svcOpts = append(svcOpts, collection.WithSnapshots(snaps, cfg.Store.Snapshots.Keep))
	}
	rt.svc = collection.NewService(store, db, cfg.Store.Collection, svcOpts...)
	if err := rt.svc.Open(ctx); err != nil {
		rt.Close()
		return nil, fmt.Errorf("open collection: %w", err)
	}
	return rt, nil
}

// onWatchEvent keeps the service and SSE clients in step with changes made
// to collection files outside the service.
func (rt *services) onWatchEvent(ctx context.Context, broker *sse.Broker) index.EventCallback {
	return func(kind, path string) {
		switch kind {
		case index.EventDeleted:
			broker.PublishCollectionEvent(sse.CollectionDeleted, path)
			return
		case index.EventInvalid:
			rt.logger.Warn("collection changed on disk but does not load", slog.String("collection", path))
			broker.PublishCollectionEvent(sse.CollectionInvalid, path)
			return
		}
		if path != rt.svc.Name() {
			broker.PublishCollectionEvent(sse.CollectionReloaded, path)
			return
		}
		changed, err := rt.svc.Reload(ctx)
		if err != nil {
			rt.logger.Error("reload collection", slog.String("error", err.Error()))
			return
		}
		if changed {
			broker.PublishCollectionEvent(sse.CollectionReloaded, path)
		}
	}
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	rt, err := start(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg, logger := rt.cfg, rt.logger

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	// Build API router.
	apiRouter := api.NewRouter(rt.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker,
		hotlist.WithSkipTrash(cfg.Import.SkipTrash),
		hotlist.WithFolderTags(cfg.Import.FolderTags),
	)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher with SSE callback.
	g.Go(func() error {
		if err := index.Watch(gCtx, rt.db, rt.store, logger, rt.onWatchEvent(gCtx, broker)); err != nil {
			logger.Error("watcher failed", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the collection over MCP on stdin/stdout until the client
// disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	rt, err := start(ctx, append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.logger.Info("MCP server starting", slog.String("collection", rt.svc.Name()))
	return mcpserver.New(rt.svc).ServeStdio()
}
