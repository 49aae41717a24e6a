// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/mixport/internal/api"
	"github.com/starford/mixport/internal/export"
	"github.com/starford/mixport/internal/exportservice"
	"github.com/starford/mixport/internal/history"
	"github.com/starford/mixport/internal/mcpserver"
	"github.com/starford/mixport/internal/remote"
	"github.com/starford/mixport/internal/resolver"
	"github.com/starford/mixport/internal/session"
	"github.com/starford/mixport/internal/sse"
	"github.com/starford/mixport/internal/storage"
	"github.com/starford/mixport/internal/termui"
	"github.com/starford/mixport/internal/transform"
)

// runtime holds the components shared by every entry point.
type runtime struct {
	cfg     *Config
	logger  *slog.Logger
	db      *history.DB
	cookies *session.File
	svc     *exportservice.Service
}

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// bootstrap wires the export pipeline. Runs started by the returned service
// are bound to ctx.
func bootstrap(ctx context.Context, cfg *Config, logger *slog.Logger, pub exportservice.Publisher) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}

	var src session.Source = session.Static(cfg.Remote.Cookie)
	if cfg.Remote.CookieFile != "" {
		f, err := session.NewFile(cfg.Remote.CookieFile)
		if err != nil {
			return nil, fmt.Errorf("init session: %w", err)
		}
		rt.cookies = f
		src = f
	}

	client, err := remote.NewClient(remote.Options{
		BaseURL:           cfg.Remote.BaseURL,
		Session:           src,
		UserAgent:         cfg.Remote.UserAgent,
		PageSize:          cfg.Remote.PageSize,
		Timeout:           cfg.Remote.Timeout,
		RequestsPerSecond: cfg.Remote.RequestsPerSecond,
		Burst:             cfg.Remote.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("init remote client: %w", err)
	}

	sink, err := storage.New(ctx, cfg.Output)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	store, _ := sink.(storage.Store)

	loc, err := cfg.Export.Location()
	if err != nil {
		return nil, fmt.Errorf("export timezone: %w", err)
	}
	tr := &transform.Transformer{
		Location:      loc,
		CreatedLabel:  cfg.Export.CreatedLabel,
		ModifiedLabel: cfg.Export.ModifiedLabel,
	}

	db, err := history.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init history: %w", err)
	}
	rt.db = db

	if err := history.Reconcile(db, time.Now(), logger); err != nil {
		logger.Warn("history reconcile failed", slog.String("error", err.Error()))
	}

	listing := cfg.Retry.Listing.Policy()
	images := cfg.Retry.Image.Policy()
	factory := func(name string) *export.Orchestrator {
		return export.New(
			remote.NewCrawler(client, listing),
			resolver.New(client, images, cfg.Images.Concurrency, logger),
			sink,
			export.Options{
				ArchiveName:   name,
				RootDir:       cfg.Export.RootDir,
				DefaultFolder: cfg.Export.DefaultFolder,
				Location:      loc,
				Transformer:   tr,
			},
			logger,
		)
	}

	rt.svc = exportservice.New(ctx, exportservice.Options{
		ArchiveName: cfg.Export.ArchiveName,
		Factory:     factory,
		Ledger:      db,
		Store:       store,
		Publisher:   pub,
		Logger:      logger,
	})
	return rt, nil
}

func (rt *runtime) close() {
	if rt.db != nil {
		_ = rt.db.Close()
	}
}

// watchSession keeps a file-backed session cookie fresh until ctx is done.
func (rt *runtime) watchSession(ctx context.Context) error {
	if rt.cookies == nil {
		return nil
	}
	if err := rt.cookies.Watch(ctx, rt.logger); err != nil {
		rt.logger.Warn("session watcher stopped", slog.String("error", err.Error()))
	}
	return nil
}

// Run starts the HTTP service with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(cfg, os.Stdout)
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("remote", cfg.Remote.BaseURL),
		slog.String("output", cfg.Output.Type),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	broker := sse.NewBroker(cfg.App.ProgressThrottle)
	defer broker.Close()

	rt, err := bootstrap(ctx, cfg, logger, broker)
	if err != nil {
		return err
	}
	defer rt.close()

	apiRouter := api.NewRouter(rt.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := rt.db.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.watchSession(gCtx)
	})

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
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := rt.svc.Cancel(); err == nil {
			logger.Info("Cancelling active export")
		}
		if _, err := rt.svc.Wait(shutdownCtx); err != nil {
			logger.Warn("Active export did not stop in time", slog.String("error", err.Error()))
		}
		// Ends open SSE streams so Shutdown does not wait on them.
		broker.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunExport performs a single export and returns once it has finished.
func RunExport(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	out := app.progress
	if out == nil {
		out = os.Stderr
	}

	logger := newLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rt, err := bootstrap(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.watchSession(gCtx)
	})
	g.Go(func() error {
		defer cancel()
		return exportOnce(gCtx, rt.svc, termui.New(out, logger))
	})
	return g.Wait()
}

func exportOnce(ctx context.Context, svc *exportservice.Service, ui *termui.Presenter) error {
	events, unsubscribe := svc.Subscribe()
	defer unsubscribe()
	defer ui.Close()

	id, err := svc.Start()
	if err != nil {
		return fmt.Errorf("start export: %w", err)
	}

	for ev := range events {
		ui.Handle(ev)
		if ev.Terminal() {
			break
		}
	}

	st, err := svc.Wait(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	if st.Error != "" {
		return fmt.Errorf("export %s failed: %s", id, st.Error)
	}
	return nil
}

// RunMCP serves the MCP tools on stdin/stdout. Logs go to stderr so they do not
// corrupt the protocol stream.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(cfg, os.Stderr)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rt, err := bootstrap(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.watchSession(gCtx)
	})
	g.Go(func() error {
		defer cancel()
		logger.Info("Starting MCP server on stdio")
		if err := mcpserver.New(rt.svc).ServeStdio(); err != nil {
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	})

	err = g.Wait()

	// cancel() has aborted any active run; let it record its outcome.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()
	if _, werr := rt.svc.Wait(waitCtx); werr != nil {
		logger.Warn("Active export did not stop in time", slog.String("error", werr.Error()))
	}
	return err
}
