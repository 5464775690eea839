// Package internal wires configuration, storage, the annotation workspace
// and its transports into a running process.
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

	"github.com/starford/marginalia/internal/annotator"
	"github.com/starford/marginalia/internal/api"
	"github.com/starford/marginalia/internal/docstore"
	"github.com/starford/marginalia/internal/mcpserver"
	"github.com/starford/marginalia/internal/sse"
	"github.com/starford/marginalia/internal/storage"
	"github.com/starford/marginalia/internal/vault"
	"github.com/starford/marginalia/internal/worker"
	"github.com/starford/marginalia/internal/workspace"
)

type runtime struct {
	cfg      *Config
	logger   *slog.Logger
	store    *storage.FS
	db       *docstore.DB
	profiles annotator.Source
	watchers []func(context.Context) error
	svc      *workspace.Service
}

func newApplication(opts []Option, defaultOut io.Writer) (*application, error) {
	app := &application{version: "dev", logOutput: defaultOut}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// setup builds everything both transports share. The caller closes the
// returned runtime.
func setup(app *application, opts ...workspace.Option) (*runtime, error) {
	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("worker", cfg.Worker.Kind),
		slog.Duration("debounce", cfg.Engine.Debounce),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	rt := &runtime{cfg: cfg, logger: logger, store: store}

	rt.profiles, err = rt.openProfiles()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	rt.db, err = docstore.Open(cfg.SQLite.Path)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init docstore: %w", err)
	}

	opts = append([]workspace.Option{
		workspace.WithVault(store),
		workspace.WithEngineConfig(cfg.Engine.Options()),
		workspace.WithLogger(logger),
	}, opts...)
	rt.svc = workspace.NewService(rt.db, rt.profiles, rt.newWorker(), opts...)

	n, err := vault.Sync(rt.db, store, rt.svc, logger)
	if err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	} else {
		logger.Info("initial sync done", slog.Int("imported", n))
	}
	return rt, nil
}

func (rt *runtime) openProfiles() (annotator.Source, error) {
	if rt.cfg.Annotators.File == "" {
		return annotator.Static(rt.cfg.Annotators.Profiles), nil
	}
	fs, err := annotator.OpenFile(rt.cfg.Annotators.File, rt.logger)
	if err != nil {
		return nil, fmt.Errorf("load annotators: %w", err)
	}
	rt.watchers = append(rt.watchers, fs.Watch)
	return fs, nil
}

func (rt *runtime) newWorker() worker.Worker {
	switch rt.cfg.Worker.Kind {
	case WorkerOllama:
		return worker.NewOllama(rt.cfg.Worker.BaseURL, rt.cfg.Worker.Model, rt.cfg.Worker.Timeout)
	default:
		return worker.Echo{}
	}
}

// watch starts the background watchers on g.
func (rt *runtime) watch(ctx context.Context, g *errgroup.Group) {
	for _, w := range rt.watchers {
		g.Go(func() error { return w(ctx) })
	}
	if rt.cfg.Vault.Watch {
		g.Go(func() error {
			return vault.Watch(ctx, rt.db, rt.store, rt.store.Root(), rt.svc, rt.logger)
		})
	}
}

func (rt *runtime) close() {
	if err := rt.svc.Close(); err != nil {
		rt.logger.Error("close workspace", slog.String("error", err.Error()))
	}
	if err := rt.db.Close(); err != nil {
		rt.logger.Error("close docstore", slog.String("error", err.Error()))
	}
	if err := rt.store.Close(); err != nil {
		rt.logger.Error("close vault", slog.String("error", err.Error()))
	}
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts, os.Stdout)
	if err != nil {
		return err
	}
	cfg := app.config

	broker := sse.NewBroker(cfg.App.HTTP.EventThrottle)
	defer broker.Close()

	rt, err := setup(app, workspace.WithSink(broker.Sink()))
	if err != nil {
		return err
	}
	defer rt.close()
	logger := rt.logger

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
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := rt.db.Ping(); err != nil {
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
	rt.svc.Start(gCtx)
	rt.watch(gCtx, g)

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		waitForShutdown(gCtx, logger)

		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the workspace over MCP on stdio until the client hangs up.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts, os.Stderr)
	if err != nil {
		return err
	}

	rt, err := setup(app)
	if err != nil {
		return err
	}
	defer rt.close()

	g, gCtx := errgroup.WithContext(ctx)
	rt.svc.Start(gCtx)
	rt.watch(gCtx, g)

	srv := mcpserver.New(rt.svc, app.version)
	g.Go(func() error {
		rt.logger.Info("Serving MCP on stdio", slog.String("version", app.version))
		if err := srv.ServeStdio(); err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		return err
	}
	return nil
}

// errShutdown cancels the group once a foreground task ends normally so
// the watchers stop with it.
var errShutdown = errors.New("shutdown")

func waitForShutdown(ctx context.Context, logger *slog.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, initiating shutdown")
	}
}
