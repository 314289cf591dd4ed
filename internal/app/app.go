// Package app wires configuration into the store, oracle, planner and HTTP
// server shared by cmd/server and goalctl.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/goalpath/internal/api"
	"github.com/ashureev/goalpath/internal/audit"
	"github.com/ashureev/goalpath/internal/config"
	"github.com/ashureev/goalpath/internal/identity"
	"github.com/ashureev/goalpath/internal/janitor"
	"github.com/ashureev/goalpath/internal/middleware"
	"github.com/ashureev/goalpath/internal/oracle"
	"github.com/ashureev/goalpath/internal/planning"
	"github.com/ashureev/goalpath/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Deps holds the long-lived dependencies of a running process.
type Deps struct {
	Repo     *store.SQLiteStore
	Oracle   *oracle.Limited
	Planner  *planning.Planner
	recorder interface{ Close() error }
}

// Open connects the store, builds the configured oracle and the planner.
func Open(ctx context.Context, cfg *config.Config) (*Deps, error) {
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	ocfg, err := OracleConfig(cfg.Oracle)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	o, err := oracle.New(ctx, ocfg)
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("initialize oracle: %w", err)
	}
	slog.Info("Oracle ready", "provider", ocfg.Provider, "model", ocfg.Model)

	var (
		recorder planning.TurnRecorder = audit.Noop{}
		closer   interface{ Close() error } = audit.Noop{}
	)
	if cfg.ConversationLog.Enabled {
		logger, err := audit.NewLogger(audit.Config{
			Enabled:       true,
			Dir:           cfg.ConversationLog.Dir,
			GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
			GlobalPath:    cfg.ConversationLog.GlobalPath,
			QueueSize:     cfg.ConversationLog.QueueSize,
		})
		if err != nil {
			_ = o.Close()
			_ = repo.Close()
			return nil, fmt.Errorf("initialize conversation log: %w", err)
		}
		recorder, closer = logger, logger
	}

	return &Deps{
		Repo:     repo,
		Oracle:   o,
		Planner:  planning.NewPlanner(repo, o, planning.WithRecorder(recorder)),
		recorder: closer,
	}, nil
}

// Close flushes the conversation log and releases the oracle and database.
func (d *Deps) Close() error {
	return errors.Join(d.recorder.Close(), d.Oracle.Close(), d.Repo.Close())
}

// OracleConfig translates configuration into oracle settings, loading the
// prompt override file when one is configured.
func OracleConfig(c config.OracleConfig) (oracle.Config, error) {
	out := oracle.Config{
		Provider:       c.Provider,
		Model:          c.Model,
		APIKey:         c.APIKey,
		BaseURL:        c.BaseURL,
		Address:        c.GRPCAddr,
		ConnectTimeout: c.ConnectTimeout,
		Timeout:        c.Timeout,
		MaxTokens:      c.MaxTokens,
		RatePerMinute:  c.RatePerMinute,
		Burst:          c.Burst,
	}
	if c.PromptsPath != "" {
		data, err := os.ReadFile(c.PromptsPath)
		if err != nil {
			return oracle.Config{}, fmt.Errorf("read prompts: %w", err)
		}
		prompts, err := oracle.ParsePrompts(data)
		if err != nil {
			return oracle.Config{}, fmt.Errorf("parse prompts %s: %w", c.PromptsPath, err)
		}
		out.Prompts = prompts
		slog.Info("Loaded prompt overrides", "path", c.PromptsPath)
	}
	return out, nil
}

// NewRouter builds the HTTP handler tree.
func NewRouter(cfg *config.Config, d *Deps, conns *api.Connections) http.Handler {
	limiter := api.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	base := api.NewHandler(d.Repo, d.Planner)
	healthHandler := api.NewHealthHandler(d.Repo, conns, cfg.Oracle.Provider)
	planningHandler := api.NewPlanningHandler(base, limiter, conns)
	wsHandler := api.NewPlanSocket(base, conns, limiter, cfg.FrontendURL, cfg.IsDevelopment())

	allowed := []string{"*"}
	if !cfg.IsDevelopment() {
		allowed = []string{cfg.FrontendURL}
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(allowed))

	// Public routes.
	healthHandler.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(d.Repo, cfg.IsDevelopment()))
		planningHandler.RegisterRoutes(r)
		r.Get("/ws/plan", wsHandler.ServeHTTP)
	})
	return r
}

// Serve runs the HTTP server and the session janitor until ctx is done,
// then shuts down gracefully.
func Serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	d, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := d.Close(); closeErr != nil {
			slog.Error("Failed to close dependencies", "error", closeErr)
		}
	}()

	conns := api.NewConnections()
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: NewRouter(cfg, d, conns),
		// Daily-task generation can take several oracle calls.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	janitorDone := janitor.Start(workerCtx, d.Repo, cfg.SessionRetention, janitor.DefaultInterval)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	slog.Info("Shutting down gracefully...")
	stopWorkers()
	<-janitorDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	conns.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}
