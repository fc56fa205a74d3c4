package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tunr/backend/internal/broker"
	"github.com/tunr/backend/internal/config"
	"github.com/tunr/backend/internal/database"
	"github.com/tunr/backend/internal/db"
	"github.com/tunr/backend/internal/logging"
	"github.com/tunr/backend/internal/metrics"
	"github.com/tunr/backend/internal/router"
	"github.com/tunr/backend/internal/sentry"
	"github.com/tunr/backend/internal/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Structured logging from LOGGING_LEVEL and LOGGING_FORMAT.
	logging.Initialize()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	enabled, err := sentry.Init(cfg.SentryDSN, cfg.SentryEnvironment, version)
	if err != nil {
		slog.Error("failed to initialize sentry", slog.String("error", err.Error()))
	}
	if enabled {
		slog.Info("sentry error reporting enabled", slog.String("environment", cfg.SentryEnvironment))
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database
	sqlDB, err := database.New(cfg.DatabasePath)
	if err != nil {
		slog.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer sqlDB.Close()

	// Run migrations
	if err := database.RunMigrations(sqlDB); err != nil {
		slog.Error("failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}
	st := store.New(db.New(sqlDB), broker.New(), m)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.New(cfg, st, m),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", slog.String("addr", srv.Addr), slog.String("version", version))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	case <-ctx.Done():
		slog.Info("shutting down")
		// Realtime connections are hijacked and not tracked by Shutdown;
		// they end when the process exits.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown failed", slog.String("error", err.Error()))
		}
	}
}
