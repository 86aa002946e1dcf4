package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parcelworks/fieldsync/internal/docstore"
	"github.com/parcelworks/fieldsync/internal/server/handlers"
	"github.com/parcelworks/fieldsync/internal/server/middleware"
	"github.com/parcelworks/fieldsync/internal/server/storage/sqlite"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	dbPath := flag.String("db", "fieldsync-server.db", "Path to sqlite database")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	rateLimit := flag.Int("rate-limit", 100, "Requests per window per client IP")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	logger := newLogger(*logLevel)

	if err := run(logger, *addr, *dbPath, *rateLimit); err != nil {
		logger.Error("Server terminated", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, addr, dbPath string, rateLimit int) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	// Реестр документов восстанавливается из снимков и сохраняет
	// снимок после каждой мутации и слияния
	registry := docstore.NewRegistry(logger, docstore.WithPersister(store))

	snapshots, err := store.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("failed to load document snapshots: %w", err)
	}
	states := make(map[string][]byte, len(snapshots))
	for _, snapshot := range snapshots {
		states[snapshot.ParcelID] = snapshot.State
	}
	registry.Restore(states)
	logger.Info("Document registry restored", "documents", registry.Size())

	notesHandler := handlers.NewNotesHandler(logger, registry)
	healthHandler := handlers.NewHealthHandler(logger, Version)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/parcels/{parcelId}/notes", notesHandler.HandleGetNotes)
	mux.HandleFunc("PUT /api/v1/parcels/{parcelId}/notes", notesHandler.HandlePutNotes)
	mux.HandleFunc("POST /api/v1/parcels/{parcelId}/sync", notesHandler.HandleSync)
	mux.HandleFunc("GET /api/v1/health", healthHandler.Health(registry))

	// Цепочка middleware: recovery снаружи, затем rate limit, затем логирование
	handler := middleware.RecoveryMiddleware(logger)(
		middleware.RateLimitMiddleware(rateLimit, time.Minute, logger)(
			middleware.LoggingWithSkip(logger, []string{"/api/v1/health"})(mux),
		),
	)

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errC := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", addr, "version", Version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
		}
	}()

	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func printVersion() {
	fmt.Printf("FieldSync Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
