package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/readerd/internal/api"
	"github.com/dgallion1/readerd/internal/config"
	"github.com/dgallion1/readerd/internal/pipeline"
	"github.com/dgallion1/readerd/internal/settings"
	"github.com/dgallion1/readerd/internal/source"
	"github.com/dgallion1/readerd/internal/store"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage.
	st := store.New()
	if cfg.PersistState {
		var err error
		st, err = store.Open(cfg.StateDir)
		if err != nil {
			log.Error("failed to open library state", "dir", cfg.StateDir, "error", err)
			os.Exit(1)
		}
	}

	set, err := settings.Load(cfg.SettingsFile, log)
	if err != nil {
		log.Error("failed to load settings", "path", cfg.SettingsFile, "error", err)
		os.Exit(1)
	}
	if err := set.Watch(ctx); err != nil {
		log.Warn("settings file will not be watched", "path", cfg.SettingsFile, "error", err)
	}

	lib := source.NewLibrary(cfg.LibraryDir, log)
	novels, err := lib.Import(ctx, st)
	if err != nil {
		log.Error("failed to import library", "dir", cfg.LibraryDir, "error", err)
		os.Exit(1)
	}
	log.Info("library imported", "dir", cfg.LibraryDir, "novels", len(novels))

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(cfg, st, lib, set, log)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(orch, log, cfg)

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     srv,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// SIGUSR1 drops cached passages, like a low-memory warning.
	go func() {
		trimCh := make(chan os.Signal, 1)
		signal.Notify(trimCh, syscall.SIGUSR1)
		for {
			select {
			case <-ctx.Done():
				return
			case <-trimCh:
				log.Info("trimming memory")
				orch.TrimMemory()
			}
		}
	}()

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()
		cancel()
	}()

	log.Info("starting readerd", "port", cfg.Port, "library", cfg.LibraryDir)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	<-ctx.Done()
}
