package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"orthosense_sync/internal/api"
	"orthosense_sync/internal/config"
	"orthosense_sync/internal/connectivity"
	"orthosense_sync/internal/engine"
	"orthosense_sync/internal/observer"
	"orthosense_sync/internal/outbox"
	"orthosense_sync/internal/remote"
	"orthosense_sync/internal/storage/sqlite"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Setup logger
	logger := setupLogger("info")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to open database", "error", err, "path", cfg.Database.Path)
		os.Exit(1)
	}
	defer db.Close()

	store := sqlite.NewStore(db, logger)
	if err := store.InitSchema(context.Background()); err != nil {
		logger.Error("failed to init schema", "error", err)
		os.Exit(1)
	}
	logger.Info("opened record store", "path", cfg.Database.Path)

	queue := outbox.New(store, outbox.Config{
		MaxRetries:  cfg.Sync.MaxRetries,
		BaseBackoff: cfg.Sync.BaseBackoff,
		MaxBackoff:  cfg.Sync.MaxBackoff,
	})

	prober := connectivity.NewProber(connectivity.Config{
		ProbeURL:      cfg.Connectivity.ProbeURL,
		ProbeInterval: cfg.Connectivity.ProbeInterval,
		ProbeTimeout:  cfg.Connectivity.ProbeTimeout,
	}, logger)

	client := remote.NewClient(remote.Config{
		BaseURL: cfg.Remote.BaseURL,
	}, logger)

	syncEngine := engine.New(store, queue, client, prober, logger, engine.Config{
		Interval:      cfg.Sync.Interval,
		Concurrency:   cfg.Sync.Concurrency,
		UploadTimeout: cfg.Remote.UploadTimeout,
	})

	statusObserver := observer.New(store, prober, syncEngine, logger)

	handler := api.NewHandler(syncEngine, statusObserver, logger)
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: handler.Routes(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := prober.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("connectivity prober error", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := statusObserver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("status observer error", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := syncEngine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("sync engine error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("api server shutdown error", "error", err)
		}
	}()

	logger.Info("starting syncd",
		"addr", cfg.Server.Addr,
		"remote", cfg.Remote.BaseURL,
		"interval", cfg.Sync.Interval,
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("api server error", "error", err)
		cancel()
	}

	wg.Wait()
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
