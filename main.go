package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"promptplay/internal/api"
	"promptplay/internal/chat"
	"promptplay/internal/config"
	"promptplay/internal/logging"
	"promptplay/internal/schema"
	"promptplay/internal/session"
	"promptplay/internal/slot"
	"promptplay/internal/watcher"
	"promptplay/internal/workflow"
)

const version = "1.0.0"

func main() {
	const configPath = "config.json"

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	var logOutput io.Writer
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer f.Close()
		logOutput = io.MultiWriter(os.Stdout, f)
	}
	logger := logging.NewLogger("main", logging.ParseLevel(cfg.Logging.Level), logOutput)
	logger.Info("Starting promptplay v%s...", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage slot
	storage, err := slot.New(slot.Config{
		Driver:    cfg.Storage.Driver,
		Path:      cfg.Storage.Path,
		RedisAddr: cfg.Storage.RedisAddr,
		RedisDB:   cfg.Storage.RedisDB,
		RedisTTL:  time.Duration(cfg.Storage.RedisTTLDays) * 24 * time.Hour,
	})
	if err != nil {
		logger.Error("Failed to initialize storage: %v", err)
		os.Exit(1)
	}
	defer storage.Close()
	logger.Info("Storage initialized (driver: %s)", cfg.Storage.Driver)

	// Initialize session store with the configured identity
	store := session.NewStore(storage, logger)
	switch {
	case cfg.Identity.Credential != "":
		store.Load(ctx, session.StorageContext{Key: session.DeriveKey(cfg.Identity.Credential)})
	case cfg.Identity.UserID != "":
		store.Load(ctx, session.StorageContext{Key: session.DeriveKeyFromUserID(cfg.Identity.UserID)})
	default:
		logger.Warn("No identity configured, sessions will not persist until one is set")
	}

	// Initialize workflow hub
	hub := workflow.NewHub(logger)
	go hub.Run(ctx)

	// Initialize chat client and runner
	client := chat.NewClient(cfg.Upstream.Endpoint, cfg.Upstream.APIKey, logger)
	runner := chat.NewRunner(client, store, logger)
	logger.Info("Upstream endpoint: %s", cfg.Upstream.Endpoint)

	// Initialize API server
	drafts := schema.NewDraftStore(storage, logger)
	apiServer := api.NewServer(store, runner, client, client, drafts, hub, cfg.Workflow.ResetDelay(), logger)
	defer apiServer.Close()
	logger.Info("API server initialized")

	// Watch the config file for dynamic settings changes
	w, err := watcher.NewWatcher(configPath, func(updated *config.Config) {
		logger.SetLevel(logging.ParseLevel(updated.Logging.Level))
		apiServer.SetResetDelay(updated.Workflow.ResetDelay())
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize config watcher: %v", err)
		os.Exit(1)
	}
	if err := w.Start(ctx); err != nil {
		logger.Warn("Config watcher not running: %v", err)
	}

	// Register routes
	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)

	// Create HTTP server. No write timeout: completions stream.
	addr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server listening on http://%s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error: %v", err)
		}
	}()

	// Graceful shutdown handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	logger.Info("promptplay stopped")
}
