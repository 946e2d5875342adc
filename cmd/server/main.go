package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nahidhasan98/wacrm/internal/config"
	"github.com/nahidhasan98/wacrm/internal/connect"
	"github.com/nahidhasan98/wacrm/internal/events"
	"github.com/nahidhasan98/wacrm/internal/gateway"
	"github.com/nahidhasan98/wacrm/internal/handlers"
	"github.com/nahidhasan98/wacrm/internal/logger"
	"github.com/nahidhasan98/wacrm/internal/message"
	"github.com/nahidhasan98/wacrm/internal/server"
	"github.com/nahidhasan98/wacrm/internal/store"
	"github.com/nahidhasan98/wacrm/internal/transcribe"
)

// Global variables for configuration and services
var (
	cfg         *config.Config
	log         *logger.Logger
	db          *store.Store
	gw          *gateway.Client
	bus         *events.Bus
	hub         *events.Hub
	manager     *connect.Manager
	transcriber *transcribe.Service
	errChan     = make(chan error, 1)
)

func main() {
	// Create a context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create a wait group for graceful shutdown
	var wg sync.WaitGroup

	// Initialize configuration and services
	if err := initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Initialization error: %v\n", err)
		os.Exit(1)
	}

	// Start the web server
	startWebServer(ctx, &wg)

	// Forget finished transcriptions
	wg.Go(func() {
		transcriber.Tracker().RunCleanup(ctx, time.Minute, cfg.Transcribe.Retention)
	})

	// Handle shutdown signals
	waitForShutdown(cancel, &wg)
}

func initialize(ctx context.Context) error {
	var err error

	// Load configuration
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log = logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info("Starting WhatsApp CRM connection service")

	db, err = store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	gw, err = gateway.FromConfig(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create gateway client: %w", err)
	}

	bus = events.NewBus()
	hub = events.NewHub(bus, log.With("component", "hub"))

	manager = connect.NewManager(gw, connect.TimingFromConfig(cfg.Connect), connect.Options{
		Bus:      bus,
		Recorder: db,
		Webhook:  gateway.SessionConfigFromConfig(cfg.Gateway),
		Log:      log.With("component", "connect"),
		OnConnected: func(s connect.Snapshot) {
			log.With("user", s.User).With("session", s.Session).Info("WhatsApp connected")
		},
	})

	transcriber = transcribe.NewService(gw, transcribe.NewTracker(bus), log.With("component", "transcribe"))

	return nil
}

func startWebServer(ctx context.Context, wg *sync.WaitGroup) {
	wg.Go(func() {
		log.Info("Starting HTTP server...")

		// Initialize HTTP handlers
		httpHandler := handlers.New(handlers.Deps{
			Connections:   manager,
			Attempts:      db,
			Dispatcher:    message.NewDispatcher(),
			Transcriber:   transcriber,
			Gateway:       gw,
			Bus:           bus,
			Hub:           hub,
			WebhookSecret: cfg.Gateway.WebhookSecret,
		}, log)

		// Initialize and start HTTP server
		httpServer := server.New(cfg, httpHandler, log)
		if err := httpServer.Start(ctx, cfg); err != nil {
			errChan <- fmt.Errorf("failed to start HTTP server: %w", err)
			return
		}

		// Keep the server running until shutdown
		<-ctx.Done()
		log.Info("HTTP server shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Error during HTTP server shutdown", err)
		}
	})
}

func waitForShutdown(cancel context.CancelFunc, wg *sync.WaitGroup) {
	// Wait for either service to fail or for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Error("Service failed", err)
	case <-sigChan:
		log.Info("Received shutdown signal")
	}

	// Cancel context to signal goroutines to shutdown
	cancel()

	// Wait for all goroutines to finish
	wg.Wait()

	// Stop flows before the store they record into
	manager.Close()
	hub.Close()
	bus.Close()
	if err := db.Close(); err != nil {
		log.Error("Failed to close store", err)
	}

	log.Info("Application stopped")
}
