/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the reward ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Initialize SQLite store and load persisted settings
  3. Wire the marketing sink when Conversions API credentials are set
  4. Create API handler and start the reconciliation scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port    HTTP server port (PORT, default: 8080)
  -db      SQLite database path (DB_PATH, default: ./rewards.db)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and drain queued marketing events
  4. Close database connection

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ruanggamer/reward-engine/api"
	"github.com/ruanggamer/reward-engine/config"
	"github.com/ruanggamer/reward-engine/logging"
	"github.com/ruanggamer/reward-engine/marketing"
	"github.com/ruanggamer/reward-engine/reward"
	"github.com/ruanggamer/reward-engine/settings"
	"github.com/ruanggamer/reward-engine/store/sqlite"
)

func main() {
	cfg := config.Load()

	// Flags
	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	logger, err := logging.New(cfg.LogProduction)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.String("path", *dbPath), zap.Error(err))
	}
	defer store.Close()

	provider := settings.NewProvider(store)
	if err := provider.Load(context.Background()); err != nil {
		logger.Warn("failed to load settings, using defaults", zap.Error(err))
	}

	var notifier reward.Notifier
	var sink *marketing.Sink
	if cfg.MarketingEnabled() {
		client := marketing.NewClient(marketing.ClientOptions{
			GraphURL:      cfg.FBGraphURL,
			PixelID:       cfg.FBPixelID,
			AccessToken:   cfg.FBAccessToken,
			TestEventCode: cfg.FBTestEventCode,
			Timeout:       10 * time.Second,
		})
		sink = marketing.NewSink(client, cfg.MarketingWorkers, cfg.MarketingQueue, logger)
		notifier = sink
		logger.Info("marketing events enabled", zap.String("pixel_id", cfg.FBPixelID))
	}

	handler := api.NewHandler(store, provider, notifier, store, logger)
	handler.Scheduler.CheckInterval = cfg.ReconcileInterval
	handler.Scheduler.Start()

	router := api.NewRouter(handler, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr), zap.String("db", *dbPath))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	handler.Scheduler.Stop()
	if sink != nil {
		sink.Close()
	}

	logger.Info("server stopped")
}
