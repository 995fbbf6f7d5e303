/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (.env + environment), apply flag overrides
  2. Build the zap logger
  3. Initialize SQLite store
  4. Wire ledger, workflow, audit recorder and actor directory
  5. Optionally seed demo data
  6. Start the transition scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  PORT, DB_PATH, LOG_LEVEL, LOG_FORMAT, LEDGER_MAX_ATTEMPTS,
  SCHEDULER_ENABLED, SCHEDULER_INTERVAL, CORS_ORIGINS, DEMO_SEED,
  ACTOR_CACHE_SIZE, ACTOR_CACHE_TTL, RATE_LIMIT, RATE_BURST
  (see config/config.go)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Drain pending audit events
  5. Close database connection

EXAMPLES:
  # Run with demo data in memory
  DEMO_SEED=true ./server -db=":memory:"

  # Run on different port with readable logs
  LOG_FORMAT=console ./server -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/directory"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags override the environment
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	// Core
	clock := leave.SystemClock{}
	audit := leave.NewAuditRecorder(store, logger)
	defer audit.Wait()

	opts := leave.Options{
		Clock:       clock,
		Logger:      logger,
		Audit:       audit,
		MaxAttempts: cfg.LedgerMaxAttempts,
	}
	ledger := leave.NewLedger(store, opts)
	workflow := leave.NewWorkflow(store, ledger, opts)

	catalog, err := directory.DefaultCatalog()
	if err != nil {
		return fmt.Errorf("build role catalog: %w", err)
	}
	var dir leave.ActorDirectory = directory.New(store, catalog, logger)
	if cfg.ActorCacheSize > 0 {
		dir = directory.NewCache(dir, cfg.ActorCacheSize, cfg.ActorCacheTTL, logger)
	}

	if cfg.DemoSeed {
		summary, err := api.SeedDemo(context.Background(), store, ledger, clock.Today().Year())
		if err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
		logger.Info("demo data seeded",
			zap.Int("employees", summary.Employees),
			zap.Int("balances", summary.Balances),
		)
	}

	// HTTP
	metrics := api.NewMetrics()
	handler := api.NewHandler(workflow, dir, metrics, logger)
	if cfg.RateLimit > 0 {
		handler.Limiter = api.NewActorLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	router := api.NewRouter(handler, cfg.CORSOrigins)

	scheduler := api.NewTransitionScheduler(workflow, clock, logger)
	scheduler.Metrics = metrics
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("db", cfg.DBPath),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
