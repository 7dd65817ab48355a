/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the lending engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and environment config
  2. Initialize SQLite store
  3. Connect the schedule cache (Redis when configured, in-process otherwise)
  4. Create API handler with lending policies
  5. Start the penalty scan scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT env)
  -db      SQLite database path (overrides DB_PATH env)
           Use ":memory:" for an in-memory database

ENVIRONMENT:
  See config/config.go for the full list: REDIS_ADDR, GRACE_DAYS,
  LATE_FEE_PERCENT, ALLOCATION_PRECEDENCE, PENALTY_SCAN_SCHEDULE, ...

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scan scheduler, close the database
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/lending.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Custom penalty policy
  GRACE_DAYS=5 LATE_FEE_PERCENT=0.03 ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pesa/lending-engine/api"
	"github.com/pesa/lending-engine/config"
	"github.com/pesa/lending-engine/store/cache"
	"github.com/pesa/lending-engine/store/sqlite"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	// Flags override the environment, matching local-dev habits.
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	penaltyPolicy, err := cfg.PenaltyPolicy()
	if err != nil {
		log.WithError(err).Fatal("invalid penalty policy")
	}
	allocPolicy, err := cfg.AllocationPolicy()
	if err != nil {
		log.WithError(err).Fatal("invalid allocation policy")
	}
	affordPolicy, err := cfg.AffordabilityPolicy()
	if err != nil {
		log.WithError(err).Fatal("invalid affordability policy")
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	// Schedule cache: Redis when configured, process-local otherwise.
	var scheduleCache cache.ScheduleCache
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedis(cfg.RedisAddr, cfg.CacheTTL())
		if err := redisCache.Ping(context.Background()); err != nil {
			log.WithError(err).Warn("redis unreachable, falling back to in-process cache")
			scheduleCache = cache.NewMemory()
		} else {
			defer redisCache.Close()
			scheduleCache = redisCache
			log.WithField("addr", cfg.RedisAddr).Info("schedule cache on redis")
		}
	} else {
		scheduleCache = cache.NewMemory()
	}

	// Initialize handler and scheduler
	handler := api.NewHandler(store, scheduleCache, log, penaltyPolicy, allocPolicy, affordPolicy)

	scheduler, err := api.NewScanScheduler(handler, cfg.PenaltyScanSchedule, log)
	if err != nil {
		log.WithError(err).Fatal("invalid PENALTY_SCAN_SCHEDULE")
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithField("addr", server.Addr).Info("lending engine listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}

	log.Info("server stopped")
}
