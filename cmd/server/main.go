/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the commission engine HTTP server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env files, then environment)
  2. Initialize SQLite store (records, policies, audit, collaborators)
  3. Load revenue rules (RULES_PATH, defaults otherwise)
  4. Build the commission service with metrics observer
  5. Configure HTTP router, start the sync scheduler and the server

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  DB_PATH=./data/commission.db ./server

  # Run with in-memory database and JSON logs
  DB_PATH=":memory:" LOG_FORMAT=json ./server

SEE ALSO:
  - config/config.go: Environment keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/commission-engine/api"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/config"
	"github.com/warp/commission-engine/factory"
	"github.com/warp/commission-engine/metrics"
	"github.com/warp/commission-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := cfg.NewLogger()

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server failed")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	divisor, err := cfg.Divisor()
	if err != nil {
		return err
	}
	rules, err := factory.LoadRulesWithDivisor(cfg.RulesPath, divisor)
	if err != nil {
		return err
	}

	aggregator := &commission.RevenueAggregator{
		Ledger:      store,
		Projects:    store,
		Rules:       rules,
		Concurrency: cfg.SyncConcurrency,
	}
	opts := []commission.Option{
		commission.WithLogger(log),
		commission.WithCompletenessGate(cfg.LockRequiresCompleteSync),
	}
	routerOpts := api.RouterOptions{CORSOrigins: cfg.CORSOrigins}
	if cfg.MetricsEnabled {
		m := metrics.New()
		opts = append(opts, commission.WithObserver(m))
		routerOpts.Metrics = m
		routerOpts.MetricsPath = cfg.MetricsPath
	}
	svc := commission.NewService(store, store, aggregator, opts...)

	router := api.NewRouter(api.NewHandler(svc, log), routerOpts)

	scheduler := api.NewSyncScheduler(svc, log, cfg.SyncInterval)
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"port":          cfg.Port,
			"db":            cfg.DBPath,
			"rules":         cfg.RulesPath,
			"exclusions":    len(rules.Exclusions),
			"complete_gate": cfg.LockRequiresCompleteSync,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
