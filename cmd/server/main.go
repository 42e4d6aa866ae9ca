/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the relief allocation engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, YAML, environment, flags)
  2. Build the zap logger
  3. Initialize SQLite store
  4. Load the resource catalog
  5. Wire ledger, rule engine, fact assembler, suggestion manager, predictor
  6. Start the flag reconciliation scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  See config/config.go. The common ones:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: relief.db)
           Use ":memory:" for in-memory database
  -log     development | production

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the reconciliation scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (shutdown timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/relief.db"

  # Production logging with a remote flood model
  ./server -log=production -predictor-url=http://model:9000/predict

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration sources
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

	"go.uber.org/zap"

	"github.com/warp/relief-engine/api"
	"github.com/warp/relief-engine/config"
	"github.com/warp/relief-engine/factory"
	"github.com/warp/relief-engine/logging"
	"github.com/warp/relief-engine/observability"
	"github.com/warp/relief-engine/predictor"
	"github.com/warp/relief-engine/reasoning"
	"github.com/warp/relief-engine/stock"
	"github.com/warp/relief-engine/store/sqlite"
	"github.com/warp/relief-engine/suggestion"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	log, err := logging.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	catalog, err := factory.LoadCatalogFile(cfg.CatalogPath, stock.DefaultCatalog())
	if err != nil {
		return err
	}

	metrics := observability.New()

	ledger := stock.NewLedger(store,
		stock.WithCatalog(catalog),
		stock.WithLogger(log),
		stock.WithMetrics(metrics),
	)
	engine := reasoning.NewDefaultEngine(
		reasoning.WithEngineLogger(log),
		reasoning.WithErrorObserver(metrics),
	)
	assembler := reasoning.NewAssembler(store, store, catalog)
	manager := suggestion.NewManager(store, assembler, engine, ledger, ledger,
		suggestion.WithLogger(log),
		suggestion.WithObserver(metrics),
	)

	var primary predictor.Predictor
	if cfg.PredictorURL != "" {
		primary = predictor.NewHTTP(cfg.PredictorURL, &http.Client{Timeout: cfg.PredictorTimeout})
	}
	pred := predictor.WithFallback(primary, predictor.RuleBased{}, cfg.PredictorTimeout,
		predictor.WithFallbackLogger(log),
		predictor.WithFallbackObserver(metrics),
	)

	handler := api.NewHandler(store, ledger, manager, pred, log)
	router := api.NewRouter(handler, api.WithMetricsHandler(metrics.Handler()))

	scheduler := api.NewReconciliationScheduler(manager, log)
	scheduler.CheckInterval = cfg.ReconcileInterval
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("db", cfg.DBPath),
			zap.Strings("resources", resourceNames(catalog)),
			zap.Bool("remote_predictor", primary != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

func resourceNames(c *stock.Catalog) []string {
	rs := c.Resources()
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}
