/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the ledger HTTP server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the zap logger
  3. Open the store (memory, SQLite or PostgreSQL)
  4. Connect the Kafka publisher if brokers are configured
  5. Create the ledger, API handler and router
  6. Start the audit scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: ledger.db)
           Use ":memory:" for in-memory database
  -store   memory | sqlite | postgres (default: sqlite)

ENVIRONMENT:
  LEDGER_PORT, LEDGER_STORE, LEDGER_SQLITE_PATH, DATABASE_URL,
  KAFKA_BROKERS, KAFKA_TOPIC, LOG_LEVEL, LOG_FORMAT, AUDIT_INTERVAL,
  CORS_ORIGINS. See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the audit scheduler
  4. Flush the Kafka writer and close the store
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Run with in-memory database and console logs
  LOG_FORMAT=console ./server -store=memory

  # Run against PostgreSQL with events
  DATABASE_URL=postgres://localhost/ledger KAFKA_BROKERS=localhost:9092 ./server -store=postgres

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration sources
  - store/sqlite/sqlite.go, store/postgres/postgres.go: Persistent stores
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

	"github.com/warp/ledger-core/api"
	"github.com/warp/ledger-core/config"
	"github.com/warp/ledger-core/events/kafka"
	"github.com/warp/ledger-core/ledger"
	"github.com/warp/ledger-core/ledger/store"
	"github.com/warp/ledger-core/store/postgres"
	"github.com/warp/ledger-core/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	os.Exit(finish(logger, run(cfg, logger)))
}

// finish logs err, flushes the logger and returns the process exit code.
func finish(logger *zap.Logger, err error) int {
	code := 0
	if err != nil {
		logger.Error("server failed", zap.Error(err))
		code = 1
	}
	logger.Sync()
	return code
}

func run(cfg config.Config, logger *zap.Logger) error {
	// Initialize store
	txStore, pinger, closeStore, err := openStore(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer closeStore()

	opts := []ledger.Option{ledger.WithLogger(logger.Named("ledger"))}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("close kafka publisher", zap.Error(err))
			}
		}()
		opts = append(opts, ledger.WithPublisher(publisher))
		logger.Info("publishing transaction events",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic),
		)
	}
	l := ledger.New(txStore, opts...)

	// Initialize handler
	handler := api.NewHandler(l, logger.Named("http"))
	handler.Pinger = pinger
	handler.StoreName = cfg.Store

	scheduler := api.NewAuditScheduler(l, cfg.AuditInterval, logger.Named("audit"))
	handler.Scheduler = scheduler
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port), zap.String("store", cfg.Store))
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
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// openStore returns the configured store, an optional health pinger and a
// function releasing the store's resources.
func openStore(ctx context.Context, cfg config.Config) (ledger.TxStore, api.Pinger, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewTxMemory(), nil, func() {}, nil

	case config.StoreSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, func() { s.Close() }, nil

	case config.StorePostgres:
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		s, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, s.Close, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}
