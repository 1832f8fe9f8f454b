package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"pocket-ledger/internal/api"
	"pocket-ledger/internal/batch"
	"pocket-ledger/internal/config"
	"pocket-ledger/internal/domain/ledger"
	"pocket-ledger/internal/event"
	"pocket-ledger/internal/infrastructure/database/postgres"
	"pocket-ledger/internal/infrastructure/localstore"
	"pocket-ledger/internal/infrastructure/logging"
	"pocket-ledger/internal/syncengine"
)

func main() {
	cfg, logger := initializeApp()

	store := initializeLocalStore(cfg, logger)
	defer closeLocalStore(store, logger)

	dbPool := initializeDatabase(cfg, logger)
	defer closeDatabase(dbPool, logger)

	rabbitMQConn, publisher := setupEventing(cfg, logger)

	engine := initializeSyncEngine(cfg, store, dbPool, logger)
	service := initializeService(store, engine, publisher, logger)
	wireConnectivity(engine, service, logger)

	maintenanceJob := batch.NewSyncMaintenanceJob(engine.worker, engine.monitor, service, logger)
	cronScheduler := startBatchJobs(cfg, logger, maintenanceJob)

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	engine.monitor.Start(monitorCtx)

	router := api.SetupRouter(api.RouterDeps{
		Service: service,
		Queue:   engine.queue,
		Monitor: engine.monitor,
		Worker:  engine.worker,
		Recon:   engine.recon,
	}, cfg, logger)

	srv, serverErrors, shutdownChan := startServer(cfg, router, logger)
	handleShutdown(srv, cronScheduler, engine.monitor, stopMonitor, rabbitMQConn, shutdownChan, serverErrors, logger)
}

func initializeApp() (*config.Config, *slog.Logger) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.Logger)
	slog.SetDefault(logger)
	logger.Info("Application starting...", "config_source", viper.ConfigFileUsed())

	return cfg, logger
}

func initializeLocalStore(cfg *config.Config, logger *slog.Logger) *localstore.Store {
	logger.Info("Opening local durable store...", "path", cfg.LocalStore.Path)
	store, err := localstore.Open(cfg.LocalStore.Path, logger)
	if err != nil {
		logger.Error("Failed to open local store", "error", err)
		os.Exit(1)
	}
	return store
}

func closeLocalStore(store *localstore.Store, logger *slog.Logger) {
	logger.Info("Closing local store...")
	if err := store.Close(); err != nil {
		logger.Error("Failed to close local store", "error", err)
	}
}

func initializeDatabase(cfg *config.Config, logger *slog.Logger) *pgxpool.Pool {
	logger.Info("Initializing remote database connection pool...")
	dbPool, err := postgres.NewConnectionPool(context.Background(), cfg.Database, logger)
	if err != nil {
		logger.Error("Failed to initialize database connection pool", "error", err)
		os.Exit(1)
	}
	return dbPool
}

func closeDatabase(dbPool *pgxpool.Pool, logger *slog.Logger) {
	logger.Info("Closing database connection pool...")
	dbPool.Close()
}

// syncEngine groups the components that move local mutations to the remote
// store and back.
type syncEngine struct {
	remote  *postgres.RemoteStore
	ids     *syncengine.IDGenerator
	queue   *syncengine.Queue
	monitor *syncengine.Monitor
	worker  *syncengine.ReplayWorker
	recon   *syncengine.Reconciler
}

func initializeSyncEngine(cfg *config.Config, store *localstore.Store, dbPool *pgxpool.Pool, logger *slog.Logger) *syncEngine {
	logger.Info("Initializing sync engine...")

	remote := postgres.NewRemoteStore(dbPool, cfg.Sync.FetchPageSize, logger)
	ids := syncengine.NewIDGenerator(store, logger)
	queue := syncengine.NewQueue(store, ids, logger)
	monitor := syncengine.NewMonitor(remote, cfg.Sync.ProbeInterval, cfg.Sync.RequestTimeout, logger)
	worker := syncengine.NewReplayWorker(queue, remote, monitor, cfg.Sync.DrainDebounce, logger)
	recon := syncengine.NewReconciler(queue, remote, monitor,
		[]string{ledger.CollectionCustomers, ledger.CollectionTransactions}, logger)

	return &syncEngine{
		remote:  remote,
		ids:     ids,
		queue:   queue,
		monitor: monitor,
		worker:  worker,
		recon:   recon,
	}
}

func initializeService(store *localstore.Store, engine *syncEngine, publisher event.EventPublisher, logger *slog.Logger) ledger.LedgerService {
	logger.Info("Initializing ledger service...")
	service, err := ledger.NewLedgerService(store, engine.queue, engine.ids, engine.worker, engine.recon, publisher, logger)
	if err != nil {
		logger.Error("Failed to initialize ledger service", "error", err)
		os.Exit(1)
	}
	return service
}

// wireConnectivity registers the offline-to-online transition: drain the
// pending queue first, then refresh the local snapshot. Order matters, a
// fetch before the drain would read stale remote rows.
func wireConnectivity(engine *syncEngine, service ledger.LedgerService, logger *slog.Logger) {
	engine.monitor.OnConnected(func(ctx context.Context) {
		engine.worker.Drain(ctx)
		if err := service.Reconcile(ctx); err != nil {
			logger.Error("Post-reconnect reconciliation failed", "error", err)
		}
	})
	engine.monitor.OnDisconnected(func(ctx context.Context) {
		logger.Warn("Remote store unreachable, operating offline.")
	})
}

func setupEventing(cfg *config.Config, logger *slog.Logger) (*amqp.Connection, event.EventPublisher) {
	if !cfg.RabbitMQ.Enabled {
		logger.Info("RabbitMQ disabled, domain events will not be published.")
		return nil, event.NoopPublisher{}
	}

	uri := fmt.Sprintf("amqp://%s:%s@%s:%d/",
		cfg.RabbitMQ.Username, cfg.RabbitMQ.Password, cfg.RabbitMQ.Host, cfg.RabbitMQ.Port)
	conn, err := connectRabbitMQ(uri, logger)
	if err != nil {
		logger.Warn("RabbitMQ unavailable, continuing without event publishing", "error", err)
		return nil, event.NoopPublisher{}
	}

	publisher, err := event.NewRabbitMQEventPublisher(conn, cfg.RabbitMQ.ExchangeName, logger)
	if err != nil {
		logger.Warn("Failed to initialize RabbitMQ publisher, continuing without event publishing", "error", err)
		return conn, event.NoopPublisher{}
	}
	return conn, publisher
}

func connectRabbitMQ(uri string, logger *slog.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	retryCount := 5
	for i := 1; i <= retryCount; i++ {
		conn, err = amqp.Dial(uri)
		if err == nil {
			logger.Info("Successfully connected to RabbitMQ")

			go func() {
				blockChan := conn.NotifyBlocked(make(chan amqp.Blocking))
				closeChan := conn.NotifyClose(make(chan *amqp.Error))

				select {
				case b := <-blockChan:
					logger.Warn("RabbitMQ Connection Blocked", "reason", b.Reason)
				case e := <-closeChan:
					logger.Error("RabbitMQ Connection Closed", slog.Any("error", e))
				}
			}()

			return conn, nil
		}
		logger.Warn("Failed to connect to RabbitMQ, retrying...",
			slog.Int("attempt", i), slog.Any("error", err))
		time.Sleep(time.Duration(i) * time.Second)
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", retryCount, err)
}

func startBatchJobs(cfg *config.Config, logger *slog.Logger, maintenanceJob *batch.SyncMaintenanceJob) *cron.Cron {
	logger.Info("Initializing batch job scheduler...")
	c := cron.New()

	scheduleSpec := fmt.Sprintf("@every %s", cfg.Sync.DrainInterval)
	jobTimeout := cfg.Sync.RequestTimeout
	if jobTimeout <= 0 {
		jobTimeout = 20 * time.Second
	}

	jobID, err := c.AddJob(scheduleSpec, cron.FuncJob(func() {
		jobLogger := logger.With("job_name", "SyncMaintenance")
		jobLogger.Info("Cron triggered: Running sync maintenance job.")

		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		if runErr := maintenanceJob.Run(ctx); runErr != nil {
			jobLogger.Error("Sync maintenance job finished with error", slog.Any("error", runErr))
		} else {
			jobLogger.Info("Sync maintenance job finished successfully.")
		}
	}))

	if err != nil {
		logger.Error("Failed to schedule sync maintenance job", "schedule", scheduleSpec, slog.Any("error", err))
	} else {
		logger.Info("Scheduled sync maintenance job", "schedule", scheduleSpec, "job_id", jobID)
	}

	c.Start()
	logger.Info("Cron scheduler started.")
	return c
}

func startServer(cfg *config.Config, router http.Handler, logger *slog.Logger) (*http.Server, <-chan error, <-chan os.Signal) {
	logger.Info("Setting up HTTP server...", "port", cfg.Server.Port)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("Server listening on port %d", cfg.Server.Port))
		err := srv.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			serverErrors <- err
		} else {
			logger.Info("Server closed gracefully.")
			serverErrors <- nil
		}
	}()
	return srv, serverErrors, shutdownChan
}

func handleShutdown(srv *http.Server, cronScheduler *cron.Cron, monitor *syncengine.Monitor, stopMonitor context.CancelFunc,
	rabbitConn *amqp.Connection, shutdownChan <-chan os.Signal, serverErrors <-chan error, logger *slog.Logger) {
	logger.Info("Shutdown handler started. Waiting for signal or server error...")

	triggerReason := waitForShutdownTrigger(shutdownChan, serverErrors, logger)

	logger.Info("Starting graceful shutdown...", "trigger", triggerReason)

	stopCronScheduler(cronScheduler, logger)
	stopConnectivityMonitor(monitor, stopMonitor, logger)
	closeRabbitMQConnection(rabbitConn, logger)
	shutdownHTTPServer(srv, serverErrors, logger)

	logger.Info("Application shutdown process complete.")
}

func waitForShutdownTrigger(shutdownChan <-chan os.Signal, serverErrors <-chan error, logger *slog.Logger) string {
	select {
	case sig := <-shutdownChan:
		logger.Info("Shutdown signal received.", "signal", sig.String())
		return "signal: " + sig.String()
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server exited unexpectedly before signal", "error", err)
			os.Exit(1)
		}
		logger.Info("Server goroutine finished before signal.", "error", err)
		return "server exited"
	}
}

func stopCronScheduler(cronScheduler *cron.Cron, logger *slog.Logger) {
	logger.Info("Stopping cron scheduler...")
	cronCtx := cronScheduler.Stop()
	select {
	case <-cronCtx.Done():
		logger.Info("Cron scheduler stopped gracefully.")
	case <-time.After(15 * time.Second):
		logger.Warn("Cron scheduler shutdown timed out.")
	}
}

func stopConnectivityMonitor(monitor *syncengine.Monitor, stopMonitor context.CancelFunc, logger *slog.Logger) {
	logger.Info("Stopping connectivity monitor...")
	stopMonitor()
	monitor.Stop()
	logger.Info("Connectivity monitor stopped.")
}

func closeRabbitMQConnection(rabbitConn *amqp.Connection, logger *slog.Logger) {
	if rabbitConn != nil && !rabbitConn.IsClosed() {
		logger.Info("Closing RabbitMQ connection...")
		if err := rabbitConn.Close(); err != nil {
			logger.Error("Failed to close RabbitMQ connection gracefully", slog.Any("error", err))
		} else {
			logger.Info("RabbitMQ connection closed.")
		}
	} else if rabbitConn == nil {
		logger.Info("RabbitMQ connection was not established, skipping close.")
	} else {
		logger.Info("RabbitMQ connection already closed, skipping close.")
	}
}

func shutdownHTTPServer(srv *http.Server, serverErrors <-chan error, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger.Info("Shutting down HTTP server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server graceful shutdown failed", "error", err)
		} else {
			logger.Info("HTTP server shutdown initiated.")
		}
		if err := srv.Close(); err != nil {
			logger.Error("HTTP server forced close failed", "error", err)
		}
	} else {
		logger.Info("HTTP server gracefully stopped.")
	}

	logger.Info("Waiting for server goroutine to confirm exit...")
	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Server goroutine exited with unexpected error after shutdown", "error", err)
		} else {
			logger.Info("Server goroutine confirmed exit.")
		}
	case <-time.After(5 * time.Second):
		logger.Warn("Timed out waiting for server goroutine confirmation.")
	}
}
