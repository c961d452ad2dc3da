package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/voice-relay/internal/api"
	"github.com/cuongbtq/voice-relay/internal/api/handler"
	"github.com/cuongbtq/voice-relay/internal/artifact"
	"github.com/cuongbtq/voice-relay/internal/clock"
	"github.com/cuongbtq/voice-relay/internal/config"
	"github.com/cuongbtq/voice-relay/internal/events"
	"github.com/cuongbtq/voice-relay/internal/monitor"
	"github.com/cuongbtq/voice-relay/internal/queue"
	"github.com/cuongbtq/voice-relay/internal/trigger"
	"github.com/cuongbtq/voice-relay/internal/upload"
	"github.com/cuongbtq/voice-relay/internal/worker"
	"github.com/cuongbtq/voice-relay/internal/worker/storage"
	"github.com/cuongbtq/voice-relay/shared/logger"
	"github.com/cuongbtq/voice-relay/shared/postgresql"
	"github.com/cuongbtq/voice-relay/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		logger.NewDefault().Error("Voice worker failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("VOICE_WORKER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/voice-worker/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	once := flag.Bool("once", false, "Process a single job and exit")
	loop := flag.Bool("loop", false, "Process jobs until interrupted")
	fast := flag.Bool("fast", false, "Start the next job immediately while the queue has a backlog")
	output := flag.String("output", "", "Output filename, overrides output.filename_template")
	clearQueue := flag.Bool("clear-queue", false, "Remove every queued job and exit")
	flag.Parse()

	if *once && *loop {
		return fmt.Errorf("-once and -loop are mutually exclusive")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch {
	case *once:
		cfg.Orchestrator.Mode = config.ModeSingle
	case *loop:
		cfg.Orchestrator.Mode = config.ModeContinuous
	}
	if *fast {
		cfg.Orchestrator.FastDrain = true
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting voice worker",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("mode", cfg.Orchestrator.Mode),
	)

	// Cancel on SIGINT/SIGTERM; an in-flight job is abandoned and stays queued
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	go func() {
		select {
		case sig := <-quit:
			appLogger.Info("Received signal, shutting down gracefully",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
		}
	}()

	clk := clock.Real()
	queueClient := queue.NewClient(queue.Config{
		BaseURL:        cfg.Queue.BaseURL,
		Resource:       cfg.Queue.Resource,
		RequestTimeout: cfg.Queue.RequestTimeout,
		PeekTimeout:    cfg.Queue.PeekTimeout,
	}, clk, component(appLogger, "queue"))

	if *clearQueue {
		return queueClient.Clear(ctx)
	}

	// Initialize synthesis trigger
	synth, err := trigger.New(cfg.Trigger, component(appLogger, "trigger"))
	if err != nil {
		return fmt.Errorf("failed to initialize trigger: %w", err)
	}
	defer synth.Close()

	// Initialize run history
	recorder, dbClient, err := initHistory(ctx, &cfg.History, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize run history: %w", err)
	}

	// Initialize RabbitMQ events
	var notifier worker.Notifier
	var rabbitClient *rabbitmq.Client
	if cfg.Events.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.Events, appLogger.Logger)
		if err != nil {
			if dbClient != nil {
				dbClient.Close()
			}
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		notifier = events.NewNotifier(rabbitClient, cfg.Events.RoutingPrefix, component(appLogger, "events"))
		appLogger.Info("RabbitMQ connection established")
	}

	// Cleanup function to close all resources
	defer func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}()

	var uploader worker.Uploader
	if cfg.Upload.Enabled {
		uploader = upload.NewClient(upload.Config{
			ServerURL:  cfg.Upload.ServerURL,
			Path:       cfg.Upload.Path,
			FolderID:   cfg.Upload.FolderID,
			Timeout:    cfg.Upload.Timeout,
			RetryCount: cfg.Upload.RetryCount,
			RetryDelay: cfg.Upload.RetryDelay,
			UserAgent:  cfg.Upload.UserAgent,
		}, clk, component(appLogger, "upload"))
	}

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:  component(appLogger, "worker"),
		Clock:   clk,
		Queue:   queueClient,
		Trigger: synth,
		Watcher: monitor.New(monitor.Config{
			PollInterval:    cfg.Monitor.PollInterval,
			NoUpdateTimeout: cfg.Monitor.NoUpdateTimeout,
			MaxWait:         cfg.Monitor.MaxWait,
			RequireActivity: cfg.Monitor.RequireActivity,
		}, clk, component(appLogger, "monitor")),
		Locator: artifact.NewLocator(artifact.LocatorConfig{
			CanonicalName: cfg.Artifact.CanonicalName,
			Extensions:    cfg.Artifact.Extensions,
		}, component(appLogger, "artifact")),
		Uploader:          uploader,
		Recorder:          recorder,
		Notifier:          notifier,
		Mode:              cfg.Orchestrator.Mode,
		FastDrain:         cfg.Orchestrator.FastDrain,
		FetchMaxWait:      cfg.Queue.MaxWait,
		PollInterval:      cfg.Queue.PollInterval,
		LoopDelay:         cfg.Orchestrator.LoopDelay,
		WatchedRoot:       cfg.Monitor.WatchedRoot,
		OutputDir:         cfg.Output.Directory,
		FilenameTemplate:  cfg.Output.FilenameTemplate,
		FilenameOverride:  *output,
		DefaultFilename:   cfg.Output.DefaultFilename,
		DeleteAfterUpload: cfg.Upload.DeleteAfterUpload,
	})

	// Start the status API
	var statusServer *api.Server
	if cfg.Status.Enabled {
		deps := &handler.Dependencies{
			Logger:   appLogger.WithGroup("http").Logger,
			Service:  cfg.App.Name,
			Recorder: recorder,
			Status:   workerInstance,
		}
		if dbClient != nil {
			deps.Health = dbClient
		}

		setGinMode(cfg.App.Environment)
		statusServer = api.NewServer(api.ServerConfig{
			Port:         cfg.Status.Port,
			ReadTimeout:  cfg.Status.ReadTimeout,
			WriteTimeout: cfg.Status.WriteTimeout,
			IdleTimeout:  cfg.Status.IdleTimeout,
		}, deps)

		serverErr := statusServer.Start()
		go func() {
			select {
			case err := <-serverErr:
				appLogger.Error("Status server stopped, shutting down worker",
					slog.Any("error", err),
				)
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	summary, runErr := workerInstance.Run(ctx)

	if statusServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Status.ShutdownTimeout)
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Server forced to shutdown",
				slog.Any("error", err),
			)
		}
		shutdownCancel()
	}

	if runErr != nil {
		return runErr
	}

	if cfg.Orchestrator.Mode == config.ModeSingle && summary.Rounds > 0 && summary.Succeeded == 0 {
		last := summary.Jobs[len(summary.Jobs)-1]
		return fmt.Errorf("job %s %s: %w", last.Job.ID, last.Status, last.Err)
	}

	appLogger.Info("Voice worker shutdown complete")
	return nil
}

// component tags a logger with the emitting component
func component(l *logger.Logger, name string) *slog.Logger {
	return l.WithAttrs(slog.String("component", name)).Logger
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
	}

	return logger.New(loggerCfg)
}

// initHistory returns the postgres run store, or the in-memory one when
// history is disabled
func initHistory(ctx context.Context, cfg *config.HistoryConfig, logger *slog.Logger) (storage.Recorder, *postgresql.Client, error) {
	if !cfg.Enabled {
		logger.Info("Run history kept in memory",
			slog.Int("capacity", cfg.MemoryCapacity),
		)
		return storage.NewMemory(cfg.MemoryCapacity), nil, nil
	}

	dbClient, err := initPostgreSQL(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStorage(dbClient.GetDB(), logger)
	if err := store.EnsureSchema(ctx); err != nil {
		dbClient.Close()
		return nil, nil, err
	}

	logger.Info("Database connection established")
	return store, dbClient, nil
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.HistoryConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.EventsConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// setGinMode sets Gin mode based on environment
func setGinMode(environment string) {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
}
