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

	"github.com/joho/godotenv"
	"golang.org/x/sync/semaphore"

	"github.com/cuongbtq/mediascribe/internal/alias"
	"github.com/cuongbtq/mediascribe/internal/blob"
	"github.com/cuongbtq/mediascribe/internal/config"
	"github.com/cuongbtq/mediascribe/internal/lease"
	"github.com/cuongbtq/mediascribe/internal/media"
	"github.com/cuongbtq/mediascribe/internal/notify"
	"github.com/cuongbtq/mediascribe/internal/pipeline"
	"github.com/cuongbtq/mediascribe/internal/recovery"
	"github.com/cuongbtq/mediascribe/internal/store"
	"github.com/cuongbtq/mediascribe/internal/worker"
	"github.com/cuongbtq/mediascribe/shared/logger"
	"github.com/cuongbtq/mediascribe/shared/postgresql"
	"github.com/cuongbtq/mediascribe/shared/rabbitmq"
	"github.com/cuongbtq/mediascribe/shared/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize the job store: PostgreSQL when configured, otherwise the
	// in-memory store for single-process setups.
	var jobStore store.Store
	var dbClient *postgresql.Client
	if cfg.Database.Host != "" {
		dbClient, err = initPostgreSQL(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}

		pg := store.NewPostgres(dbClient)
		if err := pg.Migrate(context.Background()); err != nil {
			dbClient.Close()
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		jobStore = pg

		appLogger.Info("Database connection established")
	} else {
		jobStore = store.NewMemory()
		appLogger.Warn("No database configured, using in-memory job store")
	}

	// Initialize the alias cache: Redis when configured.
	var aliases alias.Cache
	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient, err = initRedis(&cfg.Redis, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize Redis: %w", err)
		}
		aliases = alias.NewRedis(redisClient.GetClient(), cfg.Redis.AliasTTL)

		appLogger.Info("Redis connection established")
	} else {
		aliases = alias.NewMemory(cfg.Redis.AliasTTL)
		appLogger.Warn("No Redis configured, using in-memory alias cache")
	}

	// Initialize the blob store.
	blobs, err := blob.NewFilesystem(cfg.Storage.Root)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	// Initialize the event publisher: RabbitMQ when configured.
	var publisher notify.Publisher = notify.Nop{}
	var rabbitClient *rabbitmq.Client
	if cfg.RabbitMQ.Host != "" {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		publisher = notify.NewAMQP(appLogger.Logger, rabbitClient)

		appLogger.Info("RabbitMQ connection established")
	}

	// Pipeline stages backed by the external tools.
	fetcher := media.NewFetcher(&media.FetcherConfig{
		Logger:        appLogger.Logger,
		Binary:        cfg.Media.YtdlpBinary,
		Enabled:       cfg.Media.AdapterEnabled,
		MinAudioBytes: cfg.Media.MinAudioBytes,
	})
	normalizer := media.NewNormalizer(&media.NormalizerConfig{
		Logger:        appLogger.Logger,
		FFmpegBinary:  cfg.Media.FFmpegBinary,
		FFprobeBinary: cfg.Media.FFprobeBinary,
	})
	transcriber := media.NewTranscriber(&media.TranscriberConfig{
		Logger:    appLogger.Logger,
		Binary:    cfg.Media.WhisperBinary,
		ModelPath: cfg.Media.WhisperModel,
		Language:  cfg.Media.Language,
	})

	coordinator := lease.NewCoordinator(&lease.Config{
		Logger:   appLogger.Logger,
		Store:    jobStore,
		WorkerID: lease.NewWorkerID(),
		Duration: cfg.Worker.LeaseDuration,
	})

	sweeper := recovery.NewSweeper(&recovery.Config{
		Logger:              appLogger.Logger,
		Store:               jobStore,
		LeaseRepairInterval: cfg.Worker.LeaseRepairInterval,
		OrphanSweepInterval: cfg.Worker.OrphanSweepInterval,
		OrphanThreshold:     cfg.Worker.OrphanThreshold,
		PurgeInterval:       cfg.Worker.PurgeInterval,
		PurgeRetention:      cfg.Worker.FailedRetention,
	})

	driver := pipeline.NewDriver(&pipeline.Config{
		Logger:           appLogger.Logger,
		Store:            jobStore,
		Coordinator:      coordinator,
		Blobs:            blobs,
		Aliases:          aliases,
		Publisher:        publisher,
		Fetcher:          fetcher,
		Normalizer:       normalizer,
		Transcriber:      transcriber,
		FetchSlots:       semaphore.NewWeighted(int64(cfg.Worker.FetchConcurrency)),
		TranscribeSlots:  semaphore.NewWeighted(int64(cfg.Worker.TranscribeConcurrency)),
		MaxMediaDuration: cfg.Media.MaxDuration,
	})

	loop := worker.NewLoop(&worker.Config{
		Logger:            appLogger.Logger,
		Store:             jobStore,
		Coordinator:       coordinator,
		Driver:            driver,
		Sweeper:           sweeper,
		ClaimBatch:        cfg.Worker.FetchConcurrency,
		PollInterval:      cfg.Worker.PollInterval,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := loop.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context so running stages abandon their jobs; their leases
	// expire and the recovery passes re-queue them.
	cancel()

	// Give worker time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	// Stop worker
	done := make(chan struct{})
	go func() {
		loop.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	// Cleanup function to close all resources
	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if redisClient != nil {
			redisClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	cleanup()

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
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

// initRedis initializes the Redis client
func initRedis(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	redisConfig := &redis.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	return redis.NewClient(redisConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
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
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
