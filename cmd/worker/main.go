package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/fixmart-dev/fixmart/internal/config"
	"github.com/fixmart-dev/fixmart/internal/database"
	"github.com/fixmart-dev/fixmart/internal/logger"
	"github.com/fixmart-dev/fixmart/internal/messaging"
	"github.com/fixmart-dev/fixmart/internal/shops"
	"github.com/fixmart-dev/fixmart/internal/transactions"
	"github.com/fixmart-dev/fixmart/internal/workers"
)

var version = "dev" // Will be set during build with -ldflags

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.GetLogger()

	log.Info().Str("version", version).Msg("Starting FixMart Asynq worker")

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("Worker stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Worker shutdown complete")
}

// run owns every resource of the worker so deferred cleanup always runs
func run(cfg *config.Config, log zerolog.Logger) error {
	db, err := database.Open(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close(db)

	// Initialize Asynq client (reminders and scheduled sweeps are enqueued from here)
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: cfg.Redis.Address,
	})
	defer asynqClient.Close()

	handlers := workers.NewHandlers(
		messaging.NewService(db, asynqClient, log),
		shops.NewService(db, asynqClient, cfg.Marketplace.BookingReminderLead, log),
		transactions.NewService(db, cfg.Marketplace.OfferTTL, log),
		log,
	)

	scheduler, err := workers.NewOfferExpiryScheduler(asynqClient, cfg.Marketplace.OfferExpirySchedule, log)
	if err != nil {
		return fmt.Errorf("failed to configure offer expiry scheduler: %w", err)
	}

	// Initialize Asynq server
	asynqServer := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr: cfg.Redis.Address,
		},
		asynq.Config{
			Concurrency: 10, // Number of concurrent workers
			Queues: map[string]int{
				"critical": 6, // 60% of workers for critical tasks
				"default":  3, // 30% of workers for default queue
				"low":      1, // 10% of workers for low priority
			},
			// Logging
			Logger: &asynqLogger{log: log},
		},
	)

	// Register task handlers
	mux := asynq.NewServeMux()
	handlers.Register(mux)

	// Start blocks only until the processors are running
	log.Info().Msg("Starting Asynq worker server...")
	if err := asynqServer.Start(mux); err != nil {
		return fmt.Errorf("asynq worker server failed: %w", err)
	}
	scheduler.Start()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Received shutdown signal, shutting down gracefully...")

	<-scheduler.Stop().Done()

	log.Info().Msg("Stopping Asynq worker - waiting for tasks to finish...")
	asynqServer.Shutdown()
	return nil
}

// asynqLogger is a wrapper to make zerolog compatible with Asynq's logger interface
type asynqLogger struct {
	log zerolog.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) {
	l.log.Debug().Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Info(args ...interface{}) {
	l.log.Info().Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Warn(args ...interface{}) {
	l.log.Warn().Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Error(args ...interface{}) {
	l.log.Error().Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.log.Fatal().Msg(fmt.Sprint(args...))
}
