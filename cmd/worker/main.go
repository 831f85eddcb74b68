package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riverqueue/river"

	"github.com/sentimeter/backend/internal/config"
	"github.com/sentimeter/backend/internal/db"
	"github.com/sentimeter/backend/internal/execution"
	"github.com/sentimeter/backend/internal/history"
	"github.com/sentimeter/backend/internal/queue"
	"github.com/sentimeter/backend/internal/reporter"
	"github.com/sentimeter/backend/internal/services"
)

// cancelGrace bounds StopAndCancel once a graceful stop has timed out.
const cancelGrace = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	var logger *slog.Logger
	if cfg.Development() {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	qpool, err := queue.Connect(ctx, cfg.QueueDSN(), cfg.RetryDelay(), logger)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("Shutdown requested before the queue was reachable")
			return nil
		}
		return err
	}
	defer qpool.Close()

	if cfg.AutoMigrate {
		if err := queue.Migrate(ctx, qpool); err != nil {
			return err
		}
	}

	var rep reporter.Reporter
	switch cfg.ResultSink {
	case config.SinkStore:
		appPool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer appPool.Close()
		rep = reporter.NewStoreReporter(history.NewService(history.NewRepository(appPool)))
	default:
		rep = reporter.NewHTTPReporter(cfg.ResultCallbackURL, cfg.CallbackToken, cfg.ReportTimeout())
	}

	validator, err := services.NewValidator()
	if err != nil {
		return err
	}
	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewPredictionWorker(validator, rep, execution.Options{
		DefaultModel:   cfg.ModelName,
		MaxInputLength: cfg.MaxInputLength,
		RetryDelay:     cfg.RetryDelay(),
		ReportTimeout:  cfg.ReportTimeout(),
	}, logger))

	client, err := queue.NewWorkerClient(qpool, cfg.QueueName, cfg.PrefetchCount, workers, logger)
	if err != nil {
		return err
	}
	// Not tied to ctx: cancelling Start's context would abort in-flight jobs
	// instead of letting them finish.
	if err := client.Start(context.Background()); err != nil {
		return err
	}
	logger.Info("Worker started",
		"queue", cfg.QueueName,
		"prefetch", cfg.PrefetchCount,
		"model", cfg.ModelName,
		"sink", cfg.ResultSink,
	)

	<-ctx.Done()
	logger.Info("Shutting down, waiting for in-flight jobs", "timeout", cfg.ShutdownTimeout())

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := client.Stop(stopCtx); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		logger.Warn("Graceful stop timed out, cancelling in-flight jobs")
		cancelCtx, cancelNow := context.WithTimeout(context.Background(), cancelGrace)
		defer cancelNow()
		if err := client.StopAndCancel(cancelCtx); err != nil {
			return err
		}
	}
	logger.Info("Worker stopped cleanly")
	return nil
}
