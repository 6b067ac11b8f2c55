package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"mensile/internal/amqp"
	"mensile/internal/config"
	applog "mensile/internal/log"
	"mensile/internal/services"
	"mensile/internal/storage"
	"mensile/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	logger.Info("Starting mensile-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", applog.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// AMQP is optional: without it the worker still materializes, it just
	// cannot consume import batches.
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, cfg.AMQPPrefetch)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing in materialize-only mode", applog.FieldError, err)
			amqpClient = nil
		} else {
			defer amqpClient.Close()
			logger.Info("AMQP client initialized, statement batches will be reconciled")
		}
	} else {
		logger.Info("AMQP disabled, statement import is off")
	}

	resolver := services.NewOverrideResolver(repo)
	materializer := services.NewMaterializer(repo, repo, repo, repo)
	matcher := services.NewMatcher(repo, repo, repo, resolver)
	importWorker := worker.NewImportWorker(matcher, repo, repo)
	materializeWorker := worker.NewMaterializeWorker(materializer, repo, cfg.MaterializeInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Worker configured",
		"materialize_interval", cfg.MaterializeInterval,
		"sqlite_db", cfg.SQLiteDBPath)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return materializeWorker.Run(ctx)
	})

	if amqpClient != nil {
		g.Go(func() error {
			return amqpClient.ConsumeStatementBatches(ctx, func(msg *amqp.StatementBatchMessage) error {
				_, err := importWorker.HandleBatch(ctx, msg)
				return err
			})
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", applog.FieldError, err)
		os.Exit(1)
	}

	logger.Info("mensile-worker shutdown complete")
}
