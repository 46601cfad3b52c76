package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/warelink-erp/warelink/internal/app"
	"github.com/warelink-erp/warelink/internal/erp"
	"github.com/warelink-erp/warelink/internal/invoicing"
	"github.com/warelink-erp/warelink/internal/platform/cache"
	"github.com/warelink-erp/warelink/internal/platform/db"
	"github.com/warelink-erp/warelink/internal/serials"
	"github.com/warelink-erp/warelink/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	erpClient := erp.NewClient(erp.ClientConfig{
		BaseURL:       cfg.ErpBaseURL,
		CompanyDB:     cfg.ErpCompanyDB,
		Username:      cfg.ErpUsername,
		Password:      cfg.ErpPassword,
		ReadTimeout:   cfg.ErpReadTimeout,
		LookupTimeout: cfg.ErpLookupTimeout,
		SubmitTimeout: cfg.ErpSubmitTimeout,
	}, logger)

	serialStore := serials.NewStore(redisClient, cfg.SerialCacheTTL)
	serialService := serials.NewService(serialStore, erpClient, logger, cfg.OfflineFallback)

	invoiceRepo := invoicing.NewRepository(pool)
	invoiceService := invoicing.NewService(invoiceRepo, serialService, erpClient, logger, cfg.DueDateOffset())

	cleanupTask, err := jobs.NewDraftCleanupTask(jobs.DraftCleanupPayload{
		OlderThanHours: int(cfg.DraftCleanupAfter / time.Hour),
	})
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeDraftCleanup, Handler: jobs.NewDraftCleanupHandler(invoiceService, logger)},
		},
		Cron: []jobs.CronRegistration{
			// Nightly sweep of abandoned empty drafts.
			{Spec: "0 2 * * *", Task: cleanupTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker starting")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
