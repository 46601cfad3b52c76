package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/warelink-erp/warelink/internal/app"
	"github.com/warelink-erp/warelink/internal/auth"
	"github.com/warelink-erp/warelink/internal/erp"
	"github.com/warelink-erp/warelink/internal/invoicing"
	"github.com/warelink-erp/warelink/internal/platform/cache"
	"github.com/warelink-erp/warelink/internal/platform/db"
	"github.com/warelink-erp/warelink/internal/rbac"
	"github.com/warelink-erp/warelink/internal/serials"
	"github.com/warelink-erp/warelink/internal/shared"
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

	sessionManager := shared.NewSessionManager(redisClient, "warelink_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())

	erpClient := erp.NewClient(erp.ClientConfig{
		BaseURL:       cfg.ErpBaseURL,
		CompanyDB:     cfg.ErpCompanyDB,
		Username:      cfg.ErpUsername,
		Password:      cfg.ErpPassword,
		ReadTimeout:   cfg.ErpReadTimeout,
		LookupTimeout: cfg.ErpLookupTimeout,
		SubmitTimeout: cfg.ErpSubmitTimeout,
	}, logger)
	if !erpClient.Configured() {
		logger.Warn("erp connection not configured, running in offline mode")
	}

	serialStore := serials.NewStore(redisClient, cfg.SerialCacheTTL)
	serialService := serials.NewService(serialStore, erpClient, logger, cfg.OfflineFallback)

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager)

	rbacService := rbac.NewService(pool)
	guard := rbac.Middleware{Source: rbacService, Logger: logger}

	invoiceRepo := invoicing.NewRepository(pool)
	invoiceService := invoicing.NewService(invoiceRepo, serialService, erpClient, logger, cfg.DueDateOffset())
	invoiceHandler := invoicing.NewHandler(logger, invoiceService, serialService, erpClient, rbacService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() { _ = inspector.Close() }()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		AuthHandler:      authHandler,
		InvoicingHandler: invoiceHandler,
		JobHandler:       jobHandler,
		RBACMiddleware:   guard,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
