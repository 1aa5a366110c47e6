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

	"github.com/odyssey-erp/backoffice/internal/app"
	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, cfg.PGDSN); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
	}

	rt, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap", slog.Any("error", err))
		os.Exit(1)
	}
	defer rt.Close()

	redisOpts, err := cfg.QueueRedis()
	if err != nil {
		logger.Error("queue redis", slog.Any("error", err))
		os.Exit(1)
	}
	metrics := jobmetrics.NewMetrics(rt.Metrics.Registerer())

	integrityJob := jobs.NewIntegrityJob(rt.Reconcile, rt.Ledger, logger, metrics)
	importJob := jobs.NewStockImportJob(rt.Importer, logger, metrics)
	resyncJob := jobs.NewLedgerResyncJob(rt.Ledger, logger, metrics)

	integrityTask, err := jobs.NewIntegrityCheckTask(time.Now().UTC(), true)
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:       redisOpts,
		Logger:          logger,
		Concurrency:     cfg.WorkerConcurrency,
		ShutdownTimeout: cfg.WorkerShutdown,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskIntegrityCheck, Handler: integrityJob.Handle},
			{Type: jobs.TaskStockImport, Handler: importJob.Handle},
			{Type: jobs.TaskLedgerResync, Handler: resyncJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.IntegrityCron, Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() { _ = inspector.Close() }()

	ops := &http.Server{
		Addr: cfg.WorkerAddr,
		Handler: app.NewRouter(app.RouterParams{
			Logger:     logger,
			Config:     cfg,
			Metrics:    rt.Metrics,
			JobHandler: jobs.NewHandler(inspector, logger),
			Integrity:  rt.Reconcile,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("ops endpoint listening", slog.String("addr", cfg.WorkerAddr))
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops endpoint", slog.Any("error", err))
			stop()
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = ops.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
