package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

const defaultShutdownTimeout = 30 * time.Second

// Worker runs the asynq server and the cron scheduler for the back-office tasks.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler binds one task type to its handler.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration schedules Task on a cron spec.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects what the worker needs to start.
type WorkerConfig struct {
	RedisOpts       asynq.RedisClientOpt
	Logger          *slog.Logger
	Concurrency     int
	ShutdownTimeout time.Duration
	Handlers        []TaskHandler
	Cron            []CronRegistration
}

// NewWorker registers handlers and cron entries. A handler without a type is rejected.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := loggerOr(cfg.Logger)
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	shutdown := cfg.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = defaultShutdownTimeout
	}

	mux := asynq.NewServeMux()
	mux.Use(logTasks(logger))
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			return nil, errors.New("worker: handler requires a task type and a func")
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		// Imports are heavy and rare; the integrity check and resyncs must not queue behind them.
		Queues:          map[string]int{QueueDefault: 3, QueueImports: 1},
		ShutdownTimeout: shutdown,
		IsFailure:       IsFailure,
		Logger:          newAsynqLogger(logger),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			logger.Error("task failed",
				slog.String("type", task.Type()),
				slog.Int("retried", retried),
				slog.Bool("retryable", !errors.Is(err, asynq.SkipRetry)),
				slog.Any("error", err))
		}),
	})

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{
			Location: time.UTC,
			Logger:   newAsynqLogger(logger),
		})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			id, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...)
			if err != nil {
				return nil, err
			}
			logger.Info("cron registered", slog.String("type", entry.Task.Type()), slog.String("spec", entry.Spec), slog.String("entry_id", id))
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: logger}, nil
}

// Run processes tasks until ctx is cancelled, then drains in-flight tasks within the shutdown timeout.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.server == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
		defer w.scheduler.Shutdown()
	}
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	w.logger.Info("worker started")
	<-ctx.Done()
	w.logger.Info("worker stopping")
	w.server.Shutdown()
	return ctx.Err()
}

// IsFailure reports whether err should count against the queue's failure stats. Rejections caused
// by the task's own content are expected outcomes and not failures of the worker.
func IsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, asynq.SkipRetry) {
		return false
	}
	return !shared.IsClientError(err)
}

func logTasks(logger *slog.Logger) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			start := time.Now()
			id, _ := asynq.GetTaskID(ctx)
			err := next.ProcessTask(ctx, t)
			logger.Debug("task processed",
				slog.String("type", t.Type()),
				slog.String("task_id", id),
				slog.Duration("duration", time.Since(start)),
				slog.Bool("ok", err == nil))
			return err
		})
	}
}

// asynqLogger routes asynq's internal logging into slog.
type asynqLogger struct {
	logger *slog.Logger
}

func newAsynqLogger(logger *slog.Logger) asynqLogger {
	return asynqLogger{logger: logger.With(slog.String("component", "asynq"))}
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug(joinArgs(args)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info(joinArgs(args)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn(joinArgs(args)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error(joinArgs(args)) }
func (l asynqLogger) Fatal(args ...any) {
	l.logger.Error(joinArgs(args))
	os.Exit(1)
}

func joinArgs(args []any) string {
	return fmt.Sprint(args...)
}
