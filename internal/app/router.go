package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/reconcile"
	"github.com/odyssey-erp/backoffice/jobs"
)

// IntegrityRunner runs one integrity pass on demand.
type IntegrityRunner interface {
	Run(ctx context.Context) (reconcile.Report, error)
}

// RouterParams groups dependencies for building the ops router.
type RouterParams struct {
	Logger     *slog.Logger
	Config     *Config
	Metrics    *observability.Metrics
	JobHandler *jobs.Handler
	Integrity  IntegrityRunner
}

// NewRouter constructs the ops chi.Router served next to the worker.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Integrity != nil {
		r.Get("/integrity", func(w http.ResponseWriter, r *http.Request) {
			report, err := params.Integrity.Run(r.Context())
			if err != nil {
				logger.Error("integrity report", slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			httpx.JSON(w, http.StatusOK, struct {
				OK bool `json:"ok"`
				reconcile.Report
			}{OK: report.OK(), Report: report})
		})
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}
