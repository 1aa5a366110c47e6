package jobs

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

// Queues lists every queue the worker serves.
var Queues = []string{QueueDefault, QueueImports}

// QueueInspector reads queue state. *asynq.Inspector satisfies it.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// QueueDepth is the per-queue summary served by /jobs/health.
type QueueDepth struct {
	Pending  int  `json:"pending"`
	Active   int  `json:"active"`
	Retry    int  `json:"retry"`
	Archived int  `json:"archived"`
	Paused   bool `json:"paused,omitempty"`
}

// Handler serves job observability endpoints.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler builds the handler. Without an inspector every queue reports zero.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	return &Handler{inspector: inspector, logger: loggerOr(logger)}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	depths := make(map[string]QueueDepth, len(Queues))
	for _, queue := range Queues {
		depths[queue] = QueueDepth{}
		if h.inspector == nil {
			continue
		}
		info, err := h.inspector.GetQueueInfo(queue)
		if errors.Is(err, asynq.ErrQueueNotFound) {
			continue
		}
		if err != nil {
			h.logger.Warn("jobs health", slog.String("queue", queue), slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "queue state unavailable", "")
			return
		}
		depths[queue] = QueueDepth{
			Pending:  info.Pending,
			Active:   info.Active,
			Retry:    info.Retry,
			Archived: info.Archived,
			Paused:   info.Paused,
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"queues": depths})
}
