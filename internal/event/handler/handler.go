package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"veriq/internal/event/metrics"
	"veriq/internal/event/models"
	"veriq/internal/event/store"
	"veriq/pkg/platform/httputil"
)

// Queue is the slice of the event store the ingestion endpoint needs.
type Queue interface {
	Save(ctx context.Context, event *models.Event) (*models.Event, error)
	Statistics(ctx context.Context) (store.Statistics, error)
}

// Handler is the thin HTTP layer over the event queue. Transport concerns
// only; validation constructs domain objects and persistence goes through
// the store.
type Handler struct {
	queue   Queue
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New constructs an ingestion handler.
func New(queue Queue, logger *slog.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{queue: queue, logger: logger, metrics: m}
}

// Register mounts the queue endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/events", h.HandleIngest)
	r.Get("/api/queue/stats", h.HandleStats)
	r.Get("/health", h.HandleHealth)
}

// IngestResponse is returned by POST /api/events.
type IngestResponse struct {
	Success    bool             `json:"success"`
	Message    string           `json:"message"`
	EventID    int64            `json:"event_id"`
	QueueStats store.Statistics `json:"queue_stats"`
	Timestamp  string           `json:"timestamp"`
}

// HandleIngest handles POST /api/events.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req IngestRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	event, err := req.Normalize().Validate()
	if err != nil {
		h.logger.WarnContext(ctx, "rejected event payload", "error", err)
		httputil.WriteError(w, err)
		return
	}

	saved, err := h.queue.Save(ctx, event)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to enqueue event", "error", err)
		httputil.WriteError(w, err)
		return
	}
	h.metrics.IncrementReceived()

	stats, err := h.queue.Statistics(ctx)
	if err != nil {
		// The event is already queued; stats are best-effort decoration.
		h.logger.WarnContext(ctx, "failed to read queue statistics", "error", err)
		stats = store.Statistics{}
	}

	h.logger.InfoContext(ctx, "event queued",
		"event_id", saved.ID,
		"event_type", string(saved.Type),
		"identity", saved.IdentityNumber.Masked(),
	)

	httputil.WriteJSON(w, http.StatusAccepted, IngestResponse{
		Success:    true,
		Message:    "event received and queued",
		EventID:    saved.ID,
		QueueStats: stats,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleStats handles GET /api/queue/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Statistics(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to read queue statistics", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"queue_stats": stats,
	})
}

// HandleHealth handles GET /health. A successful statistics read doubles as
// the store connectivity probe.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Statistics(r.Context())
	if err != nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "unhealthy",
			"service":  "veriq",
			"database": "disconnected",
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"service":     "veriq",
		"database":    "connected",
		"queue_stats": stats,
	})
}
