package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TaskCounter reports the number of running background tasks.
type TaskCounter interface {
	ActiveTasks() int64
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	ActiveTasks int64  `json:"activeTasks"`
	Database    string `json:"database,omitempty"`
}

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	tasks  TaskCounter
	db     Pinger
	logger zerolog.Logger
}

// NewHealthHandler creates a new health handler. db may be nil when no
// database is configured.
func NewHealthHandler(tasks TaskCounter, db Pinger, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		tasks:  tasks,
		db:     db,
		logger: logger.With().Str("handler", "health").Logger(),
	}
}

// Health handles GET /health requests.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:      "healthy",
		ActiveTasks: h.tasks.ActiveTasks(),
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("database ping failed")
			resp.Status = "degraded"
			resp.Database = "unreachable"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Database = "ok"
	}

	writeJSON(w, http.StatusOK, resp)
}
