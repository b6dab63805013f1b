package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/pneumoscan/pneumoscan/internal/model"
)

// StatsService computes platform statistics.
type StatsService interface {
	Stats(ctx context.Context) (*model.Stats, error)
}

// StatsHandler serves GET /api/stats.
type StatsHandler struct {
	svc    StatsService
	logger *slog.Logger
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(svc StatsService, logger *slog.Logger) *StatsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsHandler{svc: svc, logger: logger.With("component", "stats_handler")}
}

// Stats handles GET /api/stats.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
