package handlers

import (
	"context"
	"net/http"

	"starbot/internal/jobs"
	"starbot/internal/logging"
)

type StatsSource interface {
	Stats(ctx context.Context) (jobs.Stats, error)
}

type StatsHandler struct {
	source StatsSource
}

func NewStatsHandler(source StatsSource) *StatsHandler {
	return &StatsHandler{source: source}
}

func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.source.Stats(r.Context())
	if err != nil {
		logging.LoggerFromContext(r.Context()).Error("Error reading stats", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if stats.ActiveTeams == nil {
		stats.ActiveTeams = []string{}
	}
	writeJSON(w, http.StatusOK, stats)
}
