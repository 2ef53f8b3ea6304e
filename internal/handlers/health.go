package handlers

import (
	"context"
	"net/http"
	"time"

	"starbot/internal/logging"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// BotLister reports the teams with a running bot
type BotLister interface {
	Active() []string
}

type HealthHandler struct {
	store Pinger
	bots  BotLister
}

type ReadyResponse struct {
	Status string   `json:"status"`
	Teams  []string `json:"teams"`
	Error  string   `json:"error,omitempty"`
}

func NewHealthHandler(store Pinger, bots BotLister) *HealthHandler {
	return &HealthHandler{store: store, bots: bots}
}

func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleReady is ready once the store answers
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	teams := h.bots.Active()
	if teams == nil {
		teams = []string{}
	}

	if err := h.store.Ping(ctx); err != nil {
		logging.LoggerFromContext(r.Context()).Warn("Readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "unavailable", Teams: teams, Error: "database unreachable"})
		return
	}

	writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready", Teams: teams})
}
