package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"starbot/internal/blacklist"
	"starbot/internal/logging"
	"starbot/internal/metrics"
)

// Blacklist is the shared set exposed over the API
type Blacklist interface {
	Ban(text string) error
	Unban(text string) error
	Values() []string
}

type BlacklistHandler struct {
	list Blacklist
}

type BlacklistRequest struct {
	Text string `json:"text"`
}

type BlacklistResponse struct {
	Entries []string `json:"entries"`
}

func NewBlacklistHandler(list Blacklist) *BlacklistHandler {
	return &BlacklistHandler{list: list}
}

func (h *BlacklistHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	h.respond(w)
}

// HandleBan adds the posted text, same as "ban <text>" in a channel
func (h *BlacklistHandler) HandleBan(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "ban", h.list.Ban)
}

// HandleUnban removes the posted text, same as "unban <text>" in a channel
func (h *BlacklistHandler) HandleUnban(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "unban", h.list.Unban)
}

func (h *BlacklistHandler) mutate(w http.ResponseWriter, r *http.Request, name string, apply func(string) error) {
	logger := logging.LoggerFromContext(r.Context())

	var req BlacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("Error decoding blacklist request", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	err := apply(req.Text)
	metrics.CommandsDispatched.WithLabelValues(name, "api", metrics.Status(err)).Inc()
	if errors.Is(err, blacklist.ErrInvalidArgument) {
		http.Error(w, "text cannot be empty", http.StatusBadRequest)
		return
	}
	if err != nil {
		logger.Error("Blacklist update failed", "command", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	logger.Info("Blacklist updated", "command", name, "text", req.Text)
	h.respond(w)
}

func (h *BlacklistHandler) respond(w http.ResponseWriter) {
	entries := h.list.Values()
	metrics.BlacklistSize.Set(float64(len(entries)))
	if entries == nil {
		entries = []string{}
	}
	writeJSON(w, http.StatusOK, BlacklistResponse{Entries: entries})
}
