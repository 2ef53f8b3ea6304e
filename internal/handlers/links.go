package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"starbot/internal/logging"
	"starbot/internal/storage"
)

const maxListLimit = 1000

type LinksHandler struct {
	links storage.LinkReader
}

type LinksResponse struct {
	Links []storage.Link `json:"links"`
	Total int            `json:"total"`
}

func NewLinksHandler(links storage.LinkReader) *LinksHandler {
	return &LinksHandler{links: links}
}

// HandleList serves saved links, newest first. Query parameters team,
// channel, limit and offset narrow the page.
func (h *LinksHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	logger := logging.LoggerFromContext(r.Context())
	query := r.URL.Query()

	filter := storage.LinkFilter{
		TeamID:    query.Get("team"),
		ChannelID: query.Get("channel"),
	}

	var err error
	if filter.Limit, err = intParam(query.Get("limit"), 0); err != nil || filter.Limit > maxListLimit {
		http.Error(w, "limit must be a number between 0 and 1000", http.StatusBadRequest)
		return
	}
	if filter.Offset, err = intParam(query.Get("offset"), 0); err != nil {
		http.Error(w, "offset must be a non-negative number", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	links, err := h.links.ListLinks(ctx, filter)
	if err != nil {
		logger.Error("Error listing links", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	total, err := h.links.CountLinks(ctx)
	if err != nil {
		logger.Error("Error counting links", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if links == nil {
		links = []storage.Link{}
	}
	writeJSON(w, http.StatusOK, LinksResponse{Links: links, Total: total})
}

func intParam(value string, fallback int) (int, error) {
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}
