// Package api provides the admin HTTP and gRPC surfaces of the bot.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/metacards/internal/monitor"
	"github.com/ashureev/metacards/internal/store"
)

// StatsSource provides the current bot counters.
type StatsSource interface {
	Snapshot() monitor.Snapshot
}

// Handler serves the admin API.
type Handler struct {
	repo  store.Repository
	stats StatsSource
	log   *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(repo store.Repository, stats StatsSource, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{repo: repo, stats: stats, log: log}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
