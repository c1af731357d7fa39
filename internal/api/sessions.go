package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const (
	defaultSessionLimit = 20
	maxSessionLimit     = 100
)

// RegisterRoutes registers the stats and archive routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.Stats)
		r.Get("/users/{userID}/sessions", h.UserSessions)
	})
}

// Stats returns the current counters.
func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	if h.stats == nil {
		Error(w, http.StatusServiceUnavailable, "stats unavailable")
		return
	}
	JSON(w, http.StatusOK, h.stats.Snapshot())
}

// UserSessions lists a user's archived sessions, newest first.
func (h *Handler) UserSessions(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid user id")
		return
	}

	limit := defaultSessionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxSessionLimit)
	}

	sessions, err := h.repo.ListSessions(r.Context(), userID, limit)
	if err != nil {
		h.log.Error("Failed to list sessions", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"count":    len(sessions),
		"sessions": sessions,
	})
}
