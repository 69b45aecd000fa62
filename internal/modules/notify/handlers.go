package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

// Handlers contains HTTP handlers for the notifications API.
type Handlers struct {
	repo *Repository
	log  zerolog.Logger
}

// NewHandlers creates a new notifications handlers instance.
func NewHandlers(repo *Repository, log zerolog.Logger) *Handlers {
	return &Handlers{
		repo: repo,
		log:  log.With().Str("handler", "notifications").Logger(),
	}
}

// HandleList returns a page of the user's notifications.
// GET /api/notifications?userId=...&unread=true&page=0&size=20
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	unreadOnly := r.URL.Query().Get("unread") == "true"
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	result, err := h.repo.ListByUser(r.Context(), userID, unreadOnly, domain.NewPageRequest(page, size))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list notifications")
		http.Error(w, "Failed to list notifications", http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, result)
}

// HandleUnreadCount returns the user's unread notification count.
// GET /api/notifications/unread-count?userId=...
func (h *Handlers) HandleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	count, err := h.repo.UnreadCount(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to count unread notifications")
		http.Error(w, "Failed to count unread notifications", http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, map[string]int64{"unreadCount": count})
}

// HandleMarkRead marks one notification as read.
// PUT /api/notifications/{id}/read
func (h *Handlers) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	err := h.repo.MarkRead(r.Context(), chi.URLParam(r, "id"), time.Now())
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "Notification not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to mark notification read")
		http.Error(w, "Failed to mark notification read", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleMarkAllRead marks every unread notification for a user as read.
// PUT /api/notifications/read-all
func (h *Handlers) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	count, err := h.repo.MarkAllRead(r.Context(), body.UserID, time.Now())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to mark notifications read")
		http.Error(w, "Failed to mark notifications read", http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, map[string]int64{"marked": count})
}

func (h *Handlers) respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}
