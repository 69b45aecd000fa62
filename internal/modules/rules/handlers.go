package rules

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

// Handlers contains HTTP handlers for the rules API.
type Handlers struct {
	service *Service
	log     zerolog.Logger
}

// NewHandlers creates a new rules handlers instance.
func NewHandlers(service *Service, log zerolog.Logger) *Handlers {
	return &Handlers{
		service: service,
		log:     log.With().Str("handler", "rules").Logger(),
	}
}

// HandleCreate creates a new rule.
// POST /api/rules
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var input Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rule, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, err, "Failed to create rule")
		return
	}

	h.respondJSON(w, http.StatusCreated, rule)
}

// HandleGet returns a single rule.
// GET /api/rules/{id}
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	rule, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err, "Failed to get rule")
		return
	}

	h.respondJSON(w, http.StatusOK, rule)
}

// HandleList returns a page of the user's rules.
// GET /api/rules?userId=...&page=0&size=20
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	result, err := h.service.List(r.Context(), userID, domain.NewPageRequest(page, size))
	if err != nil {
		h.respondError(w, err, "Failed to list rules")
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// HandleUpdate replaces a rule's settings.
// PUT /api/rules/{id}
func (h *Handlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var input Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rule, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		h.respondError(w, err, "Failed to update rule")
		return
	}

	h.respondJSON(w, http.StatusOK, rule)
}

// HandleEnable enables or disables a rule.
// PUT /api/rules/{id}/enabled
func (h *Handlers) HandleEnable(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.SetEnabled(r.Context(), chi.URLParam(r, "id"), body.Enabled); err != nil {
		h.respondError(w, err, "Failed to update rule")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleDelete removes a rule.
// DELETE /api/rules/{id}
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, err, "Failed to delete rule")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, err error, fallback string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		http.Error(w, verr.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Rule not found", http.StatusNotFound)
	default:
		h.log.Error().Err(err).Msg(fallback)
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}
