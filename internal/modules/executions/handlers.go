package executions

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

// Handlers contains HTTP handlers for the execution history API.
type Handlers struct {
	repo *Repository
	log  zerolog.Logger
}

// NewHandlers creates a new executions handlers instance.
func NewHandlers(repo *Repository, log zerolog.Logger) *Handlers {
	return &Handlers{
		repo: repo,
		log:  log.With().Str("handler", "executions").Logger(),
	}
}

// HandleGet returns a single execution record.
// GET /api/executions/{id}
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	exec, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "Execution not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get execution")
		http.Error(w, "Failed to get execution", http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, exec)
}

// HandleListByRule returns a rule's execution history.
// GET /api/executions/rules/{ruleId}
func (h *Handlers) HandleListByRule(w http.ResponseWriter, r *http.Request) {
	result, err := h.repo.ListByRule(r.Context(), chi.URLParam(r, "ruleId"), pageRequest(r))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list executions")
		http.Error(w, "Failed to list executions", http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, result)
}

// HandleListByCard returns a card's execution history.
// GET /api/executions/cards/{cardId}
func (h *Handlers) HandleListByCard(w http.ResponseWriter, r *http.Request) {
	result, err := h.repo.ListByCard(r.Context(), chi.URLParam(r, "cardId"), pageRequest(r))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list executions")
		http.Error(w, "Failed to list executions", http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, result)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func pageRequest(r *http.Request) domain.PageRequest {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	return domain.NewPageRequest(page, size)
}
