package cards

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

// EventPublisher forwards manual status change requests to rule processing.
type EventPublisher interface {
	PublishStatusChange(ctx context.Context, cardID, traceID string)
}

// Handlers contains HTTP handlers for the cards API.
type Handlers struct {
	service *Service
	events  EventPublisher
	log     zerolog.Logger
}

// NewHandlers creates a new cards handlers instance. events may be nil when
// rule processing is disabled.
func NewHandlers(service *Service, events EventPublisher, log zerolog.Logger) *Handlers {
	return &Handlers{
		service: service,
		events:  events,
		log:     log.With().Str("handler", "cards").Logger(),
	}
}

// HandleCreate creates a new card.
// POST /api/cards
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	card, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, err, "Failed to create card")
		return
	}

	h.respondJSON(w, http.StatusCreated, card)
}

// HandleGet returns a single card.
// GET /api/cards/{id}
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	card, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err, "Failed to get card")
		return
	}

	h.respondJSON(w, http.StatusOK, card)
}

// HandleList returns a page of the user's cards.
// GET /api/cards?userId=...&status=...&page=0&size=20
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	var status *domain.CardStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := domain.CardStatus(raw)
		status = &s
	}

	page, err := h.service.List(r.Context(), userID, status, pageRequest(r))
	if err != nil {
		h.respondError(w, err, "Failed to list cards")
		return
	}

	h.respondJSON(w, http.StatusOK, page)
}

// HandleUpdateNote replaces the card's note.
// PUT /api/cards/{id}/note
func (h *Handlers) HandleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	card, err := h.service.UpdateNote(r.Context(), chi.URLParam(r, "id"), body.Note)
	if err != nil {
		h.respondError(w, err, "Failed to update note")
		return
	}

	h.respondJSON(w, http.StatusOK, card)
}

// HandleChangeStatus applies a manual status change and feeds the request to
// rule processing.
// PUT /api/cards/{id}/status
func (h *Handlers) HandleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status  string `json:"status"`
		ActorID string `json:"actorId"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	cardID := chi.URLParam(r, "id")
	traceID := middleware.GetReqID(r.Context())

	card, err := h.service.RequestTransition(r.Context(), cardID, domain.CardStatus(body.Status), body.ActorID, body.Reason, traceID)
	if err != nil {
		h.respondError(w, err, "Failed to change card status")
		return
	}

	if h.events != nil {
		h.events.PublishStatusChange(r.Context(), cardID, traceID)
	}

	h.respondJSON(w, http.StatusOK, card)
}

// HandleDelete removes a card.
// DELETE /api/cards/{id}
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, err, "Failed to delete card")
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
		http.Error(w, "Card not found", http.StatusNotFound)
	default:
		h.log.Error().Err(err).Msg(fallback)
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}

func pageRequest(r *http.Request) domain.PageRequest {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	return domain.NewPageRequest(page, size)
}
