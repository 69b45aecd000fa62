package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

// CardSource resolves which cards a user owns. The archive database cannot
// join the cards table, so by-user archive queries go through this.
type CardSource interface {
	ListIDsByUser(ctx context.Context, userID string) ([]string, error)
}

// Handlers contains HTTP handlers for the audit API.
type Handlers struct {
	repo    *Repository
	archive *ArchiveRepository
	cards   CardSource
	log     zerolog.Logger
}

// NewHandlers creates a new audit handlers instance.
func NewHandlers(repo *Repository, archive *ArchiveRepository, cards CardSource, log zerolog.Logger) *Handlers {
	return &Handlers{
		repo:    repo,
		archive: archive,
		cards:   cards,
		log:     log.With().Str("handler", "audit").Logger(),
	}
}

// HandleListByCard returns a card's audit trail. Pass archived=true to read
// from the archive instead of the live trail.
// GET /api/audit/cards/{cardId}
func (h *Handlers) HandleListByCard(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "cardId")
	page := pageRequest(r)

	var (
		result *domain.Page[*domain.AuditEntry]
		err    error
	)
	if r.URL.Query().Get("archived") == "true" {
		result, err = h.archive.ListByCard(r.Context(), cardID, page)
	} else {
		result, err = h.repo.ListByCard(r.Context(), cardID, page)
	}
	if err != nil {
		h.log.Error().Err(err).Str("card_id", cardID).Msg("Failed to list audit entries")
		http.Error(w, "Failed to list audit entries", http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, result)
}

// HandleListByUser returns the audit trail across every card the user owns,
// including rule-driven entries recorded under the system actor. Pass
// archived=true to read from the archive instead of the live trail.
// GET /api/audit/users/{userId}
func (h *Handlers) HandleListByUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	page := pageRequest(r)

	var (
		result *domain.Page[*domain.AuditEntry]
		err    error
	)
	if r.URL.Query().Get("archived") == "true" {
		var cardIDs []string
		cardIDs, err = h.cards.ListIDsByUser(r.Context(), userID)
		if err == nil {
			result, err = h.archive.ListByCards(r.Context(), cardIDs, page)
		}
	} else {
		result, err = h.repo.ListByUser(r.Context(), userID, page)
	}
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to list audit entries")
		http.Error(w, "Failed to list audit entries", http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, result)
}

// HandleListByActor returns audit entries recorded for an actor.
// GET /api/audit/actors/{actorId}
func (h *Handlers) HandleListByActor(w http.ResponseWriter, r *http.Request) {
	actorID := chi.URLParam(r, "actorId")

	result, err := h.repo.ListByActor(r.Context(), actorID, pageRequest(r))
	if err != nil {
		h.log.Error().Err(err).Str("actor_id", actorID).Msg("Failed to list audit entries")
		http.Error(w, "Failed to list audit entries", http.StatusInternalServerError)
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
