package cards

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aquilalabs/watchdeck/internal/database"
	"github.com/aquilalabs/watchdeck/internal/domain"
)

// AuditWriter records accepted status transitions. InsertTx runs inside the
// same transaction as the card update so the two commit or fail together.
type AuditWriter interface {
	InsertTx(tx *sql.Tx, entry *domain.AuditEntry) error
}

// CardLocker serializes status work on a single card with rule evaluation.
// LockCard returns the unlock function.
type CardLocker interface {
	LockCard(cardID string) func()
}

// Service implements card lifecycle operations and the status state machine.
type Service struct {
	db    *database.DB
	repo  *Repository
	audit AuditWriter
	locks CardLocker
	now   func() time.Time
	log   zerolog.Logger
}

// NewService creates a new card service.
func NewService(db *database.DB, repo *Repository, audit AuditWriter, log zerolog.Logger) *Service {
	return &Service{
		db:    db,
		repo:  repo,
		audit: audit,
		now:   time.Now,
		log:   log.With().Str("component", "card_service").Logger(),
	}
}

// SetClock overrides the service's time source for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SetLocker installs the per-card lock shared with the rule engine. Set
// after the engine is constructed; until then manual transitions run
// unserialized.
func (s *Service) SetLocker(locks CardLocker) {
	s.locks = locks
}

// CreateInput carries the fields needed to create a card.
type CreateInput struct {
	UserID    string `json:"userId"`
	StockCode string `json:"stockCode"`
	StockName string `json:"stockName"`
	Note      string `json:"note"`
}

// Create validates the input and inserts a new card in WATCH status.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Card, error) {
	input.StockCode = strings.TrimSpace(input.StockCode)
	input.StockName = strings.TrimSpace(input.StockName)

	if input.UserID == "" {
		return nil, domain.NewValidationError("userId", "must not be empty")
	}
	if input.StockCode == "" {
		return nil, domain.NewValidationError("stockCode", "must not be empty")
	}
	if len(input.Note) > domain.MaxNoteLength {
		return nil, domain.NewValidationError("note", fmt.Sprintf("must not exceed %d characters", domain.MaxNoteLength))
	}

	exists, err := s.repo.ExistsForUser(ctx, input.UserID, input.StockCode)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.NewValidationError("stockCode", "already tracked by this user")
	}

	now := s.now()
	card := &domain.Card{
		ID:        uuid.New().String(),
		UserID:    input.UserID,
		StockCode: input.StockCode,
		StockName: input.StockName,
		Status:    domain.StatusWatch,
		Note:      input.Note,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, card); err != nil {
		return nil, err
	}

	return card, nil
}

// Get returns a card by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Card, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns a page of the user's cards, optionally filtered by status.
func (s *Service) List(ctx context.Context, userID string, status *domain.CardStatus, page domain.PageRequest) (*domain.Page[*domain.Card], error) {
	if status != nil && !status.Valid() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", *status))
	}
	return s.repo.ListByUser(ctx, userID, status, page)
}

// UpdateNote replaces the card's free-text note.
func (s *Service) UpdateNote(ctx context.Context, id, note string) (*domain.Card, error) {
	if len(note) > domain.MaxNoteLength {
		return nil, domain.NewValidationError("note", fmt.Sprintf("must not exceed %d characters", domain.MaxNoteLength))
	}

	if err := s.repo.UpdateNote(ctx, id, note, s.now()); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// Delete removes a card.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// RequestTransition applies a manual status change under the card's
// serialization lock, so it cannot interleave with a concurrent rule
// evaluation reading and rewriting the same status.
func (s *Service) RequestTransition(ctx context.Context, cardID string, target domain.CardStatus, actorID, reason, traceID string) (*domain.Card, error) {
	if s.locks != nil {
		unlock := s.locks.LockCard(cardID)
		defer unlock()
	}
	return s.Transition(ctx, cardID, target, actorID, reason, traceID)
}

// Transition moves a card to the target status and records the audit entry
// in the same transaction. Any status can move to any other status; a
// request for the status the card is already in is a no-op and leaves no
// audit trace. The caller holds the card's serialization lock: the engine
// calls this under its own lock, manual changes go through
// RequestTransition.
func (s *Service) Transition(ctx context.Context, cardID string, target domain.CardStatus, actorID, reason, traceID string) (*domain.Card, error) {
	if !target.Valid() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", target))
	}
	if actorID == "" {
		return nil, domain.NewValidationError("actorId", "must not be empty")
	}

	card, err := s.repo.GetByID(ctx, cardID)
	if err != nil {
		return nil, err
	}

	if card.Status == target {
		return card, nil
	}

	now := s.now()
	entry := &domain.AuditEntry{
		ID:         uuid.New().String(),
		ActorID:    actorID,
		CardID:     card.ID,
		Action:     domain.ActionCardStatusChange,
		FromStatus: card.Status,
		ToStatus:   target,
		Reason:     reason,
		TraceID:    traceID,
		CreatedAt:  now,
	}

	err = database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		if err := s.repo.UpdateStatusTx(tx, card.ID, target, now); err != nil {
			return err
		}
		return s.audit.InsertTx(tx, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to transition card %s: %w", cardID, err)
	}

	s.log.Info().
		Str("card_id", card.ID).
		Str("actor_id", actorID).
		Str("from", string(card.Status)).
		Str("to", string(target)).
		Str("trace_id", traceID).
		Msg("Card status changed")

	card.Status = target
	card.UpdatedAt = now
	return card, nil
}
