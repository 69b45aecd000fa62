package cards

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquilalabs/watchdeck/internal/database"
	"github.com/aquilalabs/watchdeck/internal/domain"
	"github.com/aquilalabs/watchdeck/internal/modules/audit"
)

// newTestService builds a service over a real deck database so the
// transition transaction runs against the actual schema.
func newTestService(t *testing.T) (*Service, *audit.Repository) {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "deck.db"),
		Profile: database.ProfileStandard,
		Name:    "deck",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	auditRepo := audit.NewRepository(db.Conn(), zerolog.Nop())
	service := NewService(db, NewRepository(db.Conn(), zerolog.Nop()), auditRepo, zerolog.Nop())
	service.SetClock(func() time.Time {
		return time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	})

	return service, auditRepo
}

func TestService_Create(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	card, err := service.Create(ctx, CreateInput{
		UserID:    "user-1",
		StockCode: " 2330 ",
		StockName: "TSMC",
		Note:      "watching for pullback",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, card.ID)
	assert.Equal(t, "2330", card.StockCode, "stock code is trimmed")
	assert.Equal(t, domain.StatusWatch, card.Status, "new cards start in WATCH")
	assert.Equal(t, "watching for pullback", card.Note)
}

func TestService_Create_Validation(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	longNote := make([]byte, domain.MaxNoteLength+1)
	for i := range longNote {
		longNote[i] = 'x'
	}

	tests := []struct {
		name  string
		input CreateInput
	}{
		{"missing user", CreateInput{StockCode: "2330"}},
		{"missing stock code", CreateInput{UserID: "user-1"}},
		{"blank stock code", CreateInput{UserID: "user-1", StockCode: "   "}},
		{"note too long", CreateInput{UserID: "user-1", StockCode: "2330", Note: string(longNote)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Create(ctx, tt.input)
			var validationErr *domain.ValidationError
			assert.ErrorAs(t, err, &validationErr)
		})
	}
}

func TestService_Create_DuplicateRejected(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Create(ctx, CreateInput{UserID: "user-1", StockCode: "2330"})
	require.NoError(t, err)

	_, err = service.Create(ctx, CreateInput{UserID: "user-1", StockCode: "2330"})
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "stockCode", validationErr.Field)

	// The same code for a different user is fine.
	_, err = service.Create(ctx, CreateInput{UserID: "user-2", StockCode: "2330"})
	assert.NoError(t, err)
}

func TestService_Transition_WritesAuditAtomically(t *testing.T) {
	service, auditRepo := newTestService(t)
	ctx := context.Background()

	card, err := service.Create(ctx, CreateInput{UserID: "user-1", StockCode: "2330"})
	require.NoError(t, err)

	chain := []domain.CardStatus{
		domain.StatusReadyToBuy,
		domain.StatusHold,
		domain.StatusSell,
		domain.StatusAlerts,
	}
	for _, target := range chain {
		updated, err := service.Transition(ctx, card.ID, target, "user-1", "manual", "trace-1")
		require.NoError(t, err)
		assert.Equal(t, target, updated.Status)
	}

	got, err := service.Get(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAlerts, got.Status)

	// Four accepted transitions leave exactly four audit entries.
	trail, err := auditRepo.ListByCard(ctx, card.ID, domain.NewPageRequest(0, 20))
	require.NoError(t, err)
	require.Equal(t, int64(4), trail.TotalElements)

	for _, entry := range trail.Items {
		assert.Equal(t, domain.ActionCardStatusChange, entry.Action)
		assert.Equal(t, "user-1", entry.ActorID)
		assert.Equal(t, "trace-1", entry.TraceID)
		assert.NotEqual(t, entry.FromStatus, entry.ToStatus)
	}
}

func TestService_Transition_SameStatusIsNoOp(t *testing.T) {
	service, auditRepo := newTestService(t)
	ctx := context.Background()

	card, err := service.Create(ctx, CreateInput{UserID: "user-1", StockCode: "2330"})
	require.NoError(t, err)

	got, err := service.Transition(ctx, card.ID, domain.StatusWatch, "user-1", "manual", "trace-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWatch, got.Status)

	trail, err := auditRepo.ListByCard(ctx, card.ID, domain.NewPageRequest(0, 20))
	require.NoError(t, err)
	assert.Equal(t, int64(0), trail.TotalElements, "a no-op transition leaves no audit trace")
}

// recordingLocker tracks lock acquisition so tests can assert manual
// transitions serialize with rule evaluation.
type recordingLocker struct {
	locked   []string
	unlocked int
}

func (l *recordingLocker) LockCard(cardID string) func() {
	l.locked = append(l.locked, cardID)
	return func() { l.unlocked++ }
}

func TestService_RequestTransition_HoldsCardLock(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	card, err := service.Create(ctx, CreateInput{UserID: "user-1", StockCode: "2330"})
	require.NoError(t, err)

	locker := &recordingLocker{}
	service.SetLocker(locker)

	updated, err := service.RequestTransition(ctx, card.ID, domain.StatusHold, "user-1", "manual", "trace-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusHold, updated.Status)

	assert.Equal(t, []string{card.ID}, locker.locked)
	assert.Equal(t, 1, locker.unlocked)

	// The lock is released even when the transition fails.
	_, err = service.RequestTransition(ctx, "missing", domain.StatusHold, "user-1", "", "trace-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 2, locker.unlocked)
}

func TestService_RequestTransition_NoLockerConfigured(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	card, err := service.Create(ctx, CreateInput{UserID: "user-1", StockCode: "2330"})
	require.NoError(t, err)

	updated, err := service.RequestTransition(ctx, card.ID, domain.StatusSell, "user-1", "manual", "trace-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSell, updated.Status)
}

func TestService_Transition_Validation(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	card, err := service.Create(ctx, CreateInput{UserID: "user-1", StockCode: "2330"})
	require.NoError(t, err)

	var validationErr *domain.ValidationError

	_, err = service.Transition(ctx, card.ID, domain.CardStatus("BOUGHT"), "user-1", "", "trace-1")
	assert.ErrorAs(t, err, &validationErr)

	_, err = service.Transition(ctx, card.ID, domain.StatusHold, "", "", "trace-1")
	assert.ErrorAs(t, err, &validationErr)

	_, err = service.Transition(ctx, "missing", domain.StatusHold, "user-1", "", "trace-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_UpdateNote(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	card, err := service.Create(ctx, CreateInput{UserID: "user-1", StockCode: "2330"})
	require.NoError(t, err)

	updated, err := service.UpdateNote(ctx, card.ID, "breakout confirmed")
	require.NoError(t, err)
	assert.Equal(t, "breakout confirmed", updated.Note)

	longNote := make([]byte, domain.MaxNoteLength+1)
	_, err = service.UpdateNote(ctx, card.ID, string(longNote))
	var validationErr *domain.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestService_List_RejectsUnknownStatus(t *testing.T) {
	service, _ := newTestService(t)

	bogus := domain.CardStatus("BOUGHT")
	_, err := service.List(context.Background(), "user-1", &bogus, domain.NewPageRequest(0, 20))
	var validationErr *domain.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}
