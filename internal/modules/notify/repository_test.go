package notify

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE notifications (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			title        TEXT NOT NULL,
			message      TEXT NOT NULL DEFAULT '',
			type         TEXT NOT NULL DEFAULT 'INFO',
			rule_id      TEXT,
			card_id      TEXT,
			stock_code   TEXT,
			execution_id TEXT UNIQUE,
			metadata     TEXT NOT NULL DEFAULT '',
			is_read      INTEGER NOT NULL DEFAULT 0,
			read_at      TEXT,
			created_at   TEXT NOT NULL
		)
	`)
	require.NoError(t, err)

	return db
}

func testNotification(id, executionID string) *domain.Notification {
	return &domain.Notification{
		ID:          id,
		UserID:      "user-1",
		Title:       "Rule triggered: surge watch",
		Message:     "TSMC moved from WATCH to READY_TO_BUY",
		Type:        domain.NotificationRuleTriggered,
		RuleID:      "rule-1",
		CardID:      "card-1",
		StockCode:   "2330",
		ExecutionID: executionID,
		CreatedAt:   time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC),
	}
}

func TestRepository_InsertIfAbsent_Idempotent(t *testing.T) {
	repo := NewRepository(newTestDB(t), zerolog.Nop())
	ctx := context.Background()

	inserted, err := repo.InsertIfAbsent(ctx, testNotification("n1", "exec-1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	// A second notification for the same execution is silently absorbed.
	inserted, err = repo.InsertIfAbsent(ctx, testNotification("n2", "exec-1"))
	require.NoError(t, err)
	assert.False(t, inserted)

	count, err := repo.UnreadCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// A different execution inserts normally.
	inserted, err = repo.InsertIfAbsent(ctx, testNotification("n3", "exec-2"))
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestRepository_ListByUser(t *testing.T) {
	repo := NewRepository(newTestDB(t), zerolog.Nop())
	ctx := context.Background()

	first := testNotification("n1", "exec-1")
	second := testNotification("n2", "exec-2")
	second.CreatedAt = first.CreatedAt.Add(time.Minute)

	for _, n := range []*domain.Notification{first, second} {
		inserted, err := repo.InsertIfAbsent(ctx, n)
		require.NoError(t, err)
		require.True(t, inserted)
	}

	page, err := repo.ListByUser(ctx, "user-1", false, domain.NewPageRequest(0, 20))
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "n2", page.Items[0].ID, "newest first")

	got := page.Items[1]
	assert.Equal(t, domain.NotificationRuleTriggered, got.Type)
	assert.Equal(t, "rule-1", got.RuleID)
	assert.Equal(t, "2330", got.StockCode)
	assert.Equal(t, "exec-1", got.ExecutionID)
	assert.False(t, got.Read)
	assert.Nil(t, got.ReadAt)
}

func TestRepository_MarkRead(t *testing.T) {
	repo := NewRepository(newTestDB(t), zerolog.Nop())
	ctx := context.Background()

	_, err := repo.InsertIfAbsent(ctx, testNotification("n1", "exec-1"))
	require.NoError(t, err)

	readAt := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.MarkRead(ctx, "n1", readAt))

	count, err := repo.UnreadCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, count)

	page, err := repo.ListByUser(ctx, "user-1", false, domain.NewPageRequest(0, 20))
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].Read)
	require.NotNil(t, page.Items[0].ReadAt)
	assert.True(t, readAt.Equal(*page.Items[0].ReadAt))

	// Marking twice is fine; marking a missing one is not.
	assert.NoError(t, repo.MarkRead(ctx, "n1", readAt))
	assert.ErrorIs(t, repo.MarkRead(ctx, "missing", readAt), domain.ErrNotFound)

	unread, err := repo.ListByUser(ctx, "user-1", true, domain.NewPageRequest(0, 20))
	require.NoError(t, err)
	assert.Empty(t, unread.Items)
}

func TestRepository_MarkAllRead(t *testing.T) {
	repo := NewRepository(newTestDB(t), zerolog.Nop())
	ctx := context.Background()

	for i, execID := range []string{"exec-1", "exec-2", "exec-3"} {
		n := testNotification("n"+execID, execID)
		if i == 0 {
			n.UserID = "user-2"
		}
		_, err := repo.InsertIfAbsent(ctx, n)
		require.NoError(t, err)
	}

	readAt := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	affected, err := repo.MarkAllRead(ctx, "user-1", readAt)
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	count, err := repo.UnreadCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, count)

	// The other user's notifications are untouched.
	count, err = repo.UnreadCount(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
