package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

// Repository handles notification persistence in deck.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new notification repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "notifications").Logger(),
	}
}

// InsertIfAbsent persists a notification unless one already exists for the
// same execution. The UNIQUE constraint on execution_id is the idempotency
// guarantee; the return value reports whether this call inserted the row.
func (r *Repository) InsertIfAbsent(ctx context.Context, n *domain.Notification) (bool, error) {
	query := `
		INSERT INTO notifications
		(id, user_id, title, message, type, rule_id, card_id, stock_code, execution_id, metadata, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(execution_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		n.ID,
		n.UserID,
		n.Title,
		n.Message,
		string(n.Type),
		nullString(n.RuleID),
		nullString(n.CardID),
		nullString(n.StockCode),
		nullString(n.ExecutionID),
		n.Metadata,
		n.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert notification: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}

	return inserted > 0, nil
}

// ListByUser returns a page of the user's notifications, newest first.
// unreadOnly restricts the page to unread ones.
func (r *Repository) ListByUser(ctx context.Context, userID string, unreadOnly bool, page domain.PageRequest) (*domain.Page[*domain.Notification], error) {
	where := "WHERE user_id = ?"
	if unreadOnly {
		where += " AND is_read = 0"
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications "+where, userID).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}

	query := `
		SELECT id, user_id, title, message, type, rule_id, card_id, stock_code, execution_id, metadata, is_read, read_at, created_at
		FROM notifications ` + where + `
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := r.db.QueryContext(ctx, query, userID, page.Size, page.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}

	result := domain.NewPage(notifications, page, total)
	return &result, nil
}

// UnreadCount returns the number of unread notifications for a user.
func (r *Repository) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0",
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead marks one notification as read.
func (r *Repository) MarkRead(ctx context.Context, id string, readAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1, read_at = ? WHERE id = ? AND is_read = 0",
		readAt.Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Either missing or already read; distinguish for the caller.
		var one int
		err := r.db.QueryRowContext(ctx, "SELECT 1 FROM notifications WHERE id = ?", id).Scan(&one)
		if err != nil {
			return domain.ErrNotFound
		}
	}
	return nil
}

// MarkAllRead marks every unread notification for a user as read and returns
// how many were affected.
func (r *Repository) MarkAllRead(ctx context.Context, userID string, readAt time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1, read_at = ? WHERE user_id = ? AND is_read = 0",
		readAt.Format(time.RFC3339), userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*domain.Notification, error) {
	var n domain.Notification
	var ntype, createdAt string
	var ruleID, cardID, stockCode, executionID, readAt sql.NullString
	var isRead int

	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Title,
		&n.Message,
		&ntype,
		&ruleID,
		&cardID,
		&stockCode,
		&executionID,
		&n.Metadata,
		&isRead,
		&readAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	n.Type = domain.NotificationType(ntype)
	n.RuleID = ruleID.String
	n.CardID = cardID.String
	n.StockCode = stockCode.String
	n.ExecutionID = executionID.String
	n.Read = isRead != 0

	if readAt.Valid {
		t, err := time.Parse(time.RFC3339, readAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse read_at: %w", err)
		}
		n.ReadAt = &t
	}
	if n.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return &n, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
