package executions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

// Repository handles the append-only execution ledger in ledger.db.
// Snapshots are stored as msgpack blobs so the exact evaluation context is
// reconstructible long after the live quote moved on.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new execution repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "executions").Logger(),
	}
}

// Record persists one execution record. Records are immutable apart from the
// notification_sent flag.
func (r *Repository) Record(ctx context.Context, exec *domain.RuleExecution) error {
	var snapshot []byte
	if exec.Snapshot != nil {
		encoded, err := msgpack.Marshal(exec.Snapshot)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}
		snapshot = encoded
	}

	query := `
		INSERT INTO rule_executions
		(id, rule_id, card_id, status, previous_status, new_status, snapshot, message, notification_sent, elapsed_ms, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		exec.ID,
		exec.RuleID,
		exec.CardID,
		string(exec.Status),
		nullStatus(exec.PreviousStatus),
		nullStatus(exec.NewStatus),
		snapshot,
		exec.Message,
		boolToInt(exec.NotificationSent),
		exec.ElapsedMs,
		exec.ExecutedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}

	return nil
}

// GetByID retrieves an execution record by id.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.RuleExecution, error) {
	query := `
		SELECT id, rule_id, card_id, status, previous_status, new_status, snapshot, message, notification_sent, elapsed_ms, executed_at
		FROM rule_executions WHERE id = ?
	`

	exec, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return exec, nil
}

// ListByRule returns a page of executions for a rule, newest first.
func (r *Repository) ListByRule(ctx context.Context, ruleID string, page domain.PageRequest) (*domain.Page[*domain.RuleExecution], error) {
	return r.list(ctx, "rule_id", ruleID, page)
}

// ListByCard returns a page of executions for a card, newest first.
func (r *Repository) ListByCard(ctx context.Context, cardID string, page domain.PageRequest) (*domain.Page[*domain.RuleExecution], error) {
	return r.list(ctx, "card_id", cardID, page)
}

func (r *Repository) list(ctx context.Context, column, value string, page domain.PageRequest) (*domain.Page[*domain.RuleExecution], error) {
	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM rule_executions WHERE %s = ?", column)
	if err := r.db.QueryRowContext(ctx, countQuery, value).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, rule_id, card_id, status, previous_status, new_status, snapshot, message, notification_sent, elapsed_ms, executed_at
		FROM rule_executions
		WHERE %s = ?
		ORDER BY executed_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, column)

	rows, err := r.db.QueryContext(ctx, query, value, page.Size, page.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var execs []*domain.RuleExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}

	result := domain.NewPage(execs, page, total)
	return &result, nil
}

// MarkNotificationSent flips the notification flag after the dispatcher
// persisted the notification.
func (r *Repository) MarkNotificationSent(ctx context.Context, executionID string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE rule_executions SET notification_sent = 1 WHERE id = ?",
		executionID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CountByStatus returns execution counts grouped by outcome.
func (r *Repository) CountByStatus(ctx context.Context) (map[domain.ExecutionStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM rule_executions GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count executions by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.ExecutionStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan execution count: %w", err)
		}
		counts[domain.ExecutionStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate execution counts: %w", err)
	}

	return counts, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*domain.RuleExecution, error) {
	var exec domain.RuleExecution
	var status, executedAt string
	var prevStatus, newStatus sql.NullString
	var snapshot []byte
	var notificationSent int

	err := row.Scan(
		&exec.ID,
		&exec.RuleID,
		&exec.CardID,
		&status,
		&prevStatus,
		&newStatus,
		&snapshot,
		&exec.Message,
		&notificationSent,
		&exec.ElapsedMs,
		&executedAt,
	)
	if err != nil {
		return nil, err
	}

	exec.Status = domain.ExecutionStatus(status)
	exec.NotificationSent = notificationSent != 0

	if prevStatus.Valid {
		s := domain.CardStatus(prevStatus.String)
		exec.PreviousStatus = &s
	}
	if newStatus.Valid {
		s := domain.CardStatus(newStatus.String)
		exec.NewStatus = &s
	}
	if len(snapshot) > 0 {
		var snap domain.Snapshot
		if err := msgpack.Unmarshal(snapshot, &snap); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot: %w", err)
		}
		exec.Snapshot = &snap
	}
	if exec.ExecutedAt, err = time.Parse(time.RFC3339, executedAt); err != nil {
		return nil, fmt.Errorf("failed to parse executed_at: %w", err)
	}

	return &exec, nil
}

func nullStatus(s *domain.CardStatus) interface{} {
	if s == nil {
		return nil
	}
	return string(*s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
