package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

// Repository handles rule persistence in deck.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new rule repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "rules").Logger(),
	}
}

const ruleColumns = `id, user_id, name, description, rule_type, condition_expression,
	trigger_event, target_status, enabled, cooldown_seconds, priority,
	send_notification, notification_template, tags, parameters,
	last_executed_at, trigger_count, created_at, updated_at`

// Create inserts a new rule.
func (r *Repository) Create(ctx context.Context, rule *domain.Rule) error {
	query := `
		INSERT INTO rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		rule.ID,
		rule.UserID,
		rule.Name,
		rule.Description,
		string(rule.Type),
		rule.ConditionExpression,
		string(rule.Trigger),
		string(rule.TargetStatus),
		boolToInt(rule.Enabled),
		rule.CooldownSeconds,
		rule.Priority,
		boolToInt(rule.SendNotification),
		rule.NotificationTemplate,
		rule.Tags,
		rule.Parameters,
		nullTime(rule.LastExecutedAt),
		rule.TriggerCount,
		rule.CreatedAt.Format(time.RFC3339),
		rule.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	r.log.Info().
		Str("rule_id", rule.ID).
		Str("name", rule.Name).
		Str("trigger", string(rule.Trigger)).
		Msg("Rule created")

	return nil
}

// GetByID retrieves a rule by id. Returns domain.ErrNotFound when missing.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Rule, error) {
	query := "SELECT " + ruleColumns + " FROM rules WHERE id = ?"

	rule, err := scanRule(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	return rule, nil
}

// ListByUser returns a page of the user's rules, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string, page domain.PageRequest) (*domain.Page[*domain.Rule], error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rules WHERE user_id = ?", userID).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count rules: %w", err)
	}

	query := "SELECT " + ruleColumns + ` FROM rules
		WHERE user_id = ?
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, userID, page.Size, page.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rules, err := collectRules(rows)
	if err != nil {
		return nil, err
	}

	result := domain.NewPage(rules, page, total)
	return &result, nil
}

// ListEnabledByTrigger returns the user's enabled rules for a trigger event.
// Ordering is left to the engine.
func (r *Repository) ListEnabledByTrigger(ctx context.Context, userID string, trigger domain.TriggerEvent) ([]*domain.Rule, error) {
	query := "SELECT " + ruleColumns + ` FROM rules
		WHERE user_id = ? AND trigger_event = ? AND enabled = 1`

	rows, err := r.db.QueryContext(ctx, query, userID, string(trigger))
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled rules: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

// Update replaces the rule's mutable fields. Execution state
// (last_executed_at, trigger_count) is never touched here.
func (r *Repository) Update(ctx context.Context, rule *domain.Rule) error {
	query := `
		UPDATE rules SET
			name = ?, description = ?, rule_type = ?, condition_expression = ?,
			trigger_event = ?, target_status = ?, enabled = ?, cooldown_seconds = ?,
			priority = ?, send_notification = ?, notification_template = ?,
			tags = ?, parameters = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		rule.Name,
		rule.Description,
		string(rule.Type),
		rule.ConditionExpression,
		string(rule.Trigger),
		string(rule.TargetStatus),
		boolToInt(rule.Enabled),
		rule.CooldownSeconds,
		rule.Priority,
		boolToInt(rule.SendNotification),
		rule.NotificationTemplate,
		rule.Tags,
		rule.Parameters,
		rule.UpdatedAt.Format(time.RFC3339),
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// SetEnabled flips the rule's enabled flag.
func (r *Repository) SetEnabled(ctx context.Context, id string, enabled bool, updatedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE rules SET enabled = ?, updated_at = ? WHERE id = ?",
		boolToInt(enabled), updatedAt.Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set rule enabled: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkExecuted advances the rule's cooldown anchor and trigger count after a
// successful firing.
func (r *Repository) MarkExecuted(ctx context.Context, ruleID string, executedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE rules SET last_executed_at = ?, trigger_count = trigger_count + 1 WHERE id = ?",
		executedAt.Format(time.RFC3339), ruleID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark rule executed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a rule.
func (r *Repository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}

	r.log.Info().Str("rule_id", id).Msg("Rule deleted")
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*domain.Rule, error) {
	var rule domain.Rule
	var ruleType, trigger, target, createdAt, updatedAt string
	var enabled, sendNotification int
	var lastExecutedAt sql.NullString

	err := row.Scan(
		&rule.ID,
		&rule.UserID,
		&rule.Name,
		&rule.Description,
		&ruleType,
		&rule.ConditionExpression,
		&trigger,
		&target,
		&enabled,
		&rule.CooldownSeconds,
		&rule.Priority,
		&sendNotification,
		&rule.NotificationTemplate,
		&rule.Tags,
		&rule.Parameters,
		&lastExecutedAt,
		&rule.TriggerCount,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Type = domain.RuleType(ruleType)
	rule.Trigger = domain.TriggerEvent(trigger)
	rule.TargetStatus = domain.CardStatus(target)
	rule.Enabled = enabled != 0
	rule.SendNotification = sendNotification != 0

	if lastExecutedAt.Valid {
		t, err := time.Parse(time.RFC3339, lastExecutedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_executed_at: %w", err)
		}
		rule.LastExecutedAt = &t
	}
	if rule.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if rule.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &rule, nil
}

func collectRules(rows *sql.Rows) ([]*domain.Rule, error) {
	var rules []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return rules, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}
