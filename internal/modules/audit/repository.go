package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

// Repository handles the live audit trail in deck.db. Entries are append
// only; nothing here updates or deletes rows except the archiver's move.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new audit repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "audit").Logger(),
	}
}

// InsertTx records an audit entry inside an existing transaction. Callers
// pair this with the card status update so both commit together.
func (r *Repository) InsertTx(tx *sql.Tx, entry *domain.AuditEntry) error {
	query := `
		INSERT INTO audit_log (id, actor_id, card_id, action, from_status, to_status, reason, trace_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := tx.Exec(query,
		entry.ID,
		entry.ActorID,
		entry.CardID,
		entry.Action,
		string(entry.FromStatus),
		string(entry.ToStatus),
		entry.Reason,
		entry.TraceID,
		entry.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// ListByCard returns a page of the card's audit trail, newest first.
func (r *Repository) ListByCard(ctx context.Context, cardID string, page domain.PageRequest) (*domain.Page[*domain.AuditEntry], error) {
	return r.list(ctx, "card_id", cardID, page)
}

// ListByActor returns a page of audit entries recorded for an actor,
// newest first.
func (r *Repository) ListByActor(ctx context.Context, actorID string, page domain.PageRequest) (*domain.Page[*domain.AuditEntry], error) {
	return r.list(ctx, "actor_id", actorID, page)
}

// ListByUser returns a page of audit entries across every card the user
// owns, newest first. This includes rule-driven entries, which carry the
// system actor rather than the user's id.
func (r *Repository) ListByUser(ctx context.Context, userID string, page domain.PageRequest) (*domain.Page[*domain.AuditEntry], error) {
	var total int64
	countQuery := `
		SELECT COUNT(*) FROM audit_log a
		JOIN cards c ON c.id = a.card_id
		WHERE c.user_id = ?
	`
	if err := r.db.QueryRowContext(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count audit entries: %w", err)
	}

	query := `
		SELECT a.id, a.actor_id, a.card_id, a.action, a.from_status, a.to_status, a.reason, a.trace_id, a.created_at
		FROM audit_log a
		JOIN cards c ON c.id = a.card_id
		WHERE c.user_id = ?
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := r.db.QueryContext(ctx, query, userID, page.Size, page.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}

	result := domain.NewPage(entries, page, total)
	return &result, nil
}

func (r *Repository) list(ctx context.Context, column, value string, page domain.PageRequest) (*domain.Page[*domain.AuditEntry], error) {
	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_log WHERE %s = ?", column)
	if err := r.db.QueryRowContext(ctx, countQuery, value).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count audit entries: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, actor_id, card_id, action, from_status, to_status, reason, trace_id, created_at
		FROM audit_log
		WHERE %s = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, column)

	rows, err := r.db.QueryContext(ctx, query, value, page.Size, page.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}

	result := domain.NewPage(entries, page, total)
	return &result, nil
}

// ListOlderThan returns entries created before the cutoff, oldest first,
// bounded by limit. Used by the archiver to move entries in batches.
func (r *Repository) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*domain.AuditEntry, error) {
	query := `
		SELECT id, actor_id, card_id, action, from_status, to_status, reason, trace_id, created_at
		FROM audit_log
		WHERE created_at < ?
		ORDER BY created_at, id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, cutoff.Format(time.RFC3339), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired audit entries: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

// DeleteByIDs removes entries from the live trail. Only the archiver calls
// this, and only after the same entries are durable in the archive.
func (r *Repository) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query := "DELETE FROM audit_log WHERE id IN (?" + repeat(",?", len(ids)-1) + ")"
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete archived audit entries: %w", err)
	}

	return nil
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}

func collectEntries(rows *sql.Rows) ([]*domain.AuditEntry, error) {
	var entries []*domain.AuditEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*domain.AuditEntry, error) {
	var entry domain.AuditEntry
	var fromStatus, toStatus, createdAt string

	err := row.Scan(
		&entry.ID,
		&entry.ActorID,
		&entry.CardID,
		&entry.Action,
		&fromStatus,
		&toStatus,
		&entry.Reason,
		&entry.TraceID,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	entry.FromStatus = domain.CardStatus(fromStatus)
	entry.ToStatus = domain.CardStatus(toStatus)
	if entry.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return &entry, nil
}
