package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

// ArchiveRepository handles the cold audit store in archive.db. Archived
// entries stay queryable with the same shape as live ones.
type ArchiveRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewArchiveRepository creates a new archive repository.
func NewArchiveRepository(db *sql.DB, log zerolog.Logger) *ArchiveRepository {
	return &ArchiveRepository{
		db:  db,
		log: log.With().Str("repo", "audit_archive").Logger(),
	}
}

// InsertBatch writes entries to the archive in one transaction. Inserts use
// OR IGNORE so a retry after a partial failure never duplicates rows.
func (r *ArchiveRepository) InsertBatch(ctx context.Context, entries []*domain.AuditEntry, archivedAt time.Time) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO audit_archive
		(id, actor_id, card_id, action, from_status, to_status, reason, trace_id, created_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare archive insert: %w", err)
	}
	defer stmt.Close()

	archived := archivedAt.Format(time.RFC3339)
	for _, entry := range entries {
		_, err := stmt.Exec(
			entry.ID,
			entry.ActorID,
			entry.CardID,
			entry.Action,
			string(entry.FromStatus),
			string(entry.ToStatus),
			entry.Reason,
			entry.TraceID,
			entry.CreatedAt.Format(time.RFC3339),
			archived,
		)
		if err != nil {
			return fmt.Errorf("failed to archive audit entry %s: %w", entry.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive batch: %w", err)
	}

	return nil
}

// ListByCard returns a page of archived entries for a card, newest first.
func (r *ArchiveRepository) ListByCard(ctx context.Context, cardID string, page domain.PageRequest) (*domain.Page[*domain.AuditEntry], error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_archive WHERE card_id = ?", cardID).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count archived audit entries: %w", err)
	}

	query := `
		SELECT id, actor_id, card_id, action, from_status, to_status, reason, trace_id, created_at
		FROM audit_archive
		WHERE card_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := r.db.QueryContext(ctx, query, cardID, page.Size, page.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list archived audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}

	result := domain.NewPage(entries, page, total)
	return &result, nil
}

// ListByCards returns a page of archived entries across a set of cards,
// newest first. The archive lives in its own database and cannot join the
// cards table, so callers resolve the user's card ids first.
func (r *ArchiveRepository) ListByCards(ctx context.Context, cardIDs []string, page domain.PageRequest) (*domain.Page[*domain.AuditEntry], error) {
	if len(cardIDs) == 0 {
		result := domain.NewPage([]*domain.AuditEntry{}, page, 0)
		return &result, nil
	}

	placeholders := "?" + repeat(",?", len(cardIDs)-1)
	args := make([]interface{}, len(cardIDs))
	for i, id := range cardIDs {
		args[i] = id
	}

	var total int64
	countQuery := "SELECT COUNT(*) FROM audit_archive WHERE card_id IN (" + placeholders + ")"
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count archived audit entries: %w", err)
	}

	query := `
		SELECT id, actor_id, card_id, action, from_status, to_status, reason, trace_id, created_at
		FROM audit_archive
		WHERE card_id IN (` + placeholders + `)
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	args = append(args, page.Size, page.Offset())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}

	result := domain.NewPage(entries, page, total)
	return &result, nil
}

// Count returns the number of archived entries.
func (r *ArchiveRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_archive").Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count audit archive: %w", err)
	}
	return total, nil
}
