package cards

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

// Repository handles card persistence in deck.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new card repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "cards").Logger(),
	}
}

// Create inserts a new card.
func (r *Repository) Create(ctx context.Context, card *domain.Card) error {
	query := `
		INSERT INTO cards (id, user_id, stock_code, stock_name, status, note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		card.ID,
		card.UserID,
		card.StockCode,
		card.StockName,
		string(card.Status),
		card.Note,
		card.CreatedAt.Format(time.RFC3339),
		card.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create card: %w", err)
	}

	r.log.Info().
		Str("card_id", card.ID).
		Str("stock_code", card.StockCode).
		Msg("Card created")

	return nil
}

// GetByID retrieves a card by id. Returns domain.ErrNotFound when missing.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Card, error) {
	query := `
		SELECT id, user_id, stock_code, stock_name, status, note, created_at, updated_at
		FROM cards WHERE id = ?
	`

	card, err := scanCard(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get card: %w", err)
	}

	return card, nil
}

// ExistsForUser checks whether the user already tracks the stock code.
func (r *Repository) ExistsForUser(ctx context.Context, userID, stockCode string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		"SELECT 1 FROM cards WHERE user_id = ? AND stock_code = ? LIMIT 1",
		userID, stockCode,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check card existence: %w", err)
	}
	return true, nil
}

// ListByUser returns a page of the user's cards, optionally filtered by
// status, most recently updated first.
func (r *Repository) ListByUser(ctx context.Context, userID string, status *domain.CardStatus, page domain.PageRequest) (*domain.Page[*domain.Card], error) {
	where := "WHERE user_id = ?"
	args := []interface{}{userID}
	if status != nil {
		where += " AND status = ?"
		args = append(args, string(*status))
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cards "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count cards: %w", err)
	}

	query := `
		SELECT id, user_id, stock_code, stock_name, status, note, created_at, updated_at
		FROM cards ` + where + `
		ORDER BY updated_at DESC, id
		LIMIT ? OFFSET ?
	`
	args = append(args, page.Size, page.Offset())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	var cards []*domain.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cards: %w", err)
	}

	result := domain.NewPage(cards, page, total)
	return &result, nil
}

// ListIDsByUser returns the ids of every card the user owns. Used to scope
// cross-database audit queries to the user's cards.
func (r *Repository) ListIDsByUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id FROM cards WHERE user_id = ? ORDER BY created_at", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list card ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan card id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate card ids: %w", err)
	}

	return ids, nil
}

// ListAll returns every card in the system. Used by the market sweep to
// collect the distinct stock codes to refresh.
func (r *Repository) ListAll(ctx context.Context) ([]*domain.Card, error) {
	query := `
		SELECT id, user_id, stock_code, stock_name, status, note, created_at, updated_at
		FROM cards ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list all cards: %w", err)
	}
	defer rows.Close()

	var cards []*domain.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cards: %w", err)
	}

	return cards, nil
}

// UpdateNote replaces the card's note.
func (r *Repository) UpdateNote(ctx context.Context, id, note string, updatedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE cards SET note = ?, updated_at = ? WHERE id = ?",
		note, updatedAt.Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update card note: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatusTx updates the card status inside an existing transaction so
// the caller can commit it together with the audit entry.
func (r *Repository) UpdateStatusTx(tx *sql.Tx, id string, status domain.CardStatus, updatedAt time.Time) error {
	result, err := tx.Exec(
		"UPDATE cards SET status = ?, updated_at = ? WHERE id = ?",
		string(status), updatedAt.Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update card status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a card.
func (r *Repository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM cards WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}

	r.log.Info().Str("card_id", id).Msg("Card deleted")
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCard(row rowScanner) (*domain.Card, error) {
	var card domain.Card
	var status, createdAt, updatedAt string

	err := row.Scan(
		&card.ID,
		&card.UserID,
		&card.StockCode,
		&card.StockName,
		&status,
		&card.Note,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	card.Status = domain.CardStatus(status)
	if card.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if card.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &card, nil
}
