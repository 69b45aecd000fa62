package indicators

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aquilalabs/watchdeck/internal/domain"
)

// SnapshotRepository stores the latest quote per stock in history.db.
type SnapshotRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSnapshotRepository creates a new snapshot repository.
func NewSnapshotRepository(db *sql.DB, log zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:  db,
		log: log.With().Str("repo", "snapshots").Logger(),
	}
}

// Upsert replaces the stored snapshot for the stock.
func (r *SnapshotRepository) Upsert(ctx context.Context, snap *domain.Snapshot) error {
	query := `
		INSERT INTO snapshots (stock_code, stock_name, price, open, high, low, previous_close, change_percent, volume, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stock_code) DO UPDATE SET
			stock_name = excluded.stock_name,
			price = excluded.price,
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			previous_close = excluded.previous_close,
			change_percent = excluded.change_percent,
			volume = excluded.volume,
			fetched_at = excluded.fetched_at
	`

	_, err := r.db.ExecContext(ctx, query,
		snap.Code,
		snap.Name,
		snap.Price,
		snap.Open,
		snap.High,
		snap.Low,
		snap.PreviousClose,
		snap.ChangePercent,
		snap.Volume,
		snap.FetchedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}

	return nil
}

// Get returns the stored snapshot for a stock. Returns domain.ErrNotFound
// when the stock was never fetched.
func (r *SnapshotRepository) Get(ctx context.Context, stockCode string) (*domain.Snapshot, error) {
	query := `
		SELECT stock_code, stock_name, price, open, high, low, previous_close, change_percent, volume, fetched_at
		FROM snapshots WHERE stock_code = ?
	`

	var snap domain.Snapshot
	var fetchedAt string
	err := r.db.QueryRowContext(ctx, query, stockCode).Scan(
		&snap.Code,
		&snap.Name,
		&snap.Price,
		&snap.Open,
		&snap.High,
		&snap.Low,
		&snap.PreviousClose,
		&snap.ChangePercent,
		&snap.Volume,
		&fetchedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	if snap.FetchedAt, err = time.Parse(time.RFC3339, fetchedAt); err != nil {
		return nil, fmt.Errorf("failed to parse fetched_at: %w", err)
	}

	return &snap, nil
}
