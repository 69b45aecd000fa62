package indicators

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DailyBar is one day of OHLCV history for a stock.
type DailyBar struct {
	StockCode string    `json:"stockCode"`
	TradeDate time.Time `json:"tradeDate"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// HistoryRepository handles daily price history in history.db.
type HistoryRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistoryRepository creates a new history repository.
func NewHistoryRepository(db *sql.DB, log zerolog.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:  db,
		log: log.With().Str("repo", "price_history").Logger(),
	}
}

// Upsert stores one daily bar, replacing any existing row for the same
// stock and date. The sweep calls this each time it refreshes a quote, so
// intraday updates keep overwriting today's bar.
func (r *HistoryRepository) Upsert(ctx context.Context, bar DailyBar) error {
	query := `
		INSERT INTO historical_prices (stock_code, trade_date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stock_code, trade_date) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume
	`

	_, err := r.db.ExecContext(ctx, query,
		bar.StockCode,
		bar.TradeDate.Format("2006-01-02"),
		bar.Open,
		bar.High,
		bar.Low,
		bar.Close,
		bar.Volume,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily bar: %w", err)
	}

	return nil
}

// Recent returns up to limit daily bars for a stock in chronological order,
// which is the order the indicator calculations expect.
func (r *HistoryRepository) Recent(ctx context.Context, stockCode string, limit int) ([]DailyBar, error) {
	// Newest rows selected first, then reversed into chronological order.
	query := `
		SELECT stock_code, trade_date, open, high, low, close, volume
		FROM historical_prices
		WHERE stock_code = ?
		ORDER BY trade_date DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, stockCode, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	defer rows.Close()

	var bars []DailyBar
	for rows.Next() {
		var bar DailyBar
		var tradeDate string
		if err := rows.Scan(&bar.StockCode, &tradeDate, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan daily bar: %w", err)
		}
		if bar.TradeDate, err = time.Parse("2006-01-02", tradeDate); err != nil {
			return nil, fmt.Errorf("failed to parse trade_date: %w", err)
		}
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate price history: %w", err)
	}

	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}

	return bars, nil
}
