package indicators

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE historical_prices (
			stock_code TEXT NOT NULL,
			trade_date TEXT NOT NULL,
			open       REAL NOT NULL,
			high       REAL NOT NULL,
			low        REAL NOT NULL,
			close      REAL NOT NULL,
			volume     INTEGER NOT NULL,
			PRIMARY KEY (stock_code, trade_date)
		);
		CREATE TABLE snapshots (
			stock_code     TEXT PRIMARY KEY,
			stock_name     TEXT NOT NULL DEFAULT '',
			price          REAL NOT NULL,
			open           REAL NOT NULL DEFAULT 0,
			high           REAL NOT NULL DEFAULT 0,
			low            REAL NOT NULL DEFAULT 0,
			previous_close REAL NOT NULL DEFAULT 0,
			change_percent REAL NOT NULL DEFAULT 0,
			volume         INTEGER NOT NULL DEFAULT 0,
			fetched_at     TEXT NOT NULL
		)
	`)
	require.NoError(t, err)

	return db
}

func bar(code string, date time.Time, close float64, volume int64) DailyBar {
	return DailyBar{
		StockCode: code,
		TradeDate: date,
		Open:      close - 1,
		High:      close + 2,
		Low:       close - 2,
		Close:     close,
		Volume:    volume,
	}
}

func TestHistoryRepository_UpsertReplacesSameDay(t *testing.T) {
	repo := NewHistoryRepository(newTestDB(t), zerolog.Nop())
	ctx := context.Background()

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Upsert(ctx, bar("2330", day, 600, 10_000)))

	// Intraday refresh overwrites the same trading day.
	require.NoError(t, repo.Upsert(ctx, bar("2330", day, 612, 25_000)))

	bars, err := repo.Recent(ctx, "2330", 10)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.InDelta(t, 612, bars[0].Close, 1e-9)
	assert.Equal(t, int64(25_000), bars[0].Volume)
}

func TestHistoryRepository_RecentChronologicalWindow(t *testing.T) {
	repo := NewHistoryRepository(newTestDB(t), zerolog.Nop())
	ctx := context.Background()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		require.NoError(t, repo.Upsert(ctx, bar("2330", start.AddDate(0, 0, i), 100+float64(i), 1000)))
	}
	require.NoError(t, repo.Upsert(ctx, bar("2317", start, 50, 500)))

	bars, err := repo.Recent(ctx, "2330", 5)
	require.NoError(t, err)
	require.Len(t, bars, 5, "window keeps the newest rows")

	// Chronological order: oldest of the window first, newest last.
	assert.InDelta(t, 105, bars[0].Close, 1e-9)
	assert.InDelta(t, 109, bars[4].Close, 1e-9)
	for i := 1; i < len(bars); i++ {
		assert.True(t, bars[i].TradeDate.After(bars[i-1].TradeDate))
	}

	empty, err := repo.Recent(ctx, "0000", 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
