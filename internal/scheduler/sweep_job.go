package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aquilalabs/watchdeck/internal/domain"
	"github.com/aquilalabs/watchdeck/internal/engine"
	"github.com/aquilalabs/watchdeck/internal/modules/indicators"
)

// sweepTimeout bounds one whole sweep cycle.
const sweepTimeout = 4 * time.Minute

// CardLister enumerates the cards to refresh.
type CardLister interface {
	ListAll(ctx context.Context) ([]*domain.Card, error)
}

// QuoteFetcher fetches current quotes. Unknown codes come back nil in the
// batch result.
type QuoteFetcher interface {
	FetchQuotesBatch(ctx context.Context, codes []string) ([]*domain.Snapshot, error)
}

// SnapshotStore persists the latest quote per stock.
type SnapshotStore interface {
	Upsert(ctx context.Context, snap *domain.Snapshot) error
}

// HistoryStore persists daily bars derived from quotes.
type HistoryStore interface {
	Upsert(ctx context.Context, bar indicators.DailyBar) error
}

// EventProcessor runs rule evaluation for a batch of events.
type EventProcessor interface {
	ProcessBatch(ctx context.Context, events []*engine.Event, workers int) error
}

// SweepJob refreshes quotes for every tracked stock and feeds the results
// through rule evaluation. One sweep produces a PRICE_UPDATE event per card
// with a fresh quote and a TIME_BASED event for every card.
type SweepJob struct {
	cards     CardLister
	quotes    QuoteFetcher
	snapshots SnapshotStore
	history   HistoryStore
	processor EventProcessor
	workers   int
	log       zerolog.Logger
}

// NewSweepJob creates a sweep job.
func NewSweepJob(cards CardLister, quotes QuoteFetcher, snapshots SnapshotStore, history HistoryStore, processor EventProcessor, workers int, log zerolog.Logger) *SweepJob {
	return &SweepJob{
		cards:     cards,
		quotes:    quotes,
		snapshots: snapshots,
		history:   history,
		processor: processor,
		workers:   workers,
		log:       log.With().Str("job", "market_sweep").Logger(),
	}
}

// Name implements Job.
func (j *SweepJob) Name() string {
	return "market_sweep"
}

// Run implements Job.
func (j *SweepJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	started := time.Now()
	traceID := uuid.New().String()

	cards, err := j.cards.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cards for sweep: %w", err)
	}
	if len(cards) == 0 {
		return nil
	}

	// Distinct codes in first-seen order so the batch result maps back.
	codes := make([]string, 0, len(cards))
	seen := make(map[string]struct{}, len(cards))
	for _, card := range cards {
		if _, ok := seen[card.StockCode]; ok {
			continue
		}
		seen[card.StockCode] = struct{}{}
		codes = append(codes, card.StockCode)
	}

	snapshots, err := j.quotes.FetchQuotesBatch(ctx, codes)
	if err != nil {
		return fmt.Errorf("failed to fetch quotes: %w", err)
	}

	byCode := make(map[string]*domain.Snapshot, len(codes))
	for i, snap := range snapshots {
		if snap == nil {
			continue
		}
		byCode[codes[i]] = snap

		if err := j.snapshots.Upsert(ctx, snap); err != nil {
			j.log.Error().Err(err).Str("stock_code", snap.Code).Msg("Failed to store snapshot")
		}
		if err := j.history.Upsert(ctx, dailyBar(snap)); err != nil {
			j.log.Error().Err(err).Str("stock_code", snap.Code).Msg("Failed to store daily bar")
		}
	}

	events := make([]*engine.Event, 0, len(cards)*2)
	for _, card := range cards {
		snap := byCode[card.StockCode]
		if snap != nil {
			events = append(events, &engine.Event{
				Trigger:  domain.TriggerPriceUpdate,
				CardID:   card.ID,
				Snapshot: snap,
				TraceID:  traceID,
			})
		}
		events = append(events, &engine.Event{
			Trigger:  domain.TriggerTimeBased,
			CardID:   card.ID,
			Snapshot: snap,
			TraceID:  traceID,
		})
	}

	if err := j.processor.ProcessBatch(ctx, events, j.workers); err != nil {
		j.log.Error().Err(err).Msg("Sweep rule processing reported errors")
	}

	j.log.Info().
		Int("cards", len(cards)).
		Int("quotes", len(byCode)).
		Int("events", len(events)).
		Dur("duration", time.Since(started)).
		Str("trace_id", traceID).
		Msg("Market sweep completed")

	return nil
}

// dailyBar folds a quote into today's OHLCV bar. Repeated sweeps within the
// same day overwrite the bar with the latest view.
func dailyBar(snap *domain.Snapshot) indicators.DailyBar {
	return indicators.DailyBar{
		StockCode: snap.Code,
		TradeDate: snap.FetchedAt.Truncate(24 * time.Hour),
		Open:      snap.Open,
		High:      snap.High,
		Low:       snap.Low,
		Close:     snap.Price,
		Volume:    snap.Volume,
	}
}
