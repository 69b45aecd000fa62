package indicators

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aquilalabs/watchdeck/internal/domain"
	"github.com/aquilalabs/watchdeck/pkg/formulas"
)

// historyWindow is how many daily bars the calculations load. MA60 is the
// longest-period indicator, so 120 bars leave plenty of warmup.
const historyWindow = 120

// volumeLookback is the window for the average volume and its deviation.
const volumeLookback = 20

// Service computes technical indicators from stored price history. Missing
// indicators come back as nil pointers; a short history is not an error.
type Service struct {
	history *HistoryRepository
	log     zerolog.Logger
}

// NewService creates a new indicator service.
func NewService(history *HistoryRepository, log zerolog.Logger) *Service {
	return &Service{
		history: history,
		log:     log.With().Str("component", "indicator_service").Logger(),
	}
}

// Latest computes the current indicator set for a stock.
func (s *Service) Latest(ctx context.Context, stockCode string) (*domain.IndicatorSet, error) {
	bars, err := s.history.Recent(ctx, stockCode, historyWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", stockCode, err)
	}

	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	volumes := make([]float64, 0, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
		highs[i] = bar.High
		lows[i] = bar.Low
	}
	if len(bars) > volumeLookback {
		for _, bar := range bars[len(bars)-volumeLookback:] {
			volumes = append(volumes, float64(bar.Volume))
		}
	}

	set := &domain.IndicatorSet{
		MA5:   formulas.CalculateSMA(closes, 5),
		MA10:  formulas.CalculateSMA(closes, 10),
		MA20:  formulas.CalculateSMA(closes, 20),
		MA60:  formulas.CalculateSMA(closes, 60),
		RSI14: formulas.CalculateRSI(closes, 14),
	}

	macd := formulas.CalculateMACD(closes)
	set.MACDLine = macd.Line
	set.MACDSignal = macd.Signal
	set.MACDHistogram = macd.Histogram

	stoch := formulas.CalculateStoch(highs, lows, closes)
	set.KdK = stoch.K
	set.KdD = stoch.D

	if len(volumes) > 0 {
		avg := formulas.Mean(volumes)
		stddev := formulas.StdDev(volumes)
		set.AvgVolume = &avg
		set.VolumeStdDev = &stddev

		if avg > 0 && len(bars) > 0 {
			ratio := float64(bars[len(bars)-1].Volume) / avg
			set.VolumeRatio = &ratio
		}
	}

	return set, nil
}
