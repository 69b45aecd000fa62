package indicators

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_Latest_ShortHistory(t *testing.T) {
	repo := NewHistoryRepository(newTestDB(t), zerolog.Nop())
	service := NewService(repo, zerolog.Nop())
	ctx := context.Background()

	// Three bars: not enough for any indicator.
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Upsert(ctx, bar("2330", start.AddDate(0, 0, i), 100, 1000)))
	}

	set, err := service.Latest(ctx, "2330")
	require.NoError(t, err, "a short history is not an error")
	assert.Nil(t, set.MA5)
	assert.Nil(t, set.MA60)
	assert.Nil(t, set.RSI14)
	assert.Nil(t, set.MACDLine)
	assert.Nil(t, set.AvgVolume)
	assert.Nil(t, set.VolumeRatio)
}

func TestService_Latest_ComputesIndicators(t *testing.T) {
	repo := NewHistoryRepository(newTestDB(t), zerolog.Nop())
	service := NewService(repo, zerolog.Nop())
	ctx := context.Background()

	// 80 bars with mildly varying closes and volumes.
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 80; i++ {
		closePrice := 100 + math.Sin(float64(i)/5)*10 + float64(i)*0.2
		volume := int64(1000 + 50*(i%7))
		require.NoError(t, repo.Upsert(ctx, bar("2330", start.AddDate(0, 0, i), closePrice, volume)))
	}

	set, err := service.Latest(ctx, "2330")
	require.NoError(t, err)

	require.NotNil(t, set.MA5)
	require.NotNil(t, set.MA10)
	require.NotNil(t, set.MA20)
	require.NotNil(t, set.MA60)
	require.NotNil(t, set.RSI14)
	require.NotNil(t, set.MACDLine)
	require.NotNil(t, set.MACDSignal)
	require.NotNil(t, set.MACDHistogram)
	require.NotNil(t, set.KdK)
	require.NotNil(t, set.KdD)
	require.NotNil(t, set.AvgVolume)
	require.NotNil(t, set.VolumeStdDev)
	require.NotNil(t, set.VolumeRatio)

	// MA5 is the mean of the last five closes.
	bars, err := repo.Recent(ctx, "2330", 5)
	require.NoError(t, err)
	var sum float64
	for _, b := range bars {
		sum += b.Close
	}
	assert.InDelta(t, sum/5, *set.MA5, 1e-6)

	assert.Greater(t, *set.RSI14, 0.0)
	assert.Less(t, *set.RSI14, 100.0)
	assert.Greater(t, *set.AvgVolume, 0.0)
	assert.Greater(t, *set.VolumeRatio, 0.0)
}
