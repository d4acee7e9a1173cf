package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/krwbot/market"
)

func TestComputeInsufficientData(t *testing.T) {
	series := market.Trending(10, 1330, 1, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Hour)
	_, err := Compute(series, 14, 20)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestComputeTrendingSeries(t *testing.T) {
	series := market.Trending(60, 1330, 1, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Hour)

	snap, err := Compute(series, 14, 20)
	require.NoError(t, err)

	// A steady +1/bar ramp: EMA rises, RSI is pegged at 100 (flat slope).
	assert.Equal(t, 100.0, snap.RSI)
	assert.Equal(t, 0.0, snap.RSISlope3)
	assert.Greater(t, snap.EMASlope3, 0.0)
	assert.Greater(t, snap.EMASlope5, 0.0)
	assert.False(t, snap.EMADeclining)
}

func TestComputeDecliningEMA(t *testing.T) {
	// Accelerating fall makes each successive 3-bar EMA slope smaller.
	series := make(market.Series, 0, 60)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	px := 1400.0
	for i := 0; i < 60; i++ {
		if i > 40 {
			px -= float64(i-40) * 0.5
		}
		series = append(series, market.Candle{
			Time: start.Add(time.Duration(i) * time.Hour),
			Open: px, High: px, Low: px, Close: px,
		})
	}

	snap, err := Compute(series, 14, 20)
	require.NoError(t, err)
	assert.True(t, snap.EMADeclining)
	assert.Less(t, snap.EMASlope3, 0.0)
}
