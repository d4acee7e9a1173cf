package indicators

import (
	"fmt"

	"github.com/rustyeddy/krwbot/market"
)

// Snapshot holds every derived value the strategy rules consume, computed at
// the latest closed bar. It is recomputed each cycle and never persisted.
type Snapshot struct {
	RSI       float64
	EMA       float64
	RSISlope3 float64
	RSISlope5 float64
	EMASlope3 float64
	EMASlope5 float64

	// EMADeclining is true when the slopes of three consecutive 3-bar EMA
	// windows are strictly decreasing. This sliding-window form is the
	// production sell rule; a plain 3-value decrease is not equivalent.
	EMADeclining bool
}

// slopeWindow is the bar count each sliding EMA-slope segment covers.
const slopeWindow = 3

// slopeSegments is how many consecutive windows the decline check compares.
const slopeSegments = 3

// Compute derives a Snapshot from the series using the given RSI and EMA
// periods. It fails with ErrInsufficientData until the series is long enough
// for every component, so a caller can treat the whole snapshot as
// all-or-nothing.
func Compute(series market.Series, rsiPeriod, emaPeriod int) (Snapshot, error) {
	closes := series.Closes()

	rsiSeries, err := RSISeries(closes, rsiPeriod)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	emaSeries, err := EMASeries(closes, emaPeriod)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}

	var snap Snapshot
	snap.RSI = rsiSeries[len(rsiSeries)-1]
	snap.EMA = emaSeries[len(emaSeries)-1]

	if snap.RSISlope3, err = Slope(rsiSeries, 3); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot rsi slope(3): %w", err)
	}
	if snap.RSISlope5, err = Slope(rsiSeries, 5); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot rsi slope(5): %w", err)
	}
	if snap.EMASlope3, err = Slope(emaSeries, 3); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot ema slope(3): %w", err)
	}
	if snap.EMASlope5, err = Slope(emaSeries, 5); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot ema slope(5): %w", err)
	}

	snap.EMADeclining, err = slidingSlopesDeclining(emaSeries, slopeWindow, slopeSegments)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot ema decline: %w", err)
	}

	return snap, nil
}

// slidingSlopesDeclining computes the slope of `segments` consecutive
// windows of `window` bars each (windows overlap, shifted by one bar) and
// reports whether they are strictly decreasing.
func slidingSlopesDeclining(values []float64, window, segments int) (bool, error) {
	required := window + segments - 1
	if len(values) < required {
		return false, fmt.Errorf("need %d values, got %d: %w", required, len(values), ErrInsufficientData)
	}

	slopes := make([]float64, 0, segments)
	for i := 0; i < segments; i++ {
		end := len(values) - (segments - 1 - i)
		segment := values[end-window : end]
		s, err := Slope(segment, window)
		if err != nil {
			return false, err
		}
		slopes = append(slopes, s)
	}

	for i := 1; i < len(slopes); i++ {
		if slopes[i] >= slopes[i-1] {
			return false, nil
		}
	}
	return true, nil
}
