// Package indicators provides the technical analysis primitives the trading
// rules are calibrated against: RSI, EMA and discrete slopes.
//
// Every function returns an explicit error instead of a silently wrong
// number. ErrInsufficientData distinguishes "not enough bars yet" from a
// genuine computation bug so callers can skip a cycle instead of trading on
// garbage.
package indicators

import (
	"errors"
	"fmt"
)

// ErrInsufficientData reports that a computation was asked for more history
// than the series holds.
var ErrInsufficientData = errors.New("insufficient data")

// Slope returns the discrete per-bar average rate of change over the last n
// values: (values[len-1] - values[len-n]) / (n-1).
//
// This is not a linear regression. The buy/sell thresholds are calibrated to
// this exact definition, so it must not be "improved".
func Slope(values []float64, n int) (float64, error) {
	if n < 2 {
		return 0, fmt.Errorf("slope: n must be at least 2, got %d", n)
	}
	if len(values) < n {
		return 0, fmt.Errorf("slope: need %d values, got %d: %w", n, len(values), ErrInsufficientData)
	}
	last := values[len(values)-1]
	first := values[len(values)-n]
	return (last - first) / float64(n-1), nil
}

// RSI computes the Relative Strength Index at the end of the series using a
// rolling mean of gains and losses over the last period deltas:
// 100 - 100/(1 + avgGain/avgLoss). Requires period+1 closes.
func RSI(closes []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("rsi: period must be positive, got %d", period)
	}
	if len(closes) < period+1 {
		return 0, fmt.Errorf("rsi: need %d closes, got %d: %w", period+1, len(closes), ErrInsufficientData)
	}

	var gain, loss float64
	for i := len(closes) - period; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// RSISeries computes the RSI at every index where enough history exists.
// The returned slice is aligned to the tail of closes: result[i] is the RSI
// at closes index period+i.
func RSISeries(closes []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("rsi: period must be positive, got %d", period)
	}
	if len(closes) < period+1 {
		return nil, fmt.Errorf("rsi: need %d closes, got %d: %w", period+1, len(closes), ErrInsufficientData)
	}

	out := make([]float64, 0, len(closes)-period)
	for end := period + 1; end <= len(closes); end++ {
		v, err := RSI(closes[:end], period)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// EMA computes the exponential moving average at the end of the series with
// smoothing 2/(period+1), seeded from the first value. There is no SMA
// warmup; the thresholds were tuned against this seeding.
func EMA(values []float64, period int) (float64, error) {
	series, err := EMASeries(values, period)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}

// EMASeries computes the EMA at every index. result[i] is the EMA of
// values[:i+1]; result[0] equals values[0].
func EMASeries(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("ema: period must be positive, got %d", period)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("ema: empty series: %w", ErrInsufficientData)
	}

	multiplier := 2.0 / float64(period+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = (values[i]-out[i-1])*multiplier + out[i-1]
	}
	return out, nil
}
