package market

import "time"

// Candle represents OHLC (Open, High, Low, Close) candlestick data for one
// closed bar. Candles are immutable once created.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Series is an ordered sequence of closed candles, oldest first.
type Series []Candle

// Closes returns the close prices of the series in order.
func (s Series) Closes() []float64 {
	closes := make([]float64, len(s))
	for i, c := range s {
		closes[i] = c.Close
	}
	return closes
}

// Last returns the most recent candle. It panics on an empty series; callers
// are expected to check Len first.
func (s Series) Last() Candle {
	return s[len(s)-1]
}

func (s Series) Len() int { return len(s) }

// Tail returns the last n candles, or the whole series if it is shorter.
func (s Series) Tail(n int) Series {
	if n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}
