package market

import (
	"math"
	"math/rand"
	"time"
)

// SyntheticConfig controls the generated random-walk series.
type SyntheticConfig struct {
	Bars       int
	BasePrice  float64       // e.g. 1330 for USDT/KRW
	Volatility float64       // per-bar standard deviation in price units
	Drift      float64       // per-bar mean price change
	Start      time.Time     // first bar open time
	Interval   time.Duration // bar width, typically time.Hour
	Seed       int64
}

// Synthetic generates a deterministic OHLCV random walk. The same config
// always yields the same series, so backtests over generated data are
// reproducible run to run.
func Synthetic(cfg SyntheticConfig) Series {
	if cfg.Bars <= 0 {
		return nil
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	series := make(Series, 0, cfg.Bars)

	price := cfg.BasePrice
	for i := 0; i < cfg.Bars; i++ {
		open := price
		change := cfg.Drift + rng.NormFloat64()*cfg.Volatility
		close := open + change

		high := math.Max(open, close) + math.Abs(rng.NormFloat64())*cfg.Volatility*0.5
		low := math.Min(open, close) - math.Abs(rng.NormFloat64())*cfg.Volatility*0.5

		series = append(series, Candle{
			Time:   cfg.Start.Add(time.Duration(i) * cfg.Interval),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  close,
			Volume: 1000 + rng.Float64()*9000,
		})
		price = close
	}
	return series
}

// Trending returns a series that ramps linearly from base by step per bar.
// Handy for engineering signal crossings in tests.
func Trending(bars int, base, step float64, start time.Time, interval time.Duration) Series {
	if interval == 0 {
		interval = time.Hour
	}
	series := make(Series, 0, bars)
	for i := 0; i < bars; i++ {
		px := base + float64(i)*step
		series = append(series, Candle{
			Time:   start.Add(time.Duration(i) * interval),
			Open:   px,
			High:   px + step/2,
			Low:    px - step/2,
			Close:  px,
			Volume: 1000,
		})
	}
	return series
}
