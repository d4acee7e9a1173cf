//go:build blackbox

package blackbox

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

func contains(s, sub string) bool { return strings.Contains(s, sub) }

// candle is one CSV row; High/Low default to Close when zero.
type candle struct {
	close float64
	high  float64
	low   float64
}

func writeCandlesCSV(t *testing.T, path string, candles []candle) {
	t.Helper()

	var b strings.Builder
	b.WriteString("time,open,high,low,close,volume\n")
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range candles {
		high, low := c.high, c.low
		if high == 0 {
			high = c.close
		}
		if low == 0 {
			low = c.close
		}
		fmt.Fprintf(&b, "%s,%.4f,%.4f,%.4f,%.4f,1000\n",
			t0.Add(time.Duration(i)*time.Hour).Format(time.RFC3339),
			c.close, high, low, c.close)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}
}

// profitCandles rises one KRW per bar with a single early dip, producing an
// entry signal at bar 28 (close 126), then spikes through the 130 target.
func profitCandles() []candle {
	candles := make([]candle, 0, 34)
	price := 100.0
	candles = append(candles, candle{close: price})
	for i := 1; i < 29; i++ {
		delta := 1.0
		if i == 14 {
			delta = -1
		}
		price += delta
		candles = append(candles, candle{close: price})
	}
	candles = append(candles,
		candle{close: 126.5},
		candle{close: 126, high: 131, low: 125.5},
		candle{close: 125.2},
		candle{close: 124.5},
		candle{close: 123.9},
	)
	return candles
}
