package market

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ulikunitz/xz"
)

// LoadCSV reads an OHLCV series from a CSV file with the columns
// time,open,high,low,close,volume. Timestamps are RFC 3339 or unix seconds.
// Files ending in .xz are decompressed transparently.
func LoadCSV(path string) (Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".xz") {
		xr, err := xz.NewReader(bufio.NewReader(f))
		if err != nil {
			return nil, fmt.Errorf("open xz stream %s: %w", path, err)
		}
		r = xr
	}

	return ReadCSV(r)
}

// ReadCSV parses candle rows from r. A header row starting with "time" is
// skipped; blank lines are ignored. Rows must be in ascending time order.
func ReadCSV(r io.Reader) (Series, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var series Series
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(strings.ToLower(text), "time") {
			continue
		}

		c, err := parseCandleRow(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if n := len(series); n > 0 && !c.Time.After(series[n-1].Time) {
			return nil, fmt.Errorf("line %d: candle time %s not after previous %s",
				line, c.Time, series[n-1].Time)
		}
		series = append(series, c)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("no candles found")
	}
	return series, nil
}

func parseCandleRow(text string) (Candle, error) {
	parts := strings.Split(text, ",")
	if len(parts) < 5 {
		return Candle{}, fmt.Errorf("expected at least 5 fields, got %d", len(parts))
	}

	t, err := parseTime(strings.TrimSpace(parts[0]))
	if err != nil {
		return Candle{}, err
	}

	vals := make([]float64, 0, 5)
	for _, p := range parts[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Candle{}, fmt.Errorf("parse %q: %w", p, err)
		}
		vals = append(vals, v)
	}

	c := Candle{
		Time:  t,
		Open:  vals[0],
		High:  vals[1],
		Low:   vals[2],
		Close: vals[3],
	}
	if len(vals) > 4 {
		c.Volume = vals[4]
	}
	return c, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
