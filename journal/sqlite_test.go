package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tradeFixture(id string, exit time.Time) TradeRecord {
	return TradeRecord{
		TradeID:    id,
		Symbol:     "USDT",
		Quantity:   751.88,
		EntryPrice: 1330,
		ExitPrice:  1334,
		EntryTime:  exit.Add(-6 * time.Hour),
		ExitTime:   exit,
		PNL:        3007.52,
		PNLPct:     0.3008,
		Fee:        0,
		Reason:     "profit_target",
	}
}

func TestSQLiteTradeRoundTrip(t *testing.T) {
	j, err := NewSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	exit := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	rec := tradeFixture("trade-1", exit)
	require.NoError(t, j.RecordTrade(rec))

	got, err := j.GetTrade("trade-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Symbol, got.Symbol)
	assert.Equal(t, rec.Quantity, got.Quantity)
	assert.Equal(t, rec.PNL, got.PNL)
	assert.Equal(t, rec.Reason, got.Reason)
	assert.True(t, got.ExitTime.Equal(exit))

	_, err = j.GetTrade("missing")
	assert.Error(t, err)
}

func TestSQLiteListTradesClosedBetween(t *testing.T) {
	j, err := NewSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordTrade(tradeFixture("t1", day.Add(10*time.Hour))))
	require.NoError(t, j.RecordTrade(tradeFixture("t2", day.Add(20*time.Hour))))
	require.NoError(t, j.RecordTrade(tradeFixture("t3", day.Add(40*time.Hour)))) // next day

	got, err := j.ListTradesClosedBetween(day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].TradeID)
	assert.Equal(t, "t2", got[1].TradeID)
}

func TestSQLiteEquity(t *testing.T) {
	j, err := NewSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordEquity(EquitySnapshot{
		Time:          at,
		Balance:       500_000,
		PositionQty:   375.94,
		PositionValue: 500_000,
		Equity:        1_000_000,
		UnrealizedPNL: 1500,
	}))

	got, err := j.ListEquityBetween(at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1_000_000.0, got[0].Equity)
	assert.Equal(t, 1500.0, got[0].UnrealizedPNL)
}
