package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVJournal(t *testing.T) {
	dir := t.TempDir()
	tradesPath := filepath.Join(dir, "trades.csv")
	equityPath := filepath.Join(dir, "equity.csv")

	j, err := NewCSV(tradesPath, equityPath)
	require.NoError(t, err)

	exit := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordTrade(tradeFixture("t1", exit)))
	require.NoError(t, j.RecordEquity(EquitySnapshot{
		Time:    exit,
		Balance: 1_003_007.52,
		Equity:  1_003_007.52,
	}))
	require.NoError(t, j.Close())

	tf, err := os.Open(tradesPath)
	require.NoError(t, err)
	defer tf.Close()

	rows, err := csv.NewReader(tf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "trade_id", rows[0][0])
	assert.Equal(t, "t1", rows[1][0])
	assert.Equal(t, "USDT", rows[1][1])
	assert.Equal(t, "profit_target", rows[1][10])

	ef, err := os.Open(equityPath)
	require.NoError(t, err)
	defer ef.Close()

	erows, err := csv.NewReader(ef).ReadAll()
	require.NoError(t, err)
	require.Len(t, erows, 2)
	assert.Equal(t, "1003007.520000", erows[1][1])
}

func TestRunReportWritesOrg(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.org")

	r := &RunReport{
		RunID:        "01HTEST",
		Symbol:       "USDT",
		Variant:      "split_buy",
		Timeframe:    "1h",
		Dataset:      "usdt_krw_2024.csv",
		Start:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:          time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		StartBalance: 1_000_000,
		EndBalance:   1_042_000,
		Trades:       12,
		Wins:         9,
		Losses:       3,
		NetPNL:       42_000,
		ReturnPct:    4.2,
		WinRate:      0.75,
		MaxDDPct:     1.8,
		ExitReasons:  map[string]int{"profit_target": 9, "timeout": 3},
	}
	require.NoError(t, r.WriteOrg(path))

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	s := string(out)
	assert.Contains(t, s, ":RUN_ID:      01HTEST")
	assert.Contains(t, s, "split_buy USDT/KRW 1h")
	assert.Contains(t, s, ":WIN_RATE:    75.00")
	assert.Contains(t, s, "| profit_target | 9 |")
}
