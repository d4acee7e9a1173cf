package backtest

import (
	"time"

	"github.com/rustyeddy/krwbot/journal"
	"github.com/rustyeddy/krwbot/market"
	"github.com/rustyeddy/krwbot/position"
)

// Result is the outcome of one replay.
type Result struct {
	Symbol string
	Start  time.Time
	End    time.Time
	Bars   int

	StartBalance float64
	EndBalance   float64
	NetPNL       float64
	ReturnPct    float64

	Trades      []position.Trade
	Wins        int
	Losses      int
	WinRate     float64
	TotalFees   float64
	ExitReasons map[string]int

	MaxDrawdownPct float64

	Equity []journal.EquitySnapshot
}

func buildResult(cfg Config, series market.Series, ledger *position.Ledger, equity []journal.EquitySnapshot) Result {
	trades := ledger.Trades()

	r := Result{
		Symbol:       cfg.Params.Symbol,
		Start:        series[0].Time,
		End:          series.Last().Time,
		Bars:         series.Len(),
		StartBalance: cfg.InitialBalance,
		NetPNL:       ledger.RealizedPNL(),
		Trades:       trades,
		ExitReasons:  make(map[string]int),
		Equity:       equity,
	}
	r.EndBalance = r.StartBalance + r.NetPNL
	if r.StartBalance > 0 {
		r.ReturnPct = r.NetPNL / r.StartBalance * 100
	}

	for _, t := range trades {
		if t.PNL > 0 {
			r.Wins++
		} else if t.PNL < 0 {
			r.Losses++
		}
		r.TotalFees += t.Fee
		r.ExitReasons[t.Reason]++
	}
	if len(trades) > 0 {
		r.WinRate = float64(r.Wins) / float64(len(trades))
	}
	r.MaxDrawdownPct = maxDrawdownPct(equity)
	return r
}

// maxDrawdownPct is the largest peak-to-trough equity decline in percent.
func maxDrawdownPct(equity []journal.EquitySnapshot) float64 {
	var peak, maxDD float64
	for _, e := range equity {
		if e.Equity > peak {
			peak = e.Equity
		}
		if peak > 0 {
			if dd := (peak - e.Equity) / peak * 100; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// Report converts the result into a journal run report.
func (r Result) Report(runID, variant, timeframe, dataset string) *journal.RunReport {
	return &journal.RunReport{
		RunID:        runID,
		Created:      time.Now(),
		Symbol:       r.Symbol,
		Variant:      variant,
		Timeframe:    timeframe,
		Dataset:      dataset,
		Start:        r.Start,
		End:          r.End,
		StartBalance: r.StartBalance,
		EndBalance:   r.EndBalance,
		Trades:       len(r.Trades),
		Wins:         r.Wins,
		Losses:       r.Losses,
		NetPNL:       r.NetPNL,
		ReturnPct:    r.ReturnPct,
		WinRate:      r.WinRate,
		MaxDDPct:     r.MaxDrawdownPct,
		TotalFees:    r.TotalFees,
		ExitReasons:  r.ExitReasons,
	}
}
