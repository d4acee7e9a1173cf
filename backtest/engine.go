// Package backtest replays historical candles through the strategy machine
// with simulated fills, producing the same trade ledger the live loop would.
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/krwbot/journal"
	"github.com/rustyeddy/krwbot/market"
	"github.com/rustyeddy/krwbot/order"
	"github.com/rustyeddy/krwbot/position"
	"github.com/rustyeddy/krwbot/strategy"
)

// DefaultInitialBalance is the starting KRW balance when none is configured.
const DefaultInitialBalance = 1_000_000

// DefaultSlippageRate is the adverse price adjustment on market fills, 1 bp.
const DefaultSlippageRate = 0.0001

// Config describes one backtest run.
type Config struct {
	Params         strategy.Params
	InitialBalance float64
	SlippageRate   float64
	Dataset        string

	// Journal receives trades and per-bar equity when set.
	Journal journal.Journal

	Log *logrus.Entry
}

// Engine drives the strategy machine bar by bar over a dataset.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}
	if cfg.InitialBalance == 0 {
		cfg.InitialBalance = DefaultInitialBalance
	}
	if cfg.InitialBalance < 0 {
		return nil, fmt.Errorf("backtest: negative initial balance %v", cfg.InitialBalance)
	}
	if cfg.SlippageRate == 0 {
		cfg.SlippageRate = DefaultSlippageRate
	}
	if cfg.Log == nil {
		lg := logrus.New()
		lg.SetLevel(logrus.WarnLevel)
		cfg.Log = logrus.NewEntry(lg)
	}
	if cfg.Journal == nil {
		cfg.Journal = journal.Nop{}
	}
	return &Engine{cfg: cfg}, nil
}

// Run replays the series. Replays are deterministic: the same series and
// config always produce the same Result.
func (e *Engine) Run(ctx context.Context, series market.Series) (Result, error) {
	if series.Len() == 0 {
		return Result{}, fmt.Errorf("backtest: empty series")
	}

	p := e.cfg.Params
	sim := NewSim(p.Symbol, series, e.cfg.InitialBalance, e.cfg.SlippageRate)
	ledger := position.NewLedger(p.ProfitTarget)

	// Virtual clock: frozen at the current bar's timestamp, with fill-wait
	// sleeps accumulating as an offset so AwaitFill deadlines still expire.
	barTime := series[0].Time
	var offset time.Duration
	now := func() time.Time { return barTime.Add(offset) }

	om := order.NewManager(sim, p.Symbol, e.cfg.Log)
	om.SetClock(now, func(ctx context.Context, d time.Duration) error {
		offset += d
		return nil
	})

	m, err := strategy.New(p, sim, om, ledger, e.cfg.Log)
	if err != nil {
		return Result{}, err
	}
	m.SetClock(now)

	equity := make([]journal.EquitySnapshot, 0, series.Len())
	recorded := 0

	for i := range series {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		sim.Advance(i)
		barTime = series[i].Time
		offset = 0

		if err := m.Step(ctx, series[:i+1].Tail(p.CandleLimit)); err != nil {
			// the machine is in its error state and will recover next bar
			e.cfg.Log.WithError(err).WithField("bar", i).Warn("step failed")
		}

		recorded = e.recordTrades(ledger, recorded)

		snap := equitySnapshot(ledger, e.cfg.InitialBalance, series[i])
		equity = append(equity, snap)
		if err := e.cfg.Journal.RecordEquity(snap); err != nil {
			return Result{}, fmt.Errorf("backtest: record equity: %w", err)
		}
	}

	if err := m.Liquidate(ctx, "backtest_end"); err != nil {
		return Result{}, fmt.Errorf("backtest: final liquidation: %w", err)
	}
	if n := e.recordTrades(ledger, recorded); n > recorded {
		equity = append(equity, equitySnapshot(ledger, e.cfg.InitialBalance, series.Last()))
	}

	return buildResult(e.cfg, series, ledger, equity), nil
}

func (e *Engine) recordTrades(ledger *position.Ledger, from int) int {
	trades := ledger.Trades()
	for _, tr := range trades[from:] {
		if err := e.cfg.Journal.RecordTrade(journal.FromPosition(tr, e.cfg.Params.Symbol)); err != nil {
			e.cfg.Log.WithError(err).Warn("record trade failed")
		}
	}
	return len(trades)
}

// equitySnapshot marks the account to the bar's close using ledger
// accounting: free cash is the initial balance plus realized P&L minus the
// open position's cost basis.
func equitySnapshot(ledger *position.Ledger, initial float64, bar market.Candle) journal.EquitySnapshot {
	pos := ledger.Position()
	posValue := pos.Quantity * bar.Close
	balance := initial + ledger.RealizedPNL() - pos.Quantity*pos.AveragePrice
	return journal.EquitySnapshot{
		Time:          bar.Time,
		Balance:       balance,
		PositionQty:   pos.Quantity,
		PositionValue: posValue,
		Equity:        balance + posValue,
		UnrealizedPNL: ledger.UnrealizedPNL(bar.Close),
	}
}
