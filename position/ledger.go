// Package position tracks the single open position: average entry price,
// held quantity, entry time and realized P&L. The ledger is owned exclusively
// by the strategy state machine; nothing else writes it.
package position

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// residue below which a position is considered fully closed. Selling "all"
// of a float quantity can leave dust like 1e-12; clearing at this threshold
// keeps the invariant quantity==0 ⇔ !open exact.
const closeEpsilon = 1e-8

// qtyDecimals is the exchange's quantity step for USDT (4 decimal places).
const qtyDecimals = 4

var (
	// ErrValidation reports a non-positive quantity or price.
	ErrValidation = errors.New("invalid quantity or price")
	// ErrInsufficientPosition reports a sell larger than the held quantity.
	ErrInsufficientPosition = errors.New("sell exceeds held quantity")
)

// Position is the current holding. Invariant: Quantity==0 ⇔ !Open ⇔
// AveragePrice==0.
type Position struct {
	Quantity     float64
	AveragePrice float64
	EntryTime    time.Time
	Open         bool
}

// Trade records one completed round trip.
type Trade struct {
	EntryTime  time.Time
	EntryPrice float64
	ExitTime   time.Time
	ExitPrice  float64
	Quantity   float64
	PNL        float64
	PNLPct     float64
	Fee        float64
	Reason     string
}

// Ledger applies buy and sell fills to the position and accumulates a trade
// history. Not safe for concurrent use; the strategy loop is single-threaded.
type Ledger struct {
	pos          Position
	profitTarget float64 // fixed KRW offset added to the average price

	realizedPNL float64
	totalFees   float64
	trades      []Trade

	// round-trip bookkeeping
	entryFees float64
}

// NewLedger creates an empty ledger with the given profit-target offset in
// KRW (e.g. 4 means "sell at average + 4").
func NewLedger(profitTarget float64) *Ledger {
	return &Ledger{profitTarget: profitTarget}
}

// Position returns a copy of the current position.
func (l *Ledger) Position() Position { return l.pos }

// HasPosition reports whether any quantity is held.
func (l *Ledger) HasPosition() bool { return l.pos.Open }

// RealizedPNL is the cumulative realized profit across all round trips.
func (l *Ledger) RealizedPNL() float64 { return l.realizedPNL }

// Trades returns the completed round-trip history, oldest first.
func (l *Ledger) Trades() []Trade { return l.trades }

// ApplyBuy merges a buy fill into the position. The average price is the
// weighted mean of the existing cost basis (fees included) and the new fill.
// EntryTime is set on the first fill only; averaging fills keep it.
func (l *Ledger) ApplyBuy(qty, price, fee float64, at time.Time) error {
	if qty <= 0 || price <= 0 {
		return fmt.Errorf("apply buy qty=%v price=%v: %w", qty, price, ErrValidation)
	}

	cost := l.pos.AveragePrice*l.pos.Quantity + price*qty + fee
	newQty := l.pos.Quantity + qty

	if !l.pos.Open {
		l.pos.EntryTime = at
		l.entryFees = 0
	}
	l.pos.Quantity = newQty
	l.pos.AveragePrice = cost / newQty
	l.pos.Open = true

	l.entryFees += fee
	l.totalFees += fee
	return nil
}

// ApplySell applies a sell fill and returns the realized P&L for the sold
// quantity, net of the given fee. Selling the full quantity (within
// closeEpsilon) clears the position exactly and finalizes a Trade record.
func (l *Ledger) ApplySell(qty, price, fee float64, at time.Time, reason string) (float64, error) {
	if qty <= 0 || price <= 0 {
		return 0, fmt.Errorf("apply sell qty=%v price=%v: %w", qty, price, ErrValidation)
	}
	if qty > l.pos.Quantity+closeEpsilon {
		return 0, fmt.Errorf("apply sell qty=%v held=%v: %w", qty, l.pos.Quantity, ErrInsufficientPosition)
	}
	if qty > l.pos.Quantity {
		qty = l.pos.Quantity
	}

	pnl := (price-l.pos.AveragePrice)*qty - fee
	l.realizedPNL += pnl
	l.totalFees += fee

	entryPrice := l.pos.AveragePrice
	entryTime := l.pos.EntryTime

	l.pos.Quantity -= qty
	if l.pos.Quantity <= closeEpsilon {
		qty += l.pos.Quantity // fold residue into the recorded quantity
		l.pos = Position{}
	}

	pct := 0.0
	if entryPrice > 0 {
		pct = (price - entryPrice) / entryPrice * 100
	}
	l.trades = append(l.trades, Trade{
		EntryTime:  entryTime,
		EntryPrice: entryPrice,
		ExitTime:   at,
		ExitPrice:  price,
		Quantity:   qty,
		PNL:        pnl,
		PNLPct:     pct,
		Fee:        fee + l.entryFees,
		Reason:     reason,
	})
	if !l.pos.Open {
		l.entryFees = 0
	}

	return pnl, nil
}

// UnrealizedPNL marks the open quantity to the given price. Zero when flat.
func (l *Ledger) UnrealizedPNL(currentPrice float64) float64 {
	if !l.pos.Open {
		return 0
	}
	return (currentPrice - l.pos.AveragePrice) * l.pos.Quantity
}

// ProfitTargetPrice is the limit-sell price for the current position:
// average entry plus the fixed KRW offset.
func (l *Ledger) ProfitTargetPrice() float64 {
	if !l.pos.Open {
		return 0
	}
	return l.pos.AveragePrice + l.profitTarget
}

// Age returns how long the position has been held, zero when flat.
func (l *Ledger) Age(now time.Time) time.Duration {
	if !l.pos.Open {
		return 0
	}
	return now.Sub(l.pos.EntryTime)
}

// CeilQuantity rounds an order quantity up at the exchange's quantity step.
// Rounding up (not half-even) makes sure the full intended KRW amount is
// spent rather than leaving one step's worth behind.
func CeilQuantity(qty float64) float64 {
	d := decimal.NewFromFloat(qty)
	f, _ := d.RoundUp(qtyDecimals).Float64()
	return f
}
