// Package journal persists completed trades and equity snapshots. The live
// bot and the backtests write through the same interface; SQLite is the
// durable backend, CSV the portable one.
package journal

import (
	"time"

	"github.com/rustyeddy/krwbot/pkg/id"
	"github.com/rustyeddy/krwbot/position"
)

type TradeRecord struct {
	TradeID    string
	Symbol     string
	Quantity   float64
	EntryPrice float64
	ExitPrice  float64
	EntryTime  time.Time
	ExitTime   time.Time
	PNL        float64
	PNLPct     float64
	Fee        float64
	Reason     string
}

type EquitySnapshot struct {
	Time          time.Time
	Balance       float64 // free KRW
	PositionQty   float64
	PositionValue float64 // position marked at the current price
	Equity        float64 // balance + position value
	UnrealizedPNL float64
}

type Journal interface {
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	Close() error
}

// FromPosition converts a ledger round trip into a journal record with a
// fresh trade ID.
func FromPosition(t position.Trade, symbol string) TradeRecord {
	return TradeRecord{
		TradeID:    id.New(),
		Symbol:     symbol,
		Quantity:   t.Quantity,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		EntryTime:  t.EntryTime,
		ExitTime:   t.ExitTime,
		PNL:        t.PNL,
		PNLPct:     t.PNLPct,
		Fee:        t.Fee,
		Reason:     t.Reason,
	}
}

// Nop discards everything; the live loop uses it when journaling is off.
type Nop struct{}

func (Nop) RecordTrade(TradeRecord) error     { return nil }
func (Nop) RecordEquity(EquitySnapshot) error { return nil }
func (Nop) Close() error                      { return nil }
