package strategy

import (
	"time"

	"github.com/rustyeddy/krwbot/indicators"
	"github.com/rustyeddy/krwbot/order"
	"github.com/rustyeddy/krwbot/position"
)

// Snapshot is a point-in-time view of the machine for status reporting. It
// is rebuilt after every step and safe to read from any goroutine.
type Snapshot struct {
	State    State
	Position position.Position

	ActiveOrders []order.Order

	// RecentTrades is the tail of the trade history; TotalTrades counts all
	// of it, so consumers can detect completions across snapshots.
	RecentTrades []position.Trade
	TotalTrades  int

	RealizedPNL float64
	Restarts    int
	LastError   string

	Indicators    indicators.Snapshot
	HasIndicators bool

	CycleStart time.Time
	UpdatedAt  time.Time
}

// recentTradeCount bounds how much trade history a snapshot carries.
const recentTradeCount = 10

// Snapshot returns the view built by the most recent step.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func (m *Machine) publish(ind indicators.Snapshot, ok bool) {
	trades := m.ledger.Trades()
	total := len(trades)
	if len(trades) > recentTradeCount {
		trades = trades[len(trades)-recentTradeCount:]
	}
	recent := make([]position.Trade, len(trades))
	copy(recent, trades)

	snap := Snapshot{
		State:         m.cc.state,
		Position:      m.ledger.Position(),
		ActiveOrders:  m.orders.Active(),
		RecentTrades:  recent,
		TotalTrades:   total,
		RealizedPNL:   m.ledger.RealizedPNL(),
		Restarts:      m.cc.restarts,
		LastError:     m.cc.lastError,
		Indicators:    ind,
		HasIndicators: ok,
		CycleStart:    m.cc.cycleStart,
		UpdatedAt:     m.now(),
	}

	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()
}
