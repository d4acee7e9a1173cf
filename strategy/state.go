package strategy

import "time"

// State names a node of the trading cycle.
type State string

const (
	// StateWaitingForBuy evaluates entry conditions on each new bar.
	StateWaitingForBuy State = "waiting_for_buy"

	// StatePositionHeld holds a filled position with no resting sell yet.
	StatePositionHeld State = "position_held"

	// StateWaitingForSell has a profit-target sell resting on the book.
	StateWaitingForSell State = "waiting_for_sell"

	// StateCompleted sits out the cooldown after a closed round trip.
	StateCompleted State = "completed"

	// StateError liquidates and resets after an unrecoverable failure.
	StateError State = "error"
)

// cycleContext is the mutable per-cycle bookkeeping the machine carries
// between steps. It is reset when a round trip completes or errors out.
type cycleContext struct {
	state State

	buyOrderID  string // resting tranche buy, empty when none
	sellOrderID string // resting profit-target sell, empty when none

	trancheIdx  int     // next tranche to place
	budget      float64 // KRW balance observed at cycle entry; tranche ratios apply to this
	cycleStart  time.Time
	completedAt time.Time
	lastError   string

	restarts int
}

func newCycleContext() cycleContext {
	return cycleContext{state: StateWaitingForBuy}
}

// reset clears cycle-scoped fields while keeping the restart counter.
func (c *cycleContext) reset(state State) {
	restarts := c.restarts
	*c = cycleContext{state: state, restarts: restarts}
}
