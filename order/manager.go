package order

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/krwbot/exchange"
)

// DefaultMaxWait bounds how long capital stays locked in a partially filled
// order before the remainder is cancelled. Ten minutes is a deliberate
// policy value, not a tuning knob.
const DefaultMaxWait = 10 * time.Minute

// DefaultPollInterval is how often fill status is polled while waiting.
const DefaultPollInterval = 5 * time.Second

// Manager submits orders through a Gateway and tracks them until they reach
// a terminal status. It never retries a failed placement; retry policy for
// transient faults lives inside the gateway.
type Manager struct {
	gw     exchange.Gateway
	symbol string
	log    *logrus.Entry

	active  map[string]*Order
	history []Order

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager creates a manager for one symbol.
func NewManager(gw exchange.Gateway, symbol string, log *logrus.Entry) *Manager {
	return &Manager{
		gw:     gw,
		symbol: symbol,
		log:    log,
		active: make(map[string]*Order),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// SetClock overrides the time source and sleeper, used by tests to run the
// wait loop without real delays.
func (m *Manager) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	m.now = now
	m.sleep = sleep
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PlaceLimit submits a limit order. On gateway failure the returned order
// carries StatusFailed and the error is surfaced to the caller untouched.
func (m *Manager) PlaceLimit(ctx context.Context, side exchange.Side, qty, price float64) (Order, error) {
	o := &Order{
		Symbol:    m.symbol,
		Side:      side,
		Type:      TypeLimit,
		Quantity:  qty,
		Price:     price,
		Status:    StatusPending,
		CreatedAt: m.now(),
	}

	ack, err := m.gw.PlaceLimitOrder(ctx, side, m.symbol, price, qty)
	if err != nil {
		o.Status = StatusFailed
		o.Err = err.Error()
		o.UpdatedAt = m.now()
		m.history = append(m.history, *o)
		return *o, fmt.Errorf("place limit %s %v @ %v: %w", side, qty, price, err)
	}

	o.ID = ack.OrderID
	o.Status = StatusSubmitted
	o.UpdatedAt = m.now()
	m.active[o.ID] = o

	m.log.WithFields(logrus.Fields{
		"order_id": o.ID,
		"side":     side,
		"qty":      qty,
		"price":    price,
	}).Info("limit order placed")
	return *o, nil
}

// PlaceMarket submits a market order. Market orders fill immediately, so on
// success the returned order is already terminal.
func (m *Manager) PlaceMarket(ctx context.Context, side exchange.Side, qty float64) (Order, error) {
	o := &Order{
		Symbol:    m.symbol,
		Side:      side,
		Type:      TypeMarket,
		Quantity:  qty,
		Status:    StatusPending,
		CreatedAt: m.now(),
	}

	ack, err := m.gw.PlaceMarketOrder(ctx, side, m.symbol, qty)
	if err != nil {
		o.Status = StatusFailed
		o.Err = err.Error()
		o.UpdatedAt = m.now()
		m.history = append(m.history, *o)
		return *o, fmt.Errorf("place market %s %v: %w", side, qty, err)
	}

	o.ID = ack.OrderID
	o.Status = StatusFilled
	o.FilledQty = qty
	o.AvgFillPrice = ack.AvgFillPrice
	o.UpdatedAt = m.now()
	m.history = append(m.history, *o)

	m.log.WithFields(logrus.Fields{
		"order_id": o.ID,
		"side":     side,
		"qty":      qty,
		"price":    ack.AvgFillPrice,
	}).Info("market order filled")
	return *o, nil
}

// Refresh queries the gateway for the order's current state and folds it
// into the tracked record. Terminal orders move to history.
func (m *Manager) Refresh(ctx context.Context, orderID string) (Order, error) {
	o, ok := m.active[orderID]
	if !ok {
		for i := len(m.history) - 1; i >= 0; i-- {
			if m.history[i].ID == orderID {
				return m.history[i], nil
			}
		}
		return Order{}, fmt.Errorf("refresh: unknown order %s", orderID)
	}

	st, err := m.gw.OrderStatus(ctx, orderID, m.symbol)
	if err != nil {
		return *o, fmt.Errorf("refresh %s: %w", orderID, err)
	}

	o.FilledQty = st.FilledQty
	if st.AvgPrice > 0 {
		o.AvgFillPrice = st.AvgPrice
	}
	switch st.Status {
	case exchange.StateFilled:
		o.Status = StatusFilled
	case exchange.StateCancelled:
		o.Status = StatusCancelled
	case exchange.StatePartiallyFilled:
		o.Status = StatusPartiallyFilled
	default:
		// still live; keep submitted/partially_filled as observed
		if o.FilledQty > 0 {
			o.Status = StatusPartiallyFilled
		}
	}
	o.UpdatedAt = m.now()

	if o.Status.Terminal() {
		m.retire(orderID)
	}
	return *o, nil
}

// AwaitFill polls orderID every pollInterval until it fills, is cancelled
// externally, or maxWait elapses. On timeout the unfilled remainder is
// cancelled. The bool reports complete fill; the float64 is the quantity
// filled so far, which the caller must apply to the ledger either way.
func (m *Manager) AwaitFill(ctx context.Context, orderID string, maxWait, pollInterval time.Duration) (bool, float64, error) {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	deadline := m.now().Add(maxWait)
	for {
		o, err := m.Refresh(ctx, orderID)
		if err != nil {
			// A race (order already done and pruned exchange-side) is
			// resolved by the next refresh; anything else aborts the wait.
			if !exchange.IsKind(err, exchange.KindOrder) {
				return false, o.FilledQty, err
			}
		}

		switch o.Status {
		case StatusFilled:
			return true, o.FilledQty, nil
		case StatusCancelled:
			m.log.WithField("order_id", orderID).Warn("order cancelled externally")
			return false, o.FilledQty, nil
		case StatusFailed:
			return false, o.FilledQty, fmt.Errorf("await fill: order %s failed: %s", orderID, o.Err)
		}

		if !m.now().Before(deadline) {
			m.log.WithFields(logrus.Fields{
				"order_id":   orderID,
				"filled_qty": o.FilledQty,
				"max_wait":   maxWait,
			}).Warn("fill wait timed out, cancelling remainder")
			m.Cancel(ctx, orderID)
			return false, o.FilledQty, nil
		}

		if err := m.sleep(ctx, pollInterval); err != nil {
			return false, o.FilledQty, err
		}
	}
}

// Cancel is best-effort: the order may fill concurrently with the cancel
// request, so failures are logged and swallowed rather than raised.
func (m *Manager) Cancel(ctx context.Context, orderID string) {
	if err := m.gw.CancelOrder(ctx, orderID, m.symbol); err != nil {
		m.log.WithField("order_id", orderID).WithError(err).Warn("cancel failed")
	}

	if o, ok := m.active[orderID]; ok {
		o.Status = StatusCancelled
		o.UpdatedAt = m.now()
		m.retire(orderID)
	}
}

// CancelAll sweeps every active order, used by error recovery and shutdown.
func (m *Manager) CancelAll(ctx context.Context) {
	for id := range m.active {
		m.Cancel(ctx, id)
	}
}

// Active returns copies of the currently tracked non-terminal orders.
func (m *Manager) Active() []Order {
	out := make([]Order, 0, len(m.active))
	for _, o := range m.active {
		out = append(out, *o)
	}
	return out
}

// History returns copies of terminal orders, oldest first.
func (m *Manager) History() []Order {
	out := make([]Order, len(m.history))
	copy(out, m.history)
	return out
}

func (m *Manager) retire(orderID string) {
	if o, ok := m.active[orderID]; ok {
		m.history = append(m.history, *o)
		delete(m.active, orderID)
	}
}
