// Package strategy runs the trading cycle as a state machine: wait for an
// entry signal, buy, rest a profit-target sell, liquidate on timeout or
// momentum loss, cool down, repeat. One Machine serves both the live loop
// and the backtests; only the bar source and the gateway differ.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/krwbot/exchange"
	"github.com/rustyeddy/krwbot/indicators"
	"github.com/rustyeddy/krwbot/market"
	"github.com/rustyeddy/krwbot/order"
	"github.com/rustyeddy/krwbot/position"
)

// Machine drives one symbol through the trading cycle. It is single-threaded:
// Step and Run must not be called concurrently. Snapshot is safe from any
// goroutine.
type Machine struct {
	params Params
	gw     exchange.Gateway
	orders *order.Manager
	ledger *position.Ledger
	log    *logrus.Entry

	cc  cycleContext
	now func() time.Time

	mu   sync.Mutex
	snap Snapshot
}

// New builds a machine from a validated parameter set.
func New(params Params, gw exchange.Gateway, orders *order.Manager, ledger *position.Ledger, log *logrus.Entry) (*Machine, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("strategy params: %w", err)
	}
	return &Machine{
		params: params,
		gw:     gw,
		orders: orders,
		ledger: ledger,
		log:    log,
		cc:     newCycleContext(),
		now:    time.Now,
	}, nil
}

// SetClock overrides the time source. The backtest driver pins it to the
// replayed bar's timestamp so ledger entries carry historical times.
func (m *Machine) SetClock(now func() time.Time) { m.now = now }

// State returns the machine's current state.
func (m *Machine) State() State { return m.cc.state }

// Ledger exposes the position ledger for reporting.
func (m *Machine) Ledger() *position.Ledger { return m.ledger }

// ExecuteCycle fetches the latest bars and runs one step. Candle fetch
// failures have already been retried inside the gateway, so one here is
// treated as unrecoverable and routes the machine to the error state.
func (m *Machine) ExecuteCycle(ctx context.Context) error {
	series, err := m.gw.Candles(ctx, m.params.Symbol, m.params.Interval, m.params.CandleLimit)
	if err != nil {
		err = fmt.Errorf("fetch candles: %w", err)
		m.toError(err)
		m.publish(indicators.Snapshot{}, false)
		return err
	}
	return m.Step(ctx, series)
}

// Step evaluates one cycle against the given bar window. A handler failure
// moves the machine to the error state and is also returned to the caller.
func (m *Machine) Step(ctx context.Context, series market.Series) error {
	snap, err := indicators.Compute(series, m.params.RSIPeriod, m.params.EMAPeriod)
	if err != nil {
		if errors.Is(err, indicators.ErrInsufficientData) {
			m.log.WithField("bars", series.Len()).Debug("indicator warmup, skipping cycle")
			m.publish(indicators.Snapshot{}, false)
			return nil
		}
		m.toError(err)
		m.publish(indicators.Snapshot{}, false)
		return err
	}

	var stepErr error
	switch m.cc.state {
	case StateWaitingForBuy:
		stepErr = m.stepWaitingForBuy(ctx, snap)
	case StatePositionHeld:
		stepErr = m.stepPositionHeld(ctx)
	case StateWaitingForSell:
		stepErr = m.stepWaitingForSell(ctx, snap)
	case StateCompleted:
		m.stepCompleted()
	case StateError:
		stepErr = m.stepError(ctx)
	}

	if stepErr != nil && m.cc.state != StateError {
		m.toError(stepErr)
	}
	m.publish(snap, true)
	return stepErr
}

// Run is the live loop: one cycle per tick until the context is cancelled,
// then a best-effort sweep of resting orders before returning.
func (m *Machine) Run(ctx context.Context) error {
	m.log.WithFields(logrus.Fields{
		"symbol":   m.params.Symbol,
		"interval": m.params.Interval,
		"tranches": len(m.params.Tranches),
	}).Info("strategy loop started")

	t := time.NewTicker(m.params.CycleInterval)
	defer t.Stop()

	for {
		if err := m.ExecuteCycle(ctx); err != nil {
			m.log.WithError(err).Error("cycle failed")
		}
		select {
		case <-ctx.Done():
			sweep, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			m.orders.CancelAll(sweep)
			cancel()
			m.log.Info("strategy loop stopped")
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (m *Machine) buySignal(snap indicators.Snapshot) bool {
	return snap.RSISlope3 > 0 && snap.RSISlope5 > 0 &&
		snap.EMASlope3 >= m.params.EMASlope3Min &&
		snap.EMASlope5 >= m.params.EMASlope5Min
}

func (m *Machine) stepWaitingForBuy(ctx context.Context, snap indicators.Snapshot) error {
	if !m.buySignal(snap) {
		return nil
	}

	ob, err := m.gw.Orderbook(ctx, m.params.Symbol)
	if err != nil {
		return fmt.Errorf("orderbook: %w", err)
	}
	bals, err := m.gw.Balances(ctx)
	if err != nil {
		return fmt.Errorf("balances: %w", err)
	}
	budget := bals["KRW"].Available
	if m.params.MaxOrderKRW > 0 && budget > m.params.MaxOrderKRW {
		budget = m.params.MaxOrderKRW
	}

	spend := budget * m.params.Tranches[0].Ratio
	if spend < m.params.MinOrderKRW {
		m.log.WithField("krw", spend).Warn("entry signal with balance below minimum order, skipping")
		return nil
	}

	price := ob.BestAsk
	qty := orderQty(spend, price)
	m.log.WithFields(logrus.Fields{
		"rsi_slope_3": snap.RSISlope3,
		"rsi_slope_5": snap.RSISlope5,
		"ema_slope_3": snap.EMASlope3,
		"ema_slope_5": snap.EMASlope5,
		"price":       price,
		"qty":         qty,
	}).Info("entry signal")

	o, err := m.orders.PlaceLimit(ctx, exchange.Buy, qty, price)
	if err != nil {
		return err
	}
	filled, filledQty, err := m.orders.AwaitFill(ctx, o.ID, m.params.FillWait, m.params.PollInterval)
	if err != nil {
		return err
	}
	if filledQty <= 0 {
		m.log.WithField("order_id", o.ID).Warn("entry order expired unfilled")
		return nil
	}

	rec, _ := m.orders.Refresh(ctx, o.ID)
	fillPrice := rec.AvgFillPrice
	if fillPrice <= 0 {
		fillPrice = price
	}
	fee := m.fee(order.TypeLimit, fillPrice*filledQty)
	if err := m.ledger.ApplyBuy(filledQty, fillPrice, fee, m.now()); err != nil {
		return err
	}

	m.cc.budget = budget
	m.cc.trancheIdx = 1
	m.cc.cycleStart = m.now()
	m.cc.state = StatePositionHeld
	m.log.WithFields(logrus.Fields{
		"qty":      filledQty,
		"price":    fillPrice,
		"complete": filled,
	}).Info("position opened")
	return nil
}

// stepPositionHeld rests the profit-target sell, plus the next entry tranche
// when the parameter set splits the buy.
func (m *Machine) stepPositionHeld(ctx context.Context) error {
	pos := m.ledger.Position()
	if !pos.Open {
		m.cc.reset(StateWaitingForBuy)
		return nil
	}

	target := m.ledger.ProfitTargetPrice()
	o, err := m.orders.PlaceLimit(ctx, exchange.Sell, pos.Quantity, target)
	if err != nil {
		return err
	}
	m.cc.sellOrderID = o.ID

	if m.cc.buyOrderID == "" && m.cc.trancheIdx < len(m.params.Tranches) {
		if err := m.placeTranche(ctx); err != nil {
			return err
		}
	}
	m.cc.state = StateWaitingForSell
	return nil
}

// placeTranche rests the next split-buy tranche below the running average.
func (m *Machine) placeTranche(ctx context.Context) error {
	tr := m.params.Tranches[m.cc.trancheIdx]
	spend := m.cc.budget * tr.Ratio
	if spend < m.params.MinOrderKRW {
		m.log.WithField("krw", spend).Warn("tranche below minimum order, skipping remaining tranches")
		m.cc.trancheIdx = len(m.params.Tranches)
		return nil
	}

	price := m.ledger.Position().AveragePrice + tr.PriceOffset
	qty := orderQty(spend, price)
	o, err := m.orders.PlaceLimit(ctx, exchange.Buy, qty, price)
	if err != nil {
		return err
	}
	m.cc.buyOrderID = o.ID
	m.log.WithFields(logrus.Fields{
		"tranche": m.cc.trancheIdx,
		"price":   price,
		"qty":     qty,
	}).Info("re-entry tranche placed")
	return nil
}

// stepWaitingForSell checks liquidation conditions in fixed priority order:
// profit-target fill, then hold timeout, then RSI overbought, then EMA
// decline. A filled re-entry tranche re-prices the sell at the new average.
func (m *Machine) stepWaitingForSell(ctx context.Context, snap indicators.Snapshot) error {
	so, err := m.orders.Refresh(ctx, m.cc.sellOrderID)
	if err != nil && !exchange.IsKind(err, exchange.KindOrder) {
		return err
	}

	switch so.Status {
	case order.StatusFilled:
		price := so.AvgFillPrice
		if price <= 0 {
			price = so.Price
		}
		fee := m.fee(order.TypeLimit, price*so.FilledQty)
		pnl, err := m.ledger.ApplySell(so.FilledQty, price, fee, m.now(), "profit_target")
		if err != nil {
			return err
		}
		m.dropTrancheOrder(ctx)
		m.complete("profit_target", pnl)
		return nil
	case order.StatusCancelled:
		// someone pulled the sell out from under us; book any partial fill
		// and re-place at the current average
		if so.FilledQty > 0 {
			price := so.AvgFillPrice
			if price <= 0 {
				price = so.Price
			}
			fee := m.fee(order.TypeLimit, price*so.FilledQty)
			if _, err := m.ledger.ApplySell(so.FilledQty, price, fee, m.now(), "profit_target"); err != nil {
				return err
			}
		}
		m.cc.sellOrderID = ""
		m.cc.state = StatePositionHeld
		return nil
	}

	if m.ledger.Age(m.now()) >= m.params.MaxHold {
		return m.liquidate(ctx, "timeout")
	}
	if snap.RSI > m.params.RSIOverbought {
		return m.liquidate(ctx, "rsi_overbought")
	}
	if snap.EMADeclining {
		return m.liquidate(ctx, "ema_declining")
	}

	if m.cc.buyOrderID != "" {
		bo, err := m.orders.Refresh(ctx, m.cc.buyOrderID)
		if err != nil && !exchange.IsKind(err, exchange.KindOrder) {
			return err
		}
		switch bo.Status {
		case order.StatusFilled:
			price := bo.AvgFillPrice
			if price <= 0 {
				price = bo.Price
			}
			fee := m.fee(order.TypeLimit, price*bo.FilledQty)
			if err := m.ledger.ApplyBuy(bo.FilledQty, price, fee, m.now()); err != nil {
				return err
			}
			m.cc.buyOrderID = ""
			m.cc.trancheIdx++
			if err := m.settleSell(ctx); err != nil {
				return err
			}
			m.cc.state = StatePositionHeld
			m.log.WithFields(logrus.Fields{
				"qty":   bo.FilledQty,
				"price": price,
				"avg":   m.ledger.Position().AveragePrice,
			}).Info("tranche filled, repricing sell")
		case order.StatusCancelled, order.StatusFailed:
			m.cc.buyOrderID = ""
		}
	}
	return nil
}

// liquidate exits the whole position at market: pull resting orders, book
// whatever the sell already filled, then market-sell the remainder.
func (m *Machine) liquidate(ctx context.Context, reason string) error {
	m.dropTrancheOrder(ctx)

	if err := m.settleSell(ctx); err != nil {
		return err
	}

	pos := m.ledger.Position()
	if !pos.Open {
		m.complete(reason, 0)
		return nil
	}

	o, err := m.orders.PlaceMarket(ctx, exchange.Sell, pos.Quantity)
	if err != nil {
		return err
	}
	price := o.AvgFillPrice
	if price <= 0 {
		ob, err := m.gw.Orderbook(ctx, m.params.Symbol)
		if err != nil {
			return fmt.Errorf("orderbook for liquidation mark: %w", err)
		}
		price = ob.BestBid
	}
	fee := m.fee(order.TypeMarket, price*o.FilledQty)
	pnl, err := m.ledger.ApplySell(o.FilledQty, price, fee, m.now(), reason)
	if err != nil {
		return err
	}
	m.complete(reason, pnl)
	return nil
}

// Liquidate force-exits any held position at market and sweeps resting
// orders. The backtest driver calls it when the dataset runs out.
func (m *Machine) Liquidate(ctx context.Context, reason string) error {
	if !m.ledger.HasPosition() {
		m.orders.CancelAll(ctx)
		return nil
	}
	return m.liquidate(ctx, reason)
}

// settleSell pulls the resting profit-target sell, booking whatever quantity
// it had already sold before the cancel landed.
func (m *Machine) settleSell(ctx context.Context) error {
	if m.cc.sellOrderID == "" {
		return nil
	}
	rec, err := m.orders.Refresh(ctx, m.cc.sellOrderID)
	if err != nil && !exchange.IsKind(err, exchange.KindOrder) {
		return err
	}
	m.orders.Cancel(ctx, m.cc.sellOrderID)
	if rec.FilledQty > 0 {
		price := rec.AvgFillPrice
		if price <= 0 {
			price = rec.Price
		}
		fee := m.fee(order.TypeLimit, price*rec.FilledQty)
		if _, err := m.ledger.ApplySell(rec.FilledQty, price, fee, m.now(), "profit_target"); err != nil {
			return err
		}
	}
	m.cc.sellOrderID = ""
	return nil
}

func (m *Machine) dropTrancheOrder(ctx context.Context) {
	if m.cc.buyOrderID != "" {
		m.orders.Cancel(ctx, m.cc.buyOrderID)
		m.cc.buyOrderID = ""
	}
}

func (m *Machine) complete(reason string, pnl float64) {
	m.log.WithFields(logrus.Fields{
		"reason":   reason,
		"pnl":      pnl,
		"realized": m.ledger.RealizedPNL(),
	}).Info("cycle completed")
	m.cc.reset(StateCompleted)
	m.cc.completedAt = m.now()
}

func (m *Machine) stepCompleted() {
	if m.now().Sub(m.cc.completedAt) >= m.params.Cooldown {
		m.cc.reset(StateWaitingForBuy)
	}
}

// stepError is the recovery path: sweep resting orders, liquidate any held
// position at market, reset. A failure here keeps the machine in the error
// state and recovery is retried on the next cycle.
func (m *Machine) stepError(ctx context.Context) error {
	m.orders.CancelAll(ctx)

	if pos := m.ledger.Position(); pos.Open {
		o, err := m.orders.PlaceMarket(ctx, exchange.Sell, pos.Quantity)
		if err != nil {
			m.cc.lastError = err.Error()
			return err
		}
		price := o.AvgFillPrice
		if price <= 0 {
			ob, err := m.gw.Orderbook(ctx, m.params.Symbol)
			if err != nil {
				m.cc.lastError = err.Error()
				return err
			}
			price = ob.BestBid
		}
		fee := m.fee(order.TypeMarket, price*o.FilledQty)
		if _, err := m.ledger.ApplySell(o.FilledQty, price, fee, m.now(), "error_liquidation"); err != nil {
			m.cc.lastError = err.Error()
			return err
		}
	}

	m.cc.restarts++
	m.cc.reset(StateWaitingForBuy)
	m.log.WithField("restarts", m.cc.restarts).Warn("recovered from error state")
	return nil
}

func (m *Machine) toError(err error) {
	m.log.WithError(err).WithField("state", m.cc.state).Error("entering error state")
	m.cc.lastError = err.Error()
	m.cc.state = StateError
}

// orderQty converts a KRW budget into a buy quantity at the exchange's
// quantity step. One step's notional is shaved off before rounding up so
// the rounded cost can never exceed the budget.
func orderQty(spendKRW, price float64) float64 {
	return position.CeilQuantity((spendKRW - price*0.0001) / price)
}

func (m *Machine) fee(t order.Type, notional float64) float64 {
	if t == order.TypeMarket {
		return notional * m.params.MarketFeeRate
	}
	return notional * m.params.LimitFeeRate
}
