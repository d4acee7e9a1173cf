// Package paper is the dry-run gateway. Market data is delegated to a real
// quote source; order placement, fills and balances are simulated in memory
// so a dry run can never touch real money.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/krwbot/exchange"
	"github.com/rustyeddy/krwbot/market"
	"github.com/rustyeddy/krwbot/pkg/id"
)

type simOrder struct {
	id        string
	side      exchange.Side
	symbol    string
	price     float64 // zero for market orders
	qty       float64
	filledQty float64
	avgPrice  float64
	status    string
}

// Gateway simulates the private half of the exchange contract. Fills are
// evaluated lazily against the live orderbook each time an order is queried,
// which matches how the polling loop observes the real exchange.
type Gateway struct {
	quotes exchange.Gateway

	mu       sync.Mutex
	balances map[string]float64
	orders   map[string]*simOrder
}

// New wraps quotes (used for ticker/orderbook/candles) with simulated order
// handling and the given starting balances, e.g. {"KRW": 1_000_000}.
func New(quotes exchange.Gateway, balances map[string]float64) *Gateway {
	b := make(map[string]float64, len(balances))
	for k, v := range balances {
		b[k] = v
	}
	return &Gateway{
		quotes:   quotes,
		balances: b,
		orders:   make(map[string]*simOrder),
	}
}

func (g *Gateway) Ticker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	return g.quotes.Ticker(ctx, symbol)
}

func (g *Gateway) Orderbook(ctx context.Context, symbol string) (exchange.Orderbook, error) {
	return g.quotes.Orderbook(ctx, symbol)
}

func (g *Gateway) Candles(ctx context.Context, symbol, interval string, limit int) (market.Series, error) {
	return g.quotes.Candles(ctx, symbol, interval, limit)
}

func (g *Gateway) Balances(ctx context.Context) (map[string]exchange.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]exchange.Balance, len(g.balances))
	for cur, avail := range g.balances {
		out[cur] = exchange.Balance{Currency: cur, Available: avail}
	}
	return out, nil
}

// PlaceLimitOrder books a resting simulated order. Funds are reserved up
// front the way the real exchange does.
func (g *Gateway) PlaceLimitOrder(ctx context.Context, side exchange.Side, symbol string, price, qty float64) (exchange.OrderAck, error) {
	if price <= 0 || qty <= 0 {
		return exchange.OrderAck{}, exchange.NewError(exchange.KindValidation, "place_limit_order",
			fmt.Errorf("price %v qty %v", price, qty))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.reserveLocked(side, symbol, price, qty); err != nil {
		return exchange.OrderAck{}, err
	}

	o := &simOrder{
		id:     id.New(),
		side:   side,
		symbol: symbol,
		price:  price,
		qty:    qty,
		status: exchange.StateLive,
	}
	g.orders[o.id] = o
	return exchange.OrderAck{OrderID: o.id}, nil
}

// PlaceMarketOrder fills immediately at the current best bid/ask.
func (g *Gateway) PlaceMarketOrder(ctx context.Context, side exchange.Side, symbol string, qty float64) (exchange.OrderAck, error) {
	if qty <= 0 {
		return exchange.OrderAck{}, exchange.NewError(exchange.KindValidation, "place_market_order",
			fmt.Errorf("qty %v", qty))
	}

	ob, err := g.quotes.Orderbook(ctx, symbol)
	if err != nil {
		return exchange.OrderAck{}, err
	}

	px := ob.BestAsk
	if side == exchange.Sell {
		px = ob.BestBid
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.reserveLocked(side, symbol, px, qty); err != nil {
		return exchange.OrderAck{}, err
	}
	g.settleLocked(side, symbol, px, qty)

	o := &simOrder{
		id:        id.New(),
		side:      side,
		symbol:    symbol,
		qty:       qty,
		filledQty: qty,
		avgPrice:  px,
		status:    exchange.StateFilled,
	}
	g.orders[o.id] = o
	return exchange.OrderAck{OrderID: o.id, AvgFillPrice: px}, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, orderID, symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[orderID]
	if !ok {
		return exchange.NewError(exchange.KindOrder, "cancel_order",
			fmt.Errorf("order %s not found", orderID))
	}
	switch o.status {
	case exchange.StateFilled, exchange.StateCancelled:
		return exchange.NewError(exchange.KindOrder, "cancel_order",
			fmt.Errorf("order %s already %s", orderID, o.status))
	}

	g.releaseLocked(o)
	o.status = exchange.StateCancelled
	return nil
}

// OrderStatus evaluates whether a resting limit order would have filled at
// the current top of book, then reports its state.
func (g *Gateway) OrderStatus(ctx context.Context, orderID, symbol string) (exchange.OrderState, error) {
	g.mu.Lock()
	o, ok := g.orders[orderID]
	g.mu.Unlock()
	if !ok {
		return exchange.OrderState{}, exchange.NewError(exchange.KindOrder, "order_status",
			fmt.Errorf("order %s not found", orderID))
	}

	if o.status == exchange.StateLive || o.status == exchange.StatePartiallyFilled {
		ob, err := g.quotes.Orderbook(ctx, symbol)
		if err != nil {
			return exchange.OrderState{}, err
		}

		g.mu.Lock()
		crossed := (o.side == exchange.Buy && ob.BestAsk <= o.price) ||
			(o.side == exchange.Sell && ob.BestBid >= o.price)
		if crossed && o.status != exchange.StateFilled {
			remaining := o.qty - o.filledQty
			o.filledQty = o.qty
			o.avgPrice = o.price
			o.status = exchange.StateFilled
			g.settleLocked(o.side, o.symbol, o.price, remaining)
		}
		g.mu.Unlock()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return exchange.OrderState{
		OrderID:   o.id,
		Status:    o.status,
		FilledQty: o.filledQty,
		AvgPrice:  o.avgPrice,
	}, nil
}

// ForceFill marks a live order partially or fully filled at its limit price.
// Test hook; the trading code never calls it.
func (g *Gateway) ForceFill(orderID string, qty float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[orderID]
	if !ok || o.status == exchange.StateCancelled || o.status == exchange.StateFilled {
		return
	}
	o.filledQty += qty
	o.avgPrice = o.price
	g.settleLocked(o.side, o.symbol, o.price, qty)
	if o.filledQty >= o.qty {
		o.filledQty = o.qty
		o.status = exchange.StateFilled
	} else {
		o.status = exchange.StatePartiallyFilled
	}
}

// reserveLocked debits the spending currency when an order is accepted.
func (g *Gateway) reserveLocked(side exchange.Side, symbol string, price, qty float64) error {
	if side == exchange.Buy {
		cost := price * qty
		if g.balances["KRW"] < cost {
			return exchange.NewError(exchange.KindInsufficientBalance, "place_order",
				fmt.Errorf("need %.0f KRW, have %.0f", cost, g.balances["KRW"]))
		}
		g.balances["KRW"] -= cost
		return nil
	}
	if g.balances[symbol] < qty {
		return exchange.NewError(exchange.KindInsufficientBalance, "place_order",
			fmt.Errorf("need %v %s, have %v", qty, symbol, g.balances[symbol]))
	}
	g.balances[symbol] -= qty
	return nil
}

// settleLocked credits the received currency on fill.
func (g *Gateway) settleLocked(side exchange.Side, symbol string, price, qty float64) {
	if side == exchange.Buy {
		g.balances[symbol] += qty
		return
	}
	g.balances["KRW"] += price * qty
}

// releaseLocked returns reserved funds for the unfilled remainder.
func (g *Gateway) releaseLocked(o *simOrder) {
	remaining := o.qty - o.filledQty
	if remaining <= 0 {
		return
	}
	if o.side == exchange.Buy {
		g.balances["KRW"] += o.price * remaining
		return
	}
	g.balances[o.symbol] += remaining
}

var _ exchange.Gateway = (*Gateway)(nil)

// StaticQuotes is a trivial quote source serving fixed data, used by tests
// and offline dry runs.
type StaticQuotes struct {
	mu     sync.Mutex
	Book   exchange.Orderbook
	Series market.Series
}

func (s *StaticQuotes) SetBook(bid, ask float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Book.BestBid, s.Book.BestAsk = bid, ask
	s.Book.Time = time.Now()
}

func (s *StaticQuotes) Ticker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return exchange.Ticker{Symbol: symbol, Last: s.Book.BestBid, Time: s.Book.Time}, nil
}

func (s *StaticQuotes) Orderbook(ctx context.Context, symbol string) (exchange.Orderbook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.Book
	b.Symbol = symbol
	return b, nil
}

func (s *StaticQuotes) Candles(ctx context.Context, symbol, interval string, limit int) (market.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit < len(s.Series) {
		return s.Series.Tail(limit), nil
	}
	return s.Series, nil
}

func (s *StaticQuotes) Balances(ctx context.Context) (map[string]exchange.Balance, error) {
	return nil, exchange.NewError(exchange.KindAuth, "balances", fmt.Errorf("quote source has no account"))
}

func (s *StaticQuotes) PlaceLimitOrder(ctx context.Context, side exchange.Side, symbol string, price, qty float64) (exchange.OrderAck, error) {
	return exchange.OrderAck{}, exchange.NewError(exchange.KindAuth, "place_limit_order", fmt.Errorf("quote source cannot trade"))
}

func (s *StaticQuotes) PlaceMarketOrder(ctx context.Context, side exchange.Side, symbol string, qty float64) (exchange.OrderAck, error) {
	return exchange.OrderAck{}, exchange.NewError(exchange.KindAuth, "place_market_order", fmt.Errorf("quote source cannot trade"))
}

func (s *StaticQuotes) CancelOrder(ctx context.Context, orderID, symbol string) error {
	return exchange.NewError(exchange.KindOrder, "cancel_order", fmt.Errorf("quote source has no orders"))
}

func (s *StaticQuotes) OrderStatus(ctx context.Context, orderID, symbol string) (exchange.OrderState, error) {
	return exchange.OrderState{}, exchange.NewError(exchange.KindOrder, "order_status", fmt.Errorf("quote source has no orders"))
}

var _ exchange.Gateway = (*StaticQuotes)(nil)
