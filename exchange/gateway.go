// Package exchange defines the gateway contract the trading core consumes
// and the error taxonomy every implementation maps into. The core never sees
// HTTP; it sees these types.
package exchange

import (
	"context"
	"time"

	"github.com/rustyeddy/krwbot/market"
)

// Side is the order direction.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Ticker is the latest traded price for a symbol.
type Ticker struct {
	Symbol string
	Last   float64
	Time   time.Time
}

// Orderbook carries the top of book only; the strategy buys at the best ask
// and never walks deeper.
type Orderbook struct {
	Symbol  string
	BestBid float64
	BestAsk float64
	Time    time.Time
}

// Balance is the available amount of one currency.
type Balance struct {
	Currency  string
	Available float64
}

// OrderAck is the exchange's acknowledgement of a new order. AvgFillPrice is
// only populated for market orders, which fill immediately.
type OrderAck struct {
	OrderID      string
	AvgFillPrice float64
}

// OrderState is a point-in-time view of a resting order.
type OrderState struct {
	OrderID   string
	Status    string // "live", "partially_filled", "filled", "cancelled"
	FilledQty float64
	AvgPrice  float64
}

// Exchange-side order status strings, normalized by every gateway.
const (
	StateLive            = "live"
	StatePartiallyFilled = "partially_filled"
	StateFilled          = "filled"
	StateCancelled       = "cancelled"
)

// Gateway is the full surface the core needs from an exchange. Live, paper
// and test implementations all satisfy it.
type Gateway interface {
	Ticker(ctx context.Context, symbol string) (Ticker, error)
	Orderbook(ctx context.Context, symbol string) (Orderbook, error)
	Candles(ctx context.Context, symbol, interval string, limit int) (market.Series, error)
	Balances(ctx context.Context) (map[string]Balance, error)

	PlaceLimitOrder(ctx context.Context, side Side, symbol string, price, qty float64) (OrderAck, error)
	PlaceMarketOrder(ctx context.Context, side Side, symbol string, qty float64) (OrderAck, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
	OrderStatus(ctx context.Context, orderID, symbol string) (OrderState, error)
}
