package backtest

import (
	"context"
	"fmt"

	"github.com/rustyeddy/krwbot/exchange"
	"github.com/rustyeddy/krwbot/market"
)

// Sim replays a candle series as an exchange gateway. The top of book is
// pinned to the current bar's close; resting limit orders fill when the
// bar's range crosses their price, market orders fill at the close with
// adverse slippage. Limit fills execute at the limit price exactly, a
// deliberate simplification recorded with the fill model.
type Sim struct {
	symbol   string
	series   market.Series
	cursor   int
	slippage float64

	krw  float64 // total KRW, reserved included
	coin float64 // total base quantity, reserved included

	reservedKRW  float64
	reservedCoin float64

	nextID int
	orders map[string]*simOrder
}

type simOrder struct {
	id     string
	side   exchange.Side
	price  float64
	qty    float64
	filled float64
	avg    float64
	status string
}

// NewSim starts a replay over series with the given KRW balance. The cursor
// begins at the first bar.
func NewSim(symbol string, series market.Series, initialKRW, slippage float64) *Sim {
	return &Sim{
		symbol:   symbol,
		series:   series,
		slippage: slippage,
		krw:      initialKRW,
		orders:   make(map[string]*simOrder),
	}
}

func (s *Sim) bar() market.Candle { return s.series[s.cursor] }

// Advance moves the cursor to bar i and sweeps resting orders against the
// bar's range.
func (s *Sim) Advance(i int) {
	s.cursor = i
	bar := s.bar()
	for _, o := range s.orders {
		if o.status != exchange.StateLive {
			continue
		}
		s.tryFill(o, bar)
	}
}

func (s *Sim) tryFill(o *simOrder, bar market.Candle) {
	switch o.side {
	case exchange.Buy:
		if bar.Low <= o.price {
			s.reservedKRW -= o.price * o.qty
			s.krw -= o.price * o.qty
			s.coin += o.qty
			o.filled = o.qty
			o.avg = o.price
			o.status = exchange.StateFilled
		}
	case exchange.Sell:
		if bar.High >= o.price {
			s.reservedCoin -= o.qty
			s.coin -= o.qty
			s.krw += o.price * o.qty
			o.filled = o.qty
			o.avg = o.price
			o.status = exchange.StateFilled
		}
	}
}

func (s *Sim) Ticker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	bar := s.bar()
	return exchange.Ticker{Symbol: symbol, Last: bar.Close, Time: bar.Time}, nil
}

func (s *Sim) Orderbook(ctx context.Context, symbol string) (exchange.Orderbook, error) {
	bar := s.bar()
	return exchange.Orderbook{
		Symbol:  symbol,
		BestBid: bar.Close,
		BestAsk: bar.Close,
		Time:    bar.Time,
	}, nil
}

func (s *Sim) Candles(ctx context.Context, symbol, interval string, limit int) (market.Series, error) {
	return s.series[:s.cursor+1].Tail(limit), nil
}

func (s *Sim) Balances(ctx context.Context) (map[string]exchange.Balance, error) {
	return map[string]exchange.Balance{
		"KRW":    {Currency: "KRW", Available: s.krw - s.reservedKRW},
		s.symbol: {Currency: s.symbol, Available: s.coin - s.reservedCoin},
	}, nil
}

func (s *Sim) PlaceLimitOrder(ctx context.Context, side exchange.Side, symbol string, price, qty float64) (exchange.OrderAck, error) {
	if price <= 0 || qty <= 0 {
		return exchange.OrderAck{}, exchange.NewError(exchange.KindValidation, "place_limit_order",
			fmt.Errorf("price=%v qty=%v", price, qty))
	}

	switch side {
	case exchange.Buy:
		if cost := price * qty; cost > s.krw-s.reservedKRW {
			return exchange.OrderAck{}, exchange.NewError(exchange.KindInsufficientBalance, "place_limit_order",
				fmt.Errorf("need %.2f KRW, have %.2f", cost, s.krw-s.reservedKRW))
		}
		s.reservedKRW += price * qty
	case exchange.Sell:
		if qty > s.coin-s.reservedCoin {
			return exchange.OrderAck{}, exchange.NewError(exchange.KindInsufficientBalance, "place_limit_order",
				fmt.Errorf("need %v %s, have %v", qty, s.symbol, s.coin-s.reservedCoin))
		}
		s.reservedCoin += qty
	}

	s.nextID++
	o := &simOrder{
		id:     fmt.Sprintf("sim-%d", s.nextID),
		side:   side,
		price:  price,
		qty:    qty,
		status: exchange.StateLive,
	}
	s.orders[o.id] = o

	s.tryFill(o, s.bar())
	return exchange.OrderAck{OrderID: o.id}, nil
}

func (s *Sim) PlaceMarketOrder(ctx context.Context, side exchange.Side, symbol string, qty float64) (exchange.OrderAck, error) {
	if qty <= 0 {
		return exchange.OrderAck{}, exchange.NewError(exchange.KindValidation, "place_market_order",
			fmt.Errorf("qty=%v", qty))
	}

	bar := s.bar()
	s.nextID++
	o := &simOrder{
		id:     fmt.Sprintf("sim-%d", s.nextID),
		side:   side,
		qty:    qty,
		status: exchange.StateFilled,
		filled: qty,
	}

	switch side {
	case exchange.Buy:
		o.avg = bar.Close * (1 + s.slippage)
		cost := o.avg * qty
		if cost > s.krw-s.reservedKRW {
			return exchange.OrderAck{}, exchange.NewError(exchange.KindInsufficientBalance, "place_market_order",
				fmt.Errorf("need %.2f KRW, have %.2f", cost, s.krw-s.reservedKRW))
		}
		s.krw -= cost
		s.coin += qty
	case exchange.Sell:
		if qty > s.coin-s.reservedCoin {
			return exchange.OrderAck{}, exchange.NewError(exchange.KindInsufficientBalance, "place_market_order",
				fmt.Errorf("need %v %s, have %v", qty, s.symbol, s.coin-s.reservedCoin))
		}
		o.avg = bar.Close * (1 - s.slippage)
		s.coin -= qty
		s.krw += o.avg * qty
	}

	s.orders[o.id] = o
	return exchange.OrderAck{OrderID: o.id, AvgFillPrice: o.avg}, nil
}

func (s *Sim) CancelOrder(ctx context.Context, orderID, symbol string) error {
	o, ok := s.orders[orderID]
	if !ok {
		return exchange.NewError(exchange.KindOrder, "cancel_order", fmt.Errorf("unknown order %s", orderID))
	}
	if o.status != exchange.StateLive {
		return exchange.NewError(exchange.KindOrder, "cancel_order", fmt.Errorf("order %s is %s", orderID, o.status))
	}

	switch o.side {
	case exchange.Buy:
		s.reservedKRW -= o.price * o.qty
	case exchange.Sell:
		s.reservedCoin -= o.qty
	}
	o.status = exchange.StateCancelled
	return nil
}

func (s *Sim) OrderStatus(ctx context.Context, orderID, symbol string) (exchange.OrderState, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return exchange.OrderState{}, exchange.NewError(exchange.KindOrder, "order_status", fmt.Errorf("unknown order %s", orderID))
	}
	return exchange.OrderState{
		OrderID:   o.id,
		Status:    o.status,
		FilledQty: o.filled,
		AvgPrice:  o.avg,
	}, nil
}
