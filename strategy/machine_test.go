package strategy

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/krwbot/exchange"
	"github.com/rustyeddy/krwbot/market"
	"github.com/rustyeddy/krwbot/order"
	"github.com/rustyeddy/krwbot/position"
)

type placedOrder struct {
	id    string
	side  exchange.Side
	typ   order.Type
	price float64
	qty   float64
}

// fakeGW scripts order statuses per order ID. Orders without a script poll
// as live and unfilled; a script's last state repeats once reached.
type fakeGW struct {
	ask, bid    float64
	krw         float64
	marketPrice float64

	nextID    int
	placed    []placedOrder
	cancelled []string
	statuses  map[string][]exchange.OrderState
}

func newFakeGW() *fakeGW {
	return &fakeGW{
		ask:         1000,
		bid:         999,
		krw:         1_000_000,
		marketPrice: 999,
		statuses:    make(map[string][]exchange.OrderState),
	}
}

func (f *fakeGW) script(id string, states ...exchange.OrderState) {
	f.statuses[id] = states
}

func (f *fakeGW) Ticker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	return exchange.Ticker{Symbol: symbol, Last: f.bid}, nil
}

func (f *fakeGW) Orderbook(ctx context.Context, symbol string) (exchange.Orderbook, error) {
	return exchange.Orderbook{Symbol: symbol, BestBid: f.bid, BestAsk: f.ask}, nil
}

func (f *fakeGW) Candles(ctx context.Context, symbol, interval string, limit int) (market.Series, error) {
	return nil, nil
}

func (f *fakeGW) Balances(ctx context.Context) (map[string]exchange.Balance, error) {
	return map[string]exchange.Balance{
		"KRW":  {Currency: "KRW", Available: f.krw},
		"USDT": {Currency: "USDT", Available: 0},
	}, nil
}

func (f *fakeGW) PlaceLimitOrder(ctx context.Context, side exchange.Side, symbol string, price, qty float64) (exchange.OrderAck, error) {
	f.nextID++
	id := fmt.Sprintf("o%d", f.nextID)
	f.placed = append(f.placed, placedOrder{id: id, side: side, typ: order.TypeLimit, price: price, qty: qty})
	return exchange.OrderAck{OrderID: id}, nil
}

func (f *fakeGW) PlaceMarketOrder(ctx context.Context, side exchange.Side, symbol string, qty float64) (exchange.OrderAck, error) {
	f.nextID++
	id := fmt.Sprintf("o%d", f.nextID)
	f.placed = append(f.placed, placedOrder{id: id, side: side, typ: order.TypeMarket, qty: qty})
	return exchange.OrderAck{OrderID: id, AvgFillPrice: f.marketPrice}, nil
}

func (f *fakeGW) CancelOrder(ctx context.Context, orderID, symbol string) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeGW) OrderStatus(ctx context.Context, orderID, symbol string) (exchange.OrderState, error) {
	q := f.statuses[orderID]
	if len(q) == 0 {
		return exchange.OrderState{OrderID: orderID, Status: exchange.StateLive}, nil
	}
	st := q[0]
	if len(q) > 1 {
		f.statuses[orderID] = q[1:]
	}
	return st, nil
}

func testMachine(t *testing.T, p Params, gw *fakeGW) (*Machine, *time.Time) {
	t.Helper()

	now := new(time.Time)
	*now = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	lg := logrus.New()
	lg.SetOutput(io.Discard)
	log := logrus.NewEntry(lg)

	om := order.NewManager(gw, p.Symbol, log)
	om.SetClock(
		func() time.Time { return *now },
		func(ctx context.Context, d time.Duration) error {
			*now = now.Add(d)
			return nil
		},
	)

	m, err := New(p, gw, om, position.NewLedger(p.ProfitTarget), log)
	require.NoError(t, err)
	m.SetClock(func() time.Time { return *now })
	return m, now
}

func seriesFromCloses(closes []float64) market.Series {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s := make(market.Series, len(closes))
	for i, c := range closes {
		s[i] = market.Candle{
			Time:  t0.Add(time.Duration(i) * time.Hour),
			Open:  c, High: c, Low: c, Close: c,
			Volume: 1,
		}
	}
	return s
}

// entrySeries rises one KRW per bar with a single one-KRW dip early enough
// that the dip has rolled out of the RSI window by the last two bars. The
// RSI therefore steps up to 100 at the tail and both RSI slopes are
// positive, while the steady climb keeps the EMA slopes near 0.9.
func entrySeries() market.Series {
	closes := make([]float64, 30)
	closes[0] = 100
	for i := 1; i < len(closes); i++ {
		delta := 1.0
		if i == 14 {
			delta = -1
		}
		closes[i] = closes[i-1] + delta
	}
	return seriesFromCloses(closes)
}

// flatSeries pins the RSI at 100 with zero slopes, so no entry triggers.
func flatSeries() market.Series {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 1000
	}
	return seriesFromCloses(closes)
}

// neutralSeries falls at a decelerating rate. All-loss bars pin the RSI at
// 0 with zero slopes, so no entry triggers, and the easing decline makes
// the EMA slope windows increase, so the decline rule stays off too.
func neutralSeries() market.Series {
	closes := make([]float64, 30)
	closes[0] = 1000
	for i := 1; i < len(closes); i++ {
		closes[i] = closes[i-1] - 0.2*float64(len(closes)-i)
	}
	return seriesFromCloses(closes)
}

// decliningSeries falls at an accelerating rate so consecutive EMA slope
// windows are strictly decreasing, with RSI pinned at 0.
func decliningSeries() market.Series {
	closes := make([]float64, 30)
	closes[0] = 1000
	for i := 1; i < len(closes); i++ {
		closes[i] = closes[i-1] - (1 + 0.2*float64(i))
	}
	return seriesFromCloses(closes)
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())
	require.NoError(t, SplitBuyParams().Validate())

	p := DefaultParams()
	p.Symbol = ""
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.Tranches = []TrancheSpec{{Ratio: 0.6}, {Ratio: 0.6}}
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.CandleLimit = 10
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.ProfitTarget = 0
	assert.Error(t, p.Validate())
}

func TestNoEntryWithoutSignal(t *testing.T) {
	gw := newFakeGW()
	m, _ := testMachine(t, DefaultParams(), gw)

	require.NoError(t, m.Step(context.Background(), flatSeries()))

	assert.Equal(t, StateWaitingForBuy, m.State())
	assert.Empty(t, gw.placed)
	assert.False(t, m.Ledger().HasPosition())
}

func TestEntrySignalOpensPosition(t *testing.T) {
	gw := newFakeGW()
	m, _ := testMachine(t, DefaultParams(), gw)

	gw.script("o1", exchange.OrderState{OrderID: "o1", Status: exchange.StateFilled, FilledQty: 1000, AvgPrice: 1000})

	require.NoError(t, m.Step(context.Background(), entrySeries()))

	require.Len(t, gw.placed, 1)
	assert.Equal(t, exchange.Buy, gw.placed[0].side)
	assert.Equal(t, 1000.0, gw.placed[0].price) // best ask
	// 1,000,000 KRW at 1000, rounded so the cost stays inside the balance
	assert.InDelta(t, 999.9999, gw.placed[0].qty, 1e-6)
	assert.LessOrEqual(t, gw.placed[0].qty*gw.placed[0].price, 1_000_000.0)

	assert.Equal(t, StatePositionHeld, m.State())
	pos := m.Ledger().Position()
	assert.True(t, pos.Open)
	assert.Equal(t, 1000.0, pos.Quantity)
	assert.Equal(t, 1000.0, pos.AveragePrice) // limit orders pay no fee

	snap := m.Snapshot()
	assert.Equal(t, StatePositionHeld, snap.State)
	assert.True(t, snap.HasIndicators)
	assert.Greater(t, snap.Indicators.RSISlope3, 0.0)
}

func TestUnfilledEntryStaysWaiting(t *testing.T) {
	gw := newFakeGW()
	m, now := testMachine(t, DefaultParams(), gw)
	// no script: the buy polls live forever and times out unfilled

	start := *now
	require.NoError(t, m.Step(context.Background(), entrySeries()))

	assert.Equal(t, StateWaitingForBuy, m.State())
	assert.False(t, m.Ledger().HasPosition())
	assert.Contains(t, gw.cancelled, "o1")
	assert.GreaterOrEqual(t, now.Sub(start), 10*time.Minute)
}

func TestProfitTargetRoundTrip(t *testing.T) {
	gw := newFakeGW()
	m, now := testMachine(t, DefaultParams(), gw)
	ctx := context.Background()

	gw.script("o1", exchange.OrderState{OrderID: "o1", Status: exchange.StateFilled, FilledQty: 1000, AvgPrice: 1000})
	require.NoError(t, m.Step(ctx, entrySeries()))
	require.Equal(t, StatePositionHeld, m.State())

	// rests the sell at average + 4
	require.NoError(t, m.Step(ctx, neutralSeries()))
	require.Equal(t, StateWaitingForSell, m.State())
	require.Len(t, gw.placed, 2)
	assert.Equal(t, exchange.Sell, gw.placed[1].side)
	assert.Equal(t, 1004.0, gw.placed[1].price)
	assert.Equal(t, 1000.0, gw.placed[1].qty)

	// sell fills at target
	gw.script("o2", exchange.OrderState{OrderID: "o2", Status: exchange.StateFilled, FilledQty: 1000, AvgPrice: 1004})
	require.NoError(t, m.Step(ctx, neutralSeries()))

	assert.Equal(t, StateCompleted, m.State())
	assert.False(t, m.Ledger().HasPosition())
	trades := m.Ledger().Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "profit_target", trades[0].Reason)
	assert.InDelta(t, 4000.0, trades[0].PNL, 1e-9)

	// cooldown holds, then releases
	require.NoError(t, m.Step(ctx, neutralSeries()))
	assert.Equal(t, StateCompleted, m.State())

	*now = now.Add(time.Hour)
	require.NoError(t, m.Step(ctx, neutralSeries()))
	assert.Equal(t, StateWaitingForBuy, m.State())
}

func TestHoldTimeoutLiquidatesAtMarket(t *testing.T) {
	gw := newFakeGW()
	m, now := testMachine(t, DefaultParams(), gw)
	ctx := context.Background()

	gw.script("o1", exchange.OrderState{OrderID: "o1", Status: exchange.StateFilled, FilledQty: 1000, AvgPrice: 1000})
	require.NoError(t, m.Step(ctx, entrySeries()))
	require.NoError(t, m.Step(ctx, neutralSeries()))
	require.Equal(t, StateWaitingForSell, m.State())

	*now = now.Add(25 * time.Hour)
	gw.marketPrice = 995

	// the timeout outranks the RSI check even with the flat series' RSI=100
	require.NoError(t, m.Step(ctx, flatSeries()))

	assert.Equal(t, StateCompleted, m.State())
	assert.False(t, m.Ledger().HasPosition())
	assert.Contains(t, gw.cancelled, "o2")

	trades := m.Ledger().Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "timeout", trades[0].Reason)
	// (995-1000)*1000 minus the 2 bps market fee on 995,000 KRW
	assert.InDelta(t, -5199.0, trades[0].PNL, 1e-6)
}

func TestRSIOverboughtLiquidates(t *testing.T) {
	gw := newFakeGW()
	m, _ := testMachine(t, DefaultParams(), gw)
	ctx := context.Background()

	gw.script("o1", exchange.OrderState{OrderID: "o1", Status: exchange.StateFilled, FilledQty: 1000, AvgPrice: 1000})
	require.NoError(t, m.Step(ctx, entrySeries()))
	require.NoError(t, m.Step(ctx, neutralSeries()))
	require.Equal(t, StateWaitingForSell, m.State())

	// entrySeries ends with RSI at 100
	require.NoError(t, m.Step(ctx, entrySeries()))

	trades := m.Ledger().Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "rsi_overbought", trades[0].Reason)
	assert.Equal(t, StateCompleted, m.State())
}

func TestEMADeclineLiquidates(t *testing.T) {
	gw := newFakeGW()
	m, _ := testMachine(t, DefaultParams(), gw)
	ctx := context.Background()

	gw.script("o1", exchange.OrderState{OrderID: "o1", Status: exchange.StateFilled, FilledQty: 1000, AvgPrice: 1000})
	require.NoError(t, m.Step(ctx, entrySeries()))
	require.NoError(t, m.Step(ctx, neutralSeries()))
	require.Equal(t, StateWaitingForSell, m.State())

	require.NoError(t, m.Step(ctx, decliningSeries()))

	trades := m.Ledger().Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "ema_declining", trades[0].Reason)
	assert.Equal(t, StateCompleted, m.State())
}

func TestSplitTrancheFillRepricesSell(t *testing.T) {
	gw := newFakeGW()
	m, _ := testMachine(t, SplitBuyParams(), gw)
	ctx := context.Background()

	// first tranche: 30% of the 1,000,000 KRW balance at the ask
	gw.script("o1", exchange.OrderState{OrderID: "o1", Status: exchange.StateFilled, FilledQty: 300, AvgPrice: 1000})
	require.NoError(t, m.Step(ctx, entrySeries()))
	require.Equal(t, StatePositionHeld, m.State())

	// sell at 1004 plus a resting 30% tranche 2 KRW under the average
	require.NoError(t, m.Step(ctx, neutralSeries()))
	require.Equal(t, StateWaitingForSell, m.State())
	require.Len(t, gw.placed, 3)
	assert.Equal(t, exchange.Sell, gw.placed[1].side)
	assert.Equal(t, 1004.0, gw.placed[1].price)
	assert.Equal(t, exchange.Buy, gw.placed[2].side)
	assert.Equal(t, 998.0, gw.placed[2].price)

	// tranche fills below the average; the sell is pulled for repricing
	trancheQty := gw.placed[2].qty
	gw.script("o3", exchange.OrderState{OrderID: "o3", Status: exchange.StateFilled, FilledQty: trancheQty, AvgPrice: 998})
	require.NoError(t, m.Step(ctx, neutralSeries()))

	assert.Equal(t, StatePositionHeld, m.State())
	assert.Contains(t, gw.cancelled, "o2")
	pos := m.Ledger().Position()
	assert.InDelta(t, 300+trancheQty, pos.Quantity, 1e-9)
	assert.Less(t, pos.AveragePrice, 1000.0)

	// new sell at the blended average + 4, and the final 40% tranche
	require.NoError(t, m.Step(ctx, neutralSeries()))
	require.Equal(t, StateWaitingForSell, m.State())
	require.Len(t, gw.placed, 5)
	assert.Equal(t, exchange.Sell, gw.placed[3].side)
	assert.InDelta(t, pos.AveragePrice+4, gw.placed[3].price, 1e-9)
	assert.Equal(t, exchange.Buy, gw.placed[4].side)
}

func TestTrancheFillBooksPartialSell(t *testing.T) {
	gw := newFakeGW()
	m, _ := testMachine(t, SplitBuyParams(), gw)
	ctx := context.Background()

	gw.script("o1", exchange.OrderState{OrderID: "o1", Status: exchange.StateFilled, FilledQty: 300, AvgPrice: 1000})
	require.NoError(t, m.Step(ctx, entrySeries()))
	require.NoError(t, m.Step(ctx, neutralSeries()))
	require.Equal(t, StateWaitingForSell, m.State())
	require.Len(t, gw.placed, 3)

	// the sell has moved 100 of 300 when the tranche fills under it
	trancheQty := gw.placed[2].qty
	gw.script("o2", exchange.OrderState{OrderID: "o2", Status: exchange.StatePartiallyFilled, FilledQty: 100, AvgPrice: 1004})
	gw.script("o3", exchange.OrderState{OrderID: "o3", Status: exchange.StateFilled, FilledQty: trancheQty, AvgPrice: 998})
	require.NoError(t, m.Step(ctx, neutralSeries()))

	require.Equal(t, StatePositionHeld, m.State())
	assert.Contains(t, gw.cancelled, "o2")

	// the partially sold 100 must leave the position before repricing
	pos := m.Ledger().Position()
	require.InDelta(t, 200+trancheQty, pos.Quantity, 1e-9)

	trades := m.Ledger().Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "profit_target", trades[0].Reason)
	assert.InDelta(t, 100, trades[0].Quantity, 1e-9)
	assert.Equal(t, 1004.0, trades[0].ExitPrice)
	assert.Greater(t, trades[0].PNL, 0.0)

	// the re-priced sell covers only what the account actually holds
	require.NoError(t, m.Step(ctx, neutralSeries()))
	require.Len(t, gw.placed, 5)
	assert.Equal(t, exchange.Sell, gw.placed[3].side)
	assert.InDelta(t, pos.Quantity, gw.placed[3].qty, 1e-9)
}

func TestErrorStateRecovery(t *testing.T) {
	gw := newFakeGW()
	m, now := testMachine(t, DefaultParams(), gw)
	ctx := context.Background()

	require.NoError(t, m.Ledger().ApplyBuy(100, 1000, 0, *now))
	m.cc.state = StateError
	m.cc.lastError = "candle fetch failed"
	gw.marketPrice = 990

	require.NoError(t, m.Step(ctx, neutralSeries()))

	assert.Equal(t, StateWaitingForBuy, m.State())
	assert.False(t, m.Ledger().HasPosition())

	trades := m.Ledger().Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "error_liquidation", trades[0].Reason)

	snap := m.Snapshot()
	assert.Equal(t, 1, snap.Restarts)
}

func TestSnapshotSafeDuringSteps(t *testing.T) {
	gw := newFakeGW()
	m, now := testMachine(t, DefaultParams(), gw)
	ctx := context.Background()

	// out-of-band consumer hammering the published snapshot, the way the
	// journal loop does, while the strategy goroutine runs round trips
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := m.Snapshot()
			_ = snap.Position.Quantity
			_ = snap.RealizedPNL
			if snap.TotalTrades > 0 {
				_ = snap.RecentTrades[len(snap.RecentTrades)-1].PNL
			}
		}
	}()

	const rounds = 12
	for i := 0; i < rounds; i++ {
		buyID := fmt.Sprintf("o%d", 2*i+1)
		sellID := fmt.Sprintf("o%d", 2*i+2)
		gw.script(buyID, exchange.OrderState{OrderID: buyID, Status: exchange.StateFilled, FilledQty: 300, AvgPrice: 1000})
		require.NoError(t, m.Step(ctx, entrySeries()))
		require.NoError(t, m.Step(ctx, neutralSeries()))

		gw.script(sellID, exchange.OrderState{OrderID: sellID, Status: exchange.StateFilled, FilledQty: 300, AvgPrice: 1004})
		require.NoError(t, m.Step(ctx, neutralSeries()))
		require.Equal(t, StateCompleted, m.State())

		*now = now.Add(2 * time.Hour)
		require.NoError(t, m.Step(ctx, neutralSeries()))
		require.Equal(t, StateWaitingForBuy, m.State())
	}

	close(stop)
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, rounds, snap.TotalTrades)
	assert.Len(t, snap.RecentTrades, 10)
	assert.Greater(t, snap.RealizedPNL, 0.0)
}

func TestGatewayFailureEntersErrorState(t *testing.T) {
	gw := newFakeGW()
	m, _ := testMachine(t, DefaultParams(), gw)

	m.cc.state = StateWaitingForSell
	m.cc.sellOrderID = "unknown" // Refresh of an untracked order fails

	err := m.Step(context.Background(), neutralSeries())
	require.Error(t, err)
	assert.Equal(t, StateError, m.State())
	assert.NotEmpty(t, m.Snapshot().LastError)
}
