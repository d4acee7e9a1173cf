package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/krwbot/exchange"
	"github.com/rustyeddy/krwbot/market"
)

func hourlySeries(closes ...float64) market.Series {
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

func TestSimLimitBuyFillsOnLowCross(t *testing.T) {
	s := hourlySeries(1000, 1000, 990, 995)
	s[2].Low = 985

	sim := NewSim("USDT", s, 1_000_000, 0)
	ctx := context.Background()

	ack, err := sim.PlaceLimitOrder(ctx, exchange.Buy, "USDT", 990, 100)
	require.NoError(t, err)

	st, err := sim.OrderStatus(ctx, ack.OrderID, "USDT")
	require.NoError(t, err)
	assert.Equal(t, exchange.StateLive, st.Status)

	// funds are reserved while the order rests
	bals, _ := sim.Balances(ctx)
	assert.InDelta(t, 1_000_000-99_000, bals["KRW"].Available, 1e-9)

	sim.Advance(1) // low 1000 > 990, no fill
	st, _ = sim.OrderStatus(ctx, ack.OrderID, "USDT")
	assert.Equal(t, exchange.StateLive, st.Status)

	sim.Advance(2) // low 985 crosses
	st, _ = sim.OrderStatus(ctx, ack.OrderID, "USDT")
	assert.Equal(t, exchange.StateFilled, st.Status)
	assert.Equal(t, 100.0, st.FilledQty)
	assert.Equal(t, 990.0, st.AvgPrice) // limit price, not the low

	bals, _ = sim.Balances(ctx)
	assert.InDelta(t, 1_000_000-99_000, bals["KRW"].Available, 1e-9)
	assert.Equal(t, 100.0, bals["USDT"].Available)
}

func TestSimLimitSellFillsOnHighCross(t *testing.T) {
	s := hourlySeries(1000, 1002, 1001)
	s[1].High = 1006

	sim := NewSim("USDT", s, 0, 0)
	sim.coin = 50
	ctx := context.Background()

	ack, err := sim.PlaceLimitOrder(ctx, exchange.Sell, "USDT", 1005, 50)
	require.NoError(t, err)

	sim.Advance(1)
	st, _ := sim.OrderStatus(ctx, ack.OrderID, "USDT")
	assert.Equal(t, exchange.StateFilled, st.Status)
	assert.Equal(t, 1005.0, st.AvgPrice)

	bals, _ := sim.Balances(ctx)
	assert.InDelta(t, 50*1005.0, bals["KRW"].Available, 1e-9)
	assert.Equal(t, 0.0, bals["USDT"].Available)
}

func TestSimMarketOrderSlippage(t *testing.T) {
	sim := NewSim("USDT", hourlySeries(1000), 1_000_000, 0.0001)
	ctx := context.Background()

	ack, err := sim.PlaceMarketOrder(ctx, exchange.Buy, "USDT", 100)
	require.NoError(t, err)
	assert.InDelta(t, 1000.1, ack.AvgFillPrice, 1e-9)

	ack, err = sim.PlaceMarketOrder(ctx, exchange.Sell, "USDT", 100)
	require.NoError(t, err)
	assert.InDelta(t, 999.9, ack.AvgFillPrice, 1e-9)
}

func TestSimInsufficientBalance(t *testing.T) {
	sim := NewSim("USDT", hourlySeries(1000), 50_000, 0)
	ctx := context.Background()

	_, err := sim.PlaceLimitOrder(ctx, exchange.Buy, "USDT", 1000, 100)
	require.Error(t, err)
	assert.True(t, exchange.IsKind(err, exchange.KindInsufficientBalance))

	_, err = sim.PlaceMarketOrder(ctx, exchange.Sell, "USDT", 1)
	require.Error(t, err)
	assert.True(t, exchange.IsKind(err, exchange.KindInsufficientBalance))
}

func TestSimCancelReleasesReservation(t *testing.T) {
	sim := NewSim("USDT", hourlySeries(1000, 1001), 1_000_000, 0)
	ctx := context.Background()

	ack, err := sim.PlaceLimitOrder(ctx, exchange.Buy, "USDT", 900, 100)
	require.NoError(t, err)

	require.NoError(t, sim.CancelOrder(ctx, ack.OrderID, "USDT"))
	bals, _ := sim.Balances(ctx)
	assert.Equal(t, 1_000_000.0, bals["KRW"].Available)

	// a second cancel is an order-state error, not a silent success
	err = sim.CancelOrder(ctx, ack.OrderID, "USDT")
	require.Error(t, err)
	assert.True(t, exchange.IsKind(err, exchange.KindOrder))
}
