// Package coinone implements the exchange.Gateway contract against the
// Coinone REST API. Private calls are signed with HMAC-SHA512 over a
// base64-encoded JSON payload carrying the access token and a fresh nonce.
//
// Transient faults (network, 5xx, rate limit) are retried here with bounded
// exponential backoff. Nothing above this layer retries.
package coinone

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jpillora/backoff"

	"github.com/rustyeddy/krwbot/exchange"
	"github.com/rustyeddy/krwbot/market"
	"github.com/rustyeddy/krwbot/pkg/id"
)

// BaseURL is the production REST endpoint.
const BaseURL = "https://api.coinone.co.kr"

const maxAttempts = 3

// Client is a Coinone REST gateway.
type Client struct {
	baseURL     string
	accessToken string
	secretKey   string
	httpClient  *http.Client
}

// New creates a gateway with the given credentials. Public endpoints work
// with empty credentials; private calls will fail with an auth error.
func New(accessToken, secretKey string) *Client {
	return &Client{
		baseURL:     BaseURL,
		accessToken: accessToken,
		secretKey:   secretKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetBaseURL overrides the endpoint, used by tests against httptest servers.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

type tickerResponse struct {
	Result  string `json:"result"`
	Tickers []struct {
		QuoteCurrency  string `json:"quote_currency"`
		TargetCurrency string `json:"target_currency"`
		Last           string `json:"last"`
		Timestamp      int64  `json:"timestamp"`
	} `json:"tickers"`
}

// Ticker returns the last traded price for symbol (e.g. "USDT").
func (c *Client) Ticker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	var resp tickerResponse
	path := fmt.Sprintf("/public/v2/ticker_new/KRW/%s", symbol)
	if err := c.public(ctx, "ticker", path, &resp); err != nil {
		return exchange.Ticker{}, err
	}
	if len(resp.Tickers) == 0 {
		return exchange.Ticker{}, exchange.NewError(exchange.KindServer, "ticker",
			fmt.Errorf("empty ticker response for %s", symbol))
	}

	t := resp.Tickers[0]
	last, err := strconv.ParseFloat(t.Last, 64)
	if err != nil {
		return exchange.Ticker{}, exchange.NewError(exchange.KindServer, "ticker",
			fmt.Errorf("parse last price %q: %w", t.Last, err))
	}
	return exchange.Ticker{
		Symbol: symbol,
		Last:   last,
		Time:   time.UnixMilli(t.Timestamp),
	}, nil
}

type orderbookResponse struct {
	Result string `json:"result"`
	Bids   []struct {
		Price string `json:"price"`
		Qty   string `json:"qty"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
		Qty   string `json:"qty"`
	} `json:"asks"`
	Timestamp int64 `json:"timestamp"`
}

// Orderbook returns the top of book for symbol.
func (c *Client) Orderbook(ctx context.Context, symbol string) (exchange.Orderbook, error) {
	var resp orderbookResponse
	path := fmt.Sprintf("/public/v2/orderbook/KRW/%s?size=5", symbol)
	if err := c.public(ctx, "orderbook", path, &resp); err != nil {
		return exchange.Orderbook{}, err
	}
	if len(resp.Bids) == 0 || len(resp.Asks) == 0 {
		return exchange.Orderbook{}, exchange.NewError(exchange.KindServer, "orderbook",
			fmt.Errorf("empty orderbook for %s", symbol))
	}

	bid, err := strconv.ParseFloat(resp.Bids[0].Price, 64)
	if err != nil {
		return exchange.Orderbook{}, exchange.NewError(exchange.KindServer, "orderbook", err)
	}
	ask, err := strconv.ParseFloat(resp.Asks[0].Price, 64)
	if err != nil {
		return exchange.Orderbook{}, exchange.NewError(exchange.KindServer, "orderbook", err)
	}
	return exchange.Orderbook{
		Symbol:  symbol,
		BestBid: bid,
		BestAsk: ask,
		Time:    time.UnixMilli(resp.Timestamp),
	}, nil
}

type chartResponse struct {
	Result string `json:"result"`
	Chart  []struct {
		Timestamp int64  `json:"timestamp"`
		Open      string `json:"open"`
		High      string `json:"high"`
		Low       string `json:"low"`
		Close     string `json:"close"`
		Volume    string `json:"target_volume"`
	} `json:"chart"`
}

// Candles fetches up to limit closed bars for symbol at the given interval
// ("1h", "1d", ...), oldest first.
func (c *Client) Candles(ctx context.Context, symbol, interval string, limit int) (market.Series, error) {
	var resp chartResponse
	path := fmt.Sprintf("/public/v2/chart/KRW/%s?interval=%s&size=%d", symbol, interval, limit)
	if err := c.public(ctx, "candles", path, &resp); err != nil {
		return nil, err
	}

	series := make(market.Series, 0, len(resp.Chart))
	for _, bar := range resp.Chart {
		c, err := parseBar(bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.Timestamp)
		if err != nil {
			return nil, exchange.NewError(exchange.KindServer, "candles", err)
		}
		series = append(series, c)
	}
	return series, nil
}

func parseBar(open, high, low, close, volume string, ts int64) (market.Candle, error) {
	fields := []string{open, high, low, close, volume}
	vals := make([]float64, len(fields))
	for i, s := range fields {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return market.Candle{}, fmt.Errorf("parse candle field %q: %w", s, err)
		}
		vals[i] = v
	}
	return market.Candle{
		Time:   time.UnixMilli(ts),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}

type balanceResponse struct {
	Result   string `json:"result"`
	Balances []struct {
		Currency  string `json:"currency"`
		Available string `json:"available"`
	} `json:"balances"`
}

// Balances returns the available amount per currency.
func (c *Client) Balances(ctx context.Context) (map[string]Balance, error) {
	var resp balanceResponse
	if err := c.private(ctx, "balances", "/v2.1/account/balance/all", nil, &resp); err != nil {
		return nil, err
	}

	out := make(map[string]Balance, len(resp.Balances))
	for _, b := range resp.Balances {
		avail, err := strconv.ParseFloat(b.Available, 64)
		if err != nil {
			return nil, exchange.NewError(exchange.KindServer, "balances",
				fmt.Errorf("parse balance %q: %w", b.Available, err))
		}
		out[b.Currency] = Balance{Currency: b.Currency, Available: avail}
	}
	return out, nil
}

// Balance aliases the contract type so callers don't import both packages.
type Balance = exchange.Balance

type orderResponse struct {
	Result  string `json:"result"`
	OrderID string `json:"order_id"`
	Price   string `json:"price"`
}

// PlaceLimitOrder submits a post-only limit order and returns the exchange
// order ID.
func (c *Client) PlaceLimitOrder(ctx context.Context, side exchange.Side, symbol string, price, qty float64) (exchange.OrderAck, error) {
	params := map[string]any{
		"quote_currency":  "KRW",
		"target_currency": symbol,
		"type":            "LIMIT",
		"side":            string(side),
		"price":           strconv.FormatFloat(price, 'f', -1, 64),
		"qty":             strconv.FormatFloat(qty, 'f', -1, 64),
	}

	var resp orderResponse
	if err := c.private(ctx, "place_limit_order", "/v2.1/order", params, &resp); err != nil {
		return exchange.OrderAck{}, err
	}
	return exchange.OrderAck{OrderID: resp.OrderID}, nil
}

// PlaceMarketOrder submits a market order. The returned ack carries the
// average fill price when the exchange reports one.
func (c *Client) PlaceMarketOrder(ctx context.Context, side exchange.Side, symbol string, qty float64) (exchange.OrderAck, error) {
	params := map[string]any{
		"quote_currency":  "KRW",
		"target_currency": symbol,
		"type":            "MARKET",
		"side":            string(side),
		"qty":             strconv.FormatFloat(qty, 'f', -1, 64),
	}

	var resp orderResponse
	if err := c.private(ctx, "place_market_order", "/v2.1/order", params, &resp); err != nil {
		return exchange.OrderAck{}, err
	}

	ack := exchange.OrderAck{OrderID: resp.OrderID}
	if resp.Price != "" {
		if px, err := strconv.ParseFloat(resp.Price, 64); err == nil {
			ack.AvgFillPrice = px
		}
	}
	return ack, nil
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) error {
	params := map[string]any{
		"order_id":        orderID,
		"quote_currency":  "KRW",
		"target_currency": symbol,
	}
	var resp struct {
		Result string `json:"result"`
	}
	return c.private(ctx, "cancel_order", "/v2.1/order/cancel", params, &resp)
}

type orderDetailResponse struct {
	Result string `json:"result"`
	Order  struct {
		OrderID     string `json:"order_id"`
		Status      string `json:"status"`
		ExecutedQty string `json:"executed_qty"`
		AvgPrice    string `json:"average_executed_price"`
	} `json:"order"`
}

// OrderStatus fetches the current state of an order and normalizes the
// exchange's status strings into the contract's vocabulary.
func (c *Client) OrderStatus(ctx context.Context, orderID, symbol string) (exchange.OrderState, error) {
	params := map[string]any{
		"order_id":        orderID,
		"quote_currency":  "KRW",
		"target_currency": symbol,
	}

	var resp orderDetailResponse
	if err := c.private(ctx, "order_status", "/v2.1/order/detail", params, &resp); err != nil {
		return exchange.OrderState{}, err
	}

	filled := 0.0
	if resp.Order.ExecutedQty != "" {
		f, err := strconv.ParseFloat(resp.Order.ExecutedQty, 64)
		if err != nil {
			return exchange.OrderState{}, exchange.NewError(exchange.KindServer, "order_status", err)
		}
		filled = f
	}
	avg := 0.0
	if resp.Order.AvgPrice != "" {
		if v, err := strconv.ParseFloat(resp.Order.AvgPrice, 64); err == nil {
			avg = v
		}
	}

	return exchange.OrderState{
		OrderID:   resp.Order.OrderID,
		Status:    normalizeStatus(resp.Order.Status, filled),
		FilledQty: filled,
		AvgPrice:  avg,
	}, nil
}

func normalizeStatus(s string, filled float64) string {
	switch s {
	case "FILLED":
		return exchange.StateFilled
	case "CANCELED", "CANCELLED":
		return exchange.StateCancelled
	case "PARTIALLY_FILLED":
		return exchange.StatePartiallyFilled
	case "LIVE":
		if filled > 0 {
			return exchange.StatePartiallyFilled
		}
		return exchange.StateLive
	}
	return exchange.StateLive
}

// public performs a GET against a public endpoint with retry on transient
// failures.
func (c *Client) public(ctx context.Context, op, path string, out any) error {
	return c.withRetry(ctx, op, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return exchange.NewError(exchange.KindValidation, op, err)
		}
		req.Header.Set("Accept", "application/json")
		return c.do(op, req, out)
	})
}

// private performs a signed POST. Every attempt re-signs with a fresh nonce
// so retries are never rejected as replays.
func (c *Client) private(ctx context.Context, op, path string, params map[string]any, out any) error {
	if c.accessToken == "" || c.secretKey == "" {
		return exchange.NewError(exchange.KindAuth, op, fmt.Errorf("missing API credentials"))
	}

	return c.withRetry(ctx, op, func() error {
		payload := map[string]any{
			"access_token": c.accessToken,
			"nonce":        id.New(),
		}
		for k, v := range params {
			payload[k] = v
		}

		body, err := json.Marshal(payload)
		if err != nil {
			return exchange.NewError(exchange.KindValidation, op, err)
		}
		encoded := base64.StdEncoding.EncodeToString(body)

		mac := hmac.New(sha512.New, []byte(c.secretKey))
		mac.Write([]byte(encoded))
		signature := hex.EncodeToString(mac.Sum(nil))

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return exchange.NewError(exchange.KindValidation, op, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-COINONE-PAYLOAD", encoded)
		req.Header.Set("X-COINONE-SIGNATURE", signature)
		return c.do(op, req, out)
	})
}

// withRetry runs fn up to maxAttempts times, backing off between transient
// failures. Non-transient errors surface immediately.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !exchange.Transient(err) {
			return err
		}
		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return exchange.NewError(exchange.KindNetwork, op, ctx.Err())
		}
	}
	return err
}

func (c *Client) do(op string, req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return exchange.NewError(exchange.KindNetwork, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return exchange.NewError(exchange.KindRateLimit, op, fmt.Errorf("rate limited"))
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return exchange.NewError(exchange.KindAuth, op, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return exchange.NewError(exchange.KindServer, op, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return exchange.NewError(exchange.KindValidation, op,
			fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return exchange.NewError(exchange.KindNetwork, op, err)
	}

	// Coinone reports application errors inside a 200 body.
	var apiErr struct {
		Result    string `json:"result"`
		ErrorCode string `json:"error_code"`
		ErrorMsg  string `json:"error_msg"`
	}
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Result == "error" {
		return &exchange.Error{
			Kind: classifyCode(apiErr.ErrorCode),
			Op:   op,
			Code: apiErr.ErrorCode,
			Err:  fmt.Errorf("%s", apiErr.ErrorMsg),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return exchange.NewError(exchange.KindServer, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// classifyCode maps Coinone error codes onto the taxonomy. Unknown codes are
// treated as validation failures: fatal for the call, never retried blind.
func classifyCode(code string) exchange.ErrorKind {
	switch code {
	case "4", "11", "12", "40": // bad token / signature / key
		return exchange.KindAuth
	case "103", "104", "113": // lack of balance
		return exchange.KindInsufficientBalance
	case "107": // too many requests
		return exchange.KindRateLimit
	case "116", "117", "118": // order not found / already done
		return exchange.KindOrder
	}
	return exchange.KindValidation
}
