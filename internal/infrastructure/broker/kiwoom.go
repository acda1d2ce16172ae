package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/vitos/stock_auto_trader/internal/domain"
)

const (
	KiwoomBaseURL = "https://api.kiwoom.com"

	// statusOK is the only success code. The venue docs are ambiguous about
	// code 2 on some quote paths; we treat everything but 0000 as failure.
	statusOK = "0000"
)

// TokenSource yields a bearer token valid for at least the next call.
type TokenSource interface {
	EnsureValid(ctx context.Context) (string, error)
}

// KiwoomClient implements domain.MarketData and domain.Broker over the
// venue's REST API.
type KiwoomClient struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
}

func NewKiwoomClient(baseURL string, tokens TokenSource) *KiwoomClient {
	return &KiwoomClient{
		baseURL: baseURL,
		tokens:  tokens,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// venueError is a non-0000 envelope status. Callers map it to the
// appropriate domain error.
type venueError struct {
	Code    string
	Message string
}

func (e *venueError) Error() string {
	return fmt.Sprintf("venue status %s: %s", e.Code, e.Message)
}

func (c *KiwoomClient) call(ctx context.Context, method, path string, query url.Values, payload any) (json.RawMessage, error) {
	token, err := c.tokens.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}

	var body []byte
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: status=%d body=%s", method, path, resp.StatusCode, respBody)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	if env.Status != statusOK {
		return nil, &venueError{Code: env.Status, Message: env.Message}
	}
	return env.Data, nil
}

// --- Market data ---

type candlePayload struct {
	DateTime string `json:"candle_date_time_kst"`
	Open     int64  `json:"opening_price"`
	High     int64  `json:"high_price"`
	Low      int64  `json:"low_price"`
	Close    int64  `json:"trade_price"`
	Volume   int64  `json:"candle_acc_trade_volume"`
}

func (c *KiwoomClient) getCandles(ctx context.Context, path, resource, symbol string, count int) ([]domain.Candle, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("count", fmt.Sprintf("%d", count))

	data, err := c.call(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, &domain.DataUnavailable{Resource: resource, Symbol: symbol, Err: err}
	}

	var raw []candlePayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &domain.DataUnavailable{Resource: resource, Symbol: symbol, Err: err}
	}
	if len(raw) == 0 {
		return nil, &domain.DataUnavailable{Resource: resource, Symbol: symbol, Err: errors.New("empty candle list")}
	}

	candles := make([]domain.Candle, 0, len(raw))
	for _, r := range raw {
		ts, err := time.ParseInLocation("2006-01-02T15:04:05", r.DateTime, time.Local)
		if err != nil {
			continue
		}
		candles = append(candles, domain.Candle{
			Time:   ts.Unix(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		})
	}

	// The venue returns newest-first; callers want chronological order.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

func (c *KiwoomClient) GetMinuteCandles(ctx context.Context, symbol string, count int) ([]domain.Candle, error) {
	return c.getCandles(ctx, "/v1/market/candles/minutes/10", "10min candles", symbol, count)
}

func (c *KiwoomClient) GetDailyCandles(ctx context.Context, symbol string, count int) ([]domain.Candle, error) {
	return c.getCandles(ctx, "/v1/market/candles/days", "daily candles", symbol, count)
}

func (c *KiwoomClient) GetOrderBook(ctx context.Context, symbol string) (*domain.OrderBook, error) {
	query := url.Values{}
	query.Set("symbol", symbol)

	data, err := c.call(ctx, http.MethodGet, "/v1/market/orderbook/levels", query, nil)
	if err != nil {
		return nil, &domain.DataUnavailable{Resource: "orderbook", Symbol: symbol, Err: err}
	}

	var raw struct {
		Units []struct {
			BidPrice int64 `json:"bid_price"`
			BidSize  int64 `json:"bid_size"`
			AskPrice int64 `json:"ask_price"`
			AskSize  int64 `json:"ask_size"`
		} `json:"orderbook_units"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &domain.DataUnavailable{Resource: "orderbook", Symbol: symbol, Err: err}
	}
	if len(raw.Units) == 0 {
		return nil, &domain.DataUnavailable{Resource: "orderbook", Symbol: symbol, Err: errors.New("empty orderbook")}
	}

	ob := &domain.OrderBook{Symbol: symbol}
	for _, u := range raw.Units {
		ob.Bids = append(ob.Bids, domain.OrderBookLevel{Price: u.BidPrice, Size: u.BidSize})
		ob.Asks = append(ob.Asks, domain.OrderBookLevel{Price: u.AskPrice, Size: u.AskSize})
	}
	return ob, nil
}

func (c *KiwoomClient) GetHoldings(ctx context.Context) ([]domain.Holding, error) {
	data, err := c.call(ctx, http.MethodGet, "/v1/trading/inquiry/holdings", nil, nil)
	if err != nil {
		return nil, &domain.DataUnavailable{Resource: "holdings", Err: err}
	}

	var raw []struct {
		Symbol       string `json:"symbol"`
		Name         string `json:"name"`
		Quantity     int64  `json:"quantity"`
		AvgPrice     int64  `json:"avg_price"`
		CurrentPrice int64  `json:"current_price"`
		EvalProfit   int64  `json:"eval_profit"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &domain.DataUnavailable{Resource: "holdings", Err: err}
	}

	holdings := make([]domain.Holding, 0, len(raw))
	for _, h := range raw {
		holdings = append(holdings, domain.Holding{
			Symbol:       h.Symbol,
			Name:         h.Name,
			Quantity:     h.Quantity,
			AvgPrice:     h.AvgPrice,
			CurrentPrice: h.CurrentPrice,
			EvalProfit:   h.EvalProfit,
		})
	}
	return holdings, nil
}

// --- Orders ---

func (c *KiwoomClient) placeOrder(ctx context.Context, path string, payload map[string]any) (string, error) {
	data, err := c.call(ctx, http.MethodPost, path, nil, payload)
	if err != nil {
		var ve *venueError
		if errors.As(err, &ve) {
			return "", &domain.OrderRejected{Code: ve.Code, Message: ve.Message}
		}
		return "", err
	}

	var raw struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("order response decode: %w", err)
	}
	if raw.OrderID == "" {
		return "", &domain.OrderRejected{Code: statusOK, Message: "response missing order_id"}
	}
	return raw.OrderID, nil
}

func (c *KiwoomClient) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, qty int64) (string, error) {
	return c.placeOrder(ctx, "/v1/trading/orders/market", map[string]any{
		"symbol":   symbol,
		"side":     string(side),
		"quantity": qty,
	})
}

func (c *KiwoomClient) PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, qty int64, price int64) (string, error) {
	return c.placeOrder(ctx, "/v1/trading/orders/limit", map[string]any{
		"symbol":   symbol,
		"side":     string(side),
		"quantity": qty,
		"price":    price,
	})
}

func (c *KiwoomClient) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.call(ctx, http.MethodPost, "/v1/trading/orders/cancel", nil, map[string]any{
		"order_id": orderID,
	})
	if err != nil {
		var ve *venueError
		if errors.As(err, &ve) {
			return &domain.OrderRejected{Code: ve.Code, Message: ve.Message}
		}
		return err
	}
	return nil
}
