package domain

import (
	"context"
	"time"
)

// MarketData provides quote and history snapshots over the broker REST API.
type MarketData interface {
	GetDailyCandles(ctx context.Context, symbol string, count int) ([]Candle, error)
	GetMinuteCandles(ctx context.Context, symbol string, count int) ([]Candle, error)
	GetOrderBook(ctx context.Context, symbol string) (*OrderBook, error)
	GetHoldings(ctx context.Context) ([]Holding, error)
}

// Broker places and cancels orders. Order ids are venue-assigned strings.
type Broker interface {
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty int64) (string, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side Side, qty int64, price int64) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// TokenProvider issues a fresh access token with its absolute expiry.
type TokenProvider interface {
	RequestToken(ctx context.Context) (token string, expiry time.Time, err error)
}

// TradeJournal defines storage operations for the session's trade records.
type TradeJournal interface {
	SaveFill(ctx context.Context, fill *Fill) error
	ListFills(ctx context.Context, limit int) ([]*Fill, error)

	SavePositionHistory(ctx context.Context, history *PositionHistory) error
	ListPositionHistory(ctx context.Context, limit int) ([]*PositionHistory, error)

	SaveSessionLog(ctx context.Context, message string) error
}
