package usecase_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/stock_auto_trader/internal/domain"
)

// MockMarketData serves canned candles and orderbooks.
type MockMarketData struct {
	Daily     map[string][]domain.Candle
	Minute    map[string][]domain.Candle
	Book      *domain.OrderBook
	DailyErr  error
	MinuteErr error
	BookErr   error
}

func (m *MockMarketData) GetDailyCandles(ctx context.Context, symbol string, count int) ([]domain.Candle, error) {
	if m.DailyErr != nil {
		return nil, m.DailyErr
	}
	return m.Daily[symbol], nil
}

func (m *MockMarketData) GetMinuteCandles(ctx context.Context, symbol string, count int) ([]domain.Candle, error) {
	if m.MinuteErr != nil {
		return nil, m.MinuteErr
	}
	return m.Minute[symbol], nil
}

func (m *MockMarketData) GetOrderBook(ctx context.Context, symbol string) (*domain.OrderBook, error) {
	if m.BookErr != nil {
		return nil, m.BookErr
	}
	return m.Book, nil
}

func (m *MockMarketData) GetHoldings(ctx context.Context) ([]domain.Holding, error) {
	return nil, nil
}

type LimitOrder struct {
	Symbol string
	Side   domain.Side
	Qty    int64
	Price  int64
}

type MarketOrder struct {
	Symbol string
	Side   domain.Side
	Qty    int64
}

// MockBroker records submissions and can be told to reject given limit
// prices.
type MockBroker struct {
	mu           sync.Mutex
	LimitOrders  []LimitOrder
	MarketOrders []MarketOrder
	RejectPrices map[int64]error
	nextID       int
}

func (m *MockBroker) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, qty int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MarketOrders = append(m.MarketOrders, MarketOrder{Symbol: symbol, Side: side, Qty: qty})
	m.nextID++
	return fmt.Sprintf("MKT-%d", m.nextID), nil
}

func (m *MockBroker) PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, qty int64, price int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.RejectPrices[price]; ok {
		return "", err
	}
	m.LimitOrders = append(m.LimitOrders, LimitOrder{Symbol: symbol, Side: side, Qty: qty, Price: price})
	m.nextID++
	return fmt.Sprintf("LMT-%d", m.nextID), nil
}

func (m *MockBroker) CancelOrder(ctx context.Context, orderID string) error { return nil }

func (m *MockBroker) MarketOrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.MarketOrders)
}

func (m *MockBroker) MarketOrdersCopy() []MarketOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MarketOrder(nil), m.MarketOrders...)
}

// MockTokenProvider counts token requests.
type MockTokenProvider struct {
	mu     sync.Mutex
	Calls  int
	TTL    time.Duration
	Delay  time.Duration
	Err    error
	tokens int
}

func (m *MockTokenProvider) RequestToken(ctx context.Context) (string, time.Time, error) {
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return "", time.Time{}, m.Err
	}
	m.tokens++
	return fmt.Sprintf("token-%d", m.tokens), time.Now().Add(m.TTL), nil
}

func (m *MockTokenProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

// MockGateway records entry delegations.
type MockGateway struct {
	mu      sync.Mutex
	Entered []string
	Err     error
}

func (m *MockGateway) EnterPosition(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Entered = append(m.Entered, symbol)
	return nil
}

func (m *MockGateway) EnteredCopy() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Entered...)
}

// MockJournal keeps writes in memory.
type MockJournal struct {
	mu      sync.Mutex
	Fills   []domain.Fill
	History []domain.PositionHistory
	Logs    []string
}

func (m *MockJournal) SaveFill(ctx context.Context, fill *domain.Fill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fills = append(m.Fills, *fill)
	return nil
}

func (m *MockJournal) ListFills(ctx context.Context, limit int) ([]*domain.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fills := make([]*domain.Fill, 0, len(m.Fills))
	for i := range m.Fills {
		f := m.Fills[i]
		fills = append(fills, &f)
	}
	return fills, nil
}

func (m *MockJournal) SavePositionHistory(ctx context.Context, history *domain.PositionHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.History = append(m.History, *history)
	return nil
}

func (m *MockJournal) ListPositionHistory(ctx context.Context, limit int) ([]*domain.PositionHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]*domain.PositionHistory, 0, len(m.History))
	for i := range m.History {
		h := m.History[i]
		entries = append(entries, &h)
	}
	return entries, nil
}

func (m *MockJournal) SaveSessionLog(ctx context.Context, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logs = append(m.Logs, message)
	return nil
}

func (m *MockJournal) FillCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Fills)
}

func (m *MockJournal) HistoryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.History)
}

func candlesFromCloses(closes ...int64) []domain.Candle {
	candles := make([]domain.Candle, len(closes))
	for i, c := range closes {
		candles[i] = domain.Candle{Time: int64(i), Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return candles
}
