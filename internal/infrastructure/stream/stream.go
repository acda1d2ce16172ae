package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vitos/stock_auto_trader/internal/domain"
)

// State is the connection lifecycle of the realtime feed.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateSubscribed
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	default:
		return "disconnected"
	}
}

// TokenSource yields the current access token for the login frame.
type TokenSource interface {
	EnsureValid(ctx context.Context) (string, error)
}

type (
	TickHandler      func(symbol string, price int64)
	OrderBookHandler func(symbol string, bids, asks []domain.OrderBookLevel)
	FillHandler      func(fill domain.Fill)
	StateHandler     func(state State)
)

// Client maintains one websocket session to the venue's realtime feed:
// login with the lease token, one subscribe frame per symbol, heartbeat
// echo, and reconnect with identical resubscription on any failure.
//
// Handlers run on the session goroutine and must not block; long work has
// to be handed off by the consumer.
type Client struct {
	URL            string
	ReconnectDelay time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxLevels      int

	tokens TokenSource
	log    *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	symbols []string
	enabled bool
	done    chan struct{}
	state   State

	tickHandlers      []TickHandler
	orderBookHandlers []OrderBookHandler
	fillHandlers      []FillHandler
	stateHandlers     []StateHandler
}

func NewClient(url string, tokens TokenSource, log *zap.Logger) *Client {
	return &Client{
		URL:            url,
		ReconnectDelay: 3 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxLevels:      5,
		tokens:         tokens,
		log:            log,
	}
}

func (c *Client) OnTick(h TickHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickHandlers = append(c.tickHandlers, h)
}

func (c *Client) OnOrderBook(h OrderBookHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orderBookHandlers = append(c.orderBookHandlers, h)
}

func (c *Client) OnFill(h FillHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fillHandlers = append(c.fillHandlers, h)
}

func (c *Client) OnStateChange(h StateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateHandlers = append(c.stateHandlers, h)
}

// Start enables the stream and spawns the session loop. Calling Start while
// already running is a no-op.
func (c *Client) Start(symbols []string) {
	c.mu.Lock()
	if c.enabled {
		c.mu.Unlock()
		c.log.Info("stream already running")
		return
	}
	c.enabled = true
	c.symbols = append([]string(nil), symbols...)
	c.done = make(chan struct{})
	done, subscribed := c.done, c.symbols
	c.mu.Unlock()

	go c.run(done, subscribed)
}

// Stop disables the stream and closes the active connection. The session
// loop observes the closed connection and exits.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = false
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Symbols returns the current subscription set.
func (c *Client) Symbols() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.symbols...)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	handlers := append([]StateHandler(nil), c.stateHandlers...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(s)
	}
}

// run is one generation of the session loop. done and symbols are captured
// at Start so a Stop/Start cycle can never leave two generations alive; the
// loop exits on its own done channel no matter what the current one is.
func (c *Client) run(done chan struct{}, symbols []string) {
	for {
		select {
		case <-done:
			return
		default:
		}

		if err := c.session(done, symbols); err != nil {
			c.log.Warn("stream session ended", zap.Error(err))
		}
		c.setState(StateDisconnected)

		select {
		case <-done:
			return
		case <-time.After(c.ReconnectDelay):
		}
	}
}

// session runs one full connect/login/subscribe/receive cycle.
func (c *Client) session(done chan struct{}, symbols []string) error {
	c.setState(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(c.URL, nil)
	if err != nil {
		return &domain.TransportError{Op: "dial", Err: err}
	}

	c.mu.Lock()
	select {
	case <-done:
		c.mu.Unlock()
		conn.Close()
		return nil
	default:
	}
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		conn.Close()
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
	}()

	if err := c.login(conn); err != nil {
		return err
	}

	c.setState(StateSubscribed)
	for _, sym := range symbols {
		sub := map[string]any{
			"type":     "subscribe",
			"symbol":   sym,
			"channels": []string{"ticker", "orderbook", "execution"},
		}
		conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
		if err := conn.WriteJSON(sub); err != nil {
			return &domain.TransportError{Op: "subscribe", Err: err}
		}
	}

	c.setState(StateStreaming)
	return c.receive(conn)
}

func (c *Client) login(conn *websocket.Conn) error {
	c.setState(StateAuthenticating)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	token, err := c.tokens.EnsureValid(ctx)
	if err != nil {
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
	if err := conn.WriteJSON(map[string]string{"type": "login", "token": token}); err != nil {
		return &domain.TransportError{Op: "login send", Err: err}
	}

	conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return &domain.TransportError{Op: "login recv", Err: err}
	}

	var ack struct {
		Type   string `json:"type"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(msg, &ack); err != nil {
		return &domain.ProtocolError{Message: fmt.Sprintf("login ack: %v", err)}
	}
	if ack.Type != "login" || ack.Status != "0000" {
		// Do not retry with the same token; the next connect attempt checks
		// the lease again.
		return &domain.AuthError{Reason: fmt.Sprintf("stream login refused: type=%s status=%s", ack.Type, ack.Status)}
	}
	return nil
}

func (c *Client) receive(conn *websocket.Conn) error {
	for {
		conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return &domain.TransportError{Op: "read", Err: err}
		}
		c.dispatch(conn, msg)
	}
}

func (c *Client) dispatch(conn *websocket.Conn, msg []byte) {
	var header struct {
		Type    string `json:"type"`
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(msg, &header); err != nil {
		c.log.Warn("stream message dropped", zap.Error(err))
		return
	}

	// Heartbeats must be echoed back verbatim or the server drops us.
	if header.Type == "ping" {
		conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.log.Warn("heartbeat echo failed", zap.Error(err))
		}
		return
	}

	switch header.Channel {
	case "ticker":
		c.handleTick(msg)
	case "orderbook":
		c.handleOrderBook(msg)
	case "execution":
		c.handleFill(msg)
	case "":
		// Subscription acks and other service frames.
	default:
		c.log.Debug("unrecognized stream message", zap.String("channel", header.Channel))
	}
}

func (c *Client) handleTick(msg []byte) {
	var tick struct {
		Symbol     string          `json:"symbol"`
		TradePrice json.RawMessage `json:"trade_price"`
	}
	if err := json.Unmarshal(msg, &tick); err != nil {
		c.log.Warn("tick dropped", zap.Error(err))
		return
	}
	price, err := parsePrice(tick.TradePrice)
	if err != nil || tick.Symbol == "" {
		c.log.Warn("tick dropped", zap.String("symbol", tick.Symbol), zap.Error(err))
		return
	}

	c.mu.Lock()
	handlers := append([]TickHandler(nil), c.tickHandlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(tick.Symbol, price)
	}
}

func (c *Client) handleOrderBook(msg []byte) {
	var book struct {
		Symbol string `json:"symbol"`
		Units  []struct {
			BidPrice json.RawMessage `json:"bid_price"`
			BidSize  int64           `json:"bid_size"`
			AskPrice json.RawMessage `json:"ask_price"`
			AskSize  int64           `json:"ask_size"`
		} `json:"orderbook_units"`
	}
	if err := json.Unmarshal(msg, &book); err != nil {
		c.log.Warn("orderbook dropped", zap.Error(err))
		return
	}

	var bids, asks []domain.OrderBookLevel
	for i, u := range book.Units {
		if i >= c.MaxLevels {
			break
		}
		bidPrice, err := parsePrice(u.BidPrice)
		if err != nil {
			continue
		}
		askPrice, err := parsePrice(u.AskPrice)
		if err != nil {
			continue
		}
		bids = append(bids, domain.OrderBookLevel{Price: bidPrice, Size: u.BidSize})
		asks = append(asks, domain.OrderBookLevel{Price: askPrice, Size: u.AskSize})
	}

	c.mu.Lock()
	handlers := append([]OrderBookHandler(nil), c.orderBookHandlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(book.Symbol, bids, asks)
	}
}

func (c *Client) handleFill(msg []byte) {
	var exec struct {
		Symbol      string          `json:"symbol"`
		OrderID     string          `json:"order_id"`
		Side        string          `json:"side"`
		FilledQty   int64           `json:"filled_quantity"`
		FilledPrice json.RawMessage `json:"filled_price"`
	}
	if err := json.Unmarshal(msg, &exec); err != nil {
		c.log.Warn("execution dropped", zap.Error(err))
		return
	}
	price, err := parsePrice(exec.FilledPrice)
	if err != nil || exec.OrderID == "" {
		c.log.Warn("execution dropped", zap.String("order_id", exec.OrderID), zap.Error(err))
		return
	}

	fill := domain.Fill{
		OrderID:  exec.OrderID,
		Symbol:   exec.Symbol,
		Side:     domain.Side(exec.Side),
		Quantity: exec.FilledQty,
		Price:    price,
	}

	c.mu.Lock()
	handlers := append([]FillHandler(nil), c.fillHandlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(fill)
	}
}

// parsePrice accepts both bare numbers and the venue's signed string form
// ("+71200" means up vs prior close, the sign is not part of the price).
func parsePrice(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing price")
	}

	s := string(raw)
	if s[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
	}
	s = strings.TrimLeft(strings.TrimSpace(s), "+-")
	if s == "" {
		return 0, fmt.Errorf("empty price")
	}
	return strconv.ParseInt(s, 10, 64)
}
