package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/stock_auto_trader/internal/domain"
)

type staticTokens struct{ token string }

func (s staticTokens) EnsureValid(ctx context.Context) (string, error) { return s.token, nil }

// newFeedServer runs handler once per websocket session.
func newFeedServer(handler func(conn *websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestClient(srv *httptest.Server, token string) *Client {
	client := NewClient(wsURL(srv), staticTokens{token}, zap.NewNop())
	client.ReconnectDelay = 50 * time.Millisecond
	return client
}

// acceptLogin consumes the login frame and acknowledges it.
func acceptLogin(conn *websocket.Conn) (string, bool) {
	var login struct {
		Type  string `json:"type"`
		Token string `json:"token"`
	}
	if err := conn.ReadJSON(&login); err != nil {
		return "", false
	}
	if err := conn.WriteJSON(map[string]string{"type": "login", "status": "0000"}); err != nil {
		return "", false
	}
	return login.Token, true
}

func readSubscribe(conn *websocket.Conn) (string, bool) {
	var sub struct {
		Type     string   `json:"type"`
		Symbol   string   `json:"symbol"`
		Channels []string `json:"channels"`
	}
	if err := conn.ReadJSON(&sub); err != nil || sub.Type != "subscribe" {
		return "", false
	}
	return sub.Symbol, true
}

func TestClient_LoginSubscribeTick(t *testing.T) {
	tokens := make(chan string, 1)
	subs := make(chan string, 2)
	srv := newFeedServer(func(conn *websocket.Conn) {
		token, ok := acceptLogin(conn)
		if !ok {
			return
		}
		tokens <- token
		for i := 0; i < 2; i++ {
			sym, ok := readSubscribe(conn)
			if !ok {
				return
			}
			subs <- sym
		}
		conn.WriteJSON(map[string]any{
			"type":        "data",
			"channel":     "ticker",
			"symbol":      "005930",
			"trade_price": "+71200",
		})
		conn.ReadMessage() // hold the session open
	})
	defer srv.Close()

	client := newTestClient(srv, "tok-9")
	ticks := make(chan int64, 1)
	client.OnTick(func(symbol string, price int64) {
		if symbol == "005930" {
			ticks <- price
		}
	})

	client.Start([]string{"005930", "091990"})
	defer client.Stop()

	select {
	case token := <-tokens:
		assert.Equal(t, "tok-9", token)
	case <-time.After(time.Second):
		t.Fatal("no login frame")
	}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case sym := <-subs:
			got[sym] = true
		case <-time.After(time.Second):
			t.Fatal("missing subscribe frame")
		}
	}
	assert.True(t, got["005930"])
	assert.True(t, got["091990"])

	select {
	case price := <-ticks:
		// The sign prefix marks direction, not a negative price.
		assert.Equal(t, int64(71200), price)
	case <-time.After(time.Second):
		t.Fatal("tick not dispatched")
	}
	assert.Equal(t, StateStreaming, client.State())
}

func TestClient_HeartbeatEchoedVerbatim(t *testing.T) {
	const ping = `{"type":"ping","ts":1718000000}`
	echoes := make(chan string, 1)
	srv := newFeedServer(func(conn *websocket.Conn) {
		if _, ok := acceptLogin(conn); !ok {
			return
		}
		if _, ok := readSubscribe(conn); !ok {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(ping)); err != nil {
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		echoes <- string(msg)
		conn.ReadMessage()
	})
	defer srv.Close()

	client := newTestClient(srv, "tok-9")
	client.Start([]string{"005930"})
	defer client.Stop()

	select {
	case echo := <-echoes:
		assert.Equal(t, ping, echo)
	case <-time.After(time.Second):
		t.Fatal("heartbeat not echoed")
	}
}

func TestClient_FillDispatch(t *testing.T) {
	srv := newFeedServer(func(conn *websocket.Conn) {
		if _, ok := acceptLogin(conn); !ok {
			return
		}
		if _, ok := readSubscribe(conn); !ok {
			return
		}
		conn.WriteJSON(map[string]any{
			"type":            "data",
			"channel":         "execution",
			"symbol":          "005930",
			"order_id":        "ORD-7",
			"side":            "BUY",
			"filled_quantity": 3,
			"filled_price":    "+71100",
		})
		conn.ReadMessage()
	})
	defer srv.Close()

	client := newTestClient(srv, "tok-9")
	fills := make(chan domain.Fill, 1)
	client.OnFill(func(fill domain.Fill) { fills <- fill })

	client.Start([]string{"005930"})
	defer client.Stop()

	select {
	case fill := <-fills:
		assert.Equal(t, "ORD-7", fill.OrderID)
		assert.Equal(t, domain.SideBuy, fill.Side)
		assert.Equal(t, int64(3), fill.Quantity)
		assert.Equal(t, int64(71100), fill.Price)
	case <-time.After(time.Second):
		t.Fatal("fill not dispatched")
	}
}

func TestClient_ReconnectResubscribes(t *testing.T) {
	subs := make(chan string, 4)
	sessions := make(chan struct{}, 4)
	srv := newFeedServer(func(conn *websocket.Conn) {
		sessions <- struct{}{}
		if _, ok := acceptLogin(conn); !ok {
			return
		}
		sym, ok := readSubscribe(conn)
		if !ok {
			return
		}
		subs <- sym
		// Closing here forces the client through its reconnect path.
	})
	defer srv.Close()

	client := newTestClient(srv, "tok-9")
	client.Start([]string{"005930"})
	defer client.Stop()

	for i := 0; i < 2; i++ {
		select {
		case <-sessions:
		case <-time.After(2 * time.Second):
			t.Fatal("expected a reconnect")
		}
		select {
		case sym := <-subs:
			assert.Equal(t, "005930", sym)
		case <-time.After(2 * time.Second):
			t.Fatal("expected an identical resubscription")
		}
	}
}

func TestClient_RestartKeepsSingleSession(t *testing.T) {
	var mu sync.Mutex
	active, maxActive := 0, 0
	srv := newFeedServer(func(conn *websocket.Conn) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		defer func() {
			mu.Lock()
			active--
			mu.Unlock()
		}()

		if _, ok := acceptLogin(conn); !ok {
			return
		}
		if _, ok := readSubscribe(conn); !ok {
			return
		}
		conn.ReadMessage() // hold the session until the client closes it
	})
	defer srv.Close()

	client := newTestClient(srv, "tok-9")

	// Stall the first generation's loop right after its session ends, so the
	// restart happens while it is still alive.
	release := make(chan struct{})
	var stall sync.Once
	client.OnStateChange(func(state State) {
		if state == StateDisconnected {
			stall.Do(func() { <-release })
		}
	})

	client.Start([]string{"005930"})
	require.Eventually(t, func() bool {
		return client.State() == StateStreaming
	}, 2*time.Second, 10*time.Millisecond)

	client.Stop()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return active == 0
	}, 2*time.Second, 10*time.Millisecond)

	client.Start([]string{"005930"})
	defer client.Stop()

	require.Eventually(t, func() bool {
		return client.State() == StateStreaming
	}, 2*time.Second, 10*time.Millisecond)

	close(release)
	// Give a stale loop ample time to redial; it must exit instead.
	time.Sleep(4 * client.ReconnectDelay)

	mu.Lock()
	got := maxActive
	mu.Unlock()
	assert.Equal(t, 1, got, "a stopped generation must never dial again")
}

func TestClient_LoginRefusedNeverStreams(t *testing.T) {
	srv := newFeedServer(func(conn *websocket.Conn) {
		var login map[string]string
		if err := conn.ReadJSON(&login); err != nil {
			return
		}
		conn.WriteJSON(map[string]string{"type": "login", "status": "9001"})
	})
	defer srv.Close()

	client := newTestClient(srv, "tok-9")
	states := make(chan State, 16)
	client.OnStateChange(func(state State) { states <- state })

	client.Start([]string{"005930"})
	defer client.Stop()

	sawAuth, sawDisconnect := false, false
	deadline := time.After(2 * time.Second)
	for !(sawAuth && sawDisconnect) {
		select {
		case state := <-states:
			require.NotEqual(t, StateStreaming, state)
			if state == StateAuthenticating {
				sawAuth = true
			}
			if state == StateDisconnected {
				sawDisconnect = true
			}
		case <-deadline:
			t.Fatal("login refusal not observed")
		}
	}
}

func TestParsePrice(t *testing.T) {
	price, err := parsePrice([]byte(`"+71200"`))
	require.NoError(t, err)
	assert.Equal(t, int64(71200), price)

	price, err = parsePrice([]byte(`"-71200"`))
	require.NoError(t, err)
	assert.Equal(t, int64(71200), price)

	price, err = parsePrice([]byte(`71200`))
	require.NoError(t, err)
	assert.Equal(t, int64(71200), price)

	_, err = parsePrice([]byte(`""`))
	assert.Error(t, err)

	_, err = parsePrice(nil)
	assert.Error(t, err)
}
