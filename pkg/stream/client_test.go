package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type subscribeFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// newWSServer runs handle for every websocket connection and returns the ws
// URL to dial.
func newWSServer(t *testing.T, handle func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	client := NewClient(Options{
		URL:            url,
		ReconnectDelay: 10 * time.Millisecond,
		Logger:         quietLogger(),
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Equal(t, 10*time.Second, opts.HandshakeTimeout)
	assert.Equal(t, 30*time.Second, opts.PingInterval)
	assert.Equal(t, float64(5), float64(opts.SubscribeRate))
	assert.Equal(t, time.Second, opts.ReconnectDelay)
	assert.NotNil(t, opts.Logger)
}

func TestRoutesFramesByType(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		conn.WriteJSON(map[string]string{"type": "ticker", "price": "100"})
		conn.WriteJSON(map[string]string{"type": "heartbeat"})
		conn.WriteJSON(map[string]string{"type": "ticker", "price": "101"})
		// Keep the connection open until the client goes away.
		conn.ReadMessage()
	})

	client := newTestClient(t, url)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tickers := make(chan string, 2)
	client.RegisterHandler("ticker", func(message json.RawMessage) error {
		var frame struct {
			Price string `json:"price"`
		}
		if err := json.Unmarshal(message, &frame); err != nil {
			return err
		}
		tickers <- frame.Price
		return nil
	})
	require.NoError(t, client.Connect(ctx))

	assert.Equal(t, "100", <-tickers)
	assert.Equal(t, "101", <-tickers)
}

func TestConnectTwiceIsNoop(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})

	client := newTestClient(t, url)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.Connect(ctx))
}

func TestSubscribeRequiresConnection(t *testing.T) {
	client := newTestClient(t, "ws://127.0.0.1:0")
	err := client.Subscribe(context.Background(), subscribeFrame{Type: "subscribe"})
	assert.Error(t, err)
}

func TestSubscribeSendsFrame(t *testing.T) {
	frames := make(chan subscribeFrame, 1)
	url := newWSServer(t, func(conn *websocket.Conn) {
		var frame subscribeFrame
		if err := conn.ReadJSON(&frame); err == nil {
			frames <- frame
		}
		conn.ReadMessage()
	})

	client := newTestClient(t, url)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.Subscribe(ctx, subscribeFrame{Type: "subscribe", Channel: "ticker"}))

	select {
	case frame := <-frames:
		assert.Equal(t, "ticker", frame.Channel)
	case <-time.After(time.Second):
		t.Fatal("subscription frame never reached the server")
	}
}

func TestReconnectReplaysSubscriptions(t *testing.T) {
	var conns atomic.Int32
	replayed := make(chan subscribeFrame, 1)
	url := newWSServer(t, func(conn *websocket.Conn) {
		if conns.Add(1) == 1 {
			// Take the subscription, then drop the connection.
			conn.ReadMessage()
			conn.Close()
			return
		}
		var frame subscribeFrame
		if err := conn.ReadJSON(&frame); err == nil {
			replayed <- frame
		}
		conn.ReadMessage()
	})

	client := newTestClient(t, url)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.Subscribe(ctx, subscribeFrame{Type: "subscribe", Channel: "user"}))

	select {
	case frame := <-replayed:
		assert.Equal(t, "user", frame.Channel)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription was not replayed after reconnect")
	}
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
}

func TestCloseStopsReconnecting(t *testing.T) {
	var conns atomic.Int32
	url := newWSServer(t, func(conn *websocket.Conn) {
		conns.Add(1)
		conn.Close()
	})

	client := newTestClient(t, url)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.Close())

	time.Sleep(50 * time.Millisecond)
	settled := conns.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, conns.Load())
}
