package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratospect/goperps/config"
	"github.com/stratospect/goperps/errs"
)

// wsServer runs handle for every accepted websocket connection and
// returns the ws:// URL.
func wsServer(t *testing.T, handle func(*websocket.Conn)) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// readUntilClosed keeps the server side pumping so control frames are
// processed.
func readUntilClosed(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func testConfig(url string) Config {
	return Config{
		Venue: "test",
		URL:   url,
		Websocket: config.Websocket{
			// Long enough that liveness never interferes unless a test
			// shortens it.
			HeartbeatInterval:     time.Minute,
			HeartbeatTimeout:      time.Second,
			ReconnectInitialDelay: 10 * time.Millisecond,
			ReconnectMaxDelay:     50 * time.Millisecond,
			ReconnectMaxAttempts:  3,
		},
	}
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()
	_, err := NewClient(Config{URL: "ws://localhost"})
	require.ErrorIs(t, err, errVenueNameUnset)
	_, err = NewClient(Config{Venue: "test"})
	require.ErrorIs(t, err, errURLUnset)

	c, err := NewClient(Config{Venue: "test", URL: "ws://localhost"})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultHeartbeatInterval, c.heartbeatInterval)
	assert.Equal(t, config.DefaultHeartbeatTimeout, c.heartbeatTimeout)
	assert.Equal(t, config.DefaultReconnectMaxAttempts, c.maxReconnects)
	assert.Equal(t, Disconnected, c.State())
	assert.False(t, c.IsConnected())
	assert.Equal(t, "test", c.Venue())
}

func TestStateString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestConnectAndShutdown(t *testing.T) {
	t.Parallel()
	url := wsServer(t, readUntilClosed)
	c, err := NewClient(testConfig(url))
	require.NoError(t, err)

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())
	require.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnected)

	require.NoError(t, c.Shutdown())
	assert.Equal(t, Disconnected, c.State())
	require.ErrorIs(t, c.Shutdown(), ErrNotConnected)
}

func TestConnectHandshakeRefused(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	c, err := NewClient(testConfig("ws" + strings.TrimPrefix(srv.URL, "http")))
	require.NoError(t, err)

	err = c.Connect(context.Background())
	require.ErrorIs(t, err, errs.ErrNetwork)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, Disconnected, c.State())
}

func TestSendReceive(t *testing.T) {
	t.Parallel()
	url := wsServer(t, func(conn *websocket.Conn) {
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	})
	c, err := NewClient(testConfig(url))
	require.NoError(t, err)
	received := make(chan []byte, 8)
	c.OnMessage = func(b []byte) { received <- b }
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() {
		if c.State() != Disconnected {
			_ = c.Shutdown()
		}
	})

	require.NoError(t, c.Send(context.Background(), []byte(`{"op":"ping"}`)))
	select {
	case msg := <-received:
		assert.Equal(t, `{"op":"ping"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no echo before timeout")
	}

	require.NoError(t, c.SendJSON(context.Background(), map[string]string{"op": "sub"}))
	select {
	case msg := <-received:
		assert.JSONEq(t, `{"op":"sub"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no echo before timeout")
	}

	m := c.Metrics()
	assert.EqualValues(t, 2, m.MessagesSent)
	assert.EqualValues(t, 2, m.MessagesReceived)
	assert.False(t, m.ConnectedAt.IsZero())
}

func TestSendNotConnected(t *testing.T) {
	t.Parallel()
	c, err := NewClient(testConfig("ws://127.0.0.1:1"))
	require.NoError(t, err)
	require.ErrorIs(t, c.Send(context.Background(), []byte("x")), ErrNotConnected)
	require.ErrorIs(t, c.SendJSON(context.Background(), "x"), ErrNotConnected)
}

func TestReconnectAfterDrop(t *testing.T) {
	t.Parallel()
	var dials atomic.Int64
	url := wsServer(t, func(conn *websocket.Conn) {
		if dials.Add(1) == 1 {
			_ = conn.Close()
			return
		}
		readUntilClosed(conn)
	})
	c, err := NewClient(testConfig(url))
	require.NoError(t, err)
	var reconnected atomic.Bool
	c.OnReconnect = func() { reconnected.Store(true) }
	var stateMtx sync.Mutex
	var states []State
	c.OnStateChange = func(s State) {
		stateMtx.Lock()
		states = append(states, s)
		stateMtx.Unlock()
	}
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() {
		if c.State() != Disconnected {
			_ = c.Shutdown()
		}
	})

	require.Eventually(t, func() bool {
		return reconnected.Load() && c.IsConnected()
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, dials.Load(), int64(2))
	assert.EqualValues(t, 1, c.Metrics().Reconnects)
	stateMtx.Lock()
	assert.Contains(t, states, Reconnecting)
	stateMtx.Unlock()
}

func TestReconnectExhaustsAttempts(t *testing.T) {
	t.Parallel()
	var accepted atomic.Bool
	connC := make(chan *websocket.Conn, 1)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accepted.Swap(true) {
			http.Error(w, "gone", http.StatusServiceUnavailable)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connC <- conn
		readUntilClosed(conn)
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig("ws" + strings.TrimPrefix(srv.URL, "http"))
	cfg.Websocket.ReconnectMaxAttempts = 2
	c, err := NewClient(cfg)
	require.NoError(t, err)
	disconnected := make(chan struct{})
	c.OnStateChange = func(s State) {
		if s == Disconnected {
			close(disconnected)
		}
	}
	require.NoError(t, c.Connect(context.Background()))

	conn := <-connC
	_ = conn.Close()

	select {
	case <-disconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("client never gave up reconnecting")
	}
	assert.Equal(t, Disconnected, c.State())
	assert.EqualValues(t, 0, c.Metrics().Reconnects)
}

func TestHeartbeatTimeoutForcesReconnect(t *testing.T) {
	t.Parallel()
	var conns atomic.Int64
	url := wsServer(t, func(conn *websocket.Conn) {
		if conns.Add(1) == 1 {
			// Swallow pings on the first connection so the liveness
			// check trips; later connections pong normally.
			conn.SetPingHandler(func(string) error { return nil })
		}
		readUntilClosed(conn)
	})
	cfg := testConfig(url)
	cfg.Websocket.HeartbeatInterval = 50 * time.Millisecond
	cfg.Websocket.HeartbeatTimeout = 30 * time.Millisecond
	c, err := NewClient(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() {
		if c.State() != Disconnected {
			_ = c.Shutdown()
		}
	})

	require.Eventually(t, func() bool {
		return c.Metrics().Reconnects >= 1 && c.IsConnected()
	}, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, conns.Load(), int64(2))

	// The replacement connection answers pings, so it must hold.
	time.Sleep(4 * cfg.Websocket.HeartbeatInterval)
	assert.True(t, c.IsConnected())
	assert.EqualValues(t, 1, c.Metrics().Reconnects)
}

func TestShutdownDuringReconnect(t *testing.T) {
	t.Parallel()
	var accepted atomic.Bool
	connC := make(chan *websocket.Conn, 1)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accepted.Swap(true) {
			http.Error(w, "gone", http.StatusServiceUnavailable)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connC <- conn
		readUntilClosed(conn)
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig("ws" + strings.TrimPrefix(srv.URL, "http"))
	cfg.Websocket.ReconnectInitialDelay = time.Second
	cfg.Websocket.ReconnectMaxDelay = time.Second
	c, err := NewClient(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))

	conn := <-connC
	_ = conn.Close()
	require.Eventually(t, func() bool {
		return c.State() == Reconnecting
	}, 2*time.Second, 5*time.Millisecond)

	// Shutdown must interrupt the backoff sleep rather than wait it out.
	start := time.Now()
	require.NoError(t, c.Shutdown())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Disconnected, c.State())
}
