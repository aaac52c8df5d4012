// Package stream manages websocket connectivity for venue adapters.
// Client owns one socket: dialing, the read pump, heartbeat enforcement
// and the reconnect schedule. Manager multiplexes a Client's inbound
// traffic out to subscription consumers with bounded buffering.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/stratospect/goperps/config"
	"github.com/stratospect/goperps/errs"
	"github.com/stratospect/goperps/log"
)

// Public websocket errors.
var (
	ErrAlreadyConnected = errors.New("websocket already connected")
	ErrNotConnected     = errors.New("websocket is not connected")
)

var (
	errVenueNameUnset = errors.New("venue name unset")
	errURLUnset       = errors.New("websocket url unset")
)

// defaultWriteWait bounds a single frame write when the caller context
// carries no deadline.
const defaultWriteWait = 10 * time.Second

// State is the lifecycle phase of a venue socket.
type State uint8

// Lifecycle phases reported through OnStateChange.
const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

// String implements the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Metrics is a point-in-time snapshot of socket activity.
type Metrics struct {
	MessagesReceived int64
	MessagesSent     int64
	Reconnects       int64
	ConnectedAt      time.Time
}

// Config shapes a Client. Zero liveness and reconnect fields take the
// package defaults from config.
type Config struct {
	Venue     string
	URL       string
	Headers   http.Header
	Websocket config.Websocket
	Verbose   bool
}

// Client owns a single venue socket. All writes funnel through one
// gate, the read pump dispatches every inbound data frame to OnMessage,
// and a dropped connection is redialled on an exponential schedule
// until it is restored or the attempt budget runs out.
type Client struct {
	venue   string
	url     string
	headers http.Header
	dialer  *websocket.Dialer
	verbose bool

	// OnMessage receives every data frame read from the socket. Wire
	// handlers before Connect; they are not guarded afterwards.
	OnMessage func([]byte)
	// OnReconnect fires after a dropped socket has been re-established,
	// before any traffic from the new connection is read.
	OnReconnect func()
	// OnStateChange observes lifecycle transitions.
	OnStateChange func(State)

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	reconnectMaxDelay time.Duration
	maxReconnects     int
	bo                *backoff.ExponentialBackOff

	connMtx  sync.Mutex
	conn     *websocket.Conn
	shutdown chan struct{}

	// writeControl is a rolling gate; gorilla permits a single
	// concurrent frame writer.
	writeControl sync.Mutex

	state           atomic.Uint32
	shouldReconnect atomic.Bool
	wg              sync.WaitGroup

	messagesReceived atomic.Int64
	messagesSent     atomic.Int64
	reconnects       atomic.Int64
	connectedAt      atomic.Int64
}

// NewClient validates cfg and returns an unconnected Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Venue == "" {
		return nil, errVenueNameUnset
	}
	if cfg.URL == "" {
		return nil, errURLUnset
	}
	ws := cfg.Websocket
	if ws.HeartbeatInterval == 0 {
		ws.HeartbeatInterval = config.DefaultHeartbeatInterval
	}
	if ws.HeartbeatTimeout == 0 {
		ws.HeartbeatTimeout = config.DefaultHeartbeatTimeout
	}
	if ws.ReconnectInitialDelay == 0 {
		ws.ReconnectInitialDelay = config.DefaultReconnectInitialDelay
	}
	if ws.ReconnectMaxDelay == 0 {
		ws.ReconnectMaxDelay = config.DefaultReconnectMaxDelay
	}
	if ws.ReconnectMaxAttempts == 0 {
		ws.ReconnectMaxAttempts = config.DefaultReconnectMaxAttempts
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = ws.ReconnectInitialDelay
	bo.MaxInterval = ws.ReconnectMaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.1
	return &Client{
		venue:   cfg.Venue,
		url:     cfg.URL,
		headers: cfg.Headers,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		verbose:           cfg.Verbose,
		heartbeatInterval: ws.HeartbeatInterval,
		heartbeatTimeout:  ws.HeartbeatTimeout,
		reconnectMaxDelay: ws.ReconnectMaxDelay,
		maxReconnects:     ws.ReconnectMaxAttempts,
		bo:                bo,
	}, nil
}

// Connect dials the venue and starts the read pump and heartbeat. It
// returns ErrAlreadyConnected unless the client is fully disconnected.
func (c *Client) Connect(ctx context.Context) error {
	if !c.casState(Disconnected, Connecting) {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, c.venue)
	}
	c.bo.Reset()
	c.shouldReconnect.Store(true)
	conn, pongC, err := c.dial(ctx)
	if err != nil {
		c.swapState(Disconnected)
		return err
	}
	c.connMtx.Lock()
	c.conn = conn
	c.shutdown = make(chan struct{})
	c.connMtx.Unlock()
	c.connectedAt.Store(time.Now().UnixNano())
	c.swapState(Connected)
	c.wg.Add(1)
	go c.run(conn, pongC)
	return nil
}

// Shutdown stops reconnection, closes the socket and waits for the
// pumps to drain.
func (c *Client) Shutdown() error {
	if c.State() == Disconnected {
		return fmt.Errorf("%w: %s", ErrNotConnected, c.venue)
	}
	c.shouldReconnect.Store(false)
	c.connMtx.Lock()
	if c.shutdown != nil {
		select {
		case <-c.shutdown:
		default:
			close(c.shutdown)
		}
	}
	conn := c.conn
	c.connMtx.Unlock()
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}
	c.wg.Wait()
	c.swapState(Disconnected)
	return nil
}

// Send writes payload as a single text frame. The write deadline comes
// from ctx when one is set, else defaultWriteWait.
func (c *Client) Send(ctx context.Context, payload []byte) error {
	conn := c.connection()
	if conn == nil || c.State() != Connected {
		return fmt.Errorf("%w: %s", ErrNotConnected, c.venue)
	}
	if c.verbose {
		log.WebsocketMgr.Debug().Str("venue", c.venue).Str("payload", string(payload)).Msg("sending")
	}
	c.writeControl.Lock()
	defer c.writeControl.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteWait)
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("%s websocket write: %w", c.venue, err)
	}
	c.messagesSent.Add(1)
	return nil
}

// SendJSON marshals v and sends it as a single text frame.
func (c *Client) SendJSON(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(ctx, payload)
}

// State returns the current lifecycle phase.
func (c *Client) State() State {
	return State(c.state.Load())
}

// IsConnected reports whether the socket is live.
func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// Venue returns the owning venue name.
func (c *Client) Venue() string {
	return c.venue
}

// Metrics returns a snapshot of socket activity counters.
func (c *Client) Metrics() Metrics {
	m := Metrics{
		MessagesReceived: c.messagesReceived.Load(),
		MessagesSent:     c.messagesSent.Load(),
		Reconnects:       c.reconnects.Load(),
	}
	if ns := c.connectedAt.Load(); ns > 0 {
		m.ConnectedAt = time.Unix(0, ns)
	}
	return m
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, chan struct{}, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, nil, fmt.Errorf("%w: %s dial %s: %s (%s)", errs.ErrNetwork, c.venue, c.url, err, resp.Status)
		}
		return nil, nil, fmt.Errorf("%w: %s dial %s: %s", errs.ErrNetwork, c.venue, c.url, err)
	}
	pongC := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case pongC <- struct{}{}:
		default:
		}
		return nil
	})
	return conn, pongC, nil
}

// run drives one connection generation: it supervises the heartbeat,
// blocks on the read pump, and on an unrequested drop hands over to the
// reconnect loop.
func (c *Client) run(conn *websocket.Conn, pongC chan struct{}) {
	defer c.wg.Done()
	done := make(chan struct{})
	c.wg.Add(1)
	go c.heartbeat(conn, pongC, done)
	err := c.readPump(conn)
	close(done)
	_ = conn.Close()
	if !c.shouldReconnect.Load() {
		c.swapState(Disconnected)
		return
	}
	log.WebsocketMgr.Warn().Err(err).Str("venue", c.venue).Msg("connection dropped")
	c.reconnectLoop()
}

func (c *Client) readPump(conn *websocket.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.messagesReceived.Add(1)
		if c.verbose {
			log.WebsocketMgr.Debug().Str("venue", c.venue).Str("payload", string(msg)).Msg("received")
		}
		if c.OnMessage != nil {
			c.OnMessage(msg)
		}
	}
}

// heartbeat enforces liveness: a ping every interval, and a forced
// close when the pong does not arrive within the timeout. The closed
// socket unblocks the read pump, which owns reconnection.
func (c *Client) heartbeat(conn *websocket.Conn, pongC <-chan struct{}, done <-chan struct{}) {
	defer c.wg.Done()
	t := time.NewTicker(c.heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
		}
		// Discard any pong that raced in since the last ping.
		select {
		case <-pongC:
		default:
		}
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.heartbeatTimeout)); err != nil {
			continue
		}
		select {
		case <-done:
			return
		case <-pongC:
		case <-time.After(c.heartbeatTimeout):
			log.WebsocketMgr.Warn().Str("venue", c.venue).Dur("timeout", c.heartbeatTimeout).Msg("heartbeat timeout, closing connection")
			_ = conn.Close()
			return
		}
	}
}

// reconnectLoop redials on an exponential schedule until the socket is
// restored, shutdown is requested, or the attempt budget runs out.
func (c *Client) reconnectLoop() {
	c.swapState(Reconnecting)
	for attempt := 1; ; attempt++ {
		if c.maxReconnects >= 0 && attempt > c.maxReconnects {
			log.WebsocketMgr.Error().Str("venue", c.venue).Int("attempts", c.maxReconnects).Msg("reconnect attempts exhausted")
			c.swapState(Disconnected)
			return
		}
		sleep := c.bo.NextBackOff()
		if sleep == backoff.Stop {
			sleep = c.reconnectMaxDelay
		}
		if c.verbose {
			log.WebsocketMgr.Debug().Str("venue", c.venue).Int("attempt", attempt).Dur("in", sleep).Msg("reconnecting")
		}
		select {
		case <-c.shutdownChan():
			c.swapState(Disconnected)
			return
		case <-time.After(sleep):
		}
		conn, pongC, err := c.dial(context.Background())
		if err != nil {
			log.WebsocketMgr.Warn().Err(err).Str("venue", c.venue).Int("attempt", attempt).Msg("reconnect failed")
			continue
		}
		select {
		case <-c.shutdownChan():
			_ = conn.Close()
			c.swapState(Disconnected)
			return
		default:
		}
		c.bo.Reset()
		c.connMtx.Lock()
		c.conn = conn
		c.connMtx.Unlock()
		c.reconnects.Add(1)
		c.connectedAt.Store(time.Now().UnixNano())
		c.swapState(Connected)
		if c.OnReconnect != nil {
			c.OnReconnect()
		}
		c.wg.Add(1)
		go c.run(conn, pongC)
		return
	}
}

func (c *Client) connection() *websocket.Conn {
	c.connMtx.Lock()
	defer c.connMtx.Unlock()
	return c.conn
}

func (c *Client) shutdownChan() chan struct{} {
	c.connMtx.Lock()
	defer c.connMtx.Unlock()
	return c.shutdown
}

func (c *Client) casState(from, to State) bool {
	if !c.state.CompareAndSwap(uint32(from), uint32(to)) {
		return false
	}
	c.notifyState(to)
	return true
}

func (c *Client) swapState(to State) {
	if State(c.state.Swap(uint32(to))) != to {
		c.notifyState(to)
	}
}

func (c *Client) notifyState(s State) {
	if c.OnStateChange != nil {
		c.OnStateChange(s)
	}
}
