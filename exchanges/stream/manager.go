package stream

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stratospect/goperps/config"
	"github.com/stratospect/goperps/exchanges/subscription"
	"github.com/stratospect/goperps/log"
)

var (
	errClientNil       = errors.New("websocket client is nil")
	errKeyFuncNil      = errors.New("routing key func is nil")
	errSubscriptionNil = errors.New("subscription is nil")
)

// controlWait bounds subscribe and unsubscribe control writes issued
// off the caller's context.
const controlWait = 5 * time.Second

// KeyFunc extracts the routing key from an inbound frame. Frames whose
// key cannot be derived are dropped after a debug log.
type KeyFunc func([]byte) (string, bool)

// consumer is one bounded delivery queue attached to a subscription.
type consumer struct {
	ch     chan []byte
	done   chan struct{}
	closed bool
}

// Manager multiplexes one Client across any number of subscription
// consumers. Each routing key carries a single venue subscription no
// matter how many consumers attach; the subscribe payload goes out with
// the first and the unsubscribe payload with the last. Delivery queues
// are bounded, and a full queue sheds its oldest frame so a slow
// consumer lags rather than stalling the socket.
type Manager struct {
	client *Client
	keyFn  KeyFunc
	buffer int

	// OnStateChange observes client lifecycle transitions after the
	// manager has reacted to them.
	OnStateChange func(State)

	mtx       sync.Mutex
	subs      *subscription.Store
	consumers map[string][]*consumer

	dropped atomic.Int64
}

// NewManager wires routing, fan-out and resubscription onto c. Call it
// before Connect; the manager owns the client's callbacks.
func NewManager(c *Client, keyFn KeyFunc, buffer int) (*Manager, error) {
	if c == nil {
		return nil, errClientNil
	}
	if keyFn == nil {
		return nil, errKeyFuncNil
	}
	if buffer <= 0 {
		buffer = config.DefaultSubscriptionBuffer
	}
	m := &Manager{
		client:    c,
		keyFn:     keyFn,
		buffer:    buffer,
		subs:      subscription.NewStore(),
		consumers: make(map[string][]*consumer),
	}
	c.OnMessage = m.route
	c.OnReconnect = m.resubscribe
	c.OnStateChange = m.handleState
	return m, nil
}

// Subscribe attaches a consumer to sub's routing key and returns its
// delivery channel. The first consumer for a key sends the subscribe
// payload; later consumers share the live stream. The channel closes
// when ctx is cancelled or the stream dies.
func (m *Manager) Subscribe(ctx context.Context, sub *subscription.Subscription) (<-chan []byte, error) {
	if sub == nil {
		return nil, errSubscriptionNil
	}
	if !m.client.IsConnected() {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, m.client.venue)
	}
	cons := &consumer{ch: make(chan []byte, m.buffer), done: make(chan struct{})}

	m.mtx.Lock()
	first := false
	if _, ok := m.subs.Get(sub.Key); !ok {
		if err := m.subs.Add(sub); err != nil {
			m.mtx.Unlock()
			return nil, err
		}
		first = true
	}
	m.consumers[sub.Key] = append(m.consumers[sub.Key], cons)
	m.mtx.Unlock()

	if first {
		if err := m.sendSubscribe(ctx, sub); err != nil {
			m.mtx.Lock()
			m.dropConsumerLocked(sub.Key, cons)
			if len(m.consumers[sub.Key]) == 0 {
				delete(m.consumers, sub.Key)
				_ = m.subs.Remove(sub.Key)
			}
			m.mtx.Unlock()
			return nil, err
		}
	}

	go m.watch(ctx, sub.Key, cons)
	return cons.ch, nil
}

// sendSubscribe resolves and sends the subscribe frame. Subscriptions
// without one are delivery-only registrations and succeed immediately.
func (m *Manager) sendSubscribe(ctx context.Context, sub *subscription.Subscription) error {
	frame, err := sub.SubscribeFrame()
	if err != nil {
		return err
	}
	if len(frame) == 0 {
		return nil
	}
	_ = sub.SetState(subscription.SubscribingState)
	if err := m.client.Send(ctx, frame); err != nil {
		return err
	}
	_ = sub.SetState(subscription.SubscribedState)
	return nil
}

// Subscriptions returns the active subscriptions in insertion order.
func (m *Manager) Subscriptions() []*subscription.Subscription {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.subs.List()
}

// Len returns the number of active routing keys.
func (m *Manager) Len() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.subs.Len()
}

// Dropped returns the count of frames shed by full consumer queues.
func (m *Manager) Dropped() int64 {
	return m.dropped.Load()
}

// Client returns the underlying socket client.
func (m *Manager) Client() *Client {
	return m.client
}

func (m *Manager) watch(ctx context.Context, key string, c *consumer) {
	select {
	case <-ctx.Done():
		m.release(key, c)
	case <-c.done:
	}
}

// release detaches one consumer; the last one out deregisters the key
// and sends the unsubscribe payload exactly once.
func (m *Manager) release(key string, c *consumer) {
	m.mtx.Lock()
	if !m.dropConsumerLocked(key, c) {
		m.mtx.Unlock()
		return
	}
	if len(m.consumers[key]) > 0 {
		m.mtx.Unlock()
		return
	}
	delete(m.consumers, key)
	sub, ok := m.subs.Get(key)
	if ok {
		_ = m.subs.Remove(key)
	}
	m.mtx.Unlock()

	if !ok || !m.client.IsConnected() {
		return
	}
	frame, err := sub.UnsubscribeFrame()
	if err != nil || len(frame) == 0 {
		if err != nil {
			log.WebsocketMgr.Warn().Err(err).Str("subscription", sub.String()).Msg("unsubscribe frame build failed")
		}
		return
	}
	_ = sub.SetState(subscription.UnsubscribingState)
	ctx, cancel := context.WithTimeout(context.Background(), controlWait)
	defer cancel()
	if err := m.client.Send(ctx, frame); err != nil {
		log.WebsocketMgr.Warn().Err(err).Str("subscription", sub.String()).Msg("unsubscribe failed")
		return
	}
	_ = sub.SetState(subscription.UnsubscribedState)
}

// route fans an inbound frame out to every consumer on its key. The
// frame is shared across consumers and must be treated as read-only.
func (m *Manager) route(msg []byte) {
	key, ok := m.keyFn(msg)
	if !ok {
		if m.client.verbose {
			log.WebsocketMgr.Debug().Str("venue", m.client.venue).Str("payload", string(msg)).Msg("dropping unroutable frame")
		}
		return
	}
	m.mtx.Lock()
	defer m.mtx.Unlock()
	list := m.consumers[key]
	if len(list) == 0 {
		if m.client.verbose {
			log.WebsocketMgr.Debug().Str("venue", m.client.venue).Str("key", key).Msg("no consumers for frame")
		}
		return
	}
	for _, c := range list {
		m.deliver(c, msg)
	}
}

// deliver enqueues without blocking the read pump. A full queue sheds
// its oldest frame to admit the new one.
func (m *Manager) deliver(c *consumer, msg []byte) {
	select {
	case c.ch <- msg:
		return
	default:
	}
	select {
	case <-c.ch:
		m.dropped.Add(1)
	default:
	}
	select {
	case c.ch <- msg:
	default:
		m.dropped.Add(1)
	}
}

// resubscribe replays every active subscription on the fresh socket in
// original subscription order. Frames are rebuilt per send, so signed
// subscriptions go out with fresh timestamps.
func (m *Manager) resubscribe() {
	m.mtx.Lock()
	subs := m.subs.List()
	m.mtx.Unlock()
	for _, s := range subs {
		ctx, cancel := context.WithTimeout(context.Background(), controlWait)
		err := m.sendSubscribe(ctx, s)
		cancel()
		if err != nil {
			log.WebsocketMgr.Error().Err(err).Str("subscription", s.String()).Msg("resubscribe failed")
		}
	}
	if len(subs) > 0 {
		log.WebsocketMgr.Info().Str("venue", m.client.venue).Int("count", len(subs)).Msg("resubscribed")
	}
}

func (m *Manager) handleState(s State) {
	if s == Disconnected {
		m.closeAll()
	}
	if m.OnStateChange != nil {
		m.OnStateChange(s)
	}
}

// closeAll drops every consumer and subscription. Runs when the stream
// dies for good: shutdown or reconnect exhaustion.
func (m *Manager) closeAll() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	for key, list := range m.consumers {
		for _, c := range list {
			m.closeConsumerLocked(c)
		}
		delete(m.consumers, key)
	}
	m.subs.Clear()
}

func (m *Manager) dropConsumerLocked(key string, c *consumer) bool {
	list := m.consumers[key]
	i := slices.Index(list, c)
	if i < 0 {
		return false
	}
	m.consumers[key] = slices.Delete(list, i, i+1)
	m.closeConsumerLocked(c)
	return true
}

func (m *Manager) closeConsumerLocked(c *consumer) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
	close(c.done)
}
