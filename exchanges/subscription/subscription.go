package subscription

import (
	"errors"
	"fmt"
	"sync"

	"github.com/stratospect/goperps/currency"
)

// Public errors
var (
	ErrNotFound       = errors.New("subscription not found")
	ErrDuplicate      = errors.New("duplicate subscription")
	ErrInStateAlready = errors.New("subscription already in state")
	ErrInvalidState   = errors.New("invalid subscription state")
)

// State constants
const (
	InactiveState State = iota
	SubscribingState
	SubscribedState
	ResubscribingState
	UnsubscribingState
	UnsubscribedState
)

// Channel constants
const (
	TickerChannel    = "ticker"
	OrderbookChannel = "orderbook"
	TradesChannel    = "trades"
	CandlesChannel   = "candles"
	PositionsChannel = "positions"
	OrdersChannel    = "orders"
	BalanceChannel   = "balance"
)

// State tracks the status of a subscription channel
type State uint8

// PayloadFunc builds a control payload at send time. Venues whose
// subscribe frames carry a signature install one so replays after a
// reconnect are signed fresh instead of echoing a stale timestamp.
type PayloadFunc func() ([]byte, error)

// Subscription is one logical channel registration on a venue socket.
// The key must match whatever the venue's inbound routing extractor
// yields for messages on this channel. A PayloadFunc takes precedence
// over its static counterpart.
type Subscription struct {
	Key              string
	Channel          string
	Symbol           currency.Pair
	SubscribePayload []byte
	SubscribeFunc    PayloadFunc
	UnsubPayload     []byte
	UnsubFunc        PayloadFunc
	Authenticated    bool

	state State
	m     sync.RWMutex
}

// BuildKey builds the canonical channel key for a symbol-scoped
// channel.
func BuildKey(channel string, symbol currency.Pair) string {
	if symbol.IsEmpty() {
		return channel
	}
	return channel + ":" + symbol.String()
}

// String implements the Stringer interface for Subscription, giving a
// human representation of the subscription
func (s *Subscription) String() string {
	return fmt.Sprintf("%s %s", s.Channel, s.Symbol)
}

// SubscribeFrame resolves the subscribe control payload, invoking the
// builder when one is installed.
func (s *Subscription) SubscribeFrame() ([]byte, error) {
	if s.SubscribeFunc != nil {
		return s.SubscribeFunc()
	}
	return s.SubscribePayload, nil
}

// UnsubscribeFrame resolves the unsubscribe control payload, invoking
// the builder when one is installed.
func (s *Subscription) UnsubscribeFrame() ([]byte, error) {
	if s.UnsubFunc != nil {
		return s.UnsubFunc()
	}
	return s.UnsubPayload, nil
}

// State returns the subscription state
func (s *Subscription) State() State {
	s.m.RLock()
	defer s.m.RUnlock()
	return s.state
}

// SetState sets the subscription state
// Errors if already in that state or the new state is not valid
func (s *Subscription) SetState(state State) error {
	s.m.Lock()
	defer s.m.Unlock()
	if state == s.state {
		return fmt.Errorf("%w: %d", ErrInStateAlready, state)
	}
	if state > UnsubscribedState {
		return fmt.Errorf("%w: %d", ErrInvalidState, state)
	}
	s.state = state
	return nil
}

// Clone returns a copy of a subscription without its lock or state.
func (s *Subscription) Clone() *Subscription {
	s.m.RLock()
	defer s.m.RUnlock()
	return &Subscription{
		Key:              s.Key,
		Channel:          s.Channel,
		Symbol:           s.Symbol,
		SubscribePayload: s.SubscribePayload,
		SubscribeFunc:    s.SubscribeFunc,
		UnsubPayload:     s.UnsubPayload,
		UnsubFunc:        s.UnsubFunc,
		Authenticated:    s.Authenticated,
	}
}
