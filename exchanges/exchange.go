// Package exchange defines the unified contract every perpetual
// futures venue adapter implements, and the shared plumbing composed
// into each one.
package exchange

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/stratospect/goperps/currency"
	"github.com/stratospect/goperps/errs"
	"github.com/stratospect/goperps/exchanges/auth"
	"github.com/stratospect/goperps/exchanges/market"
	"github.com/stratospect/goperps/exchanges/protocol"
	"github.com/stratospect/goperps/exchanges/request"
	"github.com/stratospect/goperps/exchanges/stream"
	"github.com/stratospect/goperps/exchanges/ticker"
	"github.com/stratospect/goperps/log"
)

// Status tracks an adapter through its lifecycle.
type Status uint8

// Adapter lifecycle states. Initialize moves Uninitialized to Ready,
// Disconnect parks the adapter at Disconnected.
const (
	Uninitialized Status = iota
	Ready
	Disconnected
)

// String implements the stringer interface
func (s Status) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// Base is the shared concrete half of a venue adapter. Venue packages
// embed it; the embedding type implements IExchange.
type Base struct {
	Name     string
	Verbose  bool
	Features protocol.Features

	Requester *request.Requester
	Signer    auth.Strategy
	Websocket *stream.Manager

	Markets *market.Store
	Prices  *ticker.Cache

	status    atomic.Uint32
	streamMtx sync.Mutex

	lifeMtx    sync.Mutex
	lifeCtx    context.Context
	lifeCancel context.CancelFunc
}

// GetName returns the venue identifier.
func (b *Base) GetName() string {
	return b.Name
}

// Capabilities returns a copy of the adapter's capability table.
func (b *Base) Capabilities() protocol.Features {
	return b.Features.Clone()
}

// Status returns the adapter lifecycle state.
func (b *Base) Status() Status {
	return Status(b.status.Load())
}

// IsReady reports whether operations may be serviced.
func (b *Base) IsReady() bool {
	return b.Status() == Ready
}

// CheckReady gates an operation on adapter state. Everything other
// than Initialize and Disconnect requires Ready.
func (b *Base) CheckReady() error {
	if s := b.Status(); s != Ready {
		return errs.New(b.Name, errs.ErrNotInitialized, "adapter is "+s.String())
	}
	return nil
}

// CheckCapability gates an operation on the capability table.
func (b *Base) CheckCapability(op protocol.Operation) error {
	if !b.Features.Supports(op) {
		return errs.New(b.Name, errs.ErrNotSupported, string(op))
	}
	return nil
}

// RequireCredentials fails when no signing credentials were supplied.
// No network traffic is involved.
func (b *Base) RequireCredentials() error {
	if b.Signer == nil || !b.Signer.Ready() {
		return errs.New(b.Name, errs.ErrMissingCredentials, "signing credentials not configured")
	}
	return nil
}

// Gate runs the capability check and then the state check. An
// unsupported operation reports NotSupported even on an adapter that
// was never initialized.
func (b *Base) Gate(op protocol.Operation) error {
	if err := b.CheckCapability(op); err != nil {
		return err
	}
	return b.CheckReady()
}

// AuthGate runs Gate and then the credential check.
func (b *Base) AuthGate(op protocol.Operation) error {
	if err := b.Gate(op); err != nil {
		return err
	}
	return b.RequireCredentials()
}

// Init is the shared initialize choreography: verify venue
// connectivity by loading the market table, then transition to Ready.
// Calling it on a Ready adapter returns immediately.
func (b *Base) Init(ctx context.Context, fetch market.FetchFunc) error {
	if b.IsReady() {
		return nil
	}
	// Fresh lifecycle context first: the connectivity probe below rides
	// RequestContext, which must not observe a context cancelled by an
	// earlier Disconnect.
	b.lifeMtx.Lock()
	if b.lifeCtx == nil || b.lifeCtx.Err() != nil {
		b.lifeCtx, b.lifeCancel = context.WithCancel(context.Background())
	}
	b.lifeMtx.Unlock()
	if _, err := b.Markets.Get(ctx, fetch); err != nil {
		return errs.Wrap(b.Name, errs.ErrExchangeUnavailable, err)
	}
	b.status.Store(uint32(Ready))
	log.ExchangeSys.Info().Str("exchange", b.Name).Msg("adapter ready")
	return nil
}

// Disconnect aborts in-flight requests, shuts the websocket, clears
// both caches and parks the adapter at Disconnected. Safe to call
// repeatedly and from any state.
func (b *Base) Disconnect() error {
	if b.Status() == Disconnected {
		return nil
	}
	b.lifeMtx.Lock()
	if b.lifeCancel != nil {
		b.lifeCancel()
	}
	b.lifeMtx.Unlock()
	if b.Websocket != nil {
		if err := b.Websocket.Client().Shutdown(); err != nil && !errors.Is(err, stream.ErrNotConnected) {
			log.ExchangeSys.Warn().Str("exchange", b.Name).Err(err).Msg("websocket shutdown")
		}
	}
	if b.Markets != nil {
		b.Markets.Invalidate()
	}
	if b.Prices != nil {
		b.Prices.Invalidate()
	}
	b.status.Store(uint32(Disconnected))
	log.ExchangeSys.Info().Str("exchange", b.Name).Msg("adapter disconnected")
	return nil
}

// RequestContext derives a context that is additionally cancelled when
// the adapter disconnects, so Disconnect aborts in-flight requests.
// The returned cancel must always be called.
func (b *Base) RequestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	b.lifeMtx.Lock()
	life := b.lifeCtx
	b.lifeMtx.Unlock()
	if life == nil {
		return ctx, func() {}
	}
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(life, func() { cancel() })
	return opCtx, func() { stop(); cancel() }
}

// ConnectStream dials the venue websocket if it is not already up.
// Concurrent callers collapse onto a single dial.
func (b *Base) ConnectStream(ctx context.Context) error {
	if b.Websocket == nil {
		return errs.New(b.Name, errs.ErrNotSupported, "websocket transport not configured")
	}
	b.streamMtx.Lock()
	defer b.streamMtx.Unlock()
	c := b.Websocket.Client()
	if c.IsConnected() {
		return nil
	}
	if err := c.Connect(ctx); err != nil && !errors.Is(err, stream.ErrAlreadyConnected) {
		return err
	}
	return nil
}

// PairToVenue resolves the venue-native symbol for a unified pair
// through the loaded market table.
func (b *Base) PairToVenue(symbol currency.Pair) (string, error) {
	m, err := b.Markets.BySymbol(symbol)
	if err != nil {
		return "", err
	}
	return m.VenueSymbol, nil
}

// PairFromVenue resolves the unified pair for a venue-native symbol
// through the loaded market table.
func (b *Base) PairFromVenue(venueSymbol string) (currency.Pair, error) {
	m, err := b.Markets.ByVenueSymbol(venueSymbol)
	if err != nil {
		return currency.EMPTYPAIR, err
	}
	return m.Symbol, nil
}
