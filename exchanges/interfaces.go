package exchange

import (
	"context"
	"time"

	"github.com/stratospect/goperps/currency"
	"github.com/stratospect/goperps/exchanges/account"
	"github.com/stratospect/goperps/exchanges/fundingrate"
	"github.com/stratospect/goperps/exchanges/futures"
	"github.com/stratospect/goperps/exchanges/kline"
	"github.com/stratospect/goperps/exchanges/market"
	"github.com/stratospect/goperps/exchanges/order"
	"github.com/stratospect/goperps/exchanges/orderbook"
	"github.com/stratospect/goperps/exchanges/protocol"
	"github.com/stratospect/goperps/exchanges/ticker"
	"github.com/stratospect/goperps/exchanges/trade"
)

// IExchange enforces the unified operational contract for every
// supported venue. Operations validate their inputs and run the
// capability, state and credential gates before any network I/O.
type IExchange interface {
	// Initialize verifies venue connectivity by loading the market
	// table and moves the adapter to Ready. Idempotent.
	Initialize(ctx context.Context) error
	// Disconnect releases streams, clears caches and parks the adapter
	// at Disconnected. Safe to call repeatedly.
	Disconnect() error
	GetName() string
	Capabilities() protocol.Features

	// SymbolToVenue and SymbolFromVenue translate between unified
	// BASE/QUOTE:SETTLE symbols and the venue's native notation. Both
	// are deterministic and bijective over the venue's listings.
	SymbolToVenue(symbol currency.Pair) (string, error)
	SymbolFromVenue(venueSymbol string) (currency.Pair, error)

	MarketDataProvider
	AccountProvider
	OrderManagement
	Streamer
}

// MarketDataProvider defines the public, unauthenticated data surface.
type MarketDataProvider interface {
	FetchMarkets(ctx context.Context) ([]market.Market, error)
	FetchTicker(ctx context.Context, symbol currency.Pair) (*ticker.Price, error)
	FetchOrderBook(ctx context.Context, symbol currency.Pair) (*orderbook.Book, error)
	FetchTrades(ctx context.Context, symbol currency.Pair) ([]trade.Data, error)
	FetchOHLCV(ctx context.Context, symbol currency.Pair, interval kline.Interval, since time.Time, limit int) (*kline.Item, error)
	FetchFundingRate(ctx context.Context, symbol currency.Pair) (*fundingrate.Rate, error)
	FetchFundingRateHistory(ctx context.Context, symbol currency.Pair, since time.Time, limit int) (*fundingrate.History, error)
}

// AccountProvider defines the signed read surface. An empty symbol
// widens the query to all markets where the venue allows it.
type AccountProvider interface {
	FetchPositions(ctx context.Context, symbols ...currency.Pair) ([]futures.Position, error)
	FetchBalance(ctx context.Context) (*account.Holdings, error)
	FetchOpenOrders(ctx context.Context, symbol currency.Pair) ([]order.Detail, error)
	FetchOrderHistory(ctx context.Context, symbol currency.Pair) ([]order.Detail, error)
	FetchMyTrades(ctx context.Context, symbol currency.Pair) ([]trade.Data, error)
}

// OrderManagement defines the trading surface.
type OrderManagement interface {
	CreateOrder(ctx context.Context, s *order.Submit) (*order.Detail, error)
	CancelOrder(ctx context.Context, orderID string, symbol currency.Pair) error
	CancelAllOrders(ctx context.Context, symbol currency.Pair) error
	SetLeverage(ctx context.Context, symbol currency.Pair, leverage int) error
}

// Streamer defines the websocket streams. Each call returns a lazy,
// non-restartable sequence; the channel closes when the consumer's
// context is cancelled or the adapter disconnects. Cancellation is
// the sole unsubscribe trigger.
type Streamer interface {
	WatchTicker(ctx context.Context, symbol currency.Pair) (<-chan ticker.Price, error)
	WatchOrderBook(ctx context.Context, symbol currency.Pair) (<-chan orderbook.Book, error)
	WatchTrades(ctx context.Context, symbol currency.Pair) (<-chan trade.Data, error)
	WatchPositions(ctx context.Context) (<-chan futures.Position, error)
	WatchOrders(ctx context.Context) (<-chan order.Detail, error)
	WatchBalance(ctx context.Context) (<-chan account.Balance, error)
}
