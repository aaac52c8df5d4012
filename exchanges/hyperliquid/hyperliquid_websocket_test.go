package hyperliquid

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratospect/goperps/config"
	"github.com/stratospect/goperps/currency"
	"github.com/stratospect/goperps/errs"
	"github.com/stratospect/goperps/exchanges/futures"
	"github.com/stratospect/goperps/exchanges/market"
	"github.com/stratospect/goperps/exchanges/order"
	"github.com/stratospect/goperps/exchanges/stream"
)

// wsVenue is a fake venue socket. It records subscription control
// frames and exposes the server side of each connection so tests can
// push channel data.
type wsVenue struct {
	url     string
	control chan wsRequest
	conns   chan *websocket.Conn
}

func newWsVenue(t *testing.T) *wsVenue {
	t.Helper()
	v := &wsVenue{
		control: make(chan wsRequest, 16),
		conns:   make(chan *websocket.Conn, 4),
	}
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		v.conns <- conn
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req wsRequest
			if json.Unmarshal(msg, &req) == nil {
				v.control <- req
			}
		}
	}))
	t.Cleanup(srv.Close)
	v.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return v
}

func (v *wsVenue) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-v.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no venue side connection")
	}
	return nil
}

func (v *wsVenue) expectControl(t *testing.T) wsRequest {
	t.Helper()
	select {
	case req := <-v.control:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("venue received no control frame before timeout")
	}
	return wsRequest{}
}

func (v *wsVenue) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case req := <-v.control:
		t.Fatalf("unexpected control frame: %+v", req)
	case <-time.After(d):
	}
}

// staticMarkets primes the market table from the shared universe
// fixture without a REST round trip.
func staticMarkets(context.Context) ([]market.Market, error) {
	var meta Meta
	if err := json.Unmarshal([]byte(defaultMeta), &meta); err != nil {
		return nil, err
	}
	out := make([]market.Market, len(meta.Universe))
	for i := range meta.Universe {
		out[i] = marketFromAsset(&meta.Universe[i], i)
	}
	return out, nil
}

// newStreamExchange builds a Ready adapter whose socket points at the
// fake venue.
func newStreamExchange(t *testing.T, v *wsVenue, key string) *Exchange {
	t.Helper()
	e, err := New(&config.Options{PrivateKey: key})
	require.NoError(t, err)
	client, err := stream.NewClient(stream.Config{Venue: venueName, URL: v.url})
	require.NoError(t, err)
	e.Websocket, err = stream.NewManager(client, wsRoutingKey, 16)
	require.NoError(t, err)
	require.NoError(t, e.Init(context.Background(), staticMarkets))
	t.Cleanup(func() { _ = e.Disconnect() })
	return e
}

func recvOn[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "stream closed early")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("stream delivered nothing before timeout")
	}
	var zero T
	return zero
}

func requireStreamClosed[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWsRoutingKey(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name  string
		frame string
		key   string
		ok    bool
	}{
		{"trades", `{"channel":"trades","data":[{"coin":"BTC","side":"B","px":"1","sz":"1","time":1,"tid":7}]}`, "trades:BTC", true},
		{"book", `{"channel":"l2Book","data":{"coin":"ETH","time":1,"levels":[[],[]]}}`, "l2Book:ETH", true},
		{"assetCtx", `{"channel":"activeAssetCtx","data":{"coin":"BTC","ctx":{}}}`, "activeAssetCtx:BTC", true},
		{"orderUpdates", `{"channel":"orderUpdates","data":[]}`, "orderUpdates", true},
		{"webData2", `{"channel":"webData2","data":{}}`, "webData2", true},
		{"subscriptionAck", `{"channel":"subscriptionResponse","data":{"method":"subscribe"}}`, "", false},
		{"pong", `{"channel":"pong"}`, "", false},
		{"tradesWithoutCoin", `{"channel":"trades","data":[]}`, "", false},
		{"malformed", `not json`, "", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			key, ok := wsRoutingKey([]byte(tc.frame))
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.key, key)
		})
	}
}

func TestWatchOrderBookStream(t *testing.T) {
	t.Parallel()
	v := newWsVenue(t)
	e := newStreamExchange(t, v, testPrivateKey)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	books, err := e.WatchOrderBook(ctx, currency.NewPair(currency.NewCode("BTC"), currency.USDT))
	require.NoError(t, err)

	sub := v.expectControl(t)
	assert.Equal(t, wsMethodSubscribe, sub.Method)
	assert.Equal(t, wsChannelL2Book, sub.Subscription.Type)
	assert.Equal(t, "BTC", sub.Subscription.Coin)

	conn := v.conn(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(
		`{"channel":"l2Book","data":{"coin":"BTC","time":1700000000000,`+
			`"levels":[[{"px":"50000","sz":"0.5","n":3}],[{"px":"50100","sz":"0.3","n":2}]]}}`)))

	book := recvOn(t, books)
	require.Len(t, book.Bids, 1)
	require.Len(t, book.Asks, 1)
	assert.True(t, book.Bids[0].Price.Equal(decimal.NewFromInt(50000)))
	assert.True(t, book.Bids[0].Amount.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, book.Asks[0].Price.Equal(decimal.NewFromInt(50100)))

	cancel()
	requireStreamClosed(t, books)

	unsub := v.expectControl(t)
	assert.Equal(t, wsMethodUnsubscribe, unsub.Method)
	assert.Equal(t, wsChannelL2Book, unsub.Subscription.Type)
	assert.Equal(t, "BTC", unsub.Subscription.Coin)
}

func TestWatchTradesStream(t *testing.T) {
	t.Parallel()
	v := newWsVenue(t)
	e := newStreamExchange(t, v, testPrivateKey)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trades, err := e.WatchTrades(ctx, currency.NewPair(currency.NewCode("BTC"), currency.USDT))
	require.NoError(t, err)

	sub := v.expectControl(t)
	assert.Equal(t, wsChannelTrades, sub.Subscription.Type)
	assert.Equal(t, "BTC", sub.Subscription.Coin)

	conn := v.conn(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(
		`{"channel":"trades","data":[`+
			`{"coin":"BTC","side":"B","px":"50000","sz":"0.1","hash":"0xa","time":1700000000000,"tid":1},`+
			`{"coin":"BTC","side":"A","px":"50001","sz":"0.2","hash":"0xb","time":1700000000001,"tid":2}]}`)))

	first := recvOn(t, trades)
	assert.Equal(t, "1", first.ID)
	assert.Equal(t, order.Buy, first.Side)
	assert.True(t, first.Price.Equal(decimal.NewFromInt(50000)))
	assert.True(t, first.Cost.Equal(decimal.NewFromInt(5000)))

	second := recvOn(t, trades)
	assert.Equal(t, order.Sell, second.Side)
}

func TestWatchTickerStream(t *testing.T) {
	t.Parallel()
	v := newWsVenue(t)
	e := newStreamExchange(t, v, testPrivateKey)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prices, err := e.WatchTicker(ctx, currency.NewPair(currency.NewCode("BTC"), currency.USDT))
	require.NoError(t, err)

	sub := v.expectControl(t)
	assert.Equal(t, wsChannelActiveAssetCtx, sub.Subscription.Type)
	assert.Equal(t, "BTC", sub.Subscription.Coin)

	conn := v.conn(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(
		`{"channel":"activeAssetCtx","data":{"coin":"BTC","ctx":{`+
			`"funding":"0.00001","openInterest":"100","prevDayPx":"49000","dayNtlVlm":"1000",`+
			`"premium":"0","oraclePx":"50010","markPx":"50005","midPx":"50000.5","impactPxs":["50000","50001"]}}}`)))

	price := recvOn(t, prices)
	assert.True(t, price.Last.Equal(decimal.RequireFromString("50000.5")))
	assert.True(t, price.MarkPrice.Equal(decimal.NewFromInt(50005)))
	assert.True(t, price.Bid.Equal(decimal.NewFromInt(50000)))
	assert.True(t, price.Ask.Equal(decimal.NewFromInt(50001)))
}

func TestWatchOrdersStream(t *testing.T) {
	t.Parallel()
	v := newWsVenue(t)
	e := newStreamExchange(t, v, testPrivateKey)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orders, err := e.WatchOrders(ctx)
	require.NoError(t, err)

	sub := v.expectControl(t)
	assert.Equal(t, wsChannelOrderUpdates, sub.Subscription.Type)
	assert.Equal(t, e.user, sub.Subscription.User)
	assert.Empty(t, sub.Subscription.Coin)

	conn := v.conn(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(
		`{"channel":"orderUpdates","data":[{`+
			`"order":{"coin":"BTC","side":"B","limitPx":"50000","sz":"0","oid":123,`+
			`"timestamp":1700000000000,"origSz":"0.1","orderType":"Limit","tif":"Gtc"},`+
			`"status":"filled","statusTimestamp":1700000001000}]}`)))

	d := recvOn(t, orders)
	assert.Equal(t, "123", d.ID)
	assert.Equal(t, order.Filled, d.Status)
	assert.True(t, d.Filled.Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, time.UnixMilli(1700000001000).UTC(), d.Timestamp.UTC())
}

func TestWatchAccountSharesSubscription(t *testing.T) {
	t.Parallel()
	v := newWsVenue(t)
	e := newStreamExchange(t, v, testPrivateKey)
	posCtx, cancelPositions := context.WithCancel(context.Background())
	defer cancelPositions()
	balCtx, cancelBalance := context.WithCancel(context.Background())
	defer cancelBalance()

	positions, err := e.WatchPositions(posCtx)
	require.NoError(t, err)
	sub := v.expectControl(t)
	assert.Equal(t, wsChannelWebData2, sub.Subscription.Type)
	assert.Equal(t, e.user, sub.Subscription.User)

	balances, err := e.WatchBalance(balCtx)
	require.NoError(t, err)
	v.expectSilence(t, 100*time.Millisecond)

	conn := v.conn(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(
		`{"channel":"webData2","data":{"clearinghouseState":{`+
			`"assetPositions":[{"type":"oneWay","position":{"coin":"ETH","szi":"-2.5","entryPx":"3000",`+
			`"unrealizedPnl":"-12.5","liquidationPx":"3600","maxLeverage":50,`+
			`"leverage":{"type":"isolated","value":5}}}],`+
			`"marginSummary":{"accountValue":"10000","totalNtlPos":"7500","totalRawUsd":"10000","totalMarginUsed":"1500"},`+
			`"withdrawable":"8500","time":1700000000000}}}`)))

	pos := recvOn(t, positions)
	assert.Equal(t, futures.Short, pos.Side)
	assert.True(t, pos.Size.Equal(decimal.RequireFromString("2.5")))

	bal := recvOn(t, balances)
	assert.Equal(t, currency.USDT, bal.Currency)
	assert.True(t, bal.Total.Equal(decimal.NewFromInt(10000)))
	assert.True(t, bal.Free.Equal(decimal.NewFromInt(8500)))
	assert.True(t, bal.Used.Equal(decimal.NewFromInt(1500)))

	// The first consumer leaving must not tear down the shared
	// subscription.
	cancelPositions()
	requireStreamClosed(t, positions)
	v.expectSilence(t, 100*time.Millisecond)

	cancelBalance()
	requireStreamClosed(t, balances)
	unsub := v.expectControl(t)
	assert.Equal(t, wsMethodUnsubscribe, unsub.Method)
	assert.Equal(t, wsChannelWebData2, unsub.Subscription.Type)
}

func TestWatchRequiresCredentials(t *testing.T) {
	t.Parallel()
	v := newWsVenue(t)
	e := newStreamExchange(t, v, "")

	_, err := e.WatchOrders(context.Background())
	require.ErrorIs(t, err, errs.ErrMissingCredentials)
	_, err = e.WatchPositions(context.Background())
	require.ErrorIs(t, err, errs.ErrMissingCredentials)

	select {
	case <-v.conns:
		t.Fatal("credential failure must not dial the venue")
	default:
	}
}

func TestWatchUnknownSymbol(t *testing.T) {
	t.Parallel()
	v := newWsVenue(t)
	e := newStreamExchange(t, v, testPrivateKey)

	_, err := e.WatchOrderBook(context.Background(), currency.NewPair(currency.NewCode("XYZ"), currency.USDT))
	require.ErrorIs(t, err, market.ErrMarketNotFound)

	select {
	case <-v.conns:
		t.Fatal("unknown symbol must not dial the venue")
	default:
	}
}
