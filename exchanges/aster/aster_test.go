package aster

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratospect/goperps/config"
	"github.com/stratospect/goperps/currency"
	"github.com/stratospect/goperps/errs"
	"github.com/stratospect/goperps/exchanges/futures"
	"github.com/stratospect/goperps/exchanges/kline"
	"github.com/stratospect/goperps/exchanges/margin"
	"github.com/stratospect/goperps/exchanges/market"
	"github.com/stratospect/goperps/exchanges/order"
	"github.com/stratospect/goperps/exchanges/protocol"
)

// Throwaway credentials in the venue's key format.
const (
	testAPIKey    = "vmPUZE6mv9SD5VNHk4HlWFsOr6aKE2zvsw0MuIgwCIPy6utIco14y7Ju91duEh8A"
	testAPISecret = "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
)

const defaultExchangeInfo = `{"timezone":"UTC","serverTime":1700000000000,"symbols":[
	{"symbol":"BTCUSDT","pair":"BTCUSDT","contractType":"PERPETUAL","status":"TRADING",
	 "baseAsset":"BTC","quoteAsset":"USDT","marginAsset":"USDT",
	 "pricePrecision":2,"quantityPrecision":3,
	 "filters":[{"filterType":"PRICE_FILTER","minPrice":"556.80","maxPrice":"4529764","tickSize":"0.10"},
	            {"filterType":"LOT_SIZE","minQty":"0.001","maxQty":"1000","stepSize":"0.001"},
	            {"filterType":"MIN_NOTIONAL","notional":"5"}]},
	{"symbol":"ETHUSDT","pair":"ETHUSDT","contractType":"PERPETUAL","status":"TRADING",
	 "baseAsset":"ETH","quoteAsset":"USDT","marginAsset":"USDT",
	 "pricePrecision":2,"quantityPrecision":2,
	 "filters":[{"filterType":"PRICE_FILTER","tickSize":"0.01"},
	            {"filterType":"LOT_SIZE","minQty":"0.01","stepSize":"0.01"},
	            {"filterType":"MIN_NOTIONAL","notional":"5"}]},
	{"symbol":"BTCUSDT_QUARTER","pair":"BTCUSDT","contractType":"CURRENT_QUARTER","status":"TRADING",
	 "baseAsset":"BTC","quoteAsset":"USDT","marginAsset":"USDT",
	 "pricePrecision":2,"quantityPrecision":3,"filters":[]},
	{"symbol":"DOGEUSDT","pair":"DOGEUSDT","contractType":"PERPETUAL","status":"SETTLING",
	 "baseAsset":"DOGE","quoteAsset":"USDT","marginAsset":"USDT",
	 "pricePrecision":5,"quantityPrecision":0,
	 "filters":[{"filterType":"PRICE_FILTER","tickSize":"0.00001"},
	            {"filterType":"LOT_SIZE","minQty":"1","stepSize":"1"},
	            {"filterType":"MIN_NOTIONAL","notional":"5"}]}]}`

// recordedRequest captures one request as the venue saw it.
type recordedRequest struct {
	method  string
	path    string
	query   url.Values
	raw     string
	headers http.Header
}

// venueMock serves canned bodies keyed by "METHOD path" and records
// every request for assertion.
type venueMock struct {
	routes map[string]string
	status map[string]int

	hits atomic.Int64
	mtx  sync.Mutex
	reqs []recordedRequest
}

func newVenueMock() *venueMock {
	return &venueMock{
		routes: map[string]string{"GET " + exchangeInfoPath: defaultExchangeInfo},
		status: map[string]int{},
	}
}

func (v *venueMock) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	v.hits.Add(1)
	v.mtx.Lock()
	v.reqs = append(v.reqs, recordedRequest{
		method:  r.Method,
		path:    r.URL.Path,
		query:   r.URL.Query(),
		raw:     r.URL.RawQuery,
		headers: r.Header.Clone(),
	})
	v.mtx.Unlock()
	key := r.Method + " " + r.URL.Path
	body, ok := v.routes[key]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if status, ok := v.status[key]; ok {
		w.WriteHeader(status)
	}
	_, _ = w.Write([]byte(body))
}

// requestFor returns the most recent request matching method and path.
func (v *venueMock) requestFor(t *testing.T, method, path string) recordedRequest {
	t.Helper()
	v.mtx.Lock()
	defer v.mtx.Unlock()
	for i := len(v.reqs) - 1; i >= 0; i-- {
		if v.reqs[i].method == method && v.reqs[i].path == path {
			return v.reqs[i]
		}
	}
	t.Fatalf("no %s %s reached the venue", method, path)
	return recordedRequest{}
}

// verifySignature recomputes the HMAC over the raw query minus the
// trailing signature parameter and compares.
func verifySignature(t *testing.T, req recordedRequest) {
	t.Helper()
	sig := req.query.Get("signature")
	require.NotEmpty(t, sig, "signed request carries no signature")
	payload, found := strings.CutSuffix(req.raw, "&signature="+sig)
	require.True(t, found, "signature must be the trailing parameter: %s", req.raw)
	mac := hmac.New(sha256.New, []byte(testAPISecret))
	mac.Write([]byte(payload))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig)
	assert.Equal(t, testAPIKey, req.headers.Get("X-MBX-APIKEY"))
}

func newTestExchange(t *testing.T, mock *venueMock, withCreds bool) *Exchange {
	t.Helper()
	srv := httptest.NewServer(mock)
	t.Cleanup(srv.Close)
	opts := &config.Options{
		RPCEndpoint: srv.URL,
		HTTPClient:  srv.Client(),
		Retry: &config.Retry{
			MaxAttempts:  1,
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
		},
	}
	if withCreds {
		opts.APIKey = testAPIKey
		opts.APISecret = testAPISecret
	}
	e, err := New(opts)
	require.NoError(t, err)
	return e
}

func newReadyExchange(t *testing.T, mock *venueMock) *Exchange {
	t.Helper()
	e := newTestExchange(t, mock, true)
	require.NoError(t, e.Initialize(context.Background()))
	return e
}

func TestNew(t *testing.T) {
	t.Parallel()

	e, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, venueName, e.GetName())
	assert.Equal(t, apiURL, e.api)
	assert.Equal(t, wsURL, e.wsAPI)

	e, err = New(&config.Options{Testnet: true})
	require.NoError(t, err)
	assert.Equal(t, testnetAPIURL, e.api)
	assert.Equal(t, testnetWSURL, e.wsAPI)

	e, err = New(&config.Options{RPCEndpoint: "http://localhost:3001/"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3001", e.api)
}

func TestNewBrokerCode(t *testing.T) {
	t.Parallel()

	e, err := New(&config.Options{BuilderCode: "BRK1"})
	require.NoError(t, err)
	assert.Equal(t, "BRK1", e.broker)

	e, err = New(&config.Options{ReferralCode: "REF2"})
	require.NoError(t, err)
	assert.Equal(t, "REF2", e.broker, "referral code backs the broker tag when no builder code is set")
}

func TestFetchMarketsMapsExchangeInfo(t *testing.T) {
	t.Parallel()
	e := newReadyExchange(t, newVenueMock())

	markets, err := e.FetchMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 3, "non-perpetual contracts must be dropped")

	m := markets[0]
	assert.Equal(t, "BTC/USDT:USDT", m.Symbol.String())
	assert.Equal(t, "BTCUSDT", m.VenueSymbol)
	assert.True(t, m.Active)
	assert.Equal(t, 2, m.PricePrecision)
	assert.Equal(t, 3, m.AmountPrecision)
	assert.True(t, m.TickSize.Equal(decimal.RequireFromString("0.10")), "tick %s", m.TickSize)
	assert.True(t, m.StepSize.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, m.MinAmount.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, m.MinNotional.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, 8, m.FundingHours)

	assert.False(t, markets[2].Active, "a settling contract must map inactive")
}

func TestSymbolMappingRoundTrip(t *testing.T) {
	t.Parallel()
	e := newReadyExchange(t, newVenueMock())
	markets, err := e.FetchMarkets(context.Background())
	require.NoError(t, err)

	for _, m := range markets {
		venueSym, err := e.SymbolToVenue(m.Symbol)
		require.NoError(t, err)
		assert.Equal(t, m.VenueSymbol, venueSym)

		back, err := e.SymbolFromVenue(venueSym)
		require.NoError(t, err)
		assert.True(t, back.Equal(m.Symbol), "%s != %s", back, m.Symbol)
	}

	_, err = e.SymbolToVenue(currency.NewPair(currency.NewCode("XYZ"), currency.USDT))
	require.ErrorIs(t, err, market.ErrMarketNotFound)
	_, err = e.SymbolFromVenue("XYZUSDT")
	require.ErrorIs(t, err, market.ErrMarketNotFound)
}

func TestInitializeUnavailableVenue(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	e, err := New(&config.Options{
		RPCEndpoint: srv.URL,
		HTTPClient:  srv.Client(),
		Retry:       &config.Retry{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	})
	require.NoError(t, err)

	err = e.Initialize(context.Background())
	require.ErrorIs(t, err, errs.ErrExchangeUnavailable)
	assert.False(t, e.IsReady())

	_, err = e.FetchMarkets(context.Background())
	require.ErrorIs(t, err, errs.ErrNotInitialized)
}

func TestFetchTicker(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["GET "+ticker24hPath] = `{"symbol":"BTCUSDT","priceChange":"500.1","priceChangePercent":"1.01",
		"weightedAvgPrice":"49800","lastPrice":"50000.5","lastQty":"0.25","openPrice":"49500","highPrice":"50200",
		"lowPrice":"49400","volume":"1200.5","quoteVolume":"60000000","openTime":1699913600000,
		"closeTime":1700000000000,"count":276316}`
	mock.routes["GET "+bookTickerPath] = `{"symbol":"BTCUSDT","bidPrice":"50000.1","bidQty":"2.5",
		"askPrice":"50000.9","askQty":"1.1","time":1700000000100}`
	e := newReadyExchange(t, mock)

	symbol := currency.NewPair(currency.NewCode("BTC"), currency.USDT)
	price, err := e.FetchTicker(context.Background(), symbol)
	require.NoError(t, err)
	assert.True(t, price.Last.Equal(decimal.RequireFromString("50000.5")), "last %s", price.Last)
	assert.True(t, price.High.Equal(decimal.RequireFromString("50200")))
	assert.True(t, price.Low.Equal(decimal.RequireFromString("49400")))
	assert.True(t, price.Volume.Equal(decimal.RequireFromString("1200.5")))
	assert.True(t, price.QuoteVolume.Equal(decimal.NewFromInt(60000000)))
	assert.True(t, price.Bid.Equal(decimal.RequireFromString("50000.1")), "bid rides the book ticker")
	assert.True(t, price.Ask.Equal(decimal.RequireFromString("50000.9")))
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), price.Timestamp.UTC())

	assert.Equal(t, "BTCUSDT", mock.requestFor(t, http.MethodGet, ticker24hPath).query.Get("symbol"))

	hits := mock.hits.Load()
	_, err = e.FetchTicker(context.Background(), symbol)
	require.NoError(t, err)
	assert.Equal(t, hits, mock.hits.Load(), "a fresh snapshot must come from the cache")
}

func TestFetchOrderBook(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["GET "+depthPath] = `{"lastUpdateId":1027024,"E":1700000000000,"T":1699999999900,
		"bids":[["50000.10","0.5"],["50000.00","1.2"]],"asks":[["50000.90","0.3"]]}`
	e := newReadyExchange(t, mock)

	symbol := currency.NewPair(currency.NewCode("BTC"), currency.USDT)
	book, err := e.FetchOrderBook(context.Background(), symbol)
	require.NoError(t, err)
	require.Len(t, book.Bids, 2)
	require.Len(t, book.Asks, 1)
	assert.True(t, book.Bids[0].Price.Equal(decimal.RequireFromString("50000.10")))
	assert.True(t, book.Bids[0].Amount.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, book.Asks[0].Price.Equal(decimal.RequireFromString("50000.90")))
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), book.Timestamp.UTC())

	req := mock.requestFor(t, http.MethodGet, depthPath)
	assert.Equal(t, "BTCUSDT", req.query.Get("symbol"))
	assert.Equal(t, "100", req.query.Get("limit"))
}

func TestFetchOrderBookCrossed(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["GET "+depthPath] = `{"lastUpdateId":1,"E":1700000000000,"T":1700000000000,
		"bids":[["50000","0.5"],["50001","1.0"]],"asks":[["50002","0.3"]]}`
	e := newReadyExchange(t, mock)

	_, err := e.FetchOrderBook(context.Background(), currency.NewPair(currency.NewCode("BTC"), currency.USDT))
	require.ErrorIs(t, err, errs.ErrBadResponse, "ascending bids must be rejected")
}

func TestFetchTrades(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["GET "+tradesPath] = `[
		{"id":657,"price":"50000","qty":"0.1","quoteQty":"5000","time":1700000000000,"isBuyerMaker":false},
		{"id":658,"price":"49999","qty":"0.2","quoteQty":"9999.8","time":1700000000100,"isBuyerMaker":true}]`
	e := newReadyExchange(t, mock)

	trades, err := e.FetchTrades(context.Background(), currency.NewPair(currency.NewCode("BTC"), currency.USDT))
	require.NoError(t, err)
	require.Len(t, trades, 2)

	assert.Equal(t, "657", trades[0].ID)
	assert.Equal(t, order.Buy, trades[0].Side, "a taker lifting the maker's offer prints as a buy")
	assert.True(t, trades[0].Cost.Equal(decimal.NewFromInt(5000)), "cost %s", trades[0].Cost)
	assert.Equal(t, order.Sell, trades[1].Side, "a buyer-maker print was a sell-side taker")
	require.NoError(t, trades[0].Validate())
}

func TestFetchOHLCV(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["GET "+klinesPath] = `[
		[1700000000000,"50000","50200","49900","50100","12.5",1700003599999,"625000",320,"6.1","305000","0"],
		[1700003600000,"50100","50150","50000","50050","8.25",1700007199999,"413000",150,"4.2","210000","0"]]`
	e := newReadyExchange(t, mock)
	symbol := currency.NewPair(currency.NewCode("BTC"), currency.USDT)

	item, err := e.FetchOHLCV(context.Background(), symbol, kline.OneHour, time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, item.Candles, 2)
	assert.Equal(t, kline.OneHour, item.Interval)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), item.Candles[0].Time.UTC())
	assert.True(t, item.Candles[0].Open.Equal(decimal.NewFromInt(50000)))
	assert.True(t, item.Candles[0].High.Equal(decimal.NewFromInt(50200)))
	assert.True(t, item.Candles[0].Low.Equal(decimal.NewFromInt(49900)))
	assert.True(t, item.Candles[1].Close.Equal(decimal.NewFromInt(50050)))
	assert.True(t, item.Candles[1].Volume.Equal(decimal.RequireFromString("8.25")))

	req := mock.requestFor(t, http.MethodGet, klinesPath)
	assert.Equal(t, "1h", req.query.Get("interval"))
	assert.Equal(t, "2", req.query.Get("limit"))

	hits := mock.hits.Load()
	_, err = e.FetchOHLCV(context.Background(), symbol, kline.Interval(7*time.Minute), time.Time{}, 10)
	require.ErrorIs(t, err, kline.ErrUnsupportedInterval)
	assert.Equal(t, hits, mock.hits.Load(), "unsupported interval must not reach the venue")
}

func TestFetchOHLCVShortRow(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["GET "+klinesPath] = `[[1700000000000,"50000","50200","49900"]]`
	e := newReadyExchange(t, mock)

	_, err := e.FetchOHLCV(context.Background(),
		currency.NewPair(currency.NewCode("BTC"), currency.USDT), kline.OneHour, time.Time{}, 1)
	require.ErrorIs(t, err, errs.ErrBadResponse)
}

func TestFetchFundingRate(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["GET "+premiumIndexPath] = `{"symbol":"BTCUSDT","markPrice":"50005.1","indexPrice":"50003.2",
		"lastFundingRate":"0.0001","interestRate":"0.0001","nextFundingTime":1700028800000,"time":1700000000000}`
	e := newReadyExchange(t, mock)

	rate, err := e.FetchFundingRate(context.Background(), currency.NewPair(currency.NewCode("BTC"), currency.USDT))
	require.NoError(t, err)
	assert.True(t, rate.Rate.Equal(decimal.RequireFromString("0.0001")), "rate %s", rate.Rate)
	assert.True(t, rate.MarkPrice.Equal(decimal.RequireFromString("50005.1")))
	assert.True(t, rate.IndexPrice.Equal(decimal.RequireFromString("50003.2")))
	next := time.UnixMilli(1700028800000)
	assert.Equal(t, next, rate.NextFundingTime)
	assert.Equal(t, next.Add(-8*time.Hour), rate.FundingTime)
	assert.Equal(t, 8, rate.IntervalHours)
}

func TestFetchFundingRateHistory(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["GET "+fundingRatePath] = `[
		{"symbol":"BTCUSDT","fundingRate":"0.00001","fundingTime":1700000000000},
		{"symbol":"BTCUSDT","fundingRate":"0.00002","fundingTime":1700028800000},
		{"symbol":"BTCUSDT","fundingRate":"0.00003","fundingTime":1700057600000}]`
	e := newReadyExchange(t, mock)
	symbol := currency.NewPair(currency.NewCode("BTC"), currency.USDT)

	history, err := e.FetchFundingRateHistory(context.Background(), symbol, time.Unix(1699990000, 0), 200)
	require.NoError(t, err)
	require.Len(t, history.Rates, 3)
	assert.True(t, history.Rates[0].Rate.Equal(decimal.RequireFromString("0.00001")))
	assert.Equal(t, time.UnixMilli(1700057600000).UTC(), history.Rates[2].Time.UTC())

	latest, err := history.Latest()
	require.NoError(t, err)
	assert.True(t, latest.Rate.Equal(decimal.RequireFromString("0.00003")))

	req := mock.requestFor(t, http.MethodGet, fundingRatePath)
	assert.Equal(t, "BTCUSDT", req.query.Get("symbol"))
	assert.Equal(t, "1699990000000", req.query.Get("startTime"))
	assert.Equal(t, "200", req.query.Get("limit"))
}

func TestFetchPositions(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["GET "+positionRiskPath] = `[
		{"symbol":"ETHUSDT","positionAmt":"-2.5","entryPrice":"3000","markPrice":"3005.5",
		 "unRealizedProfit":"-13.75","liquidationPrice":"3600","leverage":"5","marginType":"isolated",
		 "isolatedMargin":"1500","positionSide":"BOTH","notional":"-7513.75","updateTime":1700000000000},
		{"symbol":"BTCUSDT","positionAmt":"0","entryPrice":"0","markPrice":"50000",
		 "unRealizedProfit":"0","liquidationPrice":"0","leverage":"20","marginType":"cross",
		 "isolatedMargin":"0","positionSide":"BOTH","notional":"0","updateTime":1700000000000}]`
	e := newReadyExchange(t, mock)

	positions, err := e.FetchPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1, "flat contracts must be dropped")

	p := positions[0]
	assert.Equal(t, futures.Short, p.Side)
	assert.True(t, p.Size.Equal(decimal.RequireFromString("2.5")), "size %s", p.Size)
	assert.True(t, p.EntryPrice.Equal(decimal.NewFromInt(3000)))
	assert.True(t, p.MarkPrice.Equal(decimal.RequireFromString("3005.5")))
	assert.True(t, p.UnrealisedPNL.Equal(decimal.RequireFromString("-13.75")))
	assert.True(t, p.Leverage.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, margin.Isolated, p.MarginMode)
	require.True(t, p.LiquidationPrice.Valid)
	assert.True(t, p.LiquidationPrice.Decimal.Equal(decimal.NewFromInt(3600)))
	require.NoError(t, p.Validate())

	verifySignature(t, mock.requestFor(t, http.MethodGet, positionRiskPath))

	_, err = e.FetchPositions(context.Background(), currency.NewPair(currency.NewCode("ETH"), currency.USDT))
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", mock.requestFor(t, http.MethodGet, positionRiskPath).query.Get("symbol"),
		"a single filter symbol narrows the venue query")
}

func TestFetchBalance(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["GET "+balancePath] = `[
		{"accountAlias":"SgsR","asset":"USDT","balance":"10000","crossWalletBalance":"9400",
		 "crossUnPnl":"-13.75","availableBalance":"8500","maxWithdrawAmount":"8500",
		 "marginAvailable":true,"updateTime":1700000000000},
		{"accountAlias":"SgsR","asset":"BNB","balance":"1.5","crossWalletBalance":"1.5",
		 "crossUnPnl":"0","availableBalance":"1.5","maxWithdrawAmount":"1.5",
		 "marginAvailable":true,"updateTime":1699990000000}]`
	e := newReadyExchange(t, mock)

	holdings, err := e.FetchBalance(context.Background())
	require.NoError(t, err)
	require.Len(t, holdings.Balances, 2)

	b := holdings.Balances[0]
	assert.Equal(t, currency.USDT, b.Currency)
	assert.True(t, b.Total.Equal(decimal.NewFromInt(10000)))
	assert.True(t, b.Free.Equal(decimal.NewFromInt(8500)))
	assert.True(t, b.Used.Equal(decimal.NewFromInt(1500)), "used %s", b.Used)
	require.NoError(t, b.Validate())
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), holdings.Timestamp.UTC())

	req := mock.requestFor(t, http.MethodGet, balancePath)
	verifySignature(t, req)
	assert.Equal(t, "5000", req.query.Get("recvWindow"))
	assert.NotEmpty(t, req.query.Get("timestamp"))
}

func TestFetchOpenOrders(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["GET "+openOrdersPath] = `[
		{"orderId":1917641,"symbol":"BTCUSDT","status":"PARTIALLY_FILLED","clientOrderId":"web_abc",
		 "price":"50000.1","avgPrice":"50000.0","origQty":"0.100","executedQty":"0.025","cumQuote":"1250",
		 "timeInForce":"GTC","type":"LIMIT","origType":"LIMIT","reduceOnly":false,"closePosition":false,
		 "side":"BUY","positionSide":"BOTH","stopPrice":"0","time":1700000000000,"updateTime":1700000001000},
		{"orderId":1917642,"symbol":"ETHUSDT","status":"NEW","clientOrderId":"web_def",
		 "price":"3100","avgPrice":"0","origQty":"1.00","executedQty":"0","cumQuote":"0",
		 "timeInForce":"GTX","type":"STOP","origType":"STOP","reduceOnly":true,"closePosition":false,
		 "side":"SELL","positionSide":"BOTH","stopPrice":"3150","time":1700000002000,"updateTime":1700000002000}]`
	e := newReadyExchange(t, mock)

	all, err := e.FetchOpenOrders(context.Background(), currency.EMPTYPAIR)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Empty(t, mock.requestFor(t, http.MethodGet, openOrdersPath).query.Get("symbol"),
		"an empty symbol queries every contract")

	first := all[0]
	assert.Equal(t, "1917641", first.ID)
	assert.Equal(t, "web_abc", first.ClientOrderID)
	assert.Equal(t, order.Buy, first.Side)
	assert.Equal(t, order.Limit, first.Type)
	assert.Equal(t, order.PartiallyFilled, first.Status)
	assert.True(t, first.Amount.Equal(decimal.RequireFromString("0.1")))
	assert.True(t, first.Filled.Equal(decimal.RequireFromString("0.025")))
	assert.True(t, first.Remaining.Equal(decimal.RequireFromString("0.075")), "remaining %s", first.Remaining)
	assert.Equal(t, time.UnixMilli(1700000001000).UTC(), first.Timestamp.UTC())
	require.NoError(t, first.Validate())

	second := all[1]
	assert.Equal(t, order.StopLimit, second.Type, "the venue's bare STOP is a stop limit")
	assert.Equal(t, order.Open, second.Status)
	assert.True(t, second.PostOnly)
	assert.True(t, second.ReduceOnly)
	assert.True(t, second.TriggerPrice.Equal(decimal.NewFromInt(3150)))

	_, err = e.FetchOpenOrders(context.Background(), currency.NewPair(currency.NewCode("ETH"), currency.USDT))
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", mock.requestFor(t, http.MethodGet, openOrdersPath).query.Get("symbol"))
}

func TestFetchOrderHistory(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["GET "+allOrdersPath] = `[
		{"orderId":1,"symbol":"BTCUSDT","status":"FILLED","clientOrderId":"a",
		 "price":"50000","avgPrice":"49999.5","origQty":"0.1","executedQty":"0.1","cumQuote":"4999.95",
		 "timeInForce":"GTC","type":"LIMIT","origType":"LIMIT","side":"BUY","positionSide":"BOTH",
		 "stopPrice":"0","time":1700000000000,"updateTime":1700000005000},
		{"orderId":2,"symbol":"BTCUSDT","status":"EXPIRED_IN_MATCH","clientOrderId":"b",
		 "price":"50500","avgPrice":"0","origQty":"0.2","executedQty":"0","cumQuote":"0",
		 "timeInForce":"GTC","type":"LIMIT","origType":"LIMIT","side":"SELL","positionSide":"BOTH",
		 "stopPrice":"0","time":1700000006000,"updateTime":1700000007000}]`
	e := newReadyExchange(t, mock)
	symbol := currency.NewPair(currency.NewCode("BTC"), currency.USDT)

	history, err := e.FetchOrderHistory(context.Background(), symbol)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, order.Filled, history[0].Status)
	assert.True(t, history[0].AverageFillPrice.Equal(decimal.RequireFromString("49999.5")))
	assert.Equal(t, order.Cancelled, history[1].Status, "self-trade expiry folds into cancelled")

	hits := mock.hits.Load()
	_, err = e.FetchOrderHistory(context.Background(), currency.EMPTYPAIR)
	require.ErrorIs(t, err, errs.ErrBadRequest)
	assert.Equal(t, hits, mock.hits.Load(), "a missing symbol is rejected locally")
}

func TestFetchMyTrades(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["GET "+userTradesPath] = `[
		{"id":6970456,"orderId":1917641,"symbol":"BTCUSDT","side":"BUY","price":"50000","qty":"0.1",
		 "quoteQty":"5000","commission":"2","commissionAsset":"USDT","realizedPnl":"0",
		 "buyer":true,"maker":false,"time":1700000000000},
		{"id":6970457,"orderId":1917650,"symbol":"BTCUSDT","side":"SELL","price":"50100","qty":"0.1",
		 "quoteQty":"5010","commission":"1","commissionAsset":"USDT","realizedPnl":"10",
		 "buyer":false,"maker":true,"time":1700000002000}]`
	e := newReadyExchange(t, mock)
	symbol := currency.NewPair(currency.NewCode("BTC"), currency.USDT)

	trades, err := e.FetchMyTrades(context.Background(), symbol)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	taker := trades[0]
	assert.Equal(t, "6970456", taker.ID)
	assert.Equal(t, "1917641", taker.OrderID)
	assert.Equal(t, order.Buy, taker.Side)
	assert.False(t, taker.Maker)
	assert.True(t, taker.Cost.Equal(decimal.NewFromInt(5000)), "cost %s", taker.Cost)
	require.NoError(t, taker.Validate())
	assert.True(t, trades[1].Maker)

	hits := mock.hits.Load()
	_, err = e.FetchMyTrades(context.Background(), currency.EMPTYPAIR)
	require.ErrorIs(t, err, errs.ErrBadRequest)
	assert.Equal(t, hits, mock.hits.Load(), "a missing symbol is rejected locally")
}

func TestCreateOrderLimit(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["POST "+orderPath] = `{"orderId":325078477,"symbol":"BTCUSDT","status":"NEW",
		"clientOrderId":"mine-1","price":"50000.1","avgPrice":"0","origQty":"0.1","executedQty":"0",
		"cumQuote":"0","timeInForce":"GTC","type":"LIMIT","origType":"LIMIT","reduceOnly":false,
		"closePosition":false,"side":"BUY","positionSide":"BOTH","stopPrice":"0",
		"time":1700000000000,"updateTime":1700000000000}`
	e := newReadyExchange(t, mock)

	detail, err := e.CreateOrder(context.Background(), &order.Submit{
		Symbol:        currency.NewPair(currency.NewCode("BTC"), currency.USDT),
		Type:          order.Limit,
		Side:          order.Buy,
		Amount:        decimal.RequireFromString("0.1009"),
		Price:         decimal.RequireFromString("50000.17"),
		ClientOrderID: "mine-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "325078477", detail.ID)
	assert.Equal(t, "mine-1", detail.ClientOrderID)
	assert.Equal(t, order.Open, detail.Status)
	assert.True(t, detail.Remaining.Equal(decimal.RequireFromString("0.1")))
	require.NoError(t, detail.Validate())

	req := mock.requestFor(t, http.MethodPost, orderPath)
	verifySignature(t, req)
	assert.Equal(t, "BTCUSDT", req.query.Get("symbol"))
	assert.Equal(t, "BUY", req.query.Get("side"))
	assert.Equal(t, "LIMIT", req.query.Get("type"))
	assert.Equal(t, "0.1", req.query.Get("quantity"), "quantity truncates to the contract step")
	assert.Equal(t, "50000.1", req.query.Get("price"), "price truncates to the contract tick")
	assert.Equal(t, "GTC", req.query.Get("timeInForce"))
	assert.Equal(t, "RESULT", req.query.Get("newOrderRespType"))
	assert.Equal(t, "mine-1", req.query.Get("newClientOrderId"))
}

func TestCreateOrderMarket(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["POST "+orderPath] = `{"orderId":325078478,"symbol":"BTCUSDT","status":"FILLED",
		"clientOrderId":"gen","price":"0","avgPrice":"50001.2","origQty":"0.5","executedQty":"0.5",
		"cumQuote":"25000.6","timeInForce":"GTC","type":"MARKET","origType":"MARKET","side":"SELL",
		"positionSide":"BOTH","stopPrice":"0","time":1700000000000,"updateTime":1700000000000}`
	e := newReadyExchange(t, mock)

	detail, err := e.CreateOrder(context.Background(), &order.Submit{
		Symbol: currency.NewPair(currency.NewCode("BTC"), currency.USDT),
		Type:   order.Market,
		Side:   order.Sell,
		Amount: decimal.RequireFromString("0.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, order.Filled, detail.Status)
	assert.True(t, detail.AverageFillPrice.Equal(decimal.RequireFromString("50001.2")))
	assert.True(t, detail.Remaining.IsZero())

	req := mock.requestFor(t, http.MethodPost, orderPath)
	assert.Equal(t, "MARKET", req.query.Get("type"))
	assert.Empty(t, req.query.Get("price"), "market orders carry no price")
	assert.Empty(t, req.query.Get("timeInForce"))
	assert.NotEmpty(t, req.query.Get("newClientOrderId"), "client id is generated when none supplied")
}

func TestCreateOrderTriggers(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		submit    order.Submit
		wantType  string
		wantPx    string
		wantStop  string
		wantNoTIF bool
	}{
		"stop market": {
			submit: order.Submit{
				Type: order.StopMarket, Side: order.Sell,
				Amount:       decimal.RequireFromString("0.1"),
				TriggerPrice: decimal.RequireFromString("48000.2"),
			},
			wantType: "STOP_MARKET", wantStop: "48000.2", wantNoTIF: true,
		},
		"stop limit": {
			submit: order.Submit{
				Type: order.StopLimit, Side: order.Sell,
				Amount:       decimal.RequireFromString("0.1"),
				Price:        decimal.RequireFromString("47900"),
				TriggerPrice: decimal.RequireFromString("48000"),
			},
			wantType: "STOP", wantPx: "47900", wantStop: "48000",
		},
		"take profit market": {
			submit: order.Submit{
				Type: order.TakeProfit, Side: order.Sell,
				Amount:       decimal.RequireFromString("0.1"),
				TriggerPrice: decimal.RequireFromString("52000"),
			},
			wantType: "TAKE_PROFIT_MARKET", wantStop: "52000", wantNoTIF: true,
		},
		"take profit limit": {
			submit: order.Submit{
				Type: order.TakeProfit, Side: order.Sell,
				Amount:       decimal.RequireFromString("0.1"),
				Price:        decimal.RequireFromString("51900"),
				TriggerPrice: decimal.RequireFromString("52000"),
			},
			wantType: "TAKE_PROFIT", wantPx: "51900", wantStop: "52000",
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			mock := newVenueMock()
			mock.routes["POST "+orderPath] = `{"orderId":1,"symbol":"BTCUSDT","status":"NEW",
				"clientOrderId":"x","price":"0","avgPrice":"0","origQty":"0.1","executedQty":"0",
				"cumQuote":"0","timeInForce":"GTC","type":"` + tc.wantType + `","origType":"` + tc.wantType + `",
				"side":"SELL","positionSide":"BOTH","stopPrice":"0","time":1700000000000,"updateTime":1700000000000}`
			e := newReadyExchange(t, mock)

			submit := tc.submit
			submit.Symbol = currency.NewPair(currency.NewCode("BTC"), currency.USDT)
			_, err := e.CreateOrder(context.Background(), &submit)
			require.NoError(t, err)

			req := mock.requestFor(t, http.MethodPost, orderPath)
			assert.Equal(t, tc.wantType, req.query.Get("type"))
			assert.Equal(t, tc.wantPx, req.query.Get("price"))
			assert.Equal(t, tc.wantStop, req.query.Get("stopPrice"))
			if tc.wantNoTIF {
				assert.Empty(t, req.query.Get("timeInForce"))
			}
		})
	}
}

func TestCreateOrderPostOnly(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["POST "+orderPath] = `{"orderId":2,"symbol":"BTCUSDT","status":"NEW","clientOrderId":"x",
		"price":"50000","avgPrice":"0","origQty":"0.1","executedQty":"0","cumQuote":"0","timeInForce":"GTX",
		"type":"LIMIT","origType":"LIMIT","side":"BUY","positionSide":"BOTH","stopPrice":"0",
		"time":1700000000000,"updateTime":1700000000000}`
	e := newReadyExchange(t, mock)

	detail, err := e.CreateOrder(context.Background(), &order.Submit{
		Symbol:   currency.NewPair(currency.NewCode("BTC"), currency.USDT),
		Type:     order.Limit,
		Side:     order.Buy,
		Amount:   decimal.RequireFromString("0.1"),
		Price:    decimal.NewFromInt(50000),
		PostOnly: true,
	})
	require.NoError(t, err)
	assert.True(t, detail.PostOnly)

	assert.Equal(t, "GTX", mock.requestFor(t, http.MethodPost, orderPath).query.Get("timeInForce"),
		"post-only rides the GTX time in force")
}

func TestCreateOrderInsufficientMargin(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["POST "+orderPath] = `{"code":-2019,"msg":"Margin is insufficient."}`
	mock.status["POST "+orderPath] = http.StatusBadRequest
	e := newReadyExchange(t, mock)

	_, err := e.CreateOrder(context.Background(), &order.Submit{
		Symbol: currency.NewPair(currency.NewCode("BTC"), currency.USDT),
		Type:   order.Limit,
		Side:   order.Buy,
		Amount: decimal.NewFromInt(100),
		Price:  decimal.NewFromInt(50000),
	})
	require.ErrorIs(t, err, errs.ErrInsufficientMargin)
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["DELETE "+orderPath] = `{"orderId":283194212,"symbol":"BTCUSDT","status":"CANCELED",
		"clientOrderId":"mine-1","price":"50000","avgPrice":"0","origQty":"0.1","executedQty":"0",
		"cumQuote":"0","timeInForce":"GTC","type":"LIMIT","origType":"LIMIT","side":"BUY",
		"positionSide":"BOTH","stopPrice":"0","time":1700000000000,"updateTime":1700000001000}`
	e := newReadyExchange(t, mock)
	symbol := currency.NewPair(currency.NewCode("BTC"), currency.USDT)

	require.NoError(t, e.CancelOrder(context.Background(), "283194212", symbol))

	req := mock.requestFor(t, http.MethodDelete, orderPath)
	verifySignature(t, req)
	assert.Equal(t, "BTCUSDT", req.query.Get("symbol"))
	assert.Equal(t, "283194212", req.query.Get("orderId"))

	err := e.CancelOrder(context.Background(), "not-a-number", symbol)
	require.ErrorIs(t, err, errs.ErrInvalidOrder)
}

func TestCancelOrderUnknown(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["DELETE "+orderPath] = `{"code":-2011,"msg":"Unknown order sent."}`
	mock.status["DELETE "+orderPath] = http.StatusBadRequest
	e := newReadyExchange(t, mock)

	err := e.CancelOrder(context.Background(), "999", currency.NewPair(currency.NewCode("BTC"), currency.USDT))
	require.ErrorIs(t, err, errs.ErrOrderNotFound)
}

func TestCancelAllOrders(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["DELETE "+allOpenOrdersPath] = `{"code":200,"msg":"The operation of cancel all open order is done."}`
	e := newReadyExchange(t, mock)

	require.NoError(t, e.CancelAllOrders(context.Background(), currency.NewPair(currency.NewCode("BTC"), currency.USDT)))

	req := mock.requestFor(t, http.MethodDelete, allOpenOrdersPath)
	verifySignature(t, req)
	assert.Equal(t, "BTCUSDT", req.query.Get("symbol"))
}

func TestCancelAllOrdersAcrossContracts(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["GET "+openOrdersPath] = `[
		{"orderId":1,"symbol":"BTCUSDT","status":"NEW","clientOrderId":"a","price":"50000","avgPrice":"0",
		 "origQty":"0.1","executedQty":"0","cumQuote":"0","timeInForce":"GTC","type":"LIMIT","origType":"LIMIT",
		 "side":"BUY","positionSide":"BOTH","stopPrice":"0","time":1700000000000,"updateTime":1700000000000},
		{"orderId":2,"symbol":"ETHUSDT","status":"NEW","clientOrderId":"b","price":"3100","avgPrice":"0",
		 "origQty":"1","executedQty":"0","cumQuote":"0","timeInForce":"GTC","type":"LIMIT","origType":"LIMIT",
		 "side":"SELL","positionSide":"BOTH","stopPrice":"0","time":1700000000000,"updateTime":1700000000000},
		{"orderId":3,"symbol":"BTCUSDT","status":"NEW","clientOrderId":"c","price":"49000","avgPrice":"0",
		 "origQty":"0.2","executedQty":"0","cumQuote":"0","timeInForce":"GTC","type":"LIMIT","origType":"LIMIT",
		 "side":"BUY","positionSide":"BOTH","stopPrice":"0","time":1700000000000,"updateTime":1700000000000}]`
	mock.routes["DELETE "+allOpenOrdersPath] = `{"code":200,"msg":"done"}`
	e := newReadyExchange(t, mock)

	require.NoError(t, e.CancelAllOrders(context.Background(), currency.EMPTYPAIR))

	mock.mtx.Lock()
	defer mock.mtx.Unlock()
	var cancelled []string
	for _, req := range mock.reqs {
		if req.method == http.MethodDelete && req.path == allOpenOrdersPath {
			cancelled = append(cancelled, req.query.Get("symbol"))
		}
	}
	assert.ElementsMatch(t, []string{"BTCUSDT", "ETHUSDT"}, cancelled,
		"each contract with an open order is cancelled once")
}

func TestCancelAllOrdersBadAck(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["DELETE "+allOpenOrdersPath] = `{"code":500,"msg":"internal"}`
	e := newReadyExchange(t, mock)

	err := e.CancelAllOrders(context.Background(), currency.NewPair(currency.NewCode("BTC"), currency.USDT))
	require.ErrorIs(t, err, errs.ErrBadResponse)
}

func TestSetLeverage(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	mock.routes["POST "+leveragePath] = `{"leverage":21,"maxNotionalValue":"1000000","symbol":"BTCUSDT"}`
	e := newReadyExchange(t, mock)
	symbol := currency.NewPair(currency.NewCode("BTC"), currency.USDT)

	require.NoError(t, e.SetLeverage(context.Background(), symbol, 21))

	req := mock.requestFor(t, http.MethodPost, leveragePath)
	verifySignature(t, req)
	assert.Equal(t, "BTCUSDT", req.query.Get("symbol"))
	assert.Equal(t, "21", req.query.Get("leverage"))

	hits := mock.hits.Load()
	err := e.SetLeverage(context.Background(), symbol, 0)
	require.ErrorIs(t, err, errs.ErrBadRequest)
	assert.Equal(t, hits, mock.hits.Load(), "sub-unit leverage is rejected locally")
}

func TestMapHTTPError(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		body string
		want error
	}{
		"rate limit":           {`{"code":-1003,"msg":"Way too many requests."}`, errs.ErrRateLimit},
		"stale timestamp":      {`{"code":-1021,"msg":"Timestamp for this request is outside of the recvWindow."}`, errs.ErrExpiredAuth},
		"bad signature":        {`{"code":-1022,"msg":"Signature for this request is not valid."}`, errs.ErrInvalidSignature},
		"unknown order":        {`{"code":-2011,"msg":"Unknown order sent."}`, errs.ErrOrderNotFound},
		"insufficient balance": {`{"code":-2018,"msg":"Balance is insufficient."}`, errs.ErrInsufficientBalance},
		"min notional":         {`{"code":-4164,"msg":"Order's notional must be no smaller than 5 (unless you choose reduce only). MIN_NOTIONAL"}`, errs.ErrMinimumOrderSize},
		"message heuristic":    {`{"code":-9999,"msg":"Margin is insufficient."}`, errs.ErrInsufficientMargin},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			err := mapHTTPError(http.StatusBadRequest, []byte(tc.body))
			require.ErrorIs(t, err, tc.want)
		})
	}

	assert.NoError(t, mapHTTPError(http.StatusBadRequest, []byte(`not json`)),
		"unparseable bodies fall through to the status table")
	assert.NoError(t, mapHTTPError(http.StatusBadRequest, []byte(`{"code":-9999,"msg":"weird"}`)),
		"unrecognized codes fall through to the status table")
}

func TestCapabilityGateShortCircuits(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	e := newReadyExchange(t, mock)
	e.Features[protocol.FetchOrderBook] = protocol.Unsupported
	hits := mock.hits.Load()

	_, err := e.FetchOrderBook(context.Background(), currency.NewPair(currency.NewCode("BTC"), currency.USDT))
	require.ErrorIs(t, err, errs.ErrNotSupported)
	assert.Equal(t, hits, mock.hits.Load(), "disabled capability must not touch the network")
}

func TestCredentialGateShortCircuits(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	e := newTestExchange(t, mock, false)
	require.NoError(t, e.Initialize(context.Background()))
	hits := mock.hits.Load()

	_, err := e.FetchBalance(context.Background())
	require.ErrorIs(t, err, errs.ErrMissingCredentials)
	_, err = e.CreateOrder(context.Background(), &order.Submit{
		Symbol: currency.NewPair(currency.NewCode("BTC"), currency.USDT),
		Type:   order.Limit,
		Side:   order.Buy,
		Amount: decimal.RequireFromString("0.1"),
		Price:  decimal.NewFromInt(50000),
	})
	require.ErrorIs(t, err, errs.ErrMissingCredentials)
	assert.Equal(t, hits, mock.hits.Load(), "missing credentials must not touch the network")
}

func TestRetryOnTooManyRequests(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, `{"code":-1003,"msg":"Too many requests."}`, http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(defaultExchangeInfo))
	}))
	t.Cleanup(srv.Close)
	e, err := New(&config.Options{
		RPCEndpoint: srv.URL,
		HTTPClient:  srv.Client(),
		Retry:       &config.Retry{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	require.NoError(t, err)

	require.NoError(t, e.Initialize(context.Background()))
	assert.Equal(t, int64(2), calls.Load(), "first attempt throttled, second served")
}

func TestSignedRetryResigns(t *testing.T) {
	t.Parallel()
	var (
		mtx     sync.Mutex
		queries []string
	)
	mock := newVenueMock()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == balancePath {
			mtx.Lock()
			queries = append(queries, r.URL.RawQuery)
			n := len(queries)
			mtx.Unlock()
			if n == 1 {
				http.Error(w, `{"code":-1003,"msg":"Too many requests."}`, http.StatusTooManyRequests)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[]`))
			return
		}
		mock.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	e, err := New(&config.Options{
		APIKey:      testAPIKey,
		APISecret:   testAPISecret,
		RPCEndpoint: srv.URL,
		HTTPClient:  srv.Client(),
		Retry:       &config.Retry{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	require.NoError(t, err)
	require.NoError(t, e.Initialize(context.Background()))

	_, err = e.FetchBalance(context.Background())
	require.NoError(t, err)

	mtx.Lock()
	defer mtx.Unlock()
	require.Len(t, queries, 2)
	for _, raw := range queries {
		vals, err := url.ParseQuery(raw)
		require.NoError(t, err)
		sig := vals.Get("signature")
		payload, found := strings.CutSuffix(raw, "&signature="+sig)
		require.True(t, found)
		mac := hmac.New(sha256.New, []byte(testAPISecret))
		mac.Write([]byte(payload))
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig, "every attempt is signed over its own query")
	}
}

func TestDisconnectAndReinitialize(t *testing.T) {
	t.Parallel()
	mock := newVenueMock()
	e := newReadyExchange(t, mock)

	require.NoError(t, e.Disconnect())
	_, err := e.FetchMarkets(context.Background())
	require.ErrorIs(t, err, errs.ErrNotInitialized)

	require.NoError(t, e.Initialize(context.Background()))
	_, err = e.FetchMarkets(context.Background())
	require.NoError(t, err)
}
