// Package aster implements the venue adapter for the Aster perpetual
// futures exchange. The REST surface is fapi-compatible: signed
// requests carry an HMAC-SHA256 signature over the query string and
// private streams ride a listen-key socket.
package aster

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/stratospect/goperps/common"
	"github.com/stratospect/goperps/config"
	"github.com/stratospect/goperps/errs"
	exchange "github.com/stratospect/goperps/exchanges"
	"github.com/stratospect/goperps/exchanges/auth"
	"github.com/stratospect/goperps/exchanges/market"
	"github.com/stratospect/goperps/exchanges/protocol"
	"github.com/stratospect/goperps/exchanges/request"
	"github.com/stratospect/goperps/exchanges/stream"
	"github.com/stratospect/goperps/exchanges/ticker"
)

const (
	apiURL        = "https://fapi.asterdex.com"
	testnetAPIURL = "https://testnet.asterdex.com"
	wsURL         = "wss://fstream.asterdex.com"
	testnetWSURL  = "wss://testnet-fstream.asterdex.com"

	venueName = "aster"

	// recvWindow bounds how stale a signed request may be by the time
	// the venue checks it, in milliseconds.
	recvWindow = 5000
)

// REST routes.
const (
	exchangeInfoPath  = "/fapi/v1/exchangeInfo"
	depthPath         = "/fapi/v1/depth"
	tradesPath        = "/fapi/v1/trades"
	klinesPath        = "/fapi/v1/klines"
	premiumIndexPath  = "/fapi/v1/premiumIndex"
	fundingRatePath   = "/fapi/v1/fundingRate"
	ticker24hPath     = "/fapi/v1/ticker/24hr"
	bookTickerPath    = "/fapi/v1/ticker/bookTicker"
	balancePath       = "/fapi/v2/balance"
	positionRiskPath  = "/fapi/v2/positionRisk"
	orderPath         = "/fapi/v1/order"
	openOrdersPath    = "/fapi/v1/openOrders"
	allOrdersPath     = "/fapi/v1/allOrders"
	allOpenOrdersPath = "/fapi/v1/allOpenOrders"
	userTradesPath    = "/fapi/v1/userTrades"
	leveragePath      = "/fapi/v1/leverage"
	listenKeyPath     = "/fapi/v1/listenKey"
)

// Exchange implements the unified adapter contract for Aster.
type Exchange struct {
	exchange.Base

	api     string
	wsAPI   string
	broker  string
	weights map[string]int

	wsID       atomic.Int64
	userStream userStream
}

// New constructs the adapter from opts. The adapter stays
// Uninitialized until Initialize verifies venue connectivity.
func New(opts *config.Options) (*Exchange, error) {
	opts, err := config.Ensure(opts)
	if err != nil {
		return nil, err
	}

	e := &Exchange{
		api:    apiURL,
		wsAPI:  wsURL,
		broker: opts.BuilderCode,
	}
	if e.broker == "" {
		e.broker = opts.ReferralCode
	}
	if opts.Testnet {
		e.api = testnetAPIURL
		e.wsAPI = testnetWSURL
	}
	if opts.RPCEndpoint != "" {
		e.api = strings.TrimSuffix(opts.RPCEndpoint, "/")
	}
	if opts.RateLimit != nil {
		e.weights = opts.RateLimit.Weights
	}

	e.Base = exchange.Base{
		Name:     venueName,
		Verbose:  opts.Debug,
		Features: defaultFeatures(),
		Signer:   auth.NewHMAC(opts.APIKey, opts.APISecret, auth.WithRecvWindow(recvWindow)),
		Markets:  market.NewStore(market.DefaultTTL),
		Prices:   ticker.NewCache(ticker.DefaultCacheTTL),
	}

	client := opts.HTTPClient
	if client == nil {
		client = common.NewHTTPClientWithTimeout(opts.Timeout)
	}
	e.Requester = request.New(venueName, client,
		request.WithLimiter(rateLimits(opts.RateLimit)),
		request.WithBackoff(request.ExponentialBackoff(
			opts.Retry.InitialDelay, opts.Retry.MaxDelay, opts.Retry.Multiplier, opts.Retry.Jitter)),
		request.WithMaxAttempts(opts.Retry.MaxAttempts),
		request.WithBreaker(request.BreakerSettings{
			FailureThreshold: opts.Breaker.FailureThreshold,
			ResetTimeout:     opts.Breaker.ResetTimeout,
			SuccessThreshold: opts.Breaker.SuccessThreshold,
		}),
		request.WithErrorMapper(mapHTTPError),
	)

	wsClient, err := stream.NewClient(stream.Config{
		Venue:     venueName,
		URL:       e.wsAPI + "/ws",
		Websocket: *opts.Websocket,
		Verbose:   opts.Debug,
	})
	if err != nil {
		return nil, err
	}
	e.Websocket, err = stream.NewManager(wsClient, marketRoutingKey, opts.Websocket.SubscriptionBuffer)
	if err != nil {
		return nil, err
	}
	e.userStream.cfg = *opts.Websocket
	return e, nil
}

// defaultFeatures is the venue capability table. Everything on the
// unified surface has a native route.
func defaultFeatures() protocol.Features {
	return protocol.Features{
		protocol.FetchMarkets:            protocol.Supported,
		protocol.FetchTicker:             protocol.Supported,
		protocol.FetchOrderBook:          protocol.Supported,
		protocol.FetchTrades:             protocol.Supported,
		protocol.FetchOHLCV:              protocol.Supported,
		protocol.FetchFundingRate:        protocol.Supported,
		protocol.FetchFundingRateHistory: protocol.Supported,
		protocol.FetchPositions:          protocol.Supported,
		protocol.FetchBalance:            protocol.Supported,
		protocol.FetchOpenOrders:         protocol.Supported,
		protocol.FetchOrderHistory:       protocol.Supported,
		protocol.FetchMyTrades:           protocol.Supported,
		protocol.CreateOrder:             protocol.Supported,
		protocol.CancelOrder:             protocol.Supported,
		protocol.CancelAllOrders:         protocol.Supported,
		protocol.SetLeverage:             protocol.Supported,
		protocol.WatchTicker:             protocol.Supported,
		protocol.WatchOrderBook:          protocol.Supported,
		protocol.WatchTrades:             protocol.Supported,
		protocol.WatchPositions:          protocol.Supported,
		protocol.WatchOrders:             protocol.Supported,
		protocol.WatchBalance:            protocol.Supported,
	}
}

// opCtx applies a configured per-operation weight override to the
// request context.
func (e *Exchange) opCtx(ctx context.Context, op protocol.Operation) context.Context {
	if w, ok := e.weights[string(op)]; ok && w > 0 {
		return request.WithWeight(ctx, w)
	}
	return ctx
}

// SendHTTPRequest issues one unauthenticated request.
func (e *Exchange) SendHTTPRequest(ctx context.Context, ep request.EndpointLimit, method, path string, vals url.Values, result any) error {
	target := e.api + path
	if encoded := vals.Encode(); encoded != "" {
		target += "?" + encoded
	}
	ctx, cancel := e.RequestContext(ctx)
	defer cancel()
	return e.Requester.SendPayload(ctx, ep, func() (*request.Item, error) {
		return &request.Item{
			Method:  method,
			Path:    target,
			Result:  result,
			Verbose: e.Verbose,
		}, nil
	})
}

// SendAuthHTTPRequest issues one signed request. The envelope is
// rebuilt per attempt so retries carry a fresh timestamp and
// signature.
func (e *Exchange) SendAuthHTTPRequest(ctx context.Context, ep request.EndpointLimit, method, path string, vals url.Values, result any) error {
	ctx, cancel := e.RequestContext(ctx)
	defer cancel()
	return e.Requester.SendPayload(ctx, ep, func() (*request.Item, error) {
		env := auth.NewEnvelope(method, path)
		env.Query = maps.Clone(vals)
		if env.Query == nil {
			env.Query = url.Values{}
		}
		if err := e.Signer.Sign(ctx, env); err != nil {
			return nil, err
		}
		return &request.Item{
			Method:      method,
			Path:        e.api + path + "?" + env.RawQuery,
			Headers:     env.Headers,
			Result:      result,
			AuthRequest: true,
			Verbose:     e.Verbose,
		}, nil
	})
}

// SendKeyedRequest issues one request that identifies the API key but
// carries no signature, the listen-key management convention.
func (e *Exchange) SendKeyedRequest(ctx context.Context, ep request.EndpointLimit, method, path string, result any) error {
	ctx, cancel := e.RequestContext(ctx)
	defer cancel()
	return e.Requester.SendPayload(ctx, ep, func() (*request.Item, error) {
		return &request.Item{
			Method:      method,
			Path:        e.api + path,
			Headers:     e.Signer.Headers(),
			Result:      result,
			AuthRequest: true,
			Verbose:     e.Verbose,
		}, nil
	})
}

// GetExchangeInfo returns the venue's contract listings and filters.
func (e *Exchange) GetExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	var info ExchangeInfo
	if err := e.SendHTTPRequest(ctx, metaEPL, http.MethodGet, exchangeInfoPath, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetDepth returns the order book snapshot for one contract.
func (e *Exchange) GetDepth(ctx context.Context, symbol string, limit int) (*Depth, error) {
	vals := url.Values{}
	vals.Set("symbol", symbol)
	if limit > 0 {
		vals.Set("limit", strconv.Itoa(limit))
	}
	var depth Depth
	if err := e.SendHTTPRequest(ctx, bookEPL, http.MethodGet, depthPath, vals, &depth); err != nil {
		return nil, err
	}
	return &depth, nil
}

// GetRecentTrades returns the latest public executions for one
// contract.
func (e *Exchange) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]RecentTrade, error) {
	vals := url.Values{}
	vals.Set("symbol", symbol)
	if limit > 0 {
		vals.Set("limit", strconv.Itoa(limit))
	}
	var trades []RecentTrade
	if err := e.SendHTTPRequest(ctx, tradesEPL, http.MethodGet, tradesPath, vals, &trades); err != nil {
		return nil, err
	}
	return trades, nil
}

// GetKlines returns OHLCV buckets for one contract.
func (e *Exchange) GetKlines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]Kline, error) {
	vals := url.Values{}
	vals.Set("symbol", symbol)
	vals.Set("interval", interval)
	if !start.IsZero() {
		vals.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		vals.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	}
	if limit > 0 {
		vals.Set("limit", strconv.Itoa(limit))
	}
	var klines []Kline
	if err := e.SendHTTPRequest(ctx, klineEPL, http.MethodGet, klinesPath, vals, &klines); err != nil {
		return nil, err
	}
	return klines, nil
}

// GetPremiumIndex returns mark price and funding state for one
// contract.
func (e *Exchange) GetPremiumIndex(ctx context.Context, symbol string) (*PremiumIndex, error) {
	vals := url.Values{}
	vals.Set("symbol", symbol)
	var premium PremiumIndex
	if err := e.SendHTTPRequest(ctx, premiumEPL, http.MethodGet, premiumIndexPath, vals, &premium); err != nil {
		return nil, err
	}
	return &premium, nil
}

// GetFundingRateHistory returns settled funding payments for one
// contract, oldest first.
func (e *Exchange) GetFundingRateHistory(ctx context.Context, symbol string, start time.Time, limit int) ([]FundingEntry, error) {
	vals := url.Values{}
	vals.Set("symbol", symbol)
	if !start.IsZero() {
		vals.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if limit > 0 {
		vals.Set("limit", strconv.Itoa(limit))
	}
	var entries []FundingEntry
	if err := e.SendHTTPRequest(ctx, fundingEPL, http.MethodGet, fundingRatePath, vals, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetTicker24h returns the rolling day statistics for one contract.
func (e *Exchange) GetTicker24h(ctx context.Context, symbol string) (*Ticker24h, error) {
	vals := url.Values{}
	vals.Set("symbol", symbol)
	var stats Ticker24h
	if err := e.SendHTTPRequest(ctx, tickerEPL, http.MethodGet, ticker24hPath, vals, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetBookTicker returns the top of book for one contract.
func (e *Exchange) GetBookTicker(ctx context.Context, symbol string) (*BookTicker, error) {
	vals := url.Values{}
	vals.Set("symbol", symbol)
	var top BookTicker
	if err := e.SendHTTPRequest(ctx, tickerEPL, http.MethodGet, bookTickerPath, vals, &top); err != nil {
		return nil, err
	}
	return &top, nil
}

// GetBalances returns the per-asset margin balances.
func (e *Exchange) GetBalances(ctx context.Context) ([]AssetBalance, error) {
	var balances []AssetBalance
	if err := e.SendAuthHTTPRequest(ctx, accountEPL, http.MethodGet, balancePath, nil, &balances); err != nil {
		return nil, err
	}
	return balances, nil
}

// GetPositionRisk returns position state, all contracts when symbol is
// empty.
func (e *Exchange) GetPositionRisk(ctx context.Context, symbol string) ([]PositionRisk, error) {
	vals := url.Values{}
	if symbol != "" {
		vals.Set("symbol", symbol)
	}
	var positions []PositionRisk
	if err := e.SendAuthHTTPRequest(ctx, accountEPL, http.MethodGet, positionRiskPath, vals, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// GetOpenOrders returns resting orders, all contracts when symbol is
// empty. The venue charges a far heavier weight for the unscoped
// query.
func (e *Exchange) GetOpenOrders(ctx context.Context, symbol string) ([]VenueOrder, error) {
	ep := openOrdersEPL
	vals := url.Values{}
	if symbol != "" {
		vals.Set("symbol", symbol)
	} else {
		ep = openOrdersAllEPL
	}
	var orders []VenueOrder
	if err := e.SendAuthHTTPRequest(ctx, ep, http.MethodGet, openOrdersPath, vals, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetAllOrders returns order history for one contract.
func (e *Exchange) GetAllOrders(ctx context.Context, symbol string, limit int) ([]VenueOrder, error) {
	vals := url.Values{}
	vals.Set("symbol", symbol)
	if limit > 0 {
		vals.Set("limit", strconv.Itoa(limit))
	}
	var orders []VenueOrder
	if err := e.SendAuthHTTPRequest(ctx, historyEPL, http.MethodGet, allOrdersPath, vals, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetUserTrades returns the account's executions for one contract.
func (e *Exchange) GetUserTrades(ctx context.Context, symbol string, limit int) ([]UserTrade, error) {
	vals := url.Values{}
	vals.Set("symbol", symbol)
	if limit > 0 {
		vals.Set("limit", strconv.Itoa(limit))
	}
	var fills []UserTrade
	if err := e.SendAuthHTTPRequest(ctx, historyEPL, http.MethodGet, userTradesPath, vals, &fills); err != nil {
		return nil, err
	}
	return fills, nil
}

// PostOrder submits one order built from vals.
func (e *Exchange) PostOrder(ctx context.Context, vals url.Values) (*VenueOrder, error) {
	var placed VenueOrder
	if err := e.SendAuthHTTPRequest(ctx, orderEPL, http.MethodPost, orderPath, vals, &placed); err != nil {
		return nil, err
	}
	return &placed, nil
}

// DeleteOrder cancels one resting order by venue id.
func (e *Exchange) DeleteOrder(ctx context.Context, symbol string, orderID int64) (*VenueOrder, error) {
	vals := url.Values{}
	vals.Set("symbol", symbol)
	vals.Set("orderId", strconv.FormatInt(orderID, 10))
	var cancelled VenueOrder
	if err := e.SendAuthHTTPRequest(ctx, orderEPL, http.MethodDelete, orderPath, vals, &cancelled); err != nil {
		return nil, err
	}
	return &cancelled, nil
}

// DeleteAllOpenOrders cancels every resting order on one contract.
func (e *Exchange) DeleteAllOpenOrders(ctx context.Context, symbol string) error {
	vals := url.Values{}
	vals.Set("symbol", symbol)
	var ack struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := e.SendAuthHTTPRequest(ctx, orderEPL, http.MethodDelete, allOpenOrdersPath, vals, &ack); err != nil {
		return err
	}
	if ack.Code != 200 {
		return errs.New(venueName, errs.ErrBadResponse, fmt.Sprintf("cancel all returned code %d: %s", ack.Code, ack.Msg))
	}
	return nil
}

// PostLeverage sets the leverage multiple for one contract.
func (e *Exchange) PostLeverage(ctx context.Context, symbol string, leverage int) error {
	vals := url.Values{}
	vals.Set("symbol", symbol)
	vals.Set("leverage", strconv.Itoa(leverage))
	var ack struct {
		Leverage int    `json:"leverage"`
		Symbol   string `json:"symbol"`
	}
	return e.SendAuthHTTPRequest(ctx, leverageEPL, http.MethodPost, leveragePath, vals, &ack)
}

// CreateListenKey opens a private stream session and returns its key.
func (e *Exchange) CreateListenKey(ctx context.Context) (string, error) {
	var resp ListenKey
	if err := e.SendKeyedRequest(ctx, listenKeyEPL, http.MethodPost, listenKeyPath, &resp); err != nil {
		return "", err
	}
	if resp.ListenKey == "" {
		return "", errs.New(venueName, errs.ErrBadResponse, "empty listen key")
	}
	return resp.ListenKey, nil
}

// KeepAliveListenKey extends the private stream session.
func (e *Exchange) KeepAliveListenKey(ctx context.Context) error {
	return e.SendKeyedRequest(ctx, listenKeyEPL, http.MethodPut, listenKeyPath, nil)
}

// CloseListenKey ends the private stream session.
func (e *Exchange) CloseListenKey(ctx context.Context) error {
	return e.SendKeyedRequest(ctx, listenKeyEPL, http.MethodDelete, listenKeyPath, nil)
}

// Venue error codes with a precise unified category. Everything else
// falls through to the message heuristics and the HTTP status table.
var apiErrorCodes = map[int]error{
	-1003: errs.ErrRateLimit,
	-1021: errs.ErrExpiredAuth,
	-1022: errs.ErrInvalidSignature,
	-1111: errs.ErrInvalidOrder,
	-1121: errs.ErrBadRequest,
	-2010: errs.ErrOrderRejected,
	-2011: errs.ErrOrderNotFound,
	-2013: errs.ErrOrderNotFound,
	-2018: errs.ErrInsufficientBalance,
	-2019: errs.ErrInsufficientMargin,
	-2021: errs.ErrOrderRejected,
	-4028: errs.ErrBadRequest,
}

// mapHTTPError translates the venue's {code,msg} error bodies ahead of
// the default status classification.
func mapHTTPError(_ int, body []byte) error {
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Code == 0 {
		return nil
	}
	msg := fmt.Sprintf("%d: %s", apiErr.Code, apiErr.Msg)
	if category, ok := apiErrorCodes[apiErr.Code]; ok {
		return errs.New(venueName, category, msg)
	}
	if strings.Contains(strings.ToLower(apiErr.Msg), "min_notional") {
		return errs.New(venueName, errs.ErrMinimumOrderSize, msg)
	}
	if category := errs.MapMessage(apiErr.Msg); category != nil {
		return errs.New(venueName, category, msg)
	}
	return nil
}
