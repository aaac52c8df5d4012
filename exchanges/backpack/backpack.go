// Package backpack implements the venue adapter for the Backpack
// perpetual futures exchange. Signed requests carry an Ed25519
// signature over the declared instruction and its sorted parameters;
// private streams ride the shared market socket with the same
// signature material inside the subscribe frame.
package backpack

import (
	"bytes"
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"
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
	apiURL = "https://api.backpack.exchange"
	wsURL  = "wss://ws.backpack.exchange"

	venueName = "backpack"

	// signWindow bounds how stale a signed request may be by the time
	// the venue checks it, in milliseconds.
	signWindow = 5000
)

// REST routes.
const (
	marketsPath      = "/api/v1/markets"
	tickerPath       = "/api/v1/ticker"
	depthPath        = "/api/v1/depth"
	tradesPath       = "/api/v1/trades"
	klinesPath       = "/api/v1/klines"
	markPricesPath   = "/api/v1/markPrices"
	fundingRatesPath = "/api/v1/fundingRates"
	capitalPath      = "/api/v1/capital"
	positionPath     = "/api/v1/position"
	orderPath        = "/api/v1/order"
	ordersPath       = "/api/v1/orders"
	accountPath      = "/api/v1/account"
	orderHistoryPath = "/wapi/v1/history/orders"
	fillHistoryPath  = "/wapi/v1/history/fills"
)

// Signing instruction names. Every signed request declares the
// operation it authorizes inside the canonical string.
const (
	instructionBalanceQuery  = "balanceQuery"
	instructionPositionQuery = "positionQuery"
	instructionOrderQueryAll = "orderQueryAll"
	instructionOrderExecute  = "orderExecute"
	instructionOrderCancel   = "orderCancel"
	instructionCancelAll     = "orderCancelAll"
	instructionOrderHistory  = "orderHistoryQueryAll"
	instructionFillHistory   = "fillHistoryQueryAll"
	instructionAccountUpdate = "accountUpdate"
	instructionSubscribe     = "subscribe"
)

// signedBody is a JSON request body that renders its own signing
// parameters. The rendered values must match the marshalled fields
// exactly or the venue rejects the signature.
type signedBody interface {
	values() url.Values
}

// Exchange implements the unified adapter contract for Backpack.
type Exchange struct {
	exchange.Base

	api     string
	wsAPI   string
	signer  *auth.Ed25519
	weights map[string]int
}

// New constructs the adapter from opts. The signing key is a base64
// Ed25519 seed in APISecret; APIKey is ignored because the verifying
// key derives from the seed. The adapter stays Uninitialized until
// Initialize verifies venue connectivity.
func New(opts *config.Options) (*Exchange, error) {
	opts, err := config.Ensure(opts)
	if err != nil {
		return nil, err
	}
	if opts.Testnet {
		return nil, errs.New(venueName, errs.ErrNotSupported, "venue has no testnet")
	}

	signer, err := auth.NewEd25519(opts.APISecret, signWindow)
	if err != nil {
		return nil, err
	}
	e := &Exchange{
		api:    apiURL,
		wsAPI:  wsURL,
		signer: signer,
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
		Signer:   signer,
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
		URL:       e.wsAPI,
		Websocket: *opts.Websocket,
		Verbose:   opts.Debug,
	})
	if err != nil {
		return nil, err
	}
	e.Websocket, err = stream.NewManager(wsClient, wsRoutingKey, opts.Websocket.SubscriptionBuffer)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// defaultFeatures is the venue capability table. There is no balance
// stream, and leverage is an account-wide limit emulated through the
// account settings route.
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
		protocol.SetLeverage:             protocol.Emulated,
		protocol.WatchTicker:             protocol.Supported,
		protocol.WatchOrderBook:          protocol.Supported,
		protocol.WatchTrades:             protocol.Supported,
		protocol.WatchPositions:          protocol.Supported,
		protocol.WatchOrders:             protocol.Supported,
		protocol.WatchBalance:            protocol.Unsupported,
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
func (e *Exchange) SendHTTPRequest(ctx context.Context, ep request.EndpointLimit, path string, vals url.Values, result any) error {
	target := e.api + path
	if encoded := vals.Encode(); encoded != "" {
		target += "?" + encoded
	}
	ctx, cancel := e.RequestContext(ctx)
	defer cancel()
	return e.Requester.SendPayload(ctx, ep, func() (*request.Item, error) {
		return &request.Item{
			Method:  http.MethodGet,
			Path:    target,
			Result:  result,
			Verbose: e.Verbose,
		}, nil
	})
}

// SendSignedQuery issues one signed GET. The envelope is rebuilt per
// attempt so retries carry a fresh timestamp and signature.
func (e *Exchange) SendSignedQuery(ctx context.Context, ep request.EndpointLimit, path, instruction string, vals url.Values, result any) error {
	ctx, cancel := e.RequestContext(ctx)
	defer cancel()
	return e.Requester.SendPayload(ctx, ep, func() (*request.Item, error) {
		env := auth.NewEnvelope(http.MethodGet, path)
		env.Instruction = instruction
		env.Query = maps.Clone(vals)
		if env.Query == nil {
			env.Query = url.Values{}
		}
		if err := e.signer.Sign(ctx, env); err != nil {
			return nil, err
		}
		target := e.api + path
		if encoded := env.Query.Encode(); encoded != "" {
			target += "?" + encoded
		}
		return &request.Item{
			Method:      http.MethodGet,
			Path:        target,
			Headers:     env.Headers,
			Result:      result,
			AuthRequest: true,
			Verbose:     e.Verbose,
		}, nil
	})
}

// SendSignedAction issues one signed state-changing request. The body
// marshals to JSON while its rendered values feed the signature, both
// rebuilt per attempt so retries carry a fresh timestamp.
func (e *Exchange) SendSignedAction(ctx context.Context, ep request.EndpointLimit, method, path, instruction string, body signedBody, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	ctx, cancel := e.RequestContext(ctx)
	defer cancel()
	return e.Requester.SendPayload(ctx, ep, func() (*request.Item, error) {
		env := auth.NewEnvelope(method, path)
		env.Instruction = instruction
		env.Query = body.values()
		if err := e.signer.Sign(ctx, env); err != nil {
			return nil, err
		}
		env.Headers["Content-Type"] = "application/json"
		return &request.Item{
			Method:      method,
			Path:        e.api + path,
			Headers:     env.Headers,
			Body:        bytes.NewReader(payload),
			Result:      result,
			AuthRequest: true,
			Verbose:     e.Verbose,
		}, nil
	})
}

// GetMarkets returns the venue's full listing table, spot and
// perpetual alike.
func (e *Exchange) GetMarkets(ctx context.Context) ([]MarketInfo, error) {
	var markets []MarketInfo
	if err := e.SendHTTPRequest(ctx, publicEPL, marketsPath, nil, &markets); err != nil {
		return nil, err
	}
	return markets, nil
}

// GetTicker returns the rolling day statistics for one contract.
func (e *Exchange) GetTicker(ctx context.Context, symbol string) (*TickerStats, error) {
	vals := url.Values{}
	vals.Set("symbol", symbol)
	var stats TickerStats
	if err := e.SendHTTPRequest(ctx, publicEPL, tickerPath, vals, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetDepth returns the full order book snapshot for one contract.
func (e *Exchange) GetDepth(ctx context.Context, symbol string) (*Depth, error) {
	vals := url.Values{}
	vals.Set("symbol", symbol)
	var depth Depth
	if err := e.SendHTTPRequest(ctx, publicEPL, depthPath, vals, &depth); err != nil {
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
	if err := e.SendHTTPRequest(ctx, publicEPL, tradesPath, vals, &trades); err != nil {
		return nil, err
	}
	return trades, nil
}

// GetKlines returns OHLCV buckets for one contract. The venue pages
// by time alone and requires a start, in seconds.
func (e *Exchange) GetKlines(ctx context.Context, symbol, interval string, start, end time.Time) ([]Kline, error) {
	vals := url.Values{}
	vals.Set("symbol", symbol)
	vals.Set("interval", interval)
	if !start.IsZero() {
		vals.Set("startTime", strconv.FormatInt(start.Unix(), 10))
	}
	if !end.IsZero() {
		vals.Set("endTime", strconv.FormatInt(end.Unix(), 10))
	}
	var klines []Kline
	if err := e.SendHTTPRequest(ctx, publicEPL, klinesPath, vals, &klines); err != nil {
		return nil, err
	}
	return klines, nil
}

// GetMarkPrices returns mark price and funding state, all contracts
// when symbol is empty.
func (e *Exchange) GetMarkPrices(ctx context.Context, symbol string) ([]MarkPrice, error) {
	vals := url.Values{}
	if symbol != "" {
		vals.Set("symbol", symbol)
	}
	var marks []MarkPrice
	if err := e.SendHTTPRequest(ctx, publicEPL, markPricesPath, vals, &marks); err != nil {
		return nil, err
	}
	return marks, nil
}

// GetFundingRates returns settled funding payments for one contract,
// newest first.
func (e *Exchange) GetFundingRates(ctx context.Context, symbol string, limit int) ([]FundingEntry, error) {
	vals := url.Values{}
	vals.Set("symbol", symbol)
	if limit > 0 {
		vals.Set("limit", strconv.Itoa(limit))
	}
	var entries []FundingEntry
	if err := e.SendHTTPRequest(ctx, historyEPL, fundingRatesPath, vals, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetCapital returns the per-asset collateral balances keyed by asset.
func (e *Exchange) GetCapital(ctx context.Context) (map[string]AssetBalance, error) {
	var capital map[string]AssetBalance
	if err := e.SendSignedQuery(ctx, accountEPL, capitalPath, instructionBalanceQuery, nil, &capital); err != nil {
		return nil, err
	}
	return capital, nil
}

// GetPositions returns every open perpetual position.
func (e *Exchange) GetPositions(ctx context.Context) ([]VenuePosition, error) {
	var positions []VenuePosition
	if err := e.SendSignedQuery(ctx, accountEPL, positionPath, instructionPositionQuery, nil, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// GetOpenOrders returns resting orders, all contracts when symbol is
// empty.
func (e *Exchange) GetOpenOrders(ctx context.Context, symbol string) ([]VenueOrder, error) {
	vals := url.Values{}
	if symbol != "" {
		vals.Set("symbol", symbol)
	}
	var orders []VenueOrder
	if err := e.SendSignedQuery(ctx, orderEPL, ordersPath, instructionOrderQueryAll, vals, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetOrderHistory returns past orders, all contracts when symbol is
// empty.
func (e *Exchange) GetOrderHistory(ctx context.Context, symbol string, limit int) ([]VenueOrder, error) {
	vals := url.Values{}
	if symbol != "" {
		vals.Set("symbol", symbol)
	}
	if limit > 0 {
		vals.Set("limit", strconv.Itoa(limit))
	}
	var orders []VenueOrder
	if err := e.SendSignedQuery(ctx, historyEPL, orderHistoryPath, instructionOrderHistory, vals, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetFillHistory returns the account's executions, all contracts when
// symbol is empty.
func (e *Exchange) GetFillHistory(ctx context.Context, symbol string, limit int) ([]VenueFill, error) {
	vals := url.Values{}
	if symbol != "" {
		vals.Set("symbol", symbol)
	}
	if limit > 0 {
		vals.Set("limit", strconv.Itoa(limit))
	}
	var fills []VenueFill
	if err := e.SendSignedQuery(ctx, historyEPL, fillHistoryPath, instructionFillHistory, vals, &fills); err != nil {
		return nil, err
	}
	return fills, nil
}

// ExecuteOrder submits one order.
func (e *Exchange) ExecuteOrder(ctx context.Context, req *OrderRequest) (*VenueOrder, error) {
	var placed VenueOrder
	if err := e.SendSignedAction(ctx, orderEPL, http.MethodPost, orderPath, instructionOrderExecute, req, &placed); err != nil {
		return nil, err
	}
	return &placed, nil
}

// CancelOrderByID cancels one resting order.
func (e *Exchange) CancelOrderByID(ctx context.Context, symbol, orderID string) (*VenueOrder, error) {
	req := &CancelOrderRequest{Symbol: symbol, OrderID: orderID}
	var cancelled VenueOrder
	if err := e.SendSignedAction(ctx, orderEPL, http.MethodDelete, orderPath, instructionOrderCancel, req, &cancelled); err != nil {
		return nil, err
	}
	return &cancelled, nil
}

// CancelOpenOrders cancels every resting order on one contract.
func (e *Exchange) CancelOpenOrders(ctx context.Context, symbol string) ([]VenueOrder, error) {
	req := &CancelAllRequest{Symbol: symbol}
	var cancelled []VenueOrder
	if err := e.SendSignedAction(ctx, orderEPL, http.MethodDelete, ordersPath, instructionCancelAll, req, &cancelled); err != nil {
		return nil, err
	}
	return cancelled, nil
}

// UpdateAccount adjusts account-wide trading settings. The venue
// returns an empty body on success.
func (e *Exchange) UpdateAccount(ctx context.Context, req *AccountUpdateRequest) error {
	return e.SendSignedAction(ctx, accountEPL, http.MethodPatch, accountPath, instructionAccountUpdate, req, nil)
}

// Venue error codes with a precise unified category. Everything else
// falls through to the message heuristics and the HTTP status table.
var apiErrorCodes = map[string]error{
	"INVALID_API_KEY":        errs.ErrUnauthorized,
	"UNAUTHORIZED":           errs.ErrUnauthorized,
	"INVALID_SIGNATURE":      errs.ErrInvalidSignature,
	"INVALID_TIMESTAMP":      errs.ErrExpiredAuth,
	"EXPIRED_WINDOW":         errs.ErrExpiredAuth,
	"FORBIDDEN":              errs.ErrForbidden,
	"TOO_MANY_REQUESTS":      errs.ErrRateLimit,
	"RESOURCE_NOT_FOUND":     errs.ErrNotFound,
	"ORDER_NOT_FOUND":        errs.ErrOrderNotFound,
	"INSUFFICIENT_FUNDS":     errs.ErrInsufficientBalance,
	"INSUFFICIENT_MARGIN":    errs.ErrInsufficientMargin,
	"INVALID_ORDER":          errs.ErrInvalidOrder,
	"INVALID_QUANTITY":       errs.ErrInvalidOrder,
	"INVALID_PRICE":          errs.ErrInvalidOrder,
	"QUANTITY_TOO_SMALL":     errs.ErrMinimumOrderSize,
	"ORDER_REJECTED":         errs.ErrOrderRejected,
	"PRICE_BAND_EXCEEDED":    errs.ErrOrderRejected,
	"INVALID_CLIENT_REQUEST": errs.ErrBadRequest,
	"MAINTENANCE":            errs.ErrExchangeUnavailable,
}

// mapHTTPError translates the venue's {code,message} error bodies
// ahead of the default status classification.
func mapHTTPError(_ int, body []byte) error {
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Code == "" {
		return nil
	}
	msg := apiErr.Code + ": " + apiErr.Message
	if category, ok := apiErrorCodes[apiErr.Code]; ok {
		return errs.New(venueName, category, msg).WithCode(apiErr.Code)
	}
	if category := errs.MapMessage(apiErr.Message); category != nil {
		return errs.New(venueName, category, msg).WithCode(apiErr.Code)
	}
	return nil
}
