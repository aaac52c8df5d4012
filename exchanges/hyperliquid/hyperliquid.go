// Package hyperliquid implements the venue adapter for the Hyperliquid
// perpetual futures DEX. All REST traffic rides two POST routes: /info
// for reads and /exchange for EIP-712 signed wallet actions.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

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
	apiURL        = "https://api.hyperliquid.xyz"
	testnetAPIURL = "https://api.hyperliquid-testnet.xyz"
	wsURL         = "wss://api.hyperliquid.xyz/ws"
	testnetWSURL  = "wss://api.hyperliquid-testnet.xyz/ws"

	infoPath     = "/info"
	exchangePath = "/exchange"

	venueName = "hyperliquid"
)

// The venue verifies wallet actions against a fixed agent signing
// domain; chain id 1337 applies on every network. The source field
// scopes the agent to mainnet ("a") or testnet ("b").
var signingDomain = apitypes.TypedDataDomain{
	Name:              "Exchange",
	Version:           "1",
	ChainId:           math.NewHexOrDecimal256(1337),
	VerifyingContract: "0x0000000000000000000000000000000000000000",
}

const (
	mainnetSource = "a"
	testnetSource = "b"
)

// Exchange implements the unified adapter contract for Hyperliquid.
type Exchange struct {
	exchange.Base

	api     string
	wsAPI   string
	user    string
	builder string
	weights map[string]int
}

// New constructs the adapter from opts. The adapter stays
// Uninitialized until Initialize verifies venue connectivity.
func New(opts *config.Options) (*Exchange, error) {
	opts, err := config.Ensure(opts)
	if err != nil {
		return nil, err
	}

	e := &Exchange{
		api:     apiURL,
		wsAPI:   wsURL,
		builder: opts.BuilderCode,
	}
	source := mainnetSource
	if opts.Testnet {
		e.api = testnetAPIURL
		e.wsAPI = testnetWSURL
		source = testnetSource
	}
	if opts.RPCEndpoint != "" {
		e.api = strings.TrimSuffix(opts.RPCEndpoint, "/")
	}
	if opts.RateLimit != nil {
		e.weights = opts.RateLimit.Weights
	}

	signer, err := auth.NewEIP712(opts.PrivateKey, signingDomain, source)
	if err != nil {
		return nil, err
	}
	e.user = opts.WalletAddress
	if e.user == "" {
		e.user = signer.Address()
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

// defaultFeatures is the venue capability table. Public trade history
// has no REST route, so FetchTrades serves the truthful empty list;
// CancelAllOrders is synthesized from per-order cancels.
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
		protocol.CancelAllOrders:         protocol.Emulated,
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

// SendInfoRequest posts one query to the read route.
func (e *Exchange) SendInfoRequest(ctx context.Context, ep request.EndpointLimit, req *infoRequest, result any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	ctx, cancel := e.RequestContext(ctx)
	defer cancel()
	return e.Requester.SendPayload(ctx, ep, func() (*request.Item, error) {
		return &request.Item{
			Method:  http.MethodPost,
			Path:    e.api + infoPath,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    bytes.NewReader(body),
			Result:  result,
			Verbose: e.Verbose,
		}, nil
	})
}

// SendExchangeRequest signs action and posts it to the trade route.
// The envelope is rebuilt per attempt so retries carry a fresh nonce
// and signature.
func (e *Exchange) SendExchangeRequest(ctx context.Context, action, result any) error {
	actionBytes, err := json.Marshal(action)
	if err != nil {
		return err
	}
	ctx, cancel := e.RequestContext(ctx)
	defer cancel()
	return e.Requester.SendPayload(ctx, exchangeEPL, func() (*request.Item, error) {
		env := auth.NewEnvelope(http.MethodPost, exchangePath)
		env.Body = actionBytes
		if err := e.Signer.Sign(ctx, env); err != nil {
			return nil, err
		}
		return &request.Item{
			Method:      http.MethodPost,
			Path:        e.api + exchangePath,
			Headers:     env.Headers,
			Body:        bytes.NewReader(env.Body),
			Result:      result,
			AuthRequest: true,
			Verbose:     e.Verbose,
		}, nil
	})
}

// GetMeta returns the tradable universe.
func (e *Exchange) GetMeta(ctx context.Context) (*Meta, error) {
	var meta Meta
	if err := e.SendInfoRequest(ctx, infoHeavyEPL, &infoRequest{Type: infoMeta}, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// GetMetaAndAssetCtxs returns the universe with per-asset market
// state.
func (e *Exchange) GetMetaAndAssetCtxs(ctx context.Context) (*MetaAndAssetCtxs, error) {
	var resp MetaAndAssetCtxs
	if err := e.SendInfoRequest(ctx, infoHeavyEPL, &infoRequest{Type: infoMetaAndAssetCtxs}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetL2Book returns the depth snapshot for one coin.
func (e *Exchange) GetL2Book(ctx context.Context, coin string) (*L2Book, error) {
	var book L2Book
	if err := e.SendInfoRequest(ctx, infoEPL, &infoRequest{Type: infoL2Book, Coin: coin}, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

// GetCandleSnapshot returns OHLCV buckets for one coin over
// [start, end].
func (e *Exchange) GetCandleSnapshot(ctx context.Context, coin, interval string, start, end time.Time) ([]Candle, error) {
	var candles []Candle
	req := &infoRequest{
		Type: infoCandleSnapshot,
		Req: &candleRequest{
			Coin:      coin,
			Interval:  interval,
			StartTime: start.UnixMilli(),
			EndTime:   end.UnixMilli(),
		},
	}
	if err := e.SendInfoRequest(ctx, infoHeavyEPL, req, &candles); err != nil {
		return nil, err
	}
	return candles, nil
}

// GetFundingHistory returns settled funding payments for one coin,
// oldest first.
func (e *Exchange) GetFundingHistory(ctx context.Context, coin string, start, end time.Time) ([]FundingEntry, error) {
	var entries []FundingEntry
	req := &infoRequest{
		Type:      infoFundingHistory,
		Coin:      coin,
		StartTime: start.UnixMilli(),
	}
	if !end.IsZero() {
		req.EndTime = end.UnixMilli()
	}
	if err := e.SendInfoRequest(ctx, infoHeavyEPL, req, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetClearinghouseState returns the account snapshot for one wallet.
func (e *Exchange) GetClearinghouseState(ctx context.Context, user string) (*ClearinghouseState, error) {
	var state ClearinghouseState
	if err := e.SendInfoRequest(ctx, infoEPL, &infoRequest{Type: infoClearinghouse, User: user}, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// GetOpenOrders returns the wallet's resting orders.
func (e *Exchange) GetOpenOrders(ctx context.Context, user string) ([]OpenOrder, error) {
	var orders []OpenOrder
	if err := e.SendInfoRequest(ctx, infoHeavyEPL, &infoRequest{Type: infoOpenOrders, User: user}, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetHistoricalOrders returns the wallet's order history, most recent
// first.
func (e *Exchange) GetHistoricalOrders(ctx context.Context, user string) ([]HistoricalOrder, error) {
	var orders []HistoricalOrder
	if err := e.SendInfoRequest(ctx, infoHeavyEPL, &infoRequest{Type: infoHistoricalOrders, User: user}, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetUserFills returns the wallet's executions, most recent first.
func (e *Exchange) GetUserFills(ctx context.Context, user string) ([]Fill, error) {
	var fills []Fill
	if err := e.SendInfoRequest(ctx, infoHeavyEPL, &infoRequest{Type: infoUserFills, User: user}, &fills); err != nil {
		return nil, err
	}
	return fills, nil
}

// PlaceOrder submits a signed order action and returns the per-order
// statuses.
func (e *Exchange) PlaceOrder(ctx context.Context, action *OrderAction) (*ExchangeResult, error) {
	return e.sendAction(ctx, action)
}

// CancelByOid submits a signed cancel action.
func (e *Exchange) CancelByOid(ctx context.Context, cancels ...CancelWire) (*ExchangeResult, error) {
	return e.sendAction(ctx, &CancelAction{Type: actionCancel, Cancels: cancels})
}

// UpdateLeverage submits a signed leverage update for one asset.
func (e *Exchange) UpdateLeverage(ctx context.Context, asset, leverage int, isCross bool) error {
	_, err := e.sendAction(ctx, &LeverageAction{
		Type:     actionUpdateLeverage,
		Asset:    asset,
		IsCross:  isCross,
		Leverage: leverage,
	})
	return err
}

// sendAction signs and posts one action, unwrapping the status
// envelope.
func (e *Exchange) sendAction(ctx context.Context, action any) (*ExchangeResult, error) {
	var resp ExchangeResponse
	if err := e.SendExchangeRequest(ctx, action, &resp); err != nil {
		return nil, err
	}
	if resp.Status != statusOK {
		var msg string
		if err := json.Unmarshal(resp.Response, &msg); err != nil {
			msg = string(resp.Response)
		}
		return nil, e.classifyActionError(msg, errs.ErrBadRequest)
	}
	var result ExchangeResult
	if len(resp.Response) > 0 {
		if err := json.Unmarshal(resp.Response, &result); err != nil {
			return nil, errs.Wrap(venueName, errs.ErrBadResponse, err)
		}
	}
	return &result, nil
}

// Failure phrasings the shared heuristics miss.
var actionErrorCategories = []struct {
	substr   string
	category error
}{
	{"never placed", errs.ErrOrderNotFound},
	{"already canceled", errs.ErrOrderNotFound},
	{"could not immediately match", errs.ErrOrderRejected},
	{"minimum value", errs.ErrMinimumOrderSize},
	{"invalid size", errs.ErrInvalidOrder},
	{"invalid price", errs.ErrInvalidOrder},
	{"invalid tp/sl", errs.ErrInvalidOrder},
}

// classifyActionError maps the venue's free-text action failures onto
// the shared taxonomy, falling back to the supplied category.
func (e *Exchange) classifyActionError(msg string, fallback error) error {
	lower := strings.ToLower(msg)
	for i := range actionErrorCategories {
		if strings.Contains(lower, actionErrorCategories[i].substr) {
			return errs.New(venueName, actionErrorCategories[i].category, msg)
		}
	}
	if category := errs.MapMessage(msg); category != nil {
		return errs.New(venueName, category, msg)
	}
	return errs.New(venueName, fallback, msg)
}

// mapHTTPError translates non-2xx bodies ahead of the default status
// classification. The venue answers most rejections with a plain text
// or JSON string body.
func mapHTTPError(_ int, body []byte) error {
	msg := strings.Trim(strings.TrimSpace(string(body)), `"`)
	return errs.MapMessage(msg)
}
