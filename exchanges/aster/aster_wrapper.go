package aster

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/gofrs/uuid"

	"github.com/stratospect/goperps/currency"
	"github.com/stratospect/goperps/errs"
	exchange "github.com/stratospect/goperps/exchanges"
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

var _ exchange.IExchange = (*Exchange)(nil)

const (
	defaultCandleLimit = 500
	defaultBookDepth   = 100

	contractPerpetual = "PERPETUAL"
)

// Candle granularities the venue serves.
var supportedIntervals = map[kline.Interval]struct{}{
	kline.OneMin: {}, kline.ThreeMin: {}, kline.FiveMin: {}, kline.FifteenMin: {},
	kline.ThirtyMin: {}, kline.OneHour: {}, kline.TwoHour: {}, kline.FourHour: {},
	kline.EightHour: {}, kline.TwelveHour: {}, kline.OneDay: {}, kline.ThreeDay: {},
	kline.OneWeek: {}, kline.OneMonth: {},
}

// Initialize verifies venue connectivity by loading the contract table
// and moves the adapter to Ready. Calling it on a Ready adapter is a
// no-op.
func (e *Exchange) Initialize(ctx context.Context) error {
	return e.Init(ctx, e.marketTable)
}

// Disconnect releases the listen-key session before the shared socket
// and cache teardown.
func (e *Exchange) Disconnect() error {
	e.closeUserStream()
	return e.Base.Disconnect()
}

// marketTable loads and converts the venue's perpetual listings. It
// sits beneath the operation gates so Initialize can run before the
// adapter is Ready.
func (e *Exchange) marketTable(ctx context.Context) ([]market.Market, error) {
	info, err := e.GetExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Market, 0, len(info.Symbols))
	for i := range info.Symbols {
		if ct := info.Symbols[i].ContractType; ct != "" && ct != contractPerpetual {
			continue
		}
		out = append(out, marketFromInfo(&info.Symbols[i]))
	}
	if len(out) == 0 {
		return nil, errs.New(venueName, errs.ErrBadResponse, "exchange info carried no perpetual contracts")
	}
	return out, nil
}

// SymbolToVenue resolves the venue contract name for a unified symbol.
func (e *Exchange) SymbolToVenue(symbol currency.Pair) (string, error) {
	return e.PairToVenue(symbol)
}

// SymbolFromVenue resolves the unified symbol for a venue contract
// name.
func (e *Exchange) SymbolFromVenue(venueSymbol string) (currency.Pair, error) {
	return e.PairFromVenue(venueSymbol)
}

// FetchMarkets returns the venue's perpetual listings.
func (e *Exchange) FetchMarkets(ctx context.Context) ([]market.Market, error) {
	if err := e.Gate(protocol.FetchMarkets); err != nil {
		return nil, err
	}
	return e.Markets.Get(e.opCtx(ctx, protocol.FetchMarkets), e.marketTable)
}

// FetchTicker returns a price snapshot for symbol through the shared
// short-lived cache.
func (e *Exchange) FetchTicker(ctx context.Context, symbol currency.Pair) (*ticker.Price, error) {
	if err := e.Gate(protocol.FetchTicker); err != nil {
		return nil, err
	}
	venueSymbol, err := e.SymbolToVenue(symbol)
	if err != nil {
		return nil, err
	}
	price, err := e.Prices.Get(e.opCtx(ctx, protocol.FetchTicker), symbol,
		func(ctx context.Context) (ticker.Price, error) {
			return e.snapshotTicker(ctx, symbol, venueSymbol)
		})
	if err != nil {
		return nil, err
	}
	return &price, nil
}

// snapshotTicker merges the day statistics with the top of book; the
// statistics route carries no bid or ask.
func (e *Exchange) snapshotTicker(ctx context.Context, symbol currency.Pair, venueSymbol string) (ticker.Price, error) {
	stats, err := e.GetTicker24h(ctx, venueSymbol)
	if err != nil {
		return ticker.Price{}, err
	}
	top, err := e.GetBookTicker(ctx, venueSymbol)
	if err != nil {
		return ticker.Price{}, err
	}
	return tickerFromStats(symbol, stats, top), nil
}

// FetchOrderBook returns the venue depth snapshot for symbol.
func (e *Exchange) FetchOrderBook(ctx context.Context, symbol currency.Pair) (*orderbook.Book, error) {
	if err := e.Gate(protocol.FetchOrderBook); err != nil {
		return nil, err
	}
	venueSymbol, err := e.SymbolToVenue(symbol)
	if err != nil {
		return nil, err
	}
	depth, err := e.GetDepth(e.opCtx(ctx, protocol.FetchOrderBook), venueSymbol, defaultBookDepth)
	if err != nil {
		return nil, err
	}
	return bookFromDepth(symbol, depth)
}

// FetchTrades returns the latest public executions for symbol.
func (e *Exchange) FetchTrades(ctx context.Context, symbol currency.Pair) ([]trade.Data, error) {
	if err := e.Gate(protocol.FetchTrades); err != nil {
		return nil, err
	}
	venueSymbol, err := e.SymbolToVenue(symbol)
	if err != nil {
		return nil, err
	}
	raw, err := e.GetRecentTrades(e.opCtx(ctx, protocol.FetchTrades), venueSymbol, 0)
	if err != nil {
		return nil, err
	}
	out := make([]trade.Data, len(raw))
	for i := range raw {
		out[i] = tradeFromRecent(symbol, &raw[i])
	}
	return out, nil
}

// FetchOHLCV returns candles for symbol. A zero since yields the most
// recent window.
func (e *Exchange) FetchOHLCV(ctx context.Context, symbol currency.Pair, interval kline.Interval, since time.Time, limit int) (*kline.Item, error) {
	if err := e.Gate(protocol.FetchOHLCV); err != nil {
		return nil, err
	}
	if err := interval.Validate(); err != nil {
		return nil, err
	}
	if _, ok := supportedIntervals[interval]; !ok {
		return nil, fmt.Errorf("%w: %s", kline.ErrUnsupportedInterval, interval)
	}
	venueSymbol, err := e.SymbolToVenue(symbol)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultCandleLimit
	}
	rows, err := e.GetKlines(e.opCtx(ctx, protocol.FetchOHLCV), venueSymbol, interval.Short(), since, time.Time{}, limit)
	if err != nil {
		return nil, err
	}
	item, err := klineFromWire(symbol, interval, rows)
	if err != nil {
		return nil, err
	}
	if err := item.Validate(); err != nil {
		return nil, errs.Wrap(venueName, errs.ErrBadResponse, err)
	}
	return item, nil
}

// FetchFundingRate returns the current funding state from the premium
// index.
func (e *Exchange) FetchFundingRate(ctx context.Context, symbol currency.Pair) (*fundingrate.Rate, error) {
	if err := e.Gate(protocol.FetchFundingRate); err != nil {
		return nil, err
	}
	venueSymbol, err := e.SymbolToVenue(symbol)
	if err != nil {
		return nil, err
	}
	premium, err := e.GetPremiumIndex(e.opCtx(ctx, protocol.FetchFundingRate), venueSymbol)
	if err != nil {
		return nil, err
	}
	return rateFromPremium(symbol, premium), nil
}

// FetchFundingRateHistory returns settled funding payments, oldest
// first.
func (e *Exchange) FetchFundingRateHistory(ctx context.Context, symbol currency.Pair, since time.Time, limit int) (*fundingrate.History, error) {
	if err := e.Gate(protocol.FetchFundingRateHistory); err != nil {
		return nil, err
	}
	venueSymbol, err := e.SymbolToVenue(symbol)
	if err != nil {
		return nil, err
	}
	entries, err := e.GetFundingRateHistory(e.opCtx(ctx, protocol.FetchFundingRateHistory), venueSymbol, since, limit)
	if err != nil {
		return nil, err
	}
	return historyFromEntries(symbol, entries), nil
}

// FetchPositions returns open positions, optionally narrowed to
// symbols. A single symbol narrows the venue query itself.
func (e *Exchange) FetchPositions(ctx context.Context, symbols ...currency.Pair) ([]futures.Position, error) {
	if err := e.AuthGate(protocol.FetchPositions); err != nil {
		return nil, err
	}
	scope := ""
	if len(symbols) == 1 {
		venueSymbol, err := e.SymbolToVenue(symbols[0])
		if err != nil {
			return nil, err
		}
		scope = venueSymbol
	}
	raw, err := e.GetPositionRisk(e.opCtx(ctx, protocol.FetchPositions), scope)
	if err != nil {
		return nil, err
	}
	out := make([]futures.Position, 0, len(raw))
	for i := range raw {
		pos, ok := e.positionFromRisk(&raw[i])
		if !ok {
			continue
		}
		if len(symbols) > 0 && !slices.ContainsFunc(symbols, pos.Symbol.Equal) {
			continue
		}
		out = append(out, pos)
	}
	return out, nil
}

// FetchBalance returns the margin account snapshot.
func (e *Exchange) FetchBalance(ctx context.Context) (*account.Holdings, error) {
	if err := e.AuthGate(protocol.FetchBalance); err != nil {
		return nil, err
	}
	balances, err := e.GetBalances(e.opCtx(ctx, protocol.FetchBalance))
	if err != nil {
		return nil, err
	}
	holdings := holdingsFromBalances(balances)
	if err := holdings.Validate(); err != nil {
		return nil, errs.Wrap(venueName, errs.ErrBadResponse, err)
	}
	return holdings, nil
}

// FetchOpenOrders returns resting orders, all contracts when symbol is
// empty. The unscoped query costs a far heavier rate limit weight.
func (e *Exchange) FetchOpenOrders(ctx context.Context, symbol currency.Pair) ([]order.Detail, error) {
	if err := e.AuthGate(protocol.FetchOpenOrders); err != nil {
		return nil, err
	}
	scope := ""
	if !symbol.IsEmpty() {
		venueSymbol, err := e.SymbolToVenue(symbol)
		if err != nil {
			return nil, err
		}
		scope = venueSymbol
	}
	raw, err := e.GetOpenOrders(e.opCtx(ctx, protocol.FetchOpenOrders), scope)
	if err != nil {
		return nil, err
	}
	out := make([]order.Detail, len(raw))
	for i := range raw {
		out[i] = e.orderFromVenue(&raw[i])
	}
	return out, nil
}

// FetchOrderHistory returns past orders for one contract. The venue
// has no unscoped history route, so the symbol is required.
func (e *Exchange) FetchOrderHistory(ctx context.Context, symbol currency.Pair) ([]order.Detail, error) {
	if err := e.AuthGate(protocol.FetchOrderHistory); err != nil {
		return nil, err
	}
	if symbol.IsEmpty() {
		return nil, errs.New(venueName, errs.ErrBadRequest, "order history requires a symbol")
	}
	venueSymbol, err := e.SymbolToVenue(symbol)
	if err != nil {
		return nil, err
	}
	raw, err := e.GetAllOrders(e.opCtx(ctx, protocol.FetchOrderHistory), venueSymbol, 0)
	if err != nil {
		return nil, err
	}
	out := make([]order.Detail, len(raw))
	for i := range raw {
		out[i] = e.orderFromVenue(&raw[i])
	}
	return out, nil
}

// FetchMyTrades returns the account's executions for one contract. The
// venue has no unscoped fill route, so the symbol is required.
func (e *Exchange) FetchMyTrades(ctx context.Context, symbol currency.Pair) ([]trade.Data, error) {
	if err := e.AuthGate(protocol.FetchMyTrades); err != nil {
		return nil, err
	}
	if symbol.IsEmpty() {
		return nil, errs.New(venueName, errs.ErrBadRequest, "trade history requires a symbol")
	}
	venueSymbol, err := e.SymbolToVenue(symbol)
	if err != nil {
		return nil, err
	}
	fills, err := e.GetUserTrades(e.opCtx(ctx, protocol.FetchMyTrades), venueSymbol, 0)
	if err != nil {
		return nil, err
	}
	out := make([]trade.Data, len(fills))
	for i := range fills {
		out[i] = e.tradeFromUserTrade(&fills[i])
	}
	return out, nil
}

// CreateOrder places one order and returns the venue's immediate
// outcome.
func (e *Exchange) CreateOrder(ctx context.Context, s *order.Submit) (*order.Detail, error) {
	if err := e.AuthGate(protocol.CreateOrder); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, errs.Wrap(venueName, errs.ErrInvalidOrder, err)
	}
	m, err := e.Markets.BySymbol(s.Symbol)
	if err != nil {
		return nil, err
	}
	vals, err := e.buildOrderValues(&m, s)
	if err != nil {
		return nil, err
	}
	placed, err := e.PostOrder(e.opCtx(ctx, protocol.CreateOrder), vals)
	if err != nil {
		return nil, err
	}
	d := e.orderFromVenue(placed)
	return &d, nil
}

// buildOrderValues shapes one submission into the venue's order query.
// Quantity and prices are truncated to the contract's step and tick.
func (e *Exchange) buildOrderValues(m *market.Market, s *order.Submit) (url.Values, error) {
	venueType, err := orderTypeToVenue(s.Type, s.Price.IsZero())
	if err != nil {
		return nil, err
	}
	side := sideBuy
	if s.Side == order.Sell {
		side = sideSell
	}
	clientID := s.ClientOrderID
	if clientID == "" {
		clientID = e.newClientOrderID()
	}
	vals := url.Values{}
	vals.Set("symbol", m.VenueSymbol)
	vals.Set("side", side)
	vals.Set("type", venueType)
	vals.Set("quantity", formatQty(m, s.Amount))
	vals.Set("newClientOrderId", clientID)
	vals.Set("newOrderRespType", "RESULT")
	if s.ReduceOnly {
		vals.Set("reduceOnly", "true")
	}
	switch venueType {
	case typeLimit:
		vals.Set("price", formatPx(m, s.Price))
		vals.Set("timeInForce", tifToVenue(s.TimeInForce, s.PostOnly))
	case typeStop, typeTakeProfit:
		vals.Set("price", formatPx(m, s.Price))
		vals.Set("stopPrice", formatPx(m, s.TriggerPrice))
		vals.Set("timeInForce", tifToVenue(s.TimeInForce, s.PostOnly))
	case typeStopMarket, typeTakeProfitMarket:
		vals.Set("stopPrice", formatPx(m, s.TriggerPrice))
	}
	return vals, nil
}

// newClientOrderID generates a client order id, carrying the broker
// prefix convention when a code is configured.
func (e *Exchange) newClientOrderID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return ""
	}
	if e.broker == "" {
		return id.String()
	}
	cid := "x-" + e.broker + "-" + hex.EncodeToString(id.Bytes())
	if len(cid) > 36 {
		cid = cid[:36]
	}
	return cid
}

// CancelOrder cancels one resting order by venue id.
func (e *Exchange) CancelOrder(ctx context.Context, orderID string, symbol currency.Pair) error {
	if err := e.AuthGate(protocol.CancelOrder); err != nil {
		return err
	}
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return errs.New(venueName, errs.ErrInvalidOrder, "order id must be numeric: "+orderID)
	}
	venueSymbol, err := e.SymbolToVenue(symbol)
	if err != nil {
		return err
	}
	_, err = e.DeleteOrder(e.opCtx(ctx, protocol.CancelOrder), venueSymbol, oid)
	return err
}

// CancelAllOrders cancels resting orders, every contract with any open
// when symbol is empty.
func (e *Exchange) CancelAllOrders(ctx context.Context, symbol currency.Pair) error {
	if err := e.AuthGate(protocol.CancelAllOrders); err != nil {
		return err
	}
	ctx = e.opCtx(ctx, protocol.CancelAllOrders)
	if !symbol.IsEmpty() {
		venueSymbol, err := e.SymbolToVenue(symbol)
		if err != nil {
			return err
		}
		return e.DeleteAllOpenOrders(ctx, venueSymbol)
	}
	open, err := e.GetOpenOrders(ctx, "")
	if err != nil {
		return err
	}
	venueSymbols := make([]string, 0, len(open))
	for i := range open {
		if !slices.Contains(venueSymbols, open[i].Symbol) {
			venueSymbols = append(venueSymbols, open[i].Symbol)
		}
	}
	for _, venueSymbol := range venueSymbols {
		if err := e.DeleteAllOpenOrders(ctx, venueSymbol); err != nil {
			return err
		}
	}
	return nil
}

// SetLeverage updates the leverage multiple for symbol.
func (e *Exchange) SetLeverage(ctx context.Context, symbol currency.Pair, leverage int) error {
	if err := e.AuthGate(protocol.SetLeverage); err != nil {
		return err
	}
	venueSymbol, err := e.SymbolToVenue(symbol)
	if err != nil {
		return err
	}
	if leverage < 1 {
		return errs.New(venueName, errs.ErrBadRequest,
			fmt.Sprintf("leverage %d must be at least 1 for %s", leverage, symbol))
	}
	return e.PostLeverage(e.opCtx(ctx, protocol.SetLeverage), venueSymbol, leverage)
}
