package backpack

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

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

const defaultCandleLimit = 500

// Candle granularities the venue serves, by its own names. The month
// bucket does not follow the short convention.
var venueIntervals = map[kline.Interval]string{
	kline.OneMin:     "1m",
	kline.ThreeMin:   "3m",
	kline.FiveMin:    "5m",
	kline.FifteenMin: "15m",
	kline.ThirtyMin:  "30m",
	kline.OneHour:    "1h",
	kline.TwoHour:    "2h",
	kline.FourHour:   "4h",
	kline.EightHour:  "8h",
	kline.TwelveHour: "12h",
	kline.OneDay:     "1d",
	kline.ThreeDay:   "3d",
	kline.OneWeek:    "1w",
	kline.OneMonth:   "1month",
}

// Initialize verifies venue connectivity by loading the listing table
// and moves the adapter to Ready. Calling it on a Ready adapter is a
// no-op.
func (e *Exchange) Initialize(ctx context.Context) error {
	return e.Init(ctx, e.marketTable)
}

// marketTable loads and converts the venue's perpetual listings,
// dropping spot markets. It sits beneath the operation gates so
// Initialize can run before the adapter is Ready.
func (e *Exchange) marketTable(ctx context.Context) ([]market.Market, error) {
	listings, err := e.GetMarkets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Market, 0, len(listings))
	for i := range listings {
		if listings[i].MarketType != marketTypePerp {
			continue
		}
		out = append(out, marketFromVenue(&listings[i]))
	}
	if len(out) == 0 {
		return nil, errs.New(venueName, errs.ErrBadResponse, "listing table carried no perpetual markets")
	}
	return out, nil
}

// SymbolToVenue resolves the venue market name for a unified symbol.
func (e *Exchange) SymbolToVenue(symbol currency.Pair) (string, error) {
	return e.PairToVenue(symbol)
}

// SymbolFromVenue resolves the unified symbol for a venue market name.
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

// snapshotTicker merges the day statistics with the mark price row.
func (e *Exchange) snapshotTicker(ctx context.Context, symbol currency.Pair, venueSymbol string) (ticker.Price, error) {
	stats, err := e.GetTicker(ctx, venueSymbol)
	if err != nil {
		return ticker.Price{}, err
	}
	marks, err := e.GetMarkPrices(ctx, venueSymbol)
	if err != nil {
		return ticker.Price{}, err
	}
	var mark *MarkPrice
	if len(marks) > 0 {
		mark = &marks[0]
	}
	return tickerFromStats(symbol, stats, mark), nil
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
	depth, err := e.GetDepth(e.opCtx(ctx, protocol.FetchOrderBook), venueSymbol)
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
	venueInterval, ok := venueIntervals[interval]
	if !ok {
		return nil, fmt.Errorf("%w: %s", kline.ErrUnsupportedInterval, interval)
	}
	venueSymbol, err := e.SymbolToVenue(symbol)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultCandleLimit
	}
	start := since
	if start.IsZero() {
		start = time.Now().Add(-time.Duration(limit) * interval.Duration())
	}
	rows, err := e.GetKlines(e.opCtx(ctx, protocol.FetchOHLCV), venueSymbol, venueInterval, start, time.Time{})
	if err != nil {
		return nil, err
	}
	// The venue pages by time alone, so the limit applies after the
	// fact; with no since the newest rows win.
	if len(rows) > limit {
		if since.IsZero() {
			rows = rows[len(rows)-limit:]
		} else {
			rows = rows[:limit]
		}
	}
	item := klineFromWire(symbol, interval, rows)
	if err := item.Validate(); err != nil {
		return nil, errs.Wrap(venueName, errs.ErrBadResponse, err)
	}
	return item, nil
}

// FetchFundingRate returns the current funding state from the mark
// price table.
func (e *Exchange) FetchFundingRate(ctx context.Context, symbol currency.Pair) (*fundingrate.Rate, error) {
	if err := e.Gate(protocol.FetchFundingRate); err != nil {
		return nil, err
	}
	m, err := e.Markets.BySymbol(symbol)
	if err != nil {
		return nil, err
	}
	marks, err := e.GetMarkPrices(e.opCtx(ctx, protocol.FetchFundingRate), m.VenueSymbol)
	if err != nil {
		return nil, err
	}
	if len(marks) == 0 {
		return nil, errs.New(venueName, errs.ErrBadResponse, "no mark price row for "+m.VenueSymbol)
	}
	return rateFromMark(symbol, &marks[0], m.FundingHours), nil
}

// FetchFundingRateHistory returns settled funding payments, oldest
// first. The venue pages by offset alone, so since filters client
// side.
func (e *Exchange) FetchFundingRateHistory(ctx context.Context, symbol currency.Pair, since time.Time, limit int) (*fundingrate.History, error) {
	if err := e.Gate(protocol.FetchFundingRateHistory); err != nil {
		return nil, err
	}
	venueSymbol, err := e.SymbolToVenue(symbol)
	if err != nil {
		return nil, err
	}
	entries, err := e.GetFundingRates(e.opCtx(ctx, protocol.FetchFundingRateHistory), venueSymbol, limit)
	if err != nil {
		return nil, err
	}
	return historyFromEntries(symbol, entries, since), nil
}

// FetchPositions returns open positions, optionally narrowed to
// symbols. The venue reports every contract, so narrowing happens
// client side.
func (e *Exchange) FetchPositions(ctx context.Context, symbols ...currency.Pair) ([]futures.Position, error) {
	if err := e.AuthGate(protocol.FetchPositions); err != nil {
		return nil, err
	}
	raw, err := e.GetPositions(e.opCtx(ctx, protocol.FetchPositions))
	if err != nil {
		return nil, err
	}
	out := make([]futures.Position, 0, len(raw))
	for i := range raw {
		pos, ok := e.positionFromVenue(&raw[i])
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

// FetchBalance returns the collateral account snapshot.
func (e *Exchange) FetchBalance(ctx context.Context) (*account.Holdings, error) {
	if err := e.AuthGate(protocol.FetchBalance); err != nil {
		return nil, err
	}
	capital, err := e.GetCapital(e.opCtx(ctx, protocol.FetchBalance))
	if err != nil {
		return nil, err
	}
	holdings := holdingsFromCapital(capital)
	if err := holdings.Validate(); err != nil {
		return nil, errs.Wrap(venueName, errs.ErrBadResponse, err)
	}
	return holdings, nil
}

// FetchOpenOrders returns resting orders, all contracts when symbol is
// empty.
func (e *Exchange) FetchOpenOrders(ctx context.Context, symbol currency.Pair) ([]order.Detail, error) {
	if err := e.AuthGate(protocol.FetchOpenOrders); err != nil {
		return nil, err
	}
	scope, err := e.venueScope(symbol)
	if err != nil {
		return nil, err
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

// FetchOrderHistory returns past orders, all contracts when symbol is
// empty.
func (e *Exchange) FetchOrderHistory(ctx context.Context, symbol currency.Pair) ([]order.Detail, error) {
	if err := e.AuthGate(protocol.FetchOrderHistory); err != nil {
		return nil, err
	}
	scope, err := e.venueScope(symbol)
	if err != nil {
		return nil, err
	}
	raw, err := e.GetOrderHistory(e.opCtx(ctx, protocol.FetchOrderHistory), scope, 0)
	if err != nil {
		return nil, err
	}
	out := make([]order.Detail, len(raw))
	for i := range raw {
		out[i] = e.orderFromVenue(&raw[i])
	}
	return out, nil
}

// FetchMyTrades returns the account's executions, all contracts when
// symbol is empty.
func (e *Exchange) FetchMyTrades(ctx context.Context, symbol currency.Pair) ([]trade.Data, error) {
	if err := e.AuthGate(protocol.FetchMyTrades); err != nil {
		return nil, err
	}
	scope, err := e.venueScope(symbol)
	if err != nil {
		return nil, err
	}
	fills, err := e.GetFillHistory(e.opCtx(ctx, protocol.FetchMyTrades), scope, 0)
	if err != nil {
		return nil, err
	}
	out := make([]trade.Data, len(fills))
	for i := range fills {
		out[i] = e.tradeFromFill(&fills[i])
	}
	return out, nil
}

// venueScope resolves an optional symbol filter, empty meaning
// unscoped.
func (e *Exchange) venueScope(symbol currency.Pair) (string, error) {
	if symbol.IsEmpty() {
		return "", nil
	}
	return e.SymbolToVenue(symbol)
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
	req, err := buildOrderRequest(&m, s)
	if err != nil {
		return nil, err
	}
	placed, err := e.ExecuteOrder(e.opCtx(ctx, protocol.CreateOrder), req)
	if err != nil {
		return nil, err
	}
	d := e.orderFromVenue(placed)
	return &d, nil
}

// buildOrderRequest shapes one submission into the venue's order body.
// Quantity and prices truncate to the contract's step and tick.
func buildOrderRequest(m *market.Market, s *order.Submit) (*OrderRequest, error) {
	venueType, trigger, err := orderTypeToVenue(s.Type, s.Price.IsZero())
	if err != nil {
		return nil, err
	}
	req := &OrderRequest{
		Symbol:    m.VenueSymbol,
		Side:      sideToVenue(s.Side),
		OrderType: venueType,
		Quantity:  formatQty(m, s.Amount),
	}
	if s.ClientOrderID != "" {
		cid, err := strconv.ParseUint(s.ClientOrderID, 10, 32)
		if err != nil {
			return nil, errs.New(venueName, errs.ErrInvalidOrder,
				"client order id must fit a 32-bit number: "+s.ClientOrderID)
		}
		req.ClientID = uint32(cid)
	}
	if venueType == typeLimit {
		req.Price = formatPx(m, s.Price)
		req.TimeInForce = tifToVenue(s.TimeInForce)
		req.PostOnly = s.PostOnly || s.TimeInForce.Is(order.PostOnlyTIF)
	}
	if trigger {
		req.TriggerPrice = formatPx(m, s.TriggerPrice)
	}
	if s.ReduceOnly {
		req.ReduceOnly = true
	}
	return req, nil
}

// CancelOrder cancels one resting order by venue id.
func (e *Exchange) CancelOrder(ctx context.Context, orderID string, symbol currency.Pair) error {
	if err := e.AuthGate(protocol.CancelOrder); err != nil {
		return err
	}
	if orderID == "" {
		return errs.New(venueName, errs.ErrInvalidOrder, "order id required")
	}
	venueSymbol, err := e.SymbolToVenue(symbol)
	if err != nil {
		return err
	}
	_, err = e.CancelOrderByID(e.opCtx(ctx, protocol.CancelOrder), venueSymbol, orderID)
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
		_, err = e.CancelOpenOrders(ctx, venueSymbol)
		return err
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
		if _, err := e.CancelOpenOrders(ctx, venueSymbol); err != nil {
			return err
		}
	}
	return nil
}

// SetLeverage updates the account-wide leverage limit. The venue has
// no per-contract setting, so the symbol only validates against the
// listing table.
func (e *Exchange) SetLeverage(ctx context.Context, symbol currency.Pair, leverage int) error {
	if err := e.AuthGate(protocol.SetLeverage); err != nil {
		return err
	}
	if _, err := e.SymbolToVenue(symbol); err != nil {
		return err
	}
	if leverage < 1 {
		return errs.New(venueName, errs.ErrBadRequest,
			fmt.Sprintf("leverage %d must be at least 1 for %s", leverage, symbol))
	}
	req := &AccountUpdateRequest{LeverageLimit: strconv.Itoa(leverage)}
	return e.UpdateAccount(e.opCtx(ctx, protocol.SetLeverage), req)
}
