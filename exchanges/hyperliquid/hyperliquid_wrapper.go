package hyperliquid

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

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
	"github.com/stratospect/goperps/log"
)

var _ exchange.IExchange = (*Exchange)(nil)

const (
	defaultCandleLimit        = 500
	defaultFundingHistorySpan = 7 * 24 * time.Hour

	// fundingLookback bounds the history query backing the current
	// rate; the venue settles hourly.
	fundingLookback = 4 * time.Hour

	// defaultBuilderFee is the revenue share attached when a builder
	// code is configured, in tenths of a basis point.
	defaultBuilderFee = 10
)

// slippageAllowance pads the reference price of a market order so the
// immediate-or-cancel limit it becomes cannot fill materially worse
// than the quote that priced it.
var slippageAllowance = decimal.NewFromFloat(0.05)

// Candle granularities the venue serves.
var supportedIntervals = map[kline.Interval]struct{}{
	kline.OneMin: {}, kline.ThreeMin: {}, kline.FiveMin: {}, kline.FifteenMin: {},
	kline.ThirtyMin: {}, kline.OneHour: {}, kline.TwoHour: {}, kline.FourHour: {},
	kline.EightHour: {}, kline.TwelveHour: {}, kline.OneDay: {}, kline.ThreeDay: {},
	kline.OneWeek: {}, kline.OneMonth: {},
}

// Initialize verifies venue connectivity by loading the market table
// and moves the adapter to Ready. Calling it on a Ready adapter is a
// no-op.
func (e *Exchange) Initialize(ctx context.Context) error {
	return e.Init(ctx, e.marketTable)
}

// marketTable loads and converts the venue universe. It sits beneath
// the operation gates so Initialize can run before the adapter is
// Ready.
func (e *Exchange) marketTable(ctx context.Context) ([]market.Market, error) {
	meta, err := e.GetMeta(ctx)
	if err != nil {
		return nil, err
	}
	if len(meta.Universe) == 0 {
		return nil, errs.New(venueName, errs.ErrBadResponse, "universe is empty")
	}
	out := make([]market.Market, len(meta.Universe))
	for i := range meta.Universe {
		out[i] = marketFromAsset(&meta.Universe[i], i)
	}
	return out, nil
}

// SymbolToVenue resolves the venue coin for a unified symbol.
func (e *Exchange) SymbolToVenue(symbol currency.Pair) (string, error) {
	return e.PairToVenue(symbol)
}

// SymbolFromVenue resolves the unified symbol for a venue coin.
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
	coin, err := e.SymbolToVenue(symbol)
	if err != nil {
		return nil, err
	}
	price, err := e.Prices.Get(e.opCtx(ctx, protocol.FetchTicker), symbol,
		func(ctx context.Context) (ticker.Price, error) {
			return e.snapshotTicker(ctx, symbol, coin)
		})
	if err != nil {
		return nil, err
	}
	return &price, nil
}

// snapshotTicker pulls per-asset market state and converts the entry
// for coin.
func (e *Exchange) snapshotTicker(ctx context.Context, symbol currency.Pair, coin string) (ticker.Price, error) {
	resp, err := e.GetMetaAndAssetCtxs(ctx)
	if err != nil {
		return ticker.Price{}, err
	}
	for i := range resp.Meta.Universe {
		if resp.Meta.Universe[i].Name != coin {
			continue
		}
		if i >= len(resp.Ctxs) {
			break
		}
		return tickerFromCtx(symbol, &resp.Ctxs[i]), nil
	}
	return ticker.Price{}, errs.New(venueName, errs.ErrBadResponse, "no market state for "+coin)
}

// FetchOrderBook returns the venue depth snapshot for symbol.
func (e *Exchange) FetchOrderBook(ctx context.Context, symbol currency.Pair) (*orderbook.Book, error) {
	if err := e.Gate(protocol.FetchOrderBook); err != nil {
		return nil, err
	}
	coin, err := e.SymbolToVenue(symbol)
	if err != nil {
		return nil, err
	}
	l2, err := e.GetL2Book(e.opCtx(ctx, protocol.FetchOrderBook), coin)
	if err != nil {
		return nil, err
	}
	return bookFromL2(symbol, l2)
}

// FetchTrades reports the venue's REST truth: there is no public trade
// history route, so the result is always empty. Live executions arrive
// through WatchTrades.
func (e *Exchange) FetchTrades(_ context.Context, symbol currency.Pair) ([]trade.Data, error) {
	if err := e.Gate(protocol.FetchTrades); err != nil {
		return nil, err
	}
	if _, err := e.SymbolToVenue(symbol); err != nil {
		return nil, err
	}
	log.ExchangeSys.Debug().Str("exchange", e.Name).Msg("public trade history has no REST route, returning empty result")
	return []trade.Data{}, nil
}

// FetchOHLCV returns candles for symbol. A zero since anchors the
// window to now minus limit intervals.
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
	coin, err := e.SymbolToVenue(symbol)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultCandleLimit
	}
	span := time.Duration(limit) * interval.Duration()
	end := time.Now()
	start := end.Add(-span)
	if !since.IsZero() {
		start = since
		if bounded := since.Add(span); bounded.Before(end) {
			end = bounded
		}
	}
	candles, err := e.GetCandleSnapshot(e.opCtx(ctx, protocol.FetchOHLCV), coin, interval.Short(), start, end)
	if err != nil {
		return nil, err
	}
	item := klineFromCandles(symbol, interval, candles)
	if err := item.Validate(); err != nil {
		return nil, errs.Wrap(venueName, errs.ErrBadResponse, err)
	}
	return item, nil
}

// FetchFundingRate derives the current funding state from the most
// recent settled payment. An empty history is surfaced, never papered
// over with a fabricated rate.
func (e *Exchange) FetchFundingRate(ctx context.Context, symbol currency.Pair) (*fundingrate.Rate, error) {
	if err := e.Gate(protocol.FetchFundingRate); err != nil {
		return nil, err
	}
	coin, err := e.SymbolToVenue(symbol)
	if err != nil {
		return nil, err
	}
	entries, err := e.GetFundingHistory(e.opCtx(ctx, protocol.FetchFundingRate),
		coin, time.Now().Add(-fundingLookback), time.Time{})
	if err != nil {
		return nil, err
	}
	return rateFromHistory(symbol, entries)
}

// FetchFundingRateHistory returns settled funding payments, oldest
// first, most recent limit entries when bounded.
func (e *Exchange) FetchFundingRateHistory(ctx context.Context, symbol currency.Pair, since time.Time, limit int) (*fundingrate.History, error) {
	if err := e.Gate(protocol.FetchFundingRateHistory); err != nil {
		return nil, err
	}
	coin, err := e.SymbolToVenue(symbol)
	if err != nil {
		return nil, err
	}
	if since.IsZero() {
		since = time.Now().Add(-defaultFundingHistorySpan)
	}
	entries, err := e.GetFundingHistory(e.opCtx(ctx, protocol.FetchFundingRateHistory), coin, since, time.Time{})
	if err != nil {
		return nil, err
	}
	history := historyFromEntries(symbol, entries)
	if limit > 0 && len(history.Rates) > limit {
		history.Rates = history.Rates[len(history.Rates)-limit:]
	}
	return history, nil
}

// FetchPositions returns open positions, optionally narrowed to
// symbols.
func (e *Exchange) FetchPositions(ctx context.Context, symbols ...currency.Pair) ([]futures.Position, error) {
	if err := e.AuthGate(protocol.FetchPositions); err != nil {
		return nil, err
	}
	state, err := e.GetClearinghouseState(e.opCtx(ctx, protocol.FetchPositions), e.user)
	if err != nil {
		return nil, err
	}
	at := state.Time.Time()
	if at.IsZero() {
		at = time.Now()
	}
	out := make([]futures.Position, 0, len(state.AssetPositions))
	for i := range state.AssetPositions {
		pos, ok := e.positionFromVenue(&state.AssetPositions[i].Position, at)
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
	state, err := e.GetClearinghouseState(e.opCtx(ctx, protocol.FetchBalance), e.user)
	if err != nil {
		return nil, err
	}
	holdings := holdingsFromState(state)
	if err := holdings.Validate(); err != nil {
		return nil, errs.Wrap(venueName, errs.ErrBadResponse, err)
	}
	return holdings, nil
}

// FetchOpenOrders returns resting orders, all markets when symbol is
// empty.
func (e *Exchange) FetchOpenOrders(ctx context.Context, symbol currency.Pair) ([]order.Detail, error) {
	if err := e.AuthGate(protocol.FetchOpenOrders); err != nil {
		return nil, err
	}
	raw, err := e.GetOpenOrders(e.opCtx(ctx, protocol.FetchOpenOrders), e.user)
	if err != nil {
		return nil, err
	}
	out := make([]order.Detail, len(raw))
	for i := range raw {
		out[i] = e.orderFromOpen(&raw[i])
	}
	return order.FilterBySymbol(out, symbol), nil
}

// FetchOrderHistory returns past orders, all markets when symbol is
// empty.
func (e *Exchange) FetchOrderHistory(ctx context.Context, symbol currency.Pair) ([]order.Detail, error) {
	if err := e.AuthGate(protocol.FetchOrderHistory); err != nil {
		return nil, err
	}
	raw, err := e.GetHistoricalOrders(e.opCtx(ctx, protocol.FetchOrderHistory), e.user)
	if err != nil {
		return nil, err
	}
	out := make([]order.Detail, len(raw))
	for i := range raw {
		out[i] = e.orderFromHistorical(&raw[i])
	}
	return order.FilterBySymbol(out, symbol), nil
}

// FetchMyTrades returns the wallet's executions, all markets when
// symbol is empty.
func (e *Exchange) FetchMyTrades(ctx context.Context, symbol currency.Pair) ([]trade.Data, error) {
	if err := e.AuthGate(protocol.FetchMyTrades); err != nil {
		return nil, err
	}
	fills, err := e.GetUserFills(e.opCtx(ctx, protocol.FetchMyTrades), e.user)
	if err != nil {
		return nil, err
	}
	out := make([]trade.Data, 0, len(fills))
	for i := range fills {
		t := e.tradeFromFill(&fills[i])
		if !symbol.IsEmpty() && !t.Symbol.Equal(symbol) {
			continue
		}
		out = append(out, t)
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
	wire, err := e.buildOrderWire(ctx, &m, s)
	if err != nil {
		return nil, err
	}
	action := &OrderAction{Type: actionOrder, Orders: []OrderWire{*wire}, Grouping: groupingNone}
	if e.builder != "" {
		action.Builder = &BuilderFee{Builder: e.builder, Fee: defaultBuilderFee}
	}
	result, err := e.PlaceOrder(e.opCtx(ctx, protocol.CreateOrder), action)
	if err != nil {
		return nil, err
	}
	if len(result.Data.Statuses) == 0 {
		return nil, errs.New(venueName, errs.ErrBadResponse, "order response carried no statuses")
	}
	return e.orderFromStatus(&result.Data.Statuses[0], s, wire)
}

// buildOrderWire shapes one submission into the venue's wire order.
// Market orders become immediate-or-cancel limits priced by the
// slippage allowance.
func (e *Exchange) buildOrderWire(ctx context.Context, m *market.Market, s *order.Submit) (*OrderWire, error) {
	wire := &OrderWire{
		Asset:      m.AssetID,
		IsBuy:      s.Side == order.Buy,
		Sz:         formatSz(m, s.Amount),
		ReduceOnly: s.ReduceOnly,
		Cloid:      s.ClientOrderID,
	}
	if wire.Cloid == "" {
		wire.Cloid = newCloid()
	}

	px := s.Price
	switch s.Type {
	case order.Market:
		if px.IsZero() {
			ref, err := e.protectionPrice(ctx, s)
			if err != nil {
				return nil, err
			}
			px = ref
		}
		wire.Px = formatPx(m, px)
		wire.Type.Limit = &LimitOrderType{Tif: tifIoc}
	case order.Limit:
		tif, err := tifToVenue(s.TimeInForce, s.PostOnly)
		if err != nil {
			return nil, err
		}
		wire.Px = formatPx(m, px)
		wire.Type.Limit = &LimitOrderType{Tif: tif}
	case order.StopMarket, order.StopLimit, order.TakeProfit:
		isMarket := px.IsZero()
		if isMarket {
			px = s.TriggerPrice
		}
		tpsl := tpslStop
		if s.Type == order.TakeProfit {
			tpsl = tpslTakeProfit
		}
		wire.Px = formatPx(m, px)
		wire.Type.Trigger = &TriggerOrderType{
			IsMarket:  isMarket,
			TriggerPx: formatPx(m, s.TriggerPrice),
			Tpsl:      tpsl,
		}
	}
	return wire, nil
}

// protectionPrice derives the market order price bound from the
// freshest quote.
func (e *Exchange) protectionPrice(ctx context.Context, s *order.Submit) (decimal.Decimal, error) {
	price, err := e.FetchTicker(ctx, s.Symbol)
	if err != nil {
		return decimal.Zero, err
	}
	ref := price.Last
	if ref.IsZero() {
		ref = price.MarkPrice
	}
	if ref.IsZero() {
		return decimal.Zero, errs.New(venueName, errs.ErrBadResponse, "no reference price for market order")
	}
	pad := ref.Mul(slippageAllowance)
	if s.Side == order.Buy {
		return ref.Add(pad), nil
	}
	return ref.Sub(pad), nil
}

// orderFromStatus builds the unified order from the immediate
// placement outcome. The wire values are authoritative for size and
// price; truncation may have adjusted the request.
func (e *Exchange) orderFromStatus(st *OrderStatusResult, s *order.Submit, wire *OrderWire) (*order.Detail, error) {
	if st.Error != "" {
		return nil, e.classifyActionError(st.Error, errs.ErrOrderRejected)
	}
	amount := s.Amount
	if parsed, err := decimal.NewFromString(wire.Sz); err == nil {
		amount = parsed
	}
	price := s.Price
	if parsed, err := decimal.NewFromString(wire.Px); err == nil && s.Type != order.Market {
		price = parsed
	}
	d := &order.Detail{
		ClientOrderID: wire.Cloid,
		Venue:         venueName,
		Symbol:        s.Symbol,
		Type:          s.Type,
		Side:          s.Side,
		Amount:        amount,
		Price:         price,
		TriggerPrice:  s.TriggerPrice,
		TimeInForce:   s.TimeInForce,
		PostOnly:      s.PostOnly,
		ReduceOnly:    s.ReduceOnly,
		Timestamp:     time.Now(),
	}
	switch {
	case st.Resting != nil:
		d.ID = strconv.FormatInt(st.Resting.Oid, 10)
		d.Status = order.Open
		d.Remaining = amount
	case st.Filled != nil:
		d.ID = strconv.FormatInt(st.Filled.Oid, 10)
		d.AverageFillPrice = st.Filled.AvgPx.Decimal()
		d.Filled = st.Filled.TotalSz.Decimal()
		d.Remaining = amount.Sub(d.Filled)
		d.Status = order.PartiallyFilled
		if !d.Remaining.IsPositive() {
			d.Remaining = decimal.Zero
			d.Status = order.Filled
		}
	default:
		return nil, errs.New(venueName, errs.ErrBadResponse, "order status carried no outcome")
	}
	return d, nil
}

// CancelOrder cancels one resting order by id.
func (e *Exchange) CancelOrder(ctx context.Context, orderID string, symbol currency.Pair) error {
	if err := e.AuthGate(protocol.CancelOrder); err != nil {
		return err
	}
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return errs.New(venueName, errs.ErrInvalidOrder, "order id must be numeric: "+orderID)
	}
	m, err := e.Markets.BySymbol(symbol)
	if err != nil {
		return err
	}
	result, err := e.CancelByOid(e.opCtx(ctx, protocol.CancelOrder), CancelWire{Asset: m.AssetID, Oid: oid})
	if err != nil {
		return err
	}
	for i := range result.Data.Statuses {
		if msg := result.Data.Statuses[i].Error; msg != "" {
			return e.classifyActionError(msg, errs.ErrOrderNotFound)
		}
	}
	return nil
}

// CancelAllOrders batches per-order cancels; the venue has no
// cancel-all action. Orders that disappear mid-flight count as
// cancelled.
func (e *Exchange) CancelAllOrders(ctx context.Context, symbol currency.Pair) error {
	if err := e.AuthGate(protocol.CancelAllOrders); err != nil {
		return err
	}
	open, err := e.FetchOpenOrders(ctx, symbol)
	if err != nil {
		return err
	}
	cancels := make([]CancelWire, 0, len(open))
	for i := range open {
		m, err := e.Markets.BySymbol(open[i].Symbol)
		if err != nil {
			return err
		}
		oid, err := strconv.ParseInt(open[i].ID, 10, 64)
		if err != nil {
			continue
		}
		cancels = append(cancels, CancelWire{Asset: m.AssetID, Oid: oid})
	}
	if len(cancels) == 0 {
		return nil
	}
	result, err := e.CancelByOid(e.opCtx(ctx, protocol.CancelAllOrders), cancels...)
	if err != nil {
		return err
	}
	for i := range result.Data.Statuses {
		msg := result.Data.Statuses[i].Error
		if msg == "" {
			continue
		}
		statusErr := e.classifyActionError(msg, errs.ErrOrderRejected)
		if errors.Is(statusErr, errs.ErrOrderNotFound) {
			continue
		}
		return statusErr
	}
	return nil
}

// SetLeverage updates the leverage multiple for symbol in cross
// margin.
func (e *Exchange) SetLeverage(ctx context.Context, symbol currency.Pair, leverage int) error {
	if err := e.AuthGate(protocol.SetLeverage); err != nil {
		return err
	}
	m, err := e.Markets.BySymbol(symbol)
	if err != nil {
		return err
	}
	if leverage < 1 || (m.MaxLeverage > 0 && leverage > m.MaxLeverage) {
		return errs.New(venueName, errs.ErrBadRequest,
			fmt.Sprintf("leverage %d outside 1..%d for %s", leverage, m.MaxLeverage, symbol))
	}
	return e.UpdateLeverage(e.opCtx(ctx, protocol.SetLeverage), m.AssetID, leverage, true)
}

// newCloid generates a client order id in the venue's 16-byte hex
// form.
func newCloid() string {
	id, err := uuid.NewV4()
	if err != nil {
		return ""
	}
	return "0x" + hex.EncodeToString(id.Bytes())
}

// tifToVenue maps unified time in force onto the venue's vocabulary.
// The venue has no fill-or-kill.
func tifToVenue(t order.TimeInForce, postOnly bool) (string, error) {
	if postOnly || t.Is(order.PostOnlyTIF) {
		return tifAlo, nil
	}
	switch {
	case t.Is(order.ImmediateOrCancel):
		return tifIoc, nil
	case t.Is(order.FillOrKill):
		return "", errs.New(venueName, errs.ErrInvalidOrder, "fill-or-kill is not accepted by the venue")
	}
	return tifGtc, nil
}
