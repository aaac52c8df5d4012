package hyperliquid

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratospect/goperps/currency"
	"github.com/stratospect/goperps/errs"
	"github.com/stratospect/goperps/exchanges/account"
	"github.com/stratospect/goperps/exchanges/fundingrate"
	"github.com/stratospect/goperps/exchanges/futures"
	"github.com/stratospect/goperps/exchanges/kline"
	"github.com/stratospect/goperps/exchanges/margin"
	"github.com/stratospect/goperps/exchanges/market"
	"github.com/stratospect/goperps/exchanges/order"
	"github.com/stratospect/goperps/exchanges/orderbook"
	"github.com/stratospect/goperps/exchanges/ticker"
	"github.com/stratospect/goperps/exchanges/trade"
)

// Venue order constants.
const (
	tifGtc = "Gtc"
	tifIoc = "Ioc"
	tifAlo = "Alo"

	tpslStop       = "sl"
	tpslTakeProfit = "tp"

	// Prices carry at most five significant figures and no more than
	// maxPriceDecimals - szDecimals decimal places.
	maxPriceDecimals      = 6
	maxSignificantFigures = 5

	fundingIntervalHours = 1
)

// minOrderNotional is the venue's order value floor in quote terms.
var minOrderNotional = decimal.NewFromInt(10)

// coinToPair derives the unified pair for a venue coin. Perpetuals
// quote and settle in USDT; a -PERP suffix belongs to the venue
// symbol, not the base asset.
func coinToPair(coin string) currency.Pair {
	base := strings.TrimSuffix(strings.TrimSuffix(coin, "-PERP"), "-perp")
	return currency.NewPair(currency.NewCode(base), currency.USDT)
}

// pairForCoin resolves a coin through the loaded market table, parsing
// directly when the coin is not cached.
func (e *Exchange) pairForCoin(coin string) currency.Pair {
	if p, err := e.PairFromVenue(coin); err == nil {
		return p
	}
	return coinToPair(coin)
}

// marketFromAsset builds the unified listing for one universe entry.
// The universe index doubles as the asset id on the trade route.
func marketFromAsset(a *UniverseAsset, index int) market.Market {
	priceDecimals := maxPriceDecimals - a.SzDecimals
	return market.Market{
		Symbol:          coinToPair(a.Name),
		VenueSymbol:     a.Name,
		AssetID:         index,
		Active:          !a.IsDelisted,
		ContractSize:    decimal.New(1, 0),
		PricePrecision:  priceDecimals,
		AmountPrecision: a.SzDecimals,
		TickSize:        decimal.New(1, -int32(priceDecimals)), //nolint:gosec // single digit precision
		StepSize:        decimal.New(1, -int32(a.SzDecimals)),  //nolint:gosec // single digit precision
		MinAmount:       decimal.New(1, -int32(a.SzDecimals)),  //nolint:gosec // single digit precision
		MinNotional:     minOrderNotional,
		MaxLeverage:     a.MaxLeverage,
		FundingHours:    fundingIntervalHours,
	}
}

// bookFromL2 converts a depth snapshot. Levels[0] bids, Levels[1]
// asks.
func bookFromL2(symbol currency.Pair, l2 *L2Book) (*orderbook.Book, error) {
	if len(l2.Levels) < 2 {
		return nil, errs.New(venueName, errs.ErrBadResponse,
			"book snapshot must carry a bid side and an ask side")
	}
	book := &orderbook.Book{
		Venue:     venueName,
		Symbol:    symbol,
		Bids:      levelsFromWire(l2.Levels[0]),
		Asks:      levelsFromWire(l2.Levels[1]),
		Timestamp: l2.Time.Time(),
	}
	if book.Timestamp.IsZero() {
		book.Timestamp = time.Now()
	}
	if err := book.Validate(); err != nil {
		return nil, errs.Wrap(venueName, errs.ErrBadResponse, err)
	}
	return book, nil
}

func levelsFromWire(side []BookLevel) orderbook.Levels {
	out := make(orderbook.Levels, len(side))
	for i := range side {
		out[i] = orderbook.Level{Price: side[i].Px.Decimal(), Amount: side[i].Sz.Decimal()}
	}
	return out
}

// tickerFromCtx builds a price snapshot from per-asset market state.
// The venue serves no 24h high or low.
func tickerFromCtx(symbol currency.Pair, ctx *AssetCtx) ticker.Price {
	p := ticker.Price{
		Venue:       venueName,
		Symbol:      symbol,
		Last:        ctx.MidPx.Decimal(),
		MarkPrice:   ctx.MarkPx.Decimal(),
		IndexPrice:  ctx.OraclePx.Decimal(),
		QuoteVolume: ctx.DayNtlVlm.Decimal(),
		Timestamp:   time.Now(),
	}
	if len(ctx.ImpactPxs) >= 2 {
		p.Bid = ctx.ImpactPxs[0].Decimal()
		p.Ask = ctx.ImpactPxs[1].Decimal()
	}
	return p
}

// klineFromCandles converts an OHLCV series, preserving venue order.
func klineFromCandles(symbol currency.Pair, interval kline.Interval, candles []Candle) *kline.Item {
	item := &kline.Item{
		Venue:    venueName,
		Symbol:   symbol,
		Interval: interval,
		Candles:  make([]kline.Candle, len(candles)),
	}
	for i := range candles {
		item.Candles[i] = kline.Candle{
			Time:   candles[i].OpenTime.Time(),
			Open:   candles[i].Open.Decimal(),
			High:   candles[i].High.Decimal(),
			Low:    candles[i].Low.Decimal(),
			Close:  candles[i].Close.Decimal(),
			Volume: candles[i].Volume.Decimal(),
		}
	}
	return item
}

// rateFromHistory derives the current funding state from the most
// recent settled payment. An empty history is a venue data fault, not
// a zero rate.
func rateFromHistory(symbol currency.Pair, entries []FundingEntry) (*fundingrate.Rate, error) {
	history := historyFromEntries(symbol, entries)
	latest, err := history.Latest()
	if err != nil {
		return nil, errs.Wrap(venueName, errs.ErrBadResponse, err)
	}
	settled := latest.Time.Truncate(time.Hour)
	return &fundingrate.Rate{
		Venue:           venueName,
		Symbol:          symbol,
		Rate:            latest.Rate,
		FundingTime:     settled,
		NextFundingTime: settled.Add(time.Hour),
		IntervalHours:   fundingIntervalHours,
	}, nil
}

func historyFromEntries(symbol currency.Pair, entries []FundingEntry) *fundingrate.History {
	h := &fundingrate.History{
		Venue:  venueName,
		Symbol: symbol,
		Rates:  make([]fundingrate.HistoricalRate, len(entries)),
	}
	for i := range entries {
		h.Rates[i] = fundingrate.HistoricalRate{
			Symbol: symbol,
			Rate:   entries[i].FundingRate.Decimal(),
			Time:   entries[i].Time.Time(),
		}
	}
	return h
}

// positionFromVenue converts one clearinghouse position. A zero size
// yields no position.
func (e *Exchange) positionFromVenue(p *OpenPosition, at time.Time) (futures.Position, bool) {
	side, size := futures.SideFromSize(p.Szi.Decimal())
	if side == futures.UnknownSide {
		return futures.Position{}, false
	}
	mode, err := margin.StringToMarginType(p.Leverage.Type)
	if err != nil {
		mode = margin.Unset
	}
	pos := futures.Position{
		Venue:         venueName,
		Symbol:        e.pairForCoin(p.Coin),
		Side:          side,
		Size:          size,
		EntryPrice:    p.EntryPx.Decimal(),
		UnrealisedPNL: p.UnrealizedPnl.Decimal(),
		Leverage:      decimal.NewFromInt(int64(p.Leverage.Value)),
		MarginMode:    mode,
		Timestamp:     at,
	}
	if liq := p.LiquidationPx.Decimal(); !liq.IsZero() {
		pos.LiquidationPrice = decimal.NullDecimal{Decimal: liq, Valid: true}
	}
	return pos, true
}

// holdingsFromState builds the account snapshot. The venue reports
// account value and the withdrawable remainder; margin in use is the
// difference, so the balance identity holds exactly.
func holdingsFromState(state *ClearinghouseState) *account.Holdings {
	total := state.MarginSummary.AccountValue.Decimal()
	free := state.Withdrawable.Decimal()
	at := state.Time.Time()
	if at.IsZero() {
		at = time.Now()
	}
	return &account.Holdings{
		Venue: venueName,
		Balances: []account.Balance{{
			Currency: currency.USDT,
			Total:    total,
			Free:     free,
			Used:     total.Sub(free),
			USDValue: total,
		}},
		Timestamp: at,
	}
}

// orderFromOpen converts one resting order.
func (e *Exchange) orderFromOpen(o *OpenOrder) order.Detail {
	side, _ := order.StringToSide(o.Side)
	tif, _ := order.StringToTimeInForce(o.Tif)
	filled := o.OrigSz.Decimal().Sub(o.Sz.Decimal())
	status := order.Open
	if filled.IsPositive() {
		status = order.PartiallyFilled
	}
	return order.Detail{
		ID:            strconv.FormatInt(o.Oid, 10),
		ClientOrderID: o.Cloid,
		Venue:         venueName,
		Symbol:        e.pairForCoin(o.Coin),
		Type:          orderTypeFromVenue(o.OrderType),
		Side:          side,
		Amount:        o.OrigSz.Decimal(),
		Price:         o.LimitPx.Decimal(),
		TriggerPrice:  o.TriggerPx.Decimal(),
		Filled:        filled,
		Remaining:     o.Sz.Decimal(),
		Status:        status,
		TimeInForce:   tif,
		PostOnly:      strings.EqualFold(o.Tif, tifAlo),
		ReduceOnly:    o.ReduceOnly,
		Timestamp:     o.Timestamp.Time(),
	}
}

// orderFromHistorical converts one order history entry. The lifecycle
// status supersedes the open/partial derivation.
func (e *Exchange) orderFromHistorical(h *HistoricalOrder) order.Detail {
	d := e.orderFromOpen(&h.Order)
	if status := orderStatusFromVenue(h.Status); status != order.UnknownStatus {
		d.Status = status
	}
	if at := h.StatusTimestamp.Time(); !at.IsZero() {
		d.Timestamp = at
	}
	return d
}

// tradeFromFill converts one execution. Crossed fills took liquidity.
func (e *Exchange) tradeFromFill(f *Fill) trade.Data {
	side, _ := order.StringToSide(f.Side)
	t := trade.Data{
		ID:        strconv.FormatInt(f.Tid, 10),
		Venue:     venueName,
		Symbol:    e.pairForCoin(f.Coin),
		Side:      side,
		Price:     f.Px.Decimal(),
		Amount:    f.Sz.Decimal(),
		OrderID:   strconv.FormatInt(f.Oid, 10),
		Maker:     !f.Crossed,
		Timestamp: f.Time.Time(),
	}
	t.DeriveCost()
	return t
}

// orderTypeFromVenue maps the venue's spaced type labels onto unified
// order types.
func orderTypeFromVenue(s string) order.Type {
	compact := strings.ReplaceAll(strings.ToLower(s), " ", "")
	switch compact {
	case "takeprofitmarket", "takeprofitlimit":
		return order.TakeProfit
	}
	if t, err := order.StringToType(compact); err == nil {
		return t
	}
	return order.UnknownType
}

// orderStatusFromVenue folds the venue's status vocabulary onto the
// unified lifecycle. Margin and liquidation cancels count as
// cancelled; a triggered conditional is live on the book.
func orderStatusFromVenue(s string) order.Status {
	if status, err := order.StringToStatus(s); err == nil {
		return status
	}
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "cancel"):
		return order.Cancelled
	case lower == "triggered":
		return order.Open
	case strings.Contains(lower, "rejected"):
		return order.Rejected
	}
	return order.UnknownStatus
}

// formatPx normalizes a price to the venue's rules: the market's
// decimal cap and at most five significant figures, with integer
// prices exempt from the significant figure cap.
func formatPx(m *market.Market, px decimal.Decimal) string {
	px = m.TruncatePrice(px)
	if !px.IsInteger() {
		if pos := int32(px.NumDigits()) + px.Exponent(); pos < maxSignificantFigures {
			px = px.Round(maxSignificantFigures - pos)
		} else {
			px = px.Truncate(0)
		}
	}
	return px.String()
}

// formatSz normalizes an order size to the market's step.
func formatSz(m *market.Market, sz decimal.Decimal) string {
	return m.TruncateAmount(sz).String()
}
