package backpack

import (
	"maps"
	"slices"
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
	"github.com/stratospect/goperps/types"
)

// Venue vocabulary.
const (
	sideBid = "Bid"
	sideAsk = "Ask"

	typeMarket = "Market"
	typeLimit  = "Limit"

	tifGtc = "GTC"
	tifIoc = "IOC"
	tifFok = "FOK"

	marketTypePerp = "PERP"
	bookStateOpen  = "Open"
)

// marketFromVenue builds the unified listing for one contract. The
// venue states tick and step sizes but no precisions, so those derive
// from the exponents.
func marketFromVenue(v *MarketInfo) market.Market {
	m := market.Market{
		Symbol:       currency.NewPair(currency.NewCode(v.BaseSymbol), currency.NewCode(v.QuoteSymbol)),
		VenueSymbol:  v.Symbol,
		Active:       v.OrderBookState == bookStateOpen,
		ContractSize: decimal.New(1, 0),
		TickSize:     v.Filters.Price.TickSize.Decimal(),
		StepSize:     v.Filters.Quantity.StepSize.Decimal(),
		MinAmount:    v.Filters.Quantity.MinQuantity.Decimal(),
	}
	m.PricePrecision = precisionOf(m.TickSize)
	m.AmountPrecision = precisionOf(m.StepSize)
	if v.FundingInterval > 0 {
		m.FundingHours = int(time.Duration(v.FundingInterval) * time.Millisecond / time.Hour)
	}
	return m
}

// precisionOf derives decimal places from a tick or step size.
func precisionOf(step decimal.Decimal) int {
	if exp := step.Exponent(); exp < 0 {
		return int(-exp)
	}
	return 0
}

// bookFromDepth converts the order book snapshot. The venue serves
// both sides ascending by price, so bids reverse into best-first
// order.
func bookFromDepth(symbol currency.Pair, d *Depth) (*orderbook.Book, error) {
	bids := levelsFromTuples(d.Bids)
	slices.Reverse(bids)
	book := &orderbook.Book{
		Venue:     venueName,
		Symbol:    symbol,
		Bids:      bids,
		Asks:      levelsFromTuples(d.Asks),
		Timestamp: d.Timestamp.Time(),
	}
	if book.Timestamp.IsZero() {
		book.Timestamp = time.Now()
	}
	if err := book.Validate(); err != nil {
		return nil, errs.Wrap(venueName, errs.ErrBadResponse, err)
	}
	return book, nil
}

func levelsFromTuples(side [][2]types.Number) orderbook.Levels {
	out := make(orderbook.Levels, len(side))
	for i := range side {
		out[i] = orderbook.Level{Price: side[i][0].Decimal(), Amount: side[i][1].Decimal()}
	}
	return out
}

// tickerFromStats merges the day statistics with the mark price row.
// Neither route serves a top of book, so Bid and Ask stay unset.
func tickerFromStats(symbol currency.Pair, stats *TickerStats, mark *MarkPrice) ticker.Price {
	p := ticker.Price{
		Venue:       venueName,
		Symbol:      symbol,
		Last:        stats.LastPrice.Decimal(),
		High:        stats.High.Decimal(),
		Low:         stats.Low.Decimal(),
		Volume:      stats.Volume.Decimal(),
		QuoteVolume: stats.QuoteVolume.Decimal(),
		Timestamp:   time.Now(),
	}
	if mark != nil {
		p.MarkPrice = mark.MarkPrice.Decimal()
		p.IndexPrice = mark.IndexPrice.Decimal()
	}
	return p
}

// klineFromWire converts OHLCV rows, preserving venue order.
func klineFromWire(symbol currency.Pair, interval kline.Interval, rows []Kline) *kline.Item {
	item := &kline.Item{
		Venue:    venueName,
		Symbol:   symbol,
		Interval: interval,
		Candles:  make([]kline.Candle, len(rows)),
	}
	for i := range rows {
		item.Candles[i] = kline.Candle{
			Time:   rows[i].Start.Time(),
			Open:   rows[i].Open.Decimal(),
			High:   rows[i].High.Decimal(),
			Low:    rows[i].Low.Decimal(),
			Close:  rows[i].Close.Decimal(),
			Volume: rows[i].Volume.Decimal(),
		}
	}
	return item
}

// rateFromMark builds the current funding state from one mark price
// row. The settlement cadence comes from the listing table.
func rateFromMark(symbol currency.Pair, m *MarkPrice, intervalHours int) *fundingrate.Rate {
	next := m.NextFundingTimestamp.Time()
	r := &fundingrate.Rate{
		Venue:           venueName,
		Symbol:          symbol,
		Rate:            m.FundingRate.Decimal(),
		MarkPrice:       m.MarkPrice.Decimal(),
		IndexPrice:      m.IndexPrice.Decimal(),
		NextFundingTime: next,
		IntervalHours:   intervalHours,
	}
	if !next.IsZero() && intervalHours > 0 {
		r.FundingTime = next.Add(-time.Duration(intervalHours) * time.Hour)
	}
	return r
}

// historyFromEntries converts settled funding payments into ascending
// order. The venue pages newest first by offset alone, so since
// filters after the fact.
func historyFromEntries(symbol currency.Pair, entries []FundingEntry, since time.Time) *fundingrate.History {
	h := &fundingrate.History{
		Venue:  venueName,
		Symbol: symbol,
		Rates:  make([]fundingrate.HistoricalRate, 0, len(entries)),
	}
	for i := range entries {
		at := entries[i].IntervalEndTimestamp.Time()
		if !since.IsZero() && at.Before(since) {
			continue
		}
		h.Rates = append(h.Rates, fundingrate.HistoricalRate{
			Symbol: symbol,
			Rate:   entries[i].FundingRate.Decimal(),
			Time:   at,
		})
	}
	slices.SortFunc(h.Rates, func(a, b fundingrate.HistoricalRate) int {
		return a.Time.Compare(b.Time)
	})
	return h
}

// positionFromVenue converts one position record. A flat contract
// yields no position. The venue is cross-margin only and reports
// margin fractions rather than a leverage multiple, so Leverage stays
// unset.
func (e *Exchange) positionFromVenue(p *VenuePosition) (futures.Position, bool) {
	side, size := futures.SideFromSize(p.NetQuantity.Decimal())
	if side == futures.UnknownSide {
		return futures.Position{}, false
	}
	symbol, err := e.PairFromVenue(p.Symbol)
	if err != nil {
		return futures.Position{}, false
	}
	pos := futures.Position{
		Venue:         venueName,
		Symbol:        symbol,
		Side:          side,
		Size:          size,
		EntryPrice:    p.EntryPrice.Decimal(),
		MarkPrice:     p.MarkPrice.Decimal(),
		UnrealisedPNL: p.PnlUnrealized.Decimal(),
		MarginMode:    margin.Cross,
		Timestamp:     time.Now(),
	}
	if liq := p.EstLiquidationPrice.Decimal(); !liq.IsZero() {
		pos.LiquidationPrice = decimal.NullDecimal{Decimal: liq, Valid: true}
	}
	return pos, true
}

// holdingsFromCapital builds the account snapshot. Available funds are
// free; locked and staked remainders count as in use, so the balance
// identity holds exactly. Assets sort for deterministic output.
func holdingsFromCapital(capital map[string]AssetBalance) *account.Holdings {
	assets := slices.Sorted(maps.Keys(capital))
	h := &account.Holdings{
		Venue:     venueName,
		Balances:  make([]account.Balance, 0, len(assets)),
		Timestamp: time.Now(),
	}
	for _, asset := range assets {
		b := capital[asset]
		free := b.Available.Decimal()
		used := b.Locked.Decimal().Add(b.Staked.Decimal())
		h.Balances = append(h.Balances, account.Balance{
			Currency: currency.NewCode(asset),
			Total:    free.Add(used),
			Free:     free,
			Used:     used,
		})
	}
	return h
}

// orderFromVenue converts one order record. The venue reports no
// average fill price, so it derives from the executed quote quantity.
func (e *Exchange) orderFromVenue(o *VenueOrder) order.Detail {
	symbol, _ := e.PairFromVenue(o.Symbol)
	side, _ := order.StringToSide(o.Side)
	tif, _ := order.StringToTimeInForce(o.TimeInForce)
	amount := o.Quantity.Decimal()
	filled := o.ExecutedQuantity.Decimal()
	trigger := o.TriggerPrice.Decimal()
	d := order.Detail{
		ID:           o.ID,
		Venue:        venueName,
		Symbol:       symbol,
		Type:         orderTypeFromVenue(o.OrderType, !trigger.IsZero()),
		Side:         side,
		Amount:       amount,
		Price:        o.Price.Decimal(),
		TriggerPrice: trigger,
		Filled:       filled,
		Remaining:    amount.Sub(filled),
		Status:       orderStatusFromVenue(o.Status),
		TimeInForce:  tif,
		PostOnly:     o.PostOnly,
		ReduceOnly:   o.ReduceOnly,
		Timestamp:    o.CreatedAt.Time(),
	}
	if o.ClientID != 0 {
		d.ClientOrderID = strconv.FormatUint(uint64(o.ClientID), 10)
	}
	if filled.IsPositive() {
		d.AverageFillPrice = o.ExecutedQuoteQuantity.Decimal().Div(filled)
	}
	return d
}

// tradeFromFill converts one account execution.
func (e *Exchange) tradeFromFill(f *VenueFill) trade.Data {
	symbol, _ := e.PairFromVenue(f.Symbol)
	side, _ := order.StringToSide(f.Side)
	t := trade.Data{
		ID:        strconv.FormatInt(f.TradeID, 10),
		Venue:     venueName,
		Symbol:    symbol,
		Side:      side,
		Price:     f.Price.Decimal(),
		Amount:    f.Quantity.Decimal(),
		OrderID:   f.OrderID,
		Maker:     f.IsMaker,
		Timestamp: f.Timestamp.Time(),
	}
	t.DeriveCost()
	return t
}

// tradeFromRecent converts one public execution. The maker flag names
// the resting side, so a buyer-maker print was a sell-side taker.
func tradeFromRecent(symbol currency.Pair, r *RecentTrade) trade.Data {
	side := order.Buy
	if r.IsBuyerMaker {
		side = order.Sell
	}
	t := trade.Data{
		ID:        strconv.FormatInt(r.ID, 10),
		Venue:     venueName,
		Symbol:    symbol,
		Side:      side,
		Price:     r.Price.Decimal(),
		Amount:    r.Quantity.Decimal(),
		Cost:      r.QuoteQuantity.Decimal(),
		Timestamp: r.Timestamp.Time(),
	}
	t.DeriveCost()
	return t
}

func sideToVenue(s order.Side) string {
	if s == order.Sell {
		return sideAsk
	}
	return sideBid
}

// orderTypeToVenue splits a unified order type into the venue's
// two-type vocabulary plus whether a trigger price rides along. Take
// profits pick the market variant when no limit price is set.
func orderTypeToVenue(t order.Type, priceZero bool) (string, bool, error) {
	switch t {
	case order.Market:
		return typeMarket, false, nil
	case order.Limit:
		return typeLimit, false, nil
	case order.StopMarket:
		return typeMarket, true, nil
	case order.StopLimit:
		return typeLimit, true, nil
	case order.TakeProfit:
		if priceZero {
			return typeMarket, true, nil
		}
		return typeLimit, true, nil
	}
	return "", false, errs.New(venueName, errs.ErrInvalidOrder, "unsupported order type "+t.String())
}

// orderTypeFromVenue folds the venue's two-type vocabulary back onto
// unified types. A trigger price makes the stop variant; the venue
// does not distinguish stops from take profits on read.
func orderTypeFromVenue(s string, hasTrigger bool) order.Type {
	isLimit := strings.EqualFold(s, typeLimit)
	switch {
	case hasTrigger && isLimit:
		return order.StopLimit
	case hasTrigger:
		return order.StopMarket
	case isLimit:
		return order.Limit
	case strings.EqualFold(s, typeMarket):
		return order.Market
	}
	if t, err := order.StringToType(s); err == nil {
		return t
	}
	return order.UnknownType
}

// orderStatusFromVenue folds the venue's status vocabulary onto the
// unified lifecycle.
func orderStatusFromVenue(s string) order.Status {
	if status, err := order.StringToStatus(s); err == nil {
		return status
	}
	return order.UnknownStatus
}

// tifToVenue maps unified time in force onto the venue's vocabulary.
// Post-only is a separate flag here, not a time in force.
func tifToVenue(t order.TimeInForce) string {
	switch {
	case t.Is(order.ImmediateOrCancel):
		return tifIoc
	case t.Is(order.FillOrKill):
		return tifFok
	}
	return tifGtc
}

// formatPx normalizes a price to the market's tick.
func formatPx(m *market.Market, px decimal.Decimal) string {
	return m.TruncatePrice(px).String()
}

// formatQty normalizes an order size to the market's step.
func formatQty(m *market.Market, qty decimal.Decimal) string {
	return m.TruncateAmount(qty).String()
}
