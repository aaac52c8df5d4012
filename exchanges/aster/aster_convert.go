package aster

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
	"github.com/stratospect/goperps/types"
)

// Venue order vocabulary.
const (
	sideBuy  = "BUY"
	sideSell = "SELL"

	typeMarket           = "MARKET"
	typeLimit            = "LIMIT"
	typeStop             = "STOP"
	typeStopMarket       = "STOP_MARKET"
	typeTakeProfit       = "TAKE_PROFIT"
	typeTakeProfitMarket = "TAKE_PROFIT_MARKET"

	tifGtc = "GTC"
	tifIoc = "IOC"
	tifFok = "FOK"
	tifGtx = "GTX"

	statusTrading = "TRADING"

	fundingIntervalHours = 8
)

// marketFromInfo builds the unified listing for one contract. Tick,
// step and floor constraints live in the filter list.
func marketFromInfo(s *SymbolInfo) market.Market {
	m := market.Market{
		Symbol:          currency.NewSettledPair(currency.NewCode(s.BaseAsset), currency.NewCode(s.QuoteAsset), currency.NewCode(s.MarginAsset)),
		VenueSymbol:     s.Symbol,
		Active:          s.Status == statusTrading,
		ContractSize:    decimal.New(1, 0),
		PricePrecision:  s.PricePrecision,
		AmountPrecision: s.QuantityPrecision,
		FundingHours:    fundingIntervalHours,
	}
	for i := range s.Filters {
		switch s.Filters[i].FilterType {
		case filterPrice:
			m.TickSize = s.Filters[i].TickSize.Decimal()
		case filterLotSize:
			m.StepSize = s.Filters[i].StepSize.Decimal()
			m.MinAmount = s.Filters[i].MinQty.Decimal()
		case filterMinNotional:
			m.MinNotional = s.Filters[i].Notional.Decimal()
		}
	}
	return m
}

// bookFromDepth converts an order book snapshot.
func bookFromDepth(symbol currency.Pair, d *Depth) (*orderbook.Book, error) {
	book := &orderbook.Book{
		Venue:     venueName,
		Symbol:    symbol,
		Bids:      levelsFromTuples(d.Bids),
		Asks:      levelsFromTuples(d.Asks),
		Timestamp: d.EventTime.Time(),
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

// tickerFromStats merges the day statistics with the top of book.
func tickerFromStats(symbol currency.Pair, stats *Ticker24h, top *BookTicker) ticker.Price {
	p := ticker.Price{
		Venue:       venueName,
		Symbol:      symbol,
		Last:        stats.LastPrice.Decimal(),
		High:        stats.HighPrice.Decimal(),
		Low:         stats.LowPrice.Decimal(),
		Volume:      stats.Volume.Decimal(),
		QuoteVolume: stats.QuoteVolume.Decimal(),
		Timestamp:   stats.CloseTime.Time(),
	}
	if top != nil {
		p.Bid = top.BidPrice.Decimal()
		p.Ask = top.AskPrice.Decimal()
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	return p
}

// klineFromWire converts the positional OHLCV arrays, preserving venue
// order. Short rows are a schema fault.
func klineFromWire(symbol currency.Pair, interval kline.Interval, rows []Kline) (*kline.Item, error) {
	item := &kline.Item{
		Venue:    venueName,
		Symbol:   symbol,
		Interval: interval,
		Candles:  make([]kline.Candle, len(rows)),
	}
	for i := range rows {
		if len(rows[i]) < 6 {
			return nil, errs.New(venueName, errs.ErrBadResponse,
				"kline row carries "+strconv.Itoa(len(rows[i]))+" fields, want at least 6")
		}
		item.Candles[i] = kline.Candle{
			Time:   time.UnixMilli(rows[i][0].Decimal().IntPart()),
			Open:   rows[i][1].Decimal(),
			High:   rows[i][2].Decimal(),
			Low:    rows[i][3].Decimal(),
			Close:  rows[i][4].Decimal(),
			Volume: rows[i][5].Decimal(),
		}
	}
	return item, nil
}

// rateFromPremium builds the current funding state from the premium
// index. The venue settles every eight hours.
func rateFromPremium(symbol currency.Pair, p *PremiumIndex) *fundingrate.Rate {
	next := p.NextFundingTime.Time()
	r := &fundingrate.Rate{
		Venue:           venueName,
		Symbol:          symbol,
		Rate:            p.LastFundingRate.Decimal(),
		MarkPrice:       p.MarkPrice.Decimal(),
		IndexPrice:      p.IndexPrice.Decimal(),
		NextFundingTime: next,
		IntervalHours:   fundingIntervalHours,
	}
	if !next.IsZero() {
		r.FundingTime = next.Add(-fundingIntervalHours * time.Hour)
	}
	return r
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
			Time:   entries[i].FundingTime.Time(),
		}
	}
	return h
}

// positionFromRisk converts one position record. A flat contract
// yields no position.
func (e *Exchange) positionFromRisk(r *PositionRisk) (futures.Position, bool) {
	side, size := futures.SideFromSize(r.PositionAmt.Decimal())
	if side == futures.UnknownSide {
		return futures.Position{}, false
	}
	symbol, err := e.PairFromVenue(r.Symbol)
	if err != nil {
		return futures.Position{}, false
	}
	mode, err := margin.StringToMarginType(r.MarginType)
	if err != nil {
		mode = margin.Unset
	}
	at := r.UpdateTime.Time()
	if at.IsZero() {
		at = time.Now()
	}
	pos := futures.Position{
		Venue:         venueName,
		Symbol:        symbol,
		Side:          side,
		Size:          size,
		EntryPrice:    r.EntryPrice.Decimal(),
		MarkPrice:     r.MarkPrice.Decimal(),
		UnrealisedPNL: r.UnRealizedProfit.Decimal(),
		Leverage:      r.Leverage.Decimal(),
		MarginMode:    mode,
		Timestamp:     at,
	}
	if liq := r.LiquidationPrice.Decimal(); !liq.IsZero() {
		pos.LiquidationPrice = decimal.NullDecimal{Decimal: liq, Valid: true}
	}
	return pos, true
}

// holdingsFromBalances builds the account snapshot. The venue reports
// wallet balance and the available remainder per asset; margin in use
// is the difference, so the balance identity holds exactly.
func holdingsFromBalances(balances []AssetBalance) *account.Holdings {
	h := &account.Holdings{
		Venue:     venueName,
		Balances:  make([]account.Balance, 0, len(balances)),
		Timestamp: time.Now(),
	}
	for i := range balances {
		total := balances[i].Balance.Decimal()
		free := balances[i].AvailableBalance.Decimal()
		if free.GreaterThan(total) {
			free = total
		}
		h.Balances = append(h.Balances, account.Balance{
			Currency: currency.NewCode(balances[i].Asset),
			Total:    total,
			Free:     free,
			Used:     total.Sub(free),
		})
		if at := balances[i].UpdateTime.Time(); !at.IsZero() && at.After(h.Timestamp) {
			h.Timestamp = at
		}
	}
	return h
}

// orderFromVenue converts one order record.
func (e *Exchange) orderFromVenue(o *VenueOrder) order.Detail {
	symbol, _ := e.PairFromVenue(o.Symbol)
	side, _ := order.StringToSide(o.Side)
	tif, _ := order.StringToTimeInForce(o.TimeInForce)
	amount := o.OrigQty.Decimal()
	filled := o.ExecutedQty.Decimal()
	at := o.UpdateTime.Time()
	if at.IsZero() {
		at = o.Time.Time()
	}
	wireType := o.OrigType
	if wireType == "" {
		wireType = o.Type
	}
	return order.Detail{
		ID:               strconv.FormatInt(o.OrderID, 10),
		ClientOrderID:    o.ClientOrderID,
		Venue:            venueName,
		Symbol:           symbol,
		Type:             orderTypeFromVenue(wireType),
		Side:             side,
		Amount:           amount,
		Price:            o.Price.Decimal(),
		TriggerPrice:     o.StopPrice.Decimal(),
		AverageFillPrice: o.AvgPrice.Decimal(),
		Filled:           filled,
		Remaining:        amount.Sub(filled),
		Status:           orderStatusFromVenue(o.Status),
		TimeInForce:      tif,
		PostOnly:         strings.EqualFold(o.TimeInForce, tifGtx),
		ReduceOnly:       o.ReduceOnly,
		Timestamp:        at,
	}
}

// tradeFromUserTrade converts one account execution.
func (e *Exchange) tradeFromUserTrade(f *UserTrade) trade.Data {
	symbol, _ := e.PairFromVenue(f.Symbol)
	side, _ := order.StringToSide(f.Side)
	t := trade.Data{
		ID:        strconv.FormatInt(f.ID, 10),
		Venue:     venueName,
		Symbol:    symbol,
		Side:      side,
		Price:     f.Price.Decimal(),
		Amount:    f.Qty.Decimal(),
		Cost:      f.QuoteQty.Decimal(),
		OrderID:   strconv.FormatInt(f.OrderID, 10),
		Maker:     f.Maker,
		Timestamp: f.Time.Time(),
	}
	t.DeriveCost()
	return t
}

// tradeFromRecent converts one public execution. The reported side is
// the maker's, so a buyer-maker print was a sell-side taker.
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
		Amount:    r.Qty.Decimal(),
		Cost:      r.QuoteQty.Decimal(),
		Timestamp: r.Time.Time(),
	}
	t.DeriveCost()
	return t
}

// orderTypeToVenue maps a unified submission onto the venue's type
// vocabulary. Take profits pick the market variant when no limit price
// rides along.
func orderTypeToVenue(t order.Type, priceZero bool) (string, error) {
	switch t {
	case order.Market:
		return typeMarket, nil
	case order.Limit:
		return typeLimit, nil
	case order.StopMarket:
		return typeStopMarket, nil
	case order.StopLimit:
		return typeStop, nil
	case order.TakeProfit:
		if priceZero {
			return typeTakeProfitMarket, nil
		}
		return typeTakeProfit, nil
	}
	return "", errs.New(venueName, errs.ErrInvalidOrder, "unsupported order type "+t.String())
}

// orderTypeFromVenue maps the venue's type vocabulary onto unified
// order types. STOP alone is the stop-limit variant.
func orderTypeFromVenue(s string) order.Type {
	switch strings.ToUpper(s) {
	case typeMarket:
		return order.Market
	case typeLimit:
		return order.Limit
	case typeStop:
		return order.StopLimit
	case typeStopMarket, "TRAILING_STOP_MARKET":
		return order.StopMarket
	case typeTakeProfit, typeTakeProfitMarket:
		return order.TakeProfit
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
	if strings.Contains(strings.ToLower(s), "expired") {
		return order.Cancelled
	}
	return order.UnknownStatus
}

// tifToVenue maps unified time in force onto the venue's vocabulary.
// Post-only rides the GTX flavour.
func tifToVenue(t order.TimeInForce, postOnly bool) string {
	if postOnly || t.Is(order.PostOnlyTIF) {
		return tifGtx
	}
	switch {
	case t.Is(order.ImmediateOrCancel):
		return tifIoc
	case t.Is(order.FillOrKill):
		return tifFok
	}
	return tifGtc
}

// formatPx normalizes a price to the market's precision.
func formatPx(m *market.Market, px decimal.Decimal) string {
	return m.TruncatePrice(px).String()
}

// formatQty normalizes an order size to the market's step.
func formatQty(m *market.Market, qty decimal.Decimal) string {
	return m.TruncateAmount(qty).String()
}
