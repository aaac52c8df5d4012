package backpack

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stratospect/goperps/types"
)

// APIError is the venue's error body.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// dateTime decodes the venue's ISO-8601 timestamps, which arrive
// without a zone and mean UTC. History routes use a space separator,
// klines a T.
type dateTime time.Time

var dateTimeLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *dateTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*d = dateTime(time.Time{})
		return nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			*d = dateTime(t)
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

// Time returns the underlying time.
func (d dateTime) Time() time.Time {
	return time.Time(d)
}

// MarketInfo describes one listed market. Perpetuals carry the PERP
// market type and a funding interval in milliseconds.
type MarketInfo struct {
	Symbol          string        `json:"symbol"`
	BaseSymbol      string        `json:"baseSymbol"`
	QuoteSymbol     string        `json:"quoteSymbol"`
	MarketType      string        `json:"marketType"`
	OrderBookState  string        `json:"orderBookState"`
	FundingInterval int64         `json:"fundingInterval"`
	Filters         MarketFilters `json:"filters"`
}

// MarketFilters are the trading constraints attached to a market.
type MarketFilters struct {
	Price struct {
		TickSize types.Number `json:"tickSize"`
	} `json:"price"`
	Quantity struct {
		MinQuantity types.Number `json:"minQuantity"`
		MaxQuantity types.Number `json:"maxQuantity"`
		StepSize    types.Number `json:"stepSize"`
	} `json:"quantity"`
}

// TickerStats is the rolling day statistics for one market. The route
// carries no top of book and no timestamp.
type TickerStats struct {
	Symbol             string       `json:"symbol"`
	FirstPrice         types.Number `json:"firstPrice"`
	LastPrice          types.Number `json:"lastPrice"`
	PriceChange        types.Number `json:"priceChange"`
	PriceChangePercent types.Number `json:"priceChangePercent"`
	High               types.Number `json:"high"`
	Low                types.Number `json:"low"`
	Volume             types.Number `json:"volume"`
	QuoteVolume        types.Number `json:"quoteVolume"`
	Trades             int64        `json:"trades"`
}

// Depth is the order book snapshot. Levels are [price, quantity]
// tuples of native-precision strings, both sides ascending by price.
// The update id is a decimal string and the timestamp microseconds.
type Depth struct {
	Bids         [][2]types.Number `json:"bids"`
	Asks         [][2]types.Number `json:"asks"`
	LastUpdateID types.Number      `json:"lastUpdateId"`
	Timestamp    types.Time        `json:"timestamp"`
}

// RecentTrade is one public execution.
type RecentTrade struct {
	ID            int64        `json:"id"`
	Price         types.Number `json:"price"`
	Quantity      types.Number `json:"quantity"`
	QuoteQuantity types.Number `json:"quoteQuantity"`
	Timestamp     types.Time   `json:"timestamp"`
	IsBuyerMaker  bool         `json:"isBuyerMaker"`
}

// Kline is one OHLCV bucket.
type Kline struct {
	Start       dateTime     `json:"start"`
	End         dateTime     `json:"end"`
	Open        types.Number `json:"open"`
	High        types.Number `json:"high"`
	Low         types.Number `json:"low"`
	Close       types.Number `json:"close"`
	Volume      types.Number `json:"volume"`
	QuoteVolume types.Number `json:"quoteVolume"`
	Trades      types.Number `json:"trades"`
}

// MarkPrice carries mark price and funding state for one contract.
type MarkPrice struct {
	Symbol               string       `json:"symbol"`
	MarkPrice            types.Number `json:"markPrice"`
	IndexPrice           types.Number `json:"indexPrice"`
	FundingRate          types.Number `json:"fundingRate"`
	NextFundingTimestamp types.Time   `json:"nextFundingTimestamp"`
}

// FundingEntry is one settled funding payment.
type FundingEntry struct {
	Symbol               string       `json:"symbol"`
	IntervalEndTimestamp dateTime     `json:"intervalEndTimestamp"`
	FundingRate          types.Number `json:"fundingRate"`
}

// AssetBalance is one collateral asset's balance. The capital route
// keys these by asset code.
type AssetBalance struct {
	Available types.Number `json:"available"`
	Locked    types.Number `json:"locked"`
	Staked    types.Number `json:"staked"`
}

// VenuePosition is one contract's position state. NetQuantity is
// signed: negative for short.
type VenuePosition struct {
	Symbol              string       `json:"symbol"`
	NetQuantity         types.Number `json:"netQuantity"`
	NetExposureQuantity types.Number `json:"netExposureQuantity"`
	NetExposureNotional types.Number `json:"netExposureNotional"`
	EntryPrice          types.Number `json:"entryPrice"`
	MarkPrice           types.Number `json:"markPrice"`
	BreakEvenPrice      types.Number `json:"breakEvenPrice"`
	EstLiquidationPrice types.Number `json:"estLiquidationPrice"`
	PnlRealized         types.Number `json:"pnlRealized"`
	PnlUnrealized       types.Number `json:"pnlUnrealized"`
	CumulativeFunding   types.Number `json:"cumulativeFundingPayment"`
	IMF                 types.Number `json:"imf"`
	MMF                 types.Number `json:"mmf"`
	PositionID          string       `json:"positionId"`
}

// VenueOrder is the order record served by the order routes. IDs are
// opaque strings; the optional client id is a 32-bit number.
type VenueOrder struct {
	ID                    string       `json:"id"`
	ClientID              uint32       `json:"clientId"`
	Symbol                string       `json:"symbol"`
	Side                  string       `json:"side"`
	OrderType             string       `json:"orderType"`
	Status                string       `json:"status"`
	Quantity              types.Number `json:"quantity"`
	ExecutedQuantity      types.Number `json:"executedQuantity"`
	QuoteQuantity         types.Number `json:"quoteQuantity"`
	ExecutedQuoteQuantity types.Number `json:"executedQuoteQuantity"`
	Price                 types.Number `json:"price"`
	TriggerPrice          types.Number `json:"triggerPrice"`
	TimeInForce           string       `json:"timeInForce"`
	SelfTradePrevention   string       `json:"selfTradePrevention"`
	PostOnly              bool         `json:"postOnly"`
	ReduceOnly            bool         `json:"reduceOnly"`
	CreatedAt             types.Time   `json:"createdAt"`
}

// VenueFill is one account execution from the fill history route.
type VenueFill struct {
	TradeID   int64        `json:"tradeId"`
	OrderID   string       `json:"orderId"`
	Symbol    string       `json:"symbol"`
	Side      string       `json:"side"`
	Price     types.Number `json:"price"`
	Quantity  types.Number `json:"quantity"`
	Fee       types.Number `json:"fee"`
	FeeSymbol string       `json:"feeSymbol"`
	IsMaker   bool         `json:"isMaker"`
	Timestamp dateTime     `json:"timestamp"`
}

// OrderRequest is the order execution body. values must mirror the
// marshalled fields exactly, omissions included, because both feed the
// same signature check.
type OrderRequest struct {
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	OrderType    string `json:"orderType"`
	Quantity     string `json:"quantity"`
	Price        string `json:"price,omitempty"`
	TriggerPrice string `json:"triggerPrice,omitempty"`
	TimeInForce  string `json:"timeInForce,omitempty"`
	ClientID     uint32 `json:"clientId,omitempty"`
	PostOnly     bool   `json:"postOnly,omitempty"`
	ReduceOnly   bool   `json:"reduceOnly,omitempty"`
}

func (r *OrderRequest) values() url.Values {
	vals := url.Values{}
	vals.Set("symbol", r.Symbol)
	vals.Set("side", r.Side)
	vals.Set("orderType", r.OrderType)
	vals.Set("quantity", r.Quantity)
	if r.Price != "" {
		vals.Set("price", r.Price)
	}
	if r.TriggerPrice != "" {
		vals.Set("triggerPrice", r.TriggerPrice)
	}
	if r.TimeInForce != "" {
		vals.Set("timeInForce", r.TimeInForce)
	}
	if r.ClientID != 0 {
		vals.Set("clientId", strconv.FormatUint(uint64(r.ClientID), 10))
	}
	if r.PostOnly {
		vals.Set("postOnly", "true")
	}
	if r.ReduceOnly {
		vals.Set("reduceOnly", "true")
	}
	return vals
}

// CancelOrderRequest addresses one resting order.
type CancelOrderRequest struct {
	Symbol  string `json:"symbol"`
	OrderID string `json:"orderId"`
}

func (r *CancelOrderRequest) values() url.Values {
	vals := url.Values{}
	vals.Set("symbol", r.Symbol)
	vals.Set("orderId", r.OrderID)
	return vals
}

// CancelAllRequest addresses every resting order on one contract.
type CancelAllRequest struct {
	Symbol string `json:"symbol"`
}

func (r *CancelAllRequest) values() url.Values {
	vals := url.Values{}
	vals.Set("symbol", r.Symbol)
	return vals
}

// AccountUpdateRequest adjusts account-wide trading settings.
type AccountUpdateRequest struct {
	LeverageLimit string `json:"leverageLimit,omitempty"`
}

func (r *AccountUpdateRequest) values() url.Values {
	vals := url.Values{}
	if r.LeverageLimit != "" {
		vals.Set("leverageLimit", r.LeverageLimit)
	}
	return vals
}

// wsEnvelope is the outer wrapper on every stream data frame.
type wsEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// wsCommand is the stream control frame. Private streams carry the
// signature material as [key, signature, timestamp, window].
type wsCommand struct {
	Method    string   `json:"method"`
	Params    []string `json:"params"`
	Signature []string `json:"signature,omitempty"`
}

// wsTicker is the day ticker event. Event times are microseconds.
type wsTicker struct {
	EventType   string       `json:"e"`
	EventTime   types.Time   `json:"E"`
	Symbol      string       `json:"s"`
	Open        types.Number `json:"o"`
	Close       types.Number `json:"c"`
	High        types.Number `json:"h"`
	Low         types.Number `json:"l"`
	Volume      types.Number `json:"v"`
	QuoteVolume types.Number `json:"V"`
	Trades      int64        `json:"n"`
}

// wsDepth is the incremental book event. U and u bound the update id
// range the diff covers.
type wsDepth struct {
	EventType     string            `json:"e"`
	EventTime     types.Time        `json:"E"`
	Symbol        string            `json:"s"`
	Asks          [][2]types.Number `json:"a"`
	Bids          [][2]types.Number `json:"b"`
	FirstUpdateID int64             `json:"U"`
	LastUpdateID  int64             `json:"u"`
	EngineTime    types.Time        `json:"T"`
}

// wsTrade is the public trade event.
type wsTrade struct {
	EventType    string       `json:"e"`
	EventTime    types.Time   `json:"E"`
	Symbol       string       `json:"s"`
	Price        types.Number `json:"p"`
	Quantity     types.Number `json:"q"`
	BuyerOrderID string       `json:"b"`
	SellOrderID  string       `json:"a"`
	TradeID      int64        `json:"t"`
	EngineTime   types.Time   `json:"T"`
	IsBuyerMaker bool         `json:"m"`
}

// wsOrderUpdate is the private order lifecycle event.
type wsOrderUpdate struct {
	EventType     string       `json:"e"`
	EventTime     types.Time   `json:"E"`
	Symbol        string       `json:"s"`
	ClientID      uint32       `json:"c"`
	Side          string       `json:"S"`
	OrderType     string       `json:"o"`
	TimeInForce   string       `json:"f"`
	Quantity      types.Number `json:"q"`
	QuoteQuantity types.Number `json:"Q"`
	Price         types.Number `json:"p"`
	TriggerPrice  types.Number `json:"P"`
	Status        string       `json:"X"`
	OrderID       string       `json:"i"`
	TradeID       int64        `json:"t"`
	FillQuantity  types.Number `json:"l"`
	ExecutedQty   types.Number `json:"z"`
	ExecutedQuote types.Number `json:"Z"`
	FillPrice     types.Number `json:"L"`
	IsMaker       bool         `json:"m"`
	Fee           types.Number `json:"n"`
	FeeSymbol     string       `json:"N"`
	EngineTime    types.Time   `json:"T"`
}

// wsPosition is the private position event.
type wsPosition struct {
	EventType     string       `json:"e"`
	EventTime     types.Time   `json:"E"`
	Symbol        string       `json:"s"`
	BreakEven     types.Number `json:"b"`
	EntryPrice    types.Number `json:"B"`
	EstLiqPrice   types.Number `json:"l"`
	MarkPrice     types.Number `json:"M"`
	NetQuantity   types.Number `json:"q"`
	PnlRealized   types.Number `json:"p"`
	PnlUnrealized types.Number `json:"P"`
	PositionID    int64        `json:"i"`
	EngineTime    types.Time   `json:"T"`
}
