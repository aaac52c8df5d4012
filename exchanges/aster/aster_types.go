package aster

import (
	"github.com/stratospect/goperps/types"
)

// APIError is the venue's error body.
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// ExchangeInfo is the contract listing response.
type ExchangeInfo struct {
	Timezone   string       `json:"timezone"`
	ServerTime types.Time   `json:"serverTime"`
	Symbols    []SymbolInfo `json:"symbols"`
}

// SymbolInfo describes one listed contract.
type SymbolInfo struct {
	Symbol            string         `json:"symbol"`
	Pair              string         `json:"pair"`
	ContractType      string         `json:"contractType"`
	Status            string         `json:"status"`
	BaseAsset         string         `json:"baseAsset"`
	QuoteAsset        string         `json:"quoteAsset"`
	MarginAsset       string         `json:"marginAsset"`
	PricePrecision    int            `json:"pricePrecision"`
	QuantityPrecision int            `json:"quantityPrecision"`
	OnboardDate       types.Time     `json:"onboardDate"`
	Filters           []SymbolFilter `json:"filters"`
}

// SymbolFilter is one trading constraint attached to a contract. The
// populated fields depend on FilterType.
type SymbolFilter struct {
	FilterType string       `json:"filterType"`
	MinPrice   types.Number `json:"minPrice"`
	MaxPrice   types.Number `json:"maxPrice"`
	TickSize   types.Number `json:"tickSize"`
	MinQty     types.Number `json:"minQty"`
	MaxQty     types.Number `json:"maxQty"`
	StepSize   types.Number `json:"stepSize"`
	Notional   types.Number `json:"notional"`
}

// Filter type discriminators.
const (
	filterPrice       = "PRICE_FILTER"
	filterLotSize     = "LOT_SIZE"
	filterMinNotional = "MIN_NOTIONAL"
)

// Depth is the order book snapshot. Levels are [price, quantity]
// tuples of native-precision strings.
type Depth struct {
	LastUpdateID int64             `json:"lastUpdateId"`
	EventTime    types.Time        `json:"E"`
	TradeTime    types.Time        `json:"T"`
	Bids         [][2]types.Number `json:"bids"`
	Asks         [][2]types.Number `json:"asks"`
}

// RecentTrade is one public execution.
type RecentTrade struct {
	ID           int64        `json:"id"`
	Price        types.Number `json:"price"`
	Qty          types.Number `json:"qty"`
	QuoteQty     types.Number `json:"quoteQty"`
	Time         types.Time   `json:"time"`
	IsBuyerMaker bool         `json:"isBuyerMaker"`
}

// Kline is one OHLCV bucket in the venue's positional array form:
// open time, open, high, low, close, volume, close time, quote
// volume, trade count, taker buy volume, taker buy quote volume.
type Kline []types.Number

// PremiumIndex carries mark price and funding state for one contract.
type PremiumIndex struct {
	Symbol          string       `json:"symbol"`
	MarkPrice       types.Number `json:"markPrice"`
	IndexPrice      types.Number `json:"indexPrice"`
	LastFundingRate types.Number `json:"lastFundingRate"`
	InterestRate    types.Number `json:"interestRate"`
	NextFundingTime types.Time   `json:"nextFundingTime"`
	Time            types.Time   `json:"time"`
}

// FundingEntry is one settled funding payment.
type FundingEntry struct {
	Symbol      string       `json:"symbol"`
	FundingRate types.Number `json:"fundingRate"`
	FundingTime types.Time   `json:"fundingTime"`
}

// Ticker24h is the rolling day statistics for one contract.
type Ticker24h struct {
	Symbol             string       `json:"symbol"`
	PriceChange        types.Number `json:"priceChange"`
	PriceChangePercent types.Number `json:"priceChangePercent"`
	WeightedAvgPrice   types.Number `json:"weightedAvgPrice"`
	LastPrice          types.Number `json:"lastPrice"`
	LastQty            types.Number `json:"lastQty"`
	OpenPrice          types.Number `json:"openPrice"`
	HighPrice          types.Number `json:"highPrice"`
	LowPrice           types.Number `json:"lowPrice"`
	Volume             types.Number `json:"volume"`
	QuoteVolume        types.Number `json:"quoteVolume"`
	OpenTime           types.Time   `json:"openTime"`
	CloseTime          types.Time   `json:"closeTime"`
	Count              int64        `json:"count"`
}

// BookTicker is the top of book for one contract.
type BookTicker struct {
	Symbol   string       `json:"symbol"`
	BidPrice types.Number `json:"bidPrice"`
	BidQty   types.Number `json:"bidQty"`
	AskPrice types.Number `json:"askPrice"`
	AskQty   types.Number `json:"askQty"`
	Time     types.Time   `json:"time"`
}

// AssetBalance is one margin asset's balance.
type AssetBalance struct {
	AccountAlias       string       `json:"accountAlias"`
	Asset              string       `json:"asset"`
	Balance            types.Number `json:"balance"`
	CrossWalletBalance types.Number `json:"crossWalletBalance"`
	CrossUnPnl         types.Number `json:"crossUnPnl"`
	AvailableBalance   types.Number `json:"availableBalance"`
	MaxWithdrawAmount  types.Number `json:"maxWithdrawAmount"`
	MarginAvailable    bool         `json:"marginAvailable"`
	UpdateTime         types.Time   `json:"updateTime"`
}

// PositionRisk is one contract's position state. PositionAmt is
// signed: negative for short.
type PositionRisk struct {
	Symbol           string       `json:"symbol"`
	PositionAmt      types.Number `json:"positionAmt"`
	EntryPrice       types.Number `json:"entryPrice"`
	MarkPrice        types.Number `json:"markPrice"`
	UnRealizedProfit types.Number `json:"unRealizedProfit"`
	LiquidationPrice types.Number `json:"liquidationPrice"`
	Leverage         types.Number `json:"leverage"`
	MarginType       string       `json:"marginType"`
	IsolatedMargin   types.Number `json:"isolatedMargin"`
	PositionSide     string       `json:"positionSide"`
	Notional         types.Number `json:"notional"`
	UpdateTime       types.Time   `json:"updateTime"`
}

// VenueOrder is the order record served by the order, openOrders and
// allOrders routes.
type VenueOrder struct {
	OrderID       int64        `json:"orderId"`
	Symbol        string       `json:"symbol"`
	Status        string       `json:"status"`
	ClientOrderID string       `json:"clientOrderId"`
	Price         types.Number `json:"price"`
	AvgPrice      types.Number `json:"avgPrice"`
	OrigQty       types.Number `json:"origQty"`
	ExecutedQty   types.Number `json:"executedQty"`
	CumQuote      types.Number `json:"cumQuote"`
	TimeInForce   string       `json:"timeInForce"`
	Type          string       `json:"type"`
	OrigType      string       `json:"origType"`
	ReduceOnly    bool         `json:"reduceOnly"`
	ClosePosition bool         `json:"closePosition"`
	Side          string       `json:"side"`
	PositionSide  string       `json:"positionSide"`
	StopPrice     types.Number `json:"stopPrice"`
	Time          types.Time   `json:"time"`
	UpdateTime    types.Time   `json:"updateTime"`
}

// UserTrade is one account execution.
type UserTrade struct {
	ID              int64        `json:"id"`
	OrderID         int64        `json:"orderId"`
	Symbol          string       `json:"symbol"`
	Side            string       `json:"side"`
	Price           types.Number `json:"price"`
	Qty             types.Number `json:"qty"`
	QuoteQty        types.Number `json:"quoteQty"`
	Commission      types.Number `json:"commission"`
	CommissionAsset string       `json:"commissionAsset"`
	RealizedPnl     types.Number `json:"realizedPnl"`
	Buyer           bool         `json:"buyer"`
	Maker           bool         `json:"maker"`
	Time            types.Time   `json:"time"`
}

// ListenKey is the private stream session handle.
type ListenKey struct {
	ListenKey string `json:"listenKey"`
}

// wsCommand is the stream control frame.
type wsCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// wsAggTrade is the aggregated trade event.
type wsAggTrade struct {
	EventType    string       `json:"e"`
	EventTime    types.Time   `json:"E"`
	Symbol       string       `json:"s"`
	AggTradeID   int64        `json:"a"`
	Price        types.Number `json:"p"`
	Quantity     types.Number `json:"q"`
	FirstTradeID int64        `json:"f"`
	LastTradeID  int64        `json:"l"`
	TradeTime    types.Time   `json:"T"`
	IsBuyerMaker bool         `json:"m"`
}

// wsDepth is the partial book depth event.
type wsDepth struct {
	EventType string            `json:"e"`
	EventTime types.Time        `json:"E"`
	TradeTime types.Time        `json:"T"`
	Symbol    string            `json:"s"`
	Bids      [][2]types.Number `json:"b"`
	Asks      [][2]types.Number `json:"a"`
}

// wsTicker is the rolling day ticker event.
type wsTicker struct {
	EventType   string       `json:"e"`
	EventTime   types.Time   `json:"E"`
	Symbol      string       `json:"s"`
	LastPrice   types.Number `json:"c"`
	OpenPrice   types.Number `json:"o"`
	HighPrice   types.Number `json:"h"`
	LowPrice    types.Number `json:"l"`
	Volume      types.Number `json:"v"`
	QuoteVolume types.Number `json:"q"`
}

// wsOrderUpdate is the private order lifecycle event.
type wsOrderUpdate struct {
	EventType string      `json:"e"`
	EventTime types.Time  `json:"E"`
	TradeTime types.Time  `json:"T"`
	Order     wsOrderData `json:"o"`
}

// wsOrderData is the order payload inside an order update.
type wsOrderData struct {
	Symbol        string       `json:"s"`
	ClientOrderID string       `json:"c"`
	Side          string       `json:"S"`
	Type          string       `json:"o"`
	TimeInForce   string       `json:"f"`
	OrigQty       types.Number `json:"q"`
	Price         types.Number `json:"p"`
	AvgPrice      types.Number `json:"ap"`
	StopPrice     types.Number `json:"sp"`
	ExecType      string       `json:"x"`
	Status        string       `json:"X"`
	OrderID       int64        `json:"i"`
	LastFilledQty types.Number `json:"l"`
	FilledQty     types.Number `json:"z"`
	LastPrice     types.Number `json:"L"`
	Commission    types.Number `json:"n"`
	TradeTime     types.Time   `json:"T"`
	TradeID       int64        `json:"t"`
	IsMaker       bool         `json:"m"`
	ReduceOnly    bool         `json:"R"`
	OrigType      string       `json:"ot"`
	PositionSide  string       `json:"ps"`
	RealizedPnl   types.Number `json:"rp"`
}

// wsAccountUpdate is the private balance and position event.
type wsAccountUpdate struct {
	EventType string        `json:"e"`
	EventTime types.Time    `json:"E"`
	TradeTime types.Time    `json:"T"`
	Account   wsAccountData `json:"a"`
}

// wsAccountData is the account payload inside an account update.
type wsAccountData struct {
	Reason    string       `json:"m"`
	Balances  []wsBalance  `json:"B"`
	Positions []wsPosition `json:"P"`
}

// wsBalance is one asset balance inside an account update.
type wsBalance struct {
	Asset              string       `json:"a"`
	WalletBalance      types.Number `json:"wb"`
	CrossWalletBalance types.Number `json:"cw"`
	BalanceChange      types.Number `json:"bc"`
}

// wsPosition is one position inside an account update.
type wsPosition struct {
	Symbol         string       `json:"s"`
	PositionAmt    types.Number `json:"pa"`
	EntryPrice     types.Number `json:"ep"`
	AccumRealized  types.Number `json:"cr"`
	UnrealizedPnl  types.Number `json:"up"`
	MarginType     string       `json:"mt"`
	IsolatedWallet types.Number `json:"iw"`
	PositionSide   string       `json:"ps"`
}
