package hyperliquid

import (
	"encoding/json"
	"fmt"

	"github.com/stratospect/goperps/types"
)

// Info request discriminators. The read route multiplexes every query
// through one POST body keyed by type.
const (
	infoMeta             = "meta"
	infoMetaAndAssetCtxs = "metaAndAssetCtxs"
	infoL2Book           = "l2Book"
	infoCandleSnapshot   = "candleSnapshot"
	infoFundingHistory   = "fundingHistory"
	infoClearinghouse    = "clearinghouseState"
	infoOpenOrders       = "frontendOpenOrders"
	infoHistoricalOrders = "historicalOrders"
	infoUserFills        = "userFills"
)

// Exchange action discriminators.
const (
	actionOrder          = "order"
	actionCancel         = "cancel"
	actionUpdateLeverage = "updateLeverage"

	groupingNone = "na"

	statusOK = "ok"
)

type infoRequest struct {
	Type      string         `json:"type"`
	Coin      string         `json:"coin,omitempty"`
	User      string         `json:"user,omitempty"`
	StartTime int64          `json:"startTime,omitempty"`
	EndTime   int64          `json:"endTime,omitempty"`
	Req       *candleRequest `json:"req,omitempty"`
}

type candleRequest struct {
	Coin      string `json:"coin"`
	Interval  string `json:"interval"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

// UniverseAsset is one listed perpetual in the venue metadata. Assets
// are addressed on the trade route by their universe index.
type UniverseAsset struct {
	Name         string `json:"name"`
	SzDecimals   int    `json:"szDecimals"`
	MaxLeverage  int    `json:"maxLeverage"`
	OnlyIsolated bool   `json:"onlyIsolated"`
	IsDelisted   bool   `json:"isDelisted"`
}

// Meta is the venue's perpetuals metadata.
type Meta struct {
	Universe []UniverseAsset `json:"universe"`
}

// AssetCtx is the rolling market state for one perpetual.
type AssetCtx struct {
	Funding      types.Number   `json:"funding"`
	OpenInterest types.Number   `json:"openInterest"`
	PrevDayPx    types.Number   `json:"prevDayPx"`
	DayNtlVlm    types.Number   `json:"dayNtlVlm"`
	Premium      types.Number   `json:"premium"`
	OraclePx     types.Number   `json:"oraclePx"`
	MarkPx       types.Number   `json:"markPx"`
	MidPx        types.Number   `json:"midPx"`
	ImpactPxs    []types.Number `json:"impactPxs"`
}

// MetaAndAssetCtxs pairs the universe with per-asset market state,
// index aligned. The wire form is a two-element array.
type MetaAndAssetCtxs struct {
	Meta Meta
	Ctxs []AssetCtx
}

// UnmarshalJSON splits the [meta, assetCtxs] pair.
func (m *MetaAndAssetCtxs) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("expected [meta, assetCtxs] pair, got %d elements", len(parts))
	}
	if err := json.Unmarshal(parts[0], &m.Meta); err != nil {
		return err
	}
	return json.Unmarshal(parts[1], &m.Ctxs)
}

// BookLevel is one depth level. Levels arrive as [price, size] string
// tuples; stream frames may carry the object form instead.
type BookLevel struct {
	Px types.Number
	Sz types.Number
}

// UnmarshalJSON accepts both the tuple and the object encoding.
func (l *BookLevel) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		var tuple []types.Number
		if err := json.Unmarshal(data, &tuple); err != nil {
			return err
		}
		if len(tuple) < 2 {
			return fmt.Errorf("book level needs price and size, got %d fields", len(tuple))
		}
		l.Px, l.Sz = tuple[0], tuple[1]
		return nil
	}
	var obj struct {
		Px types.Number `json:"px"`
		Sz types.Number `json:"sz"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	l.Px, l.Sz = obj.Px, obj.Sz
	return nil
}

// L2Book is a two-sided depth snapshot. Levels[0] holds bids,
// Levels[1] holds asks, both ordered from the top of the book.
type L2Book struct {
	Coin   string        `json:"coin"`
	Time   types.Time    `json:"time"`
	Levels [][]BookLevel `json:"levels"`
}

// Candle is one OHLCV bucket.
type Candle struct {
	OpenTime  types.Time   `json:"t"`
	CloseTime types.Time   `json:"T"`
	Coin      string       `json:"s"`
	Interval  string       `json:"i"`
	Open      types.Number `json:"o"`
	Close     types.Number `json:"c"`
	High      types.Number `json:"h"`
	Low       types.Number `json:"l"`
	Volume    types.Number `json:"v"`
	Trades    int64        `json:"n"`
}

// FundingEntry is one settled funding payment.
type FundingEntry struct {
	Coin        string       `json:"coin"`
	FundingRate types.Number `json:"fundingRate"`
	Premium     types.Number `json:"premium"`
	Time        types.Time   `json:"time"`
}

// PositionLeverage reports a position's margin mode and multiple.
type PositionLeverage struct {
	Type   string       `json:"type"`
	Value  int          `json:"value"`
	RawUsd types.Number `json:"rawUsd"`
}

// AssetPosition wraps one open position inside the clearinghouse
// state.
type AssetPosition struct {
	Type     string       `json:"type"`
	Position OpenPosition `json:"position"`
}

// OpenPosition is the venue's position record. Szi is signed: positive
// long, negative short.
type OpenPosition struct {
	Coin           string           `json:"coin"`
	Szi            types.Number     `json:"szi"`
	EntryPx        types.Number     `json:"entryPx"`
	PositionValue  types.Number     `json:"positionValue"`
	UnrealizedPnl  types.Number     `json:"unrealizedPnl"`
	ReturnOnEquity types.Number     `json:"returnOnEquity"`
	LiquidationPx  types.Number     `json:"liquidationPx"`
	MarginUsed     types.Number     `json:"marginUsed"`
	MaxLeverage    int              `json:"maxLeverage"`
	Leverage       PositionLeverage `json:"leverage"`
}

// MarginSummary aggregates account margin usage.
type MarginSummary struct {
	AccountValue    types.Number `json:"accountValue"`
	TotalNtlPos     types.Number `json:"totalNtlPos"`
	TotalRawUsd     types.Number `json:"totalRawUsd"`
	TotalMarginUsed types.Number `json:"totalMarginUsed"`
}

// ClearinghouseState is the account snapshot: open positions plus
// margin aggregates.
type ClearinghouseState struct {
	AssetPositions     []AssetPosition `json:"assetPositions"`
	MarginSummary      MarginSummary   `json:"marginSummary"`
	CrossMarginSummary MarginSummary   `json:"crossMarginSummary"`
	Withdrawable       types.Number    `json:"withdrawable"`
	Time               types.Time      `json:"time"`
}

// OpenOrder is one order as served by the order queries and streams.
// Sz is the remaining size; OrigSz the requested size.
type OpenOrder struct {
	Coin             string       `json:"coin"`
	Side             string       `json:"side"`
	LimitPx          types.Number `json:"limitPx"`
	Sz               types.Number `json:"sz"`
	Oid              int64        `json:"oid"`
	Timestamp        types.Time   `json:"timestamp"`
	OrigSz           types.Number `json:"origSz"`
	TriggerCondition string       `json:"triggerCondition"`
	IsTrigger        bool         `json:"isTrigger"`
	TriggerPx        types.Number `json:"triggerPx"`
	ReduceOnly       bool         `json:"reduceOnly"`
	OrderType        string       `json:"orderType"`
	Tif              string       `json:"tif"`
	Cloid            string       `json:"cloid"`
}

// HistoricalOrder pairs an order with its lifecycle status.
type HistoricalOrder struct {
	Order           OpenOrder  `json:"order"`
	Status          string     `json:"status"`
	StatusTimestamp types.Time `json:"statusTimestamp"`
}

// Fill is one execution from the fills query or stream. Crossed marks
// the taker side.
type Fill struct {
	Coin          string       `json:"coin"`
	Px            types.Number `json:"px"`
	Sz            types.Number `json:"sz"`
	Side          string       `json:"side"`
	Time          types.Time   `json:"time"`
	StartPosition types.Number `json:"startPosition"`
	Dir           string       `json:"dir"`
	ClosedPnl     types.Number `json:"closedPnl"`
	Hash          string       `json:"hash"`
	Oid           int64        `json:"oid"`
	Crossed       bool         `json:"crossed"`
	Fee           types.Number `json:"fee"`
	FeeToken      string       `json:"feeToken"`
	Tid           int64        `json:"tid"`
}

// OrderAction is the signed order placement document. Wire field names
// are the venue's compact single-letter keys.
type OrderAction struct {
	Type     string      `json:"type"`
	Orders   []OrderWire `json:"orders"`
	Grouping string      `json:"grouping"`
	Builder  *BuilderFee `json:"builder,omitempty"`
}

// OrderWire is one order inside an order action.
type OrderWire struct {
	Asset      int           `json:"a"`
	IsBuy      bool          `json:"b"`
	Px         string        `json:"p"`
	Sz         string        `json:"s"`
	ReduceOnly bool          `json:"r"`
	Type       OrderTypeWire `json:"t"`
	Cloid      string        `json:"c,omitempty"`
}

// OrderTypeWire selects the execution style; exactly one branch is
// set.
type OrderTypeWire struct {
	Limit   *LimitOrderType   `json:"limit,omitempty"`
	Trigger *TriggerOrderType `json:"trigger,omitempty"`
}

// LimitOrderType carries the time in force: Gtc, Ioc or Alo.
type LimitOrderType struct {
	Tif string `json:"tif"`
}

// TriggerOrderType describes a stop or take-profit trigger.
type TriggerOrderType struct {
	IsMarket  bool   `json:"isMarket"`
	TriggerPx string `json:"triggerPx"`
	Tpsl      string `json:"tpsl"`
}

// BuilderFee tags an order with a builder revenue share. Fee is in
// tenths of a basis point.
type BuilderFee struct {
	Builder string `json:"b"`
	Fee     int    `json:"f"`
}

// CancelAction is the signed cancel document.
type CancelAction struct {
	Type    string       `json:"type"`
	Cancels []CancelWire `json:"cancels"`
}

// CancelWire addresses one resting order by asset index and order id.
type CancelWire struct {
	Asset int   `json:"a"`
	Oid   int64 `json:"o"`
}

// LeverageAction is the signed leverage update document.
type LeverageAction struct {
	Type     string `json:"type"`
	Asset    int    `json:"asset"`
	IsCross  bool   `json:"isCross"`
	Leverage int    `json:"leverage"`
}

// ExchangeResponse is the trade route envelope. Response holds a plain
// string when Status is "err" and a result object otherwise.
type ExchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// ExchangeResult is the decoded success payload of an action.
type ExchangeResult struct {
	Type string `json:"type"`
	Data struct {
		Statuses []OrderStatusResult `json:"statuses"`
	} `json:"data"`
}

// OrderStatusResult is the per-order outcome inside an action result.
// At most one branch is set; cancels report the bare string "success".
type OrderStatusResult struct {
	Resting *RestingStatus `json:"resting,omitempty"`
	Filled  *FilledStatus  `json:"filled,omitempty"`
	Error   string         `json:"error,omitempty"`
	Success bool           `json:"-"`
}

// RestingStatus reports an order accepted onto the book.
type RestingStatus struct {
	Oid   int64  `json:"oid"`
	Cloid string `json:"cloid"`
}

// FilledStatus reports an immediately executed order.
type FilledStatus struct {
	Oid     int64        `json:"oid"`
	TotalSz types.Number `json:"totalSz"`
	AvgPx   types.Number `json:"avgPx"`
	Cloid   string       `json:"cloid"`
}

// UnmarshalJSON accepts both the object branches and the bare string
// form used by cancel acknowledgements.
func (o *OrderStatusResult) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "success" {
			o.Success = true
		} else {
			o.Error = s
		}
		return nil
	}
	type plain OrderStatusResult
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*o = OrderStatusResult(p)
	return nil
}
