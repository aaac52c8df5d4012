package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratospect/goperps/currency"
)

// var error definitions
var (
	ErrSubmissionIsNil            = errors.New("order submission is nil")
	ErrSideIsInvalid              = errors.New("order side is invalid")
	ErrTypeIsInvalid              = errors.New("order type is invalid")
	ErrStatusIsInvalid            = errors.New("order status is invalid")
	ErrAmountIsInvalid            = errors.New("order amount is invalid")
	ErrPriceMustBeSetIfLimitOrder = errors.New("price must be set if limit order type is desired")
	ErrTriggerPriceRequired       = errors.New("trigger price required for stop order types")
	ErrOrderIDNotSet              = errors.New("order id not set")
	ErrFillMismatch               = errors.New("filled and remaining amounts do not reconcile")
)

// fillTolerance absorbs venue rounding dust when reconciling fills.
var fillTolerance = decimal.New(1, -9)

// Side designates which side of the book an order rests on.
type Side string

// Order sides
const (
	UnknownSide Side = ""
	Buy         Side = "buy"
	Sell        Side = "sell"
)

// Type designates the execution style of an order.
type Type string

// Order types
const (
	UnknownType Type = ""
	Market      Type = "market"
	Limit       Type = "limit"
	StopMarket  Type = "stopMarket"
	StopLimit   Type = "stopLimit"
	TakeProfit  Type = "takeProfit"
)

// Status reports where an order sits in its lifecycle.
type Status string

// Order statuses
const (
	UnknownStatus   Status = ""
	Open            Status = "open"
	PartiallyFilled Status = "partiallyFilled"
	Filled          Status = "filled"
	Cancelled       Status = "canceled"
	Rejected        Status = "rejected"
)

// Submit contains the fields needed to place an order. Validate must
// pass before the request leaves the process.
type Submit struct {
	Symbol        currency.Pair
	Type          Type
	Side          Side
	Amount        decimal.Decimal
	Price         decimal.Decimal
	TriggerPrice  decimal.Decimal
	ClientOrderID string
	TimeInForce   TimeInForce
	PostOnly      bool
	ReduceOnly    bool
}

// Validate checks the supplied data and returns whether or not it's valid
func (s *Submit) Validate() error {
	if s == nil {
		return ErrSubmissionIsNil
	}
	if err := s.Symbol.Validate(); err != nil {
		return err
	}
	if s.Side != Buy && s.Side != Sell {
		return fmt.Errorf("%w: %q", ErrSideIsInvalid, s.Side)
	}
	switch s.Type {
	case Market, Limit, StopMarket, StopLimit, TakeProfit:
	default:
		return fmt.Errorf("%w: %q", ErrTypeIsInvalid, s.Type)
	}
	if !s.Amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrAmountIsInvalid, s.Amount)
	}
	if (s.Type == Limit || s.Type == StopLimit) && !s.Price.IsPositive() {
		return ErrPriceMustBeSetIfLimitOrder
	}
	switch s.Type {
	case StopMarket, StopLimit, TakeProfit:
		if !s.TriggerPrice.IsPositive() {
			return ErrTriggerPriceRequired
		}
	}
	if s.Type == Market && s.PostOnly {
		return fmt.Errorf("%w: post-only market order", ErrTypeIsInvalid)
	}
	if !s.TimeInForce.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidTimeInForce, s.TimeInForce)
	}
	return nil
}

// Detail is an order as reported back by a venue.
type Detail struct {
	ID               string
	ClientOrderID    string
	Venue            string
	Symbol           currency.Pair
	Type             Type
	Side             Side
	Amount           decimal.Decimal
	Price            decimal.Decimal
	TriggerPrice     decimal.Decimal
	AverageFillPrice decimal.Decimal
	Filled           decimal.Decimal
	Remaining        decimal.Decimal
	Fee              decimal.Decimal
	Status           Status
	TimeInForce      TimeInForce
	PostOnly         bool
	ReduceOnly       bool
	Timestamp        time.Time
}

// Validate reconciles the fill arithmetic. Filled plus remaining must
// equal the requested amount within rounding dust, and a filled order
// cannot leave anything outstanding.
func (d *Detail) Validate() error {
	if d.ID == "" && d.ClientOrderID == "" {
		return ErrOrderIDNotSet
	}
	if diff := d.Amount.Sub(d.Filled.Add(d.Remaining)); diff.Abs().GreaterThan(fillTolerance) {
		return fmt.Errorf("%w: amount %s filled %s remaining %s",
			ErrFillMismatch, d.Amount, d.Filled, d.Remaining)
	}
	if d.Status == Filled && !d.Remaining.IsZero() {
		return fmt.Errorf("%w: filled order has %s remaining", ErrFillMismatch, d.Remaining)
	}
	return nil
}

// IsActive returns whether the order can still trade.
func (s Status) IsActive() bool {
	return s == Open || s == PartiallyFilled
}

// String implements the stringer interface
func (s Side) String() string {
	return string(s)
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	switch s {
	case Buy:
		return Sell
	case Sell:
		return Buy
	}
	return UnknownSide
}

// String implements the stringer interface
func (t Type) String() string {
	return string(t)
}

// String implements the stringer interface
func (s Status) String() string {
	return string(s)
}

// StringToSide converts a venue side string to a Side instance
func StringToSide(side string) (Side, error) {
	switch strings.ToLower(side) {
	case "buy", "bid", "long", "b":
		return Buy, nil
	case "sell", "ask", "short", "a", "s":
		return Sell, nil
	}
	return UnknownSide, fmt.Errorf("%w: %q", ErrSideIsInvalid, side)
}

// StringToType converts a venue order type string to a Type instance
func StringToType(orderType string) (Type, error) {
	switch strings.ToLower(orderType) {
	case "market":
		return Market, nil
	case "limit":
		return Limit, nil
	case "stop", "stopmarket", "stop_market", "stop-market":
		return StopMarket, nil
	case "stoplimit", "stop_limit", "stop-limit":
		return StopLimit, nil
	case "takeprofit", "take_profit", "take-profit", "take_profit_market":
		return TakeProfit, nil
	}
	return UnknownType, fmt.Errorf("%w: %q", ErrTypeIsInvalid, orderType)
}

// StringToStatus converts a venue order status string to a Status
// instance. Venue-specific synonyms collapse onto the closest
// lifecycle state; expiry counts as cancellation.
func StringToStatus(status string) (Status, error) {
	switch strings.ToLower(status) {
	case "open", "new", "resting", "accepted", "triggerpending":
		return Open, nil
	case "partiallyfilled", "partially_filled", "partial_fill", "partfilled":
		return PartiallyFilled, nil
	case "filled", "closed":
		return Filled, nil
	case "canceled", "cancelled", "cancel", "expired":
		return Cancelled, nil
	case "rejected", "denied":
		return Rejected, nil
	}
	return UnknownStatus, fmt.Errorf("%w: %q", ErrStatusIsInvalid, status)
}

// FilterBySymbol removes any order details that don't match the
// supplied pair. An empty pair keeps everything.
func FilterBySymbol(orders []Detail, symbol currency.Pair) []Detail {
	if symbol.IsEmpty() {
		return orders
	}
	filtered := make([]Detail, 0, len(orders))
	for i := range orders {
		if orders[i].Symbol.Equal(symbol) {
			filtered = append(filtered, orders[i])
		}
	}
	return filtered
}

// FilterBySide removes any order details that don't match the supplied
// side. UnknownSide keeps everything.
func FilterBySide(orders []Detail, side Side) []Detail {
	if side == UnknownSide {
		return orders
	}
	filtered := make([]Detail, 0, len(orders))
	for i := range orders {
		if orders[i].Side == side {
			filtered = append(filtered, orders[i])
		}
	}
	return filtered
}
