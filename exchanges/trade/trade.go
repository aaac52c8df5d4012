package trade

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratospect/goperps/currency"
	"github.com/stratospect/goperps/exchanges/order"
)

var (
	errTradeIDUnset  = errors.New("trade id not set")
	errPriceInvalid  = errors.New("trade price must be positive")
	errAmountInvalid = errors.New("trade amount must be positive")
	errSideInvalid   = errors.New("trade side must be buy or sell")
	errCostMismatch  = errors.New("trade cost does not equal price multiplied by amount")
)

// costReconcileDust absorbs venue rounding when checking cost arithmetic.
var costReconcileDust = decimal.New(1, -9)

// Data is a single public or private execution.
type Data struct {
	ID        string
	Venue     string
	Symbol    currency.Pair
	Side      order.Side
	Price     decimal.Decimal
	Amount    decimal.Decimal
	Cost      decimal.Decimal
	OrderID   string
	Maker     bool
	Timestamp time.Time
}

// DeriveCost fills Cost from price and amount when the venue omits it.
func (d *Data) DeriveCost() {
	if d.Cost.IsZero() {
		d.Cost = d.Price.Mul(d.Amount)
	}
}

// Validate checks execution integrity, reconciling cost against
// price multiplied by amount within rounding dust.
func (d *Data) Validate() error {
	if d.ID == "" {
		return errTradeIDUnset
	}
	if !d.Price.IsPositive() {
		return fmt.Errorf("%w: %s", errPriceInvalid, d.Price)
	}
	if !d.Amount.IsPositive() {
		return fmt.Errorf("%w: %s", errAmountInvalid, d.Amount)
	}
	if d.Side != order.Buy && d.Side != order.Sell {
		return fmt.Errorf("%w: %q", errSideInvalid, d.Side)
	}
	if diff := d.Cost.Sub(d.Price.Mul(d.Amount)); diff.Abs().GreaterThan(costReconcileDust) {
		return fmt.Errorf("%w: cost %s price %s amount %s", errCostMismatch, d.Cost, d.Price, d.Amount)
	}
	return nil
}
