package account

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratospect/goperps/currency"
)

var (
	// ErrBalanceInconsistent returned when total does not reconcile
	// against free plus used.
	ErrBalanceInconsistent = errors.New("balance total does not equal free plus used")

	errCurrencyCodeEmpty = errors.New("balance currency code cannot be empty")
)

// balanceTolerance absorbs venue rounding when reconciling totals.
var balanceTolerance = decimal.New(1, -9)

// Balance holds one currency's funds on a venue.
type Balance struct {
	Currency currency.Code
	Total    decimal.Decimal
	Free     decimal.Decimal
	Used     decimal.Decimal
	USDValue decimal.Decimal
}

// Holdings is a venue account snapshot across currencies.
type Holdings struct {
	Venue     string
	Balances  []Balance
	Timestamp time.Time
}

// Validate reconciles the balance arithmetic within rounding dust.
func (b *Balance) Validate() error {
	if b.Currency.IsEmpty() {
		return errCurrencyCodeEmpty
	}
	if diff := b.Total.Sub(b.Free.Add(b.Used)); diff.Abs().GreaterThan(balanceTolerance) {
		return fmt.Errorf("%w: %s total %s free %s used %s",
			ErrBalanceInconsistent, b.Currency, b.Total, b.Free, b.Used)
	}
	return nil
}

// Validate runs balance reconciliation across the whole snapshot.
func (h *Holdings) Validate() error {
	for i := range h.Balances {
		if err := h.Balances[i].Validate(); err != nil {
			return fmt.Errorf("%s: %w", h.Venue, err)
		}
	}
	return nil
}

// CurrencyBalance returns the balance for one currency code.
func (h *Holdings) CurrencyBalance(c currency.Code) (Balance, bool) {
	for i := range h.Balances {
		if h.Balances[i].Currency == c {
			return h.Balances[i], true
		}
	}
	return Balance{}, false
}
