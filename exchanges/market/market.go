// Package market holds the unified contract description for a venue's
// perpetual listings and a TTL cache front for them.
package market

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/stratospect/goperps/currency"
)

// ErrMarketNotFound is returned when a symbol has no listed market.
var ErrMarketNotFound = errors.New("market not found")

// Market describes one perpetual contract. Built on preload, cached,
// immutable thereafter.
type Market struct {
	Symbol      currency.Pair
	VenueSymbol string
	// AssetID is the venue-native numeric identifier on venues that
	// address contracts by index rather than by symbol.
	AssetID         int
	Active          bool
	ContractSize    decimal.Decimal
	PricePrecision  int
	AmountPrecision int
	TickSize        decimal.Decimal
	StepSize        decimal.Decimal
	MinAmount       decimal.Decimal
	MinNotional     decimal.Decimal
	MaxLeverage     int
	FundingHours    int
}

// TruncateAmount rounds an order size down to the contract's amount
// precision so the venue will accept it.
func (m *Market) TruncateAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Truncate(int32(m.AmountPrecision)) //nolint:gosec // precision is single digits
}

// TruncatePrice rounds a price down to the contract's price precision.
func (m *Market) TruncatePrice(price decimal.Decimal) decimal.Decimal {
	return price.Truncate(int32(m.PricePrecision)) //nolint:gosec // precision is single digits
}

// Validate checks the listing is usable for order placement.
func (m *Market) Validate() error {
	if err := m.Symbol.Validate(); err != nil {
		return err
	}
	if m.VenueSymbol == "" {
		return fmt.Errorf("%s: venue symbol not set", m.Symbol)
	}
	return nil
}
