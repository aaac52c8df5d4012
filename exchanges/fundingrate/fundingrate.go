package fundingrate

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratospect/goperps/currency"
)

var (
	// ErrNoFundingRates is returned when a venue reports no funding
	// history for a perpetual that should have one.
	ErrNoFundingRates = errors.New("no funding rates")

	errPairNotSet = errors.New("funding rate currency pair not set")
)

// Rate is the current funding state for one perpetual.
type Rate struct {
	Venue           string
	Symbol          currency.Pair
	Rate            decimal.Decimal
	MarkPrice       decimal.Decimal
	IndexPrice      decimal.Decimal
	FundingTime     time.Time
	NextFundingTime time.Time
	IntervalHours   int
}

// HistoricalRate is one settled funding payment.
type HistoricalRate struct {
	Symbol currency.Pair
	Rate   decimal.Decimal
	Time   time.Time
}

// History is a venue's funding payment record for one perpetual,
// oldest first.
type History struct {
	Venue  string
	Symbol currency.Pair
	Rates  []HistoricalRate
}

// Validate checks the rate identifies its market.
func (r *Rate) Validate() error {
	if r.Symbol.IsEmpty() {
		return fmt.Errorf("%s: %w", r.Venue, errPairNotSet)
	}
	return nil
}

// Latest returns the most recent settled rate.
func (h *History) Latest() (HistoricalRate, error) {
	if len(h.Rates) == 0 {
		return HistoricalRate{}, fmt.Errorf("%w for %s %s", ErrNoFundingRates, h.Venue, h.Symbol)
	}
	return h.Rates[len(h.Rates)-1], nil
}
