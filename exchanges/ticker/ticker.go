package ticker

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratospect/goperps/currency"
)

var (
	errVenueNameUnset = errors.New("ticker venue name not set")
	errPairNotSet     = errors.New("ticker currency pair not set")
)

// Price is a point-in-time market snapshot for one symbol.
type Price struct {
	Venue       string
	Symbol      currency.Pair
	Last        decimal.Decimal
	Bid         decimal.Decimal
	Ask         decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Volume      decimal.Decimal
	QuoteVolume decimal.Decimal
	MarkPrice   decimal.Decimal
	IndexPrice  decimal.Decimal
	Timestamp   time.Time
}

// Validate checks the snapshot identifies its origin.
func (p *Price) Validate() error {
	if p.Venue == "" {
		return errVenueNameUnset
	}
	if p.Symbol.IsEmpty() {
		return fmt.Errorf("%s: %w", p.Venue, errPairNotSet)
	}
	return nil
}
