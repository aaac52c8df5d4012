package futures

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratospect/goperps/currency"
	"github.com/stratospect/goperps/exchanges/margin"
)

var (
	// ErrPositionNotFound is raised when a position is not found
	ErrPositionNotFound = errors.New("position not found")
	// ErrNotPerpetualFuture is returned when a pair is not a perpetual
	ErrNotPerpetualFuture = errors.New("not a perpetual future")

	errInvalidPositionSide  = errors.New("position side must be long or short")
	errNegativePositionSize = errors.New("position size cannot be negative")
)

// Side designates the direction of a position.
type Side string

// Position sides
const (
	UnknownSide Side = ""
	Long        Side = "long"
	Short       Side = "short"
)

// Position is an open perpetual futures position.
type Position struct {
	Venue            string
	Symbol           currency.Pair
	Side             Side
	Size             decimal.Decimal
	EntryPrice       decimal.Decimal
	MarkPrice        decimal.Decimal
	LiquidationPrice decimal.NullDecimal
	UnrealisedPNL    decimal.Decimal
	Leverage         decimal.Decimal
	MarginMode       margin.Type
	Timestamp        time.Time
}

// SideFromSize splits a venue's signed size into direction and
// magnitude. Zero size carries no direction.
func SideFromSize(signed decimal.Decimal) (Side, decimal.Decimal) {
	switch signed.Sign() {
	case 1:
		return Long, signed
	case -1:
		return Short, signed.Neg()
	}
	return UnknownSide, decimal.Zero
}

// StringToSide converts a venue position side string to a Side
// instance
func StringToSide(side string) (Side, error) {
	switch strings.ToLower(side) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	}
	return UnknownSide, fmt.Errorf("%w: %q", errInvalidPositionSide, side)
}

// String implements the stringer interface
func (s Side) String() string {
	return string(s)
}

// Validate checks position integrity. Size is an absolute magnitude,
// direction lives solely in Side.
func (p *Position) Validate() error {
	if p.Side != Long && p.Side != Short {
		return fmt.Errorf("%w: %q", errInvalidPositionSide, p.Side)
	}
	if p.Size.IsNegative() {
		return fmt.Errorf("%w: %s", errNegativePositionSize, p.Size)
	}
	return nil
}
