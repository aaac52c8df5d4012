package kline

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratospect/goperps/currency"
)

// Interval type for kline interval usage
type Interval time.Duration

// Consts here define basic time intervals
const (
	OneMin     = Interval(time.Minute)
	ThreeMin   = 3 * OneMin
	FiveMin    = 5 * OneMin
	FifteenMin = 15 * OneMin
	ThirtyMin  = 30 * OneMin
	OneHour    = Interval(time.Hour)
	TwoHour    = 2 * OneHour
	FourHour   = 4 * OneHour
	EightHour  = 8 * OneHour
	TwelveHour = 12 * OneHour
	OneDay     = 24 * OneHour
	ThreeDay   = 3 * OneDay
	OneWeek    = 7 * OneDay
	OneMonth   = 30 * OneDay
)

var (
	// ErrUnsupportedInterval is returned when a venue cannot serve the
	// requested granularity.
	ErrUnsupportedInterval = errors.New("interval unsupported by venue")
	// ErrInvalidInterval is returned on zero or negative intervals.
	ErrInvalidInterval = errors.New("invalid interval")

	errCandleDataOutOfOrder = errors.New("candle data out of order")
)

// Candle holds historic rate information.
type Candle struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// Item holds a contiguous series of candles for one symbol.
type Item struct {
	Venue    string
	Symbol   currency.Pair
	Interval Interval
	Candles  []Candle
}

// Duration returns the interval as a time.Duration.
func (i Interval) Duration() time.Duration {
	return time.Duration(i)
}

// Short returns the compact venue-facing representation, e.g. 1m, 4h,
// 1d, 1w.
func (i Interval) Short() string {
	d := i.Duration()
	switch {
	case d <= 0:
		return ""
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < OneDay.Duration():
		return fmt.Sprintf("%dh", int(d.Hours()))
	case d < OneWeek.Duration():
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	case d < OneMonth.Duration():
		return fmt.Sprintf("%dw", int(d.Hours()/(24*7)))
	default:
		return fmt.Sprintf("%dM", int(d.Hours()/(24*30)))
	}
}

// String implements the stringer interface
func (i Interval) String() string {
	return i.Duration().String()
}

// Validate checks the interval divides time cleanly.
func (i Interval) Validate() error {
	if i <= 0 {
		return ErrInvalidInterval
	}
	return nil
}

// Validate verifies the series is strictly ascending in time, the
// order venues serve and consumers expect.
func (i *Item) Validate() error {
	if err := i.Interval.Validate(); err != nil {
		return err
	}
	for x := 1; x < len(i.Candles); x++ {
		if !i.Candles[x].Time.After(i.Candles[x-1].Time) {
			return fmt.Errorf("%w: index %d", errCandleDataOutOfOrder, x)
		}
	}
	return nil
}
