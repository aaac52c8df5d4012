package orderbook

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratospect/goperps/currency"
)

// Public errors
var (
	ErrOrderbookInvalid = errors.New("orderbook data integrity compromised")
	ErrNoLiquidity      = errors.New("not enough liquidity")
)

var (
	errVenueNameUnset  = errors.New("orderbook venue name not set")
	errPairNotSet      = errors.New("orderbook currency pair not set")
	errPriceNotSet     = errors.New("price cannot be zero")
	errAmountInvalid   = errors.New("amount cannot be less or equal to zero")
	errPriceOutOfOrder = errors.New("pricing out of order")
	errDuplication     = errors.New("price duplication")
)

// Level is one segment of a side of the book.
type Level struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// Levels is a price-ordered side of the book.
type Levels []Level

// Book is a complete snapshot of a venue's order book. Streamed books
// replace the previous snapshot outright, they are never merged.
type Book struct {
	Venue     string
	Symbol    currency.Pair
	Bids      Levels
	Asks      Levels
	Timestamp time.Time
}

// Validate checks snapshot integrity. Bids must descend and asks must
// ascend strictly from the top of the book, with no zero prices or
// non-positive amounts on either side.
func (b *Book) Validate() error {
	if b.Venue == "" {
		return fmt.Errorf("%w: %w", ErrOrderbookInvalid, errVenueNameUnset)
	}
	if b.Symbol.IsEmpty() {
		return fmt.Errorf("%w: %w", ErrOrderbookInvalid, errPairNotSet)
	}
	if err := b.Bids.check(false); err != nil {
		return fmt.Errorf("%w: %s %s bids: %w", ErrOrderbookInvalid, b.Venue, b.Symbol, err)
	}
	if err := b.Asks.check(true); err != nil {
		return fmt.Errorf("%w: %s %s asks: %w", ErrOrderbookInvalid, b.Venue, b.Symbol, err)
	}
	return nil
}

func (ls Levels) check(ascending bool) error {
	for i := range ls {
		if ls[i].Price.IsZero() {
			return fmt.Errorf("%w at level %d", errPriceNotSet, i)
		}
		if !ls[i].Amount.IsPositive() {
			return fmt.Errorf("%w at level %d", errAmountInvalid, i)
		}
		if i == 0 {
			continue
		}
		cmp := ls[i].Price.Cmp(ls[i-1].Price)
		if cmp == 0 {
			return fmt.Errorf("%w at level %d", errDuplication, i)
		}
		if ascending != (cmp > 0) {
			return fmt.Errorf("%w at level %d", errPriceOutOfOrder, i)
		}
	}
	return nil
}

// BestBid returns the highest bid level.
func (b *Book) BestBid() (Level, error) {
	if len(b.Bids) == 0 {
		return Level{}, fmt.Errorf("%w: %s %s has no bids", ErrNoLiquidity, b.Venue, b.Symbol)
	}
	return b.Bids[0], nil
}

// BestAsk returns the lowest ask level.
func (b *Book) BestAsk() (Level, error) {
	if len(b.Asks) == 0 {
		return Level{}, fmt.Errorf("%w: %s %s has no asks", ErrNoLiquidity, b.Venue, b.Symbol)
	}
	return b.Asks[0], nil
}

// Spread returns the difference between the best ask and the best bid.
func (b *Book) Spread() (decimal.Decimal, error) {
	bid, err := b.BestBid()
	if err != nil {
		return decimal.Zero, err
	}
	ask, err := b.BestAsk()
	if err != nil {
		return decimal.Zero, err
	}
	return ask.Price.Sub(bid.Price), nil
}

// MidPrice returns the midpoint between the best bid and the best ask.
func (b *Book) MidPrice() (decimal.Decimal, error) {
	bid, err := b.BestBid()
	if err != nil {
		return decimal.Zero, err
	}
	ask, err := b.BestAsk()
	if err != nil {
		return decimal.Zero, err
	}
	return bid.Price.Add(ask.Price).Div(decimal.New(2, 0)), nil
}

// TotalBids returns the cumulative base amount resting on the bid side
// and its quote value.
func (b *Book) TotalBids() (amount, value decimal.Decimal) {
	return b.Bids.total()
}

// TotalAsks returns the cumulative base amount resting on the ask side
// and its quote value.
func (b *Book) TotalAsks() (amount, value decimal.Decimal) {
	return b.Asks.total()
}

func (ls Levels) total() (amount, value decimal.Decimal) {
	for i := range ls {
		amount = amount.Add(ls[i].Amount)
		value = value.Add(ls[i].Price.Mul(ls[i].Amount))
	}
	return amount, value
}
