package orderbook

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratospect/goperps/currency"
)

func level(price, amount string) Level {
	return Level{
		Price:  decimal.RequireFromString(price),
		Amount: decimal.RequireFromString(amount),
	}
}

func validBook() *Book {
	return &Book{
		Venue:  "test",
		Symbol: currency.NewPair(currency.BTC, currency.USDT),
		Bids: Levels{
			level("50000", "0.5"),
			level("49999", "1.2"),
			level("49990", "3"),
		},
		Asks: Levels{
			level("50100", "0.3"),
			level("50110", "0.8"),
			level("50200", "2"),
		},
		Timestamp: time.Now(),
	}
}

func TestBookValidate(t *testing.T) {
	t.Parallel()

	b := validBook()
	require.NoError(t, b.Validate())

	b = validBook()
	b.Venue = ""
	require.ErrorIs(t, b.Validate(), ErrOrderbookInvalid)
	require.ErrorIs(t, b.Validate(), errVenueNameUnset)

	b = validBook()
	b.Symbol = currency.EMPTYPAIR
	require.ErrorIs(t, b.Validate(), errPairNotSet)

	b = validBook()
	b.Bids[1], b.Bids[2] = b.Bids[2], b.Bids[1]
	require.ErrorIs(t, b.Validate(), errPriceOutOfOrder)

	b = validBook()
	b.Asks[0], b.Asks[2] = b.Asks[2], b.Asks[0]
	require.ErrorIs(t, b.Validate(), errPriceOutOfOrder)

	b = validBook()
	b.Bids[1] = b.Bids[0]
	require.ErrorIs(t, b.Validate(), errDuplication)

	b = validBook()
	b.Asks[1].Price = decimal.Zero
	require.ErrorIs(t, b.Validate(), errPriceNotSet)

	b = validBook()
	b.Bids[2].Amount = decimal.Zero
	require.ErrorIs(t, b.Validate(), errAmountInvalid)

	empty := &Book{Venue: "test", Symbol: currency.NewPair(currency.BTC, currency.USDT)}
	require.NoError(t, empty.Validate(), "an empty book is structurally valid")
}

func TestBestBidAsk(t *testing.T) {
	t.Parallel()

	b := validBook()
	bid, err := b.BestBid()
	require.NoError(t, err)
	assert.True(t, bid.Price.Equal(decimal.RequireFromString("50000")))

	ask, err := b.BestAsk()
	require.NoError(t, err)
	assert.True(t, ask.Price.Equal(decimal.RequireFromString("50100")))

	empty := &Book{Venue: "test"}
	_, err = empty.BestBid()
	require.ErrorIs(t, err, ErrNoLiquidity)
	_, err = empty.BestAsk()
	require.ErrorIs(t, err, ErrNoLiquidity)
}

func TestSpreadAndMid(t *testing.T) {
	t.Parallel()

	b := validBook()
	spread, err := b.Spread()
	require.NoError(t, err)
	assert.True(t, spread.Equal(decimal.RequireFromString("100")), spread.String())

	mid, err := b.MidPrice()
	require.NoError(t, err)
	assert.True(t, mid.Equal(decimal.RequireFromString("50050")), mid.String())

	oneSided := &Book{Venue: "test", Bids: Levels{level("50000", "1")}}
	_, err = oneSided.Spread()
	require.ErrorIs(t, err, ErrNoLiquidity)
	_, err = oneSided.MidPrice()
	require.ErrorIs(t, err, ErrNoLiquidity)
}

func TestTotals(t *testing.T) {
	t.Parallel()

	b := validBook()
	amount, value := b.TotalBids()
	assert.True(t, amount.Equal(decimal.RequireFromString("4.7")), amount.String())
	assert.True(t, value.Equal(decimal.RequireFromString("234968.8")), value.String())

	amount, value = b.TotalAsks()
	assert.True(t, amount.Equal(decimal.RequireFromString("3.1")), amount.String())
	assert.True(t, value.Equal(decimal.RequireFromString("155518")), value.String())
}
