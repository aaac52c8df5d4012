package account

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratospect/goperps/currency"
)

func TestBalanceValidate(t *testing.T) {
	t.Parallel()

	b := &Balance{
		Currency: currency.USDC,
		Total:    decimal.RequireFromString("1000"),
		Free:     decimal.RequireFromString("600"),
		Used:     decimal.RequireFromString("400"),
	}
	require.NoError(t, b.Validate())

	b.Currency = currency.EMPTYCODE
	require.ErrorIs(t, b.Validate(), errCurrencyCodeEmpty)
	b.Currency = currency.USDC

	b.Used = decimal.RequireFromString("500")
	require.ErrorIs(t, b.Validate(), ErrBalanceInconsistent)

	// Rounding dust within tolerance still reconciles.
	b.Total = decimal.RequireFromString("1100.0000000001")
	require.NoError(t, b.Validate())
}

func TestHoldingsValidate(t *testing.T) {
	t.Parallel()

	h := &Holdings{
		Venue: "test",
		Balances: []Balance{
			{Currency: currency.USDC, Total: decimal.NewFromInt(10), Free: decimal.NewFromInt(10)},
			{Currency: currency.USDT, Total: decimal.NewFromInt(5), Used: decimal.NewFromInt(7)},
		},
	}
	require.ErrorIs(t, h.Validate(), ErrBalanceInconsistent)

	h.Balances[1].Used = decimal.NewFromInt(5)
	require.NoError(t, h.Validate())
}

func TestCurrencyBalance(t *testing.T) {
	t.Parallel()

	h := &Holdings{
		Venue: "test",
		Balances: []Balance{
			{Currency: currency.USDC, Total: decimal.NewFromInt(10)},
			{Currency: currency.BTC, Total: decimal.NewFromInt(2)},
		},
	}
	b, ok := h.CurrencyBalance(currency.BTC)
	require.True(t, ok)
	assert.True(t, b.Total.Equal(decimal.NewFromInt(2)))

	_, ok = h.CurrencyBalance(currency.ETH)
	assert.False(t, ok)
}
