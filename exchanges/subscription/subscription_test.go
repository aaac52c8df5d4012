package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratospect/goperps/currency"
)

var btcPerp = currency.NewPair(currency.BTC, currency.USDT)

func TestBuildKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "orderbook:BTC/USDT:USDT", BuildKey(OrderbookChannel, btcPerp))
	assert.Equal(t, "balance", BuildKey(BalanceChannel, currency.EMPTYPAIR))
}

func TestSetState(t *testing.T) {
	t.Parallel()
	s := &Subscription{Key: "ticker:BTC/USDT:USDT", Channel: TickerChannel, Symbol: btcPerp}
	assert.Equal(t, InactiveState, s.State())

	require.NoError(t, s.SetState(SubscribingState))
	require.NoError(t, s.SetState(SubscribedState))
	require.ErrorIs(t, s.SetState(SubscribedState), ErrInStateAlready)
	require.ErrorIs(t, s.SetState(State(99)), ErrInvalidState)
	assert.Equal(t, SubscribedState, s.State())
}

func TestClone(t *testing.T) {
	t.Parallel()
	s := &Subscription{
		Key:              "trades:BTC/USDT:USDT",
		Channel:          TradesChannel,
		Symbol:           btcPerp,
		SubscribePayload: []byte(`{"op":"subscribe"}`),
	}
	require.NoError(t, s.SetState(SubscribedState))

	c := s.Clone()
	assert.Equal(t, s.Key, c.Key)
	assert.Equal(t, s.SubscribePayload, c.SubscribePayload)
	assert.Equal(t, InactiveState, c.State(), "clones start inactive")
}

func TestStoreOrdering(t *testing.T) {
	t.Parallel()
	store := NewStore()
	keys := []string{"ticker:A", "orderbook:B", "trades:C"}
	for _, k := range keys {
		require.NoError(t, store.Add(&Subscription{Key: k}))
	}
	require.Equal(t, 3, store.Len())

	list := store.List()
	require.Len(t, list, 3)
	for i := range keys {
		assert.Equal(t, keys[i], list[i].Key, "insertion order must be preserved")
	}

	require.ErrorIs(t, store.Add(&Subscription{Key: "ticker:A"}), ErrDuplicate)

	require.NoError(t, store.Remove("orderbook:B"))
	require.ErrorIs(t, store.Remove("orderbook:B"), ErrNotFound)
	list = store.List()
	require.Len(t, list, 2)
	assert.Equal(t, "ticker:A", list[0].Key)
	assert.Equal(t, "trades:C", list[1].Key)

	sub, ok := store.Get("trades:C")
	require.True(t, ok)
	assert.Equal(t, "trades:C", sub.Key)

	store.Clear()
	assert.Equal(t, 0, store.Len())
}
