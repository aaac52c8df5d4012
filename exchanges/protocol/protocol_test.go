package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeatures(t *testing.T) {
	t.Parallel()
	f := Features{
		FetchTicker:    Supported,
		FetchOHLCV:     Emulated,
		WatchPositions: Unsupported,
	}
	assert.True(t, f.Supports(FetchTicker))
	assert.True(t, f.Supports(FetchOHLCV), "emulated still counts as callable")
	assert.False(t, f.Supports(WatchPositions))
	assert.False(t, f.Supports(CancelAllOrders), "missing key is unsupported")
	assert.Equal(t, Emulated, f.Get(FetchOHLCV))
}

func TestFeaturesClone(t *testing.T) {
	t.Parallel()
	f := Features{FetchTicker: Supported}
	c := f.Clone()
	c[FetchTicker] = Unsupported
	assert.Equal(t, Supported, f.Get(FetchTicker))
}

func TestStateString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "supported", Supported.String())
	assert.Equal(t, "emulated", Emulated.String())
	assert.Equal(t, "unsupported", Unsupported.String())
	assert.Equal(t, "unsupported", State(99).String())
}
