package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureNilYieldsDefaults(t *testing.T) {
	t.Parallel()
	o, err := Ensure(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, o.Timeout)
	assert.Equal(t, DefaultRetryMaxAttempts, o.Retry.MaxAttempts)
	assert.Equal(t, DefaultRetryInitialDelay, o.Retry.InitialDelay)
	assert.Equal(t, DefaultRetryMaxDelay, o.Retry.MaxDelay)
	assert.InDelta(t, DefaultRetryMultiplier, o.Retry.Multiplier, 0)
	assert.InDelta(t, DefaultRetryJitter, o.Retry.Jitter, 0)
	assert.Equal(t, DefaultBreakerFailureThreshold, o.Breaker.FailureThreshold)
	assert.Equal(t, DefaultBreakerResetTimeout, o.Breaker.ResetTimeout)
	assert.Equal(t, DefaultHeartbeatInterval, o.Websocket.HeartbeatInterval)
	assert.Equal(t, DefaultReconnectMaxAttempts, o.Websocket.ReconnectMaxAttempts)
	assert.Equal(t, DefaultSubscriptionBuffer, o.Websocket.SubscriptionBuffer)
}

func TestEnsureKeepsExplicitValues(t *testing.T) {
	t.Parallel()
	o, err := Ensure(&Options{
		Timeout:   5 * time.Second,
		Retry:     &Retry{MaxAttempts: 1},
		Websocket: &Websocket{ReconnectMaxAttempts: -1},
	})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, o.Timeout)
	assert.Equal(t, 1, o.Retry.MaxAttempts)
	assert.Equal(t, -1, o.Websocket.ReconnectMaxAttempts, "unlimited reconnects must survive")
	assert.Equal(t, DefaultRetryInitialDelay, o.Retry.InitialDelay, "zero fields still defaulted")
}

func TestEnsureRejectsBadValues(t *testing.T) {
	t.Parallel()
	_, err := Ensure(&Options{Retry: &Retry{InitialDelay: time.Minute, MaxDelay: time.Second}})
	require.ErrorIs(t, err, errInvalidRetry)

	_, err = Ensure(&Options{Retry: &Retry{Jitter: 1.5}})
	require.ErrorIs(t, err, errInvalidJitter)

	_, err = Ensure(&Options{RateLimit: &RateLimit{MaxRequests: 0, Window: time.Second}})
	require.ErrorIs(t, err, errInvalidRateLimit)
}

func TestCredentialHelpers(t *testing.T) {
	t.Parallel()
	assert.False(t, (&Options{APIKey: "k"}).HasKeySecret())
	assert.True(t, (&Options{APIKey: "k", APISecret: "s"}).HasKeySecret())
	assert.True(t, (&Options{PrivateKey: "0xdeadbeef"}).HasPrivateKey())
	var nilOpts *Options
	assert.False(t, nilOpts.HasKeySecret())
	assert.False(t, nilOpts.HasPrivateKey())
}
