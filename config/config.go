// Package config describes the runtime options accepted by every venue
// adapter. Configuration is programmatic only; the library reads no
// files and no environment variables.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Defaults applied by Ensure when a field is zero.
const (
	DefaultTimeout = 30 * time.Second

	DefaultRetryMaxAttempts  = 3
	DefaultRetryInitialDelay = time.Second
	DefaultRetryMaxDelay     = 10 * time.Second
	DefaultRetryMultiplier   = 2.0
	DefaultRetryJitter       = 0.1

	DefaultBreakerFailureThreshold = 5
	DefaultBreakerResetTimeout     = 30 * time.Second
	DefaultBreakerSuccessThreshold = 1

	DefaultHeartbeatInterval     = 30 * time.Second
	DefaultHeartbeatTimeout      = 10 * time.Second
	DefaultReconnectInitialDelay = time.Second
	DefaultReconnectMaxDelay     = 30 * time.Second
	DefaultReconnectMaxAttempts  = 10
	DefaultSubscriptionBuffer    = 1024
)

var (
	errInvalidRetry     = errors.New("retry delays and multiplier must be positive")
	errInvalidJitter    = errors.New("retry jitter must be within [0,1)")
	errInvalidRateLimit = errors.New("rate limit window and max requests must be positive")
	errInvalidWebsocket = errors.New("websocket intervals must be positive")
)

// RateLimit caps request throughput over a rolling window. Weights
// assign a per-operation token cost; operations without an entry cost
// one token.
type RateLimit struct {
	MaxRequests int
	Window      time.Duration
	Weights     map[string]int
}

// Retry shapes the transport retry schedule.
type Retry struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
}

// Breaker shapes the per-client circuit breaker.
type Breaker struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	SuccessThreshold int
}

// Websocket shapes stream liveness and reconnection.
// ReconnectMaxAttempts of -1 retries forever.
type Websocket struct {
	HeartbeatInterval     time.Duration
	HeartbeatTimeout      time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectMaxAttempts  int
	SubscriptionBuffer    int
}

// Options configures a single venue adapter instance.
type Options struct {
	Testnet bool

	// Credentials. Key/secret venues use APIKey and APISecret;
	// wallet venues use PrivateKey (hex or base64 seed, per venue)
	// with an optional distinct WalletAddress for agent signing.
	APIKey        string
	APISecret     string
	PrivateKey    string
	WalletAddress string
	Subaccount    string

	Timeout   time.Duration
	RateLimit *RateLimit
	Retry     *Retry
	Breaker   *Breaker
	Websocket *Websocket

	// RPCEndpoint overrides the venue REST base URL, for on-chain
	// venues pointed at a private node.
	RPCEndpoint string

	BuilderCode  string
	ReferralCode string

	Debug bool

	// HTTPClient overrides the transport, primarily for tests.
	HTTPClient *http.Client
}

// Ensure fills defaults into o and validates the result. A nil o
// yields a fresh all-defaults Options.
func Ensure(o *Options) (*Options, error) {
	if o == nil {
		o = new(Options)
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Retry == nil {
		o.Retry = &Retry{}
	}
	r := o.Retry
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = DefaultRetryMaxAttempts
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = DefaultRetryInitialDelay
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = DefaultRetryMaxDelay
	}
	if r.Multiplier <= 0 {
		r.Multiplier = DefaultRetryMultiplier
	}
	if r.Jitter == 0 {
		r.Jitter = DefaultRetryJitter
	}
	if r.InitialDelay > r.MaxDelay || r.Multiplier < 1 {
		return nil, fmt.Errorf("%w: initial %s max %s multiplier %v",
			errInvalidRetry, r.InitialDelay, r.MaxDelay, r.Multiplier)
	}
	if r.Jitter < 0 || r.Jitter >= 1 {
		return nil, fmt.Errorf("%w: %v", errInvalidJitter, r.Jitter)
	}

	if o.Breaker == nil {
		o.Breaker = &Breaker{}
	}
	b := o.Breaker
	if b.FailureThreshold <= 0 {
		b.FailureThreshold = DefaultBreakerFailureThreshold
	}
	if b.ResetTimeout <= 0 {
		b.ResetTimeout = DefaultBreakerResetTimeout
	}
	if b.SuccessThreshold <= 0 {
		b.SuccessThreshold = DefaultBreakerSuccessThreshold
	}

	if o.Websocket == nil {
		o.Websocket = &Websocket{}
	}
	w := o.Websocket
	if w.HeartbeatInterval == 0 {
		w.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if w.HeartbeatTimeout == 0 {
		w.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if w.ReconnectInitialDelay == 0 {
		w.ReconnectInitialDelay = DefaultReconnectInitialDelay
	}
	if w.ReconnectMaxDelay == 0 {
		w.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if w.ReconnectMaxAttempts == 0 {
		w.ReconnectMaxAttempts = DefaultReconnectMaxAttempts
	}
	if w.SubscriptionBuffer <= 0 {
		w.SubscriptionBuffer = DefaultSubscriptionBuffer
	}
	if w.HeartbeatInterval < 0 || w.HeartbeatTimeout < 0 ||
		w.ReconnectInitialDelay < 0 || w.ReconnectMaxDelay < 0 {
		return nil, errInvalidWebsocket
	}

	if o.RateLimit != nil {
		if o.RateLimit.MaxRequests <= 0 || o.RateLimit.Window <= 0 {
			return nil, errInvalidRateLimit
		}
	}
	return o, nil
}

// HasKeySecret reports whether both API key and secret are set.
func (o *Options) HasKeySecret() bool {
	return o != nil && o.APIKey != "" && o.APISecret != ""
}

// HasPrivateKey reports whether a signing key is set.
func (o *Options) HasPrivateKey() bool {
	return o != nil && o.PrivateKey != ""
}
