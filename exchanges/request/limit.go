package request

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Endpoint functionality sub types for rate limiting. Venues define
// their own constants above UnAuth.
const (
	Unset EndpointLimit = iota
	Auth
	UnAuth
)

// EndpointLimit namespaces rate limits across venue endpoints.
type EndpointLimit int

// Exported for callers toggling the limiter at runtime
var (
	ErrRateLimiterAlreadyDisabled = errors.New("rate limiter already disabled")
	ErrRateLimiterAlreadyEnabled  = errors.New("rate limiter already enabled")
)

var (
	errLimiterSystemIsNil     = errors.New("limiter system is nil")
	errEndpointLimitUndefined = errors.New("endpoint limit not defined")
	errInvalidWeightCount     = errors.New("invalid weight count")
	errRateLimitWouldDelay    = errors.New("rate limit delay not allowed for request")
)

// RateLimiterWithWeight couples a token bucket with the token cost a
// single request spends. An optional global limiter is charged after
// the endpoint limiter for venues with an account-wide budget.
type RateLimiterWithWeight struct {
	endpoint *rate.Limiter
	global   *rate.Limiter
	weight   int
}

// RateLimitDefinitions is a venue's rate limit table keyed by endpoint.
type RateLimitDefinitions map[EndpointLimit]*RateLimiterWithWeight

// NewRateLimit returns a token bucket refilling actions tokens every
// interval, with burst capacity equal to a full window. Non-positive
// arguments yield an unrestricted limiter.
func NewRateLimit(interval time.Duration, actions int) *rate.Limiter {
	if actions <= 0 || interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	rps := float64(actions) / interval.Seconds()
	return rate.NewLimiter(rate.Limit(rps), actions)
}

// NewRateLimitWithWeight couples NewRateLimit with a request weight.
func NewRateLimitWithWeight(interval time.Duration, actions, weight int) *RateLimiterWithWeight {
	return GetRateLimiterWithWeight(NewRateLimit(interval, actions), weight)
}

// NewWeightedRateLimitByDuration allows one weight-1 request per
// duration.
func NewWeightedRateLimitByDuration(d time.Duration) *RateLimiterWithWeight {
	return NewRateLimitWithWeight(d, 1, 1)
}

// GetRateLimiterWithWeight wraps an existing limiter with a weight and
// an optional global limiter.
func GetRateLimiterWithWeight(l *rate.Limiter, weight int, global ...*rate.Limiter) *RateLimiterWithWeight {
	r := &RateLimiterWithWeight{endpoint: l, weight: weight}
	if len(global) > 0 {
		r.global = global[0]
	}
	return r
}

// NewBasicRateLimit returns a definitions table applying one shared
// bucket to authenticated and unauthenticated traffic alike.
func NewBasicRateLimit(interval time.Duration, actions, weight int) RateLimitDefinitions {
	shared := NewRateLimitWithWeight(interval, actions, weight)
	return RateLimitDefinitions{Unset: shared, Auth: shared, UnAuth: shared}
}

// RateLimit spends one reservation from l, blocking until the tokens
// are available or ctx is done. A context weight override replaces the
// limiter's own cost. Waiters queue FIFO inside x/time/rate; a
// cancelled waiter returns the context error and its tokens.
func RateLimit(ctx context.Context, l *RateLimiterWithWeight) error {
	if l == nil || l.endpoint == nil {
		return errLimiterSystemIsNil
	}
	w := l.weight
	if override, ok := weightFromContext(ctx); ok {
		w = override
	}
	if w <= 0 {
		return errInvalidWeightCount
	}

	if hasDelayNotAllowed(ctx) {
		if !l.endpoint.AllowN(time.Now(), w) {
			return errRateLimitWouldDelay
		}
		if l.global != nil && !l.global.AllowN(time.Now(), w) {
			return errRateLimitWouldDelay
		}
		return nil
	}

	if err := l.endpoint.WaitN(ctx, w); err != nil {
		return err
	}
	if l.global != nil {
		return l.global.WaitN(ctx, w)
	}
	return nil
}

// InitiateRateLimit spends the reservation for endpoint e ahead of a
// request.
func (r *Requester) InitiateRateLimit(ctx context.Context, e EndpointLimit) error {
	if r == nil {
		return ErrRequestSystemIsNil
	}
	if atomic.LoadInt32(&r.disableRateLimiter) == 1 {
		return nil
	}
	if r.limiter == nil {
		// No table configured means unthrottled.
		return nil
	}
	l, ok := r.limiter[e]
	if !ok || l == nil {
		return fmt.Errorf("%w: %d", errEndpointLimitUndefined, e)
	}
	return RateLimit(ctx, l)
}

// DisableRateLimiter turns off rate limiting for the requester.
func (r *Requester) DisableRateLimiter() error {
	if r == nil {
		return ErrRequestSystemIsNil
	}
	if !atomic.CompareAndSwapInt32(&r.disableRateLimiter, 0, 1) {
		return ErrRateLimiterAlreadyDisabled
	}
	return nil
}

// EnableRateLimiter turns rate limiting back on.
func (r *Requester) EnableRateLimiter() error {
	if r == nil {
		return ErrRequestSystemIsNil
	}
	if !atomic.CompareAndSwapInt32(&r.disableRateLimiter, 1, 0) {
		return ErrRateLimiterAlreadyEnabled
	}
	return nil
}
