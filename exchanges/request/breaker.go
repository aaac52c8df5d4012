package request

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/stratospect/goperps/errs"
	"github.com/stratospect/goperps/log"
)

// Circuit breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 30 * time.Second
	DefaultSuccessThreshold = 1
)

// BreakerSettings shapes the requester's circuit breaker. Zero fields
// take the defaults above.
type BreakerSettings struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	SuccessThreshold int
}

func newBreaker(name string, s BreakerSettings) *gobreaker.CircuitBreaker {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = DefaultFailureThreshold
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = DefaultResetTimeout
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = DefaultSuccessThreshold
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(s.SuccessThreshold),
		Timeout:     s.ResetTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(s.FailureThreshold)
		},
		IsSuccessful: func(err error) bool {
			return !isBreakerFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.RequestSys.Warn().
				Str("exchange", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
}

// isBreakerFailure reports whether an outcome signals venue distress.
// Caller mistakes and cancellations leave the breaker untouched.
func isBreakerFailure(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, errs.ErrNetwork) ||
		errors.Is(err, errs.ErrTimeout) ||
		errors.Is(err, errs.ErrServerError) ||
		errors.Is(err, errs.ErrExchangeUnavailable)
}
