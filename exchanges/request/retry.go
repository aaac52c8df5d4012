package request

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Retry schedule defaults.
const (
	MaxRetryAttempts    = 3
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 10 * time.Second
	DefaultMultiplier   = 2.0
	DefaultJitter       = 0.1
)

// Backoff returns the delay before retry attempt n, 1-based.
type Backoff func(n int) time.Duration

// DefaultBackoff returns the standard schedule: 1s doubling to a 10s
// cap, scaled by a uniform ±10% jitter.
func DefaultBackoff() Backoff {
	return ExponentialBackoff(DefaultInitialDelay, DefaultMaxDelay, DefaultMultiplier, DefaultJitter)
}

// ExponentialBackoff builds a capped exponential schedule. The jitter
// fraction widens each delay to uniform [1-jitter, 1+jitter].
func ExponentialBackoff(initial, maxDelay time.Duration, multiplier, jitter float64) Backoff {
	return func(n int) time.Duration {
		if n < 1 {
			n = 1
		}
		d := float64(initial) * math.Pow(multiplier, float64(n-1))
		d = math.Min(d, float64(maxDelay))
		if jitter > 0 {
			d *= 1 - jitter + 2*jitter*rand.Float64()
		}
		return time.Duration(d)
	}
}

// RetryPolicy determines whether a request should be retried. A
// non-nil error return aborts the request with that error.
type RetryPolicy func(resp *http.Response, err error) (bool, error)

// DefaultRetryPolicy retries transient transport faults and the
// retryable status codes 408, 429, 500, 502, 503 and 504, plus any
// response carrying a Retry-After header. Cancellation and unknown
// hosts are terminal.
func DefaultRetryPolicy(resp *http.Response, err error) (bool, error) {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return false, err
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return true, nil
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return true, nil
		}
		return false, err
	}
	if resp == nil {
		return false, nil
	}
	switch resp.StatusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true, nil
	}
	return resp.Header.Get("Retry-After") != "", nil
}

// RetryAfter extracts the server-mandated wait from a response, either
// delay-seconds or an HTTP-date. Unparsable or elapsed values yield 0.
func RetryAfter(resp *http.Response, now time.Time) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
