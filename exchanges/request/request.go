// Package request orchestrates venue HTTP traffic: weighted rate
// limits, retries with capped exponential backoff, a per-client
// circuit breaker and one-shot error classification.
package request

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"
	"github.com/sony/gobreaker"

	"github.com/stratospect/goperps/common/timedmutex"
	"github.com/stratospect/goperps/errs"
	"github.com/stratospect/goperps/exchanges/nonce"
	"github.com/stratospect/goperps/log"
)

const (
	// MaxRequestJobs bounds concurrent requests through one Requester
	MaxRequestJobs = 50
	// DefaultMutexLockTimeout is the fallback release for the nonce lock
	DefaultMutexLockTimeout = 50 * time.Millisecond

	drainBodyLimit  = 100000
	proxyTLSTimeout = 15 * time.Second
	userAgentHeader = "User-Agent"
)

// ErrRequestSystemIsNil is returned when the Requester is nil
var ErrRequestSystemIsNil = errors.New("request system is nil")

var (
	errMaxRequestJobs          = errors.New("max request jobs reached")
	errRequestFunctionIsNil    = errors.New("request function is nil")
	errRequestItemNil          = errors.New("request item is nil")
	errInvalidPath             = errors.New("invalid path")
	errDeadlineWouldBeExceeded = errors.New("deadline would be exceeded by retry")
)

// Generate produces a fresh request Item for every attempt so retried
// requests carry new signatures and nonces.
type Generate func() (*Item, error)

// Item is one prepared request.
type Item struct {
	Method      string
	Path        string
	Headers     map[string]string
	Body        io.Reader
	Result      any
	AuthRequest bool
	Verbose     bool
	// SkipRetry forces a single attempt regardless of outcome.
	SkipRetry bool
	// HeaderResponse receives a clone of the response headers.
	HeaderResponse *http.Header
}

// Requester sends payloads to a single venue.
type Requester struct {
	HTTPClient *http.Client
	Name       string
	UserAgent  string

	limiter            RateLimitDefinitions
	backoff            Backoff
	retryPolicy        RetryPolicy
	maxAttempts        int
	breaker            *gobreaker.CircuitBreaker
	errorMapper        ErrorMapper
	disableRateLimiter int32
	jobs               int32
	timedLock          *timedmutex.TimedMutex
	nonce              nonce.Service
	sleep              func(ctx context.Context, d time.Duration) error
}

// RequesterOption configures New.
type RequesterOption func(*Requester)

// WithLimiter installs the venue's rate limit table.
func WithLimiter(l RateLimitDefinitions) RequesterOption {
	return func(r *Requester) { r.limiter = l }
}

// WithBackoff overrides the retry delay schedule.
func WithBackoff(b Backoff) RequesterOption {
	return func(r *Requester) { r.backoff = b }
}

// WithRetryPolicy overrides the retry decision function.
func WithRetryPolicy(p RetryPolicy) RequesterOption {
	return func(r *Requester) { r.retryPolicy = p }
}

// WithMaxAttempts caps total attempts per payload, first try included.
func WithMaxAttempts(n int) RequesterOption {
	return func(r *Requester) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithBreaker replaces the default circuit breaker settings.
func WithBreaker(s BreakerSettings) RequesterOption {
	return func(r *Requester) { r.breaker = newBreaker(r.Name, s) }
}

// WithErrorMapper installs a venue error body translator.
func WithErrorMapper(m ErrorMapper) RequesterOption {
	return func(r *Requester) { r.errorMapper = m }
}

// WithUserAgent sets the outbound User-Agent header.
func WithUserAgent(ua string) RequesterOption {
	return func(r *Requester) { r.UserAgent = ua }
}

// New returns a new Requester
func New(name string, httpRequester *http.Client, opts ...RequesterOption) *Requester {
	r := &Requester{
		HTTPClient:  httpRequester,
		Name:        name,
		backoff:     DefaultBackoff(),
		retryPolicy: DefaultRetryPolicy,
		maxAttempts: MaxRetryAttempts,
		timedLock:   timedmutex.New(DefaultMutexLockTimeout),
		sleep:       sleepCtx,
	}
	for _, o := range opts {
		o(r)
	}
	if r.breaker == nil {
		r.breaker = newBreaker(name, BreakerSettings{})
	}
	return r
}

// SendPayload runs one payload through the breaker, limiter and retry
// pipeline. All terminal failures carry an errs envelope; call sites
// match categories with errors.Is.
func (r *Requester) SendPayload(ctx context.Context, ep EndpointLimit, newRequest Generate) error {
	if r == nil {
		return ErrRequestSystemIsNil
	}
	if newRequest == nil {
		return errRequestFunctionIsNil
	}
	if atomic.LoadInt32(&r.jobs) >= MaxRequestJobs {
		r.timedLock.UnlockIfLocked()
		return errMaxRequestJobs
	}

	atomic.AddInt32(&r.jobs, 1)
	defer func() {
		atomic.AddInt32(&r.jobs, -1)
		r.timedLock.UnlockIfLocked()
	}()

	cid := correlationID()
	if r.breaker == nil {
		return r.doRequest(ctx, ep, newRequest, cid)
	}
	_, err := r.breaker.Execute(func() (any, error) {
		return nil, r.doRequest(ctx, ep, newRequest, cid)
	})
	if err != nil &&
		(errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)) {
		return errs.Wrap(r.Name, errs.ErrCircuitOpen, err).WithCorrelationID(cid)
	}
	return err
}

func (r *Requester) doRequest(ctx context.Context, endpoint EndpointLimit, newRequest Generate, cid string) error {
	for attempt := 1; ; attempt++ {
		if err := r.InitiateRateLimit(ctx, endpoint); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return r.classifyTransportError(ctxErr, cid)
			}
			return err
		}

		p, err := newRequest()
		if err != nil {
			return err
		}

		req, err := p.validateRequest(ctx, r)
		if err != nil {
			return err
		}

		verbose := IsVerbose(ctx, p.Verbose)
		if verbose {
			log.RequestSys.Debug().
				Str("exchange", r.Name).
				Str("correlation_id", cid).
				Int("attempt", attempt).
				Str("method", p.Method).
				Str("path", p.Path).
				Msg("sending request")
		}

		resp, err := r.HTTPClient.Do(req)
		retry, checkErr := r.retryPolicy(resp, err)
		if checkErr != nil {
			return r.classifyTransportError(checkErr, cid)
		}

		if retry && !p.SkipRetry && !hasRetryNotAllowed(ctx) && attempt < r.maxAttempts {
			if err == nil {
				// The connection is only reusable once drained.
				r.drainBody(resp.Body)
			}

			delay := r.backoff(attempt)
			if after := RetryAfter(resp, time.Now()); after > delay {
				delay = after
			}
			if d, ok := ctx.Deadline(); ok && time.Now().Add(delay).After(d) {
				cause := err
				if cause == nil {
					cause = fmt.Errorf("status %s", resp.Status)
				}
				return errs.Wrap(r.Name, errs.ErrTimeout,
					fmt.Errorf("%w: %w", errDeadlineWouldBeExceeded, cause)).
					WithCorrelationID(cid)
			}
			if verbose {
				log.RequestSys.Debug().
					Str("exchange", r.Name).
					Str("correlation_id", cid).
					Int("attempt", attempt).
					Dur("delay", delay).
					Msg("request failed, retrying")
			}
			if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
				return r.classifyTransportError(sleepErr, cid)
			}
			continue
		}

		if err != nil {
			return r.classifyTransportError(err, cid)
		}

		contents, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return errs.Wrap(r.Name, errs.ErrNetwork, err).WithCorrelationID(cid)
		}

		if p.HeaderResponse != nil {
			*p.HeaderResponse = resp.Header.Clone()
		}

		if verbose {
			log.RequestSys.Debug().
				Str("exchange", r.Name).
				Str("correlation_id", cid).
				Int("status", resp.StatusCode).
				Str("body", string(contents)).
				Msg("received response")
		}

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return r.classifyHTTPError(resp, contents, cid)
		}

		if p.Result != nil {
			if err := json.Unmarshal(contents, p.Result); err != nil {
				return errs.Wrap(r.Name, errs.ErrBadResponse, err).WithCorrelationID(cid)
			}
		}
		return nil
	}
}

// validateRequest builds the *http.Request for one attempt.
func (i *Item) validateRequest(ctx context.Context, r *Requester) (*http.Request, error) {
	if i == nil {
		return nil, errRequestItemNil
	}
	if i.Path == "" {
		return nil, errInvalidPath
	}
	req, err := http.NewRequestWithContext(ctx, i.Method, i.Path, i.Body)
	if err != nil {
		return nil, err
	}
	for k, v := range i.Headers {
		req.Header.Add(k, v)
	}
	if r.UserAgent != "" && req.Header.Get(userAgentHeader) == "" {
		req.Header.Set(userAgentHeader, r.UserAgent)
	}
	return req, nil
}

// GetNonce vends the next strictly increasing nonce and holds the
// request lock so concurrent signed requests cannot reorder before
// dispatch.
func (r *Requester) GetNonce() nonce.Value {
	r.timedLock.LockForDuration()
	return r.nonce.Next()
}

// SetProxy routes the client transport through p.
func (r *Requester) SetProxy(p *url.URL) error {
	if p == nil || p.String() == "" {
		return errors.New("no proxy URL supplied")
	}
	t, ok := r.HTTPClient.Transport.(*http.Transport)
	if !ok {
		return errors.New("transport not set, cannot set proxy")
	}
	t.Proxy = http.ProxyURL(p)
	t.TLSHandshakeTimeout = proxyTLSTimeout
	return nil
}

func (r *Requester) drainBody(body io.ReadCloser) {
	defer body.Close()
	if _, err := io.Copy(io.Discard, io.LimitReader(body, drainBodyLimit)); err != nil {
		log.RequestSys.Error().
			Str("exchange", r.Name).
			Err(err).
			Msg("failed to drain request body")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func correlationID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return ""
	}
	return id.String()
}
