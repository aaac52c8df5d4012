package request

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/stratospect/goperps/errs"
)

// ErrorMapper lets a venue translate its error bodies ahead of the
// default classification. Return nil to fall through.
type ErrorMapper func(statusCode int, body []byte) error

const maxErrorExcerpt = 256

// statusCategory maps an HTTP status onto the shared taxonomy.
func statusCategory(status int) error {
	switch status {
	case http.StatusBadRequest:
		return errs.ErrBadRequest
	case http.StatusUnauthorized:
		return errs.ErrUnauthorized
	case http.StatusForbidden:
		return errs.ErrForbidden
	case http.StatusNotFound:
		return errs.ErrNotFound
	case http.StatusRequestTimeout:
		return errs.ErrTimeout
	case http.StatusTooManyRequests:
		return errs.ErrRateLimit
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return errs.ErrExchangeUnavailable
	}
	if status >= 400 && status < 500 {
		return errs.ErrBadRequest
	}
	return errs.ErrServerError
}

// classifyHTTPError builds the envelope for a non-2xx response. The
// venue mapper runs first, then the shared message heuristics, then
// the status table.
func (r *Requester) classifyHTTPError(resp *http.Response, body []byte, correlationID string) error {
	status := resp.StatusCode
	if r.errorMapper != nil {
		if mapped := r.errorMapper(status, body); mapped != nil {
			var e *errs.E
			if errors.As(mapped, &e) {
				if e.Venue == "" {
					e.Venue = r.Name
				}
				if e.CorrelationID == "" {
					e.WithCorrelationID(correlationID)
				}
				return mapped
			}
			return errs.New(r.Name, mapped, excerpt(body)).
				WithCode(strconv.Itoa(status)).
				WithCorrelationID(correlationID)
		}
	}

	msg := excerpt(body)
	category := errs.MapMessage(msg)
	if category == nil {
		category = statusCategory(status)
	}
	e := errs.New(r.Name, category, msg).
		WithCode(strconv.Itoa(status)).
		WithCorrelationID(correlationID)
	if category == errs.ErrRateLimit {
		e.WithRetryAfter(RetryAfter(resp, time.Now()))
	}
	return e
}

// classifyTransportError builds the envelope for a failure that never
// produced a response.
func (r *Requester) classifyTransportError(err error, correlationID string) error {
	category := errs.ErrNetwork
	switch {
	case errors.Is(err, context.Canceled):
		category = errs.ErrCanceled
	case errors.Is(err, context.DeadlineExceeded):
		category = errs.ErrTimeout
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			category = errs.ErrTimeout
		}
	}
	return errs.Wrap(r.Name, category, err).WithCorrelationID(correlationID)
}

// excerpt trims an error body for the envelope message, preserving
// utf8 validity.
func excerpt(body []byte) string {
	if len(body) <= maxErrorExcerpt {
		return string(body)
	}
	cut := body[:maxErrorExcerpt]
	for len(cut) > 0 && !utf8.Valid(cut) {
		cut = cut[:len(cut)-1]
	}
	return string(cut)
}
