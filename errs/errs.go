// Package errs defines the error taxonomy shared by every venue and the
// structured envelope used to carry venue context alongside a category.
package errs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Category sentinels. Callers match these with errors.Is regardless of
// which venue produced the failure.
var (
	ErrNotInitialized        = errors.New("exchange not initialized")
	ErrNotSupported          = errors.New("operation not supported by exchange")
	ErrMissingCredentials    = errors.New("credentials not set")
	ErrBadRequest            = errors.New("bad request")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInvalidSignature      = errors.New("invalid signature")
	ErrExpiredAuth           = errors.New("authentication expired")
	ErrForbidden             = errors.New("forbidden")
	ErrNotFound              = errors.New("not found")
	ErrOrderNotFound         = errors.New("order not found")
	ErrInvalidOrder          = errors.New("invalid order")
	ErrMinimumOrderSize      = errors.New("order below minimum size")
	ErrOrderRejected         = errors.New("order rejected")
	ErrInsufficientMargin    = errors.New("insufficient margin")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrRateLimit             = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network failure")
	ErrTimeout               = errors.New("request timed out")
	ErrServerError           = errors.New("exchange server error")
	ErrExchangeUnavailable   = errors.New("exchange unavailable")
	ErrCircuitOpen           = errors.New("circuit breaker open")
	ErrTransactionFailed     = errors.New("transaction failed")
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrWebsocketDisconnected = errors.New("websocket disconnected")
	ErrBadResponse           = errors.New("unparsable exchange response")
	ErrCanceled              = errors.New("request canceled")
)

// E is the envelope attached to failures that cross the transport
// boundary. Category is always one of the sentinels above; errors.Is
// matches through it and through the wrapped cause.
type E struct {
	Venue         string
	Category      error
	Code          string
	Message       string
	RetryAfter    time.Duration
	CorrelationID string
	cause         error
}

// New returns an envelope for venue carrying category and a
// human-readable message from the venue response.
func New(venue string, category error, message string) *E {
	return &E{Venue: venue, Category: category, Message: message}
}

// Wrap returns an envelope whose cause chain includes err.
func Wrap(venue string, category error, err error) *E {
	return &E{Venue: venue, Category: category, cause: err}
}

// WithCode records the venue-native error code.
func (e *E) WithCode(code string) *E {
	e.Code = code
	return e
}

// WithRetryAfter records a venue-mandated wait before retrying.
func (e *E) WithRetryAfter(d time.Duration) *E {
	e.RetryAfter = d
	return e
}

// WithCorrelationID tags the envelope with the request correlation id.
func (e *E) WithCorrelationID(id string) *E {
	e.CorrelationID = id
	return e
}

// WithCause attaches the underlying error.
func (e *E) WithCause(err error) *E {
	e.cause = err
	return e
}

func (e *E) Error() string {
	var b strings.Builder
	if e.Venue != "" {
		b.WriteString(e.Venue)
		b.WriteString(": ")
	}
	if e.Category != nil {
		b.WriteString(e.Category.Error())
	} else {
		b.WriteString("error")
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [code %s]", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// Unwrap exposes both the category and the cause so that errors.Is
// can match either chain.
func (e *E) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Category != nil {
		out = append(out, e.Category)
	}
	if e.cause != nil {
		out = append(out, e.cause)
	}
	return out
}

// CategoryOf returns the category sentinel carried by err, or nil if
// err has no envelope in its chain.
func CategoryOf(err error) error {
	var e *E
	if errors.As(err, &e) {
		return e.Category
	}
	return nil
}

var messageCategories = []struct {
	substr   string
	category error
}{
	{"insufficient margin", ErrInsufficientMargin},
	{"margin is insufficient", ErrInsufficientMargin},
	{"insufficient balance", ErrInsufficientBalance},
	{"insufficient funds", ErrInsufficientBalance},
	{"order not found", ErrOrderNotFound},
	{"order does not exist", ErrOrderNotFound},
	{"unknown order", ErrOrderNotFound},
	{"invalid signature", ErrInvalidSignature},
	{"signature verification failed", ErrInvalidSignature},
	{"signature expired", ErrExpiredAuth},
	{"request expired", ErrExpiredAuth},
	{"timestamp for this request", ErrExpiredAuth},
	{"too many requests", ErrRateLimit},
	{"rate limit", ErrRateLimit},
	{"minimum order", ErrMinimumOrderSize},
	{"min notional", ErrMinimumOrderSize},
	{"order size too small", ErrMinimumOrderSize},
	{"slippage", ErrSlippageExceeded},
	{"post only would", ErrOrderRejected},
	{"would immediately match", ErrOrderRejected},
	{"reduce only", ErrInvalidOrder},
	{"invalid api key", ErrUnauthorized},
	{"api key", ErrUnauthorized},
	{"under maintenance", ErrExchangeUnavailable},
}

// MapMessage inspects a venue error message for well-known phrasings
// and returns the matching category, or nil when nothing matches.
// First match wins; venue mappers run before this fallback.
func MapMessage(msg string) error {
	lower := strings.ToLower(msg)
	for i := range messageCategories {
		if strings.Contains(lower, messageCategories[i].substr) {
			return messageCategories[i].category
		}
	}
	return nil
}
