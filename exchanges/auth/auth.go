// Package auth decorates outgoing requests with venue credentials.
// Each venue family gets a Strategy: HMAC for key/secret venues,
// EIP712 for wallet venues, Ed25519 for instruction-signing venues.
// Strategies are safe for concurrent use.
package auth

import (
	"context"
	"errors"
	"net/url"
)

var (
	errInvalidSeed       = errors.New("invalid ed25519 seed")
	errInvalidPrivateKey = errors.New("invalid wallet private key")
	errInstructionUnset  = errors.New("signing instruction unset")
	errActionBodyEmpty   = errors.New("action body empty")
)

// RequestEnvelope is the mutable view of one outgoing request that a
// Strategy decorates in place.
type RequestEnvelope struct {
	Method  string
	Path    string
	Query   url.Values
	Body    []byte
	Headers map[string]string

	// Instruction labels the operation for venues whose canonical
	// string is instruction-scoped rather than path-scoped.
	Instruction string

	// RawQuery is the finalized query string for venues whose
	// signature rides the query; when set it supersedes Query.
	RawQuery string
}

// NewEnvelope returns an envelope ready for decoration.
func NewEnvelope(method, path string) *RequestEnvelope {
	return &RequestEnvelope{
		Method:  method,
		Path:    path,
		Query:   url.Values{},
		Headers: make(map[string]string),
	}
}

// Strategy signs outgoing requests for one venue.
type Strategy interface {
	// Sign decorates env with whatever the venue requires. Callers
	// invoke it once per attempt so timestamps stay fresh across
	// retries.
	Sign(ctx context.Context, env *RequestEnvelope) error
	// Headers returns the static identity headers without a full
	// signing pass.
	Headers() map[string]string
	// Ready reports whether enough material was supplied to sign.
	Ready() bool
}

// Addresser is implemented by strategies bound to an on-chain address.
type Addresser interface {
	Address() string
}

// NonceSource is implemented by strategies that issue request nonces.
type NonceSource interface {
	NextNonce() int64
	ResetNonce()
}
