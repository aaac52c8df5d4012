package auth

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/stratospect/goperps/common/crypto"
	"github.com/stratospect/goperps/errs"
)

// HMAC signs requests with HMAC-SHA256 over the encoded query string
// concatenated with the body, the scheme used by binance-derived
// venues. The hex signature is appended to the query and the API key
// rides a venue-named header.
type HMAC struct {
	apiKey     string
	secret     []byte
	keyHeader  string
	recvWindow int64
	now        func() time.Time
}

// HMACOption customizes an HMAC strategy.
type HMACOption func(*HMAC)

// WithKeyHeader overrides the header that carries the API key.
func WithKeyHeader(name string) HMACOption {
	return func(h *HMAC) { h.keyHeader = name }
}

// WithRecvWindow adds a recvWindow parameter to every signed request.
func WithRecvWindow(ms int64) HMACOption {
	return func(h *HMAC) { h.recvWindow = ms }
}

// NewHMAC returns a key/secret strategy. Empty credentials yield a
// not-Ready strategy so public-only adapters construct cleanly.
func NewHMAC(apiKey, secret string, opts ...HMACOption) *HMAC {
	h := &HMAC{
		apiKey:    apiKey,
		secret:    []byte(secret),
		keyHeader: "X-MBX-APIKEY",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Ready implements Strategy.
func (h *HMAC) Ready() bool {
	return h.apiKey != "" && len(h.secret) > 0
}

// Headers implements Strategy.
func (h *HMAC) Headers() map[string]string {
	if !h.Ready() {
		return nil
	}
	return map[string]string{h.keyHeader: h.apiKey}
}

// Sign implements Strategy. It stamps the request, signs query+body,
// and finalizes RawQuery with the trailing signature parameter. The
// signature parameter itself is never part of the signed payload.
func (h *HMAC) Sign(_ context.Context, env *RequestEnvelope) error {
	if !h.Ready() {
		return errs.ErrMissingCredentials
	}
	if env.Query == nil {
		env.Query = url.Values{}
	}
	if env.Headers == nil {
		env.Headers = make(map[string]string)
	}
	env.Query.Set("timestamp", strconv.FormatInt(h.now().UnixMilli(), 10))
	if h.recvWindow > 0 {
		env.Query.Set("recvWindow", strconv.FormatInt(h.recvWindow, 10))
	}
	encoded := env.Query.Encode()
	mac := crypto.GetHMAC(crypto.HashSHA256, []byte(encoded+string(env.Body)), h.secret)
	env.RawQuery = encoded + "&signature=" + crypto.HexEncodeToString(mac)
	env.Headers[h.keyHeader] = h.apiKey
	return nil
}
