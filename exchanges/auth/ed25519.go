package auth

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strconv"
	"time"

	"github.com/stratospect/goperps/common/crypto"
	"github.com/stratospect/goperps/errs"
)

// Header names used by instruction-signing venues. Exported because
// socket authentication reuses the same signature material inside
// subscribe frames.
const (
	HeaderAPIKey    = "X-API-Key"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	HeaderWindow    = "X-Window"
)

// defaultSignWindow is the request validity window in milliseconds.
const defaultSignWindow = 5000

// Ed25519 signs requests in the instruction style: the operation name
// plus the sorted parameters plus timestamp and window, signed with an
// Ed25519 key and attached as base64 headers.
type Ed25519 struct {
	priv   ed25519.PrivateKey
	pub    string
	window int64
	now    func() time.Time
}

// NewEd25519 builds the strategy from a base64-encoded 32-byte seed.
// An empty seed yields a not-Ready strategy so public-only adapters
// construct cleanly.
func NewEd25519(seed string, windowMS int64) (*Ed25519, error) {
	if windowMS <= 0 {
		windowMS = defaultSignWindow
	}
	e := &Ed25519{window: windowMS, now: time.Now}
	if seed == "" {
		return e, nil
	}
	raw, err := crypto.Base64Decode(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errInvalidSeed, err)
	}
	if len(raw) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", errInvalidSeed, len(raw), ed25519.SeedSize)
	}
	e.priv = ed25519.NewKeyFromSeed(raw)
	pub, ok := e.priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errInvalidSeed
	}
	e.pub = crypto.Base64Encode(pub)
	return e, nil
}

// Ready implements Strategy.
func (e *Ed25519) Ready() bool {
	return len(e.priv) > 0
}

// Headers implements Strategy.
func (e *Ed25519) Headers() map[string]string {
	if !e.Ready() {
		return nil
	}
	return map[string]string{HeaderAPIKey: e.pub}
}

// VerifyingKey returns the base64 public key presented to the venue.
func (e *Ed25519) VerifyingKey() string {
	return e.pub
}

// Sign implements Strategy. The canonical string is
// instruction=NAME&sorted=params&timestamp=MS&window=MS; env.Query
// carries the instruction parameters even for requests whose values
// travel in the body.
func (e *Ed25519) Sign(_ context.Context, env *RequestEnvelope) error {
	if !e.Ready() {
		return errs.ErrMissingCredentials
	}
	if env.Instruction == "" {
		return errInstructionUnset
	}
	if env.Headers == nil {
		env.Headers = make(map[string]string)
	}
	ts := strconv.FormatInt(e.now().UnixMilli(), 10)
	window := strconv.FormatInt(e.window, 10)
	canonical := "instruction=" + env.Instruction
	if params := env.Query.Encode(); params != "" {
		canonical += "&" + params
	}
	canonical += "&timestamp=" + ts + "&window=" + window
	sig := ed25519.Sign(e.priv, []byte(canonical))
	env.Headers[HeaderAPIKey] = e.pub
	env.Headers[HeaderSignature] = crypto.Base64Encode(sig)
	env.Headers[HeaderTimestamp] = ts
	env.Headers[HeaderWindow] = window
	return nil
}
