package auth

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/stratospect/goperps/errs"
	"github.com/stratospect/goperps/exchanges/nonce"
)

// EIP712 signs venue actions as typed data with a secp256k1 wallet
// key. Sign wraps the raw action document in the venue's signed
// payload: {action, nonce, signature{r,s,v}}. The agent digest commits
// to the action bytes and the nonce, so a replayed body fails venue
// verification.
type EIP712 struct {
	key     *ecdsa.PrivateKey
	address string
	domain  apitypes.TypedDataDomain
	source  string
	nonces  nonce.Service
}

// signaturePayload is the r/s/v form wallet venues expect on the wire.
type signaturePayload struct {
	R string `json:"r"`
	S string `json:"s"`
	V byte   `json:"v"`
}

type signedAction struct {
	Action    json.RawMessage  `json:"action"`
	Nonce     int64            `json:"nonce"`
	Signature signaturePayload `json:"signature"`
}

// NewEIP712 builds a wallet strategy from a hex private key, with or
// without a 0x prefix. The domain identifies the venue's signing
// domain; source discriminates the agent scope (venue mainnet versus
// testnet). An empty key yields a not-Ready strategy so public-only
// adapters construct cleanly.
func NewEIP712(privateKeyHex string, domain apitypes.TypedDataDomain, source string) (*EIP712, error) {
	e := &EIP712{domain: domain, source: source}
	if privateKeyHex == "" {
		return e, nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errInvalidPrivateKey, err)
	}
	e.key = key
	e.address = crypto.PubkeyToAddress(key.PublicKey).Hex()
	return e, nil
}

// Ready implements Strategy.
func (e *EIP712) Ready() bool {
	return e.key != nil
}

// Headers implements Strategy. Wallet venues carry no identity
// headers; the signature itself authenticates.
func (e *EIP712) Headers() map[string]string {
	return nil
}

// Address implements Addresser.
func (e *EIP712) Address() string {
	return e.address
}

// NextNonce implements NonceSource.
func (e *EIP712) NextNonce() int64 {
	return e.nonces.Next().Int64()
}

// ResetNonce implements NonceSource.
func (e *EIP712) ResetNonce() {
	e.nonces.Reset()
}

// Sign implements Strategy. env.Body holds the raw action document and
// is replaced with the signed payload.
func (e *EIP712) Sign(_ context.Context, env *RequestEnvelope) error {
	if !e.Ready() {
		return errs.ErrMissingCredentials
	}
	if len(env.Body) == 0 {
		return errActionBodyEmpty
	}
	n := e.NextNonce()
	sig, err := e.signAgent(agentDigest(env.Body, n))
	if err != nil {
		return err
	}
	out, err := json.Marshal(signedAction{
		Action:    json.RawMessage(env.Body),
		Nonce:     n,
		Signature: sig,
	})
	if err != nil {
		return err
	}
	env.Body = out
	if env.Headers == nil {
		env.Headers = make(map[string]string)
	}
	env.Headers["Content-Type"] = "application/json"
	return nil
}

// SignTypedData hashes td per EIP-712 and returns the 65-byte
// [R || S || V] signature with V offset to 27.
func (e *EIP712) SignTypedData(td apitypes.TypedData) ([]byte, error) {
	if !e.Ready() {
		return nil, errs.ErrMissingCredentials
	}
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrInvalidSignature, err)
	}
	typedDataHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrInvalidSignature, err)
	}
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	sig, err := crypto.Sign(crypto.Keccak256(rawData), e.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrInvalidSignature, err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

func (e *EIP712) signAgent(connectionID string) (signaturePayload, error) {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"Agent": []apitypes.Type{
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
			"EIP712Domain": domainTypes(e.domain),
		},
		PrimaryType: "Agent",
		Domain:      e.domain,
		Message: apitypes.TypedDataMessage{
			"source":       e.source,
			"connectionId": connectionID,
		},
	}
	raw, err := e.SignTypedData(td)
	if err != nil {
		return signaturePayload{}, err
	}
	return signaturePayload{
		R: hexutil.Encode(raw[:32]),
		S: hexutil.Encode(raw[32:64]),
		V: raw[64],
	}, nil
}

// domainTypes declares only the fields the domain actually carries;
// HashStruct rejects declared-but-absent fields.
func domainTypes(d apitypes.TypedDataDomain) []apitypes.Type {
	ts := []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
	}
	if d.VerifyingContract != "" {
		ts = append(ts, apitypes.Type{Name: "verifyingContract", Type: "address"})
	}
	return ts
}

// agentDigest commits the action bytes and the nonce into the bytes32
// the agent message carries.
func agentDigest(action []byte, n int64) string {
	buf := make([]byte, 0, len(action)+8)
	buf = append(buf, action...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(n)) //nolint:gosec // nonce is a positive unix ms
	return hexutil.Encode(crypto.Keccak256(buf))
}
