// Package currency defines currency codes and the unified perpetual
// contract pair.
package currency

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrCurrencyCodeEmpty defines an error if the currency code is empty
	ErrCurrencyCodeEmpty = errors.New("currency code is empty")
	// ErrCurrencyPairEmpty defines an error if the currency pair is empty
	ErrCurrencyPairEmpty = errors.New("currency pair is empty")
	// ErrSymbolInvalid is returned when a unified symbol cannot be parsed
	ErrSymbolInvalid = errors.New("symbol not in BASE/QUOTE:SETTLE form")
)

// Code represents a currency such as BTC or USDT. Codes constructed
// through NewCode are upper-cased, so equality is plain comparison.
type Code string

// EMPTYCODE is the zero currency code.
const EMPTYCODE = Code("")

// Well-known codes.
var (
	BTC  = NewCode("BTC")
	ETH  = NewCode("ETH")
	SOL  = NewCode("SOL")
	USD  = NewCode("USD")
	USDT = NewCode("USDT")
	USDC = NewCode("USDC")
)

// NewCode returns a normalized currency code.
func NewCode(s string) Code {
	return Code(strings.ToUpper(strings.TrimSpace(s)))
}

func (c Code) String() string { return string(c) }

// IsEmpty returns true when the code is unset.
func (c Code) IsEmpty() bool { return c == EMPTYCODE }

// Equal compares codes case-insensitively.
func (c Code) Equal(o Code) bool {
	return strings.EqualFold(string(c), string(o))
}

// UnmarshalJSON normalizes incoming codes.
func (c *Code) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = NewCode(s)
	return nil
}
