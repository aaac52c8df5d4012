package currency

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Pair identifies a perpetual contract: base and quote legs plus the
// settlement currency, rendered as BASE/QUOTE:SETTLE. A linear
// contract settles in its quote (BTC/USDT:USDT); an inverse contract
// settles in its base (BTC/USD:BTC).
type Pair struct {
	Base   Code
	Quote  Code
	Settle Code
}

// EMPTYPAIR is the zero pair.
var EMPTYPAIR = Pair{}

// NewPair returns a linear pair settling in the quote currency.
func NewPair(base, quote Code) Pair {
	return Pair{Base: base, Quote: quote, Settle: quote}
}

// NewSettledPair returns a pair with an explicit settlement currency.
func NewSettledPair(base, quote, settle Code) Pair {
	return Pair{Base: base, Quote: quote, Settle: settle}
}

// NewPairFromString parses a unified symbol. The settlement suffix is
// optional; when absent the pair settles in its quote currency.
func NewPairFromString(symbol string) (Pair, error) {
	base, rest, found := strings.Cut(symbol, "/")
	if !found || base == "" {
		return EMPTYPAIR, fmt.Errorf("%w: %q", ErrSymbolInvalid, symbol)
	}
	quote, settle, found := strings.Cut(rest, ":")
	if quote == "" || (found && settle == "") {
		return EMPTYPAIR, fmt.Errorf("%w: %q", ErrSymbolInvalid, symbol)
	}
	p := Pair{Base: NewCode(base), Quote: NewCode(quote)}
	if found {
		p.Settle = NewCode(settle)
	} else {
		p.Settle = p.Quote
	}
	return p, nil
}

// String renders the unified symbol.
func (p Pair) String() string {
	if p.IsEmpty() {
		return ""
	}
	return p.Base.String() + "/" + p.Quote.String() + ":" + p.Settle.String()
}

// Join concatenates base and quote with a venue delimiter, e.g.
// Join("") for BTCUSDT or Join("-") for BTC-USDT.
func (p Pair) Join(delimiter string) string {
	return p.Base.String() + delimiter + p.Quote.String()
}

// IsEmpty returns true when both legs are unset.
func (p Pair) IsEmpty() bool {
	return p.Base.IsEmpty() && p.Quote.IsEmpty()
}

// Equal compares pairs leg-wise, case-insensitively.
func (p Pair) Equal(o Pair) bool {
	return p.Base.Equal(o.Base) && p.Quote.Equal(o.Quote) && p.Settle.Equal(o.Settle)
}

// IsInverse returns true when the contract settles in its base.
func (p Pair) IsInverse() bool {
	return !p.Settle.IsEmpty() && p.Settle.Equal(p.Base)
}

// Validate checks both legs are present.
func (p Pair) Validate() error {
	if p.IsEmpty() {
		return ErrCurrencyPairEmpty
	}
	if p.Base.IsEmpty() || p.Quote.IsEmpty() {
		return fmt.Errorf("%w: %q", ErrCurrencyCodeEmpty, p.String())
	}
	return nil
}

// MarshalJSON renders the pair as its unified symbol.
func (p Pair) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON parses a unified symbol.
func (p *Pair) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*p = EMPTYPAIR
		return nil
	}
	parsed, err := NewPairFromString(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
