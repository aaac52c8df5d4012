package types

import "github.com/shopspring/decimal"

// Number decodes venue numeric fields that arrive either as quoted
// decimal strings or as bare JSON numbers. The venue's printed
// precision is preserved; empty and null collapse to zero.
type Number decimal.Decimal

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "null", `""`:
		*n = Number(decimal.Zero)
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	*n = Number(d)
	return nil
}

// MarshalJSON serializes the value as a quoted decimal string, the
// form venues accept without float drift.
func (n Number) MarshalJSON() ([]byte, error) {
	return []byte(`"` + n.Decimal().String() + `"`), nil
}

// Decimal returns the underlying decimal value.
func (n Number) Decimal() decimal.Decimal { return decimal.Decimal(n) }

func (n Number) String() string { return n.Decimal().String() }
