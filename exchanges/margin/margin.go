package margin

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMarginType returned when the margin type is invalid
var ErrInvalidMarginType = errors.New("invalid margin type")

// Type defines the different margin types supported by venues
type Type uint8

// Margin types
const (
	Unset    Type = 0
	Isolated Type = 1 << iota
	Cross

	supported = Isolated | Cross
)

// margin type string representations
const (
	unsetStr    = ""
	isolatedStr = "isolated"
	crossStr    = "cross"
	crossedStr  = "crossed"
	multiStr    = "multi"
	unknownStr  = "unknown"
)

// Valid returns whether the margin type is valid
func (t Type) Valid() bool {
	return t != Unset && supported&t == t
}

// UnmarshalJSON converts json into margin type
func (t *Type) UnmarshalJSON(d []byte) error {
	var marginType string
	if err := json.Unmarshal(d, &marginType); err != nil {
		return err
	}
	var err error
	*t, err = StringToMarginType(marginType)
	return err
}

// MarshalJSON conforms type to the json.Marshaler interface
func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// String returns the string representation of the margin type in
// lowercase
func (t Type) String() string {
	switch t {
	case Unset:
		return unsetStr
	case Isolated:
		return isolatedStr
	case Cross:
		return crossStr
	default:
		return unknownStr
	}
}

// Upper returns the upper case string representation of the margin type
func (t Type) Upper() string {
	return strings.ToUpper(t.String())
}

// IsValidString checks to see if the supplied string is a valid margin
// type
func IsValidString(m string) bool {
	switch strings.ToLower(m) {
	case isolatedStr, crossStr, crossedStr, multiStr, unsetStr:
		return true
	}
	return false
}

// StringToMarginType converts a string to a margin type. Venue synonyms
// for shared-collateral margining collapse onto Cross.
func StringToMarginType(m string) (Type, error) {
	switch strings.ToLower(m) {
	case isolatedStr:
		return Isolated, nil
	case crossStr, crossedStr, multiStr:
		return Cross, nil
	case unsetStr:
		return Unset, nil
	}
	return Unset, fmt.Errorf("%w: %v", ErrInvalidMarginType, m)
}
