package order

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTimeInForce is returned for unrecognised or contradictory
// time-in-force values.
var ErrInvalidTimeInForce = errors.New("invalid time in force value provided")

// TimeInForce enforces a standard for time-in-force values across the code base.
type TimeInForce uint8

// TimeInForce types
const (
	UnsetTIF       TimeInForce = 0
	GoodTillCancel TimeInForce = 1 << iota
	ImmediateOrCancel
	FillOrKill
	PostOnlyTIF

	supportedTimeInForceFlag = GoodTillCancel | ImmediateOrCancel | FillOrKill | PostOnlyTIF
)

// time-in-force string representations
const (
	gtcStr      = "GTC"
	iocStr      = "IOC"
	fokStr      = "FOK"
	postOnlyStr = "POSTONLY"
)

// Is checks to see if the enum contains the flag
func (t TimeInForce) Is(in TimeInForce) bool {
	return in != 0 && t&in == in
}

// StringToTimeInForce converts a time in force string value to a
// TimeInForce instance.
func StringToTimeInForce(timeInForce string) (TimeInForce, error) {
	switch strings.ToUpper(timeInForce) {
	case "":
		return UnsetTIF, nil
	case gtcStr, "GOODTILLCANCEL", "GOOD_TILL_CANCELLED", "GOOD_TILL_CANCELED":
		return GoodTillCancel, nil
	case iocStr, "IMMEDIATEORCANCEL", "IMMEDIATE_OR_CANCEL":
		return ImmediateOrCancel, nil
	case fokStr, "FILLORKILL", "FILL_OR_KILL":
		return FillOrKill, nil
	case postOnlyStr, "POST_ONLY", "ALO", "GTX", "POC":
		return PostOnlyTIF, nil
	}
	return UnsetTIF, fmt.Errorf("%w: tif=%s", ErrInvalidTimeInForce, timeInForce)
}

// IsValid returns whether or not the supplied time in force value is
// valid. ImmediateOrCancel and FillOrKill cannot coexist with any other
// flag.
func (t TimeInForce) IsValid() bool {
	isIOCorFOK := t&(ImmediateOrCancel|FillOrKill) != 0
	hasTwoBitsSet := t&(t-1) != 0
	if isIOCorFOK && hasTwoBitsSet {
		return false
	}
	return t == UnsetTIF || supportedTimeInForceFlag&t == t
}

// String implements the stringer interface.
func (t TimeInForce) String() string {
	if t == UnsetTIF {
		return ""
	}
	var tifStrings []string
	if t.Is(ImmediateOrCancel) {
		tifStrings = append(tifStrings, iocStr)
	}
	if t.Is(GoodTillCancel) {
		tifStrings = append(tifStrings, gtcStr)
	}
	if t.Is(FillOrKill) {
		tifStrings = append(tifStrings, fokStr)
	}
	if t.Is(PostOnlyTIF) {
		tifStrings = append(tifStrings, postOnlyStr)
	}
	if len(tifStrings) == 0 {
		return "UNKNOWN"
	}
	return strings.Join(tifStrings, ",")
}

// Lower returns a lower case string representation of time-in-force
func (t TimeInForce) Lower() string {
	return strings.ToLower(t.String())
}

// UnmarshalJSON deserializes string data into a TimeInForce instance.
func (t *TimeInForce) UnmarshalJSON(data []byte) error {
	for val := range strings.SplitSeq(strings.Trim(string(data), `"`), ",") {
		tif, err := StringToTimeInForce(val)
		if err != nil {
			return err
		}
		*t |= tif
	}
	return nil
}

// MarshalJSON returns the JSON-encoded time-in-force value
func (t TimeInForce) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}
