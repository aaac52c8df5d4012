// Package types holds wire-format primitives shared by venue decoders.
package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Time decodes venue timestamps delivered as unix values in seconds
// through nanoseconds, quoted or bare, with an optional fractional
// part. RFC3339 strings are out of scope; decode those with time.Time.
type Time time.Time

// UnmarshalJSON implements json.Unmarshaler. Resolution is inferred
// from digit count, so a fractional second ("1726104395.5") lands in
// the same bucket as an integer millisecond value.
func (t *Time) UnmarshalJSON(data []byte) error {
	s := string(data)
	switch s {
	case "null", "0", `""`, `"0"`:
		*t = Time(time.Time{})
		return nil
	}
	if s[0] == '"' {
		s = s[1 : len(s)-1]
	}

	// One dot is folded away; any other non-digit is a syntax error.
	nonDigit := false
	dot := strings.IndexFunc(s, func(r rune) bool {
		if r == '.' {
			return true
		}
		nonDigit = r < '0' || r > '9'
		return nonDigit
	})
	if dot != -1 {
		if nonDigit {
			return fmt.Errorf("%w for %q", strconv.ErrSyntax, string(data))
		}
		s = s[:dot] + s[dot+1:]
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}

	switch len(s) {
	case 10:
		*t = Time(time.Unix(v, 0))
	case 11, 12, 13: // milliseconds, possibly from a fractional second
		*t = Time(time.UnixMilli(v * int64(math.Pow10(13-len(s)))))
	case 14, 16: // microseconds, possibly from fractional milliseconds
		*t = Time(time.UnixMicro(v * int64(math.Pow10(16-len(s)))))
	case 17, 19: // nanoseconds, possibly from fractional microseconds
		*t = Time(time.Unix(0, v*int64(math.Pow10(19-len(s)))))
	default:
		return fmt.Errorf("cannot unmarshal %s into Time", string(data))
	}
	return nil
}

// Time returns the underlying time.Time.
func (t Time) Time() time.Time { return time.Time(t) }

func (t Time) String() string { return t.Time().String() }

// MarshalJSON serializes the time as RFC3339.
func (t Time) MarshalJSON() ([]byte, error) {
	return t.Time().MarshalJSON()
}
