// Package nonce vends strictly increasing request nonces anchored to
// wall-clock milliseconds.
package nonce

import (
	"strconv"
	"sync/atomic"
	"time"
)

// Service hands out nonces that never repeat or decrease, even when
// the clock steps backwards or two requests land in the same
// millisecond. The zero value is ready to use.
type Service struct {
	last atomic.Int64
	now  func() time.Time
}

// Next returns the next nonce.
func (s *Service) Next() Value {
	nowFn := s.now
	if nowFn == nil {
		nowFn = time.Now
	}
	for {
		candidate := nowFn().UnixMilli()
		last := s.last.Load()
		if candidate <= last {
			candidate = last + 1
		}
		if s.last.CompareAndSwap(last, candidate) {
			return Value(candidate)
		}
	}
}

// Reset clears the high-water mark so the next nonce re-anchors to the
// clock. Only safe while no requests are in flight.
func (s *Service) Reset() { s.last.Store(0) }

// Value is a single issued nonce.
type Value int64

func (v Value) String() string { return strconv.FormatInt(int64(v), 10) }

// Int64 returns the nonce as an integer.
func (v Value) Int64() int64 { return int64(v) }
