package market

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/stratospect/goperps/currency"
)

// DefaultTTL is how long a preloaded market table stays fresh.
const DefaultTTL = time.Minute

var errFetchFuncNil = errors.New("market fetch function is nil")

// FetchFunc loads the venue's full market table.
type FetchFunc func(ctx context.Context) ([]Market, error)

// Store caches one venue's markets behind a TTL. Concurrent refreshes
// collapse onto a single fetch; readers of a fresh table never block
// behind it.
type Store struct {
	ttl time.Duration
	sf  singleflight.Group
	now func() time.Time

	mtx           sync.RWMutex
	markets       []Market
	bySymbol      map[currency.Pair]int
	byVenueSymbol map[string]int
	fetchedAt     time.Time
}

// NewStore returns a Store with the given TTL, or DefaultTTL when
// non-positive.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{ttl: ttl, now: time.Now}
}

// Get returns the cached market table, refreshing through fetch when
// stale. Only one refresh runs at a time; latecomers share its result.
func (s *Store) Get(ctx context.Context, fetch FetchFunc) ([]Market, error) {
	if fetch == nil {
		return nil, errFetchFuncNil
	}
	s.mtx.RLock()
	if s.fresh() {
		cp := slices.Clone(s.markets)
		s.mtx.RUnlock()
		return cp, nil
	}
	s.mtx.RUnlock()

	v, err, _ := s.sf.Do("markets", func() (any, error) {
		s.mtx.RLock()
		if s.fresh() {
			cp := slices.Clone(s.markets)
			s.mtx.RUnlock()
			return cp, nil
		}
		s.mtx.RUnlock()

		fetched, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		s.set(fetched)
		return slices.Clone(fetched), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Market), nil //nolint:forcetypeassert // single producer above
}

// BySymbol looks up a cached market by unified symbol.
func (s *Store) BySymbol(symbol currency.Pair) (Market, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	if i, ok := s.bySymbol[symbol]; ok {
		return s.markets[i], nil
	}
	return Market{}, fmt.Errorf("%w: %s", ErrMarketNotFound, symbol)
}

// ByVenueSymbol looks up a cached market by the venue's native symbol.
func (s *Store) ByVenueSymbol(venueSymbol string) (Market, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	if i, ok := s.byVenueSymbol[venueSymbol]; ok {
		return s.markets[i], nil
	}
	return Market{}, fmt.Errorf("%w: %s", ErrMarketNotFound, venueSymbol)
}

// Symbols returns the unified symbols of all cached markets in listing
// order.
func (s *Store) Symbols() []currency.Pair {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	out := make([]currency.Pair, len(s.markets))
	for i := range s.markets {
		out[i] = s.markets[i].Symbol
	}
	return out
}

// Invalidate drops the cached table; the next Get refetches.
func (s *Store) Invalidate() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.markets = nil
	s.bySymbol = nil
	s.byVenueSymbol = nil
	s.fetchedAt = time.Time{}
}

func (s *Store) fresh() bool {
	return len(s.markets) != 0 && s.now().Sub(s.fetchedAt) < s.ttl
}

func (s *Store) set(markets []Market) {
	bySymbol := make(map[currency.Pair]int, len(markets))
	byVenueSymbol := make(map[string]int, len(markets))
	for i := range markets {
		bySymbol[markets[i].Symbol] = i
		byVenueSymbol[markets[i].VenueSymbol] = i
	}
	s.mtx.Lock()
	s.markets = slices.Clone(markets)
	s.bySymbol = bySymbol
	s.byVenueSymbol = byVenueSymbol
	s.fetchedAt = s.now()
	s.mtx.Unlock()
}
