package ticker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/stratospect/goperps/currency"
)

// DefaultCacheTTL is how long a price snapshot stays fresh.
const DefaultCacheTTL = 5 * time.Second

// FetchFunc loads a fresh snapshot for one symbol.
type FetchFunc func(ctx context.Context) (Price, error)

// Cache holds short-lived price snapshots per symbol. Concurrent
// misses for the same symbol collapse onto a single fetch.
type Cache struct {
	ttl time.Duration
	sf  singleflight.Group
	now func() time.Time

	mtx     sync.RWMutex
	entries map[currency.Pair]entry
}

type entry struct {
	price Price
	at    time.Time
}

// NewCache returns a Cache with the given TTL, or DefaultCacheTTL when
// non-positive.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[currency.Pair]entry),
	}
}

// Get returns the cached snapshot for symbol, refreshing through fetch
// when stale.
func (c *Cache) Get(ctx context.Context, symbol currency.Pair, fetch FetchFunc) (Price, error) {
	c.mtx.RLock()
	e, ok := c.entries[symbol]
	c.mtx.RUnlock()
	if ok && c.now().Sub(e.at) < c.ttl {
		return e.price, nil
	}

	v, err, _ := c.sf.Do(symbol.String(), func() (any, error) {
		c.mtx.RLock()
		e, ok := c.entries[symbol]
		c.mtx.RUnlock()
		if ok && c.now().Sub(e.at) < c.ttl {
			return e.price, nil
		}

		price, err := fetch(ctx)
		if err != nil {
			return Price{}, err
		}
		c.mtx.Lock()
		c.entries[symbol] = entry{price: price, at: c.now()}
		c.mtx.Unlock()
		return price, nil
	})
	if err != nil {
		return Price{}, err
	}
	return v.(Price), nil //nolint:forcetypeassert // single producer above
}

// Invalidate drops all cached snapshots.
func (c *Cache) Invalidate() {
	c.mtx.Lock()
	c.entries = make(map[currency.Pair]entry)
	c.mtx.Unlock()
}
