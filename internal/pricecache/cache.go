package pricecache

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTTL is how long a resolved price stays valid.
const DefaultTTL = 5 * time.Minute

// Entry is replaced wholesale on every Put.
type Entry struct {
	Price      decimal.Decimal
	ResolvedAt time.Time
}

// Cache holds USD unit prices keyed by chain and lowercase token address.
// Staleness is checked on read; nothing is evicted in the background.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	items map[string]Entry
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:   ttl,
		now:   time.Now,
		items: map[string]Entry{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Get(chainID, address string) (decimal.Decimal, bool) {
	c.mu.RLock()
	e, ok := c.items[key(chainID, address)]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.ResolvedAt) >= c.ttl {
		return decimal.Zero, false
	}
	return e.Price, true
}

func (c *Cache) Put(chainID, address string, price decimal.Decimal) {
	e := Entry{Price: price, ResolvedAt: c.now()}
	c.mu.Lock()
	c.items[key(chainID, address)] = e
	c.mu.Unlock()
}

// Len counts stored entries, fresh or stale.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func key(chainID, address string) string {
	return strings.TrimSpace(chainID) + "|" + strings.ToLower(strings.TrimSpace(address))
}
