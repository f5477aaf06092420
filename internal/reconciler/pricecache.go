package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPriceTTL is how long a fetched market price stays fresh. Short
// relative to the 10% margin baked into quoted prices.
const DefaultPriceTTL = 5 * time.Minute

// PriceCache is a read-through cache of the last fetched market price,
// owned by the orchestrator. A stale read within the freshness window is
// acceptable; writes are serialized behind the mutex. Live ticker feeds
// may push into it via SetPrice.
type PriceCache struct {
	mu        sync.RWMutex
	price     decimal.Decimal
	fetchedAt time.Time
	ttl       time.Duration

	now func() time.Time
}

func NewPriceCache(ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = DefaultPriceTTL
	}
	return &PriceCache{ttl: ttl, now: time.Now}
}

// Get returns the cached price if fresh, otherwise calls fetch and caches
// the result.
func (c *PriceCache) Get(ctx context.Context, fetch func(context.Context) (decimal.Decimal, error)) (decimal.Decimal, error) {
	c.mu.RLock()
	if !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.ttl {
		price := c.price
		c.mu.RUnlock()
		return price, nil
	}
	c.mu.RUnlock()

	price, err := fetch(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	c.SetPrice(price)
	return price, nil
}

// SetPrice overwrites the cached price and restarts the freshness window.
func (c *PriceCache) SetPrice(price decimal.Decimal) {
	c.mu.Lock()
	c.price = price
	c.fetchedAt = c.now()
	c.mu.Unlock()
}
