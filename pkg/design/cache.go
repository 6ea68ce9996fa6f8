package design

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// RecommendationTTL bounds how long a cached recommendation set is served.
const RecommendationTTL = time.Hour

// Clock returns the current time. Tests swap it for a fake.
type Clock func() time.Time

type cacheEntry struct {
	products  []Product
	queries   []string
	timestamp time.Time
}

// RecommendationCache memoizes generated products and queries per style.
// Expiry is checked on read only; stale entries stay in storage until they
// are overwritten or the cache is cleared.
type RecommendationCache struct {
	items *cache.Cache
	ttl   time.Duration
	now   Clock
}

func NewRecommendationCache(ttl time.Duration, now Clock) *RecommendationCache {
	if ttl <= 0 {
		ttl = RecommendationTTL
	}
	if now == nil {
		now = time.Now
	}
	return &RecommendationCache{
		// No default expiration and no janitor: validity is decided in Get.
		items: cache.New(cache.NoExpiration, 0),
		ttl:   ttl,
		now:   now,
	}
}

// Put overwrites the entry for style and stamps it with the current time.
func (c *RecommendationCache) Put(style Style, products []Product, queries []string) {
	c.items.Set(string(style), &cacheEntry{
		products:  cloneProducts(products),
		queries:   cloneStrings(queries),
		timestamp: c.now(),
	}, cache.NoExpiration)
}

// Get returns the cached pair for style if it is younger than the TTL.
func (c *RecommendationCache) Get(style Style) ([]Product, []string, bool) {
	x, found := c.items.Get(string(style))
	if !found {
		return nil, nil, false
	}
	entry := x.(*cacheEntry)
	if c.now().Sub(entry.timestamp) >= c.ttl {
		return nil, nil, false
	}
	return cloneProducts(entry.products), cloneStrings(entry.queries), true
}

// Len counts stored entries, expired ones included.
func (c *RecommendationCache) Len() int {
	return c.items.ItemCount()
}

// Clear drops every entry.
func (c *RecommendationCache) Clear() {
	c.items.Flush()
}

func cloneProducts(in []Product) []Product {
	if in == nil {
		return nil
	}
	out := make([]Product, len(in))
	copy(out, in)
	for i := range out {
		out[i].Delivery = cloneStrings(in[i].Delivery)
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
