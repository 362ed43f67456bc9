package search

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
)

const (
	defaultCacheMaxItems = 1000
	defaultCacheTTL      = 5 * time.Minute
	cacheBufferItems     = 64
)

// ResultCache holds recent search results keyed by query, limit and overrides.
// Every entry costs 1, so MaxCost is the item bound.
type ResultCache struct {
	cache *ristretto.Cache
	ttl   time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// NewResultCache creates a cache holding at most maxItems entries for ttl.
func NewResultCache(maxItems int, ttl time.Duration) (*ResultCache, error) {
	if maxItems <= 0 {
		maxItems = defaultCacheMaxItems
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(maxItems) * 10,
		MaxCost:     int64(maxItems),
		BufferItems: cacheBufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}
	return &ResultCache{cache: cache, ttl: ttl}, nil
}

// Get returns a copy of the cached result for key.
func (c *ResultCache) Get(key string) (*EnhancedSearchResult, bool) {
	v, found := c.cache.Get(key)
	if !found {
		c.misses.Add(1)
		return nil, false
	}
	res, ok := v.(*EnhancedSearchResult)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return copyEnhanced(res), true
}

// Set stores a copy of res. Ristretto admits writes asynchronously; call
// Wait when a following Get must observe the write.
func (c *ResultCache) Set(key string, res *EnhancedSearchResult) bool {
	return c.cache.SetWithTTL(key, copyEnhanced(res), 1, c.ttl)
}

// Wait blocks until buffered writes are applied.
func (c *ResultCache) Wait() {
	c.cache.Wait()
}

// Clear drops every entry.
func (c *ResultCache) Clear() {
	c.cache.Clear()
}

// Close stops the cache's background goroutines.
func (c *ResultCache) Close() {
	c.cache.Close()
}

// Stats returns hit and miss counts.
func (c *ResultCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// copyEnhanced deep-copies the result list so cached entries are never
// mutated by rerank passes or callers.
func copyEnhanced(res *EnhancedSearchResult) *EnhancedSearchResult {
	c := *res
	c.Results = make([]*SearchResult, len(res.Results))
	for i, r := range res.Results {
		c.Results[i] = r.clone()
	}
	if res.Stats.DegradedSources != nil {
		c.Stats.DegradedSources = append([]string(nil), res.Stats.DegradedSources...)
	}
	return &c
}

// cacheKey hashes the query, effective limit and every override.
func cacheKey(query string, limit int, overrides *SearchQuery) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\x00%d", query, limit)
	if overrides != nil {
		writeFloatPtr(&b, "t", overrides.Threshold)
		writeFloatPtr(&b, "v", overrides.VectorWeight)
		writeFloatPtr(&b, "f", overrides.FulltextWeight)
		keys := make([]string, 0, len(overrides.Filters))
		for k := range overrides.Filters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\x00%s=%s", k, overrides.Filters[k])
		}
		if overrides.MetadataFilters != nil {
			// json.Marshal sorts map keys inside condition values.
			raw, _ := json.Marshal(overrides.MetadataFilters)
			b.WriteString("\x00")
			b.Write(raw)
		}
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeFloatPtr(b *strings.Builder, tag string, v *float64) {
	if v == nil {
		return
	}
	fmt.Fprintf(b, "\x00%s=%g", tag, *v)
}
