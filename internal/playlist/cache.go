package playlist

import (
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultCacheSize bounds a RewriteCache when no size is given.
const DefaultCacheSize = 4096

type cacheKey struct {
	base string
	ref  string
}

// RewriteCache memoizes (base, reference) -> absolute URL for a single proxy
// request. It is not safe for concurrent use and must not outlive the request.
type RewriteCache struct {
	lru *simplelru.LRU[cacheKey, string]
}

// NewRewriteCache returns an empty cache holding at most size entries.
func NewRewriteCache(size int) *RewriteCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	// NewLRU only fails for a non-positive size.
	lru, _ := simplelru.NewLRU[cacheKey, string](size, nil)
	return &RewriteCache{lru: lru}
}

func (c *RewriteCache) get(base, ref string) (string, bool) {
	return c.lru.Get(cacheKey{base: base, ref: ref})
}

func (c *RewriteCache) add(base, ref, resolved string) {
	c.lru.Add(cacheKey{base: base, ref: ref}, resolved)
}

// Len returns the number of cached resolutions.
func (c *RewriteCache) Len() int {
	return c.lru.Len()
}
