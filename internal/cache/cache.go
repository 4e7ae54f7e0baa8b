// Package cache is the read-through cache for public pages. Entries are
// keyed by request path and query; invalidation is scoped to the policies
// a change touched.
package cache

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ConditionPrefix is the path prefix of every cached public page.
const ConditionPrefix = "/condition/"

// Page is a rendered response.
type Page struct {
	Status      int
	ContentType string
	Body        []byte
}

// Cache is a size-bounded, expiring page cache. It is safe for concurrent use.
type Cache struct {
	lru *expirable.LRU[string, Page]
}

// New creates a cache holding up to size pages for ttl each.
func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 512
	}
	return &Cache{lru: expirable.NewLRU[string, Page](size, nil, ttl)}
}

// Get returns the cached page for key.
func (c *Cache) Get(key string) (Page, bool) {
	return c.lru.Get(key)
}

// Set stores a page.
func (c *Cache) Set(key string, p Page) {
	c.lru.Add(key, p)
}

// Len returns the number of cached pages.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge drops everything.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Invalidate removes every key for which match returns true and reports
// how many were removed.
func (c *Cache) Invalidate(match func(key string) bool) int {
	removed := 0
	for _, key := range c.lru.Keys() {
		if match(key) && c.lru.Remove(key) {
			removed++
		}
	}
	return removed
}

// InvalidatePolicies removes the condition list pages and every page under
// each policy slug.
func (c *Cache) InvalidatePolicies(slugs ...string) int {
	return c.Invalidate(func(key string) bool {
		if isListKey(key) {
			return true
		}
		for _, slug := range slugs {
			if strings.HasPrefix(key, ConditionPrefix+slug+"/") {
				return true
			}
		}
		return false
	})
}

func isListKey(key string) bool {
	return key == ConditionPrefix || strings.HasPrefix(key, ConditionPrefix+"?")
}
