package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fill(c *Cache, keys ...string) {
	for _, k := range keys {
		c.Set(k, Page{Status: 200, Body: []byte(k)})
	}
}

func TestGetSet(t *testing.T) {
	c := New(10, time.Minute)
	fill(c, "/condition/a/")

	p, ok := c.Get("/condition/a/")
	assert.True(t, ok)
	assert.Equal(t, "/condition/a/", string(p.Body))

	_, ok = c.Get("/condition/b/")
	assert.False(t, ok)
}

func TestInvalidatePoliciesIsScoped(t *testing.T) {
	c := New(10, time.Minute)
	fill(c,
		"/condition/",
		"/condition/?q=bowel",
		"/condition/bowel/",
		"/condition/bowel/consultation/",
		"/condition/bowel-two/",
		"/condition/breast/",
	)

	removed := c.InvalidatePolicies("bowel")
	assert.Equal(t, 4, removed)

	_, ok := c.Get("/condition/bowel-two/")
	assert.True(t, ok, "sibling slug with shared prefix must survive")
	_, ok = c.Get("/condition/breast/")
	assert.True(t, ok)
	_, ok = c.Get("/condition/")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	c := New(10, 20*time.Millisecond)
	fill(c, "/condition/a/")
	time.Sleep(60 * time.Millisecond)

	_, ok := c.Get("/condition/a/")
	assert.False(t, ok)
}

func TestPurge(t *testing.T) {
	c := New(10, time.Minute)
	fill(c, "/condition/a/", "/condition/b/")
	c.Purge()
	assert.Equal(t, 0, c.Len())
}
