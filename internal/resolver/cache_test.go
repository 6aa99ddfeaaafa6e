package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectCachePutGet(t *testing.T) {
	c := NewObjectCache(2, nil)
	c.Put("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestObjectCacheEvictsLRUWhenUnpinned(t *testing.T) {
	var evicted []string
	c := NewObjectCache(2, func(key string, value interface{}) {
		evicted = append(evicted, key)
	})
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3) // evicts "a", the least-recently-used

	require.Equal(t, []string{"a"}, evicted)
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestObjectCachePinnedEntrySurvivesEviction(t *testing.T) {
	var evicted []string
	c := NewObjectCache(1, func(key string, value interface{}) {
		evicted = append(evicted, key)
	})
	c.Put("a", 1)
	v, ok := c.Borrow("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	// Putting a second entry would normally evict "a", but it is pinned,
	// so capacity (1) is temporarily exceeded by the unevictable entry.
	c.Put("b", 2)
	assert.Empty(t, evicted)
	assert.Equal(t, 2, c.Len())

	// Returning the pin drops capacity enforcement back onto the list;
	// "b" (never pinned) is now the LRU victim, not "a".
	c.Return("a")
	assert.Equal(t, []string{"b"}, evicted)
	_, stillThere := c.Get("a")
	assert.True(t, stillThere)
}

func TestObjectCacheRemoveNoopWhilePinned(t *testing.T) {
	c := NewObjectCache(5, nil)
	c.Put("a", 1)
	c.Borrow("a")
	c.Remove("a")
	_, ok := c.Get("a")
	assert.True(t, ok, "pinned entry must survive Remove")
}

func TestObjectCacheBorrowMissingKey(t *testing.T) {
	c := NewObjectCache(5, nil)
	_, ok := c.Borrow("missing")
	assert.False(t, ok)
}

func TestObjectCacheDefaultCapacity(t *testing.T) {
	c := NewObjectCache(0, nil)
	assert.Equal(t, DefaultCacheSize, c.capacity)
}
