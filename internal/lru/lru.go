// Package lru implements a fixed-capacity map with strict least-recently-used
// eviction. Recency order doubles as insertion order for untouched entries,
// so ties evict the oldest insertion first.
//
// The cache does no locking and no wall-clock expiry; both are the concern of
// the owning layer.
package lru

import "container/list"

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Cache is a bounded key-value store with LRU eviction. The zero value is
// not usable; construct with New.
type Cache[K comparable, V any] struct {
	maxSize int
	ll      *list.List
	items   map[K]*list.Element
	onEvict func(K, V)
}

// New creates a Cache holding at most maxSize entries. maxSize must be
// positive. onEvict, if not nil, is called for each entry removed to make
// room; it is not called by Remove or Clear.
func New[K comparable, V any](maxSize int, onEvict func(K, V)) *Cache[K, V] {
	if maxSize <= 0 {
		panic("lru: maxSize must be > 0")
	}
	return &Cache[K, V]{
		maxSize: maxSize,
		ll:      list.New(),
		items:   make(map[K]*list.Element),
		onEvict: onEvict,
	}
}

// Get returns the value for key and promotes it to most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Peek returns the value for key without disturbing recency order.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	if el, ok := c.items[key]; ok {
		return el.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Contains reports whether key is present without disturbing recency order.
func (c *Cache[K, V]) Contains(key K) bool {
	_, ok := c.items[key]
	return ok
}

// Set inserts or replaces the value for key, promoting it to most recently
// used. When an insert would exceed capacity, the single least-recently-used
// entry is evicted first.
func (c *Cache[K, V]) Set(key K, value V) {
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*entry[K, V]).value = value
		return
	}
	if c.ll.Len() >= c.maxSize {
		c.evictOldest()
	}
	c.items[key] = c.ll.PushFront(&entry[K, V]{key: key, value: value})
}

// Remove deletes key if present and reports whether it was.
func (c *Cache[K, V]) Remove(key K) bool {
	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.ll.Remove(el)
	delete(c.items, key)
	return true
}

// Len returns the number of resident entries.
func (c *Cache[K, V]) Len() int {
	return c.ll.Len()
}

// Clear removes all entries without invoking the eviction callback.
func (c *Cache[K, V]) Clear() {
	c.ll.Init()
	c.items = make(map[K]*list.Element)
}

// Keys returns all resident keys from least to most recently used.
func (c *Cache[K, V]) Keys() []K {
	keys := make([]K, 0, c.ll.Len())
	for el := c.ll.Back(); el != nil; el = el.Prev() {
		keys = append(keys, el.Value.(*entry[K, V]).key)
	}
	return keys
}

// Each calls fn for every entry from least to most recently used. fn must
// not mutate the cache.
func (c *Cache[K, V]) Each(fn func(K, V)) {
	for el := c.ll.Back(); el != nil; el = el.Prev() {
		ent := el.Value.(*entry[K, V])
		fn(ent.key, ent.value)
	}
}

func (c *Cache[K, V]) evictOldest() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	ent := el.Value.(*entry[K, V])
	c.ll.Remove(el)
	delete(c.items, ent.key)
	if c.onEvict != nil {
		c.onEvict(ent.key, ent.value)
	}
}
