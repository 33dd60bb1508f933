package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a fixed-capacity map of time-limited cells. Inserting a new key at
// capacity evicts the least recently used key.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[K]*list.Element
	order    *list.List // front = most recently used
	now      func() time.Time
}

type lruEntry[K comparable, V any] struct {
	key  K
	cell *Cell[V]
}

// NewLRU creates a cache holding at most capacity keys. Values stored with
// Put expire after ttl.
func NewLRU[K comparable, V any](capacity int, ttl time.Duration) *LRU[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU[K, V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[K]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the live value for key and marks it most recently used.
// An expired key is removed.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}

	e := el.Value.(*lruEntry[K, V])
	v, ok := e.cell.Get()
	if !ok {
		c.order.Remove(el)
		delete(c.items, key)
		return zero, false
	}

	c.order.MoveToFront(el)
	return v, true
}

// Put stores v under key with the default TTL
func (c *LRU[K, V]) Put(key K, v V) {
	c.PutWithTTL(key, v, c.ttl)
}

// PutWithTTL stores v under key with a custom TTL
func (c *LRU[K, V]) PutWithTTL(key K, v V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry[K, V]).cell.SetWithTTL(v, ttl)
		c.order.MoveToFront(el)
		return
	}

	if len(c.items) >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry[K, V]).key)
		}
	}

	cell := newCellWithClock[V](c.ttl, c.now)
	cell.SetWithTTL(v, ttl)
	c.items[key] = c.order.PushFront(&lruEntry[K, V]{key: key, cell: cell})
}

// Remove drops key if present
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

// Clear drops every key
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*list.Element)
	c.order.Init()
}

// Len returns the number of keys held, expired or not
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns the keys from most to least recently used
func (c *LRU[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.items))
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*lruEntry[K, V]).key)
	}
	return keys
}

// Capacity returns the maximum number of keys
func (c *LRU[K, V]) Capacity() int {
	return c.capacity
}

// SetClock replaces the time source for cells created from now on. Intended for tests.
func (c *LRU[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
