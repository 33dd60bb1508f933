// Package cache provides the in-memory building blocks used to front the
// catalog API: a single time-limited value and a bounded, recency-ordered
// map of them.
package cache

import (
	"sync"
	"time"
)

// Cell holds one value that expires after a TTL
type Cell[T any] struct {
	mu        sync.Mutex
	value     T
	set       bool
	expiresAt time.Time
	ttl       time.Duration
	now       func() time.Time
}

// NewCell creates an empty cell whose Set uses the given default TTL
func NewCell[T any](ttl time.Duration) *Cell[T] {
	return &Cell[T]{ttl: ttl, now: time.Now}
}

// newCellWithClock is used by LRU so that every cell shares the owner's clock
func newCellWithClock[T any](ttl time.Duration, now func() time.Time) *Cell[T] {
	return &Cell[T]{ttl: ttl, now: now}
}

// Get returns the stored value if it has not expired
func (c *Cell[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if !c.set {
		return zero, false
	}
	if !c.now().Before(c.expiresAt) {
		c.value = zero
		c.set = false
		return zero, false
	}
	return c.value, true
}

// Set stores v with the cell's default TTL
func (c *Cell[T]) Set(v T) {
	c.SetWithTTL(v, c.ttl)
}

// SetWithTTL stores v, replacing any previous value and expiry
func (c *Cell[T]) SetWithTTL(v T, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.value = v
	c.set = true
	c.expiresAt = c.now().Add(ttl)
}

// Clear empties the cell regardless of expiry
func (c *Cell[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	c.value = zero
	c.set = false
}

// TTL returns the default TTL
func (c *Cell[T]) TTL() time.Duration {
	return c.ttl
}

// SetClock replaces the time source. Intended for tests.
func (c *Cell[T]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
