package cache

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestCell_EmptyByDefault(t *testing.T) {
	c := NewCell[string](time.Minute)

	if _, ok := c.Get(); ok {
		t.Error("Expected new cell to be empty")
	}
}

func TestCell_ExpiresAfterTTL(t *testing.T) {
	clock := newFakeClock()
	c := NewCell[int](time.Minute)
	c.SetClock(clock.Now)

	c.Set(42)

	clock.Advance(59 * time.Second)
	if v, ok := c.Get(); !ok || v != 42 {
		t.Errorf("Expected 42 before expiry, got %d (ok=%v)", v, ok)
	}

	clock.Advance(time.Second)
	if _, ok := c.Get(); ok {
		t.Error("Expected cell to be empty at expiry")
	}
}

func TestCell_SetWithTTLOverridesPreviousExpiry(t *testing.T) {
	clock := newFakeClock()
	c := NewCell[bool](30 * time.Minute)
	c.SetClock(clock.Now)

	c.Set(true)
	c.SetWithTTL(false, 2*time.Minute)

	clock.Advance(3 * time.Minute)
	if _, ok := c.Get(); ok {
		t.Error("Expected shorter TTL to replace the longer one")
	}

	c.SetWithTTL(true, time.Hour)
	clock.Advance(59 * time.Minute)
	if v, ok := c.Get(); !ok || !v {
		t.Error("Expected value set with a fresh TTL to still be live")
	}
}

func TestCell_Clear(t *testing.T) {
	c := NewCell[string](time.Hour)
	c.Set("indexes")
	c.Clear()

	if _, ok := c.Get(); ok {
		t.Error("Expected cleared cell to be empty")
	}
}
