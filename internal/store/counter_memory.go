package store

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter keeps hit times per key in process. Limits are per instance.
type MemoryCounter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

// NewMemoryCounter creates an empty counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		hits: make(map[string][]time.Time),
		now:  time.Now,
	}
}

// Hit records a hit and drops those older than window. Times are appended in
// order, so the expired ones form a prefix.
func (c *MemoryCounter) Hit(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cutoff := now.Add(-window)

	times := c.hits[key]

	first := 0
	for first < len(times) && !times[first].After(cutoff) {
		first++
	}

	times = append(times[first:], now)
	c.hits[key] = times

	return int64(len(times)), nil
}

// Sweep forgets keys whose newest hit is older than window.
func (c *MemoryCounter) Sweep(window time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-window)
	removed := 0

	for key, times := range c.hits {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(c.hits, key)
			removed++
		}
	}

	return removed
}
