package services

import (
	"sync"
	"time"

	"echomind/internal/models"
)

// Context cache defaults
const (
	DefaultContextCacheSize = 3
	DefaultContextFreshness = 60 * time.Second
)

// ContextCache is the rotating cache of synthesized contexts and the read
// side consumed by the latency-critical reply path. It holds at most maxSize
// entries (oldest evicted on overflow) and treats entries older than the
// freshness window as absent. Keeping a few entries smooths over a single
// failed synthesis: an older still-fresh hint remains usable.
type ContextCache struct {
	mu        sync.Mutex
	entries   []*models.SynthesizedContext
	maxSize   int
	freshness time.Duration
	metrics   *Metrics
	now       func() time.Time
}

// NewContextCache creates a rotating context cache.
func NewContextCache(maxSize int, freshness time.Duration, metrics *Metrics) *ContextCache {
	if maxSize <= 0 {
		maxSize = DefaultContextCacheSize
	}
	if freshness <= 0 {
		freshness = DefaultContextFreshness
	}
	return &ContextCache{
		maxSize:   maxSize,
		freshness: freshness,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Push appends a synthesized context, evicting the oldest entry past capacity.
func (c *ContextCache) Push(ctx *models.SynthesizedContext) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = append(c.entries, ctx)
	if len(c.entries) > c.maxSize {
		c.entries = c.entries[1:]
	}
}

// CurrentForCaller returns the freshest non-expired background summary, or
// the empty string. This is the only call on the hot reply path; it takes one
// mutex, inspects at most maxSize entries and returns.
func (c *ContextCache) CurrentForCaller() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for i := len(c.entries) - 1; i >= 0; i-- {
		entry := c.entries[i]
		if now.Sub(entry.CreatedAt) < c.freshness && entry.BackgroundSummary != "" {
			if c.metrics != nil {
				c.metrics.RecordContextServed(true)
			}
			return entry.BackgroundSummary
		}
	}
	if c.metrics != nil {
		c.metrics.RecordContextServed(false)
	}
	return ""
}

// Current returns the most recent non-expired entry, or nil.
func (c *ContextCache) Current() *models.SynthesizedContext {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for i := len(c.entries) - 1; i >= 0; i-- {
		if now.Sub(c.entries[i].CreatedAt) < c.freshness {
			return c.entries[i]
		}
	}
	return nil
}

// Size returns the number of cached entries, fresh or not.
func (c *ContextCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// PruneExpired drops entries past the freshness window and returns how many
// were removed.
func (c *ContextCache) PruneExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	kept := c.entries[:0]
	removed := 0
	for _, entry := range c.entries {
		if now.Sub(entry.CreatedAt) < c.freshness {
			kept = append(kept, entry)
		} else {
			removed++
		}
	}
	c.entries = kept
	return removed
}
