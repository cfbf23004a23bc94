package services

import (
	"sort"
	"sync"
	"time"

	"echomind/internal/models"
)

// ResultCache is a time-bounded store of completed task results, indexed both
// by task id and by subject key (latest completion wins for the subject
// index). Entries expire after ttl and the cache is capped at maxSize entries,
// evicting oldest-first. Removing an entry from one index always removes it
// from the other, so the subject pointer never dangles.
type ResultCache struct {
	mu        sync.Mutex
	byTask    map[string]*models.TaskResult
	bySubject map[string]*models.TaskResult
	maxSize   int
	ttl       time.Duration
	now       func() time.Time
}

// NewResultCache creates a result cache with the given capacity and TTL.
func NewResultCache(maxSize int, ttl time.Duration) *ResultCache {
	return &ResultCache{
		byTask:    make(map[string]*models.TaskResult),
		bySubject: make(map[string]*models.TaskResult),
		maxSize:   maxSize,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Put stores a completed result under both indexes.
func (c *ResultCache) Put(result *models.TaskResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneExpiredLocked()

	c.byTask[result.TaskID] = result
	c.bySubject[result.SubjectKey] = result

	if len(c.byTask) <= c.maxSize {
		return
	}

	// Capacity eviction, oldest creation time first.
	type entry struct {
		id string
		at time.Time
	}
	entries := make([]entry, 0, len(c.byTask))
	for id, r := range c.byTask {
		entries = append(entries, entry{id: id, at: r.CreatedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
	for _, e := range entries[:len(entries)-c.maxSize] {
		c.removeLocked(e.id)
	}
}

// Get returns the result for a task id if it is younger than the TTL.
func (c *ResultCache) Get(taskID string) *models.TaskResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, ok := c.byTask[taskID]
	if !ok || c.now().Sub(res.CreatedAt) > c.ttl {
		return nil
	}
	return res
}

// LatestFor returns the most recently completed result for a subject key if
// it is younger than the TTL.
func (c *ResultCache) LatestFor(subjectKey string) *models.TaskResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, ok := c.bySubject[subjectKey]
	if !ok || c.now().Sub(res.CreatedAt) > c.ttl {
		return nil
	}
	return res
}

// Counts returns the current (result, subject) index sizes.
func (c *ResultCache) Counts() (results, subjects int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byTask), len(c.bySubject)
}

// PruneExpired drops entries older than the TTL from both indexes and
// returns how many results were removed.
func (c *ResultCache) PruneExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pruneExpiredLocked()
}

func (c *ResultCache) pruneExpiredLocked() int {
	now := c.now()
	removed := 0
	for id, r := range c.byTask {
		if now.Sub(r.CreatedAt) > c.ttl {
			c.removeLocked(id)
			removed++
		}
	}
	return removed
}

// removeLocked removes a task entry and, when the subject index still points
// at that same entry, the subject pointer with it.
func (c *ResultCache) removeLocked(taskID string) {
	res, ok := c.byTask[taskID]
	if !ok {
		return
	}
	delete(c.byTask, taskID)
	if cur, ok := c.bySubject[res.SubjectKey]; ok && cur.TaskID == taskID {
		delete(c.bySubject, res.SubjectKey)
	}
}
