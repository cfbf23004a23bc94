package jobs

import (
	"context"
	"log"
	"time"

	"echomind/internal/services"
)

// CacheRetentionJob prunes expired task results, aged pending correlated
// results, and stale synthesized contexts. The caches also expire entries on
// read; this job keeps memory bounded when nothing is reading.
type CacheRetentionJob struct {
	results     *services.ResultCache
	accumulator *services.BatchAccumulator
	contexts    *services.ContextCache
	interval    time.Duration
}

// NewCacheRetentionJob creates the retention job.
func NewCacheRetentionJob(results *services.ResultCache, accumulator *services.BatchAccumulator, contexts *services.ContextCache, interval time.Duration) *CacheRetentionJob {
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	return &CacheRetentionJob{
		results:     results,
		accumulator: accumulator,
		contexts:    contexts,
		interval:    interval,
	}
}

// Name implements Job
func (j *CacheRetentionJob) Name() string { return "cache-retention" }

// Interval implements Job
func (j *CacheRetentionJob) Interval() time.Duration { return j.interval }

// Run implements Job
func (j *CacheRetentionJob) Run(_ context.Context) error {
	results := j.results.PruneExpired()
	pending := j.accumulator.PrunePending()
	contexts := j.contexts.PruneExpired()
	if results+pending+contexts > 0 {
		log.Printf("🗑️  [RETENTION] pruned results=%d pending=%d contexts=%d", results, pending, contexts)
	}
	return nil
}
