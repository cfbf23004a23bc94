package services

import (
	"fmt"
	"testing"
	"time"

	"echomind/internal/models"
)

func newResult(taskID, subject string, createdAt time.Time) *models.TaskResult {
	return &models.TaskResult{
		TaskID:     taskID,
		SubjectKey: subject,
		Success:    true,
		CreatedAt:  createdAt,
	}
}

func TestResultCache_GetAndLatest(t *testing.T) {
	cache := NewResultCache(10, 10*time.Minute)

	now := time.Now()
	cache.Put(newResult("task_1", "alice", now))

	if got := cache.Get("task_1"); got == nil || got.TaskID != "task_1" {
		t.Fatalf("Expected task_1 in cache, got %v", got)
	}
	if got := cache.LatestFor("alice"); got == nil || got.TaskID != "task_1" {
		t.Fatalf("Expected task_1 as latest for alice, got %v", got)
	}
	if got := cache.Get("task_missing"); got != nil {
		t.Errorf("Expected nil for unknown task, got %v", got)
	}
	if got := cache.LatestFor("bob"); got != nil {
		t.Errorf("Expected nil for unknown subject, got %v", got)
	}
}

func TestResultCache_TTLExpiry(t *testing.T) {
	cache := NewResultCache(10, 10*time.Minute)

	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.Put(newResult("task_old", "alice", now))

	// Just inside the TTL
	cache.now = func() time.Time { return now.Add(10 * time.Minute) }
	if got := cache.Get("task_old"); got == nil {
		t.Fatal("Result at exactly the TTL boundary should still be served")
	}

	// Past the TTL
	cache.now = func() time.Time { return now.Add(10*time.Minute + time.Second) }
	if got := cache.Get("task_old"); got != nil {
		t.Errorf("Expected expired result to be hidden, got %v", got)
	}
	if got := cache.LatestFor("alice"); got != nil {
		t.Errorf("Expected expired subject result to be hidden, got %v", got)
	}

	removed := cache.PruneExpired()
	if removed != 1 {
		t.Errorf("Expected 1 pruned result, got %d", removed)
	}
	results, subjects := cache.Counts()
	if results != 0 || subjects != 0 {
		t.Errorf("Expected empty cache after prune, got results=%d subjects=%d", results, subjects)
	}
}

func TestResultCache_CapacityEvictsOldestFirst(t *testing.T) {
	cache := NewResultCache(3, time.Hour)

	now := time.Now()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("task_%d", i)
		cache.Put(newResult(id, fmt.Sprintf("subject_%d", i), now.Add(time.Duration(i)*time.Second)))
	}

	results, _ := cache.Counts()
	if results != 3 {
		t.Fatalf("Expected cache capped at 3, got %d", results)
	}
	if cache.Get("task_0") != nil || cache.Get("task_1") != nil {
		t.Error("Oldest results should have been evicted")
	}
	for i := 2; i < 5; i++ {
		if cache.Get(fmt.Sprintf("task_%d", i)) == nil {
			t.Errorf("Expected task_%d to survive eviction", i)
		}
	}
}

func TestResultCache_LatestWinsPerSubject(t *testing.T) {
	cache := NewResultCache(10, time.Hour)

	now := time.Now()
	first := newResult("task_a", "alice", now)
	second := newResult("task_b", "alice", now.Add(time.Second))
	cache.Put(first)
	cache.Put(second)

	if got := cache.LatestFor("alice"); got == nil || got.TaskID != "task_b" {
		t.Fatalf("Expected task_b as latest for alice, got %v", got)
	}
	// Both stay reachable by task id
	if cache.Get("task_a") == nil {
		t.Error("Superseded result should remain addressable by task id")
	}
}

func TestResultCache_SubjectPointerNeverDangles(t *testing.T) {
	cache := NewResultCache(1, time.Hour)

	now := time.Now()
	cache.Put(newResult("task_a", "alice", now))
	cache.Put(newResult("task_b", "bob", now.Add(time.Second)))

	// task_a evicted by capacity; alice's subject pointer must go with it
	results, subjects := cache.Counts()
	if results != 1 || subjects != 1 {
		t.Fatalf("Expected 1/1 after eviction, got results=%d subjects=%d", results, subjects)
	}
	if cache.LatestFor("alice") != nil {
		t.Error("Subject index should not point at an evicted result")
	}
	if got := cache.LatestFor("bob"); got == nil || got.TaskID != "task_b" {
		t.Errorf("Expected task_b for bob, got %v", got)
	}
}
