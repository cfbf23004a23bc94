package services

import (
	"sync"
	"testing"
	"time"

	"echomind/internal/database"
	"echomind/internal/models"
)

func speechEvent(ts time.Time) models.AnalysisEvent {
	return models.AnalysisEvent{Type: "speech", Confidence: 0.9, Timestamp: ts}
}

func TestBatchAccumulator_SealsAtBatchSize(t *testing.T) {
	acc := NewBatchAccumulator(BatchAccumulatorOptions{BatchSize: 3})

	now := time.Now()
	if id := acc.AddEvent(speechEvent(now)); id != "" {
		t.Fatalf("First event should not seal a batch, got %q", id)
	}
	if id := acc.AddEvent(speechEvent(now.Add(time.Second))); id != "" {
		t.Fatalf("Second event should not seal a batch, got %q", id)
	}
	id := acc.AddEvent(speechEvent(now.Add(2 * time.Second)))
	if id == "" {
		t.Fatal("Third event should seal exactly one batch")
	}

	status := acc.Status()
	if status.PendingEvents != 0 {
		t.Errorf("Expected empty in-progress batch after seal, got %d", status.PendingEvents)
	}
	if status.RingSize != 1 {
		t.Errorf("Expected 1 batch in ring, got %d", status.RingSize)
	}
}

func TestBatchAccumulator_RingEvictsOldest(t *testing.T) {
	var mu sync.Mutex
	var lastBatchCount int
	acc := NewBatchAccumulator(BatchAccumulatorOptions{
		BatchSize:    1,
		MaxBatches:   2,
		TriggerCount: 100, // keep synthesis out of this test
		Trigger: func(batches []*models.Batch) {
			mu.Lock()
			lastBatchCount = len(batches)
			mu.Unlock()
		},
	})

	now := time.Now()
	acc.AddEvent(speechEvent(now))
	acc.AddEvent(speechEvent(now.Add(time.Second)))
	acc.AddEvent(speechEvent(now.Add(2 * time.Second)))

	status := acc.Status()
	if status.RingSize != 2 {
		t.Fatalf("Expected ring capped at 2, got %d", status.RingSize)
	}
	mu.Lock()
	if lastBatchCount != 0 {
		t.Errorf("Trigger should not have fired below the threshold")
	}
	mu.Unlock()
}

func TestBatchAccumulator_EventCountTriggersSynthesis(t *testing.T) {
	triggered := make(chan []*models.Batch, 1)
	acc := NewBatchAccumulator(BatchAccumulatorOptions{
		BatchSize:    2,
		TriggerCount: 1,
		Trigger: func(batches []*models.Batch) {
			triggered <- batches
		},
	})

	now := time.Now()
	acc.AddEvent(speechEvent(now))
	acc.AddEvent(speechEvent(now.Add(time.Second)))

	select {
	case batches := <-triggered:
		if len(batches) != 1 {
			t.Fatalf("Expected 1 batch in trigger payload, got %d", len(batches))
		}
		if !batches[0].Processed {
			t.Error("Triggered batches should be marked processed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected synthesis trigger after the first sealed batch")
	}
}

func TestBatchAccumulator_CorrelationWindow(t *testing.T) {
	acc := NewBatchAccumulator(BatchAccumulatorOptions{
		BatchSize:        2,
		TriggerCount:     100,
		CorrelationGrace: 30 * time.Second,
	})

	now := time.Now()

	// Inside the window once the batch seals
	acc.AddCorrelatedResult(models.CorrelatedResult{
		Payload:   map[string]interface{}{"title": "Midnight City", "artist": "M83"},
		Timestamp: now.Add(time.Second),
	})
	// Far outside any window; must stay pending
	acc.AddCorrelatedResult(models.CorrelatedResult{
		Payload:   map[string]interface{}{"title": "Old Tune"},
		Timestamp: now.Add(-time.Hour),
	})

	acc.AddEvent(speechEvent(now))
	acc.AddEvent(speechEvent(now.Add(2 * time.Second)))

	status := acc.Status()
	if status.PendingCorrelated != 1 {
		t.Errorf("Expected 1 unmatched result to stay pending, got %d", status.PendingCorrelated)
	}
}

func TestBatchAccumulator_CorrelationGraceExtendsWindow(t *testing.T) {
	acc := NewBatchAccumulator(BatchAccumulatorOptions{
		BatchSize:        2,
		TriggerCount:     100,
		CorrelationGrace: 30 * time.Second,
	})

	now := time.Now()
	// 20s after the last event: outside the raw window, inside the grace
	acc.AddCorrelatedResult(models.CorrelatedResult{
		Payload:   map[string]interface{}{"speaker": "dana"},
		Timestamp: now.Add(22 * time.Second),
	})

	acc.AddEvent(speechEvent(now))
	acc.AddEvent(speechEvent(now.Add(2 * time.Second)))

	if got := acc.Status().PendingCorrelated; got != 0 {
		t.Errorf("Expected grace-window result to attach, %d still pending", got)
	}
}

func TestBatchAccumulator_PersistenceRoundTrip(t *testing.T) {
	path := t.TempDir() + "/state.db"
	store, err := database.NewStateStore(path)
	if err != nil {
		t.Fatalf("Failed to open state store: %v", err)
	}

	acc := NewBatchAccumulator(BatchAccumulatorOptions{
		BatchSize:    3,
		TriggerCount: 100,
		Store:        store,
	})
	now := time.Now()
	acc.AddEvent(speechEvent(now))
	acc.AddEvent(speechEvent(now.Add(time.Second)))
	acc.AddEvent(speechEvent(now.Add(2 * time.Second))) // seals one batch
	acc.AddEvent(speechEvent(now.Add(3 * time.Second))) // one in-progress event
	acc.AddCorrelatedResult(models.CorrelatedResult{Payload: map[string]interface{}{"title": "X"}, Timestamp: now.Add(-time.Hour)})

	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close state store: %v", err)
	}

	// Restart: a fresh accumulator over the same file resumes the snapshot
	store2, err := database.NewStateStore(path)
	if err != nil {
		t.Fatalf("Failed to reopen state store: %v", err)
	}
	defer store2.Close()

	restored := NewBatchAccumulator(BatchAccumulatorOptions{
		BatchSize:    3,
		TriggerCount: 100,
		Store:        store2,
	})

	status := restored.Status()
	if status.PendingEvents != 1 {
		t.Errorf("Expected 1 restored in-progress event, got %d", status.PendingEvents)
	}
	if status.RingSize != 1 {
		t.Errorf("Expected 1 restored batch, got %d", status.RingSize)
	}
	if status.PendingCorrelated != 1 {
		t.Errorf("Expected 1 restored pending result, got %d", status.PendingCorrelated)
	}

	// Sequence numbers continue instead of restarting
	restored.AddEvent(speechEvent(now.Add(10 * time.Second)))
	restored.AddEvent(speechEvent(now.Add(11 * time.Second)))
	id := restored.AddEvent(speechEvent(now.Add(12 * time.Second)))
	if id == "" {
		t.Fatal("Expected restored accumulator to keep sealing batches")
	}
}

func TestSummarizeEvents(t *testing.T) {
	now := time.Now()
	events := []models.AnalysisEvent{
		{Type: "speech", Confidence: 0.95, Timestamp: now, Features: map[string]interface{}{"speaker": "dana"}},
		{Type: "speech", Confidence: 0.9, Timestamp: now.Add(time.Second), Features: map[string]interface{}{"speaker": "lee"}},
		{Type: "speech", Confidence: 0.5, Timestamp: now.Add(2 * time.Second)},
	}

	analysis := summarizeEvents(events)
	if analysis.DominantType != "talk" {
		t.Errorf("Expected dominant type talk, got %q", analysis.DominantType)
	}
	if analysis.SpeechCount != 2 {
		t.Errorf("Expected 2 clear speech segments (confidence > 0.8), got %d", analysis.SpeechCount)
	}
	if len(analysis.Speakers) != 2 {
		t.Errorf("Expected 2 distinct speakers, got %v", analysis.Speakers)
	}
	if analysis.MusicDetected {
		t.Error("No music events were present")
	}

	quiet := summarizeEvents(nil)
	if quiet.DominantType != "quiet" {
		t.Errorf("Expected quiet for no events, got %q", quiet.DominantType)
	}

	mixed := summarizeEvents([]models.AnalysisEvent{
		{Type: "speech", Confidence: 0.9, Timestamp: now},
		{Type: "music", Confidence: 0.9, Timestamp: now.Add(time.Second)},
		{Type: "noise", Confidence: 0.4, Timestamp: now.Add(2 * time.Second)},
		{Type: "noise", Confidence: 0.4, Timestamp: now.Add(3 * time.Second)},
	})
	if mixed.DominantType != "mixed" {
		t.Errorf("Expected mixed for an even split, got %q", mixed.DominantType)
	}
}
