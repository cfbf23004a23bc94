package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"echomind/internal/models"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

func TestCognitionWorker_SubmitReturnsImmediately(t *testing.T) {
	release := make(chan struct{})
	worker := NewCognitionWorker(CognitionWorkerOptions{
		ProcessFn: func(ctx context.Context, userText, audioRef, subjectKey string) (*models.ProcessOutput, error) {
			<-release
			return &models.ProcessOutput{EnvironmentSummary: "done"}, nil
		},
	})
	worker.EnsureStarted()
	defer worker.Stop()
	defer close(release)

	start := time.Now()
	taskID, err := worker.Submit(models.TaskPayload{UserText: "hello", SubjectKey: "alice"}, 0)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if taskID == "" {
		t.Fatal("Expected a non-empty task id")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Submit should not block on processing, took %v", elapsed)
	}
}

func TestCognitionWorker_NotReadyFailsFast(t *testing.T) {
	worker := NewCognitionWorker(CognitionWorkerOptions{})

	_, err := worker.Submit(models.TaskPayload{SubjectKey: "alice"}, 0)
	if !errors.Is(err, ErrWorkerNotReady) {
		t.Fatalf("Expected ErrWorkerNotReady before start, got %v", err)
	}
}

func TestCognitionWorker_QueueFullFailsFast(t *testing.T) {
	// Mark the worker ready without a consumer so the bounded queue fills
	// deterministically.
	worker := NewCognitionWorker(CognitionWorkerOptions{QueueSize: 2})
	worker.stateMu.Lock()
	worker.running = true
	worker.ready = true
	worker.queue = make(chan *models.Task, 2)
	worker.stateMu.Unlock()

	for i := 0; i < 2; i++ {
		if _, err := worker.Submit(models.TaskPayload{SubjectKey: "alice"}, 0); err != nil {
			t.Fatalf("Submit %d should fit in the queue: %v", i, err)
		}
	}
	if _, err := worker.Submit(models.TaskPayload{SubjectKey: "alice"}, 0); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Expected ErrQueueFull on a full queue, got %v", err)
	}
}

func TestCognitionWorker_BoundedConcurrency(t *testing.T) {
	var cur, peak int64
	var mu sync.Mutex
	release := make(chan struct{})

	worker := NewCognitionWorker(CognitionWorkerOptions{
		MaxConcurrent: 3,
		ProcessFn: func(ctx context.Context, userText, audioRef, subjectKey string) (*models.ProcessOutput, error) {
			n := atomic.AddInt64(&cur, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			<-release
			atomic.AddInt64(&cur, -1)
			return &models.ProcessOutput{}, nil
		},
	})
	worker.EnsureStarted()

	for i := 0; i < 8; i++ {
		if _, err := worker.Submit(models.TaskPayload{SubjectKey: fmt.Sprintf("s%d", i)}, 0); err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
	}

	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt64(&cur) == 3 })
	// Give stragglers a chance to over-admit before we check the ceiling
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	got := peak
	mu.Unlock()
	if got != 3 {
		t.Errorf("Expected peak concurrency 3, got %d", got)
	}

	close(release)
	worker.Stop()
}

func TestCognitionWorker_FailureIsCachedNotSwallowed(t *testing.T) {
	worker := NewCognitionWorker(CognitionWorkerOptions{
		ProcessFn: func(ctx context.Context, userText, audioRef, subjectKey string) (*models.ProcessOutput, error) {
			return nil, errors.New("upstream exploded")
		},
	})
	worker.EnsureStarted()
	defer worker.Stop()

	taskID, err := worker.Submit(models.TaskPayload{SubjectKey: "alice"}, 0)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return worker.GetResult(taskID) != nil })

	result := worker.GetResult(taskID)
	if result.Success {
		t.Error("Expected Success=false for a failed task")
	}
	if result.SubjectKey != "alice" {
		t.Errorf("Expected subject key preserved on failure, got %q", result.SubjectKey)
	}
}

func TestCognitionWorker_LatestForSubjectIsCompletionOrder(t *testing.T) {
	firstRelease := make(chan struct{})
	worker := NewCognitionWorker(CognitionWorkerOptions{
		MaxConcurrent: 2,
		ProcessFn: func(ctx context.Context, userText, audioRef, subjectKey string) (*models.ProcessOutput, error) {
			if userText == "slow" {
				<-firstRelease
			}
			return &models.ProcessOutput{GeneratedText: userText}, nil
		},
	})
	worker.EnsureStarted()
	defer worker.Stop()

	slowID, err := worker.Submit(models.TaskPayload{UserText: "slow", SubjectKey: "alice"}, 0)
	if err != nil {
		t.Fatalf("Submit slow failed: %v", err)
	}
	fastID, err := worker.Submit(models.TaskPayload{UserText: "fast", SubjectKey: "alice"}, 0)
	if err != nil {
		t.Fatalf("Submit fast failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return worker.GetResult(fastID) != nil })
	close(firstRelease)
	waitFor(t, 2*time.Second, func() bool { return worker.GetResult(slowID) != nil })

	// The slow task was submitted first but finished last, so it wins
	latest := worker.GetLatestResultFor("alice")
	if latest == nil || latest.TaskID != slowID {
		t.Fatalf("Expected latest-by-completion %s, got %v", slowID, latest)
	}
}

func TestCognitionWorker_SinkErrorDoesNotAlterResult(t *testing.T) {
	var sinkCalls int64
	worker := NewCognitionWorker(CognitionWorkerOptions{
		ProcessFn: func(ctx context.Context, userText, audioRef, subjectKey string) (*models.ProcessOutput, error) {
			return &models.ProcessOutput{EnvironmentSummary: "ok"}, nil
		},
		Sink: func(task *models.Task, result *models.TaskResult) error {
			atomic.AddInt64(&sinkCalls, 1)
			return errors.New("sink unavailable")
		},
	})
	worker.EnsureStarted()
	defer worker.Stop()

	taskID, err := worker.Submit(models.TaskPayload{SubjectKey: "alice"}, 0)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return worker.GetResult(taskID) != nil })

	if atomic.LoadInt64(&sinkCalls) != 1 {
		t.Errorf("Expected sink to be called once, got %d", sinkCalls)
	}
	result := worker.GetResult(taskID)
	if !result.Success {
		t.Error("A failing sink must not flip a successful result")
	}
}

func TestCognitionWorker_StatusCounts(t *testing.T) {
	worker := NewCognitionWorker(CognitionWorkerOptions{})
	worker.EnsureStarted()
	defer worker.Stop()

	for i := 0; i < 3; i++ {
		if _, err := worker.Submit(models.TaskPayload{SubjectKey: "alice"}, 0); err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
	}

	waitFor(t, 3*time.Second, func() bool { return worker.Status().ProcessedTotal == 3 })

	status := worker.Status()
	if !status.Running {
		t.Error("Expected running worker")
	}
	if status.EnqueuedTotal != 3 {
		t.Errorf("Expected 3 enqueued, got %d", status.EnqueuedTotal)
	}
	if status.CachedResults == 0 {
		t.Error("Expected cached results after processing")
	}
}

func TestDefaultProcessFunc(t *testing.T) {
	out, err := DefaultProcessFunc(context.Background(), "hello there", "clip.wav", "alice")
	if err != nil {
		t.Fatalf("DefaultProcessFunc failed: %v", err)
	}
	if out.EnvironmentSummary == "" {
		t.Fatal("Expected a non-empty environment summary")
	}
}
