package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"echomind/internal/models"
)

// Worker defaults and limits
const (
	DefaultQueueSize      = 100
	DefaultMaxConcurrent  = 3
	DefaultProcessTimeout = 60 * time.Second
	ReadinessWindow       = 1 * time.Second
	dequeuePollInterval   = 1 * time.Second
)

// Error types for worker operations
var (
	ErrWorkerNotReady = errors.New("cognition worker not ready")
	ErrQueueFull      = errors.New("cognition queue full")
)

// ProcessFunc runs one cognition task. Implementations are expected to honor
// the context deadline; the worker never force-kills a running call.
type ProcessFunc func(ctx context.Context, userText, audioRef, subjectKey string) (*models.ProcessOutput, error)

// ResultSink receives every completed result, best-effort. A sink error is
// logged by the worker and never alters the task's success flag.
type ResultSink func(task *models.Task, result *models.TaskResult) error

// CognitionWorker executes submitted tasks on a dedicated goroutine with
// bounded concurrency, without ever blocking the submitting caller. Results
// land in a ResultCache keyed by task id and subject key.
type CognitionWorker struct {
	queueSize      int
	maxConcurrent  int
	processTimeout time.Duration

	fnMu      sync.Mutex
	processFn ProcessFunc
	sink      ResultSink

	stateMu sync.Mutex
	running bool
	ready   bool
	queue   chan *models.Task
	done    chan struct{}
	wg      sync.WaitGroup

	cache   *ResultCache
	metrics *Metrics

	countMu        sync.Mutex
	taskSeq        int64
	enqueuedTotal  int
	processedTotal int
}

// CognitionWorkerOptions configures a CognitionWorker. Zero values fall back
// to the package defaults.
type CognitionWorkerOptions struct {
	QueueSize      int
	MaxConcurrent  int
	ProcessTimeout time.Duration
	ResultTTL      time.Duration
	ResultCacheMax int
	ProcessFn      ProcessFunc
	Sink           ResultSink
	Metrics        *Metrics
}

// NewCognitionWorker creates a worker. Call EnsureStarted before submitting.
func NewCognitionWorker(opts CognitionWorkerOptions) *CognitionWorker {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = DefaultProcessTimeout
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = 10 * time.Minute
	}
	if opts.ResultCacheMax <= 0 {
		opts.ResultCacheMax = 50
	}
	return &CognitionWorker{
		queueSize:      opts.QueueSize,
		maxConcurrent:  opts.MaxConcurrent,
		processTimeout: opts.ProcessTimeout,
		processFn:      opts.ProcessFn,
		sink:           opts.Sink,
		cache:          NewResultCache(opts.ResultCacheMax, opts.ResultTTL),
		metrics:        opts.Metrics,
	}
}

// EnsureStarted starts the worker goroutine and its bounded queue exactly
// once; subsequent calls are no-ops while the worker is alive. If start-up
// does not complete within the readiness window the worker stays in a
// "not ready" state and submissions fail fast instead of hanging.
func (w *CognitionWorker) EnsureStarted() {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	if w.running {
		return
	}

	w.running = true
	w.queue = make(chan *models.Task, w.queueSize)
	w.done = make(chan struct{})
	started := make(chan struct{})

	go w.runLoop(started)

	select {
	case <-started:
		w.ready = true
		log.Printf("🧠 [BRAIN] worker started (queue=%d, concurrency=%d)", w.queueSize, w.maxConcurrent)
	case <-time.After(ReadinessWindow):
		w.ready = false
		log.Printf("⚠️  [BRAIN] worker start-up exceeded readiness window; submissions will fail fast")
	}
}

// Stop asks the worker loop to stop accepting new iterations and waits for
// in-flight tasks to run to completion. Cooperative, never forceful.
func (w *CognitionWorker) Stop() {
	w.stateMu.Lock()
	if !w.running {
		w.stateMu.Unlock()
		return
	}
	w.running = false
	w.ready = false
	close(w.done)
	w.stateMu.Unlock()

	log.Printf("🧠 [BRAIN] worker stopping, draining in-flight tasks")
	w.wg.Wait()
	log.Printf("🧠 [BRAIN] worker stopped")
}

// AttachMetrics wires the Prometheus metrics sink. Call before EnsureStarted.
func (w *CognitionWorker) AttachMetrics(m *Metrics) {
	w.metrics = m
}

// SetProcessFn swaps the processing function at runtime.
func (w *CognitionWorker) SetProcessFn(fn ProcessFunc) {
	w.fnMu.Lock()
	defer w.fnMu.Unlock()
	w.processFn = fn
}

// SetResultSink swaps the result sink at runtime.
func (w *CognitionWorker) SetResultSink(sink ResultSink) {
	w.fnMu.Lock()
	defer w.fnMu.Unlock()
	w.sink = sink
}

// Submit enqueues a task without blocking the caller and returns the
// generated task id. When the queue is full or the worker is not ready the
// call fails fast with a distinct error.
func (w *CognitionWorker) Submit(payload models.TaskPayload, priority int) (string, error) {
	w.stateMu.Lock()
	ready := w.running && w.ready
	queue := w.queue
	w.stateMu.Unlock()

	if !ready || queue == nil {
		if w.metrics != nil {
			w.metrics.RecordEnqueueFailure("not_ready")
		}
		log.Printf("❌ [BRAIN] enqueue_failed reason=not_ready subject=%s", payload.SubjectKey)
		return "", ErrWorkerNotReady
	}

	w.countMu.Lock()
	w.taskSeq++
	seq := w.taskSeq
	w.countMu.Unlock()

	task := &models.Task{
		TaskID:      fmt.Sprintf("task_%d_%d", time.Now().UnixMilli(), seq),
		Payload:     payload,
		SubmittedAt: time.Now(),
		Priority:    priority,
	}

	select {
	case queue <- task:
	default:
		if w.metrics != nil {
			w.metrics.RecordEnqueueFailure("queue_full")
		}
		log.Printf("❌ [BRAIN] enqueue_failed reason=queue_full task=%s", task.TaskID)
		return "", ErrQueueFull
	}

	w.countMu.Lock()
	w.enqueuedTotal++
	w.countMu.Unlock()
	if w.metrics != nil {
		w.metrics.RecordTaskEnqueued()
	}
	log.Printf("🧠 [BRAIN] task_enqueued task=%s subject=%s", task.TaskID, payload.SubjectKey)
	return task.TaskID, nil
}

// GetResult returns a cached result by task id, or nil after its TTL.
func (w *CognitionWorker) GetResult(taskID string) *models.TaskResult {
	return w.cache.Get(taskID)
}

// GetLatestResultFor returns the freshest result for a subject key, or nil.
// "Latest" is judged by completion time, not submission order.
func (w *CognitionWorker) GetLatestResultFor(subjectKey string) *models.TaskResult {
	return w.cache.LatestFor(subjectKey)
}

// Cache exposes the result cache for janitorial jobs.
func (w *CognitionWorker) Cache() *ResultCache {
	return w.cache
}

// Status returns a cheap lock-protected snapshot for observability.
func (w *CognitionWorker) Status() models.WorkerStatus {
	w.stateMu.Lock()
	running := w.running
	depth := 0
	if w.queue != nil {
		depth = len(w.queue)
	}
	w.stateMu.Unlock()

	w.countMu.Lock()
	enq, proc := w.enqueuedTotal, w.processedTotal
	w.countMu.Unlock()

	results, subjects := w.cache.Counts()
	return models.WorkerStatus{
		Running:        running,
		QueueDepth:     depth,
		EnqueuedTotal:  enq,
		ProcessedTotal: proc,
		CachedResults:  results,
		CachedSubjects: subjects,
		MaxConcurrency: w.maxConcurrent,
	}
}

// runLoop pulls one task at a time and hands it to a concurrency-limited
// execution slot. The poll timeout keeps the loop responsive to shutdown
// even when the queue stays empty.
func (w *CognitionWorker) runLoop(started chan<- struct{}) {
	sem := make(chan struct{}, w.maxConcurrent)
	close(started)

	for {
		select {
		case <-w.done:
			return
		case task := <-w.queue:
			w.wg.Add(1)
			go func(t *models.Task) {
				defer w.wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				w.processTask(t)
			}(task)
		case <-time.After(dequeuePollInterval):
		}
	}
}

func (w *CognitionWorker) processTask(task *models.Task) {
	start := time.Now()

	w.fnMu.Lock()
	fn := w.processFn
	sink := w.sink
	w.fnMu.Unlock()
	if fn == nil {
		fn = DefaultProcessFunc
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.processTimeout)
	defer cancel()

	var result *models.TaskResult
	out, err := fn(ctx, task.Payload.UserText, task.Payload.AudioRef, task.Payload.SubjectKey)
	elapsed := time.Since(start)

	if err != nil || out == nil {
		result = &models.TaskResult{
			TaskID:         task.TaskID,
			SubjectKey:     task.Payload.SubjectKey,
			Success:        false,
			ProcessingTime: elapsed,
			CreatedAt:      time.Now(),
		}
		log.Printf("❌ [BRAIN] task_done task=%s subject=%s t=%.2fs ok=0 err=%v", task.TaskID, task.Payload.SubjectKey, elapsed.Seconds(), err)
	} else {
		result = &models.TaskResult{
			TaskID:             task.TaskID,
			SubjectKey:         task.Payload.SubjectKey,
			Success:            true,
			EnvironmentSummary: out.EnvironmentSummary,
			MemoryContext:      out.MemoryContext,
			GeneratedText:      out.GeneratedText,
			ProcessingTime:     elapsed,
			CreatedAt:          time.Now(),
		}
		log.Printf("🧠 [BRAIN] task_done task=%s subject=%s t=%.2fs ok=1", task.TaskID, task.Payload.SubjectKey, elapsed.Seconds())
	}

	if sink != nil {
		if sinkErr := sink(task, result); sinkErr != nil {
			log.Printf("⚠️  [BRAIN] result_sink_failed task=%s err=%v", task.TaskID, sinkErr)
		}
	}

	w.cache.Put(result)

	w.countMu.Lock()
	w.processedTotal++
	w.countMu.Unlock()
	if w.metrics != nil {
		w.metrics.RecordTaskProcessed(result.Success, elapsed)
	}
}

// DefaultProcessFunc is the module-level fallback used when no processing
// function has been configured. It builds a minimal environment summary from
// the payload alone, with no network calls.
func DefaultProcessFunc(_ context.Context, userText, audioRef, subjectKey string) (*models.ProcessOutput, error) {
	var b strings.Builder
	b.WriteString("subject=")
	b.WriteString(subjectKey)
	if audioRef != "" {
		b.WriteString(" audio=present")
	}
	if userText != "" {
		b.WriteString(" said=")
		if len(userText) > 80 {
			userText = userText[:80]
		}
		b.WriteString(userText)
	}
	return &models.ProcessOutput{EnvironmentSummary: b.String()}, nil
}
