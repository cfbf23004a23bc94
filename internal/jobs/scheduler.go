package jobs

import (
	"context"
	"log"
	"sync"
	"time"
)

// Job is a periodic maintenance task run by the scheduler.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// JobScheduler runs registered jobs on their own tickers until stopped.
type JobScheduler struct {
	jobs    []Job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewJobScheduler creates a new job scheduler
func NewJobScheduler() *JobScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &JobScheduler{ctx: ctx, cancel: cancel}
}

// Register adds a job to the scheduler
func (s *JobScheduler) Register(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	log.Printf("✅ [SCHEDULER] Registered job: %s (every %v)", job.Name(), job.Interval())
}

// Start begins running all registered jobs
func (s *JobScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	log.Printf("🚀 [SCHEDULER] Starting job scheduler with %d jobs", len(s.jobs))

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.runJob(job)
	}
}

func (s *JobScheduler) runJob(job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := job.Run(s.ctx); err != nil {
				log.Printf("❌ [SCHEDULER] Job '%s' failed: %v", job.Name(), err)
			} else {
				log.Printf("✅ [SCHEDULER] Job '%s' completed in %v", job.Name(), time.Since(start))
			}
		}
	}
}

// Stop cancels all jobs and waits for them to finish
func (s *JobScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	log.Printf("🛑 [SCHEDULER] Job scheduler stopped")
}
