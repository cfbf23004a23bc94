package models

import "time"

// TaskPayload carries everything the worker needs to process one cognition task.
// UserText, AudioRef and SubjectKey are the required subset; Extra is an open
// extension bag for upstream callers that want to pass listener-specific fields.
type TaskPayload struct {
	UserText   string            `json:"user_text"`
	AudioRef   string            `json:"audio_ref"`
	SubjectKey string            `json:"subject_key"` // namespaced identity: "{persona}::{canonical_user_id}"
	Extra      map[string]string `json:"extra,omitempty"`
}

// Task is an immutable unit of work submitted to the cognition worker.
type Task struct {
	TaskID      string      `json:"task_id"`
	Payload     TaskPayload `json:"payload"`
	SubmittedAt time.Time   `json:"submitted_at"`
	Priority    int         `json:"priority"`
}

// ProcessOutput is what an injected processing function returns for one task.
type ProcessOutput struct {
	EnvironmentSummary string `json:"environment_summary"`
	MemoryContext      string `json:"memory_context"`
	GeneratedText      string `json:"generated_text"`
}

// TaskResult is the cached outcome of a task. Created exactly once by the
// worker and read-only afterwards. A failed task still produces a result with
// Success=false and empty fields, so callers see an explicit failure.
type TaskResult struct {
	TaskID             string        `json:"task_id"`
	SubjectKey         string        `json:"subject_key"`
	Success            bool          `json:"success"`
	EnvironmentSummary string        `json:"environment_summary"`
	MemoryContext      string        `json:"memory_context"`
	GeneratedText      string        `json:"generated_text"`
	ProcessingTime     time.Duration `json:"processing_time"`
	CreatedAt          time.Time     `json:"created_at"`
}

// WorkerStatus is a cheap observability snapshot of the cognition worker.
type WorkerStatus struct {
	Running        bool `json:"running"`
	QueueDepth     int  `json:"queue_depth"`
	EnqueuedTotal  int  `json:"enqueued_total"`
	ProcessedTotal int  `json:"processed_total"`
	CachedResults  int  `json:"cached_results"`
	CachedSubjects int  `json:"cached_subjects"`
	MaxConcurrency int  `json:"max_concurrency"`
}
