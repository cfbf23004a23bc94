package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the cognition pipeline
type Metrics struct {
	// Worker metrics
	TasksEnqueued   prometheus.Counter
	TasksProcessed  *prometheus.CounterVec
	EnqueueFailures *prometheus.CounterVec
	TaskLatency     prometheus.Histogram

	// Accumulator metrics
	EventsIngested    prometheus.Counter
	BatchesSealed     prometheus.Counter
	CorrelatedMatched prometheus.Counter

	// Synthesizer metrics
	SynthesisRuns    *prometheus.CounterVec
	SynthesisLatency prometheus.Histogram
	ContextServed    *prometheus.CounterVec
}

// NewMetrics registers and returns the pipeline metrics. Construct exactly
// once at process start and inject everywhere.
func NewMetrics(worker *CognitionWorker) *Metrics {
	m := &Metrics{
		TasksEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echomind_tasks_enqueued_total",
			Help: "Total number of cognition tasks enqueued",
		}),

		TasksProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "echomind_tasks_processed_total",
			Help: "Total number of cognition tasks processed by outcome",
		}, []string{"outcome"}), // "ok" or "failed"

		EnqueueFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "echomind_enqueue_failures_total",
			Help: "Total number of rejected submissions by reason",
		}, []string{"reason"}), // "queue_full" or "not_ready"

		TaskLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "echomind_task_duration_seconds",
			Help:    "Cognition task processing latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}, // process fn is timeout-bounded at 60s
		}),

		EventsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echomind_analysis_events_total",
			Help: "Total number of analysis events accepted by the accumulator",
		}),

		BatchesSealed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echomind_batches_sealed_total",
			Help: "Total number of sealed accumulation batches",
		}),

		CorrelatedMatched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "echomind_correlated_results_matched_total",
			Help: "Total number of late results attached to a batch by timestamp window",
		}),

		SynthesisRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "echomind_synthesis_runs_total",
			Help: "Total number of context synthesis runs by degradation level",
		}, []string{"level"}), // "full", "partial", "fallback"

		SynthesisLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "echomind_synthesis_duration_seconds",
			Help:    "Context synthesis latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 15},
		}),

		ContextServed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "echomind_context_served_total",
			Help: "Total number of reply-path context reads by outcome",
		}, []string{"outcome"}), // "fresh" or "empty"
	}

	// Queue depth tracked live from the worker snapshot
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "echomind_queue_depth",
			Help: "Current depth of the cognition task queue",
		},
		func() float64 {
			if worker != nil {
				return float64(worker.Status().QueueDepth)
			}
			return 0
		},
	))

	return m
}

// RecordTaskEnqueued records one accepted submission
func (m *Metrics) RecordTaskEnqueued() {
	m.TasksEnqueued.Inc()
}

// RecordEnqueueFailure records one rejected submission
func (m *Metrics) RecordEnqueueFailure(reason string) {
	m.EnqueueFailures.WithLabelValues(reason).Inc()
}

// RecordTaskProcessed records one completed task
func (m *Metrics) RecordTaskProcessed(ok bool, elapsed time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.TasksProcessed.WithLabelValues(outcome).Inc()
	m.TaskLatency.Observe(elapsed.Seconds())
}

// RecordSynthesis records one synthesis run at the given degradation level
func (m *Metrics) RecordSynthesis(level string, elapsed time.Duration) {
	m.SynthesisRuns.WithLabelValues(level).Inc()
	m.SynthesisLatency.Observe(elapsed.Seconds())
}

// RecordContextServed records one reply-path read
func (m *Metrics) RecordContextServed(fresh bool) {
	outcome := "fresh"
	if !fresh {
		outcome = "empty"
	}
	m.ContextServed.WithLabelValues(outcome).Inc()
}
