package services

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"echomind/internal/database"
	"echomind/internal/models"
)

// Accumulator defaults
const (
	DefaultBatchSize        = 3
	DefaultMaxBatches       = 4
	DefaultTriggerCount     = 1
	DefaultCorrelationGrace = 30 * time.Second
	DefaultPendingMaxAge    = 5 * time.Minute
)

// SynthesisTrigger receives copies of the accumulated batches when the
// trigger threshold is reached. It runs on its own goroutine; the accumulator
// never waits for it.
type SynthesisTrigger func(batches []*models.Batch)

// BatchAccumulator groups a continuous stream of analysis events into
// fixed-size batches, keeps a bounded ring of recent batches, and correlates
// late-arriving results into the batch whose time window they fall in. State
// is persisted after every mutating operation so a restart resumes from the
// last consistent snapshot.
type BatchAccumulator struct {
	batchSize    int
	maxBatches   int
	triggerCount int
	grace        time.Duration
	pendingMax   time.Duration

	mu        sync.Mutex
	current   []models.AnalysisEvent
	ring      []*models.Batch
	pending   []models.CorrelatedResult
	sealedSeq int

	synthesisRunning bool
	trigger          SynthesisTrigger

	store   *database.StateStore // nil runs in-memory only
	metrics *Metrics
}

// BatchAccumulatorOptions configures a BatchAccumulator. Zero values fall
// back to the package defaults.
type BatchAccumulatorOptions struct {
	BatchSize        int
	MaxBatches       int
	TriggerCount     int
	CorrelationGrace time.Duration
	PendingMaxAge    time.Duration
	Trigger          SynthesisTrigger
	Store            *database.StateStore
	Metrics          *Metrics
}

// accumulatorState is the persisted snapshot shape.
type accumulatorState struct {
	Current   []models.AnalysisEvent    `json:"current"`
	Ring      []*models.Batch           `json:"ring"`
	Pending   []models.CorrelatedResult `json:"pending"`
	SealedSeq int                       `json:"sealed_seq"`
	SavedAt   time.Time                 `json:"saved_at"`
}

// NewBatchAccumulator creates an accumulator and restores any persisted state.
func NewBatchAccumulator(opts BatchAccumulatorOptions) *BatchAccumulator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxBatches <= 0 {
		opts.MaxBatches = DefaultMaxBatches
	}
	if opts.TriggerCount <= 0 {
		opts.TriggerCount = DefaultTriggerCount
	}
	if opts.CorrelationGrace <= 0 {
		opts.CorrelationGrace = DefaultCorrelationGrace
	}
	if opts.PendingMaxAge <= 0 {
		opts.PendingMaxAge = DefaultPendingMaxAge
	}

	a := &BatchAccumulator{
		batchSize:    opts.BatchSize,
		maxBatches:   opts.MaxBatches,
		triggerCount: opts.TriggerCount,
		grace:        opts.CorrelationGrace,
		pendingMax:   opts.PendingMaxAge,
		trigger:      opts.Trigger,
		store:        opts.Store,
		metrics:      opts.Metrics,
	}
	a.restore()
	log.Printf("📦 [ACCUM] accumulator ready (batch=%d, ring=%d, trigger=%d)", a.batchSize, a.maxBatches, a.triggerCount)
	return a
}

// SetTrigger wires the synthesis trigger. Call before events start flowing.
func (a *BatchAccumulator) SetTrigger(t SynthesisTrigger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trigger = t
}

// AddEvent appends an event to the in-progress batch and returns the sealed
// batch id when this event completed a batch, else "". Sealing may trigger
// synthesis; triggering is fire-and-forget, this call never blocks on it.
func (a *BatchAccumulator) AddEvent(event models.AnalysisEvent) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	a.current = append(a.current, event)
	if a.metrics != nil {
		a.metrics.EventsIngested.Inc()
	}

	var sealedID string
	if len(a.current) >= a.batchSize {
		sealedID = a.sealBatchLocked()
	}

	a.persistLocked()
	return sealedID
}

// AddCorrelatedResult queues a late asynchronous result for timestamp-window
// correlation during a future batch seal. Unmatched results expire after a
// bounded age.
func (a *BatchAccumulator) AddCorrelatedResult(result models.CorrelatedResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if result.ReceivedAt.IsZero() {
		result.ReceivedAt = time.Now()
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = result.ReceivedAt
	}
	a.pending = append(a.pending, result)
	a.prunePendingLocked()
	a.persistLocked()
	log.Printf("🎵 [ACCUM] correlated result queued (pending=%d)", len(a.pending))
}

// Status returns the accumulator's observability snapshot.
func (a *BatchAccumulator) Status() models.AccumulatorStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return models.AccumulatorStatus{
		PendingEvents:     len(a.current),
		BatchSize:         a.batchSize,
		RingSize:          len(a.ring),
		MaxBatches:        a.maxBatches,
		PendingCorrelated: len(a.pending),
		SynthesisRunning:  a.synthesisRunning,
	}
}

// PrunePending drops pending correlated results past their max age and
// returns how many were removed.
func (a *BatchAccumulator) PrunePending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	removed := a.prunePendingLocked()
	if removed > 0 {
		a.persistLocked()
	}
	return removed
}

// sealBatchLocked turns the in-progress events into a Batch, attaches pending
// correlated results inside the batch window, pushes the batch onto the ring
// and fires the synthesis trigger when the threshold is met.
func (a *BatchAccumulator) sealBatchLocked() string {
	a.sealedSeq++
	batch := &models.Batch{
		BatchID:   fmt.Sprintf("batch_%d_%d", time.Now().Unix(), a.sealedSeq),
		Analysis:  summarizeEvents(a.current),
		RawEvents: a.current,
		SealedAt:  time.Now(),
	}
	a.current = nil

	// Attach pending correlated results whose timestamp falls within
	// [batch start, batch end + grace]. Unmatched ones stay pending.
	start, end := batch.EventWindow()
	end = end.Add(a.grace)
	remaining := a.pending[:0]
	for _, res := range a.pending {
		if !res.Timestamp.Before(start) && !res.Timestamp.After(end) {
			batch.Correlated = append(batch.Correlated, res)
			if a.metrics != nil {
				a.metrics.CorrelatedMatched.Inc()
			}
		} else {
			remaining = append(remaining, res)
		}
	}
	a.pending = remaining

	a.ring = append(a.ring, batch)
	if len(a.ring) > a.maxBatches {
		dropped := a.ring[0]
		a.ring = a.ring[1:]
		log.Printf("🗑️  [ACCUM] dropped oldest batch %s (ring full)", dropped.BatchID)
	}

	if a.metrics != nil {
		a.metrics.BatchesSealed.Inc()
	}
	log.Printf("📦 [ACCUM] batch sealed %s (events=%d, correlated=%d, ring=%d/%d)",
		batch.BatchID, len(batch.RawEvents), len(batch.Correlated), len(a.ring), a.maxBatches)

	if len(a.ring) >= a.triggerCount {
		a.fireTriggerLocked()
	}
	return batch.BatchID
}

// fireTriggerLocked starts one synthesis run over copies of the ring. A run
// already in flight coalesces the trigger; no overlapping synthesis.
func (a *BatchAccumulator) fireTriggerLocked() {
	if a.trigger == nil {
		return
	}
	if a.synthesisRunning {
		log.Printf("⏳ [ACCUM] synthesis already running, trigger coalesced")
		return
	}
	a.synthesisRunning = true

	batches := make([]*models.Batch, len(a.ring))
	copy(batches, a.ring)
	for _, b := range batches {
		b.Processed = true
	}

	go func() {
		defer func() {
			a.mu.Lock()
			a.synthesisRunning = false
			a.mu.Unlock()
		}()
		a.trigger(batches)
	}()
}

func (a *BatchAccumulator) prunePendingLocked() int {
	now := time.Now()
	remaining := a.pending[:0]
	removed := 0
	for _, res := range a.pending {
		if now.Sub(res.ReceivedAt) > a.pendingMax {
			removed++
			continue
		}
		remaining = append(remaining, res)
	}
	a.pending = remaining
	return removed
}

// persistLocked serializes the full state to the local store. Persistence
// failures are logged and the accumulator keeps operating in memory.
func (a *BatchAccumulator) persistLocked() {
	if a.store == nil {
		return
	}
	state := accumulatorState{
		Current:   a.current,
		Ring:      a.ring,
		Pending:   a.pending,
		SealedSeq: a.sealedSeq,
		SavedAt:   time.Now(),
	}
	payload, err := json.Marshal(state)
	if err != nil {
		log.Printf("⚠️  [ACCUM] failed to serialize state: %v", err)
		return
	}
	if err := a.store.Save(payload); err != nil {
		log.Printf("⚠️  [ACCUM] failed to persist state: %v", err)
	}
}

func (a *BatchAccumulator) restore() {
	if a.store == nil {
		return
	}
	payload, err := a.store.Load()
	if err != nil {
		log.Printf("⚠️  [ACCUM] failed to load persisted state: %v", err)
		return
	}
	if payload == nil {
		return
	}
	var state accumulatorState
	if err := json.Unmarshal(payload, &state); err != nil {
		log.Printf("⚠️  [ACCUM] failed to decode persisted state: %v", err)
		return
	}
	a.current = state.Current
	a.ring = state.Ring
	a.pending = state.Pending
	a.sealedSeq = state.SealedSeq
	log.Printf("📂 [ACCUM] restored state (events=%d, batches=%d, pending=%d)",
		len(a.current), len(a.ring), len(a.pending))
}

// summarizeEvents builds the local per-batch analysis from raw events. This
// is deliberately cheap and self-contained; the generative step downstream
// works from these fields, never from raw feature bags.
func summarizeEvents(events []models.AnalysisEvent) models.BatchAnalysis {
	analysis := models.BatchAnalysis{DominantType: "quiet"}
	if len(events) == 0 {
		return analysis
	}

	counts := make(map[string]int)
	var confSum float64
	seen := make(map[string]bool)
	for _, ev := range events {
		counts[ev.Type]++
		confSum += ev.Confidence
		if ev.Type == "speech" && ev.Confidence > 0.8 {
			analysis.SpeechCount++
		}
		if ev.Type == "music" && ev.Confidence > 0.8 {
			analysis.MusicDetected = true
		}
		if speaker, ok := ev.Features["speaker"].(string); ok && speaker != "" && !seen[speaker] {
			seen[speaker] = true
			analysis.Speakers = append(analysis.Speakers, speaker)
		}
		if loc, ok := ev.Features["location"].(string); ok && loc != "" {
			analysis.LocationGuess = loc
		}
	}
	analysis.Confidence = confSum / float64(len(events))

	dominant, max, distinct := "", 0, 0
	for typ, n := range counts {
		distinct++
		if n > max {
			dominant, max = typ, n
		}
	}
	switch {
	case distinct > 1 && max*2 <= len(events):
		analysis.DominantType = "mixed"
	case dominant == "speech":
		analysis.DominantType = "talk"
	case dominant != "":
		analysis.DominantType = dominant
	}

	switch analysis.DominantType {
	case "talk":
		analysis.Situation = fmt.Sprintf("conversation going on, %d clear speech segments", analysis.SpeechCount)
	case "music":
		analysis.Situation = "music playing in the environment"
	case "mixed":
		analysis.Situation = "mixed sounds, people and background noise"
	default:
		analysis.Situation = "mostly quiet surroundings"
	}
	return analysis
}
