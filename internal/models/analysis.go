package models

import "time"

// AnalysisEvent is one short analysis outcome pushed by an upstream listener
// (speech/music/ambient classifier output for a few seconds of audio).
// Events are consumed exactly once into a batch and not retained afterwards.
type AnalysisEvent struct {
	Type       string                 `json:"type"`       // "speech", "music", "ambient", ...
	Confidence float64                `json:"confidence"` // 0..1
	Features   map[string]interface{} `json:"features,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// CorrelatedResult is a late-arriving asynchronous outcome (e.g. a music
// fingerprint match that took longer than the audio window itself). It is
// matched to a batch by timestamp window, not by call sequencing.
type CorrelatedResult struct {
	Payload    map[string]interface{} `json:"payload"`
	Timestamp  time.Time              `json:"timestamp"`   // when the underlying audio was heard
	ReceivedAt time.Time              `json:"received_at"` // when the result reached us
}

// BatchAnalysis is the synthesized per-batch view of its raw events, built
// locally when the batch is sealed. Downstream prompts use these fields, never
// the raw feature bags.
type BatchAnalysis struct {
	Situation     string   `json:"situation"`
	LocationGuess string   `json:"location_guess"`
	DominantType  string   `json:"dominant_type"` // "quiet", "music", "talk", "mixed", ...
	SpeechCount   int      `json:"speech_count"`
	MusicDetected bool     `json:"music_detected"`
	Speakers      []string `json:"speakers,omitempty"`
	Confidence    float64  `json:"confidence"`
}

// Batch is a sealed fixed-size group of analysis events.
type Batch struct {
	BatchID    string             `json:"batch_id"`
	Analysis   BatchAnalysis      `json:"analysis"`
	Correlated []CorrelatedResult `json:"correlated,omitempty"`
	RawEvents  []AnalysisEvent    `json:"raw_events"`
	SealedAt   time.Time          `json:"sealed_at"`
	Processed  bool               `json:"processed"`
}

// EventWindow returns the [first event, last event] timestamp span of the
// batch. Correlated results attach when they fall in this window plus grace.
func (b *Batch) EventWindow() (start, end time.Time) {
	if len(b.RawEvents) == 0 {
		return b.SealedAt, b.SealedAt
	}
	start, end = b.RawEvents[0].Timestamp, b.RawEvents[0].Timestamp
	for _, ev := range b.RawEvents[1:] {
		if ev.Timestamp.Before(start) {
			start = ev.Timestamp
		}
		if ev.Timestamp.After(end) {
			end = ev.Timestamp
		}
	}
	return start, end
}

// AccumulatorStatus is an observability snapshot of the batch accumulator.
type AccumulatorStatus struct {
	PendingEvents     int  `json:"pending_events"`
	BatchSize         int  `json:"batch_size"`
	RingSize          int  `json:"ring_size"`
	MaxBatches        int  `json:"max_batches"`
	PendingCorrelated int  `json:"pending_correlated"`
	SynthesisRunning  bool `json:"synthesis_running"`
}
