package models

import "time"

// SynthesizedContext is one short background-context hint produced by the
// context synthesizer. BackgroundSummary is what the reply path consumes.
type SynthesizedContext struct {
	BackgroundSummary string    `json:"background_summary"`
	InteractionHint   string    `json:"interaction_hint,omitempty"`
	EmotionalTag      string    `json:"emotional_tag,omitempty"`
	Confidence        float64   `json:"confidence"`
	CreatedAt         time.Time `json:"created_at"`
}

// MemorySnippet is one memory-store search hit.
type MemorySnippet struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// KnowledgeSnippet is one knowledge-store retrieval hit.
type KnowledgeSnippet struct {
	Text      string  `json:"text"`
	Relevance float64 `json:"relevance"`
}
