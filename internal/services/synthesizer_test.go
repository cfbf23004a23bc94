package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"echomind/internal/models"
)

type stubMemory struct{ snippets []models.MemorySnippet }

func (s *stubMemory) Search(ctx context.Context, query, subjectKey string, limit int) []models.MemorySnippet {
	return s.snippets
}

type stubKnowledge struct{ snippets []models.KnowledgeSnippet }

func (s *stubKnowledge) Retrieve(ctx context.Context, query, subjectKey string, topK int) []models.KnowledgeSnippet {
	return s.snippets
}

type stubLLM struct {
	reply string
	err   error
	// captured for prompt assertions
	lastPrompt string
}

func (s *stubLLM) Complete(ctx context.Context, prompt string, maxOutputChars int) (string, error) {
	s.lastPrompt = prompt
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func talkBatch(sealedAt time.Time) *models.Batch {
	return &models.Batch{
		BatchID:  "batch_test_1",
		SealedAt: sealedAt,
		Analysis: models.BatchAnalysis{
			Situation:     "conversation going on, 2 clear speech segments",
			DominantType:  "talk",
			SpeechCount:   2,
			Speakers:      []string{"dana"},
			LocationGuess: "kitchen",
			Confidence:    0.85,
		},
	}
}

func TestSynthesizer_FullSynthesis(t *testing.T) {
	llm := &stubLLM{reply: "dana cooking in the kitchen, chatty mood"}
	synth := NewContextSynthesizer(ContextSynthesizerOptions{
		Memory:    &stubMemory{snippets: []models.MemorySnippet{{Text: "dana likes jazz", Score: 0.9}}},
		Knowledge: &stubKnowledge{snippets: []models.KnowledgeSnippet{{Text: "kitchen noise profile", Relevance: 0.7}}},
		LLM:       llm,
	})

	result := synth.ExtractAndGenerate([]*models.Batch{talkBatch(time.Now())}, "what should I make?")
	if result.BackgroundSummary != llm.reply {
		t.Fatalf("Expected generated summary, got %q", result.BackgroundSummary)
	}
	if result.Confidence != 0.6 {
		t.Errorf("Expected confidence 0.6 for generated context, got %.2f", result.Confidence)
	}
	if result.EmotionalTag != "engaged" {
		t.Errorf("Expected engaged tag for active speech, got %q", result.EmotionalTag)
	}
	if !strings.Contains(llm.lastPrompt, "dana likes jazz") {
		t.Error("Prompt should carry memory snippets")
	}
	if !strings.Contains(llm.lastPrompt, "what should I make?") {
		t.Error("Prompt should carry the current user turn")
	}
	if strings.Contains(llm.lastPrompt, "unavailable") {
		t.Error("Nothing was unavailable in the full path")
	}

	// The result is immediately readable on the reply path
	if got := synth.GetCurrentForCaller(); got != llm.reply {
		t.Errorf("Expected cached context on the reply path, got %q", got)
	}
}

func TestSynthesizer_FailedLLMFallsBackToTemplate(t *testing.T) {
	synth := NewContextSynthesizer(ContextSynthesizerOptions{
		LLM: &stubLLM{err: errors.New("model offline")},
	})

	result := synth.ExtractAndGenerate([]*models.Batch{talkBatch(time.Now())}, "")
	if !strings.HasPrefix(result.BackgroundSummary, "ENV_REF:talk") {
		t.Fatalf("Expected templated fallback hint, got %q", result.BackgroundSummary)
	}
	if result.Confidence != 0.4 {
		t.Errorf("Expected degraded confidence 0.4, got %.2f", result.Confidence)
	}
}

func TestSynthesizer_NoLLMStillProducesContext(t *testing.T) {
	synth := NewContextSynthesizer(ContextSynthesizerOptions{})

	result := synth.ExtractAndGenerate([]*models.Batch{talkBatch(time.Now())}, "")
	if result.BackgroundSummary == "" {
		t.Fatal("Expected a non-empty templated hint with no generative backend")
	}
	if len(result.BackgroundSummary) > 50 {
		t.Errorf("Fallback hint must respect the length cap, got %d chars", len(result.BackgroundSummary))
	}
}

func TestSynthesizer_NoBatchesLowestConfidence(t *testing.T) {
	synth := NewContextSynthesizer(ContextSynthesizerOptions{})

	result := synth.ExtractAndGenerate(nil, "")
	if result.Confidence != 0.1 {
		t.Errorf("Expected confidence 0.1 with no batches, got %.2f", result.Confidence)
	}
	if result.BackgroundSummary != "ENV_REF:unknown" {
		t.Errorf("Expected unknown environment hint, got %q", result.BackgroundSummary)
	}
}

func TestFallbackHint(t *testing.T) {
	batches := []*models.Batch{{
		Analysis: models.BatchAnalysis{
			DominantType:  "music",
			LocationGuess: "living room with a long descriptive name",
		},
	}}

	hint := FallbackHint(batches, 50)
	if !strings.HasPrefix(hint, "ENV_REF:music;SCENE:") {
		t.Fatalf("Unexpected hint shape: %q", hint)
	}
	scene := strings.TrimPrefix(hint, "ENV_REF:music;SCENE:")
	if len([]rune(scene)) > 12 {
		t.Errorf("Scene must be clamped to 12 chars, got %q", scene)
	}

	if got := FallbackHint(nil, 50); got != "ENV_REF:unknown" {
		t.Errorf("Expected unknown hint for no batches, got %q", got)
	}
}

func TestClampHint(t *testing.T) {
	if got := ClampHint("  lots   of \n whitespace  ", 50); got != "lots of whitespace" {
		t.Errorf("Expected whitespace compaction, got %q", got)
	}
	if got := ClampHint("abcdefghij", 5); got != "abcde" {
		t.Errorf("Expected truncation to 5, got %q", got)
	}
	// Rune-safe: multibyte text never gets split mid-character
	if got := ClampHint("こんにちは世界", 5); got != "こんにちは" {
		t.Errorf("Expected 5 runes, got %q", got)
	}
	if got := ClampHint("short", 0); got != "short" {
		t.Errorf("Limit 0 disables truncation, got %q", got)
	}
}

func TestInteractionHint(t *testing.T) {
	music := []*models.Batch{{Analysis: models.BatchAnalysis{MusicDetected: true}}}
	if got := interactionHint(music); !strings.Contains(got, "music") {
		t.Errorf("Expected music steer, got %q", got)
	}
	quiet := []*models.Batch{{Analysis: models.BatchAnalysis{DominantType: "quiet"}}}
	if got := interactionHint(quiet); got != "" {
		t.Errorf("Expected no steer for quiet batches, got %q", got)
	}
}
