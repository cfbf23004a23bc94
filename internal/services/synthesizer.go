package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"echomind/internal/models"
)

// Interfaces over the synthesis dependencies, sized to what the synthesizer
// needs so tests can swap in doubles.
type (
	// MemorySearcher finds long-term memories for a subject.
	MemorySearcher interface {
		Search(ctx context.Context, query, subjectKey string, limit int) []models.MemorySnippet
	}
	// KnowledgeRetriever fetches knowledge snippets for a query.
	KnowledgeRetriever interface {
		Retrieve(ctx context.Context, query, subjectKey string, topK int) []models.KnowledgeSnippet
	}
	// Completer generates a short completion for a prompt.
	Completer interface {
		Complete(ctx context.Context, prompt string, maxOutputChars int) (string, error)
	}
)

// envLabels maps batch dominant types onto the fixed hint vocabulary.
var envLabels = map[string]string{
	"quiet":        "quiet",
	"noisy":        "noisy",
	"music":        "music",
	"conversation": "talk",
	"speech":       "talk",
	"talk":         "talk",
	"crowded":      "crowded",
	"mixed":        "mixed",
}

// ContextSynthesizer turns accumulated batches plus memory and knowledge
// snippets into one short background-context hint and caches it. Every
// upstream call carries its own timeout; failures walk down a degradation
// ladder and never reach the caller.
type ContextSynthesizer struct {
	memory    MemorySearcher
	knowledge KnowledgeRetriever
	llm       Completer
	cache     *ContextCache
	bus       *ContextBus // optional cross-instance fan-out
	metrics   *Metrics

	memoryTimeout    time.Duration
	knowledgeTimeout time.Duration
	llmTimeout       time.Duration
	maxHintChars     int
}

// ContextSynthesizerOptions configures a ContextSynthesizer.
type ContextSynthesizerOptions struct {
	Memory           MemorySearcher
	Knowledge        KnowledgeRetriever
	LLM              Completer
	Cache            *ContextCache
	Bus              *ContextBus
	Metrics          *Metrics
	MemoryTimeout    time.Duration
	KnowledgeTimeout time.Duration
	LLMTimeout       time.Duration
	MaxHintChars     int
}

// NewContextSynthesizer creates a synthesizer.
func NewContextSynthesizer(opts ContextSynthesizerOptions) *ContextSynthesizer {
	if opts.MemoryTimeout <= 0 {
		opts.MemoryTimeout = 3 * time.Second
	}
	if opts.KnowledgeTimeout <= 0 {
		opts.KnowledgeTimeout = 3 * time.Second
	}
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = 10 * time.Second
	}
	if opts.MaxHintChars <= 0 {
		opts.MaxHintChars = 50
	}
	if opts.Cache == nil {
		opts.Cache = NewContextCache(DefaultContextCacheSize, DefaultContextFreshness, opts.Metrics)
	}
	return &ContextSynthesizer{
		memory:           opts.Memory,
		knowledge:        opts.Knowledge,
		llm:              opts.LLM,
		cache:            opts.Cache,
		bus:              opts.Bus,
		metrics:          opts.Metrics,
		memoryTimeout:    opts.MemoryTimeout,
		knowledgeTimeout: opts.KnowledgeTimeout,
		llmTimeout:       opts.LLMTimeout,
		maxHintChars:     opts.MaxHintChars,
	}
}

// Cache exposes the rotating context cache (the publisher read side).
func (s *ContextSynthesizer) Cache() *ContextCache {
	return s.cache
}

// GetCurrentForCaller is the reply-path read: the freshest non-expired
// background summary or the empty string. O(1), non-blocking.
func (s *ContextSynthesizer) GetCurrentForCaller() string {
	return s.cache.CurrentForCaller()
}

// Trigger adapts ExtractAndGenerate to the accumulator's fire-and-forget
// trigger signature.
func (s *ContextSynthesizer) Trigger(batches []*models.Batch) {
	s.ExtractAndGenerate(batches, "")
}

// ExtractAndGenerate runs one synthesis pass over the given batches. The
// degradation ladder, most to least preferred: full synthesis with memory and
// knowledge; synthesis from batches alone; a templated local summary with no
// generative call; the empty string. The step is chosen by which upstream
// calls completed within their timeouts. Never returns an error and never
// blocks past the configured timeouts.
func (s *ContextSynthesizer) ExtractAndGenerate(batches []*models.Batch, currentUserText string) *models.SynthesizedContext {
	start := time.Now()
	query := queryFromBatches(batches, currentUserText)
	subjectKey := mainSpeaker(batches)

	var (
		wg        sync.WaitGroup
		memTexts  []string
		knowTexts []string
	)
	if s.memory != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), s.memoryTimeout)
			defer cancel()
			for _, m := range s.memory.Search(ctx, query, subjectKey, 3) {
				memTexts = append(memTexts, m.Text)
			}
		}()
	}
	if s.knowledge != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), s.knowledgeTimeout)
			defer cancel()
			for _, k := range s.knowledge.Retrieve(ctx, query, subjectKey, 3) {
				knowTexts = append(knowTexts, k.Text)
			}
		}()
	}
	wg.Wait()

	level := "full"
	if len(memTexts) == 0 && len(knowTexts) == 0 {
		level = "partial"
	}

	result := &models.SynthesizedContext{
		EmotionalTag: inferEmotion(batches),
		CreatedAt:    time.Now(),
	}

	if s.llm != nil {
		prompt := s.buildPrompt(batches, memTexts, knowTexts, currentUserText)
		ctx, cancel := context.WithTimeout(context.Background(), s.llmTimeout)
		hint, err := s.llm.Complete(ctx, prompt, s.maxHintChars)
		cancel()
		if err == nil && hint != "" {
			result.BackgroundSummary = hint
			result.Confidence = 0.6
		} else {
			log.Printf("⚠️  [SYNTH] generative call failed, using templated fallback: %v", err)
			level = "fallback"
		}
	} else {
		level = "fallback"
	}

	if level == "fallback" {
		result.BackgroundSummary = FallbackHint(batches, s.maxHintChars)
		result.Confidence = 0.4
		if len(batches) == 0 {
			result.Confidence = 0.1
		}
	}
	result.InteractionHint = interactionHint(batches)

	s.cache.Push(result)
	if s.bus != nil {
		s.bus.PublishContext(result)
	}

	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordSynthesis(level, elapsed)
	}
	log.Printf("🎯 [SYNTH] context generated level=%s conf=%.2f t=%.2fs hint=%q",
		level, result.Confidence, elapsed.Seconds(), result.BackgroundSummary)
	return result
}

// buildPrompt describes the batches in human-readable form plus whatever
// memory and knowledge arrived in time. Raw feature vectors never enter the
// prompt.
func (s *ContextSynthesizer) buildPrompt(batches []*models.Batch, memTexts, knowTexts []string, currentUserText string) string {
	var b strings.Builder

	b.WriteString("Recent audio batches, oldest first:\n")
	for i, batch := range batches {
		fmt.Fprintf(&b, "batch %d (%s): %s", i+1, batch.SealedAt.Format("15:04:05"), batch.Analysis.Situation)
		if batch.Analysis.LocationGuess != "" {
			fmt.Fprintf(&b, "; likely location: %s", batch.Analysis.LocationGuess)
		}
		if len(batch.Analysis.Speakers) > 0 {
			fmt.Fprintf(&b, "; speakers: %s", strings.Join(batch.Analysis.Speakers, ", "))
		}
		for _, res := range batch.Correlated {
			if title, ok := res.Payload["title"].(string); ok {
				artist, _ := res.Payload["artist"].(string)
				fmt.Fprintf(&b, "; music: %s - %s", title, artist)
			}
		}
		b.WriteString("\n")
	}

	if mem := describeSnippets(memTexts, 3); mem != "" {
		b.WriteString("Relevant memories: " + mem + "\n")
	} else {
		b.WriteString("Relevant memories: unavailable\n")
	}
	if know := describeSnippets(knowTexts, 3); know != "" {
		b.WriteString("Relevant knowledge: " + know + "\n")
	} else {
		b.WriteString("Relevant knowledge: unavailable\n")
	}
	if currentUserText != "" {
		b.WriteString("Current user turn: " + currentUserText + "\n")
	}
	b.WriteString("Compress all of this into one background hint.")
	return b.String()
}

// FallbackHint builds the templated local summary used when the generative
// call is unavailable or fails: "ENV_REF:<label>;SCENE:<scene>".
func FallbackHint(batches []*models.Batch, limit int) string {
	label := "unknown"
	scene := ""
	for _, batch := range batches {
		if mapped, ok := envLabels[batch.Analysis.DominantType]; ok {
			label = mapped
		}
		if scene == "" {
			if batch.Analysis.LocationGuess != "" {
				scene = batch.Analysis.LocationGuess
			} else if batch.Analysis.Situation != "" {
				scene = batch.Analysis.Situation
			}
		}
		if label != "unknown" {
			break
		}
	}
	if scene != "" {
		scene = ClampHint(scene, 12)
		return ClampHint(fmt.Sprintf("ENV_REF:%s;SCENE:%s", label, scene), limit)
	}
	return ClampHint("ENV_REF:"+label, limit)
}

// queryFromBatches builds the memory/knowledge search query.
func queryFromBatches(batches []*models.Batch, currentUserText string) string {
	parts := make([]string, 0, len(batches)+1)
	if currentUserText != "" {
		parts = append(parts, currentUserText)
	}
	for _, batch := range batches {
		if batch.Analysis.Situation != "" {
			parts = append(parts, batch.Analysis.Situation)
		}
		if len(parts) >= 5 {
			break
		}
	}
	if len(parts) == 0 {
		return "ambient environment"
	}
	return strings.Join(parts, " ")
}

// mainSpeaker picks the first recognized speaker across batches.
func mainSpeaker(batches []*models.Batch) string {
	for _, batch := range batches {
		if len(batch.Analysis.Speakers) > 0 {
			return batch.Analysis.Speakers[0]
		}
	}
	return "unknown"
}

// inferEmotion derives a coarse emotional tag from batch fields.
func inferEmotion(batches []*models.Batch) string {
	for _, batch := range batches {
		switch {
		case batch.Analysis.MusicDetected:
			return "relaxed"
		case batch.Analysis.SpeechCount > 0:
			return "engaged"
		}
	}
	if len(batches) == 0 {
		return "neutral"
	}
	return "calm"
}

// interactionHint gives the reply path a one-line steer from batch fields.
func interactionHint(batches []*models.Batch) string {
	for _, batch := range batches {
		if batch.Analysis.MusicDetected {
			return "music is playing; a comment about it would land naturally"
		}
		if batch.Analysis.SpeechCount >= 2 {
			return "active conversation; keep replies short"
		}
	}
	return ""
}
