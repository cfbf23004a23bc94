package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Errors returned by the generative backend client
var (
	ErrLLMNotConfigured = errors.New("generative backend not configured")
	ErrLLMEmptyReply    = errors.New("generative backend returned no usable text")
)

// hintSystemPrompt keeps the backend on-format. The output is a background
// hint for the reply model, never a reply itself.
const hintSystemPrompt = `You are a background context generator for a conversational agent.
Output <= %d characters, single line.
Format: ENV_REF:<quiet|noisy|music|talk|crowded|mixed|unknown>;SCENE:<short guess>
Background only. No reply suggestions, no templates, no identity/policy/strategy.`

// LLMService is a thin OpenAI-compatible /chat/completions client used for
// context synthesis. Responses are untrusted text and get length/format
// validated before use.
type LLMService struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

// NewLLMService creates the generative backend client. An empty baseURL
// yields a client whose Complete always fails fast, which downstream code
// treats as one more degradation step.
func NewLLMService(baseURL, apiKey, model string, temperature float64, timeout time.Duration) *LLMService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LLMService{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		client:      &http.Client{Timeout: timeout},
	}
}

// Complete sends one prompt and returns the trimmed, whitespace-compacted
// completion clamped to maxOutputChars.
func (s *LLMService) Complete(ctx context.Context, prompt string, maxOutputChars int) (string, error) {
	if s.baseURL == "" {
		return "", ErrLLMNotConfigured
	}

	body := map[string]interface{}{
		"model": s.model,
		"messages": []map[string]string{
			{"role": "system", "content": fmt.Sprintf(hintSystemPrompt, maxOutputChars)},
			{"role": "user", "content": prompt},
		},
		"temperature": s.temperature,
		"max_tokens":  120,
	}
	reqBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		log.Printf("❌ [LLM] API error (status %d): %s", resp.StatusCode, string(respBody))
		return "", fmt.Errorf("completion API returned status %d", resp.StatusCode)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", ErrLLMEmptyReply
	}

	text := ClampHint(result.Choices[0].Message.Content, maxOutputChars)
	if text == "" {
		return "", ErrLLMEmptyReply
	}
	return text, nil
}

// ClampHint compacts whitespace and truncates to limit characters.
func ClampHint(text string, limit int) string {
	compact := strings.Join(strings.Fields(text), " ")
	if limit > 0 {
		if runes := []rune(compact); len(runes) > limit {
			compact = string(runes[:limit])
		}
	}
	return compact
}
