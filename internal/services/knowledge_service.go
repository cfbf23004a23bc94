package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"echomind/internal/models"
)

// KnowledgeService is the knowledge-retrieval store client. Retrieval is
// bounded by a short timeout and returns an empty slice on any failure.
// Results are cached briefly so repeated synthesis runs over the same scene
// don't hammer the retrieval endpoint.
type KnowledgeService struct {
	baseURL string
	apiKey  string
	client  *http.Client
	cache   *gocache.Cache
}

// NewKnowledgeService creates the retrieval client. An empty baseURL yields
// a client whose Retrieve always returns empty.
func NewKnowledgeService(baseURL, apiKey string, timeout time.Duration) *KnowledgeService {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &KnowledgeService{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		cache:   gocache.New(5*time.Minute, 10*time.Minute),
	}
}

// Retrieve returns up to topK knowledge snippets relevant to the query.
func (s *KnowledgeService) Retrieve(ctx context.Context, query, subjectKey string, topK int) []models.KnowledgeSnippet {
	if s.baseURL == "" || query == "" {
		return nil
	}
	if topK <= 0 {
		topK = 3
	}

	cacheKey := subjectKey + "|" + query
	if cached, found := s.cache.Get(cacheKey); found {
		return cached.([]models.KnowledgeSnippet)
	}

	reqBody, err := json.Marshal(map[string]interface{}{
		"query":       query,
		"subject_key": subjectKey,
		"top_k":       topK,
	})
	if err != nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/search", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("⚠️  [KNOWLEDGE] retrieval failed: %v", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("⚠️  [KNOWLEDGE] retrieval returned status %d", resp.StatusCode)
		return nil
	}

	var result struct {
		Results []struct {
			Text      string  `json:"text"`
			Relevance float64 `json:"relevance"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Printf("⚠️  [KNOWLEDGE] failed to decode retrieval response: %v", err)
		return nil
	}

	snippets := make([]models.KnowledgeSnippet, 0, len(result.Results))
	for _, r := range result.Results {
		snippets = append(snippets, models.KnowledgeSnippet{Text: r.Text, Relevance: r.Relevance})
	}
	s.cache.Set(cacheKey, snippets, gocache.DefaultExpiration)
	return snippets
}

// describeSnippets renders retrieval hits for a prompt, most relevant first.
func describeSnippets(texts []string, max int) string {
	if len(texts) == 0 {
		return ""
	}
	if max > 0 && len(texts) > max {
		texts = texts[:max]
	}
	parts := make([]string, 0, len(texts))
	for i, t := range texts {
		parts = append(parts, fmt.Sprintf("[%d] %s", i+1, t))
	}
	return strings.Join(parts, " | ")
}
