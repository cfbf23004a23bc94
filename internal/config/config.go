package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port   string
	APIKey string // static key for the /api group; empty disables auth (dev mode)

	// Accumulator persistence (local SQLite file)
	StatePath string

	// Optional backing stores
	MongoURI string
	RedisURL string

	// Generative backend (OpenAI-compatible)
	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string
	LLMTemperature float64
	LLMTimeout     time.Duration

	// Knowledge retrieval endpoint
	KnowledgeURL     string
	KnowledgeAPIKey  string
	KnowledgeTimeout time.Duration

	// Memory store
	MemoryTimeout time.Duration

	// Cognition worker
	QueueSize       int
	MaxConcurrent   int
	ProcessTimeout  time.Duration
	ResultTTL       time.Duration
	ResultCacheSize int

	// Batch accumulator
	BatchSize        int
	MaxBatches       int
	TriggerCount     int
	CorrelationGrace time.Duration
	PendingMaxAge    time.Duration

	// Context synthesizer
	ContextCacheSize int
	ContextFreshness time.Duration
	MaxHintChars     int
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:      getEnv("PORT", "3001"),
		APIKey:    getEnv("API_KEY", ""),
		StatePath: getEnv("STATE_PATH", "cognition_state.db"),
		MongoURI:  getEnv("MONGODB_URI", ""),
		RedisURL:  getEnv("REDIS_URL", ""),

		LLMBaseURL:     getEnv("LLM_BASE_URL", ""),
		LLMAPIKey:      getEnv("LLM_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTemperature: getFloatEnv("LLM_TEMPERATURE", 0.6),
		LLMTimeout:     getDurationEnv("LLM_TIMEOUT", 10*time.Second),

		KnowledgeURL:     getEnv("KNOWLEDGE_URL", ""),
		KnowledgeAPIKey:  getEnv("KNOWLEDGE_API_KEY", ""),
		KnowledgeTimeout: getDurationEnv("KNOWLEDGE_TIMEOUT", 3*time.Second),

		MemoryTimeout: getDurationEnv("MEMORY_TIMEOUT", 3*time.Second),

		QueueSize:       getIntEnv("WORKER_QUEUE_SIZE", 100),
		MaxConcurrent:   getIntEnv("WORKER_MAX_CONCURRENT", 3),
		ProcessTimeout:  getDurationEnv("WORKER_PROCESS_TIMEOUT", 60*time.Second),
		ResultTTL:       getDurationEnv("RESULT_TTL", 10*time.Minute),
		ResultCacheSize: getIntEnv("RESULT_CACHE_SIZE", 50),

		BatchSize:        getIntEnv("BATCH_SIZE", 3),
		MaxBatches:       getIntEnv("MAX_BATCHES", 4),
		TriggerCount:     getIntEnv("TRIGGER_COUNT", 1),
		CorrelationGrace: getDurationEnv("CORRELATION_GRACE", 30*time.Second),
		PendingMaxAge:    getDurationEnv("PENDING_MAX_AGE", 5*time.Minute),

		ContextCacheSize: getIntEnv("CONTEXT_CACHE_SIZE", 3),
		ContextFreshness: getDurationEnv("CONTEXT_FRESHNESS", 60*time.Second),
		MaxHintChars:     getIntEnv("MAX_HINT_CHARS", 50),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
