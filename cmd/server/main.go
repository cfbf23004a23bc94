package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"echomind/internal/config"
	"echomind/internal/database"
	"echomind/internal/handlers"
	"echomind/internal/jobs"
	"echomind/internal/logging"
	"echomind/internal/middleware"
	"echomind/internal/services"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting EchoMind Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s)", cfg.Port)

	// Accumulator state survives restarts in a local SQLite file
	stateStore, err := database.NewStateStore(cfg.StatePath)
	if err != nil {
		log.Fatalf("❌ Failed to open state store: %v", err)
	}
	defer stateStore.Close()

	// MongoDB is optional - without it memory search returns nothing and
	// the synthesizer degrades to partial/fallback context
	var mongoDB *database.MongoDB
	if cfg.MongoURI != "" {
		log.Println("🔗 Connecting to MongoDB...")
		mongoDB, err = database.NewMongoDB(cfg.MongoURI)
		if err != nil {
			log.Printf("⚠️ Failed to connect to MongoDB: %v (memory search disabled)", err)
			mongoDB = nil
		} else {
			defer mongoDB.Close(context.Background())
			log.Println("✅ MongoDB connected successfully")
		}
	}

	// Redis is optional - without it context stays instance-local
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Failed to connect to Redis: %v (context fan-out disabled)", err)
			redisService = nil
		} else {
			defer redisService.Close()
			log.Println("✅ Redis connected successfully")
		}
	}

	memoryService := services.NewMemoryService(mongoDB, cfg.MemoryTimeout)

	var knowledgeService *services.KnowledgeService
	if cfg.KnowledgeURL != "" {
		knowledgeService = services.NewKnowledgeService(cfg.KnowledgeURL, cfg.KnowledgeAPIKey, cfg.KnowledgeTimeout)
		log.Println("✅ Knowledge service initialized")
	}

	var llmService *services.LLMService
	if cfg.LLMBaseURL != "" {
		llmService = services.NewLLMService(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTemperature, cfg.LLMTimeout)
		log.Printf("✅ LLM service initialized (model: %s)", cfg.LLMModel)
	} else {
		log.Println("⚠️ LLM_BASE_URL not set - synthesis will use templated fallback context")
	}

	worker := services.NewCognitionWorker(services.CognitionWorkerOptions{
		QueueSize:      cfg.QueueSize,
		MaxConcurrent:  cfg.MaxConcurrent,
		ProcessTimeout: cfg.ProcessTimeout,
		ResultTTL:      cfg.ResultTTL,
		ResultCacheMax: cfg.ResultCacheSize,
		Sink:           services.MemorySinkFor(memoryService),
	})
	metrics := services.NewMetrics(worker)
	worker.AttachMetrics(metrics)
	worker.EnsureStarted()

	instanceID := uuid.New().String()
	var contextBus *services.ContextBus
	if redisService != nil {
		contextBus = services.NewContextBus(redisService, instanceID)
	}

	synthOpts := services.ContextSynthesizerOptions{
		Bus:              contextBus,
		Metrics:          metrics,
		MemoryTimeout:    cfg.MemoryTimeout,
		KnowledgeTimeout: cfg.KnowledgeTimeout,
		LLMTimeout:       cfg.LLMTimeout,
		MaxHintChars:     cfg.MaxHintChars,
		Cache:            services.NewContextCache(cfg.ContextCacheSize, cfg.ContextFreshness, metrics),
	}
	synthOpts.Memory = memoryService
	if knowledgeService != nil {
		synthOpts.Knowledge = knowledgeService
	}
	if llmService != nil {
		synthOpts.LLM = llmService
	}
	synthesizer := services.NewContextSynthesizer(synthOpts)

	accumulator := services.NewBatchAccumulator(services.BatchAccumulatorOptions{
		BatchSize:        cfg.BatchSize,
		MaxBatches:       cfg.MaxBatches,
		TriggerCount:     cfg.TriggerCount,
		CorrelationGrace: cfg.CorrelationGrace,
		PendingMaxAge:    cfg.PendingMaxAge,
		Trigger:          synthesizer.Trigger,
		Store:            stateStore,
		Metrics:          metrics,
	})

	if contextBus != nil {
		if err := contextBus.Start(synthesizer.Cache()); err != nil {
			log.Printf("⚠️ Failed to start context bus: %v", err)
		}
	}

	// Background jobs
	jobScheduler := jobs.NewJobScheduler()
	jobScheduler.Register(jobs.NewCacheRetentionJob(worker.Cache(), accumulator, synthesizer.Cache(), time.Minute))
	jobScheduler.Start()

	healthHandler := handlers.NewHealthHandler(worker)
	cognitionHandler := handlers.NewCognitionHandler(worker, accumulator, synthesizer)
	listenerHandler := handlers.NewListenerHandler(accumulator)

	app := fiber.New(fiber.Config{
		AppName:      "EchoMind v1.0",
		ReadTimeout:  90 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024, // analysis events and task payloads are small
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("echomind")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	app.Get("/health", healthHandler.Handle)

	api := app.Group("/api", middleware.APIKeyAuth(cfg.APIKey))
	api.Get("/cognition/status", cognitionHandler.GetStatus)
	api.Get("/cognition/context", cognitionHandler.GetContext)
	api.Post("/cognition/submit", cognitionHandler.Submit)
	api.Get("/cognition/result/latest", cognitionHandler.GetLatestResult)
	api.Get("/cognition/result/:id", cognitionHandler.GetResult)

	// WebSocket ingest for upstream audio listeners
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/listener", websocket.New(listenerHandler.Handle))

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		jobScheduler.Stop()

		if contextBus != nil {
			contextBus.Stop()
		}

		// Drain in-flight tasks before closing the state store
		worker.Stop()

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
