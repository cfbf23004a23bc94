package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"echomind/internal/services"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	worker *services.CognitionWorker
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(worker *services.CognitionWorker) *HealthHandler {
	return &HealthHandler{worker: worker}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	status := h.worker.Status()
	return c.JSON(fiber.Map{
		"status":      "healthy",
		"worker":      status.Running,
		"queue_depth": status.QueueDepth,
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}
