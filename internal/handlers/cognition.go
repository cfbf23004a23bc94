package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"echomind/internal/models"
	"echomind/internal/services"
)

// CognitionHandler exposes the cognition pipeline over HTTP: task submission
// and result lookup, the reply-path context read, and status snapshots.
type CognitionHandler struct {
	worker      *services.CognitionWorker
	accumulator *services.BatchAccumulator
	synthesizer *services.ContextSynthesizer
}

// NewCognitionHandler creates a new cognition handler
func NewCognitionHandler(worker *services.CognitionWorker, accumulator *services.BatchAccumulator, synthesizer *services.ContextSynthesizer) *CognitionHandler {
	return &CognitionHandler{
		worker:      worker,
		accumulator: accumulator,
		synthesizer: synthesizer,
	}
}

// SubmitRequest is the POST /api/cognition/submit body.
type SubmitRequest struct {
	UserText   string            `json:"user_text"`
	AudioRef   string            `json:"audio_ref"`
	SubjectKey string            `json:"subject_key"`
	Priority   int               `json:"priority"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Submit enqueues a cognition task and returns its id without waiting for
// the result. A full queue maps to 503 so callers can back off.
func (h *CognitionHandler) Submit(c *fiber.Ctx) error {
	var req SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.SubjectKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "subject_key is required"})
	}

	taskID, err := h.worker.Submit(models.TaskPayload{
		UserText:   req.UserText,
		AudioRef:   req.AudioRef,
		SubjectKey: req.SubjectKey,
		Extra:      req.Extra,
	}, req.Priority)
	if err != nil {
		if errors.Is(err, services.ErrQueueFull) || errors.Is(err, services.ErrWorkerNotReady) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"task_id": taskID})
}

// GetResult returns a cached result by task id, 404 once expired.
func (h *CognitionHandler) GetResult(c *fiber.Ctx) error {
	result := h.worker.GetResult(c.Params("id"))
	if result == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "result not found or expired"})
	}
	return c.JSON(result)
}

// GetLatestResult returns the freshest result for ?subject=<key>.
func (h *CognitionHandler) GetLatestResult(c *fiber.Ctx) error {
	subject := c.Query("subject")
	if subject == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "subject query parameter is required"})
	}
	result := h.worker.GetLatestResultFor(subject)
	if result == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no fresh result for subject"})
	}
	return c.JSON(result)
}

// GetContext is the reply-path read: always 200, possibly an empty string.
func (h *CognitionHandler) GetContext(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"context": h.synthesizer.GetCurrentForCaller()})
}

// GetStatus returns one observability snapshot across the pipeline.
func (h *CognitionHandler) GetStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"worker":      h.worker.Status(),
		"accumulator": h.accumulator.Status(),
		"contexts":    h.synthesizer.Cache().Size(),
	})
}
