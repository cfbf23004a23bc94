package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithTask returns a logger with cognition task fields attached.
// Use this for all logging tied to a single task execution.
func WithTask(taskID, subjectKey string) *slog.Logger {
	return slog.With(
		"task_id", taskID,
		"subject_key", subjectKey,
	)
}

// WithBatch returns a logger scoped to one accumulation batch.
func WithBatch(logger *slog.Logger, batchID string, events int) *slog.Logger {
	return logger.With(
		"batch_id", batchID,
		"events", events,
	)
}
