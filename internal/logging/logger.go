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

// WithRoom returns a logger with room lifecycle fields attached.
// Use this for all logging within a room transaction.
func WithRoom(roomID, userID string) *slog.Logger {
	return slog.With(
		"room_id", roomID,
		"user_id", userID,
	)
}

// WithEntry returns a logger scoped to a queue entry.
func WithEntry(logger *slog.Logger, entryID, queueKey string) *slog.Logger {
	return logger.With(
		"entry_id", entryID,
		"queue_key", queueKey,
	)
}
