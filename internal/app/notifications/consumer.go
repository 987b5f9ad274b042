// Package notifications turns task events into user-facing notification lines.
package notifications

import (
	"context"
	"fmt"

	"github.com/todo-1m/tms/internal/contracts"
	"github.com/todo-1m/tms/internal/platform/logging"
	"go.uber.org/zap"
)

type Consumer struct {
	Log *zap.Logger
}

func NewConsumer(log *zap.Logger) *Consumer {
	return &Consumer{Log: logging.OrNop(log)}
}

// Message renders the notification for event; ok is false for events that notify nobody.
func Message(event contracts.TaskEvent) (msg string, ok bool) {
	title := event.Payload.Title
	switch event.Type {
	case contracts.TaskCreated:
		return fmt.Sprintf("New task created: %q", title), true
	case contracts.TaskCompleted:
		return fmt.Sprintf("Task completed: %q", title), true
	case contracts.TaskRemoved:
		if event.Payload.RemovalReason == contracts.RemovalCanceled {
			return fmt.Sprintf("Task canceled: %q", title), true
		}
		return fmt.Sprintf("Task deleted: %q", title), true
	default:
		return "", false
	}
}

func (c *Consumer) Handle(_ context.Context, event contracts.TaskEvent) error {
	msg, ok := Message(event)
	if !ok {
		return nil
	}
	c.Log.Info("notification",
		zap.Int64("owner_id", event.Payload.OwnerID),
		zap.Int64("task_id", event.Payload.TaskID),
		zap.String("event_id", event.EventID),
		zap.String("message", msg))
	return nil
}
