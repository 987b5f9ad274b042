// Package eventlog writes one structured log line per task event.
package eventlog

import (
	"context"

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

func (c *Consumer) Handle(_ context.Context, event contracts.TaskEvent) error {
	fields := []zap.Field{
		zap.String("event_id", event.EventID),
		zap.String("event_type", string(event.Type)),
		zap.Int64("task_id", event.Payload.TaskID),
		zap.Int64("owner_id", event.Payload.OwnerID),
		zap.String("status", event.Payload.Status),
		zap.Time("occurred_at", event.OccurredAt),
		zap.String("source", event.Source),
	}
	if event.Payload.RemovalReason != "" {
		fields = append(fields, zap.String("removal_reason", string(event.Payload.RemovalReason)))
	}
	c.Log.Info("task event", fields...)
	return nil
}
