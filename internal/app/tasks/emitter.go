package tasks

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/todo-1m/tms/internal/contracts"
	"github.com/todo-1m/tms/internal/eventbus"
	"github.com/todo-1m/tms/internal/platform/logging"
	"github.com/todo-1m/tms/internal/platform/metrics"
	"go.uber.org/zap"
)

// Emitter publishes a task event after the database change has committed. Publish failures are
// logged and counted; they never reach the caller.
type Emitter struct {
	Publisher eventbus.Publisher
	Timeout   time.Duration
	Now       func() time.Time
	NewID     func() string
	Log       *zap.Logger
}

func NewEmitter(publisher eventbus.Publisher, timeout time.Duration, log *zap.Logger) *Emitter {
	return &Emitter{
		Publisher: publisher,
		Timeout:   timeout,
		Now:       func() time.Time { return time.Now().UTC() },
		NewID:     func() string { return uuid.Must(uuid.NewV7()).String() },
		Log:       logging.OrNop(log),
	}
}

func (e *Emitter) Build(eventType contracts.EventType, task Task, reason contracts.RemovalReason) contracts.TaskEvent {
	return contracts.TaskEvent{
		EventID:       e.NewID(),
		Type:          eventType,
		OccurredAt:    e.Now(),
		Source:        contracts.Source,
		SchemaVersion: contracts.SchemaVersion,
		Payload: contracts.TaskEventPayload{
			TaskID:        task.ID,
			OwnerID:       task.OwnerID,
			Title:         task.Title,
			Description:   task.Description,
			Status:        string(task.Status),
			Priority:      string(task.Priority),
			DueDate:       task.DueDate,
			CreatedAt:     task.CreatedAt,
			UpdatedAt:     task.UpdatedAt,
			RemovalReason: reason,
		},
	}
}

// Emit runs detached from ctx cancellation so a client disconnect does not drop the event.
func (e *Emitter) Emit(ctx context.Context, eventType contracts.EventType, task Task, reason contracts.RemovalReason) {
	event := e.Build(eventType, task, reason)

	pubCtx := context.WithoutCancel(ctx)
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		pubCtx, cancel = context.WithTimeout(pubCtx, e.Timeout)
		defer cancel()
	}

	err := e.Publisher.Publish(pubCtx, event)
	metrics.EventsPublished.WithLabelValues(string(eventType), metrics.Result(err)).Inc()
	if err != nil {
		e.Log.Error("task event publish failed",
			zap.String("event_id", event.EventID),
			zap.String("event_type", string(eventType)),
			zap.Int64("task_id", task.ID),
			zap.Error(err))
		return
	}
	e.Log.Debug("task event published",
		zap.String("event_id", event.EventID),
		zap.String("event_type", string(eventType)),
		zap.Int64("task_id", task.ID))
}

// transitionEvent picks the event for a full update from the status change it carries.
func transitionEvent(before, after Status) (contracts.EventType, contracts.RemovalReason) {
	if before == after {
		return contracts.TaskUpdated, ""
	}
	return statusEvent(after)
}

// statusEvent picks the event for an explicit status change to status.
func statusEvent(status Status) (contracts.EventType, contracts.RemovalReason) {
	switch status {
	case StatusCompleted:
		return contracts.TaskCompleted, ""
	case StatusCancelled:
		return contracts.TaskRemoved, contracts.RemovalCanceled
	default:
		return contracts.TaskUpdated, ""
	}
}
