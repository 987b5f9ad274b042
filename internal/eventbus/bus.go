// Package eventbus moves task events from the API to independent consumer groups.
//
// Events are partitioned by key; within a partition every group sees events in publish order.
// Delivery is at-least-once: a handler error causes the same event to be delivered again, and
// a group does not advance past an event until its handler succeeds.
package eventbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/todo-1m/tms/internal/contracts"
	"github.com/todo-1m/tms/internal/platform/metrics"
	"go.uber.org/zap"
)

var ErrGroupActive = errors.New("consumer group already subscribed in this process")

type Handler func(ctx context.Context, event contracts.TaskEvent) error

type Publisher interface {
	Publish(ctx context.Context, event contracts.TaskEvent) error
}

// Subscriber starts delivery to handler for group; delivery stops when ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, group string, handler Handler) error
}

type Bus interface {
	Publisher
	Subscriber
}

// Observe counts every delivery for group and turns handler panics into errors so the event is retried.
func Observe(group string, log *zap.Logger, handler Handler) Handler {
	return func(ctx context.Context, event contracts.TaskEvent) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
				log.Error("consumer handler panicked",
					zap.String("group", group),
					zap.String("event_id", event.EventID),
					zap.Any("panic", r),
					zap.Stack("stack"))
			}
			metrics.EventsConsumed.WithLabelValues(group, string(event.Type), metrics.Result(err)).Inc()
		}()
		return handler(ctx, event)
	}
}

func eventFields(group string, event contracts.TaskEvent) []zap.Field {
	return []zap.Field{
		zap.String("group", group),
		zap.String("event_id", event.EventID),
		zap.String("event_type", string(event.Type)),
		zap.Int64("task_id", event.Payload.TaskID),
	}
}
