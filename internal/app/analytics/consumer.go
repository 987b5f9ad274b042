package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/todo-1m/tms/internal/contracts"
	"github.com/todo-1m/tms/internal/platform/logging"
	"go.uber.org/zap"
)

// Enricher accepts follow-up work for a completed task without blocking the caller.
type Enricher interface {
	Submit(ownerID int64, eventID string) bool
}

type Consumer struct {
	Group    string
	Repo     Repository
	Enricher Enricher
	Location *time.Location
	Now      func() time.Time
	Log      *zap.Logger
}

func NewConsumer(group string, repo Repository, enricher Enricher, loc *time.Location, log *zap.Logger) *Consumer {
	if loc == nil {
		loc = time.UTC
	}
	return &Consumer{
		Group:    group,
		Repo:     repo,
		Enricher: enricher,
		Location: loc,
		Now:      time.Now,
		Log:      logging.OrNop(log),
	}
}

// DeltaFor maps an event to its counter increments. ok is false for event types it does not know.
func DeltaFor(event contracts.TaskEvent) (d Delta, ok bool) {
	switch event.Type {
	case contracts.TaskCreated:
		d.Created = 1
	case contracts.TaskCompleted:
		d.Completed = 1
	case contracts.TaskRemoved:
		d.RemovedTotal = 1
		switch event.Payload.RemovalReason {
		case contracts.RemovalDeleted:
			d.RemovedDeleted = 1
		case contracts.RemovalCanceled:
			d.RemovedCanceled = 1
		}
	case contracts.TaskUpdated:
	default:
		return Delta{}, false
	}
	return d, true
}

func (c *Consumer) Handle(ctx context.Context, event contracts.TaskEvent) error {
	delta, ok := DeltaFor(event)
	if !ok {
		c.Log.Warn("skipping unknown event type",
			zap.String("event_id", event.EventID),
			zap.String("event_type", string(event.Type)))
		return nil
	}
	if delta.IsZero() {
		return nil
	}

	day := Day(c.Now(), c.Location)
	applied, err := c.Repo.ApplyDelta(ctx, c.Group, event.EventID, day, delta)
	if err != nil {
		return fmt.Errorf("apply stats delta for event %s: %w", event.EventID, err)
	}
	if !applied {
		c.Log.Info("event already counted",
			zap.String("event_id", event.EventID),
			zap.String("event_type", string(event.Type)))
		return nil
	}

	if event.Type == contracts.TaskCompleted && c.Enricher != nil {
		if !c.Enricher.Submit(event.Payload.OwnerID, event.EventID) {
			c.Log.Warn("enrichment queue full, dropping job",
				zap.String("event_id", event.EventID),
				zap.Int64("owner_id", event.Payload.OwnerID))
		}
	}
	return nil
}
