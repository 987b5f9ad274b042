package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	// SchemaVersion is written on every published event.
	SchemaVersion = "v1"
	// Source tags events produced by the task API.
	Source = "tms-api"
)

var (
	ErrInvalidEventPayload      = errors.New("invalid event payload")
	ErrUnsupportedSchemaVersion = errors.New("unsupported event schema version")
)

// supportedSchemas lists the versions consumers know how to read.
var supportedSchemas = map[string]bool{
	SchemaVersion: true,
}

type EventType string

const (
	TaskCreated   EventType = "TASK_CREATED"
	TaskUpdated   EventType = "TASK_UPDATED"
	TaskCompleted EventType = "TASK_COMPLETED"
	TaskRemoved   EventType = "TASK_REMOVED"
)

type RemovalReason string

const (
	RemovalDeleted  RemovalReason = "DELETED"
	RemovalCanceled RemovalReason = "CANCELED"
)

// TaskEvent is published after every task state change and keyed by task id.
type TaskEvent struct {
	EventID       string           `json:"eventId"`
	Type          EventType        `json:"type"`
	OccurredAt    time.Time        `json:"occurredAt"`
	Source        string           `json:"source"`
	SchemaVersion string           `json:"schemaVersion"`
	Payload       TaskEventPayload `json:"payload"`
}

// TaskEventPayload is the denormalized task state at the time of the event.
type TaskEventPayload struct {
	TaskID        int64         `json:"taskId"`
	OwnerID       int64         `json:"ownerId"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Status        string        `json:"status"`
	Priority      string        `json:"priority"`
	DueDate       *time.Time    `json:"dueDate"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
	RemovalReason RemovalReason `json:"removalReason,omitempty"`
}

// Key is the partition key: the stringified task id.
func (e TaskEvent) Key() string {
	return strconv.FormatInt(e.Payload.TaskID, 10)
}

func EncodeTaskEvent(event TaskEvent) ([]byte, error) {
	return json.Marshal(event)
}

// DecodeTaskEvent rejects payloads that are not JSON, lack an id, or carry an unknown schema version.
func DecodeTaskEvent(data []byte) (TaskEvent, error) {
	var event TaskEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return TaskEvent{}, fmt.Errorf("%w: %v", ErrInvalidEventPayload, err)
	}
	if !supportedSchemas[event.SchemaVersion] {
		return TaskEvent{}, fmt.Errorf("%w: %q", ErrUnsupportedSchemaVersion, event.SchemaVersion)
	}
	if event.EventID == "" || event.Payload.TaskID == 0 {
		return TaskEvent{}, fmt.Errorf("%w: missing event or task id", ErrInvalidEventPayload)
	}
	return event, nil
}
