package contracts

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleEvent() TaskEvent {
	now := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	return TaskEvent{
		EventID:       "evt-1",
		Type:          TaskRemoved,
		OccurredAt:    now,
		Source:        Source,
		SchemaVersion: SchemaVersion,
		Payload: TaskEventPayload{
			TaskID:        42,
			OwnerID:       7,
			Title:         "write report",
			Status:        "CANCELLED",
			Priority:      "HIGH",
			CreatedAt:     now,
			UpdatedAt:     now,
			RemovalReason: RemovalCanceled,
		},
	}
}

func TestTaskEvent_WireFormat(t *testing.T) {
	raw, err := EncodeTaskEvent(sampleEvent())
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	for _, field := range []string{"eventId", "type", "occurredAt", "source", "schemaVersion", "payload"} {
		require.Contains(t, generic, field)
	}
	payload := generic["payload"].(map[string]any)
	require.Equal(t, float64(42), payload["taskId"])
	require.Equal(t, float64(7), payload["ownerId"])
	require.Equal(t, "CANCELED", payload["removalReason"])
	require.Nil(t, payload["dueDate"])
}

func TestTaskEvent_OmitsRemovalReasonWhenUnset(t *testing.T) {
	event := sampleEvent()
	event.Type = TaskCreated
	event.Payload.RemovalReason = ""
	raw, err := EncodeTaskEvent(event)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "removalReason")
}

func TestDecodeTaskEvent(t *testing.T) {
	raw, err := EncodeTaskEvent(sampleEvent())
	require.NoError(t, err)

	event, err := DecodeTaskEvent(raw)
	require.NoError(t, err)
	require.Equal(t, sampleEvent(), event)
	require.Equal(t, "42", event.Key())
}

func TestDecodeTaskEvent_Rejects(t *testing.T) {
	_, err := DecodeTaskEvent([]byte("{not json"))
	require.ErrorIs(t, err, ErrInvalidEventPayload)

	future := sampleEvent()
	future.SchemaVersion = "v2"
	raw, err := EncodeTaskEvent(future)
	require.NoError(t, err)
	_, err = DecodeTaskEvent(raw)
	require.ErrorIs(t, err, ErrUnsupportedSchemaVersion)

	missing := sampleEvent()
	missing.SchemaVersion = ""
	raw, err = EncodeTaskEvent(missing)
	require.NoError(t, err)
	_, err = DecodeTaskEvent(raw)
	require.ErrorIs(t, err, ErrUnsupportedSchemaVersion)

	noID := sampleEvent()
	noID.EventID = ""
	raw, err = EncodeTaskEvent(noID)
	require.NoError(t, err)
	_, err = DecodeTaskEvent(raw)
	require.ErrorIs(t, err, ErrInvalidEventPayload)
}
