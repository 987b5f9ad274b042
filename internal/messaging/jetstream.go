package messaging

import (
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/todo-1m/tms/internal/sharding"
)

// duplicateWindow is how long JetStream remembers Nats-Msg-Id values for publish dedup.
const duplicateWindow = 2 * time.Minute

// EnsureEventStream creates the task event stream if it does not exist yet. It captures every
// partition subject of topic.
func EnsureEventStream(js nats.JetStreamContext, stream, topic string) error {
	if _, err := js.StreamInfo(stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return err
		}
		if _, addErr := js.AddStream(&nats.StreamConfig{
			Name:       stream,
			Subjects:   []string{sharding.SubjectFilter(topic)},
			Retention:  nats.LimitsPolicy,
			Storage:    nats.FileStorage,
			Replicas:   1,
			Duplicates: duplicateWindow,
		}); addErr != nil {
			return addErr
		}
	}
	return nil
}
