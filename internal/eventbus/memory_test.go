package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/todo-1m/tms/internal/contracts"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct {
	mu     sync.Mutex
	events []contracts.TaskEvent
}

func (r *recorder) handle(_ context.Context, event contracts.TaskEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) snapshot() []contracts.TaskEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]contracts.TaskEvent(nil), r.events...)
}

func (r *recorder) forTask(taskID int64) []string {
	var ids []string
	for _, e := range r.snapshot() {
		if e.Payload.TaskID == taskID {
			ids = append(ids, e.EventID)
		}
	}
	return ids
}

func newEvent(taskID int64, seq int) contracts.TaskEvent {
	return contracts.TaskEvent{
		EventID:       fmt.Sprintf("%d-%d", taskID, seq),
		Type:          contracts.TaskUpdated,
		OccurredAt:    time.Now().UTC(),
		Source:        contracts.Source,
		SchemaVersion: contracts.SchemaVersion,
		Payload:       contracts.TaskEventPayload{TaskID: taskID, OwnerID: 1},
	}
}

func TestMemoryBus_PerKeyOrderAcrossGroups(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewMemoryBus(4, 10*time.Millisecond, nil)

	groups := map[string]*recorder{"a": {}, "b": {}, "c": {}}
	for name, rec := range groups {
		require.NoError(t, bus.Subscribe(ctx, name, rec.handle))
	}

	const tasks, perTask = 10, 20
	for seq := 0; seq < perTask; seq++ {
		for task := int64(1); task <= tasks; task++ {
			require.NoError(t, bus.Publish(ctx, newEvent(task, seq)))
		}
	}

	for name, rec := range groups {
		require.Eventually(t, func() bool { return len(rec.snapshot()) == tasks*perTask }, 2*time.Second, 5*time.Millisecond, name)
		for task := int64(1); task <= tasks; task++ {
			want := make([]string, perTask)
			for seq := range want {
				want[seq] = fmt.Sprintf("%d-%d", task, seq)
			}
			require.Equal(t, want, rec.forTask(task), "group %s task %d", name, task)
		}
	}
}

func TestMemoryBus_RedeliversUntilHandlerSucceeds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewMemoryBus(1, time.Millisecond, nil)

	var mu sync.Mutex
	attempts := map[string]int{}
	var order []string
	handler := func(_ context.Context, event contracts.TaskEvent) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[event.EventID]++
		if event.EventID == "1-0" && attempts[event.EventID] < 3 {
			return errors.New("transient")
		}
		order = append(order, event.EventID)
		return nil
	}
	require.NoError(t, bus.Subscribe(ctx, "g", handler))
	require.NoError(t, bus.Publish(ctx, newEvent(1, 0)))
	require.NoError(t, bus.Publish(ctx, newEvent(1, 1)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"1-0", "1-1"}, order)
	require.Equal(t, 3, attempts["1-0"])
	require.Equal(t, 1, attempts["1-1"])
}

func TestMemoryBus_SkipsUnknownSchemaVersion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	core, logs := observer.New(zapcore.WarnLevel)
	bus := NewMemoryBus(1, time.Millisecond, zap.New(core))

	rec := &recorder{}
	require.NoError(t, bus.Subscribe(ctx, "g", rec.handle))

	future := newEvent(5, 0)
	future.SchemaVersion = "v9"
	raw, err := contracts.EncodeTaskEvent(future)
	require.NoError(t, err)
	require.NoError(t, bus.PublishRaw(ctx, "5", raw))
	require.NoError(t, bus.Publish(ctx, newEvent(5, 1)))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, "5-1", rec.snapshot()[0].EventID)
	require.Equal(t, 1, logs.FilterMessage("discarding undecodable event").Len())
}

func TestMemoryBus_GroupResumesFromOffset(t *testing.T) {
	bus := NewMemoryBus(2, time.Millisecond, nil)
	first := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, bus.Subscribe(ctx, "g", first.handle))
	require.NoError(t, bus.Publish(ctx, newEvent(1, 0)))
	require.Eventually(t, func() bool { return bus.Lag("g") == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	require.NoError(t, bus.Publish(context.Background(), newEvent(1, 1)))
	require.Equal(t, 1, bus.Lag("g"))

	second := &recorder{}
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	require.Eventually(t, func() bool {
		return bus.Subscribe(ctx2, "g", second.handle) == nil
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(second.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, "1-1", second.snapshot()[0].EventID)
}

func TestMemoryBus_RejectsDuplicateActiveGroup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewMemoryBus(1, time.Millisecond, nil)
	rec := &recorder{}
	require.NoError(t, bus.Subscribe(ctx, "g", rec.handle))
	require.ErrorIs(t, bus.Subscribe(ctx, "g", rec.handle), ErrGroupActive)
}

func TestObserve_RecoversPanics(t *testing.T) {
	handler := Observe("g", zap.NewNop(), func(context.Context, contracts.TaskEvent) error {
		panic("boom")
	})
	err := handler(context.Background(), newEvent(1, 0))
	require.ErrorContains(t, err, "boom")
}
