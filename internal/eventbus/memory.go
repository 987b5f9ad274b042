package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/todo-1m/tms/internal/contracts"
	"github.com/todo-1m/tms/internal/platform/logging"
	"github.com/todo-1m/tms/internal/sharding"
	"go.uber.org/zap"
)

// MemoryBus is an in-process bus with one append-only log per partition and one offset per
// group and partition. Offsets survive a group re-subscribing, so a restarted group resumes
// where it stopped.
type MemoryBus struct {
	partitions int
	retryDelay time.Duration
	log        *zap.Logger

	mu      sync.Mutex
	logs    [][][]byte
	offsets map[string][]int
	wake    map[string][]chan struct{}
}

func NewMemoryBus(partitions int, retryDelay time.Duration, log *zap.Logger) *MemoryBus {
	if partitions <= 0 {
		partitions = 1
	}
	return &MemoryBus{
		partitions: partitions,
		retryDelay: retryDelay,
		log:        logging.OrNop(log),
		logs:       make([][][]byte, partitions),
		offsets:    map[string][]int{},
		wake:       map[string][]chan struct{}{},
	}
}

func (b *MemoryBus) Publish(ctx context.Context, event contracts.TaskEvent) error {
	raw, err := contracts.EncodeTaskEvent(event)
	if err != nil {
		return err
	}
	return b.PublishRaw(ctx, event.Key(), raw)
}

// PublishRaw appends an already encoded value under key.
func (b *MemoryBus) PublishRaw(ctx context.Context, key string, raw []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := sharding.Partition(key, b.partitions)

	b.mu.Lock()
	b.logs[p] = append(b.logs[p], raw)
	wakes := make([]chan struct{}, 0, len(b.wake))
	for _, w := range b.wake {
		wakes = append(wakes, w[p])
	}
	b.mu.Unlock()

	for _, ch := range wakes {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, group string, handler Handler) error {
	b.mu.Lock()
	if _, ok := b.wake[group]; ok {
		b.mu.Unlock()
		return ErrGroupActive
	}
	if _, ok := b.offsets[group]; !ok {
		b.offsets[group] = make([]int, b.partitions)
	}
	wakes := make([]chan struct{}, b.partitions)
	for i := range wakes {
		wakes[i] = make(chan struct{}, 1)
	}
	b.wake[group] = wakes
	b.mu.Unlock()

	var wg sync.WaitGroup
	for p := 0; p < b.partitions; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			b.consume(ctx, group, p, wakes[p], handler)
		}(p)
	}
	go func() {
		wg.Wait()
		b.mu.Lock()
		delete(b.wake, group)
		b.mu.Unlock()
	}()

	b.log.Info("consumer group subscribed", zap.String("group", group), zap.Int("partitions", b.partitions))
	return nil
}

func (b *MemoryBus) consume(ctx context.Context, group string, p int, wake <-chan struct{}, handler Handler) {
	for {
		if ctx.Err() != nil {
			return
		}
		raw, ok := b.next(group, p)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-wake:
			}
			continue
		}

		event, err := contracts.DecodeTaskEvent(raw)
		if err != nil {
			b.log.Warn("discarding undecodable event",
				zap.String("group", group), zap.Int("partition", p), zap.Error(err))
			b.advance(group, p)
			continue
		}

		if err := handler(ctx, event); err != nil {
			b.log.Warn("event handler failed, redelivering", append(eventFields(group, event), zap.Error(err))...)
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.retryDelay):
			}
			continue
		}
		b.advance(group, p)
	}
}

func (b *MemoryBus) next(group string, p int) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	off := b.offsets[group][p]
	if off >= len(b.logs[p]) {
		return nil, false
	}
	return b.logs[p][off], true
}

func (b *MemoryBus) advance(group string, p int) {
	b.mu.Lock()
	b.offsets[group][p]++
	b.mu.Unlock()
}

// Lag reports how many events group has not yet processed across all partitions.
func (b *MemoryBus) Lag(group string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	lag := 0
	offsets := b.offsets[group]
	for p, entries := range b.logs {
		done := 0
		if offsets != nil {
			done = offsets[p]
		}
		lag += len(entries) - done
	}
	return lag
}
