package eventbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/todo-1m/tms/internal/contracts"
	"github.com/todo-1m/tms/internal/platform/logging"
	"github.com/todo-1m/tms/internal/sharding"
	"go.uber.org/zap"
)

// JetStreamBus maps each partition to the subject <topic>.<n>. A group owns one durable queue
// consumer per partition with a single unacknowledged message in flight, which keeps per-key
// order while instances of the group share the work.
type JetStreamBus struct {
	JS         nats.JetStreamContext
	Stream     string
	Topic      string
	Partitions int
	AckWait    time.Duration
	MaxDeliver int
	RetryDelay time.Duration
	Log        *zap.Logger
}

type JetStreamOptions struct {
	Stream     string
	Topic      string
	Partitions int
	AckWait    time.Duration
	MaxDeliver int
	RetryDelay time.Duration
}

func NewJetStreamBus(js nats.JetStreamContext, opts JetStreamOptions, log *zap.Logger) *JetStreamBus {
	if opts.Partitions <= 0 {
		opts.Partitions = 1
	}
	return &JetStreamBus{
		JS:         js,
		Stream:     opts.Stream,
		Topic:      opts.Topic,
		Partitions: opts.Partitions,
		AckWait:    opts.AckWait,
		MaxDeliver: opts.MaxDeliver,
		RetryDelay: opts.RetryDelay,
		Log:        logging.OrNop(log),
	}
}

func (b *JetStreamBus) subject(key string) string {
	return sharding.Subject(b.Topic, sharding.Partition(key, b.Partitions))
}

// Publish waits for the stream acknowledgement. The event id doubles as Nats-Msg-Id so a
// retried publish inside the stream's duplicate window is stored once.
func (b *JetStreamBus) Publish(ctx context.Context, event contracts.TaskEvent) error {
	payload, err := contracts.EncodeTaskEvent(event)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(b.subject(event.Key()))
	msg.Data = payload
	msg.Header.Set(nats.MsgIdHdr, event.EventID)
	if _, err := b.JS.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

func durableName(group string, partition int) string {
	return fmt.Sprintf("%s-p%d", group, partition)
}

func (b *JetStreamBus) ensureConsumer(durable, subject string) error {
	if _, err := b.JS.ConsumerInfo(b.Stream, durable); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrConsumerNotFound) {
		return err
	}
	_, err := b.JS.AddConsumer(b.Stream, &nats.ConsumerConfig{
		Durable:        durable,
		DeliverSubject: nats.NewInbox(),
		DeliverGroup:   durable,
		FilterSubject:  subject,
		DeliverPolicy:  nats.DeliverAllPolicy,
		AckPolicy:      nats.AckExplicitPolicy,
		AckWait:        b.AckWait,
		MaxDeliver:     b.MaxDeliver,
		MaxAckPending:  1,
	})
	if errors.Is(err, nats.ErrConsumerNameAlreadyInUse) {
		return nil
	}
	return err
}

func (b *JetStreamBus) Subscribe(ctx context.Context, group string, handler Handler) error {
	subs := make([]*nats.Subscription, 0, b.Partitions)
	unsubscribe := func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}

	for p := 0; p < b.Partitions; p++ {
		subject := sharding.Subject(b.Topic, p)
		durable := durableName(group, p)
		if err := b.ensureConsumer(durable, subject); err != nil {
			unsubscribe()
			return fmt.Errorf("ensure consumer %s: %w", durable, err)
		}
		sub, err := b.JS.QueueSubscribe(subject, durable, b.deliver(ctx, group, handler),
			nats.Bind(b.Stream, durable),
			nats.ManualAck(),
		)
		if err != nil {
			unsubscribe()
			return fmt.Errorf("subscribe %s: %w", durable, err)
		}
		subs = append(subs, sub)
	}

	go func() {
		<-ctx.Done()
		// bound consumers survive unsubscribe, so the group resumes from its last ack
		unsubscribe()
	}()

	b.Log.Info("consumer group subscribed",
		zap.String("group", group),
		zap.String("stream", b.Stream),
		zap.Int("partitions", b.Partitions))
	return nil
}

func (b *JetStreamBus) deliver(ctx context.Context, group string, handler Handler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		event, err := contracts.DecodeTaskEvent(msg.Data)
		if err != nil {
			b.Log.Warn("discarding undecodable event",
				zap.String("group", group), zap.String("subject", msg.Subject), zap.Error(err))
			_ = msg.Term()
			return
		}
		if ctx.Err() != nil {
			_ = msg.Nak()
			return
		}

		handleCtx, cancel := context.WithTimeout(ctx, b.handlerTimeout())
		defer cancel()
		if err := handler(handleCtx, event); err != nil {
			fields := eventFields(group, event)
			if meta, metaErr := msg.Metadata(); metaErr == nil {
				fields = append(fields, zap.Uint64("delivered", meta.NumDelivered))
			}
			b.Log.Warn("event handler failed, redelivering", append(fields, zap.Error(err))...)
			_ = msg.NakWithDelay(b.RetryDelay)
			return
		}
		_ = msg.Ack()
	}
}

func (b *JetStreamBus) handlerTimeout() time.Duration {
	if b.AckWait > 0 {
		return b.AckWait
	}
	return 30 * time.Second
}
