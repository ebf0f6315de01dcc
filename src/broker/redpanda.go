package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/explosion/wheelwright/src/logger"
	"github.com/explosion/wheelwright/src/provider"
)

// DefaultDeliveryTimeout bounds how long one event may take to reach
// Redpanda before it is given up.
const DefaultDeliveryTimeout = 5 * time.Second

// RedpandaBroker publishes build events from a single CLI run and tails them
// for the events command. Produces never outlive the delivery timeout, so an
// unreachable cluster costs a build a few seconds per event and nothing more.
type RedpandaBroker struct {
	producer *kgo.Client
	seeds    []string
	timeout  time.Duration
	logger   logger.Logger

	mu     sync.Mutex
	tails  []*kgo.Client
	closed bool
}

// RedpandaOption configures a RedpandaBroker.
type RedpandaOption func(*RedpandaBroker)

// WithDeliveryTimeout replaces DefaultDeliveryTimeout.
func WithDeliveryTimeout(d time.Duration) RedpandaOption {
	return func(b *RedpandaBroker) { b.timeout = d }
}

// NewRedpandaBroker creates the producer. No connection is made until the
// first publish.
func NewRedpandaBroker(seeds []string, log logger.Logger, opts ...RedpandaOption) (*RedpandaBroker, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("%w: no Redpanda brokers given", provider.ErrConfig)
	}
	b := &RedpandaBroker{
		seeds:   seeds,
		timeout: DefaultDeliveryTimeout,
		logger:  log,
	}
	for _, opt := range opts {
		opt(b)
	}

	// kgo rejects very short client timeouts; Publish enforces b.timeout
	// through its context either way.
	clientTimeout := max(b.timeout, time.Second)
	producer, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.AllowAutoTopicCreation(),
		kgo.RecordDeliveryTimeout(clientTimeout),
		kgo.ProduceRequestTimeout(clientTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("create Redpanda producer: %w", err)
	}
	b.producer = producer
	return b, nil
}

// Publish produces one record and waits for it to be acknowledged, at most
// for the delivery timeout.
func (b *RedpandaBroker) Publish(ctx context.Context, topic string, key string, value []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	rec := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	if err := b.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts a tail of topic at its current end. Each call gets its
// own consumer client, closed with the broker.
func (b *RedpandaBroker) Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(b.seeds...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	}
	if groupID != "" {
		opts = append(opts, kgo.ConsumerGroup(groupID))
	}
	tail, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create Redpanda consumer for %s: %w", topic, err)
	}
	b.tails = append(b.tails, tail)

	out := make(chan Message, 100)
	go b.follow(ctx, tail, out)
	return out, nil
}

func (b *RedpandaBroker) follow(ctx context.Context, tail *kgo.Client, out chan<- Message) {
	defer close(out)
	for ctx.Err() == nil {
		fetches := tail.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if ctx.Err() == nil {
				b.logger.Error("fetch %s/%d: %v", topic, partition, err)
			}
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			select {
			case out <- recordMessage(rec):
			case <-ctx.Done():
			}
		})
	}
}

func recordMessage(rec *kgo.Record) Message {
	return Message{
		Topic:     rec.Topic,
		Key:       string(rec.Key),
		Value:     rec.Value,
		Offset:    rec.Offset,
		Partition: rec.Partition,
		Timestamp: rec.Timestamp.UnixMilli(),
	}
}

// Close stops every tail and the producer.
func (b *RedpandaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, tail := range b.tails {
		tail.Close()
	}
	b.tails = nil
	b.producer.Close()
	return nil
}
