// Package broker carries build lifecycle events between a running build and
// anything following it.
package broker

import "context"

// Broker publishes keyed messages to topics and streams them back.
type Broker interface {
	// Publish sends value to topic. Redpanda partitions on key; the
	// in-process broker only carries it through.
	Publish(ctx context.Context, topic string, key string, value []byte) error

	// Subscribe streams messages published to topic from now on. The
	// channel is closed when ctx ends or the broker closes. An empty groupID
	// tails the topic without committing offsets.
	Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error)

	Close() error
}

// Message is one consumed record.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Offset    int64
	Partition int32
	// Timestamp is in Unix milliseconds.
	Timestamp int64
}
