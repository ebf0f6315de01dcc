package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/explosion/wheelwright/src/contracts"
)

// EventPublisher publishes build lifecycle events keyed by release.
type EventPublisher struct {
	broker Broker
	topic  string
	now    func() time.Time
}

// NewEventPublisher publishes to contracts.TopicBuildEvents.
func NewEventPublisher(b Broker) *EventPublisher {
	return &EventPublisher{broker: b, topic: contracts.TopicBuildEvents, now: time.Now}
}

// Publish fills in the event id and timestamp and sends the event.
func (p *EventPublisher) Publish(ctx context.Context, ev contracts.BuildEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp == "" {
		ev.Timestamp = p.now().UTC().Format(time.RFC3339)
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal build event: %w", err)
	}
	key := ev.ReleaseID
	if key == "" {
		key = ev.RunID
	}
	return p.broker.Publish(ctx, p.topic, key, value)
}

// DecodeEvent parses a consumed build event.
func DecodeEvent(msg Message) (contracts.BuildEvent, error) {
	var ev contracts.BuildEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return contracts.BuildEvent{}, fmt.Errorf("decode build event at offset %d: %w", msg.Offset, err)
	}
	return ev, nil
}
