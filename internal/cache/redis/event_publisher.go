package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/updownlabs/updown/internal/domain"
)

// EventChannel is the Pub/Sub channel settlement events fan out on. Live
// consumers (the WebSocket hub, notifiers) subscribe here.
const EventChannel = "ch:events"

// EventStream is the durable Redis stream mirroring the event journal for
// consumers that need replay with at-least-once delivery.
const EventStream = "events"

// EventPublisher implements domain.EventPublisher on top of the SignalBus:
// every event is published to the live channel and appended to the stream.
type EventPublisher struct {
	bus *SignalBus
}

// NewEventPublisher creates an EventPublisher backed by the given SignalBus.
func NewEventPublisher(bus *SignalBus) *EventPublisher {
	return &EventPublisher{bus: bus}
}

// PublishEvent serializes the event and fans it out. The stream append
// happens first so durable consumers never trail the live channel.
func (p *EventPublisher) PublishEvent(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal event seq %d: %w", ev.Seq, err)
	}

	if err := p.bus.StreamAppend(ctx, EventStream, data); err != nil {
		return err
	}
	return p.bus.Publish(ctx, EventChannel, data)
}

// Compile-time interface check.
var _ domain.EventPublisher = (*EventPublisher)(nil)
