package broker

import (
	"context"

	"github.com/xenking/ordergenie-engine/internal/outbox"
)

// RelaySubscriberName is the outbox subscriber that forwards events to the
// orders exchange.
const RelaySubscriberName = "broker.relay"

// EventPublisher publishes serialized domain events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType, eventID string, payload []byte) error
}

// RelaySubscriber forwards every outbox message of the given event types to
// the orders exchange unchanged.
func RelaySubscriber(pub EventPublisher, events ...string) outbox.Subscriber {
	return outbox.Subscriber{
		Name:   RelaySubscriberName,
		Events: events,
		Handler: outbox.HandlerFunc(func(ctx context.Context, msg outbox.Message) error {
			return pub.PublishEvent(ctx, msg.EventType, msg.EventID, msg.Payload)
		}),
	}
}
