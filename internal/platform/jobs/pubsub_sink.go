package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/storefront/internal/services"
)

// PubSubEventSink publishes domain events to a Pub/Sub topic.
type PubSubEventSink struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubEventSink constructs a Pub/Sub backed event sink. Ordering keys are the event
// subject, so the topic must have message ordering enabled for per-order ordering to hold.
func NewPubSubEventSink(topic *pubsub.Topic) (*PubSubEventSink, error) {
	if topic == nil {
		return nil, errors.New("pubsub event sink: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubEventSink{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishEvent sends the event and waits for the server acknowledgement.
func (p *PubSubEventSink) PublishEvent(ctx context.Context, event services.DomainEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub event sink: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return services.Permanent(fmt.Errorf("marshal %s event: %w", event.Type, err))
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  eventAttributes(event),
		OrderingKey: strings.TrimSpace(event.Subject),
	})
	if _, err := result.Get(ctx); err != nil {
		// A failed publish pauses the ordering key until resumed.
		p.topic.ResumePublish(strings.TrimSpace(event.Subject))
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

// Close flushes pending messages.
func (p *PubSubEventSink) Close() error {
	if p == nil || p.topic == nil {
		return nil
	}
	p.topic.Stop()
	return nil
}

func eventAttributes(event services.DomainEvent) map[string]string {
	attrs := make(map[string]string, 4)
	setAttr(attrs, "eventId", event.ID)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "subject", event.Subject)
	setAttr(attrs, "actorId", event.ActorID)
	return attrs
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
