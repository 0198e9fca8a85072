package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Domain event types.
const (
	EventCartUpdated         = "cart.updated"
	EventOrderPlaced         = "order.placed"
	EventOrderStatusChanged  = "order.status_changed"
	EventOrderInventoryFail  = "order.inventory_failed"
	EventReturnRequested     = "return.requested"
	EventReturnStatusChanged = "return.status_changed"
)

const defaultSubscriptionBuffer = 64

// DomainEvent is a fact emitted after a state change.
type DomainEvent struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Subject    string          `json:"subject"`
	ActorID    string          `json:"actorId,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// NewDomainEvent marshals data into an event envelope.
func NewDomainEvent(id, eventType, subject, actorID string, at time.Time, data any) (DomainEvent, error) {
	event := DomainEvent{
		ID:         id,
		Type:       eventType,
		Subject:    subject,
		ActorID:    actorID,
		OccurredAt: at,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return DomainEvent{}, fmt.Errorf("marshal %s event: %w", eventType, err)
		}
		event.Data = raw
	}
	return event, nil
}

// EventPublisher fans domain events out to subscribers and external sinks.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
}

// EventSink delivers events outside the process (Pub/Sub, Kafka).
type EventSink interface {
	PublishEvent(ctx context.Context, event DomainEvent) error
}

// EventStream is an in-process broker. Publishing never blocks; a subscriber
// whose buffer is full misses the event.
type EventStream struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  atomic.Uint64
	dropped atomic.Int64
	closed  bool
	buffer  int
	metrics Metrics
}

// NewEventStream constructs a stream whose subscriptions buffer up to buffer events.
func NewEventStream(buffer int, metrics Metrics) *EventStream {
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}
	return &EventStream{
		subs:    make(map[uint64]*Subscription),
		buffer:  buffer,
		metrics: metricsOrNoop(metrics),
	}
}

// Subscription receives events until Unsubscribe is called or the stream closes.
type Subscription struct {
	id     uint64
	types  []string
	ch     chan DomainEvent
	stream *EventStream
	once   sync.Once
}

// Subscribe registers a subscriber for the given event types, or all types when none are given.
func (s *EventStream) Subscribe(types ...string) *Subscription {
	sub := &Subscription{
		id:     s.nextID.Add(1),
		types:  slices.Clone(types),
		ch:     make(chan DomainEvent, s.buffer),
		stream: s,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(sub.ch)
		sub.once.Do(func() {})
		return sub
	}
	s.subs[sub.id] = sub
	return sub
}

// Events returns the receive channel. It is closed after Unsubscribe.
func (sub *Subscription) Events() <-chan DomainEvent {
	return sub.ch
}

// Unsubscribe stops delivery and closes the channel. Safe to call more than once.
func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.stream.mu.Lock()
		delete(sub.stream.subs, sub.id)
		sub.stream.mu.Unlock()
		close(sub.ch)
	})
}

func (sub *Subscription) wants(eventType string) bool {
	return len(sub.types) == 0 || slices.Contains(sub.types, eventType)
}

// Publish delivers the event to every matching subscriber.
func (s *EventStream) Publish(event DomainEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			s.dropped.Add(1)
			s.metrics.EventDropped()
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (s *EventStream) Dropped() int64 {
	return s.dropped.Load()
}

// Close unsubscribes everyone.
func (s *EventStream) Close() {
	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.closed = true
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// EventBusDeps wires the event bus.
type EventBusDeps struct {
	Stream *EventStream
	// Outbox queues events for the external sink. Nil keeps events in-process.
	Outbox OutboxEnqueuer
	Logger Logger
}

type eventBus struct {
	stream *EventStream
	outbox OutboxEnqueuer
	logger Logger
}

// NewEventBus returns a publisher that delivers to the stream immediately and
// queues the event for external delivery through the outbox.
func NewEventBus(deps EventBusDeps) (EventPublisher, error) {
	if deps.Stream == nil && deps.Outbox == nil {
		return nil, errors.New("event bus: stream or outbox is required")
	}
	return &eventBus{
		stream: deps.Stream,
		outbox: deps.Outbox,
		logger: loggerOrNoop(deps.Logger),
	}, nil
}

func (b *eventBus) Publish(ctx context.Context, event DomainEvent) error {
	if b.stream != nil {
		b.stream.Publish(event)
	}
	if b.outbox == nil {
		return nil
	}
	if _, err := b.outbox.Enqueue(ctx, OutboxKindEventPublish, event.Subject, event); err != nil {
		return fmt.Errorf("queue %s event: %w", event.Type, err)
	}
	return nil
}

// EventSinkHandler returns the outbox handler that forwards queued events to sink.
func EventSinkHandler(sink EventSink) OutboxHandler {
	return func(ctx context.Context, task OutboxTask) error {
		var event DomainEvent
		if err := json.Unmarshal(task.Payload, &event); err != nil {
			return Permanent(fmt.Errorf("decode event payload: %w", err))
		}
		return sink.PublishEvent(ctx, event)
	}
}
