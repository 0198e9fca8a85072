package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/storefront/internal/repositories/memory"
)

type stubEventSink struct {
	published []DomainEvent
	err       error
}

func (s *stubEventSink) PublishEvent(_ context.Context, event DomainEvent) error {
	if s.err != nil {
		return s.err
	}
	s.published = append(s.published, event)
	return nil
}

func TestEventStreamFiltersByType(t *testing.T) {
	stream := NewEventStream(4, nil)
	orders := stream.Subscribe(EventOrderPlaced)
	all := stream.Subscribe()
	defer orders.Unsubscribe()
	defer all.Unsubscribe()

	stream.Publish(DomainEvent{ID: "1", Type: EventCartUpdated})
	stream.Publish(DomainEvent{ID: "2", Type: EventOrderPlaced})

	got := <-orders.Events()
	assert.Equal(t, "2", got.ID)
	assert.Len(t, orders.Events(), 0)
	assert.Len(t, all.Events(), 2)
}

func TestEventStreamUnsubscribeClosesChannel(t *testing.T) {
	stream := NewEventStream(1, nil)
	sub := stream.Subscribe()
	sub.Unsubscribe()
	sub.Unsubscribe()

	_, open := <-sub.Events()
	assert.False(t, open)

	stream.Publish(DomainEvent{Type: EventOrderPlaced})
	assert.Zero(t, stream.Dropped())
}

func TestEventStreamDropsWhenSubscriberIsFull(t *testing.T) {
	metrics := &recordingMetrics{}
	stream := NewEventStream(1, metrics)
	sub := stream.Subscribe()

	stream.Publish(DomainEvent{ID: "1"})
	stream.Publish(DomainEvent{ID: "2"})

	assert.Equal(t, int64(1), stream.Dropped())
	assert.Equal(t, 1, metrics.count("event_dropped"))

	stream.Close()
	first, open := <-sub.Events()
	assert.True(t, open)
	assert.Equal(t, "1", first.ID)
	_, open = <-sub.Events()
	assert.False(t, open)

	late := stream.Subscribe()
	_, open = <-late.Events()
	assert.False(t, open, "subscribing after close yields a closed channel")
}

func TestEventBusQueuesForSinkAndWorkerDelivers(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	repo := memory.NewOutboxRepository()
	ob := newTestOutbox(t, repo, clock)
	stream := NewEventStream(4, nil)
	sub := stream.Subscribe(EventOrderPlaced)

	bus, err := NewEventBus(EventBusDeps{Stream: stream, Outbox: ob})
	require.NoError(t, err)

	event, err := NewDomainEvent("evt-1", EventOrderPlaced, "ORD-01", "u1", now, map[string]int64{"total": 1000})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), event))

	received := <-sub.Events()
	assert.Equal(t, "ORD-01", received.Subject)

	sink := &stubEventSink{}
	worker, err := NewOutboxWorker(OutboxWorkerDeps{Repository: repo, Clock: clock})
	require.NoError(t, err)
	worker.Handle(OutboxKindEventPublish, EventSinkHandler(sink))

	report, err := worker.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)
	require.Len(t, sink.published, 1)

	var data map[string]int64
	require.NoError(t, json.Unmarshal(sink.published[0].Data, &data))
	assert.Equal(t, int64(1000), data["total"])
}

func TestEventSinkHandlerRejectsCorruptPayload(t *testing.T) {
	handler := EventSinkHandler(&stubEventSink{err: errors.New("unused")})
	err := handler(context.Background(), OutboxTask{Payload: []byte("{")})
	assert.True(t, IsPermanent(err))
}
