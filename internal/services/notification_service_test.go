package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories/memory"
)

func TestMoneyFormatter(t *testing.T) {
	assert.Equal(t, "USD 12.50", MoneyFormatter{Currency: "USD", Exponent: 2}.Format(1250))
	assert.Equal(t, "JPY 1000", MoneyFormatter{Currency: "JPY"}.Format(1000))
	assert.Equal(t, "0.05", MoneyFormatter{Exponent: 2}.Format(5))
}

func TestNotificationServiceRendersByKindAndLocale(t *testing.T) {
	var subjects, bodies []string
	transport := &stubTransport{sendFn: func(_ context.Context, _, subject, body string) error {
		subjects = append(subjects, subject)
		bodies = append(bodies, body)
		return nil
	}}
	svc, err := NewNotificationService(NotificationServiceDeps{Transport: transport, Money: MoneyFormatter{Currency: "JPY"}})
	require.NoError(t, err)

	res := svc.Notify(context.Background(), NotificationEvent{Kind: NotificationOrderPlaced, To: "a@example.com", OrderID: "ORD-01", Total: 1000})
	assert.True(t, res.Success)

	refund := int64(500)
	res = svc.Notify(context.Background(), NotificationEvent{
		Kind:         NotificationReturnStatusChanged,
		To:           "a@example.com",
		Locale:       "ja-JP",
		OrderID:      "ORD-01",
		ReturnID:     "RET-01",
		Status:       "Completed",
		RefundAmount: &refund,
	})
	assert.True(t, res.Success)

	require.Len(t, subjects, 2)
	assert.Equal(t, "Order ORD-01 confirmed", subjects[0])
	assert.Contains(t, bodies[0], "JPY 1000")
	assert.True(t, strings.HasPrefix(subjects[1], "返品 RET-01"))
	assert.Contains(t, bodies[1], "Refund: JPY 500")
}

func TestNotificationServiceFailureIsReportedAndQueued(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	outboxRepo := memory.NewOutboxRepository()
	transport := &stubTransport{failTo: map[string]bool{"bad@example.com": true}}
	logs := &logRecorder{}
	metrics := &recordingMetrics{}

	svc, err := NewNotificationService(NotificationServiceDeps{
		Transport: transport,
		Outbox:    newTestOutbox(t, outboxRepo, clock),
		Clock:     clock,
		Logger:    logs.Logger(),
		Metrics:   metrics,
	})
	require.NoError(t, err)

	res := svc.Notify(context.Background(), NotificationEvent{Kind: NotificationOrderStatusChanged, To: "bad@example.com", OrderID: "ORD-02", Status: "Shipped"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "transport refused")
	assert.Contains(t, logs.events(), "notification_failed")
	assert.Equal(t, 1, metrics.count("notification_failed:order_status_changed"))
	assert.Empty(t, outboxRepo.Tasks(), "retries are queued by the caller")

	require.NoError(t, svc.QueueRetry(context.Background(), NotificationEvent{Kind: NotificationOrderStatusChanged, To: "bad@example.com", OrderID: "ORD-02", Status: "Shipped"}))
	tasks := outboxRepo.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, OutboxKindNotificationRetry, tasks[0].Kind)
	assert.Equal(t, "ORD-02", tasks[0].Key)

	event := NotificationEvent{Kind: NotificationOrderPlaced, OrderID: "ORD-03"}
	res = svc.Notify(context.Background(), event)
	assert.False(t, res.Success, "missing recipient")
	require.NoError(t, svc.QueueRetry(context.Background(), event))
	assert.Len(t, outboxRepo.Tasks(), 1, "nothing to retry without a recipient")
}

func TestNotificationRetryMarksRecordSent(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	registry := memory.NewRegistry()
	ctx := context.Background()
	require.NoError(t, registry.Returns().Insert(ctx, domain.ReturnRequest{ID: "RET-01", OrderID: "ORD-01", LastNotificationStatus: domain.NotificationFailed}))

	marker, err := NewRecordMarker(RecordMarkerDeps{Orders: registry.Orders(), Returns: registry.Returns(), Clock: clock})
	require.NoError(t, err)

	down := true
	transport := &stubTransport{sendFn: func(context.Context, string, string, string) error {
		if down {
			return errTransportRefused
		}
		return nil
	}}
	outboxRepo := memory.NewOutboxRepository()
	svc, err := NewNotificationService(NotificationServiceDeps{
		Transport: transport,
		Outbox:    newTestOutbox(t, outboxRepo, clock),
		Marker:    marker,
		Clock:     clock,
	})
	require.NoError(t, err)

	event := NotificationEvent{Kind: NotificationReturnStatusChanged, To: "c@example.com", OrderID: "ORD-01", ReturnID: "RET-01", Status: "Approved"}
	res := svc.Notify(ctx, event)
	require.False(t, res.Success)
	require.NoError(t, svc.QueueRetry(ctx, event))

	down = false
	worker, err := NewOutboxWorker(OutboxWorkerDeps{Repository: outboxRepo, Clock: clock})
	require.NoError(t, err)
	worker.Handle(OutboxKindNotificationRetry, svc.RetryHandler())
	report, err := worker.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)

	updated, err := registry.Returns().FindByID(ctx, "RET-01")
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationSent, updated.LastNotificationStatus)
}
