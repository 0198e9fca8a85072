package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

// NotificationServiceDeps bundles collaborators required to construct the notification service.
type NotificationServiceDeps struct {
	Transport NotificationTransport
	// Outbox receives failed notifications for retry. Optional.
	Outbox OutboxEnqueuer
	// Marker records delivery outcomes of retried notifications. Optional.
	Marker  NotificationMarker
	Money   MoneyFormatter
	Clock   func() time.Time
	Logger  Logger
	Metrics Metrics
}

// NotificationMarker stores the last notification outcome on the originating record.
type NotificationMarker interface {
	MarkNotification(ctx context.Context, event NotificationEvent, status domain.NotificationStatus) error
}

// MoneyFormatter renders minor-unit amounts for customer messages.
type MoneyFormatter struct {
	Currency string
	// Exponent is the number of minor-unit digits, 0 for JPY and 2 for USD.
	Exponent int32
}

// Format renders amount as e.g. "USD 12.50".
func (f MoneyFormatter) Format(amount int64) string {
	value := decimal.New(amount, -f.Exponent).StringFixed(f.Exponent)
	if f.Currency == "" {
		return value
	}
	return f.Currency + " " + value
}

type notificationService struct {
	transport NotificationTransport
	outbox    OutboxEnqueuer
	marker    NotificationMarker
	money     MoneyFormatter
	clock     func() time.Time
	logger    Logger
	metrics   Metrics
}

var notificationLanguages = language.NewMatcher([]language.Tag{language.English, language.Japanese})

// NewNotificationService constructs the best-effort notification dispatcher.
func NewNotificationService(deps NotificationServiceDeps) (*NotificationDispatcher, error) {
	if deps.Transport == nil {
		return nil, errors.New("notification service: transport is required")
	}
	return &NotificationDispatcher{svc: &notificationService{
		transport: deps.Transport,
		outbox:    deps.Outbox,
		marker:    deps.Marker,
		money:     deps.Money,
		clock:     utcClock(deps.Clock),
		logger:    loggerOrNoop(deps.Logger),
		metrics:   metricsOrNoop(deps.Metrics),
	}}, nil
}

// NotificationDispatcher implements NotificationService and exposes the outbox retry handler.
type NotificationDispatcher struct {
	svc *notificationService
}

var _ NotificationService = (*NotificationDispatcher)(nil)

// Notify sends the message inline. A failure is logged and reported in the
// result; it is never returned as an error. Callers persist the failure and
// then hand the event to QueueRetry.
func (d *NotificationDispatcher) Notify(ctx context.Context, event NotificationEvent) NotificationResult {
	s := d.svc
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.clock()
	}
	err := s.send(ctx, event)
	s.metrics.NotificationSent(string(event.Kind), err == nil)
	if err == nil {
		return NotificationResult{Success: true, Message: "sent to " + event.To}
	}

	s.logger(ctx, "notification_failed", map[string]any{
		"kind":     string(event.Kind),
		"orderId":  event.OrderID,
		"returnId": event.ReturnID,
		"error":    err.Error(),
	})
	return NotificationResult{Success: false, Message: err.Error()}
}

// QueueRetry schedules another delivery of a failed notification. The retry
// marks the record Sent, so it must be queued after the Failed marker is stored.
func (d *NotificationDispatcher) QueueRetry(ctx context.Context, event NotificationEvent) error {
	s := d.svc
	if s.outbox == nil || strings.TrimSpace(event.To) == "" {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.clock()
	}
	if _, err := s.outbox.Enqueue(ctx, OutboxKindNotificationRetry, notificationSubject(event), event); err != nil {
		s.logger(ctx, "notification_retry_enqueue_failed", map[string]any{
			"orderId":  event.OrderID,
			"returnId": event.ReturnID,
			"error":    err.Error(),
		})
		return err
	}
	return nil
}

// RetryHandler resends queued notifications and marks the originating record on success.
func (d *NotificationDispatcher) RetryHandler() OutboxHandler {
	s := d.svc
	return func(ctx context.Context, task OutboxTask) error {
		var event NotificationEvent
		if err := json.Unmarshal(task.Payload, &event); err != nil {
			return Permanent(fmt.Errorf("decode notification payload: %w", err))
		}
		err := s.send(ctx, event)
		s.metrics.NotificationSent(string(event.Kind), err == nil)
		if err != nil {
			return err
		}
		if s.marker != nil {
			if merr := s.marker.MarkNotification(ctx, event, domain.NotificationSent); merr != nil {
				s.logger(ctx, "notification_mark_failed", map[string]any{"orderId": event.OrderID, "returnId": event.ReturnID, "error": merr.Error()})
			}
		}
		return nil
	}
}

func (s *notificationService) send(ctx context.Context, event NotificationEvent) error {
	to := strings.TrimSpace(event.To)
	if to == "" {
		return errors.New("notification: recipient is required")
	}
	subject, body := s.render(event)
	return s.transport.Send(ctx, to, subject, body)
}

func (s *notificationService) render(event NotificationEvent) (string, string) {
	japanese := notificationLanguage(event.Locale) == language.Japanese
	var subject string
	var b strings.Builder

	switch event.Kind {
	case NotificationOrderPlaced:
		if japanese {
			subject = fmt.Sprintf("ご注文 %s を承りました", event.OrderID)
			fmt.Fprintf(&b, "ご注文ありがとうございます。合計金額: %s\n", s.money.Format(event.Total))
		} else {
			subject = fmt.Sprintf("Order %s confirmed", event.OrderID)
			fmt.Fprintf(&b, "Thank you for your order. Total: %s\n", s.money.Format(event.Total))
		}
	case NotificationOrderStatusChanged:
		if japanese {
			subject = fmt.Sprintf("ご注文 %s のステータス: %s", event.OrderID, event.Status)
		} else {
			subject = fmt.Sprintf("Order %s is now %s", event.OrderID, event.Status)
		}
		fmt.Fprintf(&b, "%s -> %s\n", event.PreviousStatus, event.Status)
		if event.TrackingNumber != "" {
			fmt.Fprintf(&b, "Tracking: %s\n", event.TrackingNumber)
		}
	case NotificationReturnStatusChanged:
		if japanese {
			subject = fmt.Sprintf("返品 %s のステータス: %s", event.ReturnID, event.Status)
		} else {
			subject = fmt.Sprintf("Return %s is now %s", event.ReturnID, event.Status)
		}
		fmt.Fprintf(&b, "Order: %s\n", event.OrderID)
		if event.ScheduledDate != nil {
			fmt.Fprintf(&b, "Pickup: %s\n", event.ScheduledDate.Format("2006-01-02"))
		}
		if event.RefundAmount != nil {
			fmt.Fprintf(&b, "Refund: %s\n", s.money.Format(*event.RefundAmount))
		}
		if event.LabelURL != "" {
			fmt.Fprintf(&b, "Label: %s\n", event.LabelURL)
		}
	default:
		subject = fmt.Sprintf("Update on order %s", event.OrderID)
		fmt.Fprintf(&b, "Status: %s\n", event.Status)
	}
	return subject, b.String()
}

func notificationLanguage(locale string) language.Tag {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return language.English
	}
	_, idx, _ := notificationLanguages.Match(tag)
	if idx == 1 {
		return language.Japanese
	}
	return language.English
}

func notificationSubject(event NotificationEvent) string {
	if event.ReturnID != "" {
		return event.ReturnID
	}
	return event.OrderID
}

// RecordMarkerDeps wires the repository-backed notification marker.
type RecordMarkerDeps struct {
	Orders  repositories.OrderRepository
	Returns repositories.ReturnRepository
	Clock   func() time.Time
}

type recordMarker struct {
	orders  repositories.OrderRepository
	returns repositories.ReturnRepository
	clock   func() time.Time
}

// NewRecordMarker writes notification outcomes onto orders and return requests.
func NewRecordMarker(deps RecordMarkerDeps) (NotificationMarker, error) {
	if deps.Orders == nil || deps.Returns == nil {
		return nil, errors.New("notification marker: order and return repositories are required")
	}
	return &recordMarker{orders: deps.Orders, returns: deps.Returns, clock: utcClock(deps.Clock)}, nil
}

func (m *recordMarker) MarkNotification(ctx context.Context, event NotificationEvent, status domain.NotificationStatus) error {
	if event.ReturnID != "" {
		request, err := m.returns.FindByID(ctx, event.ReturnID)
		if err != nil {
			return err
		}
		request.LastNotificationStatus = status
		request.UpdatedAt = m.clock()
		return m.returns.Update(ctx, request)
	}
	if event.OrderID == "" {
		return nil
	}
	order, err := m.orders.FindByID(ctx, event.OrderID)
	if err != nil {
		return err
	}
	order.LastNotificationStatus = status
	order.UpdatedAt = m.clock()
	return m.orders.Update(ctx, order)
}
