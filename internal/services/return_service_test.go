package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

type stubLabelGenerator struct {
	url string
	err error
}

func (s stubLabelGenerator) GenerateReturnLabel(context.Context, ReturnRequest, Order) (string, error) {
	return s.url, s.err
}

var staff = Actor{UserID: "staff-1", Email: "ops@example.com", Admin: true}

func seedDeliveredOrder(t *testing.T, fx *commerceFixture, id, userID, email string) Order {
	t.Helper()
	order := Order{
		ID:       id,
		UserID:   userID,
		Customer: domain.OrderCustomer{ID: userID, Email: email},
		Items: []OrderItem{{
			Product:  domain.ProductSnapshot{ID: "p1", Name: "Tee"},
			Variant:  domain.VariantSnapshot{ID: "v1", Size: "M"},
			Quantity: 2,
			Price:    500,
		}},
		Subtotal:         1000,
		Total:            1000,
		Status:           domain.OrderStatusDelivered,
		InventoryUpdated: true,
		CreatedAt:        fx.now.Add(-72 * time.Hour),
		UpdatedAt:        fx.now.Add(-24 * time.Hour),
	}
	require.NoError(t, fx.registry.Orders().Insert(context.Background(), order))
	return order
}

func TestRequestReturnOnDeliveredOrder(t *testing.T) {
	fx := newCommerceFixture(t)
	ctx := context.Background()
	seedDeliveredOrder(t, fx, "ORD-01", "u1", "ada@example.com")

	result, err := fx.returns.RequestReturn(ctx, RequestReturnCommand{
		Actor:   shopper(),
		OrderID: "ORD-01",
		Items:   []ReturnItemInput{{ProductID: "p1", VariantID: "v1", Quantity: 1}},
		Reason:  "wrong size",
	})
	require.NoError(t, err)

	request := result.Request
	assert.Equal(t, "RET-01", request.ID)
	assert.Equal(t, domain.ReturnStatusRequested, request.Status)
	assert.Equal(t, request.CreatedAt.Add(48*time.Hour), request.ScheduledDate)
	assert.Equal(t, "wrong size", request.Reason)
	assert.Equal(t, domain.RefundStatusPending, request.RefundStatus)
	assert.Equal(t, int64(500), request.ItemsTotal())
	assert.False(t, result.OrderLinkFailed)

	order, err := fx.registry.Orders().FindByID(ctx, "ORD-01")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusReturnRequested, order.Status)
	assert.Equal(t, "RET-01", order.ReturnRequestID)

	_, err = fx.returns.RequestReturn(ctx, RequestReturnCommand{Actor: shopper(), OrderID: "ORD-01", Reason: "again"})
	assert.ErrorIs(t, err, ErrReturnOrderNotReturnable, "one active return per order")
}

func TestRequestReturnValidation(t *testing.T) {
	fx := newCommerceFixture(t)
	ctx := context.Background()
	seedDeliveredOrder(t, fx, "ORD-01", "u1", "ada@example.com")

	_, err := fx.returns.RequestReturn(ctx, RequestReturnCommand{Actor: Actor{}, OrderID: "ORD-01", Reason: "x"})
	assert.ErrorIs(t, err, ErrReturnUnauthenticated)

	_, err = fx.returns.RequestReturn(ctx, RequestReturnCommand{Actor: shopper(), OrderID: "ORD-77", Reason: "x"})
	assert.ErrorIs(t, err, ErrReturnOrderNotFound)

	_, err = fx.returns.RequestReturn(ctx, RequestReturnCommand{Actor: Actor{UserID: "intruder"}, OrderID: "ORD-01", Reason: "x"})
	assert.ErrorIs(t, err, ErrReturnOrderNotFound)

	_, err = fx.returns.RequestReturn(ctx, RequestReturnCommand{Actor: shopper(), OrderID: "ORD-01", Reason: "<b></b>"})
	assert.ErrorIs(t, err, ErrReturnInvalidInput)

	_, err = fx.returns.RequestReturn(ctx, RequestReturnCommand{
		Actor:   shopper(),
		OrderID: "ORD-01",
		Items:   []ReturnItemInput{{ProductID: "p1", VariantID: "v1", Quantity: 3}},
		Reason:  "too many",
	})
	assert.ErrorIs(t, err, ErrReturnInvalidInput)

	_, err = fx.returns.RequestReturn(ctx, RequestReturnCommand{
		Actor:   shopper(),
		OrderID: "ORD-01",
		Items:   []ReturnItemInput{{ProductID: "p9", VariantID: "v9", Quantity: 1}},
		Reason:  "not mine",
	})
	assert.ErrorIs(t, err, ErrReturnInvalidInput)

	order := seedDeliveredOrder(t, fx, "ORD-02", "u1", "ada@example.com")
	order.Status = domain.OrderStatusCancelled
	require.NoError(t, fx.registry.Orders().Update(ctx, order))
	_, err = fx.returns.RequestReturn(ctx, RequestReturnCommand{Actor: shopper(), OrderID: "ORD-02", Reason: "x"})
	assert.ErrorIs(t, err, ErrReturnOrderNotReturnable)
}

func TestRequestReturnAttachesLabel(t *testing.T) {
	fx := newCommerceFixture(t)
	ctx := context.Background()
	seedDeliveredOrder(t, fx, "ORD-01", "u1", "ada@example.com")

	svc, err := NewReturnService(ReturnServiceDeps{
		Returns:  fx.registry.Returns(),
		Orders:   fx.registry.Orders(),
		Counters: mustCounter(t, fx),
		Labels:   stubLabelGenerator{url: "https://storage.example.com/labels/RET-01.txt"},
		Clock:    func() time.Time { return fx.now },
	})
	require.NoError(t, err)

	result, err := svc.RequestReturn(ctx, RequestReturnCommand{Actor: shopper(), OrderID: "ORD-01", Reason: "damaged"})
	require.NoError(t, err)
	assert.Equal(t, "https://storage.example.com/labels/RET-01.txt", result.Request.LabelURL)
	assert.Len(t, result.Request.Items, 1)
	assert.Equal(t, 2, result.Request.Items[0].Quantity)

	stored, err := fx.registry.Returns().FindByID(ctx, result.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Request.LabelURL, stored.LabelURL)
}

func mustCounter(t *testing.T, fx *commerceFixture) CounterService {
	t.Helper()
	svc, err := NewCounterService(CounterServiceDeps{Repository: fx.registry.Counters(), Sleep: noSleep})
	require.NoError(t, err)
	return svc
}

func requestReturnFor(t *testing.T, fx *commerceFixture, orderID, userID, email string) ReturnRequest {
	t.Helper()
	seedDeliveredOrder(t, fx, orderID, userID, email)
	result, err := fx.returns.RequestReturn(context.Background(), RequestReturnCommand{
		Actor:   Actor{UserID: userID, Email: email},
		OrderID: orderID,
		Reason:  "changed my mind",
	})
	require.NoError(t, err)
	return result.Request
}

func TestTransitionReturnLifecycle(t *testing.T) {
	fx := newCommerceFixture(t)
	ctx := context.Background()
	request := requestReturnFor(t, fx, "ORD-01", "u1", "ada@example.com")

	_, err := fx.returns.TransitionReturn(ctx, TransitionReturnCommand{Actor: shopper(), ReturnID: request.ID, Status: domain.ReturnStatusApproved})
	assert.ErrorIs(t, err, ErrReturnForbidden)

	_, err = fx.returns.TransitionReturn(ctx, TransitionReturnCommand{Actor: staff, ReturnID: request.ID, Status: domain.ReturnStatusCompleted})
	assert.ErrorIs(t, err, ErrReturnInvalidTransition)

	for _, status := range []ReturnStatus{domain.ReturnStatusApproved, domain.ReturnStatusInProgress} {
		_, err = fx.returns.TransitionReturn(ctx, TransitionReturnCommand{Actor: staff, ReturnID: request.ID, Status: status})
		require.NoError(t, err)
	}

	fx.now = fx.now.Add(96 * time.Hour)
	completed, err := fx.returns.TransitionReturn(ctx, TransitionReturnCommand{
		Actor:    staff,
		ReturnID: request.ID,
		Status:   domain.ReturnStatusCompleted,
		Notes:    "<i>refunded</i> to card",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusCompleted, completed.RefundStatus)
	require.NotNil(t, completed.RefundDate)
	assert.Equal(t, fx.now, *completed.RefundDate)
	require.NotNil(t, completed.RefundAmount)
	assert.Equal(t, int64(1000), *completed.RefundAmount)
	assert.Equal(t, "refunded to card", completed.Notes)

	order, err := fx.registry.Orders().FindByID(ctx, "ORD-01")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusReturned, order.Status)
	require.NotNil(t, order.ReturnedAt)

	_, err = fx.returns.TransitionReturn(ctx, TransitionReturnCommand{Actor: staff, ReturnID: request.ID, Status: domain.ReturnStatusRejected})
	assert.ErrorIs(t, err, ErrReturnInvalidTransition)
}

func TestTransitionReturnRejectionKeepsOrderReturnRequested(t *testing.T) {
	fx := newCommerceFixture(t)
	ctx := context.Background()
	request := requestReturnFor(t, fx, "ORD-01", "u1", "ada@example.com")

	rejected, err := fx.returns.TransitionReturn(ctx, TransitionReturnCommand{Actor: staff, ReturnID: request.ID, Status: domain.ReturnStatusRejected})
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusRejected, rejected.Status)
	assert.Equal(t, domain.RefundStatusPending, rejected.RefundStatus)

	order, _ := fx.registry.Orders().FindByID(ctx, "ORD-01")
	assert.Equal(t, domain.OrderStatusReturnRequested, order.Status)
}

func TestBulkTransitionReportsFailedEmails(t *testing.T) {
	fx := newCommerceFixture(t)
	ctx := context.Background()
	first := requestReturnFor(t, fx, "ORD-01", "u1", "one@example.com")
	second := requestReturnFor(t, fx, "ORD-02", "u2", "two@example.com")
	third := requestReturnFor(t, fx, "ORD-03", "u3", "three@example.com")
	fx.transport.mu.Lock()
	fx.transport.failTo["two@example.com"] = true
	fx.transport.mu.Unlock()

	result, err := fx.returns.BulkTransition(ctx, BulkTransitionCommand{
		Actor:     staff,
		ReturnIDs: []string{first.ID, second.ID, third.ID},
		Status:    domain.ReturnStatusApproved,
	})
	require.NoError(t, err)
	require.Len(t, result.Updated, 3)
	assert.Empty(t, result.Failed)
	assert.Equal(t, []string{second.ID}, result.FailedEmails)

	for _, updated := range result.Updated {
		assert.Equal(t, domain.ReturnStatusApproved, updated.Status)
	}
	stored, err := fx.registry.Returns().FindByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusApproved, stored.Status)
	assert.Equal(t, domain.NotificationFailed, stored.LastNotificationStatus)

	other, err := fx.registry.Returns().FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationSent, other.LastNotificationStatus)
}

func TestBulkTransitionPartialFailure(t *testing.T) {
	fx := newCommerceFixture(t)
	ctx := context.Background()
	first := requestReturnFor(t, fx, "ORD-01", "u1", "one@example.com")
	second := requestReturnFor(t, fx, "ORD-02", "u2", "two@example.com")
	_, err := fx.returns.TransitionReturn(ctx, TransitionReturnCommand{Actor: staff, ReturnID: second.ID, Status: domain.ReturnStatusRejected})
	require.NoError(t, err)

	result, err := fx.returns.BulkTransition(ctx, BulkTransitionCommand{
		Actor:     staff,
		ReturnIDs: []string{first.ID, second.ID, "RET-99", first.ID},
		Status:    domain.ReturnStatusApproved,
	})
	require.NoError(t, err)
	require.Len(t, result.Updated, 1)
	assert.Equal(t, first.ID, result.Updated[0].ID)
	require.Len(t, result.Failed, 2)
	assert.Equal(t, second.ID, result.Failed[0].ID)
	assert.Equal(t, "RET-99", result.Failed[1].ID)

	_, err = fx.returns.BulkTransition(ctx, BulkTransitionCommand{Actor: shopper(), ReturnIDs: []string{first.ID}, Status: domain.ReturnStatusApproved})
	assert.ErrorIs(t, err, ErrReturnForbidden)
	_, err = fx.returns.BulkTransition(ctx, BulkTransitionCommand{Actor: staff, Status: domain.ReturnStatusApproved})
	assert.ErrorIs(t, err, ErrReturnInvalidInput)
}

func TestGetReturnHidesOtherCustomersRequests(t *testing.T) {
	fx := newCommerceFixture(t)
	ctx := context.Background()
	request := requestReturnFor(t, fx, "ORD-01", "u1", "ada@example.com")

	got, err := fx.returns.GetReturn(ctx, shopper(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, request.ID, got.ID)

	_, err = fx.returns.GetReturn(ctx, Actor{UserID: "u2"}, request.ID)
	assert.ErrorIs(t, err, ErrReturnNotFound)

	list, err := fx.returns.ListReturns(ctx, ReturnListFilter{OrderID: "ORD-01"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRequestReturnOrderLinkFailure(t *testing.T) {
	fx := newCommerceFixture(t)
	ctx := context.Background()
	seedDeliveredOrder(t, fx, "ORD-01", "u1", "ada@example.com")
	logs := &logRecorder{}

	svc, err := NewReturnService(ReturnServiceDeps{
		Returns:  fx.registry.Returns(),
		Orders:   &failingUpdateOrders{OrderRepository: fx.registry.Orders()},
		Counters: mustCounter(t, fx),
		Logger:   logs.Logger(),
	})
	require.NoError(t, err)

	result, err := svc.RequestReturn(ctx, RequestReturnCommand{Actor: shopper(), OrderID: "ORD-01", Reason: "damaged"})
	require.NoError(t, err)
	assert.True(t, result.OrderLinkFailed)
	assert.Equal(t, domain.OrderStatusDelivered, result.Order.Status)
	assert.Contains(t, logs.events(), "return_order_link_failed")

	_, err = fx.registry.Returns().FindByID(ctx, result.Request.ID)
	assert.NoError(t, err, "the request survives a failed order update")
}

type failingUpdateOrders struct {
	repositories.OrderRepository
}

func (f *failingUpdateOrders) Update(context.Context, Order) error {
	return errors.New("write rejected")
}
