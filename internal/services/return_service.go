package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/textutil"
	"github.com/hanko-field/storefront/internal/repositories"
)

var (
	// ErrReturnInvalidInput indicates the request is malformed.
	ErrReturnInvalidInput = errors.New("return: invalid input")
	// ErrReturnUnauthenticated indicates a return was requested without a signed-in user.
	ErrReturnUnauthenticated = errors.New("return: sign in to request a return")
	// ErrReturnForbidden indicates the actor may not perform the operation.
	ErrReturnForbidden = errors.New("return: forbidden")
	// ErrReturnNotFound indicates the return request does not exist or is not visible to the actor.
	ErrReturnNotFound = errors.New("return: not found")
	// ErrReturnOrderNotFound indicates the referenced order does not exist.
	ErrReturnOrderNotFound = errors.New("return: order not found")
	// ErrReturnOrderNotReturnable indicates the order status does not allow a new return.
	ErrReturnOrderNotReturnable = errors.New("return: order cannot be returned")
	// ErrReturnInvalidTransition indicates the return lifecycle has no such edge.
	ErrReturnInvalidTransition = errors.New("return: invalid status transition")
	// ErrReturnUnavailable indicates a store failed.
	ErrReturnUnavailable = errors.New("return: unavailable")
)

const (
	defaultPickupDelay      = 48 * time.Hour
	defaultBulkConcurrency  = 8
	defaultReturnListLimit  = 50
	maxReturnReasonLength   = 500
	maxReturnNotesLength    = 1000
	maxBulkTransitionLength = 200
)

// ReturnServiceDeps bundles collaborators required to construct the return service.
type ReturnServiceDeps struct {
	Returns       repositories.ReturnRepository
	Orders        repositories.OrderRepository
	Counters      CounterService
	Notifications NotificationService
	// Labels issues a return shipping label on creation. Optional.
	Labels ReturnLabelGenerator
	Events EventPublisher
	// PickupDelay is added to the creation time to schedule pickup.
	PickupDelay     time.Duration
	BulkConcurrency int
	Clock           func() time.Time
	IDGen           func() string
	Logger          Logger
	Metrics         Metrics
}

type returnService struct {
	returns         repositories.ReturnRepository
	orders          repositories.OrderRepository
	counters        CounterService
	notifications   NotificationService
	labels          ReturnLabelGenerator
	events          EventPublisher
	pickupDelay     time.Duration
	bulkConcurrency int
	clock           func() time.Time
	newID           func() string
	logger          Logger
	metrics         Metrics
}

// NewReturnService constructs the return workflow.
func NewReturnService(deps ReturnServiceDeps) (ReturnService, error) {
	switch {
	case deps.Returns == nil:
		return nil, errors.New("return service: return repository is required")
	case deps.Orders == nil:
		return nil, errors.New("return service: order repository is required")
	case deps.Counters == nil:
		return nil, errors.New("return service: counter service is required")
	}
	delay := deps.PickupDelay
	if delay <= 0 {
		delay = defaultPickupDelay
	}
	concurrency := deps.BulkConcurrency
	if concurrency <= 0 {
		concurrency = defaultBulkConcurrency
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &returnService{
		returns:         deps.Returns,
		orders:          deps.Orders,
		counters:        deps.Counters,
		notifications:   deps.Notifications,
		labels:          deps.Labels,
		events:          deps.Events,
		pickupDelay:     delay,
		bulkConcurrency: concurrency,
		clock:           utcClock(deps.Clock),
		newID:           idGen,
		logger:          loggerOrNoop(deps.Logger),
		metrics:         metricsOrNoop(deps.Metrics),
	}, nil
}

// RequestReturn creates a return request and moves the order to Return
// Requested. The two writes are not atomic: when the order update fails the
// request is kept and OrderLinkFailed is set.
func (s *returnService) RequestReturn(ctx context.Context, cmd RequestReturnCommand) (ReturnRequestResult, error) {
	actor := cmd.Actor
	if !actor.Authenticated() {
		return ReturnRequestResult{}, ErrReturnUnauthenticated
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ReturnRequestResult{}, fmt.Errorf("%w: order id is required", ErrReturnInvalidInput)
	}
	reason := textutil.PlainText(cmd.Reason, maxReturnReasonLength)
	if reason == "" {
		return ReturnRequestResult{}, fmt.Errorf("%w: reason is required", ErrReturnInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return ReturnRequestResult{}, fmt.Errorf("%w: %s", ErrReturnOrderNotFound, orderID)
		}
		return ReturnRequestResult{}, fmt.Errorf("%w: load order: %v", ErrReturnUnavailable, err)
	}
	if !actor.Admin && order.UserID != actor.UserID {
		return ReturnRequestResult{}, fmt.Errorf("%w: %s", ErrReturnOrderNotFound, orderID)
	}
	if !order.Status.Returnable() {
		return ReturnRequestResult{}, fmt.Errorf("%w: order is %s", ErrReturnOrderNotReturnable, order.Status)
	}

	items, err := selectReturnItems(order, cmd.Items)
	if err != nil {
		return ReturnRequestResult{}, err
	}

	now := s.clock()
	request := ReturnRequest{
		OrderID:       order.ID,
		UserID:        order.UserID,
		CustomerEmail: order.Customer.Email,
		Items:         items,
		Reason:        reason,
		Status:        domain.ReturnStatusRequested,
		CreatedAt:     now,
		UpdatedAt:     now,
		ScheduledDate: now.Add(s.pickupDelay),
		RefundStatus:  domain.RefundStatusPending,
	}
	if err := s.insertWithSequence(ctx, &request); err != nil {
		return ReturnRequestResult{}, err
	}

	result := ReturnRequestResult{Request: request, Order: order}
	order.Status = domain.OrderStatusReturnRequested
	order.ReturnRequestID = request.ID
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		s.logger(ctx, "return_order_link_failed", map[string]any{
			"returnId": request.ID,
			"orderId":  order.ID,
			"error":    err.Error(),
		})
		result.OrderLinkFailed = true
	} else {
		result.Order = order
	}

	dirty := false
	if s.labels != nil {
		url, err := s.labels.GenerateReturnLabel(ctx, request, order)
		if err != nil {
			s.logger(ctx, "return_label_failed", map[string]any{"returnId": request.ID, "error": err.Error()})
		} else {
			request.LabelURL = url
			dirty = true
		}
	}
	requested := returnNotification(request, "", actor.Locale)
	status, notified := s.notify(ctx, requested)
	if notified {
		request.LastNotificationStatus = status
		dirty = true
	}
	if dirty {
		if err := s.returns.Update(ctx, request); err != nil {
			s.logger(ctx, "return_update_failed", map[string]any{"returnId": request.ID, "error": err.Error()})
		}
	}
	s.retryNotification(ctx, status, requested)
	result.Request = request

	s.publish(ctx, EventReturnRequested, request.ID, actor.UserID, map[string]any{
		"orderId":         order.ID,
		"orderLinkFailed": result.OrderLinkFailed,
	})
	s.metrics.ReturnTransition(string(request.Status))
	return result, nil
}

func (s *returnService) TransitionReturn(ctx context.Context, cmd TransitionReturnCommand) (ReturnRequest, error) {
	if !cmd.Actor.Admin {
		return ReturnRequest{}, fmt.Errorf("%w: staff role required", ErrReturnForbidden)
	}
	request, _, err := s.transition(ctx, cmd)
	return request, err
}

// BulkTransition applies the same transition to each request independently.
// Partial failure is reported in the result, not as an error.
func (s *returnService) BulkTransition(ctx context.Context, cmd BulkTransitionCommand) (BulkTransitionResult, error) {
	if !cmd.Actor.Admin {
		return BulkTransitionResult{}, fmt.Errorf("%w: staff role required", ErrReturnForbidden)
	}
	if !cmd.Status.Valid() {
		return BulkTransitionResult{}, fmt.Errorf("%w: unknown status %q", ErrReturnInvalidInput, cmd.Status)
	}
	ids := uniqueIDs(cmd.ReturnIDs)
	if len(ids) == 0 {
		return BulkTransitionResult{}, fmt.Errorf("%w: at least one return id is required", ErrReturnInvalidInput)
	}
	if len(ids) > maxBulkTransitionLength {
		return BulkTransitionResult{}, fmt.Errorf("%w: at most %d return ids per call", ErrReturnInvalidInput, maxBulkTransitionLength)
	}

	type outcome struct {
		request ReturnRequest
		notice  domain.NotificationStatus
		err     error
	}
	outcomes := make([]outcome, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.bulkConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			request, notice, err := s.transition(gctx, TransitionReturnCommand{
				Actor:    cmd.Actor,
				ReturnID: id,
				Status:   cmd.Status,
				Notes:    cmd.Notes,
			})
			outcomes[i] = outcome{request: request, notice: notice, err: err}
			return nil
		})
	}
	_ = g.Wait()

	result := BulkTransitionResult{}
	for i, o := range outcomes {
		if o.err != nil {
			result.Failed = append(result.Failed, BulkFailure{ID: ids[i], Reason: o.err.Error()})
			continue
		}
		result.Updated = append(result.Updated, o.request)
		if o.notice == domain.NotificationFailed {
			result.FailedEmails = append(result.FailedEmails, o.request.ID)
		}
	}
	s.logger(ctx, "return_bulk_transition", map[string]any{
		"status":       string(cmd.Status),
		"requested":    len(ids),
		"updated":      len(result.Updated),
		"failed":       len(result.Failed),
		"failedEmails": len(result.FailedEmails),
	})
	return result, nil
}

func (s *returnService) GetReturn(ctx context.Context, actor Actor, returnID string) (ReturnRequest, error) {
	returnID = strings.TrimSpace(returnID)
	if returnID == "" {
		return ReturnRequest{}, fmt.Errorf("%w: return id is required", ErrReturnInvalidInput)
	}
	request, err := s.returns.FindByID(ctx, returnID)
	if err != nil {
		return ReturnRequest{}, s.mapRepositoryError(err)
	}
	if !actor.Admin && request.UserID != actor.UserID {
		return ReturnRequest{}, fmt.Errorf("%w: %s", ErrReturnNotFound, returnID)
	}
	return request, nil
}

func (s *returnService) ListReturns(ctx context.Context, filter ReturnListFilter) ([]ReturnRequest, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrReturnInvalidInput, filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 || limit > defaultReturnListLimit {
		limit = defaultReturnListLimit
	}
	requests, err := s.returns.List(ctx, repositories.ReturnListFilter{
		OrderID: strings.TrimSpace(filter.OrderID),
		UserID:  strings.TrimSpace(filter.UserID),
		Status:  filter.Status,
		Limit:   limit,
	})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return requests, nil
}

func (s *returnService) transition(ctx context.Context, cmd TransitionReturnCommand) (ReturnRequest, domain.NotificationStatus, error) {
	if !cmd.Status.Valid() {
		return ReturnRequest{}, domain.NotificationNone, fmt.Errorf("%w: unknown status %q", ErrReturnInvalidInput, cmd.Status)
	}
	request, err := s.GetReturn(ctx, cmd.Actor, cmd.ReturnID)
	if err != nil {
		return ReturnRequest{}, domain.NotificationNone, err
	}
	previous := request.Status
	if !domain.CanTransitionReturn(previous, cmd.Status) {
		return ReturnRequest{}, domain.NotificationNone, fmt.Errorf("%w: %s -> %s", ErrReturnInvalidTransition, previous, cmd.Status)
	}

	now := s.clock()
	request.Status = cmd.Status
	request.UpdatedAt = now
	if notes := textutil.PlainText(cmd.Notes, maxReturnNotesLength); notes != "" {
		request.Notes = notes
	}
	if cmd.Status == domain.ReturnStatusCompleted {
		request.RefundStatus = domain.RefundStatusCompleted
		if request.RefundDate == nil {
			request.RefundDate = &now
		}
		if request.RefundAmount == nil {
			amount := request.ItemsTotal()
			request.RefundAmount = &amount
		}
	}
	if err := s.returns.Update(ctx, request); err != nil {
		return ReturnRequest{}, domain.NotificationNone, s.mapRepositoryError(err)
	}
	s.metrics.ReturnTransition(string(request.Status))

	if cmd.Status == domain.ReturnStatusCompleted {
		s.completeOrder(ctx, request, now)
	}

	changed := returnNotification(request, previous, "")
	status, notified := s.notify(ctx, changed)
	if notified {
		request.LastNotificationStatus = status
		if err := s.returns.Update(ctx, request); err != nil {
			s.logger(ctx, "return_notification_mark_failed", map[string]any{"returnId": request.ID, "error": err.Error()})
		}
		s.retryNotification(ctx, status, changed)
	}

	s.publish(ctx, EventReturnStatusChanged, request.ID, cmd.Actor.UserID, map[string]any{
		"orderId": request.OrderID,
		"from":    string(previous),
		"to":      string(request.Status),
	})
	return request, status, nil
}

// completeOrder moves the linked order to Returned. Failures are logged; the
// return stays completed.
func (s *returnService) completeOrder(ctx context.Context, request ReturnRequest, now time.Time) {
	order, err := s.orders.FindByID(ctx, request.OrderID)
	if err != nil {
		s.logger(ctx, "return_order_complete_failed", map[string]any{"returnId": request.ID, "orderId": request.OrderID, "error": err.Error()})
		return
	}
	if !domain.CanTransitionOrder(order.Status, domain.OrderStatusReturned) {
		return
	}
	applyOrderStatus(&order, domain.OrderStatusReturned, now)
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		s.logger(ctx, "return_order_complete_failed", map[string]any{"returnId": request.ID, "orderId": order.ID, "error": err.Error()})
	}
}

func (s *returnService) insertWithSequence(ctx context.Context, request *ReturnRequest) error {
	for attempt := 1; attempt <= orderInsertAttempts; attempt++ {
		id, err := s.counters.NextID(ctx, domain.ReturnSequence)
		if err != nil {
			return fmt.Errorf("%w: return number: %v", ErrReturnUnavailable, err)
		}
		request.ID = id
		err = s.returns.Insert(ctx, *request)
		if err == nil {
			return nil
		}
		if !isRepoConflict(err) {
			return fmt.Errorf("%w: save return: %v", ErrReturnUnavailable, err)
		}
		s.logger(ctx, "return_id_collision", map[string]any{"returnId": id, "attempt": attempt})
	}
	return fmt.Errorf("%w: could not allocate a unique return number", ErrReturnUnavailable)
}

func returnNotification(request ReturnRequest, previous ReturnStatus, locale string) NotificationEvent {
	event := NotificationEvent{
		Kind:           NotificationReturnStatusChanged,
		To:             request.CustomerEmail,
		Locale:         locale,
		OrderID:        request.OrderID,
		ReturnID:       request.ID,
		Status:         string(request.Status),
		PreviousStatus: string(previous),
		RefundAmount:   request.RefundAmount,
		LabelURL:       request.LabelURL,
		OccurredAt:     request.UpdatedAt,
	}
	if request.Status == domain.ReturnStatusRequested {
		scheduled := request.ScheduledDate
		event.ScheduledDate = &scheduled
	}
	return event
}

func (s *returnService) notify(ctx context.Context, event NotificationEvent) (domain.NotificationStatus, bool) {
	if s.notifications == nil || strings.TrimSpace(event.To) == "" {
		return domain.NotificationNone, false
	}
	if s.notifications.Notify(ctx, event).Success {
		return domain.NotificationSent, true
	}
	return domain.NotificationFailed, true
}

func (s *returnService) retryNotification(ctx context.Context, status domain.NotificationStatus, event NotificationEvent) {
	if s.notifications == nil || status != domain.NotificationFailed {
		return
	}
	_ = s.notifications.QueueRetry(ctx, event)
}

func (s *returnService) publish(ctx context.Context, eventType, returnID, actorID string, data map[string]any) {
	if s.events == nil {
		return
	}
	event, err := NewDomainEvent(s.newID(), eventType, returnID, actorID, s.clock(), data)
	if err == nil {
		err = s.events.Publish(ctx, event)
	}
	if err != nil {
		s.logger(ctx, "return_event_publish_failed", map[string]any{"returnId": returnID, "type": eventType, "error": err.Error()})
	}
}

func (s *returnService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrReturnNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrReturnUnavailable, err)
		}
	}
	return err
}

// selectReturnItems resolves requested lines against the order. No input
// means the whole order is returned.
func selectReturnItems(order Order, inputs []ReturnItemInput) ([]ReturnItem, error) {
	if len(inputs) == 0 {
		items := make([]ReturnItem, 0, len(order.Items))
		for _, line := range order.Items {
			items = append(items, ReturnItem{
				ProductID: line.Product.ID,
				VariantID: line.Variant.ID,
				Quantity:  line.Quantity,
				Price:     line.Price,
			})
		}
		return items, nil
	}

	ordered := make(map[string]OrderItem, len(order.Items))
	for _, line := range order.Items {
		key := line.Product.ID + "/" + line.Variant.ID
		if existing, ok := ordered[key]; ok {
			existing.Quantity += line.Quantity
			ordered[key] = existing
			continue
		}
		ordered[key] = line
	}

	items := make([]ReturnItem, 0, len(inputs))
	index := make(map[string]int, len(inputs))
	for _, in := range inputs {
		key := strings.TrimSpace(in.ProductID) + "/" + strings.TrimSpace(in.VariantID)
		line, ok := ordered[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s is not part of order %s", ErrReturnInvalidInput, key, order.ID)
		}
		if in.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrReturnInvalidInput, key)
		}
		if i, seen := index[key]; seen {
			items[i].Quantity += in.Quantity
		} else {
			index[key] = len(items)
			items = append(items, ReturnItem{
				ProductID: line.Product.ID,
				VariantID: line.Variant.ID,
				Quantity:  in.Quantity,
				Price:     line.Price,
			})
		}
		if items[index[key]].Quantity > line.Quantity {
			return nil, fmt.Errorf("%w: cannot return more than %d of %s", ErrReturnInvalidInput, line.Quantity, key)
		}
	}
	return items, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
