package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/platform/metrics"
	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/repositories"
	"github.com/hanko-field/storefront/internal/services"
)

const backlogReportTimeout = 10 * time.Second

var backlogStatuses = []domain.OutboxStatus{domain.OutboxPending, domain.OutboxProcessing, domain.OutboxFailed}

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart          services.CartService
	Counters      services.CounterService
	Inventory     services.InventoryService
	Orders        services.OrderService
	Returns       services.ReturnService
	Notifications services.NotificationService
	Events        services.EventPublisher
}

// Dependencies are the adapters built outside the container, usually in main.
type Dependencies struct {
	Registry repositories.Registry
	// LocalCarts holds session carts. Defaults to the registry cart store, in which case no remote
	// mirror is kept.
	LocalCarts repositories.CartRepository
	Transport  services.NotificationTransport
	// Labels is optional; return requests are created without a label when nil.
	Labels services.ReturnLabelGenerator
	// Sink receives domain events drained from the outbox. Nil keeps events in-process.
	Sink    services.EventSink
	Metrics *metrics.Recorder
	Logger  *zap.Logger
	Clock   func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Stream       *services.EventStream
	Worker       *services.OutboxWorker
	Metrics      *metrics.Recorder

	logger *zap.Logger
}

// NewContainer constructs the runtime dependencies. Tests supply the in-memory registry.
func NewContainer(_ context.Context, cfg config.Config, deps Dependencies) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Transport == nil {
		return nil, errors.New("notification transport is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.New()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	c := &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Metrics:      recorder,
		Stream:       services.NewEventStream(cfg.Events.StreamBuffer, recorder),
		logger:       logger,
	}
	if err := c.build(cfg, deps, clock); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Container) build(cfg config.Config, deps Dependencies, clock func() time.Time) error {
	reg := deps.Registry
	events := observability.EventLogger(c.logger.Named("services"))
	pricing := domain.PricingPolicy{FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold}

	outbox, err := services.NewOutbox(services.OutboxDeps{Repository: reg.Outbox(), Clock: clock})
	if err != nil {
		return fmt.Errorf("build outbox: %w", err)
	}

	busDeps := services.EventBusDeps{Stream: c.Stream, Logger: events}
	if deps.Sink != nil {
		busDeps.Outbox = outbox
	}
	bus, err := services.NewEventBus(busDeps)
	if err != nil {
		return fmt.Errorf("build event bus: %w", err)
	}
	c.Services.Events = bus

	local, remote := deps.LocalCarts, reg.Carts()
	if local == nil {
		local, remote = reg.Carts(), nil
	}
	methods := make([]services.ShippingMethod, 0, len(cfg.Pricing.ShippingMethods))
	for _, m := range cfg.Pricing.ShippingMethods {
		methods = append(methods, services.ShippingMethod(m))
	}
	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Local:           local,
		Remote:          remote,
		Catalog:         reg.Catalog(),
		Outbox:          outbox,
		Events:          bus,
		Pricing:         pricing,
		ShippingMethods: methods,
		Clock:           clock,
		Logger:          events,
		Metrics:         c.Metrics,
	})
	if err != nil {
		return fmt.Errorf("build cart service: %w", err)
	}
	c.Services.Cart = cartSvc

	counters, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      clock,
		Prefixes: map[string]string{
			domain.OrderSequence:  cfg.Sequence.OrderPrefix,
			domain.ReturnSequence: cfg.Sequence.ReturnPrefix,
		},
		PadLength:   cfg.Sequence.PadLength,
		MaxAttempts: cfg.Sequence.MaxAttempts,
		Logger:      events,
		Metrics:     c.Metrics,
	})
	if err != nil {
		return fmt.Errorf("build counter service: %w", err)
	}
	c.Services.Counters = counters

	inventory, err := services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: reg.Inventory(),
		Clock:     clock,
		Logger:    events,
	})
	if err != nil {
		return fmt.Errorf("build inventory service: %w", err)
	}
	c.Services.Inventory = inventory

	marker, err := services.NewRecordMarker(services.RecordMarkerDeps{
		Orders:  reg.Orders(),
		Returns: reg.Returns(),
		Clock:   clock,
	})
	if err != nil {
		return fmt.Errorf("build notification marker: %w", err)
	}
	notifier, err := services.NewNotificationService(services.NotificationServiceDeps{
		Transport: deps.Transport,
		Outbox:    outbox,
		Marker:    marker,
		Money:     MoneyFormatter(cfg.Pricing),
		Clock:     clock,
		Logger:    events,
		Metrics:   c.Metrics,
	})
	if err != nil {
		return fmt.Errorf("build notification service: %w", err)
	}
	c.Services.Notifications = notifier

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        reg.Orders(),
		Customers:     reg.Customers(),
		Catalog:       reg.Catalog(),
		Carts:         cartSvc,
		Counters:      counters,
		Inventory:     inventory,
		Notifications: notifier,
		Events:        bus,
		Pricing:       pricing,
		Clock:         clock,
		Logger:        events,
		Metrics:       c.Metrics,
	})
	if err != nil {
		return fmt.Errorf("build order service: %w", err)
	}
	c.Services.Orders = orders

	returns, err := services.NewReturnService(services.ReturnServiceDeps{
		Returns:         reg.Returns(),
		Orders:          reg.Orders(),
		Counters:        counters,
		Notifications:   notifier,
		Labels:          deps.Labels,
		Events:          bus,
		PickupDelay:     cfg.Returns.PickupDelay,
		BulkConcurrency: cfg.Returns.BulkConcurrency,
		Clock:           clock,
		Logger:          events,
		Metrics:         c.Metrics,
	})
	if err != nil {
		return fmt.Errorf("build return service: %w", err)
	}
	c.Services.Returns = returns

	handlers := map[string]services.OutboxHandler{
		services.OutboxKindNotificationRetry: notifier.RetryHandler(),
	}
	if remote != nil {
		handlers[services.OutboxKindCartMirror] = services.CartMirrorHandler(local, remote)
	}
	if deps.Sink != nil {
		handlers[services.OutboxKindEventPublish] = services.EventSinkHandler(deps.Sink)
	}
	worker, err := services.NewOutboxWorker(services.OutboxWorkerDeps{
		Repository:   reg.Outbox(),
		Handlers:     handlers,
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		Backoff: gax.Backoff{
			Initial:    cfg.Outbox.InitialBackoff,
			Max:        cfg.Outbox.MaxBackoff,
			Multiplier: 2,
		},
		Clock:   clock,
		Logger:  events,
		Metrics: c.Metrics,
	})
	if err != nil {
		return fmt.Errorf("build outbox worker: %w", err)
	}
	c.Worker = worker
	return nil
}

// MoneyFormatter renders amounts in the configured store currency.
func MoneyFormatter(cfg config.PricingConfig) services.MoneyFormatter {
	return services.MoneyFormatter{Currency: cfg.Currency, Exponent: int32(cfg.CurrencyExponent)}
}

// ReportBacklog periodically exports outbox queue depth until ctx is cancelled.
func (c *Container) ReportBacklog(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := c.reportBacklogOnce(ctx); err != nil {
			c.logger.Warn("outbox backlog report failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Container) reportBacklogOnce(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, backlogReportTimeout)
	defer cancel()
	backlog := make(map[string]int, len(backlogStatuses))
	for _, status := range backlogStatuses {
		n, err := c.Repositories.Outbox().CountByStatus(runCtx, status)
		if err != nil {
			return err
		}
		backlog[string(status)] = n
	}
	c.Metrics.OutboxBacklog(backlog)
	return nil
}

// LogEvents writes every domain event on the in-process stream to the debug log until ctx ends.
func (c *Container) LogEvents(ctx context.Context) error {
	sub := c.Stream.Subscribe()
	defer sub.Unsubscribe()
	logger := c.logger.Named("events")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			logger.Debug("domain event",
				zap.String("event_id", event.ID),
				zap.String("type", event.Type),
				zap.String("subject", event.Subject),
				zap.String("actor_id", event.ActorID),
			)
		}
	}
}

// Close stops the event stream and releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.Stream != nil {
		c.Stream.Close()
	}
	if c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}
