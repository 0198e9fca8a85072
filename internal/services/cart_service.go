package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/storefront/internal/cart"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

var (
	// ErrCartInvalidInput indicates the cart command was rejected.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartVariantNotFound indicates the referenced product variant does not exist.
	ErrCartVariantNotFound = errors.New("cart: variant not found")
	// ErrCartUnavailable indicates the cart store failed.
	ErrCartUnavailable = errors.New("cart: unavailable")
)

// CartServiceDeps bundles collaborators required to construct the cart service.
type CartServiceDeps struct {
	// Local holds the authoritative cart of each session.
	Local repositories.CartRepository
	// Remote receives a best-effort mirror of signed-in carts. Optional.
	Remote  repositories.CartRepository
	Catalog repositories.CatalogRepository
	// Outbox defers remote mirroring to the outbox worker. Without it the
	// mirror is written inline and failures are only logged.
	Outbox          OutboxEnqueuer
	Events          EventPublisher
	Pricing         domain.PricingPolicy
	ShippingMethods []ShippingMethod
	Clock           func() time.Time
	IDGen           func() string
	Logger          Logger
	Metrics         Metrics
}

type cartService struct {
	local           repositories.CartRepository
	remote          repositories.CartRepository
	catalog         repositories.CatalogRepository
	outbox          OutboxEnqueuer
	events          EventPublisher
	reducer         cart.Reducer
	shippingMethods []ShippingMethod
	clock           func() time.Time
	newID           func() string
	logger          Logger
	metrics         Metrics
	locks           keyedMutex
}

// cartMirrorPayload is queued for the outbox worker. The worker reads the
// latest local cart, so rapid mutations collapse into the last state.
type cartMirrorPayload struct {
	CartKey string `json:"cartKey"`
	UserID  string `json:"userId"`
}

// NewCartService constructs the cart service.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Local == nil {
		return nil, errors.New("cart service: local cart repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("cart service: catalog repository is required")
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &cartService{
		local:           deps.Local,
		remote:          deps.Remote,
		catalog:         deps.Catalog,
		outbox:          deps.Outbox,
		events:          deps.Events,
		reducer:         cart.Reducer{Pricing: deps.Pricing},
		shippingMethods: slices.Clone(deps.ShippingMethods),
		clock:           utcClock(deps.Clock),
		newID:           idGen,
		logger:          loggerOrNoop(deps.Logger),
		metrics:         metricsOrNoop(deps.Metrics),
	}, nil
}

func (s *cartService) Get(ctx context.Context, actor Actor) (Cart, error) {
	key, err := cartKey(actor)
	if err != nil {
		return Cart{}, err
	}
	return s.load(ctx, actor, key)
}

func (s *cartService) Dispatch(ctx context.Context, actor Actor, cmd cart.Command) (CartMutation, error) {
	if cmd == nil {
		return CartMutation{}, fmt.Errorf("%w: command is required", ErrCartInvalidInput)
	}
	key, err := cartKey(actor)
	if err != nil {
		return CartMutation{}, err
	}

	unlock := s.lock(key)
	defer unlock()

	current, err := s.load(ctx, actor, key)
	if err != nil {
		return CartMutation{}, err
	}

	next, outcome := s.reducer.Apply(current, cmd)
	s.metrics.CartCommand(cmd.Name(), outcome.Changed)
	mutation := CartMutation{Cart: next, Outcome: outcome}
	if outcome.Warning != nil {
		return mutation, fmt.Errorf("%w: %w", ErrCartInvalidInput, outcome.Warning)
	}
	if !outcome.Changed {
		return mutation, nil
	}

	next.UpdatedAt = s.clock()
	if err := s.local.Save(ctx, key, next); err != nil {
		return CartMutation{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	mutation.Cart = next

	s.scheduleMirror(ctx, actor, key)
	s.publishCartEvent(ctx, actor, cmd, next)
	return mutation, nil
}

func (s *cartService) AddItem(ctx context.Context, actor Actor, cmd AddCartItemCommand) (CartMutation, error) {
	if cmd.Quantity < 1 {
		return CartMutation{}, fmt.Errorf("%w: %w", ErrCartInvalidInput, cart.ErrQuantityBelowMinimum)
	}
	variant, err := s.variant(ctx, cmd.ProductID, cmd.VariantID)
	if err != nil {
		return CartMutation{}, err
	}
	return s.Dispatch(ctx, actor, cart.AddItem{Variant: variant, Quantity: cmd.Quantity})
}

func (s *cartService) UpdateQuantity(ctx context.Context, actor Actor, cmd UpdateCartItemCommand) (CartMutation, error) {
	variant, err := s.variant(ctx, cmd.ProductID, cmd.VariantID)
	if err != nil {
		return CartMutation{}, err
	}
	return s.Dispatch(ctx, actor, cart.UpdateQuantity{
		ProductID: variant.ProductID,
		VariantID: variant.ID,
		Quantity:  cmd.Quantity,
		Variant:   variant,
	})
}

func (s *cartService) SelectShippingMethod(ctx context.Context, actor Actor, code string) (CartMutation, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return s.Dispatch(ctx, actor, cart.SelectShippingMethod{})
	}
	idx := slices.IndexFunc(s.shippingMethods, func(m ShippingMethod) bool { return m.Code == code })
	if idx < 0 {
		return CartMutation{}, fmt.Errorf("%w: unknown shipping method %q", ErrCartInvalidInput, code)
	}
	method := s.shippingMethods[idx]
	return s.Dispatch(ctx, actor, cart.SelectShippingMethod{Method: &method})
}

func (s *cartService) Clear(ctx context.Context, actor Actor) error {
	_, err := s.Dispatch(ctx, actor, cart.Clear{})
	return err
}

func (s *cartService) ShippingMethods() []ShippingMethod {
	return slices.Clone(s.shippingMethods)
}

// CartMirrorHandler copies the latest local cart to the remote store. It is
// registered with the outbox worker under OutboxKindCartMirror.
func CartMirrorHandler(local, remote repositories.CartRepository) OutboxHandler {
	return func(ctx context.Context, task OutboxTask) error {
		var payload cartMirrorPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return Permanent(fmt.Errorf("decode cart mirror payload: %w", err))
		}
		return mirrorCart(ctx, local, remote, payload)
	}
}

func mirrorCart(ctx context.Context, local, remote repositories.CartRepository, payload cartMirrorPayload) error {
	if remote == nil || payload.UserID == "" {
		return nil
	}
	current, err := local.Get(ctx, payload.CartKey)
	if err != nil {
		if isRepoNotFound(err) {
			return remote.Delete(ctx, payload.UserID)
		}
		return err
	}
	return remote.Save(ctx, payload.UserID, current)
}

func (s *cartService) scheduleMirror(ctx context.Context, actor Actor, key string) {
	if s.remote == nil || strings.TrimSpace(actor.UserID) == "" {
		return
	}
	payload := cartMirrorPayload{CartKey: key, UserID: actor.UserID}
	if s.outbox != nil {
		if _, err := s.outbox.Enqueue(ctx, OutboxKindCartMirror, key, payload); err != nil {
			s.logger(ctx, "cart_mirror_enqueue_failed", map[string]any{"cartKey": key, "error": err.Error()})
		}
		return
	}
	if err := mirrorCart(ctx, s.local, s.remote, payload); err != nil {
		s.logger(ctx, "cart_mirror_failed", map[string]any{"cartKey": key, "error": err.Error()})
	}
}

func (s *cartService) load(ctx context.Context, actor Actor, key string) (Cart, error) {
	stored, err := s.local.Get(ctx, key)
	switch {
	case err == nil:
		return s.reducer.Recalculate(stored), nil
	case !isRepoNotFound(err):
		return Cart{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}

	// A signed-in user on a fresh session resumes the mirrored cart.
	if s.remote != nil && strings.TrimSpace(actor.UserID) != "" {
		remote, rerr := s.remote.Get(ctx, actor.UserID)
		if rerr == nil {
			remote.ID = key
			return s.reducer.Recalculate(remote), nil
		}
		if !isRepoNotFound(rerr) {
			s.logger(ctx, "cart_remote_load_failed", map[string]any{"cartKey": key, "error": rerr.Error()})
		}
	}

	return Cart{
		ID:        key,
		UserID:    actor.UserID,
		SessionID: actor.SessionID,
		UpdatedAt: s.clock(),
	}, nil
}

func (s *cartService) variant(ctx context.Context, productID, variantID string) (domain.ProductVariant, error) {
	productID = strings.TrimSpace(productID)
	variantID = strings.TrimSpace(variantID)
	if productID == "" || variantID == "" {
		return domain.ProductVariant{}, fmt.Errorf("%w: product and variant ids are required", ErrCartInvalidInput)
	}
	variant, err := s.catalog.GetVariant(ctx, productID, variantID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.ProductVariant{}, fmt.Errorf("%w: %s/%s", ErrCartVariantNotFound, productID, variantID)
		}
		return domain.ProductVariant{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	return variant, nil
}

func (s *cartService) lock(key string) func() {
	return s.locks.lock(key)
}

// keyedMutex serialises work per key. Entries are reference counted and removed
// once the last holder releases them, so the map only holds keys in use.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func (s *cartService) publishCartEvent(ctx context.Context, actor Actor, cmd cart.Command, c Cart) {
	if s.events == nil {
		return
	}
	event, err := NewDomainEvent(s.newID(), EventCartUpdated, c.ID, actor.UserID, c.UpdatedAt, map[string]any{
		"command":   cmd.Name(),
		"itemCount": len(c.Items),
		"total":     c.Totals.Total,
	})
	if err == nil {
		err = s.events.Publish(ctx, event)
	}
	if err != nil {
		s.logger(ctx, "cart_event_publish_failed", map[string]any{"cartKey": c.ID, "error": err.Error()})
	}
}

func cartKey(actor Actor) (string, error) {
	key := actor.CartKey()
	if key == "" {
		return "", fmt.Errorf("%w: a user or session identity is required", ErrCartInvalidInput)
	}
	return key, nil
}
