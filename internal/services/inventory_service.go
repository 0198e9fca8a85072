package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hanko-field/storefront/internal/repositories"
)

var (
	// ErrInventoryInvalidInput indicates the consumption request is malformed.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryUnavailable indicates the stock store could not be read or written.
	ErrInventoryUnavailable = errors.New("inventory: unavailable")
)

// InventoryServiceDeps bundles collaborators required to construct the inventory service.
type InventoryServiceDeps struct {
	Inventory repositories.InventoryRepository
	Clock     func() time.Time
	Logger    Logger
}

type inventoryService struct {
	repo   repositories.InventoryRepository
	clock  func() time.Time
	logger Logger
}

// NewInventoryService constructs the stock adjuster used after order placement.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}
	return &inventoryService{
		repo:   deps.Inventory,
		clock:  utcClock(deps.Clock),
		logger: loggerOrNoop(deps.Logger),
	}, nil
}

// ApplyOrderConsumption decrements stock for each item, clamping at zero. Lines
// for the same variant are summed first. Missing stock records are skipped.
// The read and the write are separate calls, so concurrent orders for the last
// units can both succeed and leave the stock at zero.
func (s *inventoryService) ApplyOrderConsumption(ctx context.Context, items []ConsumptionItem) (ConsumptionReport, error) {
	lines, err := aggregateConsumption(items)
	if err != nil {
		return ConsumptionReport{}, err
	}

	report := ConsumptionReport{}
	for _, line := range lines {
		current, err := s.repo.GetStock(ctx, line.ProductID, line.VariantID)
		if err != nil {
			if isRepoNotFound(err) {
				s.logger(ctx, "inventory_stock_missing", map[string]any{
					"productId": line.ProductID,
					"variantId": line.VariantID,
					"quantity":  line.Quantity,
				})
				report.Skipped = append(report.Skipped, line)
				continue
			}
			return report, fmt.Errorf("%w: read %s/%s: %v", ErrInventoryUnavailable, line.ProductID, line.VariantID, err)
		}

		next := current - line.Quantity
		clamped := false
		if next < 0 {
			next = 0
			clamped = true
		}
		if err := s.repo.SetStock(ctx, line.ProductID, line.VariantID, next, s.clock()); err != nil {
			return report, fmt.Errorf("%w: write %s/%s: %v", ErrInventoryUnavailable, line.ProductID, line.VariantID, err)
		}
		if clamped {
			s.logger(ctx, "inventory_stock_clamped", map[string]any{
				"productId": line.ProductID,
				"variantId": line.VariantID,
				"previous":  current,
				"requested": line.Quantity,
			})
		}
		report.Adjusted = append(report.Adjusted, StockAdjustment{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Requested: line.Quantity,
			Previous:  current,
			Current:   next,
			Clamped:   clamped,
		})
	}
	return report, nil
}

func aggregateConsumption(items []ConsumptionItem) ([]ConsumptionItem, error) {
	out := make([]ConsumptionItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		pid := strings.TrimSpace(item.ProductID)
		vid := strings.TrimSpace(item.VariantID)
		if pid == "" || vid == "" {
			return nil, fmt.Errorf("%w: product and variant ids are required", ErrInventoryInvalidInput)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s/%s must be positive", ErrInventoryInvalidInput, pid, vid)
		}
		key := pid + "/" + vid
		if i, ok := index[key]; ok {
			out[i].Quantity += item.Quantity
			continue
		}
		index[key] = len(out)
		out = append(out, ConsumptionItem{ProductID: pid, VariantID: vid, Quantity: item.Quantity})
	}
	return out, nil
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
