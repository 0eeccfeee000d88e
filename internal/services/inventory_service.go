package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

const maxStockNoteLength = 200

// InventoryServiceDeps wires the collaborators of the inventory service.
type InventoryServiceDeps struct {
	Products   repositories.ProductRepository
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Logger     Logger
	Metrics    Metrics
}

type inventoryService struct {
	products repositories.ProductRepository
	uow      repositories.UnitOfWork
	now      func() time.Time
	logger   Logger
	metrics  Metrics
}

// NewInventoryService constructs an InventoryService.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("inventory service: unit of work is required")
	}
	return &inventoryService{
		products: deps.Products,
		uow:      deps.UnitOfWork,
		now:      clockOrNow(deps.Clock),
		logger:   loggerOrNoop(deps.Logger),
		metrics:  metricsOrNoop(deps.Metrics),
	}, nil
}

func (s *inventoryService) Adjust(ctx context.Context, cmd StockAdjustmentCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, validationError("product id is required")
	}
	if cmd.Delta == 0 {
		return Product{}, validationError("delta must not be zero")
	}
	note := strings.TrimSpace(cmd.Note)
	if len([]rune(note)) > maxStockNoteLength {
		return Product{}, validationError("note must be at most %d characters", maxStockNoteLength)
	}

	var updated Product
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		product, err := s.products.Get(ctx, productID)
		if err != nil {
			return translateRepoError(err, "product "+productID)
		}
		if !product.IsSimple() {
			return validationError("stock of variable product %s is tracked per variation", productID)
		}
		movement, err := newStockMovement(product, cmd.Delta, domain.StockMovementAdjustment, "adj:"+ulid.Make().String(), "", s.now())
		if err != nil {
			return err
		}
		movement.Note = note
		if err := s.products.ApplyStockMovement(ctx, movement); err != nil {
			return translateRepoError(err, "stock movement")
		}
		product.Quantity = movement.QuantityAfter
		product.InStock = movement.InStockAfter
		updated = product
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	s.metrics.StockMoved(string(domain.StockMovementAdjustment), cmd.Delta)
	s.logger(ctx, "inventory.adjusted", map[string]any{
		"productId": productID,
		"delta":     cmd.Delta,
		"quantity":  updated.Quantity,
		"actorId":   cmd.ActorID,
	})
	return updated, nil
}

func (s *inventoryService) ListMovements(ctx context.Context, productID string, pager Pagination) (domain.CursorPage[StockMovement], error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CursorPage[StockMovement]{}, validationError("product id is required")
	}
	if _, err := s.products.Get(ctx, productID); err != nil {
		return domain.CursorPage[StockMovement]{}, translateRepoError(err, "product "+productID)
	}
	page, err := s.products.ListStockMovements(ctx, productID, pager)
	if err != nil {
		return domain.CursorPage[StockMovement]{}, translateRepoError(err, "stock movements")
	}
	return page, nil
}

// newStockMovement derives the ledger entry for applying delta to product. A movement that
// would drive the quantity below zero is rejected.
func newStockMovement(product domain.Product, delta int, reason domain.StockMovementReason, movementID, orderID string, at time.Time) (domain.StockMovement, error) {
	after := product.Quantity + delta
	if after < 0 {
		return domain.StockMovement{}, &StockError{
			ProductID: product.ID,
			Requested: -delta,
			Available: product.AvailableQuantity(),
			Err:       ErrInsufficientStock,
		}
	}
	return domain.StockMovement{
		ID:            movementID,
		ProductID:     product.ID,
		OrderID:       orderID,
		Delta:         delta,
		Reason:        reason,
		QuantityAfter: after,
		InStockAfter:  after > 0,
		CreatedAt:     at,
	}, nil
}

// orderMovementID is deterministic so an order's checkout or restock applies at most once.
func orderMovementID(orderID string, reason domain.StockMovementReason) string {
	return fmt.Sprintf("%s:%s", orderID, reason)
}
