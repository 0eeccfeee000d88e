package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/payments"
	"github.com/hanko-field/commerce/internal/repositories"
)

var adminSettableStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusProcessing: true,
	domain.OrderStatusShipped:    true,
	domain.OrderStatusDelivered:  true,
	domain.OrderStatusCancelled:  true,
}

var knownPaymentStatuses = map[domain.PaymentStatus]bool{
	domain.PaymentStatusPending:  true,
	domain.PaymentStatusUnpaid:   true,
	domain.PaymentStatusPaid:     true,
	domain.PaymentStatusFailed:   true,
	domain.PaymentStatusRefunded: true,
}

// OrderServiceDeps wires the collaborators of the order service.
type OrderServiceDeps struct {
	UnitOfWork repositories.UnitOfWork
	Orders     repositories.OrderRepository
	Products   repositories.ProductRepository
	Payments   payments.Provider
	Events     OrderEventPublisher
	Clock      func() time.Time
	Logger     Logger
	Metrics    Metrics
}

type orderService struct {
	uow      repositories.UnitOfWork
	orders   repositories.OrderRepository
	products repositories.ProductRepository
	payments payments.Provider
	events   eventDispatcher
	now      func() time.Time
	logger   Logger
	metrics  Metrics
}

// NewOrderService constructs an OrderService.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.UnitOfWork == nil:
		return nil, errors.New("order service: unit of work is required")
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Products == nil:
		return nil, errors.New("order service: product repository is required")
	}
	logger := loggerOrNoop(deps.Logger)
	metrics := metricsOrNoop(deps.Metrics)
	return &orderService{
		uow:      deps.UnitOfWork,
		orders:   deps.Orders,
		products: deps.Products,
		payments: deps.Payments,
		events:   newEventDispatcher(deps.Events, logger, metrics),
		now:      clockOrNow(deps.Clock),
		logger:   logger,
		metrics:  metrics,
	}, nil
}

func (s *orderService) Get(ctx context.Context, orderID string, actor Actor) (Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !canAccessOrder(order, actor) {
		return Order{}, fmt.Errorf("%w: order %s", ErrForbidden, order.ID)
	}
	return order, nil
}

func (s *orderService) ListForUser(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[Order]{}, validationError("user id is required")
	}
	page, err := s.orders.ListByUser(ctx, userID, pager)
	if err != nil {
		return domain.CursorPage[Order]{}, translateRepoError(err, "orders")
	}
	return page, nil
}

func (s *orderService) ListAll(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	for _, status := range filter.Status {
		if !isKnownOrderStatus(status) {
			return domain.CursorPage[Order]{}, validationError("unknown order status %q", status)
		}
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{Status: filter.Status, Pagination: filter.Pagination})
	if err != nil {
		return domain.CursorPage[Order]{}, translateRepoError(err, "orders")
	}
	return page, nil
}

func (s *orderService) Track(ctx context.Context, trackingNumber string) (Order, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return Order{}, validationError("tracking number is required")
	}
	order, err := s.orders.FindByTrackingNumber(ctx, trackingNumber)
	if err != nil {
		return Order{}, translateRepoError(err, "order with tracking number "+trackingNumber)
	}
	return order, nil
}

// Cancel moves the order to cancelled and restocks its simple items exactly once.
// Cancelling an already cancelled order returns it unchanged.
func (s *orderService) Cancel(ctx context.Context, orderID string, actor Actor) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, validationError("order id is required")
	}

	var (
		order   domain.Order
		changed bool
	)
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		changed = false
		current, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return translateRepoError(err, "order "+orderID)
		}
		if !canAccessOrder(current, actor) {
			return fmt.Errorf("%w: order %s", ErrForbidden, orderID)
		}
		switch current.OrderStatus {
		case domain.OrderStatusCancelled:
			order = current
			return nil
		case domain.OrderStatusDelivered:
			return fmt.Errorf("%w: delivered orders cannot be cancelled", ErrInvalidState)
		}

		now := s.now()
		if !current.StockRestored {
			if err := s.restock(ctx, current, now); err != nil {
				return err
			}
			current.StockRestored = true
		}
		current.OrderStatus = domain.OrderStatusCancelled
		current.CancelledAt = &now
		current.UpdatedAt = now
		if err := s.orders.Update(ctx, current); err != nil {
			return translateRepoError(err, "order "+orderID)
		}
		order, changed = current, true
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	if !changed {
		return order, nil
	}

	s.cancelPendingIntent(ctx, order)
	s.metrics.OrderTransitioned(string(domain.OrderStatusCancelled))
	s.logger(ctx, "order.cancelled", map[string]any{
		"orderId": order.ID,
		"actorId": actor.UserID,
		"admin":   actor.IsAdmin,
	})
	s.events.dispatch(ctx, newOrderEvent(domain.OrderEventCancelled, order, order.UpdatedAt))
	return order, nil
}

// restock reads every product before writing any movement.
func (s *orderService) restock(ctx context.Context, order domain.Order, now time.Time) error {
	quantities := make(map[string]int, len(order.Items))
	var ids []string
	for _, item := range order.Items {
		if item.ProductType != "" && item.ProductType != domain.ProductTypeSimple {
			continue
		}
		if _, seen := quantities[item.ProductID]; !seen {
			ids = append(ids, item.ProductID)
		}
		quantities[item.ProductID] += item.Quantity
	}

	products := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		product, err := s.products.Get(ctx, id)
		if err != nil {
			if isRepoNotFound(err) {
				s.logger(ctx, "order.restock_skipped", map[string]any{"orderId": order.ID, "productId": id})
				continue
			}
			return translateRepoError(err, "product "+id)
		}
		products = append(products, product)
	}

	for _, product := range products {
		qty := quantities[product.ID]
		movement, err := newStockMovement(product, qty, domain.StockMovementCancellation,
			orderMovementID(order.ID, domain.StockMovementCancellation), order.ID, now)
		if err != nil {
			return err
		}
		if err := s.products.ApplyStockMovement(ctx, movement); err != nil {
			if isRepoConflict(err) {
				// already restored by an earlier cancellation
				continue
			}
			return translateRepoError(err, "stock movement")
		}
		s.metrics.StockMoved(string(domain.StockMovementCancellation), qty)
	}
	return nil
}

func (s *orderService) cancelPendingIntent(ctx context.Context, order domain.Order) {
	if s.payments == nil || order.PaymentIntentID == "" || order.PaymentStatus != domain.PaymentStatusPending {
		return
	}
	if err := s.payments.CancelIntent(context.WithoutCancel(ctx), order.PaymentIntentID); err != nil {
		s.logger(ctx, "order.intent_cancel_failed", map[string]any{
			"orderId":         order.ID,
			"paymentIntentId": order.PaymentIntentID,
			"error":           err.Error(),
		})
	}
}

func (s *orderService) SetStatus(ctx context.Context, cmd SetOrderStatusCommand) (Order, error) {
	if !cmd.Actor.IsAdmin {
		return Order{}, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, validationError("order id is required")
	}
	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.Status))))
	if !adminSettableStatuses[status] {
		return Order{}, validationError("status must be processing, shipped, delivered or cancelled")
	}
	if status == domain.OrderStatusCancelled {
		return s.Cancel(ctx, orderID, cmd.Actor)
	}

	var order domain.Order
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return translateRepoError(err, "order "+orderID)
		}
		if current.OrderStatus.IsTerminal() {
			return fmt.Errorf("%w: order is %s", ErrInvalidState, current.OrderStatus)
		}
		now := s.now()
		current.OrderStatus = status
		if tn := strings.TrimSpace(cmd.TrackingNumber); tn != "" {
			current.TrackingNumber = tn
		}
		if status == domain.OrderStatusDelivered {
			current.DeliveredAt = &now
		}
		current.UpdatedAt = now
		if err := s.orders.Update(ctx, current); err != nil {
			return translateRepoError(err, "order "+orderID)
		}
		order = current
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.metrics.OrderTransitioned(string(status))
	s.logger(ctx, "order.status_changed", map[string]any{
		"orderId": order.ID,
		"status":  string(status),
		"actorId": cmd.Actor.UserID,
	})
	s.events.dispatch(ctx, newOrderEvent(domain.OrderEventStatusChanged, order, order.UpdatedAt))
	return order, nil
}

// MarkPaymentStatus records processor state. Re-delivery of the same status is a no-op, and
// so is a transition the current status does not accept (processor events arrive out of order).
func (s *orderService) MarkPaymentStatus(ctx context.Context, paymentIntentID string, status PaymentStatus) (Order, error) {
	paymentIntentID = strings.TrimSpace(paymentIntentID)
	if paymentIntentID == "" {
		return Order{}, validationError("payment intent id is required")
	}
	if !knownPaymentStatuses[status] {
		return Order{}, validationError("unknown payment status %q", status)
	}

	var (
		order    domain.Order
		changed  bool
		rejected bool
	)
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		changed, rejected = false, false
		current, err := s.orders.FindByPaymentIntent(ctx, paymentIntentID)
		if err != nil {
			return translateRepoError(err, "order for payment intent "+paymentIntentID)
		}
		order = current
		if current.PaymentStatus == status {
			return nil
		}
		if !paymentTransitionAllowed(current.PaymentStatus, status) {
			rejected = true
			return nil
		}
		current.PaymentStatus = status
		current.UpdatedAt = s.now()
		if err := s.orders.Update(ctx, current); err != nil {
			return translateRepoError(err, "order "+current.ID)
		}
		order, changed = current, true
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	if rejected {
		s.logger(ctx, "order.payment_transition_ignored", map[string]any{
			"orderId":         order.ID,
			"paymentIntentId": paymentIntentID,
			"currentStatus":   string(order.PaymentStatus),
			"paymentStatus":   string(status),
		})
	}
	if changed {
		s.logger(ctx, "order.payment_updated", map[string]any{
			"orderId":         order.ID,
			"paymentIntentId": paymentIntentID,
			"paymentStatus":   string(status),
		})
		s.events.dispatch(ctx, newOrderEvent(domain.OrderEventPaymentUpdated, order, order.UpdatedAt))
	}
	return order, nil
}

// paymentTransitionAllowed reports whether a payment in status from may move to status to.
// refunded is terminal, paid only moves to refunded, and failed may still be paid.
func paymentTransitionAllowed(from, to PaymentStatus) bool {
	switch from {
	case domain.PaymentStatusRefunded:
		return false
	case domain.PaymentStatusPaid:
		return to == domain.PaymentStatusRefunded
	case domain.PaymentStatusFailed:
		return to == domain.PaymentStatusPaid
	default:
		return true
	}
}

// Delete removes a cancelled order.
func (s *orderService) Delete(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return validationError("order id is required")
	}
	return s.uow.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return translateRepoError(err, "order "+orderID)
		}
		if order.OrderStatus != domain.OrderStatusCancelled {
			return fmt.Errorf("%w: only cancelled orders can be deleted", ErrInvalidState)
		}
		return translateRepoError(s.orders.Delete(ctx, orderID), "order "+orderID)
	})
}

func (s *orderService) load(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, validationError("order id is required")
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, translateRepoError(err, "order "+orderID)
	}
	return order, nil
}

func canAccessOrder(order domain.Order, actor Actor) bool {
	return actor.IsAdmin || (actor.UserID != "" && actor.UserID == order.UserID)
}

func isKnownOrderStatus(status domain.OrderStatus) bool {
	return adminSettableStatuses[status] || status == domain.OrderStatusPending
}
