package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Coupons() CouponRepository
	Carts() CartRepository
	Orders() OrderRepository
	Addresses() AddressRepository
	Counters() CounterRepository
	Mail() MailOutbox
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Repositories
// invoked with the ctx passed to fn join the transaction. Implementations may retry fn,
// so fn must not keep side effects outside the data store unless they are idempotent.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository reads catalog products and owns their stock counters.
type ProductRepository interface {
	Get(ctx context.Context, productID string) (domain.Product, error)
	// ApplyStockMovement writes QuantityAfter/InStockAfter onto the product and appends the
	// movement to the ledger. A movement ID that already exists fails with a conflict.
	ApplyStockMovement(ctx context.Context, movement domain.StockMovement) error
	ListStockMovements(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.StockMovement], error)
}

// CouponRepository persists coupons and the per-user redemption counters.
type CouponRepository interface {
	Insert(ctx context.Context, coupon domain.Coupon) error
	Update(ctx context.Context, coupon domain.Coupon) error
	Delete(ctx context.Context, couponID string) error
	Get(ctx context.Context, couponID string) (domain.Coupon, error)
	GetByCode(ctx context.Context, code string) (domain.Coupon, error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error)
	// Usage returns the redemption counter for the pair, with Count 0 when none exists.
	Usage(ctx context.Context, couponID, userID string) (domain.CouponUsage, error)
	// Redeem atomically increments the coupon usedCount and the (coupon, user) counter.
	Redeem(ctx context.Context, couponID, userID string, at time.Time) error
}

// CartRepository persists one cart document per user.
type CartRepository interface {
	Get(ctx context.Context, userID string) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) error
}

// OrderListFilter narrows admin order listings.
type OrderListFilter struct {
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// OrderRepository persists immutable order records and their status fields.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	Delete(ctx context.Context, orderID string) error
	Get(ctx context.Context, orderID string) (domain.Order, error)
	FindByPaymentIntent(ctx context.Context, paymentIntentID string) (domain.Order, error)
	FindByTrackingNumber(ctx context.Context, trackingNumber string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// AddressRepository manages the user address book.
type AddressRepository interface {
	Get(ctx context.Context, userID, addressID string) (domain.Address, error)
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Save(ctx context.Context, address domain.Address) error
	Delete(ctx context.Context, userID, addressID string) error
}

// CounterRepository issues monotonically increasing sequence values.
type CounterRepository interface {
	Next(ctx context.Context, counterID string) (int64, error)
}

// MailOutbox queues outbound email for the delivery collaborator.
type MailOutbox interface {
	Enqueue(ctx context.Context, message domain.MailMessage) error
}

// HealthRepository aggregates dependency probes for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
