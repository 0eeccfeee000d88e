package services

import (
	"context"
	"io"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/payments"
	"github.com/hanko-field/commerce/internal/platform/storage"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Product            = domain.Product
	StockMovement      = domain.StockMovement
	Cart               = domain.Cart
	CartView           = domain.CartView
	Coupon             = domain.Coupon
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	PaymentStatus      = domain.PaymentStatus
	OrderEvent         = domain.OrderEvent
	Actor              = domain.Actor
	SystemHealthReport = domain.SystemHealthReport
)

// Logger receives structured service events. Event names are dotted, for example
// "checkout.intent_cancel_failed".
type Logger func(ctx context.Context, event string, fields map[string]any)

// CartService manages the per-user shopping cart. Every read and mutation recomputes
// totals against live products.
type CartService interface {
	GetCart(ctx context.Context, userID string) (CartView, error)
	AddItem(ctx context.Context, userID, productID string, quantity int) (CartView, error)
	SetItemQuantity(ctx context.Context, userID, productID string, quantity int) (CartView, error)
	RemoveItem(ctx context.Context, userID, productID string) (CartView, error)
	Clear(ctx context.Context, userID string) (CartView, error)
	ApplyCoupon(ctx context.Context, userID, code string) (CartView, error)
	RemoveCoupon(ctx context.Context, userID string) (CartView, error)
	SetShippingMethod(ctx context.Context, userID string, method domain.ShippingMethod) (CartView, error)
	SetPaymentMethod(ctx context.Context, userID string, method domain.PaymentMethod) (CartView, error)
}

// CouponService manages discount codes and their redemption counters.
type CouponService interface {
	Create(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error)
	Update(ctx context.Context, couponID string, cmd UpsertCouponCommand) (Coupon, error)
	Delete(ctx context.Context, couponID string) error
	List(ctx context.Context, pager Pagination) (domain.CursorPage[Coupon], error)
	GetByCode(ctx context.Context, code string) (Coupon, error)
	// Validate previews the discount code would grant on subtotal for userID.
	Validate(ctx context.Context, code string, subtotal int64, userID string) (CouponEvaluation, Coupon, error)
	// Redeem increments the coupon and per-user counters. Call it inside a unit of work.
	Redeem(ctx context.Context, couponID, userID string) error
}

// UpsertCouponCommand carries admin coupon input.
type UpsertCouponCommand struct {
	Code          string
	Description   string
	DiscountType  domain.DiscountType
	DiscountValue int64
	MinCartValue  int64
	MaxDiscount   *int64
	UsageLimit    *int64
	PerUserLimit  int64
	StartDate     *time.Time
	ExpiryDate    *time.Time
	IsActive      bool
}

// CheckoutService converts a cart into an order.
type CheckoutService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CheckoutResult, error)
}

// CreateOrderCommand is the checkout input. An empty PaymentMethod falls back to the cart
// selection, then to cash on delivery.
type CreateOrderCommand struct {
	UserID        string
	Email         string
	AddressID     string
	PaymentMethod domain.PaymentMethod
	Metadata      map[string]string
}

// CheckoutResult returns the placed order and, for card payments, the intent client secret.
type CheckoutResult struct {
	Order        Order
	ClientSecret string
}

// OrderService exposes order reads and lifecycle transitions after checkout.
type OrderService interface {
	Get(ctx context.Context, orderID string, actor Actor) (Order, error)
	ListForUser(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error)
	ListAll(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	Track(ctx context.Context, trackingNumber string) (Order, error)
	Cancel(ctx context.Context, orderID string, actor Actor) (Order, error)
	SetStatus(ctx context.Context, cmd SetOrderStatusCommand) (Order, error)
	MarkPaymentStatus(ctx context.Context, paymentIntentID string, status PaymentStatus) (Order, error)
	Delete(ctx context.Context, orderID string) error
}

// OrderListFilter narrows admin order listings.
type OrderListFilter struct {
	Status     []OrderStatus
	Pagination Pagination
}

// SetOrderStatusCommand is the admin status change input.
type SetOrderStatusCommand struct {
	OrderID        string
	Status         OrderStatus
	TrackingNumber string
	Actor          Actor
}

// InventoryService adjusts stock outside of checkout.
type InventoryService interface {
	Adjust(ctx context.Context, cmd StockAdjustmentCommand) (Product, error)
	ListMovements(ctx context.Context, productID string, pager Pagination) (domain.CursorPage[StockMovement], error)
}

// StockAdjustmentCommand is an admin stock correction. Delta may be negative.
type StockAdjustmentCommand struct {
	ProductID string
	Delta     int
	Note      string
	ActorID   string
}

// PaymentWebhookService applies verified processor callbacks to orders.
type PaymentWebhookService interface {
	HandleEvent(ctx context.Context, event payments.WebhookEvent) (WebhookOutcome, error)
}

// WebhookOutcome describes what a callback changed.
type WebhookOutcome string

const (
	WebhookOutcomeApplied  WebhookOutcome = "applied"
	WebhookOutcomeIgnored  WebhookOutcome = "ignored"
	WebhookOutcomeNotFound WebhookOutcome = "order_not_found"
)

// NotificationService reacts to order events with customer email.
type NotificationService interface {
	HandleOrderEvent(ctx context.Context, event OrderEvent) error
}

// ExportService writes admin order exports to object storage.
type ExportService interface {
	ExportOrders(ctx context.Context, cmd ExportOrdersCommand) (ExportResult, error)
}

// ExportOrdersCommand selects the orders included in an export.
type ExportOrdersCommand struct {
	Status  []OrderStatus
	From    *time.Time
	To      *time.Time
	ActorID string
}

// ExportResult describes a finished export.
type ExportResult struct {
	ID          string
	Bucket      string
	Object      string
	Rows        int
	Bytes       int64
	DownloadURL string
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

// CounterService allocates formatted sequence numbers.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextOrderNumber(ctx context.Context) (string, error)
}

// CounterGenerationOptions controls how counter values are formatted.
type CounterGenerationOptions struct {
	Prefix    string
	Suffix    string
	PadLength int
	Formatter func(now time.Time, value int64) string
}

// CounterValue is an allocated sequence value and its formatted form.
type CounterValue struct {
	Value     int64
	Formatted string
}

// SystemService exposes health reporting.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher delivers order lifecycle events after commit.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// ObjectWriter stores export files. storage.GCSWriter and storage.MemoryWriter satisfy it.
type ObjectWriter interface {
	Write(ctx context.Context, obj storage.Object, body io.Reader) (storage.Object, error)
}

// DownloadURLSigner issues download links for export files.
type DownloadURLSigner interface {
	DownloadURL(ctx context.Context, bucket, object string, opts storage.DownloadOptions) (storage.SignedURL, error)
}

// Metrics receives domain counters. *metrics.Recorder satisfies it.
type Metrics interface {
	CheckoutSucceeded(paymentMethod, currency string, total int64)
	CheckoutFailed(paymentMethod, reason string)
	StockMoved(reason string, delta int)
	CouponRedeemed()
	CouponRejected(reason string)
	OrderTransitioned(status string)
	EventPublished(eventType string, err error)
}

type noopMetrics struct{}

func (noopMetrics) CheckoutSucceeded(string, string, int64) {}
func (noopMetrics) CheckoutFailed(string, string)           {}
func (noopMetrics) StockMoved(string, int)                  {}
func (noopMetrics) CouponRedeemed()                         {}
func (noopMetrics) CouponRejected(string)                   {}
func (noopMetrics) OrderTransitioned(string)                {}
func (noopMetrics) EventPublished(string, error)            {}

func metricsOrNoop(m Metrics) Metrics {
	if m == nil {
		return noopMetrics{}
	}
	return m
}

func loggerOrNoop(l Logger) Logger {
	if l == nil {
		return func(context.Context, string, map[string]any) {}
	}
	return l
}

func clockOrNow(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time { return clock().UTC() }
}
