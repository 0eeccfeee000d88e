package domain

import (
	"time"
)

// Pagination captures cursor based pagination input.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// ProductType distinguishes simple products (stock on the product) from variable ones.
type ProductType string

const (
	ProductTypeSimple   ProductType = "simple"
	ProductTypeVariable ProductType = "variable"
)

// Product is the catalog entity whose stock fields are owned by the checkout core.
// Monetary fields are minor units of the store currency.
type Product struct {
	ID          string
	Name        string
	Slug        string
	Price       int64
	SalePrice   *int64
	OnSale      bool
	SaleStart   *time.Time
	SaleEnd     *time.Time
	Quantity    int
	InStock     bool
	Type        ProductType
	ShippingFee int64
	Variations  []ProductVariation
	UpdatedAt   time.Time
}

// ProductVariation tracks stock for a single option of a variable product.
type ProductVariation struct {
	ID       string
	Name     string
	Quantity int
}

// IsSimple reports whether the product carries its own stock counter.
func (p Product) IsSimple() bool {
	return p.Type == "" || p.Type == ProductTypeSimple
}

// Available reports whether the product can currently be sold.
func (p Product) Available() bool {
	if p.IsSimple() {
		return p.InStock && p.Quantity > 0
	}
	for _, v := range p.Variations {
		if v.Quantity > 0 {
			return true
		}
	}
	return false
}

// AvailableQuantity returns the sellable units, or -1 when stock is tracked per variation.
func (p Product) AvailableQuantity() int {
	if !p.IsSimple() {
		return -1
	}
	if !p.InStock || p.Quantity < 0 {
		return 0
	}
	return p.Quantity
}

// UnitPrice resolves the effective price at the supplied instant.
func (p Product) UnitPrice(now time.Time) int64 {
	if !p.OnSale || p.SalePrice == nil {
		return p.Price
	}
	if p.SaleStart != nil && now.Before(*p.SaleStart) {
		return p.Price
	}
	if p.SaleEnd != nil && !now.Before(*p.SaleEnd) {
		return p.Price
	}
	return *p.SalePrice
}

// StockMovementReason labels entries in the stock ledger.
type StockMovementReason string

const (
	StockMovementCheckout     StockMovementReason = "checkout"
	StockMovementCancellation StockMovementReason = "cancellation"
	StockMovementAdjustment   StockMovementReason = "adjustment"
)

// StockMovement is an append-only ledger entry. Product.Quantity is the running sum.
type StockMovement struct {
	ID            string
	ProductID     string
	OrderID       string
	Delta         int
	Reason        StockMovementReason
	QuantityAfter int
	InStockAfter  bool
	Note          string
	CreatedAt     time.Time
}

// ShippingMethod enumerates cart shipping options.
type ShippingMethod string

const (
	ShippingMethodStandard ShippingMethod = "standard"
	ShippingMethodExpress  ShippingMethod = "express"
)

// PaymentMethod enumerates accepted payment channels.
type PaymentMethod string

const (
	PaymentMethodCOD      PaymentMethod = "cod"
	PaymentMethodStripe   PaymentMethod = "stripe"
	PaymentMethodApplePay PaymentMethod = "applepay"
)

// RequiresPaymentIntent reports whether checkout must open an intent with the processor.
func (m PaymentMethod) RequiresPaymentIntent() bool {
	return m == PaymentMethodStripe || m == PaymentMethodApplePay
}

// Cart is the per-user mutable basket. The cart ID equals the owning user ID.
type Cart struct {
	ID             string
	UserID         string
	Items          []CartItem
	CouponCode     string
	ShippingMethod ShippingMethod
	PaymentMethod  PaymentMethod
	Totals         CartTotals
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CartItem references a product and a requested quantity.
type CartItem struct {
	ProductID string
	Quantity  int
}

// CartTotals holds the derived amounts of a cart.
type CartTotals struct {
	Total       int64
	Discount    int64
	ShippingFee int64
	CODFee      int64
	FinalTotal  int64
}

// CartLine is a cart item resolved against the live product.
type CartLine struct {
	Product   Product
	Quantity  int
	UnitPrice int64
	LineTotal int64
}

// CartView is the cart plus its resolved lines returned to callers.
type CartView struct {
	Cart  Cart
	Lines []CartLine
}

// DiscountType enumerates coupon discount kinds.
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// Coupon defines a discount code. Percentage values are whole percents; fixed values
// are minor units.
type Coupon struct {
	ID            string
	Code          string
	Description   string
	DiscountType  DiscountType
	DiscountValue int64
	MinCartValue  int64
	MaxDiscount   *int64
	UsageLimit    *int64
	UsedCount     int64
	PerUserLimit  int64
	StartDate     *time.Time
	ExpiryDate    *time.Time
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsExpired reports whether the coupon expiry date has passed.
func (c Coupon) IsExpired(now time.Time) bool {
	return c.ExpiryDate != nil && !now.Before(*c.ExpiryDate)
}

// CouponUsage counts redemptions of one coupon by one user.
type CouponUsage struct {
	CouponID       string
	UserID         string
	Count          int64
	LastRedeemedAt time.Time
}

// Address is an entry in a user's address book.
type Address struct {
	ID            string
	UserID        string
	Label         string
	FullName      string
	PhoneNumber   string
	Country       string
	State         string
	City          string
	Area          string
	StreetAddress string
	Apartment     string
	PostalCode    string
	IsDefault     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ShippingSnapshot is the immutable copy of an address stored on an order.
type ShippingSnapshot struct {
	Label         string
	FullName      string
	PhoneNumber   string
	Country       string
	State         string
	City          string
	Area          string
	StreetAddress string
	Apartment     string
	PostalCode    string
}

// Snapshot copies the address fields into a detached shipping snapshot.
func (a Address) Snapshot() ShippingSnapshot {
	return ShippingSnapshot{
		Label:         a.Label,
		FullName:      a.FullName,
		PhoneNumber:   a.PhoneNumber,
		Country:       a.Country,
		State:         a.State,
		City:          a.City,
		Area:          a.Area,
		StreetAddress: a.StreetAddress,
		Apartment:     a.Apartment,
		PostalCode:    a.PostalCode,
	}
}

// OrderStatus captures fulfilment workflow state.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// IsTerminal reports whether no further status transitions are allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// PaymentStatus captures the processor-side state of an order payment.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// OrderMetadata is a constrained key/value bag. See OrderMetadataKeys.
type OrderMetadata map[string]string

// Recognised order metadata keys.
const (
	OrderMetadataNote                 = "note"
	OrderMetadataGiftMessage          = "giftMessage"
	OrderMetadataDeliveryInstructions = "deliveryInstructions"
	OrderMetadataSource               = "source"
	OrderMetadataReferrer             = "referrer"
)

// OrderMetadataKeys lists every key accepted on OrderMetadata.
var OrderMetadataKeys = []string{
	OrderMetadataNote,
	OrderMetadataGiftMessage,
	OrderMetadataDeliveryInstructions,
	OrderMetadataSource,
	OrderMetadataReferrer,
}

// Order is the immutable purchase record. Only status fields change after creation.
type Order struct {
	ID              string
	Number          string
	UserID          string
	CustomerEmail   string
	Items           []OrderItem
	ShippingAddress ShippingSnapshot
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	OrderStatus     OrderStatus
	Subtotal        int64
	ShippingFee     int64
	CODFee          int64
	Discount        int64
	CouponID        string
	CouponCode      string
	TotalAmount     int64
	Currency        string
	PaymentIntentID string
	TrackingNumber  string
	Metadata        OrderMetadata
	StockRestored   bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CancelledAt     *time.Time
	DeliveredAt     *time.Time
}

// OrderItem snapshots a purchased product at checkout time.
type OrderItem struct {
	ProductID   string
	Name        string
	ProductType ProductType
	Price       int64
	Quantity    int
	ShippingFee int64
}

// LineTotal returns price multiplied by quantity.
func (i OrderItem) LineTotal() int64 {
	return i.Price * int64(i.Quantity)
}

// OrderEventType enumerates lifecycle events published for orders.
type OrderEventType string

const (
	OrderEventPlaced         OrderEventType = "order.placed"
	OrderEventCancelled      OrderEventType = "order.cancelled"
	OrderEventStatusChanged  OrderEventType = "order.status_changed"
	OrderEventPaymentUpdated OrderEventType = "order.payment_updated"
)

// OrderEvent is published after an order transaction commits.
type OrderEvent struct {
	ID            string         `json:"id"`
	Type          OrderEventType `json:"type"`
	OrderID       string         `json:"orderId"`
	OrderNumber   string         `json:"orderNumber,omitempty"`
	UserID        string         `json:"userId"`
	OrderStatus   OrderStatus    `json:"orderStatus"`
	PaymentStatus PaymentStatus  `json:"paymentStatus"`
	OccurredAt    time.Time      `json:"occurredAt"`
}

// MailMessage is an outbound email queued for delivery by the mail collaborator.
type MailMessage struct {
	ID        string
	To        []string
	Subject   string
	HTML      string
	Text      string
	Category  string
	RelatedID string
	CreatedAt time.Time
}

// Actor identifies the caller of an authorised operation.
type Actor struct {
	UserID  string
	IsAdmin bool
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
