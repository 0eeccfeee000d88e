package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

const ordersCollection = "orders"

type orderDocument struct {
	Number          string              `firestore:"orderNumber"`
	UserID          string              `firestore:"userId"`
	CustomerEmail   string              `firestore:"customerEmail,omitempty"`
	Items           []orderItemDocument `firestore:"items"`
	ShippingAddress shippingDocument    `firestore:"shippingAddress"`
	PaymentMethod   string              `firestore:"paymentMethod"`
	PaymentStatus   string              `firestore:"paymentStatus"`
	OrderStatus     string              `firestore:"orderStatus"`
	Subtotal        int64               `firestore:"subtotal"`
	ShippingFee     int64               `firestore:"shippingFee"`
	CODFee          int64               `firestore:"codFee"`
	Discount        int64               `firestore:"discount"`
	CouponID        string              `firestore:"couponId,omitempty"`
	CouponCode      string              `firestore:"couponCode,omitempty"`
	TotalAmount     int64               `firestore:"totalAmount"`
	Currency        string              `firestore:"currency"`
	PaymentIntentID string              `firestore:"paymentIntentId,omitempty"`
	TrackingNumber  string              `firestore:"trackingNumber,omitempty"`
	Metadata        map[string]string   `firestore:"metadata,omitempty"`
	StockRestored   bool                `firestore:"stockRestored"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	CancelledAt     *time.Time          `firestore:"cancelledAt,omitempty"`
	DeliveredAt     *time.Time          `firestore:"deliveredAt,omitempty"`
}

type orderItemDocument struct {
	ProductID   string `firestore:"productId"`
	Name        string `firestore:"name"`
	ProductType string `firestore:"productType"`
	Price       int64  `firestore:"price"`
	Quantity    int    `firestore:"quantity"`
	ShippingFee int64  `firestore:"shippingFee"`
}

type shippingDocument struct {
	Label         string `firestore:"label,omitempty"`
	FullName      string `firestore:"fullName"`
	PhoneNumber   string `firestore:"phoneNumber"`
	Country       string `firestore:"country"`
	State         string `firestore:"state,omitempty"`
	City          string `firestore:"city"`
	Area          string `firestore:"area,omitempty"`
	StreetAddress string `firestore:"streetAddress"`
	Apartment     string `firestore:"apartment,omitempty"`
	PostalCode    string `firestore:"postalCode,omitempty"`
}

// OrderRepository stores orders in the top-level orders collection.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base: pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil),
	}, nil
}

// Insert creates the order document; an existing ID is a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	return r.base.Create(ctx, id, newOrderDocument(order))
}

// Update overwrites the order document. The order must exist.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	doc := newOrderDocument(order)
	updates := []firestore.Update{
		{Path: "paymentStatus", Value: doc.PaymentStatus},
		{Path: "orderStatus", Value: doc.OrderStatus},
		{Path: "paymentIntentId", Value: doc.PaymentIntentID},
		{Path: "trackingNumber", Value: doc.TrackingNumber},
		{Path: "stockRestored", Value: doc.StockRestored},
		{Path: "updatedAt", Value: doc.UpdatedAt},
		{Path: "cancelledAt", Value: optionalTime(doc.CancelledAt)},
		{Path: "deliveredAt", Value: optionalTime(doc.DeliveredAt)},
	}
	if len(doc.Metadata) == 0 {
		updates = append(updates, firestore.Update{Path: "metadata", Value: firestore.Delete})
	} else {
		updates = append(updates, firestore.Update{Path: "metadata", Value: doc.Metadata})
	}
	return r.base.Update(ctx, id, updates, firestore.Exists)
}

// Delete removes the order document.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	return r.base.Delete(ctx, strings.TrimSpace(orderID), firestore.Exists)
}

// Get loads an order by id.
func (r *OrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByPaymentIntent returns the order linked to the payment intent.
func (r *OrderRepository) FindByPaymentIntent(ctx context.Context, paymentIntentID string) (domain.Order, error) {
	return r.findOne(ctx, "paymentIntentId", strings.TrimSpace(paymentIntentID))
}

// FindByTrackingNumber returns the order carrying the tracking number.
func (r *OrderRepository) FindByTrackingNumber(ctx context.Context, trackingNumber string) (domain.Order, error) {
	return r.findOne(ctx, "trackingNumber", strings.TrimSpace(trackingNumber))
}

func (r *OrderRepository) findOne(ctx context.Context, field, value string) (domain.Order, error) {
	op := "orders.find_by_" + field
	if value == "" {
		return domain.Order{}, pfirestore.NotFound(op, fmt.Errorf("%s is required", field))
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(field, "==", value).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NotFound(op, fmt.Errorf("no order with %s %s", field, value))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// ListByUser returns the user's orders newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	coll, err := r.base.CollectionRef(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	return r.page(ctx, coll.Where("userId", "==", strings.TrimSpace(userID)), pager, "orders.list_by_user")
}

// List returns all orders newest first, optionally filtered by status.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	coll, err := r.base.CollectionRef(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	query := coll.Query
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			statuses = append(statuses, string(status))
		}
		query = query.Where("orderStatus", "in", statuses)
	}
	return r.page(ctx, query, filter.Pagination, "orders.list")
}

func (r *OrderRepository) page(ctx context.Context, query firestore.Query, pager domain.Pagination, op string) (domain.CursorPage[domain.Order], error) {
	query, size, err := pageQuery(query, pager)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	docs, err := pfirestore.QueryDocuments(ctx, query, pfirestore.StructDecoder[orderDocument](), op)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	return toPage(docs, size, func(doc pfirestore.Document[orderDocument]) domain.Order {
		return doc.Data.toDomain(doc.ID)
	}, func(o domain.Order) time.Time { return o.CreatedAt }), nil
}

func newOrderDocument(o domain.Order) orderDocument {
	doc := orderDocument{
		Number:        o.Number,
		UserID:        o.UserID,
		CustomerEmail: strings.TrimSpace(o.CustomerEmail),
		Items:         make([]orderItemDocument, 0, len(o.Items)),
		ShippingAddress: shippingDocument{
			Label:         o.ShippingAddress.Label,
			FullName:      o.ShippingAddress.FullName,
			PhoneNumber:   o.ShippingAddress.PhoneNumber,
			Country:       o.ShippingAddress.Country,
			State:         o.ShippingAddress.State,
			City:          o.ShippingAddress.City,
			Area:          o.ShippingAddress.Area,
			StreetAddress: o.ShippingAddress.StreetAddress,
			Apartment:     o.ShippingAddress.Apartment,
			PostalCode:    o.ShippingAddress.PostalCode,
		},
		PaymentMethod:   string(o.PaymentMethod),
		PaymentStatus:   string(o.PaymentStatus),
		OrderStatus:     string(o.OrderStatus),
		Subtotal:        o.Subtotal,
		ShippingFee:     o.ShippingFee,
		CODFee:          o.CODFee,
		Discount:        o.Discount,
		CouponID:        o.CouponID,
		CouponCode:      o.CouponCode,
		TotalAmount:     o.TotalAmount,
		Currency:        o.Currency,
		PaymentIntentID: o.PaymentIntentID,
		TrackingNumber:  o.TrackingNumber,
		StockRestored:   o.StockRestored,
		CreatedAt:       o.CreatedAt.UTC(),
		UpdatedAt:       o.UpdatedAt.UTC(),
		CancelledAt:     o.CancelledAt,
		DeliveredAt:     o.DeliveredAt,
	}
	if len(o.Metadata) > 0 {
		doc.Metadata = make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			doc.Metadata[k] = v
		}
	}
	for _, item := range o.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID:   item.ProductID,
			Name:        item.Name,
			ProductType: string(item.ProductType),
			Price:       item.Price,
			Quantity:    item.Quantity,
			ShippingFee: item.ShippingFee,
		})
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:            id,
		Number:        d.Number,
		UserID:        d.UserID,
		CustomerEmail: d.CustomerEmail,
		Items:         make([]domain.OrderItem, 0, len(d.Items)),
		ShippingAddress: domain.ShippingSnapshot{
			Label:         d.ShippingAddress.Label,
			FullName:      d.ShippingAddress.FullName,
			PhoneNumber:   d.ShippingAddress.PhoneNumber,
			Country:       d.ShippingAddress.Country,
			State:         d.ShippingAddress.State,
			City:          d.ShippingAddress.City,
			Area:          d.ShippingAddress.Area,
			StreetAddress: d.ShippingAddress.StreetAddress,
			Apartment:     d.ShippingAddress.Apartment,
			PostalCode:    d.ShippingAddress.PostalCode,
		},
		PaymentMethod:   domain.PaymentMethod(d.PaymentMethod),
		PaymentStatus:   domain.PaymentStatus(d.PaymentStatus),
		OrderStatus:     domain.OrderStatus(d.OrderStatus),
		Subtotal:        d.Subtotal,
		ShippingFee:     d.ShippingFee,
		CODFee:          d.CODFee,
		Discount:        d.Discount,
		CouponID:        d.CouponID,
		CouponCode:      d.CouponCode,
		TotalAmount:     d.TotalAmount,
		Currency:        d.Currency,
		PaymentIntentID: d.PaymentIntentID,
		TrackingNumber:  d.TrackingNumber,
		StockRestored:   d.StockRestored,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		CancelledAt:     d.CancelledAt,
		DeliveredAt:     d.DeliveredAt,
	}
	if len(d.Metadata) > 0 {
		order.Metadata = make(domain.OrderMetadata, len(d.Metadata))
		for k, v := range d.Metadata {
			order.Metadata[k] = v
		}
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:   item.ProductID,
			Name:        item.Name,
			ProductType: domain.ProductType(item.ProductType),
			Price:       item.Price,
			Quantity:    item.Quantity,
			ShippingFee: item.ShippingFee,
		})
	}
	return order
}
