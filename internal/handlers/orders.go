package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/services"
)

// OrderHandlers exposes checkout and order endpoints for authenticated users.
type OrderHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	orders   services.OrderService

	checkoutMiddlewares []func(http.Handler) http.Handler
}

// NewOrderHandlers constructs a new OrderHandlers instance. checkoutMiddlewares wrap only
// order placement, typically the idempotency guard.
func NewOrderHandlers(authn *auth.Authenticator, checkout services.CheckoutService, orders services.OrderService, checkoutMiddlewares ...func(http.Handler) http.Handler) *OrderHandlers {
	return &OrderHandlers{
		authn:               authn,
		checkout:            checkout,
		orders:              orders,
		checkoutMiddlewares: checkoutMiddlewares,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	place := r.With()
	for _, mw := range h.checkoutMiddlewares {
		if mw != nil {
			place = place.With(mw)
		}
	}
	place.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/track/{trackingNumber}", h.trackOrder)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}/cancel", h.cancelOrder)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	pager, ok := parsePagination(w, r)
	if !ok {
		return
	}

	page, err := h.orders.ListForUser(ctx, identity.UID, pager)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	httpx.WriteSuccess(w, http.StatusOK, buildOrderListPayload(page))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Get(ctx, strings.TrimSpace(chi.URLParam(r, "orderID")), identity.Actor())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	httpx.WriteSuccess(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Cancel(ctx, strings.TrimSpace(chi.URLParam(r, "orderID")), identity.Actor())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, buildOrderPayload(order))
}

// trackOrder returns only fulfilment fields so a tracking number does not expose the
// customer's address or contact details.
func (h *OrderHandlers) trackOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	if _, ok := requireIdentity(w, r); !ok {
		return
	}

	order, err := h.orders.Track(ctx, strings.TrimSpace(chi.URLParam(r, "trackingNumber")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, trackingPayload{
		Number:         order.Number,
		OrderStatus:    string(order.OrderStatus),
		TrackingNumber: order.TrackingNumber,
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
		DeliveredAt:    formatTimePtr(order.DeliveredAt),
	})
}

type orderPayload struct {
	ID              string             `json:"id"`
	Number          string             `json:"number"`
	UserID          string             `json:"userId"`
	CustomerEmail   string             `json:"customerEmail,omitempty"`
	Items           []orderItemPayload `json:"items"`
	ShippingAddress shippingPayload    `json:"shippingAddress"`
	PaymentMethod   string             `json:"paymentMethod"`
	PaymentStatus   string             `json:"paymentStatus"`
	OrderStatus     string             `json:"orderStatus"`
	Subtotal        int64              `json:"subtotal"`
	ShippingFee     int64              `json:"shippingFee"`
	CODFee          int64              `json:"codFee"`
	Discount        int64              `json:"discount"`
	CouponCode      string             `json:"couponCode,omitempty"`
	TotalAmount     int64              `json:"totalAmount"`
	Currency        string             `json:"currency"`
	TrackingNumber  string             `json:"trackingNumber,omitempty"`
	Metadata        map[string]string  `json:"metadata,omitempty"`
	CreatedAt       string             `json:"createdAt"`
	UpdatedAt       string             `json:"updatedAt,omitempty"`
	CancelledAt     string             `json:"cancelledAt,omitempty"`
	DeliveredAt     string             `json:"deliveredAt,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
	LineTotal int64  `json:"lineTotal"`
}

type shippingPayload struct {
	Label         string `json:"label,omitempty"`
	FullName      string `json:"fullName"`
	PhoneNumber   string `json:"phoneNumber"`
	Country       string `json:"country"`
	State         string `json:"state,omitempty"`
	City          string `json:"city"`
	Area          string `json:"area,omitempty"`
	StreetAddress string `json:"streetAddress"`
	Apartment     string `json:"apartment,omitempty"`
	PostalCode    string `json:"postalCode,omitempty"`
}

type trackingPayload struct {
	Number         string `json:"number"`
	OrderStatus    string `json:"orderStatus"`
	TrackingNumber string `json:"trackingNumber"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt,omitempty"`
	DeliveredAt    string `json:"deliveredAt,omitempty"`
}

type orderListPayload struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func buildOrderListPayload(page domain.CursorPage[services.Order]) orderListPayload {
	out := orderListPayload{Items: make([]orderPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, order := range page.Items {
		out.Items = append(out.Items, buildOrderPayload(order))
	}
	return out
}

func buildOrderPayload(order services.Order) orderPayload {
	addr := order.ShippingAddress
	payload := orderPayload{
		ID:            order.ID,
		Number:        order.Number,
		UserID:        order.UserID,
		CustomerEmail: order.CustomerEmail,
		Items:         make([]orderItemPayload, 0, len(order.Items)),
		ShippingAddress: shippingPayload{
			Label:         addr.Label,
			FullName:      addr.FullName,
			PhoneNumber:   addr.PhoneNumber,
			Country:       addr.Country,
			State:         addr.State,
			City:          addr.City,
			Area:          addr.Area,
			StreetAddress: addr.StreetAddress,
			Apartment:     addr.Apartment,
			PostalCode:    addr.PostalCode,
		},
		PaymentMethod:  string(order.PaymentMethod),
		PaymentStatus:  string(order.PaymentStatus),
		OrderStatus:    string(order.OrderStatus),
		Subtotal:       order.Subtotal,
		ShippingFee:    order.ShippingFee,
		CODFee:         order.CODFee,
		Discount:       order.Discount,
		CouponCode:     order.CouponCode,
		TotalAmount:    order.TotalAmount,
		Currency:       strings.ToUpper(order.Currency),
		TrackingNumber: order.TrackingNumber,
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
		CancelledAt:    formatTimePtr(order.CancelledAt),
		DeliveredAt:    formatTimePtr(order.DeliveredAt),
	}
	if len(order.Metadata) > 0 {
		payload.Metadata = make(map[string]string, len(order.Metadata))
		for k, v := range order.Metadata {
			payload.Metadata[k] = v
		}
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal(),
		})
	}
	return payload
}
