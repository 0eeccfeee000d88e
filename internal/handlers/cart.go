package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/services"
)

const maxCartBodySize = 4 * 1024

// CartHandlers exposes authenticated cart endpoints for the current user.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{productID}", h.setItemQuantity)
	r.Delete("/items/{productID}", h.removeItem)
	r.Post("/coupon", h.applyCoupon)
	r.Delete("/coupon", h.removeCoupon)
	r.Put("/shipping-method", h.setShippingMethod)
	r.Put("/payment-method", h.setPaymentMethod)
}

type addCartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type setCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type applyCouponRequest struct {
	Code string `json:"code"`
}

type cartMethodRequest struct {
	Method string `json:"method"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(userID string) (services.CartView, error) {
		return h.carts.GetCart(r.Context(), userID)
	})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(userID string) (services.CartView, error) {
		return h.carts.Clear(r.Context(), userID)
	})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	var req addCartItemRequest
	if err := decodeBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}
	h.respond(w, r, func(userID string) (services.CartView, error) {
		return h.carts.AddItem(r.Context(), userID, strings.TrimSpace(req.ProductID), req.Quantity)
	})
}

func (h *CartHandlers) setItemQuantity(w http.ResponseWriter, r *http.Request) {
	var req setCartItemRequest
	if err := decodeBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	h.respond(w, r, func(userID string) (services.CartView, error) {
		return h.carts.SetItemQuantity(r.Context(), userID, productID, req.Quantity)
	})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	h.respond(w, r, func(userID string) (services.CartView, error) {
		return h.carts.RemoveItem(r.Context(), userID, productID)
	})
}

func (h *CartHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	var req applyCouponRequest
	if err := decodeBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}
	h.respond(w, r, func(userID string) (services.CartView, error) {
		return h.carts.ApplyCoupon(r.Context(), userID, req.Code)
	})
}

func (h *CartHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(userID string) (services.CartView, error) {
		return h.carts.RemoveCoupon(r.Context(), userID)
	})
}

func (h *CartHandlers) setShippingMethod(w http.ResponseWriter, r *http.Request) {
	var req cartMethodRequest
	if err := decodeBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}
	method := domain.ShippingMethod(strings.ToLower(strings.TrimSpace(req.Method)))
	h.respond(w, r, func(userID string) (services.CartView, error) {
		return h.carts.SetShippingMethod(r.Context(), userID, method)
	})
}

func (h *CartHandlers) setPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req cartMethodRequest
	if err := decodeBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}
	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.Method)))
	h.respond(w, r, func(userID string) (services.CartView, error) {
		return h.carts.SetPaymentMethod(r.Context(), userID, method)
	})
}

// respond resolves the caller, runs op and writes the resulting cart.
func (h *CartHandlers) respond(w http.ResponseWriter, r *http.Request, op func(userID string) (services.CartView, error)) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	view, err := op(identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	setNoStore(w)
	if !view.Cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", view.Cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	w.Header().Set("ETag", buildCartETag(view.Cart))
	httpx.WriteSuccess(w, http.StatusOK, buildCartPayload(view))
}

type cartPayload struct {
	ID             string            `json:"id"`
	UserID         string            `json:"userId"`
	Items          []cartLinePayload `json:"items"`
	ItemsCount     int               `json:"itemsCount"`
	CouponCode     string            `json:"couponCode,omitempty"`
	ShippingMethod string            `json:"shippingMethod"`
	PaymentMethod  string            `json:"paymentMethod"`
	Totals         cartTotalsPayload `json:"totals"`
	UpdatedAt      string            `json:"updatedAt,omitempty"`
}

type cartLinePayload struct {
	ProductID         string `json:"productId"`
	Name              string `json:"name"`
	Quantity          int    `json:"quantity"`
	UnitPrice         int64  `json:"unitPrice"`
	LineTotal         int64  `json:"lineTotal"`
	OnSale            bool   `json:"onSale"`
	InStock           bool   `json:"inStock"`
	AvailableQuantity *int   `json:"availableQuantity,omitempty"`
}

type cartTotalsPayload struct {
	Total       int64 `json:"total"`
	Discount    int64 `json:"discount"`
	ShippingFee int64 `json:"shippingFee"`
	CODFee      int64 `json:"codFee"`
	FinalTotal  int64 `json:"finalTotal"`
}

func buildCartPayload(view services.CartView) cartPayload {
	cart := view.Cart
	payload := cartPayload{
		ID:             cart.ID,
		UserID:         cart.UserID,
		Items:          make([]cartLinePayload, 0, len(view.Lines)),
		CouponCode:     cart.CouponCode,
		ShippingMethod: string(cart.ShippingMethod),
		PaymentMethod:  string(cart.PaymentMethod),
		Totals: cartTotalsPayload{
			Total:       cart.Totals.Total,
			Discount:    cart.Totals.Discount,
			ShippingFee: cart.Totals.ShippingFee,
			CODFee:      cart.Totals.CODFee,
			FinalTotal:  cart.Totals.FinalTotal,
		},
		UpdatedAt: formatTime(cart.UpdatedAt),
	}
	for _, line := range view.Lines {
		item := cartLinePayload{
			ProductID: line.Product.ID,
			Name:      line.Product.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.LineTotal,
			OnSale:    line.UnitPrice < line.Product.Price,
			InStock:   line.Product.Available(),
		}
		if available := line.Product.AvailableQuantity(); available >= 0 {
			item.AvailableQuantity = &available
		}
		payload.Items = append(payload.Items, item)
		payload.ItemsCount += line.Quantity
	}
	return payload
}

func buildCartETag(cart domain.Cart) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d|%s", cart.ID, cart.UpdatedAt.UnixNano(), cart.Totals.FinalTotal, cart.CouponCode)))
	return `W/"` + hex.EncodeToString(sum[:8]) + `"`
}
