package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/services"
)

type stubCartService struct {
	getFunc      func(ctx context.Context, userID string) (services.CartView, error)
	addFunc      func(ctx context.Context, userID, productID string, quantity int) (services.CartView, error)
	setFunc      func(ctx context.Context, userID, productID string, quantity int) (services.CartView, error)
	removeFunc   func(ctx context.Context, userID, productID string) (services.CartView, error)
	couponFunc   func(ctx context.Context, userID, code string) (services.CartView, error)
	shippingFunc func(ctx context.Context, userID string, method domain.ShippingMethod) (services.CartView, error)
	paymentFunc  func(ctx context.Context, userID string, method domain.PaymentMethod) (services.CartView, error)
}

func (s *stubCartService) GetCart(ctx context.Context, userID string) (services.CartView, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, userID)
	}
	return sampleCartView(userID), nil
}

func (s *stubCartService) AddItem(ctx context.Context, userID, productID string, quantity int) (services.CartView, error) {
	if s.addFunc != nil {
		return s.addFunc(ctx, userID, productID, quantity)
	}
	return sampleCartView(userID), nil
}

func (s *stubCartService) SetItemQuantity(ctx context.Context, userID, productID string, quantity int) (services.CartView, error) {
	if s.setFunc != nil {
		return s.setFunc(ctx, userID, productID, quantity)
	}
	return sampleCartView(userID), nil
}

func (s *stubCartService) RemoveItem(ctx context.Context, userID, productID string) (services.CartView, error) {
	if s.removeFunc != nil {
		return s.removeFunc(ctx, userID, productID)
	}
	return sampleCartView(userID), nil
}

func (s *stubCartService) Clear(ctx context.Context, userID string) (services.CartView, error) {
	return services.CartView{Cart: domain.Cart{ID: userID, UserID: userID}}, nil
}

func (s *stubCartService) ApplyCoupon(ctx context.Context, userID, code string) (services.CartView, error) {
	if s.couponFunc != nil {
		return s.couponFunc(ctx, userID, code)
	}
	return sampleCartView(userID), nil
}

func (s *stubCartService) RemoveCoupon(ctx context.Context, userID string) (services.CartView, error) {
	return sampleCartView(userID), nil
}

func (s *stubCartService) SetShippingMethod(ctx context.Context, userID string, method domain.ShippingMethod) (services.CartView, error) {
	if s.shippingFunc != nil {
		return s.shippingFunc(ctx, userID, method)
	}
	return sampleCartView(userID), nil
}

func (s *stubCartService) SetPaymentMethod(ctx context.Context, userID string, method domain.PaymentMethod) (services.CartView, error) {
	if s.paymentFunc != nil {
		return s.paymentFunc(ctx, userID, method)
	}
	return sampleCartView(userID), nil
}

func sampleCartView(userID string) services.CartView {
	sale := int64(1000)
	mug := domain.Product{ID: "mug", Name: "Mug", Price: 1200, SalePrice: &sale, OnSale: true, Quantity: 4, InStock: true}
	return services.CartView{
		Cart: domain.Cart{
			ID:             userID,
			UserID:         userID,
			Items:          []domain.CartItem{{ProductID: "mug", Quantity: 2}},
			CouponCode:     "SAVE10",
			ShippingMethod: domain.ShippingMethodStandard,
			PaymentMethod:  domain.PaymentMethodCOD,
			Totals:         domain.CartTotals{Total: 2000, Discount: 200, ShippingFee: 400, CODFee: 300, FinalTotal: 2500},
			UpdatedAt:      time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
		},
		Lines: []domain.CartLine{{Product: mug, Quantity: 2, UnitPrice: 1000, LineTotal: 2000}},
	}
}

func newCartRouter(svc services.CartService) http.Handler {
	router := chi.NewRouter()
	router.Route("/cart", NewCartHandlers(nil, svc).Routes)
	return router
}

func withUser(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data any) map[string]any {
	t.Helper()
	var envelope struct {
		Status  string          `json:"status"`
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details map[string]any  `json:"details"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	if data != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return map[string]any{"status": envelope.Status, "code": envelope.Code, "details": envelope.Details}
}

func TestCartHandlersGetCart(t *testing.T) {
	rec := httptest.NewRecorder()
	req := withUser(httptest.NewRequest(http.MethodGet, "/cart", nil), "user-7")
	newCartRouter(&stubCartService{}).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Cache-Control") == "" || rec.Header().Get("ETag") == "" {
		t.Fatalf("expected cache headers, got %v", rec.Header())
	}
	var payload cartPayload
	env := decodeEnvelope(t, rec, &payload)
	if env["status"] != "success" {
		t.Fatalf("expected success envelope, got %v", env)
	}
	if payload.UserID != "user-7" || payload.ItemsCount != 2 || payload.Totals.FinalTotal != 2500 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if len(payload.Items) != 1 || !payload.Items[0].OnSale || payload.Items[0].AvailableQuantity == nil || *payload.Items[0].AvailableQuantity != 4 {
		t.Fatalf("unexpected line payload %+v", payload.Items)
	}
}

func TestCartHandlersRequireIdentity(t *testing.T) {
	rec := httptest.NewRecorder()
	newCartRouter(&stubCartService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cart", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCartHandlersAddItem(t *testing.T) {
	var gotProduct string
	var gotQty int
	svc := &stubCartService{
		addFunc: func(_ context.Context, userID, productID string, quantity int) (services.CartView, error) {
			gotProduct, gotQty = productID, quantity
			return sampleCartView(userID), nil
		},
	}
	rec := httptest.NewRecorder()
	req := withUser(httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"productId":" mug ","quantity":2}`)), "user-1")
	newCartRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotProduct != "mug" || gotQty != 2 {
		t.Fatalf("unexpected service input %q %d", gotProduct, gotQty)
	}
}

func TestCartHandlersAddItemStockError(t *testing.T) {
	svc := &stubCartService{
		addFunc: func(context.Context, string, string, int) (services.CartView, error) {
			return services.CartView{}, &services.StockError{ProductID: "poster", Requested: 3, Available: 1, Err: services.ErrInsufficientStock}
		},
	}
	rec := httptest.NewRecorder()
	req := withUser(httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"productId":"poster","quantity":3}`)), "user-1")
	newCartRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec, nil)
	if env["code"] != "insufficient_stock" {
		t.Fatalf("unexpected code %v", env["code"])
	}
	details, _ := env["details"].(map[string]any)
	if details["productId"] != "poster" || details["available"] != float64(1) {
		t.Fatalf("unexpected details %v", details)
	}
}

func TestCartHandlersRejectBadBodies(t *testing.T) {
	cases := map[string]struct {
		body   string
		status int
	}{
		"unknown field": {body: `{"productId":"mug","qty":1}`, status: http.StatusBadRequest},
		"empty":         {body: ``, status: http.StatusBadRequest},
		"too large":     {body: fmt.Sprintf(`{"productId":"%s","quantity":1}`, strings.Repeat("x", maxCartBodySize)), status: http.StatusRequestEntityTooLarge},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := withUser(httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(tc.body)), "user-1")
			newCartRouter(&stubCartService{}).ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
		})
	}
}

func TestCartHandlersCouponErrors(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
		code   string
	}{
		"invalid":  {err: fmt.Errorf("%w: inactive", services.ErrInvalidCoupon), status: http.StatusBadRequest, code: "invalid_coupon"},
		"expired":  {err: services.ErrCouponExpired, status: http.StatusBadRequest, code: "coupon_expired"},
		"exceeded": {err: services.ErrCouponUsageExceeded, status: http.StatusUnprocessableEntity, code: "coupon_usage_exceeded"},
		"minimum":  {err: services.ErrBelowMinimumCartValue, status: http.StatusUnprocessableEntity, code: "below_minimum_cart_value"},
		"unknown":  {err: fmt.Errorf("%w: coupon", services.ErrNotFound), status: http.StatusNotFound, code: "not_found"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &stubCartService{
				couponFunc: func(context.Context, string, string) (services.CartView, error) {
					return services.CartView{}, tc.err
				},
			}
			rec := httptest.NewRecorder()
			req := withUser(httptest.NewRequest(http.MethodPost, "/cart/coupon", strings.NewReader(`{"code":"save10"}`)), "user-1")
			newCartRouter(svc).ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if env := decodeEnvelope(t, rec, nil); env["code"] != tc.code || env["status"] != "fail" {
				t.Fatalf("unexpected envelope %v", env)
			}
		})
	}
}

func TestCartHandlersMethodsAreNormalised(t *testing.T) {
	var shipping domain.ShippingMethod
	var payment domain.PaymentMethod
	svc := &stubCartService{
		shippingFunc: func(_ context.Context, userID string, method domain.ShippingMethod) (services.CartView, error) {
			shipping = method
			return sampleCartView(userID), nil
		},
		paymentFunc: func(_ context.Context, userID string, method domain.PaymentMethod) (services.CartView, error) {
			payment = method
			return sampleCartView(userID), nil
		},
	}
	router := newCartRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodPut, "/cart/shipping-method", strings.NewReader(`{"method":" Express "}`)), "user-1"))
	if rec.Code != http.StatusOK || shipping != domain.ShippingMethodExpress {
		t.Fatalf("unexpected shipping result %d %q", rec.Code, shipping)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodPut, "/cart/payment-method", strings.NewReader(`{"method":"STRIPE"}`)), "user-1"))
	if rec.Code != http.StatusOK || payment != domain.PaymentMethodStripe {
		t.Fatalf("unexpected payment result %d %q", rec.Code, payment)
	}
}

func TestCartHandlersRemoveItemUsesPath(t *testing.T) {
	var removed string
	svc := &stubCartService{
		removeFunc: func(_ context.Context, userID, productID string) (services.CartView, error) {
			removed = productID
			return sampleCartView(userID), nil
		},
	}
	rec := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodDelete, "/cart/items/poster", nil), "user-1"))
	if rec.Code != http.StatusOK || removed != "poster" {
		t.Fatalf("unexpected remove result %d %q", rec.Code, removed)
	}
}

func TestCartHandlersUnavailable(t *testing.T) {
	router := chi.NewRouter()
	router.Route("/cart", NewCartHandlers(nil, nil).Routes)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodGet, "/cart", nil), "user-1"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
