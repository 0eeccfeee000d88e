package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/services"
)

const maxAdminBodySize = 16 * 1024

// AdminHandlers exposes operator endpoints. Every route requires the admin role.
type AdminHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	coupons   services.CouponService
	inventory services.InventoryService
	exports   services.ExportService
}

// AdminServices groups the services used by the admin surface. Nil members disable their
// routes with 503 responses.
type AdminServices struct {
	Orders    services.OrderService
	Coupons   services.CouponService
	Inventory services.InventoryService
	Exports   services.ExportService
}

// NewAdminHandlers constructs admin handlers.
func NewAdminHandlers(authn *auth.Authenticator, svcs AdminServices) *AdminHandlers {
	return &AdminHandlers{
		authn:     authn,
		orders:    svcs.Orders,
		coupons:   svcs.Coupons,
		inventory: svcs.Inventory,
		exports:   svcs.Exports,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Route("/orders", func(rt chi.Router) {
		rt.Get("/", h.listOrders)
		rt.Patch("/{orderID}/status", h.updateOrderStatus)
		rt.Delete("/{orderID}", h.deleteOrder)
	})
	r.Route("/coupons", func(rt chi.Router) {
		rt.Get("/", h.listCoupons)
		rt.Post("/", h.createCoupon)
		rt.Get("/code/{code}", h.getCouponByCode)
		rt.Put("/{couponID}", h.updateCoupon)
		rt.Delete("/{couponID}", h.deleteCoupon)
	})
	r.Post("/products/{productID}/stock", h.adjustStock)
	r.Get("/products/{productID}/stock/movements", h.listStockMovements)
	r.Post("/exports/orders", h.exportOrders)
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	pager, ok := parsePagination(w, r)
	if !ok {
		return
	}
	filter := services.OrderListFilter{Pagination: pager}
	for _, status := range parseFilterValues(r.URL.Query()["status"]) {
		filter.Status = append(filter.Status, domain.OrderStatus(status))
	}

	page, err := h.orders.ListAll(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	httpx.WriteSuccess(w, http.StatusOK, buildOrderListPayload(page))
}

type updateOrderStatusRequest struct {
	Status         string `json:"status"`
	TrackingNumber string `json:"trackingNumber"`
}

func (h *AdminHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req updateOrderStatusRequest
	if err := decodeBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.SetStatus(ctx, services.SetOrderStatusCommand{
		OrderID:        strings.TrimSpace(chi.URLParam(r, "orderID")),
		Status:         domain.OrderStatus(req.Status),
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		Actor:          identity.Actor(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	if err := h.orders.Delete(ctx, strings.TrimSpace(chi.URLParam(r, "orderID"))); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) listCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		serviceUnavailable(ctx, w, "coupon")
		return
	}
	pager, ok := parsePagination(w, r)
	if !ok {
		return
	}
	page, err := h.coupons.List(ctx, pager)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]couponPayload, 0, len(page.Items))
	for _, c := range page.Items {
		items = append(items, buildCouponPayload(c))
	}
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{
		"items":         items,
		"nextPageToken": page.NextPageToken,
	})
}

func (h *AdminHandlers) getCouponByCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		serviceUnavailable(ctx, w, "coupon")
		return
	}
	coupon, err := h.coupons.GetByCode(ctx, chi.URLParam(r, "code"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, buildCouponPayload(coupon))
}

func (h *AdminHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		serviceUnavailable(ctx, w, "coupon")
		return
	}
	var req couponRequest
	if err := decodeBody(r, maxCouponBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	coupon, err := h.coupons.Create(ctx, req.command())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+coupon.ID)
	httpx.WriteSuccess(w, http.StatusCreated, buildCouponPayload(coupon))
}

func (h *AdminHandlers) updateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		serviceUnavailable(ctx, w, "coupon")
		return
	}
	var req couponRequest
	if err := decodeBody(r, maxCouponBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	coupon, err := h.coupons.Update(ctx, strings.TrimSpace(chi.URLParam(r, "couponID")), req.command())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, buildCouponPayload(coupon))
}

func (h *AdminHandlers) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		serviceUnavailable(ctx, w, "coupon")
		return
	}
	if err := h.coupons.Delete(ctx, strings.TrimSpace(chi.URLParam(r, "couponID"))); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type stockAdjustmentRequest struct {
	Delta int    `json:"delta"`
	Note  string `json:"note"`
}

type stockPayload struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	InStock   bool   `json:"inStock"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

type stockMovementPayload struct {
	ID            string `json:"id"`
	ProductID     string `json:"productId"`
	OrderID       string `json:"orderId,omitempty"`
	Delta         int    `json:"delta"`
	Reason        string `json:"reason"`
	QuantityAfter int    `json:"quantityAfter"`
	InStockAfter  bool   `json:"inStockAfter"`
	Note          string `json:"note,omitempty"`
	CreatedAt     string `json:"createdAt"`
}

func (h *AdminHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		serviceUnavailable(ctx, w, "inventory")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req stockAdjustmentRequest
	if err := decodeBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	product, err := h.inventory.Adjust(ctx, services.StockAdjustmentCommand{
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		Delta:     req.Delta,
		Note:      req.Note,
		ActorID:   identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, stockPayload{
		ProductID: product.ID,
		Quantity:  product.Quantity,
		InStock:   product.InStock,
		UpdatedAt: formatTime(product.UpdatedAt),
	})
}

func (h *AdminHandlers) listStockMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		serviceUnavailable(ctx, w, "inventory")
		return
	}
	pager, ok := parsePagination(w, r)
	if !ok {
		return
	}
	page, err := h.inventory.ListMovements(ctx, strings.TrimSpace(chi.URLParam(r, "productID")), pager)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]stockMovementPayload, 0, len(page.Items))
	for _, m := range page.Items {
		items = append(items, stockMovementPayload{
			ID:            m.ID,
			ProductID:     m.ProductID,
			OrderID:       m.OrderID,
			Delta:         m.Delta,
			Reason:        string(m.Reason),
			QuantityAfter: m.QuantityAfter,
			InStockAfter:  m.InStockAfter,
			Note:          m.Note,
			CreatedAt:     formatTime(m.CreatedAt),
		})
	}
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{
		"items":         items,
		"nextPageToken": page.NextPageToken,
	})
}

type exportOrdersRequest struct {
	Status []string `json:"status"`
	From   string   `json:"from"`
	To     string   `json:"to"`
}

type exportPayload struct {
	ID          string `json:"id"`
	Bucket      string `json:"bucket"`
	Object      string `json:"object"`
	Rows        int    `json:"rows"`
	Bytes       int64  `json:"bytes"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	ExpiresAt   string `json:"expiresAt,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

func (h *AdminHandlers) exportOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.exports == nil {
		serviceUnavailable(ctx, w, "export")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req exportOrdersRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, maxAdminBodySize, &req); err != nil && !errors.Is(err, errEmptyBody) {
			writeBodyError(ctx, w, err)
			return
		}
	}

	cmd := services.ExportOrdersCommand{ActorID: identity.UID}
	for _, status := range parseFilterValues(req.Status) {
		cmd.Status = append(cmd.Status, domain.OrderStatus(status))
	}
	var err error
	if cmd.From, err = optionalTime(req.From); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "from must be an RFC3339 timestamp or YYYY-MM-DD date", http.StatusBadRequest))
		return
	}
	if cmd.To, err = optionalTime(req.To); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "to must be an RFC3339 timestamp or YYYY-MM-DD date", http.StatusBadRequest))
		return
	}

	result, err := h.exports.ExportOrders(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusCreated, exportPayload{
		ID:          result.ID,
		Bucket:      result.Bucket,
		Object:      result.Object,
		Rows:        result.Rows,
		Bytes:       result.Bytes,
		DownloadURL: result.DownloadURL,
		ExpiresAt:   formatTimePtr(result.ExpiresAt),
		CreatedAt:   formatTime(result.CreatedAt),
	})
}

func optionalTime(value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	ts, err := parseTimeParam(value)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

// parseFilterValues accepts repeated and comma separated values, lowercased and deduplicated.
func parseFilterValues(values []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			if _, dup := seen[part]; dup {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}
	return out
}

func discountType(value string) domain.DiscountType {
	return domain.DiscountType(strings.ToLower(strings.TrimSpace(value)))
}
