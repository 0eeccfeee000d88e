package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/platform/requestctx"
	"github.com/hanko-field/commerce/internal/services"
)

const (
	maxCouponBodySize        = 4 * 1024
	couponValidateRateLimit  = 30
	couponValidateRateWindow = time.Minute
	couponValidateRatePrefix = "ratelimit:coupon_validate:"
)

// CouponHandlers exposes the shopper-facing coupon preview.
type CouponHandlers struct {
	authn   *auth.Authenticator
	coupons services.CouponService
	limiter rateLimiter
}

// CouponHandlersOption customises CouponHandlers.
type CouponHandlersOption func(*CouponHandlers)

// WithCouponRateLimit overrides the per-user validation limit. A non-positive limit
// disables limiting.
func WithCouponRateLimit(limit int, window time.Duration, clock func() time.Time) CouponHandlersOption {
	return func(h *CouponHandlers) {
		h.limiter = newWindowLimiter(limit, window, clock)
	}
}

// WithCouponRedisRateLimit counts validations in Redis so the limit holds across instances.
func WithCouponRedisRateLimit(client RedisCounter) CouponHandlersOption {
	return func(h *CouponHandlers) {
		if client != nil {
			h.limiter = newRedisLimiter(client, couponValidateRatePrefix, couponValidateRateLimit, couponValidateRateWindow)
		}
	}
}

// NewCouponHandlers constructs coupon handlers guarded by Firebase authentication.
func NewCouponHandlers(authn *auth.Authenticator, coupons services.CouponService, opts ...CouponHandlersOption) *CouponHandlers {
	h := &CouponHandlers{
		authn:   authn,
		coupons: coupons,
		limiter: newWindowLimiter(couponValidateRateLimit, couponValidateRateWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /coupons endpoints.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/validate", h.validateCoupon)
}

type validateCouponRequest struct {
	Code      string `json:"code"`
	CartTotal int64  `json:"cartTotal"`
}

type couponValidationPayload struct {
	Valid      bool   `json:"valid"`
	Code       string `json:"code"`
	Discount   int64  `json:"discount"`
	FinalTotal int64  `json:"finalTotal"`
	Reason     string `json:"reason,omitempty"`
}

// validateCoupon previews a coupon without redeeming it. Rejections are reported in the
// payload rather than as errors; only unknown codes yield 404.
func (h *CouponHandlers) validateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		serviceUnavailable(ctx, w, "coupon")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.limiter != nil {
		allowed, wait, err := h.limiter.Allow(ctx, identity.UID)
		switch {
		case err != nil:
			// fail open while the limiter is unreachable
			requestctx.Logger(ctx).Warn("coupon rate limiter unavailable", zap.Error(err))
		case !allowed:
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many coupon checks; retry later", http.StatusTooManyRequests))
			return
		}
	}

	var req validateCouponRequest
	if err := decodeBody(r, maxCouponBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	eval, coupon, err := h.coupons.Validate(ctx, req.Code, req.CartTotal, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := couponValidationPayload{
		Valid:      eval.Valid,
		Code:       coupon.Code,
		Discount:   eval.Discount,
		FinalTotal: req.CartTotal - eval.Discount,
		Reason:     eval.Reason,
	}
	httpx.WriteSuccess(w, http.StatusOK, payload)
}

type couponRequest struct {
	Code          string     `json:"code"`
	Description   string     `json:"description"`
	DiscountType  string     `json:"discountType"`
	DiscountValue int64      `json:"discountValue"`
	MinCartValue  int64      `json:"minCartValue"`
	MaxDiscount   *int64     `json:"maxDiscount"`
	UsageLimit    *int64     `json:"usageLimit"`
	PerUserLimit  int64      `json:"perUserLimit"`
	StartDate     *time.Time `json:"startDate"`
	ExpiryDate    *time.Time `json:"expiryDate"`
	IsActive      *bool      `json:"isActive"`
}

func (req couponRequest) command() services.UpsertCouponCommand {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return services.UpsertCouponCommand{
		Code:          req.Code,
		Description:   req.Description,
		DiscountType:  discountType(req.DiscountType),
		DiscountValue: req.DiscountValue,
		MinCartValue:  req.MinCartValue,
		MaxDiscount:   req.MaxDiscount,
		UsageLimit:    req.UsageLimit,
		PerUserLimit:  req.PerUserLimit,
		StartDate:     req.StartDate,
		ExpiryDate:    req.ExpiryDate,
		IsActive:      active,
	}
}

type couponPayload struct {
	ID            string `json:"id"`
	Code          string `json:"code"`
	Description   string `json:"description,omitempty"`
	DiscountType  string `json:"discountType"`
	DiscountValue int64  `json:"discountValue"`
	MinCartValue  int64  `json:"minCartValue"`
	MaxDiscount   *int64 `json:"maxDiscount,omitempty"`
	UsageLimit    *int64 `json:"usageLimit,omitempty"`
	UsedCount     int64  `json:"usedCount"`
	PerUserLimit  int64  `json:"perUserLimit"`
	StartDate     string `json:"startDate,omitempty"`
	ExpiryDate    string `json:"expiryDate,omitempty"`
	IsActive      bool   `json:"isActive"`
	CreatedAt     string `json:"createdAt,omitempty"`
	UpdatedAt     string `json:"updatedAt,omitempty"`
}

func buildCouponPayload(c services.Coupon) couponPayload {
	return couponPayload{
		ID:            c.ID,
		Code:          c.Code,
		Description:   c.Description,
		DiscountType:  string(c.DiscountType),
		DiscountValue: c.DiscountValue,
		MinCartValue:  c.MinCartValue,
		MaxDiscount:   c.MaxDiscount,
		UsageLimit:    c.UsageLimit,
		UsedCount:     c.UsedCount,
		PerUserLimit:  c.PerUserLimit,
		StartDate:     formatTimePtr(c.StartDate),
		ExpiryDate:    formatTimePtr(c.ExpiryDate),
		IsActive:      c.IsActive,
		CreatedAt:     formatTime(c.CreatedAt),
		UpdatedAt:     formatTime(c.UpdatedAt),
	}
}
