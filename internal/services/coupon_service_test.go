package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories/memory"
)

type countingMetrics struct {
	noopMetrics
	redeemed int
	rejected []string
}

func (m *countingMetrics) CouponRedeemed()              { m.redeemed++ }
func (m *countingMetrics) CouponRejected(reason string) { m.rejected = append(m.rejected, reason) }

func newCouponServiceForTest(t *testing.T) (CouponService, *memory.Store, *countingMetrics) {
	t.Helper()
	store := memory.NewStore()
	metrics := &countingMetrics{}
	ids := 0
	svc, err := NewCouponService(CouponServiceDeps{
		Coupons: store.Coupons(),
		Clock:   func() time.Time { return testNow },
		IDGen: func() string {
			ids++
			return "cpn-" + string(rune('0'+ids))
		},
		Metrics: metrics,
	})
	if err != nil {
		t.Fatalf("new coupon service: %v", err)
	}
	return svc, store, metrics
}

func TestCouponServiceCreateNormalisesCode(t *testing.T) {
	svc, _, _ := newCouponServiceForTest(t)
	coupon, err := svc.Create(context.Background(), UpsertCouponCommand{
		Code: "  spring-25 ", DiscountType: domain.DiscountTypePercentage, DiscountValue: 25, IsActive: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if coupon.ID != "cpn-1" || coupon.Code != "SPRING-25" || coupon.PerUserLimit != 1 {
		t.Fatalf("unexpected coupon %+v", coupon)
	}
	if !coupon.CreatedAt.Equal(testNow) {
		t.Fatalf("expected created at %s, got %s", testNow, coupon.CreatedAt)
	}

	if _, err := svc.Create(context.Background(), UpsertCouponCommand{
		Code: "SPRING-25", DiscountType: domain.DiscountTypeFixed, DiscountValue: 100,
	}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected duplicate code conflict, got %v", err)
	}
}

func TestCouponServiceValidatesInput(t *testing.T) {
	svc, _, _ := newCouponServiceForTest(t)
	start := testNow
	cases := map[string]UpsertCouponCommand{
		"bad code":         {Code: "x", DiscountType: domain.DiscountTypeFixed, DiscountValue: 1},
		"bad characters":   {Code: "NO SPACES", DiscountType: domain.DiscountTypeFixed, DiscountValue: 1},
		"unknown type":     {Code: "OK1", DiscountType: "bogo", DiscountValue: 1},
		"percent over 100": {Code: "OK2", DiscountType: domain.DiscountTypePercentage, DiscountValue: 120},
		"negative fixed":   {Code: "OK3", DiscountType: domain.DiscountTypeFixed, DiscountValue: -5},
		"expiry before":    {Code: "OK4", DiscountType: domain.DiscountTypeFixed, DiscountValue: 5, StartDate: &start, ExpiryDate: timePtr(start.Add(-time.Hour))},
		"negative limit":   {Code: "OK5", DiscountType: domain.DiscountTypeFixed, DiscountValue: 5, UsageLimit: int64Ptr(-1)},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), cmd); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCouponServiceUpdateKeepsUsage(t *testing.T) {
	svc, store, _ := newCouponServiceForTest(t)
	ctx := context.Background()
	coupon, err := svc.Create(ctx, UpsertCouponCommand{Code: "TEN", DiscountType: domain.DiscountTypeFixed, DiscountValue: 1000, IsActive: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Redeem(ctx, coupon.ID, "user-1"); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	updated, err := svc.Update(ctx, coupon.ID, UpsertCouponCommand{Code: "TEN", DiscountType: domain.DiscountTypeFixed, DiscountValue: 500, IsActive: false})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.UsedCount != 1 || updated.DiscountValue != 500 || updated.IsActive {
		t.Fatalf("unexpected update %+v", updated)
	}
	stored, _ := store.Coupons().Get(ctx, coupon.ID)
	if stored.UsedCount != 1 {
		t.Fatalf("expected used count preserved, got %d", stored.UsedCount)
	}
	if _, err := svc.Update(ctx, "missing", UpsertCouponCommand{Code: "TEN", DiscountType: domain.DiscountTypeFixed}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCouponServiceValidatePreview(t *testing.T) {
	svc, _, metrics := newCouponServiceForTest(t)
	ctx := context.Background()
	coupon, err := svc.Create(ctx, UpsertCouponCommand{
		Code: "BIG", DiscountType: domain.DiscountTypePercentage, DiscountValue: 20, MinCartValue: 5000, IsActive: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	eval, got, err := svc.Validate(ctx, "big", 10000, "user-1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !eval.Valid || eval.Discount != 2000 || got.ID != coupon.ID {
		t.Fatalf("unexpected evaluation %+v", eval)
	}

	eval, _, err = svc.Validate(ctx, "BIG", 100, "user-1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if eval.Valid || !errors.Is(eval.Err, ErrBelowMinimumCartValue) || eval.Reason != CouponReasonBelowMinimum {
		t.Fatalf("expected below minimum, got %+v", eval)
	}
	if len(metrics.rejected) != 1 || metrics.rejected[0] != CouponReasonBelowMinimum {
		t.Fatalf("expected rejection metric, got %v", metrics.rejected)
	}

	if err := svc.Redeem(ctx, coupon.ID, "user-1"); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	eval, _, _ = svc.Validate(ctx, "BIG", 10000, "user-1")
	if eval.Valid || eval.Reason != CouponReasonAlreadyUsed {
		t.Fatalf("expected already used, got %+v", eval)
	}
	eval, _, _ = svc.Validate(ctx, "BIG", 10000, "user-2")
	if !eval.Valid {
		t.Fatalf("other users keep their allowance, got %+v", eval)
	}
	if metrics.redeemed != 1 {
		t.Fatalf("expected one redemption metric, got %d", metrics.redeemed)
	}

	if _, _, err := svc.Validate(ctx, "NOPE", 100, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCouponServiceListAndDelete(t *testing.T) {
	svc, _, _ := newCouponServiceForTest(t)
	ctx := context.Background()
	for _, code := range []string{"AA", "BB"} {
		if _, err := svc.Create(ctx, UpsertCouponCommand{Code: code, DiscountType: domain.DiscountTypeFixed, DiscountValue: 1}); err != nil {
			t.Fatalf("create %s: %v", code, err)
		}
	}
	page, err := svc.List(ctx, Pagination{PageSize: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 coupons, got %d", len(page.Items))
	}
	coupon, err := svc.GetByCode(ctx, "aa")
	if err != nil {
		t.Fatalf("get by code: %v", err)
	}
	if err := svc.Delete(ctx, coupon.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(ctx, coupon.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}
