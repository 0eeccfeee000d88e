package services

import (
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
)

func int64Ptr(v int64) *int64 { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func TestEvaluateCoupon(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	base := domain.Coupon{
		Code:          "SAVE10",
		DiscountType:  domain.DiscountTypePercentage,
		DiscountValue: 10,
		IsActive:      true,
		PerUserLimit:  1,
	}

	cases := []struct {
		name     string
		mutate   func(*domain.Coupon)
		subtotal int64
		usage    int64
		discount int64
		reason   string
		err      error
	}{
		{name: "percentage", subtotal: 10000, discount: 1000},
		{name: "percentage rounds half up", subtotal: 1005, discount: 101},
		{name: "percentage clamped to max discount", mutate: func(c *domain.Coupon) { c.MaxDiscount = int64Ptr(500) }, subtotal: 10000, discount: 500},
		{name: "fixed", mutate: func(c *domain.Coupon) { c.DiscountType = domain.DiscountTypeFixed; c.DiscountValue = 700 }, subtotal: 10000, discount: 700},
		{name: "fixed clamped to subtotal", mutate: func(c *domain.Coupon) { c.DiscountType = domain.DiscountTypeFixed; c.DiscountValue = 700 }, subtotal: 300, discount: 300},
		{name: "inactive", mutate: func(c *domain.Coupon) { c.IsActive = false }, subtotal: 10000, reason: CouponReasonInactive, err: ErrInvalidCoupon},
		{name: "not started", mutate: func(c *domain.Coupon) { c.StartDate = timePtr(now.Add(time.Hour)) }, subtotal: 10000, reason: CouponReasonNotStarted, err: ErrInvalidCoupon},
		{name: "expired", mutate: func(c *domain.Coupon) { c.ExpiryDate = timePtr(now.Add(-time.Hour)) }, subtotal: 10000, reason: CouponReasonExpired, err: ErrCouponExpired},
		{name: "global limit", mutate: func(c *domain.Coupon) { c.UsageLimit = int64Ptr(5); c.UsedCount = 5 }, subtotal: 10000, reason: CouponReasonUsageLimit, err: ErrCouponUsageExceeded},
		{name: "per user limit", subtotal: 10000, usage: 1, reason: CouponReasonAlreadyUsed, err: ErrCouponUsageExceeded},
		{name: "per user limit above one", mutate: func(c *domain.Coupon) { c.PerUserLimit = 3 }, subtotal: 10000, usage: 2, discount: 1000},
		{name: "below minimum", mutate: func(c *domain.Coupon) { c.MinCartValue = 5000 }, subtotal: 4999, reason: CouponReasonBelowMinimum, err: ErrBelowMinimumCartValue},
		{name: "inactive wins over expired", mutate: func(c *domain.Coupon) { c.IsActive = false; c.ExpiryDate = timePtr(now.Add(-time.Hour)) }, subtotal: 10000, reason: CouponReasonInactive, err: ErrInvalidCoupon},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			coupon := base
			if tc.mutate != nil {
				tc.mutate(&coupon)
			}
			got := EvaluateCoupon(coupon, tc.subtotal, tc.usage, now)
			if tc.err != nil {
				if got.Valid || !errors.Is(got.Err, tc.err) || got.Reason != tc.reason {
					t.Fatalf("expected rejection %q (%v), got %+v", tc.reason, tc.err, got)
				}
				return
			}
			if !got.Valid || got.Discount != tc.discount {
				t.Fatalf("expected discount %d, got %+v", tc.discount, got)
			}
		})
	}
}
