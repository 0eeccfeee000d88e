package services

import (
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
)

// Rejection reasons reported by EvaluateCoupon.
const (
	CouponReasonInactive     = "inactive"
	CouponReasonNotStarted   = "not started"
	CouponReasonExpired      = "expired"
	CouponReasonUsageLimit   = "usage limit reached"
	CouponReasonAlreadyUsed  = "already used"
	CouponReasonBelowMinimum = "below minimum"
)

// CouponEvaluation is the outcome of applying a coupon to a subtotal.
type CouponEvaluation struct {
	Valid    bool
	Discount int64
	Reason   string
	Err      error
}

func rejectCoupon(reason string, err error) CouponEvaluation {
	return CouponEvaluation{Reason: reason, Err: err}
}

// EvaluateCoupon checks coupon against subtotal and the user's prior redemptions. It has
// no side effects. Checks run in a fixed order and the first failure wins.
func EvaluateCoupon(coupon domain.Coupon, subtotal, userUsageCount int64, now time.Time) CouponEvaluation {
	if !coupon.IsActive {
		return rejectCoupon(CouponReasonInactive, ErrInvalidCoupon)
	}
	if coupon.StartDate != nil && now.Before(*coupon.StartDate) {
		return rejectCoupon(CouponReasonNotStarted, ErrInvalidCoupon)
	}
	if coupon.IsExpired(now) {
		return rejectCoupon(CouponReasonExpired, ErrCouponExpired)
	}
	if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
		return rejectCoupon(CouponReasonUsageLimit, ErrCouponUsageExceeded)
	}
	perUser := coupon.PerUserLimit
	if perUser <= 0 {
		perUser = 1
	}
	if userUsageCount >= perUser {
		return rejectCoupon(CouponReasonAlreadyUsed, ErrCouponUsageExceeded)
	}
	if subtotal < coupon.MinCartValue {
		return rejectCoupon(CouponReasonBelowMinimum, ErrBelowMinimumCartValue)
	}

	var discount int64
	switch coupon.DiscountType {
	case domain.DiscountTypePercentage:
		discount = (subtotal*coupon.DiscountValue + 50) / 100
		if coupon.MaxDiscount != nil && discount > *coupon.MaxDiscount {
			discount = *coupon.MaxDiscount
		}
	default:
		discount = coupon.DiscountValue
	}
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	return CouponEvaluation{Valid: true, Discount: discount}
}
