package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

var couponCodePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{1,31}$`)

// CouponServiceDeps wires the collaborators of the coupon service.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
	IDGen   func() string
	Metrics Metrics
}

type couponService struct {
	coupons repositories.CouponRepository
	now     func() time.Time
	newID   func() string
	metrics Metrics
}

// NewCouponService constructs a CouponService.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &couponService{
		coupons: deps.Coupons,
		now:     clockOrNow(deps.Clock),
		newID:   idGen,
		metrics: metricsOrNoop(deps.Metrics),
	}, nil
}

// NormalizeCouponCode upper-cases and trims a customer supplied code.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *couponService) Create(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error) {
	coupon, err := s.buildCoupon(cmd)
	if err != nil {
		return Coupon{}, err
	}
	now := s.now()
	coupon.ID = s.newID()
	coupon.CreatedAt = now
	coupon.UpdatedAt = now
	if err := s.coupons.Insert(ctx, coupon); err != nil {
		if isRepoConflict(err) {
			return Coupon{}, fmt.Errorf("%w: coupon code %s already exists", ErrConflict, coupon.Code)
		}
		return Coupon{}, translateRepoError(err, "coupon")
	}
	return coupon, nil
}

func (s *couponService) Update(ctx context.Context, couponID string, cmd UpsertCouponCommand) (Coupon, error) {
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return Coupon{}, validationError("coupon id is required")
	}
	existing, err := s.coupons.Get(ctx, couponID)
	if err != nil {
		return Coupon{}, translateRepoError(err, "coupon")
	}
	coupon, err := s.buildCoupon(cmd)
	if err != nil {
		return Coupon{}, err
	}
	coupon.ID = existing.ID
	coupon.UsedCount = existing.UsedCount
	coupon.CreatedAt = existing.CreatedAt
	coupon.UpdatedAt = s.now()
	if err := s.coupons.Update(ctx, coupon); err != nil {
		if isRepoConflict(err) {
			return Coupon{}, fmt.Errorf("%w: coupon code %s already exists", ErrConflict, coupon.Code)
		}
		return Coupon{}, translateRepoError(err, "coupon")
	}
	return coupon, nil
}

func (s *couponService) Delete(ctx context.Context, couponID string) error {
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return validationError("coupon id is required")
	}
	return translateRepoError(s.coupons.Delete(ctx, couponID), "coupon")
}

func (s *couponService) List(ctx context.Context, pager Pagination) (domain.CursorPage[Coupon], error) {
	page, err := s.coupons.List(ctx, pager)
	if err != nil {
		return domain.CursorPage[Coupon]{}, translateRepoError(err, "coupons")
	}
	return page, nil
}

func (s *couponService) GetByCode(ctx context.Context, code string) (Coupon, error) {
	code = NormalizeCouponCode(code)
	if code == "" {
		return Coupon{}, validationError("coupon code is required")
	}
	coupon, err := s.coupons.GetByCode(ctx, code)
	if err != nil {
		return Coupon{}, translateRepoError(err, "coupon "+code)
	}
	return coupon, nil
}

func (s *couponService) Validate(ctx context.Context, code string, subtotal int64, userID string) (CouponEvaluation, Coupon, error) {
	if subtotal < 0 {
		return CouponEvaluation{}, Coupon{}, validationError("subtotal must not be negative")
	}
	coupon, err := s.GetByCode(ctx, code)
	if err != nil {
		return CouponEvaluation{}, Coupon{}, err
	}
	var used int64
	if userID = strings.TrimSpace(userID); userID != "" {
		usage, err := s.coupons.Usage(ctx, coupon.ID, userID)
		if err != nil {
			return CouponEvaluation{}, Coupon{}, translateRepoError(err, "coupon usage")
		}
		used = usage.Count
	}
	eval := EvaluateCoupon(coupon, subtotal, used, s.now())
	if !eval.Valid {
		s.metrics.CouponRejected(eval.Reason)
	}
	return eval, coupon, nil
}

func (s *couponService) Redeem(ctx context.Context, couponID, userID string) error {
	couponID = strings.TrimSpace(couponID)
	userID = strings.TrimSpace(userID)
	if couponID == "" || userID == "" {
		return validationError("coupon id and user id are required")
	}
	if err := s.coupons.Redeem(ctx, couponID, userID, s.now()); err != nil {
		return translateRepoError(err, "coupon redemption")
	}
	s.metrics.CouponRedeemed()
	return nil
}

func (s *couponService) buildCoupon(cmd UpsertCouponCommand) (Coupon, error) {
	code := NormalizeCouponCode(cmd.Code)
	if !couponCodePattern.MatchString(code) {
		return Coupon{}, validationError("coupon code must be 2-32 characters of A-Z, 0-9, '-' or '_'")
	}
	switch cmd.DiscountType {
	case domain.DiscountTypePercentage:
		if cmd.DiscountValue < 0 || cmd.DiscountValue > 100 {
			return Coupon{}, validationError("percentage discount must be between 0 and 100")
		}
	case domain.DiscountTypeFixed:
		if cmd.DiscountValue < 0 {
			return Coupon{}, validationError("fixed discount must not be negative")
		}
	default:
		return Coupon{}, validationError("discount type must be percentage or fixed")
	}
	if cmd.MinCartValue < 0 {
		return Coupon{}, validationError("minimum cart value must not be negative")
	}
	if cmd.MaxDiscount != nil && *cmd.MaxDiscount < 0 {
		return Coupon{}, validationError("max discount must not be negative")
	}
	if cmd.UsageLimit != nil && *cmd.UsageLimit < 0 {
		return Coupon{}, validationError("usage limit must not be negative")
	}
	if cmd.PerUserLimit < 0 {
		return Coupon{}, validationError("per user limit must not be negative")
	}
	if cmd.StartDate != nil && cmd.ExpiryDate != nil && !cmd.ExpiryDate.After(*cmd.StartDate) {
		return Coupon{}, validationError("expiry date must be after start date")
	}

	perUser := cmd.PerUserLimit
	if perUser == 0 {
		perUser = 1
	}
	return Coupon{
		Code:          code,
		Description:   strings.TrimSpace(cmd.Description),
		DiscountType:  cmd.DiscountType,
		DiscountValue: cmd.DiscountValue,
		MinCartValue:  cmd.MinCartValue,
		MaxDiscount:   cmd.MaxDiscount,
		UsageLimit:    cmd.UsageLimit,
		PerUserLimit:  perUser,
		StartDate:     utcPtr(cmd.StartDate),
		ExpiryDate:    utcPtr(cmd.ExpiryDate),
		IsActive:      cmd.IsActive,
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
