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

const (
	couponsCollection     = "coupons"
	couponUsageCollection = "couponUsage"
)

type couponDocument struct {
	Code          string     `firestore:"code"`
	Description   string     `firestore:"description,omitempty"`
	DiscountType  string     `firestore:"discountType"`
	DiscountValue int64      `firestore:"discountValue"`
	MinCartValue  int64      `firestore:"minCartValue"`
	MaxDiscount   *int64     `firestore:"maxDiscount,omitempty"`
	UsageLimit    *int64     `firestore:"usageLimit,omitempty"`
	UsedCount     int64      `firestore:"usedCount"`
	PerUserLimit  int64      `firestore:"perUserLimit"`
	StartDate     *time.Time `firestore:"startDate,omitempty"`
	ExpiryDate    *time.Time `firestore:"expiryDate,omitempty"`
	IsActive      bool       `firestore:"isActive"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
}

type couponUsageDocument struct {
	CouponID       string    `firestore:"couponId"`
	UserID         string    `firestore:"userId"`
	Count          int64     `firestore:"count"`
	LastRedeemedAt time.Time `firestore:"lastRedeemedAt"`
}

// CouponRepository persists coupons and per-user redemption counters.
type CouponRepository struct {
	provider *pfirestore.Provider
	coupons  *pfirestore.BaseRepository[couponDocument]
	usage    *pfirestore.BaseRepository[couponUsageDocument]
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	return &CouponRepository{
		provider: provider,
		coupons:  pfirestore.NewBaseRepository[couponDocument](provider, couponsCollection, nil),
		usage:    pfirestore.NewBaseRepository[couponUsageDocument](provider, couponUsageCollection, nil),
	}, nil
}

// Insert creates the coupon after checking the code is unused.
func (r *CouponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	return pfirestore.RunTransaction(ctx, client, func(ctx context.Context, _ *firestore.Transaction) error {
		existing, err := r.GetByCode(ctx, coupon.Code)
		switch {
		case err == nil:
			return pfirestore.Conflict("coupons.insert", fmt.Errorf("coupon code %s already exists (%s)", coupon.Code, existing.ID))
		case !isNotFound(err):
			return err
		}
		return r.coupons.Create(ctx, coupon.ID, newCouponDocument(coupon))
	})
}

// Update overwrites the coupon definition. usedCount is left to Redeem.
func (r *CouponRepository) Update(ctx context.Context, coupon domain.Coupon) error {
	doc := newCouponDocument(coupon)
	updates := []firestore.Update{
		{Path: "code", Value: doc.Code},
		{Path: "description", Value: doc.Description},
		{Path: "discountType", Value: doc.DiscountType},
		{Path: "discountValue", Value: doc.DiscountValue},
		{Path: "minCartValue", Value: doc.MinCartValue},
		{Path: "maxDiscount", Value: optionalInt(doc.MaxDiscount)},
		{Path: "usageLimit", Value: optionalInt(doc.UsageLimit)},
		{Path: "perUserLimit", Value: doc.PerUserLimit},
		{Path: "startDate", Value: optionalTime(doc.StartDate)},
		{Path: "expiryDate", Value: optionalTime(doc.ExpiryDate)},
		{Path: "isActive", Value: doc.IsActive},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	}
	return r.coupons.Update(ctx, coupon.ID, updates)
}

// Delete removes the coupon definition. Existing usage counters are retained for audit.
func (r *CouponRepository) Delete(ctx context.Context, couponID string) error {
	if _, err := r.coupons.Get(ctx, couponID); err != nil {
		return err
	}
	return r.coupons.Delete(ctx, couponID)
}

// Get loads a coupon by id.
func (r *CouponRepository) Get(ctx context.Context, couponID string) (domain.Coupon, error) {
	doc, err := r.coupons.Get(ctx, strings.TrimSpace(couponID))
	if err != nil {
		return domain.Coupon{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// GetByCode loads a coupon by its normalised code.
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (domain.Coupon, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	docs, err := r.coupons.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	if len(docs) == 0 {
		return domain.Coupon{}, pfirestore.NotFound("coupons.get_by_code", fmt.Errorf("coupon %s not found", code))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns coupons newest first.
func (r *CouponRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error) {
	coll, err := r.coupons.CollectionRef(ctx)
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, err
	}
	query, size, err := pageQuery(coll.Query, pager)
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, err
	}
	docs, err := pfirestore.QueryDocuments(ctx, query, pfirestore.StructDecoder[couponDocument](), "coupons.list")
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, err
	}
	return toPage(docs, size, func(doc pfirestore.Document[couponDocument]) domain.Coupon {
		return doc.Data.toDomain(doc.ID)
	}, func(c domain.Coupon) time.Time { return c.CreatedAt }), nil
}

// Usage returns the (coupon, user) counter; a missing document counts as zero.
func (r *CouponRepository) Usage(ctx context.Context, couponID, userID string) (domain.CouponUsage, error) {
	doc, err := r.usage.Get(ctx, usageDocumentID(couponID, userID))
	if err != nil {
		if isNotFound(err) {
			return domain.CouponUsage{CouponID: couponID, UserID: userID}, nil
		}
		return domain.CouponUsage{}, err
	}
	return domain.CouponUsage{
		CouponID:       doc.Data.CouponID,
		UserID:         doc.Data.UserID,
		Count:          doc.Data.Count,
		LastRedeemedAt: doc.Data.LastRedeemedAt,
	}, nil
}

// Redeem increments usedCount and the per-user counter with server-side increments.
func (r *CouponRepository) Redeem(ctx context.Context, couponID, userID string, at time.Time) error {
	couponID = strings.TrimSpace(couponID)
	userID = strings.TrimSpace(userID)
	if couponID == "" || userID == "" {
		return errors.New("coupon repository: coupon and user ids are required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	at = at.UTC()
	return pfirestore.RunTransaction(ctx, client, func(ctx context.Context, _ *firestore.Transaction) error {
		if err := r.coupons.Update(ctx, couponID, []firestore.Update{
			{Path: "usedCount", Value: firestore.Increment(1)},
			{Path: "updatedAt", Value: at},
		}); err != nil {
			return err
		}
		return r.usage.Set(ctx, usageDocumentID(couponID, userID), map[string]any{
			"couponId":       couponID,
			"userId":         userID,
			"count":          firestore.Increment(1),
			"lastRedeemedAt": at,
		}, firestore.MergeAll)
	})
}

func usageDocumentID(couponID, userID string) string {
	return strings.TrimSpace(couponID) + "_" + strings.TrimSpace(userID)
}

func newCouponDocument(c domain.Coupon) couponDocument {
	return couponDocument{
		Code:          strings.ToUpper(strings.TrimSpace(c.Code)),
		Description:   strings.TrimSpace(c.Description),
		DiscountType:  string(c.DiscountType),
		DiscountValue: c.DiscountValue,
		MinCartValue:  c.MinCartValue,
		MaxDiscount:   c.MaxDiscount,
		UsageLimit:    c.UsageLimit,
		UsedCount:     c.UsedCount,
		PerUserLimit:  c.PerUserLimit,
		StartDate:     c.StartDate,
		ExpiryDate:    c.ExpiryDate,
		IsActive:      c.IsActive,
		CreatedAt:     c.CreatedAt.UTC(),
		UpdatedAt:     c.UpdatedAt.UTC(),
	}
}

func (d couponDocument) toDomain(id string) domain.Coupon {
	return domain.Coupon{
		ID:            id,
		Code:          d.Code,
		Description:   d.Description,
		DiscountType:  domain.DiscountType(d.DiscountType),
		DiscountValue: d.DiscountValue,
		MinCartValue:  d.MinCartValue,
		MaxDiscount:   d.MaxDiscount,
		UsageLimit:    d.UsageLimit,
		UsedCount:     d.UsedCount,
		PerUserLimit:  d.PerUserLimit,
		StartDate:     d.StartDate,
		ExpiryDate:    d.ExpiryDate,
		IsActive:      d.IsActive,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func optionalInt(v *int64) any {
	if v == nil {
		return firestore.Delete
	}
	return *v
}

func optionalTime(v *time.Time) any {
	if v == nil {
		return firestore.Delete
	}
	return v.UTC()
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
