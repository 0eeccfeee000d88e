package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

const cartCollection = "carts"

type cartDocument struct {
	UserID         string             `firestore:"userId"`
	Items          []cartItemDocument `firestore:"items"`
	CouponCode     string             `firestore:"couponCode,omitempty"`
	ShippingMethod string             `firestore:"shippingMethod"`
	PaymentMethod  string             `firestore:"paymentMethod,omitempty"`
	Totals         cartTotalsDocument `firestore:"totals"`
	CreatedAt      time.Time          `firestore:"createdAt"`
	UpdatedAt      time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID string `firestore:"productId"`
	Quantity  int    `firestore:"quantity"`
}

type cartTotalsDocument struct {
	Total       int64 `firestore:"total"`
	Discount    int64 `firestore:"discount"`
	ShippingFee int64 `firestore:"shippingFee"`
	CODFee      int64 `firestore:"codFee"`
	FinalTotal  int64 `firestore:"finalTotal"`
}

// CartRepository persists one cart document per user, keyed by the user ID.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		base: pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil),
	}, nil
}

// Get loads the user's cart.
func (r *CartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}
	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Save overwrites the cart document.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) error {
	userID := strings.TrimSpace(cart.UserID)
	if userID == "" {
		return errors.New("cart repository: user id is required")
	}
	now := time.Now().UTC()
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = now
	}
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = cart.UpdatedAt
	}
	doc := cartDocument{
		UserID:         userID,
		Items:          make([]cartItemDocument, 0, len(cart.Items)),
		CouponCode:     strings.TrimSpace(cart.CouponCode),
		ShippingMethod: string(cart.ShippingMethod),
		PaymentMethod:  string(cart.PaymentMethod),
		Totals: cartTotalsDocument{
			Total:       cart.Totals.Total,
			Discount:    cart.Totals.Discount,
			ShippingFee: cart.Totals.ShippingFee,
			CODFee:      cart.Totals.CODFee,
			FinalTotal:  cart.Totals.FinalTotal,
		},
		CreatedAt: cart.CreatedAt.UTC(),
		UpdatedAt: cart.UpdatedAt.UTC(),
	}
	for _, item := range cart.Items {
		doc.Items = append(doc.Items, cartItemDocument{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return r.base.Set(ctx, userID, doc)
}

func (d cartDocument) toDomain(id string) domain.Cart {
	cart := domain.Cart{
		ID:             id,
		UserID:         d.UserID,
		Items:          make([]domain.CartItem, 0, len(d.Items)),
		CouponCode:     d.CouponCode,
		ShippingMethod: domain.ShippingMethod(d.ShippingMethod),
		PaymentMethod:  domain.PaymentMethod(d.PaymentMethod),
		Totals: domain.CartTotals{
			Total:       d.Totals.Total,
			Discount:    d.Totals.Discount,
			ShippingFee: d.Totals.ShippingFee,
			CODFee:      d.Totals.CODFee,
			FinalTotal:  d.Totals.FinalTotal,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if cart.UserID == "" {
		cart.UserID = id
	}
	for _, item := range d.Items {
		cart.Items = append(cart.Items, domain.CartItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return cart
}
