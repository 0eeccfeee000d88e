package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

// CartServiceDeps wires the collaborators of the cart service.
type CartServiceDeps struct {
	Carts    repositories.CartRepository
	Products repositories.ProductRepository
	Coupons  repositories.CouponRepository
	Pricing  PricingPolicy
	Clock    func() time.Time
	Logger   Logger
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	coupons  repositories.CouponRepository
	pricing  PricingPolicy
	now      func() time.Time
	logger   Logger
}

// NewCartService constructs a CartService.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("cart service: coupon repository is required")
	}
	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		coupons:  deps.Coupons,
		pricing:  deps.Pricing,
		now:      clockOrNow(deps.Clock),
		logger:   loggerOrNoop(deps.Logger),
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, userID string) (CartView, error) {
	cart, err := s.load(ctx, userID)
	if err != nil {
		return CartView{}, err
	}
	return s.recomputeAndSave(ctx, cart)
}

func (s *cartService) AddItem(ctx context.Context, userID, productID string, quantity int) (CartView, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return CartView{}, validationError("product id is required")
	}
	if quantity < 1 {
		return CartView{}, validationError("quantity must be at least 1")
	}
	cart, err := s.load(ctx, userID)
	if err != nil {
		return CartView{}, err
	}
	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return CartView{}, translateRepoError(err, "product "+productID)
	}
	if err := checkAvailability(product, quantity); err != nil {
		return CartView{}, err
	}

	// Repeat adds increment the line; the combined quantity is validated at checkout.
	merged := false
	for i := range cart.Items {
		if cart.Items[i].ProductID == productID {
			cart.Items[i].Quantity += quantity
			merged = true
			break
		}
	}
	if !merged {
		cart.Items = append(cart.Items, domain.CartItem{ProductID: productID, Quantity: quantity})
	}
	return s.recomputeAndSave(ctx, cart)
}

func (s *cartService) SetItemQuantity(ctx context.Context, userID, productID string, quantity int) (CartView, error) {
	productID = strings.TrimSpace(productID)
	cart, err := s.load(ctx, userID)
	if err != nil {
		return CartView{}, err
	}
	idx := -1
	for i, item := range cart.Items {
		if item.ProductID == productID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return CartView{}, fmt.Errorf("%w: product %s is not in the cart", ErrNotFound, productID)
	}
	if quantity <= 0 {
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
		return s.recomputeAndSave(ctx, cart)
	}

	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return CartView{}, translateRepoError(err, "product "+productID)
	}
	if err := checkAvailability(product, quantity); err != nil {
		return CartView{}, err
	}
	cart.Items[idx].Quantity = quantity
	return s.recomputeAndSave(ctx, cart)
}

func (s *cartService) RemoveItem(ctx context.Context, userID, productID string) (CartView, error) {
	productID = strings.TrimSpace(productID)
	cart, err := s.load(ctx, userID)
	if err != nil {
		return CartView{}, err
	}
	kept := cart.Items[:0]
	for _, item := range cart.Items {
		if item.ProductID != productID {
			kept = append(kept, item)
		}
	}
	cart.Items = kept
	return s.recomputeAndSave(ctx, cart)
}

func (s *cartService) Clear(ctx context.Context, userID string) (CartView, error) {
	cart, err := s.load(ctx, userID)
	if err != nil {
		return CartView{}, err
	}
	clearCart(&cart)
	return s.recomputeAndSave(ctx, cart)
}

func (s *cartService) ApplyCoupon(ctx context.Context, userID, code string) (CartView, error) {
	code = NormalizeCouponCode(code)
	if code == "" {
		return CartView{}, validationError("coupon code is required")
	}
	cart, err := s.load(ctx, userID)
	if err != nil {
		return CartView{}, err
	}
	coupon, err := s.coupons.GetByCode(ctx, code)
	if err != nil {
		return CartView{}, translateRepoError(err, "coupon "+code)
	}
	usage, err := s.coupons.Usage(ctx, coupon.ID, cart.UserID)
	if err != nil {
		return CartView{}, translateRepoError(err, "coupon usage")
	}

	cart.CouponCode = ""
	view, err := s.recompute(ctx, cart)
	if err != nil {
		return CartView{}, err
	}
	eval := EvaluateCoupon(coupon, view.Cart.Totals.Total, usage.Count, s.now())
	if !eval.Valid {
		return CartView{}, fmt.Errorf("%w: %s", eval.Err, eval.Reason)
	}
	view.Cart.CouponCode = coupon.Code
	return s.recomputeAndSave(ctx, view.Cart)
}

func (s *cartService) RemoveCoupon(ctx context.Context, userID string) (CartView, error) {
	cart, err := s.load(ctx, userID)
	if err != nil {
		return CartView{}, err
	}
	cart.CouponCode = ""
	return s.recomputeAndSave(ctx, cart)
}

func (s *cartService) SetShippingMethod(ctx context.Context, userID string, method domain.ShippingMethod) (CartView, error) {
	method = domain.ShippingMethod(strings.ToLower(strings.TrimSpace(string(method))))
	if method != domain.ShippingMethodStandard && method != domain.ShippingMethodExpress {
		return CartView{}, validationError("shipping method must be standard or express")
	}
	cart, err := s.load(ctx, userID)
	if err != nil {
		return CartView{}, err
	}
	cart.ShippingMethod = method
	return s.recomputeAndSave(ctx, cart)
}

func (s *cartService) SetPaymentMethod(ctx context.Context, userID string, method domain.PaymentMethod) (CartView, error) {
	method = domain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(method))))
	if method != domain.PaymentMethodStripe && method != domain.PaymentMethodCOD {
		return CartView{}, validationError("payment method must be stripe or cod")
	}
	cart, err := s.load(ctx, userID)
	if err != nil {
		return CartView{}, err
	}
	cart.PaymentMethod = method
	return s.recomputeAndSave(ctx, cart)
}

// load returns the stored cart or a fresh one for the user.
func (s *cartService) load(ctx context.Context, userID string) (domain.Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Cart{}, validationError("user id is required")
	}
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		if !isRepoNotFound(err) {
			return domain.Cart{}, translateRepoError(err, "cart")
		}
		now := s.now()
		cart = domain.Cart{ID: userID, UserID: userID, CreatedAt: now}
	}
	if cart.ShippingMethod == "" {
		cart.ShippingMethod = domain.ShippingMethodStandard
	}
	if cart.PaymentMethod == "" {
		cart.PaymentMethod = domain.PaymentMethodCOD
	}
	return cart, nil
}

func (s *cartService) recomputeAndSave(ctx context.Context, cart domain.Cart) (CartView, error) {
	view, err := s.recompute(ctx, cart)
	if err != nil {
		return CartView{}, err
	}
	view.Cart.UpdatedAt = s.now()
	if err := s.carts.Save(ctx, view.Cart); err != nil {
		return CartView{}, translateRepoError(err, "cart")
	}
	return view, nil
}

// recompute resolves lines against live products and re-derives every total. Items whose
// product vanished are dropped and an attached coupon that no longer applies is detached.
func (s *cartService) recompute(ctx context.Context, cart domain.Cart) (CartView, error) {
	now := s.now()
	var (
		prices priceBreakdown
		lines  = make([]domain.CartLine, 0, len(cart.Items))
		items  = make([]domain.CartItem, 0, len(cart.Items))
	)
	for _, item := range cart.Items {
		product, err := s.products.Get(ctx, item.ProductID)
		if err != nil {
			if isRepoNotFound(err) {
				s.logger(ctx, "cart.item_dropped", map[string]any{"userId": cart.UserID, "productId": item.ProductID})
				continue
			}
			return CartView{}, translateRepoError(err, "product "+item.ProductID)
		}
		unit := product.UnitPrice(now)
		prices.addLine(product, unit, item.Quantity)
		items = append(items, item)
		lines = append(lines, domain.CartLine{
			Product:   product,
			Quantity:  item.Quantity,
			UnitPrice: unit,
			LineTotal: unit * int64(item.Quantity),
		})
	}
	cart.Items = items
	prices.applyMethods(s.pricing, cart.ShippingMethod, cart.PaymentMethod, len(lines))

	if cart.CouponCode != "" {
		discount, ok, err := s.couponDiscount(ctx, cart, prices.subtotal, now)
		if err != nil {
			return CartView{}, err
		}
		if ok {
			prices.discount = discount
		} else {
			s.logger(ctx, "cart.coupon_detached", map[string]any{"userId": cart.UserID, "couponCode": cart.CouponCode})
			cart.CouponCode = ""
		}
	}

	cart.Totals = prices.cartTotals()
	return CartView{Cart: cart, Lines: lines}, nil
}

func (s *cartService) couponDiscount(ctx context.Context, cart domain.Cart, subtotal int64, now time.Time) (int64, bool, error) {
	coupon, err := s.coupons.GetByCode(ctx, cart.CouponCode)
	if err != nil {
		if isRepoNotFound(err) {
			return 0, false, nil
		}
		return 0, false, translateRepoError(err, "coupon")
	}
	usage, err := s.coupons.Usage(ctx, coupon.ID, cart.UserID)
	if err != nil {
		return 0, false, translateRepoError(err, "coupon usage")
	}
	eval := EvaluateCoupon(coupon, subtotal, usage.Count, now)
	return eval.Discount, eval.Valid, nil
}

func clearCart(cart *domain.Cart) {
	cart.Items = nil
	cart.CouponCode = ""
	cart.Totals = domain.CartTotals{}
}

// checkAvailability validates a requested quantity against the product's stock.
func checkAvailability(product domain.Product, quantity int) error {
	if !product.Available() {
		return &StockError{ProductID: product.ID, Requested: quantity, Available: 0, Err: ErrOutOfStock}
	}
	if available := product.AvailableQuantity(); available >= 0 && quantity > available {
		return &StockError{ProductID: product.ID, Requested: quantity, Available: available, Err: ErrInsufficientStock}
	}
	return nil
}
