package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
)

func TestCartServiceNewCartDefaults(t *testing.T) {
	env := newTestEnv(t)
	view, err := env.carts.GetCart(context.Background(), "user-9")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	cart := view.Cart
	if cart.ID != "user-9" || cart.ShippingMethod != domain.ShippingMethodStandard || cart.PaymentMethod != domain.PaymentMethodCOD {
		t.Fatalf("unexpected defaults %+v", cart)
	}
	if cart.Totals != (domain.CartTotals{}) {
		t.Fatalf("empty cart must have zero totals, got %+v", cart.Totals)
	}
}

func TestCartServiceTotals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addToCart(t, "user-1", "mug", 2)
	view, err := env.carts.AddItem(ctx, "user-1", "poster", 1)
	if err != nil {
		t.Fatalf("add poster: %v", err)
	}
	want := domain.CartTotals{Total: 4900, ShippingFee: 400, CODFee: 300, FinalTotal: 5600}
	if view.Cart.Totals != want {
		t.Fatalf("unexpected totals %+v", view.Cart.Totals)
	}
	if len(view.Lines) != 2 || view.Lines[0].LineTotal != 2400 {
		t.Fatalf("unexpected lines %+v", view.Lines)
	}

	view, err = env.carts.SetShippingMethod(ctx, "user-1", "EXPRESS")
	if err != nil {
		t.Fatalf("set shipping: %v", err)
	}
	if view.Cart.Totals.ShippingFee != 1900 || view.Cart.Totals.FinalTotal != 7100 {
		t.Fatalf("unexpected express totals %+v", view.Cart.Totals)
	}

	view, err = env.carts.SetPaymentMethod(ctx, "user-1", domain.PaymentMethodStripe)
	if err != nil {
		t.Fatalf("set payment: %v", err)
	}
	if view.Cart.Totals.CODFee != 0 || view.Cart.Totals.FinalTotal != 6800 {
		t.Fatalf("unexpected card totals %+v", view.Cart.Totals)
	}
}

func TestCartServiceAddItemMergesQuantities(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addToCart(t, "user-1", "mug", 2)
	view, err := env.carts.AddItem(ctx, "user-1", "mug", 2)
	if err != nil {
		t.Fatalf("add again: %v", err)
	}
	if len(view.Cart.Items) != 1 || view.Cart.Items[0].Quantity != 4 {
		t.Fatalf("expected merged line of 4, got %+v", view.Cart.Items)
	}
	// the combined quantity is only checked at checkout
	view, err = env.carts.AddItem(ctx, "user-1", "mug", 2)
	if err != nil {
		t.Fatalf("add beyond stock: %v", err)
	}
	if view.Cart.Items[0].Quantity != 6 {
		t.Fatalf("expected quantity 6, got %+v", view.Cart.Items)
	}
	if _, err := env.carts.AddItem(ctx, "user-1", "mug", 6); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock for a single add of 6, got %v", err)
	}
}

func TestCartServiceStockChecks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.SeedProducts(domain.Product{ID: "gone", Name: "Gone", Price: 100, Quantity: 0, InStock: false})

	if _, err := env.carts.AddItem(ctx, "user-1", "gone", 1); !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected out of stock, got %v", err)
	}
	if _, err := env.carts.AddItem(ctx, "user-1", "missing", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := env.carts.AddItem(ctx, "user-1", "mug", 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCartServiceSetQuantityAndRemove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addToCart(t, "user-1", "mug", 1)
	env.addToCart(t, "user-1", "poster", 1)

	view, err := env.carts.SetItemQuantity(ctx, "user-1", "mug", 3)
	if err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	if view.Cart.Items[0].Quantity != 3 {
		t.Fatalf("expected quantity 3, got %+v", view.Cart.Items)
	}
	if _, err := env.carts.SetItemQuantity(ctx, "user-1", "mug", 6); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	view, err = env.carts.RemoveItem(ctx, "user-1", "poster")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(view.Cart.Items) != 1 || view.Cart.Items[0].ProductID != "mug" {
		t.Fatalf("unexpected items %+v", view.Cart.Items)
	}
	view, err = env.carts.Clear(ctx, "user-1")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(view.Cart.Items) != 0 || view.Cart.Totals.FinalTotal != 0 {
		t.Fatalf("expected empty cart, got %+v", view.Cart)
	}
}

func TestCartServiceCoupon(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	maxDiscount := int64(300)
	env.createCoupon(t, UpsertCouponCommand{
		Code: "HALF", DiscountType: domain.DiscountTypePercentage, DiscountValue: 50,
		MaxDiscount: &maxDiscount, MinCartValue: 2000, IsActive: true,
	})

	env.addToCart(t, "user-1", "mug", 1)
	if _, err := env.carts.ApplyCoupon(ctx, "user-1", "half"); !errors.Is(err, ErrBelowMinimumCartValue) {
		t.Fatalf("expected below minimum, got %v", err)
	}
	if _, err := env.carts.ApplyCoupon(ctx, "user-1", "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected unknown coupon, got %v", err)
	}

	env.addToCart(t, "user-1", "mug", 1)
	view, err := env.carts.ApplyCoupon(ctx, "user-1", "half")
	if err != nil {
		t.Fatalf("apply coupon: %v", err)
	}
	if view.Cart.CouponCode != "HALF" || view.Cart.Totals.Discount != 300 {
		t.Fatalf("expected capped discount, got %+v", view.Cart)
	}

	// dropping below the minimum detaches the coupon on the next recompute
	view, err = env.carts.SetItemQuantity(ctx, "user-1", "mug", 1)
	if err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	if view.Cart.CouponCode != "" || view.Cart.Totals.Discount != 0 {
		t.Fatalf("expected coupon detached, got %+v", view.Cart)
	}
	if !env.logs.has("cart.coupon_detached") {
		t.Fatalf("expected detach log")
	}
}

func TestCartServiceCouponApplicationIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	coupon := env.createCoupon(t, UpsertCouponCommand{
		Code: "FLAT5", DiscountType: domain.DiscountTypeFixed, DiscountValue: 500, IsActive: true,
	})
	env.addToCart(t, "user-1", "mug", 2)

	first, err := env.carts.ApplyCoupon(ctx, "user-1", "flat5")
	if err != nil {
		t.Fatalf("apply coupon: %v", err)
	}
	second, err := env.carts.ApplyCoupon(ctx, "user-1", "FLAT5")
	if err != nil {
		t.Fatalf("apply coupon again: %v", err)
	}
	if first.Cart.Totals.Discount != 500 || second.Cart.Totals != first.Cart.Totals {
		t.Fatalf("expected identical totals, got %+v then %+v", first.Cart.Totals, second.Cart.Totals)
	}

	removed, err := env.carts.RemoveCoupon(ctx, "user-1")
	if err != nil {
		t.Fatalf("remove coupon: %v", err)
	}
	if removed.Cart.CouponCode != "" || removed.Cart.Totals.Discount != 0 {
		t.Fatalf("expected coupon detached, got %+v", removed.Cart)
	}
	again, err := env.carts.ApplyCoupon(ctx, "user-1", "FLAT5")
	if err != nil {
		t.Fatalf("reapply coupon: %v", err)
	}
	if again.Cart.Totals != first.Cart.Totals {
		t.Fatalf("expected reapply to restore totals, got %+v", again.Cart.Totals)
	}

	stored, err := env.store.Coupons().Get(ctx, coupon.ID)
	if err != nil {
		t.Fatalf("get coupon: %v", err)
	}
	if stored.UsedCount != 0 {
		t.Fatalf("applying must never redeem, used count %d", stored.UsedCount)
	}
	usage, _ := env.store.Coupons().Usage(ctx, coupon.ID, "user-1")
	if usage.Count != 0 {
		t.Fatalf("applying must never count per-user usage, got %d", usage.Count)
	}
}

func TestCartServiceUsesSalePrice(t *testing.T) {
	env := newTestEnv(t)
	sale := int64(900)
	end := testNow.Add(time.Hour)
	env.store.SeedProducts(domain.Product{ID: "lamp", Name: "Lamp", Price: 1500, SalePrice: &sale, OnSale: true, SaleEnd: &end, Quantity: 2, InStock: true})

	view, err := env.carts.AddItem(context.Background(), "user-1", "lamp", 2)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if view.Lines[0].UnitPrice != 900 || view.Cart.Totals.Total != 1800 {
		t.Fatalf("expected sale price, got %+v", view.Lines[0])
	}
}

func TestCartServiceDropsVanishedProducts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.store.Carts().Save(ctx, domain.Cart{
		ID: "user-1", UserID: "user-1",
		Items: []domain.CartItem{{ProductID: "mug", Quantity: 1}, {ProductID: "retired", Quantity: 1}},
	}); err != nil {
		t.Fatalf("seed cart: %v", err)
	}
	view, err := env.carts.GetCart(ctx, "user-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(view.Cart.Items) != 1 || view.Cart.Items[0].ProductID != "mug" {
		t.Fatalf("expected retired product dropped, got %+v", view.Cart.Items)
	}
}

func TestCartServiceRejectsUnknownMethods(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.carts.SetShippingMethod(ctx, "user-1", "drone"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := env.carts.SetPaymentMethod(ctx, "user-1", "barter"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := env.carts.GetCart(ctx, " "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for blank user, got %v", err)
	}
}
