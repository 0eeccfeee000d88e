package services

import (
	domain "github.com/hanko-field/commerce/internal/domain"
)

// PricingPolicy holds the store-wide fees applied by cart and checkout. Amounts are
// minor units of Currency.
type PricingPolicy struct {
	Currency         string
	ExpressSurcharge int64
	CODFee           int64
}

// priceBreakdown accumulates the amounts shared by cart totals and orders.
type priceBreakdown struct {
	subtotal    int64
	shippingFee int64
	codFee      int64
	discount    int64
}

func (b *priceBreakdown) addLine(product domain.Product, unitPrice int64, quantity int) {
	b.subtotal += unitPrice * int64(quantity)
	b.shippingFee += product.ShippingFee * int64(quantity)
}

// applyMethods adds the express surcharge and COD fee. It is a no-op for an empty basket.
func (b *priceBreakdown) applyMethods(policy PricingPolicy, shipping domain.ShippingMethod, payment domain.PaymentMethod, lines int) {
	if lines == 0 {
		return
	}
	if shipping == domain.ShippingMethodExpress {
		b.shippingFee += policy.ExpressSurcharge
	}
	if payment == domain.PaymentMethodCOD {
		b.codFee = policy.CODFee
	}
}

// total is max(subtotal - discount, 0) + shipping + COD fee.
func (b priceBreakdown) total() int64 {
	net := b.subtotal - b.discount
	if net < 0 {
		net = 0
	}
	return net + b.shippingFee + b.codFee
}

func (b priceBreakdown) cartTotals() domain.CartTotals {
	return domain.CartTotals{
		Total:       b.subtotal,
		Discount:    b.discount,
		ShippingFee: b.shippingFee,
		CODFee:      b.codFee,
		FinalTotal:  b.total(),
	}
}
