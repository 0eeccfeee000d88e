package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/payments"
	"github.com/hanko-field/commerce/internal/repositories"
)

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	UnitOfWork repositories.UnitOfWork
	Carts      repositories.CartRepository
	Products   repositories.ProductRepository
	Coupons    repositories.CouponRepository
	Orders     repositories.OrderRepository
	Addresses  repositories.AddressRepository
	Counters   CounterService
	Payments   payments.Provider
	Events     OrderEventPublisher
	Pricing    PricingPolicy
	Clock      func() time.Time
	IDGen      func() string
	Logger     Logger
	Metrics    Metrics
}

type checkoutService struct {
	uow       repositories.UnitOfWork
	carts     repositories.CartRepository
	products  repositories.ProductRepository
	coupons   repositories.CouponRepository
	orders    repositories.OrderRepository
	addresses repositories.AddressRepository
	counters  CounterService
	payments  payments.Provider
	events    eventDispatcher
	pricing   PricingPolicy
	now       func() time.Time
	newID     func() string
	logger    Logger
	metrics   Metrics
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
// Payments may be nil when only cash on delivery is offered.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.UnitOfWork == nil:
		return nil, errors.New("checkout service: unit of work is required")
	case deps.Carts == nil:
		return nil, errors.New("checkout service: cart repository is required")
	case deps.Products == nil:
		return nil, errors.New("checkout service: product repository is required")
	case deps.Coupons == nil:
		return nil, errors.New("checkout service: coupon repository is required")
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order repository is required")
	case deps.Addresses == nil:
		return nil, errors.New("checkout service: address repository is required")
	case deps.Counters == nil:
		return nil, errors.New("checkout service: counter service is required")
	}
	if strings.TrimSpace(deps.Pricing.Currency) == "" {
		return nil, errors.New("checkout service: currency is required")
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := loggerOrNoop(deps.Logger)
	metrics := metricsOrNoop(deps.Metrics)
	return &checkoutService{
		uow:       deps.UnitOfWork,
		carts:     deps.Carts,
		products:  deps.Products,
		coupons:   deps.Coupons,
		orders:    deps.Orders,
		addresses: deps.Addresses,
		counters:  deps.Counters,
		payments:  deps.Payments,
		events:    newEventDispatcher(deps.Events, logger, metrics),
		pricing:   deps.Pricing,
		now:       clockOrNow(deps.Clock),
		newID:     idGen,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// checkoutAttempt carries state that must survive unit-of-work retries.
type checkoutAttempt struct {
	orderID     string
	orderNumber string
	intent      *payments.Intent
	stale       []string
	// intentSeq numbers CreateIntent calls so each one carries a distinct idempotency key.
	intentSeq int
}

// CreateOrder places an order from the user's cart. Stock, coupon and order writes run in
// one unit of work; a Payment Intent opened during an aborted attempt is cancelled.
func (s *checkoutService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CheckoutResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutResult{}, validationError("user id is required")
	}
	addressID := strings.TrimSpace(cmd.AddressID)
	if addressID == "" {
		return CheckoutResult{}, validationError("address id is required")
	}

	address, err := s.addresses.Get(ctx, userID, addressID)
	if err != nil {
		return CheckoutResult{}, translateRepoError(err, "address "+addressID)
	}

	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return CheckoutResult{}, ErrEmptyCart
		}
		return CheckoutResult{}, translateRepoError(err, "cart")
	}
	if len(cart.Items) == 0 {
		return CheckoutResult{}, ErrEmptyCart
	}

	method, err := resolvePaymentMethod(cmd.PaymentMethod, cart.PaymentMethod)
	if err != nil {
		return CheckoutResult{}, err
	}
	if method.RequiresPaymentIntent() && s.payments == nil {
		return CheckoutResult{}, fmt.Errorf("%w: card payments are not configured", ErrPaymentProcessor)
	}
	metadata, err := SanitizeOrderMetadata(cmd.Metadata)
	if err != nil {
		return CheckoutResult{}, err
	}

	// Numbers are allocated outside the unit of work; an aborted checkout leaves a gap.
	number, err := s.counters.NextOrderNumber(ctx)
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("%w: allocate order number: %v", ErrUnavailable, err)
	}
	attempt := &checkoutAttempt{orderID: s.newID(), orderNumber: number}

	var order domain.Order
	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		var txErr error
		order, txErr = s.placeOrder(ctx, attempt, cart.UserID, cmd.Email, address, method, metadata)
		return txErr
	})
	s.cancelIntents(ctx, attempt, err == nil)
	if err != nil {
		s.metrics.CheckoutFailed(string(method), checkoutFailureReason(err))
		s.logger(ctx, "checkout.failed", map[string]any{
			"userId":      userID,
			"orderNumber": number,
			"error":       err.Error(),
		})
		return CheckoutResult{}, err
	}

	s.metrics.CheckoutSucceeded(string(method), order.Currency, order.TotalAmount)
	s.logger(ctx, "checkout.completed", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.Number,
		"userId":      order.UserID,
		"total":       order.TotalAmount,
	})
	s.events.dispatch(ctx, newOrderEvent(domain.OrderEventPlaced, order, order.CreatedAt))

	result := CheckoutResult{Order: order}
	if attempt.intent != nil {
		result.ClientSecret = attempt.intent.ClientSecret
	}
	return result, nil
}

type stockLine struct {
	product  domain.Product
	quantity int
}

// placeOrder is the unit-of-work body. All reads happen before the first write.
func (s *checkoutService) placeOrder(ctx context.Context, attempt *checkoutAttempt, userID, email string, address domain.Address, method domain.PaymentMethod, metadata domain.OrderMetadata) (domain.Order, error) {
	now := s.now()
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Order{}, ErrEmptyCart
		}
		return domain.Order{}, translateRepoError(err, "cart")
	}
	if len(cart.Items) == 0 {
		return domain.Order{}, ErrEmptyCart
	}

	var (
		prices priceBreakdown
		items  = make([]domain.OrderItem, 0, len(cart.Items))
		stock  = make([]*stockLine, 0, len(cart.Items))
		byID   = make(map[string]*stockLine, len(cart.Items))
	)
	for _, item := range cart.Items {
		line, ok := byID[item.ProductID]
		if !ok {
			product, err := s.products.Get(ctx, item.ProductID)
			if err != nil {
				return domain.Order{}, translateRepoError(err, "product "+item.ProductID)
			}
			line = &stockLine{product: product}
			byID[item.ProductID] = line
			stock = append(stock, line)
		}
		// Earlier lines of the same product already claimed part of the stock.
		if err := checkAvailability(line.product, line.quantity+item.Quantity); err != nil {
			return domain.Order{}, err
		}
		line.quantity += item.Quantity

		unit := line.product.UnitPrice(now)
		prices.addLine(line.product, unit, item.Quantity)
		items = append(items, domain.OrderItem{
			ProductID:   line.product.ID,
			Name:        line.product.Name,
			ProductType: line.product.Type,
			Price:       unit,
			Quantity:    item.Quantity,
			ShippingFee: line.product.ShippingFee,
		})
	}
	prices.applyMethods(s.pricing, cart.ShippingMethod, method, len(items))

	var coupon *domain.Coupon
	if code := cart.CouponCode; code != "" {
		c, err := s.coupons.GetByCode(ctx, code)
		if err != nil {
			if isRepoNotFound(err) {
				return domain.Order{}, fmt.Errorf("%w: coupon %s no longer exists", ErrInvalidCoupon, code)
			}
			return domain.Order{}, translateRepoError(err, "coupon")
		}
		usage, err := s.coupons.Usage(ctx, c.ID, userID)
		if err != nil {
			return domain.Order{}, translateRepoError(err, "coupon usage")
		}
		eval := EvaluateCoupon(c, prices.subtotal, usage.Count, now)
		if !eval.Valid {
			s.metrics.CouponRejected(eval.Reason)
			return domain.Order{}, fmt.Errorf("%w: %s", eval.Err, eval.Reason)
		}
		prices.discount = eval.Discount
		coupon = &c
	}
	total := prices.total()

	order := domain.Order{
		ID:              attempt.orderID,
		Number:          attempt.orderNumber,
		UserID:          userID,
		CustomerEmail:   strings.TrimSpace(email),
		Items:           items,
		ShippingAddress: address.Snapshot(),
		PaymentMethod:   method,
		PaymentStatus:   domain.PaymentStatusUnpaid,
		OrderStatus:     domain.OrderStatusPending,
		Subtotal:        prices.subtotal,
		ShippingFee:     prices.shippingFee,
		CODFee:          prices.codFee,
		Discount:        prices.discount,
		TotalAmount:     total,
		Currency:        strings.ToLower(s.pricing.Currency),
		Metadata:        metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if coupon != nil {
		order.CouponID = coupon.ID
		order.CouponCode = coupon.Code
	}

	if method.RequiresPaymentIntent() {
		intent, err := s.ensureIntent(ctx, attempt, order)
		if err != nil {
			return domain.Order{}, err
		}
		order.PaymentIntentID = intent.ID
		order.PaymentStatus = domain.PaymentStatusPending
		order.OrderStatus = domain.OrderStatusProcessing
	}

	for _, line := range stock {
		if !line.product.IsSimple() {
			continue
		}
		movement, err := newStockMovement(line.product, -line.quantity, domain.StockMovementCheckout,
			orderMovementID(order.ID, domain.StockMovementCheckout), order.ID, now)
		if err != nil {
			return domain.Order{}, err
		}
		if err := s.products.ApplyStockMovement(ctx, movement); err != nil {
			return domain.Order{}, translateRepoError(err, "stock movement")
		}
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		return domain.Order{}, translateRepoError(err, "order")
	}
	if coupon != nil {
		if err := s.coupons.Redeem(ctx, coupon.ID, userID, now); err != nil {
			return domain.Order{}, translateRepoError(err, "coupon redemption")
		}
	}
	clearCart(&cart)
	cart.UpdatedAt = now
	if err := s.carts.Save(ctx, cart); err != nil {
		return domain.Order{}, translateRepoError(err, "cart")
	}
	return order, nil
}

// ensureIntent reuses the intent from an earlier attempt when the amount is unchanged.
func (s *checkoutService) ensureIntent(ctx context.Context, attempt *checkoutAttempt, order domain.Order) (payments.Intent, error) {
	if attempt.intent != nil {
		if attempt.intent.Amount == order.TotalAmount {
			return *attempt.intent, nil
		}
		attempt.stale = append(attempt.stale, attempt.intent.ID)
		attempt.intent = nil
	}
	attempt.intentSeq++
	ship := order.ShippingAddress
	intent, err := s.payments.CreateIntent(ctx, payments.IntentRequest{
		Amount:      order.TotalAmount,
		Currency:    order.Currency,
		Description: "Order " + order.Number,
		Shipping: &payments.ShippingDetails{
			Name:       ship.FullName,
			Phone:      ship.PhoneNumber,
			Line1:      ship.StreetAddress,
			Line2:      strings.TrimSpace(strings.Join([]string{ship.Apartment, ship.Area}, " ")),
			City:       ship.City,
			State:      ship.State,
			PostalCode: ship.PostalCode,
			Country:    ship.Country,
		},
		Metadata: map[string]string{
			"orderId":     order.ID,
			"orderNumber": order.Number,
			"userId":      order.UserID,
		},
		IdempotencyKey: fmt.Sprintf("checkout:%s:%d:%d", order.ID, attempt.intentSeq, order.TotalAmount),
	})
	if err != nil {
		return payments.Intent{}, fmt.Errorf("%w: %v", ErrPaymentProcessor, err)
	}
	// a processor may hand back an intent already queued for cancellation
	attempt.stale = slices.DeleteFunc(attempt.stale, func(id string) bool { return id == intent.ID })
	attempt.intent = &intent
	return intent, nil
}

// cancelIntents compensates for intents that will never be attached to an order.
func (s *checkoutService) cancelIntents(ctx context.Context, attempt *checkoutAttempt, committed bool) {
	ids := attempt.stale
	if !committed && attempt.intent != nil {
		ids = append(ids, attempt.intent.ID)
	}
	if len(ids) == 0 || s.payments == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, id := range ids {
		if err := s.payments.CancelIntent(ctx, id); err != nil {
			s.logger(ctx, "checkout.intent_cancel_failed", map[string]any{
				"paymentIntentId": id,
				"orderId":         attempt.orderID,
				"error":           err.Error(),
			})
			continue
		}
		s.logger(ctx, "checkout.intent_cancelled", map[string]any{
			"paymentIntentId": id,
			"orderId":         attempt.orderID,
		})
	}
}

func resolvePaymentMethod(requested, cartMethod domain.PaymentMethod) (domain.PaymentMethod, error) {
	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(requested))))
	if method == "" {
		method = cartMethod
	}
	if method == "" {
		method = domain.PaymentMethodCOD
	}
	switch method {
	case domain.PaymentMethodCOD, domain.PaymentMethodStripe, domain.PaymentMethodApplePay:
		return method, nil
	default:
		return "", validationError("payment method must be cod, stripe or applepay")
	}
}

func checkoutFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrInvalidCoupon), errors.Is(err, ErrCouponExpired),
		errors.Is(err, ErrCouponUsageExceeded), errors.Is(err, ErrBelowMinimumCartValue):
		return "coupon"
	case errors.Is(err, ErrPaymentProcessor):
		return "payment_processor"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
