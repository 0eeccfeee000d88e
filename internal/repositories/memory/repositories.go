package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

type productRepo struct{ s *Store }

func (r productRepo) Get(ctx context.Context, productID string) (domain.Product, error) {
	var out domain.Product
	err := r.s.do(ctx, func(st *state) error {
		p, ok := st.products[strings.TrimSpace(productID)]
		if !ok {
			return notFound("products.get", "product %s not found", productID)
		}
		out = cloneProduct(p)
		return nil
	})
	return out, err
}

func (r productRepo) ApplyStockMovement(ctx context.Context, movement domain.StockMovement) error {
	if strings.TrimSpace(movement.ProductID) == "" || strings.TrimSpace(movement.ID) == "" {
		return errors.New("memory products: movement requires product and movement ids")
	}
	if movement.QuantityAfter < 0 {
		return errors.New("memory products: quantity cannot become negative")
	}
	return r.s.do(ctx, func(st *state) error {
		p, ok := st.products[movement.ProductID]
		if !ok {
			return notFound("products.stock_movement", "product %s not found", movement.ProductID)
		}
		for _, existing := range st.movements[movement.ProductID] {
			if existing.ID == movement.ID {
				return conflict("products.stock_movement", "movement %s already applied", movement.ID)
			}
		}
		if movement.CreatedAt.IsZero() {
			movement.CreatedAt = r.s.now()
		}
		p.Quantity = movement.QuantityAfter
		p.InStock = movement.InStockAfter
		p.UpdatedAt = movement.CreatedAt
		st.products[p.ID] = p
		st.movements[p.ID] = append(append([]domain.StockMovement(nil), st.movements[p.ID]...), movement)
		return nil
	})
}

func (r productRepo) ListStockMovements(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.StockMovement], error) {
	var items []domain.StockMovement
	if err := r.s.do(ctx, func(st *state) error {
		items = append(items, st.movements[strings.TrimSpace(productID)]...)
		return nil
	}); err != nil {
		return domain.CursorPage[domain.StockMovement]{}, err
	}
	return page(items, pager,
		func(m domain.StockMovement) time.Time { return m.CreatedAt },
		func(m domain.StockMovement) string { return m.ID })
}

type couponRepo struct{ s *Store }

func (r couponRepo) Insert(ctx context.Context, coupon domain.Coupon) error {
	coupon.Code = strings.ToUpper(strings.TrimSpace(coupon.Code))
	return r.s.do(ctx, func(st *state) error {
		if _, ok := st.coupons[coupon.ID]; ok {
			return conflict("coupons.insert", "coupon %s already exists", coupon.ID)
		}
		for _, existing := range st.coupons {
			if existing.Code == coupon.Code {
				return conflict("coupons.insert", "coupon code %s already exists", coupon.Code)
			}
		}
		st.coupons[coupon.ID] = coupon
		return nil
	})
}

func (r couponRepo) Update(ctx context.Context, coupon domain.Coupon) error {
	coupon.Code = strings.ToUpper(strings.TrimSpace(coupon.Code))
	return r.s.do(ctx, func(st *state) error {
		existing, ok := st.coupons[coupon.ID]
		if !ok {
			return notFound("coupons.update", "coupon %s not found", coupon.ID)
		}
		for id, other := range st.coupons {
			if id != coupon.ID && other.Code == coupon.Code {
				return conflict("coupons.update", "coupon code %s already exists", coupon.Code)
			}
		}
		coupon.UsedCount = existing.UsedCount
		st.coupons[coupon.ID] = coupon
		return nil
	})
}

func (r couponRepo) Delete(ctx context.Context, couponID string) error {
	return r.s.do(ctx, func(st *state) error {
		if _, ok := st.coupons[couponID]; !ok {
			return notFound("coupons.delete", "coupon %s not found", couponID)
		}
		delete(st.coupons, couponID)
		return nil
	})
}

func (r couponRepo) Get(ctx context.Context, couponID string) (domain.Coupon, error) {
	var out domain.Coupon
	err := r.s.do(ctx, func(st *state) error {
		c, ok := st.coupons[strings.TrimSpace(couponID)]
		if !ok {
			return notFound("coupons.get", "coupon %s not found", couponID)
		}
		out = c
		return nil
	})
	return out, err
}

func (r couponRepo) GetByCode(ctx context.Context, code string) (domain.Coupon, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	var out domain.Coupon
	err := r.s.do(ctx, func(st *state) error {
		for _, c := range st.coupons {
			if c.Code == code {
				out = c
				return nil
			}
		}
		return notFound("coupons.get_by_code", "coupon %s not found", code)
	})
	return out, err
}

func (r couponRepo) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error) {
	var items []domain.Coupon
	_ = r.s.do(ctx, func(st *state) error {
		for _, c := range st.coupons {
			items = append(items, c)
		}
		return nil
	})
	return page(items, pager,
		func(c domain.Coupon) time.Time { return c.CreatedAt },
		func(c domain.Coupon) string { return c.ID })
}

func (r couponRepo) Usage(ctx context.Context, couponID, userID string) (domain.CouponUsage, error) {
	out := domain.CouponUsage{CouponID: couponID, UserID: userID}
	err := r.s.do(ctx, func(st *state) error {
		if u, ok := st.usage[usageKey(couponID, userID)]; ok {
			out = u
		}
		return nil
	})
	return out, err
}

func (r couponRepo) Redeem(ctx context.Context, couponID, userID string, at time.Time) error {
	return r.s.do(ctx, func(st *state) error {
		c, ok := st.coupons[couponID]
		if !ok {
			return notFound("coupons.redeem", "coupon %s not found", couponID)
		}
		c.UsedCount++
		c.UpdatedAt = at.UTC()
		st.coupons[couponID] = c

		key := usageKey(couponID, userID)
		u := st.usage[key]
		u.CouponID, u.UserID = couponID, userID
		u.Count++
		u.LastRedeemedAt = at.UTC()
		st.usage[key] = u
		return nil
	})
}

func usageKey(couponID, userID string) string { return couponID + "_" + userID }

type cartRepo struct{ s *Store }

func (r cartRepo) Get(ctx context.Context, userID string) (domain.Cart, error) {
	var out domain.Cart
	err := r.s.do(ctx, func(st *state) error {
		c, ok := st.carts[strings.TrimSpace(userID)]
		if !ok {
			return notFound("carts.get", "cart for %s not found", userID)
		}
		out = cloneCart(c)
		return nil
	})
	return out, err
}

func (r cartRepo) Save(ctx context.Context, cart domain.Cart) error {
	if strings.TrimSpace(cart.UserID) == "" {
		return errors.New("memory carts: user id is required")
	}
	return r.s.do(ctx, func(st *state) error {
		if cart.UpdatedAt.IsZero() {
			cart.UpdatedAt = r.s.now()
		}
		if cart.CreatedAt.IsZero() {
			cart.CreatedAt = cart.UpdatedAt
		}
		cart.ID = cart.UserID
		st.carts[cart.UserID] = cloneCart(cart)
		return nil
	})
}

type orderRepo struct{ s *Store }

func (r orderRepo) Insert(ctx context.Context, order domain.Order) error {
	return r.s.do(ctx, func(st *state) error {
		if _, ok := st.orders[order.ID]; ok {
			return conflict("orders.insert", "order %s already exists", order.ID)
		}
		st.orders[order.ID] = cloneOrder(order)
		return nil
	})
}

func (r orderRepo) Update(ctx context.Context, order domain.Order) error {
	return r.s.do(ctx, func(st *state) error {
		if _, ok := st.orders[order.ID]; !ok {
			return notFound("orders.update", "order %s not found", order.ID)
		}
		st.orders[order.ID] = cloneOrder(order)
		return nil
	})
}

func (r orderRepo) Delete(ctx context.Context, orderID string) error {
	return r.s.do(ctx, func(st *state) error {
		if _, ok := st.orders[orderID]; !ok {
			return notFound("orders.delete", "order %s not found", orderID)
		}
		delete(st.orders, orderID)
		return nil
	})
}

func (r orderRepo) Get(ctx context.Context, orderID string) (domain.Order, error) {
	return r.find(ctx, "orders.get", func(o domain.Order) bool { return o.ID == strings.TrimSpace(orderID) })
}

func (r orderRepo) FindByPaymentIntent(ctx context.Context, paymentIntentID string) (domain.Order, error) {
	id := strings.TrimSpace(paymentIntentID)
	return r.find(ctx, "orders.find_by_payment_intent", func(o domain.Order) bool { return id != "" && o.PaymentIntentID == id })
}

func (r orderRepo) FindByTrackingNumber(ctx context.Context, trackingNumber string) (domain.Order, error) {
	tn := strings.TrimSpace(trackingNumber)
	return r.find(ctx, "orders.find_by_tracking_number", func(o domain.Order) bool { return tn != "" && o.TrackingNumber == tn })
}

func (r orderRepo) find(ctx context.Context, op string, match func(domain.Order) bool) (domain.Order, error) {
	var out domain.Order
	err := r.s.do(ctx, func(st *state) error {
		for _, o := range st.orders {
			if match(o) {
				out = cloneOrder(o)
				return nil
			}
		}
		return notFound(op, "order not found")
	})
	return out, err
}

func (r orderRepo) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	return r.list(ctx, pager, func(o domain.Order) bool { return o.UserID == userID })
}

func (r orderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return r.list(ctx, filter.Pagination, func(o domain.Order) bool {
		if len(filter.Status) == 0 {
			return true
		}
		for _, status := range filter.Status {
			if o.OrderStatus == status {
				return true
			}
		}
		return false
	})
}

func (r orderRepo) list(ctx context.Context, pager domain.Pagination, match func(domain.Order) bool) (domain.CursorPage[domain.Order], error) {
	var items []domain.Order
	_ = r.s.do(ctx, func(st *state) error {
		for _, o := range st.orders {
			if match(o) {
				items = append(items, cloneOrder(o))
			}
		}
		return nil
	})
	return page(items, pager,
		func(o domain.Order) time.Time { return o.CreatedAt },
		func(o domain.Order) string { return o.ID })
}

type addressRepo struct{ s *Store }

func (r addressRepo) Get(ctx context.Context, userID, addressID string) (domain.Address, error) {
	var out domain.Address
	err := r.s.do(ctx, func(st *state) error {
		a, ok := st.addresses[userID][addressID]
		if !ok {
			return notFound("addresses.get", "address %s not found", addressID)
		}
		out = a
		return nil
	})
	return out, err
}

func (r addressRepo) List(ctx context.Context, userID string) ([]domain.Address, error) {
	var out []domain.Address
	_ = r.s.do(ctx, func(st *state) error {
		for _, a := range st.addresses[userID] {
			out = append(out, a)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r addressRepo) Save(ctx context.Context, address domain.Address) error {
	if strings.TrimSpace(address.UserID) == "" || strings.TrimSpace(address.ID) == "" {
		return errors.New("memory addresses: user and address ids are required")
	}
	return r.s.do(ctx, func(st *state) error {
		book := st.addresses[address.UserID]
		if book == nil {
			book = map[string]domain.Address{}
			st.addresses[address.UserID] = book
		}
		if address.UpdatedAt.IsZero() {
			address.UpdatedAt = r.s.now()
		}
		if address.CreatedAt.IsZero() {
			address.CreatedAt = address.UpdatedAt
		}
		if address.IsDefault {
			for id, other := range book {
				if id != address.ID && other.IsDefault {
					other.IsDefault = false
					book[id] = other
				}
			}
		}
		book[address.ID] = address
		return nil
	})
}

func (r addressRepo) Delete(ctx context.Context, userID, addressID string) error {
	return r.s.do(ctx, func(st *state) error {
		if _, ok := st.addresses[userID][addressID]; !ok {
			return notFound("addresses.delete", "address %s not found", addressID)
		}
		delete(st.addresses[userID], addressID)
		return nil
	})
}

type counterRepo struct{ s *Store }

func (r counterRepo) Next(ctx context.Context, counterID string) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, &repositories.CounterError{Code: repositories.CounterErrorInvalidInput, Err: errors.New("counter id is required")}
	}
	var next int64
	err := r.s.do(ctx, func(st *state) error {
		st.counters[id]++
		next = st.counters[id]
		return nil
	})
	return next, err
}

type mailOutbox struct{ s *Store }

func (m mailOutbox) Enqueue(ctx context.Context, message domain.MailMessage) error {
	if len(message.To) == 0 {
		return errors.New("memory mail: at least one recipient is required")
	}
	return m.s.do(ctx, func(st *state) error {
		if message.ID == "" {
			message.ID = ulid.Make().String()
		}
		for _, existing := range st.mail {
			if existing.ID == message.ID {
				return conflict("mail.enqueue", "mail %s already queued", message.ID)
			}
		}
		if message.CreatedAt.IsZero() {
			message.CreatedAt = m.s.now()
		}
		message.To = append([]string(nil), message.To...)
		st.mail = append(st.mail, message)
		return nil
	})
}

func cloneProduct(p domain.Product) domain.Product {
	p.Variations = append([]domain.ProductVariation(nil), p.Variations...)
	return p
}

func cloneCart(c domain.Cart) domain.Cart {
	c.Items = append([]domain.CartItem(nil), c.Items...)
	return c
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	if o.Metadata != nil {
		meta := make(domain.OrderMetadata, len(o.Metadata))
		for k, v := range o.Metadata {
			meta[k] = v
		}
		o.Metadata = meta
	}
	return o
}
