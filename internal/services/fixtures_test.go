package services

import (
	"context"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/payments"
	"github.com/hanko-field/commerce/internal/repositories/memory"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

var testPricing = PricingPolicy{Currency: "usd", ExpressSurcharge: 1500, CODFee: 300}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	ch     chan OrderEvent
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{ch: make(chan OrderEvent, 16)}
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) (string, error) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	p.ch <- event
	return "msg-" + event.ID, nil
}

func (p *recordingPublisher) wait(t *testing.T) OrderEvent {
	t.Helper()
	select {
	case event := <-p.ch:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for order event")
		return OrderEvent{}
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingLogger) log(_ context.Context, event string, _ map[string]any) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

func (l *recordingLogger) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

type testEnv struct {
	store     *memory.Store
	psp       *payments.SandboxProvider
	events    *recordingPublisher
	logs      *recordingLogger
	carts     CartService
	coupons   CouponService
	checkout  CheckoutService
	orders    OrderService
	inventory InventoryService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := func() time.Time { return testNow }
	env := &testEnv{
		store:  memory.NewStore(memory.WithClock(clock)),
		psp:    payments.NewSandboxProvider(),
		events: newRecordingPublisher(),
		logs:   &recordingLogger{},
	}

	var err error
	env.carts, err = NewCartService(CartServiceDeps{
		Carts:    env.store.Carts(),
		Products: env.store.Products(),
		Coupons:  env.store.Coupons(),
		Pricing:  testPricing,
		Clock:    clock,
		Logger:   env.logs.log,
	})
	if err != nil {
		t.Fatalf("new cart service: %v", err)
	}
	env.coupons, err = NewCouponService(CouponServiceDeps{Coupons: env.store.Coupons(), Clock: clock})
	if err != nil {
		t.Fatalf("new coupon service: %v", err)
	}
	counters, err := NewCounterService(CounterServiceDeps{Repository: env.store.Counters(), Clock: clock})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}
	env.checkout, err = NewCheckoutService(CheckoutServiceDeps{
		UnitOfWork: env.store,
		Carts:      env.store.Carts(),
		Products:   env.store.Products(),
		Coupons:    env.store.Coupons(),
		Orders:     env.store.Orders(),
		Addresses:  env.store.Addresses(),
		Counters:   counters,
		Payments:   env.psp,
		Events:     env.events,
		Pricing:    testPricing,
		Clock:      clock,
		Logger:     env.logs.log,
	})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}
	env.orders, err = NewOrderService(OrderServiceDeps{
		UnitOfWork: env.store,
		Orders:     env.store.Orders(),
		Products:   env.store.Products(),
		Payments:   env.psp,
		Events:     env.events,
		Clock:      clock,
		Logger:     env.logs.log,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	env.inventory, err = NewInventoryService(InventoryServiceDeps{
		Products:   env.store.Products(),
		UnitOfWork: env.store,
		Clock:      clock,
		Logger:     env.logs.log,
	})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}

	env.store.SeedProducts(
		domain.Product{ID: "mug", Name: "Mug", Price: 1200, Quantity: 5, InStock: true, Type: domain.ProductTypeSimple, ShippingFee: 200},
		domain.Product{ID: "poster", Name: "Poster", Price: 2500, Quantity: 1, InStock: true, Type: domain.ProductTypeSimple},
		domain.Product{ID: "tee", Name: "Tee", Price: 1800, Type: domain.ProductTypeVariable,
			Variations: []domain.ProductVariation{{ID: "m", Name: "M", Quantity: 3}}},
	)
	if err := env.store.Addresses().Save(context.Background(), domain.Address{
		ID: "home", UserID: "user-1", FullName: "Ada Lovelace", StreetAddress: "1 Analytical Way",
		City: "London", Country: "GB", PostalCode: "N1", PhoneNumber: "+44 20 0000",
	}); err != nil {
		t.Fatalf("seed address: %v", err)
	}
	return env
}

func (e *testEnv) product(t *testing.T, id string) domain.Product {
	t.Helper()
	p, err := e.store.Products().Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get product %s: %v", id, err)
	}
	return p
}

func (e *testEnv) addToCart(t *testing.T, userID, productID string, qty int) {
	t.Helper()
	if _, err := e.carts.AddItem(context.Background(), userID, productID, qty); err != nil {
		t.Fatalf("add %s to cart: %v", productID, err)
	}
}

func (e *testEnv) createCoupon(t *testing.T, cmd UpsertCouponCommand) Coupon {
	t.Helper()
	coupon, err := e.coupons.Create(context.Background(), cmd)
	if err != nil {
		t.Fatalf("create coupon: %v", err)
	}
	return coupon
}
