package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

func TestRunInTxRollsBackOnError(t *testing.T) {
	store := NewStore()
	store.SeedProducts(domain.Product{ID: "p1", Quantity: 3, InStock: true})
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := store.RunInTx(ctx, func(ctx context.Context) error {
		if err := store.Products().ApplyStockMovement(ctx, domain.StockMovement{
			ID: "o1:checkout", ProductID: "p1", Delta: -3, QuantityAfter: 0,
		}); err != nil {
			return err
		}
		if err := store.Orders().Insert(ctx, domain.Order{ID: "o1"}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}

	product, err := store.Products().Get(ctx, "p1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Quantity != 3 || !product.InStock {
		t.Fatalf("expected stock restored, got %+v", product)
	}
	if _, err := store.Orders().Get(ctx, "o1"); !isNotFound(err) {
		t.Fatalf("expected order to be rolled back, got %v", err)
	}
	page, _ := store.Products().ListStockMovements(ctx, "p1", domain.Pagination{})
	if len(page.Items) != 0 {
		t.Fatalf("expected empty ledger, got %+v", page.Items)
	}
}

func TestStockMovementIDsAreUnique(t *testing.T) {
	store := NewStore()
	store.SeedProducts(domain.Product{ID: "p1", Quantity: 3, InStock: true})
	ctx := context.Background()
	movement := domain.StockMovement{ID: "o1:cancellation", ProductID: "p1", Delta: 1, QuantityAfter: 4, InStockAfter: true}

	if err := store.Products().ApplyStockMovement(ctx, movement); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	err := store.Products().ApplyStockMovement(ctx, movement)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRunInTxSerialisesConcurrentUnits(t *testing.T) {
	store := NewStore()
	store.SeedProducts(domain.Product{ID: "p1", Quantity: 1, InStock: true})
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.RunInTx(ctx, func(ctx context.Context) error {
				p, err := store.Products().Get(ctx, "p1")
				if err != nil {
					return err
				}
				if p.Quantity < 1 {
					return errors.New("sold out")
				}
				return store.Products().ApplyStockMovement(ctx, domain.StockMovement{
					ID: string(rune('a'+i)) + ":checkout", ProductID: "p1", Delta: -1, QuantityAfter: p.Quantity - 1,
				})
			})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestOrderListPagination(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		status := domain.OrderStatusPending
		if i%2 == 1 {
			status = domain.OrderStatusShipped
		}
		if err := store.Orders().Insert(ctx, domain.Order{ID: id, UserID: "u1", OrderStatus: status, CreatedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	first, err := store.Orders().ListByUser(ctx, "u1", domain.Pagination{PageSize: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Items) != 2 || first.Items[0].ID != "e" || first.Items[1].ID != "d" || first.NextPageToken == "" {
		t.Fatalf("unexpected first page: %+v", first)
	}
	second, err := store.Orders().ListByUser(ctx, "u1", domain.Pagination{PageSize: 2, PageToken: first.NextPageToken})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(second.Items) != 2 || second.Items[0].ID != "c" {
		t.Fatalf("unexpected second page: %+v", second)
	}

	shipped, err := store.Orders().List(ctx, repositories.OrderListFilter{Status: []domain.OrderStatus{domain.OrderStatusShipped}})
	if err != nil {
		t.Fatalf("list shipped: %v", err)
	}
	if len(shipped.Items) != 2 || shipped.NextPageToken != "" {
		t.Fatalf("unexpected shipped page: %+v", shipped)
	}
}

func TestCouponUsageDefaultsToZero(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	if err := store.Coupons().Insert(ctx, domain.Coupon{ID: "c1", Code: "welcome"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Coupons().Insert(ctx, domain.Coupon{ID: "c2", Code: "WELCOME"}); err == nil {
		t.Fatalf("expected duplicate code conflict")
	}
	usage, err := store.Coupons().Usage(ctx, "c1", "u1")
	if err != nil || usage.Count != 0 {
		t.Fatalf("unexpected usage %+v err=%v", usage, err)
	}
	if err := store.Coupons().Redeem(ctx, "c1", "u1", time.Now()); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	usage, _ = store.Coupons().Usage(ctx, "c1", "u1")
	coupon, _ := store.Coupons().GetByCode(ctx, "Welcome")
	if usage.Count != 1 || coupon.UsedCount != 1 {
		t.Fatalf("expected counters incremented, usage=%+v coupon=%+v", usage, coupon)
	}
}

func TestAddressDefaultIsExclusive(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	_ = store.Addresses().Save(ctx, domain.Address{ID: "a1", UserID: "u1", IsDefault: true})
	_ = store.Addresses().Save(ctx, domain.Address{ID: "a2", UserID: "u1", IsDefault: true})

	first, err := store.Addresses().Get(ctx, "u1", "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first.IsDefault {
		t.Fatalf("expected previous default cleared")
	}
	if _, err := store.Addresses().Get(ctx, "u2", "a1"); !isNotFound(err) {
		t.Fatalf("expected other users to not see the address, got %v", err)
	}
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
