// Package memory implements the repository contracts in process memory. It backs local
// development and the service tests. Units of work are serialised by a single mutex and
// roll back to a snapshot when fn fails.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/pagination"
	"github.com/hanko-field/commerce/internal/repositories"
)

// Error implements repositories.RepositoryError.
type Error struct {
	op          string
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *Error) Error() string { return fmt.Sprintf("memory %s: %s", e.op, e.msg) }
func (e *Error) IsNotFound() bool { return e.notFound }
func (e *Error) IsConflict() bool { return e.conflict }
func (e *Error) IsUnavailable() bool { return e.unavailable }

func notFound(op, format string, args ...any) error {
	return &Error{op: op, msg: fmt.Sprintf(format, args...), notFound: true}
}

func conflict(op, format string, args ...any) error {
	return &Error{op: op, msg: fmt.Sprintf(format, args...), conflict: true}
}

type state struct {
	products  map[string]domain.Product
	movements map[string][]domain.StockMovement
	coupons   map[string]domain.Coupon
	usage     map[string]domain.CouponUsage
	carts     map[string]domain.Cart
	orders    map[string]domain.Order
	addresses map[string]map[string]domain.Address
	counters  map[string]int64
	mail      []domain.MailMessage
}

func newState() *state {
	return &state{
		products:  map[string]domain.Product{},
		movements: map[string][]domain.StockMovement{},
		coupons:   map[string]domain.Coupon{},
		usage:     map[string]domain.CouponUsage{},
		carts:     map[string]domain.Cart{},
		orders:    map[string]domain.Order{},
		addresses: map[string]map[string]domain.Address{},
		counters:  map[string]int64{},
	}
}

// clone copies every map. Entities are stored by value; the slices they contain are never
// mutated in place by the repositories, so sharing them between snapshots is safe.
func (s *state) clone() *state {
	out := newState()
	for k, v := range s.products {
		out.products[k] = v
	}
	for k, v := range s.movements {
		out.movements[k] = append([]domain.StockMovement(nil), v...)
	}
	for k, v := range s.coupons {
		out.coupons[k] = v
	}
	for k, v := range s.usage {
		out.usage[k] = v
	}
	for k, v := range s.carts {
		out.carts[k] = v
	}
	for k, v := range s.orders {
		out.orders[k] = v
	}
	for uid, book := range s.addresses {
		copied := make(map[string]domain.Address, len(book))
		for k, v := range book {
			copied[k] = v
		}
		out.addresses[uid] = copied
	}
	for k, v := range s.counters {
		out.counters[k] = v
	}
	out.mail = append([]domain.MailMessage(nil), s.mail...)
	return out
}

type txKey struct{}

// Store is the shared in-memory database. It implements repositories.Registry.
type Store struct {
	mu    sync.Mutex
	data  *state
	clock func() time.Time
}

var _ repositories.Registry = (*Store)(nil)

// Option customises the store.
type Option func(*Store)

// WithClock overrides the timestamp source used for generated fields.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{data: newState(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) now() time.Time { return s.clock().UTC() }

// do runs fn under the store lock unless ctx already belongs to a unit of work on this store.
func (s *Store) do(ctx context.Context, fn func(*state) error) error {
	if owner, ok := ctx.Value(txKey{}).(*Store); ok && owner == s {
		return fn(s.data)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

// RunInTx serialises fn against every other store operation and restores the previous
// state when fn returns an error. Nested calls join the outer unit of work.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, ok := ctx.Value(txKey{}).(*Store); ok && owner == s {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.data.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Products() repositories.ProductRepository { return productRepo{s} }
func (s *Store) Coupons() repositories.CouponRepository { return couponRepo{s} }
func (s *Store) Carts() repositories.CartRepository { return cartRepo{s} }
func (s *Store) Orders() repositories.OrderRepository { return orderRepo{s} }
func (s *Store) Addresses() repositories.AddressRepository { return addressRepo{s} }
func (s *Store) Counters() repositories.CounterRepository { return counterRepo{s} }
func (s *Store) Mail() repositories.MailOutbox { return mailOutbox{s} }

// SeedProducts upserts catalog entries.
func (s *Store) SeedProducts(products ...domain.Product) {
	_ = s.do(context.Background(), func(st *state) error {
		for _, p := range products {
			if p.UpdatedAt.IsZero() {
				p.UpdatedAt = s.now()
			}
			st.products[p.ID] = cloneProduct(p)
		}
		return nil
	})
}

// SentMail returns a copy of every queued message.
func (s *Store) SentMail() []domain.MailMessage {
	var out []domain.MailMessage
	_ = s.do(context.Background(), func(st *state) error {
		out = append(out, st.mail...)
		return nil
	})
	return out
}

func page[T any](items []T, pager domain.Pagination, createdAt func(T) time.Time, id func(T) string) (domain.CursorPage[T], error) {
	pager = pagination.Normalize(pager)
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[T]{}, err
	}
	sort.Slice(items, func(i, j int) bool {
		ci, cj := createdAt(items[i]), createdAt(items[j])
		if ci.Equal(cj) {
			return id(items[i]) > id(items[j])
		}
		return ci.After(cj)
	})
	result := domain.CursorPage[T]{Items: make([]T, 0, pager.PageSize)}
	for _, item := range items {
		if !cursor.After(createdAt(item), id(item)) {
			continue
		}
		if len(result.Items) == pager.PageSize {
			last := result.Items[len(result.Items)-1]
			result.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: createdAt(last), ID: id(last)})
			break
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}
